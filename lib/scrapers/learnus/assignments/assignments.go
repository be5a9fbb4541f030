// assignments walks the pages of an already-authenticated session to
// collect raw assignment fragments. it performs no normalization; due
// dates and statuses leave this package as the text the portal rendered.

package assignments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"learnsync-backend/lib/htmlutil"
	"learnsync-backend/lib/scrapers/learnus/core"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/learnus/assignments")

type Course struct {
	Code string
	Name string
	Url  *url.URL
}

func (c Course) Id() (int64, error) {
	str := c.Url.Query().Get("id")
	id, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return -1, err
	}
	return id, nil
}

// Fragment is one scraped assignment listing, pre-normalization.
type Fragment struct {
	CourseCode string
	CourseName string
	Title      string
	// due date exactly as rendered, formats vary by locale/template
	RawDueDate  string
	Description string
	DetailUrl   string
	// optional, empty when absent
	AttachmentUrl string
	SubmissionUrl string
	// the portal's own submission/grading status cell, optional
	StatusText string
}

type CourseError struct {
	Course Course
	Err    error
}

func (e CourseError) Error() string {
	return fmt.Sprintf("course %s: %s", e.Course.Code, e.Err)
}

// Result is a best-effort scrape: fragments from every course that
// worked plus the ones that did not.
type Result struct {
	Fragments []Fragment
	Failed    []CourseError
}

type Scraper struct {
	session *core.Client
}

func NewScraper(session *core.Client) Scraper {
	return Scraper{session: session}
}

// course titles render as "과목명 (2025-2-ABC1234-01)"; the
// parenthesized trailer is the course code
var courseCodeRegex = regexp.MustCompile(`\(([\w.-]+)\)\s*$`)

func splitCourseTitle(title string) (name, code string) {
	m := courseCodeRegex.FindStringSubmatch(title)
	if len(m) < 2 {
		return title, ""
	}
	return htmlutil.CleanText(strings.TrimSuffix(title, m[0])), m[1]
}

// Courses enumerates the enrolled courses off the dashboard.
func (s Scraper) Courses(ctx context.Context) ([]Course, error) {
	ctx, span := tracer.Start(ctx, "scraper:Courses")
	defer span.End()

	page, err := s.session.Fetch(ctx, "/")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch dashboard")
		return nil, err
	}

	anchors := htmlutil.GetAnchors(page.Url, page.Doc.Find(".course_box a.course_link"))
	if len(anchors) == 0 {
		// older templates lay the course list out as plain view links
		anchors = htmlutil.GetAnchors(page.Url, page.Doc.Find("a[href*='course/view.php']"))
	}

	seen := map[string]bool{}
	var courses []Course
	for _, a := range anchors {
		if a.Url == nil || a.Name == "" {
			continue
		}
		key := a.Url.Query().Get("id")
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true

		name, code := splitCourseTitle(a.Name)
		if code == "" {
			code = fmt.Sprintf("COURSE_%s", key)
		}
		courses = append(courses, Course{
			Code: code,
			Name: name,
			Url:  a.Url,
		})
	}

	span.SetAttributes(attribute.Int("count", len(courses)))
	return courses, nil
}

// CourseAssignments scrapes one course's assignment index and returns
// one fragment per listed item. When the index omits the due date or
// any detail data the per-assignment detail page is fetched and merged.
// A title listed twice keeps the later listing.
func (s Scraper) CourseAssignments(ctx context.Context, course Course) ([]Fragment, error) {
	ctx, span := tracer.Start(ctx, "scraper:CourseAssignments")
	defer span.End()
	span.SetAttributes(attribute.String("course", course.Code))

	id, err := course.Id()
	if err != nil {
		span.SetStatus(codes.Error, "course url carries no id")
		return nil, fmt.Errorf("parse course id: %w", err)
	}

	page, err := s.session.Fetch(ctx, fmt.Sprintf("/mod/assign/index.php?id=%d", id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch assignment index")
		return nil, err
	}

	var fragments []Fragment
	byTitle := map[string]int{}

	page.Doc.Find("table.generaltable tbody tr").Each(func(_ int, row *goquery.Selection) {
		anchors := htmlutil.GetAnchors(page.Url, row.Find("a[href*='mod/assign/view.php']"))
		if len(anchors) == 0 {
			return
		}
		link := anchors[0]

		f := Fragment{
			CourseCode: course.Code,
			CourseName: course.Name,
			Title:      link.Name,
			DetailUrl:  link.Url.String(),
		}

		cells := row.Find("td")
		// index table layout: section | assignment | due date | submission
		if cells.Length() >= 3 {
			f.RawDueDate = htmlutil.CleanText(cells.Eq(2).Text())
		}
		if cells.Length() >= 4 {
			f.StatusText = htmlutil.CleanText(cells.Eq(3).Text())
		}

		// later listing of the same title wins (re-listed after edit)
		if prev, dup := byTitle[f.Title]; dup {
			fragments[prev] = f
			return
		}
		byTitle[f.Title] = len(fragments)
		fragments = append(fragments, f)
	})

	for i := range fragments {
		if fragments[i].RawDueDate != "" && fragments[i].Description != "" {
			continue
		}
		err := s.mergeDetail(ctx, &fragments[i])
		if err != nil {
			span.RecordError(err)
			// the index row alone is still a usable fragment
			continue
		}
	}

	span.SetAttributes(attribute.Int("count", len(fragments)))
	return fragments, nil
}

// detail pages label the due-date row in a handful of known ways
var dueDateLabels = []string{"종료 일시", "마감", "Due date", "Due:"}
var submittedKeywords = []string{"제출 완료", "Submitted for grading"}

func (s Scraper) mergeDetail(ctx context.Context, f *Fragment) error {
	ctx, span := tracer.Start(ctx, "scraper:mergeDetail")
	defer span.End()
	span.SetAttributes(attribute.String("url", f.DetailUrl))

	page, err := s.session.Fetch(ctx, f.DetailUrl)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch detail page")
		return err
	}

	if f.Description == "" {
		f.Description = htmlutil.CleanText(
			page.Doc.Find("div[role=main] .activity-description, div#intro").First().Text(),
		)
	}

	page.Doc.Find("table.generaltable tr").Each(func(_ int, row *goquery.Selection) {
		label := htmlutil.CleanText(row.Find("th, td").First().Text())
		value := htmlutil.CleanText(row.Find("td").Last().Text())

		if f.RawDueDate == "" {
			for _, known := range dueDateLabels {
				if strings.Contains(label, known) {
					f.RawDueDate = value
					break
				}
			}
		}
		for _, known := range submittedKeywords {
			if strings.Contains(value, known) && f.SubmissionUrl == "" {
				f.SubmissionUrl = f.DetailUrl
				if f.StatusText == "" {
					f.StatusText = value
				}
			}
		}
	})

	if f.AttachmentUrl == "" {
		attachments := htmlutil.GetAnchors(page.Url, page.Doc.Find("a[href*='pluginfile.php']"))
		if len(attachments) > 0 {
			f.AttachmentUrl = attachments[0].Url.String()
		}
	}

	return nil
}

// ScrapeAll collects a best-effort fragment set across every enrolled
// course. A failing course page never aborts the others; total failure
// (no course list at all) is the only hard error.
func (s Scraper) ScrapeAll(ctx context.Context) (Result, error) {
	ctx, span := tracer.Start(ctx, "scraper:ScrapeAll")
	defer span.End()

	courses, err := s.Courses(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to enumerate courses")
		return Result{}, err
	}

	var out Result
	for _, course := range courses {
		frags, err := s.CourseAssignments(ctx, course)
		if err != nil {
			// a dead session poisons every remaining course too,
			// let the caller run its one re-login instead
			if errors.Is(err, core.ErrSessionExpired) {
				return Result{}, err
			}
			out.Failed = append(out.Failed, CourseError{Course: course, Err: err})
			continue
		}
		out.Fragments = append(out.Fragments, frags...)
	}

	span.SetAttributes(
		attribute.Int("fragments", len(out.Fragments)),
		attribute.Int("failed_courses", len(out.Failed)),
	)
	return out, nil
}
