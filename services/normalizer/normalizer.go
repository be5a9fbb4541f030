// normalizer converts raw scrape fragments into canonical assignment
// records. it is a pure function of its inputs; the clock comes in on
// the request so derivations are reproducible.

package normalizer

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"learnsync-backend/lib/scrapers/learnus/assignments"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSubmitted  Status = "submitted"
	StatusGraded     Status = "graded"
	StatusOverdue    Status = "overdue"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Assignment is the canonical record. All portal-template variability
// has been absorbed by the time a value of this type exists.
type Assignment struct {
	Id          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CourseName  string    `json:"course_name"`
	CourseCode  string    `json:"course_code"`
	DueDate     time.Time `json:"due_date"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`

	AttachmentUrl string   `json:"attachment_url,omitempty"`
	SubmissionUrl string   `json:"submission_url,omitempty"`
	Tags          []string `json:"tags"`
	IsNew         bool     `json:"is_new"`
	IsUpcoming    bool     `json:"is_upcoming"`
	University    string   `json:"university"`
	StudentId     string   `json:"student_id"`
}

// Warning reports a single skipped fragment; it never fails the batch.
type Warning struct {
	Fragment assignments.Fragment
	Err      error
}

func (w Warning) Error() string {
	return fmt.Sprintf("skipped fragment %q (%s): %s", w.Fragment.Title, w.Fragment.CourseCode, w.Err)
}

type Request struct {
	AccountId  string
	University string
	StudentId  string
	Fragments  []assignments.Fragment
	Now        time.Time
}

type Result struct {
	Assignments []Assignment
	Warnings    []Warning
}

// DeriveId maps the same logical assignment to the same id on every
// cycle regardless of scrape order.
func DeriveId(accountId, courseCode, title string, dueDate time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		accountId,
		courseCode,
		title,
		dueDate.UTC().Format(time.RFC3339),
	}, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// statusKeywords maps the portal's submission-status cell onto explicit
// statuses. this table is the extension point for portal variants; an
// unrecognized cell falls back to the date-derived default.
var statusKeywords = []struct {
	keywords []string
	status   Status
}{
	{[]string{"채점", "graded"}, StatusGraded},
	{[]string{"완료", "submitted"}, StatusSubmitted},
	{[]string{"진행", "in progress"}, StatusInProgress},
	{[]string{"지남", "overdue"}, StatusOverdue},
}

func deriveStatus(f assignments.Fragment, due, now time.Time) Status {
	text := strings.ToLower(f.StatusText)
	for _, entry := range statusKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(text, kw) {
				return entry.status
			}
		}
	}
	if f.SubmissionUrl != "" {
		return StatusSubmitted
	}
	if due.Before(now) {
		return StatusOverdue
	}
	return StatusPending
}

// daysUntil is the integer day difference rounding toward "more
// urgent": an assignment due 3 days and 20 hours out still counts as 3.
func daysUntil(due, now time.Time) int {
	diff := due.Sub(now)
	days := int(diff.Hours() / 24)
	if diff < 0 && diff.Hours()/24 != float64(days) {
		days--
	}
	return days
}

func derivePriority(due, now time.Time) Priority {
	days := daysUntil(due, now)
	switch {
	case days <= 3:
		return PriorityHigh
	case days <= 7:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

var tagKeywords = []string{"과제", "프로젝트", "시험", "퀴즈", "보고서", "발표", "실습"}

func deriveTags(title, courseName string) []string {
	var tags []string
	for _, kw := range tagKeywords {
		if strings.Contains(title, kw) {
			tags = append(tags, kw)
		}
	}
	if courseName != "" {
		tags = append(tags, courseName)
	}
	if len(tags) == 0 {
		tags = []string{"과제"}
	}
	return tags
}

// completeness ranks duplicate fragments; the one carrying the most
// optional fields wins.
func completeness(f assignments.Fragment) int {
	n := 0
	for _, field := range []string{f.Description, f.AttachmentUrl, f.SubmissionUrl, f.RawDueDate, f.StatusText} {
		if field != "" {
			n++
		}
	}
	return n
}

// Normalize converts fragments into deduplicated canonical assignments.
// A fragment with an unrecognized due-date format is skipped with a
// warning rather than failing the batch. IsNew is left false here; only
// the sync diff against the previous snapshot can decide it.
func Normalize(req Request) Result {
	var result Result

	byId := map[string]int{}
	fragCompleteness := map[string]int{}

	for _, f := range req.Fragments {
		due, err := ParseDueDate(f.RawDueDate, req.Now)
		if err != nil {
			result.Warnings = append(result.Warnings, Warning{Fragment: f, Err: err})
			continue
		}

		status := deriveStatus(f, due, req.Now)
		priority := derivePriority(due, req.Now)

		a := Assignment{
			Id:            DeriveId(req.AccountId, f.CourseCode, f.Title, due),
			Title:         f.Title,
			Description:   f.Description,
			CourseName:    f.CourseName,
			CourseCode:    f.CourseCode,
			DueDate:       due,
			CreatedAt:     req.Now,
			UpdatedAt:     req.Now,
			Status:        status,
			Priority:      priority,
			AttachmentUrl: f.AttachmentUrl,
			SubmissionUrl: f.SubmissionUrl,
			Tags:          deriveTags(f.Title, f.CourseName),
			IsUpcoming:    (priority == PriorityHigh || priority == PriorityMedium) && status != StatusSubmitted && status != StatusGraded,
			University:    req.University,
			StudentId:     req.StudentId,
		}

		score := completeness(f)
		if prev, dup := byId[a.Id]; dup {
			if score > fragCompleteness[a.Id] {
				result.Assignments[prev] = a
				fragCompleteness[a.Id] = score
			}
			continue
		}
		byId[a.Id] = len(result.Assignments)
		fragCompleteness[a.Id] = score
		result.Assignments = append(result.Assignments, a)
	}

	return result
}
