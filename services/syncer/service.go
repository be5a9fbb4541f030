// syncer runs the scrape-normalize-diff-store pipeline for one account
// at a time. A cycle either commits a complete new snapshot or leaves
// the previous one untouched.

package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"learnsync-backend/lib/scrapers/learnus/assignments"
	"learnsync-backend/lib/scrapers/learnus/core"
	"learnsync-backend/lib/timezone"
	"learnsync-backend/services/credstore"
	"learnsync-backend/services/normalizer"
	"learnsync-backend/services/syncer/db"
)

var tracer = otel.Tracer("services/syncer")

// Portal is one live authenticated session, torn down at the end of
// the cycle that opened it.
type Portal interface {
	ScrapeAll(ctx context.Context) (assignments.Result, error)
	// Relogin recovers a session the portal silently invalidated.
	// Callers get exactly one recovery attempt per cycle.
	Relogin(ctx context.Context) error
	Close()
}

// Dialer opens a freshly logged-in portal session.
type Dialer interface {
	Dial(ctx context.Context, cred credstore.Credential) (Portal, error)
}

type LearnUsDialer struct {
	Options core.ClientOptions
}

func (d LearnUsDialer) Dial(ctx context.Context, cred credstore.Credential) (Portal, error) {
	client, err := core.NewClient(d.Options)
	if err != nil {
		return nil, err
	}
	creds := core.Credentials{
		LoginId:   cred.LoginId,
		Secret:    cred.Secret,
		StudentNo: cred.StudentNo,
	}
	err = client.Login(ctx, creds)
	if err != nil {
		client.Close()
		return nil, err
	}
	return &learnusPortal{client: client, creds: creds}, nil
}

type learnusPortal struct {
	client *core.Client
	creds  core.Credentials
}

func (p *learnusPortal) ScrapeAll(ctx context.Context) (assignments.Result, error) {
	return assignments.NewScraper(p.client).ScrapeAll(ctx)
}

func (p *learnusPortal) Relogin(ctx context.Context) error {
	return p.client.Login(ctx, p.creds)
}

func (p *learnusPortal) Close() { p.client.Close() }

// Notifier receives the newly discovered assignments of a cycle.
// Delivery failures never fail the cycle.
type Notifier interface {
	NotifyNewAssignments(ctx context.Context, cred credstore.Credential, items []normalizer.Assignment) error
}

type Options struct {
	// directory for per-account snapshot artifacts, empty disables them
	CacheDir string
	Notifier Notifier
	// test seam, defaults to the campus-local clock
	Now func() time.Time
}

type Engine struct {
	db       *sql.DB
	qry      *db.Queries
	creds    credstore.Store
	dialer   Dialer
	notifier Notifier
	cacheDir string
	now      func() time.Time
}

func NewEngine(database *sql.DB, creds credstore.Store, dialer Dialer, opts Options) Engine {
	now := opts.Now
	if now == nil {
		now = timezone.Now
	}
	return Engine{
		db:       database,
		qry:      db.New(database),
		creds:    creds,
		dialer:   dialer,
		notifier: opts.Notifier,
		cacheDir: opts.CacheDir,
		now:      now,
	}
}

type CycleReport struct {
	AccountId     string
	StartedAt     time.Time
	FinishedAt    time.Time
	Scraped       int
	Warnings      int
	FailedCourses int
	New           int
	Updated       int
	Removed       int
	Unchanged     int
	Total         int
}

// RunCycle syncs one account end to end. On any error the stored
// snapshot is left exactly as the previous cycle committed it.
func (e Engine) RunCycle(ctx context.Context, accountId string) (CycleReport, error) {
	ctx, span := tracer.Start(ctx, "engine:RunCycle")
	defer span.End()
	span.SetAttributes(attribute.String("account", accountId))

	report := CycleReport{
		AccountId: accountId,
		StartedAt: e.now(),
	}

	cred, err := e.creds.Get(ctx, accountId)
	if err != nil {
		return report, e.failCycle(ctx, span, &report, err)
	}

	portal, err := e.dialer.Dial(ctx, cred)
	if err != nil {
		return report, e.failCycle(ctx, span, &report, fmt.Errorf("open portal session: %w", err))
	}
	defer portal.Close()

	scraped, err := portal.ScrapeAll(ctx)
	if errors.Is(err, core.ErrSessionExpired) {
		slog.WarnContext(ctx, "session expired mid-scrape, retrying once", "account", accountId)
		err = portal.Relogin(ctx)
		if err == nil {
			scraped, err = portal.ScrapeAll(ctx)
		}
	}
	if err != nil {
		return report, e.failCycle(ctx, span, &report, fmt.Errorf("scrape: %w", err))
	}

	report.Scraped = len(scraped.Fragments)
	report.FailedCourses = len(scraped.Failed)
	for _, failed := range scraped.Failed {
		slog.WarnContext(ctx, "course failed to scrape",
			"account", accountId, "course", failed.Course.Code, "err", failed.Err)
	}

	norm := normalizer.Normalize(normalizer.Request{
		AccountId:  accountId,
		University: cred.Institution,
		StudentId:  cred.StudentNo,
		Fragments:  scraped.Fragments,
		Now:        report.StartedAt,
	})
	report.Warnings = len(norm.Warnings)
	for _, warning := range norm.Warnings {
		slog.WarnContext(ctx, "fragment skipped", "account", accountId, "err", warning.Error())
	}

	prev, err := e.Assignments(ctx, accountId)
	if err != nil {
		return report, e.failCycle(ctx, span, &report, fmt.Errorf("load snapshot: %w", err))
	}

	failedCourses := map[string]bool{}
	for _, failed := range scraped.Failed {
		failedCourses[failed.Course.Code] = true
	}
	diff := diffSnapshot(prev, norm.Assignments, failedCourses, report.StartedAt)
	report.New = len(diff.New)
	report.Updated = diff.Updated
	report.Removed = diff.Removed
	report.Unchanged = diff.Unchanged
	report.Total = len(diff.Records)

	// a cycle with failing course pages still commits, but the status
	// reflects that the snapshot may be incomplete
	status := "ok"
	if report.FailedCourses > 0 {
		status = "partial"
	}
	err = e.commitSnapshot(ctx, accountId, diff.Records, report.StartedAt, status)
	if err != nil {
		return report, e.failCycle(ctx, span, &report, fmt.Errorf("commit snapshot: %w", err))
	}

	err = writeCache(e.cacheDir, accountId, diff.Records, report.StartedAt)
	if err != nil {
		slog.WarnContext(ctx, "failed to write snapshot artifact", "account", accountId, "err", err)
	}

	if e.notifier != nil && len(diff.New) > 0 {
		err = e.notifier.NotifyNewAssignments(ctx, cred, diff.New)
		if err != nil {
			slog.WarnContext(ctx, "notification failed", "account", accountId, "err", err)
		}
	}

	err = e.creds.Touch(ctx, accountId, report.StartedAt)
	if err != nil {
		slog.WarnContext(ctx, "failed to touch credential", "account", accountId, "err", err)
	}

	report.FinishedAt = e.now()
	span.SetAttributes(
		attribute.Int("new", report.New),
		attribute.Int("updated", report.Updated),
		attribute.Int("removed", report.Removed),
		attribute.Int("total", report.Total),
	)
	slog.InfoContext(ctx, "sync cycle complete",
		"account", accountId,
		"new", report.New, "updated", report.Updated,
		"removed", report.Removed, "total", report.Total,
		"warnings", report.Warnings, "failed_courses", report.FailedCourses)
	return report, nil
}

// failCycle records the failure for status reporting and hands the
// error back untouched so callers can inspect its cause.
func (e Engine) failCycle(ctx context.Context, span trace.Span, report *CycleReport, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	report.FinishedAt = e.now()
	markErr := e.qry.MarkSyncFailure(ctx, db.MarkSyncFailureParams{
		AccountID:  report.AccountId,
		LastSyncAt: report.FinishedAt.Unix(),
		LastError:  err.Error(),
	})
	if markErr != nil {
		slog.WarnContext(ctx, "failed to record sync failure", "account", report.AccountId, "err", markErr)
	}
	return err
}

func (e Engine) commitSnapshot(ctx context.Context, accountId string, records []Record, now time.Time, status string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	qtx := e.qry.WithTx(tx)
	err = qtx.DeleteAssignments(ctx, accountId)
	if err != nil {
		return err
	}
	for _, r := range records {
		row, err := toRow(accountId, r)
		if err != nil {
			return err
		}
		err = qtx.InsertAssignment(ctx, row)
		if err != nil {
			return err
		}
	}
	err = qtx.MarkSyncSuccess(ctx, db.MarkSyncSuccessParams{
		AccountID:  accountId,
		LastSyncAt: now.Unix(),
		Status:     status,
	})
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Assignments returns the stored snapshot for one account, due-date
// ordered.
func (e Engine) Assignments(ctx context.Context, accountId string) ([]Record, error) {
	rows, err := e.qry.ListAssignments(ctx, accountId)
	if err != nil {
		return nil, err
	}
	out := make([]Record, len(rows))
	for i, row := range rows {
		out[i], err = fromRow(row)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type AccountStatus struct {
	AccountId           string
	LastSyncAt          time.Time
	LastStatus          string
	LastError           string
	ConsecutiveFailures int64
	TotalCycles         int64
}

func (e Engine) Status(ctx context.Context, accountId string) (AccountStatus, error) {
	row, err := e.qry.GetSyncAccount(ctx, accountId)
	if err == sql.ErrNoRows {
		return AccountStatus{AccountId: accountId, LastStatus: "never"}, nil
	}
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		AccountId:           row.AccountID,
		LastSyncAt:          time.Unix(row.LastSyncAt, 0).In(timezone.Location),
		LastStatus:          row.LastStatus,
		LastError:           row.LastError,
		ConsecutiveFailures: row.ConsecutiveFailures,
		TotalCycles:         row.TotalCycles,
	}, nil
}

func toRow(accountId string, r Record) (db.Assignment, error) {
	tags, err := json.Marshal(r.Tags)
	if err != nil {
		return db.Assignment{}, err
	}
	return db.Assignment{
		ID:            r.Id,
		AccountID:     accountId,
		Title:         r.Title,
		Description:   r.Description,
		CourseName:    r.CourseName,
		CourseCode:    r.CourseCode,
		DueDate:       r.DueDate.Unix(),
		CreatedAt:     r.CreatedAt.Unix(),
		UpdatedAt:     r.UpdatedAt.Unix(),
		Status:        string(r.Status),
		Priority:      string(r.Priority),
		AttachmentUrl: r.AttachmentUrl,
		SubmissionUrl: r.SubmissionUrl,
		Tags:          string(tags),
		IsNew:         boolToInt(r.IsNew),
		IsUpcoming:    boolToInt(r.IsUpcoming),
		University:    r.University,
		StudentID:     r.StudentId,
		MissingCount:  int64(r.MissingCount),
	}, nil
}

func fromRow(row db.Assignment) (Record, error) {
	var tags []string
	err := json.Unmarshal([]byte(row.Tags), &tags)
	if err != nil {
		return Record{}, fmt.Errorf("assignment %s has malformed tags: %w", row.ID, err)
	}
	return Record{
		Assignment: normalizer.Assignment{
			Id:            row.ID,
			Title:         row.Title,
			Description:   row.Description,
			CourseName:    row.CourseName,
			CourseCode:    row.CourseCode,
			DueDate:       time.Unix(row.DueDate, 0).In(timezone.Location),
			CreatedAt:     time.Unix(row.CreatedAt, 0).In(timezone.Location),
			UpdatedAt:     time.Unix(row.UpdatedAt, 0).In(timezone.Location),
			Status:        normalizer.Status(row.Status),
			Priority:      normalizer.Priority(row.Priority),
			AttachmentUrl: row.AttachmentUrl,
			SubmissionUrl: row.SubmissionUrl,
			Tags:          tags,
			IsNew:         row.IsNew != 0,
			IsUpcoming:    row.IsUpcoming != 0,
			University:    row.University,
			StudentId:     row.StudentID,
		},
		MissingCount: int(row.MissingCount),
	}, nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
