package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type Assignment struct {
	ID            string
	AccountID     string
	Title         string
	Description   string
	CourseName    string
	CourseCode    string
	DueDate       int64
	CreatedAt     int64
	UpdatedAt     int64
	Status        string
	Priority      string
	AttachmentUrl string
	SubmissionUrl string
	Tags          string
	IsNew         int64
	IsUpcoming    int64
	University    string
	StudentID     string
	MissingCount  int64
}

type SyncAccount struct {
	AccountID           string
	LastSyncAt          int64
	LastStatus          string
	LastError           string
	ConsecutiveFailures int64
	TotalCycles         int64
}

const listAssignments = `
SELECT id, account_id, title, description, course_name, course_code,
       due_date, created_at, updated_at, status, priority,
       attachment_url, submission_url, tags, is_new, is_upcoming,
       university, student_id, missing_count
FROM assignment WHERE account_id = ? ORDER BY due_date, id
`

func (q *Queries) ListAssignments(ctx context.Context, accountID string) ([]Assignment, error) {
	rows, err := q.db.QueryContext(ctx, listAssignments, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Assignment
	for rows.Next() {
		var i Assignment
		err := rows.Scan(
			&i.ID, &i.AccountID, &i.Title, &i.Description, &i.CourseName,
			&i.CourseCode, &i.DueDate, &i.CreatedAt, &i.UpdatedAt,
			&i.Status, &i.Priority, &i.AttachmentUrl, &i.SubmissionUrl,
			&i.Tags, &i.IsNew, &i.IsUpcoming, &i.University, &i.StudentID,
			&i.MissingCount,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteAssignments = `
DELETE FROM assignment WHERE account_id = ?
`

func (q *Queries) DeleteAssignments(ctx context.Context, accountID string) error {
	_, err := q.db.ExecContext(ctx, deleteAssignments, accountID)
	return err
}

const insertAssignment = `
INSERT INTO assignment (
    id, account_id, title, description, course_name, course_code,
    due_date, created_at, updated_at, status, priority,
    attachment_url, submission_url, tags, is_new, is_upcoming,
    university, student_id, missing_count
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) InsertAssignment(ctx context.Context, arg Assignment) error {
	_, err := q.db.ExecContext(ctx, insertAssignment,
		arg.ID, arg.AccountID, arg.Title, arg.Description, arg.CourseName,
		arg.CourseCode, arg.DueDate, arg.CreatedAt, arg.UpdatedAt,
		arg.Status, arg.Priority, arg.AttachmentUrl, arg.SubmissionUrl,
		arg.Tags, arg.IsNew, arg.IsUpcoming, arg.University, arg.StudentID,
		arg.MissingCount,
	)
	return err
}

const getSyncAccount = `
SELECT account_id, last_sync_at, last_status, last_error,
       consecutive_failures, total_cycles
FROM sync_account WHERE account_id = ?
`

func (q *Queries) GetSyncAccount(ctx context.Context, accountID string) (SyncAccount, error) {
	row := q.db.QueryRowContext(ctx, getSyncAccount, accountID)
	var i SyncAccount
	err := row.Scan(
		&i.AccountID, &i.LastSyncAt, &i.LastStatus, &i.LastError,
		&i.ConsecutiveFailures, &i.TotalCycles,
	)
	return i, err
}

const markSyncSuccess = `
INSERT INTO sync_account (account_id, last_sync_at, last_status, last_error, consecutive_failures, total_cycles)
VALUES (?, ?, ?, '', 0, 1)
ON CONFLICT (account_id) DO UPDATE SET
    last_sync_at = excluded.last_sync_at,
    last_status = excluded.last_status,
    last_error = '',
    consecutive_failures = 0,
    total_cycles = sync_account.total_cycles + 1
`

type MarkSyncSuccessParams struct {
	AccountID  string
	LastSyncAt int64
	Status     string
}

func (q *Queries) MarkSyncSuccess(ctx context.Context, arg MarkSyncSuccessParams) error {
	_, err := q.db.ExecContext(ctx, markSyncSuccess, arg.AccountID, arg.LastSyncAt, arg.Status)
	return err
}

const markSyncFailure = `
INSERT INTO sync_account (account_id, last_sync_at, last_status, last_error, consecutive_failures, total_cycles)
VALUES (?, ?, 'error', ?, 1, 1)
ON CONFLICT (account_id) DO UPDATE SET
    last_sync_at = excluded.last_sync_at,
    last_status = 'error',
    last_error = excluded.last_error,
    consecutive_failures = sync_account.consecutive_failures + 1,
    total_cycles = sync_account.total_cycles + 1
`

type MarkSyncFailureParams struct {
	AccountID  string
	LastSyncAt int64
	LastError  string
}

func (q *Queries) MarkSyncFailure(ctx context.Context, arg MarkSyncFailureParams) error {
	_, err := q.db.ExecContext(ctx, markSyncFailure, arg.AccountID, arg.LastSyncAt, arg.LastError)
	return err
}
