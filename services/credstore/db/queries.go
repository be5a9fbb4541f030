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

type Credential struct {
	AccountID         string
	LoginID           string
	Secret            string
	StudentNo         string
	Institution       string
	IsActive          int64
	BadLogins         int64
	DeactivatedReason string
	CreatedAt         int64
	UpdatedAt         int64
	LastUsedAt        int64
}

const listActiveCredentials = `
SELECT account_id, login_id, secret, student_no, institution, is_active,
       bad_logins, deactivated_reason, created_at, updated_at, last_used_at
FROM credential WHERE is_active = 1 ORDER BY account_id
`

func (q *Queries) ListActiveCredentials(ctx context.Context) ([]Credential, error) {
	rows, err := q.db.QueryContext(ctx, listActiveCredentials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Credential
	for rows.Next() {
		var i Credential
		err := rows.Scan(
			&i.AccountID, &i.LoginID, &i.Secret, &i.StudentNo, &i.Institution,
			&i.IsActive, &i.BadLogins, &i.DeactivatedReason,
			&i.CreatedAt, &i.UpdatedAt, &i.LastUsedAt,
		)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const getCredential = `
SELECT account_id, login_id, secret, student_no, institution, is_active,
       bad_logins, deactivated_reason, created_at, updated_at, last_used_at
FROM credential WHERE account_id = ?
`

func (q *Queries) GetCredential(ctx context.Context, accountID string) (Credential, error) {
	row := q.db.QueryRowContext(ctx, getCredential, accountID)
	var i Credential
	err := row.Scan(
		&i.AccountID, &i.LoginID, &i.Secret, &i.StudentNo, &i.Institution,
		&i.IsActive, &i.BadLogins, &i.DeactivatedReason,
		&i.CreatedAt, &i.UpdatedAt, &i.LastUsedAt,
	)
	return i, err
}

const createCredential = `
INSERT INTO credential (
    account_id, login_id, secret, student_no, institution,
    created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (account_id) DO UPDATE SET
    login_id = excluded.login_id,
    secret = excluded.secret,
    student_no = excluded.student_no,
    institution = excluded.institution,
    updated_at = excluded.updated_at
`

type CreateCredentialParams struct {
	AccountID   string
	LoginID     string
	Secret      string
	StudentNo   string
	Institution string
	CreatedAt   int64
	UpdatedAt   int64
}

func (q *Queries) CreateCredential(ctx context.Context, arg CreateCredentialParams) error {
	_, err := q.db.ExecContext(ctx, createCredential,
		arg.AccountID, arg.LoginID, arg.Secret, arg.StudentNo,
		arg.Institution, arg.CreatedAt, arg.UpdatedAt,
	)
	return err
}

const touchCredential = `
UPDATE credential
SET last_used_at = ?, updated_at = ?, bad_logins = 0
WHERE account_id = ?
`

type TouchCredentialParams struct {
	LastUsedAt int64
	UpdatedAt  int64
	AccountID  string
}

func (q *Queries) TouchCredential(ctx context.Context, arg TouchCredentialParams) error {
	_, err := q.db.ExecContext(ctx, touchCredential, arg.LastUsedAt, arg.UpdatedAt, arg.AccountID)
	return err
}

const deactivateCredential = `
UPDATE credential
SET is_active = 0, deactivated_reason = ?, updated_at = ?
WHERE account_id = ?
`

type DeactivateCredentialParams struct {
	DeactivatedReason string
	UpdatedAt         int64
	AccountID         string
}

func (q *Queries) DeactivateCredential(ctx context.Context, arg DeactivateCredentialParams) error {
	_, err := q.db.ExecContext(ctx, deactivateCredential,
		arg.DeactivatedReason, arg.UpdatedAt, arg.AccountID)
	return err
}

const incrementBadLogins = `
UPDATE credential
SET bad_logins = bad_logins + 1, updated_at = ?
WHERE account_id = ?
RETURNING bad_logins
`

type IncrementBadLoginsParams struct {
	UpdatedAt int64
	AccountID string
}

func (q *Queries) IncrementBadLogins(ctx context.Context, arg IncrementBadLoginsParams) (int64, error) {
	row := q.db.QueryRowContext(ctx, incrementBadLogins, arg.UpdatedAt, arg.AccountID)
	var badLogins int64
	err := row.Scan(&badLogins)
	return badLogins, err
}
