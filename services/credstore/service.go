// credstore owns per-account portal credentials and their activation
// and usage metadata. everything downstream treats secrets as opaque.

package credstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"learnsync-backend/lib/timezone"
	"learnsync-backend/services/credstore/db"

	_ "modernc.org/sqlite"
)

type Credential struct {
	AccountId   string
	LoginId     string
	Secret      string
	StudentNo   string
	Institution string
	IsActive    bool
	BadLogins   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// zero when the credential has never been used
	LastUsedAt time.Time
}

func fromRow(row db.Credential) Credential {
	c := Credential{
		AccountId:   row.AccountID,
		LoginId:     row.LoginID,
		Secret:      row.Secret,
		StudentNo:   row.StudentNo,
		Institution: row.Institution,
		IsActive:    row.IsActive != 0,
		BadLogins:   row.BadLogins,
		CreatedAt:   time.Unix(row.CreatedAt, 0).In(timezone.Location),
		UpdatedAt:   time.Unix(row.UpdatedAt, 0).In(timezone.Location),
	}
	if row.LastUsedAt != 0 {
		c.LastUsedAt = time.Unix(row.LastUsedAt, 0).In(timezone.Location)
	}
	return c
}

type Store struct {
	db  *sql.DB
	qry *db.Queries
}

func NewStore(database *sql.DB) Store {
	return Store{
		db:  database,
		qry: db.New(database),
	}
}

// ListActive returns every credential eligible for automatic syncing.
// An empty slice with a nil error genuinely means "no accounts"; a
// store failure is always a non-nil error so callers can tell the two
// apart.
func (s Store) ListActive(ctx context.Context) ([]Credential, error) {
	rows, err := s.qry.ListActiveCredentials(ctx)
	if err != nil {
		return nil, fmt.Errorf("credential store: %w", err)
	}
	out := make([]Credential, len(rows))
	for i, row := range rows {
		out[i] = fromRow(row)
	}
	return out, nil
}

func (s Store) Get(ctx context.Context, accountId string) (Credential, error) {
	row, err := s.qry.GetCredential(ctx, accountId)
	if err == sql.ErrNoRows {
		return Credential{}, fmt.Errorf("credential store: no such account %q", accountId)
	}
	if err != nil {
		return Credential{}, fmt.Errorf("credential store: %w", err)
	}
	return fromRow(row), nil
}

type CreateParams struct {
	AccountId   string
	LoginId     string
	Secret      string
	StudentNo   string
	Institution string
}

func (s Store) Create(ctx context.Context, params CreateParams) error {
	now := timezone.Now().Unix()
	return s.qry.CreateCredential(ctx, db.CreateCredentialParams{
		AccountID:   params.AccountId,
		LoginID:     params.LoginId,
		Secret:      params.Secret,
		StudentNo:   params.StudentNo,
		Institution: params.Institution,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

// Touch marks a successful use of the credential and resets the
// consecutive bad-login count.
func (s Store) Touch(ctx context.Context, accountId string, when time.Time) error {
	return s.qry.TouchCredential(ctx, db.TouchCredentialParams{
		LastUsedAt: when.Unix(),
		UpdatedAt:  timezone.Now().Unix(),
		AccountID:  accountId,
	})
}

// Deactivate takes the credential out of automatic rotation until an
// operator reactivates it. There is no automatic reactivation: retrying
// a wrong password risks locking the account out on the portal side.
func (s Store) Deactivate(ctx context.Context, accountId, reason string) error {
	slog.WarnContext(ctx, "deactivating credential", "account", accountId, "reason", reason)
	return s.qry.DeactivateCredential(ctx, db.DeactivateCredentialParams{
		DeactivatedReason: reason,
		UpdatedAt:         timezone.Now().Unix(),
		AccountID:         accountId,
	})
}

// RecordBadLogin bumps the consecutive wrong-password count and returns
// the new value so the caller can apply its deactivation threshold.
func (s Store) RecordBadLogin(ctx context.Context, accountId string) (int64, error) {
	count, err := s.qry.IncrementBadLogins(ctx, db.IncrementBadLoginsParams{
		UpdatedAt: timezone.Now().Unix(),
		AccountID: accountId,
	})
	if err != nil {
		return 0, fmt.Errorf("credential store: %w", err)
	}
	return count, nil
}
