package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"journalflow/internal/config"
	"journalflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q returns tx when non-nil, the pool otherwise.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func IsUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return false
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r Repo) InsertJournal(ctx context.Context, tx *sql.Tx, j domain.Journal) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO journals(id,name,created_at) VALUES (?,?,?)`, j.ID, j.Name, j.CreatedAt)
	return err
}

func (r Repo) GetJournal(ctx context.Context, id string) (domain.Journal, error) {
	var j domain.Journal
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM journals WHERE id=?`, id).Scan(&j.ID, &j.Name, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return j, ErrNotFound
	}
	return j, err
}

func (r Repo) ListJournals(ctx context.Context) ([]domain.Journal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM journals ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Journal
	for rows.Next() {
		var j domain.Journal
		if err := rows.Scan(&j.ID, &j.Name, &j.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

// SingleJournal returns the only journal, failing when zero or several exist.
func (r Repo) SingleJournal(ctx context.Context) (domain.Journal, error) {
	journals, err := r.ListJournals(ctx)
	if err != nil {
		return domain.Journal{}, err
	}
	if len(journals) == 0 {
		return domain.Journal{}, ErrNotFound
	}
	if len(journals) > 1 {
		return domain.Journal{}, fmt.Errorf("multiple journals exist; specify --journal")
	}
	return journals[0], nil
}

func (r Repo) UpsertJournalConfig(ctx context.Context, tx *sql.Tx, journalID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Journal.ID = journalID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO journal_configs(journal_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(journal_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, journalID, string(payload), now, now)
	return err
}

func (r Repo) GetJournalConfig(ctx context.Context, journalID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM journal_configs WHERE journal_id=?`, journalID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Journal.ID == "" {
		cfg.Journal.ID = journalID
	}
	return &cfg, cfg.Validate()
}
