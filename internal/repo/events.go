package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"journalflow/internal/domain"
)

type EventFilters struct {
	JournalID  string
	Type       string
	EntityKind string
	EntityID   string
	// Before restricts to ids lower than the cursor when positive.
	Before int64
	Limit  int
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var journal, entity, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &journal, &e.EntityKind, &entity, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		e.JournalID = journal.String
		e.EntityID = entity.String
		e.Payload = payload.String
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEvents returns audit events newest first.
func (r Repo) LatestEvents(ctx context.Context, f EventFilters) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.JournalID != "" {
		clauses = append(clauses, "journal_id=?")
		args = append(args, f.JournalID)
	}
	if f.Type != "" {
		clauses = append(clauses, "type=?")
		args = append(args, f.Type)
	}
	if f.EntityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, f.EntityKind)
	}
	if f.EntityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, f.EntityID)
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT id,ts,type,journal_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, journalID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if journalID != "" {
		clauses = append(clauses, "journal_id=?")
		args = append(args, journalID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,journal_id,entity_kind,entity_id,actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`, strings.Join(clauses, " AND "))
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestEventID returns the most recent event ID for a journal.
func (r Repo) LatestEventID(ctx context.Context, journalID string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE journal_id=?`, journalID).Scan(&id)
	return id, err
}

type Identifier struct {
	ArticleID string `json:"article_id"`
	Kind      string `json:"kind"`
	Value     string `json:"value"`
	Status    string `json:"status" enum:"pending,registered,failed"`
	Detail    string `json:"detail,omitempty"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

func (r Repo) UpsertIdentifier(ctx context.Context, id Identifier) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO article_identifiers(article_id,kind,value,status,detail,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(article_id,kind) DO UPDATE SET value=excluded.value, status=excluded.status, detail=excluded.detail, updated_at=excluded.updated_at`,
		id.ArticleID, id.Kind, id.Value, id.Status, nullable(id.Detail), id.UpdatedAt)
	return err
}

func (r Repo) GetIdentifier(ctx context.Context, articleID, kind string) (Identifier, error) {
	var id Identifier
	var detail sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT article_id,kind,value,status,detail,updated_at FROM article_identifiers WHERE article_id=? AND kind=?`, articleID, kind).
		Scan(&id.ArticleID, &id.Kind, &id.Value, &id.Status, &detail, &id.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return id, ErrNotFound
	}
	id.Detail = detail.String
	return id, err
}
