package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"journalflow/internal/domain"
)

const taskColumns = `id,round_id,article_id,family,actor_id,editor_id,requested_at,accepted_at,declined_at,completed_at,withdrawn_at,due_date,decision,note,files_json,updated_at`

// openTask matches tasks that are neither declined, completed nor withdrawn.
const openTask = `declined_at IS NULL AND completed_at IS NULL AND withdrawn_at IS NULL`

func scanTask(row rowScanner) (domain.Task, error) {
	var t domain.Task
	var family string
	var accepted, declined, completed, withdrawn, due, decision, note, files sql.NullString
	err := row.Scan(&t.ID, &t.RoundID, &t.ArticleID, &family, &t.ActorID, &t.EditorID, &t.RequestedAt,
		&accepted, &declined, &completed, &withdrawn, &due, &decision, &note, &files, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Family = domain.Family(family)
	t.AcceptedAt = stringPtr(accepted)
	t.DeclinedAt = stringPtr(declined)
	t.CompletedAt = stringPtr(completed)
	t.WithdrawnAt = stringPtr(withdrawn)
	t.DueDate = stringPtr(due)
	t.Decision = decision.String
	t.Note = note.String
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &t.Files); err != nil {
			return t, err
		}
	}
	t.Status = t.DeriveStatus()
	return t, nil
}

func marshalFiles(files []string) (any, error) {
	if len(files) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(files)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	files, err := marshalFiles(t.Files)
	if err != nil {
		return err
	}
	_, err = r.q(tx).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RoundID, t.ArticleID, string(t.Family), t.ActorID, t.EditorID, t.RequestedAt,
		nullableStringPtr(t.AcceptedAt), nullableStringPtr(t.DeclinedAt), nullableStringPtr(t.CompletedAt), nullableStringPtr(t.WithdrawnAt),
		nullableStringPtr(t.DueDate), nullable(t.Decision), nullable(t.Note), files, t.UpdatedAt)
	return err
}

func (r Repo) GetTask(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(r.q(tx).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

type TaskFilters struct {
	RoundID   string
	ArticleID string
	ActorID   string
	Family    domain.Family
	OpenOnly  bool
	Limit     int
}

// ListTasks returns matching tasks ordered by request time.
func (r Repo) ListTasks(ctx context.Context, tx *sql.Tx, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.RoundID != "" {
		clauses = append(clauses, "round_id=?")
		args = append(args, f.RoundID)
	}
	if f.ArticleID != "" {
		clauses = append(clauses, "article_id=?")
		args = append(args, f.ArticleID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	if f.Family != "" {
		clauses = append(clauses, "family=?")
		args = append(args, string(f.Family))
	}
	if f.OpenOnly {
		clauses = append(clauses, openTask)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY requested_at ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountTasks counts every task in a round regardless of state.
func (r Repo) CountTasks(ctx context.Context, tx *sql.Tx, roundID string) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE round_id=?`, roundID).Scan(&n)
	return n, err
}

// HasOpenTask reports whether actor already holds a non-terminal task in the
// round other than exceptID.
func (r Repo) HasOpenTask(ctx context.Context, tx *sql.Tx, roundID, actorID, exceptID string) (bool, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE round_id=? AND actor_id=? AND id<>? AND `+openTask, roundID, actorID, exceptID).Scan(&n)
	return n > 0, err
}

// The Mark* updates below are single-row compare-and-set writes. Each
// reports false when the task was not in the state the transition requires.

func (r Repo) MarkTaskAccepted(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET accepted_at=?, updated_at=? WHERE id=? AND accepted_at IS NULL AND `+openTask, now, now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) MarkTaskDeclined(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET declined_at=?, decision=NULL, updated_at=? WHERE id=? AND accepted_at IS NULL AND `+openTask, now, now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

type TaskCompletion struct {
	Decision string
	Note     string
	Files    []string
	// Partial saves the fields without stamping completed_at.
	Partial bool
	Now     string
}

func (r Repo) MarkTaskCompleted(ctx context.Context, tx *sql.Tx, id string, c TaskCompletion) (bool, error) {
	files, err := marshalFiles(c.Files)
	if err != nil {
		return false, err
	}
	var completedAt any
	if !c.Partial {
		completedAt = c.Now
	}
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET completed_at=?, decision=COALESCE(?, decision), note=COALESCE(?, note), files_json=COALESCE(?, files_json), updated_at=?
WHERE id=? AND accepted_at IS NOT NULL AND `+openTask,
		completedAt, nullable(c.Decision), nullable(c.Note), files, c.Now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) MarkTaskWithdrawn(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET withdrawn_at=?, decision=?, updated_at=? WHERE id=? AND `+openTask,
		now, domain.DecisionWithdrawn, now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// MarkTaskReset returns a terminal task to requested, clearing lifecycle
// timestamps and decision fields. Requested and accepted tasks are left alone.
func (r Repo) MarkTaskReset(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE tasks SET accepted_at=NULL, declined_at=NULL, completed_at=NULL, withdrawn_at=NULL, decision=NULL, note=NULL, requested_at=?, updated_at=?
WHERE id=? AND (declined_at IS NOT NULL OR completed_at IS NOT NULL OR withdrawn_at IS NOT NULL)`, now, now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}
