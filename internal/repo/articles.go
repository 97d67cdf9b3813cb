package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"journalflow/internal/domain"
)

const articleColumns = `id,journal_id,title,stage,current_step,current_review_round,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(row rowScanner) (domain.Article, error) {
	var a domain.Article
	var round sql.NullInt64
	err := row.Scan(&a.ID, &a.JournalID, &a.Title, &a.Stage, &a.CurrentStep, &round, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if round.Valid {
		n := int(round.Int64)
		a.CurrentReviewRound = &n
	}
	return a, nil
}

func (r Repo) InsertArticle(ctx context.Context, tx *sql.Tx, a domain.Article) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO articles(`+articleColumns+`) VALUES (?,?,?,?,?,?,?,?)`,
		a.ID, a.JournalID, a.Title, a.Stage, a.CurrentStep, nullableIntPtr(a.CurrentReviewRound), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) GetArticle(ctx context.Context, tx *sql.Tx, id string) (domain.Article, error) {
	return scanArticle(r.q(tx).QueryRowContext(ctx, `SELECT `+articleColumns+` FROM articles WHERE id=?`, id))
}

type ArticleFilters struct {
	JournalID string
	Stages    []string
	Limit     int
}

func (r Repo) ListArticles(ctx context.Context, f ArticleFilters) ([]domain.Article, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.JournalID != "" {
		clauses = append(clauses, "journal_id=?")
		args = append(args, f.JournalID)
	}
	if len(f.Stages) > 0 {
		clauses = append(clauses, "stage IN ("+strings.TrimSuffix(strings.Repeat("?,", len(f.Stages)), ",")+")")
		for _, s := range f.Stages {
			args = append(args, s)
		}
	}
	query := `SELECT ` + articleColumns + ` FROM articles WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// CompareAndSetStage moves an article from one stage to another. It reports
// false when the stored stage no longer equals from.
func (r Repo) CompareAndSetStage(ctx context.Context, tx *sql.Tx, id, from, to, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE articles SET stage=?, updated_at=? WHERE id=? AND stage=?`, to, now, id, from)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) SetCurrentReviewRound(ctx context.Context, tx *sql.Tx, id string, round *int, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE articles SET current_review_round=?, updated_at=? WHERE id=?`, nullableIntPtr(round), now, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetCurrentStep(ctx context.Context, tx *sql.Tx, id string, step int, now string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE articles SET current_step=?, updated_at=? WHERE id=?`, step, now, id)
	if err != nil {
		return err
	}
	if ok, err := affected(res); err != nil {
		return err
	} else if !ok {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStageTransition(ctx context.Context, tx *sql.Tx, st domain.StageTransition) (int64, error) {
	override := 0
	if st.Override {
		override = 1
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO stage_transitions(article_id,from_stage,to_stage,actor_id,override,at) VALUES (?,?,?,?,?,?)`,
		st.ArticleID, st.FromStage, st.ToStage, st.ActorID, override, st.At)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListStageTransitions returns the article's stage log oldest first.
func (r Repo) ListStageTransitions(ctx context.Context, articleID string) ([]domain.StageTransition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,article_id,from_stage,to_stage,actor_id,override,at FROM stage_transitions WHERE article_id=? ORDER BY id ASC`, articleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StageTransition
	for rows.Next() {
		var st domain.StageTransition
		var override int
		if err := rows.Scan(&st.ID, &st.ArticleID, &st.FromStage, &st.ToStage, &st.ActorID, &override, &st.At); err != nil {
			return nil, err
		}
		st.Override = override != 0
		res = append(res, st)
	}
	return res, rows.Err()
}
