package repo

import (
	"context"
	"database/sql"
	"errors"

	"journalflow/internal/domain"
)

const roundColumns = `id,article_id,family,round_number,opened_by,created_at,closed_at`

func scanRound(row rowScanner) (domain.Round, error) {
	var rd domain.Round
	var family string
	var closed sql.NullString
	err := row.Scan(&rd.ID, &rd.ArticleID, &family, &rd.RoundNumber, &rd.OpenedBy, &rd.CreatedAt, &closed)
	if errors.Is(err, sql.ErrNoRows) {
		return rd, ErrNotFound
	}
	if err != nil {
		return rd, err
	}
	rd.Family = domain.Family(family)
	rd.ClosedAt = stringPtr(closed)
	return rd, nil
}

func (r Repo) scanRounds(rows *sql.Rows) ([]domain.Round, error) {
	defer rows.Close()
	var res []domain.Round
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rd)
	}
	return res, rows.Err()
}

// InsertRound fails with a unique violation when the round number is taken.
func (r Repo) InsertRound(ctx context.Context, tx *sql.Tx, rd domain.Round) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO rounds(`+roundColumns+`) VALUES (?,?,?,?,?,?,?)`,
		rd.ID, rd.ArticleID, string(rd.Family), rd.RoundNumber, rd.OpenedBy, rd.CreatedAt, nullableStringPtr(rd.ClosedAt))
	return err
}

func (r Repo) GetRound(ctx context.Context, tx *sql.Tx, id string) (domain.Round, error) {
	return scanRound(r.q(tx).QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE id=?`, id))
}

// LatestRound returns the highest-numbered round of a family, or nil.
func (r Repo) LatestRound(ctx context.Context, tx *sql.Tx, articleID string, family domain.Family) (*domain.Round, error) {
	rd, err := scanRound(r.q(tx).QueryRowContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE article_id=? AND family=? ORDER BY round_number DESC LIMIT 1`, articleID, string(family)))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rd, nil
}

// ListRounds returns rounds ordered by family then number. An empty family
// lists every family.
func (r Repo) ListRounds(ctx context.Context, tx *sql.Tx, articleID string, family domain.Family) ([]domain.Round, error) {
	query := `SELECT ` + roundColumns + ` FROM rounds WHERE article_id=?`
	args := []any{articleID}
	if family != "" {
		query += ` AND family=?`
		args = append(args, string(family))
	}
	query += ` ORDER BY family ASC, round_number ASC`
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r.scanRounds(rows)
}

// OpenRounds lists rounds of the article that have not been closed.
func (r Repo) OpenRounds(ctx context.Context, tx *sql.Tx, articleID string) ([]domain.Round, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+roundColumns+` FROM rounds WHERE article_id=? AND closed_at IS NULL ORDER BY family ASC, round_number ASC`, articleID)
	if err != nil {
		return nil, err
	}
	return r.scanRounds(rows)
}

// CloseRound stamps closed_at once; it reports false if already closed.
func (r Repo) CloseRound(ctx context.Context, tx *sql.Tx, id, now string) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE rounds SET closed_at=? WHERE id=? AND closed_at IS NULL`, now, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r Repo) DeleteRound(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM rounds WHERE id=?`, id)
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
