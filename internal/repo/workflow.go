package repo

import (
	"context"
	"database/sql"
	"errors"

	"journalflow/internal/domain"
)

const elementColumns = `id,journal_id,element_name,stage,handshake_url,jump_url,ord`

func scanElement(row rowScanner) (domain.WorkflowElement, error) {
	var el domain.WorkflowElement
	err := row.Scan(&el.ID, &el.JournalID, &el.ElementName, &el.Stage, &el.HandshakeURL, &el.JumpURL, &el.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return el, ErrNotFound
	}
	return el, err
}

// InsertWorkflowElement adds an element unless one with the same name exists
// for the journal. It reports whether a row was inserted.
func (r Repo) InsertWorkflowElement(ctx context.Context, tx *sql.Tx, el domain.WorkflowElement) (bool, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO workflow_elements(`+elementColumns+`) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(journal_id, element_name) DO NOTHING`,
		el.ID, el.JournalID, el.ElementName, el.Stage, el.HandshakeURL, el.JumpURL, el.Order)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// ListWorkflowElements returns a journal's workflow ordered by (order, name).
func (r Repo) ListWorkflowElements(ctx context.Context, tx *sql.Tx, journalID string) ([]domain.WorkflowElement, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT `+elementColumns+` FROM workflow_elements WHERE journal_id=? ORDER BY ord ASC, element_name ASC`, journalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.WorkflowElement
	for rows.Next() {
		el, err := scanElement(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, el)
	}
	return res, rows.Err()
}

func (r Repo) GetWorkflowElement(ctx context.Context, journalID, name string) (domain.WorkflowElement, error) {
	return scanElement(r.DB.QueryRowContext(ctx, `SELECT `+elementColumns+` FROM workflow_elements WHERE journal_id=? AND element_name=?`, journalID, name))
}

func (r Repo) UpdateWorkflowElementOrder(ctx context.Context, tx *sql.Tx, journalID, name string, order int) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE workflow_elements SET ord=? WHERE journal_id=? AND element_name=?`, order, journalID, name)
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

func (r Repo) DeleteWorkflowElement(ctx context.Context, tx *sql.Tx, journalID, name string) error {
	res, err := r.q(tx).ExecContext(ctx, `DELETE FROM workflow_elements WHERE journal_id=? AND element_name=?`, journalID, name)
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
