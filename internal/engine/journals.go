package engine

import (
	"context"
	"fmt"
	"strings"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/workflow"
)

// InitJournal creates the journal, stores the engine's config for it and
// provisions the configured workflow elements.
func (e Engine) InitJournal(ctx context.Context, journalID, name, actorID string) (domain.Journal, error) {
	if err := requireActor(actorID); err != nil {
		return domain.Journal{}, err
	}
	if strings.TrimSpace(journalID) == "" {
		return domain.Journal{}, invalid("journal_id", "is required")
	}
	if e.Config == nil || e.Config.Journal.ID != journalID {
		return domain.Journal{}, invalid("journal_id", "engine is configured for another journal")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Journal{}, err
	}
	defer tx.Rollback()

	if name == "" {
		name = e.Config.Journal.Name
	}
	j := domain.Journal{ID: journalID, Name: name, CreatedAt: e.stamp()}
	if err := e.Repo.InsertJournal(ctx, tx, j); err != nil {
		return domain.Journal{}, fmt.Errorf("insert journal: %w", err)
	}
	if err := e.Repo.UpsertJournalConfig(ctx, tx, j.ID, e.Config); err != nil {
		return domain.Journal{}, fmt.Errorf("insert journal config: %w", err)
	}
	created, err := workflow.Provision(ctx, tx, e.Repo, e.Elements, e.Config)
	if err != nil {
		return domain.Journal{}, err
	}
	names := make([]string, 0, len(created))
	for _, el := range created {
		names = append(names, el.ElementName)
	}
	if err := e.audit().Append(ctx, tx, "journal.init", j.ID, "journal", j.ID, actorID, events.EventPayload{"name": j.Name, "elements": names}); err != nil {
		return domain.Journal{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Journal{}, err
	}
	e.logger().Info("journal initialised", "journal", j.ID, "elements", names)
	return j, nil
}

func (e Engine) WorkflowElements(ctx context.Context, journalID string) ([]domain.WorkflowElement, error) {
	return e.Repo.ListWorkflowElements(ctx, nil, journalID)
}

// AddWorkflowElement inserts a registered element into the journal's
// workflow at the given order.
func (e Engine) AddWorkflowElement(ctx context.Context, journalID, name string, order int, actorID string) (domain.WorkflowElement, error) {
	if err := requireActor(actorID); err != nil {
		return domain.WorkflowElement{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.WorkflowElement{}, err
	}
	defer tx.Rollback()
	el, err := workflow.AddElement(ctx, tx, e.Repo, e.Elements, journalID, name, order)
	if err != nil {
		return domain.WorkflowElement{}, err
	}
	if err := e.audit().Append(ctx, tx, "workflow.element_added", journalID, "workflow_element", el.ID, actorID, events.EventPayload{"element": el.ElementName, "order": el.Order}); err != nil {
		return domain.WorkflowElement{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.WorkflowElement{}, err
	}
	return el, nil
}

// ReorderWorkflow rewrites element order to follow names.
func (e Engine) ReorderWorkflow(ctx context.Context, journalID string, names []string, actorID string) ([]domain.WorkflowElement, error) {
	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := workflow.Reorder(ctx, tx, e.Repo, journalID, names); err != nil {
		return nil, err
	}
	if err := e.audit().Append(ctx, tx, "workflow.reordered", journalID, "journal", journalID, actorID, events.EventPayload{"elements": names}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListWorkflowElements(ctx, nil, journalID)
}

// Board groups the journal's articles by workflow element.
func (e Engine) Board(ctx context.Context, journalID string) ([]workflow.Column, error) {
	return e.Router.Board(ctx, journalID)
}
