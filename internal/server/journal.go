package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"journalflow/internal/domain"
	"journalflow/internal/repo"
)

func (h handlers) registerJournal(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workflow",
		Method:      http.MethodGet,
		Path:        "/workflow",
		Summary:     "Workflow elements in order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body listElements `json:"body"`
	}, error) {
		items, err := h.e.WorkflowElements(ctx, h.journal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listElements `json:"body"`
		}{Body: listElements{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-workflow-element",
		Method:        http.MethodPost,
		Path:          "/workflow/elements",
		Summary:       "Add a registered element to the workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body AddElementRequest `json:"body"`
	}) (*struct {
		Body domain.WorkflowElement `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		el, err := h.e.AddWorkflowElement(ctx, h.journal, input.Body.Name, input.Body.Order, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.WorkflowElement `json:"body"`
		}{Body: el}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reorder-workflow",
		Method:      http.MethodPut,
		Path:        "/workflow/order",
		Summary:     "Reorder workflow elements",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body ReorderRequest `json:"body"`
	}) (*struct {
		Body listElements `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := h.e.ReorderWorkflow(ctx, h.journal, input.Body.Elements, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listElements `json:"body"`
		}{Body: listElements{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "board",
		Method:      http.MethodGet,
		Path:        "/board",
		Summary:     "Articles grouped by workflow element",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body boardResponse `json:"body"`
	}, error) {
		cols, err := h.e.Board(ctx, h.journal)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body boardResponse `json:"body"`
		}{Body: boardResponse{Columns: nonNil(cols)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"journal,article,round,task,workflow_element"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var before int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			before = parsed
		}
		items, err := h.e.Repo.LatestEvents(ctx, repo.EventFilters{
			JournalID:  h.journal,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Before:     before,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []domain.Event{}}
		if len(items) > limit {
			// The cursor is exclusive, so it names the last row returned.
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
