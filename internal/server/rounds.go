package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"journalflow/internal/domain"
	"journalflow/internal/engine"
	"journalflow/internal/repo"
)

type idPath struct {
	ID string `path:"id"`
}

func (h handlers) registerRounds(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-round",
		Method:        http.MethodPost,
		Path:          "/articles/{id}/rounds",
		Summary:       "Open the next round of a family",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body OpenRoundRequest `json:"body"`
	}) (*struct {
		Body RoundResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		res, err := h.e.OpenRound(ctx, engine.OpenRoundRequest{
			ArticleID: input.ID,
			Family:    domain.Family(input.Body.Family),
			ActorID:   actorID,
			After:     input.Body.After,
		})
		if err != nil {
			return nil, handleError(err)
		}
		h.logReport("open-round", res.Report)
		return &struct {
			Body RoundResponse `json:"body"`
		}{Body: RoundResponse{
			Round:         res.Round,
			Created:       res.Created,
			Withdrawn:     res.Withdrawn,
			HandlerErrors: handlerErrors(res.Report),
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-rounds",
		Method:      http.MethodGet,
		Path:        "/articles/{id}/rounds",
		Summary:     "List rounds",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID     string `path:"id"`
		Family string `query:"family"`
	}) (*struct {
		Body listRounds `json:"body"`
	}, error) {
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		items, err := h.e.ListRounds(ctx, input.ID, domain.Family(input.Family))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listRounds `json:"body"`
		}{Body: listRounds{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-round",
		Method:      http.MethodGet,
		Path:        "/rounds/{id}",
		Summary:     "Get round",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Round `json:"body"`
	}, error) {
		rd, err := h.round(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body domain.Round `json:"body"`
		}{Body: rd}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-round",
		Method:        http.MethodDelete,
		Path:          "/rounds/{id}",
		Summary:       "Delete round",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		Confirm bool   `query:"confirm"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.round(ctx, input.ID); err != nil {
			return nil, err
		}
		if err := h.e.DeleteRound(ctx, engine.DeleteRoundRequest{RoundID: input.ID, ActorID: actorID, Confirm: input.Confirm}); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

// round loads a round whose article belongs to this journal.
func (h handlers) round(ctx context.Context, id string) (domain.Round, error) {
	rd, err := h.e.GetRound(ctx, id)
	if err != nil {
		return rd, handleError(err)
	}
	if _, err := h.article(ctx, rd.ArticleID); err != nil {
		return rd, err
	}
	return rd, nil
}

func (h handlers) task(ctx context.Context, id string) (domain.Task, error) {
	t, err := h.e.GetTask(ctx, id)
	if err != nil {
		return t, handleError(err)
	}
	if _, err := h.article(ctx, t.ArticleID); err != nil {
		return t, err
	}
	return t, nil
}

// taskAction is one POST /tasks/{id}/<name> lifecycle step.
type taskAction struct {
	name    string
	summary string
	run     func(e engine.Engine, ctx context.Context, taskID, actorID string) (engine.TaskResult, error)
}

var taskActions = []taskAction{
	{"accept", "Accept the request", engine.Engine.AcceptTask},
	{"decline", "Decline the request", engine.Engine.DeclineTask},
	{"withdraw", "Withdraw the request", engine.Engine.WithdrawTask},
	{"reset", "Reset the request", engine.Engine.ResetTask},
}

func (h handlers) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/rounds/{id}/tasks",
		Summary:       "Request work in a round",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		editorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.round(ctx, input.ID); err != nil {
			return nil, err
		}
		res, err := h.e.CreateTask(ctx, engine.CreateTaskRequest{
			RoundID:  input.ID,
			ActorID:  input.Body.ActorID,
			EditorID: editorID,
			DueDate:  input.Body.DueDate,
			Files:    input.Body.Files,
		})
		if err != nil {
			return nil, handleError(err)
		}
		h.logReport("create-task", res.Report)
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: res.Task, HandlerErrors: handlerErrors(res.Report)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		RoundID   string `query:"round_id"`
		ArticleID string `query:"article_id"`
		ActorID   string `query:"actor_id"`
		Family    string `query:"family"`
		Open      bool   `query:"open"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body listTasks `json:"body"`
	}, error) {
		if input.ArticleID != "" {
			if _, err := h.article(ctx, input.ArticleID); err != nil {
				return nil, err
			}
		}
		if input.RoundID != "" {
			if _, err := h.round(ctx, input.RoundID); err != nil {
				return nil, err
			}
		}
		items, err := h.e.ListTasks(ctx, repo.TaskFilters{
			RoundID:   input.RoundID,
			ArticleID: input.ArticleID,
			ActorID:   input.ActorID,
			Family:    domain.Family(input.Family),
			OpenOnly:  input.Open,
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listTasks `json:"body"`
		}{Body: listTasks{Items: h.inJournal(ctx, items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *idPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		t, err := h.task(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	for _, act := range taskActions {
		huma.Register(api, huma.Operation{
			OperationID: "task-" + act.name,
			Method:      http.MethodPost,
			Path:        "/tasks/{id}/" + act.name,
			Summary:     act.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *idPath) (*struct {
			Body TaskResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if _, err := h.task(ctx, input.ID); err != nil {
				return nil, err
			}
			res, err := act.run(h.e, ctx, input.ID, actorID)
			if err != nil {
				return nil, handleError(err)
			}
			h.logReport("task-"+act.name, res.Report)
			return &struct {
				Body TaskResponse `json:"body"`
			}{Body: TaskResponse{Task: res.Task, HandlerErrors: handlerErrors(res.Report)}}, nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "task-complete",
		Method:      http.MethodPost,
		Path:        "/tasks/{id}/complete",
		Summary:     "Complete the task or save progress",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body *CompleteTaskRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.task(ctx, input.ID); err != nil {
			return nil, err
		}
		req := engine.CompleteTaskRequest{TaskID: input.ID, ActorID: actorID}
		if b := input.Body; b != nil {
			req.Decision, req.Note, req.Files, req.Partial = b.Decision, b.Note, b.Files, b.Partial
		}
		res, err := h.e.CompleteTask(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		h.logReport("task-complete", res.Report)
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: TaskResponse{Task: res.Task, HandlerErrors: handlerErrors(res.Report)}}, nil
	})
}

// inJournal drops tasks of articles that belong to other journals.
func (h handlers) inJournal(ctx context.Context, items []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(items))
	seen := map[string]bool{}
	for _, t := range items {
		ok, known := seen[t.ArticleID]
		if !known {
			a, err := h.e.GetArticle(ctx, t.ArticleID)
			ok = err == nil && a.JournalID == h.journal
			seen[t.ArticleID] = ok
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}
