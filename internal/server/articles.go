package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"journalflow/internal/domain"
	"journalflow/internal/engine"
	"journalflow/internal/identifiers"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
	"journalflow/internal/workflow"
)

type articlePath struct {
	ID string `path:"id"`
}

func (h handlers) registerArticles(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-article",
		Method:        http.MethodPost,
		Path:          "/articles",
		Summary:       "Create article",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateArticleRequest `json:"body"`
	}) (*struct {
		Body domain.Article `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := h.e.CreateArticle(ctx, engine.CreateArticleRequest{JournalID: h.journal, Title: input.Body.Title, ActorID: actorID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Article `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-articles",
		Method:      http.MethodGet,
		Path:        "/articles",
		Summary:     "List articles",
		Errors:      []int{http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Stage []string `query:"stage"`
		Limit int      `query:"limit" default:"50"`
	}) (*struct {
		Body listArticles `json:"body"`
	}, error) {
		items, err := h.e.ListArticles(ctx, repo.ArticleFilters{JournalID: h.journal, Stages: input.Stage, Limit: normalizeLimit(input.Limit)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listArticles `json:"body"`
		}{Body: listArticles{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-article",
		Method:      http.MethodGet,
		Path:        "/articles/{id}",
		Summary:     "Get article",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *articlePath) (*struct {
		Body domain.Article `json:"body"`
	}, error) {
		a, err := h.article(ctx, input.ID)
		if err != nil {
			return nil, err
		}
		return &struct {
			Body domain.Article `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-submission-step",
		Method:      http.MethodPut,
		Path:        "/articles/{id}/step",
		Summary:     "Record submission wizard progress",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body SetStepRequest `json:"body"`
	}) (*struct {
		Body domain.Article `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		a, err := h.e.SetSubmissionStep(ctx, input.ID, input.Body.Step, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Article `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "article-log",
		Method:      http.MethodGet,
		Path:        "/articles/{id}/log",
		Summary:     "Stage transition log",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *articlePath) (*struct {
		Body listTransitions `json:"body"`
	}, error) {
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		items, err := h.e.TransitionLog(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body listTransitions `json:"body"`
		}{Body: listTransitions{Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "article-doi",
		Method:      http.MethodGet,
		Path:        "/articles/{id}/identifiers/doi",
		Summary:     "DOI registration status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *articlePath) (*struct {
		Body repo.Identifier `json:"body"`
	}, error) {
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		id, err := h.e.Repo.GetIdentifier(ctx, input.ID, identifiers.KindDOI)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body repo.Identifier `json:"body"`
		}{Body: id}, nil
	})
}

// article loads an article of this journal; others read as missing.
func (h handlers) article(ctx context.Context, id string) (domain.Article, error) {
	a, err := h.e.GetArticle(ctx, id)
	if err != nil {
		return a, handleError(err)
	}
	if a.JournalID != h.journal {
		return a, newAPIError(http.StatusNotFound, "not_found", "article not found in journal", nil)
	}
	return a, nil
}

// action is one named editorial operation exposed as POST /articles/{id}/<name>.
type action struct {
	name    string
	summary string
	run     func(ctx context.Context, e engine.Engine, articleID, actorID string, body actionBody) (engine.TransitionResult, error)
}

// actionBody is the union of the action payloads; each action reads its
// own fields.
type actionBody struct {
	To       string `json:"to,omitempty"`
	EditorID string `json:"editor_id,omitempty"`
	DueDate  string `json:"due_date,omitempty"`
	Note     string `json:"note,omitempty"`
}

var actions = []action{
	{"transition", "Move along the transition table", func(ctx context.Context, e engine.Engine, id, actor string, b actionBody) (engine.TransitionResult, error) {
		return e.Transition(ctx, engine.TransitionRequest{ArticleID: id, To: stage.Stage(b.To), ActorID: actor})
	}},
	{"override", "Set any registered stage", func(ctx context.Context, e engine.Engine, id, actor string, b actionBody) (engine.TransitionResult, error) {
		return e.Override(ctx, engine.TransitionRequest{ArticleID: id, To: stage.Stage(b.To), ActorID: actor})
	}},
	{"submit", "Submit the article", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Submit(ctx, id, actor)
	}},
	{"assign", "Assign an editor", func(ctx context.Context, e engine.Engine, id, actor string, b actionBody) (engine.TransitionResult, error) {
		return e.AssignEditor(ctx, engine.AssignEditorRequest{ArticleID: id, EditorID: b.EditorID, ActorID: actor})
	}},
	{"accept", "Accept for copyediting", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Accept(ctx, id, actor)
	}},
	{"decline", "Decline the article", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Decline(ctx, id, actor)
	}},
	{"undecline", "Reopen a declined article", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Undecline(ctx, id, actor)
	}},
	{"request-revisions", "Request revisions from the author", func(ctx context.Context, e engine.Engine, id, actor string, b actionBody) (engine.TransitionResult, error) {
		return e.RequestRevisions(ctx, engine.RevisionRequest{ArticleID: id, ActorID: actor, DueDate: b.DueDate, Note: b.Note})
	}},
	{"complete-revisions", "Return revised article to review", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.CompleteRevisions(ctx, id, actor)
	}},
	{"publish", "Publish the article", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Publish(ctx, id, actor)
	}},
	{"archive", "Archive the article", func(ctx context.Context, e engine.Engine, id, actor string, _ actionBody) (engine.TransitionResult, error) {
		return e.Archive(ctx, id, actor)
	}},
}

func (h handlers) registerTransitions(api huma.API) {
	for _, act := range actions {
		huma.Register(api, huma.Operation{
			OperationID: "article-" + act.name,
			Method:      http.MethodPost,
			Path:        "/articles/{id}/" + act.name,
			Summary:     act.summary,
			Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
		}, func(ctx context.Context, input *struct {
			ID   string      `path:"id"`
			Body *actionBody `json:"body,omitempty" required:"false"`
		}) (*struct {
			Body TransitionResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			if _, err := h.article(ctx, input.ID); err != nil {
				return nil, err
			}
			var body actionBody
			if input.Body != nil {
				body = *input.Body
			}
			res, err := act.run(ctx, h.e, input.ID, actorID, body)
			if err != nil {
				return nil, handleError(err)
			}
			h.logReport(act.name, res.Report)
			return &struct {
				Body TransitionResponse `json:"body"`
			}{Body: TransitionResponse{
				Article:       res.Article,
				Changed:       res.Changed,
				Entry:         res.Entry,
				HandlerErrors: handlerErrors(res.Report),
			}}, nil
		})
	}
}

func (h handlers) registerElements(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-element",
		Method:      http.MethodPost,
		Path:        "/articles/{id}/elements/complete",
		Summary:     "Complete the current workflow element",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		ID   string                  `path:"id"`
		Body *CompleteElementRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body ElementResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		req := engine.CompleteElementRequest{ArticleID: input.ID, ActorID: actorID}
		if b := input.Body; b != nil {
			req.Element, req.HandshakeURL, req.SwitchStage = b.Element, b.HandshakeURL, b.SwitchStage
		}
		res, err := h.e.CompleteElement(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		h.logReport("complete-element", res.Report)
		return &struct {
			Body ElementResponse `json:"body"`
		}{Body: ElementResponse{Step: res.Step, Article: res.Article, Degraded: res.Degraded, HandlerErrors: handlerErrors(res.Report)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "article-elements",
		Method:      http.MethodGet,
		Path:        "/articles/{id}/elements",
		Summary:     "Current and next workflow element",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *articlePath) (*struct {
		Body ArticleElementsResponse `json:"body"`
	}, error) {
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		cur, next, err := h.e.ArticleElements(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ArticleElementsResponse `json:"body"`
		}{Body: ArticleElementsResponse{Current: cur, Next: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "article-reentry",
		Method:      http.MethodGet,
		Path:        "/articles/{id}/reentry",
		Summary:     "Where a returning user resumes work",
		Errors:      []int{http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *articlePath) (*struct {
		Body ReentryResponse `json:"body"`
	}, error) {
		if _, err := h.article(ctx, input.ID); err != nil {
			return nil, err
		}
		url, err := h.e.ReentryURL(ctx, input.ID)
		degraded := errors.Is(err, workflow.ErrMisconfigured)
		if err != nil && !degraded {
			return nil, handleError(err)
		}
		if degraded {
			h.logger.Warn("reentry degraded", "article", input.ID, "error", err)
		}
		return &struct {
			Body ReentryResponse `json:"body"`
		}{Body: ReentryResponse{URL: url, Degraded: degraded}}, nil
	})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
