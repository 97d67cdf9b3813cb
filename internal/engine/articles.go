package engine

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

// SubmissionComplete is the wizard step recorded once an article is submitted.
const SubmissionComplete = 5

type CreateArticleRequest struct {
	JournalID string
	Title     string
	ActorID   string
}

func (e Engine) CreateArticle(ctx context.Context, req CreateArticleRequest) (domain.Article, error) {
	if err := requireActor(req.ActorID); err != nil {
		return domain.Article{}, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return domain.Article{}, invalid("title", "is required")
	}
	journalID := req.JournalID
	if journalID == "" && e.Config != nil {
		journalID = e.Config.Journal.ID
	}
	if _, err := e.Repo.GetJournal(ctx, journalID); err != nil {
		return domain.Article{}, notFound("journal", journalID, err)
	}
	now := e.stamp()
	a := domain.Article{
		ID:          uuid.NewString(),
		JournalID:   journalID,
		Title:       req.Title,
		Stage:       string(stage.Unsubmitted),
		CurrentStep: 1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Article{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertArticle(ctx, tx, a); err != nil {
		return domain.Article{}, err
	}
	if err := e.audit().Append(ctx, tx, "article.created", a.JournalID, "article", a.ID, req.ActorID, events.EventPayload{"title": a.Title}); err != nil {
		return domain.Article{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Article{}, err
	}
	return a, nil
}

func (e Engine) GetArticle(ctx context.Context, id string) (domain.Article, error) {
	return e.loadArticle(ctx, nil, id)
}

func (e Engine) ListArticles(ctx context.Context, f repo.ArticleFilters) ([]domain.Article, error) {
	for _, s := range f.Stages {
		if err := e.Stages.Check(stage.Stage(s)); err != nil {
			return nil, invalid("stage", "%v", err)
		}
	}
	return e.Repo.ListArticles(ctx, f)
}

// TransitionLog returns the article's stage log, oldest first.
func (e Engine) TransitionLog(ctx context.Context, articleID string) ([]domain.StageTransition, error) {
	if _, err := e.loadArticle(ctx, nil, articleID); err != nil {
		return nil, err
	}
	return e.Repo.ListStageTransitions(ctx, articleID)
}

// SetSubmissionStep records the submission wizard step of an unsubmitted
// article.
func (e Engine) SetSubmissionStep(ctx context.Context, articleID string, step int, actorID string) (domain.Article, error) {
	if err := requireActor(actorID); err != nil {
		return domain.Article{}, err
	}
	if step < 1 || step > SubmissionComplete {
		return domain.Article{}, invalid("step", "must be between 1 and %d", SubmissionComplete)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Article{}, err
	}
	defer tx.Rollback()
	a, err := e.loadArticle(ctx, tx, articleID)
	if err != nil {
		return domain.Article{}, err
	}
	if stage.Stage(a.Stage) != stage.Unsubmitted {
		return domain.Article{}, conflict("submission step", "article %s is already submitted", a.ID)
	}
	now := e.stamp()
	if err := e.Repo.SetCurrentStep(ctx, tx, a.ID, step, now); err != nil {
		return domain.Article{}, err
	}
	if err := e.audit().Append(ctx, tx, "article.step", a.JournalID, "article", a.ID, actorID, events.EventPayload{"step": step}); err != nil {
		return domain.Article{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Article{}, err
	}
	a.CurrentStep = step
	a.UpdatedAt = now
	return a, nil
}

// Submit hands a finished submission to the first element of the journal's
// workflow.
func (e Engine) Submit(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	to, err := e.submissionStage(ctx, articleID)
	if err != nil {
		return TransitionResult{}, err
	}
	return e.run(ctx, articleID, move{
		op:          "submit",
		to:          to,
		from:        []stage.Stage{stage.Unsubmitted},
		actorID:     actorID,
		viaWorkflow: true,
		apply: func(ctx context.Context, tx *sql.Tx, a *domain.Article) error {
			a.CurrentStep = SubmissionComplete
			return e.Repo.SetCurrentStep(ctx, tx, a.ID, SubmissionComplete, a.UpdatedAt)
		},
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticleSubmitted{Meta: e.meta(a, actorID)}}
		},
	})
}

// submissionStage is the stage of the first workflow element. A journal
// without elements receives submissions in Unassigned.
func (e Engine) submissionStage(ctx context.Context, articleID string) (stage.Stage, error) {
	a, err := e.loadArticle(ctx, nil, articleID)
	if err != nil {
		return "", err
	}
	els, err := e.Repo.ListWorkflowElements(ctx, nil, a.JournalID)
	if err != nil {
		return "", err
	}
	if len(els) == 0 {
		e.logger().Warn("journal has no workflow elements", "journal", a.JournalID, "article", a.ID)
		return stage.Unassigned, nil
	}
	return stage.Stage(els[0].Stage), nil
}

type AssignEditorRequest struct {
	ArticleID string
	EditorID  string
	ActorID   string
}

func (e Engine) AssignEditor(ctx context.Context, req AssignEditorRequest) (TransitionResult, error) {
	if req.EditorID == "" {
		return TransitionResult{}, invalid("editor_id", "is required")
	}
	return e.run(ctx, req.ArticleID, move{
		op:      "assign editor",
		to:      stage.Assigned,
		from:    []stage.Stage{stage.Unassigned},
		actorID: req.ActorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticleAssigned{Meta: e.meta(a, req.ActorID), EditorID: req.EditorID}}
		},
	})
}

// reviewStages are the stages an editorial decision can be taken from.
var reviewStages = []stage.Stage{stage.Unassigned, stage.Assigned, stage.UnderReview, stage.UnderRevision}

// Accept records a positive editorial decision.
func (e Engine) Accept(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{
		op:      "accept",
		to:      stage.Accepted,
		from:    reviewStages,
		actorID: actorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticleAccepted{Meta: e.meta(a, actorID), Stage: stage.Accepted}}
		},
	})
}

// Decline rejects the article. Open rounds and tasks are closed out.
func (e Engine) Decline(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{
		op:      "decline",
		to:      stage.Rejected,
		actorID: actorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticleDeclined{Meta: e.meta(a, actorID)}}
		},
	})
}

// Undecline returns a rejected article to the unassigned queue.
func (e Engine) Undecline(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{
		op:      "undecline",
		to:      stage.Unassigned,
		from:    []stage.Stage{stage.Rejected},
		actorID: actorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticleUndeclined{Meta: e.meta(a, actorID)}}
		},
	})
}

type RevisionRequest struct {
	ArticleID string
	ActorID   string
	DueDate   string
	Note      string
}

func (e Engine) RequestRevisions(ctx context.Context, req RevisionRequest) (TransitionResult, error) {
	return e.run(ctx, req.ArticleID, move{
		op:      "request revisions",
		to:      stage.UnderRevision,
		from:    []stage.Stage{stage.UnderReview},
		actorID: req.ActorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.RevisionsRequested{Meta: e.meta(a, req.ActorID), DueDate: req.DueDate, Note: req.Note}}
		},
	})
}

func (e Engine) CompleteRevisions(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{
		op:      "complete revisions",
		to:      stage.UnderReview,
		from:    []stage.Stage{stage.UnderRevision},
		actorID: actorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.RevisionsComplete{Meta: e.meta(a, actorID)}}
		},
	})
}

// Publish moves a pre-publication article to Published. External
// registration happens in subscribers of ArticlePublished.
func (e Engine) Publish(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{
		op:      "publish",
		to:      stage.Published,
		from:    []stage.Stage{stage.PrePublication},
		actorID: actorID,
		after: func(a domain.Article) []events.Event {
			return []events.Event{events.ArticlePublished{Meta: e.meta(a, actorID)}}
		},
	})
}

func (e Engine) Archive(ctx context.Context, articleID, actorID string) (TransitionResult, error) {
	return e.run(ctx, articleID, move{op: "archive", to: stage.Archived, actorID: actorID})
}
