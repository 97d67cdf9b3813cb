package engine

import (
	"context"
	"errors"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/stage"
	"journalflow/internal/workflow"
)

type CompleteElementRequest struct {
	ArticleID string
	// Element names the finished element; when empty the handshake URL,
	// then the article's current element, identify it.
	Element      string
	HandshakeURL string
	ActorID      string
	// SwitchStage moves the article into the next element's stage.
	SwitchStage bool
}

type ElementResult struct {
	Step     workflow.Step  `json:"step"`
	Article  domain.Article `json:"article"`
	// Degraded is set when the workflow is misconfigured and Step falls back
	// to the dashboard.
	Degraded bool           `json:"degraded,omitempty"`
	Report   events.Report  `json:"-"`
}

// CompleteElement reports that an article finished a workflow element and
// returns where it goes next. A misconfigured workflow is logged and yields
// a degraded result pointing at the dashboard; the completion is still
// recorded.
func (e Engine) CompleteElement(ctx context.Context, req CompleteElementRequest) (ElementResult, error) {
	if err := requireActor(req.ActorID); err != nil {
		return ElementResult{}, err
	}
	a, err := e.loadArticle(ctx, nil, req.ArticleID)
	if err != nil {
		return ElementResult{}, err
	}
	element := req.Element
	if element == "" && req.HandshakeURL == "" {
		name, ok := e.Elements.ElementForStage(stage.Stage(a.Stage))
		if !ok {
			return ElementResult{}, conflict("complete element", "stage %q is not part of a workflow element", a.Stage)
		}
		element = name
	}
	step, err := e.Router.Advance(ctx, a.JournalID, a.ID, element, req.HandshakeURL)
	degraded := errors.Is(err, workflow.ErrMisconfigured)
	if err != nil && !degraded {
		return ElementResult{}, err
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ElementResult{}, err
	}
	defer tx.Rollback()
	ev := events.WorkflowElementComplete{
		Meta:         e.meta(a, req.ActorID),
		Element:      element,
		HandshakeURL: req.HandshakeURL,
		SwitchStage:  req.SwitchStage,
	}
	if err := e.audit().AppendEvent(ctx, tx, "article", a.ID, ev); err != nil {
		return ElementResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ElementResult{}, err
	}
	rep := e.raise(ctx, ev)
	if req.SwitchStage {
		if a, err = e.loadArticle(ctx, nil, a.ID); err != nil {
			return ElementResult{}, err
		}
	}
	return ElementResult{Step: step, Article: a, Degraded: degraded, Report: rep}, nil
}

// ReentryURL is where a user returning to the article should be sent.
func (e Engine) ReentryURL(ctx context.Context, articleID string) (string, error) {
	a, err := e.loadArticle(ctx, nil, articleID)
	if err != nil {
		return "", err
	}
	return e.Router.ReentryURL(ctx, a)
}

// ArticleElements returns the article's current and next workflow elements.
func (e Engine) ArticleElements(ctx context.Context, articleID string) (current, next *domain.WorkflowElement, err error) {
	a, err := e.loadArticle(ctx, nil, articleID)
	if err != nil {
		return nil, nil, err
	}
	if current, err = e.Router.CurrentElement(ctx, a); err != nil {
		return nil, nil, err
	}
	if next, err = e.Router.NextElement(ctx, a); err != nil {
		return current, nil, err
	}
	return current, next, nil
}

// Subscribe registers the engine's own reactions to its events.
func (e Engine) Subscribe(b *events.Builder) {
	events.Subscribe(b, "workflow.advance", e.advanceOnComplete)
	events.Subscribe(b, "rounds.open-on-stage", e.openRoundOnStage)
}

// advanceOnComplete moves the article into the next element's stage when
// the completion asked for it.
func (e Engine) advanceOnComplete(ctx context.Context, ev events.WorkflowElementComplete) error {
	if !ev.SwitchStage {
		return nil
	}
	step, err := e.Router.Advance(ctx, ev.JournalID(), ev.ArticleID(), ev.Element, ev.HandshakeURL)
	if errors.Is(err, workflow.ErrMisconfigured) {
		// Already logged by the router; the article stays where it is.
		return nil
	}
	if err != nil || step.Next == nil {
		return err
	}
	res, err := e.run(ctx, ev.ArticleID(), move{
		op:          "advance",
		to:          stage.Stage(step.Next.Stage),
		actorID:     ev.ActorID(),
		viaWorkflow: true,
	})
	if err != nil {
		return err
	}
	return res.Report.Err()
}

// roundFamily maps a stage to the round family opened on entering it.
func roundFamily(from, to stage.Stage) (domain.Family, bool) {
	switch to {
	case stage.UnderReview:
		// Returning from revisions continues the current round.
		return domain.FamilyReview, from != stage.UnderRevision
	case stage.EditorCopyediting:
		return domain.FamilyCopyediting, from != stage.AuthorCopyediting && from != stage.FinalCopyediting
	case stage.Typesetting, stage.TypesettingPlugin:
		return domain.FamilyTypesetting, from != stage.Proofing
	case stage.Proofing:
		return domain.FamilyProofing, true
	}
	return "", false
}

// openRoundOnStage makes sure round 1 exists when an article enters a stage
// that works in rounds.
func (e Engine) openRoundOnStage(ctx context.Context, ev events.StageChanged) error {
	family, ok := roundFamily(ev.From, ev.To)
	if !ok {
		return nil
	}
	res, err := e.OpenRound(ctx, OpenRoundRequest{ArticleID: ev.ArticleID(), Family: family, ActorID: ev.ActorID()})
	var ce *ConflictError
	if errors.As(err, &ce) {
		// The article moved on before the handler ran.
		e.logger().Warn("round not opened", "article", ev.ArticleID(), "family", family, "reason", ce.Reason)
		return nil
	}
	if err != nil {
		return err
	}
	return res.Report.Err()
}
