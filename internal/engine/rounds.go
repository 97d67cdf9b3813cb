package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

// maxRoundAttempts bounds retries after losing a round-number race to
// another writer of the same database.
const maxRoundAttempts = 3

type OpenRoundRequest struct {
	ArticleID string
	Family    domain.Family
	ActorID   string
	// After is the latest round number the caller observed, 0 for none.
	// When another round was opened since, that round is returned instead
	// of creating a new one.
	After int
}

type RoundResult struct {
	Round     domain.Round  `json:"round"`
	Created   bool          `json:"created"`
	Withdrawn []domain.Task `json:"withdrawn,omitempty"`
	Report    events.Report `json:"-"`
}

// OpenRound creates round After+1 for the article and family. Non-terminal
// tasks of the superseded round are withdrawn and that round is closed.
func (e Engine) OpenRound(ctx context.Context, req OpenRoundRequest) (RoundResult, error) {
	if err := requireActor(req.ActorID); err != nil {
		return RoundResult{}, err
	}
	if !req.Family.Valid() {
		return RoundResult{}, invalid("family", "unknown family %q", req.Family)
	}
	if req.After < 0 {
		return RoundResult{}, invalid("after", "must not be negative")
	}
	res, pending, err := e.openRoundLocked(ctx, req)
	if err != nil {
		return RoundResult{}, err
	}
	res.Report = e.raise(ctx, pending...)
	return res, nil
}

// openRoundLocked serialises creators of the same article and family. The
// lock is released before events are raised.
func (e Engine) openRoundLocked(ctx context.Context, req OpenRoundRequest) (RoundResult, []events.Event, error) {
	unlock := e.rt.locks.Lock(req.ArticleID + "|" + string(req.Family))
	defer unlock()

	var lastErr error
	for attempt := 0; attempt < maxRoundAttempts; attempt++ {
		res, pending, err := e.openRound(ctx, req)
		if err == nil {
			return res, pending, nil
		}
		if !repo.IsUniqueViolation(err) {
			return RoundResult{}, nil, err
		}
		lastErr = err
		e.logger().Debug("round number taken, retrying", "article", req.ArticleID, "family", req.Family, "attempt", attempt+1)
	}
	return RoundResult{}, nil, conflict("open round", "round number for article %s kept changing: %v", req.ArticleID, lastErr)
}

func (e Engine) openRound(ctx context.Context, req OpenRoundRequest) (RoundResult, []events.Event, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return RoundResult{}, nil, err
	}
	defer tx.Rollback()

	a, err := e.loadArticle(ctx, tx, req.ArticleID)
	if err != nil {
		return RoundResult{}, nil, err
	}
	if e.Stages.IsTerminal(stage.Stage(a.Stage)) {
		return RoundResult{}, nil, conflict("open round", "article %s is %s", a.ID, a.Stage)
	}
	latest, err := e.Repo.LatestRound(ctx, tx, a.ID, req.Family)
	if err != nil {
		return RoundResult{}, nil, err
	}
	latestNum := 0
	if latest != nil {
		latestNum = latest.RoundNumber
	}
	if latestNum != req.After {
		if latest == nil {
			return RoundResult{}, nil, conflict("open round", "article %s has no %s round %d", a.ID, req.Family, req.After)
		}
		return RoundResult{Round: *latest}, nil, nil
	}

	var pending []events.Event
	var withdrawn []domain.Task
	if latest != nil {
		evs, err := e.withdrawOpenTasks(ctx, tx, a, *latest, req.ActorID, events.ReasonNewRound)
		if err != nil {
			return RoundResult{}, nil, err
		}
		for _, ev := range evs {
			withdrawn = append(withdrawn, ev.(events.TaskWithdrawn).Task)
		}
		pending = append(pending, evs...)
		closedEv, err := e.closeRound(ctx, tx, a, *latest, req.ActorID)
		if err != nil {
			return RoundResult{}, nil, err
		}
		if closedEv != nil {
			pending = append(pending, closedEv)
		}
	}

	now := e.stamp()
	rd := domain.Round{
		ID:          uuid.NewString(),
		ArticleID:   a.ID,
		Family:      req.Family,
		RoundNumber: latestNum + 1,
		OpenedBy:    req.ActorID,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertRound(ctx, tx, rd); err != nil {
		return RoundResult{}, nil, err
	}
	if req.Family == domain.FamilyReview {
		n := rd.RoundNumber
		if err := e.Repo.SetCurrentReviewRound(ctx, tx, a.ID, &n, now); err != nil {
			return RoundResult{}, nil, err
		}
	}
	opened := events.RoundOpened{Meta: e.meta(a, req.ActorID), Round: rd}
	if err := e.audit().AppendEvent(ctx, tx, "round", rd.ID, opened); err != nil {
		return RoundResult{}, nil, err
	}
	pending = append(pending, opened)
	if err := tx.Commit(); err != nil {
		return RoundResult{}, nil, err
	}
	e.logger().Info("round opened", "article", a.ID, "family", rd.Family, "round", rd.RoundNumber, "withdrawn", len(withdrawn))
	return RoundResult{Round: rd, Created: true, Withdrawn: withdrawn}, pending, nil
}

func (e Engine) GetRound(ctx context.Context, id string) (domain.Round, error) {
	rd, err := e.Repo.GetRound(ctx, nil, id)
	if err != nil {
		return rd, notFound("round", id, err)
	}
	return rd, nil
}

// ListRounds lists the article's rounds; an empty family lists all.
func (e Engine) ListRounds(ctx context.Context, articleID string, family domain.Family) ([]domain.Round, error) {
	if family != "" && !family.Valid() {
		return nil, invalid("family", "unknown family %q", family)
	}
	if _, err := e.loadArticle(ctx, nil, articleID); err != nil {
		return nil, err
	}
	return e.Repo.ListRounds(ctx, nil, articleID, family)
}

type DeleteRoundRequest struct {
	RoundID string
	ActorID string
	// Confirm allows deleting a round that already holds tasks.
	Confirm bool
}

// DeleteRound removes an empty round, or the latest round of its family
// when confirmed. Earlier rounds holding tasks are kept.
func (e Engine) DeleteRound(ctx context.Context, req DeleteRoundRequest) error {
	if err := requireActor(req.ActorID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rd, err := e.Repo.GetRound(ctx, tx, req.RoundID)
	if err != nil {
		return notFound("round", req.RoundID, err)
	}
	a, err := e.loadArticle(ctx, tx, rd.ArticleID)
	if err != nil {
		return err
	}
	count, err := e.Repo.CountTasks(ctx, tx, rd.ID)
	if err != nil {
		return err
	}
	latest, err := e.Repo.LatestRound(ctx, tx, rd.ArticleID, rd.Family)
	if err != nil {
		return err
	}
	isLatest := latest != nil && latest.ID == rd.ID
	if count > 0 {
		if !req.Confirm {
			return conflict("delete round", "round %d holds %d tasks; confirmation required", rd.RoundNumber, count)
		}
		if !isLatest {
			return conflict("delete round", "round %d is not the current %s round", rd.RoundNumber, rd.Family)
		}
	}
	if err := e.Repo.DeleteRound(ctx, tx, rd.ID); err != nil {
		return err
	}
	if rd.Family == domain.FamilyReview && isLatest {
		prev, err := e.Repo.LatestRound(ctx, tx, rd.ArticleID, rd.Family)
		if err != nil {
			return err
		}
		var n *int
		if prev != nil {
			n = &prev.RoundNumber
		}
		if err := e.Repo.SetCurrentReviewRound(ctx, tx, rd.ArticleID, n, e.stamp()); err != nil {
			return fmt.Errorf("reset current review round: %w", err)
		}
	}
	if err := e.audit().Append(ctx, tx, "round.deleted", a.JournalID, "round", rd.ID, req.ActorID, events.EventPayload{
		"article_id":   rd.ArticleID,
		"family":       rd.Family,
		"round_number": rd.RoundNumber,
		"tasks":        count,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	e.logger().Info("round deleted", "article", rd.ArticleID, "family", rd.Family, "round", rd.RoundNumber, "tasks", count)
	return nil
}
