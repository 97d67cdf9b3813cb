package engine

import (
	"context"
	"database/sql"
	"fmt"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

type TransitionRequest struct {
	ArticleID string
	To        stage.Stage
	ActorID   string
}

type TransitionResult struct {
	Article domain.Article          `json:"article"`
	Changed bool                    `json:"changed"`
	Entry   *domain.StageTransition `json:"entry,omitempty"`
	Report  events.Report           `json:"-"`
}

// move describes one stage change.
type move struct {
	op string
	to stage.Stage
	// from restricts the stages the article may currently occupy.
	from     []stage.Stage
	actorID  string
	override bool
	// viaWorkflow marks moves into the next workflow element's stage.
	viaWorkflow bool
	// apply runs inside the transaction after the stage was written.
	apply func(ctx context.Context, tx *sql.Tx, a *domain.Article) error
	// after builds events raised after StageChanged.
	after func(a domain.Article) []events.Event
}

// applied is the in-transaction outcome of a move.
type applied struct {
	article domain.Article
	entry   *domain.StageTransition
	pending []events.Event
}

// Transition moves an article along the transition table.
func (e Engine) Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return e.run(ctx, req.ArticleID, move{op: "transition", to: req.To, actorID: req.ActorID})
}

// Override sets any registered stage regardless of the transition table.
// The log entry and audit row are flagged as overrides.
func (e Engine) Override(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	return e.run(ctx, req.ArticleID, move{op: "override", to: req.To, actorID: req.ActorID, override: true})
}

func (e Engine) run(ctx context.Context, articleID string, m move) (TransitionResult, error) {
	if err := requireActor(m.actorID); err != nil {
		return TransitionResult{}, err
	}
	if err := e.Stages.Check(m.to); err != nil {
		return TransitionResult{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return TransitionResult{}, err
	}
	defer tx.Rollback()

	a, err := e.loadArticle(ctx, tx, articleID)
	if err != nil {
		return TransitionResult{}, err
	}
	res, err := e.applyMove(ctx, tx, a, m)
	if err != nil {
		return TransitionResult{}, err
	}
	if res.entry == nil {
		return TransitionResult{Article: res.article}, nil
	}
	if err := tx.Commit(); err != nil {
		return TransitionResult{}, err
	}
	e.logger().Info("stage changed", "article", a.ID, "journal", a.JournalID, "from", res.entry.FromStage, "to", res.entry.ToStage, "override", m.override)
	return TransitionResult{
		Article: res.article,
		Changed: true,
		Entry:   res.entry,
		Report:  e.raise(ctx, res.pending...),
	}, nil
}

// applyMove validates and writes a stage change inside tx. A request for the
// current stage returns a nil entry and writes nothing.
func (e Engine) applyMove(ctx context.Context, tx *sql.Tx, a domain.Article, m move) (applied, error) {
	e.Stages.MustValid(stage.Stage(a.Stage))
	from := stage.Stage(a.Stage)
	if from == m.to {
		return applied{article: a}, nil
	}
	if len(m.from) > 0 && !contains(m.from, from) {
		return applied{}, conflict(m.op, "article %s is in stage %q", a.ID, from)
	}
	if !m.override && !m.viaWorkflow && !e.Stages.Allowed(from, m.to) {
		return applied{}, conflict(m.op, "%q -> %q is not a permitted transition", from, m.to)
	}
	now := e.stamp()
	ok, err := e.Repo.CompareAndSetStage(ctx, tx, a.ID, string(from), string(m.to), now)
	if err != nil {
		return applied{}, err
	}
	if !ok {
		return applied{}, conflict(m.op, "article %s changed stage concurrently", a.ID)
	}
	entry := domain.StageTransition{
		ArticleID: a.ID,
		FromStage: string(from),
		ToStage:   string(m.to),
		ActorID:   m.actorID,
		Override:  m.override,
		At:        now,
	}
	if entry.ID, err = e.Repo.InsertStageTransition(ctx, tx, entry); err != nil {
		return applied{}, fmt.Errorf("insert stage log: %w", err)
	}
	a.Stage = string(m.to)
	a.UpdatedAt = now
	if m.apply != nil {
		if err := m.apply(ctx, tx, &a); err != nil {
			return applied{}, err
		}
	}
	changed := events.StageChanged{Meta: e.meta(a, m.actorID), From: from, To: m.to, Override: m.override}
	if err := e.audit().AppendEvent(ctx, tx, "article", a.ID, changed); err != nil {
		return applied{}, err
	}
	pending := []events.Event{changed}
	if m.after != nil {
		for _, ev := range m.after(a) {
			if err := e.audit().AppendEvent(ctx, tx, "article", a.ID, ev); err != nil {
				return applied{}, err
			}
			pending = append(pending, ev)
		}
	}
	if e.Stages.IsTerminal(m.to) {
		closing, err := e.closeOut(ctx, tx, a, m.actorID)
		if err != nil {
			return applied{}, fmt.Errorf("close out %s: %w", a.ID, err)
		}
		pending = append(pending, closing...)
	}
	return applied{article: a, entry: &entry, pending: pending}, nil
}

// closeOut withdraws every open task and closes every open round of the
// article. It returns the events to raise once committed.
func (e Engine) closeOut(ctx context.Context, tx *sql.Tx, a domain.Article, actorID string) ([]events.Event, error) {
	rounds, err := e.Repo.OpenRounds(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}
	var out []events.Event
	for _, rd := range rounds {
		withdrawn, err := e.withdrawOpenTasks(ctx, tx, a, rd, actorID, events.ReasonTerminal)
		if err != nil {
			return nil, err
		}
		out = append(out, withdrawn...)
		closedEv, err := e.closeRound(ctx, tx, a, rd, actorID)
		if err != nil {
			return nil, err
		}
		if closedEv != nil {
			out = append(out, closedEv)
		}
	}
	return out, nil
}

// withdrawOpenTasks administratively withdraws the round's non-terminal
// tasks, one TaskWithdrawn per task.
func (e Engine) withdrawOpenTasks(ctx context.Context, tx *sql.Tx, a domain.Article, rd domain.Round, actorID, reason string) ([]events.Event, error) {
	open, err := e.Repo.ListTasks(ctx, tx, repo.TaskFilters{RoundID: rd.ID, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	var out []events.Event
	for _, t := range open {
		ok, err := e.Repo.MarkTaskWithdrawn(ctx, tx, t.ID, e.stamp())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		t, err = e.Repo.GetTask(ctx, tx, t.ID)
		if err != nil {
			return nil, err
		}
		ev := events.TaskWithdrawn{Meta: e.meta(a, actorID), Task: t, Reason: reason}
		if err := e.audit().AppendEvent(ctx, tx, "task", t.ID, ev); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func (e Engine) closeRound(ctx context.Context, tx *sql.Tx, a domain.Article, rd domain.Round, actorID string) (events.Event, error) {
	now := e.stamp()
	ok, err := e.Repo.CloseRound(ctx, tx, rd.ID, now)
	if err != nil || !ok {
		return nil, err
	}
	rd.ClosedAt = &now
	ev := events.RoundClosed{Meta: e.meta(a, actorID), Round: rd}
	if err := e.audit().AppendEvent(ctx, tx, "round", rd.ID, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func contains(list []stage.Stage, s stage.Stage) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
