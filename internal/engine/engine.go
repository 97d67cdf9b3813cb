package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"journalflow/internal/config"
	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
	"journalflow/internal/workflow"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Stages   *stage.Registry
	Elements *workflow.Registry
	Router   workflow.Router
	Logger   *slog.Logger
	Now      func() time.Time

	rt *runtime
}

// runtime is shared by every copy of an Engine.
type runtime struct {
	bus   *events.Bus
	locks keyedLocks
}

// New builds an engine for cfg. Plugin stages and elements declared in cfg
// are registered before the registries are frozen.
func New(db *sql.DB, cfg *config.Config) (Engine, error) {
	if cfg == nil {
		return Engine{}, errors.New("config not loaded")
	}
	stages, elements, err := workflow.Registries(cfg)
	if err != nil {
		return Engine{}, fmt.Errorf("build registries: %w", err)
	}
	r := repo.Repo{DB: db}
	return Engine{
		DB:       db,
		Repo:     r,
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Stages:   stages,
		Elements: elements,
		Router:   workflow.Router{Repo: r, Elements: elements, Stages: stages},
		Now:      time.Now,
		rt:       &runtime{},
	}, nil
}

// WithLogger returns a copy of e logging to l.
func (e Engine) WithLogger(l *slog.Logger) Engine {
	e.Logger = l
	e.Router.Logger = l
	return e
}

// Attach installs the bus events are raised on after commit.
func (e Engine) Attach(bus *events.Bus) {
	e.rt.bus = bus
}

// Bus returns the attached bus, which may be nil.
func (e Engine) Bus() *events.Bus {
	if e.rt == nil {
		return nil
	}
	return e.rt.bus
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// audit is the event writer stamped with the engine's clock.
func (e Engine) audit() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) meta(a domain.Article, actorID string) events.Meta {
	return events.Meta{Article: a.ID, Journal: a.JournalID, Actor: actorID, At: e.now().UTC()}
}

// raise dispatches events in order and merges the reports.
func (e Engine) raise(ctx context.Context, evs ...events.Event) events.Report {
	var rep events.Report
	bus := e.Bus()
	for _, ev := range evs {
		rep.Merge(bus.Raise(ctx, ev))
	}
	if err := rep.Err(); err != nil {
		e.logger().Warn("event handlers failed after commit", "error", err)
	}
	return rep
}

func (e Engine) loadArticle(ctx context.Context, tx *sql.Tx, id string) (domain.Article, error) {
	a, err := e.Repo.GetArticle(ctx, tx, id)
	if err != nil {
		return a, notFound("article", id, err)
	}
	return a, nil
}

func requireActor(actorID string) error {
	if actorID == "" {
		return invalid("actor_id", "is required")
	}
	return nil
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
