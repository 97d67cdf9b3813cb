package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"journalflow/internal/db"
	"journalflow/internal/engine"
	"journalflow/internal/events"
	"journalflow/internal/identifiers"
	"journalflow/internal/metrics"
	"journalflow/internal/migrate"
	"journalflow/internal/notify"
	"journalflow/internal/relay"
	"journalflow/internal/repo"
)

type Options struct {
	Workspace string
	JournalID string
	// ActorID initialises a journal that does not exist yet.
	ActorID string
	// NATSURL enables the event relay when set.
	NATSURL string
	Logger  *slog.Logger
}

// Runtime is an engine with its bus and collaborators wired up.
type Runtime struct {
	DB       *sql.DB
	Engine   engine.Engine
	Bus      *events.Bus
	Metrics  *metrics.Metrics
	Webhooks *notify.Dispatcher
	Logger   *slog.Logger

	nc *nats.Conn
}

// Open opens the workspace database, resolves the journal and attaches
// every configured subscriber to a fresh bus.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	rt, err := build(ctx, conn, opts, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

func build(ctx context.Context, conn *sql.DB, opts Options, logger *slog.Logger) (*Runtime, error) {
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	res, err := ResolveJournalAndConfig(ctx, opts.Workspace, opts.JournalID, repo.Repo{DB: conn})
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(conn, res.Config)
	if err != nil {
		return nil, err
	}
	eng = eng.WithLogger(logger)

	rt := &Runtime{DB: conn, Metrics: metrics.New(), Logger: logger}
	b := events.NewBuilder()
	b.Logger = logger
	eng.Subscribe(b)
	rt.Metrics.Subscribe(b)
	isolation := events.IsolationOptions{OnResult: rt.Metrics.ObserveIsolated}

	if opts.NATSURL != "" {
		nc, err := relay.Connect(opts.NATSURL, logger)
		if err != nil {
			return nil, err
		}
		rt.nc = nc
		relay.Relay{Publisher: nc, Config: res.Config.Relay.NATS, Logger: logger}.Subscribe(b, isolation)
	}
	if doi := res.Config.Identifiers.DOI; doi.Enabled {
		identifiers.Registrar{Repo: eng.Repo, Config: doi, Logger: logger, Now: eng.Now}.Subscribe(b, isolation)
	}
	rt.Bus = b.Build()
	eng.Attach(rt.Bus)
	rt.Engine = eng
	rt.Webhooks = notify.New(eng.Repo, res.Config, logger)

	if !res.Exists {
		actor := opts.ActorID
		if actor == "" {
			actor = "local-user"
		}
		if _, err := eng.InitJournal(ctx, res.JournalID, "", actor); err != nil {
			rt.closeCollaborators(ctx)
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	logger.Debug("runtime ready", "journal", res.JournalID, "handlers", rt.Bus.Handlers())
	return rt, nil
}

// Close drains isolated handlers before the broker connection and the
// database go away.
func (rt *Runtime) Close(ctx context.Context) error {
	err := rt.closeCollaborators(ctx)
	return errors.Join(err, rt.DB.Close())
}

func (rt *Runtime) closeCollaborators(ctx context.Context) error {
	var err error
	if rt.Bus != nil {
		err = rt.Bus.Close(ctx)
	}
	if rt.nc != nil {
		err = errors.Join(err, rt.nc.Drain())
	}
	return err
}
