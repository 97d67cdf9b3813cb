package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"journalflow/internal/config"
	"journalflow/internal/events"
)

// Publisher is the part of *nats.Conn the relay needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Envelope is the message body published for every event.
type Envelope struct {
	Name      string          `json:"name"`
	JournalID string          `json:"journal_id"`
	ArticleID string          `json:"article_id"`
	ActorID   string          `json:"actor_id"`
	Event     json.RawMessage `json:"event"`
}

// Relay republishes bus events to NATS subjects
// <prefix>.<journal>.<event name>.
type Relay struct {
	Publisher Publisher
	Config    config.NATSConfig
	Logger    *slog.Logger
}

// Connect dials the NATS server with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("journalflow"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return conn, nil
}

// Subscribe relays every event from a background worker so a slow broker
// never holds up the raise.
func (r Relay) Subscribe(b *events.Builder, opts events.IsolationOptions) {
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
	events.SubscribeIsolated[events.Event](b, "relay.nats", r.Publish, opts)
}

// Publish sends one event.
func (r Relay) Publish(ctx context.Context, ev events.Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", ev.Name(), err)
	}
	data, err := json.Marshal(Envelope{
		Name:      string(ev.Name()),
		JournalID: ev.JournalID(),
		ArticleID: ev.ArticleID(),
		ActorID:   ev.ActorID(),
		Event:     body,
	})
	if err != nil {
		return err
	}
	subject := r.Config.Subject(ev.JournalID(), string(ev.Name()))
	if err := r.Publisher.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
