package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"journalflow/internal/config"
	"journalflow/internal/domain"
	"journalflow/internal/repo"
)

const (
	defaultInterval = 2 * time.Second
	defaultTimeout  = 5 * time.Second
	defaultBatch    = 100
)

// Dispatcher delivers audit log rows to the journal's webhooks. Each hook
// keeps its own cursor and starts at the log head seen on first use, so a
// restart does not replay history.
type Dispatcher struct {
	repo     repo.Repo
	journal  string
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	cursors map[int]int64
}

// New returns nil when the config has no webhooks.
func New(r repo.Repo, cfg *config.Config, logger *slog.Logger) *Dispatcher {
	if cfg == nil || len(cfg.Webhooks) == 0 || strings.TrimSpace(cfg.Journal.ID) == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		repo:     r,
		journal:  cfg.Journal.ID,
		webhooks: cfg.Webhooks,
		client:   &http.Client{Timeout: defaultTimeout},
		logger:   logger.With("component", "webhooks"),
		interval: defaultInterval,
		cursors:  make(map[int]int64),
	}
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch to every enabled hook.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, hook := range d.webhooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.dispatch(ctx, i, hook)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	rows, err := d.repo.EventsAfter(ctx, defaultBatch, cursor, d.journal)
	if err != nil {
		d.logger.Error("fetch events", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range rows {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.post(ctx, hook, evt); err != nil {
			// The cursor stays put; the row is retried next tick.
			d.logger.Warn("deliver event", "url", hook.URL, "event", evt.ID, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.repo.LatestEventID(ctx, d.journal)
	if err != nil {
		d.logger.Error("init cursor", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

// Delivery is the request body posted to a webhook.
type Delivery struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	JournalID  string          `json:"journal_id"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func (d *Dispatcher) post(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	var raw string
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			payload = json.RawMessage(evt.Payload)
		} else {
			raw = evt.Payload
		}
	}
	data, err := json.Marshal(Delivery{
		ID:         evt.ID,
		Type:       evt.Type,
		JournalID:  d.journal,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    payload,
		PayloadRaw: raw,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		client = &http.Client{Timeout: time.Duration(hook.TimeoutSeconds) * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Journalflow-Event", evt.Type)
	req.Header.Set("X-Journalflow-Delivery", fmt.Sprintf("%d", evt.ID))
	req.Header.Set("X-Journalflow-Journal", d.journal)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Journalflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// eventFilter matches event types exactly, or by prefix when an entry ends
// in "*".
type eventFilter struct {
	all      bool
	set      map[string]struct{}
	prefixes []string
}

func newEventFilter(types []string) eventFilter {
	f := eventFilter{set: make(map[string]struct{})}
	for _, t := range types {
		key := strings.TrimSpace(t)
		switch {
		case key == "":
		case key == "*":
			return eventFilter{all: true}
		case strings.HasSuffix(key, "*"):
			f.prefixes = append(f.prefixes, strings.TrimSuffix(key, "*"))
		default:
			f.set[key] = struct{}{}
		}
	}
	if len(f.set) == 0 && len(f.prefixes) == 0 {
		return eventFilter{all: true}
	}
	return f
}

func (f eventFilter) match(typ string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[typ]; ok {
		return true
	}
	for _, p := range f.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}
