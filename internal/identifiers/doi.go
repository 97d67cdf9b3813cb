package identifiers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"journalflow/internal/config"
	"journalflow/internal/events"
	"journalflow/internal/repo"
)

const (
	KindDOI = "doi"

	StatusPending    = "pending"
	StatusRegistered = "registered"
	StatusFailed     = "failed"
)

// Registrar registers DOIs for published articles with an external
// registration agency and records the outcome per article.
type Registrar struct {
	Repo   repo.Repo
	Config config.DOIConfig
	Client *http.Client
	Logger *slog.Logger
	Now    func() time.Time
}

type registration struct {
	DOI       string `json:"doi"`
	ArticleID string `json:"article_id"`
	JournalID string `json:"journal_id"`
}

// Subscribe attaches the registrar to ArticlePublished behind an isolation
// worker. Registration never runs on the publishing request.
func (r Registrar) Subscribe(b *events.Builder, opts events.IsolationOptions) {
	if opts.Timeout <= 0 {
		opts.Timeout = r.Config.TimeoutDuration()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = r.Config.QueueSize
	}
	if opts.Logger == nil {
		opts.Logger = r.Logger
	}
	events.SubscribeIsolated(b, "identifiers.doi", r.Register, opts)
}

// DOI derives the identifier for an article.
func (r Registrar) DOI(journalID, articleID string) string {
	suffix := articleID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return strings.TrimSuffix(r.Config.Prefix, "/") + "/" + strings.ToLower(journalID) + "." + suffix
}

// Register posts the registration and stores its status.
func (r Registrar) Register(ctx context.Context, ev events.ArticlePublished) error {
	if strings.TrimSpace(r.Config.Endpoint) == "" {
		return errors.New("doi endpoint not configured")
	}
	doi := r.DOI(ev.JournalID(), ev.ArticleID())
	if err := r.record(ctx, ev.ArticleID(), doi, StatusPending, ""); err != nil {
		return err
	}
	if err := r.post(ctx, registration{DOI: doi, ArticleID: ev.ArticleID(), JournalID: ev.JournalID()}); err != nil {
		// The request context may be spent; the status must still land.
		if recErr := r.record(context.WithoutCancel(ctx), ev.ArticleID(), doi, StatusFailed, err.Error()); recErr != nil {
			r.logger().Error("record doi failure", "article", ev.ArticleID(), "error", recErr)
		}
		return fmt.Errorf("register %s: %w", doi, err)
	}
	r.logger().Info("doi registered", "article", ev.ArticleID(), "doi", doi)
	return r.record(ctx, ev.ArticleID(), doi, StatusRegistered, "")
}

func (r Registrar) post(ctx context.Context, body registration) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.Config.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: r.Config.TimeoutDuration()}
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

func (r Registrar) record(ctx context.Context, articleID, doi, status, detail string) error {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return r.Repo.UpsertIdentifier(ctx, repo.Identifier{
		ArticleID: articleID,
		Kind:      KindDOI,
		Value:     doi,
		Status:    status,
		Detail:    detail,
		UpdatedAt: now().UTC().Format(time.RFC3339),
	})
}

func (r Registrar) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
