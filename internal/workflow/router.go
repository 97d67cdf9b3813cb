package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"journalflow/internal/config"
	"journalflow/internal/domain"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

// ErrMisconfigured marks recoverable workflow configuration errors.
var ErrMisconfigured = errors.New("workflow misconfigured")

// ConfigError reports a stage whose element has no row for the journal.
type ConfigError struct {
	Journal string
	Stage   string
	Element string
}

func (e *ConfigError) Error() string {
	if e.Element == "" {
		return fmt.Sprintf("journal %s: no workflow element for stage %q", e.Journal, e.Stage)
	}
	return fmt.Sprintf("journal %s: stage %q maps to element %q which is not configured", e.Journal, e.Stage, e.Element)
}

func (e *ConfigError) Unwrap() error { return ErrMisconfigured }

const (
	DashboardURL  = "/dashboard"
	noElementURL  = "?workflow_element_url=no_element"
	unassignedURL = "/review/unassigned/{article_id}"
	archiveURL    = "/manage/archive/{article_id}"
)

// Router resolves where an article sits in its journal's workflow.
type Router struct {
	Repo     repo.Repo
	Elements *Registry
	Stages   *stage.Registry
	Logger   *slog.Logger
}

func (r Router) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// CurrentElement returns the article's active element. Stages outside any
// element yield nil without error.
func (r Router) CurrentElement(ctx context.Context, a domain.Article) (*domain.WorkflowElement, error) {
	name, ok := r.Elements.ElementForStage(stage.Stage(a.Stage))
	if !ok {
		return nil, nil
	}
	el, err := r.Repo.GetWorkflowElement(ctx, a.JournalID, name)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, &ConfigError{Journal: a.JournalID, Stage: a.Stage, Element: name}
	}
	if err != nil {
		return nil, err
	}
	return &el, nil
}

// NextElement returns the element after the article's current one by
// position, or nil when the current element is last or absent.
func (r Router) NextElement(ctx context.Context, a domain.Article) (*domain.WorkflowElement, error) {
	cur, err := r.CurrentElement(ctx, a)
	if err != nil || cur == nil {
		return nil, err
	}
	return r.after(ctx, a.JournalID, cur.ElementName)
}

func (r Router) after(ctx context.Context, journalID, name string) (*domain.WorkflowElement, error) {
	elements, err := r.Repo.ListWorkflowElements(ctx, nil, journalID)
	if err != nil {
		return nil, err
	}
	for i, el := range elements {
		if el.ElementName != name {
			continue
		}
		if i+1 < len(elements) {
			next := elements[i+1]
			return &next, nil
		}
		return nil, nil
	}
	return nil, &ConfigError{Journal: journalID, Element: name}
}

// ReentryURL returns where to send a user re-entering the article's
// workflow. Misconfiguration yields a degraded URL along with the
// ConfigError so the caller can log it.
func (r Router) ReentryURL(ctx context.Context, a domain.Article) (string, error) {
	s := stage.Stage(a.Stage)
	switch {
	case s == stage.Unassigned:
		return Expand(unassignedURL, a.ID), nil
	case r.Stages.IsTerminal(s):
		return Expand(archiveURL, a.ID), nil
	}
	el, err := r.CurrentElement(ctx, a)
	var cfgErr *ConfigError
	switch {
	case errors.As(err, &cfgErr):
		r.logger().Error("workflow element missing", "journal", a.JournalID, "stage", a.Stage, "element", cfgErr.Element, "article", a.ID)
		return noElementURL, err
	case err != nil:
		return "", err
	case el == nil:
		err := &ConfigError{Journal: a.JournalID, Stage: a.Stage}
		r.logger().Error("no workflow element for stage", "journal", a.JournalID, "stage", a.Stage, "article", a.ID)
		return noElementURL, err
	}
	return Expand(el.JumpURL, a.ID), nil
}

// Step is the outcome of completing an element.
type Step struct {
	Next *domain.WorkflowElement `json:"next,omitempty"`
	// URL is the next element's handshake target, or the dashboard when the
	// workflow has no further element.
	URL string `json:"url"`
}

// Advance computes the element following the completed one. The completed
// element is identified by name, or by handshake target when name is empty.
func (r Router) Advance(ctx context.Context, journalID, articleID, element, handshakeURL string) (Step, error) {
	if element == "" && handshakeURL != "" {
		elements, err := r.Repo.ListWorkflowElements(ctx, nil, journalID)
		if err != nil {
			return Step{}, err
		}
		for _, el := range elements {
			if el.HandshakeURL == handshakeURL {
				element = el.ElementName
				break
			}
		}
	}
	next, err := r.after(ctx, journalID, element)
	if err != nil {
		var cfgErr *ConfigError
		if errors.As(err, &cfgErr) {
			r.logger().Warn("completed element not in workflow", "journal", journalID, "element", element, "article", articleID)
			return Step{URL: DashboardURL}, err
		}
		return Step{}, err
	}
	if next == nil {
		return Step{URL: DashboardURL}, nil
	}
	return Step{Next: next, URL: Expand(next.HandshakeURL, articleID)}, nil
}

// Provision creates the journal's workflow rows from the configured element
// order. Existing rows are left untouched.
func Provision(ctx context.Context, tx *sql.Tx, rp repo.Repo, elements *Registry, cfg *config.Config) ([]domain.WorkflowElement, error) {
	var created []domain.WorkflowElement
	for i, name := range cfg.Workflow.Elements {
		def, ok := elements.Definition(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown workflow element %q", ErrMisconfigured, name)
		}
		el := domain.WorkflowElement{
			ID:           uuid.NewString(),
			JournalID:    cfg.Journal.ID,
			ElementName:  def.Name,
			Stage:        string(def.Stage),
			HandshakeURL: def.HandshakeURL,
			JumpURL:      def.JumpURL,
			Order:        (i + 1) * 10,
		}
		inserted, err := rp.InsertWorkflowElement(ctx, tx, el)
		if err != nil {
			return nil, fmt.Errorf("insert workflow element %s: %w", name, err)
		}
		if inserted {
			created = append(created, el)
		}
	}
	return created, nil
}

// AddElement appends a registered element to an existing workflow.
func AddElement(ctx context.Context, tx *sql.Tx, rp repo.Repo, elements *Registry, journalID, name string, order int) (domain.WorkflowElement, error) {
	def, ok := elements.Definition(name)
	if !ok {
		return domain.WorkflowElement{}, fmt.Errorf("%w: unknown workflow element %q", ErrMisconfigured, name)
	}
	if order <= 0 {
		order = DefaultOrder
	}
	el := domain.WorkflowElement{
		ID:           uuid.NewString(),
		JournalID:    journalID,
		ElementName:  def.Name,
		Stage:        string(def.Stage),
		HandshakeURL: def.HandshakeURL,
		JumpURL:      def.JumpURL,
		Order:        order,
	}
	inserted, err := rp.InsertWorkflowElement(ctx, tx, el)
	if err != nil {
		return domain.WorkflowElement{}, err
	}
	if !inserted {
		return domain.WorkflowElement{}, fmt.Errorf("workflow element %s already configured", name)
	}
	return el, nil
}

// Reorder rewrites element positions to match names. Every configured
// element must be listed exactly once.
func Reorder(ctx context.Context, tx *sql.Tx, rp repo.Repo, journalID string, names []string) error {
	current, err := rp.ListWorkflowElements(ctx, tx, journalID)
	if err != nil {
		return err
	}
	if len(names) != len(current) {
		return fmt.Errorf("reorder lists %d elements, workflow has %d", len(names), len(current))
	}
	have := make(map[string]bool, len(current))
	for _, el := range current {
		have[el.ElementName] = true
	}
	seen := map[string]bool{}
	for _, n := range names {
		if !have[n] {
			return fmt.Errorf("%w: element %s is not part of the workflow", repo.ErrNotFound, n)
		}
		if seen[n] {
			return fmt.Errorf("element %s listed twice", n)
		}
		seen[n] = true
	}
	for i, n := range names {
		if err := rp.UpdateWorkflowElementOrder(ctx, tx, journalID, n, (i+1)*10); err != nil {
			return err
		}
	}
	return nil
}

// Column groups a workflow element with the articles currently inside it.
type Column struct {
	Element  domain.WorkflowElement `json:"element"`
	Articles []domain.Article       `json:"articles"`
}

// Board lists the journal's workflow in order with the articles inside each
// element.
func (r Router) Board(ctx context.Context, journalID string) ([]Column, error) {
	elements, err := r.Repo.ListWorkflowElements(ctx, nil, journalID)
	if err != nil {
		return nil, err
	}
	cols := make([]Column, 0, len(elements))
	for _, el := range elements {
		def, ok := r.Elements.Definition(el.ElementName)
		if !ok {
			r.logger().Warn("workflow element not registered", "journal", journalID, "element", el.ElementName)
			continue
		}
		stages := make([]string, 0, len(def.Stages))
		for _, s := range def.Stages {
			stages = append(stages, string(s))
		}
		articles, err := r.Repo.ListArticles(ctx, repo.ArticleFilters{JournalID: journalID, Stages: stages})
		if err != nil {
			return nil, err
		}
		cols = append(cols, Column{Element: el, Articles: articles})
	}
	return cols, nil
}
