// Package journalflowsdk is a small client for the journalflow HTTP API.
package journalflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to one journalflow server. BaseURL includes the API base
// path, e.g. http://127.0.0.1:8080/v0.
type Client struct {
	BaseURL     string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Article struct {
	ID                 string `json:"id"`
	JournalID          string `json:"journal_id"`
	Title              string `json:"title"`
	Stage              string `json:"stage"`
	CurrentStep        int    `json:"current_step"`
	CurrentReviewRound *int   `json:"current_review_round,omitempty"`
	CreatedAt          string `json:"created_at"`
	UpdatedAt          string `json:"updated_at"`
}

type Transition struct {
	ID        int64  `json:"id"`
	ArticleID string `json:"article_id"`
	FromStage string `json:"from_stage"`
	ToStage   string `json:"to_stage"`
	ActorID   string `json:"actor_id"`
	Override  bool   `json:"override"`
	At        string `json:"at"`
}

// HandlerFailure is an event subscriber that failed after the change was
// committed.
type HandlerFailure struct {
	Handler string `json:"handler"`
	Error   string `json:"error"`
}

type TransitionResult struct {
	Article       Article          `json:"article"`
	Changed       bool             `json:"changed"`
	Entry         *Transition      `json:"entry,omitempty"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type Round struct {
	ID          string  `json:"id"`
	ArticleID   string  `json:"article_id"`
	Family      string  `json:"family"`
	RoundNumber int     `json:"round_number"`
	OpenedBy    string  `json:"opened_by"`
	CreatedAt   string  `json:"created_at"`
	ClosedAt    *string `json:"closed_at,omitempty"`
}

type RoundResult struct {
	Round         Round            `json:"round"`
	Created       bool             `json:"created"`
	Withdrawn     []Task           `json:"withdrawn,omitempty"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type Task struct {
	ID        string   `json:"id"`
	RoundID   string   `json:"round_id"`
	ArticleID string   `json:"article_id"`
	Family    string   `json:"family"`
	ActorID   string   `json:"actor_id"`
	EditorID  string   `json:"editor_id"`
	Status    string   `json:"status"`
	DueDate   *string  `json:"due_date,omitempty"`
	Decision  string   `json:"decision,omitempty"`
	Note      string   `json:"note,omitempty"`
	Files     []string `json:"files,omitempty"`
}

type TaskResult struct {
	Task          Task             `json:"task"`
	HandlerErrors []HandlerFailure `json:"handler_errors,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	JournalID  string `json:"journal_id"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// PaginatedEvents is one page of events, newest first. NextCursor is empty
// on the last page.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the server's error code when the
// body carried the standard envelope.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateArticle(ctx context.Context, title string) (Article, error) {
	var resp Article
	err := c.do(ctx, http.MethodPost, "articles", map[string]any{"title": title}, &resp)
	return resp, err
}

func (c *Client) GetArticle(ctx context.Context, id string) (Article, error) {
	var resp Article
	err := c.do(ctx, http.MethodGet, "articles/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Act runs an editorial action such as submit, accept or publish on an
// article. body may be nil.
func (c *Client) Act(ctx context.Context, articleID, action string, body map[string]any) (TransitionResult, error) {
	var payload any
	if body != nil {
		payload = body
	}
	var resp TransitionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("articles/%s/%s", url.PathEscape(articleID), action), payload, &resp)
	return resp, err
}

// Transition moves the article along the transition table.
func (c *Client) Transition(ctx context.Context, articleID, to string) (TransitionResult, error) {
	return c.Act(ctx, articleID, "transition", map[string]any{"to": to})
}

func (c *Client) TransitionLog(ctx context.Context, articleID string) ([]Transition, error) {
	var resp struct {
		Items []Transition `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("articles/%s/log", url.PathEscape(articleID)), nil, &resp)
	return resp.Items, err
}

// OpenRound opens round after+1, or returns the round opened since.
func (c *Client) OpenRound(ctx context.Context, articleID, family string, after int) (RoundResult, error) {
	var resp RoundResult
	body := map[string]any{"family": family, "after": after}
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("articles/%s/rounds", url.PathEscape(articleID)), body, &resp)
	return resp, err
}

func (c *Client) CreateTask(ctx context.Context, roundID, actorID, dueDate string) (TaskResult, error) {
	body := map[string]any{"actor_id": actorID}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("rounds/%s/tasks", url.PathEscape(roundID)), body, &resp)
	return resp, err
}

// TaskAction runs accept, decline, withdraw or reset on a task.
func (c *Client) TaskAction(ctx context.Context, taskID, action string) (TaskResult, error) {
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/%s", url.PathEscape(taskID), action), nil, &resp)
	return resp, err
}

func (c *Client) CompleteTask(ctx context.Context, taskID, decision, note string) (TaskResult, error) {
	body := map[string]any{"decision": decision, "note": note}
	var resp TaskResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns events older than cursor; an empty cursor starts at the
// newest.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	b, _ := io.ReadAll(resp.Body)
	apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
