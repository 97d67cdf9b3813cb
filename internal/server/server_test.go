package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"journalflow/internal/config"
	"journalflow/internal/db"
	"journalflow/internal/domain"
	"journalflow/internal/engine"
	"journalflow/internal/events"
	"journalflow/internal/logging"
	"journalflow/internal/metrics"
	"journalflow/internal/migrate"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e, err := engine.New(conn, config.Default("j1"))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	e = e.WithLogger(logging.Discard())
	m := metrics.New()
	b := events.NewBuilder()
	b.Logger = logging.Discard()
	e.Subscribe(b)
	m.Subscribe(b)
	bus := b.Build()
	e.Attach(bus)
	if _, err := e.InitJournal(context.Background(), "j1", "Journal One", "admin"); err != nil {
		t.Fatalf("init journal: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true, DevLogin: true},
		Metrics:  m.Handler(),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{Timeout: 5 * time.Second},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			bus.Close(context.Background())
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func as(actor string) map[string]string {
	return map[string]string{"X-Actor-Id": actor}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	reader := bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func expect(t *testing.T, res *http.Response, data []byte, status int, out any) {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("%s %s: status %d, want %d: %s", res.Request.Method, res.Request.URL.Path, res.StatusCode, status, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
	}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope %s: %v", data, err)
	}
	return env.Error.Code
}

func TestHealthAndAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	expect(t, res, data, http.StatusOK, nil)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/articles", nil, nil)
	expect(t, res, data, http.StatusUnauthorized, nil)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/articles", nil, map[string]string{"Authorization": "Bearer nope"})
	expect(t, res, data, http.StatusUnauthorized, nil)
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("code %q", code)
	}

	var login DevLoginResponse
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", DevLoginRequest{ActorID: "ed", Roles: []string{"editor"}}, nil)
	expect(t, res, data, http.StatusOK, &login)

	var who WhoAmIResponse
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	expect(t, res, data, http.StatusOK, &who)
	if who.ActorID != "ed" || who.Source != "jwt" || len(who.Roles) != 1 {
		t.Fatalf("unexpected principal %+v", who)
	}
}

func TestEditorialFlowOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	var a domain.Article
	res, data := doJSON(t, client, http.MethodPost, base+"/articles", CreateArticleRequest{Title: "Round Trip"}, as("author"))
	expect(t, res, data, http.StatusCreated, &a)
	if a.Stage != "Unsubmitted" {
		t.Fatalf("stage %q", a.Stage)
	}

	var tr TransitionResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/submit", nil, as("author"))
	expect(t, res, data, http.StatusOK, &tr)
	if !tr.Changed || tr.Article.CurrentStep != engine.SubmissionComplete {
		t.Fatalf("submit: %+v", tr)
	}
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/submit", nil, as("author"))
	expect(t, res, data, http.StatusConflict, nil)

	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/assign", map[string]string{"editor_id": "ed"}, as("ed"))
	expect(t, res, data, http.StatusOK, &tr)

	var rr RoundResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/rounds", OpenRoundRequest{Family: "review"}, as("ed"))
	expect(t, res, data, http.StatusCreated, &rr)
	if !rr.Created || rr.Round.RoundNumber != 1 {
		t.Fatalf("round: %+v", rr)
	}

	var task TaskResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/rounds/"+rr.Round.ID+"/tasks", CreateTaskRequest{ActorID: "rev1"}, as("ed"))
	expect(t, res, data, http.StatusCreated, &task)
	if task.Task.EditorID != "ed" || task.Task.DueDate == nil {
		t.Fatalf("task: %+v", task.Task)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/articles/"+a.ID, nil, as("ed"))
	expect(t, res, data, http.StatusOK, &a)
	if a.Stage != "Under Review" {
		t.Fatalf("stage after review request %q", a.Stage)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+task.Task.ID+"/accept", nil, as("rev1"))
	expect(t, res, data, http.StatusOK, &task)
	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+task.Task.ID+"/complete", CompleteTaskRequest{Decision: "bogus"}, as("rev1"))
	expect(t, res, data, http.StatusUnprocessableEntity, nil)
	res, data = doJSON(t, client, http.MethodPost, base+"/tasks/"+task.Task.ID+"/complete", CompleteTaskRequest{Decision: domain.DecisionAccept}, as("rev1"))
	expect(t, res, data, http.StatusOK, &task)
	if task.Task.CompletedAt == nil {
		t.Fatalf("task not completed: %+v", task.Task)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/accept", nil, as("ed"))
	expect(t, res, data, http.StatusOK, &tr)
	if tr.Article.Stage != "Accepted" {
		t.Fatalf("stage after accept %q", tr.Article.Stage)
	}

	var log listTransitions
	res, data = doJSON(t, client, http.MethodGet, base+"/articles/"+a.ID+"/log", nil, as("ed"))
	expect(t, res, data, http.StatusOK, &log)
	if len(log.Items) != 4 {
		t.Fatalf("log has %d entries: %s", len(log.Items), data)
	}

	var tasks listTasks
	res, data = doJSON(t, client, http.MethodGet, base+"/tasks?article_id="+a.ID, nil, as("ed"))
	expect(t, res, data, http.StatusOK, &tasks)
	if len(tasks.Items) != 1 {
		t.Fatalf("tasks: %s", data)
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	res, data := doJSON(t, client, http.MethodGet, base+"/articles/missing", nil, as("ed"))
	expect(t, res, data, http.StatusNotFound, nil)

	var a domain.Article
	res, data = doJSON(t, client, http.MethodPost, base+"/articles", CreateArticleRequest{Title: "Errors"}, as("author"))
	expect(t, res, data, http.StatusCreated, &a)

	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/transition", map[string]string{"to": "Limbo"}, as("ed"))
	expect(t, res, data, http.StatusUnprocessableEntity, nil)
	if code := errorCode(t, data); code != "unknown_stage" {
		t.Fatalf("code %q", code)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/publish", nil, as("ed"))
	expect(t, res, data, http.StatusConflict, nil)

	var tr TransitionResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/override", map[string]string{"to": "Proofing"}, as("ed"))
	expect(t, res, data, http.StatusOK, &tr)
	if tr.Entry == nil || !tr.Entry.Override {
		t.Fatalf("override entry: %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/rounds", OpenRoundRequest{Family: "proofing", After: 3}, as("ed"))
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusCreated {
		t.Fatalf("open stale round: %d %s", res.StatusCode, data)
	}
	var rr RoundResponse
	expect(t, res, data, res.StatusCode, &rr)
	if rr.Created {
		t.Fatalf("stale open created a round: %s", data)
	}
}

func TestMisconfiguredWorkflowDegrades(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	var a domain.Article
	res, data := doJSON(t, client, http.MethodPost, base+"/articles", CreateArticleRequest{Title: "Nowhere"}, as("author"))
	expect(t, res, data, http.StatusCreated, &a)

	var re ReentryResponse
	res, data = doJSON(t, client, http.MethodGet, base+"/articles/"+a.ID+"/reentry", nil, as("ed"))
	expect(t, res, data, http.StatusOK, &re)
	if !re.Degraded || re.URL != "?workflow_element_url=no_element" {
		t.Fatalf("reentry: %s", data)
	}

	var el ElementResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/elements/complete", CompleteElementRequest{Element: "marketing"}, as("ed"))
	expect(t, res, data, http.StatusOK, &el)
	if !el.Degraded || el.Step.URL != "/dashboard" || el.Step.Next != nil {
		t.Fatalf("complete element: %s", data)
	}
}

func TestOpenAPIConcurrentFirstRequests(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	const n = 8
	bodies := make(chan []byte, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := client.Get(srv.URL + "/v0/openapi.json")
			if err != nil {
				t.Errorf("get spec: %v", err)
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			if res.StatusCode != http.StatusOK {
				t.Errorf("status %d: %s", res.StatusCode, data)
				return
			}
			bodies <- data
		}()
	}
	wg.Wait()
	close(bodies)
	var first []byte
	for b := range bodies {
		if first == nil {
			first = b
			continue
		}
		if !bytes.Equal(first, b) {
			t.Fatalf("spec bodies differ")
		}
	}
	if !bytes.Contains(first, []byte("bearerAuth")) {
		t.Fatalf("spec missing security scheme")
	}
}

func TestDeleteRoundRequiresConfirmation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	var a domain.Article
	res, data := doJSON(t, client, http.MethodPost, base+"/articles", CreateArticleRequest{Title: "Rounds"}, as("author"))
	expect(t, res, data, http.StatusCreated, &a)
	var rr RoundResponse
	res, data = doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/rounds", OpenRoundRequest{Family: "copyediting"}, as("ed"))
	expect(t, res, data, http.StatusCreated, &rr)
	res, data = doJSON(t, client, http.MethodPost, base+"/rounds/"+rr.Round.ID+"/tasks", CreateTaskRequest{ActorID: "ce1"}, as("ed"))
	expect(t, res, data, http.StatusCreated, nil)

	res, data = doJSON(t, client, http.MethodDelete, base+"/rounds/"+rr.Round.ID, nil, as("ed"))
	expect(t, res, data, http.StatusConflict, nil)
	res, data = doJSON(t, client, http.MethodDelete, base+"/rounds/"+rr.Round.ID+"?confirm=true", nil, as("ed"))
	expect(t, res, data, http.StatusNoContent, nil)
	res, data = doJSON(t, client, http.MethodGet, base+"/rounds/"+rr.Round.ID, nil, as("ed"))
	expect(t, res, data, http.StatusNotFound, nil)
}

func TestEventsBoardAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	base := srv.URL + "/v0"

	var a domain.Article
	for _, title := range []string{"One", "Two", "Three"} {
		res, data := doJSON(t, client, http.MethodPost, base+"/articles", CreateArticleRequest{Title: title}, as("author"))
		expect(t, res, data, http.StatusCreated, &a)
	}
	res, data := doJSON(t, client, http.MethodPost, base+"/articles/"+a.ID+"/submit", nil, as("author"))
	expect(t, res, data, http.StatusOK, nil)

	var page paginatedEvents
	res, data = doJSON(t, client, http.MethodGet, base+"/events?type=article.created&limit=2", nil, as("ed"))
	expect(t, res, data, http.StatusOK, &page)
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("first page: %s", data)
	}
	res, data = doJSON(t, client, http.MethodGet, base+"/events?type=article.created&limit=2&cursor="+page.NextCursor, nil, as("ed"))
	expect(t, res, data, http.StatusOK, &page)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("second page: %s", data)
	}

	var board boardResponse
	res, data = doJSON(t, client, http.MethodGet, base+"/board", nil, as("ed"))
	expect(t, res, data, http.StatusOK, &board)
	if len(board.Columns) == 0 {
		t.Fatalf("empty board: %s", data)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	expect(t, res, data, http.StatusOK, nil)
	if !strings.Contains(string(data), `journalflow_events_total{event="ArticleSubmitted"} 1`) {
		t.Fatalf("metrics output missing namespace")
	}
}
