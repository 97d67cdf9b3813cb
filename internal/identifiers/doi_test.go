package identifiers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/config"
	"journalflow/internal/db"
	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/migrate"
	"journalflow/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "doi.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	rp := repo.Repo{DB: conn}
	ctx := context.Background()
	require.NoError(t, rp.InsertJournal(ctx, nil, domain.Journal{ID: "JNL", Name: "Journal", CreatedAt: "2024-01-01T00:00:00Z"}))
	require.NoError(t, rp.InsertArticle(ctx, nil, domain.Article{ID: "0123456789abcdef", JournalID: "JNL", Title: "t", Stage: "Published", CurrentStep: 5, CreatedAt: "t", UpdatedAt: "t"}))
	return rp
}

func published() events.ArticlePublished {
	return events.ArticlePublished{Meta: events.Meta{Article: "0123456789abcdef", Journal: "JNL", Actor: "ed"}}
}

func TestRegisterRecordsSuccess(t *testing.T) {
	var got registration
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	rp := newRepo(t)
	reg := Registrar{Repo: rp, Config: config.DOIConfig{Enabled: true, Endpoint: srv.URL, Prefix: "10.1234/"}}
	require.NoError(t, reg.Register(context.Background(), published()))

	assert.Equal(t, "10.1234/jnl.01234567", got.DOI)
	id, err := rp.GetIdentifier(context.Background(), "0123456789abcdef", KindDOI)
	require.NoError(t, err)
	assert.Equal(t, StatusRegistered, id.Status)
	assert.Equal(t, got.DOI, id.Value)
}

func TestRegisterRecordsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "prefix not owned", http.StatusForbidden)
	}))
	defer srv.Close()

	rp := newRepo(t)
	reg := Registrar{Repo: rp, Config: config.DOIConfig{Endpoint: srv.URL, Prefix: "10.1234"}}
	err := reg.Register(context.Background(), published())
	require.Error(t, err)

	id, err := rp.GetIdentifier(context.Background(), "0123456789abcdef", KindDOI)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, id.Status)
	assert.Contains(t, id.Detail, "status 403")
}

func TestSlowRegistrarDoesNotBlockRaise(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	rp := newRepo(t)
	reg := Registrar{Repo: rp, Config: config.DOIConfig{Endpoint: srv.URL, Prefix: "10.1234", Timeout: "100ms"}}
	results := make(chan error, 1)
	b := events.NewBuilder()
	reg.Subscribe(b, events.IsolationOptions{OnResult: func(_ string, _ events.Event, err error) { results <- err }})
	bus := b.Build()

	start := time.Now()
	rep := bus.Raise(context.Background(), published())
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].Deferred)

	select {
	case err := <-results:
		assert.Error(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("registration never finished")
	}
	require.NoError(t, bus.Close(context.Background()))
	assert.Equal(t, int32(1), calls.Load())
}
