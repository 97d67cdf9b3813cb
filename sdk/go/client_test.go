package journalflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActSendsTokenAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/articles/a1/transition", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Accepted", body["to"])
		_ = json.NewEncoder(w).Encode(map[string]any{
			"article": map[string]any{"id": "a1", "stage": "Accepted"},
			"changed": true,
		})
	}))
	defer srv.Close()

	c := New(srv.URL+"/v0/", "tok")
	res, err := c.Transition(context.Background(), "a1", "Accepted")
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, "Accepted", res.Article.Stage)
}

func TestErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "editor-1", r.Header.Get("X-Actor-Id"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"state_conflict","message":"accept: article is Published"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	c.ActorID = "editor-1"
	_, err := c.Act(context.Background(), "a1", "accept", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "state_conflict", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "article is Published")
}

func TestEventsPageQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/events", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "40", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"id":39,"type":"article.created"},{"id":38,"type":"journal.init"}],"next_cursor":"38"}`))
	}))
	defer srv.Close()

	page, err := New(srv.URL, "tok").EventsPage(context.Background(), 2, "40")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, int64(39), page.Items[0].ID)
	assert.Equal(t, "38", page.NextCursor)
}
