package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/domain"
	"journalflow/internal/events"
	"journalflow/internal/stage"
)

func TestObserveCountsEvents(t *testing.T) {
	m := New()
	b := events.NewBuilder()
	m.Subscribe(b)
	bus := b.Build()
	ctx := context.Background()
	meta := events.Meta{Article: "a1", Journal: "j1", Actor: "ed"}

	bus.Raise(ctx, events.StageChanged{Meta: meta, From: stage.Unassigned, To: stage.Assigned})
	bus.Raise(ctx, events.StageChanged{Meta: meta, From: stage.Assigned, To: stage.Accepted, Override: true})
	bus.Raise(ctx, events.RoundOpened{Meta: meta, Round: domain.Round{Family: domain.FamilyReview, RoundNumber: 1}})
	bus.Raise(ctx, events.TaskWithdrawn{Meta: meta, Task: domain.Task{Family: domain.FamilyReview}, Reason: events.ReasonNewRound})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("StageChanged")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("Assigned", "Accepted", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.roundsOpened.WithLabelValues("review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksWithdrawn.WithLabelValues("review", events.ReasonNewRound)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("ReviewerWithdrawn")))
}

func TestObserveIsolatedAndHandler(t *testing.T) {
	m := New()
	m.ObserveIsolated("identifiers.doi", nil, nil)
	m.ObserveIsolated("identifiers.doi", nil, errors.New("timeout"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.isolatedRuns.WithLabelValues("identifiers.doi", "error")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `journalflow_isolated_handler_runs_total{handler="identifiers.doi",outcome="ok"} 1`)
}
