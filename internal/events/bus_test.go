package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/domain"
	"journalflow/internal/stage"
)

func meta() Meta {
	return Meta{Article: "a1", Journal: "j1", Actor: "ed", At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestRaiseRunsHandlersInOrderAndCollectsErrors(t *testing.T) {
	b := NewBuilder()
	var order []string
	boom := errors.New("boom")
	Subscribe(b, "first", func(ctx context.Context, ev StageChanged) error {
		order = append(order, "first")
		return nil
	})
	Subscribe(b, "failing", func(ctx context.Context, ev StageChanged) error {
		order = append(order, "failing")
		return boom
	})
	Subscribe(b, "panicking", func(ctx context.Context, ev StageChanged) error {
		order = append(order, "panicking")
		panic("kaboom")
	})
	Subscribe(b, "last", func(ctx context.Context, ev StageChanged) error {
		order = append(order, "last")
		return nil
	})
	Subscribe(b, "other-variant", func(ctx context.Context, ev ArticlePublished) error {
		order = append(order, "other")
		return nil
	})
	bus := b.Build()

	rep := bus.Raise(context.Background(), StageChanged{Meta: meta(), From: stage.Unassigned, To: stage.Assigned})
	assert.Equal(t, []string{"first", "failing", "panicking", "last"}, order)
	require.Len(t, rep.Results, 4)
	assert.Equal(t, NameStageChanged, rep.Event)

	err := rep.Err()
	require.Error(t, err)
	var de *DispatchError
	require.ErrorAs(t, err, &de)
	assert.Len(t, de.Failures, 2)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "handler panic")
}

func TestCatchAllSubscription(t *testing.T) {
	b := NewBuilder()
	var seen []Name
	Subscribe(b, "all", func(ctx context.Context, ev Event) error {
		seen = append(seen, ev.Name())
		return nil
	})
	bus := b.Build()
	bus.Raise(context.Background(), ArticleSubmitted{Meta: meta()})
	bus.Raise(context.Background(), TaskCompleted{Meta: meta(), Task: domain.Task{Family: domain.FamilyTypesetting}})
	assert.Equal(t, []Name{NameArticleSubmitted, "TypesetterComplete"}, seen)
	assert.Equal(t, []string{"all"}, bus.Handlers())
}

func TestSubscribeAfterBuildPanics(t *testing.T) {
	b := NewBuilder()
	b.Build()
	assert.Panics(t, func() {
		Subscribe(b, "late", func(ctx context.Context, ev Event) error { return nil })
	})
}

func TestTaskEventNamesAreFamilySpecific(t *testing.T) {
	tests := []struct {
		ev   Event
		want Name
	}{
		{TaskRequested{Task: domain.Task{Family: domain.FamilyReview}}, "ReviewerRequested"},
		{TaskAccepted{Task: domain.Task{Family: domain.FamilyReview}}, "ReviewerAccepted"},
		{TaskDeclined{Task: domain.Task{Family: domain.FamilyReview}}, "ReviewerDeclined"},
		{TaskCompleted{Task: domain.Task{Family: domain.FamilyReview}}, "ReviewerComplete"},
		{TaskWithdrawn{Task: domain.Task{Family: domain.FamilyReview}}, "ReviewerWithdrawn"},
		{TaskRequested{Task: domain.Task{Family: domain.FamilyTypesetting}}, "TypesetterAssigned"},
		{TaskCompleted{Task: domain.Task{Family: domain.FamilyProofing}}, "ProofingManagerComplete"},
		{TaskRequested{Task: domain.Task{Family: domain.FamilyProofing}}, "ProofingManagerAssigned"},
		{TaskReset{Task: domain.Task{Family: domain.FamilyCopyediting}}, "CopyeditReopened"},
		{TaskReset{Task: domain.Task{Family: "unknown"}}, "Taskreset"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.ev.Name())
	}
}

func TestIsolatedHandlerIsDeferredAndDrained(t *testing.T) {
	b := NewBuilder()
	var ran atomic.Int32
	release := make(chan struct{})
	SubscribeIsolated(b, "doi", func(ctx context.Context, ev ArticlePublished) error {
		<-release
		ran.Add(1)
		return nil
	}, IsolationOptions{Timeout: time.Second, QueueSize: 1})
	bus := b.Build()

	rep := bus.Raise(context.Background(), ArticlePublished{Meta: meta()})
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].Deferred)
	assert.NoError(t, rep.Err())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bus.Close(ctx))
	assert.Equal(t, int32(1), ran.Load())

	rep = bus.Raise(context.Background(), ArticlePublished{Meta: meta()})
	assert.ErrorIs(t, rep.Err(), ErrClosed)
}

func TestIsolatedQueueFullIsReported(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	iso := Isolated(func(ctx context.Context, ev ArticlePublished) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-block
		return nil
	}, IsolationOptions{Name: "slow", Timeout: time.Second, QueueSize: 1})
	ctx := context.Background()

	assert.ErrorIs(t, iso.Handle(ctx, ArticlePublished{Meta: meta()}), errDeferred)
	<-started
	assert.ErrorIs(t, iso.Handle(ctx, ArticlePublished{Meta: meta()}), errDeferred)
	assert.ErrorIs(t, iso.Handle(ctx, ArticlePublished{Meta: meta()}), ErrQueueFull)
	close(block)
	require.NoError(t, iso.Close(ctx))
}

func TestIsolatedTimeoutReported(t *testing.T) {
	results := make(chan error, 1)
	iso := Isolated(func(ctx context.Context, ev ArticlePublished) error {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return nil
	}, IsolationOptions{
		Name:     "stuck",
		Timeout:  20 * time.Millisecond,
		OnResult: func(name string, ev Event, err error) { results <- err },
	})
	require.ErrorIs(t, iso.Handle(context.Background(), ArticlePublished{Meta: meta()}), errDeferred)
	select {
	case err := <-results:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("isolated handler did not report")
	}
	require.NoError(t, iso.Close(context.Background()))
}
