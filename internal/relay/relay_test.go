package relay

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/config"
	"journalflow/internal/domain"
	"journalflow/internal/events"
)

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
	err  error
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.msgs == nil {
		f.msgs = map[string][]byte{}
	}
	f.msgs[subject] = data
	return nil
}

func (f *fakePublisher) get(subject string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.msgs[subject]
	return data, ok
}

func TestPublishUsesJournalSubject(t *testing.T) {
	pub := &fakePublisher{}
	r := Relay{Publisher: pub, Config: config.NATSConfig{SubjectPrefix: "press"}}
	ev := events.TaskRequested{
		Meta: events.Meta{Article: "a1", Journal: "j1", Actor: "ed"},
		Task: domain.Task{ID: "t1", Family: domain.FamilyReview},
	}
	require.NoError(t, r.Publish(context.Background(), ev))

	data, ok := pub.get("press.j1.ReviewerRequested")
	require.True(t, ok)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "ReviewerRequested", env.Name)
	assert.Equal(t, "a1", env.ArticleID)
	assert.Contains(t, string(env.Event), `"id":"t1"`)
}

func TestPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("nats: connection closed")}
	r := Relay{Publisher: pub}
	err := r.Publish(context.Background(), events.ArticlePublished{Meta: events.Meta{Article: "a1", Journal: "j1"}})
	assert.ErrorContains(t, err, "journalflow.j1.ArticlePublished")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, r.Publish(ctx, events.ArticlePublished{}))
}

func TestSubscribeRelaysInBackground(t *testing.T) {
	pub := &fakePublisher{}
	b := events.NewBuilder()
	Relay{Publisher: pub}.Subscribe(b, events.IsolationOptions{Timeout: time.Second})
	bus := b.Build()

	rep := bus.Raise(context.Background(), events.ArticleSubmitted{Meta: events.Meta{Article: "a1", Journal: "j1"}})
	require.Len(t, rep.Results, 1)
	assert.True(t, rep.Results[0].Deferred)
	require.NoError(t, bus.Close(context.Background()))

	_, ok := pub.get("journalflow.j1.ArticleSubmitted")
	assert.True(t, ok)
}
