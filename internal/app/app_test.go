package app

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/config"
	"journalflow/internal/engine"
	"journalflow/internal/logging"
	"journalflow/internal/repo"
)

func TestOpenInitialisesJournalOnce(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()

	rt, err := Open(ctx, Options{Workspace: ws, JournalID: "j1", ActorID: "admin", Logger: logging.Discard()})
	require.NoError(t, err)
	els, err := rt.Engine.WorkflowElements(ctx, "j1")
	require.NoError(t, err)
	assert.NotEmpty(t, els)
	a, err := rt.Engine.CreateArticle(ctx, engine.CreateArticleRequest{JournalID: "j1", Title: "On Rounds", ActorID: "author"})
	require.NoError(t, err)
	require.NoError(t, rt.Close(ctx))

	// A second process finds the journal without being told which.
	rt, err = Open(ctx, Options{Workspace: ws, Logger: logging.Discard()})
	require.NoError(t, err)
	defer rt.Close(ctx)
	assert.Equal(t, "j1", rt.Engine.Config.Journal.ID)
	got, err := rt.Engine.GetArticle(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "On Rounds", got.Title)
	assert.Nil(t, rt.Webhooks)
	assert.Contains(t, rt.Bus.Handlers(), "metrics")
}

func TestResolveUsesWorkspaceFile(t *testing.T) {
	ctx := context.Background()
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte(config.GenerateDefault("from-file")), 0o644))

	rt, err := Open(ctx, Options{Workspace: ws, Logger: logging.Discard()})
	require.NoError(t, err)
	defer rt.Close(ctx)
	assert.Equal(t, "from-file", rt.Engine.Config.Journal.ID)

	res, err := ResolveJournalAndConfig(ctx, ws, "", repo.Repo{DB: rt.DB})
	require.NoError(t, err)
	assert.True(t, res.Exists)
	assert.Equal(t, "from-file", res.JournalID)
}

func TestResolveWithoutJournal(t *testing.T) {
	ctx := context.Background()
	rt, err := Open(ctx, Options{Workspace: t.TempDir(), JournalID: "j1", Logger: logging.Discard()})
	require.NoError(t, err)
	defer rt.Close(ctx)

	res, err := ResolveJournalAndConfig(ctx, t.TempDir(), "other", repo.Repo{DB: rt.DB})
	require.NoError(t, err)
	assert.False(t, res.Exists)
	assert.Equal(t, "other", res.Config.Journal.ID)
}
