package workflow

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalflow/internal/config"
	"journalflow/internal/db"
	"journalflow/internal/domain"
	"journalflow/internal/migrate"
	"journalflow/internal/repo"
	"journalflow/internal/stage"
)

type fixture struct {
	ctx    context.Context
	repo   repo.Repo
	router Router
	cfg    *config.Config
}

func newFixture(t *testing.T, cfg *config.Config) fixture {
	t.Helper()
	conn, err := db.OpenPath(filepath.Join(t.TempDir(), "wf.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	ctx := context.Background()
	rp := repo.Repo{DB: conn}
	require.NoError(t, rp.InsertJournal(ctx, nil, domain.Journal{ID: cfg.Journal.ID, Name: "Test", CreatedAt: "2024-01-01T00:00:00Z"}))

	stages, elements, err := Registries(cfg)
	require.NoError(t, err)
	_, err = Provision(ctx, nil, rp, elements, cfg)
	require.NoError(t, err)
	return fixture{ctx: ctx, repo: rp, cfg: cfg, router: Router{Repo: rp, Elements: elements, Stages: stages}}
}

func (f fixture) article(t *testing.T, id string, s stage.Stage) domain.Article {
	t.Helper()
	a := domain.Article{ID: id, JournalID: f.cfg.Journal.ID, Title: id, Stage: string(s), CurrentStep: 1, CreatedAt: "t", UpdatedAt: "t"}
	require.NoError(t, f.repo.InsertArticle(f.ctx, nil, a))
	return a
}

func TestProvisionIsIdempotentAndOrdered(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	created, err := Provision(f.ctx, nil, f.repo, f.router.Elements, f.cfg)
	require.NoError(t, err)
	assert.Empty(t, created)

	els, err := f.repo.ListWorkflowElements(f.ctx, nil, "j1")
	require.NoError(t, err)
	var names []string
	for _, el := range els {
		names = append(names, el.ElementName)
	}
	assert.Equal(t, []string{"review", "copyediting", "production", "proofing", "prepublication"}, names)
	assert.Equal(t, 10, els[0].Order)
	assert.Equal(t, string(stage.Unassigned), els[0].Stage)
}

func TestCurrentAndNextElement(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	tests := []struct {
		stage   stage.Stage
		current string
		next    string
	}{
		{stage.Unassigned, "", ""},
		{stage.Assigned, "review", "copyediting"},
		{stage.Accepted, "review", "copyediting"},
		{stage.AuthorCopyediting, "copyediting", "production"},
		{stage.Typesetting, "production", "proofing"},
		{stage.PrePublication, "prepublication", ""},
		{stage.Published, "", ""},
	}
	for i, tt := range tests {
		a := f.article(t, string(rune('a'+i)), tt.stage)
		cur, err := f.router.CurrentElement(f.ctx, a)
		require.NoError(t, err, tt.stage)
		next, err := f.router.NextElement(f.ctx, a)
		require.NoError(t, err, tt.stage)
		if tt.current == "" {
			assert.Nil(t, cur, tt.stage)
		} else {
			require.NotNil(t, cur, tt.stage)
			assert.Equal(t, tt.current, cur.ElementName)
		}
		if tt.next == "" {
			assert.Nil(t, next, tt.stage)
		} else {
			require.NotNil(t, next, tt.stage)
			assert.Equal(t, tt.next, next.ElementName)
		}
	}
}

func TestMissingElementIsRecoverable(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	// typesetting is registered but not part of the default workflow.
	a := f.article(t, "a1", stage.TypesettingPlugin)
	cur, err := f.router.CurrentElement(f.ctx, a)
	assert.Nil(t, cur)
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "typesetting", cfgErr.Element)
	assert.True(t, errors.Is(err, ErrMisconfigured))

	url, err := f.router.ReentryURL(f.ctx, a)
	assert.Equal(t, "?workflow_element_url=no_element", url)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestReentryURL(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	tests := []struct {
		stage stage.Stage
		want  string
	}{
		{stage.Unassigned, "/review/unassigned/x0"},
		{stage.Rejected, "/manage/archive/x1"},
		{stage.Published, "/manage/archive/x2"},
		{stage.UnderReview, "/review/article/x3"},
		{stage.Proofing, "/proofing/article/x4"},
	}
	for i, tt := range tests {
		a := f.article(t, "x"+string(rune('0'+i)), tt.stage)
		url, err := f.router.ReentryURL(f.ctx, a)
		require.NoError(t, err)
		assert.Equal(t, tt.want, url)
	}
	a := f.article(t, "x9", stage.Unsubmitted)
	url, err := f.router.ReentryURL(f.ctx, a)
	assert.Equal(t, "?workflow_element_url=no_element", url)
	assert.ErrorIs(t, err, ErrMisconfigured)
}

func TestAdvance(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	step, err := f.router.Advance(f.ctx, "j1", "a1", "review", "")
	require.NoError(t, err)
	require.NotNil(t, step.Next)
	assert.Equal(t, "copyediting", step.Next.ElementName)
	assert.Equal(t, "/copyediting/a1", step.URL)

	step, err = f.router.Advance(f.ctx, "j1", "a1", "", "/production/{article_id}")
	require.NoError(t, err)
	assert.Equal(t, "proofing", step.Next.ElementName)

	step, err = f.router.Advance(f.ctx, "j1", "a1", "prepublication", "")
	require.NoError(t, err)
	assert.Nil(t, step.Next)
	assert.Equal(t, DashboardURL, step.URL)

	step, err = f.router.Advance(f.ctx, "j1", "a1", "typesetting", "")
	assert.ErrorIs(t, err, ErrMisconfigured)
	assert.Equal(t, DashboardURL, step.URL)
}

func TestReorder(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	order := []string{"review", "copyediting", "proofing", "production", "prepublication"}
	require.NoError(t, Reorder(f.ctx, nil, f.repo, "j1", order))
	a := f.article(t, "a1", stage.FinalCopyediting)
	next, err := f.router.NextElement(f.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "proofing", next.ElementName)

	assert.Error(t, Reorder(f.ctx, nil, f.repo, "j1", []string{"review"}))
	assert.ErrorIs(t, Reorder(f.ctx, nil, f.repo, "j1", []string{"review", "copyediting", "proofing", "production", "bogus"}), repo.ErrNotFound)
}

func TestPluginElementsAndStages(t *testing.T) {
	cfg := config.Default("j2")
	cfg.Plugins = []config.Plugin{{
		Name: "typeset-plus",
		Stages: []config.PluginStage{{
			Name: "typeset_plus",
			From: []string{string(stage.Accepted)},
			To:   []string{string(stage.PrePublication)},
		}},
		Elements: []config.PluginElement{{
			Name:         "typeset-plus",
			Stage:        "typeset_plus",
			HandshakeURL: "/plugins/typeset-plus/{article_id}",
			JumpURL:      "/plugins/typeset-plus/article/{article_id}",
		}},
	}}
	cfg.Workflow.Elements = []string{"review", "typeset-plus", "prepublication"}
	require.NoError(t, cfg.Validate())
	f := newFixture(t, cfg)

	assert.True(t, f.router.Stages.Allowed(stage.Accepted, "typeset_plus"))
	a := f.article(t, "p1", "typeset_plus")
	url, err := f.router.ReentryURL(f.ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "/plugins/typeset-plus/article/p1", url)

	a2 := f.article(t, "p2", stage.Accepted)
	next, err := f.router.NextElement(f.ctx, a2)
	require.NoError(t, err)
	assert.Equal(t, "typeset-plus", next.ElementName)
	assert.Equal(t, "typeset_plus", next.Stage)
}

func TestRegistryRejectsConflicts(t *testing.T) {
	stages := stage.Default()
	_, err := NewRegistry(stages, []config.Plugin{{Name: "x", Elements: []config.PluginElement{{Name: "review", Stage: string(stage.Proofing)}}}})
	assert.Error(t, err)
	_, err = NewRegistry(stages, []config.Plugin{{Name: "x", Elements: []config.PluginElement{{Name: "y", Stage: "missing"}}}})
	assert.ErrorIs(t, err, stage.ErrUnknownStage)
	_, err = NewRegistry(stages, []config.Plugin{{Name: "x", Elements: []config.PluginElement{{Name: "y", Stage: string(stage.Proofing)}}}})
	assert.Error(t, err)
}

func TestBoard(t *testing.T) {
	f := newFixture(t, config.Default("j1"))
	f.article(t, "r1", stage.UnderReview)
	f.article(t, "r2", stage.Assigned)
	f.article(t, "c1", stage.EditorCopyediting)
	f.article(t, "u1", stage.Unassigned)
	cols, err := f.router.Board(f.ctx, "j1")
	require.NoError(t, err)
	require.Len(t, cols, 5)
	assert.Equal(t, "review", cols[0].Element.ElementName)
	assert.Len(t, cols[0].Articles, 2)
	assert.Len(t, cols[1].Articles, 1)
	assert.Empty(t, cols[2].Articles)
}
