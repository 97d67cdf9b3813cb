package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default("jdoe")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "jdoe", cfg.Journal.ID)
	assert.Equal(t, []string{"review", "copyediting", "production", "proofing", "prepublication"}, cfg.Workflow.Elements)
	assert.True(t, cfg.Policy("review").AllowSaveProgress)
	assert.False(t, cfg.Policy("proofing").AllowSaveProgress)
	assert.Equal(t, 7, cfg.Policy("proofing").DefaultDueDays)
	assert.Equal(t, TaskPolicy{}, cfg.Policy("unknown"))
	assert.Equal(t, 10*time.Second, cfg.Identifiers.DOI.TimeoutDuration())
}

func TestDefaultQuotesJournalID(t *testing.T) {
	for _, id := range []string{"j1", "press: review", "#hash", `say "hi"`} {
		cfg := Default(id)
		assert.Equal(t, id, cfg.Journal.ID)
		assert.Equal(t, id, cfg.Journal.Name)
		require.NoError(t, cfg.Validate(), id)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing journal", func(c *Config) { c.Journal.ID = "" }},
		{"no elements", func(c *Config) { c.Workflow.Elements = nil }},
		{"duplicate element", func(c *Config) { c.Workflow.Elements = []string{"review", "review"} }},
		{"unknown family", func(c *Config) { c.Tasks["layout"] = TaskPolicy{} }},
		{"negative due", func(c *Config) { c.Tasks["review"] = TaskPolicy{DefaultDueDays: -1} }},
		{"webhook url", func(c *Config) { c.Webhooks = []WebhookConfig{{}} }},
		{"doi endpoint", func(c *Config) { c.Identifiers.DOI.Enabled = true }},
		{"doi timeout", func(c *Config) { c.Identifiers.DOI.Timeout = "soon" }},
		{"plugin element", func(c *Config) {
			c.Plugins = []Plugin{{Name: "tp", Elements: []PluginElement{{Name: "x", Stage: "y"}}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default("j")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestFromFileAndRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journalflow.yml")
	yml := GenerateDefault("olh") + `
plugins:
  - name: typesetting
    elements:
      - name: typesetting
        stage: typesetting_plugin
        handshake_url: /plugins/typesetting/articles
        jump_url: /plugins/typesetting/article/{article_id}
    stages:
      - name: typesetting_review
        from: [typesetting_plugin]
        to: [pre_publication]
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))
	cfg, err := FromFile(path)
	require.NoError(t, err)
	require.Len(t, cfg.Plugins, 1)
	assert.Equal(t, "typesetting_plugin", cfg.Plugins[0].Elements[0].Stage)
	assert.Equal(t, []string{"pre_publication"}, cfg.Plugins[0].Stages[0].To)

	out, err := cfg.ToYAML()
	require.NoError(t, err)
	again, err := FromYAML(out)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)

	loaded, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Equal(t, "olh", loaded.Journal.ID)

	missing, err := LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestNATSSubject(t *testing.T) {
	assert.Equal(t, "journalflow.j1.StageChanged", NATSConfig{}.Subject("j1", "StageChanged"))
	assert.Equal(t, "jf.j1.ArticlePublished", NATSConfig{SubjectPrefix: "jf"}.Subject("j1", "ArticlePublished"))
}
