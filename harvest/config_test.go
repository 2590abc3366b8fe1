package harvest

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "data/harvest.db", cfg.DBPath)
	assert.Equal(t, 25, cfg.Forge.RequestsPerWindow)
	assert.Equal(t, time.Minute, cfg.Forge.Window)
	assert.Equal(t, 10, cfg.GenAI.RequestsPerWindow)
	assert.Equal(t, time.Minute, cfg.GenAI.Window)
	assert.Len(t, cfg.Facets.Languages, 10)
	assert.Len(t, cfg.Facets.Licenses, 6)

	p := cfg.PipelineConfig()
	assert.Equal(t, "mcp server", p.SearchText)
	assert.Equal(t, 3, p.ForbiddenBudget)
	assert.Equal(t, 10, p.AIPerWindow)
	assert.Equal(t, time.Minute, p.AIWindow)
}

func TestConfig_YAMLAndEnv(t *testing.T) {
	// WHAT: File values override defaults, environment overrides the file.
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")
	yaml := `
db_path: /var/lib/harvest.db
listen: ":9000"
forge:
  token: file-token
  max_pages: 3
genai:
  requests_per_window: 0
pipeline:
  batch_size: 5
  claim_lease: 2m
facets:
  languages: [go]
  licenses: [mit, apache-2.0]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Chdir(dir)
	t.Setenv("GITHUB_TOKEN", "env-token")
	t.Setenv("PORT", "7070")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/harvest.db", cfg.DBPath)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "env-token", cfg.Forge.Token)
	assert.Equal(t, 3, cfg.Forge.MaxPages)
	assert.Equal(t, 5, cfg.Pipeline.BatchSize)
	assert.Equal(t, 2*time.Minute, cfg.Pipeline.ClaimLease)
	assert.Equal(t, []string{"go"}, cfg.Facets.Languages)

	p := cfg.PipelineConfig()
	assert.Equal(t, -1, p.AIPerWindow, "0 rpm disables the AI limiter")
	assert.Equal(t, 1000, p.MaxEnrichments, "untouched keys keep defaults")
}

func TestConfig_ApplyEnv(t *testing.T) {
	env := map[string]string{
		"HARVEST_DB":       "x.db",
		"LOG_LEVEL":        "debug",
		"GEMINI_API_KEY":   "k",
		"ADMIN_TOKEN_HASH": "$2a$10$hash",
	}
	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv(func(k string) string { return env[k] }))
	assert.Equal(t, "x.db", cfg.DBPath)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "k", cfg.GenAI.APIKey)
	assert.Equal(t, "$2a$10$hash", cfg.AdminTokenHash)

	err := cfg.ApplyEnv(func(k string) string {
		if k == "PORT" {
			return "eighty"
		}
		return ""
	})
	assert.Error(t, err)
}

func TestConfig_LimiterWindows(t *testing.T) {
	// WHAT: Limiter capacity and window come from the forge and genai sections.
	dir := t.TempDir()
	path := filepath.Join(dir, "harvest.yaml")
	yaml := `
forge:
  requests_per_window: 40
  window: 30s
genai:
  requests_per_window: 4
  window: 10s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
	t.Chdir(dir)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	l := cfg.forgeLimiter()
	require.NotNil(t, l)
	assert.Equal(t, 40, l.Limit())
	assert.Equal(t, 30*time.Second, l.Window())

	p := cfg.PipelineConfig()
	assert.Equal(t, 4, p.AIPerWindow)
	assert.Equal(t, 10*time.Second, p.AIWindow)

	cfg.Forge.RequestsPerWindow = 0
	assert.Nil(t, cfg.forgeLimiter())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no db", func(c *Config) { c.DBPath = "" }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
		{"per page", func(c *Config) { c.Forge.PerPage = 500 }},
		{"negative forge limit", func(c *Config) { c.Forge.RequestsPerWindow = -1 }},
		{"negative ai window", func(c *Config) { c.GenAI.Window = -time.Second }},
		{"negative budget", func(c *Config) { c.Pipeline.ForbiddenBudget = -2 }},
		{"fast scheduler", func(c *Config) { c.Scheduler.Enabled = true; c.Scheduler.Interval = time.Second }},
		{"no facets", func(c *Config) { c.Facets.Languages = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
