package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/concordance/internal/embedder"
	"github.com/dshills/concordance/internal/segmenter"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultDBPath(), cfg.Database.Path)
	assert.Equal(t, segmenter.DefaultConfig(), cfg.Chunking)
	assert.Equal(t, 0.7, cfg.Search.SimilarityThreshold)
	assert.Equal(t, 20, cfg.Search.ResultLimit)
	assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
	assert.Equal(t, embedder.DefaultConcurrency, cfg.Embedding.Concurrency)
	assert.Equal(t, time.Hour, cfg.Cache.ResultTTL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Empty(t, cfg.Providers)

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Empty(t, warnings)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "concordance.yaml", `
database:
  path: /tmp/library.db
providers:
  - name: ollama
    base_url: http://localhost:11434
    model: nomic-embed-text
    dimensions: 768
  - name: local
chunking:
  strategy: paragraph
  max_tokens: 200
  overlap_tokens: 20
search:
  timeout: 5s
  oppositions_file: oppositions.toml
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/library.db", cfg.Database.Path)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "ollama", cfg.Providers[0].Name)
	assert.Equal(t, 768, cfg.Providers[0].Dimensions)
	assert.Equal(t, segmenter.StrategyParagraph, cfg.Chunking.Strategy)
	assert.Equal(t, 200, cfg.Chunking.MaxTokens)
	// Unset keys keep their defaults
	assert.Equal(t, segmenter.DefaultMinTokens, cfg.Chunking.MinTokens)
	assert.Equal(t, 5*time.Second, cfg.Search.Timeout)
	assert.Equal(t, "oppositions.toml", cfg.Search.OppositionsFile)
	assert.Equal(t, cfg.Providers, cfg.ProviderChain())

	_, err = cfg.Validate()
	require.NoError(t, err)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "concordance.toml", `
[search]
result_limit = 50
semantic_weight = 0.5

[cache]
dir = "/var/cache/concordance"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, cfg.Search.ResultLimit)
	assert.Equal(t, 0.5, cfg.Search.SemanticWeight)
	assert.Equal(t, "/var/cache/concordance", cfg.Cache.Dir)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CONCORDANCE_DATABASE_PATH", "/data/env.db")
	t.Setenv("CONCORDANCE_SEARCH_TIMEOUT", "45s")
	t.Setenv("CONCORDANCE_CHUNKING_MAX_TOKENS", "300")

	path := writeConfig(t, "concordance.yaml", "database:\n  path: /data/file.db\n")
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/env.db", cfg.Database.Path)
	assert.Equal(t, 45*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 300, cfg.Chunking.MaxTokens)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config")

	path := writeConfig(t, "bad.yaml", "database: [unclosed")
	_, err = Load(path)
	assert.Error(t, err)
}

func TestProviderChain_FromEnv(t *testing.T) {
	t.Setenv(embedder.EnvProviders, "jina, local")
	cfg := &Config{}

	chain := cfg.ProviderChain()
	require.Len(t, chain, 2)
	assert.Equal(t, embedder.ProviderJina, chain[0].Name)
	assert.Equal(t, embedder.ProviderLocal, chain[1].Name)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name        string
		mutate      func(*Config)
		wantErr     string
		wantWarning string
	}{
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database.path", ""},
		{"unknown provider", func(c *Config) { c.Providers = []embedder.ProviderConfig{{Name: "carrier-pigeon"}} }, "unknown name", ""},
		{"ollama without model", func(c *Config) { c.Providers = []embedder.ProviderConfig{{Name: "ollama"}} }, "needs model", ""},
		{"negative rate limit", func(c *Config) { c.Providers = []embedder.ProviderConfig{{Name: "local", RateLimit: -1}} }, "rate_limit", ""},
		{"bad chunking", func(c *Config) { c.Chunking.MaxTokens = 0 }, "max_tokens", ""},
		{"threshold above one", func(c *Config) { c.Search.SimilarityThreshold = 1.2 }, "similarity_threshold", ""},
		{"weight out of range", func(c *Config) { c.Search.SemanticWeight = -0.1 }, "semantic_weight", ""},
		{"negative timeout", func(c *Config) { c.Search.Timeout = -time.Second }, "timeout", ""},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level", ""},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format", ""},
		{"negative workers", func(c *Config) { c.Indexing.Workers = -1 }, "concurrency", ""},
		{"result limit capped", func(c *Config) { c.Search.ResultLimit = 500 }, "", "capped at 100"},
		{"batch size capped", func(c *Config) { c.Embedding.BatchSize = 1000 }, "", "batch_size"},
		{"overlap clamped", func(c *Config) { c.Chunking.OverlapTokens = 1000 }, "", "chunking adjusted"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)

			warnings, err := cfg.Validate()
			if tt.wantErr != "" {
				assert.ErrorIs(t, err, ErrInvalid)
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			if tt.wantWarning != "" {
				require.NotEmpty(t, warnings)
				assert.Contains(t, warnings[0], tt.wantWarning)
			}
		})
	}
}

func TestValidate_MissingAPIKeyWarns(t *testing.T) {
	t.Setenv(embedder.EnvJinaAPIKey, "")
	cfg, err := Load("")
	require.NoError(t, err)
	cfg.Providers = []embedder.ProviderConfig{{Name: "jina"}, {Name: "local"}}

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], embedder.EnvJinaAPIKey)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer

	logger, err := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Info("hidden")
	logger.Warn("shown", "key", "value")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger, err = LogConfig{Level: "debug"}.NewLogger(&buf)
	require.NoError(t, err)
	logger.Debug("text line")
	assert.Contains(t, buf.String(), "msg=\"text line\"")

	_, err = LogConfig{Level: "verbose"}.NewLogger(&buf)
	assert.Error(t, err)
}
