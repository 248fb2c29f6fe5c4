// Package config loads concordance configuration from an optional file and
// CONCORDANCE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dshills/concordance/internal/embedder"
	"github.com/dshills/concordance/internal/segmenter"
)

// EnvPrefix prefixes every environment override, e.g. CONCORDANCE_DATABASE_PATH
const EnvPrefix = "CONCORDANCE"

// ErrInvalid is returned by Validate for configuration that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database"`
	Providers []embedder.ProviderConfig `mapstructure:"providers"`
	Embedding EmbeddingConfig           `mapstructure:"embedding"`
	Chunking  segmenter.Config          `mapstructure:"chunking"`
	Indexing  IndexingConfig            `mapstructure:"indexing"`
	Search    SearchConfig              `mapstructure:"search"`
	Cache     CacheConfig               `mapstructure:"cache"`
	Source    SourceConfig              `mapstructure:"source"`
	Log       LogConfig                 `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type EmbeddingConfig struct {
	Concurrency int `mapstructure:"concurrency"` // In-flight provider calls
	BatchSize   int `mapstructure:"batch_size"`
	TokenLimit  int `mapstructure:"token_limit"` // For providers that declare none; 0 disables
}

type IndexingConfig struct {
	Concurrency int `mapstructure:"concurrency"` // Documents in flight
	Workers     int `mapstructure:"workers"`     // Segmentation pool size
}

type SearchConfig struct {
	SimilarityThreshold float64       `mapstructure:"similarity_threshold"`
	ResultLimit         int           `mapstructure:"result_limit"`
	Timeout             time.Duration `mapstructure:"timeout"`
	SemanticWeight      float64       `mapstructure:"semantic_weight"`
	OppositionsFile     string        `mapstructure:"oppositions_file"` // TOML merged over the curated table
}

type CacheConfig struct {
	FingerprintSize int           `mapstructure:"fingerprint_size"`
	FingerprintTTL  time.Duration `mapstructure:"fingerprint_ttl"`
	ResultSize      int           `mapstructure:"result_size"`
	ResultTTL       time.Duration `mapstructure:"result_ttl"`
	Dir             string        `mapstructure:"dir"` // Persistent fingerprint tier; empty keeps the cache in memory
}

type SourceConfig struct {
	Dir string `mapstructure:"dir"` // Default document directory for the index command
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultDBPath is the database used when none is configured
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "concordance.db"
	}
	return filepath.Join(home, ".concordance", "concordance.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDBPath())

	v.SetDefault("embedding.concurrency", embedder.DefaultConcurrency)
	v.SetDefault("embedding.batch_size", embedder.DefaultBatchSize)
	v.SetDefault("embedding.token_limit", 0)

	chunking := segmenter.DefaultConfig()
	v.SetDefault("chunking.strategy", string(chunking.Strategy))
	v.SetDefault("chunking.min_tokens", chunking.MinTokens)
	v.SetDefault("chunking.max_tokens", chunking.MaxTokens)
	v.SetDefault("chunking.overlap_tokens", chunking.OverlapTokens)
	v.SetDefault("chunking.preserve_arguments", chunking.PreserveArguments)
	v.SetDefault("chunking.argument_slack", chunking.ArgumentSlack)

	v.SetDefault("indexing.concurrency", 4)
	v.SetDefault("indexing.workers", 4)

	v.SetDefault("search.similarity_threshold", 0.7)
	v.SetDefault("search.result_limit", 20)
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.semantic_weight", 0.7)
	v.SetDefault("search.oppositions_file", "")

	v.SetDefault("cache.fingerprint_size", 10000)
	v.SetDefault("cache.fingerprint_ttl", 24*time.Hour)
	v.SetDefault("cache.result_size", 1000)
	v.SetDefault("cache.result_ttl", time.Hour)
	v.SetDefault("cache.dir", "")

	v.SetDefault("source.dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from path (YAML, TOML or JSON by extension) and
// the environment. An empty path uses defaults and the environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return &cfg, nil
}

// ProviderChain returns the configured providers, or the chain detected from
// the environment when none are configured
func (c *Config) ProviderChain() []embedder.ProviderConfig {
	if len(c.Providers) > 0 {
		return c.Providers
	}
	return embedder.ChainFromEnv()
}

// Validate returns warnings for questionable settings, and an error wrapping
// ErrInvalid for settings that cannot be used
func (c *Config) Validate() ([]string, error) {
	var warnings []string
	var problems []string

	if c.Database.Path == "" {
		problems = append(problems, "database.path is empty")
	}

	for i, p := range c.Providers {
		switch strings.ToLower(p.Name) {
		case embedder.ProviderJina:
			if p.APIKey == "" && os.Getenv(embedder.EnvJinaAPIKey) == "" {
				warnings = append(warnings, fmt.Sprintf("provider %d (jina) has no api_key and %s is not set", i, embedder.EnvJinaAPIKey))
			}
		case embedder.ProviderOpenAI:
			if p.APIKey == "" && os.Getenv(embedder.EnvOpenAIAPIKey) == "" {
				warnings = append(warnings, fmt.Sprintf("provider %d (openai) has no api_key and %s is not set", i, embedder.EnvOpenAIAPIKey))
			}
		case embedder.ProviderOllama, embedder.ProviderOpenAICompatible:
			if p.Model == "" || p.Dimensions <= 0 {
				problems = append(problems, fmt.Sprintf("provider %d (%s) needs model and dimensions", i, p.Name))
			}
		case embedder.ProviderLocal:
		default:
			problems = append(problems, fmt.Sprintf("provider %d: unknown name %q", i, p.Name))
		}
		if p.RateLimit < 0 {
			problems = append(problems, fmt.Sprintf("provider %d: rate_limit is negative", i))
		}
	}

	if err := c.Chunking.Validate(); err != nil {
		problems = append(problems, err.Error())
	} else if normalized := c.Chunking.Normalize(); normalized != c.Chunking {
		warnings = append(warnings, fmt.Sprintf("chunking adjusted: overlap_tokens %d, min_tokens %d", normalized.OverlapTokens, normalized.MinTokens))
	}

	s := c.Search
	if s.SimilarityThreshold > 1 {
		problems = append(problems, fmt.Sprintf("search.similarity_threshold %.2f above 1", s.SimilarityThreshold))
	}
	if s.SemanticWeight < 0 || s.SemanticWeight > 1 {
		problems = append(problems, fmt.Sprintf("search.semantic_weight %.2f outside [0, 1]", s.SemanticWeight))
	}
	if s.ResultLimit > 100 {
		warnings = append(warnings, fmt.Sprintf("search.result_limit %d is capped at 100", s.ResultLimit))
	}
	if s.Timeout < 0 {
		problems = append(problems, "search.timeout is negative")
	}

	if c.Embedding.BatchSize > embedder.MaxBatchSize {
		warnings = append(warnings, fmt.Sprintf("embedding.batch_size %d is capped at %d", c.Embedding.BatchSize, embedder.MaxBatchSize))
	}
	if c.Embedding.Concurrency < 0 || c.Indexing.Concurrency < 0 || c.Indexing.Workers < 0 {
		problems = append(problems, "concurrency settings must not be negative")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if len(problems) > 0 {
		return warnings, fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return warnings, nil
}

// NewLogger builds the slog logger described by c, writing to w
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q must be debug, info, warn or error", s)
}
