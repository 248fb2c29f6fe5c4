package embedder

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// EnvProviders selects the provider chain, comma separated in fallback order
const EnvProviders = "CONCORDANCE_EMBEDDING_PROVIDERS"

// ProviderConfig holds the settings for one provider in the chain
type ProviderConfig struct {
	Name           string        `mapstructure:"name"`
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	Dimensions     int           `mapstructure:"dimensions"`
	MaxInputTokens int           `mapstructure:"max_input_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
	RateLimit      float64       `mapstructure:"rate_limit"` // Requests per second; 0 disables
	Burst          int           `mapstructure:"burst"`
}

// New creates one provider from explicit configuration
func New(cfg ProviderConfig) (Embedder, error) {
	switch strings.ToLower(cfg.Name) {
	case ProviderJina, ProviderOpenAI:
		opts := httpOptions(cfg)
		if strings.EqualFold(cfg.Name, ProviderJina) {
			return NewJinaProvider(cfg.APIKey, opts...)
		}
		return NewOpenAIProvider(cfg.APIKey, opts...)
	case ProviderOllama:
		return NewOllamaProvider(cfg.BaseURL, cfg.Model, cfg.Dimensions, cfg.MaxInputTokens)
	case ProviderOpenAICompatible:
		return NewOpenAICompatibleProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, cfg.Dimensions, cfg.MaxInputTokens)
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Name)
	}
}

func httpOptions(cfg ProviderConfig) []HTTPOption {
	var opts []HTTPOption
	if cfg.BaseURL != "" {
		opts = append(opts, WithEndpoint(cfg.BaseURL))
	}
	if cfg.Model != "" {
		opts = append(opts, WithModel(cfg.Model))
	}
	if cfg.Dimensions > 0 {
		opts = append(opts, WithDimension(cfg.Dimensions))
	}
	if cfg.MaxInputTokens > 0 {
		opts = append(opts, WithMaxInputTokens(cfg.MaxInputTokens))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}
	return opts
}

// NewChain creates every configured provider in order. Any construction
// failure closes the providers already built.
func NewChain(cfgs []ProviderConfig) ([]Embedder, error) {
	if len(cfgs) == 0 {
		return nil, ErrNoProviderEnabled
	}
	chain := make([]Embedder, 0, len(cfgs))
	for _, cfg := range cfgs {
		p, err := New(cfg)
		if err != nil {
			for _, built := range chain {
				_ = built.Close()
			}
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		chain = append(chain, p)
	}
	return chain, nil
}

// ChainFromEnv returns provider configs based on environment variables
// Priority:
// 1. CONCORDANCE_EMBEDDING_PROVIDERS (e.g. "jina,openai,local")
// 2. Check for API keys: JINA_API_KEY, OPENAI_API_KEY
// 3. The local provider always ends an auto-detected chain
func ChainFromEnv() []ProviderConfig {
	var cfgs []ProviderConfig
	for _, name := range strings.Split(os.Getenv(EnvProviders), ",") {
		if name = strings.TrimSpace(strings.ToLower(name)); name != "" {
			cfgs = append(cfgs, ProviderConfig{Name: name})
		}
	}
	if len(cfgs) > 0 {
		return cfgs
	}

	if os.Getenv(EnvJinaAPIKey) != "" {
		cfgs = append(cfgs, ProviderConfig{Name: ProviderJina})
	}
	if os.Getenv(EnvOpenAIAPIKey) != "" {
		cfgs = append(cfgs, ProviderConfig{Name: ProviderOpenAI})
	}
	return append(cfgs, ProviderConfig{Name: ProviderLocal})
}

// DetectProvider returns the first provider that would be used based on current environment
func DetectProvider() string {
	return ChainFromEnv()[0].Name
}
