package embedder

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Defaults for langchaingo-backed providers
const (
	DefaultOllamaURL   = "http://localhost:11434"
	DefaultOllamaModel = "nomic-embed-text"
)

// LangChainProvider implements Embedder over a langchaingo embeddings client.
// It serves Ollama and any OpenAI-compatible embedding host.
type LangChainProvider struct {
	name      string
	model     string
	dimension int
	maxTokens int
	embedder  embeddings.Embedder
}

var (
	_ BatchEmbedder = (*LangChainProvider)(nil)
	_ TokenLimiter  = (*LangChainProvider)(nil)
)

// NewOllamaProvider creates an embedder backed by an Ollama server
func NewOllamaProvider(serverURL, model string, dimension, maxTokens int) (*LangChainProvider, error) {
	if serverURL == "" {
		serverURL = DefaultOllamaURL
	}
	if model == "" {
		model = DefaultOllamaModel
	}

	client, err := ollama.New(ollama.WithServerURL(serverURL), ollama.WithModel(model))
	if err != nil {
		return nil, fmt.Errorf("create ollama client: %w", err)
	}
	return newLangChainProvider(ProviderOllama, model, dimension, maxTokens, client)
}

// NewOpenAICompatibleProvider creates an embedder for a self-hosted
// OpenAI-compatible service. An empty token sends "none".
func NewOpenAICompatibleProvider(baseURL, token, model string, dimension, maxTokens int) (*LangChainProvider, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("%w: base URL is required for %s", ErrInvalidInput, ProviderOpenAICompatible)
	}
	if model == "" {
		return nil, fmt.Errorf("%w: model is required for %s", ErrInvalidInput, ProviderOpenAICompatible)
	}
	if token == "" {
		token = "none"
	}

	client, err := openai.New(
		openai.WithBaseURL(baseURL),
		openai.WithToken(token),
		openai.WithEmbeddingModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("create openai-compatible client: %w", err)
	}
	return newLangChainProvider(ProviderOpenAICompatible, model, dimension, maxTokens, client)
}

func newLangChainProvider(name, model string, dimension, maxTokens int, client embeddings.EmbedderClient) (*LangChainProvider, error) {
	emb, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true), embeddings.WithBatchSize(DefaultBatchSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return &LangChainProvider{
		name:      name,
		model:     model,
		dimension: dimension,
		maxTokens: maxTokens,
		embedder:  emb,
	}, nil
}

func (p *LangChainProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := p.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (p *LangChainProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, req.Texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrProviderFailed, p.name, err)
	}
	if len(vectors) != len(req.Texts) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrMalformedResponse, len(vectors), len(req.Texts))
	}

	out := make([]*Embedding, len(vectors))
	for i, v := range vectors {
		out[i] = &Embedding{
			Vector:    v,
			Dimension: len(v),
			Provider:  p.name,
			Model:     p.model,
		}
	}
	return &BatchEmbeddingResponse{Embeddings: out, Provider: p.name, Model: p.model}, nil
}

// Dimension is the configured vector length; 0 accepts whatever the model returns
func (p *LangChainProvider) Dimension() int {
	return p.dimension
}

func (p *LangChainProvider) Provider() string {
	return p.name
}

func (p *LangChainProvider) Model() string {
	return p.model
}

func (p *LangChainProvider) MaxInputTokens() int {
	return p.maxTokens
}

func (p *LangChainProvider) Close() error {
	return nil
}
