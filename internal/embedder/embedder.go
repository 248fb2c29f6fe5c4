package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Common errors
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrProviderFailed        = errors.New("embedding provider failed")
	ErrUnsupportedProvider   = errors.New("unsupported provider")
	ErrEmptyText             = errors.New("text cannot be empty")
	ErrBatchTooLarge         = errors.New("batch size exceeds limit")
	ErrNoProviderEnabled     = errors.New("no embedding provider configured")
	ErrMalformedResponse     = errors.New("malformed provider response")
	ErrAllProvidersExhausted = errors.New("all embedding providers failed")
)

// Embedding represents a vector embedding returned by a single provider
type Embedding struct {
	Vector    []float32
	Dimension int
	Provider  string
	Model     string
}

// EmbeddingRequest represents a request to generate embeddings
type EmbeddingRequest struct {
	Text  string
	Model string // Optional: override default model
}

// BatchEmbeddingRequest represents a batch request
type BatchEmbeddingRequest struct {
	Texts []string
	Model string // Optional: override default model
}

// BatchEmbeddingResponse represents a batch response
type BatchEmbeddingResponse struct {
	Embeddings []*Embedding
	Provider   string
	Model      string
}

// Embedder is the capability every fingerprint provider implements
type Embedder interface {
	// GenerateEmbedding generates a single embedding for the given text
	GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error)

	// Dimension returns the embedding dimension for this provider
	Dimension() int

	// Provider returns the provider name
	Provider() string

	// Model returns the model name
	Model() string

	// Close releases any resources held by the embedder
	Close() error
}

// BatchEmbedder is implemented by providers with a native batch endpoint
type BatchEmbedder interface {
	GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error)
}

// TokenLimiter is implemented by providers that cap input length
type TokenLimiter interface {
	MaxInputTokens() int
}

// ValidateRequest validates an embedding request
func ValidateRequest(req EmbeddingRequest) error {
	if strings.TrimSpace(req.Text) == "" {
		return ErrEmptyText
	}
	return nil
}

// ValidateBatchRequest validates a batch embedding request
func ValidateBatchRequest(req BatchEmbeddingRequest) error {
	if len(req.Texts) == 0 {
		return fmt.Errorf("%w: no texts provided", ErrInvalidInput)
	}

	for i, text := range req.Texts {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	return nil
}

// NormalizeText collapses runs of whitespace to single spaces and trims the ends
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Truncate keeps the first maxTokens words of normalized text. It reports
// whether anything was cut and the original word count.
func Truncate(normalized string, maxTokens int) (string, bool, int) {
	words := strings.Fields(normalized)
	if maxTokens <= 0 || len(words) <= maxTokens {
		return normalized, false, len(words)
	}
	return strings.Join(words[:maxTokens], " "), true, len(words)
}

// NormalizeVector normalizes a vector to unit length (for cosine similarity)
func NormalizeVector(v []float32) []float32 {
	var sum float64
	for _, val := range v {
		sum += float64(val) * float64(val)
	}

	if sum == 0 {
		return v
	}

	norm := math.Sqrt(sum)
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = float32(float64(val) / norm)
	}

	return result
}
