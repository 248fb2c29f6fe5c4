package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/concordance/internal/cache"
	"github.com/dshills/concordance/pkg/types"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultConcurrency bounds in-flight provider calls when not configured
const DefaultConcurrency = 8

// ProviderError is the last error one provider returned
type ProviderError struct {
	Provider string
	Model    string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ExhaustedError is returned when every provider in the chain failed
type ExhaustedError struct {
	Errors []*ProviderError
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Errors))
	for i, pe := range e.Errors {
		parts[i] = pe.Error()
	}
	return fmt.Sprintf("%v: %s", ErrAllProvidersExhausted, strings.Join(parts, "; "))
}

// Is matches ErrAllProvidersExhausted
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

// Unwrap exposes each provider's error to errors.Is and errors.As
func (e *ExhaustedError) Unwrap() []error {
	errs := make([]error, len(e.Errors))
	for i, pe := range e.Errors {
		errs[i] = pe
	}
	return errs
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithCache enables content-addressed fingerprint caching
func WithCache(c *cache.FingerprintCache) GatewayOption {
	return func(g *Gateway) {
		g.cache = c
	}
}

// WithConcurrency caps in-flight provider calls across all callers
func WithConcurrency(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

// WithRateLimit paces calls to one provider with a token bucket
func WithRateLimit(provider string, perSecond float64, burst int) GatewayOption {
	return func(g *Gateway) {
		if perSecond <= 0 {
			return
		}
		g.limiters[provider] = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
	}
}

// WithBatchSize sets the chunk size for native batch calls
func WithBatchSize(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.batchSize = min(n, MaxBatchSize)
		}
	}
}

// WithTokenLimit sets the truncation limit for providers that do not declare one
func WithTokenLimit(n int) GatewayOption {
	return func(g *Gateway) {
		g.tokenLimit = n
	}
}

// WithLogger sets the logger used for fallback events
func WithLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// Gateway turns text into fingerprints through an ordered chain of providers
type Gateway struct {
	providers   []Embedder
	cache       *cache.FingerprintCache
	limiters    map[string]*rate.Limiter
	sem         *semaphore.Weighted
	concurrency int
	batchSize   int
	tokenLimit  int
	logger      *slog.Logger
}

// NewGateway creates a gateway trying providers in the given order
func NewGateway(providers []Embedder, opts ...GatewayOption) (*Gateway, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviderEnabled
	}

	g := &Gateway{
		providers:   providers,
		limiters:    make(map[string]*rate.Limiter),
		concurrency: DefaultConcurrency,
		batchSize:   DefaultBatchSize,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.sem = semaphore.NewWeighted(int64(g.concurrency))
	return g, nil
}

// Providers returns the chain in fallback order
func (g *Gateway) Providers() []Embedder {
	return g.providers
}

// Embed returns the fingerprint of text from the first provider that succeeds
func (g *Gateway) Embed(ctx context.Context, text string) (*types.Fingerprint, error) {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil, ErrEmptyText
	}

	for _, p := range g.providers {
		if fp, ok := g.cached(normalized, p); ok {
			return fp, nil
		}
	}

	var events []types.FallbackEvent
	var failures []*ProviderError

	for _, p := range g.providers {
		fps, err := g.generate(ctx, p, []string{normalized})
		if err == nil && ctx.Err() != nil {
			// The caller gave up while the provider was answering; nothing is cached
			return nil, ctx.Err()
		}
		if err == nil {
			fp := fps[0]
			fp.Fallbacks = events
			g.store(normalized, fp)
			return fp, nil
		}
		if isCallerDone(ctx, err) {
			return nil, ctx.Err()
		}
		events, failures = g.recordFailure(p, err, events, failures)
	}

	return nil, &ExhaustedError{Errors: failures}
}

// EmbedBatch returns fingerprints for texts in order. One provider serves the
// whole batch so every fingerprint shares its dimensionality.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([]*types.Fingerprint, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	normalized := make([]string, len(texts))
	for i, t := range texts {
		normalized[i] = NormalizeText(t)
		if normalized[i] == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrInvalidInput, i)
		}
	}

	for _, p := range g.providers {
		if fps, missing := g.cachedBatch(normalized, p); len(missing) == 0 {
			return fps, nil
		}
	}

	var events []types.FallbackEvent
	var failures []*ProviderError

	for _, p := range g.providers {
		fps, err := g.embedBatchWith(ctx, p, normalized)
		if err == nil {
			for _, fp := range fps {
				if !fp.Cached {
					fp.Fallbacks = append([]types.FallbackEvent(nil), events...)
				}
			}
			return fps, nil
		}
		if isCallerDone(ctx, err) {
			return nil, ctx.Err()
		}
		events, failures = g.recordFailure(p, err, events, failures)
	}

	return nil, &ExhaustedError{Errors: failures}
}

// embedBatchWith fills cache misses for one provider and stores the results
func (g *Gateway) embedBatchWith(ctx context.Context, p Embedder, normalized []string) ([]*types.Fingerprint, error) {
	fps, missing := g.cachedBatch(normalized, p)
	if len(missing) == 0 {
		return fps, nil
	}

	inputs := make([]string, len(missing))
	for i, idx := range missing {
		inputs[i] = normalized[idx]
	}

	var generated []*types.Fingerprint
	for start := 0; start < len(inputs); start += g.batchSize {
		end := min(start+g.batchSize, len(inputs))
		out, err := g.generate(ctx, p, inputs[start:end])
		if err != nil {
			return nil, err
		}
		generated = append(generated, out...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for i, idx := range missing {
		fps[idx] = generated[i]
		g.store(normalized[idx], generated[i])
	}
	return fps, nil
}

// generate calls one provider for texts, natively batched when supported
func (g *Gateway) generate(ctx context.Context, p Embedder, texts []string) ([]*types.Fingerprint, error) {
	limit := g.tokenLimit
	if tl, ok := p.(TokenLimiter); ok && tl.MaxInputTokens() > 0 {
		limit = tl.MaxInputTokens()
	}

	inputs := make([]string, len(texts))
	truncated := make([]bool, len(texts))
	original := make([]int, len(texts))
	for i, t := range texts {
		inputs[i], truncated[i], original[i] = Truncate(t, limit)
	}

	var embs []*Embedding
	if be, ok := p.(BatchEmbedder); ok {
		resp, err := g.call(ctx, p, func() (*BatchEmbeddingResponse, error) {
			return be.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: inputs})
		})
		if err != nil {
			return nil, err
		}
		embs = resp.Embeddings
	} else {
		embs = make([]*Embedding, len(inputs))
		for i, in := range inputs {
			resp, err := g.call(ctx, p, func() (*BatchEmbeddingResponse, error) {
				emb, err := p.GenerateEmbedding(ctx, EmbeddingRequest{Text: in})
				if err != nil {
					return nil, err
				}
				return &BatchEmbeddingResponse{Embeddings: []*Embedding{emb}}, nil
			})
			if err != nil {
				return nil, err
			}
			embs[i] = resp.Embeddings[0]
		}
	}

	if len(embs) != len(inputs) {
		return nil, fmt.Errorf("%w: %d embeddings for %d inputs", ErrMalformedResponse, len(embs), len(inputs))
	}

	fps := make([]*types.Fingerprint, len(embs))
	for i, emb := range embs {
		if err := validateEmbedding(p, emb); err != nil {
			return nil, err
		}
		fps[i] = &types.Fingerprint{
			Vector:    emb.Vector,
			Dimension: len(emb.Vector),
			Provider:  p.Provider(),
			Model:     p.Model(),
			Hash:      cache.FingerprintKey(texts[i], p.Provider(), p.Model()),
		}
		if truncated[i] {
			fps[i].Truncated = true
			fps[i].OriginalTokens = original[i]
		}
	}
	return fps, nil
}

// call runs fn under the concurrency cap and the provider's rate limit
func (g *Gateway) call(ctx context.Context, p Embedder, fn func() (*BatchEmbeddingResponse, error)) (*BatchEmbeddingResponse, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)

	if lim, ok := g.limiters[p.Provider()]; ok {
		if err := lim.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	resp, err := fn()
	if err != nil {
		return nil, err
	}
	if resp == nil || len(resp.Embeddings) == 0 {
		return nil, fmt.Errorf("%w: no embeddings returned", ErrMalformedResponse)
	}
	for _, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("%w: nil embedding", ErrMalformedResponse)
		}
	}
	return resp, nil
}

func validateEmbedding(p Embedder, emb *Embedding) error {
	if len(emb.Vector) == 0 {
		return fmt.Errorf("%w: empty vector", ErrMalformedResponse)
	}
	if want := p.Dimension(); want > 0 && len(emb.Vector) != want {
		return fmt.Errorf("%w: expected dimension %d, got %d", ErrMalformedResponse, want, len(emb.Vector))
	}
	return nil
}

func (g *Gateway) cached(normalized string, p Embedder) (*types.Fingerprint, bool) {
	if g.cache == nil {
		return nil, false
	}
	fp, ok := g.cache.Get(cache.FingerprintKey(normalized, p.Provider(), p.Model()))
	if !ok {
		return nil, false
	}
	fp.Cached = true
	fp.Fallbacks = nil
	return fp, true
}

// cachedBatch returns the cached fingerprints for p and the indexes of misses
func (g *Gateway) cachedBatch(normalized []string, p Embedder) ([]*types.Fingerprint, []int) {
	fps := make([]*types.Fingerprint, len(normalized))
	var missing []int
	for i, text := range normalized {
		if fp, ok := g.cached(text, p); ok {
			fps[i] = fp
			continue
		}
		missing = append(missing, i)
	}
	return fps, missing
}

func (g *Gateway) store(normalized string, fp *types.Fingerprint) {
	if g.cache == nil {
		return
	}
	stored := fp.Clone()
	stored.Fallbacks = nil
	stored.Cached = false
	g.cache.Set(cache.FingerprintKey(normalized, fp.Provider, fp.Model), stored)
}

func (g *Gateway) recordFailure(p Embedder, err error, events []types.FallbackEvent, failures []*ProviderError) ([]types.FallbackEvent, []*ProviderError) {
	g.logger.Warn("embedding provider failed, falling through",
		"provider", p.Provider(),
		"model", p.Model(),
		"reason", err.Error())

	events = append(events, types.FallbackEvent{
		Provider: p.Provider(),
		Model:    p.Model(),
		Reason:   err.Error(),
	})
	failures = append(failures, &ProviderError{Provider: p.Provider(), Model: p.Model(), Err: err})
	return events, failures
}

// isCallerDone distinguishes caller cancellation from a provider's own
// timeout. Once the caller's context is done no provider is tried again.
func isCallerDone(ctx context.Context, _ error) bool {
	return ctx.Err() != nil
}

// Close releases every provider
func (g *Gateway) Close() error {
	var errs []error
	for _, p := range g.providers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Provider(), err))
		}
	}
	return errors.Join(errs...)
}
