package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/concordance/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockEmbedder is a scripted provider for gateway tests
type mockEmbedder struct {
	name  string
	model string
	dim   int

	// returnDim overrides the length of returned vectors
	returnDim int
	fail      error
	delay     time.Duration

	mu        sync.Mutex
	callCount int
	inputs    []string

	inflight    int32
	maxInflight int32
}

func newMock(name string, dim int) *mockEmbedder {
	return &mockEmbedder{name: name, model: name + "-model", dim: dim}
}

func (m *mockEmbedder) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	cur := atomic.AddInt32(&m.inflight, 1)
	defer atomic.AddInt32(&m.inflight, -1)
	for {
		prev := atomic.LoadInt32(&m.maxInflight)
		if cur <= prev || atomic.CompareAndSwapInt32(&m.maxInflight, prev, cur) {
			break
		}
	}

	m.mu.Lock()
	m.callCount++
	m.inputs = append(m.inputs, req.Text)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.fail != nil {
		return nil, m.fail
	}

	n := m.dim
	if m.returnDim > 0 {
		n = m.returnDim
	}
	vec := make([]float32, n)
	for i := range vec {
		vec[i] = float32(len(req.Text)+i) / 100
	}
	return &Embedding{Vector: vec, Dimension: n, Provider: m.name, Model: m.model}, nil
}

func (m *mockEmbedder) Dimension() int   { return m.dim }
func (m *mockEmbedder) Provider() string { return m.name }
func (m *mockEmbedder) Model() string    { return m.model }
func (m *mockEmbedder) Close() error     { return nil }

func (m *mockEmbedder) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// batchMock adds a native batch endpoint
type batchMock struct {
	*mockEmbedder
	batchCalls int32
	batchSizes []int
	bmu        sync.Mutex
}

func (b *batchMock) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	atomic.AddInt32(&b.batchCalls, 1)
	b.bmu.Lock()
	b.batchSizes = append(b.batchSizes, len(req.Texts))
	b.bmu.Unlock()

	out := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		emb, err := b.mockEmbedder.GenerateEmbedding(ctx, EmbeddingRequest{Text: text})
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return &BatchEmbeddingResponse{Embeddings: out, Provider: b.name, Model: b.model}, nil
}

// limitedMock declares a token limit
type limitedMock struct {
	*mockEmbedder
	limit int
}

func (l *limitedMock) MaxInputTokens() int { return l.limit }

func newTestCache() *cache.FingerprintCache {
	return cache.NewFingerprintCache(100, time.Hour, nil, nil)
}

func TestGateway_NoProviders(t *testing.T) {
	_, err := NewGateway(nil)
	assert.ErrorIs(t, err, ErrNoProviderEnabled)
}

func TestGateway_FallbackEvent(t *testing.T) {
	a := newMock("a", 4)
	a.fail = errors.New("quota exceeded")
	b := newMock("b", 4)

	g, err := NewGateway([]Embedder{a, b})
	require.NoError(t, err)

	fp, err := g.Embed(context.Background(), "being")
	require.NoError(t, err)
	assert.Equal(t, "b", fp.Provider)
	assert.Equal(t, "b-model", fp.Model)
	assert.Equal(t, 4, fp.Dimension)
	require.Len(t, fp.Fallbacks, 1)
	assert.Equal(t, "a", fp.Fallbacks[0].Provider)
	assert.Contains(t, fp.Fallbacks[0].Reason, "quota exceeded")
	assert.Equal(t, 1, a.calls())
	assert.Equal(t, 1, b.calls())
}

func TestGateway_AllProvidersExhausted(t *testing.T) {
	a := newMock("a", 4)
	a.fail = errors.New("timeout")
	b := newMock("b", 4)
	b.fail = errors.New("bad gateway")

	g, err := NewGateway([]Embedder{a, b})
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "being")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Errors, 2)
	assert.Equal(t, "a", exhausted.Errors[0].Provider)
	assert.Equal(t, "b", exhausted.Errors[1].Provider)
	assert.Contains(t, err.Error(), "bad gateway")
}

func TestGateway_DimensionMismatchFallsThrough(t *testing.T) {
	a := newMock("a", 4)
	a.returnDim = 3
	b := newMock("b", 8)

	g, err := NewGateway([]Embedder{a, b})
	require.NoError(t, err)

	fp, err := g.Embed(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "b", fp.Provider)
	require.Len(t, fp.Fallbacks, 1)
	assert.Contains(t, fp.Fallbacks[0].Reason, "dimension")
}

func TestGateway_CacheHitSkipsProviders(t *testing.T) {
	a := newMock("a", 4)
	g, err := NewGateway([]Embedder{a}, WithCache(newTestCache()))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := g.Embed(ctx, "Being,   pure being")
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := g.Embed(ctx, "Being, pure\nbeing")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Vector, second.Vector)
	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, a.calls())
}

func TestGateway_CacheChecksLaterProvidersFirst(t *testing.T) {
	a := newMock("a", 4)
	b := newMock("b", 4)
	c := newTestCache()

	// Populate the cache for b only
	gb, err := NewGateway([]Embedder{b}, WithCache(c))
	require.NoError(t, err)
	_, err = gb.Embed(context.Background(), "nothing")
	require.NoError(t, err)

	g, err := NewGateway([]Embedder{a, b}, WithCache(c))
	require.NoError(t, err)
	fp, err := g.Embed(context.Background(), "nothing")
	require.NoError(t, err)
	assert.Equal(t, "b", fp.Provider)
	assert.Equal(t, 0, a.calls())
	assert.Equal(t, 1, b.calls())
}

func TestGateway_Idempotent(t *testing.T) {
	g, err := NewGateway([]Embedder{NewLocalProvider(0)})
	require.NoError(t, err)

	a, err := g.Embed(context.Background(), "becoming")
	require.NoError(t, err)
	b, err := g.Embed(context.Background(), "becoming")
	require.NoError(t, err)
	assert.Equal(t, a.Vector, b.Vector)
}

func TestGateway_Truncation(t *testing.T) {
	m := &limitedMock{mockEmbedder: newMock("a", 4), limit: 3}
	g, err := NewGateway([]Embedder{m})
	require.NoError(t, err)

	fp, err := g.Embed(context.Background(), "one two three four five")
	require.NoError(t, err)
	assert.True(t, fp.Truncated)
	assert.Equal(t, 5, fp.OriginalTokens)
	assert.Equal(t, []string{"one two three"}, m.inputs)

	fp, err = g.Embed(context.Background(), "one two")
	require.NoError(t, err)
	assert.False(t, fp.Truncated)
}

func TestGateway_TokenLimitOption(t *testing.T) {
	m := newMock("a", 4)
	g, err := NewGateway([]Embedder{m}, WithTokenLimit(2))
	require.NoError(t, err)

	fp, err := g.Embed(context.Background(), "one two three")
	require.NoError(t, err)
	assert.True(t, fp.Truncated)
	assert.Equal(t, []string{"one two"}, m.inputs)
}

func TestGateway_CancellationAborts(t *testing.T) {
	a := newMock("a", 4)
	a.delay = 5 * time.Second
	b := newMock("b", 4)

	g, err := NewGateway([]Embedder{a, b})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err = g.Embed(ctx, "text")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, b.calls())
}

func TestGateway_EmptyText(t *testing.T) {
	g, err := NewGateway([]Embedder{newMock("a", 4)})
	require.NoError(t, err)

	_, err = g.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = g.EmbedBatch(context.Background(), []string{"ok", ""})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestGateway_EmbedBatch(t *testing.T) {
	ctx := context.Background()

	t.Run("native batch chunked", func(t *testing.T) {
		b := &batchMock{mockEmbedder: newMock("b", 4)}
		g, err := NewGateway([]Embedder{b}, WithBatchSize(2))
		require.NoError(t, err)

		texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
		fps, err := g.EmbedBatch(ctx, texts)
		require.NoError(t, err)
		require.Len(t, fps, 5)
		for i, fp := range fps {
			// Vector encodes input length
			assert.InDelta(t, float32(len(texts[i]))/100, fp.Vector[0], 1e-6)
		}
		assert.Equal(t, []int{2, 2, 1}, b.batchSizes)
	})

	t.Run("sequential without batch support", func(t *testing.T) {
		m := newMock("m", 4)
		g, err := NewGateway([]Embedder{m})
		require.NoError(t, err)

		fps, err := g.EmbedBatch(ctx, []string{"x", "yy", "zzz"})
		require.NoError(t, err)
		require.Len(t, fps, 3)
		assert.Equal(t, []string{"x", "yy", "zzz"}, m.inputs)
	})

	t.Run("single provider serves whole batch", func(t *testing.T) {
		a := newMock("a", 4)
		a.fail = errors.New("down")
		b := newMock("b", 8)
		c := newTestCache()

		// "x" is cached for a but a cannot serve "y"
		warm, err := NewGateway([]Embedder{newMock("a", 4)}, WithCache(c))
		require.NoError(t, err)
		_, err = warm.Embed(ctx, "x")
		require.NoError(t, err)

		g, err := NewGateway([]Embedder{a, b}, WithCache(c))
		require.NoError(t, err)

		fps, err := g.EmbedBatch(ctx, []string{"x", "y"})
		require.NoError(t, err)
		for _, fp := range fps {
			assert.Equal(t, "b", fp.Provider)
			assert.Equal(t, 8, fp.Dimension)
			require.Len(t, fp.Fallbacks, 1)
		}
	})

	t.Run("fully cached batch", func(t *testing.T) {
		m := newMock("m", 4)
		g, err := NewGateway([]Embedder{m}, WithCache(newTestCache()))
		require.NoError(t, err)

		_, err = g.EmbedBatch(ctx, []string{"p", "q"})
		require.NoError(t, err)
		fps, err := g.EmbedBatch(ctx, []string{"p", "q"})
		require.NoError(t, err)
		assert.True(t, fps[0].Cached)
		assert.True(t, fps[1].Cached)
		assert.Equal(t, 2, m.calls())
	})

	t.Run("empty", func(t *testing.T) {
		g, err := NewGateway([]Embedder{newMock("m", 4)})
		require.NoError(t, err)
		fps, err := g.EmbedBatch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, fps)
	})
}

func TestGateway_ConcurrencyCap(t *testing.T) {
	m := newMock("m", 4)
	m.delay = 10 * time.Millisecond
	g, err := NewGateway([]Embedder{m}, WithConcurrency(2))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := g.Embed(context.Background(), fmt.Sprintf("text %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&m.maxInflight), int32(2))
	assert.Equal(t, 10, m.calls())
}

func TestGateway_RateLimit(t *testing.T) {
	m := newMock("m", 4)
	g, err := NewGateway([]Embedder{m}, WithRateLimit("m", 50, 1))
	require.NoError(t, err)

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := g.Embed(context.Background(), fmt.Sprintf("t%d", i))
		require.NoError(t, err)
	}
	// Burst of one, then two waits of 20ms
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
