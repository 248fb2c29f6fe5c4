package searcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dshills/concordance/internal/cache"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

var (
	// ErrInvalidQuery is returned for an empty or overlong query, an unknown
	// mode, or out-of-range options
	ErrInvalidQuery = errors.New("invalid query")

	// ErrCancelled is returned when the caller cancels a search
	ErrCancelled = errors.New("search cancelled")

	// ErrSearchTimeout is returned when a search exceeds its timeout
	ErrSearchTimeout = errors.New("search timeout")
)

// Mode selects the post-processing applied to retrieved candidates
type Mode string

const (
	ModeSemantic     Mode = "semantic"     // Similarity order only
	ModeDialectical  Mode = "dialectical"  // Direct matches, then passages on opposed concepts
	ModeGenealogical Mode = "genealogical" // Chronological by document date
	ModeHybrid       Mode = "hybrid"       // Weighted semantic + lexical overlap
)

// Valid reports whether m is a known mode
func (m Mode) Valid() bool {
	switch m {
	case ModeSemantic, ModeDialectical, ModeGenealogical, ModeHybrid:
		return true
	}
	return false
}

// Defaults
const (
	DefaultSimilarityThreshold = 0.7
	DefaultResultLimit         = 20
	MaxResultLimit             = 100
	DefaultTimeout             = 30 * time.Second
	DefaultSemanticWeight      = 0.7
	MaxQueryLength             = 2000 // characters

	// EarlyStopScore is the similarity above which a library-wide retrieval
	// counts a result as high-confidence
	EarlyStopScore = 0.8

	// hybridPoolFactor widens retrieval so lexical re-ranking has candidates
	hybridPoolFactor = 3

	excerptLength = 400 // characters
)

// State is a stage of a search
type State string

const (
	StateValidating     State = "validating"
	StateEmbedding      State = "embedding"
	StateRetrieving     State = "retrieving"
	StatePostProcessing State = "post_processing"
	StateDone           State = "done"
	StateCancelled      State = "cancelled"
	StateFailed         State = "failed"
)

// Terminal reports whether no further transition follows s
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// Progress is reported on every state transition
type Progress struct {
	QueryID string
	State   State
	Elapsed time.Duration
	Err     error // Set for StateCancelled and StateFailed
}

// ProgressFunc receives state transitions. It is called synchronously.
type ProgressFunc func(Progress)

// Scope restricts which documents are searched. The zero Scope is library-wide.
type Scope struct {
	DocumentIDs   []string // One entry for a single document
	Authors       []string
	Tags          []types.SpanTag
	PublishedFrom *time.Time
	PublishedTo   *time.Time
}

// LibraryWide reports whether the scope places no restriction
func (s Scope) LibraryWide() bool {
	return len(s.DocumentIDs) == 0 && len(s.Authors) == 0 && len(s.Tags) == 0 &&
		s.PublishedFrom == nil && s.PublishedTo == nil
}

// Options tune a search. Zero values take the engine defaults.
type Options struct {
	// SimilarityThreshold drops candidates below it. Negative disables it.
	SimilarityThreshold float64
	ResultLimit         int
	Timeout             time.Duration
	Progress            ProgressFunc

	// SemanticWeight is w in w*semantic + (1-w)*lexical for hybrid mode
	SemanticWeight float64

	UseCache bool
}

// Request is one search
type Request struct {
	Query   string
	Mode    Mode
	Scope   Scope
	Options Options
}

// Response contains search results and metadata
type Response struct {
	QueryID      string
	Query        string
	Mode         Mode
	Results      []types.SearchResult
	TotalResults int
	Duration     time.Duration
	CacheHit     bool

	// Query fingerprint provenance
	Provider  string
	Model     string
	Truncated bool
	Fallbacks []types.FallbackEvent
}

// QueryEmbedder produces query fingerprints; *embedder.Gateway implements it
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) (*types.Fingerprint, error)
}

// Option configures an Engine
type Option func(*Engine)

// WithResultCache caches successful responses for ttl
func WithResultCache(size int, ttl time.Duration) Option {
	return func(e *Engine) {
		e.cache = cache.New[*Response](size, ttl, cache.WithClone(copyResponse))
	}
}

// WithOppositions replaces the opposition table used by dialectical mode
func WithOppositions(t *OppositionTable) Option {
	return func(e *Engine) {
		e.oppositions = t
	}
}

// WithDefaults overrides the defaults applied to zero-valued options
func WithDefaults(o Options) Option {
	return func(e *Engine) {
		e.defaults = o
	}
}

// WithLogger sets the logger used for stage transitions
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// Engine runs searches against a VectorStore
type Engine struct {
	store       storage.VectorStore
	embedder    QueryEmbedder
	oppositions *OppositionTable
	cache       *cache.Cache[*Response]
	defaults    Options
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewEngine creates a search engine
func NewEngine(store storage.VectorStore, embedder QueryEmbedder, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store not initialized")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder not initialized")
	}

	e := &Engine{
		store:       store,
		embedder:    embedder,
		oppositions: DefaultOppositions(),
		cache:       cache.New[*Response](1000, time.Hour, cache.WithClone(copyResponse)),
		defaults: Options{
			SimilarityThreshold: DefaultSimilarityThreshold,
			ResultLimit:         DefaultResultLimit,
			Timeout:             DefaultTimeout,
			SemanticWeight:      DefaultSemanticWeight,
		},
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/dshills/concordance/internal/searcher"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run tracks one search's state for progress reporting
type run struct {
	id       string
	start    time.Time
	state    State
	progress ProgressFunc
	logger   *slog.Logger
}

func (r *run) enter(state State, err error) {
	r.state = state
	r.logger.Debug("search state", "query_id", r.id, "state", state)
	if r.progress != nil {
		r.progress(Progress{QueryID: r.id, State: state, Elapsed: time.Since(r.start), Err: err})
	}
}

// abort moves the run to a terminal state and classifies err
func (r *run) abort(ctx context.Context, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		err = fmt.Errorf("%w: %s after %s", ErrSearchTimeout, r.state, time.Since(r.start).Round(time.Millisecond))
		r.enter(StateFailed, err)
	case errors.Is(ctx.Err(), context.Canceled):
		err = fmt.Errorf("%w during %s", ErrCancelled, r.state)
		r.enter(StateCancelled, err)
	default:
		r.enter(StateFailed, err)
	}
	return err
}

// Search runs req through validation, embedding, retrieval and mode
// post-processing
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	r := &run{
		id:       uuid.NewString(),
		start:    time.Now(),
		progress: req.Options.Progress,
		logger:   e.logger,
	}

	ctx, span := e.tracer.Start(ctx, "searcher.Search", trace.WithAttributes(
		attribute.String("query_id", r.id),
		attribute.String("mode", string(req.Mode)),
	))
	defer span.End()

	resp, err := e.search(ctx, r, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", resp.TotalResults), attribute.Bool("cache_hit", resp.CacheHit))
	return resp, nil
}

func (e *Engine) search(ctx context.Context, r *run, req Request) (*Response, error) {
	r.enter(StateValidating, nil)
	if err := e.validateRequest(&req); err != nil {
		r.enter(StateFailed, err)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, req.Options.Timeout)
	defer cancel()
	if ctx.Err() != nil {
		return nil, r.abort(ctx, ctx.Err())
	}

	key := computeQueryHash(req)
	if req.Options.UseCache {
		if cached, ok := e.cache.Get(key); ok {
			cached.QueryID = r.id
			cached.CacheHit = true
			cached.Duration = time.Since(r.start)
			r.enter(StateDone, nil)
			return cached, nil
		}
	}

	r.enter(StateEmbedding, nil)
	fp, err := e.embed(ctx, req.Query)
	if err != nil {
		return nil, r.abort(ctx, fmt.Errorf("failed to generate query embedding: %w", err))
	}

	r.enter(StateRetrieving, nil)
	indexIDs, candidates, err := e.retrieve(ctx, req, fp)
	if err != nil {
		return nil, r.abort(ctx, err)
	}

	r.enter(StatePostProcessing, nil)
	results, err := e.postProcess(ctx, req, fp, indexIDs, candidates)
	if err != nil {
		return nil, r.abort(ctx, err)
	}
	if ctx.Err() != nil {
		return nil, r.abort(ctx, ctx.Err())
	}

	resp := &Response{
		QueryID:      r.id,
		Query:        req.Query,
		Mode:         req.Mode,
		Results:      results,
		TotalResults: len(results),
		Duration:     time.Since(r.start),
		Provider:     fp.Provider,
		Model:        fp.Model,
		Truncated:    fp.Truncated,
		Fallbacks:    fp.Fallbacks,
	}

	if req.Options.UseCache {
		e.cache.Set(key, resp)
	}

	r.enter(StateDone, nil)
	return resp, nil
}

// embedResult holds the outcome of the embedding stage
type embedResult struct {
	fp  *types.Fingerprint
	err error
}

// embed obtains the query fingerprint, returning as soon as ctx is done even
// if the provider has not answered
func (e *Engine) embed(ctx context.Context, text string) (*types.Fingerprint, error) {
	ctx, span := e.tracer.Start(ctx, "searcher.embed")
	defer span.End()

	resultChan := make(chan embedResult, 1)
	go func() {
		fp, err := e.embedder.Embed(ctx, text)
		resultChan <- embedResult{fp: fp, err: err}
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, res.err
		}
		if res.fp == nil || len(res.fp.Vector) == 0 {
			return nil, fmt.Errorf("empty query fingerprint")
		}
		return res.fp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// retrieveResult holds the outcome of the retrieval stage
type retrieveResult struct {
	indexIDs []int64
	results  []storage.VectorResult
	err      error
}

// retrieve resolves the indexes in scope compatible with fp and queries them
func (e *Engine) retrieve(ctx context.Context, req Request, fp *types.Fingerprint) ([]int64, []storage.VectorResult, error) {
	ctx, span := e.tracer.Start(ctx, "searcher.retrieve")
	defer span.End()

	resultChan := make(chan retrieveResult, 1)
	go func() {
		var res retrieveResult
		res.indexIDs, res.err = e.resolveIndexes(ctx, req.Scope, fp)
		if res.err == nil && len(res.indexIDs) > 0 {
			pool := req.Options.ResultLimit
			if req.Mode == ModeHybrid {
				pool *= hybridPoolFactor
			}
			filters := e.queryFilters(req)
			if req.Scope.LibraryWide() && req.Mode != ModeHybrid {
				filters.StopAfter = req.Options.ResultLimit
				filters.StopScore = EarlyStopScore
			}
			res.results, res.err = e.store.Query(ctx, res.indexIDs, fp.Vector, pool, filters)
		}
		resultChan <- res
	}()

	select {
	case res := <-resultChan:
		if res.err != nil {
			return nil, nil, fmt.Errorf("retrieval failed: %w", res.err)
		}
		span.SetAttributes(attribute.Int("indexes", len(res.indexIDs)), attribute.Int("candidates", len(res.results)))
		return res.indexIDs, res.results, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// queryResult holds the outcome of one store query
type queryResult struct {
	results []storage.VectorResult
	err     error
}

// query runs a store query, returning as soon as ctx is done
func (e *Engine) query(ctx context.Context, indexIDs []int64, vector []float32, limit int, filters *storage.QueryFilters) ([]storage.VectorResult, error) {
	resultChan := make(chan queryResult, 1)
	go func() {
		results, err := e.store.Query(ctx, indexIDs, vector, limit, filters)
		resultChan <- queryResult{results: results, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.results, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// resolveIndexes returns complete indexes in scope whose provider, model and
// dimensionality match the query fingerprint
func (e *Engine) resolveIndexes(ctx context.Context, scope Scope, fp *types.Fingerprint) ([]int64, error) {
	indexes, err := e.store.ListIndexes(ctx, &storage.IndexFilter{
		DocumentIDs:  scope.DocumentIDs,
		Provider:     fp.Provider,
		Model:        fp.Model,
		Dimensions:   len(fp.Vector),
		CompleteOnly: true,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(indexes))
	for i, idx := range indexes {
		ids[i] = idx.ID
	}
	return ids, nil
}

func (e *Engine) queryFilters(req Request) *storage.QueryFilters {
	filters := &storage.QueryFilters{
		Authors:       req.Scope.Authors,
		Tags:          req.Scope.Tags,
		DocumentIDs:   req.Scope.DocumentIDs,
		PublishedFrom: req.Scope.PublishedFrom,
		PublishedTo:   req.Scope.PublishedTo,
	}
	if threshold := req.Options.SimilarityThreshold; threshold >= 0 {
		filters.MinScore = &threshold
	}
	return filters
}

// validateRequest rejects bad queries and fills defaults
func (e *Engine) validateRequest(req *Request) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return fmt.Errorf("%w: query cannot be empty", ErrInvalidQuery)
	}
	if n := utf8.RuneCountInString(req.Query); n > MaxQueryLength {
		return fmt.Errorf("%w: query is %d characters, max %d", ErrInvalidQuery, n, MaxQueryLength)
	}

	if req.Mode == "" {
		req.Mode = ModeSemantic
	}
	if !req.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, req.Mode)
	}

	opts := &req.Options
	if opts.SimilarityThreshold == 0 {
		opts.SimilarityThreshold = e.defaults.SimilarityThreshold
	}
	if opts.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity threshold %.2f above 1", ErrInvalidQuery, opts.SimilarityThreshold)
	}

	if opts.ResultLimit <= 0 {
		opts.ResultLimit = e.defaults.ResultLimit
	}
	if opts.ResultLimit <= 0 {
		opts.ResultLimit = DefaultResultLimit
	}
	if opts.ResultLimit > MaxResultLimit {
		opts.ResultLimit = MaxResultLimit
	}

	if opts.Timeout <= 0 {
		opts.Timeout = e.defaults.Timeout
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	if opts.SemanticWeight == 0 {
		opts.SemanticWeight = e.defaults.SemanticWeight
	}
	if opts.SemanticWeight < 0 || opts.SemanticWeight > 1 {
		return fmt.Errorf("%w: semantic weight %.2f outside [0, 1]", ErrInvalidQuery, opts.SemanticWeight)
	}

	return nil
}

// InvalidateCache drops every cached response. Call after re-indexing.
func (e *Engine) InvalidateCache() {
	e.cache.Purge()
}

// computeQueryHash derives the result cache key from everything that shapes
// a response
func computeQueryHash(req Request) string {
	s := req.Scope
	o := req.Options

	tags := make([]string, len(s.Tags))
	for i, t := range s.Tags {
		tags[i] = string(t)
	}

	return cache.Key(
		req.Query,
		string(req.Mode),
		sortedJoin(s.DocumentIDs),
		sortedJoin(s.Authors),
		sortedJoin(tags),
		formatDate(s.PublishedFrom),
		formatDate(s.PublishedTo),
		strconv.FormatFloat(o.SimilarityThreshold, 'f', 4, 64),
		strconv.Itoa(o.ResultLimit),
		strconv.FormatFloat(o.SemanticWeight, 'f', 4, 64),
	)
}

func sortedJoin(values []string) string {
	sorted := append([]string(nil), values...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

// copyResponse creates a deep copy of a Response
func copyResponse(src *Response) *Response {
	if src == nil {
		return nil
	}

	dst := *src
	dst.Results = make([]types.SearchResult, len(src.Results))
	for i, result := range src.Results {
		dst.Results[i] = result
		dst.Results[i].Authors = append([]string(nil), result.Authors...)
	}
	dst.Fallbacks = append([]types.FallbackEvent(nil), src.Fallbacks...)
	return &dst
}
