package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/concordance/internal/segmenter"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

var (
	// ErrSourceRequired is returned by NewPipeline without a document source
	ErrSourceRequired = errors.New("document source is required")

	// ErrEmbedderRequired is returned by NewPipeline without an embedder
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrStoreRequired is returned by NewPipeline without a vector store
	ErrStoreRequired = errors.New("vector store is required")
)

// DocumentSource supplies document metadata and raw text
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetText(ctx context.Context, id string) (string, error)
}

// Embedder fingerprints span texts. One provider must serve the whole batch;
// *embedder.Gateway implements it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]*types.Fingerprint, error)
}

// Config controls one indexing run
type Config struct {
	Segmenter segmenter.Config

	// Concurrency is the number of documents indexed at once (default: runtime.NumCPU())
	Concurrency int

	// ForceReindex rebuilds documents whose text is unchanged
	ForceReindex bool
}

// DefaultConfig returns the configuration used when Run is given nil
func DefaultConfig() *Config {
	return &Config{
		Segmenter:   segmenter.DefaultConfig(),
		Concurrency: runtime.NumCPU(),
	}
}

// Stage is a step of indexing one document
type Stage string

const (
	StageSegmenting Stage = "segmenting"
	StageEmbedding  Stage = "embedding"
	StageStoring    Stage = "storing"
	StageSkipped    Stage = "skipped"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Progress reports one document's advance through the pipeline
type Progress struct {
	DocumentID     string
	Stage          Stage
	SpansStored    int
	SpansTotal     int
	DocumentsDone  int // Documents finished (done, skipped or failed) so far
	DocumentsTotal int
	Err            error
}

// ProgressFunc receives progress. Calls are serialized.
type ProgressFunc func(Progress)

// Pipeline indexes documents: source -> segmenter -> embedder -> store
type Pipeline struct {
	source   DocumentSource
	embedder Embedder
	store    storage.VectorStore
	pool     *ants.Pool
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Pipeline
type Option func(*Pipeline) error

// WithPoolSize sets the segmentation worker pool size (default: runtime.NumCPU())
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets the logger (default: slog.Default())
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an indexing pipeline. Call Close to release its workers.
func NewPipeline(source DocumentSource, embedder Embedder, store storage.VectorStore, opts ...Option) (*Pipeline, error) {
	if source == nil {
		return nil, ErrSourceRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if store == nil {
		return nil, ErrStoreRequired
	}

	pool, err := ants.NewPool(runtime.NumCPU())
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		source:   source,
		embedder: embedder,
		store:    store,
		pool:     pool,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/dshills/concordance/internal/indexer"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Close()
			return nil, err
		}
	}
	return p, nil
}

// Close releases the segmentation workers
func (p *Pipeline) Close() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Run indexes ids. Failures of individual documents are collected in the
// Summary rather than stopping the run; Summary.Err reports them. The
// returned error is non-nil only for an invalid config or cancellation, in
// which case the Summary still describes the documents already processed.
func (p *Pipeline) Run(ctx context.Context, ids []string, cfg *Config, progress ProgressFunc) (*Summary, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	seg, err := segmenter.New(cfg.Segmenter)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}

	ids = dedupe(ids)
	start := time.Now()
	r := &runState{
		summary:  &Summary{},
		progress: progress,
		total:    len(ids),
	}

	g := &errgroup.Group{}
	g.SetLimit(concurrency)

	for _, id := range ids {
		if ctx.Err() != nil {
			r.finish(Progress{DocumentID: id, Stage: StageFailed, Err: ctx.Err()}, func(s *Summary) {
				s.Failed = append(s.Failed, Failure{DocumentID: id, Err: ctx.Err()})
			})
			continue
		}
		g.Go(func() error {
			p.indexOne(ctx, r, seg, id, cfg.ForceReindex)
			return nil
		})
	}
	_ = g.Wait()

	r.summary.sort()
	r.summary.Duration = time.Since(start)

	p.logger.Info("indexing finished",
		"succeeded", len(r.summary.Succeeded),
		"skipped", len(r.summary.Skipped),
		"failed", len(r.summary.Failed),
		"spans", r.summary.Spans,
		"duration", r.summary.Duration)

	if err := ctx.Err(); err != nil {
		return r.summary, err
	}
	return r.summary, nil
}

// runState is shared by the documents of one run
type runState struct {
	mu       sync.Mutex
	summary  *Summary
	progress ProgressFunc
	total    int
	done     int
}

func (r *runState) report(pr Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(pr)
}

// finish records a document's outcome and reports its terminal stage
func (r *runState) finish(pr Progress, record func(*Summary)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record(r.summary)
	r.done++
	r.emit(pr)
}

func (r *runState) emit(pr Progress) {
	if r.progress == nil {
		return
	}
	pr.DocumentsDone = r.done
	pr.DocumentsTotal = r.total
	r.progress(pr)
}

func (p *Pipeline) indexOne(ctx context.Context, r *runState, seg *segmenter.Segmenter, id string, force bool) {
	ctx, span := p.tracer.Start(ctx, "indexer.document", trace.WithAttributes(attribute.String("document_id", id)))
	defer span.End()

	stored, skipped, err := p.indexDocument(ctx, r, seg, id, force)
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("document indexing failed", "document_id", id, "error", err)
		r.finish(Progress{DocumentID: id, Stage: StageFailed, Err: err}, func(s *Summary) {
			s.Failed = append(s.Failed, Failure{DocumentID: id, Err: err})
		})
	case skipped:
		p.logger.Debug("document unchanged", "document_id", id)
		r.finish(Progress{DocumentID: id, Stage: StageSkipped}, func(s *Summary) {
			s.Skipped = append(s.Skipped, id)
		})
	default:
		span.SetAttributes(attribute.Int("spans", stored))
		r.finish(Progress{DocumentID: id, Stage: StageDone, SpansStored: stored, SpansTotal: stored}, func(s *Summary) {
			s.Succeeded = append(s.Succeeded, id)
			s.Spans += stored
		})
	}
}

// indexDocument builds one document's index and returns the number of spans
// stored, or skipped when an up to date index already exists
func (p *Pipeline) indexDocument(ctx context.Context, r *runState, seg *segmenter.Segmenter, id string, force bool) (int, bool, error) {
	if id == "" {
		return 0, false, types.ErrMissingDocumentID
	}

	doc, err := p.source.GetDocument(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.ID == "" {
		doc.ID = id
	}
	text, err := p.source.GetText(ctx, id)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get text: %w", err)
	}
	hash := computeContentHash(text)
	segCfg := seg.Config()

	shouldSkip, err := p.checkDocumentChanged(ctx, id, hash, segCfg, force)
	if err != nil {
		return 0, false, err
	}
	if shouldSkip {
		return 0, true, nil
	}

	if err := p.store.UpsertDocument(ctx, doc); err != nil {
		return 0, false, fmt.Errorf("failed to store document: %w", err)
	}

	r.report(Progress{DocumentID: id, Stage: StageSegmenting})
	spans, err := p.segment(ctx, seg, id, text)
	if err != nil {
		return 0, false, err
	}
	if len(spans) == 0 {
		return 0, false, p.supersede(ctx, id, hash, 0)
	}

	r.report(Progress{DocumentID: id, Stage: StageEmbedding, SpansTotal: len(spans)})
	texts := make([]string, len(spans))
	for i := range spans {
		texts[i] = spans[i].Text
	}
	fps, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, false, fmt.Errorf("failed to embed spans: %w", err)
	}
	if len(fps) != len(spans) {
		return 0, false, fmt.Errorf("embedder returned %d fingerprints for %d spans", len(fps), len(spans))
	}

	cfg := types.IndexConfig{
		Provider:     fps[0].Provider,
		Model:        fps[0].Model,
		Dimensions:   fps[0].Dimension,
		ChunkSize:    segCfg.MaxTokens,
		ChunkOverlap: segCfg.OverlapTokens,
	}

	indexID, err := p.createIndex(ctx, id, cfg)
	if err != nil {
		return 0, false, err
	}

	if err := p.storeSpans(ctx, r, indexID, spans, fps); err != nil {
		p.cleanup(ctx, id, indexID)
		return 0, false, err
	}
	if err := p.store.CompleteIndex(ctx, indexID, hash); err != nil {
		p.cleanup(ctx, id, indexID)
		return 0, false, fmt.Errorf("failed to complete index: %w", err)
	}

	if err := p.supersede(ctx, id, hash, indexID); err != nil {
		return 0, false, err
	}
	return len(spans), false, nil
}

// createIndex registers the index the document's spans are written to. A
// complete index under the same signature stays searchable until the
// replacement completes; an incomplete one is left over from a failed run
// and is deleted.
func (p *Pipeline) createIndex(ctx context.Context, id string, cfg types.IndexConfig) (int64, error) {
	existing, err := p.store.FindIndex(ctx, id, cfg.Signature())
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("failed to find index: %w", err)
	case existing.Complete:
		indexID, err := p.store.CreateReplacementIndex(ctx, id, cfg)
		if err != nil {
			return 0, fmt.Errorf("failed to create replacement index: %w", err)
		}
		return indexID, nil
	default:
		if err := p.store.DeleteIndex(ctx, existing.ID); err != nil {
			return 0, fmt.Errorf("failed to delete partial index: %w", err)
		}
	}

	indexID, err := p.store.CreateIndex(ctx, id, cfg)
	if err != nil {
		return 0, fmt.Errorf("failed to create index: %w", err)
	}
	return indexID, nil
}

// checkDocumentChanged reports whether a complete index built from the same
// text and chunking already exists
func (p *Pipeline) checkDocumentChanged(ctx context.Context, id, hash string, cfg segmenter.Config, force bool) (bool, error) {
	if force {
		return false, nil
	}

	indexes, err := p.store.ListIndexes(ctx, &storage.IndexFilter{DocumentIDs: []string{id}, CompleteOnly: true})
	if err != nil {
		return false, fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.ContentHash == hash && idx.Config.ChunkSize == cfg.MaxTokens && idx.Config.ChunkOverlap == cfg.OverlapTokens {
			return true, nil
		}
	}
	return false, nil
}

// segment runs segmentation on the worker pool
func (p *Pipeline) segment(ctx context.Context, seg *segmenter.Segmenter, id, text string) ([]types.Span, error) {
	resultChan := make(chan []types.Span, 1)
	err := p.pool.Submit(func() {
		resultChan <- seg.Segment(id, text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule segmentation: %w", err)
	}

	select {
	case spans := <-resultChan:
		return spans, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// storeSpans writes every span with its fingerprint. Cancellation is checked
// between complete span writes.
func (p *Pipeline) storeSpans(ctx context.Context, r *runState, indexID int64, spans []types.Span, fps []*types.Fingerprint) error {
	for i := range spans {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.store.Put(ctx, indexID, spans[i], fps[i]); err != nil {
			return fmt.Errorf("failed to store span %d: %w", spans[i].Ordinal, err)
		}
		r.report(Progress{DocumentID: spans[i].DocumentID, Stage: StageStoring, SpansStored: i + 1, SpansTotal: len(spans)})
	}
	return nil
}

// supersede deletes the document's indexes built from other text, keeping keep
func (p *Pipeline) supersede(ctx context.Context, id, hash string, keep int64) error {
	indexes, err := p.store.ListIndexes(ctx, &storage.IndexFilter{DocumentIDs: []string{id}})
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.ID == keep || (idx.Complete && idx.ContentHash == hash) {
			continue
		}
		if err := p.store.DeleteIndex(ctx, idx.ID); err != nil {
			return fmt.Errorf("failed to delete superseded index %d: %w", idx.ID, err)
		}
		p.logger.Debug("superseded index deleted", "document_id", id, "index_id", idx.ID)
	}
	return nil
}

// cleanup removes a partial index. It runs even when ctx is cancelled.
func (p *Pipeline) cleanup(ctx context.Context, id string, indexID int64) {
	if err := p.store.DeleteIndex(context.WithoutCancel(ctx), indexID); err != nil {
		p.logger.Warn("failed to delete partial index", "document_id", id, "index_id", indexID, "error", err)
	}
}

// computeContentHash returns the sha256 hex digest of text
func computeContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
