package storage

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/concordance/pkg/types"
)

var (
	// ErrNotFound is returned when a document or span does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnknownIndex is returned when an index id does not exist
	ErrUnknownIndex = errors.New("unknown index")

	// ErrDimensionMismatch is returned when a vector's length disagrees with its index
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrDuplicateIndexConfig is returned when a document already has an index
	// with the same configuration signature
	ErrDuplicateIndexConfig = errors.New("duplicate index config")

	// ErrInvalidSpan is returned when a span fails validation or belongs to
	// another document than its index
	ErrInvalidSpan = errors.New("invalid span")
)

// VectorStore persists documents, their span indexes and fingerprints, and
// answers nearest-neighbor queries over them.
type VectorStore interface {
	// Document operations
	UpsertDocument(ctx context.Context, doc *types.Document) error
	EnsureDocument(ctx context.Context, documentID string) error
	GetDocument(ctx context.Context, documentID string) (*types.Document, error)
	ListDocuments(ctx context.Context) ([]*types.Document, error)
	DeleteDocument(ctx context.Context, documentID string) error

	// Index operations
	CreateIndex(ctx context.Context, documentID string, cfg types.IndexConfig) (int64, error)
	CreateReplacementIndex(ctx context.Context, documentID string, cfg types.IndexConfig) (int64, error)
	CompleteIndex(ctx context.Context, indexID int64, contentHash string) error
	GetIndex(ctx context.Context, indexID int64) (*Index, error)
	FindIndex(ctx context.Context, documentID, signature string) (*Index, error)
	ListIndexes(ctx context.Context, filter *IndexFilter) ([]*Index, error)
	DeleteIndex(ctx context.Context, indexID int64) error

	// Entry operations
	Put(ctx context.Context, indexID int64, span types.Span, fp *types.Fingerprint) (int64, error)
	ListSpans(ctx context.Context, indexID int64) ([]types.Span, error)

	// Search operations
	Query(ctx context.Context, indexIDs []int64, vector []float32, limit int, filters *QueryFilters) ([]VectorResult, error)

	// Status operations
	GetStatus(ctx context.Context) (*Status, error)

	Close() error
}

// Index is one (document, IndexConfig) pairing and the spans stored under it
type Index struct {
	ID          int64
	DocumentID  string
	Config      types.IndexConfig
	Signature   string
	ContentHash string
	TotalChunks int
	Complete    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IndexFilter narrows ListIndexes. Zero fields match everything.
type IndexFilter struct {
	DocumentIDs  []string
	Provider     string
	Model        string
	Dimensions   int
	CompleteOnly bool
}

// QueryFilters restricts Query candidates
type QueryFilters struct {
	Authors     []string
	Tags        []types.SpanTag
	DocumentIDs []string

	// PublishedFrom and PublishedTo bound the document's publication date,
	// inclusive. Undated documents never match a date bound.
	PublishedFrom *time.Time
	PublishedTo   *time.Time

	// MinScore drops candidates scoring below it when set
	MinScore *float64

	// StopAfter ends the scan once this many candidates score above
	// StopScore. Zero disables early stopping.
	StopAfter int
	StopScore float64
}

// VectorResult is one ranked span returned by Query
type VectorResult struct {
	EntryID    int64
	IndexID    int64
	DocumentID string
	Ordinal    int
	Text       string
	Overlap    int
	Tag        types.SpanTag
	Score      float64
}

// Status summarizes what the store holds
type Status struct {
	DocumentsCount  int
	IndexesCount    int
	SpansCount      int
	EmbeddingsCount int
	DatabaseSize    int64
	SchemaVersion   string
	BuildMode       string
}
