package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/concordance/pkg/types"
)

// pubDateLayout stores publication dates so they compare lexically
const pubDateLayout = "2006-01-02"

// SQLiteStorage implements VectorStore using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

var _ VectorStore = (*SQLiteStorage)(nil)

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dataSourceName(dbPath))
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// One connection: a single writer, and ":memory:" stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	var foreignKeys int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&foreignKeys); err != nil || foreignKeys != 1 {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %v", err)
	}

	return db, nil
}

// dataSourceName appends the per-connection driver options to dbPath
func dataSourceName(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + dsnOptions
	}
	return dbPath + "?" + dsnOptions
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// withTx runs fn in a transaction, rolling back when fn fails
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Document operations

func (s *SQLiteStorage) upsertDocumentWithQuerier(ctx context.Context, q querier, doc *types.Document) error {
	var pubDate interface{}
	if doc.PublishedAt != nil {
		pubDate = doc.PublishedAt.UTC().Format(pubDateLayout)
	}

	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, title, language, pub_date, placeholder, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			language = excluded.language,
			pub_date = excluded.pub_date,
			placeholder = 0,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Title, doc.Language, pubDate, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM document_authors WHERE document_id = ?", doc.ID); err != nil {
		return fmt.Errorf("failed to clear authors: %w", err)
	}
	for i, author := range doc.Authors {
		if _, err := q.ExecContext(ctx,
			"INSERT INTO document_authors (document_id, position, author) VALUES (?, ?, ?)",
			doc.ID, i, author); err != nil {
			return fmt.Errorf("failed to insert author: %w", err)
		}
	}
	return nil
}

// UpsertDocument stores the document's metadata, replacing any placeholder
func (s *SQLiteStorage) UpsertDocument(ctx context.Context, doc *types.Document) error {
	if doc == nil {
		return types.ErrMissingDocumentID
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(q querier) error {
		return s.upsertDocumentWithQuerier(ctx, q, doc)
	})
}

func (s *SQLiteStorage) ensureDocumentWithQuerier(ctx context.Context, q querier, documentID string) error {
	now := time.Now().UTC()
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, placeholder, created_at, updated_at)
		VALUES (?, 1, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, documentID, now, now)
	if err != nil {
		return fmt.Errorf("failed to ensure document: %w", err)
	}
	return nil
}

// EnsureDocument registers a placeholder row for documentID when none exists.
// Existing metadata is left untouched.
func (s *SQLiteStorage) EnsureDocument(ctx context.Context, documentID string) error {
	if documentID == "" {
		return types.ErrMissingDocumentID
	}
	return s.ensureDocumentWithQuerier(ctx, s.db, documentID)
}

func (s *SQLiteStorage) getDocumentWithQuerier(ctx context.Context, q querier, documentID string) (*types.Document, error) {
	doc := &types.Document{}
	var pubDate sql.NullString
	err := q.QueryRowContext(ctx,
		"SELECT id, title, language, pub_date FROM documents WHERE id = ?", documentID).
		Scan(&doc.ID, &doc.Title, &doc.Language, &pubDate)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	if doc.PublishedAt, err = parsePubDate(pubDate); err != nil {
		return nil, err
	}

	authors, err := s.listAuthorsWithQuerier(ctx, q, documentID)
	if err != nil {
		return nil, err
	}
	doc.Authors = authors
	return doc, nil
}

// GetDocument returns a document with its authors in order
func (s *SQLiteStorage) GetDocument(ctx context.Context, documentID string) (*types.Document, error) {
	return s.getDocumentWithQuerier(ctx, s.db, documentID)
}

func (s *SQLiteStorage) listAuthorsWithQuerier(ctx context.Context, q querier, documentID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT author FROM document_authors WHERE document_id = ? ORDER BY position", documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var authors []string
	for rows.Next() {
		var author string
		if err := rows.Scan(&author); err != nil {
			return nil, err
		}
		authors = append(authors, author)
	}
	return authors, rows.Err()
}

// ListDocuments returns every document ordered by id
func (s *SQLiteStorage) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, title, language, pub_date FROM documents ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var docs []*types.Document
	for rows.Next() {
		doc := &types.Document{}
		var pubDate sql.NullString
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Language, &pubDate); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if doc.PublishedAt, err = parsePubDate(pubDate); err != nil {
			_ = rows.Close()
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Authors are read after the cursor closes; the pool holds one connection
	for _, doc := range docs {
		if doc.Authors, err = s.listAuthorsWithQuerier(ctx, s.db, doc.ID); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// DeleteDocument removes a document with its indexes, spans and embeddings
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, documentID string) error {
	return s.withTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID)
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Index operations

// stagingPrefix marks the signature of a replacement index until
// CompleteIndex promotes it
const stagingPrefix = "staging:"

// CreateIndex registers an index for documentID under cfg
func (s *SQLiteStorage) CreateIndex(ctx context.Context, documentID string, cfg types.IndexConfig) (int64, error) {
	return s.createIndex(ctx, documentID, cfg, false)
}

// CreateReplacementIndex registers an index that takes over cfg's signature
// when CompleteIndex succeeds. Until then any existing index under the
// signature is left in place and the replacement is not searchable.
func (s *SQLiteStorage) CreateReplacementIndex(ctx context.Context, documentID string, cfg types.IndexConfig) (int64, error) {
	return s.createIndex(ctx, documentID, cfg, true)
}

func (s *SQLiteStorage) createIndex(ctx context.Context, documentID string, cfg types.IndexConfig, staging bool) (int64, error) {
	if documentID == "" {
		return 0, types.ErrMissingDocumentID
	}
	if err := cfg.Validate(); err != nil {
		return 0, err
	}

	signature := cfg.Signature()
	if staging {
		signature = stagingPrefix + uuid.NewString() + ":" + signature
	}
	var indexID int64
	err := s.withTx(ctx, func(q querier) error {
		if err := s.ensureDocumentWithQuerier(ctx, q, documentID); err != nil {
			return err
		}

		if !staging {
			var existing int64
			err := q.QueryRowContext(ctx,
				"SELECT id FROM indexes WHERE document_id = ? AND signature = ?", documentID, signature).Scan(&existing)
			if err == nil {
				return fmt.Errorf("%w: document %s already has index %d", ErrDuplicateIndexConfig, documentID, existing)
			}
			if err != sql.ErrNoRows {
				return fmt.Errorf("failed to check index: %w", err)
			}
		}

		now := time.Now().UTC()
		result, err := q.ExecContext(ctx, `
			INSERT INTO indexes (document_id, provider, model, dimensions, chunk_size, chunk_overlap,
				signature, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, documentID, cfg.Provider, cfg.Model, cfg.Dimensions, cfg.ChunkSize, cfg.ChunkOverlap,
			signature, now, now)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("%w: %v", ErrDuplicateIndexConfig, err)
			}
			return fmt.Errorf("failed to create index: %w", err)
		}

		indexID, err = result.LastInsertId()
		return err
	})
	if err != nil {
		return 0, err
	}
	return indexID, nil
}

// CompleteIndex records the hash of the text the index was built from and
// marks it complete. A replacement index takes over its signature here,
// deleting the index it replaces in the same transaction.
func (s *SQLiteStorage) CompleteIndex(ctx context.Context, indexID int64, contentHash string) error {
	return s.withTx(ctx, func(q querier) error {
		idx, err := scanIndex(q.QueryRowContext(ctx,
			"SELECT "+indexColumns+" FROM indexes WHERE id = ?", indexID))
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrUnknownIndex, indexID)
		}
		if err != nil {
			return fmt.Errorf("failed to get index: %w", err)
		}

		signature := idx.Signature
		if strings.HasPrefix(signature, stagingPrefix) {
			signature = idx.Config.Signature()
			if _, err := q.ExecContext(ctx,
				"DELETE FROM indexes WHERE document_id = ? AND signature = ?", idx.DocumentID, signature); err != nil {
				return fmt.Errorf("failed to delete replaced index: %w", err)
			}
		}

		if _, err := q.ExecContext(ctx,
			"UPDATE indexes SET signature = ?, content_hash = ?, complete = 1, updated_at = ? WHERE id = ?",
			signature, contentHash, time.Now().UTC(), indexID); err != nil {
			return fmt.Errorf("failed to complete index: %w", err)
		}
		return nil
	})
}

const indexColumns = `id, document_id, provider, model, dimensions, chunk_size, chunk_overlap,
	signature, content_hash, total_chunks, complete, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIndex(row rowScanner) (*Index, error) {
	idx := &Index{}
	var complete int
	err := row.Scan(&idx.ID, &idx.DocumentID, &idx.Config.Provider, &idx.Config.Model,
		&idx.Config.Dimensions, &idx.Config.ChunkSize, &idx.Config.ChunkOverlap,
		&idx.Signature, &idx.ContentHash, &idx.TotalChunks, &complete, &idx.CreatedAt, &idx.UpdatedAt)
	if err != nil {
		return nil, err
	}
	idx.Complete = complete == 1
	return idx, nil
}

// GetIndex returns an index by id
func (s *SQLiteStorage) GetIndex(ctx context.Context, indexID int64) (*Index, error) {
	idx, err := scanIndex(s.db.QueryRowContext(ctx,
		"SELECT "+indexColumns+" FROM indexes WHERE id = ?", indexID))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %d", ErrUnknownIndex, indexID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get index: %w", err)
	}
	return idx, nil
}

// FindIndex returns the document's index with the given config signature
func (s *SQLiteStorage) FindIndex(ctx context.Context, documentID, signature string) (*Index, error) {
	idx, err := scanIndex(s.db.QueryRowContext(ctx,
		"SELECT "+indexColumns+" FROM indexes WHERE document_id = ? AND signature = ?", documentID, signature))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find index: %w", err)
	}
	return idx, nil
}

// ListIndexes returns indexes matching filter ordered by document and id
func (s *SQLiteStorage) ListIndexes(ctx context.Context, filter *IndexFilter) ([]*Index, error) {
	query := "SELECT " + indexColumns + " FROM indexes WHERE 1=1"
	var args []interface{}

	if filter != nil {
		if len(filter.DocumentIDs) > 0 {
			query += " AND document_id" + inList
			args = append(args, jsonList(filter.DocumentIDs))
		}
		if filter.Provider != "" {
			query += " AND provider = ?"
			args = append(args, filter.Provider)
		}
		if filter.Model != "" {
			query += " AND model = ?"
			args = append(args, filter.Model)
		}
		if filter.Dimensions > 0 {
			query += " AND dimensions = ?"
			args = append(args, filter.Dimensions)
		}
		if filter.CompleteOnly {
			query += " AND complete = 1"
		}
	}
	query += " ORDER BY document_id, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var indexes []*Index
	for rows.Next() {
		idx, err := scanIndex(rows)
		if err != nil {
			return nil, err
		}
		indexes = append(indexes, idx)
	}
	return indexes, rows.Err()
}

// DeleteIndex removes an index with its spans and embeddings
func (s *SQLiteStorage) DeleteIndex(ctx context.Context, indexID int64) error {
	return s.withTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx, "DELETE FROM indexes WHERE id = ?", indexID)
		if err != nil {
			return fmt.Errorf("failed to delete index: %w", err)
		}
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: %d", ErrUnknownIndex, indexID)
		}
		return nil
	})
}

// Entry operations

// Put stores a span and its fingerprint under indexID. Re-putting an ordinal
// replaces the earlier entry.
func (s *SQLiteStorage) Put(ctx context.Context, indexID int64, span types.Span, fp *types.Fingerprint) (int64, error) {
	if fp == nil {
		return 0, fmt.Errorf("%w: missing fingerprint", ErrInvalidSpan)
	}
	if err := span.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidSpan, err)
	}

	var entryID int64
	err := s.withTx(ctx, func(q querier) error {
		var documentID string
		var dimensions int
		err := q.QueryRowContext(ctx,
			"SELECT document_id, dimensions FROM indexes WHERE id = ?", indexID).Scan(&documentID, &dimensions)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: %d", ErrUnknownIndex, indexID)
		}
		if err != nil {
			return fmt.Errorf("failed to read index: %w", err)
		}

		if len(fp.Vector) != dimensions {
			return fmt.Errorf("%w: vector has %d dimensions, index %d expects %d",
				ErrDimensionMismatch, len(fp.Vector), indexID, dimensions)
		}
		if span.DocumentID != documentID {
			return fmt.Errorf("%w: span belongs to %q, index %d to %q", ErrInvalidSpan, span.DocumentID, indexID, documentID)
		}

		tag := span.Tag
		if tag == "" {
			tag = types.TagBody
		}

		now := time.Now().UTC()
		err = q.QueryRowContext(ctx, `
			INSERT INTO spans (index_id, document_id, ordinal, content, start_offset, end_offset,
				overlap, token_count, tag, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(index_id, ordinal) DO UPDATE SET
				content = excluded.content,
				start_offset = excluded.start_offset,
				end_offset = excluded.end_offset,
				overlap = excluded.overlap,
				token_count = excluded.token_count,
				tag = excluded.tag
			RETURNING id
		`, indexID, span.DocumentID, span.Ordinal, span.Text, span.Start, span.End,
			span.Overlap, span.TokenCount, string(tag), now).Scan(&entryID)
		if err != nil {
			return fmt.Errorf("failed to upsert span: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			INSERT INTO embeddings (span_id, vector, dimension, provider, model, truncated, original_tokens, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(span_id) DO UPDATE SET
				vector = excluded.vector,
				dimension = excluded.dimension,
				provider = excluded.provider,
				model = excluded.model,
				truncated = excluded.truncated,
				original_tokens = excluded.original_tokens
		`, entryID, serializeVector(fp.Vector), len(fp.Vector), fp.Provider, fp.Model,
			boolToInt(fp.Truncated), fp.OriginalTokens, now)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding: %w", err)
		}

		_, err = q.ExecContext(ctx, `
			UPDATE indexes
			SET total_chunks = (SELECT COUNT(*) FROM spans WHERE index_id = ?), updated_at = ?
			WHERE id = ?
		`, indexID, now, indexID)
		if err != nil {
			return fmt.Errorf("failed to update index totals: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return entryID, nil
}

// ListSpans returns the index's spans in ordinal order
func (s *SQLiteStorage) ListSpans(ctx context.Context, indexID int64) ([]types.Span, error) {
	if _, err := s.GetIndex(ctx, indexID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, ordinal, content, start_offset, end_offset, overlap, token_count, tag
		FROM spans WHERE index_id = ? ORDER BY ordinal
	`, indexID)
	if err != nil {
		return nil, fmt.Errorf("failed to list spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var spans []types.Span
	for rows.Next() {
		var span types.Span
		var tag string
		if err := rows.Scan(&span.DocumentID, &span.Ordinal, &span.Text, &span.Start, &span.End,
			&span.Overlap, &span.TokenCount, &tag); err != nil {
			return nil, err
		}
		span.Tag = types.SpanTag(tag)
		spans = append(spans, span)
	}
	return spans, rows.Err()
}

// Search operations

// Query ranks spans under indexIDs by cosine similarity to vector
func (s *SQLiteStorage) Query(ctx context.Context, indexIDs []int64, vector []float32, limit int, filters *QueryFilters) ([]VectorResult, error) {
	if len(indexIDs) == 0 || len(vector) == 0 || limit <= 0 {
		return []VectorResult{}, nil
	}
	return searchVector(ctx, s.db, indexIDs, vector, limit, filters)
}

// Status operations

// GetStatus reports row counts and the on-disk database size
func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{BuildMode: BuildMode}

	counts := []struct {
		table string
		dest  *int
	}{
		{"documents", &status.DocumentsCount},
		{"indexes", &status.IndexesCount},
		{"spans", &status.SpansCount},
		{"embeddings", &status.EmbeddingsCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c.table, err)
		}
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, err
	}
	status.DatabaseSize = pageCount * pageSize

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version

	return status, nil
}

func parsePubDate(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	t, err := time.Parse(pubDateLayout, raw.String)
	if err != nil {
		return nil, fmt.Errorf("invalid publication date %q: %w", raw.String, err)
	}
	return &t, nil
}

// inList matches a column against a list bound as one JSON array, so the list
// length is not limited by SQLite's host parameter cap
const inList = " IN (SELECT value FROM json_each(?))"

// jsonList encodes values for an inList parameter
func jsonList[T int64 | string | types.SpanTag](values []T) string {
	b, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
