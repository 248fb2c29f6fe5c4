// Package storage provides SQLite-based persistence for documents, span
// indexes and their fingerprints.
//
// # Database Schema
//
// Tables:
//   - documents: Host-supplied metadata (title, language, publication date)
//   - document_authors: Ordered author list per document
//   - indexes: One row per (document, IndexConfig signature), UNIQUE on both
//   - spans: Segmented text with byte offsets and structural tag
//   - embeddings: Little-endian float32 vectors keyed by span
//
// Deleting a document cascades to its indexes, spans and embeddings.
//
// # Basic Usage
//
//	store, err := storage.NewSQLiteStorage("concordance.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
//	indexID, err := store.CreateIndex(ctx, "phenomenology", cfg)
//	if errors.Is(err, storage.ErrDuplicateIndexConfig) {
//	    // already indexed under this provider, model and chunking
//	}
//
//	for _, span := range spans {
//	    if _, err := store.Put(ctx, indexID, span, fingerprints[span.Ordinal]); err != nil {
//	        return err
//	    }
//	}
//	store.CompleteIndex(ctx, indexID, contentHash)
//
// Each Put writes the span row, the vector row and the index's total_chunks
// in one transaction, so a reader never sees a span without its vector.
//
// # Vector Search
//
//	results, err := store.Query(ctx, indexIDs, queryVector, 20, &storage.QueryFilters{
//	    Authors: []string{"Hegel"},
//	    Tags:    []types.SpanTag{types.TagArgument},
//	})
//
// Results are ordered by cosine similarity descending, ties broken by
// document id then span ordinal. StopAfter/StopScore end the scan early once
// enough high-confidence candidates are found.
//
// # Build Tags
//
// Pure Go Build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - Similarity computed in Go with a bounded heap
//
//     CGO_ENABLED=0 go build ./...
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - vec_distance_cosine in SQL, sqlite-vec registered at init
//
//     CGO_ENABLED=1 go build -tags sqlite_vec ./...
//
// # Migrations
//
// Schema versions are semver strings recorded in schema_version and applied
// in order by ApplyMigrations on open. RollbackMigration undoes the latest.
package storage
