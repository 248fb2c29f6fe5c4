// Package indexer builds document indexes: it pulls text from a
// DocumentSource, segments it into spans, fingerprints the spans and writes
// them to a VectorStore.
//
// # Basic Usage
//
//	p, err := indexer.NewPipeline(source, gateway, store)
//	if err != nil {
//	    return err
//	}
//	defer p.Close()
//
//	summary, err := p.Run(ctx, []string{"hegel-logic", "heidegger-bt"}, nil, nil)
//	if err != nil {
//	    return err // invalid config or cancelled
//	}
//	if err := summary.Err(); err != nil {
//	    var partial *indexer.PartialFailureError
//	    errors.As(err, &partial) // partial.Failed lists each document and reason
//	}
//
// # Incremental Indexing
//
// A complete index records the sha256 of the text it was built from. A
// document whose text and chunking are unchanged is skipped unless
// Config.ForceReindex is set. A changed document gets a new index and its
// indexes built from other text are deleted once the new one is complete.
//
// # Concurrency
//
// Documents are indexed concurrently up to Config.Concurrency. Segmentation
// runs on a bounded worker pool. A failed or cancelled document leaves no
// partial index behind; cancellation takes effect between span writes.
//
// IndexLock lets a server admit one Run at a time.
package indexer
