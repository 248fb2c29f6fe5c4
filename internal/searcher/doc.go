// Package searcher runs concept searches over indexed documents.
//
// A search embeds the query, retrieves the most similar spans from every
// complete index in scope whose provider and model match the query
// fingerprint, and post-processes the candidates according to a mode:
//   - Semantic: similarity order only
//   - Dialectical: direct matches, then passages retrieved for the opposites
//     of the query's terms (see OppositionTable)
//   - Genealogical: chronological by publication date, falling back to a
//     year in the title, undated documents last
//   - Hybrid: w*semantic + (1-w)*lexical overlap with the query
//
// # Basic Usage
//
//	engine, err := searcher.NewEngine(store, gateway)
//	if err != nil {
//	    return err
//	}
//
//	resp, err := engine.Search(ctx, searcher.Request{
//	    Query: "being and nothing",
//	    Mode:  searcher.ModeDialectical,
//	    Scope: searcher.Scope{Authors: []string{"Hegel"}},
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s (%.2f) %s\n", r.Rank, r.Title, r.Score, r.Excerpt)
//	}
//
// # Lifecycle
//
// Each search moves through validating, embedding, retrieving and
// post_processing before ending in done, cancelled or failed. Options.Progress
// receives every transition. Searches are read-only: a timeout or
// cancellation at any stage leaves the store untouched and returns
// ErrSearchTimeout or ErrCancelled.
//
// # Caching
//
// With Options.UseCache, successful responses are cached under a key derived
// from the query, mode, scope and options. Call InvalidateCache after
// re-indexing.
package searcher
