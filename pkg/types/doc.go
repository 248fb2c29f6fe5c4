// Package types provides shared type definitions for Concordance.
//
// This package defines the domain types that flow between the segmenter,
// the embedding gateway, the vector store and the search engine.
//
// # Core Types
//
// Document is supplied by the host application and is never modified here:
//
//	doc := &types.Document{
//	    ID:      "hegel-phenomenology",
//	    Title:   "Phenomenology of Spirit (1807)",
//	    Authors: []string{"G. W. F. Hegel"},
//	}
//
// Span is a bounded, overlapping slice of a document's text produced by the
// segmenter. Spans tile their source exactly:
//
//	var b strings.Builder
//	for _, s := range spans {
//	    b.WriteString(s.Text[s.Overlap:])
//	}
//	// b.String() == original text
//
// Fingerprint is the vector a provider computed for a text, together with the
// provider and model that produced it and the fallback events that preceded it.
//
// # Index Configuration
//
// IndexConfig identifies how a document was indexed. Its Signature is the
// uniqueness key for (document, config) pairs in storage:
//
//	cfg := types.IndexConfig{Provider: "jina", Model: "jina-embeddings-v3", Dimensions: 1024, ChunkSize: 512, ChunkOverlap: 64}
//	sig := cfg.Signature()
//
// # Search Results
//
// SearchResult references an indexed span and carries its similarity score in
// [-1, 1], an excerpt, display fields of the owning document and typed
// metadata describing how the active search mode treated it.
package types
