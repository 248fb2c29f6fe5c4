// Package source provides document sources for the indexing pipeline: an
// in-memory map for tests and embedding hosts, and a directory of text files
// with TOML sidecar metadata.
package source

import (
	"errors"

	"github.com/dshills/concordance/pkg/types"
)

// ErrNotFound is returned for an unknown document id
var ErrNotFound = errors.New("document not found")

func cloneDocument(doc *types.Document) *types.Document {
	clone := *doc
	clone.Authors = append([]string(nil), doc.Authors...)
	if doc.PublishedAt != nil {
		ts := *doc.PublishedAt
		clone.PublishedAt = &ts
	}
	return &clone
}
