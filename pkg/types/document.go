package types

import "time"

// Document is the metadata of a text supplied by the host document store.
type Document struct {
	ID          string
	Title       string
	Authors     []string
	PublishedAt *time.Time // Nullable - undated works are common
	Language    string
}

// Validate checks that the document can be persisted
func (d *Document) Validate() error {
	if d.ID == "" {
		return ErrMissingDocumentID
	}
	return nil
}

// Year returns the publication year, or 0 when the document is undated
func (d *Document) Year() int {
	if d.PublishedAt == nil {
		return 0
	}
	return d.PublishedAt.Year()
}
