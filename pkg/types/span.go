package types

import "fmt"

// SpanTag is the structural classification of a span
type SpanTag string

const (
	TagBody     SpanTag = "body"
	TagArgument SpanTag = "argument"
	TagQuote    SpanTag = "quote"
)

// Valid reports whether the tag is one of the known tags
func (t SpanTag) Valid() bool {
	switch t {
	case TagBody, TagArgument, TagQuote:
		return true
	default:
		return false
	}
}

// Span is a contiguous region of a document's text
type Span struct {
	DocumentID string
	Ordinal    int // Zero-based position within the document

	// Text covers [Start, End) of the source. The first Overlap bytes repeat
	// the tail of the previous span.
	Text    string
	Start   int
	End     int
	Overlap int

	TokenCount int
	Tag        SpanTag
}

// Validate checks span invariants that storage relies on
func (s *Span) Validate() error {
	if s.DocumentID == "" {
		return ErrMissingDocumentID
	}
	if s.Ordinal < 0 {
		return ErrInvalidOrdinal
	}
	if s.Start < 0 || s.End < s.Start || s.End-s.Start != len(s.Text) {
		return fmt.Errorf("%w: [%d, %d) for %d bytes", ErrInvalidOffsets, s.Start, s.End, len(s.Text))
	}
	if s.Overlap < 0 || s.Overlap > len(s.Text) {
		return fmt.Errorf("%w: overlap %d", ErrInvalidOffsets, s.Overlap)
	}
	if s.Tag != "" && !s.Tag.Valid() {
		return fmt.Errorf("invalid span tag %q", s.Tag)
	}
	return nil
}

// NewText returns the part of the span that is not shared with its predecessor
func (s *Span) NewText() string {
	return s.Text[s.Overlap:]
}
