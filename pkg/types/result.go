package types

// SearchResult is a single ranked passage returned by the search engine
type SearchResult struct {
	// Identification
	IndexID     int64  `json:"index_id"`
	EntryID     int64  `json:"entry_id"`
	DocumentID  string `json:"document_id"`
	SpanOrdinal int    `json:"span_ordinal"`
	Rank        int    `json:"rank"` // Position in result set (1-based)

	// Scoring
	Score float64 `json:"score"` // Final score after mode post-processing

	// Content
	Excerpt string  `json:"excerpt"`
	Tag     SpanTag `json:"tag"`

	// Document display fields
	Title   string   `json:"title,omitempty"`
	Authors []string `json:"authors,omitempty"`
	Year    int      `json:"year,omitempty"` // 0 when undated

	Metadata ModeMetadata `json:"metadata"`
}

// TemporalSource names where a genealogical sort key came from
type TemporalSource string

const (
	TemporalFromDate  TemporalSource = "date"
	TemporalFromTitle TemporalSource = "title"
	TemporalUnknown   TemporalSource = "unknown"
)

// ModeMetadata carries what a search mode computed for a result
type ModeMetadata struct {
	// Dialectical
	OppositionMatch bool   `json:"opposition_match,omitempty"`
	OpposedTerm     string `json:"opposed_term,omitempty"`

	// Genealogical
	TemporalKey    int            `json:"temporal_key,omitempty"`
	TemporalSource TemporalSource `json:"temporal_source,omitempty"`

	// Hybrid
	SemanticScore float64 `json:"semantic_score,omitempty"`
	LexicalScore  float64 `json:"lexical_score,omitempty"`
}

// Validate checks if the search result is valid
func (sr *SearchResult) Validate() error {
	if sr.DocumentID == "" {
		return ErrMissingDocumentID
	}

	if sr.Rank < 1 {
		return ErrInvalidRank
	}

	if sr.Score < -1 || sr.Score > 1 {
		return ErrInvalidScore
	}

	if sr.Excerpt == "" {
		return ErrEmptyExcerpt
	}

	return nil
}
