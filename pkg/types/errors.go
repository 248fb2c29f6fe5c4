package types

import "errors"

// Domain errors for type validation
var (
	ErrMissingDocumentID = errors.New("document ID is required")
	ErrInvalidOrdinal    = errors.New("span ordinal must be >= 0")
	ErrInvalidOffsets    = errors.New("span offsets are invalid")
	ErrInvalidConfig     = errors.New("invalid index config")

	// Search result errors
	ErrInvalidRank  = errors.New("rank must be >= 1")
	ErrInvalidScore = errors.New("score must be between -1 and 1")
	ErrEmptyExcerpt = errors.New("excerpt cannot be empty")
)
