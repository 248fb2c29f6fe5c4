package indexer

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Failure is a document that could not be indexed
type Failure struct {
	DocumentID string
	Err        error
}

// Reason returns the failure's error text
func (f Failure) Reason() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Error()
}

// Summary is the outcome of one Run
type Summary struct {
	Succeeded []string
	Skipped   []string // Unchanged since their last complete index
	Failed    []Failure
	Spans     int // Spans stored across succeeded documents
	Duration  time.Duration
}

// Err returns a *PartialFailureError when any document failed
func (s *Summary) Err() error {
	if len(s.Failed) == 0 {
		return nil
	}
	return &PartialFailureError{Failed: append([]Failure(nil), s.Failed...)}
}

// Total returns the number of documents the run accounted for
func (s *Summary) Total() int {
	return len(s.Succeeded) + len(s.Skipped) + len(s.Failed)
}

func (s *Summary) sort() {
	sort.Strings(s.Succeeded)
	sort.Strings(s.Skipped)
	sort.Slice(s.Failed, func(i, j int) bool {
		return s.Failed[i].DocumentID < s.Failed[j].DocumentID
	})
}

// PartialFailureError lists the documents of a run that failed
type PartialFailureError struct {
	Failed []Failure
}

func (e *PartialFailureError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s: %s", f.DocumentID, f.Reason())
	}
	return fmt.Sprintf("%d documents failed to index: %s", len(e.Failed), strings.Join(parts, "; "))
}

// Unwrap exposes each document's error to errors.Is and errors.As
func (e *PartialFailureError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		if f.Err != nil {
			errs = append(errs, f.Err)
		}
	}
	return errs
}
