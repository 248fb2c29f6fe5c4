// Package segmenter divides document text into bounded, overlapping spans for
// embedding and search.
//
// # Basic Usage
//
//	s, err := segmenter.New(segmenter.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//
//	for _, span := range s.Segment(doc.ID, text) {
//	    fmt.Printf("span %d: %d tokens, bytes %d-%d (%s)\n",
//	        span.Ordinal, span.TokenCount, span.Start, span.End, span.Tag)
//	}
//
// # Strategies
//
//   - hybrid (default): paragraphs split on blank lines, small paragraphs merged
//     with neighbors, oversized paragraphs split at sentence ends
//   - paragraph: paragraph groups as above, oversized paragraphs cut into word windows
//   - fixed: word windows of MaxTokens repeating OverlapTokens words
//
// Text without paragraph breaks falls back to fixed windows.
//
// # Argument Preservation
//
// With PreserveArguments set, a span may grow past MaxTokens, up to
// MaxTokens*(1+ArgumentSlack), when the next unit draws a conclusion
// ("therefore", "thus", "hence", "consequently", "it follows that") or the
// current one ends on a premise ("because", "since", "given that").
//
// # Tiling
//
// Spans tile their source. The first starts at byte 0, the last ends at
// len(text), and joining Text[Overlap:] across spans reproduces the input.
// Tokens are whitespace-delimited words.
package segmenter
