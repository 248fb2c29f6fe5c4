package searcher

import (
	"github.com/dshills/concordance/internal/embedder"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "have": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"or": true, "that": true, "the": true, "this": true, "to": true, "was": true,
	"were": true, "what": true, "which": true, "with": true, "how": true, "does": true,
}

// contentTerms returns the distinct non-stopword terms of text. A query of
// only stopwords keeps all its terms.
func contentTerms(text string) []string {
	all := embedder.Terms(text)
	seen := make(map[string]bool, len(all))
	var terms []string
	for _, t := range all {
		if stopwords[t] || seen[t] {
			continue
		}
		seen[t] = true
		terms = append(terms, t)
	}
	if len(terms) == 0 {
		for _, t := range all {
			if !seen[t] {
				seen[t] = true
				terms = append(terms, t)
			}
		}
	}
	return terms
}

// lexicalScore is the fraction of queryTerms present in text, in [0, 1]
func lexicalScore(queryTerms []string, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	words := make(map[string]bool)
	for _, w := range embedder.Terms(text) {
		words[w] = true
	}
	hits := 0
	for _, t := range queryTerms {
		if words[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTerms))
}
