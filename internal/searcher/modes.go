package searcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dshills/concordance/internal/embedder"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

// candidate is a retrieved span moving through post-processing
type candidate struct {
	storage.VectorResult
	semantic float64
	meta     types.ModeMetadata
}

func newCandidates(results []storage.VectorResult) []candidate {
	out := make([]candidate, len(results))
	for i, r := range results {
		out[i] = candidate{VectorResult: r, semantic: r.Score}
	}
	return out
}

// tieBreak orders equal scores by document id, then span ordinal
func tieBreak(a, b candidate) bool {
	if a.DocumentID != b.DocumentID {
		return a.DocumentID < b.DocumentID
	}
	return a.Ordinal < b.Ordinal
}

// bySimilarity sorts candidates by score descending
func bySimilarity(cs []candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return tieBreak(cs[i], cs[j])
	})
}

func (e *Engine) postProcess(ctx context.Context, req Request, fp *types.Fingerprint, indexIDs []int64, results []storage.VectorResult) ([]types.SearchResult, error) {
	ctx, span := e.tracer.Start(ctx, "searcher.postProcess")
	defer span.End()

	candidates := newCandidates(results)
	limit := req.Options.ResultLimit

	var err error
	switch req.Mode {
	case ModeSemantic:
		bySimilarity(candidates)
	case ModeDialectical:
		candidates, err = e.dialectical(ctx, req, fp, indexIDs, candidates)
	case ModeGenealogical:
		candidates, err = e.genealogical(ctx, candidates)
	case ModeHybrid:
		candidates = hybrid(req.Query, req.Options.SemanticWeight, candidates)
	default:
		err = fmt.Errorf("%w: unknown mode %q", ErrInvalidQuery, req.Mode)
	}
	if err != nil {
		return nil, err
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return e.buildResults(ctx, candidates)
}

// dialectical returns direct matches followed by passages retrieved for the
// query terms' opposites. Direct matches mentioning an opposite are flagged.
func (e *Engine) dialectical(ctx context.Context, req Request, fp *types.Fingerprint, indexIDs []int64, direct []candidate) ([]candidate, error) {
	bySimilarity(direct)

	opposites := e.oppositions.OppositesOf(embedder.Terms(req.Query))
	if len(opposites) == 0 || len(indexIDs) == 0 {
		return direct, nil
	}

	for i := range direct {
		if term, ok := mentionsAny(direct[i].Text, opposites); ok {
			direct[i].meta.OppositionMatch = true
			direct[i].meta.OpposedTerm = term
		}
	}

	seen := make(map[int64]bool, len(direct))
	for _, c := range direct {
		seen[c.EntryID] = true
	}

	limit := req.Options.ResultLimit
	filters := e.queryFilters(req)
	var opposed []candidate

	for _, term := range opposites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ofp, err := e.embed(ctx, term)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Warn("skipping opposite term", "term", term, "error", err)
			continue
		}
		// Vectors from another model are not comparable with the indexes in scope
		if ofp.Provider != fp.Provider || ofp.Model != fp.Model || len(ofp.Vector) != len(fp.Vector) {
			e.logger.Debug("skipping opposite term from another model", "term", term, "provider", ofp.Provider, "model", ofp.Model)
			continue
		}

		results, err := e.query(ctx, indexIDs, ofp.Vector, limit, filters)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("opposition retrieval for %q: %w", term, err)
		}

		for _, c := range newCandidates(results) {
			if seen[c.EntryID] {
				continue
			}
			seen[c.EntryID] = true
			c.meta.OppositionMatch = true
			c.meta.OpposedTerm = term
			opposed = append(opposed, c)
		}
	}
	bySimilarity(opposed)

	// Direct matches yield up to half the page to the opposition group
	reserve := min(len(opposed), limit/2)
	if len(direct) > limit-reserve {
		direct = direct[:limit-reserve]
	}
	return append(direct, opposed...), nil
}

// mentionsAny reports the first of terms appearing as a word of text
func mentionsAny(text string, terms []string) (string, bool) {
	words := make(map[string]bool)
	for _, w := range embedder.Terms(text) {
		words[w] = true
	}
	for _, t := range terms {
		if words[t] {
			return t, true
		}
	}
	return "", false
}

// genealogical orders candidates chronologically, undated documents last,
// ties by similarity
func (e *Engine) genealogical(ctx context.Context, candidates []candidate) ([]candidate, error) {
	docs, err := e.documents(ctx, candidates)
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		key, source := temporalKey(docs[candidates[i].DocumentID])
		candidates[i].meta.TemporalKey = key
		candidates[i].meta.TemporalSource = source
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		aKnown := a.meta.TemporalSource != types.TemporalUnknown
		bKnown := b.meta.TemporalSource != types.TemporalUnknown
		if aKnown != bKnown {
			return aKnown
		}
		if a.meta.TemporalKey != b.meta.TemporalKey {
			return a.meta.TemporalKey < b.meta.TemporalKey
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return tieBreak(a, b)
	})
	return candidates, nil
}

// hybrid re-ranks by w*semantic + (1-w)*lexical
func hybrid(query string, weight float64, candidates []candidate) []candidate {
	queryTerms := contentTerms(query)
	for i := range candidates {
		lexical := lexicalScore(queryTerms, candidates[i].Text)
		candidates[i].meta.SemanticScore = candidates[i].semantic
		candidates[i].meta.LexicalScore = lexical
		candidates[i].Score = weight*candidates[i].semantic + (1-weight)*lexical
	}
	bySimilarity(candidates)
	return candidates
}

// documents loads display metadata for every document among candidates.
// Documents registered only as placeholders come back with empty fields.
func (e *Engine) documents(ctx context.Context, candidates []candidate) (map[string]*types.Document, error) {
	docs := make(map[string]*types.Document)
	for _, c := range candidates {
		if _, ok := docs[c.DocumentID]; ok {
			continue
		}
		doc, err := e.store.GetDocument(ctx, c.DocumentID)
		if errors.Is(err, storage.ErrNotFound) {
			doc = &types.Document{ID: c.DocumentID}
		} else if err != nil {
			return nil, fmt.Errorf("failed to load document %s: %w", c.DocumentID, err)
		}
		docs[c.DocumentID] = doc
	}
	return docs, nil
}

func (e *Engine) buildResults(ctx context.Context, candidates []candidate) ([]types.SearchResult, error) {
	docs, err := e.documents(ctx, candidates)
	if err != nil {
		return nil, err
	}

	results := make([]types.SearchResult, len(candidates))
	for i, c := range candidates {
		doc := docs[c.DocumentID]
		results[i] = types.SearchResult{
			IndexID:     c.IndexID,
			EntryID:     c.EntryID,
			DocumentID:  c.DocumentID,
			SpanOrdinal: c.Ordinal,
			Rank:        i + 1,
			Score:       c.Score,
			Excerpt:     excerpt(c.Text, c.Overlap),
			Tag:         c.Tag,
			Title:       doc.Title,
			Authors:     doc.Authors,
			Year:        doc.Year(),
			Metadata:    c.meta,
		}
	}
	return results, nil
}

// excerpt returns the span's own text without the overlap carried from its
// predecessor, cut at a word boundary
func excerpt(text string, overlap int) string {
	out := text
	if overlap > 0 && overlap <= len(text) {
		if own := strings.TrimSpace(text[overlap:]); own != "" {
			out = own
		}
	}
	out = strings.TrimSpace(out)

	if utf8.RuneCountInString(out) <= excerptLength {
		return out
	}
	cut := []rune(out)[:excerptLength]
	s := string(cut)
	if i := strings.LastIndexAny(s, " \t\n"); i > 0 {
		s = s[:i]
	}
	return s + "…"
}
