package storage

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/concordance/pkg/types"
)

// ctxCheckInterval is how many scanned rows pass between cancellation checks
const ctxCheckInterval = 256

// searchVector performs vector similarity search using cosine similarity
func searchVector(ctx context.Context, db *sql.DB, indexIDs []int64, queryVector []float32, limit int, filters *QueryFilters) ([]VectorResult, error) {
	// Early stopping depends on scan order, which only the Go path controls
	if VectorExtensionAvailable && (filters == nil || filters.StopAfter == 0) {
		return searchVectorOptimized(ctx, db, indexIDs, queryVector, limit, filters)
	}
	return searchVectorFallback(ctx, db, indexIDs, queryVector, limit, filters)
}

// searchVectorOptimized lets sqlite-vec compute distances in SQL
func searchVectorOptimized(ctx context.Context, db *sql.DB, indexIDs []int64, queryVector []float32, limit int, filters *QueryFilters) ([]VectorResult, error) {
	queryVectorBlob := serializeVector(queryVector)

	// vec_distance_cosine returns distance (lower is better)
	query := `
		SELECT
			s.id, s.index_id, s.document_id, s.ordinal, s.content, s.overlap, s.tag,
			1.0 - vec_distance_cosine(e.vector, ?) AS similarity
		FROM spans s
		INNER JOIN embeddings e ON s.id = e.span_id
		INNER JOIN documents d ON s.document_id = d.id
		WHERE e.dimension = ?
	`
	args := []interface{}{queryVectorBlob, len(queryVector)}
	query, args = applyVectorFilters(query, args, indexIDs, filters)

	if filters != nil && filters.MinScore != nil {
		query += " AND (1.0 - vec_distance_cosine(e.vector, ?)) >= ?"
		args = append(args, queryVectorBlob, *filters.MinScore)
	}

	query += " ORDER BY similarity DESC, s.document_id, s.ordinal LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	results := make([]VectorResult, 0, limit)
	for rows.Next() {
		var r VectorResult
		var tag string
		if err := rows.Scan(&r.EntryID, &r.IndexID, &r.DocumentID, &r.Ordinal, &r.Text, &r.Overlap, &tag, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		r.Tag = types.SpanTag(tag)
		r.Score = clampScore(r.Score)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// searchVectorFallback scores every candidate in Go, keeping the top limit
// in a heap, then loads span text for the survivors
func searchVectorFallback(ctx context.Context, db *sql.DB, indexIDs []int64, queryVector []float32, limit int, filters *QueryFilters) ([]VectorResult, error) {
	query := `
		SELECT s.id, s.document_id, s.ordinal, e.vector
		FROM spans s
		INNER JOIN embeddings e ON s.id = e.span_id
		INNER JOIN documents d ON s.document_id = d.id
		WHERE e.dimension = ?
	`
	args := []interface{}{len(queryVector)}
	query, args = applyVectorFilters(query, args, indexIDs, filters)
	query += " ORDER BY s.document_id, s.ordinal"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}

	candidates, err := computeSimilarityScores(ctx, rows, queryVector, limit, filters)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	return loadVectorResults(ctx, db, candidates)
}

// applyVectorFilters appends WHERE conditions for the index set and filters
func applyVectorFilters(query string, args []interface{}, indexIDs []int64, filters *QueryFilters) (string, []interface{}) {
	query += " AND s.index_id" + inList
	args = append(args, jsonList(indexIDs))

	if filters == nil {
		return query, args
	}

	if len(filters.Tags) > 0 {
		query += " AND s.tag" + inList
		args = append(args, jsonList(filters.Tags))
	}

	if len(filters.DocumentIDs) > 0 {
		query += " AND s.document_id" + inList
		args = append(args, jsonList(filters.DocumentIDs))
	}

	if len(filters.Authors) > 0 {
		query += " AND s.document_id IN (SELECT document_id FROM document_authors WHERE author" + inList + ")"
		args = append(args, jsonList(filters.Authors))
	}

	if filters.PublishedFrom != nil {
		query += " AND d.pub_date IS NOT NULL AND d.pub_date >= ?"
		args = append(args, filters.PublishedFrom.UTC().Format(pubDateLayout))
	}
	if filters.PublishedTo != nil {
		query += " AND d.pub_date IS NOT NULL AND d.pub_date <= ?"
		args = append(args, filters.PublishedTo.UTC().Format(pubDateLayout))
	}

	return query, args
}

// computeSimilarityScores scans rows and keeps the best limit candidates
func computeSimilarityScores(ctx context.Context, rows *sql.Rows, queryVector []float32, limit int, filters *QueryFilters) ([]candidate, error) {
	top := make(candidateHeap, 0, limit)
	confident := 0
	scanned := 0

	for rows.Next() {
		scanned++
		if scanned%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		var c candidate
		var vectorBlob []byte
		if err := rows.Scan(&c.entryID, &c.documentID, &c.ordinal, &vectorBlob); err != nil {
			return nil, err
		}

		vector := deserializeVector(vectorBlob)
		if len(vector) != len(queryVector) {
			continue
		}

		c.score = clampScore(cosineSimilarity(queryVector, vector))

		if filters != nil && filters.MinScore != nil && c.score < *filters.MinScore {
			continue
		}

		if len(top) < limit {
			heap.Push(&top, c)
		} else if c.better(top[0]) {
			top[0] = c
			heap.Fix(&top, 0)
		}

		if filters != nil && filters.StopAfter > 0 && c.score > filters.StopScore {
			confident++
			if confident >= filters.StopAfter {
				break
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return []candidate(top), nil
}

// loadVectorResults fetches span text for ranked candidates, preserving order
func loadVectorResults(ctx context.Context, db *sql.DB, candidates []candidate) ([]VectorResult, error) {
	results := make([]VectorResult, len(candidates))
	if len(candidates) == 0 {
		return results, nil
	}

	pos := make(map[int64]int, len(candidates))
	ids := make([]int64, len(candidates))
	for i, c := range candidates {
		pos[c.entryID] = i
		ids[i] = c.entryID
		results[i] = VectorResult{
			EntryID:    c.entryID,
			DocumentID: c.documentID,
			Ordinal:    c.ordinal,
			Score:      c.score,
		}
	}

	rows, err := db.QueryContext(ctx,
		"SELECT id, index_id, content, overlap, tag FROM spans WHERE id"+inList,
		jsonList(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load spans: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id int64
		var tag string
		var r VectorResult
		if err := rows.Scan(&id, &r.IndexID, &r.Text, &r.Overlap, &tag); err != nil {
			return nil, err
		}
		i := pos[id]
		results[i].IndexID = r.IndexID
		results[i].Text = r.Text
		results[i].Overlap = r.Overlap
		results[i].Tag = types.SpanTag(tag)
	}
	return results, rows.Err()
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// clampScore absorbs float rounding just outside [-1, 1]
func clampScore(score float64) float64 {
	return math.Max(-1, math.Min(1, score))
}

// candidate represents a span with its similarity score
type candidate struct {
	entryID    int64
	documentID string
	ordinal    int
	score      float64
}

// better orders by score descending, then document id and ordinal ascending
func (c candidate) better(o candidate) bool {
	if c.score != o.score {
		return c.score > o.score
	}
	if c.documentID != o.documentID {
		return strings.Compare(c.documentID, o.documentID) < 0
	}
	return c.ordinal < o.ordinal
}

// candidateHeap is a min-heap on better, so the root is the weakest kept candidate
type candidateHeap []candidate

func (h candidateHeap) Len() int           { return len(h) }
func (h candidateHeap) Less(i, j int) bool { return h[j].better(h[i]) }
func (h candidateHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x interface{}) {
	*h = append(*h, x.(candidate))
}

func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

// sortCandidates sorts candidates best first
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].better(candidates[j])
	})
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}
