package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/concordance/internal/embedder"
	"github.com/dshills/concordance/internal/indexer"
	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/internal/source"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

func date(year int) *time.Time {
	t := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return &t
}

type testServer struct {
	*Server
	src   *source.Memory
	store *storage.SQLiteStorage
}

func setupTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	gw, err := embedder.NewGateway([]embedder.Embedder{embedder.NewLocalProvider(64)})
	require.NoError(t, err)
	t.Cleanup(func() { gw.Close() })

	src := source.NewMemory()
	require.NoError(t, src.Add(&types.Document{ID: "hegel-logic", Title: "Science of Logic", Authors: []string{"Hegel"}, PublishedAt: date(1812)},
		"Pure being is indeterminate immediacy.\n\nNothing is the same determination as pure being.\n\nBecoming is the unity of being and nothing."))
	require.NoError(t, src.Add(&types.Document{ID: "heidegger-bt", Title: "Being and Time", Authors: []string{"Heidegger"}, PublishedAt: date(1927)},
		"The question of the meaning of being must be formulated anew.\n\nDasein is an entity for which its being is an issue."))

	pipeline, err := indexer.NewPipeline(src, gw, store, indexer.WithPoolSize(2))
	require.NoError(t, err)
	t.Cleanup(pipeline.Close)

	engine, err := searcher.NewEngine(store, gw, searcher.WithResultCache(16, time.Minute))
	require.NoError(t, err)

	opts = append([]Option{WithDocumentLister(src)}, opts...)
	s, err := NewServer(store, pipeline, engine, opts...)
	require.NoError(t, err)

	return &testServer{Server: s, src: src, store: store}
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	if args != nil {
		req.Params.Arguments = args
	}
	return req
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, result)
	require.Len(t, result.Content, 1)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireMCPError(t *testing.T, err error, code int) *MCPError {
	t.Helper()
	require.Error(t, err)
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %T", err)
	assert.Equal(t, code, mcpErr.Code)
	return mcpErr
}

func (s *testServer) index(t *testing.T, args map[string]interface{}) map[string]interface{} {
	t.Helper()
	result, err := s.handleIndexDocuments(context.Background(), callRequest("index_documents", args))
	require.NoError(t, err)
	return resultJSON(t, result)
}

func TestNewServer(t *testing.T) {
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer store.Close()

	_, err = NewServer(nil, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(store, nil, nil)
	assert.Error(t, err)
}

func TestHandleIndexDocuments(t *testing.T) {
	s := setupTestServer(t)

	out := s.index(t, nil)
	assert.Equal(t, true, out["indexed"])
	assert.ElementsMatch(t, []interface{}{"hegel-logic", "heidegger-bt"}, out["succeeded"])
	assert.Empty(t, out["skipped"])
	assert.Greater(t, out["spans_stored"], float64(0))

	// Unchanged documents are skipped
	out = s.index(t, map[string]interface{}{"document_ids": []interface{}{"hegel-logic"}})
	assert.Empty(t, out["succeeded"])
	assert.Equal(t, []interface{}{"hegel-logic"}, out["skipped"])

	out = s.index(t, map[string]interface{}{
		"document_ids":  []interface{}{"hegel-logic"},
		"force_reindex": true,
	})
	assert.Equal(t, []interface{}{"hegel-logic"}, out["succeeded"])
}

func TestHandleIndexDocuments_PartialFailure(t *testing.T) {
	s := setupTestServer(t)

	out := s.index(t, map[string]interface{}{"document_ids": []interface{}{"hegel-logic", "missing"}})
	assert.Equal(t, false, out["indexed"])
	assert.Equal(t, float64(1), out["failed_count"])
	assert.Equal(t, []interface{}{"hegel-logic"}, out["succeeded"])

	failures, ok := out["failures"].([]interface{})
	require.True(t, ok)
	require.Len(t, failures, 1)
	failure := failures[0].(map[string]interface{})
	assert.Equal(t, "missing", failure["document_id"])
	assert.NotEmpty(t, failure["reason"])
}

func TestHandleIndexDocuments_Errors(t *testing.T) {
	t.Run("no lister and no ids", func(t *testing.T) {
		s := setupTestServer(t, WithDocumentLister(nil))
		_, err := s.handleIndexDocuments(context.Background(), callRequest("index_documents", nil))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})

	t.Run("ids not strings", func(t *testing.T) {
		s := setupTestServer(t)
		_, err := s.handleIndexDocuments(context.Background(), callRequest("index_documents", map[string]interface{}{
			"document_ids": []interface{}{"a", 3.0},
		}))
		requireMCPError(t, err, ErrorCodeInvalidParams)
	})

	t.Run("indexing in progress", func(t *testing.T) {
		s := setupTestServer(t)
		require.True(t, s.lock.TryAcquire())
		defer s.lock.Release()

		_, err := s.handleIndexDocuments(context.Background(), callRequest("index_documents", nil))
		requireMCPError(t, err, ErrorCodeIndexingInProgress)
	})

	t.Run("cancelled", func(t *testing.T) {
		s := setupTestServer(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.handleIndexDocuments(ctx, callRequest("index_documents", map[string]interface{}{
			"document_ids": []interface{}{"hegel-logic"},
		}))
		requireMCPError(t, err, ErrorCodeCancelled)
		assert.False(t, s.lock.Held(), "lock must be released")
	})
}

func TestHandleSearchDocuments(t *testing.T) {
	s := setupTestServer(t)
	s.index(t, nil)

	tests := []struct {
		name string
		args map[string]interface{}
		mode string
	}{
		{
			name: "semantic default",
			args: map[string]interface{}{"query": "pure being", "similarity_threshold": -1.0},
			mode: "semantic",
		},
		{
			name: "genealogical",
			args: map[string]interface{}{"query": "being", "mode": "genealogical", "similarity_threshold": -1.0},
			mode: "genealogical",
		},
		{
			name: "hybrid",
			args: map[string]interface{}{"query": "being and nothing", "mode": "hybrid", "similarity_threshold": -1.0, "semantic_weight": 0.5},
			mode: "hybrid",
		},
		{
			name: "dialectical",
			args: map[string]interface{}{"query": "being", "mode": "dialectical", "similarity_threshold": -1.0},
			mode: "dialectical",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleSearchDocuments(context.Background(), callRequest("search_documents", tt.args))
			require.NoError(t, err)
			out := resultJSON(t, result)

			assert.Equal(t, tt.mode, out["mode"])
			assert.NotEmpty(t, out["query_id"])
			assert.Equal(t, "local", out["provider"])

			results, ok := out["results"].([]interface{})
			require.True(t, ok)
			require.NotEmpty(t, results)
			first := results[0].(map[string]interface{})
			assert.Equal(t, float64(1), first["rank"])
			assert.NotEmpty(t, first["excerpt"])
		})
	}
}

func TestHandleSearchDocuments_GenealogicalOrder(t *testing.T) {
	s := setupTestServer(t)
	s.index(t, nil)

	result, err := s.handleSearchDocuments(context.Background(), callRequest("search_documents", map[string]interface{}{
		"query":                "being",
		"mode":                 "genealogical",
		"similarity_threshold": -1.0,
	}))
	require.NoError(t, err)
	out := resultJSON(t, result)

	prev := 0.0
	for _, r := range out["results"].([]interface{}) {
		year := r.(map[string]interface{})["year"].(float64)
		assert.GreaterOrEqual(t, year, prev)
		prev = year
	}
}

func TestHandleSearchDocuments_Scope(t *testing.T) {
	s := setupTestServer(t)
	s.index(t, nil)

	tests := []struct {
		name  string
		scope map[string]interface{}
		want  string
	}{
		{"document", map[string]interface{}{"document_ids": []interface{}{"heidegger-bt"}}, "heidegger-bt"},
		{"author", map[string]interface{}{"authors": []interface{}{"Hegel"}}, "hegel-logic"},
		{"year range", map[string]interface{}{"published_from": "1900", "published_to": "1930"}, "heidegger-bt"},
		{"upper year inclusive", map[string]interface{}{"published_to": "1812"}, "hegel-logic"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := s.handleSearchDocuments(context.Background(), callRequest("search_documents", map[string]interface{}{
				"query":                "being",
				"similarity_threshold": -1.0,
				"scope":                tt.scope,
			}))
			require.NoError(t, err)
			out := resultJSON(t, result)

			results := out["results"].([]interface{})
			require.NotEmpty(t, results)
			for _, r := range results {
				assert.Equal(t, tt.want, r.(map[string]interface{})["document_id"])
			}
		})
	}
}

func TestHandleSearchDocuments_Errors(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"blank query", map[string]interface{}{"query": "   "}, ErrorCodeEmptyQuery},
		{"limit too large", map[string]interface{}{"query": "being", "limit": 101.0}, ErrorCodeInvalidParams},
		{"limit zero", map[string]interface{}{"query": "being", "limit": 0.0}, ErrorCodeInvalidParams},
		{"unknown mode", map[string]interface{}{"query": "being", "mode": "eristic"}, ErrorCodeInvalidParams},
		{"unknown tag", map[string]interface{}{"query": "being", "scope": map[string]interface{}{"tags": []interface{}{"footnote"}}}, ErrorCodeInvalidParams},
		{"bad date", map[string]interface{}{"query": "being", "scope": map[string]interface{}{"published_from": "spring 1807"}}, ErrorCodeInvalidParams},
		{"inverted dates", map[string]interface{}{"query": "being", "scope": map[string]interface{}{"published_from": "1900", "published_to": "1800"}}, ErrorCodeInvalidParams},
		{"scope not object", map[string]interface{}{"query": "being", "scope": "hegel"}, ErrorCodeInvalidParams},
		{"threshold out of range", map[string]interface{}{"query": "being", "similarity_threshold": 1.5}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSearchDocuments(context.Background(), callRequest("search_documents", tt.args))
			requireMCPError(t, err, tt.code)
		})
	}
}

func TestHandleSearchDocuments_Cancelled(t *testing.T) {
	s := setupTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.handleSearchDocuments(ctx, callRequest("search_documents", map[string]interface{}{"query": "being"}))
	requireMCPError(t, err, ErrorCodeCancelled)
}

func TestHandleSearchDocuments_CacheInvalidatedByIndexing(t *testing.T) {
	s := setupTestServer(t)
	s.index(t, map[string]interface{}{"document_ids": []interface{}{"hegel-logic"}})

	args := map[string]interface{}{"query": "being", "similarity_threshold": -1.0}
	result, err := s.handleSearchDocuments(context.Background(), callRequest("search_documents", args))
	require.NoError(t, err)
	first := resultJSON(t, result)
	assert.Equal(t, false, first["cache_hit"])

	result, err = s.handleSearchDocuments(context.Background(), callRequest("search_documents", args))
	require.NoError(t, err)
	assert.Equal(t, true, resultJSON(t, result)["cache_hit"])

	s.index(t, map[string]interface{}{"document_ids": []interface{}{"heidegger-bt"}})

	result, err = s.handleSearchDocuments(context.Background(), callRequest("search_documents", args))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, false, out["cache_hit"])
	assert.Greater(t, out["total_results"], first["total_results"])
}

func TestHandleGetStatus(t *testing.T) {
	s := setupTestServer(t)

	result, err := s.handleGetStatus(context.Background(), callRequest("get_status", nil))
	require.NoError(t, err)
	out := resultJSON(t, result)
	stats := out["statistics"].(map[string]interface{})
	assert.Equal(t, float64(0), stats["documents_count"])
	assert.Equal(t, false, out["indexing_in_progress"])
	assert.Equal(t, storage.BuildMode, out["build_mode"])

	s.index(t, nil)

	result, err = s.handleGetStatus(context.Background(), callRequest("get_status", nil))
	require.NoError(t, err)
	stats = resultJSON(t, result)["statistics"].(map[string]interface{})
	assert.Equal(t, float64(2), stats["documents_count"])
	assert.Equal(t, float64(2), stats["indexes_count"])
	assert.Greater(t, stats["spans_count"], float64(0))
}

func TestHandleGetStatus_Document(t *testing.T) {
	s := setupTestServer(t)

	result, err := s.handleGetStatus(context.Background(), callRequest("get_status", map[string]interface{}{"document_id": "hegel-logic"}))
	require.NoError(t, err)
	out := resultJSON(t, result)
	assert.Equal(t, false, out["indexed"])
	assert.Contains(t, out["message"], "index_documents")

	s.index(t, map[string]interface{}{"document_ids": []interface{}{"hegel-logic"}})

	result, err = s.handleGetStatus(context.Background(), callRequest("get_status", map[string]interface{}{"document_id": "hegel-logic"}))
	require.NoError(t, err)
	out = resultJSON(t, result)
	assert.Equal(t, true, out["indexed"])

	doc := out["document"].(map[string]interface{})
	assert.Equal(t, "Science of Logic", doc["title"])
	assert.Equal(t, float64(1812), doc["year"])

	indexes := out["indexes"].([]interface{})
	require.Len(t, indexes, 1)
	idx := indexes[0].(map[string]interface{})
	assert.Equal(t, "local", idx["provider"])
	assert.Equal(t, float64(64), idx["dimensions"])
	assert.Equal(t, true, idx["complete"])
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in    string
		upper bool
		want  time.Time
		err   bool
	}{
		{"1807-03-01", false, time.Date(1807, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"1807", false, time.Date(1807, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"1807", true, time.Date(1807, 12, 31, 0, 0, 0, 0, time.UTC), false},
		{"March 1807", false, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDate(tt.in, tt.upper)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v", got)
		})
	}
}

func TestGetStringSlice(t *testing.T) {
	args := map[string]interface{}{
		"ids":    []interface{}{"a", "b"},
		"typed":  []string{"c"},
		"mixed":  []interface{}{"a", true},
		"scalar": "a",
	}

	got, err := getStringSlice(args, "ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = getStringSlice(args, "typed")
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got)

	got, err = getStringSlice(args, "absent")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = getStringSlice(args, "mixed")
	assert.Error(t, err)
	_, err = getStringSlice(args, "scalar")
	assert.Error(t, err)
}

func TestMCPError(t *testing.T) {
	err := newMCPError(ErrorCodeEmptyQuery, "query parameter is required", nil)
	assert.Equal(t, "MCP error -32004: query parameter is required", err.Error())
}
