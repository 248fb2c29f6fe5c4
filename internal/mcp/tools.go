package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/internal/storage"
	"github.com/dshills/concordance/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams      = -32602 // Invalid method parameters
	ErrorCodeInternalError      = -32603 // Internal JSON-RPC error
	ErrorCodeIndexingInProgress = -32002 // Another indexing operation is already running
	ErrorCodeEmptyQuery         = -32004 // Query parameter is empty
	ErrorCodeSearchTimeout      = -32005 // Search exceeded its timeout
	ErrorCodeCancelled          = -32006 // Caller cancelled the request
)

// maxReportedFailures bounds the failures listed in an index_documents response
const maxReportedFailures = 5

// handleIndexDocuments handles the index_documents tool invocation
func (s *Server) handleIndexDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	ids, err := getStringSlice(args, "document_ids")
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid document_ids", map[string]interface{}{
			"param":  "document_ids",
			"reason": err.Error(),
		})
	}
	forceReindex := getBoolDefault(args, "force_reindex", false)

	if len(ids) == 0 {
		if s.lister == nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "document_ids parameter is required", map[string]interface{}{
				"param":  "document_ids",
				"reason": "missing or empty",
			})
		}
		ids, err = s.lister.List(ctx)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list documents", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	if !s.lock.TryAcquire() {
		return nil, newMCPError(ErrorCodeIndexingInProgress, "another indexing operation is already running", nil)
	}
	defer s.lock.Release()

	cfg := s.indexCfg
	cfg.ForceReindex = forceReindex

	summary, err := s.pipeline.Run(ctx, ids, &cfg, nil)
	if summary != nil && len(summary.Succeeded) > 0 {
		s.engine.InvalidateCache()
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, newMCPError(ErrorCodeCancelled, "indexing cancelled", map[string]interface{}{
				"error": err.Error(),
			})
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"indexed":      len(summary.Failed) == 0,
		"succeeded":    nonNil(summary.Succeeded),
		"skipped":      nonNil(summary.Skipped),
		"failed_count": len(summary.Failed),
		"spans_stored": summary.Spans,
		"duration_ms":  summary.Duration.Milliseconds(),
	}

	if len(summary.Failed) > 0 {
		failures := summary.Failed
		if len(failures) > maxReportedFailures {
			failures = failures[:maxReportedFailures]
		}
		reported := make([]map[string]interface{}, len(failures))
		for i, f := range failures {
			reported[i] = map[string]interface{}{
				"document_id": f.DocumentID,
				"reason":      f.Reason(),
			}
		}
		response["failures"] = reported
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchDocuments handles the search_documents tool invocation
func (s *Server) handleSearchDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || strings.TrimSpace(query) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultResultLimit)
	if limit < 1 || limit > searcher.MaxResultLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.Mode(getStringDefault(args, "mode", string(searcher.ModeSemantic)))
	if !mode.Valid() {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid mode", map[string]interface{}{
			"param":   "mode",
			"value":   mode,
			"allowed": []string{"semantic", "dialectical", "genealogical", "hybrid"},
		})
	}

	scope, err := parseScope(args)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid scope", map[string]interface{}{
			"param":  "scope",
			"reason": err.Error(),
		})
	}

	req := searcher.Request{
		Query: query,
		Mode:  mode,
		Scope: scope,
		Options: searcher.Options{
			SimilarityThreshold: getFloatDefault(args, "similarity_threshold", 0),
			ResultLimit:         limit,
			SemanticWeight:      getFloatDefault(args, "semantic_weight", 0),
			UseCache:            getBoolDefault(args, "use_cache", true),
		},
	}

	resp, err := s.engine.Search(ctx, req)
	if err != nil {
		return nil, searchError(err)
	}

	results := resp.Results
	if results == nil {
		results = []types.SearchResult{}
	}
	response := map[string]interface{}{
		"query_id":      resp.QueryID,
		"query":         resp.Query,
		"mode":          resp.Mode,
		"total_results": resp.TotalResults,
		"duration_ms":   resp.Duration.Milliseconds(),
		"cache_hit":     resp.CacheHit,
		"provider":      resp.Provider,
		"model":         resp.Model,
		"results":       results,
	}
	if resp.Truncated {
		response["query_truncated"] = true
	}
	if len(resp.Fallbacks) > 0 {
		response["fallbacks"] = resp.Fallbacks
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// searchError maps search failures to MCP error codes
func searchError(err error) error {
	data := map[string]interface{}{"error": err.Error()}
	switch {
	case errors.Is(err, searcher.ErrInvalidQuery):
		return newMCPError(ErrorCodeInvalidParams, "invalid query", data)
	case errors.Is(err, searcher.ErrSearchTimeout):
		return newMCPError(ErrorCodeSearchTimeout, "search timed out", data)
	case errors.Is(err, searcher.ErrCancelled):
		return newMCPError(ErrorCodeCancelled, "search cancelled", data)
	default:
		return newMCPError(ErrorCodeInternalError, "search failed", data)
	}
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := arguments(request)
	if err != nil {
		return nil, err
	}

	if documentID := getStringDefault(args, "document_id", ""); documentID != "" {
		return s.documentStatus(ctx, documentID)
	}

	status, err := s.store.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	response := map[string]interface{}{
		"statistics": map[string]interface{}{
			"documents_count":  status.DocumentsCount,
			"indexes_count":    status.IndexesCount,
			"spans_count":      status.SpansCount,
			"embeddings_count": status.EmbeddingsCount,
			"database_size_mb": fmt.Sprintf("%.2f", float64(status.DatabaseSize)/(1024*1024)),
		},
		"schema_version":       status.SchemaVersion,
		"build_mode":           status.BuildMode,
		"vector_extension":     storage.VectorExtensionAvailable,
		"indexing_in_progress": s.lock.Held(),
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

func (s *Server) documentStatus(ctx context.Context, documentID string) (*mcp.CallToolResult, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if errors.Is(err, storage.ErrNotFound) {
		response := map[string]interface{}{
			"indexed":     false,
			"document_id": documentID,
			"message":     "Document not indexed. Use index_documents tool to index it.",
		}
		return mcp.NewToolResultText(formatJSON(response)), nil
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get document", map[string]interface{}{
			"error": err.Error(),
		})
	}

	indexes, err := s.store.ListIndexes(ctx, &storage.IndexFilter{DocumentIDs: []string{documentID}})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list indexes", map[string]interface{}{
			"error": err.Error(),
		})
	}

	indexed := false
	reported := make([]map[string]interface{}, len(indexes))
	for i, idx := range indexes {
		indexed = indexed || idx.Complete
		reported[i] = map[string]interface{}{
			"id":            idx.ID,
			"provider":      idx.Config.Provider,
			"model":         idx.Config.Model,
			"dimensions":    idx.Config.Dimensions,
			"chunk_size":    idx.Config.ChunkSize,
			"chunk_overlap": idx.Config.ChunkOverlap,
			"total_chunks":  idx.TotalChunks,
			"complete":      idx.Complete,
			"updated_at":    idx.UpdatedAt.Format(time.RFC3339),
		}
	}

	response := map[string]interface{}{
		"indexed": indexed,
		"document": map[string]interface{}{
			"id":      doc.ID,
			"title":   doc.Title,
			"authors": nonNil(doc.Authors),
			"year":    doc.Year(),
		},
		"indexes": reported,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// arguments returns the call's arguments; a call without arguments is empty
func arguments(request mcp.CallToolRequest) (map[string]interface{}, error) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, nil
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	return args, nil
}

// parseScope reads the optional scope object
func parseScope(args map[string]interface{}) (searcher.Scope, error) {
	var scope searcher.Scope
	raw, ok := args["scope"]
	if !ok || raw == nil {
		return scope, nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return scope, errors.New("scope must be an object")
	}

	var err error
	if scope.DocumentIDs, err = getStringSlice(obj, "document_ids"); err != nil {
		return scope, err
	}
	if scope.Authors, err = getStringSlice(obj, "authors"); err != nil {
		return scope, err
	}
	tags, err := getStringSlice(obj, "tags")
	if err != nil {
		return scope, err
	}
	for _, t := range tags {
		tag := types.SpanTag(t)
		if !tag.Valid() {
			return scope, fmt.Errorf("unknown tag %q", t)
		}
		scope.Tags = append(scope.Tags, tag)
	}

	if from := getStringDefault(obj, "published_from", ""); from != "" {
		t, err := parseDate(from, false)
		if err != nil {
			return scope, err
		}
		scope.PublishedFrom = &t
	}
	if to := getStringDefault(obj, "published_to", ""); to != "" {
		t, err := parseDate(to, true)
		if err != nil {
			return scope, err
		}
		scope.PublishedTo = &t
	}
	if scope.PublishedFrom != nil && scope.PublishedTo != nil && scope.PublishedFrom.After(*scope.PublishedTo) {
		return scope, errors.New("published_from is after published_to")
	}
	return scope, nil
}

// parseDate accepts YYYY-MM-DD or YYYY. A bare year as an upper bound
// covers the whole year.
func parseDate(s string, upper bool) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY or YYYY-MM-DD", s)
	}
	if upper {
		t = t.AddDate(1, 0, -1)
	}
	return t, nil
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getFloatDefault extracts a number parameter with a default value
func getFloatDefault(args map[string]interface{}, key string, defaultValue float64) float64 {
	if val, ok := args[key].(float64); ok {
		return val
	}
	if val, ok := args[key].(int); ok {
		return float64(val)
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	switch v := raw.(type) {
	case []string:
		return v, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d] is not a string", key, i)
			}
			out = append(out, str)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s must be an array of strings", key)
	}
}
