package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// indexDocumentsTool returns the tool definition for index_documents
func indexDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "index_documents",
		Description: "Segment, embed and store documents so they can be searched",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_ids": map[string]interface{}{
					"type":        "array",
					"description": "Documents to index. Omit to index every document the source lists.",
					"items": map[string]interface{}{
						"type": "string",
					},
				},
				"force_reindex": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, rebuild documents whose text is unchanged",
					"default":     false,
				},
			},
		},
	}
}

// searchDocumentsTool returns the tool definition for search_documents
func searchDocumentsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_documents",
		Description: "Find passages conceptually similar to a query across indexed documents",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Concept or passage to search for (up to 2000 characters)",
				},
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "semantic (similarity), dialectical (with opposed concepts), genealogical (chronological) or hybrid (semantic + lexical)",
					"enum":        []string{"semantic", "dialectical", "genealogical", "hybrid"},
					"default":     "semantic",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     20,
					"minimum":     1,
					"maximum":     100,
				},
				"similarity_threshold": map[string]interface{}{
					"type":        "number",
					"description": "Minimum similarity (default 0.7; 0 uses the default). Negative disables the threshold.",
					"maximum":     1.0,
				},
				"semantic_weight": map[string]interface{}{
					"type":        "number",
					"description": "Weight of the semantic score in hybrid mode (0.0-1.0, default 0.7)",
					"minimum":     0.0,
					"maximum":     1.0,
				},
				"scope": map[string]interface{}{
					"type":        "object",
					"description": "Optional restrictions. Omit for a library-wide search.",
					"properties": map[string]interface{}{
						"document_ids": map[string]interface{}{
							"type":        "array",
							"description": "Search only these documents",
							"items":       map[string]interface{}{"type": "string"},
						},
						"authors": map[string]interface{}{
							"type":        "array",
							"description": "Search only documents by these authors",
							"items":       map[string]interface{}{"type": "string"},
						},
						"tags": map[string]interface{}{
							"type":        "array",
							"description": "Search only spans with these structural tags",
							"items": map[string]interface{}{
								"type": "string",
								"enum": []string{"body", "argument", "quote"},
							},
						},
						"published_from": map[string]interface{}{
							"type":        "string",
							"description": "Earliest publication date (YYYY or YYYY-MM-DD)",
						},
						"published_to": map[string]interface{}{
							"type":        "string",
							"description": "Latest publication date (YYYY or YYYY-MM-DD)",
						},
					},
				},
				"use_cache": map[string]interface{}{
					"type":        "boolean",
					"description": "Serve repeated queries from the result cache",
					"default":     true,
				},
			},
			Required: []string{"query"},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report library statistics, or the indexes of one document",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"document_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional document to report on",
				},
			},
		},
	}
}
