// Package mcp implements the Model Context Protocol (MCP) server for Concordance.
//
// The MCP server exposes three tools to AI assistants:
//   - index_documents: Index library documents for search
//   - search_documents: Search indexed passages in one of four modes
//   - get_status: Report library or per-document index status
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// # Basic Usage
//
// The MCP server is typically started via the serve command:
//
//	concordance serve
//
// # Tool: index_documents
//
//	Request:
//	{
//	  "document_ids": ["hegel-logic", "heidegger-bt"],
//	  "force_reindex": false
//	}
//
// Without document_ids every document in the configured library is indexed.
// Unchanged documents are skipped. Only one indexing run is admitted at a
// time; a concurrent call fails with -32002.
//
//	Response:
//	{
//	  "indexed": true,
//	  "succeeded": ["heidegger-bt"],
//	  "skipped": ["hegel-logic"],
//	  "failed_count": 0,
//	  "spans_stored": 412,
//	  "duration_ms": 8120
//	}
//
// # Tool: search_documents
//
//	Request:
//	{
//	  "query": "the unity of being and nothing",
//	  "mode": "dialectical",
//	  "limit": 10,
//	  "scope": {"authors": ["Hegel"], "published_to": "1830"}
//	}
//
// Modes are semantic, dialectical, genealogical and hybrid. Each result
// carries the span excerpt, its tag, document metadata and mode-specific
// metadata such as opposition_match or temporal_key.
//
// # Tool: get_status
//
// Without arguments it reports library statistics. With document_id it
// reports that document's indexes.
//
// # Error Handling
//
// Failures are returned as MCPError values:
//   - -32602: Invalid params
//   - -32603: Internal error
//   - -32002: Indexing in progress
//   - -32004: Empty query
//   - -32005: Search timeout
//   - -32006: Cancelled
package mcp
