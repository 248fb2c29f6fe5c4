package mcp

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/dshills/concordance/internal/indexer"
	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "concordance"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// DocumentLister enumerates the documents index_documents indexes when no
// ids are given
type DocumentLister interface {
	List(ctx context.Context) ([]string, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	store    storage.VectorStore
	pipeline *indexer.Pipeline
	engine   *searcher.Engine
	lister   DocumentLister
	indexCfg indexer.Config
	lock     indexer.IndexLock
	logger   *slog.Logger
}

// Option configures a Server
type Option func(*Server)

// WithDocumentLister lets index_documents run without explicit ids
func WithDocumentLister(l DocumentLister) Option {
	return func(s *Server) {
		s.lister = l
	}
}

// WithIndexConfig sets the configuration index_documents runs with
func WithIndexConfig(cfg indexer.Config) Option {
	return func(s *Server) {
		s.indexCfg = cfg
	}
}

// WithLogger sets the server logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP server instance. The caller owns the store,
// pipeline and engine and closes them after Serve returns.
func NewServer(store storage.VectorStore, pipeline *indexer.Pipeline, engine *searcher.Engine, opts ...Option) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store not initialized")
	}
	if pipeline == nil {
		return nil, fmt.Errorf("indexing pipeline not initialized")
	}
	if engine == nil {
		return nil, fmt.Errorf("search engine not initialized")
	}

	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		store:    store,
		pipeline: pipeline,
		engine:   engine,
		indexCfg: *indexer.DefaultConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerTools()
	return s, nil
}

// Serve runs the MCP protocol on stdio until ctx is done or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	return s.ServeIO(ctx, os.Stdin, os.Stdout)
}

// ServeIO runs the MCP protocol over the given streams
func (s *Server) ServeIO(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(log.New(slogWriter{s.logger}, "", 0))
	return stdio.Listen(ctx, in, out)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(indexDocumentsTool(), s.handleIndexDocuments)
	s.mcp.AddTool(searchDocumentsTool(), s.handleSearchDocuments)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
}

// slogWriter adapts the stdio server's log.Logger to slog
type slogWriter struct {
	logger *slog.Logger
}

func (w slogWriter) Write(p []byte) (int, error) {
	w.logger.Error("mcp transport", "message", string(p))
	return len(p), nil
}
