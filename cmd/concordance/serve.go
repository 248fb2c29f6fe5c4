package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/concordance/internal/indexer"
	"github.com/dshills/concordance/internal/mcp"
	"github.com/dshills/concordance/internal/source"
	"github.com/dshills/concordance/internal/storage"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio",
		Long: `Run the MCP server on stdio. Documents are read from source.dir.
stdout is reserved for the MCP protocol; logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	a, err := newApp(configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("Concordance MCP Server starting",
		"version", version,
		"build_mode", storage.BuildMode,
		"driver", storage.DriverName,
		"vector_extension", storage.VectorExtensionAvailable)

	var src interface {
		indexer.DocumentSource
		mcp.DocumentLister
	}
	if a.cfg.Source.Dir != "" {
		dir, err := source.NewDirectory(a.cfg.Source.Dir)
		if err != nil {
			return err
		}
		src = dir
	} else {
		a.logger.Warn("source.dir not set; index_documents has no documents to read")
		src = source.NewMemory()
	}

	pipeline, err := a.newPipeline(src)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	server, err := mcp.NewServer(a.store, pipeline, a.engine,
		mcp.WithDocumentLister(src),
		mcp.WithIndexConfig(a.indexConfig()),
		mcp.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("MCP server ready, listening on stdio")
		errChan <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		a.logger.Info("shutting down", "signal", sig.String())
		cancel()
	case err := <-errChan:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	a.logger.Info("server stopped")
	return nil
}
