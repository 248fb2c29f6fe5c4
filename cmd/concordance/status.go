package main

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/concordance/internal/storage"
)

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show library or document index status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				return printDocumentStatus(cmd.Context(), cmd.OutOrStdout(), a.store, args[0])
			}
			return printLibraryStatus(cmd.Context(), cmd.OutOrStdout(), a.store)
		},
	}
}

func printLibraryStatus(ctx context.Context, out io.Writer, store storage.VectorStore) error {
	status, err := store.GetStatus(ctx)
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintln(out, bold("Library"))
	fmt.Fprintf(out, "  Documents:  %d\n", status.DocumentsCount)
	fmt.Fprintf(out, "  Indexes:    %d\n", status.IndexesCount)
	fmt.Fprintf(out, "  Spans:      %d\n", status.SpansCount)
	fmt.Fprintf(out, "  Embeddings: %d\n", status.EmbeddingsCount)
	fmt.Fprintf(out, "  Size:       %.2f MB\n", float64(status.DatabaseSize)/(1024*1024))
	fmt.Fprintf(out, "  Schema:     %s (%s)\n", status.SchemaVersion, status.BuildMode)
	return nil
}

func printDocumentStatus(ctx context.Context, out io.Writer, store storage.VectorStore, id string) error {
	doc, err := store.GetDocument(ctx, id)
	if err != nil {
		return fmt.Errorf("document %s: %w", id, err)
	}
	indexes, err := store.ListIndexes(ctx, &storage.IndexFilter{DocumentIDs: []string{id}})
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()

	fmt.Fprintf(out, "%s %s\n", bold(doc.ID), doc.Title)
	if len(indexes) == 0 {
		fmt.Fprintln(out, yellow("  not indexed"))
		return nil
	}
	for _, idx := range indexes {
		state := yellow("incomplete")
		if idx.Complete {
			state = green("complete")
		}
		fmt.Fprintf(out, "  %s/%s dim=%d chunk=%d/%d spans=%d %s\n",
			idx.Config.Provider, idx.Config.Model, idx.Config.Dimensions,
			idx.Config.ChunkSize, idx.Config.ChunkOverlap, idx.TotalChunks, state)
	}
	return nil
}
