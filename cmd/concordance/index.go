package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/concordance/internal/indexer"
	"github.com/dshills/concordance/internal/source"
)

func newIndexCmd(configPath *string) *cobra.Command {
	var (
		ids   []string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "index [dir]",
		Short: "Index the documents of a library directory",
		Long: `Index the .txt and .md documents under dir (default: source.dir).
A document's id is its relative path without extension. An optional .toml
file beside each document supplies title, authors, published and language.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			dir := a.cfg.Source.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			if dir == "" {
				return fmt.Errorf("no library directory: pass one or set source.dir")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIndex(ctx, cmd.OutOrStdout(), a, dir, ids, force)
		},
	}

	cmd.Flags().StringSliceVar(&ids, "id", nil, "Document ids to index (default: all)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-index unchanged documents")
	return cmd
}

func runIndex(ctx context.Context, out io.Writer, a *app, dir string, ids []string, force bool) error {
	src, err := source.NewDirectory(dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		ids, err = src.List(ctx)
		if err != nil {
			return err
		}
	}
	if len(ids) == 0 {
		fmt.Fprintf(out, "No documents found in %s\n", src.Root())
		return nil
	}

	pipeline, err := a.newPipeline(src)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	cfg := a.indexConfig()
	cfg.ForceReindex = force

	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	summary, err := pipeline.Run(ctx, ids, &cfg, func(p indexer.Progress) {
		prefix := fmt.Sprintf("[%d/%d]", p.DocumentsDone, p.DocumentsTotal)
		switch p.Stage {
		case indexer.StageDone:
			fmt.Fprintf(out, "%s %s %s (%d spans)\n", prefix, green("indexed"), p.DocumentID, p.SpansTotal)
		case indexer.StageSkipped:
			fmt.Fprintf(out, "%s %s %s\n", prefix, yellow("unchanged"), p.DocumentID)
		case indexer.StageFailed:
			fmt.Fprintf(out, "%s %s %s: %v\n", prefix, red("failed"), p.DocumentID, p.Err)
		}
	})
	if err != nil {
		return err
	}

	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintf(out, "\n%s %d indexed, %d unchanged, %d failed, %d spans in %s\n",
		bold("Done:"), len(summary.Succeeded), len(summary.Skipped), len(summary.Failed),
		summary.Spans, summary.Duration.Round(time.Millisecond))
	return summary.Err()
}
