package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/concordance/internal/searcher"
	"github.com/dshills/concordance/pkg/types"
)

type searchFlags struct {
	mode      string
	limit     int
	threshold float64
	weight    float64
	docs      []string
	authors   []string
	tags      []string
	from      int
	to        int
	asJSON    bool
	noCache   bool
}

func newSearchCmd(configPath *string) *cobra.Command {
	var f searchFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			req, err := f.request(strings.Join(args, " "))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			resp, err := a.engine.Search(ctx, req)
			if err != nil {
				return err
			}
			if f.asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			printResults(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	cmd.Flags().StringVarP(&f.mode, "mode", "m", string(searcher.ModeSemantic), "semantic, dialectical, genealogical or hybrid")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Maximum results (default: search.result_limit)")
	cmd.Flags().Float64Var(&f.threshold, "threshold", 0, "Minimum similarity (default: search.similarity_threshold; negative disables)")
	cmd.Flags().Float64Var(&f.weight, "semantic-weight", 0, "Semantic weight for hybrid mode (default: search.semantic_weight)")
	cmd.Flags().StringSliceVar(&f.docs, "doc", nil, "Restrict to document ids")
	cmd.Flags().StringSliceVar(&f.authors, "author", nil, "Restrict to authors")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Restrict to span tags (body, argument, quote)")
	cmd.Flags().IntVar(&f.from, "from", 0, "Earliest publication year")
	cmd.Flags().IntVar(&f.to, "to", 0, "Latest publication year")
	cmd.Flags().BoolVar(&f.asJSON, "json", false, "Print the response as JSON")
	cmd.Flags().BoolVar(&f.noCache, "no-cache", false, "Bypass the result cache")
	return cmd
}

func (f *searchFlags) request(query string) (searcher.Request, error) {
	req := searcher.Request{
		Query: query,
		Mode:  searcher.Mode(f.mode),
		Scope: searcher.Scope{
			DocumentIDs: f.docs,
			Authors:     f.authors,
		},
		Options: searcher.Options{
			SimilarityThreshold: f.threshold,
			ResultLimit:         f.limit,
			SemanticWeight:      f.weight,
			UseCache:            !f.noCache,
		},
	}
	for _, t := range f.tags {
		tag := types.SpanTag(t)
		if !tag.Valid() {
			return req, fmt.Errorf("unknown tag %q", t)
		}
		req.Scope.Tags = append(req.Scope.Tags, tag)
	}
	if f.from != 0 {
		from := time.Date(f.from, time.January, 1, 0, 0, 0, 0, time.UTC)
		req.Scope.PublishedFrom = &from
	}
	if f.to != 0 {
		to := time.Date(f.to, time.December, 31, 0, 0, 0, 0, time.UTC)
		req.Scope.PublishedTo = &to
	}
	return req, nil
}

func printResults(out io.Writer, resp *searcher.Response) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	fmt.Fprintf(out, "%s %d results for %q (%s, %s/%s, %s)\n\n",
		boldGreen("Found"), resp.TotalResults, resp.Query, resp.Mode,
		resp.Provider, resp.Model, resp.Duration.Round(time.Millisecond))

	for _, r := range resp.Results {
		header := r.DocumentID
		if r.Title != "" {
			header = r.Title
		}
		if len(r.Authors) > 0 {
			header += " / " + strings.Join(r.Authors, ", ")
		}
		if r.Year != 0 {
			header += fmt.Sprintf(" (%d)", r.Year)
		}

		fmt.Fprintf(out, "%s %s %s\n", boldCyan(fmt.Sprintf("%2d.", r.Rank)), header, faint(fmt.Sprintf("score %.3f", r.Score)))
		if r.Metadata.OppositionMatch {
			fmt.Fprintf(out, "    %s\n", faint("opposed term: "+r.Metadata.OpposedTerm))
		}
		fmt.Fprintf(out, "    %s\n\n", strings.ReplaceAll(r.Excerpt, "\n", "\n    "))
	}

	if resp.CacheHit {
		fmt.Fprintln(out, faint("(cached)"))
	}
	for _, fb := range resp.Fallbacks {
		fmt.Fprintln(out, faint(fmt.Sprintf("(fell back from %s: %s)", fb.Provider, fb.Reason)))
	}
}
