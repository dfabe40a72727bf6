package cmd

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/search"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	persona        string
	window         string
	limit          int
	rrfK           int
	fuzzyThreshold float64
	backends       []string
	jsonOutput     bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog as a persona",
		Long: `Search documents and knowledge items using hybrid retrieval.

Semantic (embedding), lexical (full-text) and fuzzy (trigram) backends run
in parallel and their rankings are merged with Reciprocal Rank Fusion.
Only knowledge items visible to --persona are returned.

A backend that fails is reported as a warning; the search still answers
from the others.`,
		Example: `  hybridrag search "wireless headphones" --persona customer
  hybridrag search "warranty claims" --persona support_agent --window 30d
  hybridrag search "wireles hedphones" --persona customer --backends fuzzy
  hybridrag search "refund policy" --persona product_manager --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.persona, "persona", "p", "", "Persona issuing the query (required)")
	cmd.Flags().StringVar(&opts.window, "window", "", "Only return entries created within this window (e.g. 24h, 7d)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default: search.default_limit)")
	cmd.Flags().IntVar(&opts.rrfK, "rrf-k", 0, "RRF smoothing constant (default: search.rrf_k)")
	cmd.Flags().Float64Var(&opts.fuzzyThreshold, "fuzzy-threshold", 0, "Minimum trigram similarity for fuzzy matches (default: search.fuzzy_threshold)")
	cmd.Flags().StringSliceVarP(&opts.backends, "backends", "b", nil, "Backends to query: semantic, lexical, fuzzy")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	_ = cmd.MarkFlagRequired("persona")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, embedderOptional)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	engine, err := search.NewEngine(rt.backend, rt.embedder, rt.policy, cfg.Search, rt.engineOptions()...)
	if err != nil {
		return err
	}

	window, err := search.ParseWindow(opts.window)
	if err != nil {
		return err
	}
	q := search.Query{
		Text:       query,
		Persona:    opts.persona,
		TimeWindow: window,
		Limit:      opts.limit,
		RRFK:       opts.rrfK,
		Backends:   opts.backends,
	}
	if cmd.Flags().Changed("fuzzy-threshold") {
		q.FuzzyThreshold = &opts.fuzzyThreshold
	}

	start := time.Now()
	resp, err := engine.Search(ctx, q)
	if err != nil {
		return err
	}
	slog.Info("cli_search_complete",
		slog.String("persona", opts.persona),
		slog.Int("results", len(resp.Results)),
		slog.Int("warnings", len(resp.Warnings)),
		slog.Duration("duration", time.Since(start)))

	renderer := ui.NewResultsRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if opts.jsonOutput {
		return renderer.RenderJSON(resp)
	}
	return renderer.Render(query, resp)
}
