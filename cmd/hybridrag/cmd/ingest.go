package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/config"
	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
	"github.com/Aman-CERP/hybridrag/internal/ui"
	"github.com/Aman-CERP/hybridrag/internal/watcher"
)

// ingestOptions holds CLI flags for ingest.
type ingestOptions struct {
	format     string
	watch      bool
	batchSize  int
	workers    int
	noTUI      bool
	jsonOutput bool
}

func newIngestCmd() *cobra.Command {
	var opts ingestOptions

	cmd := &cobra.Command{
		Use:   "ingest <file|dir>",
		Short: "Load catalog records and knowledge items",
		Long: `Load documents and knowledge items from JSON Lines or CSV.

Records are validated, embedded and committed in batches. A record that
fails validation is skipped and reported; a batch that fails to commit is
rolled back on its own while the rest of the run continues. Re-ingesting
the same ids replaces their content.

The format is taken from the file extension (.jsonl, .ndjson, .json, .csv)
unless --format is given. A directory ingests every supported file in it.

With --watch the command keeps running and re-ingests a file whenever it
changes.`,
		Example: `  hybridrag ingest products.csv
  hybridrag ingest knowledge.jsonl --batch-size 500
  hybridrag ingest ./data --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runIngest(ctx, cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "", "Input format: jsonl or csv (default: from extension)")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Re-ingest input files when they change")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", 0, "Records per committed batch (default: ingest.batch_size)")
	cmd.Flags().IntVar(&opts.workers, "workers", 0, "Concurrent embedding workers (default: ingest.workers)")
	cmd.Flags().BoolVar(&opts.noTUI, "no-tui", false, "Disable TUI mode, use plain text output")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the run report as JSON")

	return cmd
}

func runIngest(ctx context.Context, cmd *cobra.Command, path string, opts ingestOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.batchSize > 0 {
		cfg.Ingest.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		cfg.Ingest.Workers = opts.workers
	}

	files, err := inputFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 && !opts.watch {
		return hrerrors.ValidationError(fmt.Sprintf("no .jsonl, .ndjson, .json or .csv files in %s", path), nil)
	}

	rt, err := openRuntime(ctx, cfg, embedderRequired)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			slog.Error("failed to close backend", slog.String("error", err.Error()))
		}
	}()

	slog.Info("ingest_started",
		slog.String("path", path),
		slog.Int("files", len(files)),
		slog.Int("batch_size", cfg.Ingest.BatchSize),
		slog.Int("workers", cfg.Ingest.Workers))

	var failed []string
	for _, file := range files {
		report, err := ingestFile(ctx, cmd, rt, file, opts)
		if err != nil {
			return err
		}
		if len(report.FailedBatches) > 0 {
			failed = append(failed, fmt.Sprintf("%s (%d batches)", filepath.Base(file), len(report.FailedBatches)))
		}
	}

	if opts.watch {
		return watchAndIngest(ctx, cmd, rt, path, opts)
	}

	if len(failed) > 0 {
		return hrerrors.New(hrerrors.ErrCodeBatchFailed,
			"some batches failed to commit: "+strings.Join(failed, ", "), nil).
			WithSuggestion("Fix the reported records and ingest the file again; committed batches are kept")
	}
	return nil
}

// inputFiles expands a directory into the supported files it contains.
func inputFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeInputRead, "cannot read "+path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, hrerrors.New(hrerrors.ErrCodeInputRead, "cannot list "+path, err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if slices.Contains(watcher.DefaultExtensions, strings.ToLower(filepath.Ext(name))) {
			files = append(files, filepath.Join(path, name))
		}
	}
	return files, nil
}

// ingestFile runs the pipeline over one file, rendering progress.
func ingestFile(ctx context.Context, cmd *cobra.Command, rt *runtime, file string, opts ingestOptions) (*ingest.Report, error) {
	reader, err := ingest.LoadFile(file, opts.format)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	var out io.Writer = cmd.OutOrStdout()
	if opts.jsonOutput {
		out = io.Discard
	}
	renderer := ui.NewRenderer(ui.NewConfig(out,
		ui.WithForcePlain(opts.noTUI || opts.watch || opts.jsonOutput),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithTitle(filepath.Base(file)),
	))
	if err := renderer.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start renderer: %w", err)
	}

	pipeOpts := ingest.OptionsFromConfig(rt.cfg)
	pipeOpts.Progress = progressBridge(renderer)
	pipeline, err := ingest.New(rt.backend, rt.embedder, rt.policy, pipeOpts)
	if err != nil {
		_ = renderer.Stop()
		return nil, err
	}
	defer pipeline.Close()

	report, runErr := pipeline.Run(ctx, reader)
	if report != nil {
		for _, r := range report.Rejected {
			renderer.AddError(ui.ErrorEvent{
				ID:     rejectionLabel(r),
				Err:    errors.New(r.Reason),
				IsWarn: true,
			})
		}
		renderer.Complete(completionStats(report, rt))
	}
	if err := renderer.Stop(); err != nil {
		slog.Warn("renderer_stop_failed", slog.String("error", err.Error()))
	}

	if report != nil {
		slog.Info("ingest_file_complete",
			slog.String("file", file),
			slog.String("job_id", report.JobID),
			slog.Int("committed", report.Committed),
			slog.Int("rejected", len(report.Rejected)),
			slog.Int("failed_batches", len(report.FailedBatches)),
			slog.Duration("duration", report.Duration))
		if opts.jsonOutput {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return report, err
			}
		}
	}

	if runErr != nil {
		// An interrupted run keeps its committed batches.
		if report != nil && report.Cancelled {
			return report, nil
		}
		return report, runErr
	}
	return report, nil
}

func rejectionLabel(r ingest.Rejection) string {
	if r.ID != "" {
		return r.ID
	}
	return fmt.Sprintf("#%d", r.Index)
}

// progressBridge turns pipeline events into renderer updates.
func progressBridge(r ui.Renderer) ingest.ProgressFunc {
	return func(ev ingest.Event) {
		if ev.Kind == ingest.BatchFailed {
			r.AddError(ui.ErrorEvent{Batch: ev.Batch, Err: ev.Err})
		}
		r.UpdateProgress(ui.ProgressEvent{
			Stage:   ui.StageCommitting,
			Current: ev.Committed,
			Batch:   ev.Batch,
			Message: fmt.Sprintf("%d read, %d rejected", ev.Read, ev.Rejected),
		})
	}
}

func completionStats(report *ingest.Report, rt *runtime) ui.CompletionStats {
	stats := ui.CompletionStats{
		JobID:             report.JobID,
		Read:              report.Read,
		Committed:         report.Committed,
		Batches:           report.Batches,
		Rejected:          len(report.Rejected),
		FailedBatches:     len(report.FailedBatches),
		EmbeddingFailures: report.EmbeddingFailures,
		Cancelled:         report.Cancelled,
		Duration:          report.Duration,
	}
	if rt.embedder != nil {
		stats.Embedder = ui.EmbedderInfo{
			Provider:   providerLabel(rt.cfg, rt.embedder.ModelName()),
			Model:      rt.embedder.ModelName(),
			Dimensions: rt.embedder.Dimensions(),
		}
	}
	return stats
}

func providerLabel(cfg *config.Config, model string) string {
	switch {
	case cfg.Embeddings.Provider != "":
		return cfg.Embeddings.Provider
	case model == "static":
		return "static"
	default:
		return "ollama"
	}
}

// watchAndIngest re-ingests input files as they change until ctx is done.
// Removing a file does not remove its records from the catalog.
func watchAndIngest(ctx context.Context, cmd *cobra.Command, rt *runtime, path string, opts ingestOptions) error {
	w, err := watcher.New(watcher.Options{})
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, path) }()

	out := cmd.OutOrStdout()
	mode := "fsnotify"
	if w.Polling() {
		mode = "polling"
	}
	_, _ = fmt.Fprintf(out, "Watching %s for changes (%s, Ctrl+C to stop)\n", path, mode)
	slog.Info("watch_started", slog.String("path", path), slog.String("mode", mode))

	for {
		select {
		case <-ctx.Done():
			slog.Info("watch_stopped")
			return nil

		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil

		case err := <-w.Errors():
			if err != nil {
				slog.Warn("watch_error", slog.String("error", err.Error()))
			}

		case events, ok := <-w.Events():
			if !ok {
				return nil
			}
			for _, ev := range events {
				if ev.Operation == watcher.OpDelete {
					slog.Info("input_removed", slog.String("file", ev.Path))
					_, _ = fmt.Fprintf(out, "%s removed; its records stay in the catalog (use 'hybridrag delete')\n", ev.Path)
					continue
				}
				_, _ = fmt.Fprintf(out, "%s changed, re-ingesting\n", ev.Path)
				if _, err := ingestFile(ctx, cmd, rt, ev.Path, opts); err != nil {
					slog.Error("reingest_failed", slog.String("file", ev.Path), slog.String("error", err.Error()))
					_, _ = fmt.Fprint(cmd.ErrOrStderr(), hrerrors.FormatForCLI(err))
				}
			}
		}
	}
}
