package cmd

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/hybridrag/internal/config"
	"github.com/Aman-CERP/hybridrag/internal/embed"
	"github.com/Aman-CERP/hybridrag/internal/store"
	"github.com/Aman-CERP/hybridrag/internal/ui"
)

func newStatsCmd() *cobra.Command {
	var (
		jsonOutput    bool
		checkEmbedder bool
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show catalog statistics",
		Long: `Display document and knowledge item counts, embedding coverage,
the storage backend and on-disk sizes.

With --check-embedder the configured embedding provider is contacted and
its status reported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStats(cmd.Context(), cmd, jsonOutput, checkEmbedder)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&checkEmbedder, "check-embedder", false, "Contact the embedding provider and report its status")

	return cmd
}

func runStats(ctx context.Context, cmd *cobra.Command, jsonOutput, checkEmbedder bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	rt, err := openRuntime(ctx, cfg, embedderNone)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	stats, err := rt.backend.Stats(ctx)
	if err != nil {
		return err
	}

	info := statsInfo(cfg, stats)
	if checkEmbedder {
		info.EmbedderStatus = embedderStatus(ctx, cfg)
	}

	renderer := ui.NewStatsRenderer(cmd.OutOrStdout(), ui.DetectNoColor() || !ui.IsTTY(cmd.OutOrStdout()))
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

func statsInfo(cfg *config.Config, stats *store.Stats) ui.StatsInfo {
	info := ui.StatsInfo{
		DataDir:        cfg.Storage.DataDir,
		Backend:        strings.ToLower(cfg.Storage.Backend),
		Documents:      stats.Documents,
		KnowledgeItems: stats.KnowledgeItems,
		Embedded:       stats.Embedded,
		Vectors:        stats.Vectors,
		Dimensions:     stats.Dimensions,
		EmbeddingModel: stats.EmbeddingModel,
	}
	if info.Backend == "postgres" {
		info.DataDir = "postgres"
		return info
	}

	info.Lexical = strings.ToLower(cfg.Storage.LexicalBackend)
	info.CatalogSize = pathSize(cfg.CatalogPath())
	info.VectorSize = pathSize(cfg.VectorPath())
	if info.Lexical == store.LexicalBleve {
		info.LexicalSize = pathSize(cfg.BlevePath())
	}
	return info
}

// embedderStatus is "ready", "offline" or "error".
func embedderStatus(ctx context.Context, cfg *config.Config) string {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	e, err := embed.New(ctx, cfg.Embeddings, 0)
	if err != nil {
		return "error"
	}
	defer func() { _ = e.Close() }()
	if !e.Available(ctx) {
		return "offline"
	}
	return "ready"
}

// pathSize is the size of a file, or the total size of a directory tree.
func pathSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}
