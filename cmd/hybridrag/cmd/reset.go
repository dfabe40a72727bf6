package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
)

func newResetCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every entry from the catalog",
		Long: `Remove all documents and knowledge items and clear every index.

The pinned embedding dimensionality is cleared as well, so the next ingest
may use a different embedding model. This cannot be undone.`,
		Example: `  hybridrag reset --yes`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReset(cmd.Context(), cmd, yes)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Confirm deleting all catalog data")

	return cmd
}

func runReset(ctx context.Context, cmd *cobra.Command, yes bool) error {
	if !yes {
		return hrerrors.ValidationError("reset deletes every catalog entry", nil).
			WithSuggestion("Re-run with --yes to confirm")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	lock := ingest.NewFileLock(cfg.Storage.DataDir)
	if err := lock.TryLock(); err != nil {
		return err
	}
	defer func() { _ = lock.Unlock() }()

	rt, err := openRuntime(ctx, cfg, embedderNone)
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	if err := rt.backend.Reset(ctx); err != nil {
		return err
	}
	slog.Info("catalog_reset", slog.String("data_dir", cfg.Storage.DataDir))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Catalog reset")
	return nil
}
