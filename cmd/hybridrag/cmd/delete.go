package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	hrerrors "github.com/Aman-CERP/hybridrag/internal/errors"
	"github.com/Aman-CERP/hybridrag/internal/ingest"
)

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an entry from the catalog",
		Long: `Delete a document or knowledge item by id.

Deleting a document also deletes the knowledge items that reference it.
The entry is removed from the catalog and from every index.`,
		Example: `  hybridrag delete B07XJ8C8F5
  hybridrag delete faq-returns-01`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), cmd, args[0])
		},
	}
}

func runDelete(ctx context.Context, cmd *cobra.Command, id string) error {
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

	removed, err := rt.backend.Delete(ctx, id)
	if err != nil {
		return err
	}
	if len(removed) == 0 {
		return hrerrors.ValidationError(fmt.Sprintf("no entry with id %q", id), nil).
			WithSuggestion("Ids are case-sensitive; check 'hybridrag search' output for the exact id")
	}

	slog.Info("entry_deleted", slog.String("id", id), slog.Int("removed", len(removed)))

	out := cmd.OutOrStdout()
	if len(removed) == 1 {
		_, _ = fmt.Fprintf(out, "Deleted %s\n", id)
		return nil
	}
	_, _ = fmt.Fprintf(out, "Deleted %s and %d dependent knowledge items\n", id, len(removed)-1)
	return nil
}
