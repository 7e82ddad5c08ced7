package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/internal/state"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the state database",
		Long: `Apply pending migrations to the state database holding formula error
state, base users and the link audit outbox. Other commands migrate on
open; this command only reports the resulting version.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(ctx)
			if err != nil {
				return err
			}
			store := state.NewSQLiteStore(getLogger(ctx))
			if err := store.Open(ctx, cfg.Catalog.State); err != nil {
				return fmt.Errorf("failed to open state database: %w", err)
			}
			defer func() { _ = store.Close() }()

			if err := store.Migrate(ctx); err != nil {
				return err
			}
			v, err := store.Version(ctx)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s is at version %d\n", cfg.Catalog.State, v)
			return nil
		},
	}
}
