package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/internal/state"
)

func newOutboxCommand() *cobra.Command {
	var (
		limit  int
		ack    bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "List undelivered link audit events",
		Long: `List the audit events queued by link and unlink that have not been
delivered yet, oldest first. With --ack the listed events are marked
delivered.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
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

			events, err := store.Pending(ctx, limit)
			if err != nil {
				return err
			}
			if output == formatJSON {
				err = renderJSON(cmd.OutOrStdout(), events)
			} else {
				renderEvents(cmd, events)
			}
			if err != nil || !ack || len(events) == 0 {
				return err
			}

			ids := make([]string, len(events))
			for i, e := range events {
				ids[i] = e.ID
			}
			if err := store.MarkDelivered(ctx, ids...); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "marked %d event(s) delivered\n", len(ids))
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum number of events to list")
	cmd.Flags().BoolVar(&ack, "ack", false, "Mark the listed events delivered")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format (table|json)")
	return cmd
}
