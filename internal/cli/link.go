package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/pkg/links"
)

func newLinkCommand() *cobra.Command {
	return newMutationCommand(links.OpLink, "Link records through a relation column",
		`Link the far records to the near record through a relation column. The
foreign keys or junction rows are written in one transaction, the
last-modified columns of both sides are bumped and the audit events are
queued in the state database outbox.`)
}

func newUnlinkCommand() *cobra.Command {
	return newMutationCommand(links.OpUnlink, "Unlink records through a relation column",
		`Remove the links between the near record and the far records. Pairs that
are not linked are ignored.`)
}

func newMutationCommand(op links.Op, short, long string) *cobra.Command {
	var (
		user   string
		output string
	)
	cmd := &cobra.Command{
		Use:     string(op) + " <column-id> <near-id> [far-id...]",
		Short:   short,
		Long:    long,
		Example: fmt.Sprintf("  gridsql %s or_tags 2 1 2 --user u1", op),
		Args:    cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			return runMutation(cmd, op, links.Request{
				ColumnID: args[0],
				NearID:   args[1],
				FarIDs:   args[2:],
				User:     user,
			}, output)
		},
	}
	cmd.Flags().StringVar(&user, "user", "", "User recorded on the audit events")
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format (table|json)")
	return cmd
}

func runMutation(cmd *cobra.Command, op links.Op, req links.Request, output string) error {
	ctx := cmd.Context()
	s, cleanup, err := openSession(cmd, sessionOptions{connect: true})
	if err != nil {
		return err
	}
	defer cleanup()

	e := s.links()
	var res *links.Result
	if op == links.OpUnlink {
		res, err = e.Unlink(ctx, req)
	} else {
		res, err = e.Link(ctx, req)
	}
	if err != nil {
		return err
	}
	// the mutation is committed; a failing effect only loses audit events
	if err := res.Commit(ctx); err != nil {
		s.logger.Error("failed to record audit events", "error", err.Error())
	}

	out := cmd.OutOrStdout()
	if output == formatJSON {
		return renderJSON(out, res.Events)
	}
	renderEvents(cmd, res.Events)
	return nil
}

func renderEvents(cmd *cobra.Command, events []links.AuditEvent) {
	rows := make([]table.Row, len(events))
	for i, e := range events {
		rows[i] = table.Row{e.Op, e.Kind, e.TableID, e.RowID, e.ColumnID, e.RefTableID, e.RefRowID, e.User}
	}
	renderTable(cmd.OutOrStdout(), table.Row{"Op", "Kind", "Table", "Row", "Column", "Ref Table", "Ref Row", "User"}, rows)
}
