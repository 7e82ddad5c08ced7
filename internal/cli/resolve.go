package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/pkg/relation"
)

type resolveFlags struct {
	mode    string
	limit   int
	offset  int
	output  string
	sqlOnly bool
}

func newResolveCommand() *cobra.Command {
	var f resolveFlags
	cmd := &cobra.Command{
		Use:   "resolve <column-id> <parent-id>...",
		Short: "Read the records linked through a relation column",
		Long: `Read the far records of a LinkToAnotherRecord or Links column.

Modes:
  single  the records of one parent
  batch   the records of many parents in one query, grouped by parent
  count   the number of records of each parent`,
		Example: `  gridsql resolve or_tags 1
  gridsql resolve or_tags 1 2 3 --mode batch --limit 5
  gridsql resolve cu_orders 1 2 --mode count --sql`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(f.output); err != nil {
				return err
			}
			return runResolve(cmd, args, f)
		},
	}
	cmd.Flags().StringVarP(&f.mode, "mode", "m", "single", "Read mode (single|batch|count)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Records per parent (0 for all)")
	cmd.Flags().IntVar(&f.offset, "offset", 0, "Records to skip per parent")
	cmd.Flags().StringVarP(&f.output, "output", "o", formatTable, "Output format (table|json)")
	cmd.Flags().BoolVar(&f.sqlOnly, "sql", false, "Print the query instead of running it")
	return cmd
}

func runResolve(cmd *cobra.Command, args []string, f resolveFlags) error {
	ctx := cmd.Context()
	mode, err := relation.ParseMode(f.mode)
	if err != nil {
		return err
	}
	if mode == relation.ModeSingle && len(args) > 2 {
		return fmt.Errorf("single mode reads one parent; use --mode batch for %d", len(args)-1)
	}

	s, cleanup, err := openSession(cmd, sessionOptions{connect: !f.sqlOnly})
	if err != nil {
		return err
	}
	defer cleanup()

	col, err := s.column(ctx, args[0])
	if err != nil {
		return err
	}
	parents := make([]any, 0, len(args)-1)
	for _, id := range args[1:] {
		parents = append(parents, id)
	}
	plan, err := s.resolver().ResolveRelation(ctx, col, mode, parents, relation.ListArgs{Limit: f.limit, Offset: f.offset})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if f.sqlOnly {
		query, qargs := plan.SQL()
		_, _ = fmt.Fprintln(out, query)
		if len(qargs) > 0 {
			_, _ = fmt.Fprintf(out, "-- args: %v\n", qargs)
		}
		return nil
	}

	if mode == relation.ModeCount {
		counts, err := plan.Counts(ctx, s.adapter.DB())
		if err != nil {
			return err
		}
		if f.output == formatJSON {
			return renderJSON(out, counts)
		}
		rows := make([]table.Row, len(counts))
		for i, c := range counts {
			rows[i] = table.Row{c.ParentID, c.Count}
		}
		renderTable(out, table.Row{"Parent", "Count"}, rows)
		return nil
	}

	groups, err := plan.Fetch(ctx, s.adapter.DB())
	if err != nil {
		return err
	}
	if f.output == formatJSON {
		return renderJSON(out, groups)
	}
	renderGroups(cmd, groups)
	return nil
}

// renderGroups prints one row per far record, prefixed with its parent.
func renderGroups(cmd *cobra.Command, groups []relation.Group) {
	var cols []string
	seen := make(map[string]bool)
	for _, g := range groups {
		for _, r := range g.Rows {
			for _, k := range sortedKeys(r) {
				if !seen[k] {
					seen[k] = true
					cols = append(cols, k)
				}
			}
		}
	}

	header := table.Row{"Parent"}
	for _, c := range cols {
		header = append(header, c)
	}
	var rows []table.Row
	for _, g := range groups {
		for _, r := range g.Rows {
			row := table.Row{g.ParentID}
			for _, c := range cols {
				row = append(row, display(r[c]))
			}
			rows = append(rows, row)
		}
	}
	renderTable(cmd.OutOrStdout(), header, rows)
}
