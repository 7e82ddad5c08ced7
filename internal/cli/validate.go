package cli

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/gridsql/internal/dag"
	"github.com/leapstack-labs/gridsql/pkg/compiler"
	"github.com/leapstack-labs/gridsql/pkg/core"
)

// validation is the outcome of one formula column.
type validation struct {
	Table  string `json:"table"`
	Column string `json:"column"`
	Title  string `json:"title"`
	Error  string `json:"error,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var (
		output  string
		changed []string
		watch   bool
	)
	cmd := &cobra.Command{
		Use:   "validate [table...]",
		Short: "Dry-run every formula column and record its error state",
		Long: `Compile every Formula and Button column of the given tables (all tables
when none are named) with validation on. Each expression is dry-run
against the target; failures are recorded on the column and listed.

Columns are validated after the columns they depend on. With --changed,
only the formulas computed from the named columns are validated.

With --watch, validation runs again whenever the schema file changes
until interrupted.

The command fails when any column is invalid.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(output); err != nil {
				return err
			}
			if watch {
				return watchSchema(cmd, func() error {
					return runValidate(cmd, args, changed, output)
				})
			}
			return runValidate(cmd, args, changed, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", formatTable, "Output format (table|json)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Validate again whenever the schema file changes")
	cmd.Flags().StringSliceVar(&changed, "changed", nil, "Only validate formulas depending on these column ids")
	return cmd
}

func runValidate(cmd *cobra.Command, args, changed []string, output string) error {
	ctx := cmd.Context()
	s, cleanup, err := openSession(cmd, sessionOptions{connect: true})
	if err != nil {
		return err
	}
	defer cleanup()

	tables := s.memory.Tables()
	if len(args) > 0 {
		tables = make([]*core.Table, 0, len(args))
		for _, ref := range args {
			t, err := s.table(ctx, ref)
			if err != nil {
				return err
			}
			tables = append(tables, t)
		}
	}

	graph, err := dag.FromTables(s.memory.Tables())
	if err != nil {
		return err
	}
	var affected map[string]bool
	if len(changed) > 0 {
		affected = make(map[string]bool)
		for _, id := range graph.Affected(changed...) {
			affected[id] = true
		}
	}

	var cols []*core.Column
	for _, t := range tables {
		for _, c := range t.Columns {
			if c.Category() != core.CategoryFormula {
				continue
			}
			if affected != nil && !affected[c.ID] {
				continue
			}
			cols = append(cols, c)
		}
	}

	c := s.compiler()
	results := make([]validation, len(cols))
	for _, batch := range validationOrder(graph, cols, s.logger) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Compile.Concurrency)
		for _, i := range batch {
			col := cols[i]
			g.Go(func() error {
				results[i] = validation{Table: col.TableID, Column: col.ID, Title: col.Title}
				_, err := c.CompileColumn(gctx, col, compiler.Options{Validate: true, TableAlias: s.cfg.Compile.TableAlias})
				switch {
				case err == nil:
				case isFormulaError(err):
					results[i].Error = err.Error()
				default:
					return fmt.Errorf("failed to validate %s: %w", col.ID, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	invalid := 0
	rows := make([]table.Row, len(results))
	for i, r := range results {
		status := "ok"
		if r.Error != "" {
			status = "invalid"
			invalid++
		}
		rows[i] = table.Row{r.Table, r.Column, r.Title, status, r.Error}
	}
	if output == formatJSON {
		if err := renderJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		renderTable(cmd.OutOrStdout(), table.Row{"Table", "Column", "Title", "Status", "Error"}, rows)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d formula columns are invalid", invalid, len(results))
	}
	return nil
}

func isFormulaError(err error) bool {
	return errors.Is(err, core.ErrFormulaCompile) ||
		errors.Is(err, core.ErrFormulaCircularReference) ||
		errors.Is(err, core.ErrUnsupportedDialectOperation)
}

// validationOrder splits the indexes of cols into batches that can be
// validated concurrently, each after the ones before it. A dependency cycle
// leaves a single batch; compiling reports the cycle on the columns.
func validationOrder(graph *dag.Graph, cols []*core.Column, logger *slog.Logger) [][]int {
	all := make([]int, len(cols))
	for i := range cols {
		all[i] = i
	}
	levels, err := graph.Levels()
	if err != nil {
		logger.Warn("validating without dependency order", slog.String("error", err.Error()))
		return [][]int{all}
	}

	level := make(map[string]int)
	for l, ids := range levels {
		for _, id := range ids {
			level[id] = l
		}
	}
	var batches [][]int
	for i, col := range cols {
		l := level[col.ID]
		for len(batches) <= l {
			batches = append(batches, nil)
		}
		batches[l] = append(batches[l], i)
	}
	return batches
}
