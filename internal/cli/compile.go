package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/pkg/compiler"
	"github.com/leapstack-labs/gridsql/pkg/formula"
	"github.com/leapstack-labs/gridsql/pkg/sqlb"
)

type compileFlags struct {
	table       string
	formula     string
	formulaFile string
	selectAll   bool
}

func newCompileCommand() *cobra.Command {
	var f compileFlags
	cmd := &cobra.Command{
		Use:   "compile [column-id]",
		Short: "Compile a formula into SQL",
		Long: `Compile a formula column, an ad-hoc formula tree or every column of a
table into SQL for the configured target.

With --validate the expression is dry-run against the target and the
formula error state of the column is recorded.`,
		Example: `  # Compile a persisted formula column
  gridsql compile in_total

  # Compile an ad-hoc tree in the scope of a table
  gridsql compile --table orders --formula '{"kind":"call","name":"UPPER","args":[{"kind":"identifier","name":"Title"}]}'

  # Print the SELECT reading every column of a table
  gridsql compile --table orders --select`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, f)
		},
	}
	cmd.Flags().StringVar(&f.table, "table", "", "Table id or name the formula is compiled against")
	cmd.Flags().StringVar(&f.formula, "formula", "", "Formula tree as JSON")
	cmd.Flags().StringVar(&f.formulaFile, "formula-file", "", "Read the formula tree from a file (- for stdin)")
	cmd.Flags().BoolVar(&f.selectAll, "select", false, "Compile every column of --table into a SELECT")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string, f compileFlags) error {
	ctx := cmd.Context()
	cfg, err := getConfig(ctx)
	if err != nil {
		return err
	}
	adHoc := f.formula != "" || f.formulaFile != ""
	switch {
	case len(args) == 1 && (adHoc || f.selectAll):
		return errors.New("pass either a column id or --formula/--select, not both")
	case len(args) == 0 && !adHoc && !f.selectAll:
		return errors.New("nothing to compile: pass a column id, --formula or --select")
	case (adHoc || f.selectAll) && f.table == "":
		return errors.New("--table is required with --formula and --select")
	}

	s, cleanup, err := openSession(cmd, sessionOptions{connect: cfg.Compile.Validate})
	if err != nil {
		return err
	}
	defer cleanup()

	c := s.compiler()
	opts := compiler.Options{Validate: cfg.Compile.Validate, TableAlias: cfg.Compile.TableAlias}

	var expr sqlb.Expr
	switch {
	case len(args) == 1:
		col, err := s.column(ctx, args[0])
		if err != nil {
			return err
		}
		if expr, err = c.CompileColumn(ctx, col, opts); err != nil {
			return err
		}
	case f.selectAll:
		t, err := s.table(ctx, f.table)
		if err != nil {
			return err
		}
		sel, err := c.SelectColumns(ctx, t, opts)
		if err != nil {
			return err
		}
		for id, cause := range sel.Broken {
			s.logger.Warn("column selected as NULL", "column", id, "error", cause.Error())
		}
		expr = sel.Query().Build(s.dialect.LimitStyle())
	default:
		t, err := s.table(ctx, f.table)
		if err != nil {
			return err
		}
		tree, err := readTree(cmd.InOrStdin(), f)
		if err != nil {
			return err
		}
		if expr, err = c.CompileFormula(ctx, t, tree, opts); err != nil {
			return err
		}
	}

	query, qargs := sqlb.Render(expr, s.dialect.PlaceholderStyle())
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintln(out, query)
	if len(qargs) > 0 {
		_, _ = fmt.Fprintf(out, "-- args: %v\n", qargs)
	}
	return nil
}

func readTree(stdin io.Reader, f compileFlags) (formula.Node, error) {
	data := []byte(f.formula)
	if f.formulaFile != "" {
		var err error
		if f.formulaFile == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(f.formulaFile)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read formula: %w", err)
		}
	}
	return formula.Decode(data)
}
