package cli

import (
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/pkg/core"
	"github.com/leapstack-labs/gridsql/pkg/dialect"
)

func newDialectsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dialects",
		Short: "List the supported SQL dialects",
		Long: `List every registered dialect with its placeholder and pagination style
and the number of formula functions it can lower.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var rows []table.Row
			for _, name := range dialect.List() {
				d, err := dialect.Lookup(name)
				if err != nil {
					return err
				}
				cfg := d.Config()
				rows = append(rows, table.Row{
					name,
					placeholder(cfg.Placeholder),
					pagination(cfg.Limit),
					cfg.NativeBoolean,
					len(d.Functions()),
				})
			}
			renderTable(cmd.OutOrStdout(), table.Row{"Engine", "Placeholder", "Pagination", "Native Boolean", "Functions"}, rows)
			return nil
		},
	}
}

func placeholder(s core.PlaceholderStyle) string {
	switch s {
	case core.PlaceholderDollar:
		return "$1"
	case core.PlaceholderAtP:
		return "@p1"
	default:
		return "?"
	}
}

func pagination(s core.LimitStyle) string {
	if s == core.OffsetFetch {
		return "OFFSET/FETCH"
	}
	return "LIMIT/OFFSET"
}
