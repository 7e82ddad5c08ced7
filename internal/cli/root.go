// Package cli provides the command-line interface for gridsql.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/gridsql/internal/config"

	// Adapters register themselves and their dialects.
	_ "github.com/leapstack-labs/gridsql/pkg/adapters/duckdb"
	_ "github.com/leapstack-labs/gridsql/pkg/adapters/mssql"
	_ "github.com/leapstack-labs/gridsql/pkg/adapters/mysql"
	_ "github.com/leapstack-labs/gridsql/pkg/adapters/postgres"
	_ "github.com/leapstack-labs/gridsql/pkg/adapters/sqlite"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

type (
	configKey struct{}
	loggerKey struct{}
)

// commands that run without a configuration
var noConfig = map[string]bool{
	"help":       true,
	"completion": true,
	"__complete": true,
	"version":    true,
	"dialects":   true,
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "gridsql",
		Short: "gridsql - relational data access for spreadsheet-style bases",
		Long: `gridsql compiles formula columns into SQL, reads relation columns in
single, batch and count modes, and links or unlinks records across
PostgreSQL, MySQL, SQLite, SQL Server and DuckDB.

Table metadata is read from a schema file; formula error state, base users
and the link audit outbox are kept in a local state database.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if noConfig[cmd.Name()] {
				return nil
			}
			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
			logger.Debug("configuration loaded",
				slog.String("root", cfg.ProjectRoot),
				slog.String("target", cfg.Target.Type),
				slog.String("schema", cfg.Catalog.Schema))

			ctx := context.WithValue(cmd.Context(), configKey{}, cfg)
			ctx = context.WithValue(ctx, loggerKey{}, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./"+config.ConfigFileName+")")
	pf.StringP("target", "t", "", "Target engine (postgres|mysql|sqlite|mssql|duckdb)")
	pf.String("database", "", "Target database name")
	pf.String("path", "", "Target database file for sqlite and duckdb")
	pf.String("schema", "", "Path to the schema file describing the base")
	pf.String("state", "", "Path to the state database")
	pf.Bool("validate", false, "Dry-run compiled formulas and record their error state")
	pf.String("log-level", "", "Log level (debug|info|warn|error)")
	pf.String("log-format", "", "Log format (text|json)")
	pf.String("metrics", "", "Serve Prometheus metrics on this address while the command runs")
	pf.String("env", "", "Environment from the config file to apply")

	_ = rootCmd.RegisterFlagCompletionFunc("target", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "mysql", "sqlite", "mssql", "duckdb"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-level", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		newVersionCommand(),
		newDialectsCommand(),
		newMigrateCommand(),
		newCompileCommand(),
		newValidateCommand(),
		newResolveCommand(),
		newLinkCommand(),
		newUnlinkCommand(),
		newOutboxCommand(),
		newCompletionCommand(),
	)
	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// getConfig returns the configuration loaded by the root command.
func getConfig(ctx context.Context) (*config.Config, error) {
	if c, ok := ctx.Value(configKey{}).(*config.Config); ok {
		return c, nil
	}
	return nil, fmt.Errorf("configuration not loaded")
}

// getLogger returns the command logger, discarding when none was set up.
func getLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func newCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for gridsql.

Bash:
  $ source <(gridsql completion bash)

Zsh:
  $ gridsql completion zsh > "${fpath[1]}/_gridsql"

Fish:
  $ gridsql completion fish | source

PowerShell:
  PS> gridsql completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
}
