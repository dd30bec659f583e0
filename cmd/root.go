package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/config"
	"github.com/cbnsndwch/struktura/logging"
)

// errReported marks failures whose details were already printed.
var errReported = errors.New("failed")

// rootOptions holds the global flags and what they load.
type rootOptions struct {
	configPath string
	format     string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
}

func (o *rootOptions) json() bool { return o.format == "json" }

// open assembles the engine from the loaded configuration.
func (o *rootOptions) open(ctx context.Context) (*app, error) {
	return newApp(ctx, o.cfg, o.logger)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "struktura",
		Short: "Dynamic collection schemas with validated records",
		Long: `struktura manages user-defined collections: typed fields, saved views and
the records stored in them. Definitions live in YAML files and are validated,
diffed and applied to a registry kept in memory, SQLite or PostgreSQL.

Examples:

  struktura init
  struktura validate collections/
  struktura diff
  struktura apply
  struktura record create tasks task.json
  struktura view tasks Board
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.format != "text" && opts.format != "json" {
				return fmt.Errorf("--format must be text or json, not %q", opts.format)
			}
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = opts.logLevel
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			opts.cfg, opts.logger = cfg, logger
			slog.SetDefault(logger)
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (YAML)")
	cmd.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format (text, json)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(opts),
		newValidateCmd(opts),
		newCheckCmd(opts),
		newStatusCmd(opts),
		newDiffCmd(opts),
		newApplyCmd(opts),
		newExportCmd(opts),
		newDocsCmd(opts),
		newRecordCmd(opts),
		newViewCmd(opts),
		newWatchCmd(opts),
	)
	return cmd
}

// Execute runs the CLI
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if err != nil && !errors.Is(err, errReported) {
		color.New(color.FgRed).Fprintln(stderr, "❌", err)
	}
	return err
}
