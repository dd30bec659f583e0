package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/diff"
)

type applyReport struct {
	DryRun     bool        `json:"dryRun"`
	Applied    int         `json:"applied"`
	Operations []diffEntry `json:"operations"`
	Error      string      `json:"error,omitempty"`
}

func newApplyCmd(opts *rootOptions) *cobra.Command {
	var (
		dryRun bool
		prune  bool
	)
	cmd := &cobra.Command{
		Use:   "apply [paths...]",
		Short: "Apply definition files to the registry",
		Long: `Apply the differences between the definition files and the stored collections.

Operations run one at a time in dependency order and each commits on its own;
the first failure stops the run and leaves earlier operations applied.

Examples:
  struktura apply
  struktura apply --dry-run
  struktura apply --prune
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ops, err := pending(ctx, opts, a, args, prune)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), err)
				return err
			}
			report := applyReport{DryRun: dryRun, Operations: diffEntries(ops)}

			if !dryRun && len(ops) > 0 {
				if !a.persistent() {
					opts.logger.Warn("Storage is in memory; applied changes are lost on exit",
						"driver", a.cfg.Storage.Driver)
				}
				report.Applied, err = diff.Apply(ctx, a.registry, ops)
				if err != nil {
					report.Error = err.Error()
				}
			}

			if opts.json() {
				if perr := printJSON(out, report); perr != nil {
					return perr
				}
				if err != nil {
					return errReported
				}
				return nil
			}

			switch {
			case len(ops) == 0:
				green.Fprintln(out, "✅ Registry is up to date")
			case dryRun:
				cyan.Fprintf(out, "🔍 Dry run, %d change(s) would be applied:\n", len(ops))
				printOperations(out, ops)
			case err != nil:
				printOperations(out, ops[:report.Applied])
				red.Fprintf(out, "❌ Apply stopped after %d of %d change(s): %v\n", report.Applied, len(ops), err)
				printViolations(out, err)
				return errReported
			default:
				printOperations(out, ops)
				green.Fprintf(out, "✅ Applied %d change(s)\n", report.Applied)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the changes without applying them")
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop collections that are not defined in any file")
	return cmd
}

