package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/diff"
)

type diffEntry struct {
	Type       diff.OperationType `json:"type"`
	Collection string             `json:"collection"`
	Summary    string             `json:"summary"`
}

func diffEntries(ops []diff.Operation) []diffEntry {
	out := make([]diffEntry, len(ops))
	for i, op := range ops {
		out[i] = diffEntry{Type: op.Type, Collection: op.Collection, Summary: op.String()}
	}
	return out
}

// pending computes the operations that bring the registry in line with the
// definition files, in the order they would be applied.
func pending(ctx context.Context, opts *rootOptions, a *app, args []string, prune bool) ([]diff.Operation, error) {
	defs, err := opts.definitions(args)
	if err != nil {
		return nil, err
	}
	// Definitions must hold up on their own before they are compared.
	if _, err := plan(ctx, defs); err != nil {
		return nil, fmt.Errorf("invalid definitions: %w", err)
	}
	var dopts []diff.Option
	if prune {
		dopts = append(dopts, diff.WithPrune())
	}
	ops := diff.Collections(inputs(defs), a.registry.List(), dopts...)
	diff.Sort(ops)
	return ops, nil
}

func newDiffCmd(opts *rootOptions) *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Show differences between definition files and the registry",
		Long: `Show the operations that would bring the stored collections in line with the
definition files, in the order apply runs them.

Collections are matched by slug. Collections missing from the files are left
alone unless --prune is given.

Examples:
  struktura diff
  struktura diff collections/tasks.yaml
  struktura diff --prune --format json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ops, err := pending(cmd.Context(), opts, a, args, prune)
			if err != nil {
				printViolations(cmd.ErrOrStderr(), err)
				return err
			}
			if opts.json() {
				return printJSON(out, diffEntries(ops))
			}
			if len(ops) == 0 {
				green.Fprintln(out, "✅ No differences found between definitions and registry")
				return nil
			}
			cyan.Fprintf(out, "📋 %d change(s):\n", len(ops))
			printOperations(out, ops)
			return nil
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop collections that are not defined in any file")
	return cmd
}
