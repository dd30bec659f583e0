package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/loader"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored collections as a definition file",
		Long: `Write the stored collections in the definition file format, so a registry
edited elsewhere can be brought back under version control.

Examples:
  struktura export
  struktura export --output collections/all.yaml
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := loader.Marshal(a.registry.List())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), output, data)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
