package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/schema"
)

type validateReport struct {
	Valid       bool              `json:"valid"`
	Files       []string          `json:"files"`
	Collections []string          `json:"collections"`
	Error       string            `json:"error,omitempty"`
	Violations  schema.Violations `json:"violations,omitempty"`
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate collection definition files",
		Long: `Validate collection definition files without touching storage.

Each file is parsed and every collection is built in a scratch registry, so
the same checks run as on a live apply:
- Field names, types, options and validation rules
- Default values against their field
- Relational targets (references, lookups and rollups)
- Formula syntax and circular computations
- Views referring to known fields

Paths may be files, directories or doublestar patterns. Without paths the
configured collection paths are used.

Examples:
  struktura validate
  struktura validate collections/
  struktura validate 'schemas/**/*.yaml' --format json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			report := validateReport{Valid: true}

			defs, err := opts.definitions(args)
			if err == nil {
				_, err = plan(cmd.Context(), defs)
			}
			seen := map[string]bool{}
			for _, d := range defs {
				report.Collections = append(report.Collections, d.Input.Slug)
				if !seen[d.Source] {
					seen[d.Source] = true
					report.Files = append(report.Files, d.Source)
				}
			}
			if err != nil {
				report.Valid = false
				report.Error = err.Error()
				report.Violations = violationsOf(err)
			}

			if opts.json() {
				if perr := printJSON(out, report); perr != nil {
					return perr
				}
				if !report.Valid {
					return errReported
				}
				return nil
			}

			if err != nil {
				red.Fprintln(out, "❌ Validation failed:", err)
				printViolations(out, err)
				return errReported
			}
			green.Fprintf(out, "✅ %d collection(s) in %d file(s) are valid\n", len(report.Collections), len(report.Files))
			for _, slug := range report.Collections {
				fmt.Fprintln(out, "   -", slug)
			}
			return nil
		},
	}
}
