package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type collectionStatus struct {
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Version int64  `json:"version"`
	Fields  int    `json:"fields"`
	Views   int    `json:"views"`
	Active  bool   `json:"active"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored collections",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var rows []collectionStatus
			for _, s := range a.registry.List() {
				rows = append(rows, collectionStatus{
					Slug:    s.Slug,
					Name:    s.Name,
					Version: s.Version,
					Fields:  len(s.Fields),
					Views:   len(s.Views),
					Active:  s.IsActive,
				})
			}
			if opts.json() {
				return printJSON(out, rows)
			}
			if len(rows) == 0 {
				yellow.Fprintln(out, "🕒 No collections yet, run 'struktura apply'")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tVERSION\tFIELDS\tVIEWS\tACTIVE")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%t\n", r.Slug, r.Name, r.Version, r.Fields, r.Views, r.Active)
			}
			return tw.Flush()
		},
	}
}
