package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/schema"
	"github.com/cbnsndwch/struktura/view"
)

func newViewCmd(opts *rootOptions) *cobra.Command {
	var offset, limit int
	cmd := &cobra.Command{
		Use:   "view <collection> [view]",
		Short: "Evaluate a saved view",
		Long: `Evaluate a saved view: filter, sort, group and project the records of a
collection. Without a view name every field of every record is shown.

Examples:
  struktura view tasks Board
  struktura view tasks Biggest --limit 10
  struktura view tasks --format json
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			a, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.records.Query(cmd.Context(), args[0], name, view.WithPage(offset, limit))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if opts.json() {
				return printJSON(out, res)
			}
			if len(res.Groups) == 0 {
				if err := printRows(out, res.Fields, res.Rows); err != nil {
					return err
				}
			}
			for _, g := range res.Groups {
				title := fmt.Sprint(g.Key)
				if g.Ungrouped {
					title = "(none)"
				}
				cyan.Fprintf(out, "\n▸ %s (%d)\n", title, len(g.Rows))
				if err := printRows(out, res.Fields, g.Rows); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "\n%d of %d record(s)\n", len(res.Rows), res.Total)
			return nil
		},
	}
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum records to show (0 for all)")
	return cmd
}

func printRows(w io.Writer, fields []string, rows []schema.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\t"+strings.ToUpper(strings.Join(fields, "\t")))
	for _, r := range rows {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = cell(r.Data[f])
		}
		fmt.Fprintf(tw, "%s\t%s\n", r.Meta.ID, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

func cell(v any) string {
	switch v := v.(type) {
	case nil:
		return "-"
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
