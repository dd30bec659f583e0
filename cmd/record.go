package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/loader"
	"github.com/cbnsndwch/struktura/records"
	"github.com/cbnsndwch/struktura/schema"
)

type recordResult struct {
	Index      int               `json:"index"`
	ID         string            `json:"id,omitempty"`
	Valid      bool              `json:"valid"`
	Record     schema.Record     `json:"record,omitempty"`
	Violations schema.Violations `json:"violations,omitempty"`
	Error      string            `json:"error,omitempty"`
}

func newRecordCmd(opts *rootOptions) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Validate and manage the records of a collection",
		Long: `Validate, create, read, update and delete records.

Record files are JSON or YAML and hold one object or a list of objects.
Computed fields (formulas, lookups, rollups, auto numbers and timestamps) are
filled in on read and rejected on write.

Examples:
  struktura record validate tasks tasks.json
  struktura record create tasks tasks.yaml --actor ana@example.com
  struktura record get tasks 0b6f...
  struktura record list tasks
`,
	}
	cmd.PersistentFlags().StringVar(&actor, "actor", "", "User recorded as creator or last modifier")

	withActor := func(ctx context.Context) context.Context {
		if actor == "" {
			return ctx
		}
		return records.WithActor(ctx, actor)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "validate <collection> <file>",
			Short: "Check record payloads without storing them",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return eachRecord(cmd, opts, args[1], func(ctx context.Context, a *app, i int, payload schema.Record) recordResult {
					res := recordResult{Index: i}
					out, err := a.records.Validate(ctx, args[0], payload)
					if err != nil {
						res.Error = err.Error()
						return res
					}
					res.Valid = out.IsValid()
					res.Record = out.Record
					res.Violations = out.Violations
					return res
				})
			},
		},
		&cobra.Command{
			Use:   "create <collection> <file>",
			Short: "Create records from a file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return eachRecord(cmd, opts, args[1], func(ctx context.Context, a *app, i int, payload schema.Record) recordResult {
					e, err := a.records.Create(withActor(ctx), args[0], payload)
					return entryResult(i, e, err)
				})
			},
		},
		&cobra.Command{
			Use:   "update <collection> <id> <file>",
			Short: "Replace the data of a record",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				payloads, err := loader.LoadRecords(args[2])
				if err != nil {
					return err
				}
				if len(payloads) != 1 {
					return fmt.Errorf("%s must hold exactly one record, found %d", args[2], len(payloads))
				}
				return eachPayload(cmd, opts, payloads, func(ctx context.Context, a *app, i int, payload schema.Record) recordResult {
					e, err := a.records.Update(withActor(ctx), args[0], args[1], payload)
					return entryResult(i, e, err)
				})
			},
		},
		&cobra.Command{
			Use:   "get <collection> <id>",
			Short: "Show a record with its computed fields",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				e, err := a.records.Get(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), e)
			},
		},
		&cobra.Command{
			Use:   "list <collection>",
			Short: "List every record of a collection",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				res, err := a.records.Query(cmd.Context(), args[0], "")
				if err != nil {
					return err
				}
				if opts.json() {
					return printJSON(cmd.OutOrStdout(), res.Rows)
				}
				return printRows(cmd.OutOrStdout(), res.Fields, res.Rows)
			},
		},
		&cobra.Command{
			Use:   "delete <collection> <id>",
			Short: "Delete a record",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := opts.open(cmd.Context())
				if err != nil {
					return err
				}
				defer a.Close()
				if err := a.records.Delete(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				green.Fprintln(cmd.OutOrStdout(), "✅ Deleted", args[1])
				return nil
			},
		},
	)
	return cmd
}

func entryResult(i int, e schema.Entry, err error) recordResult {
	res := recordResult{Index: i}
	if err != nil {
		res.Error = err.Error()
		res.Violations = violationsOf(err)
		return res
	}
	res.Valid = true
	res.ID = e.Meta.ID
	res.Record = e.Data
	return res
}

func eachRecord(cmd *cobra.Command, opts *rootOptions, path string, fn func(context.Context, *app, int, schema.Record) recordResult) error {
	payloads, err := loader.LoadRecords(path)
	if err != nil {
		return err
	}
	return eachPayload(cmd, opts, payloads, fn)
}

// eachPayload runs fn for every payload and reports the results. Payloads
// are independent: one failing does not stop the rest.
func eachPayload(cmd *cobra.Command, opts *rootOptions, payloads []schema.Record, fn func(context.Context, *app, int, schema.Record) recordResult) error {
	ctx := cmd.Context()
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]recordResult, len(payloads))
	failed := 0
	for i, p := range payloads {
		results[i] = fn(ctx, a, i, p)
		if !results[i].Valid {
			failed++
		}
	}

	out := cmd.OutOrStdout()
	if opts.json() {
		if err := printJSON(out, results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			switch {
			case r.Valid && r.ID != "":
				green.Fprintf(out, "✅ #%d saved as %s\n", r.Index, r.ID)
			case r.Valid:
				green.Fprintf(out, "✅ #%d is valid\n", r.Index)
			default:
				red.Fprintf(out, "❌ #%d rejected", r.Index)
				if len(r.Violations) == 0 && r.Error != "" {
					fmt.Fprintf(out, ": %s", r.Error)
				}
				fmt.Fprintln(out)
				printViolations(out, &schema.RecordError{Violations: r.Violations})
			}
		}
	}
	if failed > 0 {
		if !opts.json() {
			red.Fprintf(out, "%d of %d record(s) failed\n", failed, len(payloads))
		}
		return errReported
	}
	return nil
}
