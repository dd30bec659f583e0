package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/loader"
)

type checkReport struct {
	Storage     string `json:"storage"`
	Reachable   bool   `json:"reachable"`
	Latency     string `json:"latency,omitempty"`
	Collections int    `json:"collections"`
	Pending     int    `json:"pending"`
	Error       string `json:"error,omitempty"`
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check storage connectivity and pending definition changes",
		Long: `Check the configured storage and compare it with the definition files.

This command will:
- Verify storage connectivity
- Load the stored collections
- Count changes in the definition files that are not applied yet

Examples:
  struktura check
  struktura check --timeout 3s
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			out := cmd.OutOrStdout()
			report := checkReport{Storage: opts.cfg.Storage.Driver}

			err := check(ctx, opts, &report)
			if err != nil {
				report.Error = err.Error()
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
			if err != nil {
				red.Fprintln(out, "❌ Check failed:", err)
				return errReported
			}

			green.Fprintf(out, "✅ %s storage reachable (%s)\n", report.Storage, report.Latency)
			fmt.Fprintf(out, "📊 %d collection(s) stored\n", report.Collections)
			if report.Pending > 0 {
				yellow.Fprintf(out, "🕒 %d change(s) pending, run 'struktura apply'\n", report.Pending)
			} else {
				green.Fprintln(out, "✅ Registry matches the definition files")
			}
			return nil
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 10*time.Second, "Timeout for the check")
	return cmd
}

func check(ctx context.Context, opts *rootOptions, report *checkReport) error {
	a, err := opts.open(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	start := time.Now()
	if err := a.store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to ping %s storage: %w", report.Storage, err)
	}
	report.Reachable = true
	report.Latency = time.Since(start).Round(time.Microsecond).String()
	report.Collections = len(a.registry.List())

	ops, err := pending(ctx, opts, a, nil, false)
	switch {
	case errors.Is(err, loader.ErrNoFiles), errors.Is(err, fs.ErrNotExist):
		opts.logger.Debug("No definition files found", "paths", opts.cfg.Collections.Paths)
	case err != nil:
		return err
	default:
		report.Pending = len(ops)
	}
	return nil
}
