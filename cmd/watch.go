package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cbnsndwch/struktura/diff"
	"github.com/cbnsndwch/struktura/watch"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		apply    bool
		prune    bool
		debounce time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch [paths...]",
		Short: "Revalidate definition files as they change",
		Long: `Watch the definition files and revalidate them on every change. With --apply
valid changes are applied to the registry as well.

When metrics.addr is configured, Prometheus metrics are served on /metrics
while watching.

Examples:
  struktura watch
  struktura watch --apply
  STRUKTURA_METRICS_ADDR=:9090 struktura watch --apply
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := opts.logger

			a, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			paths := args
			if len(paths) == 0 {
				paths = opts.cfg.Collections.Paths
			}
			w, err := watch.New(paths, watch.WithDebounce(debounce), watch.WithLogger(logger))
			if err != nil {
				return err
			}
			defer w.Close()

			if addr := opts.cfg.Metrics.Addr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
				server := &http.Server{
					Addr:              addr,
					Handler:           mux,
					ReadHeaderTimeout: 5 * time.Second,
				}
				go func() {
					logger.Info("Serving metrics", "addr", addr)
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error("Metrics server failed", "error", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			revalidate := func(ctx context.Context, changed []string) {
				if len(changed) > 0 {
					logger.Info("Definitions changed", "files", changed)
				}
				ops, err := pending(ctx, opts, a, args, prune)
				if err != nil {
					logger.Error("Definitions are invalid", "error", err)
					return
				}
				if len(ops) == 0 {
					logger.Info("Registry is up to date")
					return
				}
				if !apply {
					logger.Info("Definitions are valid", "pending", len(ops))
					return
				}
				n, err := diff.Apply(ctx, a.registry, ops)
				if err != nil {
					logger.Error("Apply stopped", "applied", n, "total", len(ops), "error", err)
					return
				}
				logger.Info("Applied definition changes", "applied", n)
			}

			revalidate(ctx, nil)
			if err := w.Run(ctx, revalidate); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info("Stopped watching")
			return nil
		},
	}
	cmd.Flags().BoolVar(&apply, "apply", false, "Apply valid changes to the registry")
	cmd.Flags().BoolVar(&prune, "prune", false, "Drop collections that are no longer defined (with --apply)")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "How long to collect changes before revalidating")
	return cmd
}
