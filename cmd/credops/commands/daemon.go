package commands

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/systmms/credops/internal/config"
	"github.com/systmms/credops/internal/scheduler"
)

func NewDaemonCommand(cfg *config.Config) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the rotation daemon",
		Long: `Run the rotation loop in the foreground.

The daemon scans active sessions on an interval and rotates any whose
remaining validity has fallen under the margin, keeping the credential
file fresh for long-running tooling. Stop it with SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := newApp(ctx, cfg, appOptions{})
			if err != nil {
				return err
			}

			if metricsAddr != "" {
				scheduler.InitMetrics()
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						cfg.Logger.Error("metrics server failed: %v", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				cfg.Logger.Info("metrics served on %s/metrics", metricsAddr)
			}

			s := scheduler.New(scheduler.Config{
				Interval: cfg.RotationInterval(),
				Margin:   cfg.RotationMargin(),
			}, app.repo, app.factory, cfg.Logger)

			err = s.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. 127.0.0.1:9465)")

	return cmd
}
