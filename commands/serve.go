package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gcconfirm/confirm"
	"gcconfirm/metrics"
	"gcconfirm/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Confirm collections on an interval and expose Prometheus metrics",
	Long: `Repeat "run" every --serve-interval and serve confirmation metrics on
--metrics-addr at /metrics. Each result is also stored in --db.

On SIGINT or SIGTERM the confirmation in progress finishes, is recorded,
and the server shuts down.`,
	RunE: runServe,
}

func init() {
	addChurnFlags(serveCmd)
	serveCmd.Flags().Duration("serve-interval", time.Minute, "time between confirmations")
	serveCmd.Flags().String("metrics-addr", ":9464", "listen address for /metrics")
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := a.openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		a.log.Logger.Info("serving metrics", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	loopErr := a.serveLoop(ctx, store, m, srvErr)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Logger.Warn("metrics server shutdown failed", zap.Error(err))
	}
	return loopErr
}

// serveLoop confirms immediately and then once per interval until ctx is
// done or the metrics server fails.
func (a *app) serveLoop(ctx context.Context, store storage.Store, rec confirm.Recorder, srvErr <-chan error) error {
	ticker := time.NewTicker(a.cfg.ServeInterval)
	defer ticker.Stop()

	for {
		res, err := a.confirmOnce(ctx, rec)
		if err != nil {
			return err
		}
		if _, err := store.Save(context.WithoutCancel(ctx), res); err != nil {
			a.log.Logger.Error("recording confirmation failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			a.log.Logger.Info("shutting down")
			return nil
		case err, ok := <-srvErr:
			if ok && err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		case <-ticker.C:
		}
	}
}
