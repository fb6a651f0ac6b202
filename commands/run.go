package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gcconfirm/churn"
	"gcconfirm/confirm"
	"gcconfirm/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var strict bool

// ErrNotConfirmed is returned by run --strict when the collection could
// not be confirmed.
var ErrNotConfirmed = errors.New("garbage collection not confirmed")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Confirm one garbage collection and record the result",
	Long: `Allocate some garbage, request a collection and wait for the runtime
to confirm it. The result is stored in the SQLite file given by --db.

Interrupting with Ctrl-C shortens the current wait but the confirmation
still finishes and is recorded.

Examples:
  # Confirm with the defaults
  gcconfirm run

  # Tighter polling, fail the command when nothing could be confirmed
  gcconfirm run --poll-interval 50ms --deadline 5s --strict

  # Confirm a remote Go process scraped by Prometheus
  gcconfirm run --source prometheus --pprof-url http://bench:6060 \
    --prometheus-query 'go_gc_duration_seconds_count{job="bench"}'`,
	RunE: runRun,
}

func init() {
	addChurnFlags(runCmd)
	runCmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when the collection is not confirmed")
}

func addChurnFlags(cmd *cobra.Command) {
	cmd.Flags().Int("churn-workers", 4, "goroutines allocating garbage before each confirmation (0 disables)")
	cmd.Flags().Int("churn-allocations", 10000, "allocations per churn worker")
	cmd.Flags().Int("churn-size", 1024, "bytes per churn allocation")
}

func runRun(cmd *cobra.Command, _ []string) error {
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

	res, err := a.confirmOnce(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := store.Save(context.WithoutCancel(ctx), res); err != nil {
		return fmt.Errorf("record result: %w", err)
	}

	if err := printResult(cmd.OutOrStdout(), res); err != nil {
		return err
	}
	if ctx.Err() != nil {
		a.log.Logger.Info("interrupted, stopping")
	}
	if strict && !res.Confirmed {
		return ErrNotConfirmed
	}
	return nil
}

// confirmOnce churns (for local sources) and confirms one collection.
func (a *app) confirmOnce(ctx context.Context, rec confirm.Recorder) (confirm.Result, error) {
	c, rctx := a.confirmer(ctx, rec)
	log := logger.FromContext(rctx, a.log)

	if a.local() {
		st, err := churn.Run(rctx, churn.Options{
			Workers:     a.cfg.ChurnWorkers,
			Allocations: a.cfg.ChurnAllocations,
			Size:        a.cfg.ChurnSize,
		})
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("churn interrupted", zap.Int64("allocations", st.Allocations))
		case err != nil:
			return confirm.Result{}, fmt.Errorf("churn: %w", err)
		default:
			log.Debug("churn finished", zap.Int64("allocations", st.Allocations), zap.Int64("bytes", st.Bytes))
		}
	}
	return c.Confirm(rctx), nil
}
