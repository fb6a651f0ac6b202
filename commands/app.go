package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gcconfirm/collector"
	"gcconfirm/config"
	"gcconfirm/confirm"
	"gcconfirm/logger"
	"gcconfirm/storage"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app bundles what every subcommand needs.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("set up logger: %w", err)
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) close() {
	logger.Flush(a.log.Logger)
}

// local reports whether the watched runtime is this process.
func (a *app) local() bool {
	return a.cfg.Source != config.SourcePrometheus
}

func (a *app) runtime(log *zap.Logger) collector.Runtime {
	switch a.cfg.Source {
	case config.SourceMemStats:
		return collector.NewMemStatsRuntime(log)
	case config.SourcePrometheus:
		return collector.NewPrometheusRuntime(a.cfg.PrometheusURL, a.cfg.PrometheusQuery, a.cfg.PprofURL, log)
	default:
		return collector.NewGoRuntime(log)
	}
}

// confirmer builds a Confirmer for one run and the run-scoped context
// carrying its logger.
func (a *app) confirmer(ctx context.Context, rec confirm.Recorder) (*confirm.Confirmer, context.Context) {
	log := logger.WithRun(a.log.Logger, uuid.NewString())
	opts := []confirm.Option{confirm.WithLogger(log)}
	if rec != nil {
		opts = append(opts, confirm.WithRecorder(rec))
	}
	if a.local() {
		if probe, err := collector.NewProcessMemory(ctx); err != nil {
			log.Debug("rss probe unavailable", zap.Error(err))
		} else {
			opts = append(opts, confirm.WithMemoryProbe(probe))
		}
	}
	c := confirm.New(a.runtime(log), confirm.Config{
		MinCycles:    a.cfg.MinCycles,
		Deadline:     a.cfg.Deadline,
		PollInterval: a.cfg.PollInterval,
		BlindWait:    a.cfg.BlindWait,
	}, opts...)
	return c, logger.WithContext(ctx, log)
}

func (a *app) openStore() (*storage.SQLite, error) {
	if dir := filepath.Dir(a.cfg.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return storage.NewSQLite(a.cfg.DBPath, a.log.Logger)
}
