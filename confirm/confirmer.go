// Package confirm forces a garbage collection and waits until the runtime's
// collection counters show that it ran and settled.
package confirm

import (
	"context"
	"time"

	"gcconfirm/collector"

	"go.uber.org/zap"
)

// Warnings written when a collection cannot be confirmed. Operators grep
// for these, keep them stable.
const (
	MsgBlindWait     = "runtime exposes no collection counters, collection requested, waiting pessimistically"
	MsgNotDetected   = "collection requested but no collection detected, is collection disabled?"
	MsgNotStabilized = "collection observed but never stabilized, is the collector too asynchronous to confirm?"
)

// Config tunes a Confirmer.
type Config struct {
	MinCycles    int           // cycles that must be observed before waiting for quiet
	Deadline     time.Duration // polling budget, measured after the requests
	PollInterval time.Duration
	BlindWait    time.Duration // sleep used when no counter can be tracked
}

// DefaultConfig returns 2 cycles, a 20s deadline, 200ms polls and a 20s
// blind wait.
func DefaultConfig() Config {
	return Config{
		MinCycles:    2,
		Deadline:     20 * time.Second,
		PollInterval: 200 * time.Millisecond,
		BlindWait:    20 * time.Second,
	}
}

// Recorder receives every finished Result.
type Recorder interface {
	Observe(Result)
}

// MemoryProbe reports process memory around a confirmation.
type MemoryProbe interface {
	RSS(ctx context.Context) (uint64, error)
}

// Confirmer runs confirmations against one runtime. It holds no state
// between calls; concurrent calls are safe but observe each other's cycles.
type Confirmer struct {
	rt       collector.Runtime
	cfg      Config
	clock    Clock
	log      *zap.Logger
	recorder Recorder
	probe    MemoryProbe
}

// Option customizes a Confirmer.
type Option func(*Confirmer)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(cf *Confirmer) { cf.clock = c } }

// WithLogger sets the diagnostic sink.
func WithLogger(l *zap.Logger) Option { return func(cf *Confirmer) { cf.log = l } }

// WithRecorder reports every Result to r.
func WithRecorder(r Recorder) Option { return func(cf *Confirmer) { cf.recorder = r } }

// WithMemoryProbe samples RSS before and after each confirmation.
func WithMemoryProbe(p MemoryProbe) Option { return func(cf *Confirmer) { cf.probe = p } }

// New returns a Confirmer. Zero fields of cfg take their defaults.
func New(rt collector.Runtime, cfg Config, opts ...Option) *Confirmer {
	def := DefaultConfig()
	if cfg.MinCycles <= 0 {
		cfg.MinCycles = def.MinCycles
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = def.Deadline
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.BlindWait <= 0 {
		cfg.BlindWait = def.BlindWait
	}
	c := &Confirmer{rt: rt, cfg: cfg, clock: SystemClock{}, log: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConfirmCollection requests a collection and reports whether it could be
// confirmed. Cancelling ctx shortens the current wait but never aborts the
// call; check ctx.Err() afterwards.
func (c *Confirmer) ConfirmCollection(ctx context.Context) bool {
	return c.Confirm(ctx).Confirmed
}

// Confirm is ConfirmCollection with the full Result.
func (c *Confirmer) Confirm(ctx context.Context) Result {
	// Runtime calls must not fail because the caller cancelled.
	rctx := context.WithoutCancel(ctx)
	res := Result{StartedAt: c.clock.Now()}
	c.log.Info("running garbage collector")

	if c.probe != nil {
		res.RSSBefore = c.readRSS(rctx)
	}

	counters, err := c.rt.ListCounters(rctx)
	if err != nil {
		c.log.Debug("listing gc counters failed", zap.Error(err))
	}
	tracked := collector.NewTrackedSet(counters)
	res.Tracked = tracked.IDs()
	first := tracked.Sum(counters)

	// Twice, since a single request may be ignored as a hint.
	c.rt.RequestFinalization(rctx)
	c.rt.RequestCollection(rctx)
	c.rt.RequestFinalization(rctx)
	c.rt.RequestCollection(rctx)

	w := newWaiter(ctx, c.clock)

	if tracked.Len() == 0 {
		c.log.Warn(MsgBlindWait, zap.Duration("wait", c.cfg.BlindWait))
		w.sleep(c.cfg.BlindWait)
		return c.finish(rctx, res, w, OutcomeBlind)
	}

	det := newDetector(first, c.cfg.MinCycles)
	last := first
	start := c.clock.Now()
	for c.clock.Now().Sub(start) < c.cfg.Deadline {
		w.sleep(c.cfg.PollInterval)
		res.Polls++

		cs, err := c.rt.ListCounters(rctx)
		if err != nil {
			c.log.Debug("polling gc counters failed", zap.Error(err))
		} else {
			last = tracked.Sum(cs)
		}
		if last >= first {
			res.Cycles = last - first
		}
		if det.observe(last) {
			return c.finish(rctx, res, w, OutcomeConfirmed)
		}
	}

	fields := []zap.Field{
		zap.Uint64("before", first),
		zap.Uint64("after", last),
		zap.Duration("deadline", c.cfg.Deadline),
		zap.Int("polls", res.Polls),
	}
	if det.state == WaitingForStable {
		c.log.Warn(MsgNotStabilized, fields...)
		return c.finish(rctx, res, w, OutcomeNotStabilized)
	}
	c.log.Warn(MsgNotDetected, fields...)
	return c.finish(rctx, res, w, OutcomeNotDetected)
}

func (c *Confirmer) finish(ctx context.Context, res Result, w *waiter, o Outcome) Result {
	res.Outcome = o
	res.Confirmed = o.Confirmed()
	res.Interrupted = w.interrupted
	res.FinishedAt = c.clock.Now()
	res.Elapsed = res.FinishedAt.Sub(res.StartedAt)
	if c.probe != nil {
		res.RSSAfter = c.readRSS(ctx)
	}

	c.log.Info("garbage collection confirmation finished",
		zap.String("outcome", string(o)),
		zap.Uint64("cycles", res.Cycles),
		zap.Int("polls", res.Polls),
		zap.Duration("elapsed", res.Elapsed),
		zap.Bool("interrupted", res.Interrupted),
	)
	if c.recorder != nil {
		c.recorder.Observe(res)
	}
	return res
}

func (c *Confirmer) readRSS(ctx context.Context) uint64 {
	rss, err := c.probe.RSS(ctx)
	if err != nil {
		c.log.Debug("reading rss failed", zap.Error(err))
		return 0
	}
	return rss
}

// ConfirmCollection confirms a collection of the current process with the
// default settings, logging through zap's global logger.
func ConfirmCollection(ctx context.Context) bool {
	log := zap.L()
	return New(collector.NewGoRuntime(log), DefaultConfig(), WithLogger(log)).ConfirmCollection(ctx)
}
