package collector

import (
	"context"
	"runtime"
	"runtime/metrics"

	"go.uber.org/zap"
)

// Runtime is the capability a confirmation needs from the process whose
// garbage collector is being watched.
type Runtime interface {
	// ListCounters enumerates every collection counter the runtime exposes.
	// Counters the runtime cannot report come back with Tracked == false.
	ListCounters(ctx context.Context) ([]Counter, error)

	// RequestCollection asks for a full collection. It is advisory.
	RequestCollection(ctx context.Context)

	// RequestFinalization gives pending finalizers a chance to run.
	RequestFinalization(ctx context.Context)
}

// Go runtime metrics that partition /gc/cycles/total:gc-cycles.
var goCycleMetrics = []string{
	"/gc/cycles/automatic:gc-cycles",
	"/gc/cycles/forced:gc-cycles",
}

// GoRuntime reads collection counters of the current process from
// runtime/metrics.
type GoRuntime struct {
	Log *zap.Logger
}

// NewGoRuntime returns a Runtime backed by the current Go process.
func NewGoRuntime(log *zap.Logger) *GoRuntime {
	if log == nil {
		log = zap.NewNop()
	}
	return &GoRuntime{Log: log}
}

// ListCounters implements Runtime. A metric the running toolchain does not
// know is reported untracked.
func (g *GoRuntime) ListCounters(_ context.Context) ([]Counter, error) {
	samples := make([]metrics.Sample, len(goCycleMetrics))
	for i, name := range goCycleMetrics {
		samples[i].Name = name
	}
	metrics.Read(samples)

	out := make([]Counter, 0, len(samples))
	for _, s := range samples {
		c := Counter{ID: s.Name}
		if s.Value.Kind() == metrics.KindUint64 {
			c.Count = s.Value.Uint64()
			c.Tracked = true
		} else {
			g.Log.Debug("gc counter not supported", zap.String("metric", s.Name))
		}
		out = append(out, c)
	}
	return out, nil
}

// RequestCollection implements Runtime.
func (g *GoRuntime) RequestCollection(_ context.Context) {
	runtime.GC()
}

// RequestFinalization implements Runtime. Go has no call that runs pending
// finalizers, so the best we can do is yield to the finalizer goroutine.
func (g *GoRuntime) RequestFinalization(_ context.Context) {
	runtime.Gosched()
}

// MemStatsRuntime exposes runtime.MemStats.NumGC as a single counter.
// ReadMemStats stops the world, so prefer GoRuntime unless comparing
// against tooling that reports NumGC.
type MemStatsRuntime struct {
	GoRuntime
}

// NewMemStatsRuntime returns a Runtime backed by runtime.ReadMemStats.
func NewMemStatsRuntime(log *zap.Logger) *MemStatsRuntime {
	return &MemStatsRuntime{GoRuntime: *NewGoRuntime(log)}
}

// ListCounters implements Runtime.
func (m *MemStatsRuntime) ListCounters(_ context.Context) ([]Counter, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return []Counter{{ID: "memstats.NumGC", Count: uint64(ms.NumGC), Tracked: true}}, nil
}
