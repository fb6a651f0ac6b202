package confirm

import (
	"context"
	"errors"
	"testing"
	"time"

	"gcconfirm/collector"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock advances only when slept on.
type fakeClock struct {
	now     time.Time
	sleeps  int
	onSleep func(n int)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time { return f.now }

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	f.sleeps++
	if f.onSleep != nil {
		f.onSleep(f.sleeps)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.now = f.now.Add(d)
	return nil
}

// scriptedRuntime serves the initial reading, then one value per poll.
// After the script runs out the last value repeats.
type scriptedRuntime struct {
	initial uint64
	polls   []uint64
	next    func(poll int) uint64 // overrides polls when set
	untrack bool
	listErr error

	calls    []string
	listings int
}

func (s *scriptedRuntime) ListCounters(context.Context) ([]collector.Counter, error) {
	n := s.listings
	s.listings++
	if s.listErr != nil {
		return nil, s.listErr
	}
	if s.untrack {
		return []collector.Counter{{ID: "young"}, {ID: "old"}}, nil
	}
	v := s.initial
	switch {
	case n == 0:
	case s.next != nil:
		v = s.next(n)
	case len(s.polls) > 0:
		i := n - 1
		if i >= len(s.polls) {
			i = len(s.polls) - 1
		}
		v = s.polls[i]
	}
	// Split across two counters plus one the runtime cannot report.
	return []collector.Counter{
		{ID: "young", Count: v / 2, Tracked: true},
		{ID: "old", Count: v - v/2, Tracked: true},
		{ID: "unsupported"},
	}, nil
}

func (s *scriptedRuntime) RequestCollection(context.Context) {
	s.calls = append(s.calls, "collect")
}

func (s *scriptedRuntime) RequestFinalization(context.Context) {
	s.calls = append(s.calls, "finalize")
}

type recorded struct{ results []Result }

func (r *recorded) Observe(res Result) { r.results = append(r.results, res) }

type fixedProbe struct{ values []uint64 }

func (p *fixedProbe) RSS(context.Context) (uint64, error) {
	v := p.values[0]
	p.values = p.values[1:]
	return v, nil
}

func newTestConfirmer(rt collector.Runtime, clock Clock, opts ...Option) (*Confirmer, *observer.ObservedLogs) {
	core, logs := observer.New(zap.WarnLevel)
	opts = append([]Option{WithClock(clock), WithLogger(zap.New(core))}, opts...)
	return New(rt, DefaultConfig(), opts...), logs
}

func warnings(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func TestConfirm_HappyPath(t *testing.T) {
	rt := &scriptedRuntime{initial: 10, polls: []uint64{11, 12, 12}}
	clock := newFakeClock()
	c, logs := newTestConfirmer(rt, clock)

	res := c.Confirm(context.Background())

	assert.True(t, res.Confirmed)
	assert.Equal(t, OutcomeConfirmed, res.Outcome)
	assert.Equal(t, 4, res.Polls)
	assert.Equal(t, uint64(2), res.Cycles)
	assert.Equal(t, 800*time.Millisecond, res.Elapsed)
	assert.False(t, res.Interrupted)
	assert.Equal(t, []string{"old", "young"}, res.Tracked)
	assert.Empty(t, warnings(logs))
}

func TestConfirm_RequestsTwoCollectionsWithFinalization(t *testing.T) {
	rt := &scriptedRuntime{initial: 0, polls: []uint64{2}}
	c, _ := newTestConfirmer(rt, newFakeClock())

	require.True(t, c.ConfirmCollection(context.Background()))
	assert.Equal(t, []string{"finalize", "collect", "finalize", "collect"}, rt.calls)
}

func TestConfirm_NeverStarts(t *testing.T) {
	rt := &scriptedRuntime{initial: 7}
	clock := newFakeClock()
	c, logs := newTestConfirmer(rt, clock)

	res := c.Confirm(context.Background())

	assert.False(t, res.Confirmed)
	assert.Equal(t, OutcomeNotDetected, res.Outcome)
	assert.Equal(t, 20*time.Second, res.Elapsed)
	assert.Equal(t, 100, res.Polls)
	assert.Equal(t, []string{MsgNotDetected}, warnings(logs))
}

func TestConfirm_NeverStabilizes(t *testing.T) {
	rt := &scriptedRuntime{initial: 100, next: func(poll int) uint64 { return 100 + uint64(poll) }}
	clock := newFakeClock()
	c, logs := newTestConfirmer(rt, clock)

	res := c.Confirm(context.Background())

	assert.False(t, res.Confirmed)
	assert.Equal(t, OutcomeNotStabilized, res.Outcome)
	assert.Equal(t, 20*time.Second, res.Elapsed)
	assert.GreaterOrEqual(t, res.Cycles, uint64(2))
	assert.Equal(t, []string{MsgNotStabilized}, warnings(logs))
}

func TestConfirm_StartOnLastPollIsNotStable(t *testing.T) {
	rt := &scriptedRuntime{next: func(poll int) uint64 {
		if poll < 99 {
			return 0
		}
		return 2
	}}
	c, logs := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(context.Background())

	assert.False(t, res.Confirmed)
	assert.Equal(t, OutcomeNotStabilized, res.Outcome)
	assert.Equal(t, 100, res.Polls)
	assert.Equal(t, uint64(2), res.Cycles)
	assert.Equal(t, []string{MsgNotStabilized}, warnings(logs))
}

func TestConfirm_NoTrackedCounters(t *testing.T) {
	rt := &scriptedRuntime{untrack: true}
	clock := newFakeClock()
	c, logs := newTestConfirmer(rt, clock)

	res := c.Confirm(context.Background())

	assert.True(t, res.Confirmed)
	assert.Equal(t, OutcomeBlind, res.Outcome)
	assert.Zero(t, res.Polls)
	assert.Equal(t, 1, rt.listings)
	assert.Equal(t, 1, clock.sleeps)
	assert.Equal(t, 20*time.Second, res.Elapsed)
	assert.Empty(t, res.Tracked)
	assert.Equal(t, []string{MsgBlindWait}, warnings(logs))
	assert.Len(t, rt.calls, 4)
}

func TestConfirm_ListErrorTakesBlindPath(t *testing.T) {
	rt := &scriptedRuntime{listErr: errors.New("scrape failed")}
	c, logs := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(context.Background())

	assert.Equal(t, OutcomeBlind, res.Outcome)
	assert.Equal(t, []string{MsgBlindWait}, warnings(logs))
}

func TestConfirm_StableSourceNeverConfirms(t *testing.T) {
	rt := &scriptedRuntime{initial: 42}
	c, logs := newTestConfirmer(rt, newFakeClock())

	for i := 0; i < 3; i++ {
		rt.listings = 0
		assert.False(t, c.ConfirmCollection(context.Background()), "call %d", i)
	}
	assert.Len(t, logs.FilterMessage(MsgNotDetected).All(), 3)
}

func TestConfirm_SingleIncrementIsNotEnough(t *testing.T) {
	rt := &scriptedRuntime{initial: 5, polls: []uint64{6}}
	c, _ := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(context.Background())

	assert.Equal(t, OutcomeNotDetected, res.Outcome)
	assert.Equal(t, uint64(1), res.Cycles)
}

func TestConfirm_InterruptedMidSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt := &scriptedRuntime{initial: 10, polls: []uint64{11, 12, 12}}
	clock := newFakeClock()
	clock.onSleep = func(n int) {
		if n == 2 {
			cancel()
		}
	}
	c, _ := newTestConfirmer(rt, clock)

	res := c.Confirm(ctx)

	assert.True(t, res.Confirmed)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 4, res.Polls)
	// The cut-short sleep did not advance time.
	assert.Equal(t, 600*time.Millisecond, res.Elapsed)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestConfirm_CancelledBeforeCallStillRunsToDeadline(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := &scriptedRuntime{initial: 3}
	c, logs := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(ctx)

	assert.False(t, res.Confirmed)
	assert.True(t, res.Interrupted)
	assert.Equal(t, 20*time.Second, res.Elapsed)
	// One extra poll for the sleep that was cut short.
	assert.Equal(t, 101, res.Polls)
	assert.Equal(t, []string{MsgNotDetected}, warnings(logs))
}

func TestConfirm_InterruptedBlindWaitReturnsEarly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rt := &scriptedRuntime{untrack: true}
	c, _ := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(ctx)

	assert.True(t, res.Confirmed)
	assert.True(t, res.Interrupted)
	assert.Zero(t, res.Elapsed)
}

func TestConfirm_PollErrorKeepsLastReading(t *testing.T) {
	rt := &flakyRuntime{scriptedRuntime: scriptedRuntime{initial: 0, polls: []uint64{2, 2, 2, 2}}, failOn: 2}
	c, _ := newTestConfirmer(rt, newFakeClock())

	res := c.Confirm(context.Background())

	assert.True(t, res.Confirmed)
	assert.Equal(t, 3, res.Polls)
}

type flakyRuntime struct {
	scriptedRuntime
	failOn int
}

func (f *flakyRuntime) ListCounters(ctx context.Context) ([]collector.Counter, error) {
	if f.listings == f.failOn {
		f.listings++
		return nil, errors.New("timeout")
	}
	return f.scriptedRuntime.ListCounters(ctx)
}

func TestConfirm_RecorderAndProbe(t *testing.T) {
	rt := &scriptedRuntime{initial: 0, polls: []uint64{2, 2}}
	rec := &recorded{}
	probe := &fixedProbe{values: []uint64{4096, 1024}}
	c, _ := newTestConfirmer(rt, newFakeClock(), WithRecorder(rec), WithMemoryProbe(probe))

	res := c.Confirm(context.Background())

	require.Len(t, rec.results, 1)
	assert.Equal(t, res, rec.results[0])
	assert.Equal(t, uint64(4096), res.RSSBefore)
	assert.Equal(t, uint64(1024), res.RSSAfter)
}

func TestConfirm_CustomConfig(t *testing.T) {
	rt := &scriptedRuntime{initial: 0, polls: []uint64{1, 1}}
	clock := newFakeClock()
	c := New(rt, Config{MinCycles: 1, Deadline: time.Second, PollInterval: 50 * time.Millisecond},
		WithClock(clock))

	res := c.Confirm(context.Background())

	assert.True(t, res.Confirmed)
	assert.Equal(t, 150*time.Millisecond, res.Elapsed)
}

func TestNew_FillsDefaults(t *testing.T) {
	c := New(&scriptedRuntime{}, Config{})
	assert.Equal(t, DefaultConfig(), c.cfg)
}

func TestConfirm_GoRuntime(t *testing.T) {
	if testing.Short() {
		t.Skip("forces real collections")
	}
	c := New(collector.NewGoRuntime(nil), Config{
		Deadline:     10 * time.Second,
		PollInterval: 20 * time.Millisecond,
	})

	res := c.Confirm(context.Background())

	assert.True(t, res.Confirmed, "outcome %s", res.Outcome)
	assert.GreaterOrEqual(t, res.Cycles, uint64(2))
	assert.NotEmpty(t, res.Tracked)
}
