package confirm

import (
	"context"
	"time"
)

// Clock supplies time and interruptible sleeps to a Confirmer.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when the sleep was cut short.
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Sleep implements Clock.
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// waiter sleeps on behalf of one confirmation. The first interruption is
// recorded and ends that sleep early; later sleeps ignore the cancelled
// context and run to full length so polling keeps its pace. The caller's
// context is never replaced, so its ctx.Err() still reports the
// cancellation once Confirm returns.
type waiter struct {
	clock       Clock
	ctx         context.Context
	interrupted bool
}

func newWaiter(ctx context.Context, clock Clock) *waiter {
	return &waiter{clock: clock, ctx: ctx}
}

func (w *waiter) sleep(d time.Duration) {
	if err := w.clock.Sleep(w.ctx, d); err != nil && !w.interrupted {
		w.interrupted = true
		w.ctx = context.WithoutCancel(w.ctx)
	}
}
