// Package churn allocates short-lived garbage so a forced collection has
// something to reclaim.
package churn

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Options sizes one churn run.
type Options struct {
	Workers     int // goroutines allocating in parallel
	Allocations int // allocations per worker
	Size        int // bytes per allocation
}

// Stats summarizes a finished run.
type Stats struct {
	Allocations int64
	Bytes       int64
}

// sink keeps the compiler from proving the buffers dead.
var sink atomic.Pointer[[]byte]

// Run allocates Workers*Allocations buffers of Size bytes and drops them.
// It stops early when ctx is cancelled and returns ctx.Err().
func Run(ctx context.Context, s Options) (Stats, error) {
	var (
		allocs atomic.Int64
		bytes  atomic.Int64
	)
	if s.Workers <= 0 || s.Allocations <= 0 || s.Size <= 0 {
		return Stats{}, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < s.Workers; w++ {
		g.Go(func() error {
			for i := 0; i < s.Allocations; i++ {
				if i%1024 == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				buf := make([]byte, s.Size)
				buf[0] = byte(i)
				sink.Store(&buf)
				allocs.Add(1)
				bytes.Add(int64(s.Size))
			}
			return nil
		})
	}
	err := g.Wait()
	sink.Store(nil)
	return Stats{Allocations: allocs.Load(), Bytes: bytes.Load()}, err
}
