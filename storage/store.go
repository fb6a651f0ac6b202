package storage

import (
	"context"
	"time"

	"gcconfirm/confirm"
)

// Record is one persisted confirmation.
type Record struct {
	ID          int64 // auto-increment primary key
	StartedAt   time.Time
	Elapsed     time.Duration
	Outcome     confirm.Outcome
	Interrupted bool
	Cycles      uint64
	Polls       int
	Tracked     []string
	RSSBefore   uint64
	RSSAfter    uint64
}

// Filter narrows a Query.
type Filter struct {
	From, To time.Time       // zero values leave that side open
	Outcome  confirm.Outcome // empty for every outcome
	Limit    int             // 0 for no limit
}

// Store abstracts a persistence back-end for confirmation results.
type Store interface {
	// Save stores one result and returns its record ID.
	Save(ctx context.Context, res confirm.Result) (int64, error)

	// Query returns matching records, oldest first.
	Query(ctx context.Context, f Filter) ([]Record, error)

	// Close releases any resources (e.g. DB connections).
	Close() error
}
