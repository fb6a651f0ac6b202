package confirm

import "time"

// Outcome names how a confirmation ended.
type Outcome string

const (
	OutcomeConfirmed     Outcome = "confirmed"
	OutcomeBlind         Outcome = "blind"
	OutcomeNotDetected   Outcome = "not_detected"
	OutcomeNotStabilized Outcome = "not_stabilized"
)

// Confirmed reports whether the outcome counts as success.
func (o Outcome) Confirmed() bool {
	return o == OutcomeConfirmed || o == OutcomeBlind
}

// Result describes one confirmation.
type Result struct {
	Outcome     Outcome
	Confirmed   bool
	Interrupted bool // the caller's context was cancelled while waiting

	Tracked []string // IDs of the counters that were watched
	Cycles  uint64   // cycles observed since the first reading
	Polls   int

	StartedAt  time.Time
	FinishedAt time.Time
	Elapsed    time.Duration

	// Resident set size around the confirmation, zero when no probe is set.
	RSSBefore uint64
	RSSAfter  uint64
}
