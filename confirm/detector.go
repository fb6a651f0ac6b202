package confirm

// State is where a confirmation stands while polling.
type State int

const (
	// WaitingForStart: not enough cycles observed yet.
	WaitingForStart State = iota
	// WaitingForStable: cycles observed, waiting for counters to go quiet.
	WaitingForStable
)

func (s State) String() string {
	switch s {
	case WaitingForStart:
		return "waiting_for_start"
	case WaitingForStable:
		return "waiting_for_stable"
	default:
		return "unknown"
	}
}

// detector is the two-state convergence machine, kept apart from the
// poll loop so it can be driven with plain counter sequences.
type detector struct {
	state     State
	before    uint64
	minCycles uint64
}

func newDetector(before uint64, minCycles int) *detector {
	if minCycles < 1 {
		minCycles = 1
	}
	return &detector{state: WaitingForStart, before: before, minCycles: uint64(minCycles)}
}

// observe feeds one aggregate reading and reports convergence. before
// keeps the pre-request count across the switch to WaitingForStable, so
// the first stable-phase reading never matches and at least one more
// quiet poll is needed.
func (d *detector) observe(after uint64) bool {
	switch d.state {
	case WaitingForStart:
		if after >= d.before && after-d.before >= d.minCycles {
			d.state = WaitingForStable
		}
	case WaitingForStable:
		if after == d.before {
			return true
		}
		d.before = after
	}
	return false
}
