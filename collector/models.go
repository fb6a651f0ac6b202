package collector

import "sort"

// Counter is one collection-cycle counter exposed by a runtime.
type Counter struct {
	ID      string // e.g. "/gc/cycles/forced:gc-cycles"
	Count   uint64 // cumulative number of completed cycles
	Tracked bool   // false when the runtime cannot report this counter
}

// TrackedSet holds the counters that reported a real count when a
// confirmation started. Membership is fixed by NewTrackedSet.
type TrackedSet struct {
	ids  []string
	last map[string]uint64
}

// NewTrackedSet keeps every tracked counter of cs and drops the rest.
// Duplicate IDs are counted once.
func NewTrackedSet(cs []Counter) *TrackedSet {
	t := &TrackedSet{last: make(map[string]uint64)}
	for _, c := range cs {
		if !c.Tracked {
			continue
		}
		if _, dup := t.last[c.ID]; dup {
			continue
		}
		t.ids = append(t.ids, c.ID)
		t.last[c.ID] = c.Count
	}
	sort.Strings(t.ids)
	return t
}

// Len is the number of tracked counters.
func (t *TrackedSet) Len() int { return len(t.ids) }

// IDs returns a copy of the tracked counter IDs, sorted.
func (t *TrackedSet) IDs() []string {
	out := make([]string, len(t.ids))
	copy(out, t.ids)
	return out
}

// Sum returns the aggregate count of the tracked counters found in cs.
// Counters outside the set are ignored. A tracked counter that is absent
// from cs, or no longer reports a count, contributes its last seen value.
func (t *TrackedSet) Sum(cs []Counter) uint64 {
	for _, c := range cs {
		if !c.Tracked {
			continue
		}
		if _, ok := t.last[c.ID]; ok {
			t.last[c.ID] = c.Count
		}
	}
	var total uint64
	for _, id := range t.ids {
		total += t.last[id]
	}
	return total
}
