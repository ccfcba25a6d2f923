package task

// VectorClock tracks causal history as a replica-id → counter map.
// The zero value (nil) is usable; mutating methods return the map so
// callers can capture a freshly allocated one.
type VectorClock map[string]uint64

// Clone returns an independent copy of the clock.
func (vc VectorClock) Clone() VectorClock {
	if vc == nil {
		return nil
	}
	out := make(VectorClock, len(vc))
	for replica, n := range vc {
		out[replica] = n
	}
	return out
}

// Tick increments the counter for the given replica and returns the clock.
func (vc VectorClock) Tick(replica string) VectorClock {
	if vc == nil {
		vc = make(VectorClock, 1)
	}
	vc[replica]++
	return vc
}

// Merge folds other into the clock, keeping the element-wise maximum for
// every replica entry, and returns the clock. Causal history is never lost
// even when one side's payload is discarded.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	if len(other) == 0 {
		return vc
	}
	if vc == nil {
		vc = make(VectorClock, len(other))
	}
	for replica, n := range other {
		if n > vc[replica] {
			vc[replica] = n
		}
	}
	return vc
}
