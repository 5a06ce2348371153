package manager

import "time"

// FlushPolicy decides when a mutation triggers an opportunistic save, so
// the trigger is testable without fabricating an exact number of
// documents.
type FlushPolicy interface {
	Due(mutationsSinceSave int, sinceSave time.Duration) bool
}

// EveryPolicy saves after Mutations index mutations or after Interval has
// elapsed since the last save, whichever comes first. A zero field
// disables that trigger.
type EveryPolicy struct {
	Mutations int
	Interval  time.Duration
}

func (p EveryPolicy) Due(mutationsSinceSave int, sinceSave time.Duration) bool {
	if p.Mutations > 0 && mutationsSinceSave >= p.Mutations {
		return true
	}
	if p.Interval > 0 && sinceSave >= p.Interval {
		return true
	}
	return false
}
