package yield

// PendingChange tracks a proposed target-yield update awaiting confirmation
// in a later sequence.
type PendingChange struct {
	TargetBps uint64
	Sequence  uint64
	Active    bool
}

// Clone returns a deep copy safe to hand to read-only callers.
func (c *PendingChange) Clone() *PendingChange {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

type timelockAction uint8

const (
	timelockPropose timelockAction = iota
	timelockHold
	timelockCommit
)

// evaluateTimelock decides how a target-yield call at the given sequence
// advances the two-phase flow. A proposal commits only when the same value is
// confirmed in a strictly later sequence within the proposal window; any
// mismatch or expiry restarts the clock.
func evaluateTimelock(pending *PendingChange, value, sequence uint64) timelockAction {
	if pending == nil || !pending.Active || pending.TargetBps != value {
		return timelockPropose
	}
	if sequence < pending.Sequence || sequence-pending.Sequence > ProposalWindow {
		return timelockPropose
	}
	if sequence == pending.Sequence {
		return timelockHold
	}
	return timelockCommit
}
