package state

import "fmt"

var sequenceKey = []byte("sys/sequence")

// Sequence returns the persisted transition counter. Fresh state reads as
// zero.
func (m *Manager) Sequence() (uint64, error) {
	if m == nil {
		return 0, fmt.Errorf("state: manager unavailable")
	}
	var stored uint64
	ok, err := m.KVGet(sequenceKey, &stored)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return stored, nil
}

// SetSequence overwrites the persisted transition counter.
func (m *Manager) SetSequence(sequence uint64) error {
	if m == nil {
		return fmt.Errorf("state: manager unavailable")
	}
	return m.KVPut(sequenceKey, sequence)
}

// BumpSequence increments the transition counter and returns the new value.
func (m *Manager) BumpSequence() (uint64, error) {
	current, err := m.Sequence()
	if err != nil {
		return 0, err
	}
	next := current + 1
	if err := m.SetSequence(next); err != nil {
		return 0, err
	}
	return next, nil
}
