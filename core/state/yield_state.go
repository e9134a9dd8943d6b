package state

import (
	"fmt"

	"granary/crypto"
	"granary/native/yield"
)

// Key layout for the yield module. Positions are keyed per account; all other
// records are singletons.
var (
	yieldPoolKey        = []byte("yield/pool")
	yieldRateModelKey   = []byte("yield/rate-model")
	yieldPendingKey     = []byte("yield/pending-change")
	yieldParamsKey      = []byte("yield/params")
	yieldPausedKey      = []byte("yield/paused")
	yieldPositionPrefix = []byte("yield/position/")
)

func yieldPositionKey(addr crypto.Address) []byte {
	raw := addr.Bytes()
	key := make([]byte, len(yieldPositionPrefix)+len(raw))
	copy(key, yieldPositionPrefix)
	copy(key[len(yieldPositionPrefix):], raw)
	return key
}

// YieldPool returns the persisted pool record, or nil when none exists.
func (m *Manager) YieldPool() (*yield.Pool, error) {
	pool := new(yield.Pool)
	ok, err := m.KVGet(yieldPoolKey, pool)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return pool, nil
}

// YieldPutPool persists the pool record.
func (m *Manager) YieldPutPool(pool *yield.Pool) error {
	if pool == nil {
		return fmt.Errorf("yield: pool must not be nil")
	}
	return m.KVPut(yieldPoolKey, pool)
}

// YieldPosition returns the stored position for addr, or nil when the
// account never staked.
func (m *Manager) YieldPosition(addr crypto.Address) (*yield.Position, error) {
	position := new(yield.Position)
	ok, err := m.KVGet(yieldPositionKey(addr), position)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return position, nil
}

// YieldPutPosition persists the position record for addr.
func (m *Manager) YieldPutPosition(addr crypto.Address, position *yield.Position) error {
	if position == nil {
		return fmt.Errorf("yield: position must not be nil")
	}
	return m.KVPut(yieldPositionKey(addr), position)
}

// YieldRateModel returns the persisted rate model record, or nil when none
// exists.
func (m *Manager) YieldRateModel() (*yield.RateModelState, error) {
	state := new(yield.RateModelState)
	ok, err := m.KVGet(yieldRateModelKey, state)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return state, nil
}

// YieldPutRateModel persists the rate model record.
func (m *Manager) YieldPutRateModel(state *yield.RateModelState) error {
	if state == nil {
		return fmt.Errorf("yield: rate model must not be nil")
	}
	return m.KVPut(yieldRateModelKey, state)
}

// YieldPendingChange returns the persisted timelock record, or nil when none
// exists.
func (m *Manager) YieldPendingChange() (*yield.PendingChange, error) {
	pending := new(yield.PendingChange)
	ok, err := m.KVGet(yieldPendingKey, pending)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return pending, nil
}

// YieldPutPendingChange persists the timelock record.
func (m *Manager) YieldPutPendingChange(pending *yield.PendingChange) error {
	if pending == nil {
		return fmt.Errorf("yield: pending change must not be nil")
	}
	return m.KVPut(yieldPendingKey, pending)
}

// YieldParams returns the persisted module parameters, or nil when none
// exist.
func (m *Manager) YieldParams() (*yield.Params, error) {
	params := new(yield.Params)
	ok, err := m.KVGet(yieldParamsKey, params)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return params, nil
}

// YieldPutParams persists the module parameters.
func (m *Manager) YieldPutParams(params *yield.Params) error {
	if params == nil {
		return fmt.Errorf("yield: params must not be nil")
	}
	return m.KVPut(yieldParamsKey, params)
}

// YieldPaused reports the persisted pause flag. Missing records read as
// unpaused.
func (m *Manager) YieldPaused() (bool, error) {
	var paused bool
	ok, err := m.KVGet(yieldPausedKey, &paused)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return paused, nil
}

// YieldSetPaused persists the pause flag.
func (m *Manager) YieldSetPaused(paused bool) error {
	return m.KVPut(yieldPausedKey, paused)
}
