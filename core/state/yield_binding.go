package state

import (
	"granary/crypto"
	"granary/native/yield"
)

// YieldState narrows the manager to the state surface the yield engine
// consumes. The engine never sees token balances or genesis plumbing.
type YieldState struct {
	manager *Manager
}

// NewYieldState binds the yield engine's persistence to the manager.
func NewYieldState(manager *Manager) *YieldState {
	return &YieldState{manager: manager}
}

func (s *YieldState) GetPool() (*yield.Pool, error)     { return s.manager.YieldPool() }
func (s *YieldState) PutPool(pool *yield.Pool) error    { return s.manager.YieldPutPool(pool) }
func (s *YieldState) GetParams() (*yield.Params, error) { return s.manager.YieldParams() }
func (s *YieldState) PutParams(p *yield.Params) error   { return s.manager.YieldPutParams(p) }
func (s *YieldState) Paused() (bool, error)             { return s.manager.YieldPaused() }
func (s *YieldState) SetPaused(paused bool) error       { return s.manager.YieldSetPaused(paused) }

func (s *YieldState) GetPosition(addr crypto.Address) (*yield.Position, error) {
	return s.manager.YieldPosition(addr)
}

func (s *YieldState) PutPosition(addr crypto.Address, position *yield.Position) error {
	return s.manager.YieldPutPosition(addr, position)
}

func (s *YieldState) GetRateModel() (*yield.RateModelState, error) {
	return s.manager.YieldRateModel()
}

func (s *YieldState) PutRateModel(state *yield.RateModelState) error {
	return s.manager.YieldPutRateModel(state)
}

func (s *YieldState) GetPendingChange() (*yield.PendingChange, error) {
	return s.manager.YieldPendingChange()
}

func (s *YieldState) PutPendingChange(pending *yield.PendingChange) error {
	return s.manager.YieldPutPendingChange(pending)
}
