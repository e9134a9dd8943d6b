package yield

import (
	"math/big"

	"granary/crypto"
)

// PendingRewards reports both streams' unsettled entitlements for one
// account, projected to the engine clock.
type PendingRewards struct {
	Emission *big.Int
	Harvest  *big.Int
}

// PendingRewardsOf replays a pool sync in memory and reports what a claim at
// this instant would pay. Nothing is persisted.
func (e *Engine) PendingRewardsOf(account crypto.Address) (*PendingRewards, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	nowUnix := e.now()
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	model, err := e.loadRateModel(nowUnix)
	if err != nil {
		return nil, err
	}
	if _, err := e.advancePool(pool, model, params, nowUnix); err != nil {
		return nil, err
	}
	position, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	owedEmission, owedHarvest := settleAmounts(position, pool)
	return &PendingRewards{Emission: owedEmission, Harvest: owedHarvest}, nil
}

// PoolInfo is a read-only snapshot of the pool, its configuration, and the
// active rate model.
type PoolInfo struct {
	TotalStaked     *big.Int
	EmissionIndex   *big.Int
	HarvestIndex    *big.Int
	EmissionRate    *big.Int
	LastAccrualUnix uint64
	Paused          bool
	TargetBps       uint64
	MinimumStake    *big.Int
	SharedPot       bool
	ModelKind       string
	HarvestRate     *big.Int
	RewardBalance   *big.Int
	PotBalance      *big.Int
}

// PoolSnapshot reports the persisted pool without advancing it.
func (e *Engine) PoolSnapshot() (*PoolInfo, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	model, err := e.loadRateModel(pool.LastAccrualUnix)
	if err != nil {
		return nil, err
	}
	paused, err := e.state.Paused()
	if err != nil {
		return nil, err
	}
	pot, err := e.reward.PotBalance()
	if err != nil {
		return nil, err
	}
	active := modelForKind(model.Kind)
	return &PoolInfo{
		TotalStaked:     copyBigInt(pool.TotalStaked),
		EmissionIndex:   copyBigInt(pool.EmissionIndex),
		HarvestIndex:    copyBigInt(pool.HarvestIndex),
		EmissionRate:    copyBigInt(pool.EmissionRate),
		LastAccrualUnix: pool.LastAccrualUnix,
		Paused:          paused,
		TargetBps:       params.TargetBps,
		MinimumStake:    copyBigInt(params.MinimumStake),
		SharedPot:       params.SharedPot,
		ModelKind:       model.Kind,
		HarvestRate:     active.Rate(model),
		RewardBalance:   copyBigInt(model.RewardBalance),
		PotBalance:      copyBigInt(pot),
	}, nil
}

// PositionOf reports one account's stored position. Accounts that never
// staked report a zeroed position.
func (e *Engine) PositionOf(account crypto.Address) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if account.IsZero() {
		return nil, ErrInvalidAddress
	}
	position, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// PendingChangeOf reports the active target-yield proposal, or nil when the
// timelock is idle.
func (e *Engine) PendingChangeOf() (*PendingChange, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pending, err := e.state.GetPendingChange()
	if err != nil {
		return nil, err
	}
	if pending == nil || !pending.Active {
		return nil, nil
	}
	return pending.Clone(), nil
}

// ParamsOf reports the module configuration.
func (e *Engine) ParamsOf() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}
