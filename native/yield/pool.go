package yield

import "math/big"

// Pool aggregates the staking side of the module. Both reward accumulators are
// wad-scaled: they carry cumulative reward wei per staked wei, multiplied by
// 1e18.
type Pool struct {
	TotalStaked     *big.Int
	EmissionIndex   *big.Int
	HarvestIndex    *big.Int
	EmissionRate    *big.Int
	LastAccrualUnix uint64
}

// Position tracks one account's staked principal together with the
// settlement baselines for each reward stream.
type Position struct {
	Principal    *big.Int
	EmissionDebt *big.Int
	HarvestDebt  *big.Int
}

func ensurePool(pool *Pool) *Pool {
	if pool == nil {
		pool = &Pool{}
	}
	if pool.TotalStaked == nil {
		pool.TotalStaked = big.NewInt(0)
	}
	if pool.EmissionIndex == nil {
		pool.EmissionIndex = big.NewInt(0)
	}
	if pool.HarvestIndex == nil {
		pool.HarvestIndex = big.NewInt(0)
	}
	if pool.EmissionRate == nil {
		pool.EmissionRate = big.NewInt(0)
	}
	return pool
}

func ensurePosition(position *Position) *Position {
	if position == nil {
		position = &Position{}
	}
	if position.Principal == nil {
		position.Principal = big.NewInt(0)
	}
	if position.EmissionDebt == nil {
		position.EmissionDebt = big.NewInt(0)
	}
	if position.HarvestDebt == nil {
		position.HarvestDebt = big.NewInt(0)
	}
	return position
}

// Clone returns a deep copy safe to hand to read-only callers.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return ensurePool(nil)
	}
	return &Pool{
		TotalStaked:     copyBigInt(p.TotalStaked),
		EmissionIndex:   copyBigInt(p.EmissionIndex),
		HarvestIndex:    copyBigInt(p.HarvestIndex),
		EmissionRate:    copyBigInt(p.EmissionRate),
		LastAccrualUnix: p.LastAccrualUnix,
	}
}

// Clone returns a deep copy safe to hand to read-only callers.
func (p *Position) Clone() *Position {
	if p == nil {
		return ensurePosition(nil)
	}
	return &Position{
		Principal:    copyBigInt(p.Principal),
		EmissionDebt: copyBigInt(p.EmissionDebt),
		HarvestDebt:  copyBigInt(p.HarvestDebt),
	}
}

// rebaseline resets both settlement debts to the position's entitlement at
// the supplied accumulator heights.
func (p *Position) rebaseline(pool *Pool) {
	p.EmissionDebt = wadShare(p.Principal, pool.EmissionIndex)
	p.HarvestDebt = wadShare(p.Principal, pool.HarvestIndex)
}
