package yield

import "math/big"

// Rate model kinds persisted alongside the pool.
const (
	RateModelSmoothed  = "smoothed"
	RateModelDepleting = "depleting"
)

// RateModelState is the persisted record backing the harvest stream. Only the
// fields of the active model kind are meaningful; the rest stay zero.
type RateModelState struct {
	Kind          string
	LastEventUnix uint64

	// Smoothed model.
	SmoothedRate *big.Int
	Alpha        *big.Int
	Seeded       bool

	// Depleting model.
	RewardBalance    *big.Int
	HarvestRate      *big.Int
	DepletionSeconds uint64
}

// RateModel folds reward deliveries into a wad-scaled per-second harvest
// rate. Implementations are stateless; all state lives in RateModelState.
type RateModel interface {
	Kind() string
	// Rate reports the current per-second harvest rate in wad wei.
	Rate(state *RateModelState) *big.Int
	// Deliver folds a delivered amount observed at the given Unix time into
	// the state.
	Deliver(state *RateModelState, amount *big.Int, nowUnix uint64) error
	// Distributed records that the pool paid out the given amount of the
	// harvest stream.
	Distributed(state *RateModelState, amount *big.Int)
}

// SmoothedModel tracks an exponential moving average of delivery rates. The
// rate is a forecast; payouts stay capped by the pot balance at sync time.
type SmoothedModel struct{}

func (SmoothedModel) Kind() string { return RateModelSmoothed }

func (SmoothedModel) Rate(state *RateModelState) *big.Int {
	if state == nil {
		return big.NewInt(0)
	}
	return copyBigInt(state.SmoothedRate)
}

func (SmoothedModel) Deliver(state *RateModelState, amount *big.Int, nowUnix uint64) error {
	if nowUnix <= state.LastEventUnix {
		return ErrSameInstantDelivery
	}
	elapsed := new(big.Int).SetUint64(nowUnix - state.LastEventUnix)
	instant := mulDiv(amount, wad, elapsed)
	if !state.Seeded {
		state.SmoothedRate = instant
		state.Seeded = true
	} else {
		alpha := state.Alpha
		if alpha == nil {
			alpha = defaultAlpha
		}
		weighted := new(big.Int).Mul(alpha, instant)
		carry := new(big.Int).Sub(wad, alpha)
		carry.Mul(carry, copyBigInt(state.SmoothedRate))
		weighted.Add(weighted, carry)
		state.SmoothedRate = weighted.Quo(weighted, wad)
	}
	state.LastEventUnix = nowUnix
	return nil
}

func (SmoothedModel) Distributed(*RateModelState, *big.Int) {}

// DepletingModel pays a standing reward balance out linearly over a fixed
// horizon. Every delivery and every distribution re-derives the rate from the
// remaining balance, which keeps split deliveries equivalent to a lump sum.
type DepletingModel struct{}

func (DepletingModel) Kind() string { return RateModelDepleting }

func (DepletingModel) Rate(state *RateModelState) *big.Int {
	if state == nil {
		return big.NewInt(0)
	}
	return copyBigInt(state.HarvestRate)
}

func (DepletingModel) Deliver(state *RateModelState, amount *big.Int, nowUnix uint64) error {
	balance := copyBigInt(state.RewardBalance)
	balance.Add(balance, amount)
	state.RewardBalance = balance
	state.HarvestRate = depletionRate(balance, state.DepletionSeconds)
	state.LastEventUnix = nowUnix
	return nil
}

func (DepletingModel) Distributed(state *RateModelState, amount *big.Int) {
	if state == nil || amount == nil || amount.Sign() <= 0 {
		return
	}
	balance := copyBigInt(state.RewardBalance)
	balance.Sub(balance, amount)
	if balance.Sign() < 0 {
		balance.SetInt64(0)
	}
	state.RewardBalance = balance
	state.HarvestRate = depletionRate(balance, state.DepletionSeconds)
}

func depletionRate(balance *big.Int, seconds uint64) *big.Int {
	if seconds == 0 {
		return big.NewInt(0)
	}
	return mulDiv(balance, wad, new(big.Int).SetUint64(seconds))
}

// modelForKind maps a persisted kind back to its implementation.
func modelForKind(kind string) RateModel {
	if kind == RateModelDepleting {
		return DepletingModel{}
	}
	return SmoothedModel{}
}

func ensureRateModel(state *RateModelState, kind string, nowUnix uint64) *RateModelState {
	if state == nil {
		state = &RateModelState{Kind: kind}
	}
	if state.Kind == "" {
		state.Kind = kind
	}
	// Records written before any delivery (genesis documents included) carry
	// a zero clock; stamping them here keeps the first smoothed delivery
	// measured from boot rather than from the Unix epoch.
	if state.LastEventUnix == 0 {
		state.LastEventUnix = nowUnix
	}
	if state.SmoothedRate == nil {
		state.SmoothedRate = big.NewInt(0)
	}
	if state.Alpha == nil {
		state.Alpha = copyBigInt(defaultAlpha)
	}
	if state.RewardBalance == nil {
		state.RewardBalance = big.NewInt(0)
	}
	if state.HarvestRate == nil {
		state.HarvestRate = big.NewInt(0)
	}
	if state.DepletionSeconds == 0 {
		state.DepletionSeconds = defaultDepletionSeconds
	}
	return state
}

// Clone returns a deep copy safe to hand to read-only callers.
func (s *RateModelState) Clone() *RateModelState {
	if s == nil {
		return nil
	}
	return &RateModelState{
		Kind:             s.Kind,
		LastEventUnix:    s.LastEventUnix,
		SmoothedRate:     copyBigInt(s.SmoothedRate),
		Alpha:            copyBigInt(s.Alpha),
		Seeded:           s.Seeded,
		RewardBalance:    copyBigInt(s.RewardBalance),
		HarvestRate:      copyBigInt(s.HarvestRate),
		DepletionSeconds: s.DepletionSeconds,
	}
}
