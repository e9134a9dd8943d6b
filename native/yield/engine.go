package yield

import (
	"bytes"
	"math/big"
	"time"

	"granary/core/events"
	"granary/crypto"
	nativecommon "granary/native/common"
)

// engineState is the narrow slice of ledger state the engine depends on.
// Lookups return nil without error when no record exists.
type engineState interface {
	GetPool() (*Pool, error)
	PutPool(*Pool) error
	GetPosition(addr crypto.Address) (*Position, error)
	PutPosition(addr crypto.Address, position *Position) error
	GetRateModel() (*RateModelState, error)
	PutRateModel(*RateModelState) error
	GetPendingChange() (*PendingChange, error)
	PutPendingChange(*PendingChange) error
	GetParams() (*Params, error)
	PutParams(*Params) error
	Paused() (bool, error)
	SetPaused(bool) error
}

// TokenLedger is the slice of token behaviour the engine asks of a reward
// pot: balances plus transfers into and out of the module account.
type TokenLedger interface {
	BalanceOf(holder crypto.Address) (*big.Int, error)
	PotBalance() (*big.Int, error)
	TransferIn(payer crypto.Address, amount *big.Int) error
	TransferOut(recipient crypto.Address, amount *big.Int) error
}

// MintingLedger extends TokenLedger with issuance for the emission stream.
type MintingLedger interface {
	TokenLedger
	Mint(recipient crypto.Address, amount *big.Int) error
	// Mintable reports whether a mint would currently succeed, so callers
	// can refuse a settlement before rebaselining any debt.
	Mintable() error
}

// Engine executes the yield module's state transitions. It owns no storage:
// state and token movement arrive through the configured collaborators, and
// callers are expected to serialize invocations.
type Engine struct {
	state     engineState
	principal MintingLedger
	reward    TokenLedger
	model     RateModel
	emitter   events.Emitter
	nowFn     func() uint64
	seqFn     func() uint64
}

// NewEngine constructs an engine with the supplied default rate model. A nil
// model selects the smoothed EMA model.
func NewEngine(model RateModel) *Engine {
	if model == nil {
		model = SmoothedModel{}
	}
	return &Engine{
		model:   model,
		emitter: events.NoopEmitter{},
		nowFn: func() uint64 {
			return uint64(time.Now().UTC().Unix())
		},
		seqFn: func() uint64 { return 0 },
	}
}

// SetState wires the persistence backend used for pool records.
func (e *Engine) SetState(state engineState) {
	if e == nil {
		return
	}
	e.state = state
}

// SetPrincipalLedger wires the staking-token ledger. Emission payouts are
// minted through it.
func (e *Engine) SetPrincipalLedger(ledger MintingLedger) {
	if e == nil {
		return
	}
	e.principal = ledger
}

// SetRewardLedger wires the harvest-token ledger backing the reward pot.
func (e *Engine) SetRewardLedger(ledger TokenLedger) {
	if e == nil {
		return
	}
	e.reward = ledger
}

// SetEmitter configures the event sink. Passing nil restores the no-op sink.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetNowFunc overrides the engine's clock.
func (e *Engine) SetNowFunc(now func() uint64) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// SetSequenceFunc overrides the sequence source consulted by the target-yield
// timelock.
func (e *Engine) SetSequenceFunc(seq func() uint64) {
	if e == nil || seq == nil {
		return
	}
	e.seqFn = seq
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().UTC().Unix())
	}
	return e.nowFn()
}

func (e *Engine) sequence() uint64 {
	if e == nil || e.seqFn == nil {
		return 0
	}
	return e.seqFn()
}

func (e *Engine) requireReady() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.principal == nil || e.reward == nil {
		return errNilLedger
	}
	return nil
}

func (e *Engine) requireLive() error {
	paused, err := e.state.Paused()
	if err != nil {
		return err
	}
	if paused {
		return nativecommon.ErrModulePaused
	}
	return nil
}

func (e *Engine) loadPool() (*Pool, error) {
	pool, err := e.state.GetPool()
	if err != nil {
		return nil, err
	}
	return ensurePool(pool), nil
}

func (e *Engine) loadPosition(addr crypto.Address) (*Position, error) {
	position, err := e.state.GetPosition(addr)
	if err != nil {
		return nil, err
	}
	return ensurePosition(position), nil
}

func (e *Engine) loadRateModel(nowUnix uint64) (*RateModelState, error) {
	state, err := e.state.GetRateModel()
	if err != nil {
		return nil, err
	}
	return ensureRateModel(state, e.model.Kind(), nowUnix), nil
}

func (e *Engine) loadParams() (*Params, error) {
	params, err := e.state.GetParams()
	if err != nil {
		return nil, err
	}
	if params == nil {
		return nil, errParamsNotSet
	}
	return ensureParams(params), nil
}

// advancePool rolls both accumulators forward to nowUnix. The harvest stream
// distributes min(potential, pot capacity); the returned amount is what the
// pool actually recognised. Mutations stay in memory until the caller
// persists them.
func (e *Engine) advancePool(pool *Pool, model *RateModelState, params *Params, nowUnix uint64) (*big.Int, error) {
	paid := big.NewInt(0)
	if nowUnix <= pool.LastAccrualUnix {
		return paid, nil
	}
	elapsed := new(big.Int).SetUint64(nowUnix - pool.LastAccrualUnix)
	if pool.TotalStaked.Sign() == 0 {
		pool.LastAccrualUnix = nowUnix
		return paid, nil
	}
	minted := new(big.Int).Mul(elapsed, pool.EmissionRate)
	if minted.Sign() > 0 {
		pool.EmissionIndex = new(big.Int).Add(pool.EmissionIndex, mulDiv(minted, wad, pool.TotalStaked))
	}
	active := modelForKind(model.Kind)
	potential := mulDiv(elapsed, active.Rate(model), wad)
	if potential.Sign() > 0 {
		capacity, err := e.harvestCapacity(pool, params)
		if err != nil {
			return nil, err
		}
		paid = copyBigInt(minBigInt(potential, capacity))
		if paid.Sign() > 0 {
			pool.HarvestIndex = new(big.Int).Add(pool.HarvestIndex, mulDiv(paid, wad, pool.TotalStaked))
			active.Distributed(model, paid)
		}
	}
	pool.LastAccrualUnix = nowUnix
	return paid, nil
}

// harvestCapacity reports how much the reward pot can still distribute. When
// the pot shares a token with staked principal, the principal portion of the
// balance is off limits.
func (e *Engine) harvestCapacity(pool *Pool, params *Params) (*big.Int, error) {
	balance, err := e.reward.PotBalance()
	if err != nil {
		return nil, err
	}
	capacity := copyBigInt(balance)
	if params.SharedPot {
		capacity.Sub(capacity, pool.TotalStaked)
	}
	if capacity.Sign() < 0 {
		capacity.SetInt64(0)
	}
	return capacity, nil
}

// settleAmounts computes what each stream owes the position against the
// current accumulator heights. Rounding in the pool's favour means the
// entitlement can trail the debt by dust; that clamps to zero.
func settleAmounts(position *Position, pool *Pool) (*big.Int, *big.Int) {
	owedEmission := new(big.Int).Sub(wadShare(position.Principal, pool.EmissionIndex), position.EmissionDebt)
	if owedEmission.Sign() < 0 {
		owedEmission.SetInt64(0)
	}
	owedHarvest := new(big.Int).Sub(wadShare(position.Principal, pool.HarvestIndex), position.HarvestDebt)
	if owedHarvest.Sign() < 0 {
		owedHarvest.SetInt64(0)
	}
	return owedEmission, owedHarvest
}

func (e *Engine) requirePot(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	balance, err := e.reward.PotBalance()
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientPot
	}
	return nil
}

// requireMintable refuses a settlement that owes emission while the principal
// token cannot mint. Checked before any state write so the debts only
// rebaseline when the payout is going to land.
func (e *Engine) requireMintable(owedEmission *big.Int) error {
	if owedEmission == nil || owedEmission.Sign() <= 0 {
		return nil
	}
	return e.principal.Mintable()
}

func (e *Engine) payEmission(recipient crypto.Address, amount *big.Int, nowUnix uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := e.principal.Mint(recipient, amount); err != nil {
		return err
	}
	e.emit(events.YieldRewardsSettled{
		Account: addressBytes(recipient),
		Stream:  events.StreamEmission,
		Amount:  amount,
		Unix:    nowUnix,
	})
	return nil
}

func (e *Engine) payHarvest(recipient crypto.Address, amount *big.Int, nowUnix uint64) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	if err := e.reward.TransferOut(recipient, amount); err != nil {
		return err
	}
	e.emit(events.YieldRewardsSettled{
		Account: addressBytes(recipient),
		Stream:  events.StreamHarvest,
		Amount:  amount,
		Unix:    nowUnix,
	})
	return nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

func addressBytes(addr crypto.Address) [20]byte {
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out
}

// StakeReceipt reports the effects of a stake call.
type StakeReceipt struct {
	Staked       *big.Int
	PaidEmission *big.Int
	PaidHarvest  *big.Int
	Principal    *big.Int
}

// Stake locks amount of the staking token for beneficiary, settling any
// rewards the existing position accrued first. The payer funds the transfer
// and may differ from the beneficiary.
func (e *Engine) Stake(payer, beneficiary crypto.Address, amount *big.Int) (*StakeReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if payer.IsZero() || beneficiary.IsZero() {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.requireLive(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if amount.Cmp(params.MinimumStake) < 0 {
		return nil, ErrBelowMinimumStake
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
	position, err := e.loadPosition(beneficiary)
	if err != nil {
		return nil, err
	}
	owedEmission, owedHarvest := settleAmounts(position, pool)
	if err := e.requirePot(owedHarvest); err != nil {
		return nil, err
	}
	if err := e.requireMintable(owedEmission); err != nil {
		return nil, err
	}
	balance, err := e.principal.BalanceOf(payer)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
	}

	position.Principal = new(big.Int).Add(position.Principal, amount)
	pool.TotalStaked = new(big.Int).Add(pool.TotalStaked, amount)
	pool.EmissionRate = computeEmissionRate(pool.TotalStaked, params.TargetBps)
	position.rebaseline(pool)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(beneficiary, position); err != nil {
		return nil, err
	}

	if err := e.principal.TransferIn(payer, amount); err != nil {
		return nil, err
	}
	if err := e.payEmission(beneficiary, owedEmission, nowUnix); err != nil {
		return nil, err
	}
	if err := e.payHarvest(beneficiary, owedHarvest, nowUnix); err != nil {
		return nil, err
	}
	e.emit(events.YieldStaked{
		Payer:       addressBytes(payer),
		Beneficiary: addressBytes(beneficiary),
		Amount:      copyBigInt(amount),
		Principal:   copyBigInt(position.Principal),
		TotalStaked: copyBigInt(pool.TotalStaked),
	})
	return &StakeReceipt{
		Staked:       copyBigInt(amount),
		PaidEmission: owedEmission,
		PaidHarvest:  owedHarvest,
		Principal:    copyBigInt(position.Principal),
	}, nil
}

// WithdrawReceipt reports the effects of a withdraw call. Withdrawn can
// exceed the requested amount when the dust rule upgrades the call to a full
// exit.
type WithdrawReceipt struct {
	Withdrawn    *big.Int
	PaidEmission *big.Int
	PaidHarvest  *big.Int
	Principal    *big.Int
	DustUpgraded bool
}

// Withdraw returns staked principal to the caller after settling both reward
// streams. A remainder above zero but below the minimum stake upgrades the
// call to a full exit.
func (e *Engine) Withdraw(account crypto.Address, amount *big.Int) (*WithdrawReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.requireLive(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(account)
	if err != nil {
		return nil, err
	}
	if position.Principal.Cmp(amount) < 0 {
		return nil, ErrInsufficientPrincipal
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
	owedEmission, owedHarvest := settleAmounts(position, pool)
	moved, dustUpgraded := applyDustRule(position.Principal, amount, params.MinimumStake)
	if err := e.requirePot(owedHarvest); err != nil {
		return nil, err
	}
	if err := e.requireMintable(owedEmission); err != nil {
		return nil, err
	}
	if err := e.requirePrincipalFunds(moved); err != nil {
		return nil, err
	}

	position.Principal = new(big.Int).Sub(position.Principal, moved)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, moved)
	pool.EmissionRate = computeEmissionRate(pool.TotalStaked, params.TargetBps)
	position.rebaseline(pool)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(account, position); err != nil {
		return nil, err
	}

	if err := e.principal.TransferOut(account, moved); err != nil {
		return nil, err
	}
	if err := e.payEmission(account, owedEmission, nowUnix); err != nil {
		return nil, err
	}
	if err := e.payHarvest(account, owedHarvest, nowUnix); err != nil {
		return nil, err
	}
	e.emit(events.YieldWithdrawn{
		Account:      addressBytes(account),
		Requested:    copyBigInt(amount),
		Amount:       copyBigInt(moved),
		Principal:    copyBigInt(position.Principal),
		TotalStaked:  copyBigInt(pool.TotalStaked),
		DustUpgraded: dustUpgraded,
	})
	return &WithdrawReceipt{
		Withdrawn:    copyBigInt(moved),
		PaidEmission: owedEmission,
		PaidHarvest:  owedHarvest,
		Principal:    copyBigInt(position.Principal),
		DustUpgraded: dustUpgraded,
	}, nil
}

// ClaimReceipt reports the payouts of a claim call.
type ClaimReceipt struct {
	PaidEmission *big.Int
	PaidHarvest  *big.Int
}

// Claim settles and pays out both reward streams without touching principal.
// Claiming with nothing accrued succeeds and pays zero.
func (e *Engine) Claim(account crypto.Address) (*ClaimReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, ErrInvalidAddress
	}
	if err := e.requireLive(); err != nil {
		return nil, err
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
	if err := e.requirePot(owedHarvest); err != nil {
		return nil, err
	}
	if err := e.requireMintable(owedEmission); err != nil {
		return nil, err
	}

	position.rebaseline(pool)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(account, position); err != nil {
		return nil, err
	}

	if err := e.payEmission(account, owedEmission, nowUnix); err != nil {
		return nil, err
	}
	if err := e.payHarvest(account, owedHarvest, nowUnix); err != nil {
		return nil, err
	}
	e.emit(events.YieldClaimed{
		Account:      addressBytes(account),
		PaidEmission: owedEmission,
		PaidHarvest:  owedHarvest,
	})
	return &ClaimReceipt{PaidEmission: owedEmission, PaidHarvest: owedHarvest}, nil
}

// DeliverReceipt reports a reward delivery absorbed by the rate model.
type DeliverReceipt struct {
	Delivered   *big.Int
	HarvestRate *big.Int
}

// DeliverReward moves amount of the reward token from the configured source
// into the pot and folds the delivery into the harvest rate model. The pool
// syncs at the old rate first, so the updated rate applies going forward
// only.
func (e *Engine) DeliverReward(caller crypto.Address, amount *big.Int) (*DeliverReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if err := e.requireLive(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if !addressMatches(caller, params.RewardSource) {
		return nil, ErrUnauthorized
	}
	balance, err := e.reward.BalanceOf(caller)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(amount) < 0 {
		return nil, ErrInsufficientBalance
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
	active := modelForKind(model.Kind)
	if err := active.Deliver(model, amount, nowUnix); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}

	if err := e.reward.TransferIn(caller, amount); err != nil {
		return nil, err
	}
	rate := active.Rate(model)
	e.emit(events.YieldRewardDelivered{
		Source:      addressBytes(caller),
		Amount:      copyBigInt(amount),
		Model:       model.Kind,
		HarvestRate: rate,
	})
	return &DeliverReceipt{Delivered: copyBigInt(amount), HarvestRate: rate}, nil
}

// SyncPool rolls the accumulators forward to the engine clock without any
// other effect. Anyone may poke the pool.
func (e *Engine) SyncPool() (*Pool, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
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
	elapsedFrom := pool.LastAccrualUnix
	model, err := e.loadRateModel(nowUnix)
	if err != nil {
		return nil, err
	}
	harvestPaid, err := e.advancePool(pool, model, params, nowUnix)
	if err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}
	if nowUnix > elapsedFrom {
		e.emit(events.YieldPoolSynced{
			Elapsed:         nowUnix - elapsedFrom,
			EmissionIndex:   copyBigInt(pool.EmissionIndex),
			HarvestIndex:    copyBigInt(pool.HarvestIndex),
			HarvestPaid:     harvestPaid,
			LastAccrualUnix: pool.LastAccrualUnix,
			TotalStaked:     copyBigInt(pool.TotalStaked),
		})
	}
	return pool.Clone(), nil
}

// applyDustRule upgrades a partial withdrawal to a full exit when it would
// strand a remainder below the minimum stake.
func applyDustRule(principal, requested, minimumStake *big.Int) (*big.Int, bool) {
	remainder := new(big.Int).Sub(principal, requested)
	if remainder.Sign() > 0 && remainder.Cmp(minimumStake) < 0 {
		return copyBigInt(principal), true
	}
	return copyBigInt(requested), false
}

func (e *Engine) requirePrincipalFunds(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	balance, err := e.principal.PotBalance()
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return errInsufficientFunds
	}
	return nil
}

func addressMatches(addr crypto.Address, raw []byte) bool {
	if len(raw) != addressLength {
		return false
	}
	return bytes.Equal(addr.Bytes(), raw)
}
