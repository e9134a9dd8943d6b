package yield

import (
	"math/big"
	"strconv"

	"granary/core/events"
	"granary/crypto"
)

// Proposal statuses reported by ProposeTargetBps.
const (
	ProposalStatusProposed  = "proposed"
	ProposalStatusPending   = "pending"
	ProposalStatusCommitted = "committed"
)

// ProposalReceipt reports how a target-yield call advanced the timelock.
type ProposalReceipt struct {
	Status    string
	TargetBps uint64
	Sequence  uint64
}

// ProposeTargetBps runs one step of the two-phase target-yield update. The
// first call records a proposal; a second call with the same value in a later
// sequence inside the proposal window commits it. A differing value or an
// expired window restarts the flow, and repeating the proposing sequence
// holds without committing.
func (e *Engine) ProposeTargetBps(caller crypto.Address, value uint64) (*ProposalReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, ErrInvalidAddress
	}
	if err := e.requireLive(); err != nil {
		return nil, err
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if !addressMatches(caller, params.Owner) {
		return nil, ErrUnauthorized
	}
	if value > MaxTargetBps {
		return nil, ErrParameterOutOfRange
	}
	sequence := e.sequence()
	pending, err := e.state.GetPendingChange()
	if err != nil {
		return nil, err
	}
	switch evaluateTimelock(pending, value, sequence) {
	case timelockHold:
		return &ProposalReceipt{Status: ProposalStatusPending, TargetBps: value, Sequence: pending.Sequence}, nil
	case timelockCommit:
		return e.commitTargetBps(params, value, sequence)
	default:
		proposal := &PendingChange{TargetBps: value, Sequence: sequence, Active: true}
		if err := e.state.PutPendingChange(proposal); err != nil {
			return nil, err
		}
		e.emit(events.YieldParameterProposed{TargetBps: value, Sequence: sequence})
		return &ProposalReceipt{Status: ProposalStatusProposed, TargetBps: value, Sequence: sequence}, nil
	}
}

// commitTargetBps applies a confirmed target-yield change. The pool syncs at
// the outgoing rate first so the new target only shapes future accrual.
func (e *Engine) commitTargetBps(params *Params, value, sequence uint64) (*ProposalReceipt, error) {
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
	params.TargetBps = value
	pool.EmissionRate = computeEmissionRate(pool.TotalStaked, value)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return nil, err
	}
	if err := e.state.PutParams(params); err != nil {
		return nil, err
	}
	if err := e.state.PutPendingChange(&PendingChange{}); err != nil {
		return nil, err
	}
	e.emit(events.YieldParameterCommitted{
		TargetBps:    value,
		Sequence:     sequence,
		EmissionRate: copyBigInt(pool.EmissionRate),
	})
	return &ProposalReceipt{Status: ProposalStatusCommitted, TargetBps: value, Sequence: sequence}, nil
}

// Pause freezes every mutating entry point except PauseWithdraw. The pauser
// and the owner may both trigger it; pausing an already paused module is a
// no-op.
func (e *Engine) Pause(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !addressMatches(caller, params.Pauser) && !addressMatches(caller, params.Owner) {
		return ErrUnauthorized
	}
	paused, err := e.state.Paused()
	if err != nil {
		return err
	}
	if paused {
		return nil
	}
	if err := e.state.SetPaused(true); err != nil {
		return err
	}
	e.emit(events.YieldPaused{Caller: addressBytes(caller)})
	return nil
}

// Unpause lifts a freeze. Owner only; unpausing a live module is a no-op.
func (e *Engine) Unpause(caller crypto.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !addressMatches(caller, params.Owner) {
		return ErrUnauthorized
	}
	paused, err := e.state.Paused()
	if err != nil {
		return err
	}
	if !paused {
		return nil
	}
	if err := e.state.SetPaused(false); err != nil {
		return err
	}
	e.emit(events.YieldUnpaused{Caller: addressBytes(caller)})
	return nil
}

// SweepReceipt reports the balances moved by an emergency transfer.
type SweepReceipt struct {
	Principal *big.Int
	Rewards   *big.Int
}

// EmergencyTransfer forces a pause and sweeps the module's full balances of
// both tokens to the recipient. Owner only. Accounting records are left in
// place for the paused escape hatch to unwind.
func (e *Engine) EmergencyTransfer(caller, recipient crypto.Address) (*SweepReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if caller.IsZero() || recipient.IsZero() {
		return nil, ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	if !addressMatches(caller, params.Owner) {
		return nil, ErrUnauthorized
	}
	paused, err := e.state.Paused()
	if err != nil {
		return nil, err
	}
	if !paused {
		if err := e.state.SetPaused(true); err != nil {
			return nil, err
		}
		e.emit(events.YieldPaused{Caller: addressBytes(caller)})
	}
	sweptPrincipal, err := e.principal.PotBalance()
	if err != nil {
		return nil, err
	}
	sweptPrincipal = copyBigInt(sweptPrincipal)
	if sweptPrincipal.Sign() > 0 {
		if err := e.principal.TransferOut(recipient, sweptPrincipal); err != nil {
			return nil, err
		}
	}
	// With a shared pot the first sweep already drained the balance, so the
	// second read reports what is genuinely left.
	sweptRewards, err := e.reward.PotBalance()
	if err != nil {
		return nil, err
	}
	sweptRewards = copyBigInt(sweptRewards)
	if sweptRewards.Sign() > 0 {
		if err := e.reward.TransferOut(recipient, sweptRewards); err != nil {
			return nil, err
		}
	}
	e.emit(events.YieldEmergencySwept{
		Recipient:       addressBytes(recipient),
		PrincipalAmount: sweptPrincipal,
		RewardAmount:    sweptRewards,
	})
	return &SweepReceipt{Principal: sweptPrincipal, Rewards: sweptRewards}, nil
}

// PauseWithdrawReceipt reports principal recovered through the paused escape
// hatch.
type PauseWithdrawReceipt struct {
	Withdrawn    *big.Int
	Principal    *big.Int
	DustUpgraded bool
}

// PauseWithdraw returns principal while the module is paused. It never syncs
// the pool and never settles rewards: debts rebaseline against the stale
// accumulators and anything unsettled is forfeited.
func (e *Engine) PauseWithdraw(account crypto.Address, amount *big.Int) (*PauseWithdrawReceipt, error) {
	if err := e.requireReady(); err != nil {
		return nil, err
	}
	if account.IsZero() {
		return nil, ErrInvalidAddress
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	paused, err := e.state.Paused()
	if err != nil {
		return nil, err
	}
	if !paused {
		return nil, ErrNotPaused
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
	moved, dustUpgraded := applyDustRule(position.Principal, amount, params.MinimumStake)
	if err := e.requirePrincipalFunds(moved); err != nil {
		return nil, err
	}
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}

	position.Principal = new(big.Int).Sub(position.Principal, moved)
	pool.TotalStaked = new(big.Int).Sub(pool.TotalStaked, moved)
	pool.EmissionRate = computeEmissionRate(pool.TotalStaked, params.TargetBps)
	position.rebaseline(pool)
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutPosition(account, position); err != nil {
		return nil, err
	}

	if err := e.principal.TransferOut(account, moved); err != nil {
		return nil, err
	}
	e.emit(events.YieldPauseWithdrawn{
		Account:      addressBytes(account),
		Requested:    copyBigInt(amount),
		Amount:       copyBigInt(moved),
		Principal:    copyBigInt(position.Principal),
		TotalStaked:  copyBigInt(pool.TotalStaked),
		DustUpgraded: dustUpgraded,
	})
	return &PauseWithdrawReceipt{
		Withdrawn:    copyBigInt(moved),
		Principal:    copyBigInt(position.Principal),
		DustUpgraded: dustUpgraded,
	}, nil
}

// SetAlpha updates the smoothed model's EMA weight. Owner only; alpha is a
// wad fraction in (0, 1e18].
func (e *Engine) SetAlpha(caller crypto.Address, alpha *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !addressMatches(caller, params.Owner) {
		return ErrUnauthorized
	}
	if alpha == nil || alpha.Sign() <= 0 || alpha.Cmp(wad) > 0 {
		return ErrParameterOutOfRange
	}
	model, err := e.loadRateModel(e.now())
	if err != nil {
		return err
	}
	if model.Kind != RateModelSmoothed {
		return ErrRateModelMismatch
	}
	previous := copyBigInt(model.Alpha)
	model.Alpha = copyBigInt(alpha)
	if err := e.state.PutRateModel(model); err != nil {
		return err
	}
	e.emit(events.YieldConfigUpdated{
		Parameter: "alpha",
		Previous:  previous.String(),
		Current:   model.Alpha.String(),
	})
	return nil
}

// SetDepletionDuration updates the depleting model's payout horizon and
// rederives the harvest rate from the remaining balance. The pool syncs at
// the outgoing rate first. Owner only.
func (e *Engine) SetDepletionDuration(caller crypto.Address, seconds uint64) error {
	if err := e.requireReady(); err != nil {
		return err
	}
	if caller.IsZero() {
		return ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !addressMatches(caller, params.Owner) {
		return ErrUnauthorized
	}
	if seconds == 0 {
		return ErrParameterOutOfRange
	}
	nowUnix := e.now()
	pool, err := e.loadPool()
	if err != nil {
		return err
	}
	model, err := e.loadRateModel(nowUnix)
	if err != nil {
		return err
	}
	if model.Kind != RateModelDepleting {
		return ErrRateModelMismatch
	}
	if _, err := e.advancePool(pool, model, params, nowUnix); err != nil {
		return err
	}
	previous := model.DepletionSeconds
	model.DepletionSeconds = seconds
	model.HarvestRate = depletionRate(model.RewardBalance, seconds)
	if err := e.state.PutPool(pool); err != nil {
		return err
	}
	if err := e.state.PutRateModel(model); err != nil {
		return err
	}
	e.emit(events.YieldConfigUpdated{
		Parameter: "depletionSeconds",
		Previous:  strconv.FormatUint(previous, 10),
		Current:   strconv.FormatUint(seconds, 10),
	})
	return nil
}

// SetRewardSource updates the account authorized to deliver rewards. Owner
// only.
func (e *Engine) SetRewardSource(caller, source crypto.Address) error {
	return e.setRole(caller, source, "rewardSource", func(params *Params, raw []byte) {
		params.RewardSource = raw
	}, func(params *Params) []byte { return params.RewardSource })
}

// SetPauser updates the account allowed to pause the module. Owner only.
func (e *Engine) SetPauser(caller, pauser crypto.Address) error {
	return e.setRole(caller, pauser, "pauser", func(params *Params, raw []byte) {
		params.Pauser = raw
	}, func(params *Params) []byte { return params.Pauser })
}

func (e *Engine) setRole(caller, account crypto.Address, name string, assign func(*Params, []byte), current func(*Params) []byte) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if caller.IsZero() || account.IsZero() {
		return ErrInvalidAddress
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if !addressMatches(caller, params.Owner) {
		return ErrUnauthorized
	}
	previous := formatRole(current(params))
	assign(params, append([]byte(nil), account.Bytes()...))
	if err := e.state.PutParams(params); err != nil {
		return err
	}
	e.emit(events.YieldConfigUpdated{
		Parameter: name,
		Previous:  previous,
		Current:   account.String(),
	})
	return nil
}

func formatRole(raw []byte) string {
	if len(raw) != addressLength || allZero(raw) {
		return ""
	}
	return crypto.MustNewAccountAddress(raw).String()
}
