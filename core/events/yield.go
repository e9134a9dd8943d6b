package events

import (
	"math/big"
	"strconv"
	"strings"

	"granary/core/types"
	"granary/crypto"
)

const (
	// TypeYieldStaked captures principal entering the pool.
	TypeYieldStaked = "yield.staked"
	// TypeYieldWithdrawn captures principal leaving the pool through the normal path.
	TypeYieldWithdrawn = "yield.withdrawn"
	// TypeYieldClaimed is emitted when an account harvests its accrued rewards.
	TypeYieldClaimed = "yield.claimed"
	// TypeYieldRewardsSettled records a single-stream payout produced by settlement.
	TypeYieldRewardsSettled = "yield.rewardsSettled"
	// TypeYieldRewardDelivered captures a push delivery feeding the harvest rate model.
	TypeYieldRewardDelivered = "yield.rewardDelivered"
	// TypeYieldPoolSynced records accumulator growth from a lazy pool update.
	TypeYieldPoolSynced = "yield.poolSynced"
	// TypeYieldParameterProposed is emitted when a target-yield change enters the timelock.
	TypeYieldParameterProposed = "yield.parameterProposed"
	// TypeYieldParameterCommitted is emitted when a timelocked change takes effect.
	TypeYieldParameterCommitted = "yield.parameterCommitted"
	// TypeYieldConfigUpdated captures owner changes to model or role parameters.
	TypeYieldConfigUpdated = "yield.configUpdated"
	// TypeYieldPaused is emitted when the pauser freezes mutations.
	TypeYieldPaused = "yield.paused"
	// TypeYieldUnpaused is emitted when the owner lifts a freeze.
	TypeYieldUnpaused = "yield.unpaused"
	// TypeYieldEmergencySwept captures an owner sweep of both token balances.
	TypeYieldEmergencySwept = "yield.emergencySwept"
	// TypeYieldPauseWithdrawn captures principal recovered through the paused escape hatch.
	TypeYieldPauseWithdrawn = "yield.pauseWithdrawn"

	// StreamEmission identifies the minted reward stream targeting an annual yield.
	StreamEmission = "emission"
	// StreamHarvest identifies the pot-funded reward stream driven by deliveries.
	StreamHarvest = "harvest"
)

// YieldStaked captures a stake credited to a beneficiary.
type YieldStaked struct {
	Payer       [20]byte
	Beneficiary [20]byte
	Amount      *big.Int
	Principal   *big.Int
	TotalStaked *big.Int
}

// EventType satisfies the Event interface.
func (YieldStaked) EventType() string { return TypeYieldStaked }

// Event converts the structured payload into a broadcastable event.
func (e YieldStaked) Event() *types.Event {
	attrs := map[string]string{
		"beneficiary": crypto.MustNewAccountAddress(e.Beneficiary[:]).String(),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
		"totalStaked": formatAmount(e.TotalStaked),
	}
	if !zeroAddress(e.Payer) {
		attrs["payer"] = crypto.MustNewAccountAddress(e.Payer[:]).String()
	}
	return &types.Event{Type: TypeYieldStaked, Attributes: attrs}
}

// YieldWithdrawn captures principal leaving the pool. Amount is the moved
// amount, which exceeds Requested when the dust rule upgraded the call.
type YieldWithdrawn struct {
	Account      [20]byte
	Requested    *big.Int
	Amount       *big.Int
	Principal    *big.Int
	TotalStaked  *big.Int
	DustUpgraded bool
}

// EventType satisfies the Event interface.
func (YieldWithdrawn) EventType() string { return TypeYieldWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e YieldWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"account":     crypto.MustNewAccountAddress(e.Account[:]).String(),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
		"totalStaked": formatAmount(e.TotalStaked),
	}
	if e.Requested != nil && e.Amount != nil && e.Requested.Cmp(e.Amount) != 0 {
		attrs["requested"] = formatAmount(e.Requested)
	}
	if e.DustUpgraded {
		attrs["dustUpgraded"] = "true"
	}
	return &types.Event{Type: TypeYieldWithdrawn, Attributes: attrs}
}

// YieldClaimed captures a harvest of both reward streams.
type YieldClaimed struct {
	Account      [20]byte
	PaidEmission *big.Int
	PaidHarvest  *big.Int
}

// EventType satisfies the Event interface.
func (YieldClaimed) EventType() string { return TypeYieldClaimed }

// Event converts the structured payload into a broadcastable event.
func (e YieldClaimed) Event() *types.Event {
	attrs := map[string]string{
		"account":      crypto.MustNewAccountAddress(e.Account[:]).String(),
		"paidEmission": formatAmount(e.PaidEmission),
		"paidHarvest":  formatAmount(e.PaidHarvest),
	}
	return &types.Event{Type: TypeYieldClaimed, Attributes: attrs}
}

// YieldRewardsSettled records one stream's payout during settlement.
type YieldRewardsSettled struct {
	Account [20]byte
	Stream  string
	Amount  *big.Int
	Unix    uint64
}

// EventType satisfies the Event interface.
func (YieldRewardsSettled) EventType() string { return TypeYieldRewardsSettled }

// Event converts the structured payload into a broadcastable event.
func (e YieldRewardsSettled) Event() *types.Event {
	attrs := map[string]string{
		"account": crypto.MustNewAccountAddress(e.Account[:]).String(),
		"stream":  e.Stream,
		"amount":  formatAmount(e.Amount),
	}
	if e.Unix > 0 {
		attrs["unix"] = strconv.FormatUint(e.Unix, 10)
	}
	return &types.Event{Type: TypeYieldRewardsSettled, Attributes: attrs}
}

// YieldRewardDelivered captures a reward push absorbed by the rate model.
type YieldRewardDelivered struct {
	Source      [20]byte
	Amount      *big.Int
	Model       string
	HarvestRate *big.Int
}

// EventType satisfies the Event interface.
func (YieldRewardDelivered) EventType() string { return TypeYieldRewardDelivered }

// Event converts the structured payload into a broadcastable event.
func (e YieldRewardDelivered) Event() *types.Event {
	attrs := map[string]string{
		"amount": formatAmount(e.Amount),
	}
	if !zeroAddress(e.Source) {
		attrs["source"] = crypto.MustNewAccountAddress(e.Source[:]).String()
	}
	if model := strings.TrimSpace(e.Model); model != "" {
		attrs["model"] = model
	}
	if e.HarvestRate != nil {
		attrs["harvestRate"] = e.HarvestRate.String()
	}
	return &types.Event{Type: TypeYieldRewardDelivered, Attributes: attrs}
}

// YieldPoolSynced records accumulator growth committed by a pool sync.
type YieldPoolSynced struct {
	Elapsed         uint64
	EmissionIndex   *big.Int
	HarvestIndex    *big.Int
	HarvestPaid     *big.Int
	LastAccrualUnix uint64
	TotalStaked     *big.Int
}

// EventType satisfies the Event interface.
func (YieldPoolSynced) EventType() string { return TypeYieldPoolSynced }

// Event converts the structured payload into a broadcastable event.
func (e YieldPoolSynced) Event() *types.Event {
	attrs := map[string]string{
		"elapsed":       strconv.FormatUint(e.Elapsed, 10),
		"emissionIndex": formatAmount(e.EmissionIndex),
		"harvestIndex":  formatAmount(e.HarvestIndex),
		"lastAccrual":   strconv.FormatUint(e.LastAccrualUnix, 10),
		"totalStaked":   formatAmount(e.TotalStaked),
	}
	if e.HarvestPaid != nil && e.HarvestPaid.Sign() > 0 {
		attrs["harvestPaid"] = formatAmount(e.HarvestPaid)
	}
	return &types.Event{Type: TypeYieldPoolSynced, Attributes: attrs}
}

// YieldParameterProposed captures a timelock proposal for the target yield.
type YieldParameterProposed struct {
	TargetBps uint64
	Sequence  uint64
}

// EventType satisfies the Event interface.
func (YieldParameterProposed) EventType() string { return TypeYieldParameterProposed }

// Event converts the structured payload into a broadcastable event.
func (e YieldParameterProposed) Event() *types.Event {
	return &types.Event{Type: TypeYieldParameterProposed, Attributes: map[string]string{
		"targetBps": strconv.FormatUint(e.TargetBps, 10),
		"sequence":  strconv.FormatUint(e.Sequence, 10),
	}}
}

// YieldParameterCommitted captures a committed target-yield change.
type YieldParameterCommitted struct {
	TargetBps    uint64
	Sequence     uint64
	EmissionRate *big.Int
}

// EventType satisfies the Event interface.
func (YieldParameterCommitted) EventType() string { return TypeYieldParameterCommitted }

// Event converts the structured payload into a broadcastable event.
func (e YieldParameterCommitted) Event() *types.Event {
	attrs := map[string]string{
		"targetBps": strconv.FormatUint(e.TargetBps, 10),
		"sequence":  strconv.FormatUint(e.Sequence, 10),
	}
	if e.EmissionRate != nil {
		attrs["emissionRate"] = e.EmissionRate.String()
	}
	return &types.Event{Type: TypeYieldParameterCommitted, Attributes: attrs}
}

// YieldConfigUpdated captures an owner change to a model or role parameter.
type YieldConfigUpdated struct {
	Parameter string
	Previous  string
	Current   string
}

// EventType satisfies the Event interface.
func (YieldConfigUpdated) EventType() string { return TypeYieldConfigUpdated }

// Event converts the structured payload into a broadcastable event.
func (e YieldConfigUpdated) Event() *types.Event {
	attrs := map[string]string{
		"parameter": e.Parameter,
		"current":   e.Current,
	}
	if e.Previous != "" {
		attrs["previous"] = e.Previous
	}
	return &types.Event{Type: TypeYieldConfigUpdated, Attributes: attrs}
}

// YieldPaused captures a pause toggled by the pauser or owner.
type YieldPaused struct {
	Caller [20]byte
}

// EventType satisfies the Event interface.
func (YieldPaused) EventType() string { return TypeYieldPaused }

// Event converts the structured payload into a broadcastable event.
func (e YieldPaused) Event() *types.Event {
	return &types.Event{Type: TypeYieldPaused, Attributes: map[string]string{
		"caller": crypto.MustNewAccountAddress(e.Caller[:]).String(),
	}}
}

// YieldUnpaused captures the owner lifting a pause.
type YieldUnpaused struct {
	Caller [20]byte
}

// EventType satisfies the Event interface.
func (YieldUnpaused) EventType() string { return TypeYieldUnpaused }

// Event converts the structured payload into a broadcastable event.
func (e YieldUnpaused) Event() *types.Event {
	return &types.Event{Type: TypeYieldUnpaused, Attributes: map[string]string{
		"caller": crypto.MustNewAccountAddress(e.Caller[:]).String(),
	}}
}

// YieldEmergencySwept captures an owner sweep of the module's token balances.
type YieldEmergencySwept struct {
	Recipient       [20]byte
	PrincipalAmount *big.Int
	RewardAmount    *big.Int
}

// EventType satisfies the Event interface.
func (YieldEmergencySwept) EventType() string { return TypeYieldEmergencySwept }

// Event converts the structured payload into a broadcastable event.
func (e YieldEmergencySwept) Event() *types.Event {
	return &types.Event{Type: TypeYieldEmergencySwept, Attributes: map[string]string{
		"recipient":       crypto.MustNewAccountAddress(e.Recipient[:]).String(),
		"principalAmount": formatAmount(e.PrincipalAmount),
		"rewardAmount":    formatAmount(e.RewardAmount),
	}}
}

// YieldPauseWithdrawn captures principal recovered while the module is paused.
type YieldPauseWithdrawn struct {
	Account      [20]byte
	Requested    *big.Int
	Amount       *big.Int
	Principal    *big.Int
	TotalStaked  *big.Int
	DustUpgraded bool
}

// EventType satisfies the Event interface.
func (YieldPauseWithdrawn) EventType() string { return TypeYieldPauseWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e YieldPauseWithdrawn) Event() *types.Event {
	attrs := map[string]string{
		"account":     crypto.MustNewAccountAddress(e.Account[:]).String(),
		"amount":      formatAmount(e.Amount),
		"principal":   formatAmount(e.Principal),
		"totalStaked": formatAmount(e.TotalStaked),
	}
	if e.Requested != nil && e.Amount != nil && e.Requested.Cmp(e.Amount) != 0 {
		attrs["requested"] = formatAmount(e.Requested)
	}
	if e.DustUpgraded {
		attrs["dustUpgraded"] = "true"
	}
	return &types.Event{Type: TypeYieldPauseWithdrawn, Attributes: attrs}
}

func formatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}

func zeroAddress(addr [20]byte) bool {
	for _, b := range addr {
		if b != 0 {
			return false
		}
	}
	return true
}
