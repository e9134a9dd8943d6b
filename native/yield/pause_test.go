package yield

import (
	"errors"
	"math/big"
	"testing"

	"granary/core/events"
	"granary/crypto"
)

func TestPauseAuthorization(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.Pause(aliceAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("random pauser: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pauser pause: %v", err)
	}
	if !env.state.paused {
		t.Fatal("module not paused")
	}
	if err := env.engine.Unpause(pauserAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("pauser unpause: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.Unpause(ownerAddr); err != nil {
		t.Fatalf("owner unpause: %v", err)
	}
	if env.state.paused {
		t.Fatal("module still paused")
	}
	// The owner may also pause directly.
	if err := env.engine.Pause(ownerAddr); err != nil {
		t.Fatalf("owner pause: %v", err)
	}
}

func TestPauseIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	emitted := len(env.emitter.events)
	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("repeat pause: %v", err)
	}
	if len(env.emitter.events) != emitted {
		t.Fatal("repeat pause emitted an event")
	}
	if err := env.engine.Unpause(ownerAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	emitted = len(env.emitter.events)
	if err := env.engine.Unpause(ownerAddr); err != nil {
		t.Fatalf("repeat unpause: %v", err)
	}
	if len(env.emitter.events) != emitted {
		t.Fatal("repeat unpause emitted an event")
	}
}

func TestUnpauseRestoresOperation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundPrincipal(aliceAddr, new(big.Int).Mul(wad, big.NewInt(2)))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))

	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := env.engine.Unpause(ownerAddr); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))
}

func TestPauseWithdrawRequiresPause(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundPrincipal(aliceAddr, copyBigInt(wad))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))

	if _, err := env.engine.PauseWithdraw(aliceAddr, copyBigInt(wad)); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("live module: want ErrNotPaused, got %v", err)
	}
}

func TestPauseWithdrawSkipsAccrualAndSettlement(t *testing.T) {
	env := newTestEnv(t, nil, func(p *Params) { p.MinimumStake = copyBigInt(defaultMinimumStake) })
	staked := new(big.Int).Mul(wad, big.NewInt(3))
	env.fundPrincipal(aliceAddr, staked)
	env.mustStake(t, aliceAddr, aliceAddr, staked)

	// Materialize some accumulator height, then let more time pass without a
	// sync.
	env.now += 100
	if _, err := env.engine.SyncPool(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	syncedPool := env.state.pool.Clone()
	env.now += 50

	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}
	emittedBefore := len(env.emitter.events)
	receipt, err := env.engine.PauseWithdraw(aliceAddr, copyBigInt(wad))
	if err != nil {
		t.Fatalf("pause withdraw: %v", err)
	}
	requireBigEqual(t, "withdrawn", wad, receipt.Withdrawn)

	pool := env.state.pool
	requireBigEqual(t, "emission index frozen", syncedPool.EmissionIndex, pool.EmissionIndex)
	requireBigEqual(t, "harvest index frozen", syncedPool.HarvestIndex, pool.HarvestIndex)
	if pool.LastAccrualUnix != syncedPool.LastAccrualUnix {
		t.Fatalf("accrual clock moved: want %d, got %d", syncedPool.LastAccrualUnix, pool.LastAccrualUnix)
	}

	// Debts rebaseline against the stale accumulators, forfeiting the
	// unsettled accrual.
	position := env.state.positions[addressBytes(aliceAddr)]
	remaining := new(big.Int).Mul(wad, big.NewInt(2))
	requireBigEqual(t, "remaining principal", remaining, position.Principal)
	requireBigEqual(t, "stale emission debt", wadShare(remaining, syncedPool.EmissionIndex), position.EmissionDebt)

	// Only principal moved, no reward settlement.
	requireBigEqual(t, "returned principal only", wad, env.principal.balance(aliceAddr))
	for _, event := range env.emitter.events[emittedBefore:] {
		if event.EventType() == events.TypeYieldRewardsSettled {
			t.Fatal("pause withdraw settled rewards")
		}
	}
}

func TestPauseWithdrawValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundPrincipal(aliceAddr, copyBigInt(wad))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))
	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}

	if _, err := env.engine.PauseWithdraw(aliceAddr, big.NewInt(0)); !errors.Is(err, ErrZeroAmount) {
		t.Fatalf("zero amount: want ErrZeroAmount, got %v", err)
	}
	over := new(big.Int).Add(wad, big.NewInt(1))
	if _, err := env.engine.PauseWithdraw(aliceAddr, over); !errors.Is(err, ErrInsufficientPrincipal) {
		t.Fatalf("excess: want ErrInsufficientPrincipal, got %v", err)
	}
}

func TestPauseWithdrawDustUpgrade(t *testing.T) {
	env := newTestEnv(t, nil, func(p *Params) { p.MinimumStake = copyBigInt(defaultMinimumStake) })
	staked := new(big.Int).Mul(wad, big.NewInt(2))
	env.fundPrincipal(aliceAddr, staked)
	env.mustStake(t, aliceAddr, aliceAddr, staked)
	if err := env.engine.Pause(pauserAddr); err != nil {
		t.Fatalf("pause: %v", err)
	}

	requested := new(big.Int).Mul(wad, big.NewInt(3))
	requested.Quo(requested, big.NewInt(2))
	receipt, err := env.engine.PauseWithdraw(aliceAddr, requested)
	if err != nil {
		t.Fatalf("pause withdraw: %v", err)
	}
	if !receipt.DustUpgraded {
		t.Fatal("dust remainder did not upgrade to a full exit")
	}
	requireBigEqual(t, "withdrawn", staked, receipt.Withdrawn)
	requireBigEqual(t, "principal", big.NewInt(0), receipt.Principal)
}

func TestEmergencyTransferSweepsAndPauses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundPrincipal(aliceAddr, copyBigInt(wad))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))
	env.fundReward(sourceAddr, big.NewInt(700))
	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(700)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if _, err := env.engine.EmergencyTransfer(aliceAddr, treasuryAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner sweep: want ErrUnauthorized, got %v", err)
	}

	receipt, err := env.engine.EmergencyTransfer(ownerAddr, treasuryAddr)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	requireBigEqual(t, "swept principal", wad, receipt.Principal)
	requireBigEqual(t, "swept rewards", big.NewInt(700), receipt.Rewards)
	requireBigEqual(t, "treasury principal", wad, env.principal.balance(treasuryAddr))
	requireBigEqual(t, "treasury rewards", big.NewInt(700), env.reward.balance(treasuryAddr))
	if env.principal.module.Sign() != 0 || env.reward.module.Sign() != 0 {
		t.Fatal("module balances not drained")
	}
	if !env.state.paused {
		t.Fatal("sweep did not force a pause")
	}

	// The escape hatch now fails on funds, not on accounting.
	if _, err := env.engine.PauseWithdraw(aliceAddr, copyBigInt(wad)); !errors.Is(err, errInsufficientFunds) {
		t.Fatalf("post-sweep withdraw: want errInsufficientFunds, got %v", err)
	}
}

func TestEmergencyTransferSharedPotSweepsOnce(t *testing.T) {
	env := newSharedPotEnv(t, SmoothedModel{})
	env.fundPrincipal(aliceAddr, copyBigInt(wad))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))
	env.fundPrincipal(sourceAddr, big.NewInt(300))
	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(300)); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	receipt, err := env.engine.EmergencyTransfer(ownerAddr, treasuryAddr)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	// One shared balance: the principal-side sweep drains everything and the
	// reward-side sweep finds nothing left.
	want := new(big.Int).Add(wad, big.NewInt(300))
	requireBigEqual(t, "swept total", want, receipt.Principal)
	requireBigEqual(t, "reward leg empty", big.NewInt(0), receipt.Rewards)
	requireBigEqual(t, "treasury balance", want, env.principal.balance(treasuryAddr))
}

func TestEmergencyTransferRejectsZeroRecipient(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.EmergencyTransfer(ownerAddr, crypto.Address{}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero recipient: want ErrInvalidAddress, got %v", err)
	}
}
