package yield

import (
	"errors"
	"math/big"
	"testing"
)

func TestSetAlpha(t *testing.T) {
	env := newTestEnv(t, SmoothedModel{})

	if err := env.engine.SetAlpha(aliceAddr, big.NewInt(1)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetAlpha(ownerAddr, big.NewInt(0)); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("zero alpha: want ErrParameterOutOfRange, got %v", err)
	}
	over := new(big.Int).Add(wad, big.NewInt(1))
	if err := env.engine.SetAlpha(ownerAddr, over); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("alpha above one: want ErrParameterOutOfRange, got %v", err)
	}

	half := new(big.Int).Quo(copyBigInt(wad), big.NewInt(2))
	if err := env.engine.SetAlpha(ownerAddr, half); err != nil {
		t.Fatalf("set alpha: %v", err)
	}
	requireBigEqual(t, "stored alpha", half, env.state.model.Alpha)

	// alpha 0.5: first delivery seeds 10 wei/s, the second folds to
	// 0.5*20 + 0.5*10 = 15 wei/s.
	env.fundReward(sourceAddr, big.NewInt(300))
	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(100)); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(200)); err != nil {
		t.Fatalf("second deliver: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(15), wad)
	requireBigEqual(t, "folded with updated alpha", want, env.state.model.SmoothedRate)
}

func TestSetAlphaRequiresSmoothedModel(t *testing.T) {
	env := newTestEnv(t, DepletingModel{})
	if err := env.engine.SetAlpha(ownerAddr, copyBigInt(defaultAlpha)); !errors.Is(err, ErrRateModelMismatch) {
		t.Fatalf("want ErrRateModelMismatch, got %v", err)
	}
}

func TestSetDepletionDuration(t *testing.T) {
	env := newTestEnv(t, DepletingModel{})
	env.fundReward(sourceAddr, big.NewInt(604_800_000))
	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(604_800_000)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	// 604.8M wei over the default week is exactly 1000 wei/s.
	want := new(big.Int).Mul(big.NewInt(1_000), wad)
	requireBigEqual(t, "initial rate", want, env.state.model.HarvestRate)

	if err := env.engine.SetDepletionDuration(aliceAddr, 302_400); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetDepletionDuration(ownerAddr, 0); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("zero duration: want ErrParameterOutOfRange, got %v", err)
	}

	if err := env.engine.SetDepletionDuration(ownerAddr, 302_400); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if env.state.model.DepletionSeconds != 302_400 {
		t.Fatalf("stored duration: %d", env.state.model.DepletionSeconds)
	}
	// Halving the horizon doubles the payout rate for the same balance.
	want = new(big.Int).Mul(big.NewInt(2_000), wad)
	requireBigEqual(t, "recomputed rate", want, env.state.model.HarvestRate)
}

func TestSetDepletionDurationRequiresDepletingModel(t *testing.T) {
	env := newTestEnv(t, SmoothedModel{})
	if err := env.engine.SetDepletionDuration(ownerAddr, 302_400); !errors.Is(err, ErrRateModelMismatch) {
		t.Fatalf("want ErrRateModelMismatch, got %v", err)
	}
}

func TestSetRewardSourceRotatesAuthority(t *testing.T) {
	env := newTestEnv(t, nil)
	env.fundReward(sourceAddr, big.NewInt(100))
	env.fundReward(bobAddr, big.NewInt(100))

	if err := env.engine.SetRewardSource(aliceAddr, bobAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: want ErrUnauthorized, got %v", err)
	}
	if err := env.engine.SetRewardSource(ownerAddr, bobAddr); err != nil {
		t.Fatalf("set source: %v", err)
	}

	env.now += 10
	if _, err := env.engine.DeliverReward(sourceAddr, big.NewInt(100)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old source still authorized: %v", err)
	}
	if _, err := env.engine.DeliverReward(bobAddr, big.NewInt(100)); err != nil {
		t.Fatalf("new source rejected: %v", err)
	}
}

func TestSetPauserRotatesAuthority(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.SetPauser(ownerAddr, bobAddr); err != nil {
		t.Fatalf("set pauser: %v", err)
	}
	if err := env.engine.Pause(pauserAddr); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("old pauser still authorized: %v", err)
	}
	if err := env.engine.Pause(bobAddr); err != nil {
		t.Fatalf("new pauser rejected: %v", err)
	}
}

func TestParamsValidate(t *testing.T) {
	valid := &Params{
		Owner:        append([]byte(nil), ownerAddr.Bytes()...),
		TargetBps:    500,
		MinimumStake: big.NewInt(1),
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid params rejected: %v", err)
	}
	missingOwner := &Params{TargetBps: 500}
	if err := missingOwner.Validate(); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("missing owner: want ErrInvalidAddress, got %v", err)
	}
	overCap := &Params{Owner: append([]byte(nil), ownerAddr.Bytes()...), TargetBps: MaxTargetBps + 1}
	if err := overCap.Validate(); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("over cap: want ErrParameterOutOfRange, got %v", err)
	}
	badMinimum := &Params{Owner: append([]byte(nil), ownerAddr.Bytes()...), MinimumStake: big.NewInt(0)}
	if err := badMinimum.Validate(); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("zero minimum: want ErrParameterOutOfRange, got %v", err)
	}
}
