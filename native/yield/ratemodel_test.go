package yield

import (
	"errors"
	"math/big"
	"testing"
)

func newSmoothedState(startUnix uint64, alpha *big.Int) *RateModelState {
	return ensureRateModel(&RateModelState{
		Kind:          RateModelSmoothed,
		LastEventUnix: startUnix,
		Alpha:         alpha,
	}, RateModelSmoothed, startUnix)
}

func newDepletingState(startUnix, depletionSeconds uint64) *RateModelState {
	return ensureRateModel(&RateModelState{
		Kind:             RateModelDepleting,
		LastEventUnix:    startUnix,
		DepletionSeconds: depletionSeconds,
	}, RateModelDepleting, startUnix)
}

func TestSmoothedFirstDeliverySeedsInstantRate(t *testing.T) {
	start := uint64(1_000)
	state := newSmoothedState(start, copyBigInt(defaultAlpha))

	if err := (SmoothedModel{}).Deliver(state, big.NewInt(100), start+10); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	// 100 wei over 10 s seeds the average at exactly 10 wei/s.
	want := new(big.Int).Mul(big.NewInt(10), wad)
	requireBigEqual(t, "seeded rate", want, state.SmoothedRate)
	if !state.Seeded {
		t.Fatal("state not marked seeded")
	}
	if state.LastEventUnix != start+10 {
		t.Fatalf("last event: want %d, got %d", start+10, state.LastEventUnix)
	}
}

func TestSmoothedSecondDeliveryMovesBetween(t *testing.T) {
	start := uint64(1_000)
	state := newSmoothedState(start, copyBigInt(defaultAlpha))
	model := SmoothedModel{}

	if err := model.Deliver(state, big.NewInt(100), start+10); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	previous := copyBigInt(state.SmoothedRate)
	if err := model.Deliver(state, big.NewInt(200), start+20); err != nil {
		t.Fatalf("second deliver: %v", err)
	}

	instant := new(big.Int).Mul(big.NewInt(20), wad)
	if state.SmoothedRate.Cmp(previous) <= 0 || state.SmoothedRate.Cmp(instant) >= 0 {
		t.Fatalf("smoothed rate %s not strictly between %s and %s", state.SmoothedRate, previous, instant)
	}
	// alpha 0.2: 0.2*20 + 0.8*10 = 12 wei/s.
	want := new(big.Int).Mul(big.NewInt(12), wad)
	requireBigEqual(t, "folded rate", want, state.SmoothedRate)
}

func TestSmoothedSameInstantRejected(t *testing.T) {
	start := uint64(1_000)
	state := newSmoothedState(start, copyBigInt(defaultAlpha))
	model := SmoothedModel{}

	if err := model.Deliver(state, big.NewInt(100), start+10); err != nil {
		t.Fatalf("first deliver: %v", err)
	}
	before := state.Clone()
	if err := model.Deliver(state, big.NewInt(50), start+10); !errors.Is(err, ErrSameInstantDelivery) {
		t.Fatalf("want ErrSameInstantDelivery, got %v", err)
	}
	requireBigEqual(t, "rate unchanged", before.SmoothedRate, state.SmoothedRate)
	if state.LastEventUnix != before.LastEventUnix {
		t.Fatal("rejected delivery advanced the event clock")
	}
}

func TestSmoothedDistributedIsNoop(t *testing.T) {
	start := uint64(1_000)
	state := newSmoothedState(start, copyBigInt(defaultAlpha))
	if err := (SmoothedModel{}).Deliver(state, big.NewInt(100), start+10); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	before := state.Clone()
	(SmoothedModel{}).Distributed(state, big.NewInt(40))
	requireBigEqual(t, "rate unchanged", before.SmoothedRate, state.SmoothedRate)
}

func TestDepletingRateSpreadsBalanceOverHorizon(t *testing.T) {
	state := newDepletingState(0, 604_800)
	if err := (DepletingModel{}).Deliver(state, big.NewInt(100), 50); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	want := new(big.Int).Mul(big.NewInt(100), wad)
	want.Quo(want, big.NewInt(604_800))
	requireBigEqual(t, "depletion rate", want, state.HarvestRate)
	requireBigEqual(t, "tracked balance", big.NewInt(100), state.RewardBalance)
}

func TestDepletingSplitDeliveriesMatchLumpSum(t *testing.T) {
	model := DepletingModel{}
	split := newDepletingState(0, 604_800)
	lump := newDepletingState(0, 604_800)

	for i := 0; i < 10; i++ {
		if err := model.Deliver(split, big.NewInt(10), uint64(i)); err != nil {
			t.Fatalf("split deliver %d: %v", i, err)
		}
	}
	if err := model.Deliver(lump, big.NewInt(100), 9); err != nil {
		t.Fatalf("lump deliver: %v", err)
	}

	requireBigEqual(t, "balance", lump.RewardBalance, split.RewardBalance)
	requireBigEqual(t, "rate", lump.HarvestRate, split.HarvestRate)
}

func TestDepletingDistributedReducesBalanceAndRate(t *testing.T) {
	model := DepletingModel{}
	state := newDepletingState(0, 1_000)
	if err := model.Deliver(state, big.NewInt(100_000), 5); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	model.Distributed(state, big.NewInt(30_000))
	requireBigEqual(t, "balance after payout", big.NewInt(70_000), state.RewardBalance)
	want := new(big.Int).Mul(big.NewInt(70_000), wad)
	want.Quo(want, big.NewInt(1_000))
	requireBigEqual(t, "recomputed rate", want, state.HarvestRate)

	// Paying out more than tracked clamps to zero instead of going negative.
	model.Distributed(state, big.NewInt(1_000_000))
	requireBigEqual(t, "clamped balance", big.NewInt(0), state.RewardBalance)
	requireBigEqual(t, "clamped rate", big.NewInt(0), state.HarvestRate)
}

func TestEnsureRateModelHydratesDefaults(t *testing.T) {
	state := ensureRateModel(nil, RateModelSmoothed, 42)
	if state.Kind != RateModelSmoothed {
		t.Fatalf("kind: %q", state.Kind)
	}
	if state.LastEventUnix != 42 {
		t.Fatalf("last event: %d", state.LastEventUnix)
	}
	requireBigEqual(t, "default alpha", defaultAlpha, state.Alpha)
	if state.DepletionSeconds != defaultDepletionSeconds {
		t.Fatalf("depletion seconds: %d", state.DepletionSeconds)
	}
}

func TestEnsureRateModelStampsZeroClock(t *testing.T) {
	// Configured-but-undelivered records (a genesis document that sets the
	// model kind) carry a zero clock; loading one must stamp the engine
	// clock so the first delivery measures elapsed time from boot rather
	// than from the Unix epoch.
	state := ensureRateModel(&RateModelState{Kind: RateModelSmoothed}, RateModelSmoothed, 1_700_000_000)
	if state.LastEventUnix != 1_700_000_000 {
		t.Fatalf("last event: want 1700000000, got %d", state.LastEventUnix)
	}

	// A record that already saw a delivery keeps its own clock.
	state = ensureRateModel(&RateModelState{Kind: RateModelSmoothed, LastEventUnix: 500}, RateModelSmoothed, 1_700_000_000)
	if state.LastEventUnix != 500 {
		t.Fatalf("last event: want 500, got %d", state.LastEventUnix)
	}
}

func TestModelForKind(t *testing.T) {
	if kind := modelForKind(RateModelDepleting).Kind(); kind != RateModelDepleting {
		t.Fatalf("depleting lookup returned %q", kind)
	}
	if kind := modelForKind(RateModelSmoothed).Kind(); kind != RateModelSmoothed {
		t.Fatalf("smoothed lookup returned %q", kind)
	}
	if kind := modelForKind("").Kind(); kind != RateModelSmoothed {
		t.Fatalf("unknown kind fell back to %q", kind)
	}
}
