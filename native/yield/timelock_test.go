package yield

import (
	"errors"
	"math/big"
	"testing"

	"granary/crypto"
)

func TestEvaluateTimelock(t *testing.T) {
	cases := []struct {
		name    string
		pending *PendingChange
		value   uint64
		seq     uint64
		want    timelockAction
	}{
		{name: "idle state proposes", pending: nil, value: 500, seq: 5, want: timelockPropose},
		{name: "inactive record proposes", pending: &PendingChange{TargetBps: 500, Sequence: 5}, value: 500, seq: 6, want: timelockPropose},
		{name: "different value restarts", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 600, seq: 6, want: timelockPropose},
		{name: "same sequence holds", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 500, seq: 5, want: timelockHold},
		{name: "next sequence commits", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 500, seq: 6, want: timelockCommit},
		{name: "window boundary commits", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 500, seq: 105, want: timelockCommit},
		{name: "expired window restarts", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 500, seq: 106, want: timelockPropose},
		{name: "earlier sequence restarts", pending: &PendingChange{TargetBps: 500, Sequence: 5, Active: true}, value: 500, seq: 3, want: timelockPropose},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := evaluateTimelock(tc.pending, tc.value, tc.seq); got != tc.want {
				t.Fatalf("want action %d, got %d", tc.want, got)
			}
		})
	}
}

func TestProposeThenCommit(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seq = 5

	first, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if first.Status != ProposalStatusProposed {
		t.Fatalf("first call status: %q", first.Status)
	}
	if env.state.params.TargetBps != 500 {
		t.Fatalf("proposal applied immediately: %d", env.state.params.TargetBps)
	}

	env.seq = 6
	second, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if second.Status != ProposalStatusCommitted {
		t.Fatalf("second call status: %q", second.Status)
	}
	if env.state.params.TargetBps != 900 {
		t.Fatalf("target not committed: %d", env.state.params.TargetBps)
	}
	pending, err := env.engine.PendingChangeOf()
	if err != nil {
		t.Fatalf("pending change: %v", err)
	}
	if pending != nil {
		t.Fatalf("timelock not cleared: %+v", pending)
	}
}

func TestProposeRepeatSameSequenceHolds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seq = 5

	if _, err := env.engine.ProposeTargetBps(ownerAddr, 900); err != nil {
		t.Fatalf("propose: %v", err)
	}
	repeat, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if repeat.Status != ProposalStatusPending {
		t.Fatalf("same-sequence repeat status: %q", repeat.Status)
	}
	if env.state.params.TargetBps != 500 {
		t.Fatalf("same-sequence repeat committed: %d", env.state.params.TargetBps)
	}
	pending, err := env.engine.PendingChangeOf()
	if err != nil {
		t.Fatalf("pending change: %v", err)
	}
	if pending == nil || pending.Sequence != 5 {
		t.Fatalf("proposal anchor moved: %+v", pending)
	}
}

func TestProposeExpiredWindowReproposes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seq = 5
	if _, err := env.engine.ProposeTargetBps(ownerAddr, 900); err != nil {
		t.Fatalf("propose: %v", err)
	}

	env.seq = 106
	receipt, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("expired repeat: %v", err)
	}
	if receipt.Status != ProposalStatusProposed {
		t.Fatalf("expired window status: %q", receipt.Status)
	}
	if env.state.params.TargetBps != 500 {
		t.Fatalf("expired proposal committed: %d", env.state.params.TargetBps)
	}
	if env.state.pending.Sequence != 106 {
		t.Fatalf("restarted proposal anchored at %d", env.state.pending.Sequence)
	}

	// The re-anchored proposal commits normally on confirmation.
	env.seq = 107
	confirmed, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if confirmed.Status != ProposalStatusCommitted {
		t.Fatalf("confirmation status: %q", confirmed.Status)
	}
}

func TestProposeWindowBoundaryCommits(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seq = 5
	if _, err := env.engine.ProposeTargetBps(ownerAddr, 900); err != nil {
		t.Fatalf("propose: %v", err)
	}

	env.seq = 105
	receipt, err := env.engine.ProposeTargetBps(ownerAddr, 900)
	if err != nil {
		t.Fatalf("boundary commit: %v", err)
	}
	if receipt.Status != ProposalStatusCommitted {
		t.Fatalf("boundary status: %q", receipt.Status)
	}
	if env.state.params.TargetBps != 900 {
		t.Fatalf("boundary commit missed: %d", env.state.params.TargetBps)
	}
}

func TestProposeDifferentValueRestarts(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seq = 5
	if _, err := env.engine.ProposeTargetBps(ownerAddr, 900); err != nil {
		t.Fatalf("propose: %v", err)
	}

	env.seq = 6
	receipt, err := env.engine.ProposeTargetBps(ownerAddr, 700)
	if err != nil {
		t.Fatalf("replacement propose: %v", err)
	}
	if receipt.Status != ProposalStatusProposed {
		t.Fatalf("replacement status: %q", receipt.Status)
	}
	if env.state.pending.TargetBps != 700 || env.state.pending.Sequence != 6 {
		t.Fatalf("replacement anchor: %+v", env.state.pending)
	}
	if env.state.params.TargetBps != 500 {
		t.Fatalf("replacement committed: %d", env.state.params.TargetBps)
	}
}

func TestProposeGuards(t *testing.T) {
	env := newTestEnv(t, nil)
	if _, err := env.engine.ProposeTargetBps(aliceAddr, 900); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-owner: want ErrUnauthorized, got %v", err)
	}
	if _, err := env.engine.ProposeTargetBps(ownerAddr, MaxTargetBps+1); !errors.Is(err, ErrParameterOutOfRange) {
		t.Fatalf("over cap: want ErrParameterOutOfRange, got %v", err)
	}
	if _, err := env.engine.ProposeTargetBps(crypto.Address{}, 900); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("zero caller: want ErrInvalidAddress, got %v", err)
	}
}

func TestCommitSyncsAtOutgoingRate(t *testing.T) {
	env := newTestEnv(t, nil, func(p *Params) { p.TargetBps = 10_000 })
	env.fundPrincipal(aliceAddr, copyBigInt(wad))
	env.mustStake(t, aliceAddr, aliceAddr, copyBigInt(wad))

	oldRate := expectedEmissionRate(wad, 10_000)
	newRate := expectedEmissionRate(wad, 5_000)

	env.now += 100
	env.seq = 5
	if _, err := env.engine.ProposeTargetBps(ownerAddr, 5_000); err != nil {
		t.Fatalf("propose: %v", err)
	}
	env.seq = 6
	if _, err := env.engine.ProposeTargetBps(ownerAddr, 5_000); err != nil {
		t.Fatalf("commit: %v", err)
	}
	requireBigEqual(t, "recomputed emission rate", newRate, env.state.pool.EmissionRate)

	env.now += 100
	pending, err := env.engine.PendingRewardsOf(aliceAddr)
	if err != nil {
		t.Fatalf("pending rewards: %v", err)
	}
	// 100 s at the outgoing rate and 100 s at the committed one.
	want := new(big.Int).Mul(oldRate, big.NewInt(100))
	want.Add(want, new(big.Int).Mul(newRate, big.NewInt(100)))
	requireBigEqual(t, "rate change applies forward only", want, pending.Emission)
}
