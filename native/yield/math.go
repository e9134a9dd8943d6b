package yield

import (
	"fmt"
	"math/big"
)

const (
	// secondsPerYear converts an annual basis-point target into a per-second rate.
	secondsPerYear = 31_536_000
	// ProposalWindow bounds, in sequence numbers, how far behind a pending
	// target-yield proposal may trail before it must be re-proposed.
	ProposalWindow uint64 = 100
	// MaxTargetBps caps the annual emission target a proposal may carry.
	MaxTargetBps uint64 = 100_000
	// defaultDepletionSeconds spreads a depleting reward pot over one week.
	defaultDepletionSeconds uint64 = 604_800
)

var (
	wad         = mustBigInt("1000000000000000000")
	basisPoints = big.NewInt(10_000)
	// defaultMinimumStake keeps dust positions out of the pool when genesis
	// does not configure a floor.
	defaultMinimumStake = mustBigInt("1000000000000000000")
	// defaultAlpha weights the newest delivery at 0.2 in the smoothed model.
	defaultAlpha = mustBigInt("200000000000000000")
)

func mustBigInt(value string) *big.Int {
	parsed, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic(fmt.Sprintf("yield: invalid big integer constant %q", value))
	}
	return parsed
}

func copyBigInt(value *big.Int) *big.Int {
	if value == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(value)
}

// mulDiv returns floor(a*b/denominator) and zero when the denominator is zero.
// Accumulator arithmetic always rounds down.
func mulDiv(a, b, denominator *big.Int) *big.Int {
	if a == nil || b == nil || denominator == nil || denominator.Sign() == 0 {
		return big.NewInt(0)
	}
	product := new(big.Int).Mul(a, b)
	return product.Quo(product, denominator)
}

// wadShare returns floor(amount*index/1e18), the settled entitlement of a
// principal amount against a wad-scaled accumulator.
func wadShare(amount, index *big.Int) *big.Int {
	return mulDiv(amount, index, wad)
}

// computeEmissionRate derives the per-second emission stream in wei from the
// staked principal and the annual target expressed in basis points.
func computeEmissionRate(totalStaked *big.Int, targetBps uint64) *big.Int {
	if totalStaked == nil || totalStaked.Sign() <= 0 || targetBps == 0 {
		return big.NewInt(0)
	}
	annual := new(big.Int).Mul(totalStaked, new(big.Int).SetUint64(targetBps))
	annual.Quo(annual, basisPoints)
	return annual.Quo(annual, big.NewInt(secondsPerYear))
}

func minBigInt(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}
