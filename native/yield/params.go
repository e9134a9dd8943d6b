package yield

import "math/big"

// Params carries the governance-owned configuration of the module. Addresses
// are stored as raw 20-byte payloads so the record stays codec-friendly.
type Params struct {
	Owner        []byte
	Pauser       []byte
	RewardSource []byte
	TargetBps    uint64
	MinimumStake *big.Int
	SharedPot    bool
}

// Validate rejects parameter sets that would brick the module.
func (p *Params) Validate() error {
	if p == nil {
		return errParamsNotSet
	}
	if len(p.Owner) != addressLength || allZero(p.Owner) {
		return ErrInvalidAddress
	}
	if len(p.Pauser) != 0 && len(p.Pauser) != addressLength {
		return ErrInvalidAddress
	}
	if len(p.RewardSource) != 0 && len(p.RewardSource) != addressLength {
		return ErrInvalidAddress
	}
	if p.TargetBps > MaxTargetBps {
		return ErrParameterOutOfRange
	}
	if p.MinimumStake != nil && p.MinimumStake.Sign() <= 0 {
		return ErrParameterOutOfRange
	}
	return nil
}

func ensureParams(params *Params) *Params {
	if params == nil {
		return nil
	}
	if params.MinimumStake == nil {
		params.MinimumStake = copyBigInt(defaultMinimumStake)
	}
	return params
}

// Clone returns a deep copy safe to hand to read-only callers.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := &Params{
		TargetBps:    p.TargetBps,
		MinimumStake: copyBigInt(p.MinimumStake),
		SharedPot:    p.SharedPot,
	}
	clone.Owner = append([]byte(nil), p.Owner...)
	clone.Pauser = append([]byte(nil), p.Pauser...)
	clone.RewardSource = append([]byte(nil), p.RewardSource...)
	return clone
}

const addressLength = 20

func allZero(raw []byte) bool {
	for _, b := range raw {
		if b != 0 {
			return false
		}
	}
	return true
}
