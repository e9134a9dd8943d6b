package yield

import "errors"

var (
	errNilState          = errors.New("yield engine: state not configured")
	errNilLedger         = errors.New("yield engine: token ledgers not configured")
	errParamsNotSet      = errors.New("yield engine: parameters not configured")
	errInsufficientPot   = errors.New("yield engine: reward pot underfunded")
	errInsufficientFunds = errors.New("yield engine: module principal underfunded")
)

// Validation failures surfaced to callers. Every sentinel is checked before
// any state mutation so a rejected transition leaves nothing behind.
var (
	// ErrInvalidAddress rejects zero or malformed account addresses.
	ErrInvalidAddress = errors.New("yield engine: invalid address")
	// ErrParameterOutOfRange rejects alpha, duration, and target-yield bounds violations.
	ErrParameterOutOfRange = errors.New("yield engine: parameter out of range")
	// ErrUnauthorized rejects a gated action from the wrong caller.
	ErrUnauthorized = errors.New("yield engine: unauthorized")
	// ErrZeroAmount rejects nil, zero, or negative amounts.
	ErrZeroAmount = errors.New("yield engine: amount must be positive")
	// ErrBelowMinimumStake rejects stakes smaller than the configured minimum.
	ErrBelowMinimumStake = errors.New("yield engine: stake below minimum")
	// ErrInsufficientPrincipal rejects withdrawals exceeding the staked principal.
	ErrInsufficientPrincipal = errors.New("yield engine: insufficient principal")
	// ErrInsufficientBalance rejects transfers the payer cannot fund.
	ErrInsufficientBalance = errors.New("yield engine: insufficient balance")
	// ErrSameInstantDelivery rejects a smoothed-model delivery repeated at an identical timestamp.
	ErrSameInstantDelivery = errors.New("yield engine: delivery repeated at same instant")
	// ErrRateModelMismatch rejects a parameter update aimed at the inactive rate model.
	ErrRateModelMismatch = errors.New("yield engine: parameter not supported by active rate model")
	// ErrNotPaused rejects the paused-only escape hatch while the module is live.
	ErrNotPaused = errors.New("yield engine: module not paused")
)
