package state

import (
	"fmt"
	"math/big"
	"strings"

	"granary/config"
	"granary/crypto"
	"granary/native/yield"
)

var genesisAppliedKey = []byte("sys/genesis-applied")

// YieldModuleName names the module account holding staked principal and the
// reward pot.
const YieldModuleName = "yield"

// GenesisApplied reports whether a genesis document was already imported.
func (m *Manager) GenesisApplied() (bool, error) {
	var applied bool
	ok, err := m.KVGet(genesisAppliedKey, &applied)
	if err != nil {
		return false, err
	}
	return ok && applied, nil
}

// ApplyGenesis seeds tokens, balances, and the yield module configuration
// from a validated genesis document. Applying twice is rejected so a restart
// cannot re-mint seeded balances.
func (m *Manager) ApplyGenesis(gen *config.Genesis) error {
	if gen == nil {
		return fmt.Errorf("genesis: document must not be nil")
	}
	applied, err := m.GenesisApplied()
	if err != nil {
		return err
	}
	if applied {
		return fmt.Errorf("genesis: already applied")
	}

	module := crypto.ModuleAddress(YieldModuleName)
	for _, token := range gen.Tokens {
		if err := m.RegisterToken(token.Symbol, token.Name, token.Decimals); err != nil {
			return err
		}
		if token.ModuleMint {
			if err := m.SetTokenMintAuthority(token.Symbol, module.Bytes()); err != nil {
				return err
			}
		}
	}
	for _, balance := range gen.Balances {
		addr, err := crypto.DecodeAddress(balance.Address)
		if err != nil {
			return fmt.Errorf("genesis: balance address %s: %w", balance.Address, err)
		}
		amount := balance.AmountBig()
		if err := m.SetBalance(addr.Bytes(), balance.Token, amount); err != nil {
			return err
		}
		if _, err := m.AdjustTokenSupply(balance.Token, amount); err != nil {
			return err
		}
	}

	params, err := yieldParamsFromGenesis(&gen.Yield)
	if err != nil {
		return err
	}
	if err := m.YieldPutParams(params); err != nil {
		return err
	}
	if model := rateModelFromGenesis(&gen.Yield); model != nil {
		if err := m.YieldPutRateModel(model); err != nil {
			return err
		}
	}
	return m.KVPut(genesisAppliedKey, true)
}

func yieldParamsFromGenesis(gen *config.GenesisYield) (*yield.Params, error) {
	owner, err := crypto.DecodeAddress(strings.TrimSpace(gen.Owner))
	if err != nil {
		return nil, fmt.Errorf("genesis: yield.owner: %w", err)
	}
	params := &yield.Params{
		Owner:     owner.Bytes(),
		TargetBps: gen.TargetBps,
		SharedPot: gen.SharedPotToken,
	}
	if trimmed := strings.TrimSpace(gen.Pauser); trimmed != "" {
		pauser, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return nil, fmt.Errorf("genesis: yield.pauser: %w", err)
		}
		params.Pauser = pauser.Bytes()
	}
	if trimmed := strings.TrimSpace(gen.RewardSource); trimmed != "" {
		source, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			return nil, fmt.Errorf("genesis: yield.rewardSource: %w", err)
		}
		params.RewardSource = source.Bytes()
	}
	if trimmed := strings.TrimSpace(gen.MinimumStake); trimmed != "" {
		minimum, ok := new(big.Int).SetString(trimmed, 10)
		if !ok {
			return nil, fmt.Errorf("genesis: yield.minimumStake: invalid amount %q", gen.MinimumStake)
		}
		params.MinimumStake = minimum
	}
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("genesis: yield params: %w", err)
	}
	return params, nil
}

func rateModelFromGenesis(gen *config.GenesisYield) *yield.RateModelState {
	kind := strings.TrimSpace(gen.RateModel)
	if kind == "" && gen.Alpha == "" && gen.DepletionSeconds == 0 {
		return nil
	}
	state := &yield.RateModelState{Kind: kind}
	if trimmed := strings.TrimSpace(gen.Alpha); trimmed != "" {
		if alpha, ok := new(big.Int).SetString(trimmed, 10); ok {
			state.Alpha = alpha
		}
	}
	state.DepletionSeconds = gen.DepletionSeconds
	return state
}
