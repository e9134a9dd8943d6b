package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Genesis describes the initial ledger state applied on the daemon's first
// boot: token registrations, seeded balances, and the yield module's
// configuration.
type Genesis struct {
	NetworkName string           `yaml:"networkName"`
	Tokens      []GenesisToken   `yaml:"tokens"`
	Balances    []GenesisBalance `yaml:"balances"`
	Yield       GenesisYield     `yaml:"yield"`
}

// GenesisToken registers a native token at genesis.
type GenesisToken struct {
	Symbol   string `yaml:"symbol"`
	Name     string `yaml:"name"`
	Decimals uint8  `yaml:"decimals"`
	// ModuleMint grants the yield module account mint authority over the
	// token. The emission stream requires it on the principal token.
	ModuleMint bool `yaml:"moduleMint"`
}

// GenesisBalance seeds one account balance.
type GenesisBalance struct {
	Address string `yaml:"address"`
	Token   string `yaml:"token"`
	Amount  string `yaml:"amount"`
}

// GenesisYield configures the yield engine.
type GenesisYield struct {
	Owner            string `yaml:"owner"`
	Pauser           string `yaml:"pauser"`
	RewardSource     string `yaml:"rewardSource"`
	TargetBps        uint64 `yaml:"targetBps"`
	MinimumStake     string `yaml:"minimumStake"`
	SharedPotToken   bool   `yaml:"sharedPotToken"`
	RateModel        string `yaml:"rateModel"`
	Alpha            string `yaml:"alpha"`
	DepletionSeconds uint64 `yaml:"depletionSeconds"`
}

// LoadGenesis reads and validates a genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis file: %w", err)
	}
	gen := &Genesis{}
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(gen); err != nil {
		return nil, fmt.Errorf("parse genesis file %s: %w", path, err)
	}
	if err := gen.Validate(); err != nil {
		return nil, fmt.Errorf("genesis file %s: %w", path, err)
	}
	return gen, nil
}

// Validate normalizes token symbols and rejects configurations the ledger
// cannot apply.
func (g *Genesis) Validate() error {
	if g == nil {
		return fmt.Errorf("genesis must not be empty")
	}
	if len(g.Tokens) == 0 {
		return fmt.Errorf("at least one token must be registered")
	}
	seen := make(map[string]struct{}, len(g.Tokens))
	for i := range g.Tokens {
		token := &g.Tokens[i]
		token.Symbol = strings.ToUpper(strings.TrimSpace(token.Symbol))
		if token.Symbol == "" {
			return fmt.Errorf("token %d: symbol required", i)
		}
		if strings.TrimSpace(token.Name) == "" {
			return fmt.Errorf("token %s: name required", token.Symbol)
		}
		if _, dup := seen[token.Symbol]; dup {
			return fmt.Errorf("token %s registered twice", token.Symbol)
		}
		seen[token.Symbol] = struct{}{}
	}
	for i := range g.Balances {
		balance := &g.Balances[i]
		balance.Token = strings.ToUpper(strings.TrimSpace(balance.Token))
		if _, ok := seen[balance.Token]; !ok {
			return fmt.Errorf("balance %d: token %s not registered", i, balance.Token)
		}
		if strings.TrimSpace(balance.Address) == "" {
			return fmt.Errorf("balance %d: address required", i)
		}
		if _, err := parseGenesisAmount(balance.Amount); err != nil {
			return fmt.Errorf("balance %d: %w", i, err)
		}
	}
	if strings.TrimSpace(g.Yield.Owner) == "" {
		return fmt.Errorf("yield.owner required")
	}
	switch strings.TrimSpace(g.Yield.RateModel) {
	case "", "smoothed", "depleting":
	default:
		return fmt.Errorf("yield.rateModel must be smoothed or depleting")
	}
	if g.Yield.MinimumStake != "" {
		if _, err := parseGenesisAmount(g.Yield.MinimumStake); err != nil {
			return fmt.Errorf("yield.minimumStake: %w", err)
		}
	}
	if g.Yield.Alpha != "" {
		if _, err := parseGenesisAmount(g.Yield.Alpha); err != nil {
			return fmt.Errorf("yield.alpha: %w", err)
		}
	}
	return nil
}

func parseGenesisAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

// Amount returns the parsed balance amount. Validate must have succeeded.
func (b GenesisBalance) AmountBig() *big.Int {
	value, _ := parseGenesisAmount(b.Amount)
	return value
}
