package state

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"granary/config"
	"granary/crypto"
	"granary/storage"
)

func genesisAddr(t *testing.T, last byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = last
	return crypto.MustNewAccountAddress(raw)
}

func testGenesis(t *testing.T) *config.Genesis {
	t.Helper()
	owner := genesisAddr(t, 0xA1)
	source := genesisAddr(t, 0xC3)
	holder := genesisAddr(t, 0x11)
	gen := &config.Genesis{
		NetworkName: "granary-test",
		Tokens: []config.GenesisToken{
			{Symbol: "GRN", Name: "Granary", Decimals: 18, ModuleMint: true},
			{Symbol: "HRV", Name: "Harvest", Decimals: 18},
		},
		Balances: []config.GenesisBalance{
			{Address: holder.String(), Token: "GRN", Amount: "1000000"},
			{Address: source.String(), Token: "HRV", Amount: "500000"},
		},
		Yield: config.GenesisYield{
			Owner:        owner.String(),
			Pauser:       owner.String(),
			RewardSource: source.String(),
			TargetBps:    500,
			MinimumStake: "100",
			RateModel:    "smoothed",
		},
	}
	require.NoError(t, gen.Validate())
	return gen
}

func TestApplyGenesisSeedsState(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	gen := testGenesis(t)
	require.NoError(t, manager.ApplyGenesis(gen))

	applied, err := manager.GenesisApplied()
	require.NoError(t, err)
	require.True(t, applied)

	require.True(t, manager.TokenExists("GRN"))
	require.True(t, manager.TokenExists("HRV"))

	meta, err := manager.Token("GRN")
	require.NoError(t, err)
	module := crypto.ModuleAddress(YieldModuleName)
	require.Equal(t, module.Bytes(), meta.MintAuthority)

	holder := genesisAddr(t, 0x11)
	balance, err := manager.Balance(holder.Bytes(), "GRN")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), balance)

	supply, err := manager.TokenSupply("GRN")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1_000_000), supply)

	params, err := manager.YieldParams()
	require.NoError(t, err)
	require.NotNil(t, params)
	require.Equal(t, uint64(500), params.TargetBps)
	require.Equal(t, genesisAddr(t, 0xA1).Bytes(), params.Owner)
	require.Equal(t, big.NewInt(100), params.MinimumStake)

	model, err := manager.YieldRateModel()
	require.NoError(t, err)
	require.NotNil(t, model)
	require.Equal(t, "smoothed", model.Kind)
}

func TestApplyGenesisRejectsSecondApply(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	gen := testGenesis(t)
	require.NoError(t, manager.ApplyGenesis(gen))
	require.Error(t, manager.ApplyGenesis(gen))
}

func TestApplyGenesisRejectsBadOwner(t *testing.T) {
	manager := NewManager(storage.NewMemDB())
	gen := testGenesis(t)
	gen.Yield.Owner = "not-an-address"
	require.Error(t, manager.ApplyGenesis(gen))
}
