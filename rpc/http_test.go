package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"granary/core/state"
	"granary/crypto"
	"granary/native/yield"
	"granary/storage"
)

const testAuthToken = "test-rpc-token"

func testAddr(t *testing.T, last byte) crypto.Address {
	t.Helper()
	raw := make([]byte, 20)
	raw[19] = last
	return crypto.MustNewAccountAddress(raw)
}

type testEnv struct {
	server *httptest.Server
	owner  crypto.Address
	source crypto.Address
	staker crypto.Address
	now    *uint64
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	manager := state.NewManager(storage.NewMemDB())
	module := crypto.ModuleAddress(state.YieldModuleName)
	require.NoError(t, manager.RegisterToken("GRN", "Granary", 18))
	require.NoError(t, manager.RegisterToken("HRV", "Harvest", 18))
	require.NoError(t, manager.SetTokenMintAuthority("GRN", module.Bytes()))

	owner := testAddr(t, 0xA1)
	source := testAddr(t, 0xC3)
	staker := testAddr(t, 0x11)
	grnFunds, ok := new(big.Int).SetString("2000000000000000000000000", 10)
	require.True(t, ok)
	require.NoError(t, manager.SetBalance(staker.Bytes(), "GRN", grnFunds))
	require.NoError(t, manager.SetBalance(source.Bytes(), "HRV", big.NewInt(1_000_000)))

	params := &yield.Params{
		Owner:        owner.Bytes(),
		Pauser:       owner.Bytes(),
		RewardSource: source.Bytes(),
		TargetBps:    500,
		MinimumStake: big.NewInt(100),
	}
	binding := state.NewYieldState(manager)
	require.NoError(t, binding.PutParams(params))

	now := uint64(1_700_000_000)
	env := &testEnv{owner: owner, source: source, staker: staker, now: &now}

	engine := yield.NewEngine(nil)
	engine.SetState(binding)
	engine.SetPrincipalLedger(state.NewTokenLedger(manager, "GRN", module))
	engine.SetRewardLedger(state.NewTokenLedger(manager, "HRV", module))
	engine.SetNowFunc(func() uint64 { return *env.now })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer(engine, nil, nil, testAuthToken, logger)
	env.server = httptest.NewServer(server.Handler())
	t.Cleanup(env.server.Close)
	return env
}

type rpcTestResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

func (env *testEnv) call(t *testing.T, token, method string, params interface{}) (*http.Response, *rpcTestResponse) {
	t.Helper()
	payload := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		payload["params"] = []interface{}{params}
	}
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, env.server.URL, bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	// Distinct sources keep the per-IP limiter out of unrelated tests.
	req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", len(method)))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	decoded := &rpcTestResponse{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(decoded))
	return resp, decoded
}

func TestStakeAndPositionRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	resp, rpcResp := env.call(t, testAuthToken, "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "5000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)

	var staked stakeResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &staked))
	require.Equal(t, "5000", staked.Staked)
	require.Equal(t, "5000", staked.Principal)

	resp, rpcResp = env.call(t, "", "yield_position", claimParams{Account: env.staker.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
	var position positionResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &position))
	require.Equal(t, "5000", position.Principal)
	require.Equal(t, env.staker.String(), position.Account)
}

func TestPendingAccruesEmission(t *testing.T) {
	env := newTestEnv(t)
	_, rpcResp := env.call(t, testAuthToken, "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "1000000000000000000000000",
	})
	require.Nil(t, rpcResp.Error)

	*env.now += 3600
	resp, rpcResp := env.call(t, "", "yield_pending", claimParams{Account: env.staker.String()})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
	var pending pendingResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &pending))
	emission, ok := new(big.Int).SetString(pending.Emission, 10)
	require.True(t, ok)
	require.Positive(t, emission.Sign())
}

func TestMutatingMethodsRequireAuth(t *testing.T) {
	env := newTestEnv(t)
	resp, rpcResp := env.call(t, "", "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "5000",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeUnauthorized, rpcResp.Error.Code)

	resp, rpcResp = env.call(t, "wrong-token", "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "5000",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
}

func TestUnknownMethodRejected(t *testing.T) {
	env := newTestEnv(t)
	resp, rpcResp := env.call(t, "", "yield_bogus", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeMethodNotFound, rpcResp.Error.Code)
}

func TestEngineErrorsMapToInvalidParams(t *testing.T) {
	env := newTestEnv(t)
	resp, rpcResp := env.call(t, testAuthToken, "yield_withdraw", withdrawParams{
		Account: env.staker.String(),
		Amount:  "5000",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeInvalidParams, rpcResp.Error.Code)
}

func TestPausedModuleMapsToServiceUnavailable(t *testing.T) {
	env := newTestEnv(t)
	_, rpcResp := env.call(t, testAuthToken, "yield_pause", pauseParams{Caller: env.owner.String()})
	require.Nil(t, rpcResp.Error)

	resp, rpcResp := env.call(t, testAuthToken, "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "5000",
	})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeModulePaused, rpcResp.Error.Code)
}

func TestDeliverRewardRestrictedToSource(t *testing.T) {
	env := newTestEnv(t)
	_, rpcResp := env.call(t, testAuthToken, "yield_stake", stakeParams{
		Payer:  env.staker.String(),
		Amount: "5000",
	})
	require.Nil(t, rpcResp.Error)

	*env.now += 60
	resp, rpcResp := env.call(t, testAuthToken, "yield_deliverReward", deliverRewardParams{
		Source: env.staker.String(),
		Amount: "1000",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.NotNil(t, rpcResp.Error)
	require.Equal(t, codeUnauthorized, rpcResp.Error.Code)

	*env.now += 60
	resp, rpcResp = env.call(t, testAuthToken, "yield_deliverReward", deliverRewardParams{
		Source: env.source.String(),
		Amount: "1000",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
	var delivered deliverRewardResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &delivered))
	require.Equal(t, "1000", delivered.Delivered)
}

func TestPoolInfoReportsConfiguration(t *testing.T) {
	env := newTestEnv(t)
	resp, rpcResp := env.call(t, "", "yield_poolInfo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, rpcResp.Error)
	var info poolInfoResult
	require.NoError(t, json.Unmarshal(rpcResp.Result, &info))
	require.Equal(t, uint64(500), info.TargetBps)
	require.Equal(t, "100", info.MinimumStake)
	require.False(t, info.Paused)
}
