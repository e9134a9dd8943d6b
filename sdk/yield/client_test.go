package yield

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newStubServer(t *testing.T, wantMethod string, result interface{}) (*httptest.Server, *rpcRequest) {
	t.Helper()
	captured := &rpcRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))
		require.Equal(t, wantMethod, captured.Method)
		payload, err := json.Marshal(result)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":` + string(payload) + `}`))
	}))
	t.Cleanup(server.Close)
	return server, captured
}

func TestStakeSendsBearerAndParams(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"staked":"100","principal":"100","paidEmission":"0","paidHarvest":"0"}}`))
	}))
	t.Cleanup(server.Close)

	client, err := New(server.URL, WithAuthToken("secret"))
	require.NoError(t, err)
	result, err := client.Stake(context.Background(), StakeRequest{Payer: "grn1abc", Amount: "100"})
	require.NoError(t, err)
	require.Equal(t, "100", result.Staked)
	require.Equal(t, "Bearer secret", gotAuth)
}

func TestPoolInfoDecodesSnapshot(t *testing.T) {
	server, _ := newStubServer(t, "yield_poolInfo", PoolInfo{
		TotalStaked: "5000",
		TargetBps:   500,
		ModelKind:   "smoothed",
	})
	client, err := New(server.URL)
	require.NoError(t, err)
	info, err := client.PoolInfo(context.Background())
	require.NoError(t, err)
	require.Equal(t, "5000", info.TotalStaked)
	require.Equal(t, uint64(500), info.TargetBps)
}

func TestRPCErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32021,"message":"yield module paused"}}`))
	}))
	t.Cleanup(server.Close)

	client, err := New(server.URL)
	require.NoError(t, err)
	_, err = client.Claim(context.Background(), "grn1abc")
	require.Error(t, err)
	rpcErr := &RPCError{}
	require.ErrorAs(t, err, &rpcErr)
	require.Equal(t, -32021, rpcErr.Code)
}

func TestPendingChangeNullResult(t *testing.T) {
	server, _ := newStubServer(t, "yield_pendingChange", nil)
	client, err := New(server.URL)
	require.NoError(t, err)
	pending, err := client.PendingChange(context.Background())
	require.NoError(t, err)
	require.Nil(t, pending)
}

func TestProposeTargetBpsParams(t *testing.T) {
	server, captured := newStubServer(t, "yield_proposeTargetBps", ProposalResult{Status: "proposed", TargetBps: 750})
	client, err := New(server.URL)
	require.NoError(t, err)
	result, err := client.ProposeTargetBps(context.Background(), "grn1owner", 750)
	require.NoError(t, err)
	require.Equal(t, "proposed", result.Status)
	require.Len(t, captured.Params, 1)
	params, ok := captured.Params[0].(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "grn1owner", params["caller"])
	require.Equal(t, float64(750), params["targetBps"])
}
