// Package yield provides a typed JSON-RPC client for the granary yield API.
package yield

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client issues JSON-RPC requests against a granary node.
type Client struct {
	endpoint   string
	authToken  string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Option mutates the client configuration during construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken attaches a bearer token to mutating calls.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// New constructs a client pointed at the supplied RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("endpoint required")
	}
	client := &Client{
		endpoint:   trimmed,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params,omitempty"`
	ID      int64         `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// RPCError carries a JSON-RPC error returned by the node.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error satisfies the error interface.
func (e *RPCError) Error() string {
	if e == nil {
		return "rpc error"
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	request := rpcRequest{
		JSONRPC: "2.0",
		Method:  method,
		ID:      c.nextID.Add(1),
	}
	if params != nil {
		request.Params = []interface{}{params}
	}
	body, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", method, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	decoded := rpcResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}
	if decoded.Error != nil {
		return decoded.Error
	}
	if out == nil {
		return nil
	}
	// The server omits the result field for null payloads.
	if len(decoded.Result) == 0 {
		decoded.Result = json.RawMessage("null")
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

// StakeRequest funds a stake from the payer, optionally crediting another
// beneficiary.
type StakeRequest struct {
	Payer       string `json:"payer"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount"`
}

// StakeResult reports the stake outcome and any settled rewards.
type StakeResult struct {
	Staked       string `json:"staked"`
	Principal    string `json:"principal"`
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
}

// Stake locks principal for the beneficiary.
func (c *Client) Stake(ctx context.Context, req StakeRequest) (*StakeResult, error) {
	result := &StakeResult{}
	if err := c.call(ctx, "yield_stake", req, result); err != nil {
		return nil, err
	}
	return result, nil
}

// WithdrawRequest releases staked principal back to the account.
type WithdrawRequest struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// WithdrawResult reports the withdrawal outcome.
type WithdrawResult struct {
	Withdrawn    string `json:"withdrawn"`
	Principal    string `json:"principal"`
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
	DustUpgraded bool   `json:"dustUpgraded"`
}

// Withdraw releases principal after settling both reward streams.
func (c *Client) Withdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	result := &WithdrawResult{}
	if err := c.call(ctx, "yield_withdraw", req, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PauseWithdraw recovers principal while the module is paused; unsettled
// rewards are forfeited.
func (c *Client) PauseWithdraw(ctx context.Context, req WithdrawRequest) (*WithdrawResult, error) {
	result := &WithdrawResult{}
	if err := c.call(ctx, "yield_pauseWithdraw", req, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ClaimResult reports the rewards paid by a claim.
type ClaimResult struct {
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
}

// Claim settles and pays both reward streams for the account.
func (c *Client) Claim(ctx context.Context, account string) (*ClaimResult, error) {
	result := &ClaimResult{}
	if err := c.call(ctx, "yield_claim", map[string]string{"account": account}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// DeliverResult reports an absorbed reward delivery.
type DeliverResult struct {
	Delivered   string `json:"delivered"`
	HarvestRate string `json:"harvestRate"`
}

// DeliverReward pushes reward tokens from the configured source into the pot.
func (c *Client) DeliverReward(ctx context.Context, source, amount string) (*DeliverResult, error) {
	result := &DeliverResult{}
	params := map[string]string{"source": source, "amount": amount}
	if err := c.call(ctx, "yield_deliverReward", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// ProposalResult reports one step of the two-phase target update.
type ProposalResult struct {
	Status    string `json:"status"`
	TargetBps uint64 `json:"targetBps"`
	Sequence  uint64 `json:"sequence"`
}

// ProposeTargetBps advances the timelocked target-yield update.
func (c *Client) ProposeTargetBps(ctx context.Context, caller string, targetBps uint64) (*ProposalResult, error) {
	result := &ProposalResult{}
	params := map[string]interface{}{"caller": caller, "targetBps": targetBps}
	if err := c.call(ctx, "yield_proposeTargetBps", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// SetAlpha updates the smoothing factor of the EMA rate model.
func (c *Client) SetAlpha(ctx context.Context, caller, alpha string) error {
	params := map[string]string{"caller": caller, "alpha": alpha}
	return c.call(ctx, "yield_setAlpha", params, nil)
}

// SetDepletionDuration updates the drain horizon of the depleting rate model.
func (c *Client) SetDepletionDuration(ctx context.Context, caller string, seconds uint64) error {
	params := map[string]interface{}{"caller": caller, "seconds": seconds}
	return c.call(ctx, "yield_setDepletionDuration", params, nil)
}

// SetRewardSource rotates the address allowed to deliver rewards.
func (c *Client) SetRewardSource(ctx context.Context, caller, source string) error {
	params := map[string]string{"caller": caller, "address": source}
	return c.call(ctx, "yield_setRewardSource", params, nil)
}

// SetPauser rotates the address allowed to pause the module.
func (c *Client) SetPauser(ctx context.Context, caller, pauser string) error {
	params := map[string]string{"caller": caller, "address": pauser}
	return c.call(ctx, "yield_setPauser", params, nil)
}

// Pause halts mutating operations.
func (c *Client) Pause(ctx context.Context, caller string) error {
	return c.call(ctx, "yield_pause", map[string]string{"caller": caller}, nil)
}

// Unpause lifts a pause.
func (c *Client) Unpause(ctx context.Context, caller string) error {
	return c.call(ctx, "yield_unpause", map[string]string{"caller": caller}, nil)
}

// SweepResult reports the balances recovered by an emergency transfer.
type SweepResult struct {
	Principal string `json:"principal"`
	Rewards   string `json:"rewards"`
}

// EmergencyTransfer pauses the module and sweeps its token balances.
func (c *Client) EmergencyTransfer(ctx context.Context, caller, recipient string) (*SweepResult, error) {
	result := &SweepResult{}
	params := map[string]string{"caller": caller, "recipient": recipient}
	if err := c.call(ctx, "yield_emergencyTransfer", params, result); err != nil {
		return nil, err
	}
	return result, nil
}

// Position describes an account's stake and reward debts.
type Position struct {
	Account      string `json:"account"`
	Principal    string `json:"principal"`
	EmissionDebt string `json:"emissionDebt"`
	HarvestDebt  string `json:"harvestDebt"`
}

// Position fetches the account's staking record.
func (c *Client) Position(ctx context.Context, account string) (*Position, error) {
	result := &Position{}
	if err := c.call(ctx, "yield_position", map[string]string{"account": account}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingRewards reports what a claim at this instant would pay.
type PendingRewards struct {
	Account  string `json:"account"`
	Emission string `json:"emission"`
	Harvest  string `json:"harvest"`
}

// PendingRewards fetches the account's unclaimed rewards.
func (c *Client) PendingRewards(ctx context.Context, account string) (*PendingRewards, error) {
	result := &PendingRewards{}
	if err := c.call(ctx, "yield_pending", map[string]string{"account": account}, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PoolInfo describes the pool's accumulators and configuration.
type PoolInfo struct {
	TotalStaked     string `json:"totalStaked"`
	EmissionIndex   string `json:"emissionIndex"`
	HarvestIndex    string `json:"harvestIndex"`
	EmissionRate    string `json:"emissionRate"`
	LastAccrualUnix uint64 `json:"lastAccrualUnix"`
	Paused          bool   `json:"paused"`
	TargetBps       uint64 `json:"targetBps"`
	MinimumStake    string `json:"minimumStake"`
	SharedPot       bool   `json:"sharedPot"`
	ModelKind       string `json:"modelKind"`
	HarvestRate     string `json:"harvestRate"`
	RewardBalance   string `json:"rewardBalance"`
	PotBalance      string `json:"potBalance"`
}

// PoolInfo fetches the pool snapshot.
func (c *Client) PoolInfo(ctx context.Context) (*PoolInfo, error) {
	result := &PoolInfo{}
	if err := c.call(ctx, "yield_poolInfo", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PendingChange describes an uncommitted target-yield proposal.
type PendingChange struct {
	TargetBps uint64 `json:"targetBps"`
	Sequence  uint64 `json:"sequence"`
}

// PendingChange fetches the active proposal, if any.
func (c *Client) PendingChange(ctx context.Context) (*PendingChange, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "yield_pendingChange", nil, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	result := &PendingChange{}
	if err := json.Unmarshal(raw, result); err != nil {
		return nil, fmt.Errorf("decode pending change: %w", err)
	}
	return result, nil
}

// Settlement is one archived reward payout.
type Settlement struct {
	ID        int64  `json:"id"`
	Account   string `json:"account"`
	Stream    string `json:"stream"`
	Amount    string `json:"amount"`
	SettledAt int64  `json:"settledAt"`
}

// RewardHistory fetches archived settlements for the account.
func (c *Client) RewardHistory(ctx context.Context, account, stream string, limit int) ([]Settlement, error) {
	params := map[string]interface{}{"account": account}
	if stream != "" {
		params["stream"] = stream
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []Settlement
	if err := c.call(ctx, "yield_rewardHistory", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// Event is one journaled engine event.
type Event struct {
	ID         string            `json:"id"`
	Seq        uint64            `json:"seq"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Unix       int64             `json:"unix"`
}

// Events fetches journal records after the cursor sequence.
func (c *Client) Events(ctx context.Context, cursor uint64, limit int) ([]Event, error) {
	params := map[string]interface{}{}
	if cursor > 0 {
		params["cursor"] = cursor
	}
	if limit > 0 {
		params["limit"] = limit
	}
	var result []Event
	if err := c.call(ctx, "yield_events", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// SyncPool forces a pool accumulator sync and returns the updated pool.
func (c *Client) SyncPool(ctx context.Context) (*PoolInfo, error) {
	result := &PoolInfo{}
	if err := c.call(ctx, "yield_syncPool", nil, result); err != nil {
		return nil, err
	}
	return result, nil
}
