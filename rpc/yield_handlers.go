package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"granary/crypto"
)

type stakeParams struct {
	Payer       string `json:"payer"`
	Beneficiary string `json:"beneficiary,omitempty"`
	Amount      string `json:"amount"`
}

type withdrawParams struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

type claimParams struct {
	Account string `json:"account"`
}

type deliverRewardParams struct {
	Source string `json:"source"`
	Amount string `json:"amount"`
}

type proposeParams struct {
	Caller    string `json:"caller"`
	TargetBps uint64 `json:"targetBps"`
}

type setAlphaParams struct {
	Caller string `json:"caller"`
	Alpha  string `json:"alpha"`
}

type setDurationParams struct {
	Caller  string `json:"caller"`
	Seconds uint64 `json:"seconds"`
}

type setRoleParams struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

type pauseParams struct {
	Caller string `json:"caller"`
}

type emergencyTransferParams struct {
	Caller    string `json:"caller"`
	Recipient string `json:"recipient"`
}

type rewardHistoryParams struct {
	Account string `json:"account"`
	Stream  string `json:"stream,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type eventsParams struct {
	Cursor uint64 `json:"cursor,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type stakeResult struct {
	Staked       string `json:"staked"`
	Principal    string `json:"principal"`
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
}

type withdrawResult struct {
	Withdrawn    string `json:"withdrawn"`
	Principal    string `json:"principal"`
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
	DustUpgraded bool   `json:"dustUpgraded,omitempty"`
}

type claimResult struct {
	PaidEmission string `json:"paidEmission"`
	PaidHarvest  string `json:"paidHarvest"`
}

type pauseWithdrawResult struct {
	Withdrawn    string `json:"withdrawn"`
	Principal    string `json:"principal"`
	DustUpgraded bool   `json:"dustUpgraded,omitempty"`
}

type deliverRewardResult struct {
	Delivered   string `json:"delivered"`
	HarvestRate string `json:"harvestRate"`
}

type proposalResult struct {
	Status    string `json:"status"`
	TargetBps uint64 `json:"targetBps"`
	Sequence  uint64 `json:"sequence"`
}

type sweepResult struct {
	Principal string `json:"principal"`
	Rewards   string `json:"rewards"`
}

type positionResult struct {
	Account      string `json:"account"`
	Principal    string `json:"principal"`
	EmissionDebt string `json:"emissionDebt"`
	HarvestDebt  string `json:"harvestDebt"`
}

type pendingResult struct {
	Account  string `json:"account"`
	Emission string `json:"emission"`
	Harvest  string `json:"harvest"`
}

type poolInfoResult struct {
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

type pendingChangeResult struct {
	TargetBps uint64 `json:"targetBps"`
	Sequence  uint64 `json:"sequence"`
}

func parseAmount(amount string) (*big.Int, error) {
	trimmed := strings.TrimSpace(amount)
	if trimmed == "" {
		return nil, fmt.Errorf("amount is required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount")
	}
	if value.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return value, nil
}

func decodeParams(w http.ResponseWriter, req *RPCRequest, out interface{}) bool {
	if len(req.Params) != 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "exactly one parameter object expected", nil)
		return false
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
		return false
	}
	return true
}

func decodeAddressParam(w http.ResponseWriter, req *RPCRequest, field, value string) (crypto.Address, bool) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, fmt.Sprintf("invalid %s address", field), err.Error())
		return crypto.Address{}, false
	}
	return addr, true
}

func formatBig(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func (s *Server) handleStake(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params stakeParams
	if !decodeParams(w, req, &params) {
		return
	}
	payer, ok := decodeAddressParam(w, req, "payer", params.Payer)
	if !ok {
		return
	}
	beneficiary := payer
	if strings.TrimSpace(params.Beneficiary) != "" {
		if beneficiary, ok = decodeAddressParam(w, req, "beneficiary", params.Beneficiary); !ok {
			return
		}
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.allowMutation(params.Payer); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	receipt, err := s.engine.Stake(payer, beneficiary, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, stakeResult{
		Staked:       formatBig(receipt.Staked),
		Principal:    formatBig(receipt.Principal),
		PaidEmission: formatBig(receipt.PaidEmission),
		PaidHarvest:  formatBig(receipt.PaidHarvest),
	})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.allowMutation(params.Account); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	receipt, err := s.engine.Withdraw(account, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, withdrawResult{
		Withdrawn:    formatBig(receipt.Withdrawn),
		Principal:    formatBig(receipt.Principal),
		PaidEmission: formatBig(receipt.PaidEmission),
		PaidHarvest:  formatBig(receipt.PaidHarvest),
		DustUpgraded: receipt.DustUpgraded,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params claimParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	if err := s.allowMutation(params.Account); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	receipt, err := s.engine.Claim(account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, claimResult{
		PaidEmission: formatBig(receipt.PaidEmission),
		PaidHarvest:  formatBig(receipt.PaidHarvest),
	})
}

func (s *Server) handlePauseWithdraw(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params withdrawParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.allowMutation(params.Account); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	receipt, err := s.engine.PauseWithdraw(account, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pauseWithdrawResult{
		Withdrawn:    formatBig(receipt.Withdrawn),
		Principal:    formatBig(receipt.Principal),
		DustUpgraded: receipt.DustUpgraded,
	})
}

func (s *Server) handleDeliverReward(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params deliverRewardParams
	if !decodeParams(w, req, &params) {
		return
	}
	source, ok := decodeAddressParam(w, req, "source", params.Source)
	if !ok {
		return
	}
	amount, err := parseAmount(params.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.allowMutation(params.Source); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	receipt, err := s.engine.DeliverReward(source, amount)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, deliverRewardResult{
		Delivered:   formatBig(receipt.Delivered),
		HarvestRate: formatBig(receipt.HarvestRate),
	})
}

func (s *Server) handleProposeTargetBps(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params proposeParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	receipt, err := s.engine.ProposeTargetBps(caller, params.TargetBps)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, proposalResult{
		Status:    receipt.Status,
		TargetBps: receipt.TargetBps,
		Sequence:  receipt.Sequence,
	})
}

func (s *Server) handleSetAlpha(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setAlphaParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	alpha, err := parseAmount(params.Alpha)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return
	}
	if err := s.engine.SetAlpha(caller, alpha); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetDepletionDuration(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params setDurationParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.engine.SetDepletionDuration(caller, params.Seconds); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleSetRewardSource(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleRoleUpdate(w, req, s.engine.SetRewardSource)
}

func (s *Server) handleSetPauser(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	s.handleRoleUpdate(w, req, s.engine.SetPauser)
}

func (s *Server) handleRoleUpdate(w http.ResponseWriter, req *RPCRequest, update func(crypto.Address, crypto.Address) error) {
	var params setRoleParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	target, ok := decodeAddressParam(w, req, "address", params.Address)
	if !ok {
		return
	}
	if err := update(caller, target); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.engine.Pause(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleUnpause(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params pauseParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	if err := s.engine.Unpause(caller); err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, true)
}

func (s *Server) handleEmergencyTransfer(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params emergencyTransferParams
	if !decodeParams(w, req, &params) {
		return
	}
	caller, ok := decodeAddressParam(w, req, "caller", params.Caller)
	if !ok {
		return
	}
	recipient, ok := decodeAddressParam(w, req, "recipient", params.Recipient)
	if !ok {
		return
	}
	receipt, err := s.engine.EmergencyTransfer(caller, recipient)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, sweepResult{
		Principal: formatBig(receipt.Principal),
		Rewards:   formatBig(receipt.Rewards),
	})
}

func (s *Server) handleSyncPool(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	pool, err := s.engine.SyncPool()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, map[string]interface{}{
		"totalStaked":     formatBig(pool.TotalStaked),
		"emissionIndex":   formatBig(pool.EmissionIndex),
		"harvestIndex":    formatBig(pool.HarvestIndex),
		"emissionRate":    formatBig(pool.EmissionRate),
		"lastAccrualUnix": pool.LastAccrualUnix,
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params claimParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	position, err := s.engine.PositionOf(account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, positionResult{
		Account:      account.String(),
		Principal:    formatBig(position.Principal),
		EmissionDebt: formatBig(position.EmissionDebt),
		HarvestDebt:  formatBig(position.HarvestDebt),
	})
}

func (s *Server) handlePending(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	var params claimParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	pending, err := s.engine.PendingRewardsOf(account)
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, pendingResult{
		Account:  account.String(),
		Emission: formatBig(pending.Emission),
		Harvest:  formatBig(pending.Harvest),
	})
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	info, err := s.engine.PoolSnapshot()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	writeResult(w, req.ID, poolInfoResult{
		TotalStaked:     formatBig(info.TotalStaked),
		EmissionIndex:   formatBig(info.EmissionIndex),
		HarvestIndex:    formatBig(info.HarvestIndex),
		EmissionRate:    formatBig(info.EmissionRate),
		LastAccrualUnix: info.LastAccrualUnix,
		Paused:          info.Paused,
		TargetBps:       info.TargetBps,
		MinimumStake:    formatBig(info.MinimumStake),
		SharedPot:       info.SharedPot,
		ModelKind:       info.ModelKind,
		HarvestRate:     formatBig(info.HarvestRate),
		RewardBalance:   formatBig(info.RewardBalance),
		PotBalance:      formatBig(info.PotBalance),
	})
}

func (s *Server) handlePendingChange(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	pending, err := s.engine.PendingChangeOf()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return
	}
	if pending == nil {
		writeResult(w, req.ID, nil)
		return
	}
	writeResult(w, req.ID, pendingChangeResult{
		TargetBps: pending.TargetBps,
		Sequence:  pending.Sequence,
	})
}

func (s *Server) handleRewardHistory(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if s.archive == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "reward history unavailable", nil)
		return
	}
	var params rewardHistoryParams
	if !decodeParams(w, req, &params) {
		return
	}
	account, ok := decodeAddressParam(w, req, "account", params.Account)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	entries, err := s.archive.ListByAccount(ctx, account.String(), params.Stream, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to query reward history", err.Error())
		return
	}
	writeResult(w, req.ID, entries)
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request, req *RPCRequest) {
	if s.journal == nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "event journal unavailable", nil)
		return
	}
	var params eventsParams
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "invalid parameter object", err.Error())
			return
		}
	}
	records, err := s.journal.List(params.Cursor, params.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to read journal", err.Error())
		return
	}
	writeResult(w, req.ID, records)
}
