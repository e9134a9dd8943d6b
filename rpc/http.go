package rpc

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"granary/core/journal"
	"granary/history"
	nativecommon "granary/native/common"
	"granary/native/yield"
	"granary/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB

	// requestsPerSecond bounds each client source across all methods.
	requestsPerSecond = 20
	requestBurst      = 40
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
	codeUnauthorized   = -32001
	codeRateLimited    = -32020
	codeModulePaused   = -32021
	codeQuotaExceeded  = -32022
)

// mutationQuota bounds how many mutating calls one account may submit per
// minute, on top of the per-source rate limit.
var mutationQuota = nativecommon.Quota{MaxRequestsPerMin: 60, EpochSeconds: 60}

// Server exposes the yield engine over JSON-RPC 2.0.
type Server struct {
	engine  *yield.Engine
	journal *journal.Journal
	archive *history.Store
	logger  *slog.Logger

	authToken string
	clockNow  func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	quotas   map[string]nativecommon.QuotaNow
}

// NewServer wires the RPC surface. The journal and archive may be nil; the
// corresponding query methods then report server errors.
func NewServer(engine *yield.Engine, jrnl *journal.Journal, archive *history.Store, authToken string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:    engine,
		journal:   jrnl,
		archive:   archive,
		logger:    logger,
		authToken: strings.TrimSpace(authToken),
		clockNow:  time.Now,
		limiters:  make(map[string]*rate.Limiter),
		quotas:    make(map[string]nativecommon.QuotaNow),
	}
}

// Handler returns the HTTP handler serving the RPC endpoint and the event
// stream.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	return mux
}

// Start serves the RPC endpoint until the listener fails.
func (s *Server) Start(addr string) error {
	s.logger.Info("starting JSON-RPC server", "addr", addr)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return server.ListenAndServe()
}

// RPCRequest is the JSON-RPC 2.0 request envelope.
type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

// RPCResponse is the JSON-RPC 2.0 response envelope.
type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError carries a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}

type methodSpec struct {
	handler  func(http.ResponseWriter, *http.Request, *RPCRequest)
	mutating bool
}

func (s *Server) methods() map[string]methodSpec {
	return map[string]methodSpec{
		"yield_stake":                {handler: s.handleStake, mutating: true},
		"yield_withdraw":             {handler: s.handleWithdraw, mutating: true},
		"yield_claim":                {handler: s.handleClaim, mutating: true},
		"yield_pauseWithdraw":        {handler: s.handlePauseWithdraw, mutating: true},
		"yield_deliverReward":        {handler: s.handleDeliverReward, mutating: true},
		"yield_proposeTargetBps":     {handler: s.handleProposeTargetBps, mutating: true},
		"yield_setAlpha":             {handler: s.handleSetAlpha, mutating: true},
		"yield_setDepletionDuration": {handler: s.handleSetDepletionDuration, mutating: true},
		"yield_setRewardSource":      {handler: s.handleSetRewardSource, mutating: true},
		"yield_setPauser":            {handler: s.handleSetPauser, mutating: true},
		"yield_pause":                {handler: s.handlePause, mutating: true},
		"yield_unpause":              {handler: s.handleUnpause, mutating: true},
		"yield_emergencyTransfer":    {handler: s.handleEmergencyTransfer, mutating: true},
		"yield_syncPool":             {handler: s.handleSyncPool},
		"yield_position":             {handler: s.handlePosition},
		"yield_pending":              {handler: s.handlePending},
		"yield_poolInfo":             {handler: s.handlePoolInfo},
		"yield_pendingChange":        {handler: s.handlePendingChange},
		"yield_rewardHistory":        {handler: s.handleRewardHistory},
		"yield_events":               {handler: s.handleEvents},
	}
}

// handle routes one JSON-RPC request.
func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	started := s.clockNow()
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if !s.allowSource(clientSource(r)) {
		observability.Module().RecordThrottle("rate_limit")
		writeError(w, http.StatusTooManyRequests, nil, codeRateLimited, "request rate limit exceeded", nil)
		return
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}

	spec, ok := s.methods()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %s", req.Method), nil)
		return
	}
	if spec.mutating {
		if authErr := s.requireAuth(r); authErr != nil {
			writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
			return
		}
	}
	recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	spec.handler(recorder, r, req)
	observability.Module().Observe(req.Method, recorder.status, s.clockNow().Sub(started))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return &RPCError{Code: codeUnauthorized, Message: "RPC authentication token not configured"}
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing Authorization header"}
	}
	if !strings.HasPrefix(header, "Bearer ") {
		return &RPCError{Code: codeUnauthorized, Message: "Authorization header must use Bearer scheme"}
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		return &RPCError{Code: codeUnauthorized, Message: "missing bearer token"}
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "invalid RPC credentials"}
	}
	return nil
}

func (s *Server) allowSource(source string) bool {
	if source == "" {
		source = "unknown"
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[source]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestBurst)
		s.limiters[source] = limiter
	}
	return limiter.Allow()
}

// allowMutation enforces the per-account mutation quota.
func (s *Server) allowMutation(account string) error {
	nowEpoch := uint64(s.clockNow().Unix()) / uint64(mutationQuota.EpochSeconds)
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := nativecommon.CheckQuota(mutationQuota, nowEpoch, s.quotas[account], 1, 0)
	if err != nil {
		observability.Module().RecordThrottle("quota_exceeded")
		return err
	}
	s.quotas[account] = next
	return nil
}

func clientSource(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			candidate := strings.TrimSpace(parts[0])
			if candidate != "" {
				return candidate
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeEngineError maps engine sentinels onto JSON-RPC error codes.
func writeEngineError(w http.ResponseWriter, id interface{}, err error) {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		writeError(w, http.StatusServiceUnavailable, id, codeModulePaused, "yield module paused", nil)
	case errors.Is(err, yield.ErrUnauthorized):
		writeError(w, http.StatusForbidden, id, codeUnauthorized, err.Error(), nil)
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded):
		writeError(w, http.StatusTooManyRequests, id, codeQuotaExceeded, err.Error(), nil)
	case errors.Is(err, yield.ErrInvalidAddress),
		errors.Is(err, yield.ErrZeroAmount),
		errors.Is(err, yield.ErrBelowMinimumStake),
		errors.Is(err, yield.ErrInsufficientPrincipal),
		errors.Is(err, yield.ErrInsufficientBalance),
		errors.Is(err, yield.ErrParameterOutOfRange),
		errors.Is(err, yield.ErrSameInstantDelivery),
		errors.Is(err, yield.ErrRateModelMismatch),
		errors.Is(err, yield.ErrNotPaused):
		writeError(w, http.StatusBadRequest, id, codeInvalidParams, err.Error(), nil)
	default:
		writeError(w, http.StatusInternalServerError, id, codeServerError, "yield operation failed", err.Error())
	}
}
