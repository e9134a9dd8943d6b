package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"granary/core/journal"
	"granary/crypto"
	"granary/history"
	"granary/native/yield"
)

// Config wires the ops gateway's collaborators and policies.
type Config struct {
	Engine        *yield.Engine
	Journal       *journal.Journal
	Archive       *history.Store
	Authenticator *Authenticator
	RateLimiter   *RateLimiter
	Logger        *slog.Logger
}

type server struct {
	engine  *yield.Engine
	journal *journal.Journal
	archive *history.Store
	logger  *slog.Logger
}

// New assembles the read-only HTTP surface exposed to operators: health and
// readiness probes, Prometheus metrics, and pool/account queries backed by
// the engine, journal, and settlement archive.
func New(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		engine:  cfg.Engine,
		journal: cfg.Journal,
		archive: cfg.Archive,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/yield", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware())
		}
		if cfg.Authenticator != nil {
			sr.Use(cfg.Authenticator.Middleware(ScopeYieldRead))
		}
		sr.Get("/pool", s.handlePool)
		sr.Get("/pool/pending-change", s.handlePendingChange)
		sr.Get("/events", s.handleEvents)
		sr.Get("/accounts/{address}/position", s.handlePosition)
		sr.Get("/accounts/{address}/pending", s.handlePending)
		sr.Get("/accounts/{address}/history", s.handleHistory)
	})
	return otelhttp.NewHandler(r, "granary-ops")
}

func (s *server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.engine == nil {
		http.Error(w, "engine unavailable", http.StatusServiceUnavailable)
		return
	}
	if _, err := s.engine.PoolSnapshot(); err != nil {
		http.Error(w, "state unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

type poolPayload struct {
	TotalStaked     string `json:"totalStaked"`
	EmissionRate    string `json:"emissionRate"`
	HarvestRate     string `json:"harvestRate"`
	LastAccrualUnix uint64 `json:"lastAccrualUnix"`
	Paused          bool   `json:"paused"`
	TargetBps       uint64 `json:"targetBps"`
	MinimumStake    string `json:"minimumStake"`
	SharedPot       bool   `json:"sharedPot"`
	ModelKind       string `json:"modelKind"`
	RewardBalance   string `json:"rewardBalance"`
	PotBalance      string `json:"potBalance"`
}

func (s *server) handlePool(w http.ResponseWriter, _ *http.Request) {
	info, err := s.engine.PoolSnapshot()
	if err != nil {
		s.fail(w, "pool snapshot failed", err)
		return
	}
	writeJSON(w, poolPayload{
		TotalStaked:     bigString(info.TotalStaked),
		EmissionRate:    bigString(info.EmissionRate),
		HarvestRate:     bigString(info.HarvestRate),
		LastAccrualUnix: info.LastAccrualUnix,
		Paused:          info.Paused,
		TargetBps:       info.TargetBps,
		MinimumStake:    bigString(info.MinimumStake),
		SharedPot:       info.SharedPot,
		ModelKind:       info.ModelKind,
		RewardBalance:   bigString(info.RewardBalance),
		PotBalance:      bigString(info.PotBalance),
	})
}

func (s *server) handlePendingChange(w http.ResponseWriter, _ *http.Request) {
	pending, err := s.engine.PendingChangeOf()
	if err != nil {
		s.fail(w, "pending change query failed", err)
		return
	}
	if pending == nil {
		writeJSON(w, nil)
		return
	}
	writeJSON(w, map[string]interface{}{
		"targetBps": pending.TargetBps,
		"sequence":  pending.Sequence,
	})
}

func (s *server) handlePosition(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	position, err := s.engine.PositionOf(account)
	if err != nil {
		s.fail(w, "position query failed", err)
		return
	}
	writeJSON(w, map[string]string{
		"account":      account.String(),
		"principal":    bigString(position.Principal),
		"emissionDebt": bigString(position.EmissionDebt),
		"harvestDebt":  bigString(position.HarvestDebt),
	})
}

func (s *server) handlePending(w http.ResponseWriter, r *http.Request) {
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	pending, err := s.engine.PendingRewardsOf(account)
	if err != nil {
		s.fail(w, "pending rewards query failed", err)
		return
	}
	writeJSON(w, map[string]string{
		"account":  account.String(),
		"emission": bigString(pending.Emission),
		"harvest":  bigString(pending.Harvest),
	})
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		http.Error(w, "history archive unavailable", http.StatusServiceUnavailable)
		return
	}
	account, ok := s.pathAccount(w, r)
	if !ok {
		return
	}
	stream := strings.TrimSpace(r.URL.Query().Get("stream"))
	limit := queryInt(r, "limit")
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	entries, err := s.archive.ListByAccount(ctx, account.String(), stream, limit)
	if err != nil {
		s.fail(w, "history query failed", err)
		return
	}
	writeJSON(w, entries)
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		http.Error(w, "event journal unavailable", http.StatusServiceUnavailable)
		return
	}
	var cursor uint64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid cursor", http.StatusBadRequest)
			return
		}
		cursor = parsed
	}
	records, err := s.journal.List(cursor, queryInt(r, "limit"))
	if err != nil {
		s.fail(w, "journal query failed", err)
		return
	}
	writeJSON(w, records)
}

func (s *server) pathAccount(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "address"))
	account, err := crypto.DecodeAddress(raw)
	if err != nil {
		http.Error(w, "invalid account address", http.StatusBadRequest)
		return crypto.Address{}, false
	}
	return account, true
}

func (s *server) fail(w http.ResponseWriter, message string, err error) {
	s.logger.Error(message, "error", err)
	http.Error(w, message, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, "encoding failure", http.StatusInternalServerError)
	}
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func queryInt(r *http.Request, name string) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}
