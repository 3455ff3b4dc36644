package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"sigex/internal/application/port"
	"sigex/internal/application/service"
	"sigex/internal/application/usecase/engine"
	"sigex/internal/domain/model"
	"sigex/internal/infrastructure/metrics"
)

// Server is the engine's small operational surface: health, metrics and the
// quota admission endpoints external callers use before creating signals.
type Server struct {
	engine    *engine.Service
	quota     *service.QuotaService
	positions *service.PositionService
	repo      port.Repository
}

func NewServer(eng *engine.Service, quota *service.QuotaService, positions *service.PositionService, repo port.Repository) *Server {
	return &Server{engine: eng, quota: quota, positions: positions, repo: repo}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /quota/reserve", s.handleQuotaReserve)
	mux.HandleFunc("POST /quota/mint", s.handleQuotaMint)
	mux.HandleFunc("GET /quota/balance", s.handleQuotaBalance)
	mux.HandleFunc("GET /positions", s.handlePositions)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type healthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	Interval    string `json:"interval"`
	IsRunning   bool   `json:"isRunning"`
	LastCycleAt string `json:"lastCycleAt,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.engine.Health()
	resp := healthResponse{
		Status:    "ok",
		Service:   h.Service,
		Interval:  h.Interval.String(),
		IsRunning: h.IsRunning,
		LastError: h.LastError,
	}
	if !h.LastCycleAt.IsZero() {
		resp.LastCycleAt = h.LastCycleAt.UTC().Format(time.RFC3339)
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.repo.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.LastError = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type quotaReserveRequest struct {
	Wallet string `json:"wallet"`
}

func (s *Server) handleQuotaReserve(w http.ResponseWriter, r *http.Request) {
	var req quotaReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.quota.Reserve(r.Context(), req.Wallet)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMint) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("quota reserve failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type quotaMintRequest struct {
	Wallet         string `json:"wallet"`
	Amount         int64  `json:"amount"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *Server) handleQuotaMint(w http.ResponseWriter, r *http.Request) {
	var req quotaMintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.quota.Mint(r.Context(), req.Wallet, req.Amount, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, service.ErrInvalidMint) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		log.Error().Err(err).Msg("quota mint failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleQuotaBalance(w http.ResponseWriter, r *http.Request) {
	wallet := r.URL.Query().Get("wallet")
	if wallet == "" {
		writeError(w, http.StatusBadRequest, "wallet query parameter required")
		return
	}

	q, err := s.quota.GetBalance(r.Context(), wallet)
	if err != nil {
		log.Error().Err(err).Msg("quota balance lookup failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, q)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	deploymentID := r.URL.Query().Get("deployment")
	if deploymentID == "" {
		writeError(w, http.StatusBadRequest, "deployment query parameter required")
		return
	}

	positions, err := s.positions.ListByDeployment(r.Context(), deploymentID)
	if err != nil {
		log.Error().Err(err).Msg("position list failed")
		writeError(w, http.StatusInternalServerError, "storage unavailable")
		return
	}
	if positions == nil {
		positions = []*model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
