// Package api exposes the risk engine's control surface to the dashboard:
// start/stop monitors, status snapshots, budget overrides, fill history,
// and a WebSocket event stream.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pquerna/otp/totp"

	"dealdesk/internal/engine"
	"dealdesk/internal/journal"
	"dealdesk/internal/logger"
	"dealdesk/internal/riskconfig"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// FillStore reads fill history for the dashboard. Implemented by
// journal.Journal.
type FillStore interface {
	Fills(strategyID string, limit int) ([]journal.FillRow, error)
}

// Server wires the control handlers.
type Server struct {
	Supervisor *engine.Supervisor
	Hub        *EventHub
	Fills      FillStore           // optional
	Presets    *riskconfig.Presets // optional

	// TOTPSecret, when non-empty, gates the budget override endpoint:
	// requests must carry a valid operator TOTP code.
	TOTPSecret string

	// OnBudgetChange, if set, is called after every accepted budget override.
	OnBudgetChange func(newBudget int64)

	ProcessStart time.Time
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

// RegisterRoutes registers all HTTP routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/risk/start", s.handleStart)
	mux.HandleFunc("/api/risk/stop", s.handleStop)
	mux.HandleFunc("/api/risk/status", s.handleStatus)
	mux.HandleFunc("/api/risk/budget", s.handleBudget)
	mux.HandleFunc("/api/risk/presets", s.handlePresets)
	mux.HandleFunc("/api/risk/fills", s.handleFills)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req engine.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	id, err := s.Supervisor.Start(req)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrDuplicateMonitor):
			httpError(w, http.StatusConflict, err.Error())
		case errors.Is(err, riskconfig.ErrConfiguration):
			httpError(w, http.StatusBadRequest, err.Error())
		default:
			httpError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	ctx := logger.WithTraceID(r.Context(), logger.NewTrace(id))
	slog.Info("monitor started",
		append(logger.LogWithTrace(ctx), slog.String("strategy_id", id))...)

	json.NewEncoder(w).Encode(map[string]string{"strategy_id": id, "status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req struct {
		StrategyID string `json:"strategy_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.StrategyID == "" {
		httpError(w, http.StatusBadRequest, "strategy_id required")
		return
	}

	// Idempotent: stopping an unknown or finished monitor is fine.
	s.Supervisor.Stop(req.StrategyID)
	json.NewEncoder(w).Encode(map[string]string{"status": "stopped"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.Supervisor.Status())
}

func (s *Server) handleBudget(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if r.Method == http.MethodGet {
		json.NewEncoder(w).Encode(s.Supervisor.BudgetStatus())
		return
	}
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "GET or POST required")
		return
	}

	var req struct {
		Budget   int64  `json:"budget"`
		TOTPCode string `json:"totp_code,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if s.TOTPSecret != "" {
		if !totp.Validate(req.TOTPCode, s.TOTPSecret) {
			httpError(w, http.StatusForbidden, "invalid operator code")
			return
		}
	}

	if err := s.Supervisor.SetBudget(req.Budget); err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("[api] order budget set to %d", req.Budget)
	if s.OnBudgetChange != nil {
		s.OnBudgetChange(req.Budget)
	}
	json.NewEncoder(w).Encode(s.Supervisor.BudgetStatus())
}

func (s *Server) handlePresets(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if s.Presets == nil {
		json.NewEncoder(w).Encode(map[string]riskconfig.RiskConfig{})
		return
	}
	json.NewEncoder(w).Encode(s.Presets.All())
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if s.Fills == nil {
		json.NewEncoder(w).Encode([]journal.FillRow{})
		return
	}

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	fills, err := s.Fills.Fills(r.URL.Query().Get("strategy_id"), limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if fills == nil {
		fills = []journal.FillRow{}
	}
	json.NewEncoder(w).Encode(fills)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")

	gs := s.Supervisor.BudgetStatus()
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":            "ok",
		"active_monitors":   s.Supervisor.ActiveCount(),
		"order_budget":      gs.Remaining,
		"total_algo_orders": gs.LifetimeTotal,
		"ws_clients":        s.Hub.ClientCount(),
		"uptime_sec":        int64(time.Since(s.ProcessStart).Seconds()),
		"ts":                time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[api] ws upgrade error: %v", err)
		return
	}

	lastSeq := int64(-1)
	if v := r.URL.Query().Get("last_seq"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			lastSeq = n
		}
	}
	s.Hub.HandleConn(conn, lastSeq)
}

func httpError(w http.ResponseWriter, code int, msg string) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
