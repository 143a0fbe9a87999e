// Package api serves the simulator over HTTP: JSON endpoints for state,
// orders and resets, and a WebSocket stream of live updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"spot-simulator/internal/execution"
	"spot-simulator/internal/model"
	"spot-simulator/internal/simulator"

	"go.uber.org/zap"
)

// reloadTimeout bounds a timeframe change, which fetches history.
const reloadTimeout = 15 * time.Second

// FillLister reads the fill journal.
type FillLister interface {
	GetFills(ctx context.Context, limit int) ([]execution.FillRecord, error)
}

// Server holds the handler dependencies.
type Server struct {
	sim     *simulator.Simulator
	hub     *Hub
	health  http.Handler
	journal FillLister
	log     *zap.Logger

	// Metrics hooks (optional, set externally)
	OnSubmit func(o model.Order)
	OnReject func(kind string) // rejections not counted by the simulator
}

// NewServer creates the API server. hub and health may be nil.
func NewServer(sim *simulator.Simulator, hub *Hub, health http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{sim: sim, hub: hub, health: health, log: log}
}

// SetJournal enables GET /api/v1/fills.
func (s *Server) SetJournal(j FillLister) { s.journal = j }

// NewRouter sets up HTTP routes for the API server.
func (s *Server) NewRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if s.health != nil {
			s.health.ServeHTTP(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /api/v1/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.State())
	})
	mux.HandleFunc("GET /api/v1/chart", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.Chart())
	})
	mux.HandleFunc("GET /api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.Trades())
	})
	mux.HandleFunc("GET /api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.sim.Stats())
	})

	mux.HandleFunc("GET /api/v1/fills", s.handleFills)
	mux.HandleFunc("POST /api/v1/orders", s.handleSubmit)
	mux.HandleFunc("DELETE /api/v1/orders/{id}", s.handleCancel)
	mux.HandleFunc("POST /api/v1/timeframe", s.handleTimeframe)

	mux.HandleFunc("POST /api/v1/reset/portfolio", s.handleReset(s.sim.ResetPortfolio))
	mux.HandleFunc("POST /api/v1/reset/orders", s.handleReset(s.sim.ResetOrders))
	mux.HandleFunc("POST /api/v1/reset/history", s.handleReset(s.sim.ResetHistory))

	if s.hub != nil {
		mux.HandleFunc("GET /api/v1/stream", s.hub.HandleWS)
	}

	return withCORS(mux)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

type submitResponse struct {
	Order model.Order  `json:"order"`
	Trade *model.Trade `json:"trade,omitempty"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req model.OrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid order body: " + err.Error()})
		return
	}

	order, trade, err := s.sim.Submit(req)
	if err != nil {
		s.writeOrderError(w, err)
		return
	}
	if s.OnSubmit != nil {
		s.OnSubmit(order)
	}
	writeJSON(w, http.StatusCreated, submitResponse{Order: order, Trade: trade})
}

func (s *Server) writeOrderError(w http.ResponseWriter, err error) {
	var ve *model.ValidationError
	var np *model.NoPositionError
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: ve.Message, Kind: string(ve.Kind)})
	case errors.Is(err, model.ErrTradingDisabled):
		s.reject("connection")
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "connection"})
	case errors.As(err, &np):
		s.reject("position")
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error(), Kind: "position"})
	default:
		s.log.Error("order failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
	}
}

func (s *Server) reject(kind string) {
	if s.OnReject != nil {
		s.OnReject(kind)
	}
}

func (s *Server) handleFills(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "fill journal disabled"})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	fills, err := s.journal.GetFills(r.Context(), limit)
	if err != nil {
		s.log.Error("reading fills failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	if fills == nil {
		fills = []execution.FillRecord{}
	}
	writeJSON(w, http.StatusOK, fills)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	order, err := s.sim.Cancel(r.PathValue("id"))
	if errors.Is(err, model.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleTimeframe(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes int `json:"minutes"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid timeframe body: " + err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), reloadTimeout)
	defer cancel()
	err := s.sim.ChangeTimeframe(ctx, body.Minutes)
	if errors.Is(err, model.ErrReloadSuperseded) {
		writeJSON(w, http.StatusConflict, struct {
			errorBody
			Chart simulator.Chart `json:"chart"`
		}{errorBody{Error: err.Error(), Kind: "superseded"}, s.sim.Chart()})
		return
	}
	if err != nil {
		// The timeframe still switched; the chart is empty until ticks arrive.
		writeJSON(w, http.StatusBadGateway, struct {
			errorBody
			Chart simulator.Chart `json:"chart"`
		}{errorBody{Error: err.Error(), Kind: "history"}, s.sim.Chart()})
		return
	}
	writeJSON(w, http.StatusOK, s.sim.Chart())
}

func (s *Server) handleReset(reset func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reset()
		writeJSON(w, http.StatusOK, s.sim.State())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
