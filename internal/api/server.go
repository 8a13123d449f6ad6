// Package api serves the control and status HTTP surface: health, the
// current regime, the position book, the trade log, the control flags, scan
// and backtest triggers, Prometheus metrics and the websocket event stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stockpilot/engine/internal/backtest"
	"github.com/stockpilot/engine/internal/cache"
	"github.com/stockpilot/engine/internal/config"
	"github.com/stockpilot/engine/internal/regime"
	"github.com/stockpilot/engine/internal/scan"
	"github.com/stockpilot/engine/internal/store"
)

var (
	errInvalidLimit = errors.New("invalid limit")
	errUnknownFlag  = errors.New("unknown flag")
)

// Config holds the server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         ":8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
}

// Deps bundles what the handlers need.
type Deps struct {
	Logger    *zap.Logger
	Loader    *config.Loader
	Store     store.Store
	Cache     cache.Cache
	Regimes   regime.Provider
	Scan      *scan.Runner
	Simulator *backtest.Simulator
	Hub       *Hub
	Gatherer  prometheus.Gatherer
}

// Server is the HTTP control surface.
type Server struct {
	logger *zap.Logger
	config Config
	deps   Deps
	http   *http.Server
}

// NewServer builds the router and wraps it with CORS.
func NewServer(config Config, deps Deps) *Server {
	s := &Server{
		logger: deps.Logger.Named("api"),
		config: config,
		deps:   deps,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", deps.Hub).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/regime", s.handleRegime).Methods(http.MethodGet)
	v1.HandleFunc("/positions", s.handlePositions).Methods(http.MethodGet)
	v1.HandleFunc("/trades", s.handleTrades).Methods(http.MethodGet)
	v1.HandleFunc("/flags/{flag}", s.handleGetFlag).Methods(http.MethodGet)
	v1.HandleFunc("/flags/{flag}", s.handleSetFlag).Methods(http.MethodPost)
	v1.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	v1.HandleFunc("/backtest", s.handleBacktest).Methods(http.MethodPost)
	v1.HandleFunc("/config/refresh", s.handleConfigRefresh).Methods(http.MethodPost)

	handler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}).Handler(r)

	s.http = &http.Server{
		Addr:         config.Addr,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("addr", s.config.Addr))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRegime(w http.ResponseWriter, r *http.Request) {
	snap, err := s.deps.Regimes.Current(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	book, err := s.deps.Store.ActivePortfolio(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, errInvalidLimit)
			return
		}
		limit = parsed
	}
	trades, err := s.deps.Store.RecentTrades(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	flag, ok := parseFlag(mux.Vars(r)["flag"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errUnknownFlag)
		return
	}
	state, err := s.deps.Cache.GetFlag(r.Context(), flag)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleSetFlag(w http.ResponseWriter, r *http.Request) {
	flag, ok := parseFlag(mux.Vars(r)["flag"])
	if !ok {
		s.writeError(w, http.StatusNotFound, errUnknownFlag)
		return
	}
	var body struct {
		Enabled bool   `json:"enabled"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Cache.SetFlag(r.Context(), flag, body.Enabled, body.Reason); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.logger.Info("control flag updated",
		zap.String("flag", string(flag)),
		zap.Bool("enabled", body.Enabled),
		zap.String("reason", body.Reason),
	)
	s.deps.Hub.Broadcast("flag_changed", map[string]interface{}{
		"flag": flag, "enabled": body.Enabled, "reason": body.Reason,
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleScan runs one scan cycle synchronously. An external scheduler calls
// this at the cadence it wants.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Scan.Cycle(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.deps.Hub.Broadcast("scan_complete", result)
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var input backtest.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := s.deps.Simulator.Run(r.Context(), input)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleConfigRefresh(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Loader.Refresh()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"risk_per_trade_pct": snap.RiskPerTradePct,
		"dry_run":            snap.DryRun,
	})
}

func parseFlag(raw string) (cache.Flag, bool) {
	switch cache.Flag(raw) {
	case cache.FlagPause, cache.FlagStop, cache.FlagDryRun:
		return cache.Flag(raw), true
	}
	return "", false
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
