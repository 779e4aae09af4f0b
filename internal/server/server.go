// Package server is the reference agent backend: the HTTP surface the
// console polls and drives. It fronts the agent engine with the four console
// endpoints plus a history view, a websocket cycle feed, and health.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/paydeck/paydeck/internal/agent"
	"github.com/paydeck/paydeck/internal/config"
	"github.com/paydeck/paydeck/internal/history"
)

// Server hosts the backend API.
type Server struct {
	cfg        config.ServerConfig
	engine     *agent.Engine
	store      history.Store // optional
	cfgLoader  *config.Loader
	hub        *Hub
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates the backend API server. store and cfgLoader may be nil.
func NewServer(cfg config.ServerConfig, engine *agent.Engine, store history.Store, cfgLoader *config.Loader, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		engine:    engine,
		store:     store,
		cfgLoader: cfgLoader,
		hub:       NewHub(logger, cfg.CORS),
		mux:       http.NewServeMux(),
		logger:    logger.With("component", "server"),
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /{$}", s.handleRoot)
	s.mux.HandleFunc("GET /telemetry", s.handleTelemetry)
	s.mux.HandleFunc("GET /agent_state", s.handleAgentState)
	s.mux.HandleFunc("POST /run_cycle", s.handleRunCycle)
	s.mux.HandleFunc("POST /approve_action", s.handleApproveAction)
	s.mux.HandleFunc("GET /history", s.handleHistory)
	s.mux.HandleFunc("POST /config/reload", s.handleReloadConfig)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /ws", s.hub.HandleWebSocket)
}

// Handler returns the HTTP handler, wrapped with CORS when enabled.
func (s *Server) Handler() http.Handler {
	if s.cfg.CORS {
		return corsMiddleware(s.mux)
	}
	return s.mux
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("backend API listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server and drops websocket clients.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware allows the browser console to hit the API cross-origin.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Addr formats a listen address from a port.
func Addr(port int) string {
	return fmt.Sprintf(":%d", port)
}
