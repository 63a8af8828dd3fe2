// Package admin exposes a small read-only HTTP surface for operators:
// a liveness probe and a debug snapshot of engine statistics. It never
// touches the key-value data path, which speaks the TCP protocol in
// lsmkv/internal/server instead.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"lsmkv/pkg/store"
)

// StatsSource is implemented by the storage engine.
type StatsSource interface {
	Stats() store.Stats
	Health() store.Health
}

// Server is the admin HTTP surface.
type Server struct {
	addr   string
	engine StatsSource
	log    *slog.Logger

	httpServer *http.Server
}

func New(addr string, engine StatsSource, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{addr: addr, engine: engine, log: log}
}

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealthz)
	r.Get("/debug/stats", s.handleStats)
	return r
}

// Serve blocks, serving the admin surface until Close is called.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router(),
		ReadHeaderTimeout: time.Second,
	}
	s.log.Info("admin server listening", "addr", s.addr)

	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close gracefully shuts the admin server down.
func (s *Server) Close() error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Health()); err != nil {
		s.log.Warn("failed to encode health response", "error", err)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.engine.Stats()); err != nil {
		s.log.Warn("failed to encode stats response", "error", err)
	}
}
