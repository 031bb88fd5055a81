// Package api exposes the controller's live state and session history over
// HTTP for debugging and tooling.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/banshee-data/drive.control/internal/loop"
	"github.com/banshee-data/drive.control/internal/sessionlog"
)

// StateCache retains the most recent cycle snapshot. It implements loop.Sink
// so it can be attached directly to the control loop.
type StateCache struct {
	mu     sync.RWMutex
	latest loop.ControlsState
	seen   bool
}

func (c *StateCache) Publish(cs loop.ControlsState) {
	c.mu.Lock()
	c.latest = cs
	c.seen = true
	c.mu.Unlock()
}

// Latest returns the newest snapshot and whether any cycle has run yet.
func (c *StateCache) Latest() (loop.ControlsState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest, c.seen
}

type Server struct {
	cache *StateCache
	db    *sessionlog.DB
}

// NewServer serves cache snapshots and, if db is non-nil, session history.
func NewServer(cache *StateCache, db *sessionlog.DB) *Server {
	return &Server{cache: cache, db: db}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/controls", s.controlsHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	mux.HandleFunc("/cycles", s.cyclesHandler)
	mux.HandleFunc("/alerts", s.alertsHandler)
	mux.HandleFunc("/healthz", s.healthHandler)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encode response: %v", err), http.StatusInternalServerError)
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (s *Server) controlsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	cs, ok := s.cache.Latest()
	if !ok {
		http.Error(w, "no cycle has run yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, cs)
}

func (s *Server) sessionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "session logging disabled", http.StatusNotFound)
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		http.Error(w, fmt.Sprintf("list sessions: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, sessions)
}

func (s *Server) cyclesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "session logging disabled", http.StatusNotFound)
		return
	}
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	cycles, err := s.db.Cycles(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("list cycles: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cycles)
}

func (s *Server) alertsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.db == nil {
		http.Error(w, "session logging disabled", http.StatusNotFound)
		return
	}
	id := r.URL.Query().Get("session")
	if id == "" {
		http.Error(w, "missing session parameter", http.StatusBadRequest)
		return
	}
	alerts, err := s.db.Alerts(id)
	if err != nil {
		http.Error(w, fmt.Sprintf("list alerts: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, alerts)
}
