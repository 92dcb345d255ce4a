// Package server is the HTTP boundary: the action dispatcher on POST /struct,
// the live channel on GET /sse, and the operational endpoints.
package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driveteam/scoutd/internal/live"
	"github.com/driveteam/scoutd/internal/metrics"
	"github.com/driveteam/scoutd/internal/perm"
	"github.com/driveteam/scoutd/internal/session"
)

// Server dispatches entity actions and live subscriptions for the registered
// stores.
type Server struct {
	sessions *session.Manager
	hub      *live.Hub
	rules    *perm.Ruleset
	openRead map[string]bool
}

// New returns a Server. Stores named in openRead are readable by anyone,
// unfiltered; everything else goes through role-based filtering.
func New(sessions *session.Manager, hub *live.Hub, rules *perm.Ruleset, openRead []string) *Server {
	open := make(map[string]bool, len(openRead))
	for _, name := range openRead {
		open[name] = true
	}
	if rules == nil {
		rules = &perm.Ruleset{}
	}
	return &Server{
		sessions: sessions,
		hub:      hub,
		rules:    rules,
		openRead: open,
	}
}

// Handler returns an http.Handler with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /struct", s.handleStruct)
	mux.HandleFunc("GET /sse", s.handleLive)
	mux.HandleFunc("POST /sse/ack", s.handleAck)
	mux.HandleFunc("POST /login", s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	return metrics.Middleware(s.withSession(mux))
}

// withSession resolves the caller's session once per request and stashes the
// identity on the context; anonymous callers carry a nil identity.
func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ident, err := s.sessions.Identify(r)
		if err != nil {
			writeFailure(w, http.StatusInternalServerError, "session resolution failed")
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithIdentity(r.Context(), ident)))
	})
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleLogin handles POST /login. Authentication itself lives with an
// external identity system; this endpoint only binds a resolved account to a
// new session.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Account string `json:"account"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Account == "" {
		writeFailure(w, http.StatusBadRequest, "account is required")
		return
	}
	ident, err := s.sessions.Lookup(r.Context(), in.Account)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, "account resolution failed")
		return
	}
	if ident == nil {
		writeFailure(w, http.StatusOK, "unknown account")
		return
	}
	s.sessions.Issue(w, in.Account)
	writeJSON(w, http.StatusOK, result{Success: true})
}

// handleLogout handles POST /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if ssid := session.SSID(r); ssid != "" {
		s.sessions.Revoke(ssid)
		s.hub.Drop(ssid)
	}
	writeJSON(w, http.StatusOK, result{Success: true})
}

// result is the non-streaming response envelope.
type result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, result{Success: false, Message: message})
}

func writeSuccess(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, result{Success: true, Data: data})
}
