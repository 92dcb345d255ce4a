package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/live"
	"github.com/driveteam/scoutd/internal/metrics"
	"github.com/driveteam/scoutd/internal/perm"
	"github.com/driveteam/scoutd/internal/session"
)

// keepaliveInterval is how often comment frames are sent to keep
// intermediaries from timing the channel out.
const keepaliveInterval = 15 * time.Second

// handleLive handles GET /sse: the per-session live channel. The ssid cookie
// names the logical connection; reconnecting with Last-Event-ID replays the
// unacknowledged backlog.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	ssid := session.SSID(r)
	ident := session.FromContext(r.Context())
	if ssid == "" {
		writeFailure(w, http.StatusBadRequest, "ssid cookie required")
		return
	}

	var topics []string
	if q := r.URL.Query().Get("topics"); q != "" {
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics = append(topics, t)
			}
		}
	}

	conn := s.hub.Register(ssid, topics, s.liveFilter(ident))
	defer conn.Detach()

	var after uint64
	if lastID := r.Header.Get("Last-Event-ID"); lastID != "" {
		after, _ = strconv.ParseUint(lastID, 10, 64)
	}
	for _, evt := range conn.Pending() {
		if evt.Seq > after {
			metrics.LiveReplayed.Inc()
		}
	}
	ch := conn.Attach(after)

	metrics.LiveConnections.Inc()
	defer metrics.LiveConnections.Dec()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	_ = rc.Flush()

	ctx := r.Context()
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			writeFrame(w, evt)
			_ = rc.Flush()
		case <-keepalive.C:
			fmt.Fprint(w, ":keepalive\n\n")
			_ = rc.Flush()
		}
	}
}

// writeFrame writes one event in id/event/data form.
func writeFrame(w http.ResponseWriter, evt live.Event) {
	fmt.Fprintf(w, "id:%d\n", evt.Seq)
	fmt.Fprintf(w, "event:%s\n", evt.Topic)
	fmt.Fprintf(w, "data:%s\n\n", evt.Data)
}

// handleAck handles POST /sse/ack: the client acknowledges the highest
// sequence id it has processed, evicting the replay backlog up to it.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	ssid := session.SSID(r)
	if ssid == "" {
		writeFailure(w, http.StatusBadRequest, "ssid cookie required")
		return
	}
	var in struct {
		ID uint64 `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	conn := s.hub.Lookup(ssid)
	if conn == nil {
		writeFailure(w, http.StatusOK, "no live connection")
		return
	}
	conn.Ack(in.ID)
	writeJSON(w, http.StatusOK, result{Success: true})
}

// liveFilter builds the per-connection visibility closure. Each consumer's
// payloads go through the same role filtering as queries; records outside the
// caller's universes are not delivered at all.
func (s *Server) liveFilter(ident *session.Identity) live.FilterFunc {
	var roles []perm.Role
	admin := false
	if ident != nil {
		roles = ident.Roles
		admin = ident.Admin
	}
	return func(evt entity.Event) ([]byte, bool) {
		store := entity.Lookup(evt.Struct)
		sample := store != nil && store.Sample()
		bypass := admin || sample || s.openRead[evt.Struct] ||
			s.rules.Bypassed(evt.Struct, "read", evt.Record)

		var data map[string]any
		switch {
		case evt.Record != nil && bypass:
			data = perm.View(evt.Record, nil, true)
		case evt.Record != nil:
			view, ok := perm.Filter(roles, evt.Struct, "read", evt.Record)
			if !ok {
				return nil, false
			}
			data = view
		case evt.Before != nil && !bypass:
			// Deletes carry no live record; visibility is decided on the
			// final pre-delete state, but only the id is delivered.
			if _, ok := perm.Filter(roles, evt.Struct, "read", evt.Before); !ok {
				return nil, false
			}
		case !bypass:
			if !perm.Allowed(roles, evt.Struct, "read") {
				return nil, false
			}
		}

		payload, err := json.Marshal(map[string]any{
			"event":  string(evt.Kind),
			"struct": evt.Struct,
			"id":     evt.ID,
			"data":   data,
		})
		if err != nil {
			return nil, false
		}
		return payload, true
	}
}
