// Package live fans mutation events out to connected push consumers. Each
// logical connection is keyed by session id and survives transport drops: the
// consumer reattaches with its last seen sequence id and the unacknowledged
// backlog is replayed from a bounded per-connection ring.
package live

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

const (
	// replayCacheSize is the number of undelivered events kept per
	// connection for replay after a reconnect.
	replayCacheSize = 256

	// channelBuffer bounds the attached delivery channel. Slow consumers
	// drop from the channel; the ring preserves the tail.
	channelBuffer = 64

	// idleTimeout is how long a detached connection is retained before
	// the janitor destroys it.
	idleTimeout = 5 * time.Minute

	janitorInterval = time.Minute
)

// Event is a single filtered payload addressed to one connection.
type Event struct {
	Seq   uint64
	Topic string // "<struct>.<kind>"
	Data  []byte // JSON-encoded view
}

// FilterFunc decides whether a mutation is visible to a connection and, if
// so, returns the encoded payload. Returning false suppresses delivery
// entirely, including from the replay cache.
type FilterFunc func(evt entity.Event) ([]byte, bool)

// Connection is one logical consumer identified by session id. A transport
// (an SSE response, typically) attaches to receive events and detaches on
// disconnect; the connection itself persists until acked out, closed, or
// reaped by the idle janitor.
type Connection struct {
	ID string

	mu       sync.Mutex
	nextSeq  uint64
	ring     []Event // oldest first, bounded by replayCacheSize
	ch       chan Event
	attached bool
	lastSeen time.Time
	topics   []string
	filter   FilterFunc
}

// Hub routes store events to connections.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Connection

	stop chan struct{}
	once sync.Once
}

func NewHub() *Hub {
	h := &Hub{
		conns: make(map[string]*Connection),
		stop:  make(chan struct{}),
	}
	go h.janitor()
	return h
}

// Close stops the janitor and detaches every connection.
func (h *Hub) Close() {
	h.once.Do(func() { close(h.stop) })
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.Detach()
		delete(h.conns, id)
	}
}

// Register returns the logical connection for a session id, creating it if
// needed. The filter and topic patterns are refreshed on every call so a
// reconnect picks up changed roles.
func (h *Hub) Register(ssid string, topics []string, filter FilterFunc) *Connection {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[ssid]
	if !ok {
		c = &Connection{ID: ssid}
		h.conns[ssid] = c
	}
	c.mu.Lock()
	c.topics = topics
	c.filter = filter
	c.lastSeen = time.Now()
	c.mu.Unlock()
	return c
}

// Lookup returns the connection for a session id, or nil.
func (h *Hub) Lookup(ssid string) *Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.conns[ssid]
}

// Drop destroys a connection immediately.
func (h *Hub) Drop(ssid string) {
	h.mu.Lock()
	c := h.conns[ssid]
	delete(h.conns, ssid)
	h.mu.Unlock()
	if c != nil {
		c.Detach()
	}
}

// Run consumes events from the bus until ctx is cancelled or the hub closes.
func (h *Hub) Run(ctx context.Context, bus *entity.Bus) {
	events, cancel := bus.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.stop:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			h.Broadcast(evt)
		}
	}
}

// Broadcast routes one mutation to every connection whose filter admits it.
func (h *Hub) Broadcast(evt entity.Event) {
	topic := Topic(evt)
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.offer(topic, evt)
	}
}

// Topic names the bus event in dotted form, e.g. "teams.update".
func Topic(evt entity.Event) string {
	return evt.Struct + "." + string(evt.Kind)
}

func (h *Hub) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case now := <-ticker.C:
			h.reapIdle(now)
		}
	}
}

func (h *Hub) reapIdle(now time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.conns {
		c.mu.Lock()
		stale := !c.attached && now.Sub(c.lastSeen) > idleTimeout
		c.mu.Unlock()
		if stale {
			delete(h.conns, id)
			slog.Debug("reaped idle live connection", "ssid", id)
		}
	}
}

// offer runs the connection's filter and, on a match, assigns the next
// sequence id, appends to the replay ring, and attempts live delivery.
func (c *Connection) offer(topic string, evt entity.Event) {
	c.mu.Lock()
	filter := c.filter
	if !matchesTopics(c.topics, topic) || filter == nil {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	// Run the filter outside the lock; it may encode a full record.
	payload, ok := filter(evt)
	if !ok {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextSeq++
	out := Event{Seq: c.nextSeq, Topic: topic, Data: payload}
	c.ring = append(c.ring, out)
	if len(c.ring) > replayCacheSize {
		c.ring = c.ring[len(c.ring)-replayCacheSize:]
	}
	if c.attached {
		select {
		case c.ch <- out:
		default:
			// Slow consumer. The ring keeps the event for replay.
		}
	}
}

// Attach binds a transport to the connection and returns the delivery
// channel. Ring entries with Seq > after are queued first so a reconnecting
// consumer sees its unacknowledged backlog in order.
func (c *Connection) Attach(after uint64) <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ch = make(chan Event, channelBuffer)
	c.attached = true
	c.lastSeen = time.Now()
	for _, evt := range c.ring {
		if evt.Seq <= after {
			continue
		}
		select {
		case c.ch <- evt:
		default:
		}
	}
	return c.ch
}

// Detach unbinds the transport. The connection and its ring survive until
// acked, dropped, or reaped.
func (c *Connection) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attached = false
	c.ch = nil
	c.lastSeen = time.Now()
}

// Ack evicts every ring entry with Seq <= seq.
func (c *Connection) Ack(seq uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = time.Now()
	i := 0
	for i < len(c.ring) && c.ring[i].Seq <= seq {
		i++
	}
	c.ring = c.ring[i:]
}

// Pending returns a copy of the unacknowledged backlog.
func (c *Connection) Pending() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.ring))
	copy(out, c.ring)
	return out
}

// matchesTopics reports whether any pattern matches. An empty pattern list
// matches everything.
func matchesTopics(patterns []string, topic string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if matchTopicPattern(p, topic) {
			return true
		}
	}
	return false
}

// matchTopicPattern matches a dot-separated topic against a pattern with "*"
// as a single-segment wildcard and ">" as a multi-segment suffix wildcard.
func matchTopicPattern(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	patParts := strings.Split(pattern, ".")
	topParts := strings.Split(topic, ".")
	for i, pp := range patParts {
		if pp == ">" {
			return i < len(topParts)
		}
		if i >= len(topParts) {
			return false
		}
		if pp != "*" && pp != topParts[i] {
			return false
		}
	}
	return len(patParts) == len(topParts)
}
