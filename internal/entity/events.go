package entity

import "sync"

// Kind enumerates the mutation events a store can emit.
type Kind string

const (
	KindCreate         Kind = "create"
	KindUpdate         Kind = "update"
	KindArchive        Kind = "archive"
	KindRestore        Kind = "restore"
	KindDelete         Kind = "delete"
	KindRestoreVersion Kind = "restore-version"
	KindDeleteVersion  Kind = "delete-version"
)

// Event is one committed mutation on an entity store. Events are delivered in
// the order their mutations committed, per store.
type Event struct {
	Struct string
	Kind   Kind
	Record *Record // state after the mutation; nil for delete
	Before *Record // state before the mutation; set for update and restore-version
	ID     string  // record id, always set
}

// Bus fans mutation events out to subscribers. Stores publish synchronously
// in commit order; slow subscribers drop events rather than blocking a
// mutation, so durable consumers must read promptly.
type Bus struct {
	mu   sync.RWMutex
	subs map[*busSub]struct{}
}

type busSub struct {
	ch chan Event
}

// NewBus returns an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*busSub]struct{})}
}

// Subscribe registers a subscriber and returns its channel plus a cancel
// function. The channel is buffered; events overflowing the buffer are dropped
// for that subscriber only.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	sub := &busSub{ch: make(chan Event, 256)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers the event to every subscriber.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			// Drop if the subscriber is behind.
		}
	}
}
