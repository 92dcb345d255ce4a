package entity

import (
	"context"
	"sync"
)

// Stream is a push-based sequence of records. The producer reads pages from
// storage and pushes each row as retrieved; the channel closing is the
// explicit end-of-stream marker, distinct from "no data". Check Err after the
// channel closes.
type Stream struct {
	ch  chan *Record
	mu  sync.Mutex
	err error
}

func newStream(buffer int) *Stream {
	return &Stream{ch: make(chan *Record, buffer)}
}

// Records returns the channel the producer pushes rows onto. It is closed
// when the stream ends.
func (s *Stream) Records() <-chan *Record { return s.ch }

// Err returns the error that terminated the stream, if any. Valid only after
// Records is closed.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// push delivers one record, aborting if ctx is cancelled.
func (s *Stream) push(ctx context.Context, rec *Record) bool {
	select {
	case s.ch <- rec:
		return true
	case <-ctx.Done():
		s.fail(ctx.Err())
		return false
	}
}

func (s *Stream) end() { close(s.ch) }

// StreamOf returns an already-ended stream yielding the given records in
// order. Useful for composing stream consumers over materialized sets.
func StreamOf(recs ...*Record) *Stream {
	s := newStream(len(recs))
	for _, rec := range recs {
		s.ch <- rec
	}
	s.end()
	return s
}

// AwaitAll materializes the stream into a slice. The context bounds the wait;
// on timeout already-delivered elements are returned along with the context
// error.
func (s *Stream) AwaitAll(ctx context.Context) ([]*Record, error) {
	var out []*Record
	for {
		select {
		case rec, ok := <-s.ch:
			if !ok {
				return out, s.Err()
			}
			out = append(out, rec)
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
