package entity

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper deletes records whose lifetime hint has elapsed. Deletions go
// through Struct.Delete so versions are cleaned up and delete events fire.
type Sweeper struct {
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}

	now func() time.Time // test hook
}

func NewSweeper(interval time.Duration) *Sweeper {
	return &Sweeper{interval: interval, now: time.Now}
}

// Start begins sweeping in the background.
func (s *Sweeper) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the sweep loop and waits for any in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans every registered store and deletes expired records.
// It returns the number of records removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := s.now()
	removed := 0
	for _, st := range Registered() {
		if !st.Built() {
			continue
		}
		var expired []string
		stream := st.AllStream(ctx, true)
		for rec := range stream.Records() {
			if rec.Expired(now) {
				expired = append(expired, rec.ID)
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("sweep scan failed", "struct", st.Name(), "error", err)
			continue
		}
		for _, id := range expired {
			if err := st.Delete(ctx, id); err != nil {
				slog.Error("sweep delete failed", "struct", st.Name(), "id", id, "error", err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		slog.Info("sweep complete", "removed", removed)
	}
	return removed
}
