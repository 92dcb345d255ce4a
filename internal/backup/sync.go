package backup

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Destination receives a complete export payload.
type Destination interface {
	Write(ctx context.Context, data []byte) error
}

// DirDestination writes exports to timestamped files under a local directory.
type DirDestination struct {
	dir string
}

func NewDirDestination(dir string) (*DirDestination, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	return &DirDestination{dir: dir}, nil
}

func (d *DirDestination) Write(_ context.Context, data []byte) error {
	name := fmt.Sprintf("scoutd-%s.jsonl", time.Now().UTC().Format("20060102-150405"))
	path := filepath.Join(d.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("finalize backup: %w", err)
	}
	return nil
}

// Scheduler periodically exports all registered stores to a destination.
type Scheduler struct {
	dest     Destination
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(dest Destination, interval time.Duration) *Scheduler {
	return &Scheduler{dest: dest, interval: interval}
}

// Start begins the backup loop. An initial export runs immediately.
func (s *Scheduler) Start() {
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the loop and waits for any in-flight export to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.syncOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncOnce(ctx)
		}
	}
}

func (s *Scheduler) syncOnce(ctx context.Context) {
	start := time.Now()

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, &buf); err != nil {
		slog.Error("backup export failed", "error", err)
		return
	}
	if err := s.dest.Write(ctx, buf.Bytes()); err != nil {
		slog.Error("backup write failed", "error", err)
		return
	}

	slog.Info("backup complete", "bytes", buf.Len(), "duration", time.Since(start))
}
