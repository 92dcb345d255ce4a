package entity

import (
	"context"
	"testing"
	"time"
)

func TestSweeper_DeletesExpiredRecords(t *testing.T) {
	s, _ := newTestStruct(t, "notes", testSchema, Options{})
	ctx := context.Background()

	keep, err := s.New(ctx, map[string]any{"name": "keeper", "age": 1})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	doomed, err := s.New(ctx, map[string]any{"name": "doomed", "age": 2})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.SetLifetime(ctx, doomed.ID, 1000); err != nil {
		t.Fatalf("SetLifetime() error: %v", err)
	}

	sw := NewSweeper(time.Hour)
	sw.now = func() time.Time { return time.Now().Add(time.Minute) }

	if removed := sw.SweepOnce(ctx); removed != 1 {
		t.Fatalf("SweepOnce() = %d, want 1", removed)
	}

	if rec, _ := s.FromID(ctx, doomed.ID); rec != nil {
		t.Error("expired record still present")
	}
	if rec, _ := s.FromID(ctx, keep.ID); rec == nil {
		t.Error("unexpired record was deleted")
	}
}

func TestSweeper_ZeroLifetimeNeverExpires(t *testing.T) {
	s, _ := newTestStruct(t, "notes", testSchema, Options{})
	ctx := context.Background()

	if _, err := s.New(ctx, map[string]any{"name": "eternal", "age": 99}); err != nil {
		t.Fatalf("New() error: %v", err)
	}

	sw := NewSweeper(time.Hour)
	sw.now = func() time.Time { return time.Now().Add(1000 * time.Hour) }

	if removed := sw.SweepOnce(ctx); removed != 0 {
		t.Fatalf("SweepOnce() = %d, want 0", removed)
	}
}

func TestSweeper_StartStop(t *testing.T) {
	newTestStruct(t, "notes", testSchema, Options{})

	sw := NewSweeper(10 * time.Millisecond)
	sw.Start()
	sw.Start() // second Start is a no-op
	time.Sleep(30 * time.Millisecond)
	sw.Stop()
	sw.Stop() // second Stop is a no-op
}
