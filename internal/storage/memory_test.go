package storage

import (
	"context"
	"testing"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

func seedMemory(t *testing.T, m *Memory, table string, recs ...*entity.Record) {
	t.Helper()
	ctx := context.Background()
	if err := m.EnsureTable(ctx, table, nil); err != nil {
		t.Fatalf("EnsureTable() error: %v", err)
	}
	for _, rec := range recs {
		if err := m.Insert(ctx, table, nil, rec); err != nil {
			t.Fatalf("Insert() error: %v", err)
		}
	}
}

func TestMemoryPage_PropertyMatchesJSONValues(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	seedMemory(t, m, "whiteboards",
		&entity.Record{
			ID: "wb1", Created: now, Updated: now,
			Fields: map[string]any{
				"drawing": map[string]any{"strokes": []any{1.0, 2.0}},
			},
		},
		&entity.Record{
			ID: "wb2", Created: now.Add(time.Second), Updated: now,
			Fields: map[string]any{
				"drawing": map[string]any{"strokes": []any{}},
			},
		},
	)

	// Equality on a JSON field must be structural; both sides arrive as
	// map[string]any from JSON decoding.
	q := entity.Query{
		Property: "drawing",
		Value:    map[string]any{"strokes": []any{1.0, 2.0}},
	}
	page, err := m.Page(context.Background(), "whiteboards", nil, q, 10, 0)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "wb1" {
		t.Fatalf("Page() = %+v, want the single matching record", page)
	}

	q.Value = map[string]any{"strokes": []any{3.0}}
	page, err = m.Page(context.Background(), "whiteboards", nil, q, 10, 0)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("Page() = %+v, want no match", page)
	}
}

func TestMemoryPage_ScalarProperty(t *testing.T) {
	m := NewMemory()
	now := time.Now().UTC()
	seedMemory(t, m, "teams",
		&entity.Record{ID: "t1", Created: now, Fields: map[string]any{"number": 2122.0}},
		&entity.Record{ID: "t2", Created: now.Add(time.Second), Fields: map[string]any{"number": 254.0}},
	)

	page, err := m.Page(context.Background(), "teams", nil,
		entity.Query{Property: "number", Value: 2122.0}, 10, 0)
	if err != nil {
		t.Fatalf("Page() error: %v", err)
	}
	if len(page) != 1 || page[0].ID != "t1" {
		t.Fatalf("Page() = %+v, want t1 only", page)
	}
}
