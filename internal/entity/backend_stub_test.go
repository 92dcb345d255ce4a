package entity

import (
	"context"
	"sort"
	"sync"
	"time"
)

// stubBackend is an in-memory Backend used by framework tests. It mimics the
// SQL backend's observable behavior: rows keyed by table and id, pages ordered
// by creation time, versions in a global table.
type stubBackend struct {
	mu       sync.Mutex
	tables   map[string]map[string]*Record
	versions []*Version
	failNext error // returned by the next operation, then cleared
}

func newStubBackend() *stubBackend {
	return &stubBackend{tables: make(map[string]map[string]*Record)}
}

func (b *stubBackend) fail() error {
	err := b.failNext
	b.failNext = nil
	return err
}

func (b *stubBackend) EnsureTable(ctx context.Context, table string, schema Schema) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	if _, ok := b.tables[table]; !ok {
		b.tables[table] = make(map[string]*Record)
	}
	return nil
}

func (b *stubBackend) Insert(ctx context.Context, table string, schema Schema, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	b.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (b *stubBackend) Get(ctx context.Context, table string, schema Schema, id string) (*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return nil, err
	}
	return b.tables[table][id].Clone(), nil
}

func (b *stubBackend) Update(ctx context.Context, table string, schema Schema, rec *Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	b.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (b *stubBackend) Delete(ctx context.Context, table string, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	delete(b.tables[table], id)
	return nil
}

func (b *stubBackend) Clear(ctx context.Context, table string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	b.tables[table] = make(map[string]*Record)
	return nil
}

func (b *stubBackend) Page(ctx context.Context, table string, schema Schema, q Query, limit, offset int) ([]*Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return nil, err
	}

	var all []*Record
	for _, rec := range b.tables[table] {
		if q.Archived != nil && rec.Archived != *q.Archived {
			continue
		}
		if q.Property != "" && rec.Fields[q.Property] != q.Value {
			continue
		}
		if q.Scope != "" && !rec.InScope(q.Scope) {
			continue
		}
		all = append(all, rec.Clone())
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].Created.Equal(all[j].Created) {
			return all[i].ID < all[j].ID
		}
		return all[i].Created.Before(all[j].Created)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (b *stubBackend) InsertVersion(ctx context.Context, v *Version) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	dup := *v
	dup.Snapshot = v.Snapshot.Clone()
	b.versions = append(b.versions, &dup)
	return nil
}

func (b *stubBackend) Versions(ctx context.Context, structName, recordID string) ([]*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return nil, err
	}
	// Insertion order is commit order; no need to sort by Created.
	var out []*Version
	for _, v := range b.versions {
		if v.Struct == structName && v.RecordID == recordID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (b *stubBackend) GetVersion(ctx context.Context, versionID string) (*Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return nil, err
	}
	for _, v := range b.versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, nil
}

func (b *stubBackend) DeleteVersion(ctx context.Context, versionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	out := b.versions[:0]
	for _, v := range b.versions {
		if v.ID != versionID {
			out = append(out, v)
		}
	}
	b.versions = out
	return nil
}

func (b *stubBackend) DeleteVersions(ctx context.Context, structName, recordID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	out := b.versions[:0]
	for _, v := range b.versions {
		if !(v.Struct == structName && v.RecordID == recordID) {
			out = append(out, v)
		}
	}
	b.versions = out
	return nil
}

func (b *stubBackend) ClearVersions(ctx context.Context, structName string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	out := b.versions[:0]
	for _, v := range b.versions {
		if v.Struct != structName {
			out = append(out, v)
		}
	}
	b.versions = out
	return nil
}

func (b *stubBackend) PruneVersionsByCount(ctx context.Context, structName, recordID string, keep int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	var mine []*Version
	for _, v := range b.versions {
		if v.Struct == structName && v.RecordID == recordID {
			mine = append(mine, v)
		}
	}
	if len(mine) <= keep {
		return nil
	}
	evict := make(map[string]struct{})
	for _, v := range mine[:len(mine)-keep] {
		evict[v.ID] = struct{}{}
	}
	out := b.versions[:0]
	for _, v := range b.versions {
		if _, gone := evict[v.ID]; !gone {
			out = append(out, v)
		}
	}
	b.versions = out
	return nil
}

func (b *stubBackend) PruneVersionsByAge(ctx context.Context, structName, recordID string, cutoff time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fail(); err != nil {
		return err
	}
	out := b.versions[:0]
	for _, v := range b.versions {
		if v.Struct == structName && v.RecordID == recordID && v.Created.Before(cutoff) {
			continue
		}
		out = append(out, v)
	}
	b.versions = out
	return nil
}
