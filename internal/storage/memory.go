package storage

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

// Memory is an in-memory Backend with the same observable behavior as
// Postgres: rows keyed by table and id, pages ordered by creation time,
// versions in one global table. Used for ephemeral runs and tests.
type Memory struct {
	mu       sync.Mutex
	tables   map[string]map[string]*entity.Record
	versions []*entity.Version
}

var _ entity.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{tables: make(map[string]map[string]*entity.Record)}
}

func (m *Memory) EnsureTable(_ context.Context, table string, _ entity.Schema) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = make(map[string]*entity.Record)
	}
	return nil
}

func (m *Memory) Insert(_ context.Context, table string, _ entity.Schema, rec *entity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, table string, _ entity.Schema, id string) (*entity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tables[table][id].Clone(), nil
}

func (m *Memory) Update(_ context.Context, table string, _ entity.Schema, rec *entity.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table][rec.ID] = rec.Clone()
	return nil
}

func (m *Memory) Delete(_ context.Context, table string, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables[table], id)
	return nil
}

func (m *Memory) Clear(_ context.Context, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = make(map[string]*entity.Record)
	return nil
}

func (m *Memory) Page(_ context.Context, table string, _ entity.Schema, q entity.Query, limit, offset int) ([]*entity.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var all []*entity.Record
	for _, rec := range m.tables[table] {
		if q.Archived != nil && rec.Archived != *q.Archived {
			continue
		}
		// JSON-typed fields hold maps and slices, so equality must be
		// structural rather than ==.
		if q.Property != "" && !reflect.DeepEqual(rec.Fields[q.Property], q.Value) {
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

func (m *Memory) InsertVersion(_ context.Context, v *entity.Version) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	dup := *v
	dup.Snapshot = v.Snapshot.Clone()
	m.versions = append(m.versions, &dup)
	return nil
}

func (m *Memory) Versions(_ context.Context, structName, recordID string) ([]*entity.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*entity.Version
	for _, v := range m.versions {
		if v.Struct == structName && v.RecordID == recordID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *Memory) GetVersion(_ context.Context, versionID string) (*entity.Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions {
		if v.ID == versionID {
			return v, nil
		}
	}
	return nil, nil
}

func (m *Memory) DeleteVersion(_ context.Context, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = m.filterVersions(func(v *entity.Version) bool {
		return v.ID != versionID
	})
	return nil
}

func (m *Memory) DeleteVersions(_ context.Context, structName, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = m.filterVersions(func(v *entity.Version) bool {
		return !(v.Struct == structName && v.RecordID == recordID)
	})
	return nil
}

func (m *Memory) ClearVersions(_ context.Context, structName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = m.filterVersions(func(v *entity.Version) bool {
		return v.Struct != structName
	})
	return nil
}

func (m *Memory) PruneVersionsByCount(_ context.Context, structName, recordID string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var mine []*entity.Version
	for _, v := range m.versions {
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
	m.versions = m.filterVersions(func(v *entity.Version) bool {
		_, gone := evict[v.ID]
		return !gone
	})
	return nil
}

func (m *Memory) PruneVersionsByAge(_ context.Context, structName, recordID string, cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versions = m.filterVersions(func(v *entity.Version) bool {
		return !(v.Struct == structName && v.RecordID == recordID && v.Created.Before(cutoff))
	})
	return nil
}

// filterVersions keeps versions matching the predicate. Caller holds mu.
func (m *Memory) filterVersions(keep func(*entity.Version) bool) []*entity.Version {
	out := m.versions[:0]
	for _, v := range m.versions {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
