// Package entity implements the data-access and live-synchronization core:
// typed records over relational tables with versioning, soft-archival,
// universe scoping, attribute tagging, and mutation events.
package entity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/driveteam/scoutd/internal/idgen"
)

// defaultPageSize is how many rows a streaming read fetches per storage query.
const defaultPageSize = 100

// Options configure a store at registration time.
type Options struct {
	// Versioned enables pre-update snapshots subject to Retention.
	Versioned bool
	Retention Retention
	// Sample marks a test-only store; the dispatcher skips role resolution
	// for sample stores and they are excluded from backups.
	Sample bool
	// PageSize overrides the streaming page size.
	PageSize int
}

// Struct is one entity store: it owns exactly one table's schema and all CRUD,
// query, archival and versioning operations against it. Exactly one instance
// exists per name; construct with New at startup and Build before use.
type Struct struct {
	name    string
	schema  Schema
	opts    Options
	backend Backend
	built   atomic.Bool
	locks   idLocks
}

// Name returns the store's registered name, which is also its table name.
func (s *Struct) Name() string { return s.name }

// Schema returns the store's field-type map.
func (s *Struct) Schema() Schema { return s.schema }

// Sample reports whether this is a test-only store.
func (s *Struct) Sample() bool { return s.opts.Sample }

// Built reports whether Build has completed.
func (s *Struct) Built() bool { return s.built.Load() }

func (s *Struct) pageSize() int {
	if s.opts.PageSize > 0 {
		return s.opts.PageSize
	}
	return defaultPageSize
}

// Build ensures the backing table exists and wires the store to its backend.
// Building twice is a programming error and panics with *FatalStructError.
func (s *Struct) Build(ctx context.Context, backend Backend) error {
	if s.built.Load() {
		fatalf(s.name, "built twice")
	}
	if err := backend.EnsureTable(ctx, s.name, s.schema); err != nil {
		return storageErr("ensure table "+s.name, err)
	}
	s.backend = backend
	s.built.Store(true)
	return nil
}

func (s *Struct) checkBuilt() error {
	if !s.built.Load() {
		return &StorageError{Op: s.name, Err: fmt.Errorf("store not built")}
	}
	return nil
}

// New inserts a record with generated id and timestamps plus the supplied
// entity fields. All schema fields are required; missing or mistyped fields
// produce a *ValidationError. Emits a create event on success.
func (s *Struct) New(ctx context.Context, fields map[string]any) (*Record, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	if err := s.schema.CheckRequired(fields); err != nil {
		return nil, err
	}
	if err := s.schema.CheckFields(fields); err != nil {
		return nil, err
	}

	id, err := idgen.Generate()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	rec := &Record{
		ID:         id,
		Created:    now,
		Updated:    now,
		Archived:   false,
		Scopes:     []string{},
		Attributes: []string{},
		Lifetime:   0,
		Fields:     copyFields(fields),
	}
	if err := s.backend.Insert(ctx, s.name, s.schema, rec); err != nil {
		return nil, storageErr("insert "+s.name, err)
	}
	s.emit(Event{Struct: s.name, Kind: KindCreate, Record: rec.Clone(), ID: rec.ID})
	return rec, nil
}

// FromID returns the record or nil if not found; absence is never an error.
func (s *Struct) FromID(ctx context.Context, id string) (*Record, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	rec, err := s.backend.Get(ctx, s.name, s.schema, id)
	if err != nil {
		return nil, storageErr("get "+s.name, err)
	}
	return rec, nil
}

// All returns every non-archived record, or every record when includeArchived
// is set, materialized as a list.
func (s *Struct) All(ctx context.Context, includeArchived bool) ([]*Record, error) {
	return s.AllStream(ctx, includeArchived).AwaitAll(ctx)
}

// AllStream is the streaming variant of All: rows are pushed as pages arrive
// from storage, and the stream's channel closes as the end-of-stream marker.
func (s *Struct) AllStream(ctx context.Context, includeArchived bool) *Stream {
	q := Query{}
	if !includeArchived {
		f := false
		q.Archived = &f
	}
	return s.stream(ctx, q)
}

// Archived returns only archived records.
func (s *Struct) Archived(ctx context.Context) ([]*Record, error) {
	return s.ArchivedStream(ctx).AwaitAll(ctx)
}

// ArchivedStream is the streaming variant of Archived.
func (s *Struct) ArchivedStream(ctx context.Context) *Stream {
	t := true
	return s.stream(ctx, Query{Archived: &t})
}

// FromProperty returns records whose named field equals value. The key must
// be a schema field.
func (s *Struct) FromProperty(ctx context.Context, key string, value any) ([]*Record, error) {
	return s.FromPropertyStream(ctx, key, value).AwaitAll(ctx)
}

// FromPropertyStream is the streaming variant of FromProperty.
func (s *Struct) FromPropertyStream(ctx context.Context, key string, value any) *Stream {
	if _, ok := s.schema[key]; !ok {
		st := newStream(0)
		st.fail(&ValidationError{Errors: []FieldError{{Field: key, Message: "unknown field"}}})
		st.end()
		return st
	}
	return s.stream(ctx, Query{Property: key, Value: value})
}

// FromScope returns records visible within the given universe.
func (s *Struct) FromScope(ctx context.Context, scope string) ([]*Record, error) {
	return s.FromScopeStream(ctx, scope).AwaitAll(ctx)
}

// FromScopeStream is the streaming variant of FromScope.
func (s *Struct) FromScopeStream(ctx context.Context, scope string) *Stream {
	return s.stream(ctx, Query{Scope: scope})
}

// stream launches a producer goroutine paging rows from storage into a Stream.
func (s *Struct) stream(ctx context.Context, q Query) *Stream {
	st := newStream(s.pageSize())
	if err := s.checkBuilt(); err != nil {
		st.fail(err)
		st.end()
		return st
	}
	go func() {
		defer st.end()
		limit := s.pageSize()
		for offset := 0; ; offset += limit {
			page, err := s.backend.Page(ctx, s.name, s.schema, q, limit, offset)
			if err != nil {
				st.fail(storageErr("page "+s.name, err))
				return
			}
			for _, rec := range page {
				if !st.push(ctx, rec) {
					return
				}
			}
			if len(page) < limit {
				return
			}
		}
	}()
	return st
}

// Update merges partial fields into the record, bumps updated, persists, and
// pushes a version snapshot of the pre-update state subject to retention.
// Returns nil if the record does not exist. Emits an update event with
// before/after on success.
func (s *Struct) Update(ctx context.Context, id string, partial map[string]any) (*Record, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	if err := s.schema.CheckFields(partial); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.FromID(ctx, id)
	if err != nil || cur == nil {
		return nil, err
	}

	if err := s.snapshot(ctx, cur); err != nil {
		return nil, err
	}

	next := cur.Clone()
	for k, v := range partial {
		next.Fields[k] = v
	}
	next.Updated = s.bump(cur.Updated)

	if err := s.backend.Update(ctx, s.name, s.schema, next); err != nil {
		return nil, storageErr("update "+s.name, err)
	}
	s.emit(Event{Struct: s.name, Kind: KindUpdate, Record: next.Clone(), Before: cur, ID: id})
	return next, nil
}

// SetArchive toggles the soft-delete flag, bumping updated. Emits an archive
// or restore event depending on direction. Returns nil if the record does not
// exist; setting the flag to its current value is a no-op that still bumps
// updated.
func (s *Struct) SetArchive(ctx context.Context, id string, archived bool) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Archived = archived
		if archived {
			return KindArchive
		}
		return KindRestore
	})
}

// SetLifetime sets the record's garbage-collection hint in milliseconds.
func (s *Struct) SetLifetime(ctx context.Context, id string, ms int64) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Lifetime = ms
		return KindUpdate
	})
}

// AddAttributes adds tags to the record, deduplicated.
func (s *Struct) AddAttributes(ctx context.Context, id string, attrs ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Attributes = addAll(rec.Attributes, attrs)
		return KindUpdate
	})
}

// RemoveAttributes removes tags from the record.
func (s *Struct) RemoveAttributes(ctx context.Context, id string, attrs ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Attributes = removeAll(rec.Attributes, attrs)
		return KindUpdate
	})
}

// SetAttributes replaces the record's tags with the deduplicated form of attrs.
func (s *Struct) SetAttributes(ctx context.Context, id string, attrs ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Attributes = dedupe(attrs)
		return KindUpdate
	})
}

// AddScopes adds tenant universes to the record, deduplicated.
func (s *Struct) AddScopes(ctx context.Context, id string, scopes ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Scopes = addAll(rec.Scopes, scopes)
		return KindUpdate
	})
}

// RemoveScopes removes tenant universes from the record.
func (s *Struct) RemoveScopes(ctx context.Context, id string, scopes ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Scopes = removeAll(rec.Scopes, scopes)
		return KindUpdate
	})
}

// SetScopes replaces the record's universes with the deduplicated form of scopes.
func (s *Struct) SetScopes(ctx context.Context, id string, scopes ...string) (*Record, error) {
	return s.mutate(ctx, id, func(rec *Record) Kind {
		rec.Scopes = dedupe(scopes)
		return KindUpdate
	})
}

// mutate applies fn to the current record state under the per-id lock, bumps
// updated, persists, and emits the event kind fn returns. Bookkeeping
// mutations do not create version snapshots; only field updates do.
func (s *Struct) mutate(ctx context.Context, id string, fn func(*Record) Kind) (*Record, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.FromID(ctx, id)
	if err != nil || cur == nil {
		return nil, err
	}

	next := cur.Clone()
	kind := fn(next)
	next.Updated = s.bump(cur.Updated)

	if err := s.backend.Update(ctx, s.name, s.schema, next); err != nil {
		return nil, storageErr("update "+s.name, err)
	}
	s.emit(Event{Struct: s.name, Kind: kind, Record: next.Clone(), Before: cur, ID: id})
	return next, nil
}

// Delete removes the row and its entire version history permanently. Deleting
// a missing record is a no-op. Irreversible.
func (s *Struct) Delete(ctx context.Context, id string) error {
	if err := s.checkBuilt(); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	cur, err := s.FromID(ctx, id)
	if err != nil || cur == nil {
		return err
	}
	if err := s.backend.DeleteVersions(ctx, s.name, id); err != nil {
		return storageErr("delete versions "+s.name, err)
	}
	if err := s.backend.Delete(ctx, s.name, id); err != nil {
		return storageErr("delete "+s.name, err)
	}
	s.emit(Event{Struct: s.name, Kind: KindDelete, Before: cur, ID: id})
	return nil
}

// Clear removes every row and version snapshot for this store. Destructive;
// used for test fixtures. Confirmation is a caller concern.
func (s *Struct) Clear(ctx context.Context) error {
	if err := s.checkBuilt(); err != nil {
		return err
	}
	if err := s.backend.ClearVersions(ctx, s.name); err != nil {
		return storageErr("clear versions "+s.name, err)
	}
	if err := s.backend.Clear(ctx, s.name); err != nil {
		return storageErr("clear "+s.name, err)
	}
	return nil
}

// Versions returns the record's snapshots, oldest first.
func (s *Struct) Versions(ctx context.Context, id string) ([]*Version, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	vs, err := s.backend.Versions(ctx, s.name, id)
	if err != nil {
		return nil, storageErr("versions "+s.name, err)
	}
	return vs, nil
}

// RestoreVersion copies the snapshot's fields back onto the live record. The
// copy itself is a normal update, so a new snapshot is taken for the state
// being replaced. Emits a restore-version event, distinct from archival
// restore. Returns nil if the version or its record no longer exists.
func (s *Struct) RestoreVersion(ctx context.Context, versionID string) (*Record, error) {
	if err := s.checkBuilt(); err != nil {
		return nil, err
	}
	v, err := s.backend.GetVersion(ctx, versionID)
	if err != nil {
		return nil, storageErr("get version "+s.name, err)
	}
	if v == nil || v.Struct != s.name {
		return nil, nil
	}
	rec, err := s.Update(ctx, v.RecordID, v.Snapshot.Fields)
	if err != nil || rec == nil {
		return nil, err
	}
	s.emit(Event{Struct: s.name, Kind: KindRestoreVersion, Record: rec.Clone(), Before: v.Snapshot, ID: rec.ID})
	return rec, nil
}

// DeleteVersion removes one snapshot only; the live record is untouched.
func (s *Struct) DeleteVersion(ctx context.Context, versionID string) error {
	if err := s.checkBuilt(); err != nil {
		return err
	}
	v, err := s.backend.GetVersion(ctx, versionID)
	if err != nil {
		return storageErr("get version "+s.name, err)
	}
	if v == nil || v.Struct != s.name {
		return nil
	}
	if err := s.backend.DeleteVersion(ctx, versionID); err != nil {
		return storageErr("delete version "+s.name, err)
	}
	s.emit(Event{Struct: s.name, Kind: KindDeleteVersion, ID: v.RecordID})
	return nil
}

// snapshot stores the pre-update state and synchronously enforces retention,
// so history size stays bounded without a separate sweep.
func (s *Struct) snapshot(ctx context.Context, cur *Record) error {
	if !s.opts.Versioned {
		return nil
	}
	vid, err := idgen.Generate()
	if err != nil {
		return err
	}
	v := &Version{
		ID:       vid,
		Struct:   s.name,
		RecordID: cur.ID,
		Created:  time.Now().UTC(),
		Snapshot: cur.Clone(),
	}
	if err := s.backend.InsertVersion(ctx, v); err != nil {
		return storageErr("insert version "+s.name, err)
	}
	if !s.opts.Retention.Bounded() {
		return nil
	}
	if s.opts.Retention.Keep > 0 {
		if err := s.backend.PruneVersionsByCount(ctx, s.name, cur.ID, s.opts.Retention.Keep); err != nil {
			return storageErr("prune versions "+s.name, err)
		}
	}
	if s.opts.Retention.MaxAge > 0 {
		cutoff := time.Now().UTC().Add(-s.opts.Retention.MaxAge)
		if err := s.backend.PruneVersionsByAge(ctx, s.name, cur.ID, cutoff); err != nil {
			return storageErr("prune versions "+s.name, err)
		}
	}
	return nil
}

// bump returns the current time, clamped so updated never moves backwards.
func (s *Struct) bump(prev time.Time) time.Time {
	now := time.Now().UTC()
	if now.Before(prev) {
		return prev
	}
	return now
}

func (s *Struct) emit(evt Event) {
	DefaultBus().Publish(evt)
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// idLocks serializes mutations per record id, implementing the
// single-writer-per-record discipline. Locks are created on demand and freed
// when the last holder releases.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*idLock)
	}
	il, ok := l.locks[id]
	if !ok {
		il = &idLock{}
		l.locks[id] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
	return func() {
		il.mu.Unlock()
		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
