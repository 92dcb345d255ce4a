package entity

import (
	"context"
	"time"
)

// Query selects rows from one entity table. Filters are translated to the
// storage query; the framework never fetches-then-filters in memory.
type Query struct {
	// Archived filters on the soft-delete flag; nil means both.
	Archived *bool
	// Property/Value is an equality filter on one schema field.
	Property string
	Value    any
	// Scope selects records whose scopes array contains the given universe.
	Scope string
}

// Backend is the storage engine an entity store runs against. Implementations
// must provide row-level write atomicity; the framework layers no transaction
// of its own on top.
type Backend interface {
	// EnsureTable creates the store's table (bookkeeping columns plus schema
	// fields) if it does not exist.
	EnsureTable(ctx context.Context, table string, schema Schema) error

	Insert(ctx context.Context, table string, schema Schema, rec *Record) error
	// Get returns the record or nil if not found; absence is not an error.
	Get(ctx context.Context, table string, schema Schema, id string) (*Record, error)
	Update(ctx context.Context, table string, schema Schema, rec *Record) error
	Delete(ctx context.Context, table string, id string) error
	Clear(ctx context.Context, table string) error

	// Page returns up to limit records matching q, ordered by creation time,
	// starting at offset. Used by streaming reads.
	Page(ctx context.Context, table string, schema Schema, q Query, limit, offset int) ([]*Record, error)

	// Version history, kept in a global bookkeeping table.
	InsertVersion(ctx context.Context, v *Version) error
	Versions(ctx context.Context, structName, recordID string) ([]*Version, error)
	GetVersion(ctx context.Context, versionID string) (*Version, error)
	DeleteVersion(ctx context.Context, versionID string) error
	DeleteVersions(ctx context.Context, structName, recordID string) error
	ClearVersions(ctx context.Context, structName string) error
	PruneVersionsByCount(ctx context.Context, structName, recordID string, keep int) error
	PruneVersionsByAge(ctx context.Context, structName, recordID string, cutoff time.Time) error
}
