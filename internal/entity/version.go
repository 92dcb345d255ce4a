package entity

import (
	"time"
)

// Version is an immutable snapshot of a record's state captured as a side
// effect of an update, holding the pre-update values. Snapshots are ordered by
// creation time and evicted per the store's retention policy.
type Version struct {
	ID       string         `json:"id"` // version id, distinct from the record id
	Struct   string         `json:"struct"`
	RecordID string         `json:"record_id"`
	Created  time.Time      `json:"created"`
	Snapshot *Record        `json:"snapshot"`
	Fields   map[string]any `json:"-"` // convenience view of Snapshot.Fields
}

// Retention bounds how many version snapshots are kept per record. Exactly one
// of Keep or MaxAge should be set; zero values mean that dimension is
// unbounded.
type Retention struct {
	Keep   int           // keep the N most recent snapshots
	MaxAge time.Duration // evict snapshots older than this
}

// Bounded reports whether the policy evicts anything at all.
func (r Retention) Bounded() bool {
	return r.Keep > 0 || r.MaxAge > 0
}
