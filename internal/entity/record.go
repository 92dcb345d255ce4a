package entity

import (
	"encoding/json"
	"time"
)

// Record is one row of an entity store plus the framework bookkeeping fields.
// Entity-specific values live in Fields, keyed by schema field name.
type Record struct {
	ID         string         `json:"id"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Archived   bool           `json:"archived"`
	Scopes     []string       `json:"scopes"`     // tenant universes the record is visible within
	Attributes []string       `json:"attributes"` // free-form tags, not enforced by schema
	Lifetime   int64          `json:"lifetime"`   // ms until eligible for garbage collection; 0 = forever
	Fields     map[string]any `json:"-"`
}

// Clone returns a deep copy of the record. Mutations on the copy do not
// affect the original.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	dup := *r
	dup.Scopes = append([]string(nil), r.Scopes...)
	dup.Attributes = append([]string(nil), r.Attributes...)
	if r.Fields != nil {
		dup.Fields = make(map[string]any, len(r.Fields))
		for k, v := range r.Fields {
			dup.Fields[k] = v
		}
	}
	return &dup
}

// InScope reports whether the record is visible within the given universe.
func (r *Record) InScope(scope string) bool {
	for _, s := range r.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// Expired reports whether the record's lifetime hint has elapsed.
func (r *Record) Expired(now time.Time) bool {
	if r.Lifetime <= 0 {
		return false
	}
	return now.Sub(r.Created) > time.Duration(r.Lifetime)*time.Millisecond
}

// MarshalJSON flattens bookkeeping fields and entity fields into one object.
// Entity fields never shadow bookkeeping keys; schemas reject reserved names.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Fields)+7)
	for k, v := range r.Fields {
		out[k] = v
	}
	out["id"] = r.ID
	out["created"] = r.Created
	out["updated"] = r.Updated
	out["archived"] = r.Archived
	out["scopes"] = emptyIfNil(r.Scopes)
	out["attributes"] = emptyIfNil(r.Attributes)
	out["lifetime"] = r.Lifetime
	return json.Marshal(out)
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// dedupe returns vals with duplicates removed, preserving first-seen order.
func dedupe(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// addAll appends the new values to existing, deduplicated.
func addAll(existing, add []string) []string {
	return dedupe(append(append([]string{}, existing...), add...))
}

// removeAll removes the given values from existing.
func removeAll(existing, remove []string) []string {
	drop := make(map[string]struct{}, len(remove))
	for _, v := range remove {
		drop[v] = struct{}{}
	}
	out := make([]string, 0, len(existing))
	for _, v := range existing {
		if _, gone := drop[v]; !gone {
			out = append(out, v)
		}
	}
	return out
}
