// Package perm reduces records to the properties a caller's roles entitle it
// to see or affect. Filtering happens server-side per caller; excluded fields
// never cross the wire, even transiently.
package perm

import (
	"sync"

	"github.com/driveteam/scoutd/internal/entity"
)

// Entitlement grants a set of (action, property) permissions against a named
// store. "*" matches any action or property.
type Entitlement struct {
	Struct     string   `toml:"struct"`
	Actions    []string `toml:"actions"`
	Properties []string `toml:"properties"`
}

func (e Entitlement) matchesAction(action string) bool {
	for _, a := range e.Actions {
		if a == "*" || a == action {
			return true
		}
	}
	return false
}

// Role is a named bundle of entitlements scoped to a universe. An empty
// Universe makes the role global: it applies to records in any universe.
type Role struct {
	Name         string        `toml:"name"`
	Universe     string        `toml:"universe"`
	Entitlements []Entitlement `toml:"entitlements"`
}

// Bypass is a predicate granting unconditional full access to an action on a
// store, overriding role-based filtering. Used for system and test scenarios
// and privileged accounts.
type Bypass func(action string, rec *entity.Record) bool

// Ruleset holds the bypass predicates registered per store. The zero value is
// usable.
type Ruleset struct {
	mu     sync.RWMutex
	bypass map[string][]Bypass
}

// AddBypass registers a bypass predicate for a store name; "*" applies to
// every store.
func (rs *Ruleset) AddBypass(structName string, fn Bypass) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.bypass == nil {
		rs.bypass = make(map[string][]Bypass)
	}
	rs.bypass[structName] = append(rs.bypass[structName], fn)
}

// Bypassed reports whether any predicate grants full access to the action on
// the record. Checked before role-based filtering.
func (rs *Ruleset) Bypassed(structName, action string, rec *entity.Record) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	for _, key := range []string{structName, "*"} {
		for _, fn := range rs.bypass[key] {
			if fn(action, rec) {
				return true
			}
		}
	}
	return false
}

// scopedRoles returns the roles applicable to the record: global roles always,
// universe-scoped roles only when the record is visible in that universe.
// Records with no scopes are visible to privileged callers only, so no
// universe-scoped role ever applies to them.
func scopedRoles(roles []Role, rec *entity.Record) []Role {
	var out []Role
	for _, r := range roles {
		if r.Universe == "" || rec.InScope(r.Universe) {
			out = append(out, r)
		}
	}
	return out
}

// properties collects the union of entitled properties for the action across
// roles. The bool result reports whether "*" was granted.
func properties(roles []Role, structName, action string) (map[string]bool, bool) {
	props := make(map[string]bool)
	for _, r := range roles {
		for _, e := range r.Entitlements {
			if e.Struct != structName && e.Struct != "*" {
				continue
			}
			if !e.matchesAction(action) {
				continue
			}
			for _, p := range e.Properties {
				if p == "*" {
					return nil, true
				}
				props[p] = true
			}
		}
	}
	return props, false
}

// Allowed reports whether the roles entitle the caller to perform the action
// on the store at all, regardless of which record.
func Allowed(roles []Role, structName, action string) bool {
	for _, r := range roles {
		for _, e := range r.Entitlements {
			if (e.Struct == structName || e.Struct == "*") && e.matchesAction(action) {
				return true
			}
		}
	}
	return false
}

// AllowedFields reports whether the roles entitle every named field for the
// action on the record, considering its universes. Used to reject partial
// writes touching fields the caller cannot affect.
func AllowedFields(roles []Role, structName, action string, rec *entity.Record, fields []string) bool {
	applicable := scopedRoles(roles, rec)
	if len(applicable) == 0 {
		return false
	}
	props, all := properties(applicable, structName, action)
	if all {
		return true
	}
	for _, f := range fields {
		if !props[f] {
			return false
		}
	}
	return Allowed(applicable, structName, action)
}

// Filter reduces a record to the fields the roles permit for the action.
// The second result is false when the record must be withheld entirely:
// either no applicable role grants the action, or the record's universes do
// not overlap the roles'. Bookkeeping fields are always included in a
// permitted view.
func Filter(roles []Role, structName, action string, rec *entity.Record) (map[string]any, bool) {
	applicable := scopedRoles(roles, rec)
	if len(applicable) == 0 {
		return nil, false
	}
	props, all := properties(applicable, structName, action)
	if !all && len(props) == 0 {
		return nil, false
	}
	return View(rec, props, all), true
}

// View builds the wire payload for a record: bookkeeping fields always, plus
// the permitted entity fields. A nil props map with all=true yields the full
// record.
func View(rec *entity.Record, props map[string]bool, all bool) map[string]any {
	out := map[string]any{
		"id":         rec.ID,
		"created":    rec.Created,
		"updated":    rec.Updated,
		"archived":   rec.Archived,
		"scopes":     emptyIfNil(rec.Scopes),
		"attributes": emptyIfNil(rec.Attributes),
		"lifetime":   rec.Lifetime,
	}
	for k, v := range rec.Fields {
		if all || props[k] {
			out[k] = v
		}
	}
	return out
}

// FilterStream applies Filter lazily to each element of a stream without
// materializing it, so large result sets never block on full-table filtering.
// Withheld records are skipped. The returned channel closes when the input
// stream ends.
func FilterStream(roles []Role, structName, action string, in *entity.Stream) <-chan map[string]any {
	out := make(chan map[string]any, 16)
	go func() {
		defer close(out)
		for rec := range in.Records() {
			if view, ok := Filter(roles, structName, action, rec); ok {
				out <- view
			}
		}
	}()
	return out
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
