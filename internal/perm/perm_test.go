package perm

import (
	"testing"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

func testRecord(scopes []string, fields map[string]any) *entity.Record {
	now := time.Now().UTC()
	return &entity.Record{
		ID:         "r1",
		Created:    now,
		Updated:    now,
		Scopes:     scopes,
		Attributes: []string{},
		Fields:     fields,
	}
}

var scoutRole = Role{
	Name:     "scout",
	Universe: "2122",
	Entitlements: []Entitlement{
		{Struct: "teams", Actions: []string{"read"}, Properties: []string{"number", "name"}},
	},
}

func TestFilter_AllowsEntitledProperties(t *testing.T) {
	rec := testRecord([]string{"2122"}, map[string]any{
		"number": 4000, "name": "Team Tators", "notes": "secret",
	})

	view, ok := Filter([]Role{scoutRole}, "teams", "read", rec)
	if !ok {
		t.Fatal("expected record to be visible")
	}
	if view["number"] != 4000 || view["name"] != "Team Tators" {
		t.Errorf("entitled fields missing: %v", view)
	}
	if _, leaked := view["notes"]; leaked {
		t.Error("unentitled field leaked into view")
	}
	// Bookkeeping fields are always present.
	for _, key := range []string{"id", "created", "updated", "archived", "scopes", "attributes", "lifetime"} {
		if _, ok := view[key]; !ok {
			t.Errorf("bookkeeping field %q missing", key)
		}
	}
}

func TestFilter_NeverOverGrants(t *testing.T) {
	rec := testRecord([]string{"2122"}, map[string]any{
		"number": 4000, "name": "x", "notes": "secret",
	})

	for _, tc := range []struct {
		name   string
		roles  []Role
		action string
	}{
		{"WrongAction", []Role{scoutRole}, "update"},
		{"WrongStruct", []Role{{
			Name: "other", Universe: "2122",
			Entitlements: []Entitlement{{Struct: "matches", Actions: []string{"read"}, Properties: []string{"*"}}},
		}}, "read"},
		{"NoRoles", nil, "read"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			view, ok := Filter(tc.roles, "teams", tc.action, rec)
			if ok {
				t.Fatalf("expected record withheld, got %v", view)
			}
		})
	}
}

func TestFilter_ScopeMismatchWithholdsRecord(t *testing.T) {
	rec := testRecord([]string{"9999"}, map[string]any{"number": 1, "name": "x"})

	if _, ok := Filter([]Role{scoutRole}, "teams", "read", rec); ok {
		t.Fatal("record outside role universe must be withheld")
	}
}

func TestFilter_UnscopedRecordNeedsGlobalRole(t *testing.T) {
	rec := testRecord(nil, map[string]any{"number": 1, "name": "x"})

	// Universe-scoped role: no access to globally scoped records.
	if _, ok := Filter([]Role{scoutRole}, "teams", "read", rec); ok {
		t.Fatal("unscoped record visible to universe-scoped role")
	}

	// A global role does see it.
	global := Role{
		Name: "admin",
		Entitlements: []Entitlement{
			{Struct: "*", Actions: []string{"*"}, Properties: []string{"*"}},
		},
	}
	view, ok := Filter([]Role{global}, "teams", "read", rec)
	if !ok {
		t.Fatal("global role should see unscoped record")
	}
	if view["name"] != "x" {
		t.Errorf("wildcard properties should include all fields: %v", view)
	}
}

func TestFilter_UnionAcrossRoles(t *testing.T) {
	second := Role{
		Name:     "analyst",
		Universe: "2122",
		Entitlements: []Entitlement{
			{Struct: "teams", Actions: []string{"read"}, Properties: []string{"notes"}},
		},
	}
	rec := testRecord([]string{"2122"}, map[string]any{"number": 1, "name": "x", "notes": "y"})

	view, ok := Filter([]Role{scoutRole, second}, "teams", "read", rec)
	if !ok {
		t.Fatal("expected record visible")
	}
	for _, key := range []string{"number", "name", "notes"} {
		if _, present := view[key]; !present {
			t.Errorf("union should include %q", key)
		}
	}
}

func TestRuleset_Bypass(t *testing.T) {
	var rs Ruleset
	rs.AddBypass("teams", func(action string, rec *entity.Record) bool {
		return action == "read"
	})

	rec := testRecord(nil, nil)
	if !rs.Bypassed("teams", "read", rec) {
		t.Error("expected read bypass")
	}
	if rs.Bypassed("teams", "delete", rec) {
		t.Error("unexpected delete bypass")
	}
	if rs.Bypassed("matches", "read", rec) {
		t.Error("bypass leaked to other store")
	}

	rs.AddBypass("*", func(action string, rec *entity.Record) bool { return true })
	if !rs.Bypassed("matches", "delete", rec) {
		t.Error("expected global bypass")
	}
}

func TestFilterStream_LazyAndComplete(t *testing.T) {
	// Feed a hand-built stream through the filter: visible records pass,
	// out-of-scope records are skipped, channel closes at end.
	recs := []*entity.Record{
		testRecord([]string{"2122"}, map[string]any{"number": 1, "name": "a", "notes": "n"}),
		testRecord([]string{"9999"}, map[string]any{"number": 2, "name": "b"}),
		testRecord([]string{"2122"}, map[string]any{"number": 3, "name": "c"}),
	}

	in := entity.StreamOf(recs...)
	out := FilterStream([]Role{scoutRole}, "teams", "read", in)

	var got []map[string]any
	for view := range out {
		got = append(got, view)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 filtered records, got %d", len(got))
	}
	for _, view := range got {
		if _, leaked := view["notes"]; leaked {
			t.Error("unentitled field leaked through stream filter")
		}
	}
}
