package scouting

import (
	"testing"

	"github.com/driveteam/scoutd/internal/entity"
)

func TestRegister_DeclaresAllStores(t *testing.T) {
	entity.Reset()
	t.Cleanup(entity.Reset)

	stores := Register()

	want := []string{"accounts", "teams", "matches", "match_scouting", "strategies", "whiteboards", SampleStore}
	registered := entity.Registered()
	if len(registered) != len(want) {
		t.Fatalf("registered %d stores, want %d", len(registered), len(want))
	}
	for i, name := range want {
		if registered[i].Name() != name {
			t.Errorf("store %d = %q, want %q", i, registered[i].Name(), name)
		}
	}

	if !stores.Sample.Sample() {
		t.Error("sample store must be marked test-only")
	}
	if stores.Teams.Sample() {
		t.Error("teams must not be a sample store")
	}
}

func TestRegister_LookupByName(t *testing.T) {
	entity.Reset()
	t.Cleanup(entity.Reset)

	stores := Register()
	if entity.Lookup("match_scouting") != stores.MatchScouting {
		t.Fatal("registry lookup should return the declared store")
	}
	if entity.Lookup("nope") != nil {
		t.Fatal("unknown store should be nil")
	}
}
