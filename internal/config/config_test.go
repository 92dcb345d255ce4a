package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const rosterTOML = `
open_read = ["teams"]

[[roles]]
name = "scout"
universe = "2122"

[[roles.entitlements]]
struct = "match_scouting"
actions = ["create", "read"]
properties = ["*"]

[[roles]]
name = "strategist"
universe = "2122"

[[roles.entitlements]]
struct = "strategies"
actions = ["*"]
properties = ["title", "body"]

[[accounts]]
id = "acct-1"
name = "lead"
roles = ["scout", "strategist"]
admin = true

[[bypass]]
struct = "whiteboards"
actions = ["read"]

[[bypass]]
struct = "test"
actions = ["*"]
`

func writeRoster(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoutd.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SCOUT_DATABASE_URL", "postgres://localhost/scout_test")

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", c.HTTPAddr)
	}
	if c.SessionTTL != 720*time.Hour {
		t.Errorf("SessionTTL = %v", c.SessionTTL)
	}
	if c.SweepInterval != time.Minute {
		t.Errorf("SweepInterval = %v", c.SweepInterval)
	}
	if c.SyncInterval != 0 {
		t.Errorf("SyncInterval = %v, want disabled", c.SyncInterval)
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("SCOUT_DATABASE_URL", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing SCOUT_DATABASE_URL")
	}
}

func TestLoad_BadDuration(t *testing.T) {
	t.Setenv("SCOUT_DATABASE_URL", "postgres://localhost/scout_test")
	t.Setenv("SCOUT_SYNC_INTERVAL", "sometimes")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "SCOUT_SYNC_INTERVAL") {
		t.Fatalf("expected duration parse error, got %v", err)
	}
}

func TestLoad_ReadsRosterFile(t *testing.T) {
	t.Setenv("SCOUT_DATABASE_URL", "postgres://localhost/scout_test")
	t.Setenv("SCOUT_CONFIG_FILE", writeRoster(t, rosterTOML))

	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.App.Roles) != 2 || len(c.App.Accounts) != 1 {
		t.Fatalf("roster = %d roles, %d accounts", len(c.App.Roles), len(c.App.Accounts))
	}
	if c.App.Roles[0].Universe != "2122" {
		t.Errorf("universe = %q", c.App.Roles[0].Universe)
	}
	if got := c.App.Roles[1].Entitlements[0].Properties; len(got) != 2 || got[0] != "title" {
		t.Errorf("entitlement properties = %v", got)
	}
	if len(c.App.OpenRead) != 1 || c.App.OpenRead[0] != "teams" {
		t.Errorf("open_read = %v", c.App.OpenRead)
	}
}

func TestLoadApp_RejectsUndefinedRoleReference(t *testing.T) {
	path := writeRoster(t, `
[[roles]]
name = "scout"

[[accounts]]
id = "acct-1"
roles = ["ghost"]
`)
	if _, err := LoadApp(path); err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected undefined role error, got %v", err)
	}
}

func TestLoadApp_RejectsDuplicateRole(t *testing.T) {
	path := writeRoster(t, `
[[roles]]
name = "scout"

[[roles]]
name = "scout"
`)
	if _, err := LoadApp(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate role error, got %v", err)
	}
}

func TestLoadApp_RejectsBadBypassRule(t *testing.T) {
	for name, body := range map[string]string{
		"empty struct": `
[[bypass]]
actions = ["read"]
`,
		"no actions": `
[[bypass]]
struct = "teams"
`,
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadApp(writeRoster(t, body)); err == nil || !strings.Contains(err.Error(), "bypass") {
				t.Fatalf("expected bypass validation error, got %v", err)
			}
		})
	}
}

func TestRuleset_FromBypassRules(t *testing.T) {
	app, err := LoadApp(writeRoster(t, rosterTOML))
	if err != nil {
		t.Fatalf("LoadApp: %v", err)
	}

	rs := app.Ruleset()
	if !rs.Bypassed("whiteboards", "read", nil) {
		t.Error("whiteboards read should bypass")
	}
	if rs.Bypassed("whiteboards", "delete", nil) {
		t.Error("whiteboards delete should not bypass")
	}
	if !rs.Bypassed("test", "delete", nil) {
		t.Error("wildcard actions should bypass everything on the store")
	}
	if rs.Bypassed("teams", "read", nil) {
		t.Error("undeclared store should not bypass")
	}
}

func TestRolesFor(t *testing.T) {
	app, err := LoadApp(writeRoster(t, rosterTOML))
	if err != nil {
		t.Fatalf("LoadApp: %v", err)
	}

	roles := app.RolesFor(app.Accounts[0])
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if roles[0].Name != "scout" || roles[1].Name != "strategist" {
		t.Errorf("roles = %v, %v", roles[0].Name, roles[1].Name)
	}
}
