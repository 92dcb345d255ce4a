// Package config loads server settings from SCOUT_* environment variables
// plus an optional TOML file declaring roles, accounts, and bypass rules.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/perm"
)

type Config struct {
	DatabaseURL string // SCOUT_DATABASE_URL (required)
	HTTPAddr    string // SCOUT_HTTP_ADDR (default ":8080")
	NATSURL     string // SCOUT_NATS_URL (optional, empty = no external events)
	ConfigFile  string // SCOUT_CONFIG_FILE (optional TOML with roles/accounts)

	SessionTTL    time.Duration // SCOUT_SESSION_TTL (default 720h)
	SweepInterval time.Duration // SCOUT_SWEEP_INTERVAL (default 1m; 0 = disabled)

	// Backup settings
	SyncInterval   time.Duration // SCOUT_SYNC_INTERVAL (default 0 = disabled)
	SyncS3Bucket   string        // SCOUT_SYNC_S3_BUCKET (enables S3 when set)
	SyncS3Endpoint string        // SCOUT_SYNC_S3_ENDPOINT (custom endpoint for MinIO)
	SyncS3Region   string        // SCOUT_SYNC_S3_REGION (default "us-east-1")
	SyncS3Prefix   string        // SCOUT_SYNC_S3_PREFIX (default "scoutd/")
	SyncDir        string        // SCOUT_SYNC_DIR (enables local export when set)

	App App // decoded from ConfigFile
}

// App is the TOML-declared application roster: role definitions, static
// accounts, bypass grants, and stores whose reads bypass filtering for
// everyone.
type App struct {
	Roles    []perm.Role  `toml:"roles"`
	Accounts []Account    `toml:"accounts"`
	Bypass   []BypassRule `toml:"bypass"`
	OpenRead []string     `toml:"open_read"`
}

// BypassRule grants unconditional full access to the named actions on a
// store. "*" matches every store or every action.
type BypassRule struct {
	Struct  string   `toml:"struct"`
	Actions []string `toml:"actions"`
}

// Account binds a static account to role names declared in the same file.
type Account struct {
	ID    string   `toml:"id"`
	Name  string   `toml:"name"`
	Roles []string `toml:"roles"`
	Admin bool     `toml:"admin"`
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:    os.Getenv("SCOUT_DATABASE_URL"),
		HTTPAddr:       envOrDefault("SCOUT_HTTP_ADDR", ":8080"),
		NATSURL:        os.Getenv("SCOUT_NATS_URL"),
		ConfigFile:     os.Getenv("SCOUT_CONFIG_FILE"),
		SyncS3Bucket:   os.Getenv("SCOUT_SYNC_S3_BUCKET"),
		SyncS3Endpoint: os.Getenv("SCOUT_SYNC_S3_ENDPOINT"),
		SyncS3Region:   envOrDefault("SCOUT_SYNC_S3_REGION", "us-east-1"),
		SyncS3Prefix:   envOrDefault("SCOUT_SYNC_S3_PREFIX", "scoutd/"),
		SyncDir:        os.Getenv("SCOUT_SYNC_DIR"),
	}
	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("SCOUT_DATABASE_URL is required")
	}

	var err error
	if c.SessionTTL, err = envDuration("SCOUT_SESSION_TTL", 720*time.Hour); err != nil {
		return nil, err
	}
	if c.SweepInterval, err = envDuration("SCOUT_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, err
	}
	if c.SyncInterval, err = envDuration("SCOUT_SYNC_INTERVAL", 0); err != nil {
		return nil, err
	}

	if c.ConfigFile != "" {
		app, err := LoadApp(c.ConfigFile)
		if err != nil {
			return nil, err
		}
		c.App = *app
	}
	return c, nil
}

// LoadApp decodes the roster file and validates its role references.
func LoadApp(path string) (*App, error) {
	var app App
	if _, err := toml.DecodeFile(path, &app); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	known := make(map[string]bool, len(app.Roles))
	for _, r := range app.Roles {
		if r.Name == "" {
			return nil, fmt.Errorf("%s: role with empty name", path)
		}
		if known[r.Name] {
			return nil, fmt.Errorf("%s: duplicate role %q", path, r.Name)
		}
		known[r.Name] = true
	}
	for _, a := range app.Accounts {
		if a.ID == "" {
			return nil, fmt.Errorf("%s: account with empty id", path)
		}
		for _, role := range a.Roles {
			if !known[role] {
				return nil, fmt.Errorf("%s: account %q references undefined role %q", path, a.ID, role)
			}
		}
	}
	for _, b := range app.Bypass {
		if b.Struct == "" {
			return nil, fmt.Errorf("%s: bypass rule with empty struct", path)
		}
		if len(b.Actions) == 0 {
			return nil, fmt.Errorf("%s: bypass rule for %q grants no actions", path, b.Struct)
		}
	}
	return &app, nil
}

// Ruleset materializes the declared bypass rules as permission predicates.
func (a *App) Ruleset() *perm.Ruleset {
	rs := &perm.Ruleset{}
	for _, b := range a.Bypass {
		actions := make(map[string]bool, len(b.Actions))
		for _, act := range b.Actions {
			actions[act] = true
		}
		rs.AddBypass(b.Struct, func(action string, _ *entity.Record) bool {
			return actions["*"] || actions[action]
		})
	}
	return rs
}

// RolesFor resolves an account's role names to role definitions.
func (a *App) RolesFor(acct Account) []perm.Role {
	byName := make(map[string]perm.Role, len(a.Roles))
	for _, r := range a.Roles {
		byName[r.Name] = r
	}
	var out []perm.Role
	for _, name := range acct.Roles {
		if r, ok := byName[name]; ok {
			out = append(out, r)
		}
	}
	return out
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
