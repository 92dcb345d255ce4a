// Package scouting declares the concrete entity stores of the scouting
// application. Each store is a schema over the generic entity framework; the
// framework provides CRUD, archival, versioning, scoping, and live events.
package scouting

import (
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

// SampleStore is the test-only store. The dispatcher skips role resolution
// for it and backups exclude it.
const SampleStore = "test"

// Stores holds every registered store for direct use by handlers and jobs.
type Stores struct {
	Accounts      *entity.Struct
	Teams         *entity.Struct
	Matches       *entity.Struct
	MatchScouting *entity.Struct
	Strategies    *entity.Struct
	Whiteboards   *entity.Struct
	Sample        *entity.Struct
}

// Register declares all stores with the process registry. Call exactly once
// at startup, before entity.BuildAll.
func Register() *Stores {
	return &Stores{
		Accounts: entity.New("accounts", entity.Schema{
			"name":     entity.FieldString,
			"email":    entity.FieldString,
			"team":     entity.FieldNumber,
			"roles":    entity.FieldJSON,
			"settings": entity.FieldJSON,
		}, entity.Options{}),

		Teams: entity.New("teams", entity.Schema{
			"number":   entity.FieldNumber,
			"name":     entity.FieldString,
			"location": entity.FieldString,
			"rookie":   entity.FieldBool,
			"notes":    entity.FieldString,
		}, entity.Options{}),

		Matches: entity.New("matches", entity.Schema{
			"event":      entity.FieldString,
			"number":     entity.FieldNumber,
			"level":      entity.FieldString,
			"red":        entity.FieldJSON,
			"blue":       entity.FieldJSON,
			"start_time": entity.FieldTimestamp,
			"played":     entity.FieldBool,
		}, entity.Options{}),

		MatchScouting: entity.New("match_scouting", entity.Schema{
			"match":   entity.FieldString,
			"team":    entity.FieldNumber,
			"scout":   entity.FieldString,
			"answers": entity.FieldJSON,
		}, entity.Options{
			Versioned: true,
			Retention: entity.Retention{Keep: 10},
		}),

		Strategies: entity.New("strategies", entity.Schema{
			"title": entity.FieldString,
			"match": entity.FieldString,
			"body":  entity.FieldString,
		}, entity.Options{
			Versioned: true,
			Retention: entity.Retention{MaxAge: 90 * 24 * time.Hour},
		}),

		Whiteboards: entity.New("whiteboards", entity.Schema{
			"name":    entity.FieldString,
			"match":   entity.FieldString,
			"drawing": entity.FieldJSON,
		}, entity.Options{
			Versioned: true,
			Retention: entity.Retention{Keep: 25},
		}),

		Sample: entity.New(SampleStore, entity.Schema{
			"name": entity.FieldString,
			"age":  entity.FieldNumber,
		}, entity.Options{Sample: true}),
	}
}
