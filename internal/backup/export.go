// Package backup exports every registered entity store as JSONL and ships
// the result to one or more destinations on a schedule.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version   string    `json:"version"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Stores    []string  `json:"stores"`
}

// line wraps a single JSONL record with its store name.
type line struct {
	Type   string         `json:"type"`
	Struct string         `json:"struct,omitempty"`
	Data   *entity.Record `json:"data,omitempty"`
}

// ExportJSONL writes every record, archived included, of every registered
// non-sample store. Records stream store by store so the export never
// materializes a full table.
func ExportJSONL(ctx context.Context, w io.Writer) error {
	stores := exportable()

	names := make([]string, len(stores))
	for i, s := range stores {
		names[i] = s.Name()
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(header{
		Version:   "1",
		Type:      "header",
		Timestamp: time.Now().UTC(),
		Stores:    names,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, s := range stores {
		st := s.AllStream(ctx, true)
		for rec := range st.Records() {
			if err := enc.Encode(line{Type: "record", Struct: s.Name(), Data: rec}); err != nil {
				return fmt.Errorf("encode %s record: %w", s.Name(), err)
			}
		}
		if err := st.Err(); err != nil {
			return fmt.Errorf("export %s: %w", s.Name(), err)
		}
	}
	return nil
}

// exportable returns the registered stores that belong in a backup.
func exportable() []*entity.Struct {
	var out []*entity.Struct
	for _, s := range entity.Registered() {
		if s.Sample() {
			continue
		}
		out = append(out, s)
	}
	return out
}
