package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/driveteam/scoutd/internal/entity"
)

// scannable is the interface satisfied by both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

// scanRecord scans one row into an entity.Record. Columns must be in
// columnList order: bookkeeping first, then schema fields sorted by name.
func scanRecord(row scannable, schema entity.Schema) (*entity.Record, error) {
	var rec entity.Record
	var (
		scopes []byte
		attrs  []byte
	)

	dest := []any{
		&rec.ID,
		&rec.Created,
		&rec.Updated,
		&rec.Archived,
		&scopes,
		&attrs,
		&rec.Lifetime,
	}

	fields := schema.Fields()
	holders := make([]any, len(fields))
	for i, name := range fields {
		holders[i] = newHolder(schema[name])
		dest = append(dest, holders[i])
	}

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	if len(scopes) > 0 {
		if err := json.Unmarshal(scopes, &rec.Scopes); err != nil {
			return nil, fmt.Errorf("decode scopes: %w", err)
		}
	}
	if rec.Scopes == nil {
		rec.Scopes = []string{}
	}
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
			return nil, fmt.Errorf("decode attributes: %w", err)
		}
	}
	if rec.Attributes == nil {
		rec.Attributes = []string{}
	}

	rec.Fields = make(map[string]any, len(fields))
	for i, name := range fields {
		rec.Fields[name] = holderValue(holders[i])
	}
	return &rec, nil
}

// newHolder returns a scan destination for the given field type.
func newHolder(typ entity.FieldType) any {
	switch typ {
	case entity.FieldString:
		return &sql.NullString{}
	case entity.FieldNumber:
		return &sql.NullFloat64{}
	case entity.FieldBool:
		return &sql.NullBool{}
	case entity.FieldTimestamp:
		return &sql.NullTime{}
	case entity.FieldJSON:
		return &[]byte{}
	}
	return &sql.NullString{}
}

// holderValue unwraps a scan holder to its plain Go value, or nil for NULL.
func holderValue(h any) any {
	switch v := h.(type) {
	case *sql.NullString:
		if !v.Valid {
			return nil
		}
		return v.String
	case *sql.NullFloat64:
		if !v.Valid {
			return nil
		}
		return v.Float64
	case *sql.NullBool:
		if !v.Valid {
			return nil
		}
		return v.Bool
	case *sql.NullTime:
		if !v.Valid {
			return nil
		}
		return v.Time
	case *[]byte:
		if len(*v) == 0 {
			return nil
		}
		return json.RawMessage(append([]byte(nil), *v...))
	}
	return nil
}
