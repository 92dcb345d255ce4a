package entity

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// FieldType is the primitive type of one schema field.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldNumber    FieldType = "number"
	FieldBool      FieldType = "bool"
	FieldTimestamp FieldType = "timestamp"
	FieldJSON      FieldType = "json" // JSON blob stored as text
)

// IsValid checks whether the field type is a known value.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBool, FieldTimestamp, FieldJSON:
		return true
	}
	return false
}

// Schema maps entity-specific field names to their primitive types.
// Bookkeeping columns (id, created, updated, archived, scopes, attributes,
// lifetime) are owned by the framework and must not appear in a schema.
type Schema map[string]FieldType

// fieldNamePattern restricts field names to safe SQL identifiers.
var fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedColumns are the framework bookkeeping columns.
var reservedColumns = map[string]bool{
	"id": true, "created_at": true, "updated_at": true, "archived": true,
	"scopes": true, "attributes": true, "lifetime_ms": true,
}

// Validate checks that every field name is a legal identifier with a known
// type and does not collide with a bookkeeping column.
func (s Schema) Validate() error {
	for name, typ := range s {
		if !fieldNamePattern.MatchString(name) {
			return fmt.Errorf("schema field %q: illegal name", name)
		}
		if reservedColumns[name] {
			return fmt.Errorf("schema field %q: reserved column name", name)
		}
		if !typ.IsValid() {
			return fmt.Errorf("schema field %q: unknown type %q", name, typ)
		}
	}
	return nil
}

// Fields returns the schema's field names in sorted order, so generated SQL
// is deterministic.
func (s Schema) Fields() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckFields validates a partial field map against the schema. Unknown keys
// and mistyped values produce a *ValidationError; values are never coerced.
func (s Schema) CheckFields(fields map[string]any) error {
	var ve ValidationError
	for name, val := range fields {
		typ, ok := s[name]
		if !ok {
			ve.Errors = append(ve.Errors, FieldError{Field: name, Message: "unknown field"})
			continue
		}
		if val == nil {
			continue
		}
		if msg := checkValue(typ, val); msg != "" {
			ve.Errors = append(ve.Errors, FieldError{Field: name, Message: msg})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

// CheckRequired validates that every schema field is present in fields.
// Used on create; updates may be partial.
func (s Schema) CheckRequired(fields map[string]any) error {
	var ve ValidationError
	for _, name := range s.Fields() {
		if _, ok := fields[name]; !ok {
			ve.Errors = append(ve.Errors, FieldError{Field: name, Message: "is required"})
		}
	}
	if ve.HasErrors() {
		return &ve
	}
	return nil
}

func checkValue(typ FieldType, val any) string {
	switch typ {
	case FieldString:
		if _, ok := val.(string); !ok {
			return fmt.Sprintf("expected string, got %T", val)
		}
	case FieldNumber:
		switch val.(type) {
		case int, int32, int64, float32, float64, json.Number:
		default:
			return fmt.Sprintf("expected number, got %T", val)
		}
	case FieldBool:
		if _, ok := val.(bool); !ok {
			return fmt.Sprintf("expected bool, got %T", val)
		}
	case FieldTimestamp:
		switch v := val.(type) {
		case time.Time:
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return "expected RFC 3339 timestamp"
			}
		default:
			return fmt.Sprintf("expected timestamp, got %T", val)
		}
	case FieldJSON:
		switch v := val.(type) {
		case string:
			if v != "" && !json.Valid([]byte(v)) {
				return "contains invalid JSON"
			}
		case json.RawMessage:
			if len(v) > 0 && !json.Valid(v) {
				return "contains invalid JSON"
			}
		case map[string]any, []any:
		default:
			return fmt.Sprintf("expected JSON value, got %T", val)
		}
	}
	return ""
}
