package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

func queryInsert(ctx context.Context, db executor, table string, schema entity.Schema, rec *entity.Record) error {
	cols := columnList(schema)
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	args, err := recordArgs(schema, rec)
	if err != nil {
		return err
	}

	query := "INSERT INTO " + quoteIdent(table) + " (" + joinQuoted(cols) + ") VALUES (" +
		strings.Join(placeholders, ", ") + ")"
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

func queryGet(ctx context.Context, db executor, table string, schema entity.Schema, id string) (*entity.Record, error) {
	query := "SELECT " + joinQuoted(columnList(schema)) + " FROM " + quoteIdent(table) + " WHERE id = $1"
	row := db.QueryRowContext(ctx, query, id)
	rec, err := scanRecord(row, schema)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func queryUpdate(ctx context.Context, db executor, table string, schema entity.Schema, rec *entity.Record) error {
	cols := columnList(schema)
	// Skip id ($1) and created_at (immutable) in the SET clause.
	var sets []string
	argIdx := 1
	args := []any{rec.ID}

	allArgs, err := recordArgs(schema, rec)
	if err != nil {
		return err
	}
	for i, col := range cols {
		if col == "id" || col == "created_at" {
			continue
		}
		argIdx++
		sets = append(sets, fmt.Sprintf("%s = $%d", quoteIdent(col), argIdx))
		args = append(args, allArgs[i])
	}

	query := "UPDATE " + quoteIdent(table) + " SET " + strings.Join(sets, ", ") + " WHERE id = $1"
	_, err = db.ExecContext(ctx, query, args...)
	return err
}

func queryPage(ctx context.Context, db executor, table string, schema entity.Schema, q entity.Query, limit, offset int) ([]*entity.Record, error) {
	var (
		whereClauses []string
		args         []any
		argIdx       int
	)
	nextArg := func() string {
		argIdx++
		return fmt.Sprintf("$%d", argIdx)
	}

	if q.Archived != nil {
		whereClauses = append(whereClauses, "archived = "+nextArg())
		args = append(args, *q.Archived)
	}
	if q.Property != "" {
		val, err := encodeField(schema[q.Property], q.Value)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", q.Property, err)
		}
		whereClauses = append(whereClauses, quoteIdent(q.Property)+" = "+nextArg())
		args = append(args, val)
	}
	if q.Scope != "" {
		// JSONB containment: scopes @> '["<scope>"]'.
		member, err := json.Marshal([]string{q.Scope})
		if err != nil {
			return nil, err
		}
		whereClauses = append(whereClauses, "scopes @> "+nextArg())
		args = append(args, member)
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	query := "SELECT " + joinQuoted(columnList(schema)) + " FROM " + quoteIdent(table) +
		whereSQL + " ORDER BY created_at ASC, id ASC LIMIT " + nextArg()
	args = append(args, limit)
	query += " OFFSET " + nextArg()
	args = append(args, offset)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("page %s: %w", table, err)
	}
	defer rows.Close()

	var recs []*entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows, schema)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return recs, nil
}

// recordArgs encodes a record into SQL arguments matching columnList order.
func recordArgs(schema entity.Schema, rec *entity.Record) ([]any, error) {
	scopes, err := json.Marshal(stringsOrEmpty(rec.Scopes))
	if err != nil {
		return nil, err
	}
	attrs, err := json.Marshal(stringsOrEmpty(rec.Attributes))
	if err != nil {
		return nil, err
	}

	args := []any{
		rec.ID,
		rec.Created,
		rec.Updated,
		rec.Archived,
		scopes,
		attrs,
		rec.Lifetime,
	}
	for _, name := range schema.Fields() {
		val, err := encodeField(schema[name], rec.Fields[name])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		args = append(args, val)
	}
	return args, nil
}

func stringsOrEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// encodeField converts a field value into a driver-friendly argument.
// Validation has already happened at the schema layer; this only normalizes
// representations (RFC 3339 strings to time.Time, JSON values to bytes).
func encodeField(typ entity.FieldType, val any) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch typ {
	case entity.FieldTimestamp:
		if s, ok := val.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
		return val, nil
	case entity.FieldJSON:
		switch v := val.(type) {
		case string:
			if v == "" {
				return nil, nil
			}
			return []byte(v), nil
		case json.RawMessage:
			return []byte(v), nil
		default:
			return json.Marshal(v)
		}
	default:
		return val, nil
	}
}
