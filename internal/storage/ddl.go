package storage

import (
	"strings"

	"github.com/driveteam/scoutd/internal/entity"
)

// bookkeepingColumns are the framework-owned columns present on every entity
// table, in the fixed order used by SELECT and INSERT statements.
var bookkeepingColumns = []string{
	"id", "created_at", "updated_at", "archived", "scopes", "attributes", "lifetime_ms",
}

// sqlType maps a schema field type to its PostgreSQL column type.
func sqlType(t entity.FieldType) string {
	switch t {
	case entity.FieldString:
		return "TEXT"
	case entity.FieldNumber:
		return "DOUBLE PRECISION"
	case entity.FieldBool:
		return "BOOLEAN"
	case entity.FieldTimestamp:
		return "TIMESTAMPTZ"
	case entity.FieldJSON:
		return "JSONB"
	}
	return "TEXT"
}

// quoteIdent quotes a SQL identifier. Store and field names are already
// restricted to [a-z][a-z0-9_]* by the registry, so quoting is belt only.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, ``) + `"`
}

// createTableDDL generates the CREATE TABLE statement for a store: the
// bookkeeping columns plus one column per schema field, in sorted order.
func createTableDDL(table string, schema entity.Schema) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (\n")
	b.WriteString("\tid TEXT PRIMARY KEY,\n")
	b.WriteString("\tcreated_at TIMESTAMPTZ NOT NULL,\n")
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL,\n")
	b.WriteString("\tarchived BOOLEAN NOT NULL DEFAULT FALSE,\n")
	b.WriteString("\tscopes JSONB NOT NULL DEFAULT '[]',\n")
	b.WriteString("\tattributes JSONB NOT NULL DEFAULT '[]',\n")
	b.WriteString("\tlifetime_ms BIGINT NOT NULL DEFAULT 0")
	for _, name := range schema.Fields() {
		b.WriteString(",\n\t")
		b.WriteString(quoteIdent(name))
		b.WriteString(" ")
		b.WriteString(sqlType(schema[name]))
	}
	b.WriteString("\n)")
	return b.String()
}

// addColumnDDL generates one ALTER TABLE statement per schema field, so a
// field added to an already-deployed store gets its column on the next build.
func addColumnDDL(table string, schema entity.Schema) []string {
	stmts := make([]string, 0, len(schema))
	for _, name := range schema.Fields() {
		stmts = append(stmts, "ALTER TABLE "+quoteIdent(table)+
			" ADD COLUMN IF NOT EXISTS "+quoteIdent(name)+" "+sqlType(schema[name]))
	}
	return stmts
}

// columnList returns the SELECT/INSERT column list for a store: bookkeeping
// columns followed by schema fields in sorted order.
func columnList(schema entity.Schema) []string {
	cols := append([]string{}, bookkeepingColumns...)
	for _, name := range schema.Fields() {
		cols = append(cols, name)
	}
	return cols
}

func joinQuoted(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	return strings.Join(quoted, ", ")
}
