package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
)

// versionColumns is the column list used for SELECT statements on the
// versions table.
const versionColumns = `id, struct_name, record_id, created_at, snapshot`

// snapshotDoc is the JSONB encoding of a record snapshot. Entity fields are
// nested under "fields" so bookkeeping keys never collide on decode.
type snapshotDoc struct {
	ID         string         `json:"id"`
	Created    time.Time      `json:"created"`
	Updated    time.Time      `json:"updated"`
	Archived   bool           `json:"archived"`
	Scopes     []string       `json:"scopes"`
	Attributes []string       `json:"attributes"`
	Lifetime   int64          `json:"lifetime"`
	Fields     map[string]any `json:"fields"`
}

func encodeSnapshot(rec *entity.Record) ([]byte, error) {
	doc := snapshotDoc{
		ID:         rec.ID,
		Created:    rec.Created,
		Updated:    rec.Updated,
		Archived:   rec.Archived,
		Scopes:     stringsOrEmpty(rec.Scopes),
		Attributes: stringsOrEmpty(rec.Attributes),
		Lifetime:   rec.Lifetime,
		Fields:     rec.Fields,
	}
	return json.Marshal(doc)
}

func decodeSnapshot(data []byte) (*entity.Record, error) {
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &entity.Record{
		ID:         doc.ID,
		Created:    doc.Created,
		Updated:    doc.Updated,
		Archived:   doc.Archived,
		Scopes:     doc.Scopes,
		Attributes: doc.Attributes,
		Lifetime:   doc.Lifetime,
		Fields:     doc.Fields,
	}, nil
}

func queryInsertVersion(ctx context.Context, db executor, v *entity.Version) error {
	snapshot, err := encodeSnapshot(v.Snapshot)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO versions (id, struct_name, record_id, created_at, snapshot)
		VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.Struct, v.RecordID, v.Created, snapshot)
	return err
}

func queryVersions(ctx context.Context, db executor, structName, recordID string) ([]*entity.Version, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions
		WHERE struct_name = $1 AND record_id = $2
		ORDER BY created_at ASC, id ASC`,
		structName, recordID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*entity.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryGetVersion(ctx context.Context, db executor, versionID string) (*entity.Version, error) {
	row := db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM versions WHERE id = $1`, versionID)
	v, err := scanVersion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func scanVersion(row scannable) (*entity.Version, error) {
	var v entity.Version
	var snapshot []byte
	if err := row.Scan(&v.ID, &v.Struct, &v.RecordID, &v.Created, &snapshot); err != nil {
		return nil, err
	}
	rec, err := decodeSnapshot(snapshot)
	if err != nil {
		return nil, err
	}
	v.Snapshot = rec
	v.Fields = rec.Fields
	return &v, nil
}
