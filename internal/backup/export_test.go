package backup

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/driveteam/scoutd/internal/entity"
	"github.com/driveteam/scoutd/internal/storage"
)

func setupStores(t *testing.T) (*entity.Struct, *entity.Struct) {
	t.Helper()
	entity.Reset()
	t.Cleanup(entity.Reset)

	teams := entity.New("teams", entity.Schema{
		"number": entity.FieldNumber,
		"name":   entity.FieldString,
	}, entity.Options{})
	entity.New("test", entity.Schema{
		"name": entity.FieldString,
	}, entity.Options{Sample: true})
	matches := entity.New("matches", entity.Schema{
		"event":  entity.FieldString,
		"number": entity.FieldNumber,
	}, entity.Options{})

	if err := entity.BuildAll(context.Background(), storage.NewMemory()); err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	return teams, matches
}

func TestExportJSONL(t *testing.T) {
	teams, matches := setupStores(t)
	ctx := context.Background()

	team, err := teams.New(ctx, map[string]any{"number": float64(2122), "name": "Team Tators"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	archived, err := teams.New(ctx, map[string]any{"number": float64(254), "name": "Cheesy Poofs"})
	if err != nil {
		t.Fatalf("create team: %v", err)
	}
	if _, err := teams.SetArchive(ctx, archived.ID, true); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if _, err := matches.New(ctx, map[string]any{"event": "idbo", "number": float64(12)}); err != nil {
		t.Fatalf("create match: %v", err)
	}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}

	sc := bufio.NewScanner(&buf)
	if !sc.Scan() {
		t.Fatal("missing header line")
	}
	var hdr header
	if err := json.Unmarshal(sc.Bytes(), &hdr); err != nil {
		t.Fatalf("decode header: %v", err)
	}
	if hdr.Version != "1" || hdr.Type != "header" {
		t.Fatalf("unexpected header: %+v", hdr)
	}
	if len(hdr.Stores) != 2 {
		t.Fatalf("stores = %v, want teams and matches only", hdr.Stores)
	}
	for _, name := range hdr.Stores {
		if name == "test" {
			t.Fatal("sample store included in export")
		}
	}

	byStruct := map[string]int{}
	ids := map[string]bool{}
	for sc.Scan() {
		var ln line
		if err := json.Unmarshal(sc.Bytes(), &ln); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		if ln.Type != "record" {
			t.Fatalf("line type = %q", ln.Type)
		}
		byStruct[ln.Struct]++
		ids[ln.Data.ID] = true
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if byStruct["teams"] != 2 {
		t.Fatalf("teams records = %d, want 2 including archived", byStruct["teams"])
	}
	if byStruct["matches"] != 1 {
		t.Fatalf("matches records = %d, want 1", byStruct["matches"])
	}
	if !ids[team.ID] || !ids[archived.ID] {
		t.Fatal("export missing expected record ids")
	}
}

func TestDirDestination(t *testing.T) {
	dir := t.TempDir()
	dest, err := NewDirDestination(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("NewDirDestination: %v", err)
	}

	if err := dest.Write(context.Background(), []byte("{\"type\":\"header\"}\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "scoutd-") || !strings.HasSuffix(name, ".jsonl") {
		t.Fatalf("unexpected backup name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(dir, "backups", name))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "{\"type\":\"header\"}\n" {
		t.Fatalf("content = %q", data)
	}
}

type captureDest struct {
	writes chan []byte
}

func (c *captureDest) Write(_ context.Context, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes <- cp
	return nil
}

func TestScheduler_RunsInitialSync(t *testing.T) {
	setupStores(t)

	dest := &captureDest{writes: make(chan []byte, 4)}
	sched := NewScheduler(dest, time.Hour)
	sched.Start()
	t.Cleanup(sched.Stop)

	select {
	case data := <-dest.writes:
		if !bytes.Contains(data, []byte(`"type":"header"`)) {
			t.Fatalf("initial sync payload missing header: %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("initial sync never ran")
	}

	sched.Stop()
	// Stop twice is a no-op.
	sched.Stop()
}
