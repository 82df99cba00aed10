package persistence

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestVersionOf(t *testing.T) {
	cases := map[string]string{
		"000001_event_log.up.sql":   "000001",
		"000002_projections.up.sql": "000002",
		"oddball.sql":               "oddball.sql",
	}
	for in, want := range cases {
		if got := versionOf(in); got != want {
			t.Errorf("versionOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMigrationFilesSortedAndFiltered(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"000002_projections.up.sql",
		"000001_event_log.up.sql",
		"000001_event_log.down.sql",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("-- noop"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "archive.up.sql"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := NewMigrator(nil, dir)
	files, err := m.migrationFiles(".up.sql")
	if err != nil {
		t.Fatalf("migration files: %v", err)
	}

	want := []string{"000001_event_log.up.sql", "000002_projections.up.sql"}
	if !reflect.DeepEqual(files, want) {
		t.Fatalf("files = %v, want %v", files, want)
	}
}
