package db

import (
	"testing"
	"testing/fstest"
	"time"
)

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"001_facilities.sql": {Data: []byte("CREATE TABLE facilities (id TEXT PRIMARY KEY);")},
		"002_encounters.sql": {Data: []byte("CREATE TABLE encounters (id TEXT PRIMARY KEY);")},
		"010_indexes.sql":    {Data: []byte("SELECT 10;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	want := []int{1, 2, 10}
	for i, v := range want {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
	if migrations[0].Name != "001_facilities.sql" {
		t.Errorf("unexpected name %s", migrations[0].Name)
	}
	if migrations[0].SQL != "CREATE TABLE facilities (id TEXT PRIMARY KEY);" {
		t.Errorf("unexpected SQL %q", migrations[0].SQL)
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"001_valid.sql":      {Data: []byte("SELECT 1;")},
		"readme.sql":         {Data: []byte("-- no version")},
		"notes.txt":          {Data: []byte("not sql")},
		"abc_invalid.sql":    {Data: []byte("-- non-numeric")},
		"002_also_valid.sql": {Data: []byte("SELECT 2;")},
		"sub/003_nested.sql": {Data: []byte("SELECT 3;")},
	}

	migrations, err := NewMigrator(nil, fsys).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	if _, err := NewMigrator(nil, fsys).LoadMigrations(); err == nil {
		t.Fatal("expected error for duplicate version")
	}
}

func TestLoadMigrations_Empty(t *testing.T) {
	migrations, err := NewMigrator(nil, fstest.MapFS{}).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 0 {
		t.Errorf("expected 0 migrations, got %d", len(migrations))
	}
}

func TestPending(t *testing.T) {
	migrations := []Migration{{Version: 1}, {Version: 2}, {Version: 3}, {Version: 5}}

	got := Pending(migrations, map[int]bool{1: true}, 0)
	if len(got) != 3 || got[0].Version != 2 || got[2].Version != 5 {
		t.Fatalf("unexpected pending set %+v", got)
	}

	got = Pending(migrations, map[int]bool{1: true}, 3)
	if len(got) != 2 || got[1].Version != 3 {
		t.Fatalf("expected versions 2 and 3 up to target, got %+v", got)
	}

	if got := Pending(migrations, map[int]bool{1: true, 2: true, 3: true, 5: true}, 0); len(got) != 0 {
		t.Fatalf("expected nothing pending, got %+v", got)
	}
}

func TestBuildStatus(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	statuses := buildStatus(
		[]Migration{{Version: 1, Name: "001_facilities.sql"}, {Version: 2, Name: "002_encounters.sql"}},
		map[int]time.Time{1: at},
	)
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}
