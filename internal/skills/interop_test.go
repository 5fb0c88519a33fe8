package skills

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestCCSwitchProfileCountReturnsZeroWhenFileMissing(t *testing.T) {
	count, err := CCSwitchProfileCount(filepath.Join(t.TempDir(), "cc-switch.db"))
	if err != nil {
		t.Fatalf("CCSwitchProfileCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 for a missing database, got %d", count)
	}
}

func TestCCSwitchProfileCountReadsExistingRows(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "cc-switch.db")
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE profiles (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO profiles (name) VALUES ('a'), ('b')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	count, err := CCSwitchProfileCount(dbFile)
	if err != nil {
		t.Fatalf("CCSwitchProfileCount: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}
}

func TestCCSwitchProfileCountToleratesMissingTable(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "cc-switch.db")
	db, err := sql.Open("sqlite3", dbFile)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := db.Exec(`CREATE TABLE unrelated (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	db.Close()

	count, err := CCSwitchProfileCount(dbFile)
	if err != nil {
		t.Fatalf("CCSwitchProfileCount: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 when profiles table is absent, got %d", count)
	}
}
