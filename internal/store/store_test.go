package store

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndRecent(t *testing.T) {
	db := openTestDB(t)

	db.Record("client_connect", "client-1")
	db.Record("client_connect", "client-2")
	db.Record("init_done", "")

	events, err := db.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	// Most recent first.
	if events[0].Kind != "init_done" {
		t.Errorf("events[0].Kind = %q", events[0].Kind)
	}
	if events[2].Detail != "client-1" {
		t.Errorf("events[2].Detail = %q", events[2].Detail)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("zero timestamp")
	}
}

func TestRecentLimit(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 5; i++ {
		db.Record("bridge_publish", "file:///x.ts")
	}
	events, err := db.Recent(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
}

func TestSummary(t *testing.T) {
	db := openTestDB(t)
	db.Record("client_connect", "a")
	db.Record("client_connect", "b")
	db.Record("server_exit", "exit status 0")

	sum, err := db.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if sum["client_connect"] != 2 || sum["server_exit"] != 1 {
		t.Errorf("summary = %v", sum)
	}
}

func TestOpenCreatesParentDir(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "dir", "events.db"))
	if err != nil {
		t.Fatal(err)
	}
	db.Close()
}
