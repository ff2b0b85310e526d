package logstore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFilePersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.ndjson")
	s := Open(path)
	defer s.Close()

	s.Append(SourceServer, "hello")
	s.Append(SourceSystem, "world")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatal("log file does not contain 'hello'")
	}
	if !strings.Contains(string(data), "world") {
		t.Fatal("log file does not contain 'world'")
	}
}

func TestFileRotationCompressesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.ndjson")
	s := Open(path)
	defer s.Close()

	bigLine := strings.Repeat("a", 100000) // 100KB per line
	for i := 0; i < 120; i++ { // ~12MB total > maxFileBytes
		s.Append(SourceServer, bigLine)
	}

	fi, err := os.Stat(path + ".1.zst")
	if err != nil {
		t.Fatalf("compressed rotation: %v", err)
	}
	if fi.Size() >= maxFileBytes {
		t.Fatalf("rotated file not compressed: %d bytes", fi.Size())
	}

	// ReadFile stitches the compressed generation with the live file.
	entries, err := ReadFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) < 120 {
		t.Fatalf("expected at least 120 entries across generations, got %d", len(entries))
	}
}

func TestCaptureStderr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.ndjson")
	s := Open(path)
	s.CaptureStderr(strings.NewReader("first\nsecond\n"))
	s.Close()

	entries, err := ReadFile(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Line != "first" || entries[0].Source != SourceServer {
		t.Fatalf("entry = %+v", entries[0])
	}
}

func TestAppendWithoutFileIsNoop(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing", "server.ndjson"))
	defer s.Close()

	s.Append(SourceServer, "dropped") // no parent dir, nothing to do
}

func TestReadFileTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.ndjson")
	s := Open(path)
	s.Append(SourceServer, "one")
	s.Append(SourceServer, "two")
	s.Append(SourceServer, "three")
	s.Close()

	entries, err := ReadFile(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Line != "two" || entries[1].Line != "three" {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "nope.ndjson"), 0)
	if err == nil {
		t.Fatal("expected error for missing file with no previous generation")
	}
}
