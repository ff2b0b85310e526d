// Package logstore captures language server output (stderr lines plus
// lifecycle events) as NDJSON with size-based rotation. The rotated
// generation is zstd-compressed; the CLI reads both back for
// `lsmux logs`.
package logstore

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const maxFileBytes = 10 * 1024 * 1024 // per log file before rotation

// Log sources identify where an entry originated.
const (
	SourceServer = "server" // language server stderr
	SourceSystem = "system" // daemon lifecycle events
)

// Entry is a single captured line.
type Entry struct {
	Timestamp time.Time `json:"ts"`
	Source    string    `json:"source"`
	Line      string    `json:"line"`
}

// Store appends NDJSON entries for one server and rotates the file.
type Store struct {
	mu sync.Mutex

	filePath  string
	file      *os.File
	fileBytes int64
}

// Open creates a store persisting to filePath. A file error is not
// fatal: appends become no-ops instead of failing the daemon.
func Open(filePath string) *Store {
	s := &Store{filePath: filePath}
	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err == nil {
		s.file = f
		if info, err := f.Stat(); err == nil {
			s.fileBytes = info.Size()
		}
	}
	return s
}

// Append records one line.
func (s *Store) Append(source, line string) {
	entry := Entry{Timestamp: time.Now(), Source: source, Line: line}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')
	n, err := s.file.Write(data)
	if err != nil {
		return
	}
	s.fileBytes += int64(n)
	if s.fileBytes > maxFileBytes {
		s.rotate()
	}
}

// CaptureStderr consumes r line by line until EOF, appending each line
// with SourceServer. Intended to run on its own goroutine over the
// child's stderr pipe.
func (s *Store) CaptureStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		s.Append(SourceServer, sc.Text())
	}
}

// rotate renames the live file to a compressed previous generation and
// reopens. One previous generation is kept. Caller holds mu.
func (s *Store) rotate() {
	s.file.Close()
	compressGeneration(s.filePath, s.filePath+".1.zst")
	os.Remove(s.filePath)
	f, err := os.OpenFile(s.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err == nil {
		s.file = f
		s.fileBytes = 0
	} else {
		s.file = nil
	}
}

func compressGeneration(src, dst string) {
	in, err := os.Open(src)
	if err != nil {
		return
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return
	}
	defer out.Close()
	zw, err := zstd.NewWriter(out)
	if err != nil {
		return
	}
	io.Copy(zw, in)
	zw.Close()
}

// Close closes the file handle.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file != nil {
		s.file.Close()
		s.file = nil
	}
}

// ReadFile loads persisted entries from the live NDJSON file and, when
// present, the compressed previous generation, oldest first. Used by
// the CLI, which reads a daemon's log without talking to it.
func ReadFile(filePath string, tail int) ([]Entry, error) {
	var result []Entry

	if prev, err := os.Open(filePath + ".1.zst"); err == nil {
		zr, err := zstd.NewReader(prev)
		if err == nil {
			result = append(result, decodeEntries(zr)...)
			zr.Close()
		}
		prev.Close()
	}

	live, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) && result != nil {
			err = nil
		}
		if err != nil {
			return result, err
		}
	} else {
		result = append(result, decodeEntries(live)...)
		live.Close()
	}

	if tail > 0 && len(result) > tail {
		result = result[len(result)-tail:]
	}
	return result, nil
}

func decodeEntries(r io.Reader) []Entry {
	var out []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var e Entry
		if json.Unmarshal(sc.Bytes(), &e) == nil {
			out = append(out, e)
		}
	}
	return out
}
