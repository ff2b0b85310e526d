package daemon

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// File names inside a daemon state directory.
const (
	SocketFile = "sock"
	PIDFile    = "pid"
	MetaFile   = "meta.json"
	LogFile    = "daemon.log"
	ServerLog  = "server.ndjson"
	EventsDB   = "events.db"
)

// Meta is the metadata record the daemon writes for the management CLI.
type Meta struct {
	Server      string    `json:"server"`
	ProjectRoot string    `json:"projectRoot"`
	SocketPath  string    `json:"socketPath"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Status classifies a daemon directory for ps.
type Status string

const (
	// StatusListening means the socket accepts connections.
	StatusListening Status = "listening"
	// StatusRunning means the recorded pid is alive but the socket
	// does not accept (starting up or wedged).
	StatusRunning Status = "running"
	// StatusStale means neither holds; prune removes these.
	StatusStale Status = "stale"
)

// DirKey derives the state directory name for a (projectRoot, server)
// pair: truncated SHA-256 over projectRoot, a NUL byte, and server.
// The NUL separator makes the key unambiguous for any path content.
func DirKey(projectRoot, server string) string {
	h := sha256.Sum256([]byte(projectRoot + "\x00" + server))
	return hex.EncodeToString(h[:8])
}

// StateDir is one daemon's slice of the cache directory. Only the
// owning daemon writes here; the CLI reads or removes it whole.
type StateDir struct {
	Path string
}

// OpenStateDir locates (without creating) the state directory for a
// (projectRoot, server) pair under baseDir.
func OpenStateDir(baseDir, projectRoot, server string) StateDir {
	return StateDir{Path: filepath.Join(baseDir, DirKey(projectRoot, server))}
}

func (d StateDir) SocketPath() string    { return filepath.Join(d.Path, SocketFile) }
func (d StateDir) PIDPath() string       { return filepath.Join(d.Path, PIDFile) }
func (d StateDir) MetaPath() string      { return filepath.Join(d.Path, MetaFile) }
func (d StateDir) LogPath() string       { return filepath.Join(d.Path, LogFile) }
func (d StateDir) ServerLogPath() string { return filepath.Join(d.Path, ServerLog) }
func (d StateDir) EventsDBPath() string  { return filepath.Join(d.Path, EventsDB) }

// Create makes the directory with owner-only permissions.
func (d StateDir) Create() error {
	return os.MkdirAll(d.Path, 0o700)
}

// WriteMeta persists the metadata record atomically.
func (d StateDir) WriteMeta(m Meta) error {
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.MetaPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, d.MetaPath())
}

// ReadMeta loads the metadata record.
func (d StateDir) ReadMeta() (Meta, error) {
	var m Meta
	data, err := os.ReadFile(d.MetaPath())
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(data, &m)
	return m, err
}

// WritePID records the daemon's process id.
func (d StateDir) WritePID(pid int) error {
	return os.WriteFile(d.PIDPath(), []byte(strconv.Itoa(pid)+"\n"), 0o600)
}

// ReadPID returns the recorded process id, or 0 when absent.
func (d StateDir) ReadPID() int {
	data, err := os.ReadFile(d.PIDPath())
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// Remove deletes the whole directory.
func (d StateDir) Remove() error {
	return os.RemoveAll(d.Path)
}

// Status probes the directory: socket accepting wins, then a live pid,
// otherwise stale.
func (d StateDir) Status() Status {
	if ProbeSocket(d.SocketPath(), 200*time.Millisecond) {
		return StatusListening
	}
	if pid := d.ReadPID(); pid > 0 && pidAlive(pid) {
		return StatusRunning
	}
	return StatusStale
}

// ProbeSocket reports whether a unix socket accepts connections.
func ProbeSocket(path string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("unix", path, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func pidAlive(pid int) bool {
	// Signal 0 checks existence without delivering anything.
	return syscall.Kill(pid, 0) == nil
}

// Info is one row of ps output.
type Info struct {
	Key    string `json:"key"`
	Meta   Meta   `json:"meta"`
	PID    int    `json:"pid,omitempty"`
	Status Status `json:"status"`
}

// List scans baseDir and classifies every daemon directory. Entries
// without readable metadata are reported stale with an empty Meta.
func List(baseDir string) ([]Info, error) {
	entries, err := os.ReadDir(baseDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []Info
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		d := StateDir{Path: filepath.Join(baseDir, e.Name())}
		info := Info{Key: e.Name(), PID: d.ReadPID(), Status: d.Status()}
		if m, err := d.ReadMeta(); err == nil {
			info.Meta = m
		} else {
			info.Status = StatusStale
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Kill terminates a daemon via its recorded pid. Returns false when no
// live pid is recorded.
func (d StateDir) Kill() bool {
	pid := d.ReadPID()
	if pid <= 0 || !pidAlive(pid) {
		return false
	}
	return syscall.Kill(pid, syscall.SIGTERM) == nil
}

// Prune removes every stale daemon directory under baseDir and returns
// the removed keys.
func Prune(baseDir string) ([]string, error) {
	infos, err := List(baseDir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, info := range infos {
		if info.Status != StatusStale {
			continue
		}
		if err := os.RemoveAll(filepath.Join(baseDir, info.Key)); err != nil {
			return removed, err
		}
		removed = append(removed, info.Key)
	}
	return removed, nil
}
