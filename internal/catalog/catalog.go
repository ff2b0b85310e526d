// Package catalog is the static registry of language server behaviors.
// A Spec describes how to find a server binary, how to invoke it in
// stdio LSP mode, which diagnostics mode it needs, and the optional
// message hooks the mux applies. Specs are immutable after registration.
package catalog

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// ErrUnknownServer is returned when a name matches no registered spec.
var ErrUnknownServer = errors.New("unknown server")

// DiagnosticsMode selects how diagnostics reach clients.
type DiagnosticsMode int

const (
	// DiagPassthrough forwards whatever the server pushes; the mux
	// adds nothing.
	DiagPassthrough DiagnosticsMode = iota
	// DiagPullToPush makes the mux pull textDocument/diagnostic on
	// file events and republish results as publishDiagnostics for
	// clients without pull capability.
	DiagPullToPush
)

// Binary describes how to locate a server executable.
type Binary struct {
	// EnvVar names an environment variable whose value, when set,
	// overrides all other resolution.
	EnvVar string
	// Candidates are executable names probed on PATH, in order.
	Candidates []string
	// LocalDir, when non-empty, is a project-relative directory
	// probed for each candidate before PATH (e.g. node_modules/.bin).
	LocalDir string
	// Install, when non-nil, describes how the binary could be
	// installed on demand.
	Install *Install
}

// Install describes an on-demand install fallback. The daemon never
// runs it unprompted; the CLI surfaces it as a hint.
type Install struct {
	Package string // package name in the manager's namespace
	Manager string // e.g. "npm"
}

// Spec is the immutable behavior descriptor for one language server.
type Spec struct {
	// Name is the canonical identifier used in CLI commands and the
	// on-disk daemon layout.
	Name    string
	Aliases []string

	Binary Binary
	// Args are appended to the binary invocation to select stdio LSP
	// mode.
	Args []string

	Diagnostics DiagnosticsMode
	// Debounce coalesces file events per URI before a pull request.
	// Zero means the mux default.
	Debounce time.Duration
	// BuildDiagnosticRequest builds the params for a bridge pull
	// request. Nil selects the default shape
	// {textDocument:{uri}, identifier:null, previousResultId:null}.
	BuildDiagnosticRequest func(uri string) []byte

	// PrepareInitialize, when non-nil, transforms the first
	// initialize request before it is forwarded to the server.
	// It must not mutate its argument.
	PrepareInitialize func(m *jsonrpc.Message) *jsonrpc.Message
}

// Registry maps names and aliases to specs.
type Registry struct {
	byName map[string]*Spec
	specs  []*Spec
}

// NewRegistry builds a registry from the given specs. Duplicate names
// or aliases panic; the built-in set is a programming error if it
// collides.
func NewRegistry(specs ...*Spec) *Registry {
	r := &Registry{byName: make(map[string]*Spec)}
	for _, s := range specs {
		r.add(s)
	}
	return r
}

func (r *Registry) add(s *Spec) {
	names := append([]string{s.Name}, s.Aliases...)
	for _, n := range names {
		if _, dup := r.byName[n]; dup {
			panic(fmt.Sprintf("catalog: duplicate server name %q", n))
		}
		r.byName[n] = s
	}
	r.specs = append(r.specs, s)
}

// Lookup resolves a name or alias to its spec.
func (r *Registry) Lookup(name string) (*Spec, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownServer, name)
	}
	return s, nil
}

// All returns every distinct spec, sorted by canonical name. Used for
// help output.
func (r *Registry) All() []*Spec {
	out := make([]*Spec, len(r.specs))
	copy(out, r.specs)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
