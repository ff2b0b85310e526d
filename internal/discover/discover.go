// Package discover resolves a server spec to an executable path.
// Resolution order: env var override, project-local directory, PATH.
package discover

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xfeldman/lsmux/internal/catalog"
)

// NotFoundError reports that no executable was found for a spec. It
// carries the install hint so the CLI can tell the user what to run.
type NotFoundError struct {
	Server  string
	Tried   []string
	Install *catalog.Install
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no executable found for %s (tried %v)", e.Server, e.Tried)
}

// Hint returns a one-line install suggestion, or "" when the spec has
// no install fallback.
func (e *NotFoundError) Hint() string {
	if e.Install == nil {
		return ""
	}
	switch e.Install.Manager {
	case "npm":
		return fmt.Sprintf("npm install -g %s", e.Install.Package)
	default:
		return fmt.Sprintf("%s install %s", e.Install.Manager, e.Install.Package)
	}
}

// Find locates the executable for spec relative to projectRoot.
func Find(spec *catalog.Spec, projectRoot string) (string, error) {
	bin := spec.Binary

	if bin.EnvVar != "" {
		if p := os.Getenv(bin.EnvVar); p != "" {
			if !isExecutable(p) {
				return "", fmt.Errorf("%s=%q is not an executable file", bin.EnvVar, p)
			}
			return p, nil
		}
	}

	var tried []string

	if bin.LocalDir != "" {
		for _, name := range bin.Candidates {
			p := filepath.Join(projectRoot, bin.LocalDir, name)
			tried = append(tried, p)
			if isExecutable(p) {
				return p, nil
			}
		}
	}

	for _, name := range bin.Candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
		tried = append(tried, name)
	}

	return "", &NotFoundError{Server: spec.Name, Tried: tried, Install: bin.Install}
}

func isExecutable(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return false
	}
	return fi.Mode().Perm()&0o111 != 0
}
