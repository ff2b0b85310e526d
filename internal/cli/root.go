// Package cli implements the lsmux command-line interface: connect,
// the daemon management commands (ps, kill, prune, logs, stats), and
// the hidden daemon entry point.
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/config"
	"github.com/xfeldman/lsmux/internal/daemon"
)

// Exit codes: 0 success, 2 usage error, 1 anything operational.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// usageError marks errors that should exit with code 2.
type usageError struct{ err error }

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

var (
	cfg      *config.Config
	registry = catalog.Builtin()

	rootCmd = &cobra.Command{
		Use:   "lsmux",
		Short: "Share one language server between many editors",
		Long: `lsmux multiplexes N editor clients onto one language server per
(project, server) pair. Editors connect over stdio; lsmux starts a
daemon on demand and routes framed JSON-RPC between everyone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			return err
		},
	}
)

func init() {
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "lsmux: "+err.Error())
		var ue *usageError
		if errors.As(err, &ue) {
			return exitUsage
		}
		return exitError
	}
	return exitOK
}

// resolveSpec maps a CLI server argument through the catalog.
func resolveSpec(name string) (*catalog.Spec, error) {
	spec, err := registry.Lookup(name)
	if err != nil {
		known := ""
		for i, s := range registry.All() {
			if i > 0 {
				known += ", "
			}
			known += s.Name
		}
		return nil, usagef("unknown server %q (known: %s)", name, known)
	}
	return spec, nil
}

// resolveProject absolutizes the --project flag, defaulting to the
// working directory. The daemon key is derived from this path, so two
// spellings of the same directory must normalize identically.
func resolveProject(project string) (string, error) {
	if project == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		project = wd
	}
	abs, err := filepath.Abs(project)
	if err != nil {
		return "", err
	}
	// Symlink spellings of the same directory must share one daemon.
	// Vanished directories (kill/prune after rm -rf) keep the raw path.
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// stateDirFor locates the daemon state directory for a server/project
// pair without creating it.
func stateDirFor(server, project string) (daemon.StateDir, *catalog.Spec, error) {
	spec, err := resolveSpec(server)
	if err != nil {
		return daemon.StateDir{}, nil, err
	}
	root, err := resolveProject(project)
	if err != nil {
		return daemon.StateDir{}, nil, err
	}
	return daemon.OpenStateDir(cfg.DaemonsDir(), root, spec.Name), spec, nil
}
