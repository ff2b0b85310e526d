package daemon

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/config"
	"github.com/xfeldman/lsmux/internal/discover"
)

// A spawn that never happens must not leave live markers behind: ps
// classifies a daemon as running off the pid file alone.
func TestRunSpawnFailureLeavesNoPIDFile(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()

	spec := &catalog.Spec{
		Name: "ghost",
		Binary: catalog.Binary{
			Candidates: []string{"lsmux-test-no-such-binary"},
		},
	}
	root := t.TempDir()

	err := Run(context.Background(), Options{
		Spec:        spec,
		ProjectRoot: root,
		Config:      cfg,
	})
	var nf *discover.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Run error = %v, want NotFoundError", err)
	}

	dir := OpenStateDir(cfg.DaemonsDir(), root, spec.Name)
	if _, err := os.Stat(dir.PIDPath()); !os.IsNotExist(err) {
		t.Fatalf("pid file left behind after failed spawn: %v", err)
	}
	if dir.Status() == StatusRunning {
		t.Fatal("failed spawn classified as running")
	}
}
