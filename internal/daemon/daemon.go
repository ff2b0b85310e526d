// Package daemon runs one lsmux daemon: it spawns the language server,
// wraps it in the mux, and accepts editor connections on a local
// socket inside the daemon's state directory. It also owns the on-disk
// layout the management CLI reads for ps, kill, and prune.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/config"
	"github.com/xfeldman/lsmux/internal/discover"
	"github.com/xfeldman/lsmux/internal/logging"
	"github.com/xfeldman/lsmux/internal/logstore"
	"github.com/xfeldman/lsmux/internal/mux"
	"github.com/xfeldman/lsmux/internal/store"
)

// Options configures one daemon process.
type Options struct {
	Spec        *catalog.Spec
	ProjectRoot string
	// SocketPath overrides the state-dir socket when non-empty.
	SocketPath string
	Config     *config.Config
	Logger     *slog.Logger
}

// Run owns the process from spawn to exit. It returns once the
// language server has terminated and the state files are cleaned up.
func Run(ctx context.Context, opts Options) error {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}

	dir := OpenStateDir(cfg.DaemonsDir(), opts.ProjectRoot, opts.Spec.Name)
	if err := dir.Create(); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		f, err := os.OpenFile(dir.LogPath(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return fmt.Errorf("open daemon log: %w", err)
		}
		defer f.Close()
		logger = logging.ForFile(f, logging.ParseLevel(cfg.LogLevel))
	}
	logger = logger.With("server", opts.Spec.Name, "project", opts.ProjectRoot)

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = dir.SocketPath()
	}

	// Refuse to fight a live daemon; clear a dead socket.
	if ProbeSocket(socketPath, 200*time.Millisecond) {
		return fmt.Errorf("another daemon is already listening on %s", socketPath)
	}
	os.Remove(socketPath)

	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer ln.Close()
	if err := os.Chmod(socketPath, 0o600); err != nil {
		return fmt.Errorf("chmod socket: %w", err)
	}

	if err := dir.WriteMeta(Meta{
		Server:      opts.Spec.Name,
		ProjectRoot: opts.ProjectRoot,
		SocketPath:  socketPath,
	}); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	events, err := store.Open(dir.EventsDBPath())
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}
	defer events.Close()

	serverLog := logstore.Open(dir.ServerLogPath())
	defer serverLog.Close()

	binPath, err := discover.Find(opts.Spec, opts.ProjectRoot)
	if err != nil {
		events.Record("spawn_failed", err.Error())
		return err
	}

	cmd := exec.Command(binPath, opts.Spec.Args...)
	cmd.Dir = opts.ProjectRoot
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	child, err := mux.StartCommand(cmd)
	if err != nil {
		events.Record("spawn_failed", err.Error())
		return fmt.Errorf("start %s: %w", binPath, err)
	}
	go serverLog.CaptureStderr(stderr)

	// The pid file exists only while a server is actually running;
	// writing it earlier would let a failed spawn show up in ps.
	if err := dir.WritePID(os.Getpid()); err != nil {
		return fmt.Errorf("write pid: %w", err)
	}

	logger.Info("daemon started", "socket", socketPath, "binary", binPath, "pid", os.Getpid())
	events.Record("server_spawn", binPath)
	serverLog.Append(logstore.SourceSystem, "server spawned: "+binPath)

	exited := make(chan mux.ExitStatus, 1)
	m := mux.New(child, mux.Options{
		Spec:         opts.Spec,
		ProjectRoot:  opts.ProjectRoot,
		IdleShutdown: cfg.IdleShutdown,
		Logger:       logger,
		Events:       events,
		OnExit: func(status mux.ExitStatus) {
			exited <- status
		},
	})

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()
	go func() {
		<-ctx.Done()
		ln.Close()
		m.Shutdown()
	}()

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			m.AddClient(conn)
		}
	}()

	status := <-exited
	ln.Close()
	<-acceptDone

	logger.Info("server exited", "status", status.String())
	serverLog.Append(logstore.SourceSystem, "server exited: "+status.String())

	// The directory outlives the daemon so logs and events stay
	// inspectable; only the live markers go.
	os.Remove(socketPath)
	os.Remove(dir.PIDPath())
	return nil
}
