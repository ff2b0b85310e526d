// Package proxy implements the client side of connect: it ensures a
// daemon is listening for the (server, project) pair, spawning one if
// needed, then pumps the caller's standard streams to the daemon
// socket byte for byte. Framing is left to the endpoints; the proxy
// never inspects traffic.
package proxy

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/xfeldman/lsmux/internal/config"
	"github.com/xfeldman/lsmux/internal/daemon"
)

const probeInterval = 50 * time.Millisecond

// EnsureDaemon connects to the daemon socket for (server, projectRoot),
// spawning a detached daemon process when nothing is listening. selfExe
// is the lsmux binary to re-invoke for the daemon entry point.
func EnsureDaemon(cfg *config.Config, selfExe, server, projectRoot string, logger *slog.Logger) (net.Conn, error) {
	dir := daemon.OpenStateDir(cfg.DaemonsDir(), projectRoot, server)
	socketPath := dir.SocketPath()

	if conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond); err == nil {
		return conn, nil
	}

	if err := dir.Create(); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	logger.Debug("spawning daemon", "server", server, "project", projectRoot)
	cmd := exec.Command(selfExe, "daemon",
		"--server", server,
		"--projectRoot", projectRoot,
		"--socket", socketPath)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	// New session: the daemon must survive this CLI process and its
	// terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn daemon: %w", err)
	}
	// The daemon re-parents to init; reap it only to observe an
	// early failure.
	exited := make(chan struct{})
	go func() {
		cmd.Wait()
		close(exited)
	}()

	deadline := time.Now().Add(cfg.SpawnTimeout)
	for time.Now().Before(deadline) {
		if conn, err := net.DialTimeout("unix", socketPath, 200*time.Millisecond); err == nil {
			return conn, nil
		}
		select {
		case <-exited:
			// A fast-failing daemon (binary missing, bad spec) never
			// listens; stop waiting as soon as it is gone.
			return nil, fmt.Errorf("daemon for %s exited before listening (see %s)",
				server, dir.LogPath())
		case <-time.After(probeInterval):
		}
	}
	return nil, fmt.Errorf("daemon for %s did not start listening on %s (see %s)",
		server, socketPath, dir.LogPath())
}

// Pump copies stdin to the connection and the connection to stdout
// until either side closes. Returns nil on a clean server-side close.
func Pump(ctx context.Context, conn net.Conn, stdin io.Reader, stdout io.Writer) error {
	done := make(chan error, 2)

	go func() {
		_, err := io.Copy(conn, stdin)
		// Editor went away; half-close so the daemon sees EOF.
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			cw.CloseWrite()
		}
		done <- err
	}()
	go func() {
		_, err := io.Copy(stdout, conn)
		done <- err
	}()

	select {
	case err := <-done:
		conn.Close()
		<-done
		if err == io.EOF {
			err = nil
		}
		return err
	case <-ctx.Done():
		conn.Close()
		return ctx.Err()
	}
}

// SelfExe resolves the running binary for daemon respawn.
func SelfExe() string {
	exe, err := os.Executable()
	if err != nil {
		return "lsmux"
	}
	return exe
}
