// Package mux routes framed JSON-RPC between many editor clients and a
// single language server child process. It owns the child's standard
// streams, rewrites request identifiers so clients cannot collide,
// caches the initialize handshake, and hosts the pull-to-push
// diagnostics bridge.
package mux

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"syscall"
)

// ExitStatus describes how the server child terminated.
type ExitStatus struct {
	Code   int    // -1 when killed by a signal
	Signal string // empty when exited normally
}

func (e ExitStatus) String() string {
	if e.Signal != "" {
		return "signal " + e.Signal
	}
	return fmt.Sprintf("exit %d", e.Code)
}

// Child is the spawned language server as the mux sees it: a writable
// stdin, a readable stdout, and termination. Tests substitute an
// in-memory implementation.
type Child interface {
	Stdin() io.Writer
	Stdout() io.Reader
	// Kill forcefully terminates the child. Idempotent.
	Kill() error
	// Wait blocks until the child exits and returns its status.
	// Must be called exactly once.
	Wait() ExitStatus
}

// procChild adapts an already-started exec.Cmd.
type procChild struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

// StartCommand starts cmd with piped stdin/stdout and wraps it as a
// Child. The caller wires stderr before calling.
func StartCommand(cmd *exec.Cmd) (Child, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	return &procChild{cmd: cmd, stdin: stdin, stdout: stdout}, nil
}

func (p *procChild) Stdin() io.Writer  { return p.stdin }
func (p *procChild) Stdout() io.Reader { return p.stdout }

func (p *procChild) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *procChild) Wait() ExitStatus {
	err := p.cmd.Wait()
	if err == nil {
		return ExitStatus{Code: 0}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return ExitStatus{Code: -1, Signal: ws.Signal().String()}
		}
		return ExitStatus{Code: exitErr.ExitCode()}
	}
	// Wait failed for a non-exit reason (I/O); report a generic code.
	return ExitStatus{Code: -1}
}
