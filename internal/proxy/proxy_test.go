package proxy

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/xfeldman/lsmux/internal/config"
	"github.com/xfeldman/lsmux/internal/daemon"
)

func TestPumpRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("unix", dir+"/sock")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// Echo everything back, then close.
		io.Copy(conn, conn)
		conn.Close()
	}()

	conn, err := net.Dial("unix", dir+"/sock")
	if err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	err = Pump(context.Background(), conn, strings.NewReader("hello daemon"), &out)
	if err != nil {
		t.Fatalf("pump: %v", err)
	}
	if out.String() != "hello daemon" {
		t.Errorf("out = %q", out.String())
	}
}

func TestPumpContextCancel(t *testing.T) {
	dir := t.TempDir()
	ln, err := net.Listen("unix", dir+"/sock")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		io.Copy(io.Discard, conn)
	}()

	conn, err := net.Dial("unix", dir+"/sock")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	// stdin never closes, so only cancellation ends the pump.
	blocked, _ := io.Pipe()
	if err := Pump(ctx, conn, blocked, io.Discard); err != context.Canceled {
		t.Errorf("err = %v", err)
	}
}

func TestEnsureDaemonReusesListeningSocket(t *testing.T) {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	if err := cfg.EnsureDirs(); err != nil {
		t.Fatal(err)
	}

	dir := daemon.OpenStateDir(cfg.DaemonsDir(), "/p", "tsgo")
	if err := dir.Create(); err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("unix", dir.SocketPath())
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	accepted := make(chan struct{}, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- struct{}{}
		conn.Close()
	}()

	// selfExe is bogus on purpose: a spawn attempt would fail loudly.
	conn, err := EnsureDaemon(cfg, "/nonexistent/lsmux", "tsgo", "/p", slog.Default())
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()

	select {
	case <-accepted:
	case <-time.After(time.Second):
		t.Fatal("listener never saw the connection")
	}
}
