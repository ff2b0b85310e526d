package mux

import (
	"io"
	"log/slog"
	"sync"

	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// Congestion watermarks for a destination's overflow buffer. Enqueue
// never suspends; once a buffer grows to highWater the mux pauses the
// read loops feeding that destination until the writer drains back
// below lowWater. Pausing reads instead of the dispatch keeps the
// relay deadlock-free: no goroutine sleeps while holding the mux lock,
// and both read loops keep draining their streams while the other
// side is congested.
const (
	highWater = 64
	lowWater  = 16
)

// destWriter serializes all writes to one destination (the server's
// stdin or one client socket) on a single goroutine. Frames accumulate
// in a growable buffer so send never blocks the caller. After a write
// error the writer discards everything, so a dead destination never
// congests the mux.
type destWriter struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]byte
	closed bool
	failed bool

	onError func(error) // called once, from the writer goroutine
}

func newDestWriter(name string, w io.Writer, logger *slog.Logger, onError func(error)) *destWriter {
	dw := &destWriter{
		name:    name,
		logger:  logger,
		onError: onError,
	}
	dw.cond = sync.NewCond(&dw.mu)
	go dw.run(w)
	return dw
}

func (dw *destWriter) run(w io.Writer) {
	for {
		dw.mu.Lock()
		for len(dw.queue) == 0 && !dw.closed {
			dw.cond.Wait()
		}
		if len(dw.queue) == 0 {
			dw.mu.Unlock()
			return
		}
		frame := dw.queue[0]
		dw.queue = dw.queue[1:]
		if len(dw.queue) < lowWater {
			dw.cond.Broadcast()
		}
		dw.mu.Unlock()

		if _, err := w.Write(frame); err != nil {
			// Drop the backlog and refuse new frames; nothing enqueued
			// for a dead destination should hold a reader stalled.
			dw.mu.Lock()
			dw.failed = true
			dw.queue = nil
			dw.cond.Broadcast()
			dw.mu.Unlock()
			dw.logger.Debug("writer failed", "dest", dw.name, "error", err)
			if dw.onError != nil {
				dw.onError(err)
			}
		}
	}
}

// send encodes and enqueues one message. Never blocks: the buffer
// grows as needed, and congestion is surfaced through stall instead.
// Frames sent after close or after a write error are discarded.
func (dw *destWriter) send(m *jsonrpc.Message) {
	frame, err := jsonrpc.Encode(m)
	if err != nil {
		dw.logger.Error("encode failed", "dest", dw.name, "error", err)
		return
	}
	dw.mu.Lock()
	if dw.closed || dw.failed {
		dw.mu.Unlock()
		return
	}
	dw.queue = append(dw.queue, frame)
	dw.cond.Broadcast()
	dw.mu.Unlock()
}

// stall blocks while the destination is congested: once the buffer has
// reached highWater it returns only after the writer drains it below
// lowWater. Closed or failed writers never stall. Callers must not
// hold the mux lock.
func (dw *destWriter) stall() {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed || dw.failed || len(dw.queue) < highWater {
		return
	}
	for !dw.closed && !dw.failed && len(dw.queue) >= lowWater {
		dw.cond.Wait()
	}
}

// close stops the writer after the buffered frames drain. Idempotent;
// also releases any reader stalled on this destination.
func (dw *destWriter) close() {
	dw.mu.Lock()
	dw.closed = true
	dw.cond.Broadcast()
	dw.mu.Unlock()
}
