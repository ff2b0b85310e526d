package mux

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// DefaultIdleShutdown is how long the mux keeps the child alive after
// the last client disconnects.
const DefaultIdleShutdown = 500 * time.Millisecond

// EventRecorder receives lifecycle events for the daemon's event store.
type EventRecorder interface {
	Record(kind, detail string)
}

// Options configures a Mux.
type Options struct {
	Spec        *catalog.Spec
	ProjectRoot string
	// IdleShutdown overrides DefaultIdleShutdown when positive.
	IdleShutdown time.Duration
	Logger       *slog.Logger
	// OnExit fires exactly once, after the child has terminated and
	// every client connection is closed.
	OnExit func(ExitStatus)
	// Events is optional.
	Events EventRecorder
}

type initState int

const (
	initNotStarted initState = iota
	initInProgress
	initDone
)

type client struct {
	id   int64
	conn net.Conn
	w    *destWriter
	// pullDiagnostics records whether this client advertised
	// textDocument.diagnostic capability in its initialize params.
	pullDiagnostics bool
}

type clientPending struct {
	clientID int64
	origID   jsonrpc.ID
}

type deferredInit struct {
	clientID int64
	origID   jsonrpc.ID
}

// Mux owns one language server child and the set of connected clients.
//
// Concurrency model: one reader goroutine per client, one reader on the
// child's stdout, one writer goroutine per destination. All shared
// state is guarded by mu; per-message dispatch is short and never
// blocks — enqueuing to a writer only grows its buffer. Congestion
// pauses the read loops that feed the congested destination, outside
// mu: client reads stall on the server writer, the server-stdout read
// stalls on client writers.
type Mux struct {
	spec         *catalog.Spec
	projectRoot  string
	child        Child
	idleShutdown time.Duration
	logger       *slog.Logger
	onExit       func(ExitStatus)
	events       EventRecorder

	serverWriter *destWriter

	mu           sync.Mutex
	clients      []*client // insertion order; the first is never special except via primary
	nextClientID int64
	primary      *client

	nextServerID  int64 // positive id space: client-origin and bridge requests
	nextForwardID int64 // negative id space: server-origin requests to the primary

	pendingClient   map[int64]clientPending
	pendingInternal map[int64]internalPending
	pendingServer   map[int64]jsonrpc.ID

	initState       initState
	initServerID    int64
	initOwner       *client
	initOwnerOrigID jsonrpc.ID
	initResult      json.RawMessage
	initError       json.RawMessage
	deferredInits   []deferredInit

	bridge *bridge

	idleTimer *time.Timer
	closed    bool
	exitOnce  sync.Once
}

// New wraps an already-spawned child in a mux and starts its server
// read loop. Clients attach via AddClient.
func New(child Child, opts Options) *Mux {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	idle := opts.IdleShutdown
	if idle <= 0 {
		idle = DefaultIdleShutdown
	}
	m := &Mux{
		spec:            opts.Spec,
		projectRoot:     opts.ProjectRoot,
		child:           child,
		idleShutdown:    idle,
		logger:          logger,
		onExit:          opts.OnExit,
		events:          opts.Events,
		nextServerID:    1,
		nextForwardID:   -1,
		pendingClient:   make(map[int64]clientPending),
		pendingInternal: make(map[int64]internalPending),
		pendingServer:   make(map[int64]jsonrpc.ID),
	}
	m.serverWriter = newDestWriter("server", child.Stdin(), logger, func(err error) {
		// Broken stdin means the child is on its way down; make sure.
		go child.Kill()
	})
	if opts.Spec != nil && opts.Spec.Diagnostics == catalog.DiagPullToPush {
		m.bridge = newBridge(m, opts.Spec)
	}
	go m.serverReadLoop()
	go func() {
		m.shutdown(child.Wait())
	}()
	return m
}

func (m *Mux) record(kind, detail string) {
	if m.events != nil {
		m.events.Record(kind, detail)
	}
}

// AddClient registers an accepted connection and starts its read loop.
func (m *Mux) AddClient(conn net.Conn) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		conn.Close()
		return
	}
	m.nextClientID++
	c := &client{
		id:   m.nextClientID,
		conn: conn,
		w: newDestWriter("client", conn, m.logger, func(err error) {
			// Do not touch m.mu from the writer goroutine; closing the
			// conn ends the client's read loop, which removes it.
			go conn.Close()
		}),
	}
	m.clients = append(m.clients, c)
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	m.mu.Unlock()

	m.logger.Debug("client connected", "client", c.id)
	m.record("client_connect", "")
	go m.clientReadLoop(c)
}

// ClientCount returns the number of connected clients.
func (m *Mux) ClientCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.clients)
}

// Shutdown kills the child; the exit path then closes all clients and
// fires OnExit.
func (m *Mux) Shutdown() {
	m.child.Kill()
}

func (m *Mux) clientReadLoop(c *client) {
	r := jsonrpc.NewReader(c.conn)
	for {
		// Client traffic feeds the server's stdin; stop consuming it
		// while that queue is congested.
		m.serverWriter.stall()
		msg, err := r.Read()
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				m.logger.Debug("client read failed", "client", c.id, "error", err)
			}
			m.removeClient(c)
			return
		}
		m.dispatchFromClient(c, msg)
	}
}

func (m *Mux) serverReadLoop() {
	r := jsonrpc.NewReader(m.child.Stdout())
	for {
		// Server traffic fans out to client sockets; stop consuming
		// stdout while any client queue is congested. Never stalls on
		// the server's own queue, so a child blocked mid-write always
		// gets its stdout drained.
		m.stallOnClientWriters()
		msg, err := r.Read()
		if err != nil {
			// EOF accompanies child exit; a framing error makes the
			// stream unusable either way. The Wait goroutine finishes
			// the teardown.
			if err != io.EOF {
				m.logger.Warn("server read failed", "error", err)
				m.child.Kill()
			}
			return
		}
		m.dispatchFromServer(msg)
	}
}

// stallOnClientWriters pauses while any connected client's write
// buffer is congested. Snapshot under mu, stall outside it.
func (m *Mux) stallOnClientWriters() {
	m.mu.Lock()
	writers := make([]*destWriter, 0, len(m.clients))
	for _, c := range m.clients {
		writers = append(writers, c.w)
	}
	m.mu.Unlock()
	for _, w := range writers {
		w.stall()
	}
}

// --- client → server ---

func (m *Mux) dispatchFromClient(c *client, msg *jsonrpc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	switch {
	case msg.IsNotification():
		m.clientNotification(c, msg)
	case msg.IsRequest():
		m.clientRequest(c, msg)
	case msg.IsResponse():
		m.clientResponse(c, msg)
	default:
		m.logger.Debug("unclassifiable client message dropped", "client", c.id)
	}
}

// caller holds mu.
func (m *Mux) clientNotification(c *client, msg *jsonrpc.Message) {
	if msg.Method == "initialized" && c != m.primary {
		// Only the primary's initialized is forwarded; the server
		// already considers itself initialized for everyone else.
		return
	}
	m.serverWriter.send(msg)

	if m.bridge == nil {
		return
	}
	switch msg.Method {
	case "textDocument/didOpen", "textDocument/didChange", "textDocument/didSave":
		if uri := documentURI(msg.Params); uri != "" {
			m.bridge.fileEvent(uri)
		}
	case "textDocument/didClose":
		if uri := documentURI(msg.Params); uri != "" {
			m.bridge.closeURI(uri)
		}
	}
}

// caller holds mu.
func (m *Mux) clientRequest(c *client, msg *jsonrpc.Message) {
	if msg.Method == "initialize" {
		c.pullDiagnostics = catalog.ClientAdvertisesPullDiagnostics(msg.Params)
		m.handleInitialize(c, msg)
		return
	}
	sid := m.mintServerID()
	m.pendingClient[sid] = clientPending{clientID: c.id, origID: *msg.ID}
	m.serverWriter.send(msg.WithID(jsonrpc.IntID(sid)))
}

// caller holds mu.
func (m *Mux) clientResponse(c *client, msg *jsonrpc.Message) {
	n, ok := msg.ID.Int()
	if !ok || n >= 0 {
		m.logger.Debug("stray client response dropped", "client", c.id, "id", msg.ID)
		return
	}
	orig, ok := m.pendingServer[n]
	if !ok {
		m.logger.Debug("client response matches no forwarded request", "client", c.id, "id", n)
		return
	}
	delete(m.pendingServer, n)
	m.serverWriter.send(msg.WithID(orig))
}

// caller holds mu.
func (m *Mux) mintServerID() int64 {
	id := m.nextServerID
	m.nextServerID++
	return id
}

// --- initialization state machine ---

// caller holds mu.
func (m *Mux) handleInitialize(c *client, msg *jsonrpc.Message) {
	switch m.initState {
	case initDone:
		c.w.send(m.cachedInitResponse(*msg.ID))
	case initInProgress:
		m.deferredInits = append(m.deferredInits, deferredInit{clientID: c.id, origID: *msg.ID})
	case initNotStarted:
		m.initState = initInProgress
		m.initOwner = c
		m.initOwnerOrigID = *msg.ID
		if m.primary == nil {
			m.primary = c
		}
		out := msg
		if m.spec != nil && m.spec.PrepareInitialize != nil {
			out = m.spec.PrepareInitialize(msg)
		}
		m.initServerID = m.mintServerID()
		m.serverWriter.send(out.WithID(jsonrpc.IntID(m.initServerID)))
	}
}

// caller holds mu.
func (m *Mux) cachedInitResponse(id jsonrpc.ID) *jsonrpc.Message {
	if m.initError != nil {
		return &jsonrpc.Message{JSONRPC: "2.0", ID: &id, Error: m.initError}
	}
	return jsonrpc.NewResponse(id, m.initResult)
}

// caller holds mu.
func (m *Mux) finishInitialize(msg *jsonrpc.Message) {
	m.initResult = msg.Result
	m.initError = msg.Error
	m.initState = initDone

	for _, d := range m.deferredInits {
		if c := m.clientByID(d.clientID); c != nil {
			c.w.send(m.cachedInitResponse(d.origID))
		}
	}
	m.deferredInits = nil

	if m.initOwner != nil {
		m.initOwner.w.send(m.cachedInitResponse(m.initOwnerOrigID))
		m.initOwner = nil
	}

	m.record("init_done", "")
	if m.bridge != nil {
		m.bridge.initDone()
	}
}

// --- server → clients ---

func (m *Mux) dispatchFromServer(msg *jsonrpc.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	switch {
	case msg.IsNotification():
		m.broadcast(msg)
	case msg.IsRequest():
		m.serverRequest(msg)
	case msg.IsResponse():
		m.serverResponse(msg)
	default:
		m.logger.Debug("unclassifiable server message dropped")
	}
}

// caller holds mu.
func (m *Mux) broadcast(msg *jsonrpc.Message) {
	for _, c := range m.clients {
		c.w.send(msg)
	}
}

// caller holds mu.
func (m *Mux) serverResponse(msg *jsonrpc.Message) {
	n, ok := msg.ID.Int()
	if !ok {
		// Non-integer ids are never minted by the mux; best effort.
		m.broadcast(msg)
		return
	}
	if m.initState == initInProgress && n == m.initServerID {
		m.finishInitialize(msg)
		return
	}
	if ip, ok := m.pendingInternal[n]; ok {
		delete(m.pendingInternal, n)
		if m.bridge != nil {
			m.bridge.response(ip, msg)
		}
		return
	}
	if cp, ok := m.pendingClient[n]; ok {
		delete(m.pendingClient, n)
		if c := m.clientByID(cp.clientID); c != nil {
			c.w.send(msg.WithID(cp.origID))
		} else {
			m.logger.Debug("response for departed client dropped", "id", n)
		}
		return
	}
	m.logger.Debug("stray server response broadcast", "id", n)
	m.broadcast(msg)
}

// caller holds mu.
func (m *Mux) serverRequest(msg *jsonrpc.Message) {
	switch msg.Method {
	case "client/registerCapability", "client/unregisterCapability":
		m.serverWriter.send(jsonrpc.NewResponse(*msg.ID, nil))
		return
	case "workspace/configuration":
		m.serverWriter.send(jsonrpc.NewResponse(*msg.ID, nullsForItems(msg.Params)))
		return
	}
	if m.primary == nil {
		m.serverWriter.send(jsonrpc.NewError(*msg.ID, jsonrpc.CodeMethodNotFound, "No clients connected"))
		return
	}
	fid := m.nextForwardID
	m.nextForwardID--
	m.pendingServer[fid] = *msg.ID
	m.primary.w.send(msg.WithID(jsonrpc.IntID(fid)))
}

// nullsForItems builds the workspace/configuration short-circuit reply:
// one null per requested item, empty when items is missing or malformed.
func nullsForItems(params json.RawMessage) json.RawMessage {
	var p struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Items == nil {
		return json.RawMessage("[]")
	}
	nulls := make([]json.RawMessage, len(p.Items))
	for i := range nulls {
		nulls[i] = json.RawMessage("null")
	}
	out, _ := json.Marshal(nulls)
	return out
}

// --- membership and lifecycle ---

// caller holds mu.
func (m *Mux) clientByID(id int64) *client {
	for _, c := range m.clients {
		if c.id == id {
			return c
		}
	}
	return nil
}

func (m *Mux) removeClient(c *client) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	found := false
	for i, cc := range m.clients {
		if cc == c {
			m.clients = append(m.clients[:i], m.clients[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		m.mu.Unlock()
		return
	}

	// Entries whose originating party is gone must not linger.
	for id, cp := range m.pendingClient {
		if cp.clientID == c.id {
			delete(m.pendingClient, id)
		}
	}
	kept := m.deferredInits[:0]
	for _, d := range m.deferredInits {
		if d.clientID != c.id {
			kept = append(kept, d)
		}
	}
	m.deferredInits = kept

	if m.initOwner == c {
		// The initialize is already on the wire; the response will
		// still complete the state machine and drain the queue, the
		// owner reply is simply skipped.
		m.initOwner = nil
	}
	if m.primary == c {
		// Promote the first surviving client. Outstanding forwarded
		// server-origin requests are not replayed; the server keeps
		// waiting and the promoted client never sees them.
		if len(m.clients) > 0 {
			m.primary = m.clients[0]
		} else {
			m.primary = nil
		}
	}
	if len(m.clients) == 0 && m.idleTimer == nil {
		m.idleTimer = time.AfterFunc(m.idleShutdown, m.idleExpired)
	}
	m.mu.Unlock()

	c.w.close()
	c.conn.Close()
	m.logger.Debug("client disconnected", "client", c.id)
	m.record("client_disconnect", "")
}

func (m *Mux) idleExpired() {
	m.mu.Lock()
	if m.closed || len(m.clients) > 0 {
		m.mu.Unlock()
		return
	}
	m.idleTimer = nil
	m.mu.Unlock()

	m.logger.Info("idle, stopping server", "after", m.idleShutdown)
	m.child.Kill()
}

// shutdown runs once, from the Wait goroutine, after the child exited.
func (m *Mux) shutdown(status ExitStatus) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.idleTimer != nil {
		m.idleTimer.Stop()
		m.idleTimer = nil
	}
	clients := m.clients
	m.clients = nil
	m.primary = nil
	m.pendingClient = map[int64]clientPending{}
	m.pendingInternal = map[int64]internalPending{}
	m.pendingServer = map[int64]jsonrpc.ID{}
	if m.bridge != nil {
		m.bridge.stop()
	}
	m.mu.Unlock()

	for _, c := range clients {
		c.w.close()
		c.conn.Close()
	}
	m.serverWriter.close()

	m.logger.Info("server exited", "status", status.String())
	m.record("server_exit", status.String())
	m.exitOnce.Do(func() {
		if m.onExit != nil {
			m.onExit(status)
		}
	})
}

// documentURI extracts params.textDocument.uri.
func documentURI(params json.RawMessage) string {
	var p struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return ""
	}
	return p.TextDocument.URI
}
