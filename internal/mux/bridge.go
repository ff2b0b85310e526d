package mux

import (
	"encoding/json"
	"time"

	"github.com/bep/debounce"
	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// DefaultDebounce coalesces file events per URI before one pull request.
const DefaultDebounce = 150 * time.Millisecond

// internalPending tags a mux-minted request id as bridge traffic; the
// response is routed here and never reaches a client.
type internalPending struct {
	uri string
}

// bridge emulates push diagnostics for clients that did not advertise
// pull capability: file events schedule debounced textDocument/diagnostic
// requests to the server, and the results are republished as
// textDocument/publishDiagnostics notifications.
//
// All state is guarded by the mux lock. Methods without a comment are
// called with it held; debounce timer callbacks acquire it themselves.
type bridge struct {
	m        *Mux
	interval time.Duration
	build    func(uri string) []byte

	ready   bool // initialize completed
	stopped bool
	waiting map[string]struct{} // URIs seen before ready
	uris    map[string]*uriState
}

type uriState struct {
	debounced func(func())
	inFlight  bool
	// dirty records file events that arrived while a request was in
	// flight; the URI is rescheduled once the response returns.
	dirty bool
	// last holds the most recent items published from a "full"
	// result, replayed verbatim on "unchanged".
	last json.RawMessage
}

func newBridge(m *Mux, spec *catalog.Spec) *bridge {
	interval := spec.Debounce
	if interval <= 0 {
		interval = DefaultDebounce
	}
	build := spec.BuildDiagnosticRequest
	if build == nil {
		build = catalog.DefaultDiagnosticParams
	}
	return &bridge{
		m:        m,
		interval: interval,
		build:    build,
		waiting:  make(map[string]struct{}),
		uris:     make(map[string]*uriState),
	}
}

func (b *bridge) fileEvent(uri string) {
	if b.stopped {
		return
	}
	if !b.ready {
		b.waiting[uri] = struct{}{}
		return
	}
	b.schedule(uri)
}

func (b *bridge) initDone() {
	b.ready = true
	for uri := range b.waiting {
		b.schedule(uri)
	}
	b.waiting = make(map[string]struct{})
}

func (b *bridge) schedule(uri string) {
	st, ok := b.uris[uri]
	if !ok {
		st = &uriState{debounced: debounce.New(b.interval)}
		b.uris[uri] = st
	}
	if st.inFlight {
		st.dirty = true
		return
	}
	st.debounced(func() { b.fire(uri, st) })
}

// fire runs on a debounce timer goroutine once events for uri settle.
func (b *bridge) fire(uri string, st *uriState) {
	b.m.mu.Lock()
	defer b.m.mu.Unlock()
	if b.stopped || b.m.closed {
		return
	}
	// didClose may have retired this state, or didOpen replaced it.
	if b.uris[uri] != st {
		return
	}
	if st.inFlight {
		st.dirty = true
		return
	}
	if !b.anyNonPullClient() {
		return
	}
	sid := b.m.mintServerID()
	b.m.pendingInternal[sid] = internalPending{uri: uri}
	st.inFlight = true
	b.m.serverWriter.send(jsonrpc.NewRequest(jsonrpc.IntID(sid), "textDocument/diagnostic", b.build(uri)))
}

func (b *bridge) anyNonPullClient() bool {
	for _, c := range b.m.clients {
		if !c.pullDiagnostics {
			return true
		}
	}
	return false
}

// response handles a server reply to a bridge-initiated request.
func (b *bridge) response(ip internalPending, msg *jsonrpc.Message) {
	st, ok := b.uris[ip.uri]
	if !ok {
		return // closed while in flight
	}
	st.inFlight = false

	var result struct {
		Kind  string          `json:"kind"`
		Items json.RawMessage `json:"items"`
	}
	items := json.RawMessage("[]")
	if msg.Error == nil && len(msg.Result) > 0 {
		if err := json.Unmarshal(msg.Result, &result); err == nil {
			switch {
			case result.Kind == "full":
				if isJSONArray(result.Items) {
					items = result.Items
				}
				st.last = items
			case result.Kind == "unchanged":
				if st.last != nil {
					items = st.last
				}
			case isJSONArray(result.Items):
				items = result.Items
			}
		}
	}

	b.publish(ip.uri, items)

	if st.dirty {
		st.dirty = false
		b.schedule(ip.uri)
	}
}

// publish sends publishDiagnostics to every client without pull
// capability.
func (b *bridge) publish(uri string, items json.RawMessage) {
	params, err := json.Marshal(struct {
		URI         string          `json:"uri"`
		Diagnostics json.RawMessage `json:"diagnostics"`
	}{URI: uri, Diagnostics: items})
	if err != nil {
		return
	}
	notif := jsonrpc.NewNotification("textDocument/publishDiagnostics", params)
	sent := false
	for _, c := range b.m.clients {
		if !c.pullDiagnostics {
			c.w.send(notif)
			sent = true
		}
	}
	if sent {
		b.m.record("bridge_publish", uri)
	}
}

// closeURI discards every trace of a closed document: debounce timer,
// cached items, waiting and dirty flags, in-flight marker.
func (b *bridge) closeURI(uri string) {
	delete(b.waiting, uri)
	delete(b.uris, uri) // pointer check in fire cancels any queued timer
}

func (b *bridge) stop() {
	b.stopped = true
}

func isJSONArray(raw json.RawMessage) bool {
	for _, ch := range raw {
		switch ch {
		case ' ', '\t', '\r', '\n':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}
