package mux

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xfeldman/lsmux/internal/catalog"
	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// bridgeSpec mirrors the tsgo spec with a short debounce for tests.
func bridgeSpec() *catalog.Spec {
	return &catalog.Spec{
		Name:              "bridged",
		Diagnostics:       catalog.DiagPullToPush,
		Debounce:          20 * time.Millisecond,
		PrepareInitialize: nil,
	}
}

func tsgoLikeSpec() *catalog.Spec {
	s := bridgeSpec()
	base, _ := catalog.Builtin().Lookup("tsgo")
	s.PrepareInitialize = base.PrepareInitialize
	return s
}

type publishParams struct {
	URI         string            `json:"uri"`
	Diagnostics []json.RawMessage `json:"diagnostics"`
}

func decodePublish(t *testing.T, m *jsonrpc.Message) publishParams {
	t.Helper()
	if m.Method != "textDocument/publishDiagnostics" {
		t.Fatalf("expected publishDiagnostics, got %q", m.Method)
	}
	var p publishParams
	if err := json.Unmarshal(m.Params, &p); err != nil {
		t.Fatalf("params: %v", err)
	}
	return p
}

// answerDiagnostic waits for the bridge's pull request and replies.
func answerDiagnostic(t *testing.T, h *harness, result string) *jsonrpc.Message {
	t.Helper()
	req := h.server.recvMethod(t, "textDocument/diagnostic")
	h.server.send(t, jsonrpc.NewResponse(*req.ID, []byte(result)))
	return req
}

func TestBridgeDebouncesAndPublishes(t *testing.T) {
	h := newHarness(t, tsgoLikeSpec(), Options{})
	a := h.connect(t)

	// A advertises no pull-diagnostic capability.
	a.send(t, jsonrpc.NewRequest(jsonrpc.IntID(1), "initialize", []byte(`{"capabilities":{}}`)))
	srvInit := h.server.recvMethod(t, "initialize")

	// The prepare-initialize hook advertised pull capability upstream.
	if !catalog.ClientAdvertisesPullDiagnostics(srvInit.Params) {
		t.Errorf("forwarded initialize lacks diagnostic capability: %s", srvInit.Params)
	}
	h.server.send(t, jsonrpc.NewResponse(*srvInit.ID, []byte(`{"capabilities":{}}`)))
	a.recv(t)

	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///x.ts"}}`)))
	a.send(t, jsonrpc.NewNotification("textDocument/didSave",
		[]byte(`{"textDocument":{"uri":"file:///x.ts"}}`)))

	req := answerDiagnostic(t, h, `{"kind":"full","items":[{"message":"from pull"}]}`)
	if uri := documentURI(req.Params); uri != "file:///x.ts" {
		t.Errorf("pull request uri = %q", uri)
	}
	if n, ok := req.ID.Int(); !ok || n <= 0 {
		t.Errorf("pull request id %v not in the positive server space", req.ID)
	}

	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if pub.URI != "file:///x.ts" || len(pub.Diagnostics) != 1 {
		t.Fatalf("publish = %+v", pub)
	}
	if string(pub.Diagnostics[0]) != `{"message":"from pull"}` {
		t.Errorf("diagnostics = %s", pub.Diagnostics[0])
	}

	// The two file events were coalesced: no second pull request.
	h.server.expectNone(t, 100*time.Millisecond)
}

func TestBridgeSkipsPullCapableClients(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`) // A: no pull capability

	b := h.connect(t)
	b.send(t, jsonrpc.NewRequest(jsonrpc.IntID(2), "initialize",
		[]byte(`{"capabilities":{"textDocument":{"diagnostic":{}}}}`)))
	b.recv(t)

	a.send(t, jsonrpc.NewNotification("textDocument/didSave",
		[]byte(`{"textDocument":{"uri":"file:///x.ts"}}`)))
	answerDiagnostic(t, h, `{"kind":"full","items":[{"message":"m"}]}`)

	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if pub.URI != "file:///x.ts" {
		t.Errorf("uri = %q", pub.URI)
	}
	b.expectNone(t, 100*time.Millisecond)
}

func TestBridgeUnchangedReplaysLastPublished(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///y.ts"}}`)))
	answerDiagnostic(t, h, `{"kind":"full","items":[{"message":"first"}]}`)
	first := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))

	a.send(t, jsonrpc.NewNotification("textDocument/didSave",
		[]byte(`{"textDocument":{"uri":"file:///y.ts"}}`)))
	answerDiagnostic(t, h, `{"kind":"unchanged","resultId":"1"}`)
	second := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))

	if len(first.Diagnostics) != 1 || len(second.Diagnostics) != 1 {
		t.Fatalf("publish sizes: %d then %d", len(first.Diagnostics), len(second.Diagnostics))
	}
	if string(first.Diagnostics[0]) != string(second.Diagnostics[0]) {
		t.Errorf("unchanged did not replay: %s vs %s", first.Diagnostics[0], second.Diagnostics[0])
	}
}

func TestBridgeUnchangedWithoutCachePublishesEmpty(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///z.ts"}}`)))
	answerDiagnostic(t, h, `{"kind":"unchanged"}`)
	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if len(pub.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v", pub.Diagnostics)
	}
}

func TestBridgeBareItemsPublished(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///w.ts"}}`)))
	answerDiagnostic(t, h, `{"items":[{"message":"bare"}]}`)
	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if len(pub.Diagnostics) != 1 || string(pub.Diagnostics[0]) != `{"message":"bare"}` {
		t.Errorf("diagnostics = %v", pub.Diagnostics)
	}
}

func TestBridgeErrorResultPublishesEmpty(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///e.ts"}}`)))
	req := h.server.recvMethod(t, "textDocument/diagnostic")
	h.server.send(t, jsonrpc.NewError(*req.ID, jsonrpc.CodeInternalError, "nope"))
	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if len(pub.Diagnostics) != 0 {
		t.Errorf("diagnostics = %v", pub.Diagnostics)
	}
}

func TestBridgeDidCloseClearsState(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	uri := `{"textDocument":{"uri":"file:///c.ts"}}`
	a.send(t, jsonrpc.NewNotification("textDocument/didOpen", []byte(uri)))
	answerDiagnostic(t, h, `{"kind":"full","items":[{"message":"cached"}]}`)
	a.recvMethod(t, "textDocument/publishDiagnostics")

	a.send(t, jsonrpc.NewNotification("textDocument/didClose", []byte(uri)))

	// Reopen: the cache must be gone, so "unchanged" yields empty.
	a.send(t, jsonrpc.NewNotification("textDocument/didOpen", []byte(uri)))
	answerDiagnostic(t, h, `{"kind":"unchanged"}`)
	pub := decodePublish(t, a.recvMethod(t, "textDocument/publishDiagnostics"))
	if len(pub.Diagnostics) != 0 {
		t.Errorf("cache survived didClose: %v", pub.Diagnostics)
	}
}

func TestBridgeWaitsForInitDone(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)

	a.send(t, jsonrpc.NewRequest(jsonrpc.IntID(1), "initialize", []byte(`{}`)))
	srvInit := h.server.recvMethod(t, "initialize")

	// File event before the handshake completes: accumulated, not sent.
	a.send(t, jsonrpc.NewNotification("textDocument/didOpen",
		[]byte(`{"textDocument":{"uri":"file:///p.ts"}}`)))
	h.server.recvMethod(t, "textDocument/didOpen") // forwarded, but no pull yet
	h.server.expectNone(t, 100*time.Millisecond)

	h.server.send(t, jsonrpc.NewResponse(*srvInit.ID, []byte(`{}`)))
	a.recv(t)

	req := h.server.recvMethod(t, "textDocument/diagnostic")
	if uri := documentURI(req.Params); uri != "file:///p.ts" {
		t.Errorf("uri = %q", uri)
	}
}

func TestBridgeNoRequestWithoutNonPullClients(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	b := h.connect(t)
	b.send(t, jsonrpc.NewRequest(jsonrpc.IntID(1), "initialize",
		[]byte(`{"capabilities":{"textDocument":{"diagnostic":{}}}}`)))
	srvInit := h.server.recvMethod(t, "initialize")
	h.server.send(t, jsonrpc.NewResponse(*srvInit.ID, []byte(`{}`)))
	b.recv(t)

	b.send(t, jsonrpc.NewNotification("textDocument/didSave",
		[]byte(`{"textDocument":{"uri":"file:///q.ts"}}`)))
	h.server.recvMethod(t, "textDocument/didSave")
	h.server.expectNone(t, 150*time.Millisecond)
}

func TestBridgeInFlightCoalescesThenReschedules(t *testing.T) {
	h := newHarness(t, bridgeSpec(), Options{})
	a := h.connect(t)
	h.initialize(t, a, 1, `{}`)

	uri := `{"textDocument":{"uri":"file:///f.ts"}}`
	a.send(t, jsonrpc.NewNotification("textDocument/didOpen", []byte(uri)))
	req := h.server.recvMethod(t, "textDocument/diagnostic")

	// Events during flight must not produce a second request yet.
	a.send(t, jsonrpc.NewNotification("textDocument/didChange", []byte(uri)))
	a.send(t, jsonrpc.NewNotification("textDocument/didSave", []byte(uri)))
	h.server.recvMethod(t, "textDocument/didSave")
	h.server.expectNone(t, 100*time.Millisecond)

	h.server.send(t, jsonrpc.NewResponse(*req.ID, []byte(`{"kind":"full","items":[]}`)))
	a.recvMethod(t, "textDocument/publishDiagnostics")

	// The dirty URI is rescheduled once the response lands.
	h.server.recvMethod(t, "textDocument/diagnostic")
}
