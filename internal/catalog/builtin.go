package catalog

import (
	"encoding/json"
	"time"

	"github.com/xfeldman/lsmux/internal/jsonrpc"
)

// Builtin returns the registry of bundled server specs.
func Builtin() *Registry {
	return NewRegistry(tsgoSpec(), oxlintSpec())
}

// tsgoSpec multiplexes the TypeScript native language server. tsgo only
// computes diagnostics on pull, so the spec advertises pull capability
// to the server on behalf of clients that lack it and bridges the
// results back as push notifications.
func tsgoSpec() *Spec {
	return &Spec{
		Name:    "tsgo",
		Aliases: []string{"typescript-go"},
		Binary: Binary{
			EnvVar:     "TSGO_PATH",
			Candidates: []string{"tsgo"},
			LocalDir:   "node_modules/.bin",
			Install:    &Install{Package: "@typescript/native-preview", Manager: "npm"},
		},
		Args:              []string{"--lsp", "--stdio"},
		Diagnostics:       DiagPullToPush,
		Debounce:          150 * time.Millisecond,
		PrepareInitialize: injectPullDiagnosticCapability,
	}
}

// oxlintSpec multiplexes the oxc lint server, which pushes diagnostics
// itself.
func oxlintSpec() *Spec {
	return &Spec{
		Name:    "oxlint",
		Aliases: []string{"oxc"},
		Binary: Binary{
			EnvVar:     "OXC_PATH",
			Candidates: []string{"oxc_language_server"},
			LocalDir:   "node_modules/.bin",
		},
		Diagnostics: DiagPassthrough,
	}
}

// injectPullDiagnosticCapability merges a textDocument.diagnostic
// capability into initialize params unless the client already sent one.
// The input message is left untouched.
func injectPullDiagnosticCapability(m *jsonrpc.Message) *jsonrpc.Message {
	var params map[string]json.RawMessage
	if len(m.Params) > 0 {
		if err := json.Unmarshal(m.Params, &params); err != nil {
			return m // unparseable params are forwarded as-is
		}
	}
	if params == nil {
		params = map[string]json.RawMessage{}
	}

	var caps map[string]json.RawMessage
	if raw, ok := params["capabilities"]; ok {
		if err := json.Unmarshal(raw, &caps); err != nil {
			return m
		}
	}
	if caps == nil {
		caps = map[string]json.RawMessage{}
	}

	var td map[string]json.RawMessage
	if raw, ok := caps["textDocument"]; ok {
		if err := json.Unmarshal(raw, &td); err != nil {
			return m
		}
	}
	if td == nil {
		td = map[string]json.RawMessage{}
	}

	if _, ok := td["diagnostic"]; ok {
		return m // client already requested pull diagnostics
	}
	td["diagnostic"] = json.RawMessage(`{"dynamicRegistration":false}`)

	tdRaw, err := json.Marshal(td)
	if err != nil {
		return m
	}
	caps["textDocument"] = tdRaw
	capsRaw, err := json.Marshal(caps)
	if err != nil {
		return m
	}
	params["capabilities"] = capsRaw
	paramsRaw, err := json.Marshal(params)
	if err != nil {
		return m
	}

	cp := *m
	cp.Params = paramsRaw
	return &cp
}

// ClientAdvertisesPullDiagnostics inspects initialize params for a
// textDocument.diagnostic client capability.
func ClientAdvertisesPullDiagnostics(params json.RawMessage) bool {
	var p struct {
		Capabilities struct {
			TextDocument struct {
				Diagnostic json.RawMessage `json:"diagnostic"`
			} `json:"textDocument"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return false
	}
	return len(p.Capabilities.TextDocument.Diagnostic) > 0 &&
		string(p.Capabilities.TextDocument.Diagnostic) != "null"
}

// DefaultDiagnosticParams is the default pull request shape.
func DefaultDiagnosticParams(uri string) []byte {
	raw, _ := json.Marshal(struct {
		TextDocument struct {
			URI string `json:"uri"`
		} `json:"textDocument"`
		Identifier       *string `json:"identifier"`
		PreviousResultID *string `json:"previousResultId"`
	}{TextDocument: struct {
		URI string `json:"uri"`
	}{URI: uri}})
	return raw
}
