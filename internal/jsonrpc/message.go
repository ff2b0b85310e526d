// Package jsonrpc implements the JSON-RPC 2.0 message model and the
// Content-Length framing used by the Language Server Protocol.
//
// Messages are kept as thin envelopes over json.RawMessage so that
// forwarding a message re-serializes only the fields the mux rewrites;
// params, result and error payloads pass through byte-for-byte.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

type idKind int

const (
	idInt idKind = iota
	idString
	idNull
)

// ID is a JSON-RPC identifier: integer, string, or null.
// The zero value is the integer id 0.
type ID struct {
	kind idKind
	num  int64
	str  string
}

// IntID returns an integer identifier.
func IntID(n int64) ID { return ID{kind: idInt, num: n} }

// StringID returns a string identifier.
func StringID(s string) ID { return ID{kind: idString, str: s} }

// NullID returns the null identifier.
func NullID() ID { return ID{kind: idNull} }

// Int returns the integer value and whether the id is an integer.
func (id ID) Int() (int64, bool) { return id.num, id.kind == idInt }

// IsNull reports whether the id is the JSON null identifier.
func (id ID) IsNull() bool { return id.kind == idNull }

// Equal reports whether two identifiers are the same kind and value.
func (id ID) Equal(other ID) bool {
	if id.kind != other.kind {
		return false
	}
	switch id.kind {
	case idInt:
		return id.num == other.num
	case idString:
		return id.str == other.str
	default:
		return true
	}
}

// String renders the id for logs.
func (id ID) String() string {
	switch id.kind {
	case idInt:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return strconv.Quote(id.str)
	default:
		return "null"
	}
}

// MarshalJSON implements json.Marshaler.
func (id ID) MarshalJSON() ([]byte, error) {
	switch id.kind {
	case idInt:
		return strconv.AppendInt(nil, id.num, 10), nil
	case idString:
		return json.Marshal(id.str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler. Fractional numeric ids are
// rejected; no known language server emits them.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("jsonrpc: empty id")
	}
	if bytes.Equal(data, []byte("null")) {
		*id = ID{kind: idNull}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("jsonrpc: bad string id: %w", err)
		}
		*id = ID{kind: idString, str: s}
		return nil
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("jsonrpc: bad id %s: %w", data, err)
	}
	*id = ID{kind: idInt, num: n}
	return nil
}

// Message is a JSON-RPC 2.0 envelope. Exactly one of three shapes:
//
//	request:      Method set, ID set
//	response:     ID set, Method empty, Result or Error set
//	notification: Method set, ID nil
type Message struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// IsRequest reports whether m is a request (method and id both present).
func (m *Message) IsRequest() bool { return m.Method != "" && m.ID != nil }

// IsNotification reports whether m is a notification (method, no id).
func (m *Message) IsNotification() bool { return m.Method != "" && m.ID == nil }

// IsResponse reports whether m is a response (id, no method).
func (m *Message) IsResponse() bool { return m.Method == "" && m.ID != nil }

// WithID returns a shallow copy of m carrying the given id.
// Payload fields alias the original raw bytes.
func (m *Message) WithID(id ID) *Message {
	cp := *m
	cp.ID = &id
	return &cp
}

// NewRequest builds a request message. Params may be nil.
func NewRequest(id ID, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: "2.0", ID: &id, Method: method, Params: params}
}

// NewNotification builds a notification message.
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: "2.0", Method: method, Params: params}
}

// NewResponse builds a success response. A nil result is sent as JSON null.
func NewResponse(id ID, result json.RawMessage) *Message {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Message{JSONRPC: "2.0", ID: &id, Result: result}
}

// Standard JSON-RPC 2.0 error codes.
const (
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// NewError builds an error response.
func NewError(id ID, code int, message string) *Message {
	raw, _ := json.Marshal(struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}{code, message})
	return &Message{JSONRPC: "2.0", ID: &id, Error: raw}
}
