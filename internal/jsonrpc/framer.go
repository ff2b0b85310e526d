package jsonrpc

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrFraming marks a malformed header block or a body truncated by EOF.
// A reader that returns an ErrFraming-wrapped error is unusable; the
// stream position is undefined.
var ErrFraming = errors.New("framing error")

const headerContentLength = "Content-Length"

// Reader decodes framed messages from a byte stream. bufio accumulates
// partial reads across chunk boundaries and compacts its buffer as
// messages are consumed.
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps r in a framing decoder.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 8192)}
}

// Read decodes the next message. Returns io.EOF on a clean end of
// stream between messages, an ErrFraming-wrapped error on a malformed
// header block or a body cut short.
func (r *Reader) Read() (*Message, error) {
	length := -1
	sawHeader := false
	for {
		line, err := r.br.ReadString('\n')
		if err != nil {
			if err == io.EOF && !sawHeader && line == "" {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: header: %v", ErrFraming, err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break // blank line ends the header block
		}
		sawHeader = true
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: header line %q", ErrFraming, line)
		}
		if !strings.EqualFold(strings.TrimSpace(name), headerContentLength) {
			continue // only Content-Length is meaningful
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: bad Content-Length %q", ErrFraming, strings.TrimSpace(value))
		}
		length = n
	}
	if length < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length", ErrFraming)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r.br, body); err != nil {
		return nil, fmt.Errorf("%w: body: %v", ErrFraming, err)
	}

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrFraming, err)
	}
	return &msg, nil
}

// Encode serializes a message with its Content-Length header. The
// header counts UTF-8 bytes of the serialized body, not characters.
func Encode(m *Message) ([]byte, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + 32)
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(body))
	buf.Write(body)
	return buf.Bytes(), nil
}

// Writer encodes messages onto a byte stream. Callers must serialize
// access; the mux gives each destination exactly one writing goroutine.
type Writer struct {
	w io.Writer
}

// NewWriter wraps w in a framing encoder.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write frames and transmits one message.
func (w *Writer) Write(m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
