package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// MaxRecordSize bounds a single control-channel record. A stream that grows
// past this without a newline is corrupt and cannot be resynced.
const MaxRecordSize = 64 * 1024

var (
	// ErrRecordTooLong indicates the stream exceeded MaxRecordSize without
	// a record delimiter. The connection is unusable.
	ErrRecordTooLong = errors.New("protocol: record exceeds max size")
)

// ParseError describes a single record that failed to decode. Type is set
// when the record was well-formed enough to extract its tag, so the caller
// can decide whether the error is fatal (control-plane) or droppable
// (input event).
type ParseError struct {
	Type MessageType
	Err  error
}

func (e *ParseError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: bad %s record: %v", e.Type, e.Err)
	}
	return fmt.Sprintf("protocol: bad record: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Droppable reports whether the failed record may be discarded with the
// stream left usable. Only identifiable input events qualify.
func (e *ParseError) Droppable() bool { return e.Type.IsInputEvent() }

// Encoder writes newline-terminated JSON records. Safe for concurrent use.
type Encoder struct {
	mu sync.Mutex
	w  io.Writer
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode serializes msg and writes it as one record.
func (e *Encoder) Encode(msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("protocol: marshal %s: %w", msg.Type, err)
	}
	data = append(data, '\n')

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return err
	}
	return nil
}

// Decoder reassembles newline-terminated records from a byte stream. A
// partial trailing fragment is buffered and prefixed to the next read, so
// records split across any number of socket receives decode identically to
// unsplit ones.
type Decoder struct {
	r   io.Reader
	buf []byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Decode returns the next complete record. It blocks on the underlying
// reader until a full record is available. A *ParseError is returned for a
// record that fails to decode; the bad record has already been consumed, so
// the caller may keep decoding if the error is droppable. Read errors from
// the underlying stream are returned as-is.
func (d *Decoder) Decode() (*Message, error) {
	for {
		if i := bytes.IndexByte(d.buf, '\n'); i >= 0 {
			line := d.buf[:i]
			d.buf = d.buf[i+1:]
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			return parseRecord(line)
		}

		if len(d.buf) > MaxRecordSize {
			return nil, ErrRecordTooLong
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if err == io.EOF && len(bytes.TrimSpace(d.buf)) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
}

func parseRecord(line []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		// Try to salvage the tag so the caller can classify the failure.
		var envelope struct {
			Type MessageType `json:"type"`
		}
		_ = json.Unmarshal(line, &envelope)
		return nil, &ParseError{Type: envelope.Type, Err: err}
	}
	if !msg.Type.Known() {
		return nil, &ParseError{Type: msg.Type, Err: fmt.Errorf("unknown type %q", msg.Type)}
	}
	return &msg, nil
}
