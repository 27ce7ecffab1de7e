package protocol

import (
	"bytes"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
)

func sampleMessages() []*Message {
	return []*Message{
		{Type: TypeHandshake, ScreenWidth: 1920, ScreenHeight: 1080, RequestedSlot: SlotLeft},
		{Type: TypeHandshakeAck, Status: StatusOK, ScreenWidth: 2560, ScreenHeight: 1440},
		{Type: TypeHandshakeAck, Status: StatusRejected},
		{Type: TypeControlRequest, X: 0.0, Y: 0.42},
		{Type: TypeControlRelease},
		{Type: TypeReturnToServer},
		{Type: TypeMouseMove, X: 0.5, Y: 0.25},
		{Type: TypeMouseMove, X: 1.0, Y: 0.0},
		{Type: TypeMouseClick, X: 0.3, Y: 0.7, Button: ButtonLeft, Pressed: true},
		{Type: TypeMouseClick, X: 0.3, Y: 0.7, Button: ButtonMiddle, Pressed: false},
		{Type: TypeMouseScroll, DX: -1, DY: 3},
		{Type: TypeKeyPress, Key: "a"},
		{Type: TypeKeyRelease, Key: "enter"},
		{Type: TypePing},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, msg := range sampleMessages() {
		var buf bytes.Buffer
		if err := NewEncoder(&buf).Encode(msg); err != nil {
			t.Fatalf("encode %s: %v", msg.Type, err)
		}

		got, err := NewDecoder(&buf).Decode()
		if err != nil {
			t.Fatalf("decode %s: %v", msg.Type, err)
		}
		if !reflect.DeepEqual(got, msg) {
			t.Errorf("%s: round trip mismatch\n got %+v\nwant %+v", msg.Type, got, msg)
		}
	}
}

// chunkReader returns its contents in fixed pieces to simulate partial
// socket reads.
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	if n == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
	} else {
		r.chunks[0] = r.chunks[0][n:]
	}
	return n, nil
}

func TestDecodeSplitAtEveryBoundary(t *testing.T) {
	want := &Message{Type: TypeMouseClick, X: 0.125, Y: 0.875, Button: ButtonRight, Pressed: true}

	var buf bytes.Buffer
	if err := NewEncoder(&buf).Encode(want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	encoded := buf.Bytes()

	for split := 0; split <= len(encoded); split++ {
		r := &chunkReader{chunks: [][]byte{encoded[:split], encoded[split:]}}
		got, err := NewDecoder(r).Decode()
		if err != nil {
			t.Fatalf("split %d: decode: %v", split, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("split %d: got %+v want %+v", split, got, want)
		}
	}
}

func TestDecodeMultipleRecordsInOneRead(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	msgs := sampleMessages()
	for _, m := range msgs {
		if err := enc.Encode(m); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}

	dec := NewDecoder(&buf)
	for i, want := range msgs {
		got, err := dec.Decode()
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("record %d: got %+v want %+v", i, got, want)
		}
	}
	if _, err := dec.Decode(); err != io.EOF {
		t.Errorf("expected EOF after last record, got %v", err)
	}
}

func TestDecodeBadRecordResync(t *testing.T) {
	input := `{"type":"mouse_move","x":"NaN"}` + "\n" +
		`{"type":"key_press","key":"a"}` + "\n"

	dec := NewDecoder(strings.NewReader(input))

	_, err := dec.Decode()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Type != TypeMouseMove {
		t.Errorf("expected salvaged type mouse_move, got %q", pe.Type)
	}
	if !pe.Droppable() {
		t.Errorf("input event parse error should be droppable")
	}

	// The bad record was consumed; the stream resyncs on the next line.
	got, err := dec.Decode()
	if err != nil {
		t.Fatalf("decode after bad record: %v", err)
	}
	if got.Type != TypeKeyPress || got.Key != "a" {
		t.Errorf("got %+v after resync", got)
	}
}

func TestDecodeControlPlaneParseErrorNotDroppable(t *testing.T) {
	input := `{"type":"control_request","x":"bad"}` + "\n"
	_, err := NewDecoder(strings.NewReader(input)).Decode()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Droppable() {
		t.Errorf("control-plane parse error must not be droppable")
	}
}

func TestDecodeUnknownType(t *testing.T) {
	input := `{"type":"teleport"}` + "\n"
	_, err := NewDecoder(strings.NewReader(input)).Decode()
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if pe.Droppable() {
		t.Errorf("unknown type must not be droppable")
	}
}

func TestDecodeRecordTooLong(t *testing.T) {
	junk := strings.Repeat("x", MaxRecordSize+4097)
	_, err := NewDecoder(strings.NewReader(junk)).Decode()
	if !errors.Is(err, ErrRecordTooLong) {
		t.Fatalf("expected ErrRecordTooLong, got %v", err)
	}
}

func TestDecodeTrailingFragmentIsError(t *testing.T) {
	input := `{"type":"ping"}` // no delimiter
	_, err := NewDecoder(strings.NewReader(input)).Decode()
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", err)
	}
}
