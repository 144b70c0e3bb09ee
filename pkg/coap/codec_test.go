package coap

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"
)

// buildResponse assembles a datagram with the given code, option bytes
// and payload for decoder tests.
func buildResponse(code uint8, options []byte, payload []byte) []byte {
	buf := []byte{Version << 6, code, 0x00, 0x0A}
	buf = append(buf, options...)
	buf = append(buf, PayloadMarker)
	return append(buf, payload...)
}

func TestEncodeRequest(t *testing.T) {
	got := EncodeRequest(PathStatus, 10)

	want := []byte{
		0x50, 0x01, 0x00, 0x0A, // ver 1, NON, TKL 0, GET, msg id 10
		0xB3, 'c', 'i', 't', // Uri-Path "cit" (delta 11, len 3)
		0x01, 's', // Uri-Path "s" (delta 0, len 1)
		0xFF,
	}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeRequest = % X, want % X", got, want)
	}
}

func TestNibbleRoundTrip(t *testing.T) {
	// Literal nibbles 0-12 and both extended escapes must round-trip.
	values := []uint16{0, 1, 5, 12, 13, 100, 268, 269, 300, 1000}

	for _, v := range values {
		nibble, ext := encodeNibble(v)

		if v < 13 && (nibble != uint8(v) || ext != nil) {
			t.Errorf("encodeNibble(%d) = %d %v, want literal", v, nibble, ext)
		}
		if v >= 13 && v < 269 && nibble != extendOneByte {
			t.Errorf("encodeNibble(%d) nibble = %d, want 13", v, nibble)
		}
		if v >= 269 && nibble != extendTwoBytes {
			t.Errorf("encodeNibble(%d) nibble = %d, want 14", v, nibble)
		}

		got, rest, err := decodeExtended(nibble, ext)
		if err != nil {
			t.Fatalf("decodeExtended(%d) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("round trip %d -> %d", v, got)
		}
		if len(rest) != 0 {
			t.Errorf("decodeExtended(%d) left %d bytes", v, len(rest))
		}
	}
}

func TestNibbleExtendedOffsets(t *testing.T) {
	// 13 => next byte + 13
	got, _, err := decodeExtended(13, []byte{0x00})
	if err != nil || got != 13 {
		t.Errorf("one-byte escape of 0 = %d (%v), want 13", got, err)
	}

	// 14 => next two bytes big-endian + 269
	var ext [2]byte
	binary.BigEndian.PutUint16(ext[:], 0)
	got, _, err = decodeExtended(14, ext[:])
	if err != nil || got != 269 {
		t.Errorf("two-byte escape of 0 = %d (%v), want 269", got, err)
	}
}

func TestTwoByteEscapeUpperBound(t *testing.T) {
	var ext [2]byte

	// The largest raw value whose offset sum still fits in 16 bits.
	binary.BigEndian.PutUint16(ext[:], math.MaxUint16-extendTwoBytesOffset)
	got, _, err := decodeExtended(14, ext[:])
	if err != nil || got != math.MaxUint16 {
		t.Errorf("two-byte escape at upper bound = %d (%v), want %d",
			got, err, uint16(math.MaxUint16))
	}

	// One past it must fail instead of wrapping around.
	binary.BigEndian.PutUint16(ext[:], math.MaxUint16-extendTwoBytesOffset+1)
	if _, _, err := decodeExtended(14, ext[:]); err == nil {
		t.Error("two-byte escape past the uint16 range decoded without error")
	}
}

func TestDecodeStatusReply(t *testing.T) {
	payload := []byte(`{"G":[[0,112,0]]}`)
	datagram := buildResponse(CodeContentReply, []byte{0xB3, 'c', 'i', 't', 0x01, 's'}, payload)

	msg, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Code != CodeContentReply {
		t.Errorf("Code = %d, want %d", msg.Code, CodeContentReply)
	}
	if len(msg.Options) != 2 {
		t.Fatalf("got %d options, want 2", len(msg.Options))
	}
	if msg.Options[0].Number != OptionUriPath || string(msg.Options[0].Value) != "cit" {
		t.Errorf("option 0 = %d %q", msg.Options[0].Number, msg.Options[0].Value)
	}
	if msg.Options[1].Number != OptionUriPath || string(msg.Options[1].Value) != "s" {
		t.Errorf("option 1 = %d %q", msg.Options[1].Number, msg.Options[1].Value)
	}
	if _, ok := msg.Payload["G"]; !ok {
		t.Error("payload missing G key")
	}
}

func TestDecodeAccumulatesOptionDeltas(t *testing.T) {
	// Delta 3, then delta 8: absolute numbers 3 and 11.
	options := []byte{0x31, 'x', 0x81, 'y'}
	datagram := buildResponse(CodeStatusPush, options, []byte(`{}`))

	msg, err := Decode(datagram)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Options[0].Number != 3 || msg.Options[1].Number != 11 {
		t.Errorf("option numbers = %d, %d, want 3, 11",
			msg.Options[0].Number, msg.Options[1].Number)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name     string
		datagram []byte
	}{
		{
			name:     "short datagram",
			datagram: []byte{0x50, 0x45},
		},
		{
			name:     "header only",
			datagram: buildResponse(CodeContentReply, nil, []byte(`{}`))[0:4:4],
		},
		{
			name:     "unrecognized code",
			datagram: buildResponse(0x44, nil, []byte(`{}`)),
		},
		{
			name:     "truncated option",
			datagram: []byte{0x50, CodeContentReply, 0x00, 0x0A, 0x3D, 0x01},
		},
		{
			name:     "missing payload marker",
			datagram: []byte{0x50, CodeContentReply, 0x00, 0x0A, 0x11, 'x'},
		},
		{
			name:     "missing payload",
			datagram: buildResponse(CodeContentReply, nil, nil),
		},
		{
			name:     "payload not JSON",
			datagram: buildResponse(CodeContentReply, nil, []byte("not json")),
		},
		{
			name:     "reserved nibble",
			datagram: []byte{0x50, CodeContentReply, 0x00, 0x0A, 0xF1, 'x', PayloadMarker, '{', '}'},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.datagram); !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("expected ErrInvalidMessage, got %v", err)
			}
		})
	}
}

func TestDecodeWrongVersion(t *testing.T) {
	datagram := buildResponse(CodeContentReply, nil, []byte(`{}`))
	datagram[0] = 2 << 6

	if _, err := Decode(datagram); !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("expected ErrInvalidMessage for version 2, got %v", err)
	}
}
