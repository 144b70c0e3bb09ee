package coap

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Protocol constants.
const (
	// Version is the only CoAP version the devices speak.
	Version = 1

	// TypeConfirmable and TypeNonConfirmable are the CoAP message types
	// used by requests; responses may use any type.
	TypeConfirmable    = 0
	TypeNonConfirmable = 1

	// CodeGet is the request code (0.01).
	CodeGet = 1

	// CodeStatusPush is the CoIoT periodic status publish code.
	CodeStatusPush = 30

	// CodeContentReply is the direct reply code (2.05 Content).
	CodeContentReply = 69

	// OptionUriPath is the Uri-Path option number.
	OptionUriPath = 11

	// PayloadMarker separates options from the payload.
	PayloadMarker = 0xFF

	// headerSize is the fixed CoAP header length.
	headerSize = 4
)

// Option nibble escapes.
const (
	// extendOneByte escapes to one extra byte, offset 13.
	extendOneByte = 13

	// extendTwoBytes escapes to two extra bytes, offset 269.
	extendTwoBytes = 14

	// nibbleReserved is invalid in either nibble.
	nibbleReserved = 15

	// extendOneByteOffset and extendTwoBytesOffset are the documented
	// offsets for the escapes.
	extendOneByteOffset  = 13
	extendTwoBytesOffset = 269
)

// Codec errors.
var (
	// ErrInvalidMessage indicates a datagram that does not decode as a
	// known CoIoT message. Callers drop the datagram and continue.
	ErrInvalidMessage = errors.New("invalid CoIoT message")
)

// Option is one decoded CoAP option. Numbers are absolute (deltas
// already accumulated).
type Option struct {
	Number uint16
	Value  []byte
}

// Message is a decoded CoIoT datagram.
type Message struct {
	Version   uint8
	Type      uint8
	Code      uint8
	MessageID uint16
	Options   []Option
	Payload   map[string]any
}

// IsStatusPush reports whether this is a periodic status publish.
func (m *Message) IsStatusPush() bool {
	return m.Code == CodeStatusPush
}

// EncodeRequest builds a GET datagram for the given cit sub-path
// ("d" for device description, "s" for status).
func EncodeRequest(path string, messageID uint16) []byte {
	buf := make([]byte, 0, headerSize+2+len("cit")+2+len(path)+1)

	// Header: version 1, non-confirmable, token length 0.
	buf = append(buf, Version<<6|TypeNonConfirmable<<4, CodeGet)
	buf = binary.BigEndian.AppendUint16(buf, messageID)

	// Uri-Path "cit" (delta 11 from 0), then the sub-path (delta 0).
	buf = appendOption(buf, OptionUriPath, []byte("cit"))
	buf = appendOption(buf, 0, []byte(path))

	buf = append(buf, PayloadMarker)
	return buf
}

// appendOption appends one option with the given delta and value.
func appendOption(buf []byte, delta uint16, value []byte) []byte {
	dn, dext := encodeNibble(delta)
	ln, lext := encodeNibble(uint16(len(value)))
	buf = append(buf, dn<<4|ln)
	buf = append(buf, dext...)
	buf = append(buf, lext...)
	return append(buf, value...)
}

// encodeNibble encodes a delta or length value into its nibble and
// extended bytes.
func encodeNibble(v uint16) (uint8, []byte) {
	switch {
	case v < extendOneByteOffset:
		return uint8(v), nil
	case v < extendTwoBytesOffset:
		return extendOneByte, []byte{uint8(v - extendOneByteOffset)}
	default:
		var ext [2]byte
		binary.BigEndian.PutUint16(ext[:], v-extendTwoBytesOffset)
		return extendTwoBytes, ext[:]
	}
}

// Decode parses a datagram into a Message.
// Only the status-push and content-reply codes are accepted; any parse
// failure returns an error wrapping ErrInvalidMessage.
func Decode(datagram []byte) (*Message, error) {
	if len(datagram) < headerSize {
		return nil, fmt.Errorf("%w: datagram shorter than header", ErrInvalidMessage)
	}

	msg := &Message{
		Version:   datagram[0] >> 6,
		Type:      datagram[0] >> 4 & 0x03,
		Code:      datagram[1],
		MessageID: binary.BigEndian.Uint16(datagram[2:4]),
	}
	tokenLength := int(datagram[0] & 0x0F)

	if msg.Version != Version {
		return nil, fmt.Errorf("%w: version %d", ErrInvalidMessage, msg.Version)
	}
	if msg.Code != CodeStatusPush && msg.Code != CodeContentReply {
		return nil, fmt.Errorf("%w: unexpected code %d", ErrInvalidMessage, msg.Code)
	}
	if headerSize+tokenLength > len(datagram) {
		return nil, fmt.Errorf("%w: token overruns datagram", ErrInvalidMessage)
	}

	rest := datagram[headerSize+tokenLength:]
	rest, options, err := decodeOptions(rest)
	if err != nil {
		return nil, err
	}
	msg.Options = options

	// Payload is mandatory and must parse as JSON.
	if len(rest) == 0 {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidMessage)
	}
	if err := json.Unmarshal(rest, &msg.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrInvalidMessage, err)
	}

	return msg, nil
}

// decodeOptions parses the option sequence up to the payload marker and
// returns the remaining payload bytes.
func decodeOptions(data []byte) ([]byte, []Option, error) {
	var options []Option
	var number uint16

	for len(data) > 0 {
		if data[0] == PayloadMarker {
			return data[1:], options, nil
		}

		deltaNibble := data[0] >> 4
		lengthNibble := data[0] & 0x0F
		data = data[1:]

		delta, rest, err := decodeExtended(deltaNibble, data)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: option delta: %v", ErrInvalidMessage, err)
		}
		length, rest, err := decodeExtended(lengthNibble, rest)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: option length: %v", ErrInvalidMessage, err)
		}
		if int(length) > len(rest) {
			return nil, nil, fmt.Errorf("%w: option value truncated", ErrInvalidMessage)
		}

		number += delta
		options = append(options, Option{Number: number, Value: rest[:length]})
		data = rest[length:]
	}

	return nil, nil, fmt.Errorf("%w: missing payload marker", ErrInvalidMessage)
}

// decodeExtended resolves a nibble with its extended-value escape.
func decodeExtended(nibble uint8, data []byte) (uint16, []byte, error) {
	switch nibble {
	case extendOneByte:
		if len(data) < 1 {
			return 0, nil, errors.New("truncated one-byte extension")
		}
		return uint16(data[0]) + extendOneByteOffset, data[1:], nil
	case extendTwoBytes:
		if len(data) < 2 {
			return 0, nil, errors.New("truncated two-byte extension")
		}
		// Widen before adding the offset; values near the top of the
		// two-byte range would otherwise wrap.
		v := int(binary.BigEndian.Uint16(data[:2])) + extendTwoBytesOffset
		if v > math.MaxUint16 {
			return 0, nil, errors.New("two-byte extension out of range")
		}
		return uint16(v), data[2:], nil
	case nibbleReserved:
		return 0, nil, errors.New("reserved nibble value 15")
	default:
		return uint16(nibble), data, nil
	}
}
