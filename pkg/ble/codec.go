package ble

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the big-endian length prefix.
	LengthPrefixSize = 4

	// DefaultChunkSize is the write chunk size. Conservative enough for
	// the default ATT MTU after the 3-byte header.
	DefaultChunkSize = 20

	// MaxFrameSize bounds an advertised response length.
	MaxFrameSize = 1 << 20
)

// Codec errors.
var (
	// ErrIncompleteData indicates accumulation stalled short of the
	// advertised length without forming valid JSON.
	ErrIncompleteData = errors.New("incomplete frame data")

	// ErrFrameTooLarge indicates an advertised length beyond MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrBadLengthPrefix indicates an rx-control read of the wrong width.
	ErrBadLengthPrefix = errors.New("bad length prefix")
)

// EncodeLength encodes a frame length for the tx-control write.
func EncodeLength(n int) []byte {
	buf := make([]byte, LengthPrefixSize)
	binary.BigEndian.PutUint32(buf, uint32(n))
	return buf
}

// DecodeLength decodes an rx-control read into the advertised response
// length. A zero result means the response is not ready yet.
func DecodeLength(data []byte) (uint32, error) {
	if len(data) != LengthPrefixSize {
		return 0, fmt.Errorf("%w: got %d bytes", ErrBadLengthPrefix, len(data))
	}
	n := binary.BigEndian.Uint32(data)
	if n > MaxFrameSize {
		return 0, fmt.Errorf("%w: %d", ErrFrameTooLarge, n)
	}
	return n, nil
}

// Chunks splits a payload into write-sized chunks.
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	if len(data) > 0 {
		chunks = append(chunks, data)
	}
	return chunks
}

// Assembler accumulates response chunks up to an advertised length.
type Assembler struct {
	want uint32
	buf  []byte
}

// NewAssembler creates an assembler for a response of advertised length.
func NewAssembler(advertised uint32) *Assembler {
	return &Assembler{
		want: advertised,
		buf:  make([]byte, 0, advertised),
	}
}

// Add appends one chunk and reports whether the advertised length has
// been reached.
func (a *Assembler) Add(chunk []byte) bool {
	a.buf = append(a.buf, chunk...)
	return a.Complete()
}

// Complete reports whether the advertised length has been reached.
func (a *Assembler) Complete() bool {
	return uint32(len(a.buf)) >= a.want
}

// Remaining returns how many bytes are still expected.
func (a *Assembler) Remaining() uint32 {
	if a.Complete() {
		return 0
	}
	return a.want - uint32(len(a.buf))
}

// Bytes finalizes the frame. Short frames are accepted only when the
// accumulated bytes already form complete valid JSON: certain firmware
// corrupts the advertised length but still sends the full document.
// Anything else short of the advertised length is ErrIncompleteData.
func (a *Assembler) Bytes() ([]byte, error) {
	if a.Complete() {
		return a.buf[:a.want], nil
	}
	if json.Valid(a.buf) {
		return a.buf, nil
	}
	return nil, fmt.Errorf("%w: got %d of %d bytes", ErrIncompleteData, len(a.buf), a.want)
}
