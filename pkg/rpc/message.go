package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Well-known RPC error codes.
const (
	// CodeInvalidAuth is returned by the device when authentication is
	// missing or wrong. The error message carries the digest challenge.
	CodeInvalidAuth = 401

	// CodeNotImplemented is sent in reply to peer-initiated calls, which
	// this engine does not serve.
	CodeNotImplemented = 500
)

// Wire errors.
var (
	// ErrMalformedFrame indicates a frame that is neither a call, a
	// notification nor a response.
	ErrMalformedFrame = errors.New("malformed RPC frame")

	// ErrInvalidResponse indicates a response carrying neither a result
	// nor an error.
	ErrInvalidResponse = errors.New("response has neither result nor error")
)

// Request is an outbound RPC call frame.
type Request struct {
	ID     uint32          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
	Src    string          `json:"src"`
	Dst    string          `json:"dst,omitempty"`
	Auth   any             `json:"auth,omitempty"`
}

// Encode serializes the request for the wire.
func (r *Request) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// Response is an inbound RPC response frame.
type Response struct {
	ID     uint32          `json:"id"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
}

// Validate checks that the response carries either a result or an error.
func (r *Response) Validate() error {
	if r.Result == nil && r.Error == nil {
		return ErrInvalidResponse
	}
	return nil
}

// Error is a device-reported RPC failure.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// IsAuthChallenge reports whether this error is the 401 digest challenge.
func (e *Error) IsAuthChallenge() bool {
	return e.Code == CodeInvalidAuth
}

// FrameKind classifies an incoming frame.
type FrameKind uint8

const (
	// FrameMalformed is a frame that matches no known shape.
	FrameMalformed FrameKind = iota

	// FrameCall is a peer-initiated call (method and id present).
	FrameCall

	// FrameNotification is an unsolicited notification (method, no id).
	FrameNotification

	// FrameResponse is a response to a pending call (id, no method).
	FrameResponse
)

// String returns a human-readable frame kind name.
func (k FrameKind) String() string {
	switch k {
	case FrameCall:
		return "CALL"
	case FrameNotification:
		return "NOTIFICATION"
	case FrameResponse:
		return "RESPONSE"
	default:
		return "MALFORMED"
	}
}

// Frame is a decoded inbound frame before classification.
type Frame struct {
	ID     *uint32         `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *Error          `json:"error,omitempty"`
	Src    string          `json:"src,omitempty"`
	Dst    string          `json:"dst,omitempty"`
}

// DecodeFrame parses raw bytes into a Frame.
func DecodeFrame(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &f, nil
}

// Kind classifies the frame per the presence of method and id.
func (f *Frame) Kind() FrameKind {
	switch {
	case f.Method != "" && f.ID != nil:
		return FrameCall
	case f.Method != "":
		return FrameNotification
	case f.ID != nil:
		return FrameResponse
	default:
		return FrameMalformed
	}
}

// Response converts a response-kind frame into a Response.
// Returns ErrMalformedFrame for frames of any other kind.
func (f *Frame) Response() (*Response, error) {
	if f.Kind() != FrameResponse {
		return nil, ErrMalformedFrame
	}
	return &Response{
		ID:     *f.ID,
		Src:    f.Src,
		Dst:    f.Dst,
		Result: f.Result,
		Error:  f.Error,
	}, nil
}

// NotImplementedResponse builds the error reply sent for peer-initiated
// calls. The session is call-only from this side.
func NotImplementedResponse(callID uint32, src string, dst string) *Response {
	return &Response{
		ID:  callID,
		Src: src,
		Dst: dst,
		Error: &Error{
			Code:    CodeNotImplemented,
			Message: "not implemented",
		},
	}
}
