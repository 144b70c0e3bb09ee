package transport

import (
	"context"
	"encoding/json"
	"errors"
)

// Transport errors, shared across the WebSocket, BLE and CoAP
// implementations.
var (
	// ErrConnectionClosed indicates the transport disconnected; pending
	// calls fail together with this error. Retryable.
	ErrConnectionClosed = errors.New("device connection closed")

	// ErrConnectTimeout indicates the connect attempt timed out.
	// Retryable.
	ErrConnectTimeout = errors.New("device connection timeout")

	// ErrCallTimeout indicates a single call timed out; the connection
	// and unrelated pending calls are unaffected.
	ErrCallTimeout = errors.New("call timed out")

	// ErrNotConnected indicates a call on a disconnected transport.
	ErrNotConnected = errors.New("not connected")

	// ErrInvalidAuth indicates the device rejected the credentials (or
	// none are configured). Never auto-retried beyond the single 401
	// handshake.
	ErrInvalidAuth = errors.New("invalid or missing credentials")
)

// Caller is the uniform call capability exposed by the WebSocket and
// BLE transports. The CoAP transport is path-based and exposes its own
// request surface.
type Caller interface {
	// Connect establishes the transport link.
	Connect(ctx context.Context) error

	// Call issues an RPC and returns the raw result.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Disconnect closes the transport link. Idempotent.
	Disconnect() error
}

// Compile-time interface satisfaction check.
var _ Caller = (*WS)(nil)
