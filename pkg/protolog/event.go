package protolog

import "time"

// Event is one captured protocol event. CBOR encoding uses integer
// keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Device is the device identifier, when known.
	Device string `cbor:"2,keyasint,omitempty"`

	// Direction indicates message flow for frame events.
	Direction Direction `cbor:"3,keyasint"`

	// Layer is the transport the event was captured on.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address, when known.
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Type-specific payload (one of these is set).
	Frame *FrameEvent       `cbor:"7,keyasint,omitempty"`
	State *StateChangeEvent `cbor:"8,keyasint,omitempty"`
	Error *ErrorEvent       `cbor:"9,keyasint,omitempty"`
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer identifies the transport an event was captured on.
type Layer uint8

const (
	// LayerWS is the WebSocket RPC transport.
	LayerWS Layer = 0
	// LayerBLE is the GATT RPC transport.
	LayerBLE Layer = 1
	// LayerCoIoT is the multicast CoAP transport.
	LayerCoIoT Layer = 2
	// LayerHTTP is the capability-probe collaborator.
	LayerHTTP Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerWS:
		return "WS"
	case LayerBLE:
		return "BLE"
	case LayerCoIoT:
		return "COIOT"
	case LayerHTTP:
		return "HTTP"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a protocol frame or datagram.
	CategoryFrame Category = 0
	// CategoryState indicates a session state change.
	CategoryState Category = 1
	// CategoryError indicates an error event.
	CategoryError Category = 2
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one RPC frame or CoIoT datagram.
type FrameEvent struct {
	// Method is the RPC method or notification name, empty for raw
	// datagrams.
	Method string `cbor:"1,keyasint,omitempty"`

	// ID is the call correlation id, 0 for notifications.
	ID uint32 `cbor:"2,keyasint,omitempty"`

	// Size is the encoded frame size in bytes.
	Size int `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures a session lifecycle transition.
type StateChangeEvent struct {
	// From is the previous state (may be empty).
	From string `cbor:"1,keyasint,omitempty"`

	// To is the new state.
	To string `cbor:"2,keyasint"`

	// Reason for the change, if available.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEvent captures an error at any layer.
type ErrorEvent struct {
	// Message is the error message.
	Message string `cbor:"1,keyasint"`

	// Code is the device-reported error code, if applicable.
	Code *int `cbor:"2,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
