package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/home-assistant-libs/shelly-go/pkg/coap"
	"github.com/home-assistant-libs/shelly-go/pkg/rpc"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

// ErrAlreadyRegistered indicates a second session tried to register for
// a device identity that already has a live registration. Replacing a
// live registration silently is a defect, so the caller must shut down
// the existing session first.
var ErrAlreadyRegistered = errors.New("device identity already registered")

// Handler receives inbound traffic routed by the Demultiplexer.
type Handler interface {
	// HandleFrame processes an RPC frame from the server-mode
	// WebSocket listener.
	HandleFrame(frame *rpc.Frame)

	// HandleDatagram processes a decoded CoIoT datagram.
	HandleDatagram(msg *coap.Message)
}

// Demultiplexer routes traffic from shared listeners to the active
// session for each device identity. Sessions register under their
// device identity and, for CoIoT, additionally under their host
// address, since multicast datagrams carry no device identity.
type Demultiplexer struct {
	mu       sync.Mutex
	handlers map[string]Handler

	logger *slog.Logger
}

// NewDemultiplexer creates an empty routing table.
func NewDemultiplexer(logger *slog.Logger) *Demultiplexer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Demultiplexer{
		handlers: make(map[string]Handler),
		logger:   logger,
	}
}

// Register installs the handler for a key. It fails with
// ErrAlreadyRegistered if another live registration holds the key.
func (d *Demultiplexer) Register(key string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.handlers[key]; ok {
		return ErrAlreadyRegistered
	}
	d.handlers[key] = h
	return nil
}

// Unregister removes the registration for a key, but only if it still
// belongs to the given handler. A stale session shutting down after
// being superseded must not remove its successor's registration.
func (d *Demultiplexer) Unregister(key string, h Handler) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if current, ok := d.handlers[key]; ok && current == h {
		delete(d.handlers, key)
		return true
	}
	return false
}

// Lookup returns the handler registered for a key, or nil.
func (d *Demultiplexer) Lookup(key string) Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[key]
}

// FrameRouter adapts the table for the server-mode WebSocket listener.
func (d *Demultiplexer) FrameRouter() transport.FrameRouter {
	return func(src string) func(*rpc.Frame) {
		h := d.Lookup(src)
		if h == nil {
			return nil
		}
		return h.HandleFrame
	}
}

// Dispatcher adapts the table for the CoIoT multicast listener.
// Datagrams from hosts without a registered session are dropped.
func (d *Demultiplexer) Dispatcher() coap.Dispatcher {
	return func(src string, msg *coap.Message) {
		h := d.Lookup(src)
		if h == nil {
			d.logger.Debug("dropping datagram from unknown device", "src", src)
			return
		}
		h.HandleDatagram(msg)
	}
}
