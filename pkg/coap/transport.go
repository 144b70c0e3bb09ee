package coap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// Network constants.
const (
	// MulticastGroup is the CoIoT multicast group devices publish to.
	MulticastGroup = "224.0.1.187"

	// DevicePort is the UDP port devices listen and publish on.
	DevicePort = 5683

	// maxDatagramSize bounds a single read from the socket.
	maxDatagramSize = 65536

	// firstMessageID seeds the request message id counter.
	firstMessageID = 10
)

// Request paths.
const (
	// PathDescription requests the device block description ("cit/d").
	PathDescription = "d"

	// PathStatus requests the device status ("cit/s").
	PathStatus = "s"
)

// Transport errors.
var (
	// ErrListenerClosed indicates the shared socket has been closed.
	ErrListenerClosed = errors.New("coap listener closed")

	// ErrUnknownPath indicates a request path other than "d" or "s".
	ErrUnknownPath = errors.New("unknown request path")
)

// Dispatcher routes a decoded message to the session owning the source
// address. Wired to the session demultiplexer.
type Dispatcher func(src string, msg *Message)

// Sender sends an encoded datagram to a device.
// Implemented by Listener.
type Sender interface {
	Send(host string, data []byte) error
}

// Listener owns the process-wide UDP socket joined to the CoIoT
// multicast group. Devices publish unsolicited status to the group and
// answer unicast requests on the same socket, so all inbound datagrams
// funnel through one receive loop and are routed by source address.
type Listener struct {
	mu       sync.Mutex
	conn     net.PacketConn
	dispatch Dispatcher
	logger   *slog.Logger
	closed   bool
	wg       sync.WaitGroup
}

// NewListener creates a listener. Call Start to open the socket.
func NewListener(logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Listener{logger: logger}
}

// SetDispatcher sets the routing callback for decoded messages.
// Must be called before Start.
func (l *Listener) SetDispatcher(dispatch Dispatcher) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dispatch = dispatch
}

// Start opens the socket, joins the multicast group and begins the
// receive loop.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrListenerClosed
	}
	if l.conn != nil {
		return nil
	}

	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", DevicePort))
	if err != nil {
		return fmt.Errorf("failed to open CoIoT socket: %w", err)
	}

	p := ipv4.NewPacketConn(conn)
	group := net.ParseIP(MulticastGroup)
	if err := p.JoinGroup(nil, &net.UDPAddr{IP: group}); err != nil {
		conn.Close()
		return fmt.Errorf("failed to join multicast group: %w", err)
	}

	l.conn = conn
	l.wg.Add(1)
	go l.receiveLoop(conn)
	return nil
}

// Send sends a datagram to the device's CoIoT port.
func (l *Listener) Send(host string, data []byte) error {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()

	if conn == nil {
		return ErrListenerClosed
	}

	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: DevicePort}
	if _, err := conn.WriteTo(data, addr); err != nil {
		return fmt.Errorf("failed to send datagram: %w", err)
	}
	return nil
}

// Close stops the receive loop and closes the socket. Idempotent.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	l.wg.Wait()
	return nil
}

// receiveLoop reads datagrams until the socket closes. Malformed input
// is contained here: decode failures are logged and the datagram
// dropped, the loop never stops because of bad input.
func (l *Listener) receiveLoop(conn net.PacketConn) {
	defer l.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])

		msg, err := Decode(datagram)
		if err != nil {
			l.logger.Debug("dropping malformed datagram",
				"src", addr.String(),
				"error", err)
			continue
		}

		l.mu.Lock()
		dispatch := l.dispatch
		l.mu.Unlock()

		if dispatch != nil {
			host, _, _ := net.SplitHostPort(addr.String())
			dispatch(host, msg)
		}
	}
}

// wait is one shared outstanding request wait for a path.
type wait struct {
	done chan struct{}
	msg  *Message
	refs int
}

// Transport issues CoIoT requests to a single device and matches
// replies to waiting callers.
//
// CoIoT carries no per-request id, so an incoming payload is matched to
// the outstanding wait for its path by a distinguishing top-level key:
// descriptions carry "blk", status payloads carry "G". At most one wait
// exists per path at a time; concurrent callers for the same path share
// it instead of issuing a duplicate datagram.
type Transport struct {
	mu     sync.Mutex
	host   string
	sender Sender
	logger *slog.Logger

	waits map[string]*wait
	msgID uint16

	// notify receives messages that match no outstanding wait
	// (periodic status pushes).
	notify func(*Message)
}

// NewTransport creates a transport for the device at host, sending
// through the shared listener.
func NewTransport(host string, sender Sender, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Transport{
		host:   host,
		sender: sender,
		logger: logger,
		waits:  make(map[string]*wait),
		msgID:  firstMessageID,
	}
}

// SetNotifyHandler sets the callback for unsolicited status publishes.
func (t *Transport) SetNotifyHandler(notify func(*Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notify = notify
}

// Request sends a GET for path ("d" or "s") and waits for the matching
// reply. A concurrent request for the same path shares the outstanding
// wait rather than sending again.
func (t *Transport) Request(ctx context.Context, path string) (*Message, error) {
	if path != PathDescription && path != PathStatus {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPath, path)
	}

	t.mu.Lock()
	w, shared := t.waits[path]
	if !shared {
		w = &wait{done: make(chan struct{})}
		t.waits[path] = w
	}
	w.refs++
	t.msgID++
	msgID := t.msgID
	t.mu.Unlock()

	defer t.release(path, w)

	if !shared {
		if err := t.sender.Send(t.host, EncodeRequest(path, msgID)); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return w.msg, nil
	}
}

// release drops one caller's reference; the last one out removes an
// unresolved wait so a later request sends a fresh datagram.
func (t *Transport) release(path string, w *wait) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w.refs--
	if w.refs == 0 && t.waits[path] == w {
		select {
		case <-w.done:
			// Resolved; already removed by HandleMessage.
		default:
			delete(t.waits, path)
		}
	}
}

// HandleMessage routes an inbound message for this device: it resolves
// the outstanding wait for the matching path, or falls through to the
// notify handler for periodic pushes.
func (t *Transport) HandleMessage(msg *Message) {
	path := classify(msg)

	t.mu.Lock()
	w, ok := t.waits[path]
	if ok {
		delete(t.waits, path)
	}
	notify := t.notify
	t.mu.Unlock()

	if ok {
		w.msg = msg
		close(w.done)
		return
	}

	if notify != nil {
		notify(msg)
	}
}

// classify maps a payload to its request path by distinguishing key.
func classify(msg *Message) string {
	if _, ok := msg.Payload["blk"]; ok {
		return PathDescription
	}
	return PathStatus
}
