package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/home-assistant-libs/shelly-go/pkg/auth"
	"github.com/home-assistant-libs/shelly-go/pkg/rpc"
)

// WebSocket constants.
const (
	// RPCPath is the device's RPC endpoint path.
	RPCPath = "/rpc"

	// DefaultCallTimeout bounds a single call when the context carries
	// no deadline.
	DefaultCallTimeout = 10 * time.Second

	// dialTimeout bounds the WebSocket handshake.
	dialTimeout = 10 * time.Second

	// writeTimeout bounds a single frame write.
	writeTimeout = 5 * time.Second
)

// State is the WebSocket transport state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a dial in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// WSConfig configures the WebSocket transport.
type WSConfig struct {
	// Host is the device address (host or host:port).
	Host string

	// ClientName prefixes the generated src identifier.
	ClientName string

	// Password enables digest authentication when set.
	Password string

	// CallTimeout bounds individual calls. Zero means DefaultCallTimeout.
	CallTimeout time.Duration

	// HeartbeatInterval and PongTimeout tune liveness checking.
	// Zero values use the package defaults.
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration

	// Logger receives transport diagnostics. Nil means silent.
	Logger *slog.Logger
}

// WS is the WebSocket JSON-RPC transport.
//
// Multiple calls may be in flight concurrently on the single
// connection; they are distinguished by request id through the call
// registry, not by parallel sockets.
type WS struct {
	mu sync.Mutex

	cfg      WSConfig
	src      string
	state    State
	conn     *websocket.Conn
	registry *rpc.Registry
	neg      *auth.Negotiator
	hb       *Heartbeat
	logger   *slog.Logger

	// dialDone is closed when the dial started by the current Connect
	// resolves, successfully or not.
	dialDone chan struct{}

	// writeMu serializes frame writes on the connection.
	writeMu sync.Mutex

	// notify receives inbound notifications; onDisconnect receives the
	// synthetic connection-closed notification.
	notify       func(method string, params json.RawMessage)
	onDisconnect func(reason error)

	wg sync.WaitGroup
}

// NewWS creates a WebSocket transport for the device at cfg.Host.
func NewWS(cfg WSConfig) *WS {
	if cfg.ClientName == "" {
		cfg.ClientName = "shelly-go"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	w := &WS{
		cfg:      cfg,
		src:      cfg.ClientName + "-" + uuid.NewString()[:8],
		registry: rpc.NewRegistry(logger),
		logger:   logger,
	}
	if cfg.Password != "" {
		w.neg = auth.NewNegotiator(cfg.Password)
	}
	return w
}

// Src returns the session-local source identifier.
func (w *WS) Src() string {
	return w.src
}

// State returns the current connection state.
func (w *WS) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// SetNotificationHandler sets the callback for inbound notifications.
func (w *WS) SetNotificationHandler(notify func(method string, params json.RawMessage)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notify = notify
}

// SetDisconnectHandler sets the callback invoked once per disconnect.
func (w *WS) SetDisconnectHandler(onDisconnect func(reason error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onDisconnect = onDisconnect
}

// Connect dials the device's /rpc endpoint and starts the receive loop
// and the heartbeat. A concurrent Connect waits for the in-flight dial
// instead of returning before the socket is up; if that dial fails,
// the waiter dials itself.
func (w *WS) Connect(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.state == StateConnected {
			w.mu.Unlock()
			return nil
		}
		if w.state == StateConnecting {
			done := w.dialDone
			w.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		w.state = StateConnecting
		w.dialDone = make(chan struct{})
		w.mu.Unlock()
		break
	}

	u := url.URL{Scheme: "ws", Host: w.cfg.Host, Path: RPCPath}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		w.mu.Lock()
		w.state = StateDisconnected
		close(w.dialDone)
		w.mu.Unlock()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrConnectTimeout, err)
		}
		return fmt.Errorf("connect %s: %w", u.String(), err)
	}

	hb := NewHeartbeat(w.cfg.HeartbeatInterval, w.cfg.PongTimeout,
		func() error { return w.sendPing(conn) },
		func() {
			w.logger.Warn("heartbeat pong missed, closing connection", "host", w.cfg.Host)
			conn.Close()
		})
	conn.SetPongHandler(func(string) error {
		hb.PongReceived()
		return nil
	})

	w.mu.Lock()
	w.conn = conn
	w.hb = hb
	w.state = StateConnected
	close(w.dialDone)
	w.mu.Unlock()

	hb.Start()
	w.wg.Add(1)
	go w.receiveLoop(conn, hb)

	w.logger.Debug("connected", "host", w.cfg.Host, "src", w.src)
	return nil
}

// Disconnect closes the connection. Idempotent.
func (w *WS) Disconnect() error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	w.wg.Wait()
	return nil
}

// Call issues an RPC call and waits for its response.
//
// A 401 error carrying a digest challenge is answered by recomputing
// credentials and retrying the same logical call exactly once; a second
// 401, or a 401 without stored credentials, surfaces ErrInvalidAuth.
func (w *WS) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	resp, err := w.call(ctx, method, params, nil)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil && resp.Error.IsAuthChallenge() {
		challenge, chErr := auth.ParseChallenge(resp.Error.Message)
		if chErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, chErr)
		}
		if w.neg == nil {
			return nil, ErrInvalidAuth
		}
		cred, credErr := w.neg.BuildResponse(challenge)
		if credErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAuth, credErr)
		}

		resp, err = w.call(ctx, method, params, cred)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil && resp.Error.IsAuthChallenge() {
			return nil, ErrInvalidAuth
		}
	}

	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// call performs one request/response exchange.
func (w *WS) call(ctx context.Context, method string, params any, cred *auth.Credential) (*rpc.Response, error) {
	w.mu.Lock()
	if w.state != StateConnected {
		w.mu.Unlock()
		return nil, ErrNotConnected
	}
	conn := w.conn
	w.mu.Unlock()

	var rawParams json.RawMessage
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		rawParams = data
	}

	id, outcome := w.registry.Register()
	req := &rpc.Request{
		ID:     id,
		Method: method,
		Params: rawParams,
		Src:    w.src,
	}
	if cred != nil {
		req.Auth = cred
	}

	data, err := req.Encode()
	if err != nil {
		return nil, err
	}
	if err := w.writeFrame(conn, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.CallTimeout)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		// Cancel the slot but keep it registered: a late response is
		// recognized and discarded instead of surfacing elsewhere.
		w.registry.Cancel(id)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrCallTimeout, method)
		}
		return nil, ctx.Err()
	case out := <-outcome:
		if out.Err != nil {
			return nil, out.Err
		}
		return out.Response, nil
	}
}

// receiveLoop classifies inbound frames until the connection closes.
func (w *WS) receiveLoop(conn *websocket.Conn, hb *Heartbeat) {
	defer w.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.handleClose(conn, hb, err)
			return
		}
		hb.FrameReceived()
		w.handleFrame(conn, data)
	}
}

// handleFrame routes one inbound frame by its shape.
func (w *WS) handleFrame(conn *websocket.Conn, data []byte) {
	frame, err := rpc.DecodeFrame(data)
	if err != nil {
		w.logger.Debug("dropping malformed frame", "error", err)
		return
	}

	switch frame.Kind() {
	case rpc.FrameCall:
		// Peer-initiated call; the session is call-only from this side.
		reply := rpc.NotImplementedResponse(*frame.ID, w.src, frame.Src)
		if data, err := json.Marshal(reply); err == nil {
			w.writeFrame(conn, data)
		}

	case rpc.FrameNotification:
		w.mu.Lock()
		notify := w.notify
		w.mu.Unlock()
		if notify != nil {
			notify(frame.Method, frame.Params)
		}

	case rpc.FrameResponse:
		resp, err := frame.Response()
		if err != nil {
			return
		}
		w.registry.Resolve(resp.ID, resp)

	default:
		w.logger.Debug("dropping malformed frame", "data", string(data))
	}
}

// handleClose runs exactly once per connection: it stops the heartbeat,
// fails all pending calls and delivers the synthetic disconnect
// notification.
func (w *WS) handleClose(conn *websocket.Conn, hb *Heartbeat, reason error) {
	hb.Stop()
	conn.Close()

	w.mu.Lock()
	if w.conn == conn {
		w.conn = nil
		w.hb = nil
		w.state = StateDisconnected
	}
	onDisconnect := w.onDisconnect
	w.mu.Unlock()

	w.registry.FailAll(ErrConnectionClosed)
	w.logger.Debug("connection closed", "host", w.cfg.Host, "reason", reason)

	if onDisconnect != nil {
		onDisconnect(ErrConnectionClosed)
	}
}

// writeFrame writes one text frame, serialized against concurrent calls.
func (w *WS) writeFrame(conn *websocket.Conn, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// sendPing sends a WebSocket ping control frame.
func (w *WS) sendPing(conn *websocket.Conn) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}
