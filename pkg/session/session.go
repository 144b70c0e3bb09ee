package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/home-assistant-libs/shelly-go/pkg/coap"
	"github.com/home-assistant-libs/shelly-go/pkg/connection"
	"github.com/home-assistant-libs/shelly-go/pkg/device"
	"github.com/home-assistant-libs/shelly-go/pkg/protolog"
	"github.com/home-assistant-libs/shelly-go/pkg/rpc"
	"github.com/home-assistant-libs/shelly-go/pkg/transport"
)

// Session errors.
var (
	// ErrBusy indicates Initialize was called while an initialization
	// is already in progress.
	ErrBusy = errors.New("initialization already in progress")

	// ErrNotInitialized indicates a data-bearing operation was invoked
	// before the session reached Ready.
	ErrNotInitialized = errors.New("device not initialized")

	// ErrSessionClosed indicates the session was shut down.
	ErrSessionClosed = errors.New("session closed")
)

// descriptionAttempts bounds retries of the CoIoT description fetch
// during initialization.
const descriptionAttempts = 3

// legacyRequestTimeout bounds a single CoIoT request during
// initialization. CoIoT is unacknowledged UDP, so without a
// per-attempt deadline a lost datagram would stall the fetch for as
// long as the caller's context lives.
var legacyRequestTimeout = 5 * time.Second

// State is the session lifecycle state.
type State uint8

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateAuthRequired
	StateDisconnected
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateAuthRequired:
		return "auth-required"
	case StateDisconnected:
		return "disconnected"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// notificationSource is satisfied by transports that push
// notifications, currently the WebSocket client.
type notificationSource interface {
	SetNotificationHandler(func(method string, params json.RawMessage))
}

// disconnectSource is satisfied by transports that report link loss.
type disconnectSource interface {
	SetDisconnectHandler(func(reason error))
}

// Config configures a DeviceSession.
type Config struct {
	// Host is the device's network address, used as the CoIoT routing
	// key.
	Host string

	// DeviceID is the device identity when known up front, e.g. for
	// sleeping devices that connect outbound. When set, the session
	// registers with the Demultiplexer at construction so first
	// contact can be routed before initialization.
	DeviceID string

	// MAC, when set, is verified against the fetched identity. A
	// mismatch faults the session permanently.
	MAC string

	// Identity, when set, skips the identity fetch during
	// initialization. Used for generation 1 devices, whose identity
	// comes from the HTTP capability probe.
	Identity *device.Identity

	// Transport is the RPC transport for generation 2+ devices.
	Transport transport.Caller

	// Coap is the CoIoT transport for generation 1 devices.
	Coap *coap.Transport

	// Demux is the shared routing table for inbound traffic. Optional
	// for purely outbound sessions.
	Demux *Demultiplexer

	// AutoReinit reinitializes the session with backoff after a
	// transport disconnect.
	AutoReinit bool

	// Logger receives diagnostics. Nil discards them.
	Logger *slog.Logger

	// EventLog records protocol events. Nil disables recording.
	EventLog protolog.Logger
}

// DeviceSession is the top-level orchestrator for one device. It owns
// its transport and cached status/config documents; the Demultiplexer
// holds only a back-reference for routing.
type DeviceSession struct {
	mu sync.Mutex

	cfg      Config
	state    State
	fatal    error
	closed   bool
	identity *device.Identity

	status    map[string]any
	devConfig map[string]any
	blocks    []device.Block

	// demux keys held by this session
	registered []string

	sub      *Subscription
	onUpdate UpdateFunc

	backoff *connection.Backoff
	logger  *slog.Logger
	elog    protolog.Logger
}

// NewDeviceSession creates a session. The transport is not connected
// until Initialize, but inbound routing is wired immediately so a
// sleeping device can make first contact.
func NewDeviceSession(cfg Config) *DeviceSession {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.EventLog == nil {
		cfg.EventLog = protolog.NoopLogger{}
	}

	s := &DeviceSession{
		cfg:      cfg,
		identity: cfg.Identity,
		backoff:  connection.NewBackoff(),
		logger:   cfg.Logger,
		elog:     cfg.EventLog,
	}

	if n, ok := cfg.Transport.(notificationSource); ok {
		n.SetNotificationHandler(s.handleNotification)
	}
	if d, ok := cfg.Transport.(disconnectSource); ok {
		d.SetDisconnectHandler(s.onDisconnect)
	}
	if cfg.Coap != nil {
		cfg.Coap.SetNotifyHandler(s.handleCoapPush)
	}

	if cfg.DeviceID != "" {
		s.register(cfg.DeviceID)
	}
	if cfg.Coap != nil && cfg.Host != "" {
		s.register(cfg.Host)
	}

	return s
}

// register acquires a demux key. A conflict means another live session
// already owns the identity; it is surfaced in the log and the key is
// not held, so this session's shutdown cannot disturb the owner.
func (s *DeviceSession) register(key string) {
	if s.cfg.Demux == nil {
		return
	}
	if err := s.cfg.Demux.Register(key, s); err != nil {
		s.logger.Warn("demux registration conflict", "key", key, "error", err)
		return
	}

	s.mu.Lock()
	s.registered = append(s.registered, key)
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *DeviceSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the fetched device identity, or nil before it is
// known. The identity survives an auth failure, so callers can still
// identify a device they lack credentials for.
func (s *DeviceSession) Identity() *device.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// Status returns the cached status document. Callers must not mutate
// it.
func (s *DeviceSession) Status() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// DeviceConfig returns the cached configuration document. Callers must
// not mutate it.
func (s *DeviceSession) DeviceConfig() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devConfig
}

// Blocks returns the decoded CoIoT blocks of a generation 1 device.
func (s *DeviceSession) Blocks() []device.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

// Initialize connects the transport and runs the initialization
// sequence. A concurrent call while one is in progress fails with
// ErrBusy. A session faulted by a MAC mismatch fails every subsequent
// attempt with the original error.
func (s *DeviceSession) Initialize(ctx context.Context) error {
	return s.initialize(ctx, false)
}

func (s *DeviceSession) initialize(ctx context.Context, tolerateAuth bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.fatal != nil {
		s.mu.Unlock()
		return s.fatal
	}
	if s.state == StateInitializing {
		s.mu.Unlock()
		return ErrBusy
	}
	from := s.state
	s.state = StateInitializing
	s.mu.Unlock()
	s.logState(from, StateInitializing)

	err := s.doInitialize(ctx, tolerateAuth)

	s.mu.Lock()
	switch {
	case err == nil:
		s.state = StateReady
		s.backoff.Reset()
	case errors.Is(err, device.ErrMacAddressMismatch):
		s.state = StateFaulted
		s.fatal = err
	case errors.Is(err, transport.ErrInvalidAuth):
		// Identity already obtained stays usable; data-bearing
		// accessors remain blocked.
		s.state = StateAuthRequired
		if tolerateAuth {
			err = nil
		}
	default:
		s.state = StateDisconnected
	}
	to := s.state
	s.mu.Unlock()
	s.logState(StateInitializing, to)

	return err
}

func (s *DeviceSession) doInitialize(ctx context.Context, tolerateAuth bool) error {
	if s.cfg.Transport != nil {
		if err := s.cfg.Transport.Connect(ctx); err != nil {
			return err
		}
	}

	if err := s.fetchIdentity(ctx); err != nil {
		return err
	}

	ident := s.Identity()
	if s.cfg.MAC != "" && ident != nil && !ident.MatchesMAC(s.cfg.MAC) {
		return device.ErrMacAddressMismatch
	}
	if ident != nil && ident.ID != "" && ident.ID != s.cfg.DeviceID {
		s.register(ident.ID)
	}

	if s.cfg.Coap != nil {
		return s.fetchLegacyState(ctx)
	}
	return s.fetchRPCState(ctx)
}

func (s *DeviceSession) fetchIdentity(ctx context.Context) error {
	if s.Identity() != nil || s.cfg.Transport == nil {
		return nil
	}

	raw, err := s.cfg.Transport.Call(ctx, "Shelly.GetDeviceInfo", nil)
	if err != nil {
		return err
	}
	var ident device.Identity
	if err := json.Unmarshal(raw, &ident); err != nil {
		return err
	}
	ident.MAC = device.NormalizeMAC(ident.MAC)
	if ident.AuthRequired && ident.AuthDomain == "" {
		ident.AuthDomain = ident.ID
	}

	s.mu.Lock()
	s.identity = &ident
	s.mu.Unlock()
	return nil
}

func (s *DeviceSession) fetchRPCState(ctx context.Context) error {
	if s.cfg.Transport == nil {
		return nil
	}

	rawConfig, err := s.cfg.Transport.Call(ctx, "Shelly.GetConfig", nil)
	if err != nil {
		return err
	}
	var devConfig map[string]any
	if err := json.Unmarshal(rawConfig, &devConfig); err != nil {
		return err
	}

	rawStatus, err := s.cfg.Transport.Call(ctx, "Shelly.GetStatus", nil)
	if err != nil {
		return err
	}
	var status map[string]any
	if err := json.Unmarshal(rawStatus, &status); err != nil {
		return err
	}

	s.mu.Lock()
	s.devConfig = devConfig
	s.status = status
	s.mu.Unlock()
	return nil
}

// fetchLegacyState pulls the CoIoT description and status. The
// description fetch is retried a bounded number of times, since
// freshly woken devices often miss the first request.
func (s *DeviceSession) fetchLegacyState(ctx context.Context) error {
	var desc *coap.Message
	var err error
	for attempt := 0; attempt < descriptionAttempts; attempt++ {
		desc, err = s.legacyRequest(ctx, coap.PathDescription)
		if err == nil {
			break
		}
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, transport.ErrCallTimeout) {
			return err
		}
		// A fresh attempt only makes sense while the caller's own
		// context is still live.
		if ctx.Err() != nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	blocks, err := device.ParseDescription(desc.Payload)
	if err != nil {
		return err
	}

	status, err := s.legacyRequest(ctx, coap.PathStatus)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.blocks = blocks
	s.status = status.Payload
	s.mu.Unlock()
	return nil
}

// legacyRequest issues one CoIoT request bounded by its own deadline,
// so a timed-out attempt returns control to the retry loop instead of
// riding out the caller's context.
func (s *DeviceSession) legacyRequest(ctx context.Context, path string) (*coap.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, legacyRequestTimeout)
	defer cancel()
	return s.cfg.Coap.Request(ctx, path)
}

// Call issues an RPC on the session's transport. It fails with
// ErrNotInitialized until initialization completes; it never blocks
// waiting for initialization.
func (s *DeviceSession) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	if s.state != StateReady || s.cfg.Transport == nil {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	s.mu.Unlock()

	s.logFrame(protolog.DirectionOut, method)
	return s.cfg.Transport.Call(ctx, method, params)
}

// Shutdown releases the session. It unregisters from the Demultiplexer
// before closing the transport, so a replacement session can register
// without racing this one's teardown. Idempotent.
func (s *DeviceSession) Shutdown() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	keys := s.registered
	s.registered = nil
	from := s.state
	s.state = StateDisconnected
	s.mu.Unlock()
	s.logState(from, StateDisconnected)

	if s.cfg.Demux != nil {
		for _, key := range keys {
			s.cfg.Demux.Unregister(key, s)
		}
	}

	if s.cfg.Transport != nil {
		return s.cfg.Transport.Disconnect()
	}
	return nil
}

// HandleFrame routes a frame from the server-mode WebSocket listener.
func (s *DeviceSession) HandleFrame(frame *rpc.Frame) {
	switch frame.Kind() {
	case rpc.FrameNotification:
		s.handleNotification(frame.Method, frame.Params)
	default:
		s.logger.Debug("ignoring unexpected inbound frame",
			"kind", frame.Kind(),
			"method", frame.Method)
	}
}

// HandleDatagram routes a CoIoT datagram. Replies feed the transport's
// pending waits; pushes arrive back via the notify handler.
func (s *DeviceSession) HandleDatagram(msg *coap.Message) {
	if s.cfg.Coap != nil {
		s.cfg.Coap.HandleMessage(msg)
		return
	}
	s.handleCoapPush(msg)
}

// handleNotification processes an RPC notification. Arrival while
// Uninitialized means a sleeping device made first contact; the
// session initializes in the background because such devices keep the
// link open only briefly, and still delivers the pushed data.
func (s *DeviceSession) handleNotification(method string, params json.RawMessage) {
	s.wakeIfNeeded()
	s.logFrame(protolog.DirectionIn, method)

	var payload map[string]any
	if len(params) > 0 {
		if err := json.Unmarshal(params, &payload); err != nil {
			s.logger.Debug("dropping malformed notification",
				"method", method,
				"error", err)
			return
		}
	}

	switch method {
	case "NotifyFullStatus":
		s.mu.Lock()
		s.status = payload
		s.mu.Unlock()
		s.dispatch(UpdateFullStatus, payload)

	case "NotifyStatus":
		s.mu.Lock()
		s.status = mergeStatus(s.status, payload)
		s.mu.Unlock()
		s.dispatch(UpdateStatusDelta, payload)

	case "NotifyEvent":
		s.dispatch(UpdateEvent, payload)

	default:
		s.logger.Debug("ignoring unknown notification", "method", method)
	}
}

// handleCoapPush processes a periodic CoIoT status push. Pushes carry
// the full sensor state, so they replace the cached document.
func (s *DeviceSession) handleCoapPush(msg *coap.Message) {
	s.wakeIfNeeded()

	if !msg.IsStatusPush() {
		s.logger.Debug("dropping unexpected datagram", "code", msg.Code)
		return
	}

	s.mu.Lock()
	s.status = msg.Payload
	s.mu.Unlock()
	s.dispatch(UpdateFullStatus, msg.Payload)
}

// wakeIfNeeded starts a background initialization when a device makes
// unsolicited first contact. Missing credentials degrade to
// AuthRequired instead of aborting, since the pushed data may not need
// them.
func (s *DeviceSession) wakeIfNeeded() {
	s.mu.Lock()
	wake := s.state == StateUninitialized && !s.closed
	s.mu.Unlock()

	if !wake {
		return
	}
	go func() {
		if err := s.initialize(context.Background(), true); err != nil &&
			!errors.Is(err, ErrBusy) {
			s.logger.Warn("background initialization failed", "error", err)
		}
	}()
}

// onDisconnect reacts to transport link loss. Pending calls were
// already failed by the transport; the session only tracks state,
// notifies the subscriber and, when configured, schedules
// reinitialization.
func (s *DeviceSession) onDisconnect(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = StateDisconnected
	reinit := s.cfg.AutoReinit && s.fatal == nil
	s.mu.Unlock()

	s.logState(from, StateDisconnected)
	s.logger.Debug("transport disconnected", "reason", reason)
	s.dispatch(UpdateDisconnect, nil)

	if reinit {
		go s.reinitLoop()
	}
}

// reinitLoop retries initialization with exponential backoff until it
// succeeds, faults, or the session is shut down.
func (s *DeviceSession) reinitLoop() {
	for {
		time.Sleep(s.backoff.Next())

		s.mu.Lock()
		stop := s.closed || s.fatal != nil
		s.mu.Unlock()
		if stop {
			return
		}

		err := s.initialize(context.Background(), true)
		if err == nil || errors.Is(err, ErrBusy) ||
			errors.Is(err, ErrSessionClosed) ||
			errors.Is(err, device.ErrMacAddressMismatch) {
			return
		}
		s.logger.Debug("reinitialization attempt failed",
			"attempt", s.backoff.Attempts(),
			"error", err)
	}
}

func (s *DeviceSession) deviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil && s.identity.ID != "" {
		return s.identity.ID
	}
	return s.cfg.DeviceID
}

func (s *DeviceSession) logState(from, to State) {
	if from == to {
		return
	}
	s.elog.Log(protolog.Event{
		Timestamp: time.Now(),
		Device:    s.deviceID(),
		Category:  protolog.CategoryState,
		State: &protolog.StateChangeEvent{
			From: from.String(),
			To:   to.String(),
		},
	})
}

func (s *DeviceSession) logFrame(dir protolog.Direction, method string) {
	s.elog.Log(protolog.Event{
		Timestamp: time.Now(),
		Device:    s.deviceID(),
		Category:  protolog.CategoryFrame,
		Direction: dir,
		Frame:     &protolog.FrameEvent{Method: method},
	})
}
