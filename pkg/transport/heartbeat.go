package transport

import (
	"sync"
	"time"
)

// Heartbeat constants.
const (
	// DefaultHeartbeatInterval is the idle interval after which a ping
	// is sent.
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultPongTimeout is the deadline for the pong answering a ping.
	DefaultPongTimeout = 5 * time.Second
)

// Heartbeat detects a dead WebSocket peer.
//
// Unlike a fixed-period pinger, it only sends a ping after a full
// interval with no inbound frames; the first check runs at half the
// interval. A missed pong deadline invokes onDead, which is expected to
// force-close the connection.
type Heartbeat struct {
	interval    time.Duration
	pongTimeout time.Duration

	sendPing func() error
	onDead   func()

	mu        sync.Mutex
	lastFrame time.Time
	checkT    *time.Timer
	pongT     *time.Timer
	running   bool
}

// NewHeartbeat creates a heartbeat monitor. Zero durations fall back to
// the defaults.
func NewHeartbeat(interval, pongTimeout time.Duration, sendPing func() error, onDead func()) *Heartbeat {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	return &Heartbeat{
		interval:    interval,
		pongTimeout: pongTimeout,
		sendPing:    sendPing,
		onDead:      onDead,
	}
}

// Start arms the first check at half the interval.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return
	}
	h.running = true
	h.lastFrame = time.Now()
	h.checkT = time.AfterFunc(h.interval/2, h.check)
}

// Stop cancels all timers. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.running = false
	if h.checkT != nil {
		h.checkT.Stop()
		h.checkT = nil
	}
	if h.pongT != nil {
		h.pongT.Stop()
		h.pongT = nil
	}
}

// FrameReceived records inbound traffic. Any frame counts as liveness
// and disarms an outstanding pong deadline.
func (h *Heartbeat) FrameReceived() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastFrame = time.Now()
	if h.pongT != nil {
		h.pongT.Stop()
		h.pongT = nil
	}
}

// PongReceived records a pong answer and re-arms the next idle check.
func (h *Heartbeat) PongReceived() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return
	}
	h.lastFrame = time.Now()
	if h.pongT != nil {
		h.pongT.Stop()
		h.pongT = nil
	}
	h.rearm(h.interval)
}

// check fires at the end of a check window: a connection idle for the
// whole interval gets pinged, otherwise the check is pushed out by the
// remaining idle budget.
func (h *Heartbeat) check() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}

	idle := time.Since(h.lastFrame)
	if idle < h.interval {
		h.rearm(h.interval - idle)
		h.mu.Unlock()
		return
	}

	// Idle too long: ping and arm the pong deadline. The regular check
	// keeps running so traffic arriving instead of a pong still feeds
	// the idle window.
	h.pongT = time.AfterFunc(h.pongTimeout, h.pongMissed)
	h.rearm(h.interval)
	sendPing := h.sendPing
	h.mu.Unlock()

	if err := sendPing(); err != nil {
		// The write failing means the connection is already dead; the
		// pong deadline will fire and close it.
		return
	}
}

// pongMissed declares the peer dead.
func (h *Heartbeat) pongMissed() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	onDead := h.onDead
	h.mu.Unlock()

	if onDead != nil {
		onDead()
	}
}

// rearm schedules the next check. Caller holds h.mu.
func (h *Heartbeat) rearm(d time.Duration) {
	if h.checkT != nil {
		h.checkT.Stop()
	}
	h.checkT = time.AfterFunc(d, h.check)
}
