package rpc

import (
	"errors"
	"log/slog"
	"sync"
)

// Registry errors.
var (
	// ErrCallCancelled indicates the slot was cancelled before a
	// response arrived.
	ErrCallCancelled = errors.New("call cancelled")
)

// Outcome is the terminal state of a pending call: exactly one of
// Response or Err is set.
type Outcome struct {
	Response *Response
	Err      error
}

// pending is one in-flight call slot.
type pending struct {
	ch        chan Outcome
	cancelled bool
}

// Registry correlates outbound request ids to pending call slots.
// Ids are monotonically increasing per registry and never reused while
// the slot is still registered.
type Registry struct {
	mu      sync.Mutex
	nextID  uint32
	pending map[uint32]*pending
	logger  *slog.Logger
}

// NewRegistry creates an empty call registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		pending: make(map[uint32]*pending),
		logger:  logger,
	}
}

// Register allocates the next call id and its outcome channel.
// The channel receives exactly one Outcome when the call resolves,
// fails, or the registry is cleared.
func (r *Registry) Register() (uint32, <-chan Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	slot := &pending{ch: make(chan Outcome, 1)}
	r.pending[id] = slot
	return id, slot.ch
}

// Resolve completes the slot matching id with the given response.
// A response for an unknown id is logged and dropped (expired or never
// registered). A response for a cancelled slot clears the slot and is
// discarded so it does not re-enter processing as an unrelated error.
// Returns true only when the response was delivered to a waiter.
func (r *Registry) Resolve(id uint32, resp *Response) bool {
	r.mu.Lock()
	slot, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()

	if !ok {
		r.logger.Warn("response for unknown call id", "id", id)
		return false
	}
	if slot.cancelled {
		r.logger.Debug("late response for cancelled call discarded", "id", id)
		return false
	}

	slot.ch <- Outcome{Response: resp}
	return true
}

// Cancel marks the slot cancelled on timeout. The slot stays registered
// until a late response or FailAll clears it.
func (r *Registry) Cancel(id uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if slot, ok := r.pending[id]; ok {
		slot.cancelled = true
	}
}

// FailAll resolves every pending slot with err and empties the registry.
// Used on disconnect. Cancelled slots are cleared without delivery.
func (r *Registry) FailAll(err error) {
	r.mu.Lock()
	slots := r.pending
	r.pending = make(map[uint32]*pending)
	r.mu.Unlock()

	for id, slot := range slots {
		if slot.cancelled {
			continue
		}
		slot.ch <- Outcome{Err: err}
		r.logger.Debug("pending call failed", "id", id, "error", err)
	}
}

// Pending returns the number of registered slots, cancelled ones included.
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
