package session

import "sync"

// UpdateKind discriminates the notifications a subscriber can receive.
type UpdateKind uint8

const (
	// UpdateFullStatus replaces the cached status document.
	UpdateFullStatus UpdateKind = iota + 1

	// UpdateStatusDelta was merged into the cached status document;
	// the payload carries the delta as received.
	UpdateStatusDelta

	// UpdateEvent carries a device event, not reflected in status.
	UpdateEvent

	// UpdateDisconnect signals the transport disconnected. Payload is
	// nil.
	UpdateDisconnect
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateFullStatus:
		return "full-status"
	case UpdateStatusDelta:
		return "status-delta"
	case UpdateEvent:
		return "event"
	case UpdateDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// UpdateFunc receives session updates. Every accepted item produces
// exactly one invocation.
type UpdateFunc func(s *DeviceSession, kind UpdateKind, payload map[string]any)

// Subscription is the handle returned by Subscribe. Unsubscribe is
// idempotent and owned by the caller; a handle superseded by a later
// Subscribe call becomes inert.
type Subscription struct {
	once    sync.Once
	session *DeviceSession
}

// Unsubscribe removes the subscription. Calling it more than once, or
// after a later Subscribe replaced it, has no effect.
func (sub *Subscription) Unsubscribe() {
	sub.once.Do(func() {
		sub.session.unsubscribe(sub)
	})
}

// Subscribe registers the single subscriber for this session,
// replacing any previous one. The previous handle's Unsubscribe
// becomes a no-op for the new registration.
func (s *DeviceSession) Subscribe(fn UpdateFunc) *Subscription {
	sub := &Subscription{session: s}

	s.mu.Lock()
	s.sub = sub
	s.onUpdate = fn
	s.mu.Unlock()

	return sub
}

func (s *DeviceSession) unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sub == sub {
		s.sub = nil
		s.onUpdate = nil
	}
}

// dispatch delivers one update to the current subscriber, if any.
func (s *DeviceSession) dispatch(kind UpdateKind, payload map[string]any) {
	s.mu.Lock()
	fn := s.onUpdate
	s.mu.Unlock()

	if fn != nil {
		fn(s, kind, payload)
	}
}
