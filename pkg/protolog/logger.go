package protolog

// Logger receives protocol events. Implementations must be safe for
// concurrent use and must never block the calling transport.
type Logger interface {
	Log(event Event)
}

// NoopLogger discards all events. It is the default when no capture is
// configured.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

// MultiLogger fans events out to several loggers.
type MultiLogger struct {
	loggers []Logger
}

// NewMultiLogger creates a logger that forwards each event to every
// given logger in order.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// Log forwards the event to all loggers.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.loggers {
		l.Log(event)
	}
}
