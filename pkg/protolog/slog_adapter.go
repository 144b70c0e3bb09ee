package protolog

import "log/slog"

// SlogAdapter mirrors protocol events to an slog logger at debug
// level, for development use.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates an adapter writing to the given logger. A nil
// logger discards events.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SlogAdapter{logger: logger}
}

// Log writes the event as a debug record.
func (a *SlogAdapter) Log(event Event) {
	attrs := []any{
		"device", event.Device,
		"layer", event.Layer.String(),
		"category", event.Category.String(),
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			"direction", event.Direction.String(),
			"method", event.Frame.Method,
			"id", event.Frame.ID,
			"size", event.Frame.Size)
	case event.State != nil:
		attrs = append(attrs,
			"from", event.State.From,
			"to", event.State.To)
		if event.State.Reason != "" {
			attrs = append(attrs, "reason", event.State.Reason)
		}
	case event.Error != nil:
		attrs = append(attrs, "error", event.Error.Message)
		if event.Error.Context != "" {
			attrs = append(attrs, "context", event.Error.Context)
		}
	}

	a.logger.Debug("protocol event", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
