package protolog

import (
	"sync"
	"testing"
	"time"
)

// recordingLogger captures events for assertions.
type recordingLogger struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingLogger) Log(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingLogger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &recordingLogger{}
	b := &recordingLogger{}
	m := NewMultiLogger(a, b, NoopLogger{})

	m.Log(Event{Timestamp: time.Now(), Device: "shelly1-aaa"})
	m.Log(Event{Timestamp: time.Now(), Device: "shelly1-aaa"})

	if a.count() != 2 || b.count() != 2 {
		t.Errorf("fan-out counts = %d/%d, want 2/2", a.count(), b.count())
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	// Must not panic with no targets.
	NewMultiLogger().Log(Event{Timestamp: time.Now()})
}

func TestFileLoggerAfterClose(t *testing.T) {
	path := createTestTrace(t, nil)

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}

	// Ignored, not a panic.
	logger.Log(Event{Timestamp: time.Now()})
}
