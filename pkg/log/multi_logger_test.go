package log

import (
	"sync"
	"testing"
)

type captureLogger struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureLogger) Log(e Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestMultiLoggerFansOut(t *testing.T) {
	a, b := &captureLogger{}, &captureLogger{}
	m := NewMultiLogger(a, nil, b)

	m.Log(Event{ConnectionID: "x"})
	m.Log(Event{ConnectionID: "y"})

	for i, c := range []*captureLogger{a, b} {
		if len(c.events) != 2 {
			t.Fatalf("logger %d: got %d events, want 2", i, len(c.events))
		}
		if c.events[1].ConnectionID != "y" {
			t.Errorf("logger %d: wrong order", i)
		}
	}
}

func TestMultiLoggerEmpty(t *testing.T) {
	NewMultiLogger().Log(Event{})
	NewMultiLogger(nil, nil).Log(Event{})
}
