package sink

import (
	"context"
	"sync"

	"github.com/ppiankov/sentinel/internal/model"
)

// MemorySink keeps events in memory.
type MemorySink struct {
	name string

	mu     sync.Mutex
	events []model.Event

	failNext int
	failErr  error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink(name string) *MemorySink {
	return &MemorySink{name: name}
}

func (m *MemorySink) Name() string { return m.name }
func (m *MemorySink) Close() error { return nil }

func (m *MemorySink) Write(_ context.Context, ev model.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failNext > 0 {
		m.failNext--
		return m.failErr
	}
	m.events = append(m.events, ev)
	return nil
}

// FailNext makes the next n writes return err.
func (m *MemorySink) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Events returns a copy of everything written so far.
func (m *MemorySink) Events() []model.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Event, len(m.events))
	copy(out, m.events)
	return out
}
