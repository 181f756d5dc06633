package engine

import (
	"context"
	"sync"
)

// Mock is a hand-driven engine used in tests and in the mock runtime mode.
// Results are injected through the Emit helpers.
type Mock struct {
	events Events

	mu       sync.Mutex
	language string
	running  bool
	starts   int
	stops    int
}

func NewMock(events Events) *Mock {
	return &Mock{events: events}
}

func (m *Mock) Supported() bool { return true }

func (m *Mock) Start(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = true
	m.starts++
	return nil
}

func (m *Mock) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.stops++
}

func (m *Mock) SetLanguage(tag string) {
	m.mu.Lock()
	m.language = tag
	m.mu.Unlock()
}

func (m *Mock) Language() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.language
}

func (m *Mock) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Mock) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

func (m *Mock) EmitInterim(text string) { m.events.interim(text) }

func (m *Mock) EmitFinal(text string, confidence *float64) { m.events.final(text, confidence) }

func (m *Mock) EmitError(kind ErrorKind, message string) { m.events.errorf(kind, message) }

func (m *Mock) EmitEnded() { m.events.ended() }
