// Package transcript accumulates interim and finalized recognizer output
// for one capture session.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// State holds the live transcript of a capture session. Interim text is
// overwritten on every update; final text is append-only until Clear.
type State struct {
	mu           sync.RWMutex
	interim      string
	final        []string
	confidence   *float64
	lastActivity time.Time
	clock        func() time.Time
}

func NewState() *State {
	return &State{clock: time.Now}
}

// SetInterim replaces the current interim hypothesis.
func (s *State) SetInterim(text string) {
	s.mu.Lock()
	s.interim = text
	s.lastActivity = s.clock()
	s.mu.Unlock()
}

// AppendFinal commits a finalized utterance. confidence may be nil when the
// engine does not report one.
func (s *State) AppendFinal(text string, confidence *float64) {
	if strings.TrimSpace(text) == "" {
		return
	}
	s.mu.Lock()
	s.final = append(s.final, text)
	s.interim = ""
	s.confidence = confidence
	s.lastActivity = s.clock()
	s.mu.Unlock()
}

// Interim returns the latest non-final hypothesis.
func (s *State) Interim() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interim
}

// Final returns the space-joined finalized utterances in arrival order.
func (s *State) Final() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return strings.Join(s.final, " ")
}

// Confidence reports the engine confidence of the most recent finalized
// utterance, or nil when unavailable.
func (s *State) Confidence() *float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confidence
}

// LastActivity is the time of the most recent interim or final update.
// Zero until the first update.
func (s *State) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// Clear resets the transcript to its initial empty state. Idempotent.
func (s *State) Clear() {
	s.mu.Lock()
	s.interim = ""
	s.final = nil
	s.confidence = nil
	s.mu.Unlock()
}
