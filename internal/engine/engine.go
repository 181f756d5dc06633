// Package engine normalizes the live-transcription backends behind one
// interface. Two variants exist: a local recognizer running against the
// captured microphone stream, and a streaming socket that ships raw PCM to
// a remote transcription service.
package engine

import "context"

// ErrorKind classifies engine failures so the session controller can decide
// between silent recovery, retry, and surfacing to the user.
type ErrorKind string

const (
	// KindNoSpeech signals a finalization attempt that heard nothing.
	// Not a real error; the controller restarts silently.
	KindNoSpeech ErrorKind = "no-speech"
	// KindNotAllowed signals a denied or missing input device.
	KindNotAllowed ErrorKind = "not-allowed"
	// KindNetwork signals a transient transport failure.
	KindNetwork ErrorKind = "network"
	// KindAborted signals a stop the controller itself initiated.
	KindAborted ErrorKind = "aborted"
	// KindAudioCapture signals a microphone stream failure after start.
	KindAudioCapture ErrorKind = "audio-capture"
	// KindService signals an error reported by the transcription service.
	KindService ErrorKind = "service"
)

// Events are the effect callbacks an engine delivers. Callbacks are invoked
// in the order the underlying backend emits them and are never coalesced.
// Nil callbacks are allowed and skipped.
type Events struct {
	OnInterim func(text string)
	OnFinal   func(text string, confidence *float64)
	OnError   func(kind ErrorKind, message string)
	OnEnded   func()
}

func (e Events) interim(text string) {
	if e.OnInterim != nil {
		e.OnInterim(text)
	}
}

func (e Events) final(text string, confidence *float64) {
	if e.OnFinal != nil {
		e.OnFinal(text, confidence)
	}
}

func (e Events) errorf(kind ErrorKind, message string) {
	if e.OnError != nil {
		e.OnError(kind, message)
	}
}

func (e Events) ended() {
	if e.OnEnded != nil {
		e.OnEnded()
	}
}

// Engine is the capability contract shared by both transcription variants.
// Implementations deliver results through the Events attached at
// construction. SetLanguage may be called at any time; a stopped engine
// applies it on the next start, a running one as soon as the backend allows.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	SetLanguage(tag string)
	Supported() bool
}
