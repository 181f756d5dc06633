package engine

import "context"

// Result captures recognizer output for one audio chunk.
type Result struct {
	Text       string
	Confidence float64
}

// Recognizer abstracts the local speech-to-text backend invoked by the
// local engine variant.
type Recognizer interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int, final bool) (Result, error)
}
