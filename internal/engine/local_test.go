package engine

import (
	"context"
	"testing"

	"github.com/salestalk-labs/salestalk-core/internal/audio"
	"github.com/salestalk-labs/salestalk-core/internal/config"
)

type scriptedRecognizer struct {
	result Result
	err    error
}

func (r *scriptedRecognizer) Transcribe(context.Context, []byte, int, int, bool) (Result, error) {
	return r.result, r.err
}

func newLocalForTest(log *eventLog, rec Recognizer) (*LocalEngine, *fakeCapture) {
	capture := newFakeCapture(16000)
	eng := NewLocal(
		config.EngineConfig{Mode: "local", Command: "recognize", Language: "es-ES", ChunkEveryMS: 20},
		config.AudioConfig{SampleRate: 16000, Channels: 1, FramesPerBuffer: 4},
		log.events(),
	)
	eng.newRecognizer = func(config.EngineConfig, string) (Recognizer, error) { return rec, nil }
	eng.newCapture = func() (audio.Capture, error) { return capture, nil }
	return eng, capture
}

func voicedFrame(n int) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = 0.5
	}
	return frame
}

func TestLocalFinalizesAfterSilence(t *testing.T) {
	log := &eventLog{}
	eng, capture := newLocalForTest(log, &scriptedRecognizer{result: Result{Text: "vende dos coca colas", Confidence: 0.93}})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	capture.frames <- voicedFrame(64)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.finals) == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.finals[0] != "vende dos coca colas" {
		t.Fatalf("final = %q", log.finals[0])
	}
}

func TestLocalEmptyResultReportsNoSpeech(t *testing.T) {
	log := &eventLog{}
	eng, capture := newLocalForTest(log, &scriptedRecognizer{result: Result{Text: "   "}})

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	capture.frames <- voicedFrame(64)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.errors) == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.errors[0] != KindNoSpeech {
		t.Fatalf("error kind = %v, want %v", log.errors[0], KindNoSpeech)
	}
	if len(log.finals) != 0 {
		t.Fatalf("unexpected finals: %v", log.finals)
	}
}

func TestLocalLanguageChangeAppliesOnNextStart(t *testing.T) {
	log := &eventLog{}
	var seen []string
	eng, _ := newLocalForTest(log, &scriptedRecognizer{})
	eng.newRecognizer = func(_ config.EngineConfig, language string) (Recognizer, error) {
		seen = append(seen, language)
		return &scriptedRecognizer{}, nil
	}

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.Stop()

	eng.SetLanguage("es-PE")
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	eng.Stop()

	if len(seen) != 2 || seen[0] != "es-ES" || seen[1] != "es-PE" {
		t.Fatalf("recognizer languages = %v", seen)
	}
}

func TestLocalSupportedRequiresCommand(t *testing.T) {
	log := &eventLog{}
	eng := NewLocal(config.EngineConfig{Mode: "local", Command: ""}, config.AudioConfig{}, log.events())
	if eng.Supported() {
		t.Fatal("empty command should not be supported")
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Fatalf("rms(nil) = %v", got)
	}
	if got := rms([]float32{0.5, 0.5}); got < 0.49 || got > 0.51 {
		t.Fatalf("rms = %v", got)
	}
}
