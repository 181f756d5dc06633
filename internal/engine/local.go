package engine

import (
	"context"
	"math"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/audio"
	"github.com/salestalk-labs/salestalk-core/internal/config"
)

// Silence this long after voiced audio finalizes the buffered utterance.
const silenceHold = 900 * time.Millisecond

// voiceThreshold is the RMS level above which a frame counts as speech.
const voiceThreshold = 0.01

// LocalEngine runs continuous recognition in-process: it buffers microphone
// frames, emits interim hypotheses on a fixed cadence, and finalizes an
// utterance once the speaker pauses. The recognizer is recreated on every
// start so a language change made while stopped is applied before the next
// session.
type LocalEngine struct {
	cfg      config.EngineConfig
	audioCfg config.AudioConfig
	events   Events

	newRecognizer func(config.EngineConfig, string) (Recognizer, error)
	newCapture    func() (audio.Capture, error)

	mu       sync.Mutex
	language string
	running  bool
	cancel   context.CancelFunc
	capture  audio.Capture
	wg       sync.WaitGroup
}

func NewLocal(cfg config.EngineConfig, audioCfg config.AudioConfig, events Events) *LocalEngine {
	return &LocalEngine{
		cfg:           cfg,
		audioCfg:      audioCfg,
		events:        events,
		language:      cfg.Language,
		newRecognizer: NewExecRecognizer,
		newCapture: func() (audio.Capture, error) {
			return audio.NewMicCapture(audioCfg.SampleRate, audioCfg.FramesPerBuffer)
		},
	}
}

// Supported reports whether the recognizer command resolves on this host.
func (e *LocalEngine) Supported() bool {
	fields := strings.Fields(e.cfg.Command)
	if len(fields) == 0 {
		return false
	}
	_, err := exec.LookPath(fields[0])
	return err == nil
}

func (e *LocalEngine) SetLanguage(tag string) {
	e.mu.Lock()
	e.language = tag
	e.mu.Unlock()
}

func (e *LocalEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	language := e.language
	e.mu.Unlock()

	recognizer, err := e.newRecognizer(e.cfg, language)
	if err != nil {
		return err
	}
	capture, err := e.newCapture()
	if err != nil {
		return err
	}
	if err := capture.Start(); err != nil {
		_ = capture.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.capture = capture
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(runCtx, recognizer, capture)
	return nil
}

func (e *LocalEngine) run(ctx context.Context, recognizer Recognizer, capture audio.Capture) {
	defer e.wg.Done()
	defer e.events.ended()

	interval := time.Duration(e.cfg.ChunkEveryMS) * time.Millisecond
	if interval <= 0 {
		interval = 800 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var buffer []float32
	var voiced bool
	lastVoice := time.Now()
	rate := capture.SampleRate()

	finalize := func() {
		if len(buffer) == 0 {
			voiced = false
			return
		}
		pcm := audio.DownsamplePCM16(buffer, rate, rate)
		buffer = nil
		voiced = false

		result, err := recognizer.Transcribe(ctx, pcm, rate, 1, true)
		if err != nil {
			if ctx.Err() == nil {
				e.events.errorf(KindService, err.Error())
			}
			return
		}
		if strings.TrimSpace(result.Text) == "" {
			e.events.errorf(KindNoSpeech, "no speech detected")
			return
		}
		conf := result.Confidence
		e.events.final(result.Text, &conf)
	}

	for {
		select {
		case <-ctx.Done():
			if voiced {
				finalize()
			}
			return

		case frame, ok := <-capture.Frames():
			if !ok {
				e.events.errorf(KindAudioCapture, "microphone stream ended unexpectedly")
				return
			}
			buffer = append(buffer, frame...)
			if rms(frame) >= voiceThreshold {
				voiced = true
				lastVoice = time.Now()
			}

		case <-ticker.C:
			if voiced && time.Since(lastVoice) >= silenceHold {
				finalize()
				continue
			}
			if !e.cfg.PublishInterim || !voiced || len(buffer) == 0 {
				continue
			}
			pcm := audio.DownsamplePCM16(buffer, rate, rate)
			result, err := recognizer.Transcribe(ctx, pcm, rate, 1, false)
			if err != nil || strings.TrimSpace(result.Text) == "" {
				continue
			}
			e.events.interim(result.Text)
		}
	}
}

// Stop tears the engine down: recognition loop first, then the capture
// stream, then the audio host. Individual failures are swallowed so
// teardown always completes.
func (e *LocalEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	capture := e.capture
	e.cancel = nil
	e.capture = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	if capture != nil {
		_ = capture.Stop()
		_ = capture.Close()
	}
}

func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(frame)))
}
