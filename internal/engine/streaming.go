package engine

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"

	"github.com/coder/websocket"

	"github.com/salestalk-labs/salestalk-core/internal/audio"
	"github.com/salestalk-labs/salestalk-core/internal/config"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
)

const streamTargetRate = 16000

// streamConn is the slice of *websocket.Conn the engine needs; tests inject
// a scripted implementation.
type streamConn interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Close(code websocket.StatusCode, reason string) error
}

// StreamingEngine ships raw PCM to a remote transcription socket and maps
// its JSON control frames back onto the engine callbacks. Captured audio is
// decimated to 16kHz mono s16le before transmission.
type StreamingEngine struct {
	cfg      config.EngineConfig
	audioCfg config.AudioConfig
	events   Events

	dial       func(ctx context.Context, socketURL string) (streamConn, error)
	newCapture func() (audio.Capture, error)

	mu       sync.Mutex
	language string
	running  bool
	cancel   context.CancelFunc
	conn     streamConn
	capture  audio.Capture
	wg       sync.WaitGroup
}

func NewStreaming(cfg config.EngineConfig, audioCfg config.AudioConfig, events Events) *StreamingEngine {
	return &StreamingEngine{
		cfg:      cfg,
		audioCfg: audioCfg,
		events:   events,
		language: cfg.Language,
		dial: func(ctx context.Context, socketURL string) (streamConn, error) {
			conn, _, err := websocket.Dial(ctx, socketURL, nil)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		newCapture: func() (audio.Capture, error) {
			return audio.NewMicCapture(audioCfg.SampleRate, audioCfg.FramesPerBuffer)
		},
	}
}

// Supported is always true for the streaming variant; availability is only
// known once the socket dial succeeds.
func (e *StreamingEngine) Supported() bool { return true }

func (e *StreamingEngine) SetLanguage(tag string) {
	e.mu.Lock()
	e.language = tag
	e.mu.Unlock()
}

// socketURL appends the session language so the service can configure its
// recognizer before the first audio frame arrives.
func (e *StreamingEngine) socketURL(language string) string {
	u, err := url.Parse(e.cfg.SocketURL)
	if err != nil {
		return e.cfg.SocketURL
	}
	q := u.Query()
	q.Set("language", language)
	u.RawQuery = q.Encode()
	return u.String()
}

func (e *StreamingEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	language := e.language
	e.mu.Unlock()

	conn, err := e.dial(ctx, e.socketURL(language))
	if err != nil {
		return err
	}
	capture, err := e.newCapture()
	if err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "capture unavailable")
		return err
	}
	if err := capture.Start(); err != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "capture failed")
		_ = capture.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)

	e.mu.Lock()
	e.running = true
	e.cancel = cancel
	e.conn = conn
	e.capture = capture
	e.mu.Unlock()

	e.wg.Add(2)
	go e.writeLoop(runCtx, conn, capture)
	go e.readLoop(runCtx, conn)
	return nil
}

// writeLoop forwards captured frames as binary PCM messages.
func (e *StreamingEngine) writeLoop(ctx context.Context, conn streamConn, capture audio.Capture) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-capture.Frames():
			if !ok {
				return
			}
			pcm := audio.DownsamplePCM16(frame, capture.SampleRate(), streamTargetRate)
			if len(pcm) == 0 {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageBinary, pcm); err != nil {
				if ctx.Err() == nil {
					e.events.errorf(KindNetwork, "transcription socket write failed: "+err.Error())
				}
				return
			}
		}
	}
}

// readLoop dispatches server control frames. Malformed frames are silently
// ignored.
func (e *StreamingEngine) readLoop(ctx context.Context, conn streamConn) {
	defer e.wg.Done()
	defer e.events.ended()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.events.errorf(KindNetwork, "transcription socket closed: "+err.Error())
			}
			return
		}
		ctrl, ok := parseControl(data)
		if !ok {
			continue
		}
		switch ctrl.Type {
		case protocol.ControlPartial:
			e.events.interim(ctrl.Text)
		case protocol.ControlFinal:
			e.events.final(ctrl.Text, nil)
		case protocol.ControlError:
			e.events.errorf(KindService, ctrl.Error)
		}
	}
}

// parseControl decodes a server frame. Returns false for frames that should
// be dropped: invalid JSON or an unknown type.
func parseControl(data []byte) (protocol.StreamControl, bool) {
	var ctrl protocol.StreamControl
	if err := json.Unmarshal(data, &ctrl); err != nil {
		return protocol.StreamControl{}, false
	}
	switch ctrl.Type {
	case protocol.ControlPartial, protocol.ControlFinal, protocol.ControlError:
		return ctrl, true
	default:
		return protocol.StreamControl{}, false
	}
}

// Stop tears down in fixed order: run context, socket, capture stream,
// audio host. The context must be cancelled before the socket closes so a
// close error observed by the loops reads as a self-initiated stop, never
// as a network failure. Each step swallows its own error so teardown always
// completes.
func (e *StreamingEngine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	conn := e.conn
	capture := e.capture
	e.cancel = nil
	e.conn = nil
	e.capture = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "session stopped")
	}
	e.wg.Wait()
	if capture != nil {
		_ = capture.Stop()
		_ = capture.Close()
	}
}
