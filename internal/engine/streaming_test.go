package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/salestalk-labs/salestalk-core/internal/audio"
	"github.com/salestalk-labs/salestalk-core/internal/config"
)

type fakeConn struct {
	mu       sync.Mutex
	incoming chan []byte
	written  [][]byte
	closed   bool
	done     chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 16), done: make(chan struct{})}
}

func (f *fakeConn) Write(_ context.Context, _ websocket.MessageType, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf := make([]byte, len(p))
	copy(buf, p)
	f.written = append(f.written, buf)
	return nil
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	case <-f.done:
		return 0, nil, errors.New("use of closed network connection")
	case data, ok := <-f.incoming:
		if !ok {
			return 0, nil, context.Canceled
		}
		return websocket.MessageText, data, nil
	}
}

func (f *fakeConn) Close(websocket.StatusCode, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.done)
	}
	return nil
}

type fakeCapture struct {
	frames chan []float32
	rate   int
}

func newFakeCapture(rate int) *fakeCapture {
	return &fakeCapture{frames: make(chan []float32, 16), rate: rate}
}

func (f *fakeCapture) Start() error             { return nil }
func (f *fakeCapture) Frames() <-chan []float32 { return f.frames }
func (f *fakeCapture) SampleRate() int          { return f.rate }
func (f *fakeCapture) Stop() error              { return nil }
func (f *fakeCapture) Close() error             { return nil }

type eventLog struct {
	mu       sync.Mutex
	interims []string
	finals   []string
	errors   []ErrorKind
	ended    int
}

func (l *eventLog) events() Events {
	return Events{
		OnInterim: func(text string) {
			l.mu.Lock()
			l.interims = append(l.interims, text)
			l.mu.Unlock()
		},
		OnFinal: func(text string, _ *float64) {
			l.mu.Lock()
			l.finals = append(l.finals, text)
			l.mu.Unlock()
		},
		OnError: func(kind ErrorKind, _ string) {
			l.mu.Lock()
			l.errors = append(l.errors, kind)
			l.mu.Unlock()
		},
		OnEnded: func() {
			l.mu.Lock()
			l.ended++
			l.mu.Unlock()
		},
	}
}

func newStreamingForTest(t *testing.T, log *eventLog) (*StreamingEngine, *fakeConn, *fakeCapture) {
	t.Helper()
	conn := newFakeConn()
	capture := newFakeCapture(48000)
	eng := NewStreaming(
		config.EngineConfig{Mode: "streaming", SocketURL: "wss://example.test/ws", Language: "es-ES"},
		config.AudioConfig{SampleRate: 48000, Channels: 1, FramesPerBuffer: 4},
		log.events(),
	)
	eng.dial = func(context.Context, string) (streamConn, error) { return conn, nil }
	eng.newCapture = func() (audio.Capture, error) { return capture, nil }
	return eng, conn, capture
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestStreamingDispatchesControlFrames(t *testing.T) {
	log := &eventLog{}
	eng, conn, _ := newStreamingForTest(t, log)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	conn.incoming <- []byte(`{"type":"partial","text":"vende dos"}`)
	conn.incoming <- []byte(`not json at all`)
	conn.incoming <- []byte(`{"type":"mystery","text":"x"}`)
	conn.incoming <- []byte(`{"type":"final","text":"vende dos coca colas"}`)
	conn.incoming <- []byte(`{"type":"error","error":"upstream overloaded"}`)

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return len(log.finals) == 1 && len(log.errors) == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.interims) != 1 || log.interims[0] != "vende dos" {
		t.Fatalf("interims = %v", log.interims)
	}
	if log.finals[0] != "vende dos coca colas" {
		t.Fatalf("finals = %v", log.finals)
	}
	if log.errors[0] != KindService {
		t.Fatalf("error kind = %v, want %v", log.errors[0], KindService)
	}
}

func TestStreamingSendsDecimatedBinaryFrames(t *testing.T) {
	log := &eventLog{}
	eng, conn, capture := newStreamingForTest(t, log)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()

	capture.frames <- []float32{0.1, 0.2, 0.3, 0.1, 0.2, 0.3} // 6 samples at 48k -> 2 at 16k

	waitFor(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return len(conn.written) == 1
	})

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if got, want := len(conn.written[0]), 4; got != want {
		t.Fatalf("frame size = %d bytes, want %d", got, want)
	}
}

func TestStreamingStopClosesSocketAndIsIdempotent(t *testing.T) {
	log := &eventLog{}
	eng, conn, _ := newStreamingForTest(t, log)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.Stop()
	eng.Stop()

	conn.mu.Lock()
	closed := conn.closed
	conn.mu.Unlock()
	if !closed {
		t.Fatal("expected socket closed on stop")
	}

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.ended == 1
	})
}

func TestStreamingStopNeverSurfacesAsNetworkError(t *testing.T) {
	log := &eventLog{}
	eng, _, _ := newStreamingForTest(t, log)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	eng.Stop()

	waitFor(t, func() bool {
		log.mu.Lock()
		defer log.mu.Unlock()
		return log.ended == 1
	})

	log.mu.Lock()
	defer log.mu.Unlock()
	if len(log.errors) != 0 {
		t.Fatalf("self-initiated stop must not emit errors, got %v", log.errors)
	}
}

func TestStreamingDoubleStartIsNoop(t *testing.T) {
	log := &eventLog{}
	eng, _, _ := newStreamingForTest(t, log)

	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer eng.Stop()
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
}

func TestParseControlRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data string
		ok   bool
	}{
		{"partial", `{"type":"partial","text":"a"}`, true},
		{"final", `{"type":"final","text":"b"}`, true},
		{"error", `{"type":"error","error":"c"}`, true},
		{"unknown type", `{"type":"status"}`, false},
		{"not json", `binary garbage`, false},
		{"empty", ``, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, ok := parseControl([]byte(tc.data)); ok != tc.ok {
				t.Fatalf("parseControl(%q) ok = %v, want %v", tc.data, ok, tc.ok)
			}
		})
	}
}
