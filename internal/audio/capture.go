// Package audio provides microphone capture and PCM conversion for the
// transcription engines.
package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Capture produces frames of float32 mono samples from an input device.
// Exactly one capture may own the device at a time; Close releases it.
type Capture interface {
	Start() error
	Frames() <-chan []float32
	SampleRate() int
	Stop() error
	Close() error
}

// MicCapture reads from the default input device via portaudio.
type MicCapture struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	buffer     []float32
	frames     chan []float32
	sampleRate int
	running    bool
	done       chan struct{}
}

// NewMicCapture initializes the audio host and prepares a capture at the
// given rate. ProbeInput should be called first so a missing microphone
// surfaces as a descriptive error rather than a stream-open failure.
func NewMicCapture(sampleRate, framesPerBuffer int) (*MicCapture, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize audio host: %w", err)
	}
	return &MicCapture{
		buffer:     make([]float32, framesPerBuffer),
		sampleRate: sampleRate,
	}, nil
}

func (c *MicCapture) SampleRate() int { return c.sampleRate }

func (c *MicCapture) Frames() <-chan []float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

func (c *MicCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}

	c.frames = make(chan []float32, 32)
	c.done = make(chan struct{})

	stream, err := portaudio.OpenDefaultStream(
		1, 0, float64(c.sampleRate), len(c.buffer), c.buffer)
	if err != nil {
		return fmt.Errorf("open input stream: %w", err)
	}
	c.stream = stream
	c.running = true

	if err := stream.Start(); err != nil {
		c.stream.Close()
		c.stream = nil
		c.running = false
		return fmt.Errorf("start input stream: %w", err)
	}

	go c.readLoop()
	return nil
}

func (c *MicCapture) readLoop() {
	defer close(c.done)
	for {
		c.mu.Lock()
		running := c.running
		stream := c.stream
		frames := c.frames
		c.mu.Unlock()
		if !running || stream == nil {
			return
		}

		if err := stream.Read(); err != nil {
			time.Sleep(10 * time.Millisecond)
			continue
		}

		out := make([]float32, len(c.buffer))
		copy(out, c.buffer)
		select {
		case frames <- out:
		default:
			// Consumer is behind; drop the frame rather than block capture.
		}
	}
}

// Stop halts the stream but keeps the device handle for a later Start.
func (c *MicCapture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stream := c.stream
	c.stream = nil
	frames := c.frames
	c.frames = nil
	done := c.done
	c.mu.Unlock()

	var err error
	if stream != nil {
		err = stream.Stop()
		if cerr := stream.Close(); err == nil {
			err = cerr
		}
	}
	<-done
	if frames != nil {
		close(frames)
	}
	return err
}

// Close releases the audio host. The capture cannot be restarted after.
func (c *MicCapture) Close() error {
	stopErr := c.Stop()
	termErr := portaudio.Terminate()
	if stopErr != nil {
		return stopErr
	}
	return termErr
}

// ProbeInput enumerates input devices and fails when none are present.
// This is the permission/hardware check performed before the first start.
func ProbeInput() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize audio host: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return fmt.Errorf("enumerate audio devices: %w", err)
	}
	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			return nil
		}
	}
	return errors.New("no audio input devices present: connect a microphone and grant access")
}
