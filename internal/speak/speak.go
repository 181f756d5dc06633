// Package speak voices short advisory prompts: ambiguity warnings and sale
// confirmations. Playback is delegated to an external command so the daemon
// never links an audio output stack.
package speak

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"

	"github.com/salestalk-labs/salestalk-core/internal/config"
)

// Speaker voices one short prompt. Implementations must be safe for
// concurrent use; prompts are serialized internally.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

type execSpeaker struct {
	cmd   []string
	voice string
	mu    sync.Mutex
}

type execRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// NewExecSpeaker parses the configured synthesis command. The command reads
// {"text", "voice"} as JSON on stdin and plays the prompt before exiting.
func NewExecSpeaker(cfg config.SpeakConfig) (Speaker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse speak command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("speak command empty")
	}
	return &execSpeaker{cmd: args, voice: cfg.Voice}, nil
}

func (e *execSpeaker) Say(ctx context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	payload, err := json.Marshal(execRequest{Text: text, Voice: e.voice})
	if err != nil {
		return err
	}
	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start speak command: %w", err)
	}
	if _, err := stdin.Write(payload); err != nil {
		stdin.Close()
		cmd.Wait()
		return err
	}
	stdin.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("speak command failed: %w", err)
	}
	return nil
}

// Silent discards prompts. Used when spoken advisories are disabled.
type Silent struct{}

func (Silent) Say(context.Context, string) error { return nil }

// Recorder captures prompts for assertions in tests.
type Recorder struct {
	mu      sync.Mutex
	prompts []string
}

func (r *Recorder) Say(_ context.Context, text string) error {
	r.mu.Lock()
	r.prompts = append(r.prompts, text)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}
