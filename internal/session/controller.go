// Package session owns the lifecycle of one voice capture session: start and
// stop, the idle watchdog, error classification, network backoff, and
// transcript aggregation. Engine callbacks are classified here and always
// resolve to an observable state or notice; they never escape as panics or
// unhandled errors.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/audio"
	"github.com/salestalk-labs/salestalk-core/internal/config"
	"github.com/salestalk-labs/salestalk-core/internal/engine"
	"github.com/salestalk-labs/salestalk-core/internal/transcript"
)

// State is the controller's lifecycle position.
type State int

const (
	StateIdle State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// NoticeLevel distinguishes advisory notices from actionable errors.
type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

// Notice is a human-readable message surfaced to the operator. Transient
// conditions (silence, watchdog refreshes, internal restart aborts) never
// produce one.
type Notice struct {
	Level   NoticeLevel
	Message string
}

const (
	msgPermission  = "microphone unavailable or permission denied"
	msgOffline     = "no network connection; voice capture stopped"
	msgPersistent  = "speech service unreachable after repeated retries"
	msgUnsupported = "speech recognition is not available on this device"
)

// restart reasons recorded for the watchdog paths.
const (
	restartIdle       = "idle"
	restartPreventive = "preventive"
	restartBackoff    = "backoff"
	restartSilence    = "silence"
	restartEnded      = "ended"
)

// EngineFactory builds the transcription engine wired to the controller's
// callbacks. Called once, on construction.
type EngineFactory func(engine.Events) engine.Engine

// Hooks are the controller's outward effects. Nil hooks are skipped.
type Hooks struct {
	OnState   func(State)
	OnInterim func(text string)
	OnFinal   func(text string, confidence *float64)
	OnNotice  func(Notice)
}

// Controller drives one recognition session. One controller owns one engine
// instance and, transitively, the audio input device; callers must stop a
// controller before starting another against the same hardware.
type Controller struct {
	cfg    config.SessionConfig
	logger *slog.Logger
	hooks  Hooks

	ctx   context.Context
	eng   engine.Engine
	ts    *transcript.State
	sched Scheduler
	clock func() time.Time
	probe func() error
	// online reports connectivity for the network-error short circuit.
	// Nil means unknown, which is treated as online.
	online func() bool

	mu           sync.Mutex
	state        State
	userStopped  bool
	restarting   bool
	retries      int
	lastActivity time.Time
	lastRestart  string
	watchdog     handle
	backoff      handle
	restart      handle
}

// New wires a controller around the engine the factory produces. The context
// bounds every engine start the controller performs, including restarts.
func New(ctx context.Context, cfg config.SessionConfig, build EngineFactory, hooks Hooks, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "session")),
		hooks:  hooks,
		ctx:    ctx,
		ts:     transcript.NewState(),
		sched:  NewWallScheduler(),
		clock:  time.Now,
		probe:  audio.ProbeInput,
	}
	c.eng = build(engine.Events{
		OnInterim: c.handleInterim,
		OnFinal:   c.handleFinal,
		OnError:   c.handleError,
		OnEnded:   c.handleEnded,
	})
	return c
}

// Transcript exposes the session's accumulated transcript.
func (c *Controller) Transcript() *transcript.State { return c.ts }

// Healthy reports whether the session is actively listening.
func (c *Controller) Healthy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateListening
}

// SetLanguage forwards the language to the engine. A listening session is
// not interrupted; the engine applies the tag when its backend allows.
func (c *Controller) SetLanguage(tag string) { c.eng.SetLanguage(tag) }

// Start brings the session up. Idempotent: a session already starting or
// listening is left alone. Engine availability and the input device are
// checked before the first engine start so a missing capability or
// microphone fails with a descriptive error instead of a mid-session
// capture failure.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.state == StateStarting || c.state == StateListening {
		c.mu.Unlock()
		return nil
	}
	c.userStopped = false
	c.retries = 0
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	if !c.eng.Supported() {
		c.logger.Warn("transcription engine not available on this host")
		c.notify(Notice{Level: NoticeError, Message: msgUnsupported})
		c.mu.Lock()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return errors.New(msgUnsupported)
	}

	if err := c.probe(); err != nil {
		c.logger.Warn("microphone probe failed", slogError(err))
		c.notify(Notice{Level: NoticeError, Message: msgPermission})
		c.mu.Lock()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return fmt.Errorf("probe input: %w", err)
	}

	if err := c.eng.Start(c.ctx); err != nil {
		c.logger.Warn("engine start failed", slogError(err))
		c.notify(Notice{Level: NoticeError, Message: err.Error()})
		c.mu.Lock()
		c.setStateLocked(StateIdle)
		c.mu.Unlock()
		return fmt.Errorf("start engine: %w", err)
	}

	c.mu.Lock()
	c.setStateLocked(StateListening)
	c.lastActivity = c.clock()
	c.armWatchdogLocked()
	c.mu.Unlock()
	return nil
}

// Stop tears the session down. The stop is user-initiated: every pending
// timer is cancelled synchronously before the engine is released, so no
// late callback can resurrect a stopped session.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.userStopped = true
	c.watchdog.cancel()
	c.backoff.cancel()
	c.restart.cancel()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.eng.Stop()

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
}

func (c *Controller) handleInterim(text string) {
	c.mu.Lock()
	c.lastActivity = c.clock()
	c.retries = 0
	c.mu.Unlock()
	c.ts.SetInterim(text)
	if c.hooks.OnInterim != nil {
		c.hooks.OnInterim(text)
	}
}

func (c *Controller) handleFinal(text string, confidence *float64) {
	c.mu.Lock()
	c.lastActivity = c.clock()
	c.retries = 0
	c.mu.Unlock()
	c.ts.AppendFinal(text, confidence)
	if c.hooks.OnFinal != nil {
		c.hooks.OnFinal(text, confidence)
	}
}

func (c *Controller) handleError(kind engine.ErrorKind, message string) {
	switch kind {
	case engine.KindNoSpeech:
		// Silence is expected, not an error.
		c.mu.Lock()
		if c.userStopped || !c.cfg.AutoRestart {
			c.mu.Unlock()
			return
		}
		c.scheduleRestartLocked(restartSilence)
		c.mu.Unlock()

	case engine.KindAborted:
		// Our own keep-alive refresh aborts the engine; never surfaced.
		c.logger.Debug("engine aborted", slog.String("message", message))

	case engine.KindNotAllowed:
		c.logger.Warn("microphone permission denied", slog.String("message", message))
		c.notify(Notice{Level: NoticeError, Message: msgPermission})
		// Stop waits for the engine goroutine delivering this callback,
		// so teardown must run off it.
		go c.shutdown()

	case engine.KindNetwork:
		c.handleNetworkError(message)

	default:
		c.logger.Warn("engine error",
			slog.String("kind", string(kind)),
			slog.String("message", message))
		c.notify(Notice{Level: NoticeError, Message: message})
		go c.shutdown()
	}
}

// handleNetworkError retries with exponential backoff: 1s, 2s, 4s, 8s.
// Retries are skipped entirely when the host is known to be offline, and a
// persistent-failure notice replaces them once the attempt budget is spent.
// Errors raised while the controller is tearing the engine down for its own
// refresh are a by-product of that teardown and never count against the
// budget.
func (c *Controller) handleNetworkError(message string) {
	c.mu.Lock()
	if c.restarting {
		c.mu.Unlock()
		c.logger.Debug("network error during refresh", slog.String("message", message))
		return
	}
	c.mu.Unlock()

	if c.online != nil && !c.online() {
		c.logger.Warn("network error while offline", slog.String("message", message))
		c.notify(Notice{Level: NoticeError, Message: msgOffline})
		go c.shutdown()
		return
	}

	c.mu.Lock()
	if c.userStopped {
		c.mu.Unlock()
		return
	}
	c.retries++
	if c.retries > c.cfg.MaxNetworkRetries {
		c.mu.Unlock()
		c.logger.Warn("network retries exhausted", slog.String("message", message))
		c.notify(Notice{Level: NoticeError, Message: msgPersistent})
		go c.shutdown()
		return
	}
	delay := time.Second << (c.retries - 1)
	c.logger.Info("scheduling network retry",
		slog.Int("attempt", c.retries),
		slog.Duration("delay", delay))
	c.lastRestart = restartBackoff
	c.watchdog.cancel()
	c.restart.cancel()
	c.backoff.arm(c.sched, delay, c.attemptRestart)
	c.mu.Unlock()
}

func (c *Controller) handleEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userStopped || c.restarting || c.state != StateListening {
		return
	}
	if c.backoff.armed() || c.restart.armed() {
		return
	}
	if !c.cfg.AutoRestart {
		c.setStateLocked(StateIdle)
		return
	}
	c.scheduleRestartLocked(restartEnded)
}

// onWatchdog fires every watchdog period while listening. A session with no
// recent activity gets an immediate soft restart; an active one still gets a
// protective stop-and-resume so the backend's own internal timeout never
// trips mid-utterance.
func (c *Controller) onWatchdog() {
	c.mu.Lock()
	if c.userStopped || c.state != StateListening {
		c.mu.Unlock()
		return
	}
	idle := c.clock().Sub(c.lastActivity)
	reason := restartPreventive
	if idle >= time.Duration(c.cfg.IdleThresholdMS)*time.Millisecond {
		reason = restartIdle
	}
	c.logger.Debug("watchdog fired",
		slog.Duration("idle", idle),
		slog.String("restart", reason))
	c.restarting = true
	c.mu.Unlock()

	c.eng.Stop()

	c.mu.Lock()
	c.restarting = false
	if !c.userStopped {
		c.scheduleRestartLocked(reason)
	}
	c.mu.Unlock()
}

// scheduleRestartLocked arms the soft-restart timer with the settle delay,
// replacing any previously scheduled restart. Mutually exclusive with the
// backoff timer. Caller holds c.mu.
func (c *Controller) scheduleRestartLocked(reason string) {
	c.lastRestart = reason
	c.setStateLocked(StateStarting)
	c.watchdog.cancel()
	c.backoff.cancel()
	settle := time.Duration(c.cfg.RestartSettleMS) * time.Millisecond
	c.restart.arm(c.sched, settle, c.attemptRestart)
}

// attemptRestart runs when a settle or backoff timer fires.
func (c *Controller) attemptRestart() {
	c.mu.Lock()
	if c.userStopped {
		c.mu.Unlock()
		return
	}
	// The firing timer is spent; drop both handles so armed() stays honest.
	c.restart.cancel()
	c.backoff.cancel()
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	if err := c.eng.Start(c.ctx); err != nil {
		c.logger.Warn("engine restart failed", slogError(err))
		c.handleNetworkError(err.Error())
		return
	}

	c.mu.Lock()
	c.setStateLocked(StateListening)
	c.lastActivity = c.clock()
	c.armWatchdogLocked()
	c.mu.Unlock()
}

// armWatchdogLocked schedules the next watchdog tick, cancelling any pending
// backoff. Caller holds c.mu.
func (c *Controller) armWatchdogLocked() {
	c.backoff.cancel()
	period := time.Duration(c.cfg.WatchdogPeriodMS) * time.Millisecond
	c.watchdog.arm(c.sched, period, c.onWatchdog)
}

// shutdown stops the session without auto-restart, for fatal conditions.
func (c *Controller) shutdown() {
	c.mu.Lock()
	c.watchdog.cancel()
	c.backoff.cancel()
	c.restart.cancel()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.userStopped = true
	c.setStateLocked(StateStopping)
	c.mu.Unlock()

	c.eng.Stop()

	c.mu.Lock()
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.state = next
	if c.hooks.OnState != nil {
		go c.hooks.OnState(next)
	}
}

func (c *Controller) notify(n Notice) {
	if c.hooks.OnNotice != nil {
		c.hooks.OnNotice(n)
	}
}

func slogError(err error) slog.Attr {
	return slog.Any("error", err)
}
