// Package runtime composes the daemon: telemetry, the message bus, the
// capture session, the sale machine, and the HTTP control surface.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/salestalk-labs/salestalk-core/internal/api"
	"github.com/salestalk-labs/salestalk-core/internal/auth"
	"github.com/salestalk-labs/salestalk-core/internal/bus"
	"github.com/salestalk-labs/salestalk-core/internal/config"
	"github.com/salestalk-labs/salestalk-core/internal/engine"
	"github.com/salestalk-labs/salestalk-core/internal/eventstore"
	"github.com/salestalk-labs/salestalk-core/internal/natsserver"
	"github.com/salestalk-labs/salestalk-core/internal/nlp"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
	"github.com/salestalk-labs/salestalk-core/internal/sale"
	"github.com/salestalk-labs/salestalk-core/internal/salebus"
	"github.com/salestalk-labs/salestalk-core/internal/salesview"
	"github.com/salestalk-labs/salestalk-core/internal/session"
	"github.com/salestalk-labs/salestalk-core/internal/speak"
)

const salesRefreshDebounce = 300 * time.Millisecond

type Runtime struct {
	cfg    config.Config
	logger *slog.Logger

	httpServer     *http.Server
	telemetryClose func(context.Context) error
	embedded       *natsserver.EmbeddedServer
	busClient      *bus.Client
	store          *eventstore.Store
	apiClient      *api.Client
	nlpClient      *nlp.Client
	notifier       *salebus.Notifier
	view           *salesview.View
	controller     *session.Controller
	machine        *sale.Machine
	unbridge       func()
	login          *auth.LoginClient
	memTokens      *auth.MemoryStore

	mu        sync.Mutex
	captureID string

	capturesStarted metric.Int64Counter
	transcriptsDone metric.Int64Counter
	salesConfirmed  metric.Int64Counter

	ready atomic.Bool
	wg    sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetryClose = shutdownTelemetry

	meter := otel.Meter("salestalk-core/runtime")
	if r.capturesStarted, err = meter.Int64Counter("captures_started_total"); err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}
	if r.transcriptsDone, err = meter.Int64Counter("transcripts_final_total"); err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}
	if r.salesConfirmed, err = meter.Int64Counter("sales_confirmed_total"); err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}

	r.embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	r.busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
	if err != nil {
		r.logger.Warn("bus unavailable; sale events stay in-process", slogError(err))
		r.busClient = nil
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}

	tokens := r.tokenSource()
	r.login = auth.NewLoginClient(r.cfg.API.BaseURL)
	r.apiClient = api.NewClient(r.cfg.API, tokens, r.logger)
	r.nlpClient = nlp.NewClient(r.cfg.NLP, tokens, r.logger)

	r.notifier = salebus.NewNotifier()
	r.notifier.Subscribe(func(s protocol.SaleCreated) {
		r.salesConfirmed.Add(ctx, 1)
		payload, err := json.Marshal(s)
		if err != nil {
			return
		}
		r.recordEvent(ctx, eventstore.EventSaleConfirmed, payload)
	})
	if r.busClient != nil {
		r.unbridge = salebus.Bridge(r.notifier, r.busClient, r.logger)
	}
	r.view = salesview.New(r.apiClient, r.notifier, salesRefreshDebounce, r.logger)

	speaker, err := r.buildSpeaker()
	if err != nil {
		return fmt.Errorf("failed to build speaker: %w", err)
	}
	r.machine = sale.NewMachine(r.nlpClient, speaker, r.notifier, r.logger)

	r.controller = session.New(ctx, r.cfg.Session,
		func(ev engine.Events) engine.Engine { return r.buildEngine(ev) },
		session.Hooks{
			OnFinal: func(text string, _ *float64) {
				r.transcriptsDone.Add(ctx, 1)
				r.recordEvent(ctx, eventstore.EventTranscriptFinal, []byte(text))
				if r.busClient != nil {
					if err := r.busClient.Publish(protocol.SubjectTranscriptFinal, []byte(text)); err != nil {
						r.logger.Warn("failed to publish transcript", slogError(err))
					}
				}
			},
			OnNotice: func(n session.Notice) {
				if n.Level == session.NoticeError {
					r.logger.Warn("session notice", slog.String("message", n.Message))
					r.recordEvent(ctx, eventstore.EventSessionError, []byte(n.Message))
					return
				}
				r.logger.Info("session notice", slog.String("message", n.Message))
			},
		},
		r.logger,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	mux.HandleFunc("POST /auth/login", r.handleLogin)
	mux.HandleFunc("POST /auth/logout", r.handleLogout)
	mux.HandleFunc("POST /capture/start", r.handleCaptureStart)
	mux.HandleFunc("POST /capture/stop", r.handleCaptureStop)
	mux.HandleFunc("POST /capture/language", r.handleCaptureLanguage)
	mux.HandleFunc("POST /capture/send", r.handleCaptureSend)
	mux.HandleFunc("POST /sale/select", r.handleSaleSelect)
	mux.HandleFunc("POST /sale/confirm", r.handleSaleConfirm)
	mux.HandleFunc("POST /sale/reset", r.handleSaleReset)
	mux.HandleFunc("GET /state", r.handleState)
	mux.HandleFunc("GET /sales", r.handleSales)
	mux.HandleFunc("DELETE /sales/{id}", r.handleSaleDelete)
	mux.HandleFunc("GET /sales/report", r.handleSalesReport)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slogError(err))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)

	r.controller.Stop()
	r.view.Close()
	if r.unbridge != nil {
		r.unbridge()
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slogError(err))
	}
	r.wg.Wait()

	r.busClient.Close()
	r.embedded.Shutdown()
	if err := r.store.Close(); err != nil {
		r.logger.Error("event store close error", slogError(err))
	}
	if r.telemetryClose != nil {
		if err := r.telemetryClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slogError(err))
		}
	}

	return nil
}

// tokenSource prefers a file-backed token rotated by an external login flow.
// Without one, tokens live in memory and arrive through POST /auth/login.
func (r *Runtime) tokenSource() auth.TokenSource {
	if r.cfg.Auth.TokenFile != "" {
		return &auth.FileStore{Path: r.cfg.Auth.TokenFile}
	}
	r.memTokens = &auth.MemoryStore{}
	return r.memTokens
}

func (r *Runtime) buildEngine(events engine.Events) engine.Engine {
	switch r.cfg.Engine.Mode {
	case "streaming":
		return engine.NewStreaming(r.cfg.Engine, r.cfg.Audio, events)
	case "mock":
		return engine.NewMock(events)
	default:
		return engine.NewLocal(r.cfg.Engine, r.cfg.Audio, events)
	}
}

func (r *Runtime) buildSpeaker() (speak.Speaker, error) {
	if !r.cfg.Speak.Enabled {
		return speak.Silent{}, nil
	}
	if r.cfg.Speak.Mode == "exec" {
		return speak.NewExecSpeaker(r.cfg.Speak)
	}
	return &speak.Recorder{}, nil
}

// recordEvent appends to the capture timeline, keyed by the active capture.
// Writes outside a capture are dropped.
func (r *Runtime) recordEvent(ctx context.Context, eventType string, payload []byte) {
	r.mu.Lock()
	captureID := r.captureID
	r.mu.Unlock()
	if captureID == "" {
		return
	}
	if err := r.store.AppendEvent(ctx, eventstore.Event{
		CaptureID: captureID,
		Type:      eventType,
		Payload:   payload,
	}); err != nil {
		r.logger.Warn("failed to record event", slog.String("type", eventType), slogError(err))
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleLogin(w http.ResponseWriter, req *http.Request) {
	if r.memTokens == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("tokens are file-managed; login through the external flow"))
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := r.login.Login(req.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	r.memTokens.Set(sess.AccessToken)
	writeJSON(w, map[string]string{"token_type": sess.TokenType})
}

func (r *Runtime) handleLogout(w http.ResponseWriter, _ *http.Request) {
	if r.memTokens != nil {
		r.memTokens.Clear()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleCaptureStart(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	if r.captureID == "" {
		r.captureID = uuid.NewString()
	}
	captureID := r.captureID
	r.mu.Unlock()

	if err := r.store.BeginCapture(req.Context(), captureID, r.cfg.Engine.Language, r.cfg.Engine.Mode); err != nil {
		r.logger.Warn("failed to record capture", slogError(err))
	}
	if err := r.controller.Start(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	r.capturesStarted.Add(req.Context(), 1)
	writeJSON(w, map[string]any{"capture_id": captureID})
}

func (r *Runtime) handleCaptureStop(w http.ResponseWriter, _ *http.Request) {
	r.controller.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleCaptureLanguage(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !r.languageSupported(body.Language) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("unsupported language %q", body.Language))
		return
	}
	r.controller.SetLanguage(body.Language)
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) languageSupported(tag string) bool {
	for _, lang := range r.cfg.Engine.Languages {
		if strings.EqualFold(lang, tag) {
			return true
		}
	}
	return false
}

// handleCaptureSend interprets the accumulated final transcript. Product
// names from the catalog ride along as candidate hints; a failed catalog
// fetch degrades to no hints rather than blocking the send.
func (r *Runtime) handleCaptureSend(w http.ResponseWriter, req *http.Request) {
	text := strings.TrimSpace(r.controller.Transcript().Final())
	if text == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("no finalized transcript to send"))
		return
	}

	hints, err := r.apiClient.ProductNames(req.Context())
	if err != nil {
		r.logger.Warn("candidate hints unavailable", slogError(err))
		hints = nil
	}

	interp, err := r.machine.Submit(req.Context(), text, hints)
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	if payload, err := json.Marshal(interp); err == nil {
		r.recordEvent(req.Context(), eventstore.EventInterpretation, payload)
	}
	writeJSON(w, map[string]any{
		"phase":      r.machine.Phase().String(),
		"intent":     interp.Intent,
		"confidence": interp.Confidence,
		"selected":   r.machine.Selected(),
		"candidates": r.machine.Candidates(),
		"notes":      interp.Notes,
	})
}

func (r *Runtime) handleSaleSelect(w http.ResponseWriter, req *http.Request) {
	var body struct {
		ProductID string `json:"product_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := r.machine.Select(body.ProductID); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, map[string]any{"phase": r.machine.Phase().String(), "selected": r.machine.Selected()})
}

func (r *Runtime) handleSaleConfirm(w http.ResponseWriter, req *http.Request) {
	created, err := r.machine.Confirm(req.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	writeJSON(w, created)
}

func (r *Runtime) handleSaleReset(w http.ResponseWriter, _ *http.Request) {
	r.machine.Reset()
	r.controller.Transcript().Clear()
	r.mu.Lock()
	r.captureID = ""
	r.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleState(w http.ResponseWriter, _ *http.Request) {
	ts := r.controller.Transcript()
	writeJSON(w, map[string]any{
		"listening":  r.controller.Healthy(),
		"phase":      r.machine.Phase().String(),
		"interim":    ts.Interim(),
		"final":      ts.Final(),
		"confidence": ts.Confidence(),
		"selected":   r.machine.Selected(),
		"last_error": r.machine.LastError(),
	})
}

func (r *Runtime) handleSales(w http.ResponseWriter, req *http.Request) {
	rows := r.view.Rows()
	if len(rows) == 0 {
		if err := r.view.Refresh(req.Context()); err != nil {
			writeError(w, statusForError(err), err)
			return
		}
		rows = r.view.Rows()
	}
	writeJSON(w, rows)
}

func (r *Runtime) handleSaleDelete(w http.ResponseWriter, req *http.Request) {
	if err := r.view.Delete(req.Context(), req.PathValue("id")); err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Runtime) handleSalesReport(w http.ResponseWriter, req *http.Request) {
	report, err := r.apiClient.SalesReport(req.Context())
	if err != nil {
		writeError(w, statusForError(err), err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(report)
}

func statusForError(err error) int {
	var (
		authErr       *nlp.AuthError
		validationErr *nlp.ValidationError
		remoteErr     *nlp.RemoteError
		apiErr        *api.Error
	)
	switch {
	case errors.As(err, &authErr), errors.Is(err, auth.ErrNoToken):
		return http.StatusUnauthorized
	case errors.As(err, &validationErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &remoteErr), errors.As(err, &apiErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": err.Error()})
}

func slogError(err error) slog.Attr {
	return slog.Any("error", err)
}
