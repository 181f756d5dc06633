package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/salestalk-labs/salestalk-core/internal/api"
	"github.com/salestalk-labs/salestalk-core/internal/auth"
	"github.com/salestalk-labs/salestalk-core/internal/config"
	"github.com/salestalk-labs/salestalk-core/internal/nlp"
)

func TestSetupTelemetryServesScrapeHandler(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.PrometheusBind = "127.0.0.1:0"

	shutdown, scrape, err := setupTelemetry(cfg, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if scrape == nil {
		t.Fatal("expected a scrape handler")
	}

	rec := httptest.NewRecorder()
	scrape.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status = %d", rec.Code)
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"auth", &nlp.AuthError{Reason: "no token"}, http.StatusUnauthorized},
		{"no token sentinel", fmt.Errorf("list sales: %w", auth.ErrNoToken), http.StatusUnauthorized},
		{"validation", &nlp.ValidationError{Reason: "no product selected"}, http.StatusUnprocessableEntity},
		{"remote", &nlp.RemoteError{Status: 502, Body: "bad gateway"}, http.StatusBadGateway},
		{"backend", &api.Error{Method: "GET", Path: "/sales", Status: 500}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := statusForError(tc.err); got != tc.want {
				t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
			}
		})
	}
}
