package nlp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/salestalk-labs/salestalk-core/internal/auth"
	"github.com/salestalk-labs/salestalk-core/internal/config"
)

func newTestClient(t *testing.T, tokens auth.TokenSource, handler http.HandlerFunc) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return NewClient(config.NLPConfig{BaseURL: srv.URL, TimeoutMS: 2000}, tokens, nil), &calls
}

func TestInterpretFailsFastWithoutToken(t *testing.T) {
	client, calls := newTestClient(t, &auth.MemoryStore{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.Interpret(context.Background(), "vende dos coca colas", nil)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("transport calls = %d, want 0", calls.Load())
	}
}

func TestInterpretSendsBearerAndHints(t *testing.T) {
	var gotAuth string
	var gotBody interpretRequest
	client, _ := newTestClient(t, auth.Static("tok-123"), func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path != "/nlp/interpret" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(wireInterpretation{
			Intent:     "crear_venta",
			Confidence: 0.91,
			Entities: wireEntities{
				Quantity:      2,
				PaymentMethod: "efectivo",
				Candidates:    []wireCandidate{{ID: "p1", Name: "Coca Cola"}},
			},
		})
	})

	interp, err := client.Interpret(context.Background(), "vende dos coca colas en efectivo", []string{"Coca Cola", "Inca Kola"})
	if err != nil {
		t.Fatalf("interpret: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotBody.Text != "vende dos coca colas en efectivo" || len(gotBody.CandidateProducts) != 2 {
		t.Fatalf("request body = %+v", gotBody)
	}
	if interp.Intent != IntentCreateSale {
		t.Fatalf("intent = %v", interp.Intent)
	}
	if interp.Entities.Quantity != 2 {
		t.Fatalf("quantity = %d", interp.Entities.Quantity)
	}
	if got := interp.CandidateList(); len(got) != 1 || got[0].ID != "p1" {
		t.Fatalf("candidates = %v", got)
	}
}

func TestInterpretPreservesRemoteErrorBody(t *testing.T) {
	client, _ := newTestClient(t, auth.Static("tok"), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"no pude entender el producto"}`))
	})

	_, err := client.Interpret(context.Background(), "mmm", nil)
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err = %v, want RemoteError", err)
	}
	if remote.Status != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", remote.Status)
	}
	if remote.Body != `{"detail":"no pude entender el producto"}` {
		t.Fatalf("body = %q", remote.Body)
	}
}

func TestInterpretDoesNotRetry(t *testing.T) {
	client, calls := newTestClient(t, auth.Static("tok"), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Interpret(context.Background(), "vende algo", nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("transport calls = %d, want 1", calls.Load())
	}
}

func TestConfirmSaleRequiresToken(t *testing.T) {
	client, calls := newTestClient(t, &auth.MemoryStore{}, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.ConfirmSale(context.Background(), ConfirmRequest{ProductID: "p1", Quantity: 1, PaymentMethod: PaymentCash})
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("transport calls = %d, want 0", calls.Load())
	}
}

func TestConfirmSaleRejectsMissingProduct(t *testing.T) {
	client, calls := newTestClient(t, auth.Static("tok"), func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := client.ConfirmSale(context.Background(), ConfirmRequest{Quantity: 1, PaymentMethod: PaymentCash})
	var invalid *ValidationError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("transport calls = %d, want 0", calls.Load())
	}
}

func TestConfirmSaleRoundTrip(t *testing.T) {
	var gotBody confirmRequest
	client, _ := newTestClient(t, auth.Static("tok"), func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nlp/confirm_sale" {
			http.NotFound(w, r)
			return
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"id":"s9","product_id":"p1","quantity":2,"payment_method":"Cash","date":"2025-06-01","created_at":"2025-06-01T10:00:00Z"}`))
	})

	sale, err := client.ConfirmSale(context.Background(), ConfirmRequest{
		ProductID:     "p1",
		Quantity:      2,
		PaymentMethod: PaymentCash,
	})
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if gotBody.ProductID != "p1" || gotBody.Quantity != 2 || gotBody.PaymentMethod != "Cash" {
		t.Fatalf("request body = %+v", gotBody)
	}
	if gotBody.Date != nil {
		t.Fatalf("date = %v, want null", gotBody.Date)
	}
	if sale.ID != "s9" || sale.ProductID != "p1" {
		t.Fatalf("sale = %+v", sale)
	}
}
