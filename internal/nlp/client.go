// Package nlp talks to the remote interpretation and confirmation service.
// Both operations are single attempts: retry policy, if any, belongs to the
// caller, and none is implemented.
package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/auth"
	"github.com/salestalk-labs/salestalk-core/internal/config"
	"github.com/salestalk-labs/salestalk-core/internal/protocol"
)

// ConfirmRequest is the resolved sale sent to the confirmation endpoint.
// ProductID must be non-empty; Date may be nil.
type ConfirmRequest struct {
	ProductID     string
	Quantity      int
	PaymentMethod PaymentMethod
	Date          *string
}

type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
	logger  *slog.Logger
}

func NewClient(cfg config.NLPConfig, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
		logger:  logger.With(slog.String("component", "nlp")),
	}
}

type interpretRequest struct {
	Text              string   `json:"text"`
	CandidateProducts []string `json:"candidate_products,omitempty"`
}

// Interpret sends the finalized transcript, plus known product names as
// hints, to the interpretation endpoint.
func (c *Client) Interpret(ctx context.Context, text string, candidateHints []string) (Interpretation, error) {
	var wire wireInterpretation
	err := c.post(ctx, "/nlp/interpret", interpretRequest{
		Text:              text,
		CandidateProducts: candidateHints,
	}, &wire)
	if err != nil {
		return Interpretation{}, err
	}
	return fromWire(wire), nil
}

type confirmRequest struct {
	ProductID     string  `json:"product_id"`
	Quantity      int     `json:"quantity"`
	PaymentMethod string  `json:"payment_method"`
	Date          *string `json:"date"`
}

// ConfirmSale issues the confirmation call and returns the server-assigned
// sale record.
func (c *Client) ConfirmSale(ctx context.Context, req ConfirmRequest) (protocol.SaleCreated, error) {
	if req.ProductID == "" {
		return protocol.SaleCreated{}, &ValidationError{Reason: "no product selected"}
	}
	var sale protocol.SaleCreated
	err := c.post(ctx, "/nlp/confirm_sale", confirmRequest{
		ProductID:     req.ProductID,
		Quantity:      req.Quantity,
		PaymentMethod: string(req.PaymentMethod),
		Date:          req.Date,
	}, &sale)
	if err != nil {
		return protocol.SaleCreated{}, err
	}
	return sale, nil
}

// post runs one authenticated JSON round trip. The token check happens
// before anything touches the network.
func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return &AuthError{Reason: err.Error()}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	c.logger.Debug("nlp call finished",
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &RemoteError{Status: resp.StatusCode, Body: string(raw)}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
