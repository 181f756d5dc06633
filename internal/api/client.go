// Package api is the typed client for the products/sales REST backend.
// Every call carries the current bearer token; a missing token fails fast
// without touching the network.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/salestalk-labs/salestalk-core/internal/auth"
	"github.com/salestalk-labs/salestalk-core/internal/config"
)

// Error carries enough of the failed call to build a useful message:
// method, path, status, and the backend's detail field when present.
type Error struct {
	Method string
	Path   string
	Status int
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d: %s", e.Method, e.Path, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d", e.Method, e.Path, e.Status)
}

// Product is one backend product row.
type Product struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
}

// Sale is one backend sale row. ProductName is filled client-side by
// ListSales; the backend only returns the product id.
type Sale struct {
	ID            string `json:"id"`
	Date          string `json:"date"`
	Quantity      int    `json:"quantity"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name,omitempty"`
	PaymentMethod string `json:"payment_method"`
	CreatedAt     string `json:"created_at"`
}

type Client struct {
	baseURL      string
	http         *http.Client
	tokens       auth.TokenSource
	logger       *slog.Logger
	productLimit int
	salesLimit   int
}

func NewClient(cfg config.APIConfig, tokens auth.TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	productLimit := cfg.ProductLimit
	if productLimit <= 0 {
		productLimit = 50
	}
	salesLimit := cfg.SalesLimit
	if salesLimit <= 0 {
		salesLimit = 50
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		http:         &http.Client{Timeout: timeout},
		tokens:       tokens,
		logger:       logger.With(slog.String("component", "api")),
		productLimit: productLimit,
		salesLimit:   salesLimit,
	}
}

// ListProducts returns the product catalog. Both response shapes the
// backend produces are accepted: a bare array or {"items": [...]}.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	var products []Product
	path := "/products?limit=" + strconv.Itoa(c.productLimit)
	if err := c.do(ctx, http.MethodGet, path, nil, newListDecoder(&products)); err != nil {
		return nil, err
	}
	return products, nil
}

// ProductNames returns the active product names, used as candidate hints
// for the interpretation call.
func (c *Client) ProductNames(ctx context.Context) ([]string, error) {
	products, err := c.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(products))
	for _, p := range products {
		if p.Status == "inactive" {
			continue
		}
		names = append(names, p.Name)
	}
	return names, nil
}

// ProductNameByID resolves one product's display name.
func (c *Client) ProductNameByID(ctx context.Context, productID string) (string, error) {
	var out struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	path := "/products/" + url.PathEscape(productID) + "/name"
	if err := c.do(ctx, http.MethodGet, path, nil, jsonDecoder(&out)); err != nil {
		return "", err
	}
	return out.Name, nil
}

// FindProductsByName searches the catalog by name prefix.
func (c *Client) FindProductsByName(ctx context.Context, name string) ([]Product, error) {
	var products []Product
	path := "/products/search/by-name?name=" + url.QueryEscape(name) + "&limit=" + strconv.Itoa(c.productLimit)
	if err := c.do(ctx, http.MethodGet, path, nil, newListDecoder(&products)); err != nil {
		return nil, err
	}
	return products, nil
}

// ListSales returns the recent sales, each enriched with its product name.
// A failed name lookup falls back to the raw product id rather than failing
// the whole listing.
func (c *Client) ListSales(ctx context.Context) ([]Sale, error) {
	var sales []Sale
	path := "/sales?limit=" + strconv.Itoa(c.salesLimit)
	if err := c.do(ctx, http.MethodGet, path, nil, newListDecoder(&sales)); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(sales))
	for i := range sales {
		id := sales[i].ProductID
		name, ok := names[id]
		if !ok {
			resolved, err := c.ProductNameByID(ctx, id)
			if err != nil {
				resolved = id
			}
			name = resolved
			names[id] = name
		}
		sales[i].ProductName = name
	}
	return sales, nil
}

// SalesReport returns the backend's aggregated report untouched.
func (c *Client) SalesReport(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/sales/report", nil, jsonDecoder(&raw)); err != nil {
		return nil, err
	}
	return raw, nil
}

// DeleteSale removes one sale. A 404 is reported as a distinct, readable
// error so callers can tell "already gone" from a real failure.
func (c *Client) DeleteSale(ctx context.Context, saleID string) error {
	err := c.do(ctx, http.MethodDelete, "/sales/"+url.PathEscape(saleID), nil, nil)
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return &Error{Method: http.MethodDelete, Path: apiErr.Path, Status: apiErr.Status, Detail: "sale does not exist"}
	}
	return err
}

type decoder func([]byte) error

func jsonDecoder(out any) decoder {
	return func(raw []byte) error {
		return json.Unmarshal(raw, out)
	}
}

// newListDecoder accepts either a bare JSON array or an {"items": [...]}
// envelope.
func newListDecoder[T any](out *[]T) decoder {
	return func(raw []byte) error {
		if err := json.Unmarshal(raw, out); err == nil {
			return nil
		}
		var envelope struct {
			Items []T `json:"items"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return err
		}
		*out = envelope.Items
		return nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, decode decoder) error {
	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Method: method, Path: path, Status: resp.StatusCode, Detail: extractDetail(raw)}
	}
	if decode == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := decode(raw); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// extractDetail pulls the backend's {"detail": ...} message when the error
// body is JSON, else returns the body as-is.
func extractDetail(raw []byte) string {
	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return body.Detail
	}
	return string(raw)
}

