package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// LoginResponse is the session payload returned by the auth backend.
type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// LoginClient performs credential exchange against POST {base}/auth/login.
type LoginClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewLoginClient(baseURL string) *LoginClient {
	return &LoginClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Login exchanges credentials for a bearer token. The backend takes the
// credentials as query parameters on a POST.
func (c *LoginClient) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	endpoint := fmt.Sprintf("%s/auth/login?email=%s&password=%s",
		c.BaseURL, url.QueryEscape(email), url.QueryEscape(password))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return LoginResponse{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("login request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return LoginResponse{}, fmt.Errorf("login failed: status %d: %s", resp.StatusCode, string(body))
	}

	var out LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return LoginResponse{}, fmt.Errorf("decode login response: %w", err)
	}
	return out, nil
}
