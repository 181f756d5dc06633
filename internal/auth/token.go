// Package auth holds the bearer-token source used by every backend call.
package auth

import (
	"errors"
	"os"
	"strings"
	"sync"
)

// ErrNoToken is returned when a call requires authentication but no bearer
// token is available. Callers must fail fast without touching the network.
var ErrNoToken = errors.New("no bearer token available")

// TokenSource provides the current bearer token, or ErrNoToken.
type TokenSource interface {
	Token() (string, error)
}

// MemoryStore is an in-process token holder. The zero value is empty.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

func (m *MemoryStore) Token() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", ErrNoToken
	}
	return m.token, nil
}

// Set replaces the stored token. An empty string clears it.
func (m *MemoryStore) Set(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// Clear removes the stored token.
func (m *MemoryStore) Clear() {
	m.Set("")
}

// FileStore reads the token from a file on every call, so an external login
// flow can rotate it without restarting the process.
type FileStore struct {
	Path string
}

func (f *FileStore) Token() (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoToken
		}
		return "", err
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Static wraps a fixed token. Useful for tests and one-shot tools.
type Static string

func (s Static) Token() (string, error) {
	if s == "" {
		return "", ErrNoToken
	}
	return string(s), nil
}
