package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"branch-orders-api/models"
)

// Session is an authenticated backend session.
type Session struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        *models.User `json:"user"`
}

// Expired reports whether the session's token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// TokenStore persists the session between runs.
type TokenStore interface {
	Load() (*Session, error)
	Save(*Session) error
	Clear() error
}

// MemoryTokenStore keeps the session for the life of the process.
type MemoryTokenStore struct {
	mu      sync.Mutex
	session *Session
}

func (m *MemoryTokenStore) Load() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session, nil
}

func (m *MemoryTokenStore) Save(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	return nil
}

func (m *MemoryTokenStore) Clear() error {
	return m.Save(nil)
}

// FileTokenStore keeps the session as JSON in a file readable only by the owner.
type FileTokenStore struct {
	Path string
	mu   sync.Mutex
}

func (f *FileTokenStore) Load() (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := os.ReadFile(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	return &s, nil
}

func (f *FileTokenStore) Save(s *Session) error {
	if s == nil {
		return f.Clear()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	return os.WriteFile(f.Path, raw, 0600)
}

func (f *FileTokenStore) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
