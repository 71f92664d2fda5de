// Package credential holds the bearer key used against the completion API.
package credential

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/comigor/shapeschat/internal/logger"
	"github.com/comigor/shapeschat/internal/store"
)

// TokenPrefix marks API keys issued by the completion service.
const TokenPrefix = "sk-shapes-"

var (
	ErrEmptyCredential         = errors.New("API key cannot be empty")
	ErrInvalidCredentialFormat = errors.New("invalid API key format: expected a UUID or an " + TokenPrefix + " key")
)

// Store keeps the current credential in memory and mirrors it to a durable
// store. Write failures are logged; the in-memory key keeps working.
type Store struct {
	st     store.Store
	strict bool

	mu  sync.RWMutex
	key string
}

// NewStore loads any persisted credential. A non-empty fallback (from
// configuration) is used when nothing is persisted.
func NewStore(ctx context.Context, st store.Store, strict bool, fallback string) *Store {
	s := &Store{st: st, strict: strict}
	key, ok, err := st.Get(ctx, store.KeyAPIKey)
	if err != nil {
		logger.L.Warn("could not read stored API key", "error", err)
	}
	if ok && strings.TrimSpace(key) != "" {
		s.key = strings.TrimSpace(key)
	} else {
		s.key = strings.TrimSpace(fallback)
	}
	return s
}

// Validate checks key against the configured format rules.
func Validate(key string, strict bool) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrEmptyCredential
	}
	if !strict {
		return nil
	}
	if _, err := uuid.Parse(key); err == nil && len(key) == 36 {
		return nil
	}
	if strings.HasPrefix(key, TokenPrefix) && len(key) > len(TokenPrefix) {
		return nil
	}
	return ErrInvalidCredentialFormat
}

// Set validates and stores key.
func (s *Store) Set(ctx context.Context, key string) error {
	key = strings.TrimSpace(key)
	if err := Validate(key, s.strict); err != nil {
		return err
	}
	s.mu.Lock()
	s.key = key
	s.mu.Unlock()

	if err := s.st.Set(ctx, store.KeyAPIKey, key); err != nil {
		logger.L.Warn("could not persist API key; keeping it in memory only", "error", err)
	}
	logger.L.Info("API key updated", "key", logger.Mask(key))
	return nil
}

// Clear forgets the credential.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.key = ""
	s.mu.Unlock()
	if err := s.st.Delete(ctx, store.KeyAPIKey); err != nil {
		logger.L.Warn("could not delete stored API key", "error", err)
	}
}

// Get returns the current credential, "" when none is configured.
func (s *Store) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

func (s *Store) Has() bool { return s.Get() != "" }

// Masked is the credential safe for display.
func (s *Store) Masked() string { return logger.Mask(s.Get()) }
