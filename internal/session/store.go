package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/history"
)

const keyPrefix = "session:"

// Backend is the key/value layer a Store persists into.
type Backend interface {
	// Get returns nil, nil when the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Store owns one history log per session. A session ends when it is deleted
// or has been idle for the configured TTL.
type Store struct {
	backend Backend
	ttl     time.Duration
}

// New creates a session store based on configuration.
// "memory" uses an in-process LRU; "redis" uses Redis. Redis is read on
// every load so that instances sharing it never score against a stale log.
func New(cfg domain.SessionConfig) (*Store, error) {
	var backend Backend

	switch cfg.Type {
	case "memory", "":
		backend = NewLRUBackend(cfg.LocalMaxSize)

	case "redis":
		remote, err := NewRedisBackend(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		backend = remote

	default:
		return nil, fmt.Errorf("unsupported session store type: %s", cfg.Type)
	}

	return NewStore(backend, cfg.TTL), nil
}

// NewStore wraps a backend. A non-positive ttl defaults to 30 minutes.
func NewStore(backend Backend, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{backend: backend, ttl: ttl}
}

// Create starts a session with an empty history and returns its ID.
func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	if err := s.Save(ctx, id, history.Log{}); err != nil {
		return "", err
	}
	return id, nil
}

// Load returns the session's history.
func (s *Store) Load(ctx context.Context, id string) (history.Log, error) {
	data, err := s.backend.Get(ctx, keyPrefix+id)
	if err != nil {
		return history.Log{}, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if data == nil {
		return history.Log{}, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
	}

	var log history.Log
	if err := json.Unmarshal(data, &log); err != nil {
		return history.Log{}, fmt.Errorf("failed to decode session %s: %w", id, err)
	}
	return log, nil
}

// Save stores the session's history and refreshes its TTL.
func (s *Store) Save(ctx context.Context, id string, log history.Log) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", id, err)
	}
	if err := s.backend.Set(ctx, keyPrefix+id, data, s.ttl); err != nil {
		return fmt.Errorf("failed to save session %s: %w", id, err)
	}
	return nil
}

// Delete ends the session.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.Load(ctx, id); err != nil {
		return err
	}
	return s.backend.Delete(ctx, keyPrefix+id)
}

// TTL returns the idle lifetime of a session.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Ping checks backend health.
func (s *Store) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
