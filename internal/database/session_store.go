package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hotelease/checkout-backend/internal/config"
	"github.com/hotelease/checkout-backend/internal/models"
)

// ErrNotFound is returned when a session or hand-off does not exist or has expired
var ErrNotFound = errors.New("not found")

// SessionStore keeps checkout sessions and confirmation hand-offs for their TTL
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error)
	SaveSession(ctx context.Context, session *models.CheckoutSession) error
	DeleteSession(ctx context.Context, id uuid.UUID) error
	SaveHandoff(ctx context.Context, handoff *models.NavigationHandoff, ttl time.Duration) error
	GetHandoff(ctx context.Context, bookingID string) (*models.NavigationHandoff, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ============================================================================
// IN-MEMORY STORE (single instance, development, tests)
// ============================================================================

type handoffEntry struct {
	handoff   models.NavigationHandoff
	expiresAt time.Time
}

// MemorySessionStore keeps sessions in process memory
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.CheckoutSession
	handoffs map[string]handoffEntry
	now      func() time.Time
}

// NewMemorySessionStore creates an empty in-memory store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID]models.CheckoutSession),
		handoffs: make(map[string]handoffEntry),
		now:      time.Now,
	}
}

// GetSession returns a copy of the stored session
func (s *MemorySessionStore) GetSession(_ context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok || session.IsExpired(s.now()) {
		return nil, ErrNotFound
	}
	cloned := session.Clone()
	return &cloned, nil
}

// SaveSession stores a copy of the session
func (s *MemorySessionStore) SaveSession(_ context.Context, session *models.CheckoutSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session.Clone()
	return nil
}

// DeleteSession removes a session; deleting a missing session is not an error
func (s *MemorySessionStore) DeleteSession(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// SaveHandoff stores the confirmation hand-off for ttl
func (s *MemorySessionStore) SaveHandoff(_ context.Context, handoff *models.NavigationHandoff, ttl time.Duration) error {
	if handoff == nil || handoff.BookingID == "" {
		return fmt.Errorf("handoff requires a booking id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[handoff.BookingID] = handoffEntry{handoff: *handoff, expiresAt: s.now().Add(ttl)}
	return nil
}

// GetHandoff returns the hand-off for a booking
func (s *MemorySessionStore) GetHandoff(_ context.Context, bookingID string) (*models.NavigationHandoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.handoffs[bookingID]
	if !ok || s.now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	handoff := entry.handoff
	return &handoff, nil
}

// DeleteExpired drops expired sessions and hand-offs and reports how many were removed
func (s *MemorySessionStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	for bookingID, entry := range s.handoffs {
		if now.After(entry.expiresAt) {
			delete(s.handoffs, bookingID)
			removed++
		}
	}
	return removed, nil
}

// ============================================================================
// REDIS STORE (shared across instances)
// ============================================================================

// RedisSessionStore keeps sessions as JSON values with a TTL matching the session expiry
type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return client, nil
}

// NewRedisSessionStore wraps a connected client
func NewRedisSessionStore(client *redis.Client, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = "checkout"
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (s *RedisSessionStore) sessionKey(id uuid.UUID) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

func (s *RedisSessionStore) handoffKey(bookingID string) string {
	return fmt.Sprintf("%s:handoff:%s", s.prefix, bookingID)
}

func (s *RedisSessionStore) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return s.client.Set(ctx, key, data, ttl).Err()
}

func (s *RedisSessionStore) getJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to get from Redis: %w", err)
	}
	return json.Unmarshal(data, dest)
}

// GetSession loads a session
func (s *RedisSessionStore) GetSession(ctx context.Context, id uuid.UUID) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	if err := s.getJSON(ctx, s.sessionKey(id), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// SaveSession writes a session with the remaining lifetime as TTL
func (s *RedisSessionStore) SaveSession(ctx context.Context, session *models.CheckoutSession) error {
	if session == nil {
		return fmt.Errorf("session cannot be nil")
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return s.DeleteSession(ctx, session.ID)
	}
	return s.setJSON(ctx, s.sessionKey(session.ID), session, ttl)
}

// DeleteSession removes a session
func (s *RedisSessionStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	return s.client.Del(ctx, s.sessionKey(id)).Err()
}

// SaveHandoff stores the confirmation hand-off
func (s *RedisSessionStore) SaveHandoff(ctx context.Context, handoff *models.NavigationHandoff, ttl time.Duration) error {
	if handoff == nil || handoff.BookingID == "" {
		return fmt.Errorf("handoff requires a booking id")
	}
	return s.setJSON(ctx, s.handoffKey(handoff.BookingID), handoff, ttl)
}

// GetHandoff loads the hand-off for a booking
func (s *RedisSessionStore) GetHandoff(ctx context.Context, bookingID string) (*models.NavigationHandoff, error) {
	var handoff models.NavigationHandoff
	if err := s.getJSON(ctx, s.handoffKey(bookingID), &handoff); err != nil {
		return nil, err
	}
	return &handoff, nil
}

// DeleteExpired is a no-op: Redis expires keys itself
func (s *RedisSessionStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, nil
}
