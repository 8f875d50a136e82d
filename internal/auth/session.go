package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var ErrSessionNotFound = errors.New("session not found")

// SessionStore tracks live sessions so tokens can be revoked before they
// expire.
type SessionStore interface {
	Create(ctx context.Context, userID string, ttl time.Duration) (string, error)
	// Get returns the user that owns the session.
	Get(ctx context.Context, sessionID string) (string, error)
	Delete(ctx context.Context, sessionID string) error
	// RevokeUser drops every session of the user except keep.
	RevokeUser(ctx context.Context, userID, keep string) error
}

type RedisSessionStore struct {
	client    *redis.Client
	namespace string
}

func NewRedisSessionStore(redisURL, namespace string) (*RedisSessionStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisSessionStoreWithClient(client, namespace), nil
}

func NewRedisSessionStoreWithClient(client *redis.Client, namespace string) *RedisSessionStore {
	if namespace == "" {
		namespace = "storefront"
	}
	return &RedisSessionStore{client: client, namespace: namespace}
}

func (r *RedisSessionStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", r.namespace, id)
}

func (r *RedisSessionStore) userKey(userID string) string {
	return fmt.Sprintf("%s:user_sessions:%s", r.namespace, userID)
}

func (r *RedisSessionStore) Create(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	id := uuid.NewString()
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.sessionKey(id), userID, ttl)
	pipe.SAdd(ctx, r.userKey(userID), id)
	pipe.Expire(ctx, r.userKey(userID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return id, nil
}

func (r *RedisSessionStore) Get(ctx context.Context, sessionID string) (string, error) {
	userID, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get session: %w", err)
	}
	return userID, nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	userID, err := r.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, r.sessionKey(sessionID))
	pipe.SRem(ctx, r.userKey(userID), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) RevokeUser(ctx context.Context, userID, keep string) error {
	ids, err := r.client.SMembers(ctx, r.userKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	pipe := r.client.TxPipeline()
	revoked := 0
	for _, id := range ids {
		if id == keep {
			continue
		}
		pipe.Del(ctx, r.sessionKey(id))
		pipe.SRem(ctx, r.userKey(userID), id)
		revoked++
	}
	if revoked == 0 {
		return nil
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return nil
}

func (r *RedisSessionStore) Close() error {
	return r.client.Close()
}

// MemorySessionStore is the single-process fallback used when no Redis URL
// is configured.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]memSession
	now      func() time.Time
}

type memSession struct {
	userID    string
	expiresAt time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: map[string]memSession{}, now: time.Now}
}

func (m *MemorySessionStore) Create(_ context.Context, userID string, ttl time.Duration) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.sessions[id] = memSession{userID: userID, expiresAt: m.now().Add(ttl)}
	return id, nil
}

func (m *MemorySessionStore) Get(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return "", ErrSessionNotFound
	}
	if !m.now().Before(s.expiresAt) {
		delete(m.sessions, sessionID)
		return "", ErrSessionNotFound
	}
	return s.userID, nil
}

func (m *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemorySessionStore) RevokeUser(_ context.Context, userID, keep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.userID == userID && id != keep {
			delete(m.sessions, id)
		}
	}
	return nil
}
