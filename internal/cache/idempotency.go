package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyPrefix is the key prefix for stored request outcomes.
const IdempotencyPrefix = "idem:"

const pendingMarker = `{"pending":true}`

// StoredResponse is the recorded outcome of a mutating request.
type StoredResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore remembers the outcome of requests that carry an idempotency key.
type IdempotencyStore interface {
	// Reserve claims key. It returns false when the key is already claimed or completed.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Complete stores the response for a reserved key.
	Complete(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error

	// Get returns the stored state of key, or nil when unknown.
	Get(ctx context.Context, key string) (*StoredResponse, error)

	// Release drops a reservation so the request can be retried.
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore implements IdempotencyStore with SET NX and TTLs.
type RedisIdempotencyStore struct {
	client *redis.Client
}

func NewIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, IdempotencyPrefix+key, pendingMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, resp StoredResponse, ttl time.Duration) error {
	resp.Pending = false
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal stored response: %w", err)
	}
	if err := s.client.Set(ctx, IdempotencyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("complete idempotency key: %w", err)
	}
	return nil
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*StoredResponse, error) {
	data, err := s.client.Get(ctx, IdempotencyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	var resp StoredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal stored response: %w", err)
	}
	return &resp, nil
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, IdempotencyPrefix+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}
