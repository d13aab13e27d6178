package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "idempotency"

// RedisStore keeps keys in Redis so every API instance sees the same reservations.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client. Keys are stored under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, errors.New("idempotency: redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":" + key
}

// Reserve uses SETNX so only one request wins a key.
func (s *RedisStore) Reserve(ctx context.Context, key string, pending Record, ttl time.Duration) (Outcome, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	payload, err := json.Marshal(pending)
	if err != nil {
		return OutcomeInFlight, Record{}, fmt.Errorf("idempotency: encode record: %w", err)
	}
	won, err := s.client.SetNX(ctx, s.key(key), payload, ttl).Result()
	if err != nil {
		return OutcomeInFlight, Record{}, err
	}
	if won {
		return OutcomeReserved, pending, nil
	}

	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET
		return OutcomeInFlight, Record{}, nil
	}
	if err != nil {
		return OutcomeInFlight, Record{}, err
	}
	var existing Record
	if err := json.Unmarshal(raw, &existing); err != nil {
		return OutcomeInFlight, Record{}, fmt.Errorf("idempotency: decode record: %w", err)
	}
	return classify(existing, pending.Fingerprint)
}

// Complete overwrites the pending record with the finished response.
func (s *RedisStore) Complete(ctx context.Context, key string, record Record, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	record.Status = StatusCompleted
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("idempotency: encode record: %w", err)
	}
	return s.client.Set(ctx, s.key(key), payload, ttl).Err()
}

// Release drops the key so the request can be retried.
func (s *RedisStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}
