package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Key enumerates cached views. Writers invalidate keys by name, so every
// cached read must use one of these constants.
type Key string

const (
	// KeyRefundDashboard holds the categorised admin refund listing.
	KeyRefundDashboard Key = "refunds:dashboard"
)

var knownKeys = map[Key]struct{}{
	KeyRefundDashboard: {},
}

// ErrUnknownKey is returned for keys that are not part of the enum.
var ErrUnknownKey = errors.New("cache: unknown key")

// Store is the byte-level backend behind Cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Cache is a typed cache-aside port storing JSON values under a namespace.
type Cache struct {
	store     Store
	namespace string
	ttl       time.Duration
}

// New wraps store. Values expire after ttl; a non-positive ttl keeps them until deleted.
func New(store Store, namespace string, ttl time.Duration) *Cache {
	return &Cache{store: store, namespace: namespace, ttl: ttl}
}

func (c *Cache) storageKey(key Key) (string, error) {
	if _, ok := knownKeys[key]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	if c.namespace == "" {
		return string(key), nil
	}
	return c.namespace + ":" + string(key), nil
}

// Get decodes the cached value into dst and reports whether it was present.
func (c *Cache) Get(ctx context.Context, key Key, dst any) (bool, error) {
	if c == nil || c.store == nil {
		return false, nil
	}
	name, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	raw, ok, err := c.store.Get(ctx, name)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key Key, value any) error {
	if c == nil || c.store == nil {
		return nil
	}
	name, err := c.storageKey(key)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.store.Set(ctx, name, raw, c.ttl)
}

// Delete invalidates keys.
func (c *Cache) Delete(ctx context.Context, keys ...Key) error {
	if c == nil || c.store == nil || len(keys) == 0 {
		return nil
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		name, err := c.storageKey(key)
		if err != nil {
			return err
		}
		names = append(names, name)
	}
	return c.store.Delete(ctx, names...)
}

// Has reports whether key is currently cached.
func (c *Cache) Has(ctx context.Context, key Key) (bool, error) {
	if c == nil || c.store == nil {
		return false, nil
	}
	name, err := c.storageKey(key)
	if err != nil {
		return false, err
	}
	return c.store.Exists(ctx, name)
}

// Ping reports backend health for readiness probes.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	if pinger, ok := c.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// GetOrLoad returns the cached value for key or calls load and caches its
// result. Cache failures fall through to load.
func GetOrLoad[T any](ctx context.Context, c *Cache, key Key, load func(context.Context) (T, error)) (T, error) {
	var cached T
	if ok, err := c.Get(ctx, key, &cached); err == nil && ok {
		return cached, nil
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	_ = c.Set(ctx, key, value)
	return value, nil
}
