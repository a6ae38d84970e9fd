package cache

import (
	"context"
	"errors"
	"time"
)

// Provider defines the minimal cache operations needed by the engine.
type Provider interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
	// DelIfValue removes key only while it still holds value. It reports whether a key was removed.
	DelIfValue(ctx context.Context, key string, value []byte) (bool, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// Key prefixes shared by the engine components.
const (
	prefixLock      = "readiness:lock:"
	prefixIndicator = "readiness:indicators:"
)

// LockKey returns the key guarding per-organization work of the given kind.
func LockKey(kind, orgID string) string {
	return prefixLock + kind + ":" + orgID
}

// IndicatorKey returns the key memoizing an indicator feed response.
func IndicatorKey(orgID, category string) string {
	return prefixIndicator + orgID + ":" + category
}

// NoopProvider implements Provider but never stores data.
type NoopProvider struct{}

// Get always returns ErrCacheMiss.
func (NoopProvider) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopProvider) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// SetNX pretends to store the value and reports success.
func (NoopProvider) SetNX(context.Context, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

// Del is a no-op for the noop cache.
func (NoopProvider) Del(context.Context, string) error { return nil }

// DelIfValue reports success without touching anything.
func (NoopProvider) DelIfValue(context.Context, string, []byte) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopProvider) Close() error { return nil }
