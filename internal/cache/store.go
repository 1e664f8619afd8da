package cache

import (
	"context"
	"time"
)

const (
	// FeedKey is the single slot holding the current aggregate result.
	FeedKey = "current-logs"
	// FeedTTL bounds how long a cached aggregate stays visible.
	FeedTTL = 900 * time.Second
)

// Backend names accepted by Open.
const (
	BackendAuto       = "auto"
	BackendCloudflare = "cloudflare"
	BackendRedis      = "redis"
	BackendMemory     = "memory"
	BackendNone       = "none"
)

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/jc4p/dollar-payers-frame/internal/cache Store

// Store is a TTL-bearing key-value store. Implementations fail soft: an
// unreachable or misbehaving backend reads as absent and writes report
// false, with the cause logged by the implementation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool
}

// nopStore is used when no backend is configured.
type nopStore struct{}

func (nopStore) Get(context.Context, string) ([]byte, bool)               { return nil, false }
func (nopStore) Set(context.Context, string, []byte, time.Duration) bool { return false }
