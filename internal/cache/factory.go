package cache

import (
	"context"
	"fmt"
	"log/slog"
)

// Options selects and configures a backend.
type Options struct {
	Backend        string
	KV             KVConfig
	RedisURL       string
	MemoryCapacity int
}

// Open builds the configured backend wrapped with metrics. "auto" picks
// Cloudflare KV when its credentials are complete and no cache otherwise.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Instrumented, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend := opts.Backend
	if backend == "" || backend == BackendAuto {
		backend = BackendNone
		if opts.KV.Configured() {
			backend = BackendCloudflare
		}
	}

	var store Store
	switch backend {
	case BackendCloudflare:
		if !opts.KV.Configured() {
			logger.Warn("cloudflare cache selected without full credentials, reads and writes will be skipped")
		}
		store = NewKVStore(opts.KV, logger)
	case BackendRedis:
		rs, err := NewRedisStore(ctx, opts.RedisURL, logger)
		if err != nil {
			return nil, fmt.Errorf("open redis cache: %w", err)
		}
		store = rs
	case BackendMemory:
		capacity := opts.MemoryCapacity
		if capacity <= 0 {
			capacity = 16
		}
		store = NewMemoryStore(capacity)
	case BackendNone:
		store = nopStore{}
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}

	logger.Info("cache backend selected", "component", "cache", "backend", backend)
	return Instrument(backend, store), nil
}
