package cache

import (
	"context"
	"io"
	"time"

	"github.com/jc4p/dollar-payers-frame/internal/metrics"
)

// Instrumented counts store operations by backend and outcome.
type Instrumented struct {
	backend string
	inner   Store
}

func Instrument(backend string, inner Store) *Instrumented {
	return &Instrumented{backend: backend, inner: inner}
}

// Backend returns the name of the wrapped backend.
func (s *Instrumented) Backend() string { return s.backend }

func (s *Instrumented) Get(ctx context.Context, key string) ([]byte, bool) {
	value, ok := s.inner.Get(ctx, key)
	result := "miss"
	if ok {
		result = "hit"
	}
	metrics.CacheRequestsTotal.WithLabelValues(s.backend, "get", result).Inc()
	return value, ok
}

func (s *Instrumented) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	ok := s.inner.Set(ctx, key, value, ttl)
	result := "error"
	if ok {
		result = "ok"
	}
	metrics.CacheRequestsTotal.WithLabelValues(s.backend, "set", result).Inc()
	return ok
}

// Close releases the wrapped backend if it holds resources.
func (s *Instrumented) Close() error {
	if c, ok := s.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
