package profile

import (
	"context"
	"strings"

	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
)

// RunCache memoizes lookups by lower-cased address for a single
// aggregation run, so a sender with many transfers costs one request.
type RunCache struct {
	resolver Resolver
	entries  map[string]*model.Profile
}

func NewRunCache(resolver Resolver) *RunCache {
	return &RunCache{resolver: resolver, entries: make(map[string]*model.Profile)}
}

func (m *RunCache) Resolve(ctx context.Context, address string) (*model.Profile, bool) {
	key := strings.ToLower(address)
	if p, ok := m.entries[key]; ok {
		return p, p != nil
	}
	p, ok := m.resolver.Resolve(ctx, key)
	if !ok {
		p = nil
	}
	m.entries[key] = p
	return p, ok
}
