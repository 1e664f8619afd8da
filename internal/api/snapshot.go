package api

import (
	"context"
	"encoding/json"

	"github.com/jc4p/dollar-payers-frame/internal/cache"
	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
)

// loadSnapshot reads the feed slot. Undecodable payloads, a JSON null and
// results missing their transfer or ranking lists count as a miss.
func (s *Server) loadSnapshot(ctx context.Context) (*model.AggregateResult, bool) {
	raw, ok := s.store.Get(ctx, cache.FeedKey)
	if !ok {
		return nil, false
	}
	var result model.AggregateResult
	if err := json.Unmarshal(raw, &result); err != nil {
		s.logger.Warn("cached feed is not valid JSON, treating as miss", "error", err)
		return nil, false
	}
	if result.Transfers == nil || result.Rankings == nil {
		s.logger.Warn("cached feed is incomplete, treating as miss")
		return nil, false
	}
	return &result, true
}

func (s *Server) saveSnapshot(ctx context.Context, result *model.AggregateResult) bool {
	raw, err := json.Marshal(result)
	if err != nil {
		s.logger.Error("encode feed for cache failed", "error", err)
		return false
	}
	return s.store.Set(ctx, cache.FeedKey, raw, cache.FeedTTL)
}
