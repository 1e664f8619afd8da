package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/jc4p/dollar-payers-frame/internal/metrics"
)

// ErrRPCNotConfigured is reported when a feed run is needed but no node
// endpoint was configured.
var ErrRPCNotConfigured = errors.New("RPC URL not configured")

const (
	cacheHit  = "HIT"
	cacheMiss = "MISS"
	cacheBust = "BUST"
)

type requestIDKey struct{}

// noStore stamps every feed response, including rate-limited ones, with a
// request id and headers that disable client caching.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("Cache-Control", "no-store, max-age=0, must-revalidate")
		w.Header().Set("X-Request-Id", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// handleTransfers serves the cached feed, or runs the aggregator on a miss
// or when the bust parameter is present.
func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := s.logger.With("request_id", requestIDFrom(ctx))

	disposition := cacheMiss
	if r.URL.Query().Has("bust") {
		disposition = cacheBust
		logger.Info("cache bust requested, skipping cache")
	} else if cached, ok := s.loadSnapshot(ctx); ok {
		cached.Cached = true
		logger.Debug("serving cached feed", "cached_at", cached.CachedAt)
		s.respond(w, cached, cacheHit)
		return
	}

	if s.aggregator == nil {
		logger.Error("feed run requested without a node endpoint")
		writeError(w, http.StatusInternalServerError, ErrRPCNotConfigured.Error())
		return
	}

	result, err := s.aggregator.Run(ctx)
	if err != nil {
		logger.Error("aggregation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch transfer logs: "+err.Error())
		return
	}

	result.Cached = false
	if !s.saveSnapshot(ctx, result) {
		logger.Warn("feed result not cached")
	}
	s.respond(w, result, disposition)
}

func (s *Server) respond(w http.ResponseWriter, body any, disposition string) {
	w.Header().Set("X-Cache", disposition)
	metrics.HTTPResponsesTotal.WithLabelValues(strconv.Itoa(http.StatusOK), disposition).Inc()
	writeJSON(w, http.StatusOK, body)
}
