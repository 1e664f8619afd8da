package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/jc4p/dollar-payers-frame/internal/cache"
	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
	"github.com/jc4p/dollar-payers-frame/internal/metrics"
	"github.com/jc4p/dollar-payers-frame/internal/pipeline"
)

// Aggregator produces a fresh feed result.
type Aggregator interface {
	Run(ctx context.Context) (*model.AggregateResult, error)
}

// Server serves the transfer feed over HTTP.
type Server struct {
	store      cache.Store
	aggregator Aggregator
	health     *pipeline.FeedHealth
	limiter    *RateLimitMiddleware
	logger     *slog.Logger
}

// ServerOption configures optional dependencies for the server.
type ServerOption func(*Server)

// WithHealth exposes h on GET /health.
func WithHealth(h *pipeline.FeedHealth) ServerOption {
	return func(s *Server) { s.health = h }
}

// WithRateLimit applies per-IP limits to the feed routes.
func WithRateLimit(rl *RateLimitMiddleware) ServerOption {
	return func(s *Server) { s.limiter = rl }
}

// NewServer creates the feed server. aggregator is nil when no node RPC URL
// is configured; cached results are still served in that case.
func NewServer(store cache.Store, aggregator Aggregator, logger *slog.Logger, opts ...ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		store:      store,
		aggregator: aggregator,
		logger:     logger.With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the HTTP handler for the feed API.
func (s *Server) Handler() http.Handler {
	feed := http.Handler(http.HandlerFunc(s.handleTransfers))
	if s.limiter != nil {
		feed = s.limiter.Wrap(feed)
	}
	feed = noStore(feed)

	mux := http.NewServeMux()
	mux.Handle("GET /transfers", feed)
	mux.Handle("GET /api/transfers", feed)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": string(pipeline.HealthStatusUnknown)})
		return
	}
	status := http.StatusOK
	if !s.health.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, s.health.Snapshot())
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	metrics.HTTPResponsesTotal.WithLabelValues(strconv.Itoa(status), "none").Inc()
	writeJSON(w, status, errorResponse{Error: msg})
}
