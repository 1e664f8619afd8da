package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jc4p/dollar-payers-frame/internal/circuitbreaker"
	"github.com/jc4p/dollar-payers-frame/internal/domain/model"
	"github.com/jc4p/dollar-payers-frame/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.neynar.com"

	bulkByAddressPath = "/v2/farcaster/user/bulk-by-address"
	maxResponseBytes  = 1 << 20
)

var errNoProfile = errors.New("no verified profile")

// Resolver maps a wallet address to the social profile verified to it.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*model.Profile, bool)
}

// Config configures the directory client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	// Breaker overrides the default breaker (5 failures, 30s open).
	Breaker *circuitbreaker.Breaker
}

// Client looks profiles up in the Neynar bulk-by-address directory. It never
// returns errors: a missing key, an open breaker, a failed request and an
// empty result all resolve to absent.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

var _ Resolver = (*Client)(nil)

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "profile")

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = circuitbreaker.New(circuitbreaker.Config{
			Name:             "profile_directory",
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
			IsFailure:        func(err error) bool { return !errors.Is(err, errNoProfile) },
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				metrics.ProfileBreakerState.Set(float64(to))
				logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
			},
		})
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

func (c *Client) Resolve(ctx context.Context, address string) (*model.Profile, bool) {
	if c.apiKey == "" {
		metrics.ProfileLookups.WithLabelValues("disabled").Inc()
		return nil, false
	}

	addr := strings.ToLower(strings.TrimSpace(address))
	var found *model.Profile
	err := c.breaker.Do(func() error {
		p, err := c.lookup(ctx, addr)
		found = p
		return err
	})

	switch {
	case err == nil:
		metrics.ProfileLookups.WithLabelValues("found").Inc()
		return found, true
	case errors.Is(err, errNoProfile):
		metrics.ProfileLookups.WithLabelValues("absent").Inc()
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.ProfileLookups.WithLabelValues("short_circuit").Inc()
		c.logger.Debug("profile lookup short-circuited", "address", addr)
	default:
		metrics.ProfileLookups.WithLabelValues("error").Inc()
		c.logger.Warn("profile lookup failed", "address", addr, "error", err)
	}
	return nil, false
}

func (c *Client) lookup(ctx context.Context, addr string) (*model.Profile, error) {
	q := url.Values{}
	q.Set("addresses", addr)
	q.Set("address_types", "verified_address")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+bulkByAddressPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bulk-by-address: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	// The directory answers 404 when no user verified the address.
	if resp.StatusCode == http.StatusNotFound {
		return nil, errNoProfile
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d: %s", resp.StatusCode, truncate(body, 256))
	}

	var byAddress map[string]json.RawMessage
	if err := json.Unmarshal(body, &byAddress); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	raw, ok := byAddress[addr]
	if !ok {
		return nil, errNoProfile
	}

	var users []model.Profile
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("unmarshal users for %s: %w", addr, err)
	}
	if len(users) == 0 {
		return nil, errNoProfile
	}
	return &users[0], nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
