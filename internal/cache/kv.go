package cache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultCloudflareBaseURL = "https://api.cloudflare.com/client/v4"

	// maxValueBytes caps how much of a KV response body is read.
	maxValueBytes = 8 << 20
)

// KVConfig addresses one Cloudflare Workers KV namespace.
type KVConfig struct {
	BaseURL     string
	AccountID   string
	NamespaceID string
	Token       string
	HTTPClient  *http.Client
}

// Configured reports whether the credential triplet is complete.
func (c KVConfig) Configured() bool {
	return c.AccountID != "" && c.NamespaceID != "" && c.Token != ""
}

// KVStore talks to the Cloudflare KV REST API.
type KVStore struct {
	cfg        KVConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewKVStore(cfg KVConfig, logger *slog.Logger) *KVStore {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultCloudflareBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &KVStore{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.With("component", "cache", "backend", BackendCloudflare),
	}
}

func (s *KVStore) valueURL(key string) string {
	return fmt.Sprintf("%s/accounts/%s/storage/kv/namespaces/%s/values/%s",
		s.cfg.BaseURL,
		url.PathEscape(s.cfg.AccountID),
		url.PathEscape(s.cfg.NamespaceID),
		url.PathEscape(key))
}

// Get reads key. A 404 is a plain miss; any other failure is logged and
// also reported as a miss.
func (s *KVStore) Get(ctx context.Context, key string) ([]byte, bool) {
	if !s.cfg.Configured() {
		s.logger.Debug("kv credentials not configured, skipping read")
		return nil, false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.valueURL(key), nil)
	if err != nil {
		s.logger.Warn("build kv get request failed", "key", key, "error", err)
		return nil, false
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("kv get failed", "key", key, "error", err)
		return nil, false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Warn("kv get returned non-ok status",
			"key", key, "status", resp.StatusCode, "body", string(body))
		return nil, false
	}

	value, err := io.ReadAll(io.LimitReader(resp.Body, maxValueBytes))
	if err != nil {
		s.logger.Warn("read kv value failed", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Set writes key with an expiration_ttl rounded down to whole seconds.
func (s *KVStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) bool {
	if !s.cfg.Configured() {
		s.logger.Debug("kv credentials not configured, skipping write")
		return false
	}

	target := s.valueURL(key)
	if secs := int64(ttl / time.Second); secs > 0 {
		target += "?expiration_ttl=" + strconv.FormatInt(secs, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(value))
	if err != nil {
		s.logger.Warn("build kv put request failed", "key", key, "error", err)
		return false
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Warn("kv put failed", "key", key, "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Warn("kv put returned non-ok status",
			"key", key, "status", resp.StatusCode, "body", string(body))
		return false
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return true
}
