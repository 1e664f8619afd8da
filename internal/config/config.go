package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	RPC     RPCConfig
	Feed    FeedConfig
	Cache   CacheConfig
	Profile ProfileConfig
	Server  ServerConfig
	Tracing TracingConfig
	Log     LogConfig
}

type RPCConfig struct {
	// URL is optional at startup; without it only cached results are served.
	URL            string
	RateLimitRPS   float64
	RateLimitBurst int
	Timeout        time.Duration
}

type FeedConfig struct {
	TargetAddress      string `yaml:"target_address"`
	TokenAddress       string `yaml:"token_address"`
	TokenDecimals      int    `yaml:"token_decimals"`
	LookbackBlocks     int    `yaml:"lookback_blocks"`
	WindowDays         int    `yaml:"window_days"`
	MaxTransactions    int    `yaml:"max_transactions"`
	BalanceMaxAttempts int    `yaml:"balance_max_attempts"`
}

// Window returns the qualifying time window.
func (f FeedConfig) Window() time.Duration {
	return time.Duration(f.WindowDays) * 24 * time.Hour
}

type CacheConfig struct {
	Backend           string
	CloudflareBaseURL string
	AccountID         string
	NamespaceID       string
	Token             string
	RedisURL          string
}

type ProfileConfig struct {
	APIKey  string
	BaseURL string
}

type ServerConfig struct {
	HTTPPort    int
	MetricsPort int
}

type TracingConfig struct {
	Endpoint    string
	Insecure    bool
	SampleRatio float64
}

type LogConfig struct {
	Level string
}

// fileConfig is the optional YAML file. Only non-secret tunables live there.
type fileConfig struct {
	Feed FeedConfig `yaml:"feed"`
	RPC  struct {
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		TimeoutSec     int     `yaml:"timeout_sec"`
	} `yaml:"rpc"`
	Cache struct {
		Backend  string `yaml:"backend"`
		RedisURL string `yaml:"redis_url"`
	} `yaml:"cache"`
	Server struct {
		HTTPPort    int `yaml:"http_port"`
		MetricsPort int `yaml:"metrics_port"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
}

func defaults() *Config {
	return &Config{
		RPC: RPCConfig{
			RateLimitRPS:   25,
			RateLimitBurst: 10,
			Timeout:        30 * time.Second,
		},
		Feed: FeedConfig{
			TargetAddress:      "0xAc37dFbef27CAbBbF4f5c0a655B89303F1FB4dcA",
			TokenAddress:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			TokenDecimals:      6,
			LookbackBlocks:     50000,
			WindowDays:         7,
			MaxTransactions:    250,
			BalanceMaxAttempts: 3,
		},
		Cache: CacheConfig{
			Backend:           "auto",
			CloudflareBaseURL: "https://api.cloudflare.com/client/v4",
			RedisURL:          "redis://localhost:6379",
		},
		Profile: ProfileConfig{
			BaseURL: "https://api.neynar.com",
		},
		Server: ServerConfig{
			HTTPPort:    8080,
			MetricsPort: 9090,
		},
		Tracing: TracingConfig{
			Insecure:    true,
			SampleRatio: 1.0,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then the environment (including a local .env file).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	setString(&c.Feed.TargetAddress, fc.Feed.TargetAddress)
	setString(&c.Feed.TokenAddress, fc.Feed.TokenAddress)
	setInt(&c.Feed.TokenDecimals, fc.Feed.TokenDecimals)
	setInt(&c.Feed.LookbackBlocks, fc.Feed.LookbackBlocks)
	setInt(&c.Feed.WindowDays, fc.Feed.WindowDays)
	setInt(&c.Feed.MaxTransactions, fc.Feed.MaxTransactions)
	setInt(&c.Feed.BalanceMaxAttempts, fc.Feed.BalanceMaxAttempts)
	if fc.RPC.RateLimitRPS != 0 {
		c.RPC.RateLimitRPS = fc.RPC.RateLimitRPS
	}
	setInt(&c.RPC.RateLimitBurst, fc.RPC.RateLimitBurst)
	if fc.RPC.TimeoutSec != 0 {
		c.RPC.Timeout = time.Duration(fc.RPC.TimeoutSec) * time.Second
	}
	setString(&c.Cache.Backend, fc.Cache.Backend)
	setString(&c.Cache.RedisURL, fc.Cache.RedisURL)
	setInt(&c.Server.HTTPPort, fc.Server.HTTPPort)
	setInt(&c.Server.MetricsPort, fc.Server.MetricsPort)
	setString(&c.Log.Level, fc.Log.Level)
	return nil
}

func (c *Config) applyEnv() {
	c.RPC.URL = getEnv("ALCHEMY_BASE_RPC_URL", c.RPC.URL)
	c.RPC.RateLimitRPS = getEnvFloat("RPC_RATE_LIMIT_RPS", c.RPC.RateLimitRPS)
	c.RPC.RateLimitBurst = getEnvInt("RPC_RATE_LIMIT_BURST", c.RPC.RateLimitBurst)
	c.RPC.Timeout = time.Duration(getEnvInt("RPC_TIMEOUT_SEC", int(c.RPC.Timeout/time.Second))) * time.Second

	c.Feed.TargetAddress = getEnv("TARGET_ADDRESS", c.Feed.TargetAddress)
	c.Feed.TokenAddress = getEnv("TOKEN_ADDRESS", c.Feed.TokenAddress)
	c.Feed.TokenDecimals = getEnvInt("TOKEN_DECIMALS", c.Feed.TokenDecimals)
	c.Feed.LookbackBlocks = getEnvInt("LOOKBACK_BLOCKS", c.Feed.LookbackBlocks)
	c.Feed.WindowDays = getEnvInt("WINDOW_DAYS", c.Feed.WindowDays)
	c.Feed.MaxTransactions = getEnvInt("MAX_TRANSACTIONS", c.Feed.MaxTransactions)
	c.Feed.BalanceMaxAttempts = getEnvInt("BALANCE_MAX_ATTEMPTS", c.Feed.BalanceMaxAttempts)

	c.Cache.Backend = strings.ToLower(getEnv("CACHE_BACKEND", c.Cache.Backend))
	c.Cache.CloudflareBaseURL = getEnv("CLOUDFLARE_API_BASE_URL", c.Cache.CloudflareBaseURL)
	c.Cache.AccountID = getEnv("CLOUDFLARE_ACCOUNT_ID", c.Cache.AccountID)
	c.Cache.NamespaceID = getEnv("CLOUDFLARE_KV_BINDING", c.Cache.NamespaceID)
	c.Cache.Token = getEnv("CLOUDFLARE_KV_TOKEN", c.Cache.Token)
	c.Cache.RedisURL = getEnv("REDIS_URL", c.Cache.RedisURL)

	c.Profile.APIKey = getEnv("NEYNAR_API_KEY", c.Profile.APIKey)
	c.Profile.BaseURL = getEnv("NEYNAR_API_BASE_URL", c.Profile.BaseURL)

	c.Server.HTTPPort = getEnvInt("HTTP_PORT", c.Server.HTTPPort)
	c.Server.MetricsPort = getEnvInt("METRICS_PORT", c.Server.MetricsPort)

	c.Tracing.Endpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Tracing.Endpoint)
	c.Tracing.Insecure = getEnvBool("OTEL_INSECURE", c.Tracing.Insecure)
	c.Tracing.SampleRatio = getEnvFloat("OTEL_SAMPLE_RATIO", c.Tracing.SampleRatio)

	c.Log.Level = strings.ToLower(getEnv("LOG_LEVEL", c.Log.Level))
}

var validCacheBackends = map[string]bool{
	"auto": true, "cloudflare": true, "redis": true, "memory": true, "none": true,
}

func (c *Config) validate() error {
	var errs []error
	if !common.IsHexAddress(c.Feed.TargetAddress) {
		errs = append(errs, fmt.Errorf("TARGET_ADDRESS %q is not a hex address", c.Feed.TargetAddress))
	}
	if !common.IsHexAddress(c.Feed.TokenAddress) {
		errs = append(errs, fmt.Errorf("TOKEN_ADDRESS %q is not a hex address", c.Feed.TokenAddress))
	}
	if c.Feed.TokenDecimals < 0 || c.Feed.TokenDecimals > 36 {
		errs = append(errs, fmt.Errorf("TOKEN_DECIMALS must be between 0 and 36, got %d", c.Feed.TokenDecimals))
	}
	for name, v := range map[string]int{
		"LOOKBACK_BLOCKS":      c.Feed.LookbackBlocks,
		"WINDOW_DAYS":          c.Feed.WindowDays,
		"MAX_TRANSACTIONS":     c.Feed.MaxTransactions,
		"BALANCE_MAX_ATTEMPTS": c.Feed.BalanceMaxAttempts,
		"RPC_RATE_LIMIT_BURST": c.RPC.RateLimitBurst,
		"HTTP_PORT":            c.Server.HTTPPort,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	if c.RPC.RateLimitRPS <= 0 {
		errs = append(errs, fmt.Errorf("RPC_RATE_LIMIT_RPS must be positive, got %v", c.RPC.RateLimitRPS))
	}
	if c.RPC.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("RPC_TIMEOUT_SEC must be positive"))
	}
	if c.Server.MetricsPort < 0 {
		errs = append(errs, fmt.Errorf("METRICS_PORT must not be negative, got %d", c.Server.MetricsPort))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_SAMPLE_RATIO must be within [0, 1], got %v", c.Tracing.SampleRatio))
	}
	if !validCacheBackends[c.Cache.Backend] {
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_LEVEL %q", c.Log.Level))
	}
	return errors.Join(errs...)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
