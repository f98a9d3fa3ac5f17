package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr      string
	UpstreamBaseURL string
	// APIKey is the server-side Gemini key used when the caller sends none.
	APIKey string
	// RequestTimeout bounds each upstream attempt.
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RetryStatuses  []int
	AllowedModels  []string
	// CacheTTL enables the non-streaming response cache when > 0.
	CacheTTL        time.Duration
	CacheMaxEntries int
}

func Load() *Config {
	// Optional .env; real env vars win.
	_ = godotenv.Load()

	cfg := &Config{}

	flag.StringVar(&cfg.ListenAddr, "listen-addr", getEnv("LISTEN_ADDR", ":8080"), "Gateway listen address")
	flag.StringVar(&cfg.UpstreamBaseURL, "upstream-base-url", getEnv("UPSTREAM_BASE_URL", "https://generativelanguage.googleapis.com"), "Gemini API base URL")
	flag.StringVar(&cfg.APIKey, "api-key", getEnv("GEMINI_API_KEY", ""), "Server-side Gemini API key (fallback when the caller sends none)")
	flag.DurationVar(&cfg.RequestTimeout, "request-timeout", getEnvDuration("REQUEST_TIMEOUT", 60*time.Second), "Per-attempt upstream timeout")
	flag.IntVar(&cfg.MaxRetries, "max-retries", getEnvInt("MAX_RETRIES", 3), "Maximum retries per upstream call")
	flag.DurationVar(&cfg.BackoffBase, "backoff-base", getEnvDuration("BACKOFF_BASE", time.Second), "Initial retry backoff delay")
	flag.DurationVar(&cfg.BackoffCap, "backoff-cap", getEnvDuration("BACKOFF_CAP", 16*time.Second), "Maximum retry backoff delay")
	flag.DurationVar(&cfg.CacheTTL, "cache-ttl", getEnvDuration("CACHE_TTL", 0), "Response cache TTL (0 disables the cache)")
	flag.IntVar(&cfg.CacheMaxEntries, "cache-max-entries", getEnvInt("CACHE_MAX_ENTRIES", 1024), "Response cache capacity (LRU beyond this)")

	var retryStatuses, allowedModels string
	flag.StringVar(&retryStatuses, "retry-statuses", getEnv("RETRY_STATUSES", "403,429,500,503,504"), "Comma-separated retryable upstream status codes")
	flag.StringVar(&allowedModels, "allowed-models", getEnv("ALLOWED_MODELS", "gemini-2.5-pro,gemini-2.5-flash"), "Comma-separated allowed model identifiers")

	flag.Parse()

	cfg.RetryStatuses = splitInts(retryStatuses)
	cfg.AllowedModels = splitList(allowedModels)
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func splitInts(s string) []int {
	var out []int
	for _, item := range splitList(s) {
		if n, err := strconv.Atoi(item); err == nil {
			out = append(out, n)
		}
	}
	return out
}
