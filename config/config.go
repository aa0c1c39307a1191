package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"iam-gateway/internal/domain"
)

// Storage drivers for the verification cache and the session store.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config holds the application configuration
type Config struct {
	Port string // Service port

	IAMBaseURL   string        // Remote IAM authority base URL, always ending in "/"
	IAMTimeout   time.Duration // Per-call upstream timeout
	IAMVerifySSL bool          // TLS certificate verification for upstream calls
	TokenHeader  string        // Header carrying the bearer token
	TokenPrefix  string        // Scheme prefix stripped from TokenHeader
	GuardName    string        // Guard namespace used for session keys
	Strategy     domain.ResolutionStrategy

	CacheDriver     string        // memory | redis
	CacheTTL        time.Duration // Verification cache TTL
	CacheMaxEntries int           // Bound for the in-memory store
	CacheCoalesce   bool          // Coalesce concurrent misses per fingerprint

	SessionDriver           string        // memory | redis
	SessionCookieName       string        // Session cookie name
	SessionLifetime         time.Duration // Sliding idle lifetime
	SessionRememberLifetime time.Duration // Lifetime for "remember me" sessions
	SessionSecureCookie     bool          // Secure flag on the session cookie
	SessionDomain           string        // Optional cookie domain

	RedisURL    string // Redis URL for redis drivers
	DatabaseURL string // Postgres URL for the mirrored strategy

	LoginURL string // Login entry point for browser redirects
	HomeURL  string // Fallback destination after browser login

	CSRFSecret           string        // Enables CSRF protection when set
	AuthSharedSecret     string        // Shared secret for /internal routes
	BackendTokenSecret   string        // Secret for signing backend JWT tokens
	BackendTokenIssuer   string        // JWT issuer claim
	BackendTokenAudience string        // JWT audience claim
	BackendTokenTTL      time.Duration // JWT token TTL
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Port:                 getEnv("PORT", "8888"),
		IAMBaseURL:           normalizeBaseURL(getEnv("IAM_BASE_URL", "http://localhost:8000/api/v1")),
		TokenHeader:          getEnv("IAM_TOKEN_HEADER", "Authorization"),
		TokenPrefix:          getEnv("IAM_TOKEN_PREFIX", "Bearer"),
		GuardName:            getEnv("IAM_GUARD_NAME", "iam"),
		CacheDriver:          strings.ToLower(getEnv("CACHE_DRIVER", DriverMemory)),
		SessionDriver:        strings.ToLower(getEnv("SESSION_DRIVER", DriverMemory)),
		SessionCookieName:    getEnv("SESSION_COOKIE_NAME", "iam_gateway_session"),
		SessionDomain:        getEnv("SESSION_DOMAIN", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
		DatabaseURL:          getEnv("DATABASE_URL", ""),
		LoginURL:             getEnv("LOGIN_URL", "/login"),
		HomeURL:              getEnv("HOME_URL", "/"),
		CSRFSecret:           getEnv("CSRF_SECRET", ""),
		AuthSharedSecret:     getEnv("AUTH_SHARED_SECRET", ""),
		BackendTokenSecret:   getEnv("BACKEND_TOKEN_SECRET", ""),
		BackendTokenIssuer:   getEnv("BACKEND_TOKEN_ISSUER", "iam-gateway"),
		BackendTokenAudience: getEnv("BACKEND_TOKEN_AUDIENCE", "backend"),
	}

	var err error
	if config.Strategy, err = domain.ParseResolutionStrategy(getEnv("IAM_RESOLVER_STRATEGY", string(domain.StrategyEphemeral))); err != nil {
		return nil, err
	}

	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"IAM_TIMEOUT", 10 * time.Second, &config.IAMTimeout},
		{"CACHE_TTL", 60 * time.Second, &config.CacheTTL},
		{"SESSION_LIFETIME", 2 * time.Hour, &config.SessionLifetime},
		{"SESSION_REMEMBER_LIFETIME", 30 * 24 * time.Hour, &config.SessionRememberLifetime},
		{"BACKEND_TOKEN_TTL", 5 * time.Minute, &config.BackendTokenTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	bools := []struct {
		key      string
		fallback bool
		dst      *bool
	}{
		{"IAM_VERIFY_SSL", true, &config.IAMVerifySSL},
		{"CACHE_COALESCE", true, &config.CacheCoalesce},
		{"SESSION_SECURE_COOKIE", true, &config.SessionSecureCookie},
	}
	for _, b := range bools {
		if *b.dst, err = getBool(b.key, b.fallback); err != nil {
			return nil, err
		}
	}

	if config.CacheMaxEntries, err = getInt("CACHE_MAX_ENTRIES", 10000); err != nil {
		return nil, err
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.IAMBaseURL == "" || c.IAMBaseURL == "/" {
		return fmt.Errorf("%w: IAM_BASE_URL cannot be empty", domain.ErrConfiguration)
	}

	if c.Port == "" {
		return fmt.Errorf("%w: PORT cannot be empty", domain.ErrConfiguration)
	}

	if c.IAMTimeout <= 0 {
		return fmt.Errorf("%w: IAM_TIMEOUT must be positive", domain.ErrConfiguration)
	}

	if c.CacheTTL <= 0 {
		return fmt.Errorf("%w: CACHE_TTL must be positive", domain.ErrConfiguration)
	}

	if c.SessionLifetime <= 0 || c.SessionRememberLifetime <= 0 {
		return fmt.Errorf("%w: session lifetimes must be positive", domain.ErrConfiguration)
	}

	if c.CacheMaxEntries <= 0 {
		return fmt.Errorf("%w: CACHE_MAX_ENTRIES must be positive", domain.ErrConfiguration)
	}

	if c.TokenHeader == "" {
		return fmt.Errorf("%w: IAM_TOKEN_HEADER cannot be empty", domain.ErrConfiguration)
	}

	for name, driver := range map[string]string{"CACHE_DRIVER": c.CacheDriver, "SESSION_DRIVER": c.SessionDriver} {
		switch driver {
		case DriverMemory:
		case DriverRedis:
			if c.RedisURL == "" {
				return fmt.Errorf("%w: REDIS_URL is required when %s=redis", domain.ErrConfiguration, name)
			}
		default:
			return fmt.Errorf("%w: unknown %s %q", domain.ErrConfiguration, name, driver)
		}
	}

	if c.Strategy == domain.StrategyMirrored && c.DatabaseURL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required for the mirrored strategy", domain.ErrConfiguration)
	}

	if c.BackendTokenSecret != "" && len(c.BackendTokenSecret) < 32 {
		return fmt.Errorf("%w: BACKEND_TOKEN_SECRET must be at least 32 bytes", domain.ErrConfiguration)
	}

	return nil
}

// normalizeBaseURL guarantees a trailing slash so relative paths resolve under it.
func normalizeBaseURL(raw string) string {
	return strings.TrimRight(strings.TrimSpace(raw), "/") + "/"
}

// getEnv retrieves an environment variable or returns a fallback value
func getEnv(key, fallback string) string {
	// Check for _FILE suffix
	if fileValue := os.Getenv(key + "_FILE"); fileValue != "" {
		content, err := os.ReadFile(fileValue)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}

	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s format: %w", domain.ErrConfiguration, key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: invalid %s value: %w", domain.ErrConfiguration, key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s value: %w", domain.ErrConfiguration, key, err)
	}
	return n, nil
}
