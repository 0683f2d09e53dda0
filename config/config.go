package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-secure-stdlib/parseutil"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// Environment variable names recognized by ApplyEnv. Environment values
// take precedence over the configuration file.
const (
	EnvAPIKey                  = "API_KEY"
	EnvJWTSecretKey            = "JWT_SECRET_KEY"
	EnvJWTAlgorithm            = "JWT_ALGORITHM"
	EnvJWTIssuer               = "JWT_ISSUER"
	EnvAccessTokenExpireMins   = "JWT_ACCESS_TOKEN_EXPIRE_MINUTES"
	EnvRefreshTokenExpireHours = "JWT_REFRESH_TOKEN_EXPIRE_HOURS"
	EnvStorageServiceHost      = "STORAGE_SERVICE_HOST"
	EnvStorageServicePort      = "STORAGE_SERVICE_PORT"
	EnvStoragePoolSize         = "STORAGE_POOL_SIZE"
	EnvHealthCheckInterval     = "HEALTH_CHECK_INTERVAL"
	EnvBreakerThreshold        = "CIRCUIT_BREAKER_FAILURE_THRESHOLD"
	EnvBreakerRecovery         = "CIRCUIT_BREAKER_RECOVERY_TIMEOUT"
	EnvLoginAttemptsPerMinute  = "LOGIN_ATTEMPTS_PER_MINUTE"
)

// Config is the configuration for the edgegate server.
type Config struct {
	LogLevel           string `hcl:"log_level,optional"`
	LogFormat          string `hcl:"log_format,optional"`
	LogFile            string `hcl:"log_file,optional"`
	LogRotateMegabytes int    `hcl:"log_rotate_megabytes,optional"`
	LogRotateMaxFiles  int    `hcl:"log_rotate_max_files,optional"`

	Listener *ListenerBlock `hcl:"listener,block"`
	Auth     *AuthBlock     `hcl:"auth,block"`
	Upstream *UpstreamBlock `hcl:"upstream,block"`
}

type ListenerBlock struct {
	Address     string `hcl:"address"`
	TLSCertFile string `hcl:"tls_cert_file,optional"`
	TLSKeyFile  string `hcl:"tls_key_file,optional"`
	TLSEnabled  bool   `hcl:"tls_enabled,optional"`
}

// AuthBlock configures credential validation and the dispatcher.
type AuthBlock struct {
	// APIKeys is the set of static secrets accepted in the X-API-Key
	// header. At least one is required.
	APIKeys []string `hcl:"api_keys,optional"`

	JWTSecretKey             string `hcl:"jwt_secret_key,optional"`
	JWTAlgorithm             string `hcl:"jwt_algorithm,optional"`
	JWTIssuer                string `hcl:"jwt_issuer,optional"`
	AccessTokenExpireMinutes int    `hcl:"access_token_expire_minutes,optional"`
	RefreshTokenExpireHours  int    `hcl:"refresh_token_expire_hours,optional"`

	// RequireActiveAccount rejects credentials whose embedded
	// is_active flag is false.
	RequireActiveAccount *bool `hcl:"require_active_account,optional"`

	LoginAttemptsPerMinute int `hcl:"login_attempts_per_minute,optional"`

	// BypassPaths are request paths served without authentication
	// (health, docs). Supports trailing * for prefix match and +
	// for single-segment wildcards.
	BypassPaths []string `hcl:"bypass_paths,optional"`

	// IngestPrefix marks webhook delivery endpoints which carry their
	// own token scheme downstream.
	IngestPrefix string `hcl:"ingest_prefix,optional"`

	// RealtimePrefix marks streaming-connection endpoints which
	// authenticate after the protocol handshake.
	RealtimePrefix string `hcl:"realtime_prefix,optional"`
}

// UpstreamBlock configures the connection to the storage microservice.
type UpstreamBlock struct {
	Scheme string `hcl:"scheme,optional"`
	Host   string `hcl:"host,optional"`
	Port   int    `hcl:"port,optional"`

	PoolSize            int    `hcl:"pool_size,optional"`
	HealthCheckInterval string `hcl:"health_check_interval,optional"`

	FailureThreshold int    `hcl:"failure_threshold,optional"`
	RecoveryTimeout  string `hcl:"recovery_timeout,optional"`

	MaxRetries   int    `hcl:"max_retries,optional"`
	RetryWaitMin string `hcl:"retry_wait_min,optional"`
	RetryWaitMax string `hcl:"retry_wait_max,optional"`

	// RateLimit caps outbound requests per second; zero disables it.
	RateLimit float64 `hcl:"rate_limit,optional"`

	// DiscoveryTTL bounds how long a resolved upstream address is
	// memoized before discovery runs again.
	DiscoveryTTL string `hcl:"discovery_ttl,optional"`
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	requireActive := true
	return &Config{
		LogLevel:  "info",
		LogFormat: "default",
		Listener: &ListenerBlock{
			Address: "0.0.0.0:8080",
		},
		Auth: &AuthBlock{
			JWTAlgorithm:             "HS256",
			JWTIssuer:                "edgegate",
			AccessTokenExpireMinutes: 30,
			RefreshTokenExpireHours:  168,
			RequireActiveAccount:     &requireActive,
			LoginAttemptsPerMinute:   5,
			BypassPaths:              []string{"v1/sys/health", "v1/sys/metrics", "docs/*"},
			IngestPrefix:             "v1/ingest/",
			RealtimePrefix:           "v1/realtime/",
		},
		Upstream: &UpstreamBlock{
			Scheme:              "http",
			Host:                "127.0.0.1",
			Port:                9000,
			PoolSize:            50,
			HealthCheckInterval: "30s",
			FailureThreshold:    5,
			RecoveryTimeout:     "60s",
			MaxRetries:          3,
			RetryWaitMin:        "250ms",
			RetryWaitMax:        "4s",
			DiscoveryTTL:        "5m",
		},
	}
}

// LoadConfig loads the configuration file, merges it over defaults and
// applies environment overrides.
func LoadConfig(configFile string) (*Config, error) {
	config := DefaultConfig()

	if configFile != "" {
		var fileConfig Config
		if err := hclsimple.DecodeFile(configFile, nil, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		config.merge(&fileConfig)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) merge(o *Config) {
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	if o.LogFile != "" {
		c.LogFile = o.LogFile
	}
	if o.LogRotateMegabytes != 0 {
		c.LogRotateMegabytes = o.LogRotateMegabytes
	}
	if o.LogRotateMaxFiles != 0 {
		c.LogRotateMaxFiles = o.LogRotateMaxFiles
	}
	if o.Listener != nil {
		c.Listener = o.Listener
	}
	if o.Auth != nil {
		a := c.Auth
		n := o.Auth
		if len(n.APIKeys) > 0 {
			a.APIKeys = n.APIKeys
		}
		if n.JWTSecretKey != "" {
			a.JWTSecretKey = n.JWTSecretKey
		}
		if n.JWTAlgorithm != "" {
			a.JWTAlgorithm = n.JWTAlgorithm
		}
		if n.JWTIssuer != "" {
			a.JWTIssuer = n.JWTIssuer
		}
		if n.AccessTokenExpireMinutes != 0 {
			a.AccessTokenExpireMinutes = n.AccessTokenExpireMinutes
		}
		if n.RefreshTokenExpireHours != 0 {
			a.RefreshTokenExpireHours = n.RefreshTokenExpireHours
		}
		if n.RequireActiveAccount != nil {
			a.RequireActiveAccount = n.RequireActiveAccount
		}
		if n.LoginAttemptsPerMinute != 0 {
			a.LoginAttemptsPerMinute = n.LoginAttemptsPerMinute
		}
		if len(n.BypassPaths) > 0 {
			a.BypassPaths = n.BypassPaths
		}
		if n.IngestPrefix != "" {
			a.IngestPrefix = n.IngestPrefix
		}
		if n.RealtimePrefix != "" {
			a.RealtimePrefix = n.RealtimePrefix
		}
	}
	if o.Upstream != nil {
		u := c.Upstream
		n := o.Upstream
		if n.Scheme != "" {
			u.Scheme = n.Scheme
		}
		if n.Host != "" {
			u.Host = n.Host
		}
		if n.Port != 0 {
			u.Port = n.Port
		}
		if n.PoolSize != 0 {
			u.PoolSize = n.PoolSize
		}
		if n.HealthCheckInterval != "" {
			u.HealthCheckInterval = n.HealthCheckInterval
		}
		if n.FailureThreshold != 0 {
			u.FailureThreshold = n.FailureThreshold
		}
		if n.RecoveryTimeout != "" {
			u.RecoveryTimeout = n.RecoveryTimeout
		}
		if n.MaxRetries != 0 {
			u.MaxRetries = n.MaxRetries
		}
		if n.RetryWaitMin != "" {
			u.RetryWaitMin = n.RetryWaitMin
		}
		if n.RetryWaitMax != "" {
			u.RetryWaitMax = n.RetryWaitMax
		}
		if n.RateLimit != 0 {
			u.RateLimit = n.RateLimit
		}
		if n.DiscoveryTTL != "" {
			u.DiscoveryTTL = n.DiscoveryTTL
		}
	}
}

// ApplyEnv overrides configuration values from the environment.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv(EnvAPIKey); v != "" {
		keys := strings.Split(v, ",")
		c.Auth.APIKeys = c.Auth.APIKeys[:0]
		for _, k := range keys {
			if k = strings.TrimSpace(k); k != "" {
				c.Auth.APIKeys = append(c.Auth.APIKeys, k)
			}
		}
	}
	if v := os.Getenv(EnvJWTSecretKey); v != "" {
		c.Auth.JWTSecretKey = v
	}
	if v := os.Getenv(EnvJWTAlgorithm); v != "" {
		c.Auth.JWTAlgorithm = v
	}
	if v := os.Getenv(EnvJWTIssuer); v != "" {
		c.Auth.JWTIssuer = v
	}
	if v := os.Getenv(EnvAccessTokenExpireMins); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAccessTokenExpireMins, err)
		}
		c.Auth.AccessTokenExpireMinutes = int(n)
	}
	if v := os.Getenv(EnvRefreshTokenExpireHours); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRefreshTokenExpireHours, err)
		}
		c.Auth.RefreshTokenExpireHours = int(n)
	}
	if v := os.Getenv(EnvStorageServiceHost); v != "" {
		c.Upstream.Host = v
	}
	if v := os.Getenv(EnvStorageServicePort); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStorageServicePort, err)
		}
		c.Upstream.Port = int(n)
	}
	if v := os.Getenv(EnvStoragePoolSize); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvStoragePoolSize, err)
		}
		c.Upstream.PoolSize = int(n)
	}
	if v := os.Getenv(EnvHealthCheckInterval); v != "" {
		if _, err := parseutil.ParseDurationSecond(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvHealthCheckInterval, err)
		}
		c.Upstream.HealthCheckInterval = v
	}
	if v := os.Getenv(EnvBreakerThreshold); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBreakerThreshold, err)
		}
		c.Upstream.FailureThreshold = int(n)
	}
	if v := os.Getenv(EnvBreakerRecovery); v != "" {
		if _, err := parseutil.ParseDurationSecond(v); err != nil {
			return fmt.Errorf("invalid %s: %w", EnvBreakerRecovery, err)
		}
		c.Upstream.RecoveryTimeout = v
	}
	if v := os.Getenv(EnvLoginAttemptsPerMinute); v != "" {
		n, err := parseutil.ParseInt(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvLoginAttemptsPerMinute, err)
		}
		c.Auth.LoginAttemptsPerMinute = int(n)
	}
	return nil
}

// Validate checks that the configuration is complete enough to start.
// A missing API key or JWT secret is a fatal configuration error, never
// a runtime silent-allow.
func (c *Config) Validate() error {
	if c.Listener == nil || c.Listener.Address == "" {
		return fmt.Errorf("listener address is required")
	}
	if len(c.Auth.APIKeys) == 0 {
		return fmt.Errorf("at least one API key must be configured (set %s)", EnvAPIKey)
	}
	for _, k := range c.Auth.APIKeys {
		if k == "" {
			return fmt.Errorf("empty API key configured")
		}
	}
	if c.Auth.JWTSecretKey == "" {
		return fmt.Errorf("JWT secret key is required (set %s)", EnvJWTSecretKey)
	}
	if c.Auth.JWTAlgorithm != "HS256" && c.Auth.JWTAlgorithm != "HS384" && c.Auth.JWTAlgorithm != "HS512" {
		return fmt.Errorf("unsupported JWT algorithm %q", c.Auth.JWTAlgorithm)
	}
	if c.Upstream.Host == "" || c.Upstream.Port == 0 {
		return fmt.Errorf("upstream storage service host and port are required")
	}
	return nil
}

// AccessTokenTTL returns the access credential lifetime.
func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.Auth.AccessTokenExpireMinutes) * time.Minute
}

// RefreshTokenTTL returns the refresh credential lifetime.
func (c *Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTokenExpireHours) * time.Hour
}

// UpstreamURL returns the static upstream base URL used as the
// discovery fallback.
func (c *Config) UpstreamURL() string {
	return fmt.Sprintf("%s://%s:%d", c.Upstream.Scheme, c.Upstream.Host, c.Upstream.Port)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := parseutil.ParseDurationSecond(s)
	if err != nil {
		return fallback
	}
	return d
}

// HealthCheckEvery returns the upstream health probe interval.
func (c *Config) HealthCheckEvery() time.Duration {
	return parseDuration(c.Upstream.HealthCheckInterval, 30*time.Second)
}

// BreakerRecoveryTimeout returns the circuit breaker cool-down.
func (c *Config) BreakerRecoveryTimeout() time.Duration {
	return parseDuration(c.Upstream.RecoveryTimeout, time.Minute)
}

// RetryWaitBounds returns the retry backoff bounds.
func (c *Config) RetryWaitBounds() (time.Duration, time.Duration) {
	return parseDuration(c.Upstream.RetryWaitMin, 250*time.Millisecond),
		parseDuration(c.Upstream.RetryWaitMax, 4*time.Second)
}

// DiscoveryCacheTTL returns how long resolved upstream addresses are
// memoized.
func (c *Config) DiscoveryCacheTTL() time.Duration {
	return parseDuration(c.Upstream.DiscoveryTTL, 5*time.Minute)
}
