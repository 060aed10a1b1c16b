// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the gRPC health endpoint (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is the redis:// URL of the shared token blacklist. Empty selects the in-process blacklist.
	RedisURL string `mapstructure:"REDIS_URL"`
	// RedisKeyPrefix namespaces blacklist keys.
	RedisKeyPrefix string `mapstructure:"REDIS_KEY_PREFIX"`

	// JWTPrivateKey is the PEM-encoded private key (RSA or ECDSA) or path to file.
	JWTPrivateKey string `mapstructure:"JWT_PRIVATE_KEY"`
	// JWTPublicKey is the PEM-encoded public key or path to file; used with JWT_PRIVATE_KEY.
	JWTPublicKey string `mapstructure:"JWT_PUBLIC_KEY"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "30m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh session lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`

	// MaxSessionsPerAccount caps concurrently active refresh sessions per account.
	MaxSessionsPerAccount int `mapstructure:"MAX_SESSIONS_PER_ACCOUNT"`
	// RotationThreshold is the session age after which a refresh rotates the pair.
	RotationThreshold string `mapstructure:"ROTATION_THRESHOLD"`
	// StaleThreshold is the idle time after which a refresh rotates the pair.
	StaleThreshold string `mapstructure:"STALE_THRESHOLD"`

	// MaxFailedLogins is both the brute-force threshold and the account lockout threshold.
	MaxFailedLogins int `mapstructure:"MAX_FAILED_LOGINS"`
	// BruteForceWindow is the lookback for failed-login counting (e.g. "15m").
	BruteForceWindow string `mapstructure:"BRUTE_FORCE_WINDOW"`
	// RapidWindow is the lookback for repeated-action counting (e.g. "5m").
	RapidWindow string `mapstructure:"RAPID_WINDOW"`
	// RapidActionThresholds is a comma-separated ACTION=N list (e.g. "LOGIN_SUCCESS=3,FILE_DOWNLOAD=20").
	RapidActionThresholds string `mapstructure:"RAPID_ACTION_THRESHOLDS"`
	// RapidDefaultThreshold applies to actions without an explicit threshold.
	RapidDefaultThreshold int `mapstructure:"RAPID_DEFAULT_THRESHOLD"`
	// GeoAnomalyWindow is how soon after a login from another subnet a new one is flagged.
	GeoAnomalyWindow string `mapstructure:"GEO_ANOMALY_WINDOW"`
	// SuspiciousAgents is a comma-separated list of lowercase user agent signatures.
	SuspiciousAgents string `mapstructure:"SUSPICIOUS_AGENTS"`

	// CleanupInterval is how often the worker purges aged-out sessions.
	CleanupInterval string `mapstructure:"CLEANUP_INTERVAL"`
	// SessionRetention is how long expired sessions are kept before purge.
	SessionRetention string `mapstructure:"SESSION_RETENTION"`
	// LoginRatePerMinute limits login and refresh calls per client IP.
	LoginRatePerMinute int `mapstructure:"LOGIN_RATE_PER_MINUTE"`

	// OTLPEndpoint is the OTLP gRPC collector; empty disables export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	// OTLPInsecure forces plaintext to the collector.
	OTLPInsecure bool `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	// ServiceName is the OTel service.name resource attribute.
	ServiceName string `mapstructure:"OTEL_SERVICE_NAME"`
	// KafkaBrokers is a comma-separated broker list; when set, audit events are streamed to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// AuditKafkaTopic is the Kafka topic for audit events.
	AuditKafkaTopic string `mapstructure:"AUDIT_KAFKA_TOPIC"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogPretty enables human-readable console logs.
	LogPretty bool `mapstructure:"LOG_PRETTY"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_KEY_PREFIX", "cotai")
	v.SetDefault("JWT_PRIVATE_KEY", "")
	v.SetDefault("JWT_PUBLIC_KEY", "")
	v.SetDefault("JWT_ISSUER", "cotai-auth")
	v.SetDefault("JWT_AUDIENCE", "cotai-api")
	v.SetDefault("JWT_ACCESS_TTL", "30m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_SESSIONS_PER_ACCOUNT", 5)
	v.SetDefault("ROTATION_THRESHOLD", "6h")
	v.SetDefault("STALE_THRESHOLD", "24h")
	v.SetDefault("MAX_FAILED_LOGINS", 5)
	v.SetDefault("BRUTE_FORCE_WINDOW", "15m")
	v.SetDefault("RAPID_WINDOW", "5m")
	v.SetDefault("RAPID_ACTION_THRESHOLDS", "LOGIN_SUCCESS=3,FILE_DOWNLOAD=20,API_REQUEST=100,PASSWORD_CHANGED=2,MFA_VERIFY=10")
	v.SetDefault("RAPID_DEFAULT_THRESHOLD", 50)
	v.SetDefault("GEO_ANOMALY_WINDOW", "1h")
	v.SetDefault("SUSPICIOUS_AGENTS", "bot,crawler,spider,scraper,automated,curl,wget,python,java,go-http")
	v.SetDefault("CLEANUP_INTERVAL", "1h")
	v.SetDefault("SESSION_RETENTION", "720h") // 30d
	v.SetDefault("LOGIN_RATE_PER_MINUTE", 30)
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "cotai-security")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("AUDIT_KAFKA_TOPIC", "cotai-audit")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxSessionsPerAccount < 1 {
		return nil, errors.New("config: MAX_SESSIONS_PER_ACCOUNT must be at least 1")
	}
	if cfg.MaxFailedLogins < 1 {
		return nil, errors.New("config: MAX_FAILED_LOGINS must be at least 1")
	}
	if _, err := parseThresholds(cfg.RapidActionThresholds); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 30m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return durationOr(c.JWTAccessTTL, 30*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return durationOr(c.JWTRefreshTTL, 168*time.Hour)
}

// RotationAge returns the session age that forces rotation. Defaults to 6h.
func (c *Config) RotationAge() time.Duration {
	return durationOr(c.RotationThreshold, 6*time.Hour)
}

// StaleAge returns the idle time that forces rotation. Defaults to 24h.
func (c *Config) StaleAge() time.Duration {
	return durationOr(c.StaleThreshold, 24*time.Hour)
}

// BruteForceLookback returns the failed-login window. Defaults to 15m.
func (c *Config) BruteForceLookback() time.Duration {
	return durationOr(c.BruteForceWindow, 15*time.Minute)
}

// RapidLookback returns the repeated-action window. Defaults to 5m.
func (c *Config) RapidLookback() time.Duration {
	return durationOr(c.RapidWindow, 5*time.Minute)
}

// GeoLookback returns the geographic anomaly window. Defaults to 1h.
func (c *Config) GeoLookback() time.Duration {
	return durationOr(c.GeoAnomalyWindow, time.Hour)
}

// CleanupEvery returns the worker interval. Defaults to 1h.
func (c *Config) CleanupEvery() time.Duration {
	return durationOr(c.CleanupInterval, time.Hour)
}

// Retention returns how long expired sessions are kept. Defaults to 30 days.
func (c *Config) Retention() time.Duration {
	return durationOr(c.SessionRetention, 720*time.Hour)
}

// RapidThresholds returns the per-action thresholds parsed from RapidActionThresholds.
// Load has already validated the format, so parse errors yield an empty map.
func (c *Config) RapidThresholds() map[string]int {
	m, err := parseThresholds(c.RapidActionThresholds)
	if err != nil {
		return map[string]int{}
	}
	return m
}

// SuspiciousAgentList returns the lowercase user agent signatures.
func (c *Config) SuspiciousAgentList() []string {
	return splitList(strings.ToLower(c.SuspiciousAgents))
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the audit stream is enabled (non-empty list).
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseThresholds(s string) (map[string]int, error) {
	out := make(map[string]int)
	for _, pair := range splitList(s) {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, errors.New("config: RAPID_ACTION_THRESHOLDS entries must be ACTION=N")
		}
		n, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || n < 1 {
			return nil, errors.New("config: RAPID_ACTION_THRESHOLDS values must be positive integers")
		}
		out[strings.ToUpper(strings.TrimSpace(name))] = n
	}
	return out, nil
}
