package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates all runtime settings required by the application.
type Config struct {
	AppName     string
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	Breaker     BreakerConfig
	Audit       AuditConfig
	Context     ContextConfig
	Logger      LoggerConfig
	Migrations  MigrationsConfig
}

type HTTPConfig struct {
	Host          string
	Port          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
	MaxConn       int
	EnablePprof   bool
	EnableMetrics bool
}

type DatabaseConfig struct {
	URL             string
	Host            string
	Port            string
	Name            string
	User            string
	Password        string
	MaxOpenConns    int
	MaxIdleConns    int
	MaxConnLifetime time.Duration
	SSLMode         string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
}

// AuthConfig tunes the security core. CacheTTL is deliberately a deployment
// tunable: shortening it narrows the staleness window at the cost of more
// identity-store traffic.
type AuthConfig struct {
	JWTSecret         string
	FingerprintSecret string
	Issuer            string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
	CacheTTL          time.Duration
	RevocationMaxTTL  time.Duration
}

// RateLimitConfig holds the per-endpoint-class policy table.
type RateLimitConfig struct {
	GeneralLimit       int64
	GeneralWindow      time.Duration
	LoginLimit         int64
	LoginWindow        time.Duration
	MediaRequestLimit  int64
	MediaRequestWindow time.Duration
}

// BreakerConfig tunes the resilient store callers.
type BreakerConfig struct {
	CallTimeout  time.Duration
	OpenTimeout  time.Duration
	MinRequests  int
	FailureRatio float64
}

// AuditConfig controls the security event pipeline.
type AuditConfig struct {
	SpoolPath     string
	QueueSize     int
	DrainInterval time.Duration
	BatchSize     int
	MaxRetries    int
}

type ContextConfig struct {
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type MigrationsConfig struct {
	Enabled bool
	Path    string
}

// Load reads configuration from environment variables (optionally .env)
// and applies sane defaults so the service can boot in any environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		AppName:     getString("APP_NAME", "medianest"),
		Environment: getString("APP_ENV", "development"),
		HTTP: HTTPConfig{
			Host:          getString("SERVER_HOST", "0.0.0.0"),
			Port:          getString("SERVER_PORT", "8080"),
			ReadTimeout:   getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			MaxConn:       getInt("SERVER_MAX_CONN", 0),
			EnablePprof:   getBool("SERVER_ENABLE_PPROF", false),
			EnableMetrics: getBool("SERVER_ENABLE_METRICS", true),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			Host:            getString("DB_HOST", "localhost"),
			Port:            getString("DB_PORT", "5432"),
			Name:            getString("DB_NAME", "medianest"),
			User:            getString("DB_USER", "medianest"),
			Password:        os.Getenv("DB_PASSWORD"),
			MaxOpenConns:    getInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getInt("DB_MAX_IDLE_CONNS", 10),
			MaxConnLifetime: getDuration("DB_CONN_LIFETIME", time.Hour),
			SSLMode:         getString("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			URL:      getString("REDIS_URL", "redis://localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret:         os.Getenv("JWT_SECRET"),
			FingerprintSecret: os.Getenv("FINGERPRINT_SECRET"),
			Issuer:            getString("JWT_ISSUER", "medianest"),
			AccessTTL:         getDuration("AUTH_ACCESS_TTL", time.Hour),
			RefreshTTL:        getDuration("AUTH_REFRESH_TTL", 24*time.Hour),
			CacheTTL:          getDuration("AUTH_CACHE_TTL", 120*time.Second),
			RevocationMaxTTL:  getDuration("AUTH_REVOCATION_MAX_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			GeneralLimit:       int64(getInt("RATE_GENERAL_LIMIT", 100)),
			GeneralWindow:      getDuration("RATE_GENERAL_WINDOW", time.Minute),
			LoginLimit:         int64(getInt("RATE_LOGIN_LIMIT", 5)),
			LoginWindow:        getDuration("RATE_LOGIN_WINDOW", time.Minute),
			MediaRequestLimit:  int64(getInt("RATE_MEDIA_REQUEST_LIMIT", 5)),
			MediaRequestWindow: getDuration("RATE_MEDIA_REQUEST_WINDOW", time.Hour),
		},
		Breaker: BreakerConfig{
			CallTimeout:  getDuration("BREAKER_CALL_TIMEOUT", 50*time.Millisecond),
			OpenTimeout:  getDuration("BREAKER_OPEN_TIMEOUT", 10*time.Second),
			MinRequests:  getInt("BREAKER_MIN_REQUESTS", 10),
			FailureRatio: getFloat("BREAKER_FAILURE_RATIO", 0.6),
		},
		Audit: AuditConfig{
			SpoolPath:     getString("AUDIT_SPOOL_PATH", "./data/audit.db"),
			QueueSize:     getInt("AUDIT_QUEUE_SIZE", 1024),
			DrainInterval: getDuration("AUDIT_DRAIN_INTERVAL", 15*time.Second),
			BatchSize:     getInt("AUDIT_BATCH_SIZE", 100),
			MaxRetries:    getInt("AUDIT_MAX_RETRIES", 5),
		},
		Context: ContextConfig{
			RequestTimeout:  getDuration("REQUEST_TIMEOUT_SECONDS", 5*time.Second),
			ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT_SECONDS", 15*time.Second),
		},
		Logger: LoggerConfig{
			Level:    getString("LOG_LEVEL", "info"),
			Encoding: getString("LOG_ENCODING", "json"),
		},
		Migrations: MigrationsConfig{
			Enabled: getBool("RUN_MIGRATIONS", true),
			Path:    getString("MIGRATIONS_PATH", "./assets/migrations"),
		},
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = buildPostgresURL(cfg)
	}

	return cfg, nil
}

// MustLoad panics if configuration cannot be loaded.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func buildPostgresURL(cfg *Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.Name,
		cfg.Database.SSLMode,
	)
}

func getString(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
		if seconds, err := strconv.Atoi(val); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return fallback
}

// Address returns the HTTP listen address for the fasthttp server.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%s", c.HTTP.Host, c.HTTP.Port)
}
