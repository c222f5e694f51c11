package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// EnvDevelopment enables verbose auth diagnostics. Never set in production:
	// the debug output includes raw tokens.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// DefaultCORSMaxAge caches CORS preflight responses for 24 hours.
	DefaultCORSMaxAge = 86400
)

// defaultAllowedOrigins is the compiled-in collect allowlist. A deployment
// can replace it via ALLOWED_ORIGINS_FILE without rebuilding.
var defaultAllowedOrigins = []string{
	"https://beacond.dev",
	"https://www.beacond.dev",
	"https://demo.beacond.dev",
}

// Config holds all configuration for the application
type Config struct {
	// Runtime environment: development or production
	Env string

	// Secret used to sign auth and share tokens
	AppSecret string

	// HTTP listen port
	Port string

	// Database Configuration
	Database DatabaseConfig

	// Redis Configuration
	Redis RedisConfig

	// CORS Configuration for the collect endpoints
	CORS CORSConfig

	// Logging Configuration
	Logging LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Address string // Redis address (host:port)
	// CacheEnabled turns on auth-key lookups against Redis. The task queue
	// uses Redis regardless of this flag.
	CacheEnabled bool
}

// CORSConfig holds the collect-endpoint origin policy
type CORSConfig struct {
	// AllowedOrigins is the exact-match origin allowlist, immutable after Load
	AllowedOrigins []string
	// MaxAge is the preflight cache duration in seconds
	MaxAge int
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level  string
	Format string // json, console
}

// IsDevelopment reports whether verbose diagnostics are enabled
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env files (fails silently if files don't exist)
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = EnvProduction
	}

	appSecret := os.Getenv("APP_SECRET")
	if appSecret == "" {
		return nil, fmt.Errorf("APP_SECRET is required")
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = "3000"
	}

	// Database URL - default to a local sqlite file, allow override for dev
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "beacond.sqlite"
	}

	// Redis address - default to localhost:6379, allow override for dev/docker
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	cacheEnabled := os.Getenv("CACHE_ENABLED") == "true"

	origins, err := loadAllowedOrigins(os.Getenv("ALLOWED_ORIGINS_FILE"))
	if err != nil {
		return nil, err
	}

	// Logging configuration - production defaults to info; development
	// defaults to debug so the auth diagnostics are actually visible
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
		if env == EnvDevelopment {
			logLevel = "debug"
		}
	}

	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}

	return &Config{
		Env:       env,
		AppSecret: appSecret,
		Port:      port,
		Database: DatabaseConfig{
			URL: dbURL,
		},
		Redis: RedisConfig{
			Address:      redisAddr,
			CacheEnabled: cacheEnabled,
		},
		CORS: CORSConfig{
			AllowedOrigins: origins,
			MaxAge:         ParseCORSMaxAge(os.Getenv("CORS_MAX_AGE")),
		},
		Logging: LoggingConfig{
			Level:  logLevel,
			Format: logFormat,
		},
	}, nil
}

// ParseCORSMaxAge parses the CORS_MAX_AGE value in seconds. Absent,
// non-numeric, or negative values fall back to DefaultCORSMaxAge; a
// negative Access-Control-Max-Age has no defined browser behavior.
func ParseCORSMaxAge(value string) int {
	if value == "" {
		return DefaultCORSMaxAge
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return DefaultCORSMaxAge
	}
	return seconds
}

// originsFile is the YAML shape of the optional allowlist override
type originsFile struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// loadAllowedOrigins returns the compiled-in allowlist, or the contents of
// the YAML file at path when configured
func loadAllowedOrigins(path string) ([]string, error) {
	if path == "" {
		return defaultAllowedOrigins, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowed origins file: %w", err)
	}

	var f originsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse allowed origins file: %w", err)
	}

	if len(f.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("allowed origins file %s defines no origins", path)
	}

	return f.AllowedOrigins, nil
}
