// Package config loads server settings from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config is read once at startup and treated as immutable.
type Config struct {
	// Server
	HTTPAddr        string
	GRPCHealthAddr  string // empty disables the gRPC health endpoint
	ShutdownTimeout time.Duration

	// Storage
	StoreDriver  string
	DatabaseURL  string
	DBMaxConns   int32
	MongoURI     string
	MongoDB      string
	StoreTimeout time.Duration

	// Sessions
	RedisURL     string // empty keeps revoked tokens in process memory
	JWTSecret    string
	TokenTTL     time.Duration
	BcryptCost   int
	CookieSecure bool
	CookieDomain string

	// Abuse controls
	RateLimitRPS   float64
	RateLimitBurst int
	LoginMaxFails  int
	LoginWindow    time.Duration
	LoginBlockFor  time.Duration

	// CORS
	CORSAllowedOrigins []string

	// Catalog
	CatalogBaseURL  string
	CatalogAPIKey   string
	CatalogCacheLen int
	CatalogCacheTTL time.Duration

	// Logging
	LogLevel string
	LogFile  string
}

// Load reads the given dotenv files (missing ones are skipped; real environment wins)
// and then builds a Config from environment variables.
func Load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		HTTPAddr:        getEnvString("HTTP_ADDR", ":8080"),
		GRPCHealthAddr:  getEnvString("GRPC_HEALTH_ADDR", ":8081"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		StoreDriver:  strings.ToLower(getEnvString("STORE_DRIVER", DriverPostgres)),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		DBMaxConns:   int32(getEnvInt("DB_MAX_CONNS", 0)),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getEnvString("MONGO_DB", "streamvault"),
		StoreTimeout: getEnvDuration("STORE_TIMEOUT", 3*time.Second),

		RedisURL:     os.Getenv("REDIS_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		TokenTTL:     getEnvDuration("TOKEN_TTL", 24*time.Hour),
		BcryptCost:   getEnvInt("BCRYPT_COST", 12),
		CookieSecure: getEnvBool("COOKIE_SECURE", true),
		CookieDomain: os.Getenv("COOKIE_DOMAIN"),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 20),
		LoginMaxFails:  getEnvInt("LOGIN_MAX_FAILS", 5),
		LoginWindow:    getEnvDuration("LOGIN_WINDOW", 15*time.Minute),
		LoginBlockFor:  getEnvDuration("LOGIN_BLOCK_FOR", 15*time.Minute),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		CatalogBaseURL:  getEnvString("CATALOG_BASE_URL", "https://api.themoviedb.org/3"),
		CatalogAPIKey:   os.Getenv("CATALOG_API_KEY"),
		CatalogCacheLen: getEnvInt("CATALOG_CACHE_SIZE", 1024),
		CatalogCacheTTL: getEnvDuration("CATALOG_CACHE_TTL", 30*time.Minute),

		LogLevel: getEnvString("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case DriverMongo:
		if c.MongoURI == "" {
			missing = append(missing, "MONGO_URI")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	// the memory driver is for local runs; it may fall back to a random secret
	if c.JWTSecret == "" && c.StoreDriver != DriverMemory {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	if c.StoreTimeout <= 0 {
		return fmt.Errorf("STORE_TIMEOUT must be positive")
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
