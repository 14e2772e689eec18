package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port   string
	AppEnv string

	DBDriver      string
	DatabaseURL   string
	DBHost        string
	DBPort        string
	DBUser        string
	DBPass        string
	DBName        string
	DBSSLMode     string
	DBAutoMigrate bool
	LockTimeout   time.Duration

	JWTSecret string
	JWTTTL    time.Duration

	RedisAddr     string
	RedisPassword string
	CacheTTL      time.Duration

	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	ReconcileSchedule   string
	RoomsEmpty404       bool
	RegisterEmailDomain string
	AdminEmail          string
	AdminPassword       string

	// Authz holds AUTHZ_<OP> overrides keyed by op name, e.g. "room.create".
	Authz map[string][]string
}

func (c *Config) Development() bool {
	return c.AppEnv == "development"
}

// Load reads the optional .env file and then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                envOrDefault("PORT", "8080"),
		AppEnv:              strings.ToLower(envOrDefault("APP_ENV", "production")),
		DBDriver:            strings.ToLower(envOrDefault("DB_DRIVER", DriverMySQL)),
		DatabaseURL:         firstEnv("DATABASE_URL", "MYSQL_URL"),
		DBHost:              envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:              os.Getenv("DB_PORT"),
		DBUser:              envOrDefault("DB_USER", "root"),
		DBPass:              os.Getenv("DB_PASS"),
		DBName:              envOrDefault("DB_NAME", "ward_db"),
		DBSSLMode:           envOrDefault("DB_SSLMODE", "disable"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		RedisAddr:           strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		CORSOrigins:         parseList(os.Getenv("CORS_ORIGINS")),
		LogLevel:            strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		RegisterEmailDomain: strings.TrimSpace(os.Getenv("REGISTER_EMAIL_DOMAIN")),
		AdminEmail:          strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword:       os.Getenv("ADMIN_PASSWORD"),
		Authz:               authzFromEnv(os.Environ()),
	}

	if s, ok := os.LookupEnv("RECONCILE_SCHEDULE"); ok {
		cfg.ReconcileSchedule = strings.TrimSpace(s)
	} else {
		cfg.ReconcileSchedule = "@every 5m"
	}

	var err error
	if cfg.DBAutoMigrate, err = envBool("DB_AUTO_MIGRATE", true); err != nil {
		return nil, err
	}
	if cfg.RoomsEmpty404, err = envBool("ROOMS_EMPTY_404", true); err != nil {
		return nil, err
	}
	if cfg.LockTimeout, err = envDuration("LOCK_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.JWTTTL, err = envDuration("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case DriverMySQL, DriverPostgres, DriverMemory:
	default:
		return fmt.Errorf("DB_DRIVER must be mysql, postgres or memory, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		if c.DBDriver != DriverMemory && !c.Development() {
			return fmt.Errorf("JWT_SECRET is required")
		}
		c.JWTSecret = "dev-secret-change-me"
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	return nil
}

func envOrDefault(key, def string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	return value
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// authzFromEnv turns AUTHZ_ROOM_CREATE=admin into {"room.create": ["admin"]}.
func authzFromEnv(environ []string) map[string][]string {
	out := map[string][]string{}
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, "AUTHZ_") {
			continue
		}
		op := strings.ToLower(strings.TrimPrefix(key, "AUTHZ_"))
		op = strings.Replace(op, "_", ".", 1)
		out[op] = parseList(value)
	}
	return out
}
