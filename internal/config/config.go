package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mishalsheza/queue-ease/internal/storage"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Port        string
	StoreDriver string
	Postgres    storage.PostgresConfig
	Redis       storage.RedisConfig

	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration

	LockTimeout         time.Duration
	RecentWindow        time.Duration
	ServedResetSchedule string

	LogLevel    string
	LogFormat   string
	CORSOrigins []string
	GinMode     string
}

// LoadEnv reads .env unless ENV_CHEK says the environment is already set up.
func LoadEnv() error {
	if os.Getenv("ENV_CHEK") != "" {
		return nil
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func Load() (Config, error) {
	cfg := Config{
		Port:        readString("PORT", "8080"),
		StoreDriver: strings.ToLower(readString("STORE_DRIVER", DriverPostgres)),
		Postgres: storage.PostgresConfig{
			Host:     os.Getenv("DB_HOST"),
			Port:     readString("DB_PORT", "5432"),
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Name:     os.Getenv("DB_NAME"),
			SSLMode:  os.Getenv("DB_SSLMODE"),
		},
		Redis: storage.RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       readInt("REDIS_DB", 0),
		},
		AccessSecret:        os.Getenv("JWT_ACCESS_SECRET"),
		RefreshSecret:       os.Getenv("JWT_REFRESH_SECRET"),
		AccessTTL:           time.Duration(readInt("ACCESS_TOKEN_TTL_MINUTES", 15)) * time.Minute,
		RefreshTTL:          time.Duration(readInt("REFRESH_TOKEN_TTL_HOURS", 168)) * time.Hour,
		LockTimeout:         readDurationSeconds("LOCK_TIMEOUT_SECONDS", 5),
		RecentWindow:        time.Duration(readInt("RECENT_COMPLETED_MINUTES", 10)) * time.Minute,
		ServedResetSchedule: readString("SERVED_RESET_SCHEDULE", "0 0 0 * * *"),
		LogLevel:            readString("LOG_LEVEL", "info"),
		LogFormat:           readString("LOG_FORMAT", "json"),
		CORSOrigins:         readList("CORS_ORIGINS", []string{"*"}),
		GinMode:             os.Getenv("GIN_MODE"),
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.Postgres.Host == "" || c.Postgres.Name == "" {
			return fmt.Errorf("DB_HOST and DB_NAME are required for the %s store", DriverPostgres)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.AccessSecret == "" || c.RefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}
	return nil
}

func readString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readList(key string, fallback []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
