// Package config loads server settings from the environment and the optional
// policy override file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pharm-prep/backend/internal/gamification"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
	StoreDriverRedis    = "redis"

	LeaderboardRedis = "redis"
	LeaderboardNone  = "none"
)

// Config holds all server configuration.
type Config struct {
	Port        string
	StoreDriver string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LeaderboardDriver string

	JWTSecret        string
	StreakServiceURL string
	PolicyFile       string
	ShutdownTimeout  time.Duration

	// EngineIdleTimeout evicts learners whose engine went unused this long.
	EngineIdleTimeout time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		StoreDriver: getEnv("STORE_DRIVER", StoreDriverPostgres),

		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "pharm_user"),
		DBPassword: getEnv("DB_PASSWORD", "pharm_password"),
		DBName:     getEnv("DB_NAME", "pharm_prep"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),
		SQLitePath: getEnv("SQLITE_PATH", "data/progress.db"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LeaderboardDriver: getEnv("LEADERBOARD_DRIVER", LeaderboardNone),

		JWTSecret:        getEnv("JWT_SECRET", ""),
		StreakServiceURL: getEnv("STREAK_SERVICE_URL", ""),
		PolicyFile:       getEnv("POLICY_FILE", ""),
		ShutdownTimeout:  getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		EngineIdleTimeout: getEnvDuration("ENGINE_IDLE_TIMEOUT", 30*time.Minute),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverSQLite, StoreDriverRedis:
	default:
		return fmt.Errorf("STORE_DRIVER must be postgres, sqlite or redis, got %q", c.StoreDriver)
	}
	switch c.LeaderboardDriver {
	case LeaderboardRedis, LeaderboardNone:
	default:
		return fmt.Errorf("LEADERBOARD_DRIVER must be redis or none, got %q", c.LeaderboardDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("SHUTDOWN_TIMEOUT must be positive")
	}
	if c.EngineIdleTimeout <= 0 {
		return errors.New("ENGINE_IDLE_TIMEOUT must be positive")
	}
	return nil
}

// PostgresDSN builds the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

// NeedsRedis reports whether any component is backed by Redis.
func (c *Config) NeedsRedis() bool {
	return c.StoreDriver == StoreDriverRedis || c.LeaderboardDriver == LeaderboardRedis
}

// LoadPolicy returns the default policy overlaid with the YAML file at path.
// An empty path yields the defaults.
func LoadPolicy(path string) (gamification.Policy, error) {
	p := gamification.DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("parse policy file: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}
