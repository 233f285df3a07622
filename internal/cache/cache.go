// Package cache holds the Redis-backed progress store and weekly league
// leaderboard.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection configuration.
type Config struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// ErrConnection is returned when Redis cannot be reached at startup.
var ErrConnection = errors.New("cache: connection failed")

// Key prefixes.
const (
	PrefixProgress = "progress:"
	PrefixLeague   = "league:"
)

// LeagueKeyTTL keeps a closed week readable long enough for late rollovers.
const LeagueKeyTTL = 21 * 24 * time.Hour

// NewClient connects and pings Redis.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return client, nil
}

func progressKey(userID int64) string {
	return fmt.Sprintf("%s%d", PrefixProgress, userID)
}

func leagueKey(weekStart, tier string) string {
	return PrefixLeague + weekStart + ":" + tier
}
