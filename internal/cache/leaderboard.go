package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Leaderboard ranks learners by weekly XP within a league tier, one sorted
// set per week and tier: league:{weekStart}:{tier}.
type Leaderboard struct {
	client redis.Cmdable
}

func NewLeaderboard(client redis.Cmdable) *Leaderboard {
	return &Leaderboard{client: client}
}

// RecordWeeklyXP sets the learner's score for the week.
func (l *Leaderboard) RecordWeeklyXP(ctx context.Context, userID int64, weekStart, tier string, xp int64) error {
	key := leagueKey(weekStart, tier)
	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(xp), Member: strconv.FormatInt(userID, 10)})
	pipe.Expire(ctx, key, LeagueKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record weekly xp: %w", err)
	}
	return nil
}

// Rank returns the 1-based position for the week, or 0 when the learner never
// scored in it.
func (l *Leaderboard) Rank(ctx context.Context, userID int64, weekStart, tier string) (int, error) {
	// ZRevRank returns 0-based rank (0 = highest score)
	rank, err := l.client.ZRevRank(ctx, leagueKey(weekStart, tier), strconv.FormatInt(userID, 10)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("league rank: %w", err)
	}
	return int(rank) + 1, nil
}
