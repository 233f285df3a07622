package gamification

import (
	"context"
	"time"

	"github.com/pharm-prep/backend/internal/models"
)

// Leaderboard supplies a learner's rank within their tier for a league week.
// Rank 0 means unknown.
type Leaderboard interface {
	Rank(ctx context.Context, userID int64, weekStart, tier string) (int, error)
}

// ScoreRecorder is implemented by leaderboards that accept weekly XP pushes.
type ScoreRecorder interface {
	RecordWeeklyXP(ctx context.Context, userID int64, weekStart, tier string, xp int64) error
}

func tierIndex(tier string) int {
	for i, t := range models.LeagueLadder {
		if t == tier {
			return i
		}
	}
	return 0
}

// PromoteTier moves one step up the ladder; Gold stays Gold.
func PromoteTier(tier string) string {
	i := tierIndex(tier)
	if i+1 < len(models.LeagueLadder) {
		return models.LeagueLadder[i+1]
	}
	return models.LeagueLadder[i]
}

// DemoteTier moves one step down the ladder; Bronze stays Bronze.
func DemoteTier(tier string) string {
	i := tierIndex(tier)
	if i > 0 {
		return models.LeagueLadder[i-1]
	}
	return models.LeagueLadder[0]
}

// EvaluateLeagueWeek decides the tier for next week from the final rank.
func EvaluateLeagueWeek(tier string, rank int, p Policy) models.LeagueWeekResult {
	tier = models.LeagueLadder[tierIndex(tier)]
	res := models.LeagueWeekResult{PreviousTier: tier, NewTier: tier, Rank: rank}
	switch {
	case rank > 0 && rank <= p.PromotionCutoff:
		res.NewTier = PromoteTier(tier)
	case rank >= p.DemotionCutoff:
		res.NewTier = DemoteTier(tier)
	}
	res.Promoted = tierIndex(res.NewTier) > tierIndex(tier)
	res.Demoted = tierIndex(res.NewTier) < tierIndex(tier)
	res.Stayed = !res.Promoted && !res.Demoted
	return res
}

// LeagueWeekDue reports whether the stored league week has ended.
// An unreadable week start is not due; the engine re-anchors it instead.
func LeagueWeekDue(s models.UserStats, currentWeek string) bool {
	stored, err := time.Parse("2006-01-02", s.LeagueWeekStart)
	if err != nil {
		return false
	}
	current, err := time.Parse("2006-01-02", currentWeek)
	if err != nil {
		return false
	}
	return current.After(stored)
}

// AnchorLeagueWeek sets a missing or unreadable week start to currentWeek.
func AnchorLeagueWeek(s models.UserStats, currentWeek string) models.UserStats {
	if _, err := time.Parse("2006-01-02", s.LeagueWeekStart); err != nil {
		s.LeagueWeekStart = currentWeek
	}
	if s.LeagueTier == "" {
		s.LeagueTier = models.LeagueBronze
	}
	return s
}

// RollLeagueWeek closes the stored week with the given rank and opens
// currentWeek. It is a no-op unless LeagueWeekDue.
func RollLeagueWeek(s models.UserStats, currentWeek string, rank int, p Policy) (models.UserStats, *models.LeagueWeekResult) {
	if !LeagueWeekDue(s, currentWeek) {
		return s, nil
	}
	res := EvaluateLeagueWeek(s.LeagueTier, rank, p)
	res.XPEarned = s.XPThisWeek
	res.WeekStart = s.LeagueWeekStart
	s.LeagueTier = res.NewTier
	s.XPThisWeek = 0
	s.LeagueWeekStart = currentWeek
	return s, &res
}
