package gamification

import (
	"time"

	"github.com/pharm-prep/backend/internal/models"
)

// ReconcileHearts restores hearts for every whole regeneration interval that
// has elapsed since NextHeartAt. It is a pure function of (stats, now) and
// idempotent for a fixed now.
func ReconcileHearts(s models.UserStats, now time.Time, p Policy) models.UserStats {
	if s.HeartsMax <= 0 {
		s.HeartsMax = p.HeartsMax
	}
	if s.Hearts < 0 {
		s.Hearts = 0
	}
	if s.Hearts >= s.HeartsMax {
		s.Hearts = s.HeartsMax
		s.NextHeartAt = ""
		return s
	}

	next, err := time.Parse(time.RFC3339, s.NextHeartAt)
	if err != nil {
		// Missing or malformed timer: start counting from now rather than
		// granting hearts for an unknown amount of elapsed time.
		s.NextHeartAt = formatInstant(now.Add(p.HeartRegenInterval))
		return s
	}
	if next.After(now.Add(p.HeartRegenInterval)) {
		// Clock moved backwards. Cap the wait at one interval.
		s.NextHeartAt = formatInstant(now.Add(p.HeartRegenInterval))
		return s
	}
	if now.Before(next) {
		return s
	}

	elapsed := int64(now.Sub(next) / p.HeartRegenInterval)
	regained := elapsed + 1
	missing := int64(s.HeartsMax - s.Hearts)
	if regained >= missing {
		s.Hearts = s.HeartsMax
		s.NextHeartAt = ""
		return s
	}
	s.Hearts += int(regained)
	s.NextHeartAt = formatInstant(next.Add(time.Duration(regained) * p.HeartRegenInterval))
	return s
}

// ConsumeHeart spends one heart to start a lesson and starts the regeneration
// timer if none is running.
func ConsumeHeart(s models.UserStats, now time.Time, p Policy) (models.UserStats, error) {
	if s.Hearts <= 0 {
		return s, ErrInsufficientHearts
	}
	s.Hearts--
	if s.Hearts < s.HeartsMax && s.NextHeartAt == "" {
		s.NextHeartAt = formatInstant(now.Add(p.HeartRegenInterval))
	}
	return s, nil
}

// RefillHearts buys a full set of hearts with coins. A refill at full hearts
// is rejected rather than charged.
func RefillHearts(s models.UserStats, p Policy) (models.UserStats, error) {
	if s.Hearts >= s.HeartsMax {
		return s, ErrHeartsFull
	}
	if s.Coins < p.HeartRefillCost {
		return s, ErrInsufficientCoins
	}
	s.Coins -= p.HeartRefillCost
	s.Hearts = s.HeartsMax
	s.NextHeartAt = ""
	return s, nil
}

func formatInstant(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseInstant returns the stored instant, or fallback when it is missing or
// malformed.
func parseInstant(s string, fallback time.Time) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fallback
	}
	return t
}
