package gamification

import (
	"github.com/pharm-prep/backend/internal/clock"
	"github.com/pharm-prep/backend/internal/models"
)

// StreakPhase is where the local streak stands relative to today.
type StreakPhase string

const (
	StreakNew          StreakPhase = "new"
	StreakCountedToday StreakPhase = "counted_today"
	StreakAlive        StreakPhase = "alive"
	StreakPendingBreak StreakPhase = "pending_break"
	StreakBroken       StreakPhase = "broken"
)

// EvaluateStreak classifies the streak for the learner's local date today.
// A malformed or future LastActiveDate counts as already active today.
func EvaluateStreak(s models.UserStats, today string) StreakPhase {
	if s.LastActiveDate == "" {
		return StreakNew
	}
	gap, ok := clock.DaysBetween(s.LastActiveDate, today)
	if !ok || gap <= 0 {
		return StreakCountedToday
	}
	switch {
	case gap == 1:
		return StreakAlive
	case gap == 2 && s.StreakCurrent > 0:
		return StreakPendingBreak
	default:
		return StreakBroken
	}
}

// CatchUpStreak applies the transitions that need no user decision: a streak
// that missed more than one day drops to zero, and unreadable dates are
// repaired to today.
func CatchUpStreak(s models.UserStats, today string) models.UserStats {
	if s.LastActiveDate != "" {
		if gap, ok := clock.DaysBetween(s.LastActiveDate, today); !ok || gap < 0 {
			s.LastActiveDate = today
		}
	}
	if EvaluateStreak(s, today) == StreakBroken {
		s.StreakCurrent = 0
	}
	return s
}

// RecordStreakActivity counts a qualifying activity on today. extended is true
// when the streak grew.
func RecordStreakActivity(s models.UserStats, today string) (out models.UserStats, extended bool) {
	switch EvaluateStreak(s, today) {
	case StreakNew:
		s.StreakCurrent = 1
		s.LastActiveDate = today
		extended = true
	case StreakAlive:
		s.StreakCurrent++
		s.LastActiveDate = today
		extended = true
	case StreakBroken:
		// The restart day is only a marker. The new streak starts at 1 on the
		// next consecutive active day, so a break stays at 0 today.
		s.StreakCurrent = 0
		s.LastActiveDate = today
	case StreakPendingBreak, StreakCountedToday:
		// Pending breaks wait for useStreakSave / acceptStreakBreak.
	}
	if s.StreakCurrent > s.StreakBest {
		s.StreakBest = s.StreakCurrent
	}
	return s, extended
}

// UseStreakSave spends a token to cover the missed day. If the learner was
// already active today, today's activity is counted right away.
func UseStreakSave(s models.UserStats, today string, activeToday bool) (models.UserStats, bool, error) {
	if EvaluateStreak(s, today) != StreakPendingBreak {
		return s, false, ErrNoPendingBreak
	}
	if s.StreakSaves <= 0 {
		return s, false, ErrNoStreakSaveAvailable
	}
	s.StreakSaves--
	s.LastActiveDate = clock.AddDays(today, -1)
	if !activeToday {
		return s, false, nil
	}
	s, extended := RecordStreakActivity(s, today)
	return s, extended, nil
}

// AcceptStreakBreak confirms the reset. Today becomes the restart day.
func AcceptStreakBreak(s models.UserStats, today string) (models.UserStats, error) {
	if EvaluateStreak(s, today) != StreakPendingBreak {
		return s, ErrNoPendingBreak
	}
	s.StreakCurrent = 0
	s.LastActiveDate = today
	return s, nil
}

// BuyStreakSave buys one token while a break is pending.
func BuyStreakSave(s models.UserStats, today string, p Policy) (models.UserStats, error) {
	if EvaluateStreak(s, today) != StreakPendingBreak {
		return s, ErrNoPendingBreak
	}
	return purchaseStreakSave(s, p)
}

func purchaseStreakSave(s models.UserStats, p Policy) (models.UserStats, error) {
	if s.StreakSaves >= p.MaxStreakSaves {
		return s, ErrStreakSavesFull
	}
	if s.Coins < p.StreakSaveCost {
		return s, ErrInsufficientCoins
	}
	s.Coins -= p.StreakSaveCost
	s.StreakSaves++
	return s, nil
}

// MissedDay is the uncovered day of a pending break.
func MissedDay(s models.UserStats, today string) string {
	if EvaluateStreak(s, today) != StreakPendingBreak {
		return ""
	}
	return clock.AddDays(today, -1)
}

// EffectiveStreak is the streak to display. A validated server status wins;
// otherwise the local value is shown, zeroed once the streak is broken.
func EffectiveStreak(s models.UserStats, phase StreakPhase, server *models.ServerStreakStatus) int {
	if server != nil {
		if server.Status == models.StreakLost {
			return 0
		}
		return server.StreakCurrent
	}
	if phase == StreakBroken {
		return 0
	}
	return s.StreakCurrent
}
