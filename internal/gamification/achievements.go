package gamification

import (
	"sort"

	"github.com/pharm-prep/backend/internal/models"
)

// AchievementDef defines a single badge.
type AchievementDef struct {
	Name        string
	Description string
	earned      func(prog models.UserProgress, p Policy) bool
}

// Achievements maps badge keys to their definitions. Badges are derived from
// the aggregate on every read and never stored.
var Achievements = map[string]AchievementDef{
	"first_lesson": {"First Steps", "Complete your first lesson", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.LessonsCompleted >= 1
	}},
	"lessons_25": {"Regular", "Complete 25 lessons", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.LessonsCompleted >= 25
	}},
	"lessons_100": {"Clinician", "Complete 100 lessons", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.LessonsCompleted >= 100
	}},
	"streak_7": {"Week Warrior", "Reach a 7-day streak", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.StreakBest >= 7
	}},
	"streak_30": {"Monthly Master", "Reach a 30-day streak", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.StreakBest >= 30
	}},
	"streak_100": {"Centurion", "Reach a 100-day streak", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.StreakBest >= 100
	}},
	"xp_1000": {"Rising Star", "Earn 1,000 total XP", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.XPTotal >= 1000
	}},
	"xp_10000": {"Powerhouse", "Earn 10,000 total XP", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.XPTotal >= 10000
	}},
	"league_silver": {"Silver League", "Reach Silver league", func(prog models.UserProgress, _ Policy) bool {
		return tierIndex(prog.Stats.LeagueTier) >= tierIndex(models.LeagueSilver)
	}},
	"league_gold": {"Gold League", "Reach Gold league", func(prog models.UserProgress, _ Policy) bool {
		return prog.Stats.LeagueTier == models.LeagueGold
	}},
	"drug_master": {"Drug Master", "Bring a drug to the top mastery level", func(prog models.UserProgress, p Policy) bool {
		for _, m := range prog.DrugMastery {
			if m.MasteryLevel >= p.DrugMaxLevel {
				return true
			}
		}
		return false
	}},
	"concepts_10": {"Conceptual", "Master 10 concepts", func(prog models.UserProgress, _ Policy) bool {
		n := 0
		for _, c := range prog.ConceptMastery {
			if c.Mastered {
				n++
			}
		}
		return n >= 10
	}},
}

// EarnedAchievements returns the keys of every badge the learner holds, sorted.
func EarnedAchievements(prog models.UserProgress, p Policy) []string {
	earned := []string{}
	for key, def := range Achievements {
		if def.earned(prog, p) {
			earned = append(earned, key)
		}
	}
	sort.Strings(earned)
	return earned
}
