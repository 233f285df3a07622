package gamification

import (
	"github.com/pharm-prep/backend/internal/models"
)

// LessonBaseXP returns XP for finishing a lesson.
func LessonBaseXP() int {
	return 10
}

// AccuracyBonus rewards high lesson scores (0-100).
func AccuracyBonus(score int) int {
	switch {
	case score >= 100:
		return 10
	case score >= 90:
		return 5
	case score >= 80:
		return 2
	default:
		return 0
	}
}

// comboSteps holds the bonus for the 3rd, 4th and 5th answer of a run.
// Every later answer in the run earns comboCap.
var comboSteps = []int{3, 5, 8}

const comboCap = 10

// AnswerComboXP is the bonus earned by the answer that extends a run of
// correct answers to length run.
func AnswerComboXP(run int) int {
	i := run - 3
	switch {
	case i < 0:
		return 0
	case i < len(comboSteps):
		return comboSteps[i]
	default:
		return comboCap
	}
}

// LessonComboXP sums the per-answer bonuses along the learner's longest run.
func LessonComboXP(longestRun int) int {
	total := 0
	for run := 3; run <= longestRun; run++ {
		total += AnswerComboXP(run)
	}
	return total
}

// MaxCombo returns the longest run of correct answers.
func MaxCombo(answers []models.Answer) int {
	best, run := 0, 0
	for _, a := range answers {
		if a.Correct {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

// PracticeXP rewards a practice session: 5 XP plus 1 per correct answer.
func PracticeXP(answers []models.Answer) int {
	xp := 5
	for _, a := range answers {
		if a.Correct {
			xp++
		}
	}
	return xp
}

// LessonXP builds the breakdown for a completed lesson.
func LessonXP(score int, answers []models.Answer, doubleXP bool) models.XPBreakdown {
	b := models.XPBreakdown{
		Base:       LessonBaseXP(),
		Accuracy:   AccuracyBonus(score),
		Combo:      LessonComboXP(MaxCombo(answers)),
		Multiplier: 1,
	}
	if doubleXP {
		b.Multiplier = 2
	}
	b.Total = (b.Base + b.Accuracy + b.Combo) * b.Multiplier
	return b
}

// AddXP credits XP to every running total. xpToday restarts on a new local day.
func AddXP(s models.UserStats, amount int, today string) models.UserStats {
	if amount <= 0 {
		return s
	}
	if s.LastXPDate != today {
		s.XPToday = 0
	}
	s.XPTotal += int64(amount)
	s.XPThisWeek += int64(amount)
	s.XPToday += amount
	s.LastXPDate = today
	return s
}

// ResetXPTodayIfStale zeroes xpToday once the local day has moved on.
func ResetXPTodayIfStale(s models.UserStats, today string) models.UserStats {
	if s.LastXPDate != today {
		s.XPToday = 0
	}
	return s
}

// LevelForXP maps total XP to a level. Level n needs 50*n*(n-1) XP.
func LevelForXP(xp int64) int {
	level := 1
	for level < 999 && xp >= int64(50*(level+1)*level) {
		level++
	}
	return level
}
