package gamification

import (
	"sort"
	"time"

	"github.com/pharm-prep/backend/internal/clock"
	"github.com/pharm-prep/backend/internal/models"
)

// Spacing returns the review interval for a drug mastery level. The table is
// non-decreasing, so level 0 is always the shortest interval.
func Spacing(level int, p Policy) time.Duration {
	if level < 0 {
		level = 0
	}
	if level >= len(p.DrugSpacing) {
		level = len(p.DrugSpacing) - 1
	}
	return p.DrugSpacing[level]
}

// UpdateDrugMastery moves a drug one step up or down the ladder and reschedules
// its next review.
func UpdateDrugMastery(m models.DrugMastery, correct bool, now time.Time, p Policy) models.DrugMastery {
	if correct {
		m.MasteryLevel++
		if m.MasteryLevel > p.DrugMaxLevel {
			m.MasteryLevel = p.DrugMaxLevel
		}
	} else {
		m.MasteryLevel--
		if m.MasteryLevel < 0 {
			m.MasteryLevel = 0
		}
	}
	m.LastSeen = formatInstant(now)
	m.NextReview = formatInstant(now.Add(Spacing(m.MasteryLevel, p)))
	return m
}

// UpdateConceptMastery applies one answer to a concept.
func UpdateConceptMastery(c models.ConceptMastery, correct bool, now time.Time, p Policy) models.ConceptMastery {
	switch {
	case correct:
		c.CorrectStreak++
		if !c.Mastered && c.CorrectStreak >= p.ConceptMasteryThreshold {
			c.Mastered = true
			c.WrongSinceMastered = 0
		}
	case c.Mastered:
		c.WrongSinceMastered++
		if c.WrongSinceMastered >= p.ConceptDemotionThreshold {
			c.Mastered = false
			c.CorrectStreak = 0
			c.WrongSinceMastered = 0
		}
	default:
		c.CorrectStreak = 0
	}
	c.LastSeen = formatInstant(now)
	return c
}

// RecordAnswer folds one quiz answer into the aggregate. Unknown drugs and
// concepts are created on first sight; it never fails.
func RecordAnswer(prog *models.UserProgress, a models.Answer, lessonID string, now time.Time, today string, p Policy, newID func() string) {
	if a.DrugID != "" {
		prog.DrugMastery[a.DrugID] = UpdateDrugMastery(prog.DrugMastery[a.DrugID], a.Correct, now, p)
		if !a.Correct {
			prog.MistakeBank = append(prog.MistakeBank, models.MistakeBankEntry{
				ID:           newID(),
				DrugID:       a.DrugID,
				QuestionType: a.QuestionType,
				Date:         today,
				LessonID:     lessonID,
			})
		}
	}
	if a.ConceptID != "" {
		prog.ConceptMastery[a.ConceptID] = UpdateConceptMastery(prog.ConceptMastery[a.ConceptID], a.Correct, now, p)
	}
}

// PruneMistakes drops entries older than MistakeBankMaxAge and keeps the most
// recent MistakeBankMax. Surviving entries are not modified.
func PruneMistakes(bank []models.MistakeBankEntry, today string, p Policy) []models.MistakeBankEntry {
	maxDays := int(p.MistakeBankMaxAge / (24 * time.Hour))
	kept := bank[:0:0]
	for _, e := range bank {
		if maxDays > 0 {
			if age, ok := clock.DaysBetween(e.Date, today); ok && age > maxDays {
				continue
			}
		}
		kept = append(kept, e)
	}
	if len(kept) > p.MistakeBankMax {
		kept = kept[len(kept)-p.MistakeBankMax:]
	}
	return kept
}

// DueReviews lists drugs whose next review is due, most overdue first.
func DueReviews(prog models.UserProgress, now time.Time, limit int) []string {
	type due struct {
		id string
		at time.Time
	}
	var list []due
	for id, m := range prog.DrugMastery {
		at := parseInstant(m.NextReview, now)
		if !at.After(now) {
			list = append(list, due{id: id, at: at})
		}
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].at.Equal(list[j].at) {
			return list[i].id < list[j].id
		}
		return list[i].at.Before(list[j].at)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	ids := make([]string, len(list))
	for i, d := range list {
		ids[i] = d.id
	}
	return ids
}

// RecentMistakes returns the newest mistake bank entries, newest first.
func RecentMistakes(prog models.UserProgress, limit int) []models.MistakeBankEntry {
	n := len(prog.MistakeBank)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]models.MistakeBankEntry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, prog.MistakeBank[i])
	}
	return out
}

// NeedsTeaching reports whether the teaching slides for partID should be shown
// before questions on conceptID.
func NeedsTeaching(prog models.UserProgress, conceptID, partID string) bool {
	if !prog.TeachingSlidesSeen[partID] {
		return true
	}
	c, ok := prog.ConceptMastery[conceptID]
	if !ok {
		return false
	}
	if c.Mastered {
		return c.WrongSinceMastered > 0
	}
	return c.CorrectStreak == 0 && c.LastSeen != ""
}
