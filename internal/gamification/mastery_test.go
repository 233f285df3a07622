package gamification

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharm-prep/backend/internal/models"
)

func TestConceptMasteryThresholds(t *testing.T) {
	p := DefaultPolicy()
	var c models.ConceptMastery

	for i := 0; i < 3; i++ {
		c = UpdateConceptMastery(c, true, t0, p)
	}
	assert.True(t, c.Mastered, "three correct answers master the concept")

	c = UpdateConceptMastery(c, false, t0, p)
	assert.True(t, c.Mastered, "one wrong answer keeps mastery")
	assert.Equal(t, 1, c.WrongSinceMastered)

	c = UpdateConceptMastery(c, false, t0, p)
	assert.False(t, c.Mastered, "second wrong answer demotes")
	assert.Equal(t, 0, c.CorrectStreak)
	assert.Equal(t, 0, c.WrongSinceMastered)
}

func TestConceptWrongResetsStreakBeforeMastery(t *testing.T) {
	p := DefaultPolicy()
	var c models.ConceptMastery
	c = UpdateConceptMastery(c, true, t0, p)
	c = UpdateConceptMastery(c, true, t0, p)
	c = UpdateConceptMastery(c, false, t0, p)
	c = UpdateConceptMastery(c, true, t0, p)
	assert.False(t, c.Mastered)
	assert.Equal(t, 1, c.CorrectStreak)
}

func TestDrugMasteryLadder(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		level     int
		correct   bool
		wantLevel int
		wantWait  time.Duration
	}{
		{0, true, 1, 24 * time.Hour},
		{0, false, 0, 4 * time.Hour},
		{3, false, 2, 3 * 24 * time.Hour},
		{4, true, 5, 30 * 24 * time.Hour},
		{5, true, 5, 30 * 24 * time.Hour},
	}

	for _, tt := range tests {
		m := UpdateDrugMastery(models.DrugMastery{MasteryLevel: tt.level}, tt.correct, t0, p)
		assert.Equal(t, tt.wantLevel, m.MasteryLevel, "level from %d correct=%v", tt.level, tt.correct)
		assert.Equal(t, formatInstant(t0.Add(tt.wantWait)), m.NextReview)
		assert.Equal(t, formatInstant(t0), m.LastSeen)
	}
}

func TestRecordAnswerAppendsMistakes(t *testing.T) {
	p := DefaultPolicy()
	prog := DefaultProgress(p)
	n := 0
	newID := func() string { n++; return fmt.Sprintf("m%d", n) }

	RecordAnswer(&prog, models.Answer{DrugID: "warfarin", QuestionType: "mcq", Correct: false}, "l1", t0, "2026-03-02", p, newID)
	RecordAnswer(&prog, models.Answer{DrugID: "warfarin", QuestionType: "mcq", Correct: true}, "l1", t0, "2026-03-02", p, newID)
	RecordAnswer(&prog, models.Answer{ConceptID: "anticoagulation", Correct: false}, "l1", t0, "2026-03-02", p, newID)

	require.Len(t, prog.MistakeBank, 1)
	assert.Equal(t, models.MistakeBankEntry{
		ID: "m1", DrugID: "warfarin", QuestionType: "mcq", Date: "2026-03-02", LessonID: "l1",
	}, prog.MistakeBank[0])
	assert.Equal(t, 1, prog.DrugMastery["warfarin"].MasteryLevel)
	assert.Contains(t, prog.ConceptMastery, "anticoagulation")
}

func TestPruneMistakes(t *testing.T) {
	p := DefaultPolicy()
	p.MistakeBankMax = 2
	bank := []models.MistakeBankEntry{
		{ID: "old", Date: "2025-11-01"},
		{ID: "a", Date: "2026-02-01"},
		{ID: "b", Date: "2026-02-15"},
		{ID: "c", Date: "2026-03-01"},
	}

	got := PruneMistakes(bank, "2026-03-02", p)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Len(t, bank, 4, "input slice is not modified")
	assert.Equal(t, "old", bank[0].ID)
}

func TestDueReviewsAndRecentMistakes(t *testing.T) {
	prog := DefaultProgress(DefaultPolicy())
	prog.DrugMastery["a"] = models.DrugMastery{NextReview: formatInstant(t0.Add(-2 * time.Hour))}
	prog.DrugMastery["b"] = models.DrugMastery{NextReview: formatInstant(t0.Add(-48 * time.Hour))}
	prog.DrugMastery["c"] = models.DrugMastery{NextReview: formatInstant(t0.Add(time.Hour))}
	prog.MistakeBank = []models.MistakeBankEntry{{ID: "1"}, {ID: "2"}, {ID: "3"}}

	assert.Equal(t, []string{"b", "a"}, DueReviews(prog, t0, 0))
	assert.Equal(t, []string{"b"}, DueReviews(prog, t0, 1))

	recent := RecentMistakes(prog, 2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].ID)
	assert.Equal(t, "2", recent[1].ID)
}

func TestNeedsTeaching(t *testing.T) {
	prog := DefaultProgress(DefaultPolicy())
	assert.True(t, NeedsTeaching(prog, "k", "part-1"), "unseen slides")

	prog.TeachingSlidesSeen["part-1"] = true
	assert.False(t, NeedsTeaching(prog, "k", "part-1"), "seen, concept untouched")

	prog.ConceptMastery["k"] = models.ConceptMastery{Mastered: true, WrongSinceMastered: 1, LastSeen: "x"}
	assert.True(t, NeedsTeaching(prog, "k", "part-1"), "slipping mastery")

	prog.ConceptMastery["k"] = models.ConceptMastery{Mastered: true, LastSeen: "x"}
	assert.False(t, NeedsTeaching(prog, "k", "part-1"))
}
