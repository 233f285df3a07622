package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseProgress() UserProgress {
	return UserProgress{
		Stats:              UserStats{Hearts: 4, HeartsMax: 5, Coins: 100, LeagueTier: LeagueBronze},
		CompletedLessons:   map[string]int{},
		ChapterProgress:    map[string]int{},
		DrugMastery:        map[string]DrugMastery{},
		ConceptMastery:     map[string]ConceptMastery{},
		TeachingSlidesSeen: map[string]bool{},
		MistakeBank:        []MistakeBankEntry{},
		Level:              1,
	}
}

func TestDecodeProgressEmpty(t *testing.T) {
	prog, skipped, err := DecodeProgress(nil, baseProgress())
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, baseProgress(), prog)
}

func TestDecodeProgressPartialRecord(t *testing.T) {
	prog, skipped, err := DecodeProgress([]byte(`{"stats":{"coins":42}}`), baseProgress())
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, 42, prog.Stats.Coins)
	assert.Equal(t, 4, prog.Stats.Hearts, "missing field keeps its default")
}

func TestDecodeProgressMistypedFields(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		skipped []string
		check   func(t *testing.T, prog UserProgress)
	}{
		{
			name:    "stats field",
			data:    `{"stats":{"coins":900,"xp_total":5000,"hearts":"5"}}`,
			skipped: []string{"stats.hearts"},
			check: func(t *testing.T, prog UserProgress) {
				assert.Equal(t, 900, prog.Stats.Coins)
				assert.EqualValues(t, 5000, prog.Stats.XPTotal)
				assert.Equal(t, 4, prog.Stats.Hearts)
			},
		},
		{
			name:    "top level fields",
			data:    `{"level":"three","completed_lessons":[1,2],"drug_mastery":{"d1":{"mastery_level":2}},"stats":{"streak_saves":2}}`,
			skipped: []string{"completed_lessons", "level"},
			check: func(t *testing.T, prog UserProgress) {
				assert.Equal(t, 1, prog.Level)
				assert.Empty(t, prog.CompletedLessons)
				assert.Equal(t, 2, prog.DrugMastery["d1"].MasteryLevel)
				assert.Equal(t, 2, prog.Stats.StreakSaves)
			},
		},
		{
			name:    "stats not an object",
			data:    `{"stats":"legacy","level":7}`,
			skipped: []string{"stats"},
			check: func(t *testing.T, prog UserProgress) {
				assert.Equal(t, baseProgress().Stats, prog.Stats)
				assert.Equal(t, 7, prog.Level)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, skipped, err := DecodeProgress([]byte(tt.data), baseProgress())
			require.NoError(t, err)
			assert.Equal(t, tt.skipped, skipped)
			tt.check(t, prog)
		})
	}
}

func TestDecodeProgressNotAnObject(t *testing.T) {
	_, _, err := DecodeProgress([]byte(`[1,2,3]`), baseProgress())
	assert.Error(t, err)
}

func TestDecodeProgressDoesNotShareBaseMaps(t *testing.T) {
	base := baseProgress()
	prog, _, err := DecodeProgress([]byte(`{"completed_lessons":{"l1":90}}`), base)
	require.NoError(t, err)
	assert.Equal(t, 90, prog.CompletedLessons["l1"])
	assert.Empty(t, base.CompletedLessons)
}
