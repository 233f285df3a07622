package gamification

import (
	"fmt"

	"github.com/pharm-prep/backend/internal/models"
)

const questSlots = 3

// Quest slots, 1-based as shown to the learner.
const (
	QuestLessons  = 1
	QuestCombo    = 2
	QuestPractice = 3
)

var questDefs = [questSlots]struct {
	id, title, description string
}{
	{"lessons", "Lesson Streaker", "Complete %d lessons today"},
	{"combo", "Combo Master", "Reach a %d-answer combo"},
	{"practice", "Practice Makes Perfect", "Finish %d practice session(s)"},
}

// ResetQuestsIfStale starts a fresh quest day when the stored day is not today.
func ResetQuestsIfStale(s models.UserStats, today string) models.UserStats {
	if s.DailyQuestsDate == today {
		return s
	}
	s.DailyQuestsDate = today
	s.DailyQuestProgress = [questSlots]int{}
	s.DailyQuestClaimed = [questSlots]bool{}
	return s
}

func RecordLessonQuest(s models.UserStats) models.UserStats {
	s.DailyQuestProgress[QuestLessons-1]++
	return s
}

// RecordComboQuest keeps the best combo of the day; it does not accumulate.
func RecordComboQuest(s models.UserStats, combo int) models.UserStats {
	if combo > s.DailyQuestProgress[QuestCombo-1] {
		s.DailyQuestProgress[QuestCombo-1] = combo
	}
	return s
}

func RecordPracticeQuest(s models.UserStats) models.UserStats {
	s.DailyQuestProgress[QuestPractice-1]++
	return s
}

// DailyQuests derives the three quest cards for today.
func DailyQuests(s models.UserStats, today string, p Policy) []models.DailyQuest {
	s = ResetQuestsIfStale(s, today)
	quests := make([]models.DailyQuest, 0, questSlots)
	for i, def := range questDefs {
		target := p.QuestTargets[i]
		current := s.DailyQuestProgress[i]
		quests = append(quests, models.DailyQuest{
			Slot:        i + 1,
			ID:          def.id,
			Title:       def.title,
			Description: fmt.Sprintf(def.description, target),
			RewardXP:    p.QuestRewardXP[i],
			RewardCoins: p.QuestRewardCoins[i],
			Current:     current,
			Target:      target,
			Claimed:     s.DailyQuestClaimed[i],
			Completed:   current >= target,
		})
	}
	return quests
}

// ClaimQuest sets the claim flag and credits the reward. The claim flag is the
// only idempotence guard, so a second claim fails without crediting anything.
func ClaimQuest(s models.UserStats, slot int, today string, p Policy) (models.UserStats, error) {
	if slot < 1 || slot > questSlots {
		return s, fmt.Errorf("%w: %d", ErrInvalidQuestSlot, slot)
	}
	i := slot - 1
	if s.DailyQuestClaimed[i] {
		return s, ErrAlreadyClaimed
	}
	if s.DailyQuestProgress[i] < p.QuestTargets[i] {
		return s, ErrQuestNotCompleted
	}
	s.DailyQuestClaimed[i] = true
	s = AddXP(s, p.QuestRewardXP[i], today)
	s.Coins += p.QuestRewardCoins[i]
	return s, nil
}

func allQuestsClaimed(s models.UserStats) bool {
	for _, c := range s.DailyQuestClaimed {
		if !c {
			return false
		}
	}
	return true
}

// LootAvailable reports whether today's loot box can be opened.
func LootAvailable(s models.UserStats, today string) bool {
	return s.DailyQuestsDate == today && allQuestsClaimed(s) && s.LastLootDate != today
}
