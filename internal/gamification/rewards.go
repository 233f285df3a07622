package gamification

import (
	"github.com/pharm-prep/backend/internal/models"
)

// Shop items.
const (
	ItemHeartRefill = "heart_refill"
	ItemStreakSave  = "streak_save"
	ItemDoubleXP    = "double_xp"
)

// StreakMilestoneCoins maps streak lengths to a one-time coin bonus.
var StreakMilestoneCoins = map[int]int{
	3: 10, 7: 25, 14: 50, 30: 100, 60: 200, 100: 500, 365: 1000,
}

// LessonCoins returns coins earned for a lesson: 5, or 10 for a perfect score.
func LessonCoins(score int) int {
	if score >= 100 {
		return 10
	}
	return 5
}

// BuyItem spends coins on a shop item.
func BuyItem(s models.UserStats, kind string, p Policy) (models.UserStats, error) {
	switch kind {
	case ItemHeartRefill:
		return RefillHearts(s, p)
	case ItemStreakSave:
		return purchaseStreakSave(s, p)
	case ItemDoubleXP:
		if s.DoubleXPNextLesson {
			return s, ErrAlreadyActive
		}
		if s.Coins < p.DoubleXPCost {
			return s, ErrInsufficientCoins
		}
		s.Coins -= p.DoubleXPCost
		s.DoubleXPNextLesson = true
		return s, nil
	default:
		return s, ErrUnknownItem
	}
}

// ClaimDailyReward credits the once-per-day login reward.
func ClaimDailyReward(s models.UserStats, today string, p Policy) (models.UserStats, error) {
	if s.LastDailyRewardDate == today {
		return s, ErrDailyRewardClaimed
	}
	s.LastDailyRewardDate = today
	s.Coins += p.DailyRewardCoins
	return s, nil
}

// lootTable is weighted; roll picks an index in [0, total weight).
var lootTable = []struct {
	kind   string
	amount int
	weight int
}{
	{"coins", 50, 45},
	{"coins", 100, 15},
	{ItemStreakSave, 1, 20},
	{ItemDoubleXP, 1, 20},
}

// OpenLoot opens today's loot box. roll(n) must return a value in [0, n).
// Rewards the learner cannot hold fall back to coins.
func OpenLoot(s models.UserStats, today string, p Policy, roll func(n int) int) (models.UserStats, models.LootReward, error) {
	if !LootAvailable(s, today) {
		return s, models.LootReward{}, ErrLootUnavailable
	}
	total := 0
	for _, e := range lootTable {
		total += e.weight
	}
	pick := roll(total)
	entry := lootTable[0]
	for _, e := range lootTable {
		if pick < e.weight {
			entry = e
			break
		}
		pick -= e.weight
	}

	reward := models.LootReward{Kind: entry.kind, Amount: entry.amount}
	switch {
	case reward.Kind == ItemStreakSave && s.StreakSaves < p.MaxStreakSaves:
		s.StreakSaves++
	case reward.Kind == ItemDoubleXP && !s.DoubleXPNextLesson:
		s.DoubleXPNextLesson = true
	default:
		if reward.Kind != "coins" {
			reward = models.LootReward{Kind: "coins", Amount: 50}
		}
		s.Coins += reward.Amount
	}
	s.LastLootDate = today
	return s, reward, nil
}
