package gamification

import (
	"fmt"
	"time"
)

// Policy holds the product-tunable numbers of the engine. Defaults mirror
// the shipped app; a YAML file can override any field.
type Policy struct {
	HeartsMax          int           `yaml:"hearts_max"`
	HeartRegenInterval time.Duration `yaml:"heart_regen_interval"`
	HeartRefillCost    int           `yaml:"heart_refill_cost"`

	StreakSaveCost int `yaml:"streak_save_cost"`
	MaxStreakSaves int `yaml:"max_streak_saves"`
	DoubleXPCost   int `yaml:"double_xp_cost"`

	DrugMaxLevel int             `yaml:"drug_max_level"`
	DrugSpacing  []time.Duration `yaml:"drug_spacing"`

	ConceptMasteryThreshold  int `yaml:"concept_mastery_threshold"`
	ConceptDemotionThreshold int `yaml:"concept_demotion_threshold"`

	PromotionCutoff int `yaml:"promotion_cutoff"`
	DemotionCutoff  int `yaml:"demotion_cutoff"`

	QuestTargets     []int `yaml:"quest_targets"`
	QuestRewardXP    []int `yaml:"quest_reward_xp"`
	QuestRewardCoins []int `yaml:"quest_reward_coins"`

	DailyGoalXP      int `yaml:"daily_goal_xp"`
	DailyRewardCoins int `yaml:"daily_reward_coins"`
	StartingCoins    int `yaml:"starting_coins"`

	MistakeBankMax    int           `yaml:"mistake_bank_max"`
	MistakeBankMaxAge time.Duration `yaml:"mistake_bank_max_age"`
}

func DefaultPolicy() Policy {
	return Policy{
		HeartsMax:          5,
		HeartRegenInterval: 60 * time.Minute,
		HeartRefillCost:    350,

		StreakSaveCost: 200,
		MaxStreakSaves: 3,
		DoubleXPCost:   150,

		DrugMaxLevel: 5,
		DrugSpacing: []time.Duration{
			4 * time.Hour,
			24 * time.Hour,
			3 * 24 * time.Hour,
			7 * 24 * time.Hour,
			14 * 24 * time.Hour,
			30 * 24 * time.Hour,
		},

		ConceptMasteryThreshold:  3,
		ConceptDemotionThreshold: 2,

		PromotionCutoff: 10,
		DemotionCutoff:  25,

		QuestTargets:     []int{2, 5, 1},
		QuestRewardXP:    []int{20, 15, 15},
		QuestRewardCoins: []int{10, 10, 5},

		DailyGoalXP:      50,
		DailyRewardCoins: 25,
		StartingCoins:    100,

		MistakeBankMax:    200,
		MistakeBankMaxAge: 90 * 24 * time.Hour,
	}
}

// Validate rejects policies the engine cannot run with.
func (p Policy) Validate() error {
	if p.HeartsMax < 1 {
		return fmt.Errorf("hearts_max must be at least 1, got %d", p.HeartsMax)
	}
	if p.HeartRegenInterval <= 0 {
		return fmt.Errorf("heart_regen_interval must be positive")
	}
	if p.DrugMaxLevel < 1 || len(p.DrugSpacing) != p.DrugMaxLevel+1 {
		return fmt.Errorf("drug_spacing needs drug_max_level+1 (%d) entries, got %d", p.DrugMaxLevel+1, len(p.DrugSpacing))
	}
	for i := 1; i < len(p.DrugSpacing); i++ {
		if p.DrugSpacing[i] < p.DrugSpacing[i-1] {
			return fmt.Errorf("drug_spacing must be non-decreasing (level %d)", i)
		}
	}
	if p.ConceptMasteryThreshold < 1 || p.ConceptDemotionThreshold < 1 {
		return fmt.Errorf("concept thresholds must be at least 1")
	}
	if p.PromotionCutoff < 1 || p.DemotionCutoff <= p.PromotionCutoff {
		return fmt.Errorf("demotion_cutoff (%d) must be above promotion_cutoff (%d)", p.DemotionCutoff, p.PromotionCutoff)
	}
	if len(p.QuestTargets) != questSlots || len(p.QuestRewardXP) != questSlots || len(p.QuestRewardCoins) != questSlots {
		return fmt.Errorf("quest tables need exactly %d entries", questSlots)
	}
	for i, t := range p.QuestTargets {
		if t < 1 {
			return fmt.Errorf("quest_targets[%d] must be at least 1", i)
		}
	}
	if p.MistakeBankMax < 1 {
		return fmt.Errorf("mistake_bank_max must be at least 1")
	}
	return nil
}
