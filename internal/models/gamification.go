package models

import (
	"encoding/json"
	"sort"
	"time"
)

// ── League Tiers ──────────────────────────────────────────

const (
	LeagueBronze = "bronze"
	LeagueSilver = "silver"
	LeagueGold   = "gold"
)

// LeagueLadder is the promotion order, lowest first.
var LeagueLadder = []string{LeagueBronze, LeagueSilver, LeagueGold}

// ── Core Progress Structs ─────────────────────────────────

// UserStats is the scalar economy/status snapshot of a learner.
// Dates are local calendar dates (YYYY-MM-DD); instants are RFC 3339.
type UserStats struct {
	XPTotal             int64   `json:"xp_total"`
	XPThisWeek          int64   `json:"xp_this_week"`
	XPToday             int     `json:"xp_today"`
	StreakCurrent       int     `json:"streak_current"`
	StreakBest          int     `json:"streak_best"`
	LastActiveDate      string  `json:"last_active_date"`
	Hearts              int     `json:"hearts"`
	HeartsMax           int     `json:"hearts_max"`
	Coins               int     `json:"coins"`
	LessonsCompleted    int     `json:"lessons_completed"`
	AccuracyCorrect     int     `json:"accuracy_correct"`
	AccuracyTotal       int     `json:"accuracy_total"`
	StreakSaves         int     `json:"streak_saves"`
	DailyGoalXP         int     `json:"daily_goal_xp"`
	LastXPDate          string  `json:"last_xp_date"`
	LastDailyRewardDate string  `json:"last_daily_reward_date"`
	NextHeartAt         string  `json:"next_heart_at"`
	LeagueTier          string  `json:"league_tier"`
	LeagueWeekStart     string  `json:"league_week_start"`
	DailyQuestsDate     string  `json:"daily_quests_date"`
	DailyQuestProgress  [3]int  `json:"daily_quest_progress"`
	DailyQuestClaimed   [3]bool `json:"daily_quest_claimed"`
	DoubleXPNextLesson  bool    `json:"double_xp_next_lesson"`
	LastLootDate        string  `json:"last_loot_date"`
}

type DrugMastery struct {
	MasteryLevel int    `json:"mastery_level"`
	LastSeen     string `json:"last_seen"`
	NextReview   string `json:"next_review"`
}

type ConceptMastery struct {
	Mastered           bool   `json:"mastered"`
	CorrectStreak      int    `json:"correct_streak"`
	WrongSinceMastered int    `json:"wrong_since_mastered"`
	LastSeen           string `json:"last_seen"`
}

// MistakeBankEntry is append-only; entries are never edited after insertion.
type MistakeBankEntry struct {
	ID           string `json:"id"`
	DrugID       string `json:"drug_id"`
	QuestionType string `json:"question_type"`
	Date         string `json:"date"`
	LessonID     string `json:"lesson_id,omitempty"`
}

// UserProgress is the root aggregate persisted once per learner.
type UserProgress struct {
	Stats              UserStats                 `json:"stats"`
	CompletedLessons   map[string]int            `json:"completed_lessons"`
	ChapterProgress    map[string]int            `json:"chapter_progress"`
	DrugMastery        map[string]DrugMastery    `json:"drug_mastery"`
	ConceptMastery     map[string]ConceptMastery `json:"concept_mastery"`
	TeachingSlidesSeen map[string]bool           `json:"teaching_slides_seen"`
	MistakeBank        []MistakeBankEntry        `json:"mistake_bank"`
	Level              int                       `json:"level"`
	Timezone           string                    `json:"timezone,omitempty"`
}

// Clone returns a deep copy so a next-state value can be built without
// touching the observed snapshot.
func (p UserProgress) Clone() UserProgress {
	out := p
	out.CompletedLessons = make(map[string]int, len(p.CompletedLessons))
	for k, v := range p.CompletedLessons {
		out.CompletedLessons[k] = v
	}
	out.ChapterProgress = make(map[string]int, len(p.ChapterProgress))
	for k, v := range p.ChapterProgress {
		out.ChapterProgress[k] = v
	}
	out.DrugMastery = make(map[string]DrugMastery, len(p.DrugMastery))
	for k, v := range p.DrugMastery {
		out.DrugMastery[k] = v
	}
	out.ConceptMastery = make(map[string]ConceptMastery, len(p.ConceptMastery))
	for k, v := range p.ConceptMastery {
		out.ConceptMastery[k] = v
	}
	out.TeachingSlidesSeen = make(map[string]bool, len(p.TeachingSlidesSeen))
	for k, v := range p.TeachingSlidesSeen {
		out.TeachingSlidesSeen[k] = v
	}
	out.MistakeBank = make([]MistakeBankEntry, len(p.MistakeBank))
	copy(out.MistakeBank, p.MistakeBank)
	return out
}

// DecodeProgress unmarshals a stored record on top of base, so fields missing
// from older records keep their default values. A field whose stored value no
// longer fits its type also keeps its default and is reported in skipped;
// only a record that is not a JSON object is an error.
func DecodeProgress(data []byte, base UserProgress) (prog UserProgress, skipped []string, err error) {
	out := base.Clone()
	if len(data) == 0 {
		return out, nil, nil
	}
	if err := json.Unmarshal(data, &out); err == nil {
		return out, nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return base, nil, err
	}
	out = base.Clone()
	for _, key := range sortedKeys(fields) {
		raw := fields[key]
		ok := true
		switch key {
		case "stats":
			skipped = append(skipped, decodeStats(raw, &out.Stats)...)
		case "completed_lessons":
			ok = decodeField(raw, &out.CompletedLessons)
		case "chapter_progress":
			ok = decodeField(raw, &out.ChapterProgress)
		case "drug_mastery":
			ok = decodeField(raw, &out.DrugMastery)
		case "concept_mastery":
			ok = decodeField(raw, &out.ConceptMastery)
		case "teaching_slides_seen":
			ok = decodeField(raw, &out.TeachingSlidesSeen)
		case "mistake_bank":
			ok = decodeField(raw, &out.MistakeBank)
		case "level":
			ok = decodeField(raw, &out.Level)
		case "timezone":
			ok = decodeField(raw, &out.Timezone)
		}
		if !ok {
			skipped = append(skipped, key)
		}
	}
	return out, skipped, nil
}

// decodeField replaces dst only when raw decodes cleanly.
func decodeField[T any](raw json.RawMessage, dst *T) bool {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	*dst = v
	return true
}

// decodeStats merges stats one key at a time. UserStats holds only values,
// so a copy is a safe trial target.
func decodeStats(raw json.RawMessage, dst *UserStats) []string {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return []string{"stats"}
	}
	var skipped []string
	for _, key := range sortedKeys(fields) {
		one, err := json.Marshal(map[string]json.RawMessage{key: fields[key]})
		if err != nil {
			skipped = append(skipped, "stats."+key)
			continue
		}
		trial := *dst
		if err := json.Unmarshal(one, &trial); err != nil {
			skipped = append(skipped, "stats."+key)
			continue
		}
		*dst = trial
	}
	return skipped
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ── Derived / Transient Structs ───────────────────────────

type DailyQuest struct {
	Slot        int    `json:"slot"`
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	RewardXP    int    `json:"reward_xp"`
	RewardCoins int    `json:"reward_coins"`
	Current     int    `json:"current"`
	Target      int    `json:"target"`
	Claimed     bool   `json:"claimed"`
	Completed   bool   `json:"completed"`
}

type LeagueWeekResult struct {
	PreviousTier string `json:"previous_tier"`
	NewTier      string `json:"new_tier"`
	Rank         int    `json:"rank"`
	XPEarned     int64  `json:"xp_earned"`
	Promoted     bool   `json:"promoted"`
	Demoted      bool   `json:"demoted"`
	Stayed       bool   `json:"stayed"`
	WeekStart    string `json:"week_start"`
}

// ── Server Streak Status ──────────────────────────────────

type StreakServerState string

const (
	StreakExtended StreakServerState = "extended"
	StreakAtRisk   StreakServerState = "at_risk"
	StreakLost     StreakServerState = "lost"
)

// ServerStreakStatus is the validated form of the remote streak row.
type ServerStreakStatus struct {
	StreakCurrent int               `json:"streak_current"`
	StreakLongest int               `json:"streak_longest"`
	StreakLastDay string            `json:"streak_last_day"`
	Status        StreakServerState `json:"status"`
	SecondsLeft   int64             `json:"seconds_left"`
	DeadlineAt    time.Time         `json:"deadline_at"`
	FetchedAt     time.Time         `json:"fetched_at"`
}

// ── Request Types ─────────────────────────────────────────

type Answer struct {
	DrugID       string `json:"drug_id,omitempty"`
	ConceptID    string `json:"concept_id,omitempty"`
	QuestionType string `json:"question_type"`
	Correct      bool   `json:"correct"`
}

type CompleteLessonRequest struct {
	Score          int      `json:"score"`
	Answers        []Answer `json:"answers"`
	ChapterID      string   `json:"chapter_id,omitempty"`
	ChapterPercent int      `json:"chapter_percent,omitempty"`
}

type CompletePracticeRequest struct {
	Answers []Answer `json:"answers"`
}

// ── Response Types ────────────────────────────────────────

type XPBreakdown struct {
	Base       int `json:"base"`
	Accuracy   int `json:"accuracy"`
	Combo      int `json:"combo"`
	Multiplier int `json:"multiplier"`
	Total      int `json:"total"`
}

type LessonResult struct {
	XP             XPBreakdown `json:"xp"`
	CoinsEarned    int         `json:"coins_earned"`
	StreakCurrent  int         `json:"streak_current"`
	StreakExtended bool        `json:"streak_extended"`
	LevelUp        bool        `json:"level_up"`
	DailyGoalMet   bool        `json:"daily_goal_met"`
}

type LootReward struct {
	Kind   string `json:"kind"`
	Amount int    `json:"amount"`
}

type StreakView struct {
	Phase       string `json:"phase"`
	Current     int    `json:"current"`
	Best        int    `json:"best"`
	Effective   int    `json:"effective"`
	Saves       int    `json:"saves"`
	MissedDay   string `json:"missed_day,omitempty"`
	ServerState string `json:"server_state,omitempty"`
}

// ProgressSnapshot is the read-only view handed to the UI layer.
type ProgressSnapshot struct {
	Progress             UserProgress      `json:"progress"`
	DailyQuests          []DailyQuest      `json:"daily_quests"`
	Streak               StreakView        `json:"streak"`
	LessonCompletedToday bool              `json:"lesson_completed_today"`
	NextHeartAt          string            `json:"next_heart_at"`
	LootAvailable        bool              `json:"loot_available"`
	DailyRewardAvailable bool              `json:"daily_reward_available"`
	PendingLeagueResult  *LeagueWeekResult `json:"pending_league_result,omitempty"`
	Achievements         []string          `json:"achievements"`
	PersistenceDegraded  bool              `json:"persistence_degraded"`
}
