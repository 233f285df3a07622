package gamification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pharm-prep/backend/internal/clock"
	"github.com/pharm-prep/backend/internal/models"
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	Policy      Policy
	Clock       clock.Clock
	Location    *time.Location
	Leaderboard Leaderboard

	NewID func() string
	Roll  func(n int) int

	RetryBase    time.Duration
	RetryMax     time.Duration
	WriteTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Policy.HeartsMax == 0 {
		o.Policy = DefaultPolicy()
	}
	if o.Clock == nil {
		o.Clock = clock.SystemClock{}
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.NewID == nil {
		o.NewID = uuid.NewString
	}
	if o.Roll == nil {
		o.Roll = rand.IntN
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 500 * time.Millisecond
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	return o
}

// DefaultProgress is the aggregate of a learner with no stored record.
func DefaultProgress(p Policy) models.UserProgress {
	return models.UserProgress{
		Stats: models.UserStats{
			Hearts:      p.HeartsMax,
			HeartsMax:   p.HeartsMax,
			Coins:       p.StartingCoins,
			DailyGoalXP: p.DailyGoalXP,
			LeagueTier:  models.LeagueBronze,
		},
		CompletedLessons:   map[string]int{},
		ChapterProgress:    map[string]int{},
		DrugMastery:        map[string]models.DrugMastery{},
		ConceptMastery:     map[string]models.ConceptMastery{},
		TeachingSlidesSeen: map[string]bool{},
		MistakeBank:        []models.MistakeBankEntry{},
		Level:              1,
	}
}

// Normalize restores the aggregate invariants on a decoded record.
func Normalize(prog models.UserProgress, p Policy) models.UserProgress {
	if prog.CompletedLessons == nil {
		prog.CompletedLessons = map[string]int{}
	}
	if prog.ChapterProgress == nil {
		prog.ChapterProgress = map[string]int{}
	}
	if prog.DrugMastery == nil {
		prog.DrugMastery = map[string]models.DrugMastery{}
	}
	if prog.ConceptMastery == nil {
		prog.ConceptMastery = map[string]models.ConceptMastery{}
	}
	if prog.TeachingSlidesSeen == nil {
		prog.TeachingSlidesSeen = map[string]bool{}
	}
	if prog.MistakeBank == nil {
		prog.MistakeBank = []models.MistakeBankEntry{}
	}

	s := &prog.Stats
	if s.HeartsMax <= 0 {
		s.HeartsMax = p.HeartsMax
	}
	if s.Hearts < 0 {
		s.Hearts = 0
	}
	if s.Hearts > s.HeartsMax {
		s.Hearts = s.HeartsMax
	}
	if s.Coins < 0 {
		s.Coins = 0
	}
	if s.XPTotal < 0 {
		s.XPTotal = 0
	}
	if s.StreakSaves < 0 {
		s.StreakSaves = 0
	}
	if s.DailyGoalXP <= 0 {
		s.DailyGoalXP = p.DailyGoalXP
	}
	if s.StreakBest < s.StreakCurrent {
		s.StreakBest = s.StreakCurrent
	}
	switch s.LeagueTier {
	case models.LeagueBronze, models.LeagueSilver, models.LeagueGold:
	default:
		s.LeagueTier = models.LeagueBronze
	}
	prog.Level = LevelForXP(s.XPTotal)
	return prog
}

// Engine owns one learner's progress. Every operation builds the complete
// next state from a clone, then swaps it in and queues one durable write.
// Time-based transitions are caught up lazily on each call.
type Engine struct {
	userID int64
	store  Store
	opts   Options

	mu           sync.Mutex
	loc          *time.Location
	progress     models.UserProgress
	lastData     []byte
	server       *models.ServerStreakStatus
	leagueResult *models.LeagueWeekResult
	persist      *persister
	closed       bool
}

// NewEngine loads the learner's record (or defaults), catches it up to now and
// closes a finished league week.
func NewEngine(ctx context.Context, userID int64, store Store, opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}

	data, err := store.Load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	prog, skipped, err := models.DecodeProgress(data, DefaultProgress(opts.Policy))
	if err != nil {
		return nil, fmt.Errorf("decode progress for user %d: %w", userID, err)
	}
	if len(skipped) > 0 {
		log.Printf("[progress] user %d: unreadable stored fields reset to defaults: %v", userID, skipped)
	}

	e := &Engine{
		userID:   userID,
		store:    store,
		opts:     opts,
		loc:      opts.Location,
		progress: Normalize(prog, opts.Policy),
		lastData: data,
		persist:  newPersister(store, userID, opts),
	}
	if tz := e.progress.Timezone; tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			e.loc = loc
		}
	}

	e.mu.Lock()
	next := e.progress.Clone()
	e.catchUp(&next, opts.Clock.Now())
	e.commitLocked(next)
	e.mu.Unlock()

	if err := e.rollLeague(ctx); err != nil {
		log.Printf("[progress] user %d: league rollover deferred: %v", userID, err)
	}
	return e, nil
}

func (e *Engine) UserID() int64 { return e.userID }

func (e *Engine) today(now time.Time) string {
	return clock.LocalDate(now, e.loc)
}

// catchUp applies every time-driven transition up to now.
func (e *Engine) catchUp(next *models.UserProgress, now time.Time) {
	p := e.opts.Policy
	today := e.today(now)
	s := next.Stats
	s = ReconcileHearts(s, now, p)
	s = CatchUpStreak(s, today)
	s = ResetQuestsIfStale(s, today)
	s = ResetXPTodayIfStale(s, today)
	s = AnchorLeagueWeek(s, clock.WeekStart(now, e.loc))
	next.Stats = s
	next.MistakeBank = PruneMistakes(next.MistakeBank, today, p)
	next.Level = LevelForXP(s.XPTotal)
}

// commitLocked swaps in the next state and queues a write if it changed.
func (e *Engine) commitLocked(next models.UserProgress) {
	e.progress = next
	data, err := json.Marshal(next)
	if err != nil {
		log.Printf("[progress] user %d: encode progress: %v", e.userID, err)
		return
	}
	if bytes.Equal(data, e.lastData) {
		return
	}
	e.lastData = data
	e.persist.enqueue(data)
}

// mutate closes a finished league week, then runs fn against a caught-up
// clone. On error nothing is committed, including the rollover.
func (e *Engine) mutate(fn func(next *models.UserProgress, now time.Time, today string) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.WriteTimeout)
	defer cancel()
	rankWeek, rank, err := e.closingRank(ctx)
	if err != nil {
		log.Printf("[league] user %d: rank unavailable for week %s, closing at rank 0: %v", e.userID, rankWeek, err)
		rank = 0
	}
	return e.apply(func(next *models.UserProgress, now time.Time, today string) error {
		// XP from fn belongs to the week that is open now.
		res := e.closeWeek(next, now, rankWeek, rank)
		if err := fn(next, now, today); err != nil {
			return err
		}
		if res != nil {
			e.leagueResult = res
		}
		return nil
	})
}

// apply runs fn against a caught-up clone under the lock.
func (e *Engine) apply(fn func(next *models.UserProgress, now time.Time, today string) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	now := e.opts.Clock.Now()
	next := e.progress.Clone()
	e.catchUp(&next, now)
	if err := fn(&next, now, e.today(now)); err != nil {
		return err
	}
	e.commitLocked(next)
	return nil
}

func activeToday(s models.UserStats, today string) bool {
	return s.DailyQuestsDate == today &&
		(s.DailyQuestProgress[QuestLessons-1] > 0 || s.DailyQuestProgress[QuestPractice-1] > 0)
}

// ── Lessons & Practice ──────────────────────────────────

// StartLesson spends a heart. Callers must not start the lesson on error.
func (e *Engine) StartLesson(lessonID string) error {
	if lessonID == "" {
		return fmt.Errorf("%w: lesson id is required", ErrInvalidInput)
	}
	return e.mutate(func(next *models.UserProgress, now time.Time, _ string) error {
		s, err := ConsumeHeart(next.Stats, now, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

// CompleteLesson records answers, awards XP and coins, advances quests and the
// streak. A pending double-XP flag is consumed by exactly this award.
func (e *Engine) CompleteLesson(lessonID string, req models.CompleteLessonRequest) (models.LessonResult, error) {
	if lessonID == "" {
		return models.LessonResult{}, fmt.Errorf("%w: lesson id is required", ErrInvalidInput)
	}
	if req.Score < 0 || req.Score > 100 {
		return models.LessonResult{}, fmt.Errorf("%w: score must be 0-100, got %d", ErrInvalidInput, req.Score)
	}

	var res models.LessonResult
	err := e.mutate(func(next *models.UserProgress, now time.Time, today string) error {
		p := e.opts.Policy
		res = models.LessonResult{}
		e.recordAnswers(next, req.Answers, lessonID, now, today)

		s := next.Stats
		goalMetBefore := s.XPToday >= s.DailyGoalXP
		levelBefore := LevelForXP(s.XPTotal)

		res.XP = LessonXP(req.Score, req.Answers, s.DoubleXPNextLesson)
		s.DoubleXPNextLesson = false
		s = AddXP(s, res.XP.Total, today)
		res.CoinsEarned = LessonCoins(req.Score)
		s.LessonsCompleted++
		s = RecordLessonQuest(s)
		s = RecordComboQuest(s, MaxCombo(req.Answers))

		s, res.StreakExtended = RecordStreakActivity(s, today)
		if res.StreakExtended {
			res.CoinsEarned += StreakMilestoneCoins[s.StreakCurrent]
		}
		s.Coins += res.CoinsEarned
		next.Stats = s

		if prev, ok := next.CompletedLessons[lessonID]; !ok || req.Score > prev {
			next.CompletedLessons[lessonID] = req.Score
		}
		if req.ChapterID != "" {
			pct := min(max(req.ChapterPercent, 0), 100)
			if pct > next.ChapterProgress[req.ChapterID] {
				next.ChapterProgress[req.ChapterID] = pct
			}
		}
		next.MistakeBank = PruneMistakes(next.MistakeBank, today, p)
		next.Level = LevelForXP(s.XPTotal)

		res.StreakCurrent = s.StreakCurrent
		res.LevelUp = next.Level > levelBefore
		res.DailyGoalMet = !goalMetBefore && s.XPToday >= s.DailyGoalXP
		return nil
	})
	if err != nil {
		return models.LessonResult{}, err
	}
	log.Printf("[progress] user %d: lesson %s complete, +%d XP", e.userID, lessonID, res.XP.Total)
	return res, nil
}

// CompletePractice records a review session. The double-XP flag is reserved
// for lessons and left untouched.
func (e *Engine) CompletePractice(req models.CompletePracticeRequest) (models.LessonResult, error) {
	var res models.LessonResult
	err := e.mutate(func(next *models.UserProgress, now time.Time, today string) error {
		res = models.LessonResult{}
		e.recordAnswers(next, req.Answers, "", now, today)

		s := next.Stats
		goalMetBefore := s.XPToday >= s.DailyGoalXP
		levelBefore := LevelForXP(s.XPTotal)

		xp := PracticeXP(req.Answers)
		res.XP = models.XPBreakdown{Base: xp, Multiplier: 1, Total: xp}
		s = AddXP(s, xp, today)
		s = RecordPracticeQuest(s)
		s = RecordComboQuest(s, MaxCombo(req.Answers))
		s, res.StreakExtended = RecordStreakActivity(s, today)
		if res.StreakExtended {
			res.CoinsEarned = StreakMilestoneCoins[s.StreakCurrent]
			s.Coins += res.CoinsEarned
		}
		next.Stats = s
		next.MistakeBank = PruneMistakes(next.MistakeBank, today, e.opts.Policy)
		next.Level = LevelForXP(s.XPTotal)

		res.StreakCurrent = s.StreakCurrent
		res.LevelUp = next.Level > levelBefore
		res.DailyGoalMet = !goalMetBefore && s.XPToday >= s.DailyGoalXP
		return nil
	})
	if err != nil {
		return models.LessonResult{}, err
	}
	return res, nil
}

func (e *Engine) recordAnswers(next *models.UserProgress, answers []models.Answer, lessonID string, now time.Time, today string) {
	for _, a := range answers {
		RecordAnswer(next, a, lessonID, now, today, e.opts.Policy, e.opts.NewID)
		next.Stats.AccuracyTotal++
		if a.Correct {
			next.Stats.AccuracyCorrect++
		}
	}
}

// MarkTeachingSeen records that the teaching slides of partID were shown.
func (e *Engine) MarkTeachingSeen(partID string) error {
	if partID == "" {
		return fmt.Errorf("%w: part id is required", ErrInvalidInput)
	}
	return e.mutate(func(next *models.UserProgress, _ time.Time, _ string) error {
		next.TeachingSlidesSeen[partID] = true
		return nil
	})
}

// ── Economy ─────────────────────────────────────────────

func (e *Engine) BuyItem(kind string) error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, _ string) error {
		s, err := BuyItem(next.Stats, kind, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

func (e *Engine) BuyFullRefillWithCoins() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, _ string) error {
		s, err := RefillHearts(next.Stats, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

// GrantFullHearts restores every heart free of charge. Operator use only.
func (e *Engine) GrantFullHearts() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, _ string) error {
		next.Stats.Hearts = next.Stats.HeartsMax
		next.Stats.NextHeartAt = ""
		return nil
	})
}

func (e *Engine) ClaimDailyQuest(slot int) error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, err := ClaimQuest(next.Stats, slot, today, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		next.Level = LevelForXP(s.XPTotal)
		return nil
	})
}

func (e *Engine) ClaimDailyReward() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, err := ClaimDailyReward(next.Stats, today, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

func (e *Engine) OpenLootBox() (models.LootReward, error) {
	var reward models.LootReward
	err := e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, r, err := OpenLoot(next.Stats, today, e.opts.Policy, e.opts.Roll)
		if err != nil {
			return err
		}
		next.Stats = s
		reward = r
		return nil
	})
	return reward, err
}

// ── Streak Remediation ──────────────────────────────────

func (e *Engine) UseStreakSave() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, _, err := UseStreakSave(next.Stats, today, activeToday(next.Stats, today))
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

func (e *Engine) AcceptStreakBreak() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, err := AcceptStreakBreak(next.Stats, today)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

func (e *Engine) BuyStreakSave() error {
	return e.mutate(func(next *models.UserProgress, _ time.Time, today string) error {
		s, err := BuyStreakSave(next.Stats, today, e.opts.Policy)
		if err != nil {
			return err
		}
		next.Stats = s
		return nil
	})
}

// SetServerStreakStatus installs a validated server row for display.
// Local state is never overwritten by it.
func (e *Engine) SetServerStreakStatus(st *models.ServerStreakStatus) {
	e.mu.Lock()
	e.server = st
	e.mu.Unlock()
}

// RefreshServerStreak fetches the server row without holding the engine lock,
// so an aborted or slow call never blocks local mutations.
func (e *Engine) RefreshServerStreak(ctx context.Context, f StreakStatusFetcher) error {
	if f == nil {
		return nil
	}
	st, err := f.FetchStreakStatus(ctx, e.userID)
	if err != nil {
		return fmt.Errorf("refresh streak status: %w", err)
	}
	e.SetServerStreakStatus(&st)
	return nil
}

// SetTimezone changes the zone used to derive the learner's calendar day.
func (e *Engine) SetTimezone(name string) error {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, name)
	}
	e.mu.Lock()
	e.loc = loc
	e.mu.Unlock()
	return e.mutate(func(next *models.UserProgress, _ time.Time, _ string) error {
		next.Timezone = loc.String()
		return nil
	})
}

// ── League ──────────────────────────────────────────────

// closingRank reads the rank of a finished league week outside the lock.
// week is empty when no week is due.
func (e *Engine) closingRank(ctx context.Context) (week string, rank int, err error) {
	e.mu.Lock()
	now := e.opts.Clock.Now()
	stored := e.progress.Stats.LeagueWeekStart
	tier := e.progress.Stats.LeagueTier
	due := LeagueWeekDue(e.progress.Stats, clock.WeekStart(now, e.loc))
	e.mu.Unlock()
	if !due {
		return "", 0, nil
	}
	if e.opts.Leaderboard == nil {
		return stored, 0, nil
	}

	r, err := e.opts.Leaderboard.Rank(ctx, e.userID, stored, tier)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return stored, 0, err
	case err != nil:
		log.Printf("[league] user %d: rank unavailable for week %s, keeping tier: %v", e.userID, stored, err)
		return stored, 0, nil
	}
	return stored, r, nil
}

// closeWeek rolls next into the current week if the stored one has ended.
// rank only counts when it was read for the week being closed; otherwise the
// learner stays in the tier.
func (e *Engine) closeWeek(next *models.UserProgress, now time.Time, rankWeek string, rank int) *models.LeagueWeekResult {
	if next.Stats.LeagueWeekStart != rankWeek {
		rank = 0
	}
	s, res := RollLeagueWeek(next.Stats, clock.WeekStart(now, e.loc), rank, e.opts.Policy)
	if res == nil {
		return nil
	}
	next.Stats = s
	log.Printf("[league] user %d: week %s closed at rank %d, %s → %s", e.userID, res.WeekStart, rank, res.PreviousTier, res.NewTier)
	return res
}

// rollLeague closes a finished league week once. A cancelled or timed out
// rank lookup leaves the week open for the next touch.
func (e *Engine) rollLeague(ctx context.Context) error {
	week, rank, err := e.closingRank(ctx)
	if err != nil {
		return err
	}
	if week == "" {
		return nil
	}
	return e.apply(func(next *models.UserProgress, now time.Time, _ string) error {
		if res := e.closeWeek(next, now, week, rank); res != nil {
			e.leagueResult = res
		}
		return nil
	})
}

// settleLeague runs the rollover for calls that carry no context.
func (e *Engine) settleLeague() {
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.WriteTimeout)
	defer cancel()
	if err := e.rollLeague(ctx); err != nil && !errors.Is(err, ErrEngineClosed) {
		log.Printf("[league] user %d: rollover deferred: %v", e.userID, err)
	}
}

// LeagueStanding returns the open league week, the tier and the XP earned in it.
func (e *Engine) LeagueStanding() (weekStart, tier string, xp int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.progress.Stats
	return s.LeagueWeekStart, s.LeagueTier, s.XPThisWeek
}

// TakeLeagueResult hands out the last week's result exactly once.
func (e *Engine) TakeLeagueResult() *models.LeagueWeekResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	res := e.leagueResult
	e.leagueResult = nil
	return res
}

// ── Lifecycle ───────────────────────────────────────────

// Resume is called when the app returns to the foreground.
func (e *Engine) Resume(ctx context.Context) (models.ProgressSnapshot, error) {
	if err := e.rollLeague(ctx); err != nil {
		log.Printf("[league] user %d: rollover deferred: %v", e.userID, err)
	}
	return e.Snapshot()
}

// Suspend waits for pending writes so the process can be safely suspended.
func (e *Engine) Suspend(ctx context.Context) error {
	return e.persist.flush(ctx)
}

// Close flushes and stops the engine. Further operations fail with ErrEngineClosed.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.persist.close(ctx)
}

// ── Reads ───────────────────────────────────────────────

// Snapshot catches the aggregate up to now and returns it with derived values.
func (e *Engine) Snapshot() (models.ProgressSnapshot, error) {
	e.settleLeague()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return models.ProgressSnapshot{}, ErrEngineClosed
	}
	now := e.opts.Clock.Now()
	next := e.progress.Clone()
	e.catchUp(&next, now)
	e.commitLocked(next)
	return e.snapshotLocked(now), nil
}

func (e *Engine) snapshotLocked(now time.Time) models.ProgressSnapshot {
	p := e.opts.Policy
	today := e.today(now)
	s := e.progress.Stats
	phase := EvaluateStreak(s, today)

	view := models.StreakView{
		Phase:     string(phase),
		Current:   s.StreakCurrent,
		Best:      s.StreakBest,
		Effective: EffectiveStreak(s, phase, e.server),
		Saves:     s.StreakSaves,
		MissedDay: MissedDay(s, today),
	}
	if e.server != nil {
		view.ServerState = string(e.server.Status)
	}

	return models.ProgressSnapshot{
		Progress:             e.progress.Clone(),
		DailyQuests:          DailyQuests(s, today, p),
		Streak:               view,
		LessonCompletedToday: s.DailyQuestsDate == today && s.DailyQuestProgress[QuestLessons-1] > 0,
		NextHeartAt:          s.NextHeartAt,
		LootAvailable:        LootAvailable(s, today),
		DailyRewardAvailable: s.LastDailyRewardDate != today,
		PendingLeagueResult:  e.leagueResult,
		Achievements:         EarnedAchievements(e.progress, p),
		PersistenceDegraded:  e.persist.isDegraded(),
	}
}

func (e *Engine) DueReviews(limit int) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return DueReviews(e.progress, e.opts.Clock.Now(), limit)
}

func (e *Engine) RecentMistakes(limit int) []models.MistakeBankEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return RecentMistakes(e.progress, limit)
}

func (e *Engine) NeedsTeaching(conceptID, partID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return NeedsTeaching(e.progress, conceptID, partID)
}
