package gamification

import (
	"errors"
	"testing"

	"github.com/pharm-prep/backend/internal/models"
)

func TestEvaluateStreak(t *testing.T) {
	tests := []struct {
		last   string
		streak int
		want   StreakPhase
	}{
		{"", 0, StreakNew},
		{"2026-03-10", 4, StreakCountedToday},
		{"2026-03-09", 4, StreakAlive},
		{"2026-03-08", 4, StreakPendingBreak},
		{"2026-03-08", 0, StreakBroken},
		{"2026-03-07", 4, StreakBroken},
		{"2026-03-12", 4, StreakCountedToday}, // future date
		{"03/10/2026", 4, StreakCountedToday}, // malformed
	}

	for _, tt := range tests {
		s := models.UserStats{LastActiveDate: tt.last, StreakCurrent: tt.streak}
		if got := EvaluateStreak(s, "2026-03-10"); got != tt.want {
			t.Errorf("EvaluateStreak(last=%q, streak=%d) = %s, want %s", tt.last, tt.streak, got, tt.want)
		}
	}
}

func TestRecordStreakActivity(t *testing.T) {
	tests := []struct {
		name         string
		last         string
		streak       int
		wantStreak   int
		wantLast     string
		wantExtended bool
	}{
		{"first ever", "", 0, 1, "2026-03-10", true},
		{"consecutive day", "2026-03-09", 4, 5, "2026-03-10", true},
		{"same day", "2026-03-10", 4, 4, "2026-03-10", false},
		{"pending break waits", "2026-03-08", 4, 4, "2026-03-08", false},
		{"broken restarts at zero", "2026-03-07", 4, 0, "2026-03-10", false},
	}

	for _, tt := range tests {
		s := models.UserStats{LastActiveDate: tt.last, StreakCurrent: tt.streak, StreakBest: tt.streak}
		got, extended := RecordStreakActivity(s, "2026-03-10")
		if got.StreakCurrent != tt.wantStreak || got.LastActiveDate != tt.wantLast || extended != tt.wantExtended {
			t.Errorf("%s: got streak=%d last=%q extended=%v, want %d %q %v",
				tt.name, got.StreakCurrent, got.LastActiveDate, extended, tt.wantStreak, tt.wantLast, tt.wantExtended)
		}
		if got.StreakBest < got.StreakCurrent {
			t.Errorf("%s: best %d below current %d", tt.name, got.StreakBest, got.StreakCurrent)
		}
	}
}

func TestStreakSaveCoversMissedDay(t *testing.T) {
	// Active on D, missed D+1, back on D+2 with one save.
	s := models.UserStats{LastActiveDate: "2026-03-01", StreakCurrent: 4, StreakBest: 4, StreakSaves: 1}
	today := "2026-03-03"

	if got := MissedDay(s, today); got != "2026-03-02" {
		t.Fatalf("MissedDay = %q, want 2026-03-02", got)
	}

	s, _, err := UseStreakSave(s, today, false)
	if err != nil {
		t.Fatalf("UseStreakSave: %v", err)
	}
	if s.StreakSaves != 0 || s.LastActiveDate != "2026-03-02" || s.StreakCurrent != 4 {
		t.Fatalf("after save: %+v", s)
	}

	s, extended := RecordStreakActivity(s, today)
	if !extended || s.StreakCurrent != 5 {
		t.Errorf("after activity: streak=%d extended=%v, want 5 true", s.StreakCurrent, extended)
	}
}

func TestStreakSaveAfterActivityToday(t *testing.T) {
	s := models.UserStats{LastActiveDate: "2026-03-01", StreakCurrent: 4, StreakSaves: 1}
	s, extended, err := UseStreakSave(s, "2026-03-03", true)
	if err != nil {
		t.Fatalf("UseStreakSave: %v", err)
	}
	if !extended || s.StreakCurrent != 5 || s.LastActiveDate != "2026-03-03" {
		t.Errorf("got %+v extended=%v", s, extended)
	}
}

func TestStreakBreaksAfterTwoMissedDays(t *testing.T) {
	// Active on D, missed D+1 and D+2, lesson on D+3.
	s := models.UserStats{LastActiveDate: "2026-03-01", StreakCurrent: 4, StreakBest: 4}
	today := "2026-03-04"

	s = CatchUpStreak(s, today)
	s, _ = RecordStreakActivity(s, today)
	if s.StreakCurrent != 0 {
		t.Errorf("streak = %d, want 0", s.StreakCurrent)
	}
	if s.StreakBest != 4 {
		t.Errorf("best = %d, want 4", s.StreakBest)
	}
	if EvaluateStreak(s, today) != StreakCountedToday {
		t.Errorf("phase = %s, want counted_today", EvaluateStreak(s, today))
	}

	// The restart day is not counted; the next day starts the new streak.
	s, extended := RecordStreakActivity(s, "2026-03-05")
	if !extended || s.StreakCurrent != 1 {
		t.Errorf("day after restart: streak=%d extended=%v, want 1 true", s.StreakCurrent, extended)
	}
}

func TestStreakRemediationErrors(t *testing.T) {
	p := DefaultPolicy()
	alive := models.UserStats{LastActiveDate: "2026-03-09", StreakCurrent: 3, Coins: 1000, StreakSaves: 1}
	pending := models.UserStats{LastActiveDate: "2026-03-08", StreakCurrent: 3}
	today := "2026-03-10"

	if _, _, err := UseStreakSave(alive, today, false); !errors.Is(err, ErrNoPendingBreak) {
		t.Errorf("UseStreakSave while alive: err = %v", err)
	}
	if _, err := AcceptStreakBreak(alive, today); !errors.Is(err, ErrNoPendingBreak) {
		t.Errorf("AcceptStreakBreak while alive: err = %v", err)
	}
	if _, err := BuyStreakSave(alive, today, p); !errors.Is(err, ErrNoPendingBreak) {
		t.Errorf("BuyStreakSave while alive: err = %v", err)
	}

	_, _, err := UseStreakSave(pending, today, false)
	if !errors.Is(err, ErrNoStreakSaveAvailable) || !errors.Is(err, ErrInsufficientResource) {
		t.Errorf("UseStreakSave without saves: err = %v", err)
	}

	poor := pending
	poor.Coins = p.StreakSaveCost - 1
	if _, err := BuyStreakSave(poor, today, p); !errors.Is(err, ErrInsufficientCoins) {
		t.Errorf("BuyStreakSave without coins: err = %v", err)
	}

	full := pending
	full.Coins = 10000
	full.StreakSaves = p.MaxStreakSaves
	if _, err := BuyStreakSave(full, today, p); !errors.Is(err, ErrStreakSavesFull) {
		t.Errorf("BuyStreakSave at cap: err = %v", err)
	}

	rich := pending
	rich.Coins = 250
	got, err := BuyStreakSave(rich, today, p)
	if err != nil || got.StreakSaves != 1 || got.Coins != 50 {
		t.Errorf("BuyStreakSave: %+v, %v", got, err)
	}
}

func TestAcceptStreakBreak(t *testing.T) {
	s := models.UserStats{LastActiveDate: "2026-03-08", StreakCurrent: 9, StreakBest: 9}
	s, err := AcceptStreakBreak(s, "2026-03-10")
	if err != nil {
		t.Fatalf("AcceptStreakBreak: %v", err)
	}
	if s.StreakCurrent != 0 || s.LastActiveDate != "2026-03-10" || s.StreakBest != 9 {
		t.Errorf("got %+v", s)
	}
}

func TestEffectiveStreak(t *testing.T) {
	s := models.UserStats{StreakCurrent: 6}
	tests := []struct {
		name   string
		phase  StreakPhase
		server *models.ServerStreakStatus
		want   int
	}{
		{"local alive", StreakAlive, nil, 6},
		{"local broken", StreakBroken, nil, 0},
		{"server lost", StreakAlive, &models.ServerStreakStatus{Status: models.StreakLost, StreakCurrent: 6}, 0},
		{"server wins", StreakAlive, &models.ServerStreakStatus{Status: models.StreakExtended, StreakCurrent: 8}, 8},
		{"server at risk", StreakPendingBreak, &models.ServerStreakStatus{Status: models.StreakAtRisk, StreakCurrent: 6}, 6},
	}
	for _, tt := range tests {
		if got := EffectiveStreak(s, tt.phase, tt.server); got != tt.want {
			t.Errorf("%s: EffectiveStreak = %d, want %d", tt.name, got, tt.want)
		}
	}
}
