package gamification

import (
	"testing"

	"github.com/pharm-prep/backend/internal/models"
)

func TestEvaluateLeagueWeek(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		tier string
		rank int
		want string
	}{
		{models.LeagueBronze, 3, models.LeagueSilver},
		{models.LeagueSilver, 10, models.LeagueGold},
		{models.LeagueGold, 1, models.LeagueGold},
		{models.LeagueSilver, 11, models.LeagueSilver},
		{models.LeagueSilver, 25, models.LeagueBronze},
		{models.LeagueBronze, 40, models.LeagueBronze},
		{models.LeagueGold, 0, models.LeagueGold}, // unknown rank
	}

	for _, tt := range tests {
		res := EvaluateLeagueWeek(tt.tier, tt.rank, p)
		if res.NewTier != tt.want {
			t.Errorf("EvaluateLeagueWeek(%s, %d) = %s, want %s", tt.tier, tt.rank, res.NewTier, tt.want)
		}
		if res.Promoted && res.Demoted || res.Stayed == (res.Promoted || res.Demoted) {
			t.Errorf("EvaluateLeagueWeek(%s, %d): inconsistent flags %+v", tt.tier, tt.rank, res)
		}
	}
}

func TestRollLeagueWeek(t *testing.T) {
	p := DefaultPolicy()
	s := models.UserStats{LeagueTier: models.LeagueBronze, LeagueWeekStart: "2026-03-02", XPThisWeek: 420}

	same, res := RollLeagueWeek(s, "2026-03-02", 3, p)
	if res != nil || same != s {
		t.Fatalf("same week rolled: %+v", res)
	}

	next, res := RollLeagueWeek(s, "2026-03-09", 3, p)
	if res == nil {
		t.Fatal("expected a week result")
	}
	if !res.Promoted || res.NewTier != models.LeagueSilver || res.XPEarned != 420 || res.WeekStart != "2026-03-02" {
		t.Errorf("result = %+v", res)
	}
	if next.LeagueTier != models.LeagueSilver || next.XPThisWeek != 0 || next.LeagueWeekStart != "2026-03-09" {
		t.Errorf("stats = %+v", next)
	}

	if _, again := RollLeagueWeek(next, "2026-03-09", 3, p); again != nil {
		t.Errorf("rollover applied twice: %+v", again)
	}
}

func TestAnchorLeagueWeek(t *testing.T) {
	s := AnchorLeagueWeek(models.UserStats{LeagueWeekStart: "bogus"}, "2026-03-09")
	if s.LeagueWeekStart != "2026-03-09" || s.LeagueTier != models.LeagueBronze {
		t.Errorf("anchor = %+v", s)
	}
	if LeagueWeekDue(s, "2026-03-09") {
		t.Error("freshly anchored week should not be due")
	}
}
