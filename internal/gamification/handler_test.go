package gamification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharm-prep/backend/internal/clock"
	"github.com/pharm-prep/backend/internal/models"
)

type recordedScore struct {
	week, tier string
	xp         int64
}

type fakeScores struct {
	pushed []recordedScore
}

func (f *fakeScores) RecordWeeklyXP(ctx context.Context, userID int64, weekStart, tier string, xp int64) error {
	f.pushed = append(f.pushed, recordedScore{weekStart, tier, xp})
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *Service, *fakeScores) {
	t.Helper()
	scores := &fakeScores{}
	svc := NewService(newMemStore(), testOptions(clock.NewManual(monday)), scores, nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	return NewHandler(svc), svc, scores
}

func authed(method, target, body string, vars map[string]string) *http.Request {
	r := httptest.NewRequest(method, target, strings.NewReader(body))
	r = r.WithContext(context.WithValue(r.Context(), "user_id", int64(7)))
	if vars != nil {
		r = mux.SetURLVars(r, vars)
	}
	return r
}

func TestHandlerRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.GetProgress(w, httptest.NewRequest(http.MethodGet, "/api/v1/progress", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerCompleteLesson(t *testing.T) {
	h, svc, scores := newTestHandler(t)

	w := httptest.NewRecorder()
	h.CompleteLesson(w, authed(http.MethodPost, "/", `{"score":100}`, map[string]string{"id": "l1"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res models.LessonResult
	require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
	assert.Equal(t, 20, res.XP.Total)
	require.Len(t, scores.pushed, 1)
	assert.Equal(t, recordedScore{"2026-03-02", models.LeagueBronze, 20}, scores.pushed[0])
	assert.Equal(t, 1, svc.Loaded())

	w = httptest.NewRecorder()
	h.CompleteLesson(w, authed(http.MethodPost, "/", `{not json`, map[string]string{"id": "l1"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerErrorStatuses(t *testing.T) {
	h, _, _ := newTestHandler(t)

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.StartLesson(w, authed(http.MethodPost, "/", "", map[string]string{"id": "l1"}))
		require.Equal(t, http.StatusOK, w.Code)
	}

	tests := []struct {
		name string
		call func(w http.ResponseWriter)
		want int
	}{
		{"no hearts", func(w http.ResponseWriter) {
			h.StartLesson(w, authed(http.MethodPost, "/", "", map[string]string{"id": "l1"}))
		}, http.StatusPaymentRequired},
		{"quest not done", func(w http.ResponseWriter) {
			h.ClaimQuest(w, authed(http.MethodPost, "/", "", map[string]string{"slot": "1"}))
		}, http.StatusConflict},
		{"bad slot", func(w http.ResponseWriter) {
			h.ClaimQuest(w, authed(http.MethodPost, "/", "", map[string]string{"slot": "9"}))
		}, http.StatusBadRequest},
		{"unknown item", func(w http.ResponseWriter) {
			h.BuyItem(w, authed(http.MethodPost, "/", "", map[string]string{"item": "hat"}))
		}, http.StatusBadRequest},
		{"no pending break", func(w http.ResponseWriter) {
			h.AcceptStreakBreak(w, authed(http.MethodPost, "/", "", nil))
		}, http.StatusConflict},
		{"loot locked", func(w http.ResponseWriter) {
			h.OpenLootBox(w, authed(http.MethodPost, "/", "", nil))
		}, http.StatusConflict},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		tt.call(w)
		assert.Equal(t, tt.want, w.Code, tt.name)
	}
}

func TestHandlerLeagueResultNoContent(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.TakeLeagueResult(w, authed(http.MethodGet, "/", "", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHandlerReviewLists(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := `{"answers":[{"drug_id":"digoxin","question_type":"dose","correct":false}]}`
	w := httptest.NewRecorder()
	h.CompletePractice(w, authed(http.MethodPost, "/", body, nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	h.RecentMistakes(w, authed(http.MethodGet, "/?limit=5", "", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var mistakes struct {
		Mistakes []models.MistakeBankEntry `json:"mistakes"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&mistakes))
	require.Len(t, mistakes.Mistakes, 1)
	assert.Equal(t, "digoxin", mistakes.Mistakes[0].DrugID)

	w = httptest.NewRecorder()
	h.NeedsTeaching(w, authed(http.MethodGet, "/", "", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerTeardownReloadsStoredRecord(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, testOptions(clock.NewManual(monday)), nil, nil)
	t.Cleanup(func() { _ = svc.Shutdown(context.Background()) })
	h := NewHandler(svc)

	w := httptest.NewRecorder()
	h.StartLesson(w, authed(http.MethodPost, "/", "", map[string]string{"id": "l1"}))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, svc.Suspend(context.Background(), 7))

	// An operator edits the record while the engine is loaded.
	edited := store.stored(t, 7)
	edited.Stats.Hearts = 5
	edited.Stats.Coins = 777
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	store.mu.Lock()
	store.data[7] = data
	store.mu.Unlock()

	w = httptest.NewRecorder()
	h.Teardown(w, authed(http.MethodPost, "/", "", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, svc.Loaded())

	w = httptest.NewRecorder()
	h.GetProgress(w, authed(http.MethodGet, "/", "", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.ProgressSnapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, 777, snap.Progress.Stats.Coins)
	assert.Equal(t, 5, snap.Progress.Stats.Hearts)
}

func TestHandlerTeardownRequiresAuth(t *testing.T) {
	h, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	h.Teardown(w, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
