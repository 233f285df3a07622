package gamification

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pharm-prep/backend/internal/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func getUserID(r *http.Request) (int64, bool) {
	uid, ok := r.Context().Value("user_id").(int64)
	return uid, ok
}

// engine resolves the caller's engine or writes the error response.
func (h *Handler) engine(w http.ResponseWriter, r *http.Request) (*Engine, bool) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return nil, false
	}
	e, err := h.service.Engine(r.Context(), userID)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "Failed to load progress"})
		return nil, false
	}
	return e, true
}

// writeSnapshot answers a successful mutation with the new state.
func (h *Handler) writeSnapshot(w http.ResponseWriter, e *Engine) {
	snap, err := e.Snapshot()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ── Progress State ──────────────────────────────────────

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	e, err := h.service.Resume(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) Suspend(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	if err := h.service.Suspend(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "Progress not yet saved"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

// Teardown flushes the caller's progress and releases the in-memory engine.
func (h *Handler) Teardown(w http.ResponseWriter, r *http.Request) {
	userID, ok := getUserID(r)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Authentication required"})
		return
	}
	if err := h.service.Teardown(r.Context(), userID); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "Progress not yet saved"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

func (h *Handler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req struct {
		Timezone string `json:"timezone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	if err := e.SetTimezone(req.Timezone); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

// ── Lessons & Practice ──────────────────────────────────

func (h *Handler) StartLesson(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.StartLesson(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) CompleteLesson(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req models.CompleteLessonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	res, err := e.CompleteLesson(mux.Vars(r)["id"], req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.service.PushScore(r.Context(), e)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) CompletePractice(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	var req models.CompletePracticeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid request body"})
		return
	}
	res, err := e.CompletePractice(req)
	if err != nil {
		writeError(w, err)
		return
	}
	h.service.PushScore(r.Context(), e)
	writeJSON(w, http.StatusOK, res)
}

// ── Economy ─────────────────────────────────────────────

func (h *Handler) BuyItem(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.BuyItem(mux.Vars(r)["item"]); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) RefillHearts(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.BuyFullRefillWithCoins(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) ClaimQuest(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	slot, err := strconv.Atoi(mux.Vars(r)["slot"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "Invalid quest slot"})
		return
	}
	if err := e.ClaimDailyQuest(slot); err != nil {
		writeError(w, err)
		return
	}
	h.service.PushScore(r.Context(), e)
	h.writeSnapshot(w, e)
}

func (h *Handler) ClaimDailyReward(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.ClaimDailyReward(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) OpenLootBox(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	reward, err := e.OpenLootBox()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reward)
}

// ── Streak ──────────────────────────────────────────────

func (h *Handler) UseStreakSave(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.UseStreakSave(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) AcceptStreakBreak(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.AcceptStreakBreak(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

func (h *Handler) BuyStreakSave(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.BuyStreakSave(); err != nil {
		writeError(w, err)
		return
	}
	h.writeSnapshot(w, e)
}

// ── Mastery & Review ────────────────────────────────────

func (h *Handler) MarkTeachingSeen(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	if err := e.MarkTeachingSeen(mux.Vars(r)["part"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seen"})
}

func (h *Handler) NeedsTeaching(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	part := q.Get("part_id")
	if part == "" {
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "part_id is required"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"needs_teaching": e.NeedsTeaching(q.Get("concept_id"), part)})
}

func (h *Handler) DueReviews(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	limit := intQueryParam(r.URL.Query(), "limit", 20)
	writeJSON(w, http.StatusOK, map[string]interface{}{"drug_ids": e.DueReviews(limit)})
}

func (h *Handler) RecentMistakes(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	limit := intQueryParam(r.URL.Query(), "limit", 20)
	writeJSON(w, http.StatusOK, map[string]interface{}{"mistakes": e.RecentMistakes(limit)})
}

// ── League ──────────────────────────────────────────────

// TakeLeagueResult returns 204 when there is nothing to show.
func (h *Handler) TakeLeagueResult(w http.ResponseWriter, r *http.Request) {
	e, ok := h.engine(w, r)
	if !ok {
		return
	}
	res := e.TakeLeagueResult()
	if res == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ── Helpers ─────────────────────────────────────────────

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrInsufficientResource):
		status = http.StatusPaymentRequired
	case errors.Is(err, ErrAlreadyClaimed),
		errors.Is(err, ErrQuestNotCompleted),
		errors.Is(err, ErrDailyRewardClaimed),
		errors.Is(err, ErrLootUnavailable),
		errors.Is(err, ErrNoPendingBreak),
		errors.Is(err, ErrHeartsFull),
		errors.Is(err, ErrStreakSavesFull),
		errors.Is(err, ErrAlreadyActive):
		status = http.StatusConflict
	case errors.Is(err, ErrInvalidQuestSlot),
		errors.Is(err, ErrUnknownItem),
		errors.Is(err, ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, ErrEngineClosed):
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, models.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func intQueryParam(query url.Values, key string, defaultVal int) int {
	s := query.Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	return v
}
