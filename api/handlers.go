/*
handlers.go - HTTP API handlers for the quota engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates every decision to the engine; handlers
  keep no counters of their own. The returned bodies ARE the client's
  state - any response to a mutating call invalidates whatever the
  client believed before.

ENDPOINTS:
  GET  /api/healthz                     Liveness
  GET  /api/subjects/{id}/state         Today's counters
  GET  /api/subjects/{id}/can-pick      Whether a pick would be accepted
  POST /api/subjects/{id}/picks         Record a pick (optional token)
  POST /api/subjects/{id}/rewards       Record a reward completion
  GET  /api/subjects/{id}/lifetime      Lifetime total
  GET  /api/subjects/{id}/streak        Consecutive-day streak
  GET  /api/subjects/{id}/history?days= Recent ledger entries

ERROR HANDLING:
  - 400: invalid subject or malformed input
  - 409: quota/cap/ceiling outcomes (expected, body carries the code)
  - 503: store unavailable after the engine's retries
  - 500: anything else

SECURITY NOTE:
  The subject ID in the path is trusted as already authenticated; the
  identity provider sits in front of this service.

SEE ALSO:
  - dto.go:    Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orchard/quota-engine/quota"
)

const defaultHistoryDays = 30
const maxHistoryDays = 365

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *quota.Engine

	// Now is the clock used to resolve "today"; overridable in tests.
	Now func() time.Time
}

// NewHandler creates a handler around the engine.
func NewHandler(engine *quota.Engine) *Handler {
	return &Handler{Engine: engine, Now: time.Now}
}

// =============================================================================
// HANDLERS
// =============================================================================

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetDailyState returns today's counters for the subject.
func (h *Handler) GetDailyState(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))

	state, err := h.Engine.DailyState(r.Context(), subject, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// CanPick reports whether a pick would currently be accepted.
func (h *Handler) CanPick(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))
	now := h.Now()

	ok, err := h.Engine.CanPerformPick(r.Context(), subject, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CanPickDTO{
		Subject: string(subject),
		Day:     string(h.Engine.Calendar.DayKeyOf(now)),
		CanPick: ok,
	})
}

// RecordPick records one pick. The failure response is authoritative:
// a 409 means the pick did not count, whatever the client's own state
// suggested.
func (h *Handler) RecordPick(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))

	var req PickRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "invalid request body"})
			return
		}
	}

	res, err := h.Engine.RecordPick(r.Context(), subject, h.Now(), req.Token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RecordReward records one reward completion.
func (h *Handler) RecordReward(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))

	res, err := h.Engine.RecordRewardCompletion(r.Context(), subject, h.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetLifetime returns the subject's lifetime pick total.
func (h *Handler) GetLifetime(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))

	total, err := h.Engine.LifetimeTotal(r.Context(), subject)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, LifetimeDTO{Subject: string(subject), Lifetime: total})
}

// GetStreak returns the consecutive-day streak ending today.
func (h *Handler) GetStreak(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))
	now := h.Now()

	streak, err := h.Engine.Streak(r.Context(), subject, now)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StreakDTO{
		Subject: string(subject),
		Day:     string(h.Engine.Calendar.DayKeyOf(now)),
		Streak:  streak,
	})
}

// GetHistory returns recent ledger entries, most recent first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	subject := quota.Subject(chi.URLParam(r, "id"))

	days := defaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: "days must be a positive integer"})
			return
		}
		days = n
	}
	if days > maxHistoryDays {
		days = maxHistoryDays
	}

	entries, err := h.Engine.History(r.Context(), subject, days)
	if err != nil {
		writeError(w, err)
		return
	}

	dto := HistoryDTO{Subject: string(subject), Entries: make([]EntryDTO, 0, len(entries))}
	for _, e := range entries {
		dto.Entries = append(dto.Entries, entryDTO(e))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// writeError maps engine errors onto HTTP statuses. Business outcomes
// are 409s with a machine-readable code; only genuine system failures
// become 5xx.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quota.ErrInvalidSubject):
		writeJSON(w, http.StatusBadRequest, ErrorDTO{Error: err.Error(), Code: "invalid_subject"})
	case errors.Is(err, quota.ErrQuotaExceeded):
		writeJSON(w, http.StatusConflict, ErrorDTO{Error: err.Error(), Code: "quota_exceeded"})
	case errors.Is(err, quota.ErrRewardCapReached):
		writeJSON(w, http.StatusConflict, ErrorDTO{Error: err.Error(), Code: "reward_cap_reached"})
	case errors.Is(err, quota.ErrAllowanceCeilingReached):
		writeJSON(w, http.StatusConflict, ErrorDTO{Error: err.Error(), Code: "allowance_ceiling_reached"})
	case errors.Is(err, quota.ErrConstraintViolation):
		writeJSON(w, http.StatusConflict, ErrorDTO{Error: err.Error(), Code: "at_limit"})
	case errors.Is(err, quota.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, ErrorDTO{Error: "store unavailable, retry later", Code: "store_unavailable"})
	default:
		writeJSON(w, http.StatusInternalServerError, ErrorDTO{Error: "internal error"})
	}
}
