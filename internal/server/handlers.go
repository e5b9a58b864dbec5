/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/audit"
	"github.com/friendsincode/interview_scheduler/internal/db"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/reminders"
	"github.com/friendsincode/interview_scheduler/internal/slots"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
	"github.com/friendsincode/interview_scheduler/internal/version"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

type leaderStatus interface {
	IsLeader() bool
}

type handlers struct {
	app    *App
	leader leaderStatus
	logger zerolog.Logger
}

func (h *handlers) routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", telemetry.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/slots/{slotID}", func(r chi.Router) {
			r.Get("/", h.handleGetSlot)
			r.Get("/history", h.handleSlotHistory)
			r.Get("/reminders", h.handleSlotReminders)
			r.Post("/transitions", h.handleTransition)
			r.Post("/recompute", h.handleRecompute)
		})
		r.Get("/reminders/due", h.handleDueReminders)
		r.Get("/reminders/failed", h.handleFailedReminders)
		r.Get("/notification-log", h.handleNotificationLog)
		r.Post("/deliveries/run-once", h.handleRunOnce)
	})
}

func (h *handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":  "ok",
		"version": version.String(),
		"leader":  h.leader.IsLeader(),
	}
	if err := db.Ping(h.app.DB); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = err.Error()
	}
	writeJSON(w, status, body)
}

func (h *handlers) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	slot, err := h.app.Machine.Load(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

func (h *handlers) handleSlotHistory(w http.ResponseWriter, r *http.Request) {
	rows, err := h.app.Log.History(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": rows})
}

func (h *handlers) handleSlotReminders(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.app.Queue.JobsForSlot(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type transitionRequest struct {
	Action      string     `json:"action"`
	Actor       string     `json:"actor"`
	CandidateID string     `json:"candidate_id"`
	Force       bool       `json:"force"`
	StartUTC    *time.Time `json:"start_utc"`
	// Version must match the stored row; omit to act on the current row.
	Version *int64 `json:"version"`
}

type reminderSummary struct {
	Scheduled []models.NotificationJob `json:"scheduled"`
	Kept      []models.NotificationJob `json:"kept"`
	Canceled  []models.NotificationJob `json:"canceled"`
	Settled   []models.NotificationJob `json:"settled"`
	Skipped   []skippedTier            `json:"skipped"`
}

type skippedTier struct {
	Kind         models.ReminderKind `json:"kind"`
	TriggerAtUTC time.Time           `json:"trigger_at_utc"`
	Reason       string              `json:"reason"`
}

func summarize(res reminders.Result) reminderSummary {
	out := reminderSummary{
		Scheduled: nonNil(res.Scheduled),
		Kept:      nonNil(res.Kept),
		Canceled:  nonNil(res.Canceled),
		Settled:   nonNil(res.Settled),
		Skipped:   []skippedTier{},
	}
	for _, s := range res.Skipped {
		out.Skipped = append(out.Skipped, skippedTier{Kind: s.Kind, TriggerAtUTC: s.TriggerAtUTC, Reason: s.Reason.Error()})
	}
	return out
}

func nonNil(jobs []models.NotificationJob) []models.NotificationJob {
	if jobs == nil {
		return []models.NotificationJob{}
	}
	return jobs
}

func (h *handlers) handleTransition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	action, err := slots.ParseAction(req.Action)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	slot, err := h.app.Machine.Load(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if req.Version != nil && *req.Version != slot.Version {
		h.writeDomainError(w, errors.Wrapf(slots.ErrConflict, "slot is at version %d", slot.Version))
		return
	}

	transition := slots.Request{
		Action:      action,
		Actor:       req.Actor,
		CandidateID: req.CandidateID,
		Force:       req.Force,
	}
	if req.StartUTC != nil {
		transition.StartUTC = req.StartUTC.UTC()
	}

	out, err := h.app.Machine.Apply(r.Context(), slot, transition)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slot":      out.Slot,
		"from":      out.From,
		"reminders": summarize(out.Reminders),
	})
}

func (h *handlers) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Scheduler.RecomputeSlot(r.Context(), chi.URLParam(r, "slotID"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summarize(res))
}

func (h *handlers) handleDueReminders(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.app.Queue.DueJobs(r.Context(), h.app.Clock.Now(), parseLimit(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func (h *handlers) handleFailedReminders(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.app.Queue.Failed(r.Context(), parseLimit(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": nonNil(jobs)})
}

func (h *handlers) handleNotificationLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := audit.Filters{Limit: parseLimit(r)}
	if v := q.Get("slot_id"); v != "" {
		filters.SlotID = &v
	}
	if v := q.Get("job_id"); v != "" {
		filters.JobID = &v
	}
	if v := q.Get("kind"); v != "" {
		kind, err := models.ParseReminderKind(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_kind", err.Error())
			return
		}
		filters.Kind = &kind
	}
	if v := q.Get("result"); v != "" {
		result := models.AttemptResult(strings.ToLower(v))
		filters.Result = &result
	}
	for key, dst := range map[string]**time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		if v := q.Get(key); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_"+key, err.Error())
				return
			}
			*dst = &t
		}
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		filters.Offset = v
	}

	rows, total, err := h.app.Log.Query(r.Context(), filters)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"attempts": rows, "total": total})
}

func (h *handlers) handleRunOnce(w http.ResponseWriter, r *http.Request) {
	stats, err := h.app.Pool.RunOnce(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func parseLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

func (h *handlers) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, slots.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, slots.ErrRequiresForce):
		writeErrorHint(w, http.StatusConflict, "requires_force", err.Error(), errors.FlattenHints(err))
	case errors.Is(err, slots.ErrIllegalTransition):
		writeError(w, http.StatusConflict, "illegal_transition", err.Error())
	case errors.Is(err, slots.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeErrorHint(w, status, code, message, "")
}

func writeErrorHint(w http.ResponseWriter, status int, code, message, hint string) {
	body := map[string]string{"error": code, "message": message}
	if hint != "" {
		body["hint"] = hint
	}
	writeJSON(w, status, body)
}
