/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots owns every write to an interview slot. A transition updates
// the row under an optimistic version check and recomputes the slot's
// reminders in the same transaction.
package slots

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/reminders"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

var (
	// ErrIllegalTransition means the action is not allowed from the slot's
	// current state.
	ErrIllegalTransition = errors.New("illegal slot transition")
	// ErrConflict means the slot changed since it was read. Reload and retry.
	ErrConflict = errors.New("slot was modified concurrently")
	// ErrRequiresForce guards destructive actions on slots with a candidate.
	ErrRequiresForce = errors.New("action requires force")
	// ErrInvalidRequest covers malformed requests such as a booking without
	// a candidate.
	ErrInvalidRequest = errors.New("invalid transition request")
)

// Action is a requested slot change.
type Action string

const (
	ActionBook       Action = "book"
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionConfirm    Action = "confirm"
	ActionCancel     Action = "cancel"
	ActionRestore    Action = "restore"
	ActionReschedule Action = "reschedule"
)

// Actions lists every action in display order.
var Actions = []Action{ActionBook, ActionApprove, ActionReject, ActionConfirm, ActionCancel, ActionRestore, ActionReschedule}

// ParseAction rejects unknown actions.
func ParseAction(raw string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := graph[a]; !ok {
		return "", errors.Wrapf(ErrInvalidRequest, "unknown action %q", raw)
	}
	return a, nil
}

type edge struct {
	from []models.SlotStatus
	// to is empty when the action keeps the current status.
	to models.SlotStatus
}

var graph = map[Action]edge{
	ActionBook:    {from: []models.SlotStatus{models.SlotFree}, to: models.SlotPending},
	ActionApprove: {from: []models.SlotStatus{models.SlotPending}, to: models.SlotBooked},
	ActionReject:  {from: []models.SlotStatus{models.SlotPending}, to: models.SlotFree},
	ActionConfirm: {from: []models.SlotStatus{models.SlotBooked}, to: models.SlotConfirmed},
	ActionCancel:  {from: []models.SlotStatus{models.SlotPending, models.SlotBooked, models.SlotConfirmed}, to: models.SlotCanceled},
	ActionRestore: {from: []models.SlotStatus{models.SlotCanceled}, to: models.SlotFree},
	ActionReschedule: {from: []models.SlotStatus{
		models.SlotFree, models.SlotPending, models.SlotBooked, models.SlotConfirmed,
	}},
}

// Target returns the status a slot in from ends up in after a, and whether a
// is allowed from there at all.
func Target(from models.SlotStatus, a Action) (models.SlotStatus, bool) {
	e, ok := graph[a]
	if !ok {
		return "", false
	}
	for _, s := range e.from {
		if s == from {
			if e.to == "" {
				return from, true
			}
			return e.to, true
		}
	}
	return "", false
}

// Request describes one transition.
type Request struct {
	Action Action
	Actor  string
	// CandidateID is required for book.
	CandidateID string
	// Force confirms a destructive action on a slot with a candidate.
	Force bool
	// StartUTC is the new start for reschedule.
	StartUTC time.Time
}

// Outcome is a committed transition.
type Outcome struct {
	Slot      *models.Slot
	From      models.SlotStatus
	Reminders reminders.Result
}

// Machine applies transitions.
type Machine struct {
	db        *gorm.DB
	scheduler *reminders.Scheduler
	clock     clock.Clock
	bus       *events.Bus
	logger    zerolog.Logger
}

// New creates a state machine.
func New(db *gorm.DB, scheduler *reminders.Scheduler, clk clock.Clock, bus *events.Bus, logger zerolog.Logger) *Machine {
	return &Machine{
		db:        db,
		scheduler: scheduler,
		clock:     clk,
		bus:       bus,
		logger:    logger.With().Str("component", "slots").Logger(),
	}
}

// Load fetches the current row, for example after ErrConflict.
func (m *Machine) Load(ctx context.Context, id string) (*models.Slot, error) {
	var slot models.Slot
	if err := m.db.WithContext(ctx).Where("id = ?", id).Take(&slot).Error; err != nil {
		return nil, errors.Wrapf(err, "load slot %s", id)
	}
	return &slot, nil
}

// Transition applies req to slot as read by the caller and returns the
// updated slot. slot itself is not modified.
func (m *Machine) Transition(ctx context.Context, slot *models.Slot, req Request) (*models.Slot, error) {
	out, err := m.Apply(ctx, slot, req)
	if err != nil {
		return nil, err
	}
	return out.Slot, nil
}

// Apply is Transition with the reminder changes included.
func (m *Machine) Apply(ctx context.Context, slot *models.Slot, req Request) (*Outcome, error) {
	ctx, span := telemetry.StartSpan(ctx, "slots", "slots.Transition")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"slot.id":     slot.ID,
		"slot.action": string(req.Action),
		"slot.status": string(slot.Status),
	})

	out, err := m.apply(ctx, slot, req)
	result := resultLabel(err)
	telemetry.SlotTransitionsTotal.WithLabelValues(string(req.Action), result).Inc()

	logEvt := m.logger.Info()
	if err != nil {
		telemetry.RecordError(span, err)
		logEvt = m.logger.Warn().Err(err)
	}
	logEvt.
		Str("slot_id", slot.ID).
		Str("action", string(req.Action)).
		Str("actor", req.Actor).
		Str("from", string(slot.Status)).
		Int64("version", slot.Version).
		Str("result", result).
		Msg("slot transition")

	if err != nil {
		return nil, err
	}

	out.Reminders.Observe()
	m.bus.Publish(events.EventSlotTransitioned, events.Payload{
		"slot_id":   out.Slot.ID,
		"action":    string(req.Action),
		"actor":     req.Actor,
		"from":      string(out.From),
		"to":        string(out.Slot.Status),
		"version":   out.Slot.Version,
		"start_utc": out.Slot.StartUTC,
	})
	out.Reminders.Publish(m.bus)
	return out, nil
}

func (m *Machine) apply(ctx context.Context, slot *models.Slot, req Request) (*Outcome, error) {
	now := m.clock.Now().UTC()

	to, ok := Target(slot.Status, req.Action)
	if !ok {
		if _, known := graph[req.Action]; !known {
			return nil, errors.Wrapf(ErrInvalidRequest, "unknown action %q", req.Action)
		}
		return nil, errors.Wrapf(ErrIllegalTransition, "%s from %s", req.Action, slot.Status)
	}

	next := *slot
	next.Status = to
	updates := map[string]any{"status": to}

	switch req.Action {
	case ActionBook:
		if strings.TrimSpace(req.CandidateID) == "" {
			return nil, errors.Wrap(ErrInvalidRequest, "book requires a candidate")
		}
		id := req.CandidateID
		next.CandidateID = &id
		updates["candidate_id"] = id

	case ActionReject:
		next.CandidateID = nil
		updates["candidate_id"] = nil

	case ActionCancel:
		if slot.HasCandidate() && !req.Force {
			return nil, errors.WithHint(
				errors.Wrapf(ErrRequiresForce, "slot %s has candidate %s", slot.ID, *slot.CandidateID),
				"cancelling drops the booking and all pending reminders; repeat with force to confirm",
			)
		}
		next.CancelledAt = &now
		updates["cancelled_at"] = now

	case ActionRestore:
		if !slot.StartUTC.After(now) {
			return nil, errors.Wrapf(ErrIllegalTransition, "restore: slot started at %s", slot.StartUTC.Format(time.RFC3339))
		}
		next.CandidateID = nil
		next.CancelledAt = nil
		updates["candidate_id"] = nil
		updates["cancelled_at"] = nil

	case ActionReschedule:
		if req.StartUTC.IsZero() {
			return nil, errors.Wrap(ErrInvalidRequest, "reschedule requires a start time")
		}
		newStart := req.StartUTC.UTC()
		if !newStart.After(now) {
			return nil, errors.Wrapf(ErrIllegalTransition, "reschedule to past start %s", newStart.Format(time.RFC3339))
		}
		next.StartUTC = newStart
		updates["start_utc"] = newStart
	}

	next.Version = slot.Version + 1
	next.UpdatedAt = now
	updates["version"] = next.Version
	updates["updated_at"] = now

	out := &Outcome{Slot: &next, From: slot.Status}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if req.Action == ActionRestore && slot.HasCandidate() {
			if err := m.checkNoReplacement(ctx, tx, slot); err != nil {
				return err
			}
		}

		res := tx.Model(&models.Slot{}).
			Where("id = ? AND version = ?", slot.ID, slot.Version).
			Updates(updates)
		if res.Error != nil {
			return errors.Wrapf(res.Error, "update slot %s", slot.ID)
		}
		if res.RowsAffected == 0 {
			return errors.Wrapf(ErrConflict, "slot %s at version %d", slot.ID, slot.Version)
		}

		var err error
		out.Reminders, err = m.scheduler.Recompute(ctx, tx, &next)
		if err != nil {
			return errors.Wrap(err, "recompute reminders")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// checkNoReplacement refuses to restore a slot whose candidate already holds
// another live booking.
func (m *Machine) checkNoReplacement(ctx context.Context, tx *gorm.DB, slot *models.Slot) error {
	var n int64
	err := tx.WithContext(ctx).Model(&models.Slot{}).
		Where("candidate_id = ? AND id <> ? AND status IN ?", *slot.CandidateID, slot.ID,
			[]models.SlotStatus{models.SlotPending, models.SlotBooked, models.SlotConfirmed}).
		Count(&n).Error
	if err != nil {
		return errors.Wrap(err, "check replacement booking")
	}
	if n > 0 {
		return errors.Wrapf(ErrIllegalTransition, "restore: candidate %s already holds another slot", *slot.CandidateID)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrRequiresForce):
		return "requires_force"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid"
	default:
		return "error"
	}
}
