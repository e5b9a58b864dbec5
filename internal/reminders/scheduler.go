/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reminders derives the T-24h, T-1h and T-30m reminder jobs of a slot
// from its current state. Recompute converges the outbox to the slot: it is
// idempotent and runs inside the caller's transaction.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

// DefaultGrace is how far in the past a trigger may lie and still be enqueued.
const DefaultGrace = 2 * time.Minute

// ErrPastTrigger marks a tier whose trigger fell before now minus the grace
// window.
var ErrPastTrigger = errors.New("reminder trigger is in the past")

// Cancel reasons reported in metrics and events.
const (
	ReasonIneligible  = "slot_ineligible"
	ReasonRescheduled = "rescheduled"
)

// SchedulingSkipped reports a tier that was not enqueued. It is informational
// and never fails Recompute.
type SchedulingSkipped struct {
	Kind         models.ReminderKind
	TriggerAtUTC time.Time
	Reason       error
}

func (s SchedulingSkipped) Error() string {
	return fmt.Sprintf("%s reminder at %s skipped: %v", s.Kind, s.TriggerAtUTC.Format(time.RFC3339), s.Reason)
}

func (s SchedulingSkipped) Unwrap() error { return s.Reason }

// Result describes what one Recompute changed.
type Result struct {
	SlotID    string
	Scheduled []models.NotificationJob
	Kept      []models.NotificationJob
	Canceled  []models.NotificationJob
	Skipped   []SchedulingSkipped
	// Settled holds tiers whose dedup key already reached SENT or FAILED.
	Settled []models.NotificationJob

	cancelReason string
}

// Changed reports whether the outbox was modified.
func (r Result) Changed() bool {
	return len(r.Scheduled) > 0 || len(r.Canceled) > 0
}

// Observe records the result in prometheus.
func (r Result) Observe() {
	for _, j := range r.Scheduled {
		telemetry.RemindersScheduledTotal.WithLabelValues(string(j.Kind)).Inc()
	}
	if n := len(r.Canceled); n > 0 {
		telemetry.RemindersCanceledTotal.WithLabelValues(r.cancelReason).Add(float64(n))
	}
	for _, s := range r.Skipped {
		telemetry.RemindersSkippedTotal.WithLabelValues(string(s.Kind)).Inc()
	}
}

// Publish announces scheduled and canceled jobs. Call only after commit.
func (r Result) Publish(bus *events.Bus) {
	for _, j := range r.Scheduled {
		bus.Publish(events.EventReminderScheduled, events.Payload{
			"slot_id":        r.SlotID,
			"job_id":         j.ID,
			"kind":           string(j.Kind),
			"trigger_at_utc": j.TriggerAtUTC,
		})
	}
	for _, j := range r.Canceled {
		bus.Publish(events.EventReminderCanceled, events.Payload{
			"slot_id": r.SlotID,
			"job_id":  j.ID,
			"kind":    string(j.Kind),
			"reason":  r.cancelReason,
		})
	}
}

// Scheduler keeps reminder jobs in step with slots.
type Scheduler struct {
	db     *gorm.DB
	queue  *outbox.Queue
	clock  clock.Clock
	grace  time.Duration
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates a scheduler. A non-positive grace uses DefaultGrace.
func New(db *gorm.DB, queue *outbox.Queue, clk clock.Clock, grace time.Duration, bus *events.Bus, logger zerolog.Logger) *Scheduler {
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Scheduler{
		db:     db,
		queue:  queue,
		clock:  clk,
		grace:  grace,
		bus:    bus,
		logger: logger.With().Str("component", "reminders").Logger(),
	}
}

// TriggerAt is the UTC instant a tier fires for a slot starting at start.
func TriggerAt(start time.Time, kind models.ReminderKind) time.Time {
	return start.UTC().Add(-kind.Offset())
}

// Recompute brings the slot's reminder jobs in line with its current status
// and start time using tx. The caller commits, then calls Observe and Publish
// on the result.
func (s *Scheduler) Recompute(ctx context.Context, tx *gorm.DB, slot *models.Slot) (Result, error) {
	res := Result{SlotID: slot.ID}
	q := s.queue.WithTx(tx)
	now := s.clock.Now().UTC()

	live, err := q.LiveJobs(ctx, slot.ID)
	if err != nil {
		return res, err
	}

	if !slot.Status.ReminderEligible() || !slot.HasCandidate() {
		res.cancelReason = ReasonIneligible
		if err := s.cancel(ctx, q, &res, live, now); err != nil {
			return res, err
		}
		s.logResult(slot, res)
		return res, nil
	}

	res.cancelReason = ReasonRescheduled
	byKind := make(map[models.ReminderKind][]models.NotificationJob, len(models.ReminderKinds))
	for _, j := range live {
		byKind[j.Kind] = append(byKind[j.Kind], j)
	}

	cutoff := now.Add(-s.grace)
	for _, kind := range models.ReminderKinds {
		trigger := TriggerAt(slot.StartUTC, kind)

		var stale []models.NotificationJob
		kept := false
		for _, j := range byKind[kind] {
			if !kept && j.TriggerAtUTC.Equal(trigger) {
				kept = true
				res.Kept = append(res.Kept, j)
				continue
			}
			stale = append(stale, j)
		}
		// Stale jobs go first so the one-live-job-per-tier index never trips.
		if err := s.cancel(ctx, q, &res, stale, now); err != nil {
			return res, err
		}
		if kept {
			continue
		}

		if trigger.Before(cutoff) {
			res.Skipped = append(res.Skipped, SchedulingSkipped{Kind: kind, TriggerAtUTC: trigger, Reason: ErrPastTrigger})
			continue
		}

		job, created, err := q.Enqueue(ctx, slot.ID, kind, trigger)
		if err != nil {
			return res, err
		}
		switch {
		case created:
			res.Scheduled = append(res.Scheduled, *job)
		case job.Status.Live():
			res.Kept = append(res.Kept, *job)
		default:
			res.Settled = append(res.Settled, *job)
		}
	}

	s.logResult(slot, res)
	return res, nil
}

func (s *Scheduler) cancel(ctx context.Context, q *outbox.Queue, res *Result, jobs []models.NotificationJob, now time.Time) error {
	if len(jobs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	if _, err := q.Cancel(ctx, ids, now); err != nil {
		return err
	}
	for _, j := range jobs {
		j.Status = models.JobCanceled
		res.Canceled = append(res.Canceled, j)
	}
	return nil
}

func (s *Scheduler) logResult(slot *models.Slot, res Result) {
	evt := s.logger.Debug()
	if res.Changed() {
		evt = s.logger.Info()
	}
	evt.
		Str("slot_id", slot.ID).
		Str("status", string(slot.Status)).
		Time("start_utc", slot.StartUTC).
		Int("scheduled", len(res.Scheduled)).
		Int("kept", len(res.Kept)).
		Int("canceled", len(res.Canceled)).
		Int("skipped", len(res.Skipped)).
		Int("settled", len(res.Settled)).
		Msg("reminders recomputed")
}

// RecomputeSlot loads a slot and recomputes its reminders in a transaction of
// its own, then records and publishes the result.
func (s *Scheduler) RecomputeSlot(ctx context.Context, slotID string) (Result, error) {
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var slot models.Slot
		if err := tx.Where("id = ?", slotID).Take(&slot).Error; err != nil {
			return errors.Wrapf(err, "load slot %s", slotID)
		}
		var err error
		res, err = s.Recompute(ctx, tx, &slot)
		return err
	})
	if err != nil {
		return Result{SlotID: slotID}, err
	}
	res.Observe()
	res.Publish(s.bus)
	return res, nil
}
