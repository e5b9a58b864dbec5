/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package reminders

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/db/dbtest"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
)

var start = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

type harness struct {
	db    *gorm.DB
	fx    *dbtest.Fixture
	clock *clock.Manual
	queue *outbox.Queue
	sched *Scheduler
	bus   *events.Bus
}

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	database := dbtest.New(t)
	clk := clock.NewManual(now)
	queue := outbox.New(database, zerolog.Nop())
	bus := events.NewBus()
	return &harness{
		db:    database,
		fx:    dbtest.Seed(t, database),
		clock: clk,
		queue: queue,
		bus:   bus,
		sched: New(database, queue, clk, 0, bus, zerolog.Nop()),
	}
}

func (h *harness) recompute(t *testing.T, slot *models.Slot) Result {
	t.Helper()
	var res Result
	err := h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		res, err = h.sched.Recompute(context.Background(), tx, slot)
		return err
	})
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	return res
}

func (h *harness) live(t *testing.T, slotID string) map[models.ReminderKind]models.NotificationJob {
	t.Helper()
	jobs, err := h.queue.LiveJobs(context.Background(), slotID)
	if err != nil {
		t.Fatalf("live jobs: %v", err)
	}
	out := make(map[models.ReminderKind]models.NotificationJob, len(jobs))
	for _, j := range jobs {
		if _, dup := out[j.Kind]; dup {
			t.Fatalf("two live %s jobs for slot %s", j.Kind, slotID)
		}
		out[j.Kind] = j
	}
	return out
}

// assertTriggersMatch checks that every live job fires at start minus its offset.
func assertTriggersMatch(t *testing.T, live map[models.ReminderKind]models.NotificationJob, start time.Time) {
	t.Helper()
	for kind, j := range live {
		if want := start.Add(-kind.Offset()); !j.TriggerAtUTC.Equal(want) {
			t.Errorf("%s trigger = %s, want %s", kind, j.TriggerAtUTC, want)
		}
	}
}

func TestRecomputeSchedulesAllTiers(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotBooked, start)

	res := h.recompute(t, slot)
	if len(res.Scheduled) != 3 {
		t.Fatalf("scheduled %d jobs, want 3", len(res.Scheduled))
	}

	want := map[models.ReminderKind]time.Time{
		models.ReminderT24: time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC),
		models.ReminderT1:  time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
		models.ReminderT30: time.Date(2025, 3, 10, 9, 30, 0, 0, time.UTC),
	}
	live := h.live(t, slot.ID)
	for kind, trigger := range want {
		j, ok := live[kind]
		if !ok {
			t.Fatalf("missing %s job", kind)
		}
		if !j.TriggerAtUTC.Equal(trigger) {
			t.Errorf("%s trigger = %s, want %s", kind, j.TriggerAtUTC, trigger)
		}
		if j.DedupKey != outbox.DedupKey(slot.ID, kind, trigger) {
			t.Errorf("%s dedup key mismatch", kind)
		}
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotConfirmed, start)

	h.recompute(t, slot)
	res := h.recompute(t, slot)

	if res.Changed() {
		t.Errorf("second recompute changed the outbox: %+v", res)
	}
	if len(res.Kept) != 3 {
		t.Errorf("kept %d jobs, want 3", len(res.Kept))
	}

	var count int64
	h.db.Model(&models.NotificationJob{}).Where("slot_id = ?", slot.ID).Count(&count)
	if count != 3 {
		t.Errorf("%d job rows, want 3", count)
	}
}

func TestRecomputeGraceWindow(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		scheduled []models.ReminderKind
		skipped   []models.ReminderKind
	}{
		{
			name:      "booked ten minutes after the hour mark",
			now:       time.Date(2025, 3, 10, 9, 10, 0, 0, time.UTC),
			scheduled: []models.ReminderKind{models.ReminderT30},
			skipped:   []models.ReminderKind{models.ReminderT24, models.ReminderT1},
		},
		{
			name:      "within grace of the hour mark",
			now:       time.Date(2025, 3, 10, 9, 1, 30, 0, time.UTC),
			scheduled: []models.ReminderKind{models.ReminderT1, models.ReminderT30},
			skipped:   []models.ReminderKind{models.ReminderT24},
		},
		{
			name:    "after the last tier",
			now:     time.Date(2025, 3, 10, 9, 45, 0, 0, time.UTC),
			skipped: []models.ReminderKind{models.ReminderT24, models.ReminderT1, models.ReminderT30},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.now)
			slot := h.fx.Slot(t, models.SlotBooked, start)

			res := h.recompute(t, slot)

			if got := kinds(res.Scheduled); !sameKinds(got, tt.scheduled) {
				t.Errorf("scheduled %v, want %v", got, tt.scheduled)
			}
			var skipped []models.ReminderKind
			for _, s := range res.Skipped {
				if !errors.Is(s, ErrPastTrigger) {
					t.Errorf("skip %s does not wrap ErrPastTrigger", s.Kind)
				}
				skipped = append(skipped, s.Kind)
			}
			if !sameKinds(skipped, tt.skipped) {
				t.Errorf("skipped %v, want %v", skipped, tt.skipped)
			}
		})
	}
}

func TestRescheduleMovesEveryLiveJob(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotBooked, start)
	h.recompute(t, slot)

	moved := start.Add(48*time.Hour + 30*time.Minute)
	slot.StartUTC = moved
	res := h.recompute(t, slot)

	if len(res.Canceled) != 3 || len(res.Scheduled) != 3 {
		t.Fatalf("canceled %d scheduled %d, want 3 and 3", len(res.Canceled), len(res.Scheduled))
	}
	live := h.live(t, slot.ID)
	if len(live) != 3 {
		t.Fatalf("%d live jobs, want 3", len(live))
	}
	assertTriggersMatch(t, live, moved)

	// Moving back revives the canceled rows instead of inserting duplicates.
	slot.StartUTC = start
	h.recompute(t, slot)
	assertTriggersMatch(t, h.live(t, slot.ID), start)

	var count int64
	h.db.Model(&models.NotificationJob{}).Where("slot_id = ?", slot.ID).Count(&count)
	if count != 6 {
		t.Errorf("%d job rows, want 6", count)
	}
}

func TestIneligibleSlotCancelsLiveJobs(t *testing.T) {
	for _, status := range []models.SlotStatus{models.SlotCanceled, models.SlotFree, models.SlotPending} {
		t.Run(string(status), func(t *testing.T) {
			h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
			slot := h.fx.Slot(t, models.SlotBooked, start)
			h.recompute(t, slot)

			slot.Status = status
			res := h.recompute(t, slot)

			if len(res.Canceled) != 3 {
				t.Errorf("canceled %d, want 3", len(res.Canceled))
			}
			if live := h.live(t, slot.ID); len(live) != 0 {
				t.Errorf("%d live jobs remain", len(live))
			}
		})
	}
}

func TestDeliveredTierNeverRefires(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 10, 9, 29, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotBooked, start)
	h.recompute(t, slot)

	t30 := h.live(t, slot.ID)[models.ReminderT30]
	if err := h.db.Model(&models.NotificationJob{}).Where("id = ?", t30.ID).Update("status", models.JobSent).Error; err != nil {
		t.Fatalf("mark sent: %v", err)
	}

	h.clock.Set(time.Date(2025, 3, 10, 9, 31, 0, 0, time.UTC))
	res := h.recompute(t, slot)

	if len(res.Scheduled) != 0 {
		t.Errorf("scheduled %v after delivery", kinds(res.Scheduled))
	}
	if len(res.Settled) != 1 || res.Settled[0].ID != t30.ID {
		t.Errorf("settled = %+v, want the sent T30 job", res.Settled)
	}
}

func TestTriggersAnchoredInUTCAcrossDST(t *testing.T) {
	// 10:00 in Berlin on the day clocks move forward.
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	local := time.Date(2025, 3, 30, 10, 0, 0, 0, berlin)

	h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotBooked, local)
	h.recompute(t, slot)

	t24 := h.live(t, slot.ID)[models.ReminderT24]
	if want := time.Date(2025, 3, 29, 8, 0, 0, 0, time.UTC); !t24.TriggerAtUTC.Equal(want) {
		t.Errorf("T24 trigger = %s, want %s", t24.TriggerAtUTC, want)
	}
	// Exactly 24 elapsed hours, which is 09:00 on the Berlin wall clock.
	if got := t24.TriggerAtUTC.In(berlin).Hour(); got != 9 {
		t.Errorf("T24 local hour = %d, want 9", got)
	}
}

func TestRecomputeSlotPublishesAfterCommit(t *testing.T) {
	h := newHarness(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	slot := h.fx.Slot(t, models.SlotBooked, start)
	sub := h.bus.Subscribe(events.EventReminderScheduled)
	defer h.bus.Unsubscribe(events.EventReminderScheduled, sub)

	res, err := h.sched.RecomputeSlot(context.Background(), slot.ID)
	if err != nil {
		t.Fatalf("recompute slot: %v", err)
	}
	if len(res.Scheduled) != 3 {
		t.Fatalf("scheduled %d, want 3", len(res.Scheduled))
	}
	for i := 0; i < 3; i++ {
		select {
		case p := <-sub:
			if p["slot_id"] != slot.ID {
				t.Errorf("event for slot %v", p["slot_id"])
			}
		default:
			t.Fatalf("expected 3 events, got %d", i)
		}
	}

	if _, err := h.sched.RecomputeSlot(context.Background(), "00000000-0000-0000-0000-000000000000"); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Errorf("missing slot: expected ErrRecordNotFound, got %v", err)
	}
}

func kinds(jobs []models.NotificationJob) []models.ReminderKind {
	out := make([]models.ReminderKind, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.Kind)
	}
	return out
}

func sameKinds(a, b []models.ReminderKind) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[models.ReminderKind]int, len(a))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
	}
	for _, n := range seen {
		if n != 0 {
			return false
		}
	}
	return true
}
