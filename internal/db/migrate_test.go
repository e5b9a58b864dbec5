package db_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/interview_scheduler/internal/db/dbtest"
	"github.com/friendsincode/interview_scheduler/internal/models"
)

func TestMigrateCreatesTables(t *testing.T) {
	database := dbtest.New(t)

	for _, table := range []string{"slots", "notification_jobs", "notification_logs", "candidates", "recruiters", "cities"} {
		if !database.Migrator().HasTable(table) {
			t.Errorf("expected table %s", table)
		}
	}
}

func TestLiveJobGuardRejectsSecondLiveJob(t *testing.T) {
	database := dbtest.New(t)
	slotID := uuid.NewString()
	trigger := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)

	first := models.NotificationJob{ID: uuid.NewString(), SlotID: slotID, Kind: models.ReminderT24, TriggerAtUTC: trigger, DedupKey: "a", Status: models.JobPending}
	if err := database.Create(&first).Error; err != nil {
		t.Fatalf("create first job: %v", err)
	}

	second := models.NotificationJob{ID: uuid.NewString(), SlotID: slotID, Kind: models.ReminderT24, TriggerAtUTC: trigger.Add(time.Hour), DedupKey: "b", Status: models.JobPending}
	if err := database.Create(&second).Error; err == nil {
		t.Fatal("expected unique violation for a second live job of the same tier")
	}

	// A canceled job does not count as live.
	second.Status = models.JobCanceled
	if err := database.Create(&second).Error; err != nil {
		t.Fatalf("canceled job should be allowed: %v", err)
	}
}

func TestNotificationLogIsAppendOnly(t *testing.T) {
	database := dbtest.New(t)

	entry := models.NotificationLog{
		ID:        uuid.NewString(),
		JobID:     uuid.NewString(),
		SlotID:    uuid.NewString(),
		Kind:      models.ReminderT1,
		AttemptNo: 1,
		Result:    models.AttemptSent,
		Timestamp: time.Now().UTC(),
	}
	if err := database.Create(&entry).Error; err != nil {
		t.Fatalf("create log: %v", err)
	}

	entry.Result = models.AttemptPermanent
	if err := database.Save(&entry).Error; !errors.Is(err, models.ErrLogImmutable) {
		t.Errorf("Save() error = %v, want ErrLogImmutable", err)
	}
	if err := database.Delete(&entry).Error; !errors.Is(err, models.ErrLogImmutable) {
		t.Errorf("Delete() error = %v, want ErrLogImmutable", err)
	}

	var count int64
	database.Model(&models.NotificationLog{}).Count(&count)
	if count != 1 {
		t.Errorf("expected log row to survive, count=%d", count)
	}
}
