/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/interview_scheduler/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Read-only reference data owned by the admin tooling
		&models.City{},
		&models.Recruiter{},
		&models.Candidate{},

		// Booking core
		&models.Slot{},
		&models.NotificationJob{},
		&models.NotificationLog{},
	); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := applyLiveJobGuard(database); err != nil {
		return err
	}

	return nil
}

// applyLiveJobGuard enforces at most one PENDING or IN_FLIGHT job per slot
// and tier. MySQL has no partial indexes; there the scheduler's own
// cancel-then-insert ordering is the only guard.
func applyLiveJobGuard(database *gorm.DB) error {
	switch database.Dialector.Name() {
	case "postgres", "sqlite":
	default:
		return nil
	}

	stmt := `
CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_live_slot_kind
ON notification_jobs (slot_id, kind)
WHERE status IN ('PENDING', 'IN_FLIGHT')
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply live job guard: %w", err)
	}
	return nil
}
