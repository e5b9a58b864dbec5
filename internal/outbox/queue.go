/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package outbox is the durable reminder queue. Rows are ordered by their
// UTC trigger time, deduplicated by a key derived from (slot, tier, trigger)
// and claimed by workers with a compare-and-set on status so that no two
// workers ever hold the same job.
package outbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

// ErrNotClaimed means the job left IN_FLIGHT or was reclaimed by someone
// else before the caller finished with it.
var ErrNotClaimed = errors.New("job is not claimed by this worker")

// Queue reads and writes notification_jobs.
type Queue struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a queue over db.
func New(db *gorm.DB, logger zerolog.Logger) *Queue {
	return &Queue{
		db:     db,
		logger: logger.With().Str("component", "outbox").Logger(),
	}
}

// WithTx returns a queue bound to an open transaction.
func (q *Queue) WithTx(tx *gorm.DB) *Queue {
	return &Queue{db: tx, logger: q.logger}
}

// DedupKey identifies one logical reminder.
func DedupKey(slotID string, kind models.ReminderKind, trigger time.Time) string {
	h := sha256.New()
	h.Write([]byte(slotID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(trigger.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h.Sum(nil))
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, id string) (*models.NotificationJob, error) {
	var job models.NotificationJob
	if err := q.db.WithContext(ctx).Where("id = ?", id).Take(&job).Error; err != nil {
		return nil, errors.Wrapf(err, "load job %s", id)
	}
	return &job, nil
}

// LiveJobs returns the PENDING and IN_FLIGHT jobs of a slot.
func (q *Queue) LiveJobs(ctx context.Context, slotID string) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Where("slot_id = ? AND status IN ?", slotID, models.LiveJobStatuses).
		Order("trigger_at_utc ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list live jobs for slot %s", slotID)
	}
	return jobs, nil
}

// JobsForSlot returns every job ever created for a slot, oldest trigger first.
func (q *Queue) JobsForSlot(ctx context.Context, slotID string) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("trigger_at_utc ASC, created_at ASC").
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrapf(err, "list jobs for slot %s", slotID)
	}
	return jobs, nil
}

// Enqueue inserts a PENDING job for (slot, kind, trigger). If the dedup key
// already exists, a CANCELED row is revived; SENT, FAILED and live rows are
// returned untouched with created=false so a delivered tier never fires twice.
func (q *Queue) Enqueue(ctx context.Context, slotID string, kind models.ReminderKind, trigger time.Time) (*models.NotificationJob, bool, error) {
	trigger = trigger.UTC()
	key := DedupKey(slotID, kind, trigger)
	db := q.db.WithContext(ctx)

	var existing models.NotificationJob
	err := db.Where("dedup_key = ?", key).Take(&existing).Error
	switch {
	case err == nil:
		if existing.Status != models.JobCanceled {
			return &existing, false, nil
		}
		res := db.Model(&models.NotificationJob{}).
			Where("id = ? AND status = ?", existing.ID, models.JobCanceled).
			Updates(map[string]any{
				"status":          models.JobPending,
				"attempts":        0,
				"last_error":      "",
				"error_code":      "",
				"next_attempt_at": nil,
				"claimed_by":      "",
				"claimed_at":      nil,
				"canceled_at":     nil,
			})
		if res.Error != nil {
			return nil, false, errors.Wrapf(res.Error, "revive job %s", existing.ID)
		}
		if res.RowsAffected == 0 {
			return &existing, false, nil
		}
		existing.Status = models.JobPending
		existing.Attempts = 0
		existing.LastError, existing.ErrorCode, existing.ClaimedBy = "", "", ""
		existing.NextAttemptAt, existing.ClaimedAt, existing.CanceledAt = nil, nil, nil
		return &existing, true, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		job := models.NotificationJob{
			ID:           uuid.NewString(),
			SlotID:       slotID,
			Kind:         kind,
			TriggerAtUTC: trigger,
			DedupKey:     key,
			Status:       models.JobPending,
		}
		if err := db.Create(&job).Error; err != nil {
			return nil, false, errors.Wrapf(err, "insert %s job for slot %s", kind, slotID)
		}
		return &job, true, nil

	default:
		return nil, false, errors.Wrapf(err, "look up dedup key for slot %s", slotID)
	}
}

// Cancel marks the given jobs CANCELED if they are still live and returns
// how many rows changed.
func (q *Queue) Cancel(ctx context.Context, ids []string, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id IN ? AND status IN ?", ids, models.LiveJobStatuses).
		Updates(map[string]any{
			"status":      models.JobCanceled,
			"canceled_at": now.UTC(),
		})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "cancel jobs")
	}
	return res.RowsAffected, nil
}

func dueScope(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("status = ?", models.JobPending).
			Where("trigger_at_utc <= ?", now).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now)
	}
}

// DueJobs lists PENDING jobs whose trigger and backoff have both elapsed.
// It does not claim anything.
func (q *Queue) DueJobs(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Scopes(dueScope(now.UTC())).
		Order("trigger_at_utc ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list due jobs")
	}
	return jobs, nil
}

// Claim moves up to limit due jobs to IN_FLIGHT for workerID and bumps their
// attempt counter. Each row is taken with a conditional update, so a row
// another worker got first is silently skipped. On backends that support it
// the candidate rows are also locked with SKIP LOCKED to keep workers from
// contending for the same rows.
func (q *Queue) Claim(ctx context.Context, now time.Time, limit int, workerID string) ([]models.NotificationJob, error) {
	now = now.UTC()
	var claimed []models.NotificationJob

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Scopes(dueScope(now)).Order("trigger_at_utc ASC").Limit(limit)
		if supportsSkipLocked(tx) {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []models.NotificationJob
		if err := query.Find(&candidates).Error; err != nil {
			return err
		}

		for _, job := range candidates {
			res := tx.Model(&models.NotificationJob{}).
				Where("id = ? AND status = ?", job.ID, models.JobPending).
				Updates(map[string]any{
					"status":     models.JobInFlight,
					"attempts":   gorm.Expr("attempts + 1"),
					"claimed_by": workerID,
					"claimed_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				continue
			}
			job.Status = models.JobInFlight
			job.Attempts++
			job.ClaimedBy = workerID
			claimedAt := now
			job.ClaimedAt = &claimedAt
			claimed = append(claimed, job)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim due jobs")
	}

	telemetry.OutboxClaimedTotal.Add(float64(len(claimed)))
	return claimed, nil
}

func supportsSkipLocked(db *gorm.DB) bool {
	switch db.Dialector.Name() {
	case "postgres", "mysql":
		return true
	}
	return false
}

// Renew confirms that workerID still holds job and restarts its lease at
// now. It returns ErrNotClaimed when the job was canceled, recovered or
// reclaimed since it was handed out.
func (q *Queue) Renew(ctx context.Context, job *models.NotificationJob, now time.Time) error {
	now = now.UTC()
	res := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id = ? AND status = ? AND claimed_by = ? AND attempts = ?", job.ID, models.JobInFlight, job.ClaimedBy, job.Attempts).
		Update("claimed_at", now)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "renew claim on job %s", job.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotClaimed, "job %s", job.ID)
	}
	job.ClaimedAt = &now
	return nil
}

// MarkSent completes a claimed job.
func (q *Queue) MarkSent(ctx context.Context, job *models.NotificationJob, receipt string, now time.Time) error {
	return q.finish(ctx, job, map[string]any{
		"status":          models.JobSent,
		"sent_at":         now.UTC(),
		"receipt":         receipt,
		"next_attempt_at": nil,
		"last_error":      "",
		"error_code":      "",
	})
}

// MarkRetry returns a claimed job to PENDING, not due before nextAttempt.
func (q *Queue) MarkRetry(ctx context.Context, job *models.NotificationJob, nextAttempt time.Time, code, message string) error {
	return q.finish(ctx, job, map[string]any{
		"status":          models.JobPending,
		"next_attempt_at": nextAttempt.UTC(),
		"last_error":      message,
		"error_code":      code,
		"claimed_by":      "",
		"claimed_at":      nil,
	})
}

// MarkFailed moves a claimed job to FAILED. FAILED rows stay in the table for
// operational follow-up.
func (q *Queue) MarkFailed(ctx context.Context, job *models.NotificationJob, code, message string) error {
	return q.finish(ctx, job, map[string]any{
		"status":          models.JobFailed,
		"next_attempt_at": nil,
		"last_error":      message,
		"error_code":      code,
	})
}

func (q *Queue) finish(ctx context.Context, job *models.NotificationJob, updates map[string]any) error {
	res := q.db.WithContext(ctx).Model(&models.NotificationJob{}).
		Where("id = ? AND status = ? AND claimed_by = ? AND attempts = ?", job.ID, models.JobInFlight, job.ClaimedBy, job.Attempts).
		Updates(updates)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update job %s", job.ID)
	}
	if res.RowsAffected == 0 {
		return errors.Wrapf(ErrNotClaimed, "job %s", job.ID)
	}
	if s, ok := updates["status"].(models.JobStatus); ok {
		job.Status = s
	}
	return nil
}

// ExpiredClaims lists IN_FLIGHT jobs claimed before cutoff.
func (q *Queue) ExpiredClaims(ctx context.Context, cutoff time.Time, limit int) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Where("status = ? AND claimed_at < ?", models.JobInFlight, cutoff.UTC()).
		Order("claimed_at ASC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list expired claims")
	}
	return jobs, nil
}

// Failed lists FAILED jobs, most recently updated first.
func (q *Queue) Failed(ctx context.Context, limit int) ([]models.NotificationJob, error) {
	var jobs []models.NotificationJob
	err := q.db.WithContext(ctx).
		Where("status = ?", models.JobFailed).
		Order("updated_at DESC").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, errors.Wrap(err, "list failed jobs")
	}
	return jobs, nil
}
