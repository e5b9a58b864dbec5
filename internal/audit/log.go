/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit stores the append-only record of reminder delivery attempts.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/models"
)

const defaultQueryLimit = 100

// Log appends and reads notification_logs rows.
type Log struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a log over db.
func New(db *gorm.DB, logger zerolog.Logger) *Log {
	return &Log{
		db:     db,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// WithTx returns a log bound to an open transaction so an attempt row commits
// together with the job update it describes.
func (l *Log) WithTx(tx *gorm.DB) *Log {
	return &Log{db: tx, logger: l.logger}
}

// Append records one attempt. Rows are only ever inserted.
func (l *Log) Append(ctx context.Context, entry *models.NotificationLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return err
	}

	l.logger.Debug().
		Str("job_id", entry.JobID).
		Str("slot_id", entry.SlotID).
		Int("attempt", entry.AttemptNo).
		Str("result", string(entry.Result)).
		Msg("attempt logged")

	return nil
}

// History returns every attempt for a slot, oldest first.
func (l *Log) History(ctx context.Context, slotID string) ([]models.NotificationLog, error) {
	var rows []models.NotificationLog
	err := l.db.WithContext(ctx).
		Where("slot_id = ?", slotID).
		Order("timestamp ASC, attempt_no ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Filters narrows Query.
type Filters struct {
	SlotID    *string
	JobID     *string
	Kind      *models.ReminderKind
	Result    *models.AttemptResult
	StartTime *time.Time
	EndTime   *time.Time
	Limit     int
	Offset    int
}

func (f Filters) apply(db *gorm.DB) *gorm.DB {
	if f.SlotID != nil {
		db = db.Where("slot_id = ?", *f.SlotID)
	}
	if f.JobID != nil {
		db = db.Where("job_id = ?", *f.JobID)
	}
	if f.Kind != nil {
		db = db.Where("kind = ?", *f.Kind)
	}
	if f.Result != nil {
		db = db.Where("result = ?", *f.Result)
	}
	if f.StartTime != nil {
		db = db.Where("timestamp >= ?", f.StartTime.UTC())
	}
	if f.EndTime != nil {
		db = db.Where("timestamp <= ?", f.EndTime.UTC())
	}
	return db
}

// Query returns a page of attempts, most recent first, and the total count
// matching the filters.
func (l *Log) Query(ctx context.Context, filters Filters) ([]models.NotificationLog, int64, error) {
	var (
		rows  []models.NotificationLog
		total int64
	)

	base := l.db.WithContext(ctx).Model(&models.NotificationLog{})

	if err := base.Scopes(filters.apply).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	query := base.Scopes(filters.apply).Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	if err := query.Order("timestamp DESC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	return rows, total, nil
}
