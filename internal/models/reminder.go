/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReminderKind identifies an SLA tier.
type ReminderKind string

const (
	ReminderT24 ReminderKind = "T24"
	ReminderT1  ReminderKind = "T1"
	ReminderT30 ReminderKind = "T30"
)

// ReminderKinds lists every tier, earliest trigger first.
var ReminderKinds = []ReminderKind{ReminderT24, ReminderT1, ReminderT30}

// Offset is the lead time before the interview start.
func (k ReminderKind) Offset() time.Duration {
	switch k {
	case ReminderT24:
		return 24 * time.Hour
	case ReminderT1:
		return time.Hour
	case ReminderT30:
		return 30 * time.Minute
	}
	return 0
}

// Valid reports whether k is a known tier.
func (k ReminderKind) Valid() bool {
	return k.Offset() > 0
}

// ParseReminderKind rejects unknown tiers.
func ParseReminderKind(raw string) (ReminderKind, error) {
	k := ReminderKind(raw)
	if !k.Valid() {
		return "", fmt.Errorf("unknown reminder kind %q", raw)
	}
	return k, nil
}

// Scan implements sql.Scanner.
func (k *ReminderKind) Scan(value any) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseReminderKind(raw)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value implements driver.Valuer.
func (k ReminderKind) Value() (driver.Value, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("unknown reminder kind %q", string(k))
	}
	return string(k), nil
}

// JobStatus is the outbox state of a reminder job.
type JobStatus string

const (
	JobPending  JobStatus = "PENDING"
	JobInFlight JobStatus = "IN_FLIGHT"
	JobSent     JobStatus = "SENT"
	JobFailed   JobStatus = "FAILED"
	JobCanceled JobStatus = "CANCELED"
)

// LiveJobStatuses are the states that count towards the one-live-job rule.
var LiveJobStatuses = []JobStatus{JobPending, JobInFlight}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobInFlight, JobSent, JobFailed, JobCanceled:
		return true
	}
	return false
}

// Live reports whether the job may still be delivered.
func (s JobStatus) Live() bool {
	return s == JobPending || s == JobInFlight
}

// ParseJobStatus rejects unknown statuses.
func ParseJobStatus(raw string) (JobStatus, error) {
	s := JobStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return s, nil
}

// Scan implements sql.Scanner.
func (s *JobStatus) Scan(value any) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseJobStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer.
func (s JobStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown job status %q", string(s))
	}
	return string(s), nil
}

// NotificationJob is one reminder row in the outbox.
type NotificationJob struct {
	ID            string       `gorm:"type:uuid;primaryKey" json:"id"`
	SlotID        string       `gorm:"type:uuid;not null;index:idx_jobs_slot_kind,priority:1" json:"slot_id"`
	Kind          ReminderKind `gorm:"type:varchar(8);not null;index:idx_jobs_slot_kind,priority:2" json:"kind"`
	TriggerAtUTC  time.Time    `gorm:"column:trigger_at_utc;not null;index:idx_jobs_due,priority:2" json:"trigger_at_utc"`
	DedupKey      string       `gorm:"type:varchar(64);not null;uniqueIndex:idx_jobs_dedup" json:"dedup_key"`
	Status        JobStatus    `gorm:"type:varchar(16);not null;index:idx_jobs_due,priority:1" json:"status"`
	Attempts      int          `gorm:"not null;default:0" json:"attempts"`
	LastError     string       `gorm:"type:text" json:"last_error,omitempty"`
	ErrorCode     string       `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	NextAttemptAt *time.Time   `json:"next_attempt_at,omitempty"`
	ClaimedBy     string       `gorm:"type:varchar(64)" json:"claimed_by,omitempty"`
	ClaimedAt     *time.Time   `json:"claimed_at,omitempty"`
	SentAt        *time.Time   `json:"sent_at,omitempty"`
	CanceledAt    *time.Time   `json:"canceled_at,omitempty"`
	Receipt       string       `gorm:"type:varchar(255)" json:"receipt,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (NotificationJob) TableName() string {
	return "notification_jobs"
}

// AttemptResult is the outcome recorded for a single delivery attempt.
type AttemptResult string

const (
	AttemptSent      AttemptResult = "sent"
	AttemptTransient AttemptResult = "transient_failure"
	AttemptPermanent AttemptResult = "permanent_failure"
	AttemptAbandoned AttemptResult = "abandoned"
)

// ErrLogImmutable is returned when code tries to change a written log row.
var ErrLogImmutable = errors.New("notification log rows are append-only")

// NotificationLog records one delivery attempt. Rows are never updated or deleted.
type NotificationLog struct {
	ID         string        `gorm:"type:uuid;primaryKey" json:"id"`
	JobID      string        `gorm:"type:uuid;not null;index:idx_notification_logs_job" json:"job_id"`
	SlotID     string        `gorm:"type:uuid;not null;index:idx_notification_logs_slot" json:"slot_id"` // Denormalized for history lookups
	Kind       ReminderKind  `gorm:"type:varchar(8);not null" json:"kind"`
	AttemptNo  int           `gorm:"not null" json:"attempt_no"`
	Result     AttemptResult `gorm:"type:varchar(32);not null" json:"result"`
	Channel    string        `gorm:"type:varchar(32)" json:"channel"`
	ErrorCode  string        `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	Error      string        `gorm:"type:text" json:"error,omitempty"`
	Receipt    string        `gorm:"type:varchar(255)" json:"receipt,omitempty"`
	DurationMS int64         `json:"duration_ms"`
	Timestamp  time.Time     `gorm:"not null;index:idx_notification_logs_timestamp" json:"timestamp"`
}

// TableName returns the table name for GORM.
func (NotificationLog) TableName() string {
	return "notification_logs"
}

// BeforeUpdate blocks edits.
func (l *NotificationLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrLogImmutable
}

// BeforeDelete blocks deletes.
func (l *NotificationLog) BeforeDelete(tx *gorm.DB) error {
	return ErrLogImmutable
}
