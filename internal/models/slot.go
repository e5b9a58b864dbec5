/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// SlotStatus is the booking state of an interview slot.
type SlotStatus string

const (
	SlotFree      SlotStatus = "FREE"
	SlotPending   SlotStatus = "PENDING"
	SlotBooked    SlotStatus = "BOOKED"
	SlotConfirmed SlotStatus = "CONFIRMED_BY_CANDIDATE"
	SlotCanceled  SlotStatus = "CANCELED"
)

// ParseSlotStatus rejects anything outside the closed status set.
func ParseSlotStatus(raw string) (SlotStatus, error) {
	s := SlotStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown slot status %q", raw)
	}
	return s, nil
}

// Valid reports whether s is a known status.
func (s SlotStatus) Valid() bool {
	switch s {
	case SlotFree, SlotPending, SlotBooked, SlotConfirmed, SlotCanceled:
		return true
	}
	return false
}

// ReminderEligible reports whether reminders may be scheduled in this state.
func (s SlotStatus) ReminderEligible() bool {
	return s == SlotBooked || s == SlotConfirmed
}

// Scan implements sql.Scanner and refuses unknown values coming from storage.
func (s *SlotStatus) Scan(value any) error {
	raw, err := scanString(value)
	if err != nil {
		return err
	}
	parsed, err := ParseSlotStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer.
func (s SlotStatus) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("unknown slot status %q", string(s))
	}
	return string(s), nil
}

// Slot is a bookable interview window owned by a recruiter.
// All writes go through the slot state machine.
type Slot struct {
	ID          string     `gorm:"type:uuid;primaryKey" json:"id"`
	RecruiterID string     `gorm:"type:uuid;index:idx_slots_recruiter;not null" json:"recruiter_id"`
	CityID      string     `gorm:"type:uuid;index:idx_slots_city" json:"city_id"`
	CandidateID *string    `gorm:"type:uuid;index:idx_slots_candidate" json:"candidate_id,omitempty"`
	StartUTC    time.Time  `gorm:"column:start_utc;not null;index:idx_slots_start" json:"start_utc"`
	DurationMin int        `gorm:"not null;default:60" json:"duration_min"`
	Status      SlotStatus `gorm:"type:varchar(32);not null;index:idx_slots_status" json:"status"`
	Version     int64      `gorm:"not null;default:1" json:"version"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`

	Recruiter *Recruiter `gorm:"foreignKey:RecruiterID" json:"recruiter,omitempty"`
	City      *City      `gorm:"foreignKey:CityID" json:"city,omitempty"`
	Candidate *Candidate `gorm:"foreignKey:CandidateID" json:"candidate,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Slot) TableName() string {
	return "slots"
}

// HasCandidate reports whether a candidate is attached to the slot.
func (s *Slot) HasCandidate() bool {
	return s.CandidateID != nil && *s.CandidateID != ""
}

// EndUTC is the scheduled end of the interview.
func (s *Slot) EndUTC() time.Time {
	return s.StartUTC.Add(time.Duration(s.DurationMin) * time.Minute)
}

func scanString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported scan type %T", value)
	}
}
