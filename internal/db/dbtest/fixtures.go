/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/models"
)

// Fixture is a city, recruiter and candidate ready to hang slots on.
type Fixture struct {
	DB        *gorm.DB
	City      models.City
	Recruiter models.Recruiter
	Candidate models.Candidate
}

// Seed inserts a Berlin office, a recruiter in Moscow and a candidate in
// New York with an email address.
func Seed(t testing.TB, database *gorm.DB) *Fixture {
	t.Helper()

	f := &Fixture{
		DB:        database,
		City:      models.City{ID: uuid.NewString(), Name: "Berlin", Timezone: "Europe/Berlin"},
		Recruiter: models.Recruiter{ID: uuid.NewString(), FullName: "Irina Volkova", Email: "irina@example.com", Timezone: "Europe/Moscow"},
		Candidate: models.Candidate{ID: uuid.NewString(), FullName: "Sam Carter", Email: "sam@example.com", Timezone: "America/New_York"},
	}
	for _, row := range []any{&f.City, &f.Recruiter, &f.Candidate} {
		if err := database.Create(row).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return f
}

// Slot inserts a slot in status starting at start. Statuses past FREE get
// the fixture candidate attached.
func (f *Fixture) Slot(t testing.TB, status models.SlotStatus, start time.Time) *models.Slot {
	t.Helper()

	slot := &models.Slot{
		ID:          uuid.NewString(),
		RecruiterID: f.Recruiter.ID,
		CityID:      f.City.ID,
		StartUTC:    start.UTC(),
		DurationMin: 60,
		Status:      status,
		Version:     1,
	}
	if status != models.SlotFree {
		id := f.Candidate.ID
		slot.CandidateID = &id
	}
	if err := f.DB.Create(slot).Error; err != nil {
		t.Fatalf("seed slot: %v", err)
	}
	return slot
}
