/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package delivery

import (
	"fmt"
	"strings"

	"github.com/friendsincode/interview_scheduler/internal/channels"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/timezone"
)

const localLayout = "Mon 2 Jan 2006, 15:04 MST"

var subjects = map[models.ReminderKind]string{
	models.ReminderT24: "Reminder: your interview is tomorrow",
	models.ReminderT1:  "Your interview starts in 1 hour",
	models.ReminderT30: "Your interview starts in 30 minutes",
}

// Composer renders reminders in the candidate's timezone.
type Composer struct {
	resolver *timezone.Resolver
}

// NewComposer creates a composer.
func NewComposer(resolver *timezone.Resolver) *Composer {
	return &Composer{resolver: resolver}
}

// Zone picks the rendering zone: candidate, then recruiter, then city.
func (c *Composer) Zone(slot *models.Slot) timezone.Zone {
	var names []string
	if slot.Candidate != nil {
		names = append(names, slot.Candidate.Timezone)
	}
	if slot.Recruiter != nil {
		names = append(names, slot.Recruiter.Timezone)
	}
	if slot.City != nil {
		names = append(names, slot.City.Timezone)
	}
	return c.resolver.FirstValid(names...)
}

// Compose builds the contact and message for job. slot must have its
// Candidate, Recruiter and City loaded.
func (c *Composer) Compose(job *models.NotificationJob, slot *models.Slot) (channels.Contact, channels.Message) {
	var to channels.Contact
	if cand := slot.Candidate; cand != nil {
		to = channels.Contact{
			CandidateID: cand.ID,
			Name:        cand.FullName,
			Email:       cand.Email,
			Phone:       cand.Phone,
			ChatHandle:  cand.ChatHandle,
		}
		if cand.PushEndpoint != "" {
			to.Push = &channels.PushSubscription{
				Endpoint: cand.PushEndpoint,
				P256DH:   cand.PushP256DH,
				Auth:     cand.PushAuth,
			}
		}
	}

	zone := c.Zone(slot)
	local := timezone.ToLocal(slot.StartUTC, zone).Format(localLayout)

	var body strings.Builder
	name := strings.TrimSpace(to.Name)
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&body, "Hi %s,\n\n", name)
	fmt.Fprintf(&body, "Your interview starts %s (%s)", local, zone.Name())
	if slot.Recruiter != nil && slot.Recruiter.FullName != "" {
		fmt.Fprintf(&body, " with %s", slot.Recruiter.FullName)
	}
	if slot.City != nil && slot.City.Name != "" {
		fmt.Fprintf(&body, ", %s office", slot.City.Name)
	}
	fmt.Fprintf(&body, ".\nIt is scheduled for %d minutes.\n", slot.DurationMin)

	return to, channels.Message{
		JobID:      job.ID,
		SlotID:     slot.ID,
		DedupKey:   job.DedupKey,
		Kind:       job.Kind,
		StartUTC:   slot.StartUTC.UTC(),
		LocalStart: local,
		Timezone:   zone.Name(),
		Subject:    subjects[job.Kind],
		Body:       body.String(),
	}
}
