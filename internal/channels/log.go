/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package channels

import (
	"context"

	"github.com/rs/zerolog"
)

// Log writes reminders to the process log instead of sending them. Used in
// development.
type Log struct {
	logger zerolog.Logger
}

func NewLog(logger zerolog.Logger) *Log {
	return &Log{logger: logger.With().Str("component", "channel.log").Logger()}
}

func (l *Log) Name() string { return "log" }

func (l *Log) Send(_ context.Context, to Contact, msg Message) (Receipt, error) {
	l.logger.Info().
		Str("candidate_id", to.CandidateID).
		Str("slot_id", msg.SlotID).
		Str("kind", string(msg.Kind)).
		Str("local_start", msg.LocalStart).
		Str("timezone", msg.Timezone).
		Str("subject", msg.Subject).
		Msg("reminder")
	return Receipt("log:" + msg.JobID), nil
}
