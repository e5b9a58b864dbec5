/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package delivery

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/audit"
	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

// Maintainer returns jobs stranded IN_FLIGHT by a crashed or stalled worker
// to the queue once their claim lease runs out.
type Maintainer struct {
	db          *gorm.DB
	queue       *outbox.Queue
	log         *audit.Log
	clock       clock.Clock
	bus         *events.Bus
	lease       time.Duration
	interval    time.Duration
	maxAttempts int
	backoffBase time.Duration
	backoffMax  time.Duration
	batch       int
	logger      zerolog.Logger
}

// MaintainerOptions tunes a Maintainer.
type MaintainerOptions struct {
	Lease       time.Duration
	Interval    time.Duration
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	BatchSize   int
}

// NewMaintainer creates a maintainer over the same store the workers use.
func NewMaintainer(deps Deps, opts MaintainerOptions) *Maintainer {
	if opts.Lease <= 0 {
		opts.Lease = 2 * time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = opts.Lease / 2
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = config.DefaultPolicy().BackoffBase
	}
	if opts.BackoffMax < opts.BackoffBase {
		opts.BackoffMax = max(config.DefaultPolicy().BackoffMax, opts.BackoffBase)
	}
	return &Maintainer{
		db:          deps.DB,
		queue:       deps.Queue,
		log:         deps.Log,
		clock:       deps.Clock,
		bus:         deps.Bus,
		lease:       opts.Lease,
		interval:    opts.Interval,
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		backoffMax:  opts.BackoffMax,
		batch:       opts.BatchSize,
		logger:      deps.Logger.With().Str("component", "delivery_maintainer").Logger(),
	}
}

// RecoverExpired requeues or fails every IN_FLIGHT job whose claim is older
// than the lease, logging an abandoned attempt for each. It returns how many
// jobs it moved.
func (m *Maintainer) RecoverExpired(ctx context.Context) (int, error) {
	now := m.clock.Now()
	stale, err := m.queue.ExpiredClaims(ctx, now.Add(-m.lease), m.batch)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		job := &stale[i]
		moved, err := m.recover(ctx, job, now)
		if err != nil {
			return recovered, err
		}
		if !moved {
			continue
		}
		recovered++
		telemetry.OutboxRecoveredTotal.Inc()
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("slot_id", job.SlotID).
			Str("claimed_by", job.ClaimedBy).
			Int("attempt", job.Attempts).
			Str("status", string(job.Status)).
			Msg("recovered expired claim")
	}
	return recovered, nil
}

func (m *Maintainer) recover(ctx context.Context, job *models.NotificationJob, now time.Time) (bool, error) {
	claimedBy := job.ClaimedBy
	moved := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := m.queue.WithTx(tx)
		var ferr error
		if job.Attempts >= m.maxAttempts {
			ferr = q.MarkFailed(ctx, job, CodeRetriesExhausted, "claim lease expired on final attempt")
		} else {
			next := now.Add(RetryDelay(job.Attempts, m.backoffBase, m.backoffMax))
			ferr = q.MarkRetry(ctx, job, next, CodeLeaseExpired, "claim lease expired")
		}
		if errors.Is(ferr, outbox.ErrNotClaimed) {
			// The worker finished after all.
			return nil
		}
		if ferr != nil {
			return ferr
		}
		moved = true
		return m.log.WithTx(tx).Append(ctx, &models.NotificationLog{
			JobID:     job.ID,
			SlotID:    job.SlotID,
			Kind:      job.Kind,
			AttemptNo: job.Attempts,
			Result:    models.AttemptAbandoned,
			Channel:   claimedBy,
			ErrorCode: CodeLeaseExpired,
			Error:     "worker did not report back before the claim lease expired",
			Timestamp: now,
		})
	})
	if err != nil || !moved {
		return false, err
	}

	evt := events.EventReminderRetrying
	if job.Status == models.JobFailed {
		evt = events.EventReminderFailed
	}
	m.bus.Publish(evt, events.Payload{
		"job_id":  job.ID,
		"slot_id": job.SlotID,
		"kind":    string(job.Kind),
		"attempt": job.Attempts,
		"code":    CodeLeaseExpired,
	})
	return true, nil
}

// Run recovers expired claims on an interval until ctx ends.
func (m *Maintainer) Run(ctx context.Context) error {
	m.logger.Info().Dur("interval", m.interval).Dur("lease", m.lease).Msg("maintainer started")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.RecoverExpired(ctx); err != nil && ctx.Err() == nil {
			telemetry.WorkerErrorsTotal.WithLabelValues("maintainer", "recover").Inc()
			m.logger.Error().Err(err).Msg("lease recovery failed")
		}
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("maintainer stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
