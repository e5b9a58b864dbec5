/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package delivery drains the reminder outbox. Workers claim due jobs, send
// them through a channel under a timeout, and record every attempt in the
// notification log in the same transaction as the job update.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/audit"
	"github.com/friendsincode/interview_scheduler/internal/channels"
	"github.com/friendsincode/interview_scheduler/internal/clock"
	"github.com/friendsincode/interview_scheduler/internal/config"
	"github.com/friendsincode/interview_scheduler/internal/events"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
	"github.com/friendsincode/interview_scheduler/internal/reminders"
	"github.com/friendsincode/interview_scheduler/internal/telemetry"
)

// Error codes set by the worker itself.
const (
	CodeRetriesExhausted = "retries_exhausted"
	CodeSlotMissing      = "slot_missing"
	CodeSlotIneligible   = "slot_ineligible"
	CodeLeaseExpired     = "lease_expired"
	CodeTriggerStale     = "trigger_stale"
)

// errClaimLost means the job was recovered, reclaimed or canceled before the
// channel was called. Nothing was sent and the job is no longer ours to
// record.
var errClaimLost = errors.New("claim lost before send")

// Options tunes a worker.
type Options struct {
	WorkerID        string
	BatchSize       int
	PollInterval    time.Duration
	DeliveryTimeout time.Duration
	MaxAttempts     int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	// Limiter paces outbound sends; nil means unpaced.
	Limiter *rate.Limiter
}

// OptionsFromPolicy maps the reminder policy onto worker options.
func OptionsFromPolicy(p config.Policy) Options {
	var limiter *rate.Limiter
	if p.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.RatePerSecond), max(p.RateBurst, 1))
	}
	return Options{
		BatchSize:       p.BatchSize,
		PollInterval:    p.PollInterval,
		DeliveryTimeout: p.DeliveryTimeout,
		MaxAttempts:     p.MaxAttempts,
		BackoffBase:     p.BackoffBase,
		BackoffMax:      p.BackoffMax,
		Limiter:         limiter,
	}
}

func (o *Options) applyDefaults() {
	def := config.DefaultPolicy()
	if o.WorkerID == "" {
		o.WorkerID = "worker-" + uuid.NewString()[:8]
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	if o.PollInterval <= 0 {
		o.PollInterval = def.PollInterval
	}
	if o.DeliveryTimeout <= 0 {
		o.DeliveryTimeout = def.DeliveryTimeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = def.MaxAttempts
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = def.BackoffBase
	}
	if o.BackoffMax < o.BackoffBase {
		o.BackoffMax = max(def.BackoffMax, o.BackoffBase)
	}
}

// Stats counts what one RunOnce did.
type Stats struct {
	Claimed int `json:"claimed"`
	Sent    int `json:"sent"`
	Retried int `json:"retried"`
	Failed  int `json:"failed"`
	// Superseded counts jobs canceled or reclaimed while in flight.
	Superseded int `json:"superseded"`
}

// Deps are the collaborators shared by every worker in a pool.
type Deps struct {
	DB       *gorm.DB
	Queue    *outbox.Queue
	Log      *audit.Log
	Channel  channels.Channel
	Composer *Composer
	Clock    clock.Clock
	Bus      *events.Bus
	Logger   zerolog.Logger
}

// Worker delivers due reminders.
type Worker struct {
	Deps
	opts   Options
	logger zerolog.Logger
}

// NewWorker creates a worker.
func NewWorker(deps Deps, opts Options) *Worker {
	opts.applyDefaults()
	return &Worker{
		Deps:   deps,
		opts:   opts,
		logger: deps.Logger.With().Str("component", "delivery").Str("worker", opts.WorkerID).Logger(),
	}
}

// ID returns the worker id stamped on claimed jobs.
func (w *Worker) ID() string { return w.opts.WorkerID }

// Run polls until ctx ends.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.opts.PollInterval).Msg("delivery worker started")
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		w.tick(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("delivery worker stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	telemetry.WorkerTicksTotal.WithLabelValues(w.opts.WorkerID).Inc()
	stats, err := w.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			telemetry.WorkerErrorsTotal.WithLabelValues(w.opts.WorkerID, "claim").Inc()
			w.logger.Error().Err(err).Msg("delivery cycle failed")
		}
		return
	}
	if stats.Claimed > 0 {
		w.logger.Info().
			Int("claimed", stats.Claimed).
			Int("sent", stats.Sent).
			Int("retried", stats.Retried).
			Int("failed", stats.Failed).
			Int("superseded", stats.Superseded).
			Msg("delivery cycle")
	}
}

// RunOnce claims one batch of due jobs and attempts each. Only a failure to
// claim is returned; per-job problems end up on the job and in the log.
func (w *Worker) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	jobs, err := w.Queue.Claim(ctx, w.Clock.Now(), w.opts.BatchSize, w.opts.WorkerID)
	if err != nil {
		return stats, err
	}
	stats.Claimed = len(jobs)

	for i := range jobs {
		if ctx.Err() != nil {
			// Unattempted claims are picked up again once their lease expires.
			break
		}
		w.attempt(ctx, &jobs[i], &stats)
	}
	return stats, nil
}

type outcome struct {
	result  models.AttemptResult
	status  models.JobStatus
	code    string
	message string
	receipt string
	next    time.Time
}

func (w *Worker) attempt(ctx context.Context, job *models.NotificationJob, stats *Stats) {
	ctx, span := telemetry.StartSpan(ctx, "delivery", "delivery.Attempt")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"job.id":       job.ID,
		"job.kind":     string(job.Kind),
		"job.attempt":  job.Attempts,
		"slot.id":      job.SlotID,
		"channel.name": w.Channel.Name(),
	})

	started := time.Now()
	receipt, sendErr := w.send(ctx, job)
	elapsed := time.Since(started)
	if errors.Is(sendErr, errClaimLost) {
		stats.Superseded++
		w.logger.Warn().
			Err(sendErr).
			Str("job_id", job.ID).
			Str("slot_id", job.SlotID).
			Int("attempt", job.Attempts).
			Msg("skipping job no longer claimed")
		return
	}
	telemetry.DeliveryDuration.WithLabelValues(w.Channel.Name()).Observe(elapsed.Seconds())

	out := w.classify(job, receipt, sendErr)
	if sendErr != nil {
		telemetry.RecordError(span, sendErr)
	}

	superseded, err := w.record(ctx, job, out, elapsed)
	if err != nil {
		telemetry.WorkerErrorsTotal.WithLabelValues(w.opts.WorkerID, "record").Inc()
		w.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to record delivery attempt")
		return
	}
	telemetry.DeliveryAttemptsTotal.WithLabelValues(w.Channel.Name(), string(out.result)).Inc()

	logEvt := w.logger.Info()
	switch {
	case superseded:
		stats.Superseded++
		logEvt = w.logger.Warn()
	case out.status == models.JobSent:
		stats.Sent++
	case out.status == models.JobPending:
		stats.Retried++
		logEvt = w.logger.Warn()
	default:
		stats.Failed++
		logEvt = w.logger.Error()
	}
	logEvt.
		Str("job_id", job.ID).
		Str("slot_id", job.SlotID).
		Str("kind", string(job.Kind)).
		Int("attempt", job.Attempts).
		Str("result", string(out.result)).
		Str("code", out.code).
		Bool("superseded", superseded).
		Dur("elapsed", elapsed).
		Msg("delivery attempt")

	if !superseded {
		w.publish(job, out)
	}
}

// send loads the slot, renders the message and calls the channel. The claim
// is re-asserted and its lease restarted right before the channel call, so a
// job recovered while earlier jobs in the batch were sending is skipped.
func (w *Worker) send(ctx context.Context, job *models.NotificationJob) (channels.Receipt, error) {
	var slot models.Slot
	err := w.DB.WithContext(ctx).
		Preload("Candidate").
		Preload("Recruiter").
		Preload("City").
		Where("id = ?", job.SlotID).
		Take(&slot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", channels.Permanent(CodeSlotMissing, errors.Wrapf(err, "slot %s", job.SlotID))
	}
	if err != nil {
		return "", channels.Transient(channels.CodeUnknown, errors.Wrapf(err, "load slot %s", job.SlotID))
	}
	if !slot.Status.ReminderEligible() {
		return "", channels.Permanent(CodeSlotIneligible, errors.Newf("slot %s is %s", slot.ID, slot.Status))
	}
	if slot.Candidate == nil {
		return "", channels.Permanent(channels.CodeNoContact, errors.Newf("slot %s has no candidate", slot.ID))
	}
	if want := reminders.TriggerAt(slot.StartUTC, job.Kind); !job.TriggerAtUTC.Equal(want) {
		return "", channels.Permanent(CodeTriggerStale, errors.Newf("job %s triggers at %s, slot %s now wants %s",
			job.ID, job.TriggerAtUTC.Format(time.RFC3339), slot.ID, want.Format(time.RFC3339)))
	}

	to, msg := w.Composer.Compose(job, &slot)

	if w.opts.Limiter != nil {
		if err := w.opts.Limiter.Wait(ctx); err != nil {
			return "", channels.Transient(channels.CodeRateLimited, err)
		}
	}

	if err := w.Queue.Renew(ctx, job, w.Clock.Now()); err != nil {
		if errors.Is(err, outbox.ErrNotClaimed) {
			return "", errors.Mark(err, errClaimLost)
		}
		return "", channels.Transient(channels.CodeUnknown, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, w.opts.DeliveryTimeout)
	defer cancel()
	trace.SpanFromContext(ctx).AddEvent("send")
	return w.Channel.Send(sendCtx, to, msg)
}

func (w *Worker) classify(job *models.NotificationJob, receipt channels.Receipt, err error) outcome {
	if err == nil {
		return outcome{result: models.AttemptSent, status: models.JobSent, receipt: string(receipt)}
	}

	ce := channels.Classify(err)
	out := outcome{code: ce.Code, message: ce.Error()}
	switch {
	case ce.Kind == channels.KindPermanent:
		out.result = models.AttemptPermanent
		out.status = models.JobFailed
	case job.Attempts >= w.opts.MaxAttempts:
		out.result = models.AttemptTransient
		out.status = models.JobFailed
		out.code = CodeRetriesExhausted
	default:
		out.result = models.AttemptTransient
		out.status = models.JobPending
		out.next = w.Clock.Now().Add(RetryDelay(job.Attempts, w.opts.BackoffBase, w.opts.BackoffMax))
	}
	return out
}

// record applies the outcome to the job and appends the log row in one
// transaction. superseded is true when the job was no longer ours, for
// example because the slot was canceled mid-flight; the attempt is still
// logged.
func (w *Worker) record(ctx context.Context, job *models.NotificationJob, out outcome, elapsed time.Duration) (superseded bool, err error) {
	now := w.Clock.Now()
	entry := &models.NotificationLog{
		JobID:      job.ID,
		SlotID:     job.SlotID,
		Kind:       job.Kind,
		AttemptNo:  job.Attempts,
		Result:     out.result,
		Channel:    w.Channel.Name(),
		ErrorCode:  out.code,
		Error:      out.message,
		Receipt:    out.receipt,
		DurationMS: elapsed.Milliseconds(),
		Timestamp:  now,
	}

	err = w.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := w.Queue.WithTx(tx)
		var ferr error
		switch out.status {
		case models.JobSent:
			ferr = q.MarkSent(ctx, job, out.receipt, now)
		case models.JobPending:
			ferr = q.MarkRetry(ctx, job, out.next, out.code, out.message)
		default:
			ferr = q.MarkFailed(ctx, job, out.code, out.message)
		}
		if errors.Is(ferr, outbox.ErrNotClaimed) {
			superseded = true
		} else if ferr != nil {
			return ferr
		}
		return w.Log.WithTx(tx).Append(ctx, entry)
	})
	return superseded, err
}

func (w *Worker) publish(job *models.NotificationJob, out outcome) {
	payload := events.Payload{
		"job_id":  job.ID,
		"slot_id": job.SlotID,
		"kind":    string(job.Kind),
		"attempt": job.Attempts,
		"channel": w.Channel.Name(),
	}
	switch out.status {
	case models.JobSent:
		payload["receipt"] = out.receipt
		w.Bus.Publish(events.EventReminderSent, payload)
	case models.JobPending:
		payload["code"] = out.code
		payload["next_attempt_at"] = out.next
		w.Bus.Publish(events.EventReminderRetrying, payload)
	default:
		payload["code"] = out.code
		w.Bus.Publish(events.EventReminderFailed, payload)
	}
}

// Pool runs several workers side by side.
type Pool struct {
	workers []*Worker
}

// NewPool creates size workers sharing deps, each with its own id.
func NewPool(size int, deps Deps, opts Options) *Pool {
	if size < 1 {
		size = 1
	}
	prefix := opts.WorkerID
	if prefix == "" {
		prefix = "worker"
	}
	p := &Pool{}
	for i := 0; i < size; i++ {
		o := opts
		o.WorkerID = prefix + "-" + uuid.NewString()[:8]
		p.workers = append(p.workers, NewWorker(deps, o))
	}
	return p
}

// Workers returns the pool members.
func (p *Pool) Workers() []*Worker { return p.workers }

// Run starts every worker and blocks until all have stopped.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			_ = w.Run(ctx)
		}(w)
	}
	wg.Wait()
}

// RunOnce runs a single cycle on the first worker.
func (p *Pool) RunOnce(ctx context.Context) (Stats, error) {
	return p.workers[0].RunOnce(ctx)
}
