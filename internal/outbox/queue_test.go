package outbox_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/db/dbtest"
	"github.com/friendsincode/interview_scheduler/internal/models"
	"github.com/friendsincode/interview_scheduler/internal/outbox"
)

var base = time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)

func newQueue(t *testing.T) (*outbox.Queue, *gorm.DB) {
	t.Helper()
	database := dbtest.New(t)
	return outbox.New(database, zerolog.Nop()), database
}

func TestDedupKey(t *testing.T) {
	slot := uuid.NewString()
	moscow := time.FixedZone("MSK", 3*3600)

	k1 := outbox.DedupKey(slot, models.ReminderT1, base)
	assert.Equal(t, k1, outbox.DedupKey(slot, models.ReminderT1, base.In(moscow)), "same instant in another zone must hash the same")
	assert.NotEqual(t, k1, outbox.DedupKey(slot, models.ReminderT30, base))
	assert.NotEqual(t, k1, outbox.DedupKey(slot, models.ReminderT1, base.Add(time.Minute)))
	assert.Len(t, k1, 64)
}

func TestEnqueueIsIdempotent(t *testing.T) {
	q, database := newQueue(t)
	ctx := context.Background()
	slot := uuid.NewString()

	first, created, err := q.Enqueue(ctx, slot, models.ReminderT24, base)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := q.Enqueue(ctx, slot, models.ReminderT24, base)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	database.Model(&models.NotificationJob{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestEnqueueRevivesOnlyCanceledRows(t *testing.T) {
	q, database := newQueue(t)
	ctx := context.Background()
	slot := uuid.NewString()

	job, _, err := q.Enqueue(ctx, slot, models.ReminderT1, base)
	require.NoError(t, err)

	n, err := q.Cancel(ctx, []string{job.ID}, base)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	revived, created, err := q.Enqueue(ctx, slot, models.ReminderT1, base)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, job.ID, revived.ID)
	assert.Equal(t, models.JobPending, revived.Status)

	require.NoError(t, database.Model(&models.NotificationJob{}).Where("id = ?", job.ID).Update("status", models.JobSent).Error)

	again, created, err := q.Enqueue(ctx, slot, models.ReminderT1, base)
	require.NoError(t, err)
	assert.False(t, created, "a delivered reminder must not be re-enqueued")
	assert.Equal(t, models.JobSent, again.Status)
}

func TestDueJobsHonoursTriggerAndBackoff(t *testing.T) {
	q, database := newQueue(t)
	ctx := context.Background()
	slot := uuid.NewString()

	due, _, err := q.Enqueue(ctx, slot, models.ReminderT24, base.Add(-time.Hour))
	require.NoError(t, err)
	_, _, err = q.Enqueue(ctx, slot, models.ReminderT1, base.Add(time.Hour))
	require.NoError(t, err)
	backedOff, _, err := q.Enqueue(ctx, slot, models.ReminderT30, base.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NoError(t, database.Model(&models.NotificationJob{}).
		Where("id = ?", backedOff.ID).
		Update("next_attempt_at", base.Add(time.Minute)).Error)

	jobs, err := q.DueJobs(ctx, base, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, due.ID, jobs[0].ID)

	jobs, err = q.DueJobs(ctx, base.Add(2*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, backedOff.ID, jobs[0].ID, "ordered by trigger time")
}

func TestClaimIsExclusiveAcrossWorkers(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	const slots = 10
	for i := 0; i < slots; i++ {
		_, _, err := q.Enqueue(ctx, uuid.NewString(), models.ReminderT1, base.Add(-time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	var (
		mu   sync.Mutex
		seen = map[string]string{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			jobs, err := q.Claim(ctx, base, 3, worker)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, j := range jobs {
				if prev, dup := seen[j.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", j.ID, prev, worker)
				}
				seen[j.ID] = worker
				assert.Equal(t, models.JobInFlight, j.Status)
				assert.Equal(t, 1, j.Attempts)
			}
		}("worker-" + uuid.NewString()[:8])
	}
	wg.Wait()

	assert.Len(t, seen, 10)

	rest, err := q.Claim(ctx, base, 10, "late")
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestFinishRequiresOwnership(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, uuid.NewString(), models.ReminderT30, base)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, base, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	job := claimed[0]

	stranger := job
	stranger.ClaimedBy = "w2"
	assert.True(t, errors.Is(q.MarkSent(ctx, &stranger, "r", base), outbox.ErrNotClaimed))

	_, err = q.Cancel(ctx, []string{job.ID}, base)
	require.NoError(t, err)
	assert.True(t, errors.Is(q.MarkSent(ctx, &job, "r", base), outbox.ErrNotClaimed), "a canceled job cannot be completed")

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCanceled, stored.Status)
}

func TestRetryAndFailTransitions(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, uuid.NewString(), models.ReminderT30, base)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, base, 1, "w1")
	require.NoError(t, err)
	require.NoError(t, q.MarkRetry(ctx, &claimed[0], base.Add(30*time.Second), "timeout", "deadline exceeded"))

	none, err := q.Claim(ctx, base.Add(10*time.Second), 1, "w1")
	require.NoError(t, err)
	assert.Empty(t, none, "job must wait out its backoff")

	claimed, err = q.Claim(ctx, base.Add(31*time.Second), 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 2, claimed[0].Attempts)

	require.NoError(t, q.MarkFailed(ctx, &claimed[0], "no_contact", "candidate has no email"))

	failed, err := q.Failed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "no_contact", failed[0].ErrorCode)
}

func TestExpiredClaims(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, uuid.NewString(), models.ReminderT1, base)
	require.NoError(t, err)
	_, err = q.Claim(ctx, base, 1, "crashed")
	require.NoError(t, err)

	stale, err := q.ExpiredClaims(ctx, base.Add(-time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = q.ExpiredClaims(ctx, base.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "crashed", stale[0].ClaimedBy)
}

func TestRenewRestartsLeaseForOwnerOnly(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	_, _, err := q.Enqueue(ctx, uuid.NewString(), models.ReminderT1, base)
	require.NoError(t, err)
	claimed, err := q.Claim(ctx, base, 1, "w1")
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	job := claimed[0]

	later := base.Add(90 * time.Second)
	require.NoError(t, q.Renew(ctx, &job, later))
	require.NotNil(t, job.ClaimedAt)
	assert.True(t, job.ClaimedAt.Equal(later))

	stale, err := q.ExpiredClaims(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, stale, "renewed claim is not expired")

	stranger := job
	stranger.ClaimedBy = "w2"
	assert.True(t, errors.Is(q.Renew(ctx, &stranger, later), outbox.ErrNotClaimed))

	require.NoError(t, q.MarkRetry(ctx, &job, later, "lease_expired", "claim lease expired"))
	assert.True(t, errors.Is(q.Renew(ctx, &job, later), outbox.ErrNotClaimed), "a recovered job cannot be renewed")
}
