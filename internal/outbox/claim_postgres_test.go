package outbox_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/friendsincode/interview_scheduler/internal/outbox"
)

func newMockQueue(t *testing.T) (*outbox.Queue, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{})
	require.NoError(t, err)

	return outbox.New(gormDB, zerolog.Nop()), mock
}

func TestClaimLocksRowsOnPostgres(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "notification_jobs" WHERE status = \$1 AND trigger_at_utc <= \$2 .* FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "status"}))
	mock.ExpectCommit()

	jobs, err := q.Claim(context.Background(), base, 5, "w1")
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRollsBackOnQueryError(t *testing.T) {
	q, mock := newMockQueue(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := q.Claim(context.Background(), base, 5, "w1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
