package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"pollkeeper/internal/types"
)

func TestReminderRepository_InsertSkipDuplicates(t *testing.T) {
	db := new(mockDBTX)
	repo := NewReminderRepository(db)
	ctx := context.Background()

	sent := time.Date(2026, 2, 6, 3, 0, 0, 0, time.UTC)
	rows := []types.Reminder{
		{PollID: "p1", ParticipantID: "pt1", Type: types.ReminderOneHour, SentAt: sent},
		{PollID: "p1", ParticipantID: "pt2", Type: types.ReminderOneHour, SentAt: sent},
	}

	db.On("Exec", ctx, mock.AnythingOfType("string"), []any{
		[]string{"p1", "p1"},
		[]string{"pt1", "pt2"},
		[]string{"oneHour", "oneHour"},
		[]time.Time{sent, sent},
	}).Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	n, err := repo.InsertSkipDuplicates(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "conflicting rows are not counted")
	db.AssertExpectations(t)
}

func TestReminderRepository_InsertSkipDuplicates_Empty(t *testing.T) {
	db := new(mockDBTX)
	repo := NewReminderRepository(db)

	n, err := repo.InsertSkipDuplicates(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	db.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything, mock.Anything)
}

func TestReminderRepository_InsertSkipDuplicates_DBError(t *testing.T) {
	db := new(mockDBTX)
	repo := NewReminderRepository(db)
	ctx := context.Background()

	db.On("Exec", ctx, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.CommandTag{}, errors.New("unique violation"))

	_, err := repo.InsertSkipDuplicates(ctx, []types.Reminder{{PollID: "p1", ParticipantID: "pt1", Type: types.ReminderSixHours}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalDB))
}
