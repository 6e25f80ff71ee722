package db

import (
	"context"
	"time"

	"pollkeeper/internal/types"
)

// ReminderRepository provides data access for the reminders ledger.
type ReminderRepository struct {
	db DBTX
}

// NewReminderRepository creates a new ReminderRepository.
func NewReminderRepository(db DBTX) *ReminderRepository {
	return &ReminderRepository{db: db}
}

// InsertSkipDuplicates writes rows in a single statement. Rows colliding with
// an existing (participant_id, reminder_type) pair are skipped. Returns the
// number of rows actually inserted.
//
// SQL:
//
//	INSERT INTO reminders (poll_id, participant_id, reminder_type, sent_at)
//	SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[])
//	ON CONFLICT (participant_id, reminder_type) DO NOTHING
func (r *ReminderRepository) InsertSkipDuplicates(ctx context.Context, rows []types.Reminder) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	pollIDs := make([]string, len(rows))
	participantIDs := make([]string, len(rows))
	kinds := make([]string, len(rows))
	sentAt := make([]time.Time, len(rows))
	for i, row := range rows {
		pollIDs[i] = row.PollID
		participantIDs[i] = row.ParticipantID
		kinds[i] = string(row.Type)
		sentAt[i] = row.SentAt
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO reminders (poll_id, participant_id, reminder_type, sent_at)
		 SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::timestamptz[])
		 ON CONFLICT (participant_id, reminder_type) DO NOTHING`,
		pollIDs, participantIDs, kinds, sentAt,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to insert reminders", err)
	}
	return int(tag.RowsAffected()), nil
}
