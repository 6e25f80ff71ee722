package db

import (
	"context"

	"pollkeeper/internal/types"
)

// ParticipantRepository provides data access for the participants table.
type ParticipantRepository struct {
	db DBTX
}

// NewParticipantRepository creates a new ParticipantRepository.
func NewParticipantRepository(db DBTX) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

// ListReminderCandidates returns the participants of pollID who have an
// email address, are not deleted, have not voted, and have not yet been sent
// a reminder of reminderType. Rows come back in the order participants
// joined the poll.
func (r *ParticipantRepository) ListReminderCandidates(ctx context.Context, pollID string, reminderType types.ReminderType) ([]types.Participant, error) {
	rows, err := r.db.Query(ctx,
		`SELECT pt.id, pt.poll_id, pt.name, pt.email,
		        COALESCE(pt.locale, ''), COALESCE(pt.time_zone, '')
		 FROM participants pt
		 WHERE pt.poll_id = $1
		   AND pt.email IS NOT NULL
		   AND pt.deleted = false
		   AND NOT EXISTS (
		     SELECT 1 FROM votes v WHERE v.participant_id = pt.id
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM reminders r
		     WHERE r.participant_id = pt.id AND r.reminder_type = $2
		   )
		 ORDER BY pt.created_at, pt.id`,
		pollID, string(reminderType),
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reminder candidates", err)
	}
	defer rows.Close()

	var out []types.Participant
	for rows.Next() {
		var p types.Participant
		if err := rows.Scan(&p.ID, &p.PollID, &p.Name, &p.Email, &p.Locale, &p.TimeZone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan participant", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating reminder candidates", err)
	}
	return out, nil
}
