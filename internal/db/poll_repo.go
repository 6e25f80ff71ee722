package db

import (
	"context"
	"time"

	"pollkeeper/internal/types"
)

// PollRepository provides data access for the polls table.
type PollRepository struct {
	db DBTX
}

// NewPollRepository creates a new PollRepository backed by the given
// database connection (pool or transaction).
func NewPollRepository(db DBTX) *PollRepository {
	return &PollRepository{db: db}
}

// MarkInactiveDeleted soft-deletes polls nobody has touched or viewed since
// cutoff. Polls with an option starting after now, and polls in a pro space,
// are kept. Returns the number of polls marked.
func (r *PollRepository) MarkInactiveDeleted(ctx context.Context, now, cutoff time.Time) (int, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE polls p
		 SET deleted = true, deleted_at = $1
		 WHERE p.deleted = false
		   AND p.touched_at < $2
		   AND NOT EXISTS (
		     SELECT 1 FROM options o
		     WHERE o.poll_id = p.id AND o.start_time > $1
		   )
		   AND (
		     p.space_id IS NULL
		     OR NOT EXISTS (
		       SELECT 1 FROM spaces s
		       WHERE s.id = p.space_id AND s.tier = $3
		     )
		   )
		   AND NOT EXISTS (
		     SELECT 1 FROM poll_views v
		     WHERE v.poll_id = p.id AND v.viewed_at >= $2
		   )`,
		now, cutoff, types.SpaceTierPro,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to mark inactive polls deleted", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListPurgeableIDs returns up to limit ids of polls soft-deleted at or
// before cutoff, oldest first.
func (r *PollRepository) ListPurgeableIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM polls
		 WHERE deleted = true AND deleted_at <= $1
		 ORDER BY deleted_at, id
		 LIMIT $2`,
		cutoff, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list purgeable polls", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan poll id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating purgeable polls", err)
	}
	return ids, nil
}

// DeleteByIDs permanently deletes the given polls. Options, participants,
// votes, views and reminders go with them via ON DELETE CASCADE.
func (r *PollRepository) DeleteByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, `DELETE FROM polls WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to delete polls", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListExpiredLive returns up to limit live polls whose deadline is at or
// before now, with the owner joined in when present.
func (r *PollRepository) ListExpiredLive(ctx context.Context, now time.Time, limit int) ([]types.Poll, error) {
	rows, err := r.db.Query(ctx,
		`SELECT p.id, p.title, p.deadline, COALESCE(p.time_zone, ''),
		        u.id, u.email, u.locale
		 FROM polls p
		 LEFT JOIN users u ON u.id = p.user_id
		 WHERE p.status = 'live'
		   AND p.deadline IS NOT NULL
		   AND p.deadline <= $1
		 ORDER BY p.deadline, p.id
		 LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list expired polls", err)
	}
	defer rows.Close()

	var polls []types.Poll
	for rows.Next() {
		var (
			p                                types.Poll
			deadline                         time.Time
			ownerID, ownerEmail, ownerLocale *string
		)
		if err := rows.Scan(&p.ID, &p.Title, &deadline, &p.TimeZone, &ownerID, &ownerEmail, &ownerLocale); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan expired poll", err)
		}
		p.Deadline = &deadline
		p.Status = types.PollStatusLive
		if ownerID != nil {
			p.UserID = ownerID
			p.Owner = &types.Owner{ID: *ownerID}
			if ownerEmail != nil {
				p.Owner.Email = *ownerEmail
			}
			if ownerLocale != nil {
				p.Owner.Locale = *ownerLocale
			}
		}
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating expired polls", err)
	}
	return polls, nil
}

// PauseByIDs moves the given polls from live to paused. Polls no longer live
// are left alone and not counted.
func (r *PollRepository) PauseByIDs(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx,
		`UPDATE polls SET status = 'paused'
		 WHERE id = ANY($1) AND status = 'live'`,
		ids,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to pause polls", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListInDeadlineWindow returns up to limit live, non-deleted polls with
// from <= deadline <= to, skipping ids in exclude.
func (r *PollRepository) ListInDeadlineWindow(ctx context.Context, from, to time.Time, exclude []string, limit int) ([]types.Poll, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, title, deadline, COALESCE(time_zone, '')
		 FROM polls
		 WHERE status = 'live'
		   AND deleted = false
		   AND deadline >= $1
		   AND deadline <= $2
		   AND NOT (id = ANY($3))
		 ORDER BY deadline, id
		 LIMIT $4`,
		from, to, nonNil(exclude), limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list polls in deadline window", err)
	}
	defer rows.Close()

	var polls []types.Poll
	for rows.Next() {
		var (
			p        types.Poll
			deadline time.Time
		)
		if err := rows.Scan(&p.ID, &p.Title, &deadline, &p.TimeZone); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan poll", err)
		}
		p.Deadline = &deadline
		p.Status = types.PollStatusLive
		polls = append(polls, p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating polls in deadline window", err)
	}
	return polls, nil
}
