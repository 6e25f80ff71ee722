package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ReaperDB marks inactive polls deleted.
type ReaperDB interface {
	// MarkInactiveDeleted soft-deletes every poll that is not deleted, has no
	// option starting after now, is not in a pro space, was last touched
	// before cutoff and has not been viewed since cutoff.
	//
	// SQL: UPDATE polls SET deleted = true, deleted_at = $1
	//      WHERE deleted = false AND touched_at < $2
	//        AND NOT EXISTS (options.start_time > $1)
	//        AND (space_id IS NULL OR spaces.tier <> 'pro')
	//        AND NOT EXISTS (poll_views.viewed_at >= $2)
	MarkInactiveDeleted(ctx context.Context, now, cutoff time.Time) (int, error)
}

// InactivePollReaper soft-deletes polls nobody has viewed recently.
type InactivePollReaper struct {
	db     ReaperDB
	logger *slog.Logger
}

// NewInactivePollReaper creates the step behind TaskDeleteInactivePolls.
func NewInactivePollReaper(db ReaperDB, logger *slog.Logger) *InactivePollReaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &InactivePollReaper{db: db, logger: logger}
}

// Run soft-deletes polls inactive for InactivityThreshold in one set-based
// update. Polls with future options or in a pro space are never reaped.
func (r *InactivePollReaper) Run(ctx context.Context, now time.Time) (ReaperSummary, error) {
	cutoff := now.Add(-InactivityThreshold)

	count, err := r.db.MarkInactiveDeleted(ctx, now, cutoff)
	if err != nil {
		return ReaperSummary{}, fmt.Errorf("marking inactive polls deleted: %w", err)
	}

	r.logger.InfoContext(ctx, "inactive polls marked deleted",
		"count", count,
		"cutoff", cutoff.Format(time.RFC3339),
	)

	return ReaperSummary{MarkedDeleted: count}, nil
}
