package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pollkeeper/internal/deadline"
	"pollkeeper/internal/notifications/email"
	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// EnforcerDB lists expired live polls and pauses them.
type EnforcerDB interface {
	// ListExpiredLive returns live polls whose deadline is at or before now,
	// with Owner populated when the poll has one.
	//
	// SQL: SELECT p.id, p.title, p.deadline, p.time_zone, u.id, u.email, u.locale
	//      FROM polls p LEFT JOIN users u ON u.id = p.user_id
	//      WHERE p.status = 'live' AND p.deadline IS NOT NULL AND p.deadline <= $1
	//      ORDER BY p.deadline, p.id LIMIT $2
	ListExpiredLive(ctx context.Context, now time.Time, limit int) ([]types.Poll, error)

	// PauseByIDs moves live polls to paused and returns the rows changed.
	//
	// SQL: UPDATE polls SET status = 'paused' WHERE id = ANY($1) AND status = 'live'
	PauseByIDs(ctx context.Context, ids []string) (int, error)
}

// DeadlineEnforcer pauses live polls whose deadline has passed and notifies
// their owners.
type DeadlineEnforcer struct {
	db        EnforcerDB
	queue     EmailQueue
	reporter  telemetry.ExceptionReporter
	baseURL   string
	batchSize int
	logger    *slog.Logger
}

// NewDeadlineEnforcer creates the step behind TaskCloseExpiredPolls.
func NewDeadlineEnforcer(db EnforcerDB, queue EmailQueue, reporter telemetry.ExceptionReporter, baseURL string, batchSize int, logger *slog.Logger) *DeadlineEnforcer {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = telemetry.NoopReporter{}
	}
	return &DeadlineEnforcer{
		db:        db,
		queue:     queue,
		reporter:  reporter,
		baseURL:   strings.TrimRight(baseURL, "/"),
		batchSize: batchSize,
		logger:    logger,
	}
}

// Run pauses every live poll whose deadline has passed and emails each owner.
// Pausing is the step's effect; a failed owner email is reported and
// skipped.
func (e *DeadlineEnforcer) Run(ctx context.Context, now time.Time) (CloseSummary, error) {
	closed := 0

	cursor := BatchCursor[types.Poll]{
		Size: e.batchSize,
		Key:  pollKey,
		// Paused rows leave the predicate, so the exclusion list is unused.
		Fetch: func(ctx context.Context, _ []string, limit int) ([]types.Poll, error) {
			polls, err := e.db.ListExpiredLive(ctx, now, limit)
			if err != nil {
				return nil, fmt.Errorf("listing expired polls: %w", err)
			}
			return polls, nil
		},
		Process: func(ctx context.Context, polls []types.Poll) error {
			ids := make([]string, len(polls))
			for i, p := range polls {
				ids[i] = p.ID
			}

			paused, err := e.db.PauseByIDs(ctx, ids)
			if err != nil {
				return fmt.Errorf("pausing expired polls: %w", err)
			}
			closed += paused

			for _, p := range polls {
				e.notifyOwner(ctx, p)
			}
			return nil
		},
	}

	stats, err := cursor.Run(ctx)
	if err != nil {
		return CloseSummary{ClosedCount: closed}, err
	}

	e.logger.InfoContext(ctx, "expired polls closed",
		"closed", closed,
		"fetches", stats.Fetches,
	)

	return CloseSummary{ClosedCount: closed}, nil
}

func (e *DeadlineEnforcer) notifyOwner(ctx context.Context, p types.Poll) {
	if p.Owner == nil || strings.TrimSpace(p.Owner.Email) == "" || p.Deadline == nil {
		return
	}

	display, _ := deadline.FormatForDisplay(ctx, p.Deadline, p.TimeZone, e.reporter)

	err := e.queue.EnqueueTemplate(ctx, types.TemplateDeadlineClosed, types.EmailRequest{
		To:     p.Owner.Email,
		Locale: p.Owner.Locale,
		Props: types.DeadlineClosedProps{
			Title:      p.Title,
			Deadline:   display,
			DeadlineAt: p.Deadline.UTC(),
			PollURL:    e.baseURL + "/poll/" + p.ID,
		},
	})
	if err != nil {
		e.logger.ErrorContext(ctx, "failed to enqueue deadline closed email",
			"poll_id", p.ID,
			"to", email.RedactEmail(p.Owner.Email),
			"error", err,
		)
		e.reporter.ReportException(ctx, err, telemetry.Report{
			Tags: map[string]string{
				"job":    TaskCloseExpiredPolls.JobName(),
				"pollId": p.ID,
			},
		})
	}
}
