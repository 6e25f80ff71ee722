package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PurgerDB lists and hard-deletes long-deleted polls.
type PurgerDB interface {
	// ListPurgeableIDs returns ids of polls deleted at or before cutoff.
	//
	// SQL: SELECT id FROM polls WHERE deleted = true AND deleted_at <= $1
	//      ORDER BY deleted_at, id LIMIT $2
	ListPurgeableIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// DeleteByIDs permanently deletes polls. Child rows are removed by
	// ON DELETE CASCADE.
	//
	// SQL: DELETE FROM polls WHERE id = ANY($1)
	DeleteByIDs(ctx context.Context, ids []string) (int, error)
}

// DeletedPollPurger hard-deletes polls past the soft-delete retention.
type DeletedPollPurger struct {
	db        PurgerDB
	batchSize int
	logger    *slog.Logger
}

// NewDeletedPollPurger creates the step behind TaskRemoveDeletedPolls.
func NewDeletedPollPurger(db PurgerDB, batchSize int, logger *slog.Logger) *DeletedPollPurger {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeletedPollPurger{db: db, batchSize: batchSize, logger: logger}
}

// Run purges every poll deleted more than PurgeRetention ago, one batch at a
// time. A failed delete aborts the run; batches already deleted stay deleted.
func (p *DeletedPollPurger) Run(ctx context.Context, now time.Time) (PurgeSummary, error) {
	cutoff := now.Add(-PurgeRetention)
	deleted := 0

	cursor := BatchCursor[string]{
		Size: p.batchSize,
		Key:  identity,
		// Deleted rows leave the predicate, so the exclusion list is unused.
		Fetch: func(ctx context.Context, _ []string, limit int) ([]string, error) {
			ids, err := p.db.ListPurgeableIDs(ctx, cutoff, limit)
			if err != nil {
				return nil, fmt.Errorf("listing purgeable polls: %w", err)
			}
			return ids, nil
		},
		Process: func(ctx context.Context, ids []string) error {
			n, err := p.db.DeleteByIDs(ctx, ids)
			if err != nil {
				return fmt.Errorf("deleting polls: %w", err)
			}
			deleted += n
			p.logger.InfoContext(ctx, "purged deleted poll batch",
				"batch_size", len(ids),
				"deleted", n,
			)
			return nil
		},
	}

	stats, err := cursor.Run(ctx)
	if err != nil {
		return PurgeSummary{Deleted: PurgeCounts{Polls: deleted}}, err
	}

	p.logger.InfoContext(ctx, "deleted poll purge complete",
		"deleted", deleted,
		"fetches", stats.Fetches,
		"cutoff", cutoff.Format(time.RFC3339),
	)

	return PurgeSummary{Deleted: PurgeCounts{Polls: deleted}}, nil
}
