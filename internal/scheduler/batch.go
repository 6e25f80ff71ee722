package scheduler

import (
	"context"
	"errors"
	"fmt"

	"pollkeeper/internal/types"
)

// BatchSize is the default number of rows fetched per cursor iteration.
const BatchSize = 100

// ErrCursorStalled is returned (wrapped in an AppError) when a fetch yields a
// record the cursor has already processed. It means the step's processing
// did not remove the record from the fetch predicate and the fetch did not
// honour the exclusion list, so continuing would loop forever.
var ErrCursorStalled = errors.New("batch cursor stalled")

// CursorStats describes a completed cursor run.
type CursorStats struct {
	Fetches int
	Items   int
}

// BatchCursor drains a predicate-defined result set in fixed-size batches.
//
// Fetch receives the keys processed so far. Steps whose processing removes
// rows from the predicate (pausing, deleting) may ignore them; steps whose
// processing leaves rows eligible (reminders) must exclude them. The run
// ends when a fetch returns zero rows, so N eligible rows take
// ceil(N/Size)+1 fetches.
type BatchCursor[T any] struct {
	Size    int
	Key     func(T) string
	Fetch   func(ctx context.Context, exclude []string, limit int) ([]T, error)
	Process func(ctx context.Context, batch []T) error
}

// Run iterates until a fetch comes back empty, a fetch or Process call fails,
// the context is cancelled, or a previously processed key is fetched again.
func (c BatchCursor[T]) Run(ctx context.Context) (CursorStats, error) {
	size := c.Size
	if size <= 0 {
		size = BatchSize
	}

	var stats CursorStats
	seen := make(map[string]struct{})
	processed := make([]string, 0, size)

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch, err := c.Fetch(ctx, processed, size)
		stats.Fetches++
		if err != nil {
			return stats, err
		}
		if len(batch) == 0 {
			return stats, nil
		}

		for _, item := range batch {
			key := c.Key(item)
			if _, dup := seen[key]; dup {
				return stats, types.NewAppErrorWithDetails(
					types.ErrCodeInternalCursorStalled,
					fmt.Sprintf("record %s fetched again after processing", key),
					ErrCursorStalled,
					map[string]any{"key": key, "fetches": stats.Fetches},
				)
			}
			seen[key] = struct{}{}
			processed = append(processed, key)
		}

		if err := c.Process(ctx, batch); err != nil {
			return stats, err
		}
		stats.Items += len(batch)
	}
}

func pollKey(p types.Poll) string { return p.ID }

func identity(id string) string { return id }
