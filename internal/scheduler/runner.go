package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// StepFunc runs one housekeeping step for the reference time now.
type StepFunc func(ctx context.Context, now time.Time) (Summary, error)

// Step adapts a step's typed Run method to a StepFunc.
func Step[S Summary](run func(ctx context.Context, now time.Time) (S, error)) StepFunc {
	return func(ctx context.Context, now time.Time) (Summary, error) {
		s, err := run(ctx, now)
		return s, err
	}
}

// PollStore is the poll repository surface used across all steps.
type PollStore interface {
	ReaperDB
	PurgerDB
	EnforcerDB
	WindowLister
}

// Repositories bundles the stores the housekeeping steps read and mutate.
type Repositories struct {
	Polls        PollStore
	Participants CandidateLister
	Reminders    ReminderRecorder
}

// Options configures the steps built by NewHousekeeping.
type Options struct {
	BaseURL   string
	BatchSize int
	Queue     EmailQueue
	Reporter  telemetry.ExceptionReporter
	Metrics   telemetry.JobMetrics
	Logger    *slog.Logger
}

// NewHousekeeping wires the four steps against repos and returns a Runner
// for them.
func NewHousekeeping(repos Repositories, opts Options) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	reaper := NewInactivePollReaper(repos.Polls, logger)
	purger := NewDeletedPollPurger(repos.Polls, opts.BatchSize, logger)
	enforcer := NewDeadlineEnforcer(repos.Polls, opts.Queue, opts.Reporter, opts.BaseURL, opts.BatchSize, logger)
	reminders := NewReminderDispatcher(ReminderStore{
		WindowLister:     repos.Polls,
		CandidateLister:  repos.Participants,
		ReminderRecorder: repos.Reminders,
	}, opts.Queue, opts.Reporter, opts.BaseURL, opts.BatchSize, logger)

	return NewRunner(map[TaskType]StepFunc{
		TaskDeleteInactivePolls:   Step(reaper.Run),
		TaskRemoveDeletedPolls:    Step(purger.Run),
		TaskCloseExpiredPolls:     Step(enforcer.Run),
		TaskSendDeadlineReminders: Step(reminders.Run),
	}, opts.Metrics, logger)
}

// Runner dispatches housekeeping steps by TaskType.
type Runner struct {
	steps   map[TaskType]StepFunc
	metrics telemetry.JobMetrics
	logger  *slog.Logger
}

// NewRunner creates a Runner over the given steps.
func NewRunner(steps map[TaskType]StepFunc, metrics telemetry.JobMetrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = telemetry.NoopJobMetrics{}
	}
	return &Runner{steps: steps, metrics: metrics, logger: logger}
}

// Tasks returns the registered steps in execution order.
func (r *Runner) Tasks() []TaskType {
	out := make([]TaskType, 0, len(r.steps))
	for _, t := range AllTasks {
		if _, ok := r.steps[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Run executes a single step.
func (r *Runner) Run(ctx context.Context, task TaskType, now time.Time) (Summary, error) {
	step, ok := r.steps[task]
	if !ok {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeValidationUnknownTask,
			fmt.Sprintf("unknown task %q", task),
			nil,
			map[string]any{"task": string(task)},
		)
	}

	logger := r.loggerFor(ctx)
	logger.InfoContext(ctx, "housekeeping step started",
		"task", string(task),
		"reference_time", now.Format(time.RFC3339),
	)

	start := time.Now()
	summary, err := step(ctx, now)
	duration := time.Since(start)

	items := 0
	if summary != nil {
		items = summary.Items()
	}
	r.metrics.RecordJob(ctx, string(task), duration, items, err)

	if err != nil {
		logger.ErrorContext(ctx, "housekeeping step failed",
			"task", string(task),
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return summary, err
	}

	logger.InfoContext(ctx, "housekeeping step complete",
		"task", string(task),
		"duration_ms", duration.Milliseconds(),
		"items", items,
	)
	return summary, nil
}

// loggerFor prefers a request-scoped logger from ctx and tags lines with
// the trigger (http, schedule, cli) when one is set.
func (r *Runner) loggerFor(ctx context.Context) *slog.Logger {
	logger := types.LoggerFromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	if trigger := types.GetTrigger(ctx); trigger != "" {
		logger = logger.With("trigger", trigger)
	}
	return logger
}

// RunSummary aggregates the per-step results of RunAll.
type RunSummary struct {
	Summaries map[TaskType]Summary `json:"summary"`
	Errors    map[TaskType]string  `json:"errors,omitempty"`
}

func (s RunSummary) Items() int {
	total := 0
	for _, sum := range s.Summaries {
		if sum != nil {
			total += sum.Items()
		}
	}
	return total
}

// RunAll executes every registered step in order. A failing step does not
// prevent the remaining steps; all step errors are joined.
func (r *Runner) RunAll(ctx context.Context, now time.Time) (RunSummary, error) {
	out := RunSummary{Summaries: make(map[TaskType]Summary, len(r.steps))}
	var errs []error

	for _, task := range r.Tasks() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		summary, err := r.Run(ctx, task, now)
		if err != nil {
			if out.Errors == nil {
				out.Errors = make(map[TaskType]string)
			}
			out.Errors[task] = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", task, err))
			continue
		}
		out.Summaries[task] = summary
	}

	return out, errors.Join(errs...)
}
