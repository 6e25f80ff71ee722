// Package main is the entrypoint for the Housekeeper Lambda function.
//
// EventBridge rules send a MaintenancePayload naming one housekeeping step
// (or run_all) and the handler routes it to the scheduler.Runner.
//
// Handler flow:
//  1. Parse MaintenancePayload and determine the reference time.
//  2. Short-circuit when FEATURE_ENABLE_HOUSEKEEPING is false.
//  3. Acquire the hourly job lock ("task:YYYY-MM-DDTHH") so duplicate
//     deliveries within the hour do no work.
//  4. Run the step and record it in job_history.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"pollkeeper/internal/config"
	"pollkeeper/internal/db"
	"pollkeeper/internal/locking"
	notifcore "pollkeeper/internal/notifications/core"
	"pollkeeper/internal/scheduler"
	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// TriggerSource marks runs started by the scheduler.
const TriggerSource = "schedule"

// Result statuses returned to the invoker.
const (
	StatusComplete = "complete"
	StatusSkipped  = "skipped"
	StatusDisabled = "disabled"
)

// TaskRunner is the part of scheduler.Runner the handler calls.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time) (scheduler.Summary, error)
	RunAll(ctx context.Context, now time.Time) (scheduler.RunSummary, error)
}

// JobHistorian records runs in job_history.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Result is the Lambda response, visible in the invocation log.
type Result struct {
	Task    scheduler.TaskType `json:"task"`
	Status  string             `json:"status"`
	LockID  string             `json:"lock_id,omitempty"`
	Items   int                `json:"items"`
	Summary any                `json:"summary,omitempty"`
}

// Handler holds the dependencies for the housekeeper Lambda handler.
type Handler struct {
	Runner     TaskRunner
	JobLock    locking.Locker
	JobHistory JobHistorian
	WorkerID   string
	LockTTL    time.Duration
	Enabled    bool
	Logger     *slog.Logger
	Clock      types.Clock
}

// Handle processes one MaintenancePayload.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (Result, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	now := clock.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	task := payload.Task
	result := Result{Task: task}
	logger = logger.With("task", string(task), "worker_id", h.WorkerID)
	logger.InfoContext(ctx, "housekeeper invoked",
		"reference_time", now.Format(time.RFC3339),
	)

	if err := validateTask(task); err != nil {
		return result, err
	}

	if !h.Enabled {
		logger.InfoContext(ctx, "housekeeping disabled, skipping run")
		result.Status = StatusDisabled
		return result, nil
	}

	lockID := locking.HourlyLockID(string(task), now)
	result.LockID = lockID
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, h.LockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return result, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock held by another worker, skipping",
			"lock_id", lockID,
		)
		result.Status = StatusSkipped
		return result, nil
	}

	// History failures never block the run; id 0 means Finish is skipped.
	jobID, err := h.JobHistory.Start(ctx, string(task))
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history", "error", err)
		jobID = 0
	}

	runCtx := types.WithLogger(types.WithTrigger(ctx, TriggerSource), logger)
	summary, items, execErr := h.dispatch(runCtx, task, now)
	result.Summary = summary
	result.Items = items

	if jobID != 0 {
		status := types.JobStatusSuccess
		if execErr != nil {
			status = types.JobStatusFailed
		}
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "housekeeping run failed",
			"items_before_error", items,
			"error", execErr,
		)
		return result, fmt.Errorf("task %s failed: %w", task, execErr)
	}

	result.Status = StatusComplete
	logger.InfoContext(ctx, "housekeeping run complete", "items", items)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (any, int, error) {
	if task == scheduler.TaskRunAll {
		summary, err := h.Runner.RunAll(ctx, now)
		return summary, summary.Items(), err
	}

	summary, err := h.Runner.Run(ctx, task, now)
	items := 0
	if summary != nil {
		items = summary.Items()
	}
	return summary, items, err
}

func validateTask(task scheduler.TaskType) error {
	if task == "" {
		return types.NewAppError(types.ErrCodeValidationUnknownTask, "empty task in maintenance payload", nil)
	}
	if task == scheduler.TaskRunAll {
		return nil
	}
	for _, t := range scheduler.AllTasks {
		if t == task {
			return nil
		}
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationUnknownTask,
		fmt.Sprintf("unknown task %q", task),
		nil,
		map[string]any{"task": string(task)},
	)
}

func main() {
	logger := telemetry.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	logger.Info("housekeeper Lambda initializing (cold start)")

	handler, err := newHandler(context.Background(), logger)
	if err != nil {
		logger.Error("housekeeper initialization failed", "error", err)
		os.Exit(1)
	}

	logger.Info("housekeeper Lambda initialized", "worker_id", handler.WorkerID)
	lambda.Start(handler.Handle)
}

// newHandler loads configuration and wires the runner, lock and history
// against PostgreSQL, SQS and CloudWatch.
func newHandler(ctx context.Context, logger *slog.Logger) (*Handler, error) {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger = telemetry.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:          int32(cfg.Database.MaxConns),
		MinConns:          int32(cfg.Database.MinConns),
		MaxConnLifetime:   cfg.Database.MaxConnLifetime,
		HealthCheckPeriod: cfg.Database.HealthCheckPeriod,
		AcquireTimeout:    cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	ns := cfg.Observability.MetricNamespace
	var (
		cw           telemetry.CloudWatchClient
		jobMetrics   telemetry.JobMetrics   = telemetry.NoopJobMetrics{}
		emailMetrics notifcore.EmailMetrics = notifcore.NoopEmailMetrics{}
	)
	if cfg.Observability.EnableMetrics {
		cw = cloudwatch.NewFromConfig(awsCfg)
		jobMetrics = telemetry.NewCloudWatchJobMetrics(cw, ns, logger)
		emailMetrics = notifcore.NewCloudWatchEmailMetrics(cw, ns, logger)
	}

	runner := scheduler.NewHousekeeping(scheduler.Repositories{
		Polls:        db.NewPollRepository(pool),
		Participants: db.NewParticipantRepository(pool),
		Reminders:    db.NewReminderRepository(pool),
	}, scheduler.Options{
		BaseURL:   cfg.Server.BaseURL,
		BatchSize: cfg.Housekeeping.BatchSize,
		Queue:     notifcore.NewEmailPublisher(sqs.NewFromConfig(awsCfg), cfg.Queue.EmailQueueURL, emailMetrics, logger),
		Reporter:  telemetry.NewReporter(cw, ns, logger),
		Metrics:   jobMetrics,
		Logger:    logger,
	})

	locker, err := newLocker(ctx, cfg.Lock, pool)
	if err != nil {
		return nil, err
	}

	return &Handler{
		Runner:     runner,
		JobLock:    locker,
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   uuid.NewString(),
		LockTTL:    cfg.Lock.TTL,
		Enabled:    cfg.Housekeeping.Enabled,
		Logger:     logger,
		Clock:      types.RealClock{},
	}, nil
}

// newLocker selects the job lock backend named by LOCK_BACKEND.
func newLocker(ctx context.Context, cfg config.LockConfig, pool *pgxpool.Pool) (locking.Locker, error) {
	switch cfg.Backend {
	case locking.BackendRedis:
		client, err := locking.NewRedisClient(ctx, cfg.RedisURL.Unmask())
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return locking.NewRedisLocker(client), nil
	case locking.BackendPostgres, "":
		return db.NewJobLockRepository(pool), nil
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Backend)
	}
}
