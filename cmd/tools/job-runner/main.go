// Package main implements the job-runner CLI for running housekeeping steps
// directly, bypassing the Lambda shim and the HTTP trigger.
//
// It is intended for local development, manual backfills and operational
// debugging.
//
// Usage:
//
//	go run ./cmd/tools/job-runner --task=close_expired_polls
//	go run ./cmd/tools/job-runner --task=send_deadline_reminders --reference-time=2026-01-15T02:00:00Z
//	go run ./cmd/tools/job-runner --dry-run --task=run_all
//	go run ./cmd/tools/job-runner --list
//
// Configuration is read from the environment (or a .env file). Unless
// --force is given, the hourly job lock is taken in job_locks exactly as the
// scheduled Lambda does, so a manual run and a scheduled run for the same
// hour cannot overlap.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"pollkeeper/internal/config"
	"pollkeeper/internal/db"
	"pollkeeper/internal/locking"
	notifcore "pollkeeper/internal/notifications/core"
	"pollkeeper/internal/scheduler"
	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// TriggerSource marks runs started from the CLI.
const TriggerSource = "cli"

// taskDescriptions documents every task accepted by --task.
var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskDeleteInactivePolls:   "Soft-delete free-tier polls untouched and unviewed for 30 days",
	scheduler.TaskRemoveDeletedPolls:    "Hard-delete polls soft-deleted more than 7 days ago",
	scheduler.TaskCloseExpiredPolls:     "Pause live polls past their deadline and email the owner",
	scheduler.TaskSendDeadlineReminders: "Email participants whose poll deadline is 24h or 6h away",
	scheduler.TaskRunAll:                "Run every step above in order",
}

var errUsage = errors.New("usage")

type options struct {
	task    scheduler.TaskType
	refTime *time.Time
	list    bool
	dryRun  bool
	force   bool
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("job-runner", flag.ContinueOnError)
	fs.SetOutput(stderr)

	task := fs.String("task", "", "Task to execute (e.g. close_expired_polls)")
	refTime := fs.String("reference-time", "", "Override reference time (RFC3339, e.g. 2026-01-15T02:00:00Z)")
	fs.BoolVar(&opts.list, "list", false, "List all available tasks and exit")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "Print the JSON payload without executing")
	fs.BoolVar(&opts.force, "force", false, "Run even if the hourly job lock is held")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: job-runner [flags]\n\n")
		fmt.Fprintf(stderr, "Run housekeeping steps directly, bypassing Lambda.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return opts, errUsage
	}
	if opts.list {
		return opts, nil
	}

	if *task == "" {
		fmt.Fprintf(stderr, "error: --task is required\n\n")
		fs.Usage()
		return opts, errUsage
	}
	opts.task = scheduler.TaskType(*task)
	if _, ok := taskDescriptions[opts.task]; !ok {
		fmt.Fprintf(stderr, "error: unknown task %q\n\n", *task)
		printAvailableTasks(stderr)
		return opts, errUsage
	}

	if *refTime != "" {
		t, err := time.Parse(time.RFC3339, *refTime)
		if err != nil {
			fmt.Fprintf(stderr, "error: invalid --reference-time %q: %v\n", *refTime, err)
			return opts, errUsage
		}
		t = t.UTC()
		opts.refTime = &t
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:], os.Stderr)
	if err != nil {
		os.Exit(2)
	}

	if opts.list {
		printAvailableTasks(os.Stderr)
		return
	}

	payload := scheduler.MaintenancePayload{Task: opts.task, ReferenceTime: opts.refTime}
	if opts.dryRun {
		if err := printPayload(os.Stdout, payload); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, payload, opts.force); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// execute wires the same dependencies as the scheduled Lambda and runs the
// task once.
func execute(ctx context.Context, payload scheduler.MaintenancePayload, force bool) error {
	cfg, err := config.LoadConfig(config.NewEnvVarProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), db.PoolOptions{
		MaxConns:       2,
		AcquireTimeout: cfg.Database.AcquireTimeout,
	})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return err
	}

	runner := scheduler.NewHousekeeping(scheduler.Repositories{
		Polls:        db.NewPollRepository(pool),
		Participants: db.NewParticipantRepository(pool),
		Reminders:    db.NewReminderRepository(pool),
	}, scheduler.Options{
		BaseURL:   cfg.Server.BaseURL,
		BatchSize: cfg.Housekeeping.BatchSize,
		Queue:     notifcore.NewEmailPublisher(sqs.NewFromConfig(awsCfg), cfg.Queue.EmailQueueURL, nil, logger),
		Reporter:  telemetry.NewReporter(nil, cfg.Observability.MetricNamespace, logger),
		Logger:    logger,
	})

	var lock locking.Locker
	if !force {
		lock = db.NewJobLockRepository(pool)
	}

	out, err := runTask(ctx, runner, lock, payload, time.Now().UTC(), "job-runner-"+uuid.NewString(), cfg.Lock.TTL, logger)
	if err != nil {
		return err
	}
	return json.NewEncoder(os.Stdout).Encode(out)
}

// TaskRunner is the part of scheduler.Runner the CLI calls.
type TaskRunner interface {
	Run(ctx context.Context, task scheduler.TaskType, now time.Time) (scheduler.Summary, error)
	RunAll(ctx context.Context, now time.Time) (scheduler.RunSummary, error)
}

// runTask takes the hourly lock (when lock is non-nil) and runs the task.
// It returns the step summary, or nil when the lock was held.
func runTask(
	ctx context.Context,
	runner TaskRunner,
	lock locking.Locker,
	payload scheduler.MaintenancePayload,
	now time.Time,
	workerID string,
	ttl time.Duration,
	logger *slog.Logger,
) (any, error) {
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	if lock != nil {
		lockID := locking.HourlyLockID(string(payload.Task), now)
		acquired, err := lock.Acquire(ctx, lockID, workerID, ttl)
		if err != nil {
			return nil, fmt.Errorf("acquiring job lock %s: %w", lockID, err)
		}
		if !acquired {
			logger.WarnContext(ctx, "job lock held, not running (use --force to override)", "lock_id", lockID)
			return nil, nil
		}
	}

	ctx = types.WithTrigger(ctx, TriggerSource)
	if payload.Task == scheduler.TaskRunAll {
		summary, err := runner.RunAll(ctx, now)
		if err != nil {
			return summary, fmt.Errorf("run_all: %w", err)
		}
		return summary, nil
	}

	summary, err := runner.Run(ctx, payload.Task, now)
	if err != nil {
		return summary, fmt.Errorf("task %s failed: %w", payload.Task, err)
	}
	return summary, nil
}

// printAvailableTasks prints every task in execution order.
func printAvailableTasks(w io.Writer) {
	fmt.Fprintf(w, "Available tasks:\n\n")
	tasks := append(append([]scheduler.TaskType{}, scheduler.AllTasks...), scheduler.TaskRunAll)

	maxLen := 0
	for _, t := range tasks {
		if len(t) > maxLen {
			maxLen = len(t)
		}
	}
	for _, t := range tasks {
		fmt.Fprintf(w, "  %-*s  %s\n", maxLen, string(t), taskDescriptions[t])
	}
	fmt.Fprintln(w)
}

// printPayload writes the EventBridge payload for manual invocation.
func printPayload(w io.Writer, payload scheduler.MaintenancePayload) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
