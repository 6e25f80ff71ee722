package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"pollkeeper/internal/scheduler"
	"pollkeeper/internal/types"
)

type mockRunner struct {
	summary  scheduler.Summary
	err      error
	tasks    []scheduler.TaskType
	nows     []time.Time
	triggers []string
}

func (m *mockRunner) Run(ctx context.Context, task scheduler.TaskType, now time.Time) (scheduler.Summary, error) {
	m.tasks = append(m.tasks, task)
	m.nows = append(m.nows, now)
	m.triggers = append(m.triggers, types.GetTrigger(ctx))
	return m.summary, m.err
}

func (m *mockRunner) RunAll(ctx context.Context, now time.Time) (scheduler.RunSummary, error) {
	m.tasks = append(m.tasks, scheduler.TaskRunAll)
	m.nows = append(m.nows, now)
	m.triggers = append(m.triggers, types.GetTrigger(ctx))
	return scheduler.RunSummary{}, m.err
}

type mockLock struct {
	acquired bool
	err      error
	ids      []string
}

func (m *mockLock) Acquire(_ context.Context, lockID, _ string, _ time.Duration) (bool, error) {
	m.ids = append(m.ids, lockID)
	return m.acquired, m.err
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestParseArgs(t *testing.T) {
	var stderr bytes.Buffer

	opts, err := parseArgs([]string{"--task=close_expired_polls", "--reference-time=2026-01-15T02:00:00+01:00"}, &stderr)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.task != scheduler.TaskCloseExpiredPolls {
		t.Errorf("task = %q", opts.task)
	}
	if want := time.Date(2026, 1, 15, 1, 0, 0, 0, time.UTC); opts.refTime == nil || !opts.refTime.Equal(want) {
		t.Errorf("refTime = %v, want %v", opts.refTime, want)
	}

	opts, err = parseArgs([]string{"--list"}, &stderr)
	if err != nil || !opts.list {
		t.Errorf("--list: opts=%+v err=%v", opts, err)
	}
}

func TestParseArgs_Errors(t *testing.T) {
	cases := map[string][]string{
		"missing task": {},
		"unknown task": {"--task=archive_polls"},
		"bad time":     {"--task=run_all", "--reference-time=yesterday"},
		"unknown flag": {"--bogus"},
	}
	for name, args := range cases {
		var stderr bytes.Buffer
		if _, err := parseArgs(args, &stderr); !errors.Is(err, errUsage) {
			t.Errorf("%s: err = %v, want errUsage", name, err)
		}
	}
}

func TestRunTask_TakesLockAndRuns(t *testing.T) {
	runner := &mockRunner{summary: scheduler.CloseSummary{ClosedCount: 3}}
	lock := &mockLock{acquired: true}
	now := time.Date(2026, 2, 6, 3, 40, 0, 0, time.UTC)

	out, err := runTask(context.Background(), runner, lock,
		scheduler.MaintenancePayload{Task: scheduler.TaskCloseExpiredPolls}, now, "w", time.Minute, discard)
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	if out.(scheduler.CloseSummary).ClosedCount != 3 {
		t.Errorf("out = %+v", out)
	}
	if lock.ids[0] != "close_expired_polls:2026-02-06T03" {
		t.Errorf("lock id = %q", lock.ids[0])
	}
	if runner.triggers[0] != TriggerSource {
		t.Errorf("trigger = %q", runner.triggers[0])
	}
}

func TestRunTask_LockHeld(t *testing.T) {
	runner := &mockRunner{}
	out, err := runTask(context.Background(), runner, &mockLock{acquired: false},
		scheduler.MaintenancePayload{Task: scheduler.TaskRunAll}, time.Now(), "w", time.Minute, discard)
	if err != nil || out != nil {
		t.Errorf("out=%v err=%v, want nil nil", out, err)
	}
	if len(runner.tasks) != 0 {
		t.Error("runner must not run while the lock is held")
	}
}

func TestRunTask_ForceSkipsLock(t *testing.T) {
	runner := &mockRunner{}
	ref := time.Date(2025, 12, 31, 23, 0, 0, 0, time.UTC)

	_, err := runTask(context.Background(), runner, nil,
		scheduler.MaintenancePayload{Task: scheduler.TaskRunAll, ReferenceTime: &ref}, time.Now(), "w", time.Minute, discard)
	if err != nil {
		t.Fatalf("runTask: %v", err)
	}
	if len(runner.tasks) != 1 || runner.tasks[0] != scheduler.TaskRunAll {
		t.Errorf("tasks = %v", runner.tasks)
	}
	if !runner.nows[0].Equal(ref) {
		t.Errorf("now = %v, want reference time", runner.nows[0])
	}
}

func TestRunTask_StepError(t *testing.T) {
	stepErr := errors.New("boom")
	runner := &mockRunner{err: stepErr}

	_, err := runTask(context.Background(), runner, nil,
		scheduler.MaintenancePayload{Task: scheduler.TaskRemoveDeletedPolls}, time.Now(), "w", time.Minute, discard)
	if !errors.Is(err, stepErr) {
		t.Errorf("err = %v, want wrapped step error", err)
	}
}

func TestPrintPayload(t *testing.T) {
	var buf bytes.Buffer
	ref := time.Date(2026, 2, 6, 3, 0, 0, 0, time.UTC)
	if err := printPayload(&buf, scheduler.MaintenancePayload{Task: scheduler.TaskSendDeadlineReminders, ReferenceTime: &ref}); err != nil {
		t.Fatalf("printPayload: %v", err)
	}

	var got map[string]string
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["task"] != "send_deadline_reminders" || got["reference_time"] != "2026-02-06T03:00:00Z" {
		t.Errorf("payload = %v", got)
	}
}

func TestPrintAvailableTasks(t *testing.T) {
	var buf bytes.Buffer
	printAvailableTasks(&buf)
	out := buf.String()
	for _, task := range append(scheduler.AllTasks, scheduler.TaskRunAll) {
		if !strings.Contains(out, string(task)) {
			t.Errorf("task list missing %q", task)
		}
	}
}
