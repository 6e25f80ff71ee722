// Package scheduler implements the housekeeping steps run on a schedule
// against the poll store: inactive poll reaping, purging of long-deleted
// polls, deadline enforcement and deadline reminder dispatch.
//
// Every step accepts a `now` parameter so that runs are deterministic in
// tests and can be replayed for a given reference time via
// MaintenancePayload.ReferenceTime.
package scheduler

import (
	"context"
	"time"

	"pollkeeper/internal/types"
)

// TaskType identifies a housekeeping step.
type TaskType string

const (
	TaskDeleteInactivePolls   TaskType = "delete_inactive_polls"
	TaskRemoveDeletedPolls    TaskType = "remove_deleted_polls"
	TaskCloseExpiredPolls     TaskType = "close_expired_polls"
	TaskSendDeadlineReminders TaskType = "send_deadline_reminders"

	// TaskRunAll runs every step in order. Only meaningful to the entrypoints;
	// Runner.Run rejects it in favour of RunAll.
	TaskRunAll TaskType = "run_all"
)

// AllTasks lists the steps in the order RunAll executes them.
var AllTasks = []TaskType{
	TaskDeleteInactivePolls,
	TaskRemoveDeletedPolls,
	TaskCloseExpiredPolls,
	TaskSendDeadlineReminders,
}

// JobName returns the kebab-case name used in error-report tags and
// trigger routes, e.g. "close-expired-polls".
func (t TaskType) JobName() string {
	switch t {
	case TaskDeleteInactivePolls:
		return "delete-inactive-polls"
	case TaskRemoveDeletedPolls:
		return "remove-deleted-polls"
	case TaskCloseExpiredPolls:
		return "close-expired-polls"
	case TaskSendDeadlineReminders:
		return "send-deadline-reminders"
	case TaskRunAll:
		return "run-all"
	default:
		return string(t)
	}
}

// MaintenancePayload is the JSON payload sent by EventBridge to the
// housekeeper Lambda:
//
//	{
//	  "task": "send_deadline_reminders",
//	  "reference_time": "2026-02-06T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime overrides "now" for manual invocation and backfills.
	// If nil, time.Now().UTC() is used.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Retention constants.
const (
	// InactivityThreshold is how long a poll must go untouched and unviewed
	// before the reaper marks it deleted.
	InactivityThreshold = 30 * 24 * time.Hour

	// PurgeRetention is how long a deleted poll is kept before it is purged.
	PurgeRetention = 7 * 24 * time.Hour
)

// Summary is the per-step result returned to triggers.
type Summary interface {
	// Items is the number of records the step acted on, used for job
	// history and metrics.
	Items() int
}

// ReaperSummary is the result of InactivePollReaper.Run.
type ReaperSummary struct {
	MarkedDeleted int `json:"markedDeleted"`
}

func (s ReaperSummary) Items() int { return s.MarkedDeleted }

// PurgeCounts breaks purged rows down by table.
type PurgeCounts struct {
	Polls int `json:"polls"`
}

// PurgeSummary is the result of DeletedPollPurger.Run.
type PurgeSummary struct {
	Deleted PurgeCounts `json:"deleted"`
}

func (s PurgeSummary) Items() int { return s.Deleted.Polls }

// CloseSummary is the result of DeadlineEnforcer.Run.
type CloseSummary struct {
	ClosedCount int `json:"closedCount"`
}

func (s CloseSummary) Items() int { return s.ClosedCount }

// ReminderSummary is the result of ReminderDispatcher.Run.
type ReminderSummary struct {
	RemindersSent  int `json:"remindersSent"`
	PollsProcessed int `json:"pollsProcessed"`
}

func (s ReminderSummary) Items() int { return s.RemindersSent }

// EmailQueue enqueues templated emails for asynchronous delivery.
type EmailQueue interface {
	EnqueueTemplate(ctx context.Context, template types.EmailTemplate, req types.EmailRequest) error
}
