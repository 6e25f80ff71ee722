package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pollkeeper/internal/deadline"
	"pollkeeper/internal/notifications/email"
	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// ReminderWindow selects polls whose deadline lies between now+End and
// now+Start, both inclusive.
type ReminderWindow struct {
	Type  types.ReminderType
	Start time.Duration
	End   time.Duration
}

// ReminderWindows are processed in this order on every run.
var ReminderWindows = []ReminderWindow{
	{Type: types.ReminderTwentyFourHours, Start: 24 * time.Hour, End: 23 * time.Hour},
	{Type: types.ReminderSixHours, Start: 6 * time.Hour, End: 5 * time.Hour},
	{Type: types.ReminderOneHour, Start: 1 * time.Hour, End: 0},
}

// WindowLister finds polls due for a reminder window.
type WindowLister interface {
	// ListInDeadlineWindow returns live, non-deleted polls with
	// from <= deadline <= to, skipping the excluded ids.
	//
	// SQL: SELECT id, title, deadline, time_zone FROM polls
	//      WHERE status = 'live' AND deleted = false
	//        AND deadline >= $1 AND deadline <= $2 AND NOT (id = ANY($3))
	//      ORDER BY deadline, id LIMIT $4
	ListInDeadlineWindow(ctx context.Context, from, to time.Time, exclude []string, limit int) ([]types.Poll, error)
}

// CandidateLister finds participants still owed a reminder.
type CandidateLister interface {
	// ListReminderCandidates returns participants of pollID that have an
	// email, are not deleted, have not voted and have no reminder of
	// reminderType yet.
	ListReminderCandidates(ctx context.Context, pollID string, reminderType types.ReminderType) ([]types.Participant, error)
}

// ReminderRecorder writes the reminder ledger.
type ReminderRecorder interface {
	// InsertSkipDuplicates writes ledger rows, ignoring rows that collide on
	// (participant_id, reminder_type). Returns the rows actually inserted.
	//
	// SQL: INSERT INTO reminders (...) SELECT * FROM unnest(...)
	//      ON CONFLICT (participant_id, reminder_type) DO NOTHING
	InsertSkipDuplicates(ctx context.Context, rows []types.Reminder) (int, error)
}

// ReminderDB provides the reads and the ledger write used by reminder
// dispatch.
type ReminderDB interface {
	WindowLister
	CandidateLister
	ReminderRecorder
}

// ReminderStore assembles a ReminderDB from separate repositories.
type ReminderStore struct {
	WindowLister
	CandidateLister
	ReminderRecorder
}

// ReminderDispatcher sends deadline reminders and keeps the reminder ledger.
type ReminderDispatcher struct {
	db        ReminderDB
	queue     EmailQueue
	reporter  telemetry.ExceptionReporter
	baseURL   string
	batchSize int
	windows   []ReminderWindow
	logger    *slog.Logger
}

// NewReminderDispatcher creates the step behind TaskSendDeadlineReminders
// using ReminderWindows.
func NewReminderDispatcher(db ReminderDB, queue EmailQueue, reporter telemetry.ExceptionReporter, baseURL string, batchSize int, logger *slog.Logger) *ReminderDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = telemetry.NoopReporter{}
	}
	return &ReminderDispatcher{
		db:        db,
		queue:     queue,
		reporter:  reporter,
		baseURL:   strings.TrimRight(baseURL, "/"),
		batchSize: batchSize,
		windows:   ReminderWindows,
		logger:    logger,
	}
}

// WithWindows replaces the reminder windows. Intended for tests and
// one-off backfills.
func (d *ReminderDispatcher) WithWindows(windows []ReminderWindow) *ReminderDispatcher {
	d.windows = windows
	return d
}

// recipient is one outgoing email: every eligible participant sharing a
// normalized address.
type recipient struct {
	address      string
	participants []types.Participant
}

// Run walks each window in order and emails every non-responding
// participant once per window type. A failed window fetch aborts the run;
// failures for a single poll or recipient are reported and skipped.
func (d *ReminderDispatcher) Run(ctx context.Context, now time.Time) (ReminderSummary, error) {
	var summary ReminderSummary

	for _, w := range d.windows {
		sent, processed, err := d.runWindow(ctx, w, now)
		summary.RemindersSent += sent
		summary.PollsProcessed += processed
		if err != nil {
			return summary, err
		}
	}

	d.logger.InfoContext(ctx, "deadline reminders dispatched",
		"reminders_sent", summary.RemindersSent,
		"polls_processed", summary.PollsProcessed,
	)

	return summary, nil
}

func (d *ReminderDispatcher) runWindow(ctx context.Context, w ReminderWindow, now time.Time) (sent, processed int, err error) {
	from := now.Add(w.End)
	to := now.Add(w.Start)

	cursor := BatchCursor[types.Poll]{
		Size: d.batchSize,
		Key:  pollKey,
		Fetch: func(ctx context.Context, exclude []string, limit int) ([]types.Poll, error) {
			polls, err := d.db.ListInDeadlineWindow(ctx, from, to, exclude, limit)
			if err != nil {
				return nil, fmt.Errorf("listing polls in %s window: %w", w.Type, err)
			}
			return polls, nil
		},
		Process: func(ctx context.Context, polls []types.Poll) error {
			for _, p := range polls {
				processed++
				rows, n := d.processPoll(ctx, w, p, now)
				sent += n
				d.recordReminders(ctx, w, p.ID, rows)
			}
			return nil
		},
	}

	stats, err := cursor.Run(ctx)
	if err != nil {
		return sent, processed, err
	}

	d.logger.InfoContext(ctx, "reminder window complete",
		"reminder_type", string(w.Type),
		"window_from", from.Format(time.RFC3339),
		"window_to", to.Format(time.RFC3339),
		"polls", stats.Items,
		"sent", sent,
	)
	return sent, processed, nil
}

// processPoll enqueues one email per recipient of p and returns the ledger
// rows for recipients whose email was accepted by the queue.
func (d *ReminderDispatcher) processPoll(ctx context.Context, w ReminderWindow, p types.Poll, now time.Time) ([]types.Reminder, int) {
	if p.Deadline == nil {
		return nil, 0
	}

	participants, err := d.db.ListReminderCandidates(ctx, p.ID, w.Type)
	if err != nil {
		d.fail(ctx, w, p.ID, "failed to list reminder candidates", err)
		return nil, 0
	}
	if len(participants) == 0 {
		return nil, 0
	}

	timeRemaining := deadline.FormatRemaining(deadline.HoursUntil(*p.Deadline, now))
	pollURL := d.baseURL + "/invite/" + p.ID

	var rows []types.Reminder
	sent := 0
	for _, r := range groupByAddress(participants) {
		first := r.participants[0]

		zone := p.TimeZone
		if zone == "" {
			zone = first.TimeZone
		}
		local, convErr := deadline.ConvertToZone(*p.Deadline, zone)
		if convErr != nil {
			d.fail(ctx, w, p.ID, "time zone conversion failed, using UTC", convErr)
		}

		names := make([]string, len(r.participants))
		for i, pt := range r.participants {
			names[i] = pt.Name
		}

		err := d.queue.EnqueueTemplate(ctx, types.TemplateDeadlineReminder, types.EmailRequest{
			To:     r.address,
			Locale: first.Locale,
			Props: types.DeadlineReminderProps{
				Title:            p.Title,
				Deadline:         local.Format(deadline.DisplayLayout),
				DeadlineAt:       p.Deadline.UTC(),
				TimeRemaining:    timeRemaining,
				ParticipantNames: names,
				PollURL:          pollURL,
			},
		})
		if err != nil {
			d.fail(ctx, w, p.ID, "failed to enqueue deadline reminder", err, "to", email.RedactEmail(r.address))
			continue
		}

		sent++
		for _, pt := range r.participants {
			rows = append(rows, types.Reminder{
				PollID:        p.ID,
				ParticipantID: pt.ID,
				Type:          w.Type,
				SentAt:        now,
			})
		}
	}

	return rows, sent
}

// recordReminders writes the ledger rows for one poll as soon as its emails
// are queued. The write ignores cancellation of ctx: once an email is on the
// queue its ledger row must land, or the next run sends it again. A failure
// is reported; only this poll's participants may be reminded again.
func (d *ReminderDispatcher) recordReminders(ctx context.Context, w ReminderWindow, pollID string, staged []types.Reminder) {
	rows := dedupeReminders(staged)
	if len(rows) == 0 {
		return
	}

	if _, err := d.db.InsertSkipDuplicates(context.WithoutCancel(ctx), rows); err != nil {
		d.logger.ErrorContext(ctx, "failed to record reminders",
			"poll_id", pollID,
			"reminder_type", string(w.Type),
			"rows", len(rows),
			"error", err,
		)
		d.reporter.ReportException(ctx, err, telemetry.Report{
			Tags: map[string]string{
				"job":          TaskSendDeadlineReminders.JobName(),
				"pollId":       pollID,
				"reminderType": string(w.Type),
			},
			Extra: map[string]any{"rows": len(rows)},
		})
	}
}

func (d *ReminderDispatcher) fail(ctx context.Context, w ReminderWindow, pollID, msg string, err error, extra ...any) {
	args := append([]any{
		"poll_id", pollID,
		"reminder_type", string(w.Type),
		"error", err,
	}, extra...)
	d.logger.ErrorContext(ctx, msg, args...)

	tags := map[string]string{
		"job":          TaskSendDeadlineReminders.JobName(),
		"pollId":       pollID,
		"reminderType": string(w.Type),
	}
	var tzErr *deadline.TimezoneConversionError
	if errors.As(err, &tzErr) {
		tags["errorType"] = "timezone-conversion"
	}
	d.reporter.ReportException(ctx, err, telemetry.Report{Tags: tags})
}

// groupByAddress buckets participants by normalized email, preserving the
// order in which each address first appears.
func groupByAddress(participants []types.Participant) []recipient {
	index := make(map[string]int)
	var out []recipient

	for _, p := range participants {
		if p.Email == nil {
			continue
		}
		addr := email.NormalizeAddress(*p.Email)
		if addr == "" {
			continue
		}
		i, ok := index[addr]
		if !ok {
			i = len(out)
			index[addr] = i
			out = append(out, recipient{address: addr})
		}
		out[i].participants = append(out[i].participants, p)
	}
	return out
}

func dedupeReminders(rows []types.Reminder) []types.Reminder {
	type key struct {
		participant string
		kind        types.ReminderType
	}
	seen := make(map[key]struct{}, len(rows))
	out := make([]types.Reminder, 0, len(rows))
	for _, r := range rows {
		k := key{r.ParticipantID, r.Type}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}
