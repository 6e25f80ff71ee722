package types

import "time"

// PollStatus is the lifecycle state of a poll as stored in polls.status.
type PollStatus string

const (
	PollStatusLive      PollStatus = "live"
	PollStatusPaused    PollStatus = "paused"
	PollStatusFinalized PollStatus = "finalized"
)

// SpaceTierPro is the subscription tier that exempts a poll from inactivity
// reaping.
const SpaceTierPro = "pro"

// Poll is the subset of the polls table the housekeeping job reads.
type Poll struct {
	ID        string     `json:"id" db:"id"`
	Title     string     `json:"title" db:"title"`
	UserID    *string    `json:"user_id,omitempty" db:"user_id"`
	Deadline  *time.Time `json:"deadline,omitempty" db:"deadline"`
	TimeZone  string     `json:"time_zone,omitempty" db:"time_zone"`
	Status    PollStatus `json:"status" db:"status"`
	Deleted   bool       `json:"deleted" db:"deleted"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	TouchedAt time.Time  `json:"touched_at" db:"touched_at"`
	SpaceID   *string    `json:"space_id,omitempty" db:"space_id"`

	// Owner is populated by queries that join users; nil when the poll has
	// no owner or the query does not load it.
	Owner *Owner `json:"owner,omitempty"`
}

// Owner is the user that created a poll.
type Owner struct {
	ID     string `json:"id" db:"id"`
	Email  string `json:"email" db:"email"`
	Locale string `json:"locale" db:"locale"`
}

// Participant is an invitee of a poll.
type Participant struct {
	ID       string  `json:"id" db:"id"`
	PollID   string  `json:"poll_id" db:"poll_id"`
	Name     string  `json:"name" db:"name"`
	Email    *string `json:"email,omitempty" db:"email"`
	Deleted  bool    `json:"deleted" db:"deleted"`
	Locale   string  `json:"locale" db:"locale"`
	TimeZone string  `json:"time_zone,omitempty" db:"time_zone"`
}

// ReminderType identifies which deadline window produced a reminder.
type ReminderType string

const (
	ReminderTwentyFourHours ReminderType = "twentyFourHours"
	ReminderSixHours        ReminderType = "sixHours"
	ReminderOneHour         ReminderType = "oneHour"
)

// Reminder is one row of the reminders ledger. The pair
// (ParticipantID, Type) is unique.
type Reminder struct {
	ID            string       `json:"id,omitempty" db:"id"`
	PollID        string       `json:"poll_id" db:"poll_id"`
	ParticipantID string       `json:"participant_id" db:"participant_id"`
	Type          ReminderType `json:"reminder_type" db:"reminder_type"`
	SentAt        time.Time    `json:"sent_at" db:"sent_at"`
}

// EmailTemplate names a template known to the email worker.
type EmailTemplate string

const (
	TemplateDeadlineReminder EmailTemplate = "DeadlineReminderEmail"
	TemplateDeadlineClosed   EmailTemplate = "DeadlineClosedEmail"
)

// Job history statuses written to job_history.status.
const (
	JobStatusRunning = "running"
	JobStatusSuccess = "success"
	JobStatusFailed  = "failed"
)

// SendInput is a fully rendered email handed to an EmailProvider. Template,
// MessageID and RequestID come from the queued EmailJob and are attached to
// the provider message so deliveries can be traced back to a job run.
type SendInput struct {
	To       string
	From     SenderIdentity
	Subject  string
	BodyHTML string
	BodyText string

	Template  EmailTemplate
	MessageID string
	RequestID string
}

// SenderIdentity defines the sender for outgoing emails.
type SenderIdentity struct {
	Name    string
	Address string
}
