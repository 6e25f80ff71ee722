package types

import (
	"encoding/json"
	"time"
)

// EncodingZstd marks an EmailJob whose Props were zstd-compressed and
// base64-encoded into CompressedProps.
const EncodingZstd = "zstd"

// EmailJob is the SQS payload published by the housekeeping job and consumed
// by the email worker. Exactly one of Props and CompressedProps is set.
type EmailJob struct {
	MessageID string        `json:"message_id"`
	Template  EmailTemplate `json:"template"`
	To        string        `json:"to"`
	Locale    string        `json:"locale,omitempty"`

	Props           json.RawMessage `json:"props,omitempty"`
	Encoding        string          `json:"encoding,omitempty"`
	CompressedProps string          `json:"compressed_props,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`

	// Observability
	RequestID string `json:"request_id,omitempty"`
}

// EmailRequest is one templated email addressed to a single recipient.
// Props is marshalled to JSON as the template's data.
type EmailRequest struct {
	To     string
	Locale string
	Props  any
}

// DeadlineReminderProps is the data for TemplateDeadlineReminder.
type DeadlineReminderProps struct {
	Title            string    `json:"title"`
	Deadline         string    `json:"deadline"`
	DeadlineAt       time.Time `json:"deadlineAt"`
	TimeRemaining    string    `json:"timeRemaining"`
	ParticipantNames []string  `json:"participantNames"`
	PollURL          string    `json:"pollUrl"`
}

// DeadlineClosedProps is the data for TemplateDeadlineClosed.
type DeadlineClosedProps struct {
	Title      string    `json:"title"`
	Deadline   string    `json:"deadline"`
	DeadlineAt time.Time `json:"deadlineAt"`
	PollURL    string    `json:"pollUrl"`
}
