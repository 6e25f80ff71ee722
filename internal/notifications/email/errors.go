// Package email implements the email worker side of the notification queue:
// template rendering from embedded files and delivery of queued EmailJobs
// through an external EmailProvider (AWS SES or SendGrid).
package email

import (
	"errors"

	"pollkeeper/internal/types"
)

// ErrRecipientBlocked indicates the email provider has the recipient on a
// suppression list or has blocked delivery. This is treated as a terminal
// (non-retryable) failure.
var ErrRecipientBlocked = errors.New("recipient blocked by provider")

// ErrUnknownTemplate is wrapped when a job names a template the renderer
// does not have.
var ErrUnknownTemplate = errors.New("unknown email template")

// IsBlocklistError checks whether an error indicates the recipient is blocked
// by the email provider. It checks both the sentinel ErrRecipientBlocked and
// the AppError code ErrCodeEmailBlocked (returned by the email provider).
func IsBlocklistError(err error) bool {
	if errors.Is(err, ErrRecipientBlocked) {
		return true
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == types.ErrCodeEmailBlocked
	}
	return false
}

// IsPermanent reports whether redelivering the job can never succeed: a
// blocked recipient, an unknown template, or props that do not render.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if IsBlocklistError(err) || errors.Is(err, ErrUnknownTemplate) {
		return true
	}
	return types.IsCode(err, types.ErrCodeValidationUnknownTemplate) ||
		types.IsCode(err, types.ErrCodeValidationInvalidEmail)
}
