package external

import (
	"context"

	"pollkeeper/internal/types"
)

// Provider names accepted by EMAIL_PROVIDER; also used as the Provider
// metric dimension.
const (
	ProviderSES      = "ses"
	ProviderSendGrid = "sendgrid"
)

// EmailProvider abstracts the email delivery service. Implementations
// transmit pre-rendered content (Subject, BodyHTML, BodyText).
type EmailProvider interface {
	// Send returns the provider's message ID for correlation.
	Send(ctx context.Context, input types.SendInput) (providerMsgID string, err error)
}
