package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pollkeeper/internal/types"
)

const sendGridAPIBase = "https://api.sendgrid.com"

// sendGridRetry keeps the worst case well inside the SQS visibility timeout.
var sendGridRetry = RetryPolicy{MaxRetries: 2, MinWait: 500 * time.Millisecond, MaxWait: 5 * time.Second}

// SendGridClientConfig holds the configuration for creating a SendGridClient.
type SendGridClientConfig struct {
	APIKey  string
	BaseURL string // defaults to sendGridAPIBase
	Logger  *slog.Logger
}

// SendGridClient implements EmailProvider against the v3 Mail Send API.
type SendGridClient struct {
	tr      *transport
	apiKey  string
	sendURL string
	logger  *slog.Logger
}

// NewSendGridClient creates a SendGridClient with its own circuit breaker.
func NewSendGridClient(httpClient *http.Client, cfg SendGridClientConfig) *SendGridClient {
	return newSendGridClient(newTransport(httpClient, ProviderSendGrid, sendGridRetry), cfg)
}

func newSendGridClient(t *transport, cfg SendGridClientConfig) *SendGridClient {
	base := cfg.BaseURL
	if base == "" {
		base = sendGridAPIBase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SendGridClient{
		tr:      t,
		apiKey:  cfg.APIKey,
		sendURL: strings.TrimSuffix(base, "/") + "/v3/mail/send",
		logger:  logger,
	}
}

// Send posts the rendered message and returns the X-Message-Id header.
// Deliveries are grouped by template category and carry the job's message
// and request ids as custom_args, which SendGrid echoes in its event webhook.
//
// Error mapping:
//   - 403 Forbidden -> types.ErrCodeEmailBlocked
//   - 429 -> types.ErrCodeUpstreamRateLimited (after retries)
//   - 5xx -> types.ErrCodeUpstreamUnavailable (after retries)
//   - other 4xx -> types.ErrCodeUpstreamEmailProvider
func (s *SendGridClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	body, err := json.Marshal(buildMailPayload(input))
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalUnexpected, "failed to marshal SendGrid mail payload", err)
	}

	resp, err := s.tr.postJSON(ctx, s.sendURL, http.Header{"Authorization": {"Bearer " + s.apiKey}}, body)
	if err != nil {
		s.logger.WarnContext(ctx, "SendGrid send failed",
			"message_id", input.MessageID,
			"template", string(input.Template),
			"error", err,
		)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return resp.Header.Get("X-Message-Id"), nil
	}
	return "", handleSendGridError(resp)
}

type sendGridMailPayload struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
	Categories       []string                  `json:"categories,omitempty"`
	CustomArgs       map[string]string         `json:"custom_args,omitempty"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// buildMailPayload maps a SendInput to the v3 payload. SendGrid requires
// text/plain to precede text/html.
func buildMailPayload(input types.SendInput) sendGridMailPayload {
	payload := sendGridMailPayload{
		Personalizations: []sendGridPersonalization{{To: []sendGridAddress{{Email: input.To}}}},
		From:             sendGridAddress{Email: input.From.Address, Name: input.From.Name},
		Subject:          input.Subject,
	}
	if input.BodyText != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/plain", Value: input.BodyText})
	}
	if input.BodyHTML != "" {
		payload.Content = append(payload.Content, sendGridContent{Type: "text/html", Value: input.BodyHTML})
	}
	if c := templateCategory(input.Template); c != "" {
		payload.Categories = []string{"pollkeeper", c}
	}
	for _, tag := range deliveryTags(input) {
		if payload.CustomArgs == nil {
			payload.CustomArgs = make(map[string]string)
		}
		payload.CustomArgs[tag.name] = tag.value
	}
	return payload
}

type sendGridErrorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

func handleSendGridError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid returned status %d with unreadable body", resp.StatusCode),
			err,
		)
	}

	msg := string(body)
	var sgErr sendGridErrorResponse
	if json.Unmarshal(body, &sgErr) == nil && len(sgErr.Errors) > 0 {
		msg = sgErr.Errors[0].Message
	}

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return types.NewAppError(types.ErrCodeEmailBlocked, "SendGrid blocked delivery: "+msg, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewAppError(types.ErrCodeUpstreamRateLimited, "SendGrid rate limit exceeded", nil)
	case resp.StatusCode >= 500:
		return types.NewAppError(types.ErrCodeUpstreamUnavailable, "SendGrid server error: "+msg, nil)
	default:
		return types.NewAppError(
			types.ErrCodeUpstreamEmailProvider,
			fmt.Sprintf("SendGrid error (%d): %s", resp.StatusCode, msg),
			nil,
		)
	}
}

var _ EmailProvider = (*SendGridClient)(nil)
