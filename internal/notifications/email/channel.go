package email

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pollkeeper/internal/external"
	"pollkeeper/internal/notifications/core"
	"pollkeeper/internal/types"
)

// DeliveryStatus is the terminal outcome of one delivery.
type DeliveryStatus string

const (
	DeliveryStatusSent    DeliveryStatus = "sent"
	DeliveryStatusSkipped DeliveryStatus = "skipped"
	DeliveryStatusBounced DeliveryStatus = "bounced"
)

// DeliveryResult describes a delivery that needs no further attempts.
type DeliveryResult struct {
	Status            DeliveryStatus
	ProviderMessageID string
	FailureReason     string
}

// TemplateService renders a queued job into sendable content.
type TemplateService interface {
	Render(tmpl types.EmailTemplate, locale string, props json.RawMessage) (*RenderedEmail, types.SenderIdentity, error)
}

var _ TemplateService = (*Renderer)(nil)

// EmailChannel delivers EmailJobs: it decodes props, renders templates
// client-side, and sends through an external EmailProvider with bounded
// in-process retries for transient provider errors.
type EmailChannel struct {
	provider     external.EmailProvider
	providerName string
	templates    TemplateService
	metrics      core.EmailMetrics
	retry        core.RetryPolicy
	sleep        func(ctx context.Context, d time.Duration) error
	clock        types.Clock
	logger       *slog.Logger
}

// EmailChannelConfig holds the dependencies needed to create an EmailChannel.
type EmailChannelConfig struct {
	Provider     external.EmailProvider
	ProviderName string
	Templates    TemplateService
	Metrics      core.EmailMetrics
	// Retry defaults to core.EmailRetryPolicy.
	Retry  *core.RetryPolicy
	Logger *slog.Logger
}

// NewEmailChannel creates a new EmailChannel with the given dependencies.
func NewEmailChannel(cfg EmailChannelConfig) *EmailChannel {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = core.NoopEmailMetrics{}
	}
	retry := core.EmailRetryPolicy
	if cfg.Retry != nil {
		retry = *cfg.Retry
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailChannel{
		provider:     cfg.Provider,
		providerName: cfg.ProviderName,
		templates:    cfg.Templates,
		metrics:      metrics,
		retry:        retry,
		sleep:        sleepContext,
		clock:        types.RealClock{},
		logger:       logger,
	}
}

// DecodeJob parses an SQS message body into an EmailJob.
func DecodeJob(body string) (types.EmailJob, error) {
	var job types.EmailJob
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return job, fmt.Errorf("email channel: failed to unmarshal job: %w", err)
	}
	return job, nil
}

// Deliver executes the email transmission:
//
//  1. Record queue lag and validate the recipient.
//  2. Decode props (inline or zstd) and render the template.
//  3. Send via the provider, retrying transient errors per the retry policy.
//  4. Map blocked recipients to a bounced result.
//
// A non-nil DeliveryResult means the job is finished and must not be
// redelivered. A non-nil error means a transient failure: the caller should
// leave the message on the queue.
func (e *EmailChannel) Deliver(ctx context.Context, job types.EmailJob) (*DeliveryResult, error) {
	logger := e.logger.With(
		"message_id", job.MessageID,
		"template", string(job.Template),
		"dest", RedactEmail(job.To),
	)
	if job.RequestID != "" {
		logger = logger.With("request_id", job.RequestID)
	}

	if !job.EnqueuedAt.IsZero() {
		e.metrics.RecordQueueLag(ctx, e.clock.Now().Sub(job.EnqueuedAt))
	}

	to := NormalizeAddress(job.To)
	if to == "" || !strings.Contains(to, "@") {
		logger.WarnContext(ctx, "dropping email job with invalid recipient")
		return e.skip(ctx, job, "invalid_recipient"), nil
	}

	props, err := core.UnpackProps(job)
	if err != nil {
		logger.ErrorContext(ctx, "failed to decode email props", "error", err)
		return e.skip(ctx, job, "invalid_payload"), nil
	}

	rendered, sender, err := e.templates.Render(job.Template, job.Locale, props)
	if err != nil {
		if IsPermanent(err) {
			logger.ErrorContext(ctx, "template rendering failed permanently", "error", err)
			return e.skip(ctx, job, "render_failed"), nil
		}
		return nil, err
	}

	input := types.SendInput{
		To:        to,
		From:      sender,
		Subject:   rendered.Subject,
		BodyHTML:  rendered.BodyHTML,
		BodyText:  rendered.BodyText,
		Template:  job.Template,
		MessageID: job.MessageID,
		RequestID: job.RequestID,
	}

	msgID, err := e.sendWithRetry(ctx, logger, input)
	if err != nil {
		if IsBlocklistError(err) {
			logger.WarnContext(ctx, "recipient blocked by provider")
			e.metrics.RecordDelivery(ctx, e.providerName, job.Template, core.MetricSkipped)
			return &DeliveryResult{Status: DeliveryStatusBounced, FailureReason: "address_blocked"}, nil
		}
		e.metrics.RecordDelivery(ctx, e.providerName, job.Template, core.MetricFailed)
		return nil, err
	}

	e.metrics.RecordDelivery(ctx, e.providerName, job.Template, core.MetricSuccess)
	logger.InfoContext(ctx, "email delivered", "provider_message_id", msgID)
	return &DeliveryResult{Status: DeliveryStatusSent, ProviderMessageID: msgID}, nil
}

func (e *EmailChannel) sendWithRetry(ctx context.Context, logger *slog.Logger, input types.SendInput) (string, error) {
	attempts := e.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		start := e.clock.Now()
		msgID, err := e.provider.Send(ctx, input)
		e.metrics.RecordLatency(ctx, e.providerName, e.clock.Now().Sub(start))
		if err == nil {
			return msgID, nil
		}
		lastErr = err

		if !e.ShouldRetry(err) || attempt == attempts-1 {
			break
		}
		delay := core.CalculateNextRetry(e.retry, attempt)
		logger.WarnContext(ctx, "transient email provider error, retrying",
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)
		if err := e.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (e *EmailChannel) skip(ctx context.Context, job types.EmailJob, reason string) *DeliveryResult {
	e.metrics.RecordDelivery(ctx, e.providerName, job.Template, core.MetricSkipped)
	return &DeliveryResult{Status: DeliveryStatusSkipped, FailureReason: reason}
}

// ShouldRetry inspects an error to determine if it is transient and the
// send should be retried. Blocklist errors are terminal, as is a cancelled
// context. Other errors are considered transient by default.
func (e *EmailChannel) ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if IsPermanent(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var appErr *types.AppError
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case types.ErrCodeEmailBlocked:
			return false
		case types.ErrCodeUpstreamRateLimited, types.ErrCodeUpstreamUnavailable:
			return true
		}
	}

	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
