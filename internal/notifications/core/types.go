// Package core provides the shared email notification plumbing used by both
// sides of the queue: the housekeeping job publishes EmailJobs, the email
// worker decodes and delivers them. It centralizes the payload codec, retry
// backoff, and delivery metrics so both sides stay consistent.
package core

import (
	"context"
	"time"

	"pollkeeper/internal/types"
)

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSuccess MetricResult = "success"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// EmailMetrics abstracts CloudWatch/telemetry operations for email
// enqueueing and delivery.
type EmailMetrics interface {
	RecordEnqueue(ctx context.Context, template types.EmailTemplate, err error)
	RecordDelivery(ctx context.Context, provider string, template types.EmailTemplate, result MetricResult)
	RecordLatency(ctx context.Context, provider string, duration time.Duration)
	RecordQueueLag(ctx context.Context, lag time.Duration)
}

// NoopEmailMetrics discards every measurement.
type NoopEmailMetrics struct{}

func (NoopEmailMetrics) RecordEnqueue(context.Context, types.EmailTemplate, error) {}
func (NoopEmailMetrics) RecordDelivery(context.Context, string, types.EmailTemplate, MetricResult) {
}
func (NoopEmailMetrics) RecordLatency(context.Context, string, time.Duration) {}
func (NoopEmailMetrics) RecordQueueLag(context.Context, time.Duration)        {}

// RetryPolicy defines the exponential backoff parameters for delivery retries.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// EmailRetryPolicy governs in-process retries of transient provider errors
// inside a single worker invocation. SQS redelivery covers anything beyond it.
var EmailRetryPolicy = RetryPolicy{
	MaxAttempts:   3,
	BaseDelay:     1 * time.Second,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

// CalculateNextRetry computes the delay before the next retry attempt using
// exponential backoff: delay = min(BaseDelay * BackoffFactor^attempt, MaxDelay).
func CalculateNextRetry(policy RetryPolicy, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(policy.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= policy.BackoffFactor
	}

	d := time.Duration(delay)
	if d > policy.MaxDelay {
		d = policy.MaxDelay
	}
	if d < 0 {
		// Guard against overflow
		d = policy.MaxDelay
	}

	return d
}
