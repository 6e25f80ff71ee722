package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"

	"pollkeeper/internal/types"
)

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code uses the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// EmailPublisher wraps an SQS client to enqueue one templated email per call.
// It satisfies scheduler.EmailQueue.
type EmailPublisher struct {
	client   SQSSender
	queueURL string
	metrics  EmailMetrics
	logger   *slog.Logger
	newID    func() string
	clock    types.Clock
}

// NewEmailPublisher creates a new EmailPublisher targeting the specified SQS
// email queue. metrics and logger may be nil.
func NewEmailPublisher(client SQSSender, queueURL string, metrics EmailMetrics, logger *slog.Logger) *EmailPublisher {
	if metrics == nil {
		metrics = NoopEmailMetrics{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailPublisher{
		client:   client,
		queueURL: queueURL,
		metrics:  metrics,
		logger:   logger,
		newID:    func() string { return uuid.New().String() },
		clock:    types.RealClock{},
	}
}

// EnqueueTemplate serializes req as an EmailJob and sends it to the queue.
// The template name is also set as a message attribute so that queue-side
// filtering and dashboards need not parse the body.
//
// Failures are returned as AppError(ErrCodeUpstreamQueue); callers treat them
// as per-recipient failures.
func (p *EmailPublisher) EnqueueTemplate(ctx context.Context, template types.EmailTemplate, req types.EmailRequest) error {
	props, err := json.Marshal(req.Props)
	if err != nil {
		return fmt.Errorf("email publisher: failed to marshal props: %w", err)
	}

	job := types.EmailJob{
		MessageID:  p.newID(),
		Template:   template,
		To:         req.To,
		Locale:     req.Locale,
		EnqueuedAt: p.clock.Now().UTC(),
		RequestID:  types.GetRequestID(ctx),
	}
	PackProps(&job, props)

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("email publisher: failed to marshal job: %w", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"template": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(template)),
			},
		},
	})
	p.metrics.RecordEnqueue(ctx, template, err)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("failed to enqueue %s email", template), err)
	}

	p.logger.InfoContext(ctx, "email job enqueued",
		"message_id", job.MessageID,
		"template", string(template),
		"encoding", job.Encoding,
		"body_bytes", len(body),
	)
	return nil
}
