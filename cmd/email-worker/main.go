// Package main is the entrypoint for the Email Worker Lambda function.
//
// The worker consumes EmailJob messages published by the housekeeping steps,
// renders the embedded templates and sends through the configured provider
// (SES v2 or SendGrid). Each invocation receives a batch of SQS messages and
// reports transient failures back as BatchItemFailures so only those
// messages are redelivered.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"pollkeeper/internal/config"
	"pollkeeper/internal/external"
	notifcore "pollkeeper/internal/notifications/core"
	"pollkeeper/internal/notifications/email"
	"pollkeeper/internal/telemetry"
	"pollkeeper/internal/types"
)

// sendGridTimeout bounds one HTTP round trip to SendGrid.
const sendGridTimeout = 15 * time.Second

// Deliverer sends one decoded job. A non-nil error is transient.
type Deliverer interface {
	Deliver(ctx context.Context, job types.EmailJob) (*email.DeliveryResult, error)
}

// Handler holds the dependencies for the email worker Lambda handler.
type Handler struct {
	Channel Deliverer
	Logger  *slog.Logger
}

// Handle processes an SQS batch. Messages that cannot be decoded are
// acknowledged: redelivery would fail identically.
func (h *Handler) Handle(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	response := events.SQSEventResponse{}
	for _, record := range sqsEvent.Records {
		job, err := email.DecodeJob(record.Body)
		if err != nil {
			logger.ErrorContext(ctx, "dropping undecodable email job",
				"sqs_message_id", record.MessageId,
				"error", err,
			)
			continue
		}

		result, err := h.Channel.Deliver(ctx, job)
		if err != nil {
			logger.WarnContext(ctx, "email delivery failed, returning message to queue",
				"sqs_message_id", record.MessageId,
				"message_id", job.MessageID,
				"template", string(job.Template),
				"error", err,
			)
			response.BatchItemFailures = append(response.BatchItemFailures,
				events.SQSBatchItemFailure{ItemIdentifier: record.MessageId},
			)
			continue
		}

		if result != nil && result.Status != email.DeliveryStatusSent {
			logger.WarnContext(ctx, "email job finished without delivery",
				"message_id", job.MessageID,
				"template", string(job.Template),
				"status", string(result.Status),
				"reason", result.FailureReason,
			)
		}
	}

	return response, nil
}

func main() {
	logger := telemetry.NewLogger(os.Stdout, os.Getenv("LOG_LEVEL"))
	logger.Info("email worker initializing (cold start)")

	handler, err := newHandler(context.Background())
	if err != nil {
		logger.Error("email worker initialization failed", "error", err)
		os.Exit(1)
	}

	lambda.Start(handler.Handle)
}

func newHandler(ctx context.Context) (*Handler, error) {
	cfg, err := config.LoadWorkerConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		return nil, err
	}

	var metrics notifcore.EmailMetrics = notifcore.NoopEmailMetrics{}
	if cfg.Observability.EnableMetrics {
		metrics = notifcore.NewCloudWatchEmailMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	renderer, err := email.NewRenderer(email.RendererConfig{
		DefaultFromAddr: cfg.Email.FromAddress,
		DefaultFromName: cfg.Email.FromName,
		SiteName:        cfg.Email.SiteName,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("parsing email templates: %w", err)
	}

	provider, err := newProvider(cfg.Email, awsCfg, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("email worker initialized",
		"provider", cfg.Email.Provider,
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	return &Handler{
		Channel: email.NewEmailChannel(email.EmailChannelConfig{
			Provider:     provider,
			ProviderName: cfg.Email.Provider,
			Templates:    renderer,
			Metrics:      metrics,
			Logger:       logger,
		}),
		Logger: logger,
	}, nil
}

func sesConfig(cfg config.EmailConfig, logger *slog.Logger) external.SESClientConfig {
	out := external.SESClientConfig{ConfigSet: cfg.ConfigurationSet, Logger: logger}
	if cfg.ReminderConfigurationSet != "" {
		out.TemplateConfigSets = map[types.EmailTemplate]string{
			types.TemplateDeadlineReminder: cfg.ReminderConfigurationSet,
		}
	}
	return out
}

// newProvider selects the EmailProvider named by EMAIL_PROVIDER.
func newProvider(cfg config.EmailConfig, awsCfg aws.Config, logger *slog.Logger) (external.EmailProvider, error) {
	switch cfg.Provider {
	case external.ProviderSES, "":
		return external.NewSESClient(awsCfg, sesConfig(cfg, logger)), nil
	case external.ProviderSendGrid:
		return external.NewSendGridClient(&http.Client{Timeout: sendGridTimeout}, external.SendGridClientConfig{
			APIKey: cfg.SendGridAPIKey.Unmask(),
			Logger: logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
