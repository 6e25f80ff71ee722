package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"pollkeeper/internal/types"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchEmailMetrics implements EmailMetrics by emitting metrics to AWS
// CloudWatch.
//
// Metrics emitted:
//   - EmailEnqueued / EmailEnqueueFailed: Dims {Template}
//   - DeliverySuccess / DeliveryFailed / DeliveryAttempt: Dims {Provider, Template}
//   - DeliveryAttemptLatency: Dims {Provider}
//   - EmailQueueLag: no dims
var _ EmailMetrics = (*CloudWatchEmailMetrics)(nil)

type CloudWatchEmailMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchEmailMetrics creates a new CloudWatchEmailMetrics that
// publishes to namespace (types.MetricNamespace when empty).
func NewCloudWatchEmailMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchEmailMetrics {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchEmailMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordEnqueue counts one publish attempt under EmailEnqueued or
// EmailEnqueueFailed.
func (m *CloudWatchEmailMetrics) RecordEnqueue(ctx context.Context, template types.EmailTemplate, err error) {
	name := types.MetricEmailEnqueued
	if err != nil {
		name = types.MetricEmailEnqueueFailed
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimTemplate), Value: aws.String(string(template))},
		},
	}, "template", string(template))
}

// RecordDelivery emits a delivery outcome metric with Provider and Template
// dimensions. Skipped deliveries count as attempts only.
func (m *CloudWatchEmailMetrics) RecordDelivery(ctx context.Context, provider string, template types.EmailTemplate, result MetricResult) {
	name := types.MetricDeliveryAttempt
	switch result {
	case MetricSuccess:
		name = types.MetricDeliverySuccess
	case MetricFailed:
		name = types.MetricDeliveryFailed
	}
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
			{Name: aws.String(types.DimTemplate), Value: aws.String(string(template))},
		},
	}, "provider", provider, "result", string(result))
}

// RecordLatency emits the provider send latency in milliseconds.
func (m *CloudWatchEmailMetrics) RecordLatency(ctx context.Context, provider string, duration time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(types.MetricDeliveryAttempt + "Latency"),
		Value:      aws.Float64(float64(duration.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(types.DimProvider), Value: aws.String(provider)},
		},
	}, "provider", provider, "duration_ms", duration.Milliseconds())
}

// RecordQueueLag emits the time between enqueue by the housekeeping job and
// processing start in the worker.
func (m *CloudWatchEmailMetrics) RecordQueueLag(ctx context.Context, lag time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String("EmailQueueLag"),
		Value:      aws.Float64(float64(lag.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	}, "lag_ms", lag.Milliseconds())
}

func (m *CloudWatchEmailMetrics) put(ctx context.Context, datum cwtypes.MetricDatum, logAttrs ...any) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.ErrorContext(ctx, "failed to record email metric",
			append([]any{"metric", aws.ToString(datum.MetricName), "error", err.Error()}, logAttrs...)...,
		)
	}
}
