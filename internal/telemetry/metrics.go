// Package telemetry carries the job's observability plumbing: CloudWatch
// metric emission and exception reporting.
package telemetry

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

// JobMetrics records the outcome of each housekeeping step.
type JobMetrics interface {
	RecordJob(ctx context.Context, job string, duration time.Duration, items int, err error)
}

// NoopJobMetrics discards every measurement. Used when no CloudWatch client
// is configured (local runs, tests).
type NoopJobMetrics struct{}

func (NoopJobMetrics) RecordJob(context.Context, string, time.Duration, int, error) {}

var _ JobMetrics = (*CloudWatchJobMetrics)(nil)

// CloudWatchJobMetrics emits per-step metrics:
//
//   - JobDuration (ms), Dims {Job}
//   - JobItemsProcessed (count), Dims {Job}
//   - JobFailure (count), Dims {Job}, only when the step failed
//
// PutMetricData failures are logged and never surface to the caller.
type CloudWatchJobMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchJobMetrics creates a CloudWatchJobMetrics publishing to
// namespace (types.MetricNamespace when empty).
func NewCloudWatchJobMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchJobMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchJobMetrics{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// RecordJob publishes the duration, item count and (on error) failure
// metrics for one step in a single PutMetricData call.
func (m *CloudWatchJobMetrics) RecordJob(ctx context.Context, job string, duration time.Duration, items int, err error) {
	dims := []cwtypes.Dimension{
		{Name: aws.String(types.DimJob), Value: aws.String(job)},
	}

	data := []cwtypes.MetricDatum{
		{
			MetricName: aws.String(types.MetricJobDuration),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
		{
			MetricName: aws.String(types.MetricJobItems),
			Value:      aws.Float64(float64(items)),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	}
	if err != nil {
		data = append(data, cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricJobFailure),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		})
	}

	input := &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	}

	if _, putErr := m.client.PutMetricData(ctx, input); putErr != nil {
		m.logger.ErrorContext(ctx, "failed to record job metrics",
			"error", putErr.Error(),
			"job", job,
		)
	}
}

// putCount emits a single Count datum with one dimension.
func putCount(ctx context.Context, client CloudWatchClient, namespace, metric, dimName, dimValue string) error {
	_, err := client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(metric),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(dimName), Value: aws.String(dimValue)},
				},
			},
		},
	})
	return err
}

// CloudWatchAPIMetrics records trigger API request latency, dimensioned by
// endpoint and status.
type CloudWatchAPIMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchAPIMetrics creates a CloudWatchAPIMetrics publishing to
// namespace (types.MetricNamespace when empty).
func NewCloudWatchAPIMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchAPIMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &CloudWatchAPIMetrics{client: client, namespace: namespace, logger: logger}
}

// RecordRequest publishes one APILatency datum. The request context is
// usually finished by the time this runs, so the call uses its own.
func (m *CloudWatchAPIMetrics) RecordRequest(method, endpoint, status string, duration time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(types.MetricAPILatency),
				Value:      aws.Float64(float64(duration.Milliseconds())),
				Unit:       cwtypes.StandardUnitMilliseconds,
				Dimensions: []cwtypes.Dimension{
					{Name: aws.String(types.DimEndpoint), Value: aws.String(method + " " + endpoint)},
					{Name: aws.String("Status"), Value: aws.String(status)},
				},
			},
		},
	})
	if err != nil {
		m.logger.Error("failed to record api metrics", "error", err.Error(), "endpoint", endpoint)
	}
}
