package telemetry

import (
	"context"
	"log/slog"
	"sort"

	"pollkeeper/internal/types"
)

// Report carries the structured context attached to a reported exception.
// Tags are low-cardinality labels (job, component); Extra holds identifiers
// useful for debugging (poll ids, zone names, timestamps).
type Report struct {
	Tags  map[string]string
	Extra map[string]any
}

// ExceptionReporter captures recoverable failures that should be visible to
// operators without aborting the current operation. Implementations never
// fail.
type ExceptionReporter interface {
	ReportException(ctx context.Context, err error, report Report)
}

// Reporter logs every exception at error level and, when a CloudWatch client
// is configured, emits an ExceptionReported count metric dimensioned by the
// "component" tag (falling back to the "job" tag).
type Reporter struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

var _ ExceptionReporter = (*Reporter)(nil)

// NewReporter creates a Reporter. client may be nil to disable metrics.
func NewReporter(client CloudWatchClient, namespace string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	return &Reporter{
		client:    client,
		namespace: namespace,
		logger:    logger,
	}
}

// ReportException implements ExceptionReporter.
func (r *Reporter) ReportException(ctx context.Context, err error, report Report) {
	if err == nil {
		return
	}

	args := []any{"error", err.Error()}
	if reqID := types.GetRequestID(ctx); reqID != "" {
		args = append(args, "request_id", reqID)
	}
	args = append(args, slog.Group("tags", attrsFromTags(report.Tags)...))
	args = append(args, slog.Group("extra", attrsFromExtra(report.Extra)...))
	r.logger.ErrorContext(ctx, "exception reported", args...)

	if r.client == nil {
		return
	}

	component := report.Tags["component"]
	if component == "" {
		component = report.Tags["job"]
	}
	if component == "" {
		component = "unknown"
	}
	if putErr := putCount(ctx, r.client, r.namespace, types.MetricExceptionReported, types.DimComponent, component); putErr != nil {
		r.logger.ErrorContext(ctx, "failed to record exception metric",
			"error", putErr.Error(),
			"component", component,
		)
	}
}

// NoopReporter discards reports.
type NoopReporter struct{}

func (NoopReporter) ReportException(context.Context, error, Report) {}

func attrsFromTags(tags map[string]string) []any {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.String(k, tags[k]))
	}
	return out
}

func attrsFromExtra(extra map[string]any) []any {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, extra[k]))
	}
	return out
}
