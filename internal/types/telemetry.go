package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricJobDuration        = "JobDuration"
	MetricJobItems           = "JobItemsProcessed"
	MetricJobFailure         = "JobFailure"
	MetricExceptionReported  = "ExceptionReported"
	MetricEmailEnqueued      = "EmailEnqueued"
	MetricEmailEnqueueFailed = "EmailEnqueueFailed"
	MetricDeliveryAttempt    = "DeliveryAttempt"
	MetricDeliverySuccess    = "DeliverySuccess"
	MetricDeliveryFailed     = "DeliveryFailed"
	MetricAPILatency         = "APILatency"

	// Dimension Keys
	DimJob       = "Job"
	DimComponent = "Component"
	DimTemplate  = "Template"
	DimProvider  = "Provider"
	DimEndpoint  = "Endpoint"

	// Default Metric Namespace
	MetricNamespace = "PollKeeper"
)
