// Package config defines the process configuration for the housekeeping
// service, the scheduled job Lambda and the email worker. Configuration is
// loaded once at startup and is immutable thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// A missing required value or an invalid format fails startup.
package config

import (
	"time"

	"pollkeeper/internal/types"
)

// SecretString is the redacted secret type used for credentials.
type SecretString = types.SecretString

// Config is the configuration for processes that run the housekeeping job:
// the trigger API, the scheduled Lambda and the job-runner CLI.
type Config struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pollkeeper"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Queue         QueueConfig
	Housekeeping  HousekeepingConfig
	Lock          LockConfig
	Observability ObservabilityConfig

	// Injected via ldflags, not env.
	Build BuildInfo
}

// WorkerConfig is the configuration for the email worker, which needs no
// database and receives its queue messages from the Lambda event source.
type WorkerConfig struct {
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"pollkeeper-email-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	AWS           AWSConfig
	Email         EmailConfig
	Observability ObservabilityConfig

	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// Public web app URL used in email links (no trailing slash),
	// e.g. https://polls.example.com
	BaseURL        string        `envconfig:"BASE_URL" validate:"required,url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"5"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// AWSConfig holds regional configuration shared by all AWS clients.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL" validate:"omitempty,url"`
}

// QueueConfig holds the SQS queue the job enqueues emails on.
type QueueConfig struct {
	EmailQueueURL string `envconfig:"SQS_EMAIL_QUEUE" validate:"required,url"`
}

// HousekeepingConfig controls the job itself and its trigger.
type HousekeepingConfig struct {
	Enabled bool `envconfig:"FEATURE_ENABLE_HOUSEKEEPING" default:"true"`
	// Either a plaintext secret or a bcrypt hash. An unset secret is not a
	// startup error: the trigger answers 500 until it is configured.
	CronSecret SecretString `envconfig:"CRON_SECRET"`
	BatchSize  int          `envconfig:"HOUSEKEEPING_BATCH_SIZE" default:"100" validate:"min=1,max=1000"`
}

// LockConfig selects the backend for the hourly job lock.
type LockConfig struct {
	Backend  string        `envconfig:"LOCK_BACKEND" default:"postgres" validate:"oneof=postgres redis"`
	RedisURL SecretString  `envconfig:"REDIS_URL" validate:"required_if=Backend redis"`
	TTL      time.Duration `envconfig:"LOCK_TTL" default:"15m"`
}

// EmailConfig holds the provider and sender identity for the email worker.
type EmailConfig struct {
	Provider         string       `envconfig:"EMAIL_PROVIDER" default:"ses" validate:"oneof=ses sendgrid"`
	SendGridAPIKey   SecretString `envconfig:"SENDGRID_API_KEY" validate:"required_if=Provider sendgrid"`
	FromAddress      string       `envconfig:"EMAIL_FROM_ADDRESS" validate:"required,email"`
	FromName         string       `envconfig:"EMAIL_FROM_NAME" default:"Poll Keeper"`
	SiteName         string       `envconfig:"EMAIL_SITE_NAME" default:"Poll Keeper"`
	ConfigurationSet string       `envconfig:"SES_CONFIGURATION_SET"`
	// ReminderConfigurationSet, when set, receives deadline reminder traffic
	// instead of ConfigurationSet.
	ReminderConfigurationSet string `envconfig:"SES_REMINDER_CONFIGURATION_SET"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"PollKeeper"`
	EnableMetrics   bool   `envconfig:"ENABLE_METRICS" default:"true"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
