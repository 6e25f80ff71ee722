// Package main is the entry point for the housekeeping trigger API.
//
// It loads configuration (resolving _SSM_PARAM indirections outside local),
// opens the PostgreSQL pool, wires the housekeeping steps to the SQS email
// publisher and mounts the gated trigger routes on the core chassis.
//
// Graceful shutdown is handled via OS signal interception (SIGINT, SIGTERM).
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/jackc/pgx/v5/pgxpool"

	"pollkeeper/internal/api/handlers"
	"pollkeeper/internal/config"
	"pollkeeper/internal/core"
	"pollkeeper/internal/db"
	notifcore "pollkeeper/internal/notifications/core"
	"pollkeeper/internal/scheduler"
	"pollkeeper/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION"), os.Getenv("AWS_ENDPOINT_URL")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := telemetry.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("pollkeeper API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database.URL.Unmask(), poolOptions(cfg.Database))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}

	awsCfg, err := config.LoadAWSConfig(ctx, cfg.AWS)
	if err != nil {
		pool.Close()
		return err
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	srv, err := buildServer(cfg, logger, pool, sqsClient, metricsClient(cfg, awsCfg))
	if err != nil {
		pool.Close()
		return fmt.Errorf("creating server: %w", err)
	}

	return runHTTPServer(srv, cfg, logger)
}

// queueProber is the SQS surface the health probe uses.
type queueProber interface {
	notifcore.SQSSender
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

// buildServer wires repositories, the email publisher and telemetry into a
// core.Server with the housekeeping routes mounted. cw may be nil when
// metrics are disabled.
func buildServer(cfg *config.Config, logger *slog.Logger, pool *pgxpool.Pool, queue queueProber, cw telemetry.CloudWatchClient) (*core.Server, error) {
	ns := cfg.Observability.MetricNamespace

	var (
		jobMetrics   telemetry.JobMetrics   = telemetry.NoopJobMetrics{}
		emailMetrics notifcore.EmailMetrics = notifcore.NoopEmailMetrics{}
		apiMetrics   core.MetricsCollector
	)
	if cw != nil {
		jobMetrics = telemetry.NewCloudWatchJobMetrics(cw, ns, logger)
		emailMetrics = notifcore.NewCloudWatchEmailMetrics(cw, ns, logger)
		apiMetrics = telemetry.NewCloudWatchAPIMetrics(cw, ns, logger)
	}

	runner := scheduler.NewHousekeeping(scheduler.Repositories{
		Polls:        db.NewPollRepository(pool),
		Participants: db.NewParticipantRepository(pool),
		Reminders:    db.NewReminderRepository(pool),
	}, scheduler.Options{
		BaseURL:   cfg.Server.BaseURL,
		BatchSize: cfg.Housekeeping.BatchSize,
		Queue:     notifcore.NewEmailPublisher(queue, cfg.Queue.EmailQueueURL, emailMetrics, logger),
		Reporter:  telemetry.NewReporter(cw, ns, logger),
		Metrics:   jobMetrics,
		Logger:    logger,
	})

	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv.Metrics = apiMetrics
	srv.HealthProbes = []core.HealthProbe{
		core.NewProbe("database", pool.Ping),
		core.NewProbe("email_queue", func(ctx context.Context) error {
			_, err := queue.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
				QueueUrl:       aws.String(cfg.Queue.EmailQueueURL),
				AttributeNames: []sqstypes.QueueAttributeName{sqstypes.QueueAttributeNameApproximateNumberOfMessages},
			})
			return err
		}),
	}

	housekeeping := handlers.NewHousekeepingHandler(runner, logger)
	srv.HousekeepingRoutes = append(srv.HousekeepingRoutes, housekeeping.RegisterRoutes)
	srv.OnShutdown(pool.Close)

	srv.MountRoutes()
	return srv, nil
}

func poolOptions(c config.DatabaseConfig) db.PoolOptions {
	return db.PoolOptions{
		MaxConns:          int32(c.MaxConns),
		MinConns:          int32(c.MinConns),
		MaxConnLifetime:   c.MaxConnLifetime,
		HealthCheckPeriod: c.HealthCheckPeriod,
		AcquireTimeout:    c.AcquireTimeout,
	}
}

// metricsClient returns nil when ENABLE_METRICS is false so every sink
// falls back to its no-op form.
func metricsClient(cfg *config.Config, awsCfg aws.Config) telemetry.CloudWatchClient {
	if !cfg.Observability.EnableMetrics {
		return nil
	}
	return cloudwatch.NewFromConfig(awsCfg)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// WriteTimeout leaves headroom over the per-request job deadline.
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Server.RequestTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server resource shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}
