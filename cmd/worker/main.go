/**
 * @description
 * This is the main entry point for the verification-service worker: the
 * long-running process that consumes submission jobs off the queue, runs the
 * verification pipeline, registers contract fees from marketplace events, and
 * executes the scheduled reconciliation jobs.
 *
 * @dependencies
 * - log/slog: Structured logging for the scheduler.
 * - github.com/jackc/pgx/v5: PostgreSQL driver.
 * - github.com/robfig/cron/v3 (via internal/app): Job scheduling.
 * - internal/app, internal/config, internal/store: Internal packages for the service.
 * - pkg/blobstore, pkg/rabbitmq, pkg/visionclient: External clients.
 */

package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/padala/verification-service/internal/app"
	"github.com/padala/verification-service/internal/config"
	"github.com/padala/verification-service/internal/store"
	"github.com/padala/verification-service/pkg/blobstore"
	vsrabbit "github.com/padala/verification-service/pkg/rabbitmq"
	"github.com/padala/verification-service/pkg/visionclient"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	// Load application configuration from environment variables.
	cfg, err := config.LoadConfig(".")
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"config load failed\" err=%v", err)
	}
	if strings.TrimSpace(cfg.TrustedBlobHost) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"trusted blob host must be configured\" env=TRUSTED_BLOB_HOST")
	}
	if strings.TrimSpace(cfg.VisionAPIBaseURL) == "" {
		log.Fatalf("level=fatal component=bootstrap msg=\"vision api must be configured\" env=VISION_API_BASE_URL")
	}

	log.Println("level=info component=bootstrap msg=\"starting verification-service worker\"")

	// Establish a connection pool to the PostgreSQL database.
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database url parse failed\" err=%v", err)
	}

	poolConfig.MaxConns = 50
	poolConfig.MinConns = 10
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	// Disable prepared statement caching to prevent conflicts
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	dbpool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"database connection failed\" err=%v", err)
	}
	defer dbpool.Close()
	log.Println("level=info component=bootstrap msg=\"database connected\"")

	// The worker must be able to publish verification events; there is no
	// degraded mode for the pipeline's output.
	producer, err := vsrabbit.NewEventProducer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq producer init failed\" err=%v", err)
	}
	defer producer.Close()
	log.Println("level=info component=bootstrap msg=\"rabbitmq producer connected\"")

	// Initialize the data access layer and the application services.
	repository := store.NewPostgresRepository(dbpool)
	settings := app.NewSettingsService(repository, time.Duration(cfg.SettingsCacheTTLSeconds)*time.Second)
	blobClient := blobstore.NewClient(cfg.TrustedBlobHost)
	visionClient := visionclient.NewClient(cfg.VisionAPIBaseURL, cfg.VisionAPIKey)

	verificationService := app.NewService(repository, producer, settings, nil, blobClient, cfg)
	pipeline := app.NewPipeline(verificationService, visionClient, blobClient)
	jobConsumer := app.NewSubmissionJobConsumer(pipeline, time.Duration(cfg.PipelineTimeoutSeconds)*time.Second)
	feeService := app.NewFeeService(repository, cfg)

	// Consume submission jobs and marketplace contract events.
	rabbitConsumer, err := vsrabbit.NewConsumer(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"rabbitmq consumer init failed\" err=%v", err)
	}
	defer rabbitConsumer.Close()

	bindings := map[string]func([]byte) bool{
		"submission.created": jobConsumer.HandleMessage,
		"contract.created":   feeService.HandleContractCreated,
	}
	if err := rabbitConsumer.ConsumeWithBindings(cfg.VerificationExchange, cfg.SubmissionJobQueue, bindings); err != nil {
		log.Fatalf("level=fatal component=bootstrap msg=\"submission consumer start failed\" err=%v", err)
	}
	log.Printf("level=info component=bootstrap msg=\"consuming submission jobs\" queue=%s", cfg.SubmissionJobQueue)

	// Start the cron scheduler for the reconciliation and expiry sweeps.
	reconciler := app.NewReconciler(repository, cfg)
	scheduler := app.NewScheduler(reconciler, logger, cfg)
	scheduler.Start()
	logger.Info("scheduler started")

	// Health endpoint for the orchestrator's liveness checks.
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("Verification worker is healthy"))
	})
	server := &http.Server{Addr: ":" + cfg.ServerPort, Handler: r}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("level=fatal component=bootstrap msg=\"health server failed\" err=%v", err)
		}
	}()

	// Wait for termination signal to gracefully shut down.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown signal received, stopping scheduler")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown failed", "err", err)
	}
	stopCtx := scheduler.Stop()
	<-stopCtx.Done()
	logger.Info("worker stopped gracefully")
}
