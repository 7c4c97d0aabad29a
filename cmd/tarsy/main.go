// Command tarsy runs the inbound-ingest-to-AI-reply-to-delivery
// pipeline: it accepts Instagram/ManyChat webhooks, schedules the
// generate/deliver jobs that turn them into replies, and exposes the
// operator-facing send and health endpoints.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/chatbridge-hq/chatbridge/pkg/ai"
	"github.com/chatbridge-hq/chatbridge/pkg/api"
	"github.com/chatbridge-hq/chatbridge/pkg/audit"
	"github.com/chatbridge-hq/chatbridge/pkg/breaker"
	"github.com/chatbridge-hq/chatbridge/pkg/cleanup"
	"github.com/chatbridge-hq/chatbridge/pkg/config"
	"github.com/chatbridge-hq/chatbridge/pkg/convlock"
	"github.com/chatbridge-hq/chatbridge/pkg/conversation"
	"github.com/chatbridge-hq/chatbridge/pkg/crypto"
	"github.com/chatbridge-hq/chatbridge/pkg/database"
	"github.com/chatbridge-hq/chatbridge/pkg/deadletter"
	"github.com/chatbridge-hq/chatbridge/pkg/delivery"
	"github.com/chatbridge-hq/chatbridge/pkg/idempotency"
	"github.com/chatbridge-hq/chatbridge/pkg/metrics"
	"github.com/chatbridge-hq/chatbridge/pkg/models"
	"github.com/chatbridge-hq/chatbridge/pkg/pipeline"
	"github.com/chatbridge-hq/chatbridge/pkg/queue"
	"github.com/chatbridge-hq/chatbridge/pkg/ratelimit"
	"github.com/chatbridge-hq/chatbridge/pkg/slack"
	"github.com/chatbridge-hq/chatbridge/pkg/tenant"
	"github.com/chatbridge-hq/chatbridge/pkg/version"
	"github.com/chatbridge-hq/chatbridge/pkg/webhook"
	"github.com/chatbridge-hq/chatbridge/pkg/window"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	log.Printf("Starting chatbridge %s", version.Full())
	log.Printf("Config directory: %s", *configDir)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("Failed to initialize configuration: %v", err)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}

	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer dbClient.Close()
	log.Println("Connected to PostgreSQL, migrations applied")

	rdb := newRedisClient(cfg.Redis)
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()
	log.Println("Connected to Redis")

	sealer, err := crypto.NewSealer(cfg.Security.EncryptionKeyHex)
	if err != nil {
		log.Fatalf("Failed to initialize credential sealer: %v", err)
	}

	resolver := tenant.New(dbClient.Pool)
	credRepo := tenant.NewRepository(dbClient.Pool)
	idemStore := idempotency.New(rdb, 72*time.Hour)
	windowTrk := window.New(rdb, cfg.Window.Duration(), cfg.Window.Grace())
	metricsReg := metrics.New()
	limiter := ratelimit.New(cfg.RateLimit, metricsReg)
	breakers := breaker.NewRegistry(cfg.Breaker, metricsReg)
	convStore := conversation.New()
	queueStore := queue.NewStore(dbClient.Pool, cfg.Queue)
	convLock := convlock.New(rdb)

	llmEndpoint := getEnv("LLM_ENDPOINT", "https://api.anthropic.com/v1/messages")
	llmClient := ai.NewHTTPClient(cfg.LLM.APIKey, cfg.LLM.Model, llmEndpoint)
	orchestrator := ai.New(llmClient, limiter, breakers, cfg.LLM)

	var notifier *slack.Service
	if cfg.Slack.Enabled {
		notifier = slack.NewService(slack.ServiceConfig{
			Token:      cfg.Slack.BotToken,
			Channel:    cfg.Slack.Channel,
			ConsoleURL: cfg.Slack.ConsoleURL,
		})
	}

	ingestHandler := pipeline.NewIngestHandler(resolver, convStore, windowTrk, queueStore)
	replyHandler := pipeline.NewReplyHandler(resolver, convStore, orchestrator, queueStore, convLock)
	followUpHandler := pipeline.NewFollowUpHandler(resolver, convStore, notifier)
	deliveryBridge := delivery.NewBridge(
		resolver, credRepo, convStore, windowTrk, sealer, idemStore, queueStore,
		breakers, limiter, cfg.Graph, cfg.ManyChat, convLock, metricsReg,
	)

	handlers := map[models.JobType]queue.Handler{
		models.JobTypeProcessWebhook:  ingestHandler,
		models.JobTypeGenerateReply:   replyHandler,
		models.JobTypeFollowUp:        followUpHandler,
		models.JobTypeDeliverOutbound: deliveryBridge,
	}

	podID := getEnv("POD_ID", getEnv("HOSTNAME", "tarsy-local"))
	workerPool := queue.NewWorkerPool(podID, queueStore, cfg.Queue, handlers, notifier, metricsReg)
	if err := workerPool.CleanupStartupOrphans(ctx); err != nil {
		log.Printf("Warning: startup orphan cleanup failed: %v", err)
	}
	if err := workerPool.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker pool: %v", err)
	}
	log.Printf("Worker pool started: pod=%s workers=%d", podID, cfg.Queue.WorkerCount)

	cleanupSvc := cleanup.NewService(dbClient.Pool, cfg.Retention)
	cleanupSvc.Start(ctx)

	recorder := audit.NewRecorder()
	deadLetterSvc := deadletter.NewService(resolver, queueStore, idemStore, notifier, recorder)
	deadLetterHandler := api.NewDeadLetterHandler(cfg.Security.AdminAPIKey, deadLetterSvc)

	webhookHandler := webhook.NewHandler(resolver, idemStore, queueStore,
		cfg.Graph.AppSecret, cfg.Graph.VerifyToken, cfg.ManyChat.WebhookSecret)
	sendHandler := api.NewSendHandler(cfg.Security, resolver, convStore, windowTrk, queueStore)

	server := api.NewServer(cfg, dbClient, rdb, workerPool, breakers, webhookHandler, sendHandler, deadLetterHandler, metricsReg)

	httpSrv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("HTTP server listening on :%s (mode=%s)", cfg.Server.Port, cfg.Server.Mode)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutdown signal received, draining...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.GracefulShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		workerPool.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Println("Graceful shutdown timeout reached; unfinished jobs are left for orphan recovery")
	}
	cleanupSvc.Stop()

	log.Println("Shutdown complete")
}

// newRedisClient builds the shared go-redis/v9 client used by the
// idempotency store, rate-limit telemetry, and the reply-window
// cache, applying the pool/timeout knobs from pipeline.yaml on top
// of the URL's connection target.
func newRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Fatalf("Invalid REDIS_URL: %v", err)
	}
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.MaxRetries = cfg.MaxRetries
	opts.PoolSize = cfg.PoolSize
	return redis.NewClient(opts)
}
