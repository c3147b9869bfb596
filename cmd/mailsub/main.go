// Command mailsub is the pipeline's entrypoint: it wires Storage, the Token
// Broker, the Mail Fetcher, the Sync/Process Runners and the Supervisor
// together behind a small subcommand dispatch, following
// dsmolchanov-nerve's cmd/neuralmaild/main.go shape.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stoik/mailsub/internal/adapters/providers"
	"github.com/stoik/mailsub/internal/adapters/storage"
	"github.com/stoik/mailsub/internal/classify"
	"github.com/stoik/mailsub/internal/config"
	"github.com/stoik/mailsub/internal/crypto"
	"github.com/stoik/mailsub/internal/httpserver"
	"github.com/stoik/mailsub/internal/llm"
	"github.com/stoik/mailsub/internal/mailfetcher"
	"github.com/stoik/mailsub/internal/processrunner"
	"github.com/stoik/mailsub/internal/supervisor"
	"github.com/stoik/mailsub/internal/syncrunner"
	"github.com/stoik/mailsub/internal/tokenbroker"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		return
	}
	cmd := os.Args[1]
	cfg, err := config.Load(os.Getenv("MAILSUB_CONFIG"))
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch cmd {
	case "serve":
		runServe(ctx, cfg)
	case "migrate":
		runMigrate(ctx, cfg)
	default:
		usage()
	}
}

func runMigrate(ctx context.Context, cfg config.Config) {
	store, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("storage error: %v", err)
	}
	defer store.Close()

	if err := storage.Migrate(ctx, store.DB(), cfg.Database.MigrationsDir, cfg.Database.MigrationsTable); err != nil {
		log.Fatalf("migration error: %v", err)
	}
	slog.Info("migrations applied")
}

func runServe(ctx context.Context, cfg config.Config) {
	store, err := storage.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatalf("storage error: %v", err)
	}
	defer store.Close()

	secretKey := []byte(os.Getenv("MAILSUB_SECRETBOX_KEY"))
	secretbox, err := crypto.NewSecretbox(secretKey)
	if err != nil {
		log.Fatalf("secretbox error: %v", err)
	}

	broker := tokenbroker.New(store, secretbox, time.Duration(cfg.TokenBroker.RefreshBufferMS)*time.Millisecond)
	router := providers.NewRouter(store)
	fetcher := mailfetcher.New(router, broker)

	lmClassifier := llm.New(cfg.LM.Endpoint, cfg.LM.APIKey, cfg.LM.Model,
		cfg.LM.MaxTokens, cfg.LM.Temperature, time.Duration(cfg.LM.TimeoutMS)*time.Millisecond,
		cfg.RetryDelays(), cfg.LM.ContentTruncateChars)
	if !cfg.LMEnabled() {
		slog.Info("lm classifier disabled: no api key configured, falling back to keywords only")
	}

	syncRunner := syncrunner.New(store, fetcher, cfg.Sync.MonthsBack, cfg.Sync.StaleProcessingThresholdMin,
		time.Duration(cfg.Classifier.ProcessingDelayMS)*time.Millisecond)
	processRunner := processrunner.New(store, lmClassifier, classify.New(cfg.Classifier.KeywordConfidenceThreshold),
		cfg.Classifier.ProcessingBatchSize, time.Duration(cfg.Classifier.ProcessingDelayMS)*time.Millisecond)

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("redis url error: %v", err)
		}
		redisClient = redis.NewClient(opt)
	}

	sup := supervisor.New(store, syncRunner, processRunner, redisClient)
	sup.ResumeInterrupted(ctx)

	srv := &httpserver.Server{
		Addr:       cfg.HTTP.Addr,
		DB:         store,
		Supervisor: sup,
	}

	slog.Info(fmt.Sprintf("mailsub serving on %s", cfg.HTTP.Addr))
	if err := srv.Serve(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func usage() {
	fmt.Println("Usage: mailsub <serve|migrate>")
}

// parseLogLevel maps a configured log.level string to an slog.Level,
// defaulting to info for an unrecognized or empty value.
func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
