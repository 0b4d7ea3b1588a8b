// worker runs the normalizer: it consumes raw envelopes from Kafka, scrubs
// and enriches them, and routes them to the stores. Requires KAFKA_BROKERS;
// the in-memory queue only exists inside the server process.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"telemetry-ingest-plane/internal/config"
	"telemetry-ingest-plane/internal/db"
	"telemetry-ingest-plane/internal/dedup"
	"telemetry-ingest-plane/internal/normalizer"
	"telemetry-ingest-plane/internal/normalizer/enrich"
	"telemetry-ingest-plane/internal/normalizer/scrub"
	"telemetry-ingest-plane/internal/observe/otel"
	"telemetry-ingest-plane/internal/queue"
	"telemetry-ingest-plane/internal/securityevent"
	secrepo "telemetry-ingest-plane/internal/securityevent/repository"
	"telemetry-ingest-plane/internal/storage"
	"telemetry-ingest-plane/internal/storage/analytical"
	"telemetry-ingest-plane/internal/storage/deadletter"
	"telemetry-ingest-plane/internal/storage/timeseries"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("worker: DATABASE_URL is required")
	}
	brokers := cfg.KafkaBrokersList()
	if len(brokers) == 0 {
		log.Fatal("worker: KAFKA_BROKERS is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "telemetry-ingest-worker", cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer redisClient.Close()
	}

	var dedupStore dedup.Store
	var series timeseries.Repository = timeseries.Disabled{}
	if redisClient != nil {
		dedupStore = dedup.NewRedisStore(redisClient, cfg.DedupWindowDuration())
		series = timeseries.NewRedisRepository(redisClient, 0)
	} else {
		log.Println("worker: REDIS_ADDR empty, dedup window is process-local and the metric store is disabled")
		dedupStore = dedup.NewMemoryStore(cfg.DedupWindowDuration())
	}

	events := securityevent.NewLogger(secrepo.NewPostgresRepository(conn))
	router := storage.NewRouter(
		analytical.NewPostgresRepository(conn),
		series,
		deadletter.NewPostgresRepository(conn),
		events,
		cfg.StoreWriteTimeoutDuration(),
	)

	consumers := &queue.KafkaConsumerFactory{Brokers: brokers, TopicPrefix: cfg.KafkaTopicPrefix}
	worker := normalizer.NewWorker(consumers, cfg.KafkaGroupID, router, dedupStore,
		scrub.New(cfg.ScrubHashSecret), enrich.New(cfg.GeoIPDBPath), events,
		cfg.NormalizerWorkers, cfg.NormalizerBatchSize)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	log.Printf("worker: consuming %s.* (group %s) with %d workers",
		cfg.KafkaTopicPrefix, cfg.KafkaGroupID, cfg.NormalizerWorkers)

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		log.Fatalf("worker: %v", err)
	}
	if err := providers.Shutdown(context.Background()); err != nil {
		log.Printf("worker: otel shutdown: %v", err)
	}
	log.Println("worker: stopped")
}
