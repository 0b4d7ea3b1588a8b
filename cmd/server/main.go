// server runs the ingestion gateway and the read API. When KAFKA_BROKERS is
// empty it also runs the normalizer inline over an in-memory queue, so a
// single process serves the whole pipeline in development.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"telemetry-ingest-plane/internal/admission"
	"telemetry-ingest-plane/internal/config"
	"telemetry-ingest-plane/internal/credential"
	credrepo "telemetry-ingest-plane/internal/credential/repository"
	"telemetry-ingest-plane/internal/db"
	"telemetry-ingest-plane/internal/dedup"
	healthhandler "telemetry-ingest-plane/internal/health/handler"
	ingesthandler "telemetry-ingest-plane/internal/ingest/handler"
	"telemetry-ingest-plane/internal/normalizer"
	"telemetry-ingest-plane/internal/normalizer/enrich"
	"telemetry-ingest-plane/internal/normalizer/scrub"
	"telemetry-ingest-plane/internal/observe/otel"
	orgrepo "telemetry-ingest-plane/internal/organization/repository"
	"telemetry-ingest-plane/internal/query"
	queryhandler "telemetry-ingest-plane/internal/query/handler"
	"telemetry-ingest-plane/internal/queue"
	"telemetry-ingest-plane/internal/securityevent"
	secrepo "telemetry-ingest-plane/internal/securityevent/repository"
	"telemetry-ingest-plane/internal/server"
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
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "telemetry-ingest-plane", cfg.OTLPInsecure)
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

	orgs := orgrepo.NewPostgresRepository(conn)
	events := securityevent.NewLogger(secrepo.NewPostgresRepository(conn))

	keys, err := credrepo.NewCachedRepository(credrepo.NewPostgresRepository(conn), 5*time.Minute)
	if err != nil {
		log.Fatalf("key cache: %v", err)
	}
	verifier := credential.NewVerifier(keys, orgs, cfg.ReplayWindowDuration())

	controller := admission.NewController(
		admission.NewMemoryBucketStore(),
		orgs,
		admission.Limits{Capacity: cfg.RateCapacity, RefillPerSec: cfg.RateRefillPerSec},
		admission.Limits{Capacity: cfg.AddrRateCapacity, RefillPerSec: cfg.AddrRateRefillPerSec},
	)

	var dedupStore dedup.Store
	if redisClient != nil {
		dedupStore = dedup.NewRedisStore(redisClient, cfg.DedupWindowDuration())
	} else {
		dedupStore = dedup.NewMemoryStore(cfg.DedupWindowDuration())
	}

	var series timeseries.Repository = timeseries.Disabled{}
	if redisClient != nil {
		series = timeseries.NewRedisRepository(redisClient, 0)
	}
	analyticalStore := analytical.NewPostgresRepository(conn)

	var publisher queue.Publisher
	brokers := cfg.KafkaBrokersList()
	inlineWorkerCancel := func() {}
	if len(brokers) > 0 {
		publisher = queue.NewKafkaPublisher(brokers, cfg.KafkaTopicPrefix)
	} else {
		log.Println("server: KAFKA_BROKERS empty, running the normalizer inline over an in-memory queue")
		mem := queue.NewMemoryQueue()
		publisher = mem

		router := storage.NewRouter(analyticalStore, series,
			deadletter.NewPostgresRepository(conn), events, cfg.StoreWriteTimeoutDuration())
		worker := normalizer.NewWorker(mem, cfg.KafkaGroupID, router, dedupStore,
			scrub.New(cfg.ScrubHashSecret), enrich.New(cfg.GeoIPDBPath), events,
			cfg.NormalizerWorkers, cfg.NormalizerBatchSize)

		workerCtx, cancel := context.WithCancel(ctx)
		inlineWorkerCancel = cancel
		go func() {
			if err := worker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
				log.Printf("server: inline normalizer stopped: %v", err)
			}
		}()
	}
	defer publisher.Close()

	pingers := map[string]healthhandler.Pinger{
		"postgres": healthhandler.PingerFunc(conn.PingContext),
	}
	if redisClient != nil {
		pingers["redis"] = healthhandler.PingerFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	routes := server.Routes(server.Deps{
		Ingest:       ingesthandler.New(publisher, controller, dedupStore, events, cfg.EnqueueTimeoutDuration()),
		Query:        queryhandler.New(query.NewEngine(analyticalStore, series)),
		Health:       healthhandler.New(pingers),
		Verifier:     verifier,
		Events:       events,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	srv := server.NewHTTPServer(cfg.HTTPAddr, routes)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	inlineWorkerCancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("otel shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
