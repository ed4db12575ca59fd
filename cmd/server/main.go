package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"organlink/internal/events"
	"organlink/internal/identity"
	"organlink/internal/lifecycle"
	"organlink/internal/match"
	"organlink/internal/platform/config"
	"organlink/internal/platform/httpserver"
	"organlink/internal/platform/keylock"
	"organlink/internal/platform/logger"
	"organlink/internal/platform/metrics"
	platformpg "organlink/internal/platform/postgres"
	platformredis "organlink/internal/platform/redis"
	"organlink/internal/profile"
	"organlink/internal/ranking"
	"organlink/internal/scoring"
	httptransport "organlink/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Every external
// system is optional: without Postgres the stores are in-memory, without
// Redis the donor lock is in-process, without Kafka events land in memory.
// That keeps a single-binary deployment viable for development.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := platformpg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}

	var (
		donorStore   profile.DonorStore
		patientStore profile.PatientStore
		matchStore   match.Store
		txRunner     match.TxRunner
	)
	if db != nil {
		for _, schema := range []string{profile.Schema, match.Schema} {
			if _, err := db.ExecContext(ctx, schema); err != nil {
				log.Error("schema migration failed", "error", err)
				os.Exit(1)
			}
		}
		donorStore = profile.NewRetryingDonorStore(profile.NewPostgresDonorStore(db))
		patientStore = profile.NewPostgresPatientStore(db)
		matchStore = match.NewPostgresStore(db)
		txRunner = platformpg.NewTxRunner(db)
	} else {
		log.Warn("POSTGRES_DSN not set, using in-memory stores")
		donorStore = profile.NewInMemoryDonorStore()
		patientStore = profile.NewInMemoryPatientStore()
		matchStore = match.NewInMemoryStore()
		txRunner = match.NewInMemoryTxRunner()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	var locker keylock.Locker = keylock.NewInProcess()
	if redisClient != nil {
		locker = keylock.NewRedisLocker(redisClient.Client)
	} else {
		log.Warn("REDIS_URL not set, donor locks are in-process only")
	}

	var sink events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink, err := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka client failed", "error", err)
			os.Exit(1)
		}
		defer kafkaSink.Close()
		sink = kafkaSink
	} else {
		log.Warn("KAFKA_BROKERS not set, events stay in memory")
		sink = events.NewMemorySink()
	}
	publisher := events.NewChannelPublisher(256)
	worker := events.NewWorker(sink, publisher.Inbox())
	go func() {
		if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("event worker stopped", "error", err)
		}
	}()

	scoringCfg := scoring.DefaultConfig()
	if w := config.EnvFloat("SCORING_BLOOD_WEIGHT"); w > 0 {
		scoringCfg.BloodWeight = w
	}
	if w := config.EnvFloat("SCORING_DIST_WEIGHT"); w > 0 {
		scoringCfg.DistWeight = w
	}
	if w := config.EnvFloat("SCORING_TESTS_WEIGHT"); w > 0 {
		scoringCfg.TestsWeight = w
	}
	if w := config.EnvFloat("SCORING_RECENCY_WEIGHT"); w > 0 {
		scoringCfg.RecencyWeight = w
	}
	scorer := scoring.New(scoringCfg)

	rankingSvc, err := ranking.New(donorStore, patientStore, scorer,
		ranking.WithAvailability(match.NewAvailabilityAdapter(matchStore)),
		ranking.WithLogger(log),
		ranking.WithMetrics(m),
		ranking.WithPublisher(publisher),
	)
	if err != nil {
		log.Error("ranking service init failed", "error", err)
		os.Exit(1)
	}

	lifecycleSvc, err := lifecycle.New(donorStore, patientStore, rankingSvc,
		lifecycle.WithLogger(log),
		lifecycle.WithMetrics(m),
		lifecycle.WithPublisher(publisher),
	)
	if err != nil {
		log.Error("lifecycle service init failed", "error", err)
		os.Exit(1)
	}

	arbiter, err := match.NewArbiter(matchStore, donorStore, patientStore, txRunner, locker,
		match.WithReranker(rankingSvc),
		match.WithLogger(log),
		match.WithMetrics(m),
		match.WithPublisher(publisher),
	)
	if err != nil {
		log.Error("match arbiter init failed", "error", err)
		os.Exit(1)
	}

	jwtService := identity.NewJWTService(cfg.JWTSigningKey, "organlink")

	var health []httptransport.HealthCheck
	if db != nil {
		health = append(health, httptransport.HealthCheck{
			Name:  "postgres",
			Check: db.PingContext,
		})
	}
	if redisClient != nil {
		health = append(health, httptransport.HealthCheck{
			Name:  "redis",
			Check: redisClient.Health,
		})
	}

	handler := httptransport.NewHandler(lifecycleSvc, rankingSvc, arbiter, jwtService, log, m,
		httptransport.WithHealthChecks(health...),
		httptransport.WithTimeout(cfg.RequestTimeout),
	)

	srv := httpserver.New(cfg.Addr, handler.Router())

	go func() {
		log.Info("starting organlink", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if redisClient != nil {
		_ = redisClient.Close()
	}
	if db != nil {
		_ = db.Close()
	}
}
