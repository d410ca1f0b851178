package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/omnirouter/internal/api"
	"github.com/eldtechnologies/omnirouter/internal/api/middleware"
	"github.com/eldtechnologies/omnirouter/internal/bus"
	"github.com/eldtechnologies/omnirouter/internal/config"
	"github.com/eldtechnologies/omnirouter/internal/consumer"
	"github.com/eldtechnologies/omnirouter/internal/handlers"
	"github.com/eldtechnologies/omnirouter/internal/ids"
	"github.com/eldtechnologies/omnirouter/internal/knowledge"
	"github.com/eldtechnologies/omnirouter/internal/publisher"
	"github.com/eldtechnologies/omnirouter/internal/store"
	"github.com/eldtechnologies/omnirouter/internal/triage"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis store (streams, dedup and status keys)
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	kb, closeKB, err := openKnowledge(ctx, cfg, redisStore)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.KnowledgeBackend).Msg("knowledge store failed")
	}
	defer closeKB()

	if cfg.KnowledgeFile != "" {
		articles, err := knowledge.LoadFile(cfg.KnowledgeFile)
		if err != nil {
			logger.Fatal().Err(err).Msg("loading knowledge file failed")
		}
		if err := knowledge.Seed(ctx, kb, articles); err != nil {
			logger.Fatal().Err(err).Msg("seeding knowledge base failed")
		}
		logger.Info().Int("articles", len(articles)).Str("file", cfg.KnowledgeFile).Msg("knowledge base seeded")
	}

	var sales triage.SalesReplier
	if cfg.SalesReply != "" {
		sales = triage.StaticSales(cfg.SalesReply)
	}
	router := triage.New(kb, sales, triage.Config{
		SupportPhone: cfg.SupportPhone,
		SupportEmail: cfg.SupportEmail,
	}, logger.With().Str("component", "triage").Logger())

	pub := publisher.New(redisStore, redisStore, publisher.Config{
		Stream:       cfg.OutboundStream,
		DedupEnabled: cfg.DedupEnabled,
		DedupTTL:     cfg.DedupTTL,
		FailOpen:     cfg.DedupFailOpen,
		Retry: bus.RetryPolicy{
			MaxAttempts: cfg.PublishMaxAttempts,
			Backoff:     cfg.PublishBackoff,
		},
	}, logger.With().Str("component", "publisher").Logger())

	name := cfg.ConsumerName
	if name == "" {
		name = ids.ConsumerName()
	}
	worker := consumer.New(redisStore, redisStore, router, pub, consumer.Config{
		Stream:       cfg.InboundStream,
		Group:        cfg.ConsumerGroup,
		Name:         name,
		Poll:         cfg.PollInterval,
		ReclaimIdle:  cfg.ReclaimIdle,
		ReclaimBatch: cfg.ReclaimBatch,
		StatusTTL:    cfg.StatusTTL,
		RestartDelay: cfg.RestartDelay,
	}, logger.With().Str("component", "consumer").Logger())

	if err := worker.Init(ctx); err != nil {
		logger.Fatal().Err(err).Msg("consumer init failed")
	}

	h := handlers.NewHandler(redisStore, kb, router, cfg.InboundStream, logger)
	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: api.NewRouter(logger, h, redisStore, middleware.RateLimiterConfig{
			Whitelist:       cfg.RateLimitWhitelist,
			IngestPerMinute: cfg.IngestRateLimit,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return worker.Run(gctx)
	})

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("consumer", name).
			Msg("starting omnirouter")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down...")

		// Graceful shutdown with 30 second timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("omnirouter stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("omnirouter stopped")
}

// openKnowledge returns the configured knowledge backend and its closer.
func openKnowledge(ctx context.Context, cfg *config.Config, redisStore *store.RedisStore) (knowledge.Store, func(), error) {
	switch cfg.KnowledgeBackend {
	case "postgres":
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "sqlite":
		lite, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return lite, lite.Close, nil
	default:
		return redisStore, func() {}, nil
	}
}
