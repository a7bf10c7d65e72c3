package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/remit-board/internal/api"
	"github.com/ayo6706/remit-board/internal/api/handler"
	"github.com/ayo6706/remit-board/internal/config"
	"github.com/ayo6706/remit-board/internal/db"
	"github.com/ayo6706/remit-board/internal/gateway"
	"github.com/ayo6706/remit-board/internal/idempotency"
	"github.com/ayo6706/remit-board/internal/identity"
	"github.com/ayo6706/remit-board/internal/livesync"
	"github.com/ayo6706/remit-board/internal/models"
	"github.com/ayo6706/remit-board/internal/observability"
	"github.com/ayo6706/remit-board/internal/repository"
	"github.com/ayo6706/remit-board/internal/repository/memory"
	"github.com/ayo6706/remit-board/internal/service"
	"github.com/ayo6706/remit-board/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// documentStore is what both drivers provide to the services and mirrors.
type documentStore interface {
	service.RequestStore
	service.CommentStore
	identity.IdentityStore
}

// backend is the storage side of the process for the configured driver.
type backend struct {
	store       documentStore
	requestFeed livesync.Source[models.TransferRequest]
	commentFeed livesync.Source[models.Comment]
	challenges  identity.ChallengeStore
	revocations identity.RevocationStore
	redirects   identity.RedirectStore
	idempotency *idempotency.Store
	cleanup     *worker.CleanupWorker
	health      *handler.HealthHandler
	close       func()
}

// Run bootstraps the HTTP server, the shared request mirror and its
// workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var b *backend
	switch cfg.StoreDriver {
	case config.DriverMemory:
		b = newMemoryBackend(cfg)
	default:
		b, err = newPostgresBackend(ctx, cfg, logger)
		if err != nil {
			return err
		}
	}
	defer b.close()
	logger.Info("document store ready", zap.String("driver", cfg.StoreDriver))

	sessions, err := identity.NewSessions(identity.SessionConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.SessionTTL,
	}, b.revocations)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}
	challenger := identity.NewChallenger(b.challenges, gateway.NewMockSMSGateway(cfg.SMSFailureRate), b.store, sessions, identity.ChallengerConfig{
		TTL:         cfg.OTPTTL,
		MaxAttempts: cfg.OTPMaxAttempts,
		CodeLength:  cfg.OTPCodeLength,
	})
	federated := identity.NewFederatedVerifier(identity.FederatedConfig{
		Issuer: cfg.FederatedIssuer,
		Secret: cfg.FederatedSecret,
	}, b.store, sessions)

	mirrorOpts := []livesync.Option{
		livesync.WithLogger(logger.Named("mirror")),
		livesync.WithBackoff(cfg.MirrorBackoffMin, cfg.MirrorBackoffMax),
	}
	requestMirror := livesync.New[models.TransferRequest](b.requestFeed, repository.RequestsNewestFirst(), mirrorOpts...)
	requestMirror.Start(ctx)
	defer requestMirror.Close()

	resyncWorker := worker.NewResyncWorker(requestMirror).
		WithInterval(cfg.ResyncInterval).
		WithTimeout(cfg.StoreTimeout)
	stopResync := resyncWorker.Run(ctx)
	logger.Info("resync worker started", zap.Duration("interval", cfg.ResyncInterval))

	stopCleanup := func() {}
	if b.cleanup != nil {
		stopCleanup = b.cleanup.Run(ctx)
		logger.Info("idempotency cleanup worker started")
	}

	router := api.NewRouter(cfg, logger, api.Dependencies{
		Requests:      service.NewRequestService(b.store, cfg.StoreTimeout),
		Comments:      service.NewCommentService(b.store, cfg.StoreTimeout),
		RequestMirror: requestMirror,
		CommentSource: b.commentFeed,
		MirrorOptions: mirrorOpts,
		Sessions:      sessions,
		Challenger:    challenger,
		Federated:     federated,
		Redirects:     b.redirects,
		Idempotency:   b.idempotency,
		Health:        b.health,
	})

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		logger.Info("stopping workers")
		stopResync()
		stopCleanup()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func newPostgresBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*backend, error) {
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	store := repository.NewStore(pool, logger.Named("store"))
	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)

	return &backend{
		store:       store,
		requestFeed: store.RequestFeed(),
		commentFeed: store.CommentFeed(),
		challenges:  identity.NewRedisChallenges(redisClient),
		revocations: identity.NewRedisRevocations(redisClient),
		redirects:   identity.NewRedisRedirects(redisClient, cfg.RedirectTTL),
		idempotency: idemStore,
		cleanup:     worker.NewCleanupWorker(idemStore),
		health: handler.NewHealthHandler().
			WithCheck("database", pool.Ping).
			WithCheck("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		close: func() {
			store.Close()
			redisClient.Close()
			pool.Close()
		},
	}, nil
}

func newMemoryBackend(cfg *config.Config) *backend {
	store := memory.New()
	return &backend{
		store:       store,
		requestFeed: store.RequestFeed(),
		commentFeed: store.CommentFeed(),
		challenges:  identity.NewMemoryChallenges(),
		revocations: identity.NewMemoryRevocations(),
		redirects:   identity.NewMemoryRedirects(cfg.RedirectTTL),
		health:      handler.NewHealthHandler(),
		close:       func() {},
	}
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
