package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/stemsi/intervu-backend/internal/config"
	"github.com/stemsi/intervu-backend/internal/database"
	"github.com/stemsi/intervu-backend/internal/grading"
	"github.com/stemsi/intervu-backend/internal/handler"
	"github.com/stemsi/intervu-backend/internal/lock"
	"github.com/stemsi/intervu-backend/internal/logger"
	"github.com/stemsi/intervu-backend/internal/metrics"
	"github.com/stemsi/intervu-backend/internal/middleware"
	"github.com/stemsi/intervu-backend/internal/repository"
	"github.com/stemsi/intervu-backend/internal/router"
	"github.com/stemsi/intervu-backend/internal/service"
	"github.com/stemsi/intervu-backend/internal/validator"
	"github.com/stemsi/intervu-backend/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	policy := cfg.Policy

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Dur("test_duration", policy.TestDuration).
		Int("focus_loss_threshold", policy.FocusLossThreshold).
		Msg("Starting Intervu Backend")

	// ─── Initialize Validator ──────────────────────────────────────────
	validator.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// ─── Connect to Redis ──────────────────────────────────────────────
	rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Metrics ───────────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// ─── Initialize Repositories ───────────────────────────────────────
	userRepo := repository.NewUserRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	sessionRepo := repository.NewTestSessionRepository(pool)
	evaluationRepo := repository.NewEvaluationRepository(pool)
	focusEventRepo := repository.NewFocusEventRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg, userRepo, rdb)
	questionService := service.NewQuestionService(questionRepo, policy, nil, log)
	evaluationService := service.NewEvaluationService(evaluationRepo, sessionRepo, grading.Weights{
		Technical:      policy.Weights.Technical,
		Personality:    policy.Weights.Personality,
		ProblemSolving: policy.Weights.ProblemSolving,
	}, m, log)
	sessionService := service.NewTestSessionService(
		sessionRepo,
		questionService,
		evaluationService,
		lock.NewRedisLocker(rdb, policy.SessionLockTTL, policy.SessionLockWait),
		service.NewRedisEventBus(rdb),
		m,
		policy,
		log,
	)
	monitorService := service.NewMonitorService(sessionRepo)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(authService, log),
		Session:    handler.NewSessionHandler(sessionService, authService, log),
		Evaluation: handler.NewEvaluationHandler(evaluationService, log),
		Question:   handler.NewQuestionHandler(questionService, log),
		WS:         handler.NewWSHandler(rdb, sessionService, log, cfg.AllowedOrigins),
		Monitor:    handler.NewMonitorHandler(rdb, monitorService, log),
		System:     handler.NewSystemHandler(pool, rdb, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	workers, workerCtx := errgroup.WithContext(workerCtx)

	loginLimiter := middleware.NewRateLimiter(cfg.LoginRateLimit, time.Minute)
	workers.Go(func() error {
		loginLimiter.Run(workerCtx)
		return nil
	})

	focusWorker := worker.NewFocusEventWorker(focusEventRepo, rdb, log)
	workers.Go(func() error {
		focusWorker.Start(workerCtx)
		return nil
	})

	if policy.ExpirySweepSchedule != "" {
		sweeper := worker.NewExpirySweeper(sessionService, policy.ExpirySweepSchedule, log)
		workers.Go(func() error {
			if err := sweeper.Start(workerCtx); err != nil {
				log.Error().Err(err).Msg("Expiry sweeper disabled")
			}
			return nil
		})
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, cfg, loginLimiter, m.Handler())

	// ─── Create HTTP Server ────────────────────────────────────────────
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// ─── Start Server in Goroutine ─────────────────────────────────────
	go func() {
		log.Info().Str("addr", ":"+cfg.ServerPort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	// ─── Graceful Shutdown ─────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully...")

	// 1. Stop accepting new HTTP requests. Open streams end with their request contexts.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers; the focus worker flushes its buffer on the way out.
	workerCancel()
	_ = workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
