package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-exam-engine/internal/config"
	"github.com/stemsi/exstem-exam-engine/internal/database"
	"github.com/stemsi/exstem-exam-engine/internal/handler"
	"github.com/stemsi/exstem-exam-engine/internal/logger"
	"github.com/stemsi/exstem-exam-engine/internal/middleware"
	"github.com/stemsi/exstem-exam-engine/internal/repository"
	"github.com/stemsi/exstem-exam-engine/internal/router"
	"github.com/stemsi/exstem-exam-engine/internal/service"
	"github.com/stemsi/exstem-exam-engine/internal/validator"
	"github.com/stemsi/exstem-exam-engine/internal/worker"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("port", cfg.ServerPort).
		Str("mode", cfg.GinMode).
		Str("log_level", cfg.LogLevel).
		Msg("Starting ExStem Exam Engine")

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
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Repositories ───────────────────────────────────────
	attemptRepo := repository.NewAttemptRepository(pool)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	monitorRepo := repository.NewMonitorRepository(pool)
	analyticsRepo := repository.NewAnalyticsRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)

	// ─── Initialize Services ──────────────────────────────────────────
	authService := service.NewAuthService(cfg)
	examService := service.NewExamService(examRepo, questionRepo, service.NewRedisExamCache(rdb, cfg.ExamCacheTTL), log)
	attemptService := service.NewAttemptService(
		attemptRepo,
		examService,
		service.NewRedisPublisher(rdb),
		service.NewProctoringPolicy(cfg),
		log,
	)
	monitorService := service.NewMonitorService(monitorRepo, examService, log)

	// ─── Initialize Handlers ──────────────────────────────────────────
	handlers := &router.Handlers{
		Auth:       handler.NewAuthHandler(),
		Attempt:    handler.NewAttemptHandler(attemptService),
		Instructor: handler.NewInstructorHandler(attemptService, log),
		Exam:       handler.NewExamHandler(examService),
		WS:         handler.NewWSHandler(attemptService, log, cfg.AllowedOrigins),
		Monitor:    handler.NewMonitorHandler(rdb, monitorService, log),
		System:     handler.NewSystemHandler(pool, rdb, log),
	}
	middlewares := &router.Middlewares{
		RateLimiter: middleware.NewRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, log),
		Auditor:     middleware.NewAuditor(rdb, cfg.AuditIPKey, log),
	}

	// ─── Start Background Workers ─────────────────────────────────────
	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup

	analyticsWorker := worker.NewAnalyticsWorker(analyticsRepo, rdb, log)
	auditWorker := worker.NewAuditWorker(auditRepo, rdb, log)
	expirySweeper := worker.NewExpirySweeper(attemptService, cfg.ExpirySweepSchedule, log)

	workers.Add(3)
	go func() {
		defer workers.Done()
		analyticsWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		auditWorker.Start(workerCtx)
	}()
	go func() {
		defer workers.Done()
		if err := expirySweeper.Start(workerCtx); err != nil {
			log.Error().Err(err).Str("schedule", cfg.ExpirySweepSchedule).Msg("Expiry sweeper failed to start")
		}
	}()

	// ─── Prewarm Redis Caches ─────────────────────────────────────────
	// Published exams are loaded before traffic so the first wave of
	// attempt starts does not stampede PostgreSQL.
	if n, err := examService.PrewarmCache(ctx); err != nil {
		log.Warn().Err(err).Msg("Cache prewarm failed")
	} else {
		log.Info().Int("exams", n).Msg("Exam cache prewarmed")
	}

	// ─── Setup Router ──────────────────────────────────────────────────
	r := router.SetupRouter(authService, handlers, middlewares, cfg)

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

	// 1. Stop accepting new HTTP requests (5s timeout).
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// 2. Stop background workers and wait for their final flush.
	workerCancel()
	workers.Wait()

	log.Info().Msg("Shutdown complete")
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
