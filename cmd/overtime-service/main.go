package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/shopspring/decimal"
	"github.com/timeflow/timeflow-backend/internal/overtime/consumers"
	"github.com/timeflow/timeflow-backend/internal/overtime/events"
	"github.com/timeflow/timeflow-backend/internal/overtime/handler"
	"github.com/timeflow/timeflow-backend/internal/overtime/repository"
	"github.com/timeflow/timeflow-backend/internal/overtime/service"
	"github.com/timeflow/timeflow-backend/migrations"
	"github.com/timeflow/timeflow-backend/pkg/config"
	"github.com/timeflow/timeflow-backend/pkg/database"
	"github.com/timeflow/timeflow-backend/pkg/httputil"
	"github.com/timeflow/timeflow-backend/pkg/logger"
	"github.com/timeflow/timeflow-backend/pkg/messaging"
	"github.com/timeflow/timeflow-backend/pkg/permissions"
)

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation(config.ServiceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(config.ServiceName, cfg.Server.Environment)
	log.Info().Msg("starting Overtime Service")

	loc, err := cfg.Jobs.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid jobs timezone")
	}

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := migrations.Apply(context.Background(), db.DB); err != nil {
			log.Fatal().Err(err).Msg("failed to apply migrations")
		}
		log.Info().Msg("schema migrations applied")
	}

	checks := map[string]handler.HealthCheck{"database": db.Health}

	// Connect to RabbitMQ
	publisher := events.Nop()
	var rmq *messaging.RabbitMQ
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		if err := rmq.DeclareDeadLetterQueue(config.ServiceName); err != nil {
			log.Fatal().Err(err).Msg("failed to declare dead letter queue")
		}

		publisher, err = events.NewOvertimeEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
		checks["rabbitmq"] = func(context.Context) map[string]string { return rmq.Health() }
	} else {
		log.Warn().Msg("RabbitMQ disabled, events are dropped and clock-outs are only picked up by consolidation")
	}

	// Initialize repositories
	calendar := repository.NewCalendarRepository(db)
	deps := service.Deps{
		Tx:         db,
		Overtime:   repository.NewOvertimeRepository(db),
		Recovery:   repository.NewRecoveryRepository(db),
		Employees:  repository.NewEmployeeRepository(db),
		Policies:   repository.NewPolicyRepository(db, decimal.NewFromFloat(cfg.Overtime.DefaultDailyWorkingHours)),
		Attendance: repository.NewAttendanceRepository(db),
		Holidays:   calendar,
		Absences:   calendar,
		Tenants:    repository.NewTenantRepository(db),
		Events:     publisher,
		Logger:     log,
		Location:   loc,
	}

	// Initialize services
	overtimeService := service.NewOvertimeService(deps)
	recoveryService := service.NewRecoveryService(deps)
	consolidation := service.NewConsolidationJob(deps, overtimeService)
	sweep := service.NewRecoverySweepJob(deps, recoveryService)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start attendance event consumer
	if rmq != nil && cfg.Overtime.RealtimeDetection {
		attendanceConsumer, err := consumers.NewAttendanceEventConsumer(rmq, overtimeService, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create attendance event consumer")
		}
		if err := attendanceConsumer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start attendance event consumer")
		}
	}

	// Schedule nightly jobs
	scheduler := service.NewScheduler(loc, log)
	if cfg.Jobs.ConsolidationEnabled {
		at, _ := config.ParseClock(cfg.Jobs.ConsolidationAt)
		scheduler.Add(consolidation, at)
	}
	if cfg.Jobs.RecoverySweepEnabled {
		at, _ := config.ParseClock(cfg.Jobs.RecoverySweepAt)
		scheduler.Add(sweep, at)
	}
	scheduler.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	var guard []func(http.Handler) http.Handler
	if cfg.Auth.JWTSecret != "" {
		authn := httputil.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log)
		guard = append(guard, authn.Middleware, httputil.RequirePermission(permissions.AdminFullAccess))
	} else {
		log.Warn().Msg("no JWT secret configured, ops endpoints are unauthenticated")
	}

	handler.NewOpsHandler(consolidation, sweep, overtimeService, checks, loc, log).Routes(r, guard...)

	// Create server
	addr := cfg.Server.Addr()
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Stop consumers and wait for a running job to finish its tenant
	cancel()
	scheduler.Wait()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
