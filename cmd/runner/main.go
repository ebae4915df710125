package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/delivery"
	"fieldops/internal/escalation"
	"fieldops/internal/followup"
	"fieldops/internal/httpserver"
	"fieldops/internal/model"
	"fieldops/internal/repository"
	"fieldops/internal/scheduler"
	"fieldops/pkg/db"
	"fieldops/pkg/logger"
	"fieldops/pkg/mq"
	"fieldops/pkg/redis"
	"fieldops/pkg/util"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting fieldops-runner...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
		zap.Duration("dispatch_interval", cfg.Orchestration.DispatchInterval),
		zap.Duration("monitor_interval", cfg.Orchestration.MonitorInterval),
	)

	// DB
	log.Info("Initializing database connection...")
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.EnsureSchema(context.Background(), dbConn); err != nil {
		log.Fatal("Failed to ensure schema", zap.Error(err))
	}
	log.Info("Database ready")

	// MQ Publisher
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("Failed to init MQ publisher", zap.Error(err))
	}
	defer publisher.Close()

	// Redis: dedup guard and tenant settings cache
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()
	deduper := util.NewDeduper(rdb, 24*time.Hour, log)

	// Repositories
	taskRepo := repository.NewTaskRepository(dbConn, log)
	leadRepo := repository.NewLeadRepository(dbConn, log)
	jobRepo := repository.NewJobRepository(dbConn, log)
	assignmentRepo := repository.NewAssignmentRepository(dbConn, log)
	eventLogRepo := repository.NewEventLogRepository(dbConn, log)
	workerRepo := repository.NewWorkerRepository(dbConn, log)
	tenantSettingsRepo := repository.NewTenantSettingsRepository(dbConn, rdb, 5*time.Minute, log)

	// Delivery adapters
	sms := delivery.NewSimulatedTextSender(log)
	voice := delivery.NewSimulatedCallPlacer(log)
	payments := delivery.NewSimulatedPaymentLinkCreator(log)
	chat := delivery.NewSimulatedChatSender(log)

	// Follow-up dispatcher
	taskScheduler := scheduler.NewScheduler(taskRepo, log)
	executor := followup.NewExecutor(
		leadRepo, jobRepo, taskScheduler, eventLogRepo, publisher, tenantSettingsRepo,
		sms, voice, payments, cfg.Orchestration, log,
	)
	runner := scheduler.NewRunner(
		taskScheduler, executor,
		[]string{model.TaskTypeLeadFollowup, model.TaskTypeFollowupSecondCall},
		log,
	).WithInterval(cfg.Orchestration.DispatchInterval).WithBatchSize(cfg.Orchestration.ClaimBatchSize)

	runnerCtx, runnerCancel := context.WithCancel(context.Background())
	defer runnerCancel()
	go runner.Start(runnerCtx)

	// Escalation monitor
	monitor := escalation.NewMonitor(
		assignmentRepo, jobRepo, workerRepo, eventLogRepo, deduper, publisher, tenantSettingsRepo,
		sms, chat, cfg.Orchestration, log,
	)
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	go monitor.Start(monitorCtx)

	// HTTP server (health and metrics only)
	port := cfg.Server.Port
	if port == "" {
		port = "8081"
	}
	log.Info("Initializing HTTP server...", zap.String("port", port))
	router := httpserver.NewHealthRouter(log, dbConn, publisher)
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("fieldops-runner is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down fieldops-runner gracefully...")

	runnerCancel()
	monitorCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("fieldops-runner shutdown complete")
}
