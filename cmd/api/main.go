package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fieldops/internal/config"
	"fieldops/internal/handler"
	"fieldops/internal/httpserver"
	"fieldops/internal/repository"
	"fieldops/internal/scheduler"
	"fieldops/pkg/db"
	"fieldops/pkg/logger"
	"fieldops/pkg/mq"
	"fieldops/pkg/redis"

	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting fieldops-api...",
		zap.String("db_host", cfg.DB.Host),
		zap.Int("db_port", cfg.DB.Port),
		zap.String("mq_url", cfg.MQ.URL),
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

	// Redis: tenant settings cache
	rdb := redis.NewRedisClient(cfg.Redis)
	defer rdb.Close()

	// Repositories
	taskRepo := repository.NewTaskRepository(dbConn, log)
	leadRepo := repository.NewLeadRepository(dbConn, log)
	assignmentRepo := repository.NewAssignmentRepository(dbConn, log)
	eventLogRepo := repository.NewEventLogRepository(dbConn, log)
	appointmentRepo := repository.NewAppointmentRepository(dbConn, log)
	tenantSettingsRepo := repository.NewTenantSettingsRepository(dbConn, rdb, 5*time.Minute, log)

	// Services
	taskScheduler := scheduler.NewScheduler(taskRepo, log)
	eventHandler := handler.NewEventHandler(taskScheduler, leadRepo, assignmentRepo, eventLogRepo, publisher, log)
	appointmentHandler := handler.NewAppointmentHandler(appointmentRepo, tenantSettingsRepo, cfg.Orchestration, log)

	// HTTP Server
	port := cfg.Server.Port
	if port == "" {
		port = "8080"
	}
	log.Info("Initializing HTTP server...", zap.String("port", port))
	router := httpserver.NewRouter(eventHandler, appointmentHandler, log, dbConn, publisher, cfg.JWT.Secret)
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

	log.Info("fieldops-api is fully initialized and running")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down fieldops-api gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	publisher.Close()
	dbConn.Close()

	log.Info("fieldops-api shutdown complete")
}
