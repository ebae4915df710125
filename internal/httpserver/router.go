package httpserver

import (
	"context"
	"net/http"
	"time"

	"fieldops/internal/handler"
	"fieldops/pkg/mq"
	"fieldops/pkg/util"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		tenantID, err := util.ParseJWT(token, jwtSecret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		// store tenant_id in context so handlers can use it
		c.Set("tenant_id", tenantID)

		c.Next()
	}
}

func NewRouter(eventHandler *handler.EventHandler, appointmentHandler *handler.AppointmentHandler, logger *zap.Logger, db *pgxpool.Pool, publisher *mq.Publisher, jwtSecret string) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		logger.Info("HTTP Request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		)
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if publisher != nil && !publisher.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	events := r.Group("/")
	events.Use(AuthMiddleware(jwtSecret))
	events.POST("/events/leads", eventHandler.LeadReceived)
	events.POST("/events/leads/:id/resolved", eventHandler.LeadResolved)
	events.POST("/events/jobs/:id/cancelled", eventHandler.JobCancelled)
	events.POST("/assignments/:id/accept", eventHandler.AcceptAssignment)
	events.POST("/appointments/:id/reschedule/preview", appointmentHandler.PreviewReschedule)
	events.POST("/appointments/:id/reschedule", appointmentHandler.Reschedule)

	return r
}

// NewHealthRouter is the runner's health and metrics surface; it serves
// no business endpoints.
func NewHealthRouter(logger *zap.Logger, db *pgxpool.Pool, publisher *mq.Publisher) *gin.Engine {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(500, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}

		if publisher != nil && !publisher.IsConnected() {
			c.JSON(500, gin.H{"status": "mq_not_ready"})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}
