package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/medwatch/compliance-manager/internal/handlers"
	"github.com/medwatch/compliance-manager/internal/logger"
)

const (
	corsMaxAgeHours = 12
)

// Handlers bundles the route handlers the router wires up.
type Handlers struct {
	Sources    *handlers.SourceHandler
	Compliance *handlers.ComplianceHandler
	Dashboard  *handlers.DashboardHandler
	Schedule   *handlers.ScheduleHandler
	Import     *handlers.ImportHandler
}

func NewRouter(h Handlers, allowOrigins []string, log logger.Logger) *gin.Engine {
	router := gin.New()

	// CORS middleware - must be first
	router.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Content-Length", "Accept-Encoding",
			"X-CSRF-Token", "Authorization", "accept", "origin",
			"Cache-Control", "X-Requested-With", "X-Actor",
		},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           corsMaxAgeHours * time.Hour,
	}))

	// Middleware
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API v1
	v1 := router.Group("/api/v1")

	// Source registry
	sources := v1.Group("/sources")
	sources.POST("", h.Sources.Create)
	sources.GET("", h.Sources.List)
	sources.GET("/:id", h.Sources.GetByID)
	sources.PUT("/:id", h.Sources.Update)
	sources.DELETE("/:id", h.Sources.Delete)
	sources.POST("/import", h.Import.Import)

	// Compliance and legal review
	sources.POST("/:id/validate", h.Compliance.Validate)
	sources.GET("/:id/validations", h.Compliance.ListValidations)
	sources.POST("/:id/approve", h.Compliance.Approve)
	sources.POST("/:id/reject", h.Compliance.Reject)
	sources.POST("/:id/suspend", h.Compliance.Suspend)
	sources.POST("/:id/activate", h.Compliance.Activate)
	sources.GET("/:id/audit", h.Compliance.AuditHistory)
	sources.GET("/:id/automation-log", h.Compliance.AutomationLog)

	// Legal notices
	sources.POST("/:id/notices", h.Compliance.CreateNotice)
	sources.GET("/:id/notices", h.Compliance.ListNotices)
	v1.PATCH("/notices/:id/status", h.Compliance.UpdateNoticeStatus)

	// Scheduling
	sources.GET("/:id/admission", h.Schedule.Admission)
	sources.POST("/:id/run", h.Schedule.Run)

	// Dashboard
	dashboard := v1.Group("/dashboard")
	dashboard.GET("/summary", h.Dashboard.Summary)
	dashboard.GET("/sources/:id", h.Dashboard.SourceDetail)

	return router
}

func ginLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.Info("HTTP request",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status_code", statusCode),
			logger.String("client_ip", c.ClientIP()),
			logger.Duration("duration", duration),
		)
	}
}
