package handler

import (
	"fmt"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/makkenzo/license-engine/internal/handler/middleware"
	"github.com/makkenzo/license-engine/internal/ierr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Handlers struct {
	Health     *HealthHandler
	Licenses   *LicenseHandler
	Components *ComponentHandler
	Dashboard  *DashboardHandler
}

type RouterConfig struct {
	APIKeyHash  string
	CORSOrigins []string
}

// NewRouter mounts the read endpoints openly and guards every mutation with
// the API key middleware.
func NewRouter(h Handlers, cfg RouterConfig, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
			param.ClientIP,
			param.TimeStamp.Format(time.RFC1123),
			param.Method,
			param.Path,
			param.Request.Proto,
			param.StatusCode,
			param.Latency,
			param.Request.UserAgent(),
			param.ErrorMessage,
		)
	}))
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logMsg := "Panic recovered"
		if err, ok := recovered.(string); ok {
			logMsg = fmt.Sprintf("%s: %s", logMsg, err)
		} else if err, ok := recovered.(error); ok {
			logMsg = fmt.Sprintf("%s: %v", logMsg, err)
		}
		logger.Error(logMsg, zap.Stack("stack"))

		_ = c.Error(ierr.ErrInternalServer)
		c.Abort()
	}))

	corsConfig := cors.Config{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"X-API-Key",
		},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"*"}
	}
	router.Use(cors.New(corsConfig))
	router.Use(middleware.ErrorHandlerMiddleware(logger))

	apiKeyAuth := middleware.APIKeyAuthMiddleware(cfg.APIKeyHash, logger)

	router.GET("/healthz", h.Health.Check)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiV1 := router.Group("/api/v1")
	{
		licenseRoutes := apiV1.Group("/licenses")
		{
			licenseRoutes.GET("", h.Licenses.List)
			licenseRoutes.GET("/persisted", h.Licenses.Persisted)
			licenseRoutes.GET("/unused", h.Licenses.Unused)
			licenseRoutes.GET("/:id", h.Licenses.GetByID)
			licenseRoutes.POST("/inspect", h.Licenses.Inspect)

			licenseRoutes.POST("", apiKeyAuth, h.Licenses.Upload)
			licenseRoutes.POST("/purge", apiKeyAuth, h.Licenses.Purge)
		}
		componentRoutes := apiV1.Group("/components")
		{
			componentRoutes.GET("", h.Components.List)
			componentRoutes.GET("/:name", h.Components.Get)

			componentRoutes.POST("", apiKeyAuth, h.Components.Install)
			componentRoutes.PUT("/:name", apiKeyAuth, h.Components.Upgrade)
			componentRoutes.DELETE("/:name", apiKeyAuth, h.Components.Uninstall)
		}
		apiV1.GET("/features/:name", h.Components.ResolveFeature)
		apiV1.GET("/dashboard/summary", h.Dashboard.GetSummary)
	}

	return router
}
