package handlers

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"

	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/middleware"
	"github.com/SscSPs/bank_posting_core/internal/platform/config"
)

// RegisterRoutes sets up all application routes, injecting dependencies using interfaces.
// rateLimiter may be nil to disable rate limiting.
func RegisterRoutes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	rateLimiter *limiter.Limiter,
) {
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORSOrigins,
			AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
			ExposeHeaders:    []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Add health check route
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	setupAPIV1Routes(r, cfg, services, rateLimiter)
}

// setupAPIV1Routes configures the /api/v1 group and delegates to specific route registrations
func setupAPIV1Routes(
	r *gin.Engine,
	cfg *config.Config,
	services *portssvc.ServiceContainer,
	rateLimiter *limiter.Limiter,
) {
	v1 := r.Group("/api/v1")
	if rateLimiter != nil {
		v1.Use(middleware.RateLimit(rateLimiter))
	}
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))

	RegisterPostingRoutes(v1, services.Posting)
	RegisterAccrualRoutes(v1, services.Accrual)
}
