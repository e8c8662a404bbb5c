// Package api wires together all HTTP routes of the tenant service.
//
// Route groups:
//   - /org/create, /org/get and /admin/login are public. Login has its own,
//     stricter rate limit since it is the brute-force target.
//   - /org/update, /org/delete and /org/records require a bearer token. The token
//     names the caller; whether the caller may touch the named organization is
//     decided by the lifecycle workflows, not by the router.
//   - /, /health, /ready and /version are health endpoints and never rate limited.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/tenant-service/tenant-service/internal/api/admin"
	"github.com/tenant-service/tenant-service/internal/config"
	"github.com/tenant-service/tenant-service/internal/middleware"
	"github.com/tenant-service/tenant-service/internal/services"
)

// Version is the service version, overridden at build time with
// -ldflags "-X github.com/tenant-service/tenant-service/internal/api.Version=..."
var Version = "0.1.0"

// Pinger reports whether a dependency is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveChecker reports whether the archive backend is reachable
type ArchiveChecker interface {
	Check(ctx context.Context) error
}

// Dependencies are the long-lived components the router serves
type Dependencies struct {
	Config  *config.Config
	DB      *sql.DB
	Tenants *services.TenantManager
	// Archive is nil when archive-before-drop is disabled
	Archive ArchiveChecker
	// Redis is nil unless rate limits are shared between instances
	Redis *redis.Client
}

// BackgroundServices holds resources that must be released during graceful
// shutdown. The caller (cmd/server) calls Shutdown after the HTTP server has
// drained in-flight requests.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
	redis        *redis.Client
}

// Shutdown stops all background goroutines and closes shared clients
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.redis != nil {
		if err := bg.redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(deps Dependencies) (*gin.Engine, *BackgroundServices) {
	cfg := deps.Config
	router := gin.New()
	bg := &BackgroundServices{redis: deps.Redis}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware())
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))

	router.GET("/", rootHandler(cfg))
	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.Tenants, deps.Archive))
	router.GET("/version", versionHandler())

	generalLimit, loginLimit := rateLimitMiddlewares(cfg.Security.RateLimiting, deps.Redis, bg)

	orgHandlers := admin.NewOrganizationHandlers(deps.Tenants)
	authHandlers := admin.NewAuthHandlers(deps.Tenants)
	recordHandlers := admin.NewRecordHandlers(deps.Tenants)
	requireAuth := middleware.AuthMiddleware(deps.Tenants)

	adminGroup := router.Group("/admin")
	adminGroup.Use(loginLimit...)
	{
		adminGroup.POST("/login", authHandlers.LoginHandler())
	}

	orgGroup := router.Group("/org")
	orgGroup.Use(generalLimit...)
	{
		orgGroup.POST("/create", orgHandlers.CreateOrganizationHandler())
		orgGroup.POST("/get", orgHandlers.GetOrganizationHandler())
		orgGroup.GET("/get", orgHandlers.GetOrganizationHandler())

		// rate limited again after auth so the key becomes the admin, not the IP
		authenticated := orgGroup.Group("")
		authenticated.Use(requireAuth)
		authenticated.Use(generalLimit...)
		{
			authenticated.PUT("/update", orgHandlers.UpdateOrganizationHandler())
			authenticated.DELETE("/delete", orgHandlers.DeleteOrganizationHandler())
			authenticated.POST("/records", recordHandlers.AppendRecordHandler())
			authenticated.GET("/records", recordHandlers.ListRecordsHandler())
		}
	}

	return router, bg
}

// rateLimitMiddlewares returns the general and login middleware chains. Both are
// empty when rate limiting is disabled.
func rateLimitMiddlewares(cfg config.RateLimitingConfig, client *redis.Client, bg *BackgroundServices) (general, login []gin.HandlerFunc) {
	if !cfg.Enabled {
		slog.Warn("rate limiting is disabled")
		return nil, nil
	}

	generalCfg, loginCfg := middleware.RateLimitConfigsFromConfig(cfg)

	var generalLimiter, loginLimiter middleware.Limiter
	if client != nil {
		generalLimiter = middleware.NewRedisRateLimiter(client, generalCfg, "tnt:rl:")
		loginLimiter = middleware.NewRedisRateLimiter(client, loginCfg, "tnt:rl:")
		slog.Info("rate limiting enabled", "backend", "redis", "requests_per_minute", generalCfg.RequestsPerMinute)
	} else {
		g := middleware.NewRateLimiter(generalCfg)
		l := middleware.NewRateLimiter(loginCfg)
		bg.rateLimiters = append(bg.rateLimiters, g, l)
		generalLimiter, loginLimiter = g, l
		slog.Info("rate limiting enabled", "backend", "memory", "requests_per_minute", generalCfg.RequestsPerMinute)
	}

	return []gin.HandlerFunc{middleware.RateLimitMiddleware(generalLimiter, "api")},
		[]gin.HandlerFunc{middleware.RateLimitMiddleware(loginLimiter, "login")}
}

// @Summary      Service banner
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, service, version"
// @Router       / [get]
func rootHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": cfg.Telemetry.ServiceName,
			"version": Version,
		})
	}
}

// @Summary      Health check
// @Description  Returns the health status of the service, including registry database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, database: connected"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, database: disconnected"
// @Router       /health [get]
// healthCheckHandler is the liveness check
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "disconnected",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status":   "healthy",
			"database": "connected",
			"time":     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Checks the registry, the collection store and, when enabled, the archive backend.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks"
// @Failure      503  {object}  map[string]interface{}  "ready: false, checks, error"
// @Router       /ready [get]
// readinessHandler fails when a lifecycle workflow would fail for infrastructure reasons
func readinessHandler(stores Pinger, archive ArchiveChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := gin.H{}
		if err := stores.Ping(ctx); err != nil {
			slog.Warn("readiness check failed", "component", "stores", "error", err)
			checks["stores"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "registry or collection store not ready",
			})
			return
		}
		checks["stores"] = "healthy"

		if archive != nil {
			if err := archive.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "component", "archive", "error", err)
				checks["archive"] = "unhealthy"
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"ready":  false,
					"checks": checks,
					"error":  "archive backend not ready",
				})
				return
			}
			checks["archive"] = "healthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware writes one structured access log record per request.
// slog emits JSON or text depending on the handler installed by telemetry.SetupLogger.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}

		slog.LogAttrs(
			c.Request.Context(),
			level,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", middleware.GetRequestID(c)),
			slog.String("admin_id", c.GetString(middleware.ContextKeyAdminID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	methods := "GET, POST, PUT, DELETE, OPTIONS"
	if len(cfg.Security.CORS.AllowedMethods) > 0 {
		methods = strings.Join(cfg.Security.CORS.AllowedMethods, ", ")
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed, wildcard := false, false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" {
				allowed, wildcard = true, true
				break
			}
			if origin != "" && allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if wildcard {
				// credentials are never combined with a wildcard origin
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Credentials", "true")
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", methods)
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
