// Package httpapi wires the ops HTTP API (Gin): health, Prometheus metrics
// and read-only access to the usage ledger and quota limiter. The chat
// platform never talks to it; operators and dashboards do.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. Logger (redacting)
//  4. Recovery
//  5. body size limit
//  6. Metrics, then /metrics
//  7. gzip
//  8. CORS and security headers
//
// /health and /metrics stay open; the usage and quota routes require the
// bearer token when one is configured.
package httpapi

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-ask-gateway/internal/config"
	"github.com/tbourn/go-ask-gateway/internal/http/handlers"
	"github.com/tbourn/go-ask-gateway/internal/http/middleware"
	"github.com/tbourn/go-ask-gateway/internal/services"
)

// healthTimeout bounds the ledger ping of /health.
const healthTimeout = 2 * time.Second

// NewEngine returns a gin.Engine in cfg.GinMode with every route registered.
func NewEngine(db *gorm.DB, quota *services.QuotaLimiter, cfg config.Config) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	r := gin.New()
	RegisterRoutes(r, db, quota, cfg)
	return r
}

// NewServer wraps h in an http.Server with the configured limits.
func NewServer(cfg config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}
}

// RegisterRoutes attaches middleware and endpoints to r. db may be nil when
// the ledger is disabled; the usage routes then answer 503.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, quota *services.QuotaLimiter, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(middleware.RedactOptions{
		MaskHeaders: []string{"X-Api-Key", "X-Discord-Token"},
	}))
	r.Use(middleware.Recovery())

	// Read-only API: nothing legitimate sends a body.
	r.Use(limitBody(64 << 10))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPaths([]string{"/metrics"}),
		gzip.WithExcludedPathsRegexs([]string{`/images/`}),
	))

	r.Use(cors.New(corsConfig(cfg.CORS.AllowedOrigins)))

	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		CacheControl: "private, no-cache",
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", health(db))

	h := handlers.New(services.NewUsageService(db), quota)

	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.BearerAuth(cfg.APIToken))
	{
		api.GET("/usage", h.ListUsage)
		api.GET("/usage/:id", h.GetUsage)
		api.GET("/usage/:id/images/:imageId", h.GetUsageImage)
		api.GET("/quota", h.GetQuota)
	}
}

// corsConfig allows any origin when none are configured. Credentials stay
// off either way; the bearer token travels in Authorization.
func corsConfig(origins []string) cors.Config {
	c := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Accept", "Authorization", "If-None-Match", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID", "ETag", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = origins
	}
	return c
}

// health reports liveness and, when a ledger is configured, whether the
// database answers a ping. A failing ping is reported, not fatal: the
// gateway keeps answering without the ledger.
func health(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ledger := "disabled"
		if db != nil {
			ledger = "ok"
			ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
			defer cancel()
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			if err != nil {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("ledger ping failed")
				ledger = "unavailable"
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "ledger": ledger})
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail on read.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
