package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/skolkollen/consent-core/internal/config"
	"github.com/skolkollen/consent-core/internal/handler"
	"github.com/skolkollen/consent-core/internal/middleware"
)

// RegisterRoutes registers routes that do not require authentication on the
// provided Echo instance. Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterConsent wires the consent lifecycle. Staff endpoints live under
// /v1 behind JWT + role middleware; the guardian decision endpoint is
// guarded by the short-lived decision token instead.
func RegisterConsent(e *echo.Echo, h *handler.ConsentHandler, cfg config.Config, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	staff := e.Group("/v1")
	staff.Use(middleware.JWTAuth(cfg.JWTSecret))
	staff.Use(middleware.RequireRole("TEACHER", "ADMIN"))
	staff.POST("/consents", h.CreateConsentRequest)
	staff.POST("/consents/:id/remind", h.Remind)
	staff.POST("/consents/:id/revoke", h.Revoke)
	staff.GET("/consents/:id/qr", h.QRCode)
	// Read-heavy audit surfaces sit behind the response cache.
	staff.GET("/consents/:id/notifications", h.ListNotifications, cache)
	staff.GET("/consents/:id/tokens/stats", h.TokenStats, cache)
	staff.GET("/tokens/stats", h.TokenStats, cache)

	// The guardian proved possession of a one-time grant at redemption and
	// carries only the decision token issued there.
	guardian := e.Group("/v1")
	guardian.Use(middleware.GuardianAuth(cfg.JWTSecret))
	guardian.POST("/consents/:id/decision", h.Decide)
}

// RegisterRedeem wires the unauthenticated redemption endpoints behind the
// rate limiter: the 8-digit code space must not be guessable at line rate.
func RegisterRedeem(e *echo.Echo, h *handler.RedeemHandler, rdb *redis.Client) {
	limit := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)
	g := e.Group("/v1/redeem", limit)
	g.POST("/token", h.RedeemToken)
	g.POST("/code", h.RedeemCode)
}

// RegisterRetention wires the session lifecycle and retention ops surface.
// The quiz application calls these with its own staff-scoped service token.
func RegisterRetention(e *echo.Echo, h *handler.SessionHandler, cfg config.Config, rdb *redis.Client) {
	cache := middleware.NewRedisCache(config.LoadCacheConfig(), rdb)

	g := e.Group("/v1")
	g.Use(middleware.JWTAuth(cfg.JWTSecret))
	g.Use(middleware.RequireRole("TEACHER", "ADMIN", "SERVICE"))
	g.POST("/sessions", h.CreateSession)
	g.POST("/sessions/:id/activity", h.Activity)
	g.POST("/sessions/:id/results", h.AppendResult)
	g.POST("/retention/withdraw", h.Withdraw)
	g.GET("/retention/stats", h.Stats, cache)
}
