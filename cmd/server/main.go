package main // Entry point package

import (
	"context"
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/skolkollen/consent-core/internal/config"
	"github.com/skolkollen/consent-core/internal/database"
	"github.com/skolkollen/consent-core/internal/handler"
	"github.com/skolkollen/consent-core/internal/jobs"
	"github.com/skolkollen/consent-core/internal/queue"
	"github.com/skolkollen/consent-core/internal/repository"
	"github.com/skolkollen/consent-core/internal/router"
	"github.com/skolkollen/consent-core/internal/service"
)

func main() {
	_ = godotenv.Load() // .env is optional; real deployments use the environment
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	// Redis is optional: a nil client disables rate limiting and caching.
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Printf("redis unavailable; rate limiting and caching disabled")
	}

	tokenRepo := repository.NewTokenRepo(db)
	consentRepo := repository.NewConsentRepo(db)
	notifRepo := repository.NewNotificationRepo(db)
	sessionRepo := repository.NewSessionRepo(db)
	jobRepo := repository.NewCleanupJobRepo(db)

	tokens := service.NewTokenService(tokenRepo, cfg.BaseURL, cfg.EmailTokenTTL, cfg.AccessCodeTTL)
	mailer := service.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom)
	notifications := service.NewNotificationService(notifRepo, mailer, tokens)
	retention := service.NewRetentionService(sessionRepo, jobRepo, &queue.Publisher{}, cfg.IdleWindow, cfg.LongRetention)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	jobs.StartTokenSweep(ctx, tokens, cfg.TokenSweepInterval)
	jobs.StartCleanupSweep(ctx, retention, cfg.CleanupSweepInterval)
	jobs.StartReminderSweep(ctx, consentRepo, notifications, cfg.ReminderInterval, cfg.ReminderAfter)

	// The audit consumer keeps its own reconnect loop.
	go func() {
		if err := queue.StartRetentionAuditConsumer(); err != nil {
			log.Printf("audit consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	router.RegisterRoutes(e)
	router.RegisterConsent(e, handler.NewConsentHandler(cfg, consentRepo, tokens, notifications, retention), cfg, rdb)
	router.RegisterRedeem(e, handler.NewRedeemHandler(cfg, tokens), rdb)
	router.RegisterRetention(e, handler.NewSessionHandler(retention), cfg, rdb)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
