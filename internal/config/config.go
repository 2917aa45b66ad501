package config // package config loads application configuration from environment variables

import (
	"log" // log is used to report configuration errors and halt execution
	"os"  // os provides access to environment variables
	"time"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable. Durations controlling token lifetimes and sweep
// cadences have defaults matching the retention policy and can be tuned per
// environment.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to sign and verify JWTs
	BaseURL   string // deployment origin used to build consent action URLs

	EmailTokenTTL    time.Duration // lifetime of email/QR tokens (default 72h)
	AccessCodeTTL    time.Duration // lifetime of 8-digit access codes (default 24h)
	DecisionTokenTTL time.Duration // lifetime of the post-redemption decision JWT (default 15m)
	IdleWindow       time.Duration // rolling inactivity window before purge (default 4h)
	LongRetention    time.Duration // policy bound for consented long-term data (default 8760h)
	ConsentTTL       time.Duration // how long an undecided consent request stays open (default 720h)

	TokenSweepInterval   time.Duration // cadence of the expired-token sweep (default 1h)
	CleanupSweepInterval time.Duration // cadence of the cleanup-job sweep (default 30m)
	ReminderInterval     time.Duration // cadence of the reminder check (default 6h)
	ReminderAfter        time.Duration // minimum age of a pending consent before reminding (default 24h)

	SMTPHost string // mail relay host
	SMTPPort int    // mail relay port
	SMTPUser string // mail relay username (empty disables auth)
	SMTPPass string // mail relay password
	SMTPFrom string // sender address on guardian mail
}

// Load reads configuration values from environment variables and returns a
// Config. Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),
		BaseURL:   must("BASE_URL"),

		EmailTokenTTL:    envDur("EMAIL_TOKEN_TTL", 72*time.Hour),
		AccessCodeTTL:    envDur("ACCESS_CODE_TTL", 24*time.Hour),
		DecisionTokenTTL: envDur("DECISION_TOKEN_TTL", 15*time.Minute),
		IdleWindow:       envDur("SESSION_IDLE_WINDOW", 4*time.Hour),
		LongRetention:    envDur("LONG_RETENTION", 365*24*time.Hour),
		ConsentTTL:       envDur("CONSENT_TTL", 720*time.Hour),

		TokenSweepInterval:   envDur("TOKEN_SWEEP_INTERVAL", time.Hour),
		CleanupSweepInterval: envDur("CLEANUP_SWEEP_INTERVAL", 30*time.Minute),
		ReminderInterval:     envDur("REMINDER_INTERVAL", 6*time.Hour),
		ReminderAfter:        envDur("REMINDER_AFTER", 24*time.Hour),

		SMTPHost: getenv("SMTP_HOST", "localhost"),
		SMTPPort: atoi(getenv("SMTP_PORT", "587")),
		SMTPUser: os.Getenv("SMTP_USER"),
		SMTPPass: os.Getenv("SMTP_PASS"),
		SMTPFrom: getenv("SMTP_FROM", "noreply@skolkollen.se"),
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}
