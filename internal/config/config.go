package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"docketra/internal/models"
	"docketra/internal/validation"

	"github.com/joho/godotenv"
)

const (
	CalendarGoogle = "google"
	CalendarCalDAV = "caldav"

	MailGmail = "gmail"
	MailIMAP  = "imap"

	devDatabaseURL = "host=localhost port=5432 user=postgres password=postgres dbname=docketra sslmode=disable"
)

type RedisConfig struct {
	Enabled  bool
	Address  string `validate:"required_if=Enabled true"`
	Password string
	DB       int
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	CalendarID   string
}

type CalDAVConfig struct {
	Endpoint     string `validate:"omitempty,url"`
	Username     string
	Password     string
	CalendarName string
}

type MailConfig struct {
	IMAPAddr   string
	IMAPTLS    bool
	IMAPFolder string
	Username   string
	Password   string
	SMTPHost   string
	SMTPPort   int    `validate:"gte=0,lte=65535"`
	FromEmail  string `validate:"omitempty,email"`
	SyncMax    int64  `validate:"gte=1,lte=500"`
}

// Config is everything the service reads from the environment.
type Config struct {
	Environment string `validate:"oneof=development staging production test"`
	ServerPort  string `validate:"required,numeric"`
	LogLevel    string `validate:"oneof=debug info warn error"`

	DatabaseURL    string
	DBMaxIdleConns int `validate:"gte=0"`
	DBMaxOpenConns int `validate:"gte=1"`

	CalendarProvider string `validate:"oneof=google caldav"`
	MailProvider     string `validate:"oneof=gmail imap"`
	Google           GoogleConfig
	CalDAV           CalDAVConfig
	Mail             MailConfig
	Redis            RedisConfig

	SentryDSN string

	PrimaryTimezone string
	Location        *time.Location `validate:"-"`
	SyncPastDays    int            `validate:"gte=1"`
	SyncFutureDays  int            `validate:"gte=1"`
	RateLimitSync   int            `validate:"gte=1"`
}

// Load reads an optional .env file then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds and validates a Config from the environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		LogLevel:    strings.ToLower(getEnv("LOG_LEVEL", "info")),

		DatabaseURL:    getEnv("DATABASE_URL", ""),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 50),

		CalendarProvider: strings.ToLower(getEnv("CALENDAR_PROVIDER", CalendarGoogle)),
		MailProvider:     strings.ToLower(getEnv("MAIL_PROVIDER", MailGmail)),
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
			CalendarID:   getEnv("GOOGLE_CALENDAR_ID", "primary"),
		},
		CalDAV: CalDAVConfig{
			Endpoint:     getEnv("CALDAV_ENDPOINT", "https://caldav.icloud.com/"),
			Username:     getEnv("ICLOUD_USERNAME", ""),
			Password:     getEnv("ICLOUD_APP_SPECIFIC_PASSWORD", ""),
			CalendarName: getEnv("ICLOUD_CALENDAR_NAME", "Docketra"),
		},
		Mail: MailConfig{
			IMAPAddr:   getEnv("IMAP_ADDR", ""),
			IMAPTLS:    getEnvAsBool("IMAP_TLS", true),
			IMAPFolder: getEnv("IMAP_FOLDER", "INBOX"),
			Username:   getEnv("MAIL_USERNAME", ""),
			Password:   getEnv("MAIL_PASSWORD", ""),
			SMTPHost:   getEnv("SMTP_HOST", ""),
			SMTPPort:   getEnvAsInt("SMTP_PORT", 587),
			FromEmail:  getEnv("FROM_EMAIL", ""),
			SyncMax:    int64(getEnvAsInt("EMAIL_SYNC_MAX", 50)),
		},
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},

		SentryDSN: getEnv("SENTRY_DSN", ""),

		PrimaryTimezone: getEnv("PRIMARY_TIMEZONE", "UTC"),
		SyncPastDays:    getEnvAsInt("SYNC_PAST_DAYS", 90),
		SyncFutureDays:  getEnvAsInt("SYNC_FUTURE_DAYS", 365),
		RateLimitSync:   getEnvAsInt("RATE_LIMIT_SYNC", 10),
	}

	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	loc, err := time.LoadLocation(cfg.PrimaryTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone '%s': %w", cfg.PrimaryTimezone, err)
	}
	cfg.Location = loc

	if cfg.DatabaseURL == "" {
		if cfg.Environment == "production" {
			return nil, fmt.Errorf("DATABASE_URL is required in production")
		}
		cfg.DatabaseURL = devDatabaseURL
	}
	return cfg, nil
}

// SyncWindow returns the reconciliation window around now.
func (c *Config) SyncWindow(now time.Time) models.Window {
	day := 24 * time.Hour
	return models.WindowAround(now, time.Duration(c.SyncPastDays)*day, time.Duration(c.SyncFutureDays)*day)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return value
}
