package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata" // Timezone must resolve in minimal containers.

	"github.com/kelseyhightower/envconfig"

	"github.com/studiodesk/notifier/internal/notification"
	"github.com/studiodesk/notifier/internal/ratelimit"
)

// AppConfig holds all application-level configuration loaded from environment variables.
type AppConfig struct {
	// Port is the HTTP server port. Defaults to 8990.
	Port int `envconfig:"PORT" default:"8990"`

	// DataDir is the root data directory. Defaults to ~/.notifier.
	DataDir string `envconfig:"NOTIFIER_DATA_DIR"`

	// DBPath overrides the SQLite file location. Defaults to <DataDir>/notifier.db.
	DBPath string `envconfig:"NOTIFIER_DB_PATH"`

	// LogLevel sets the minimum log level (debug, info, warn, error). Defaults to info.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Log rotation for <DataDir>/logs/system.log.
	LogMaxSizeMB  int `envconfig:"LOG_MAX_SIZE_MB" default:"50"`
	LogMaxBackups int `envconfig:"LOG_MAX_BACKUPS" default:"5"`
	LogMaxAgeDays int `envconfig:"LOG_MAX_AGE_DAYS" default:"28"`

	// Timezone is used by the date helpers in templates.
	Timezone string `envconfig:"NOTIFIER_TIMEZONE" default:"Europe/Moscow"`

	// TemplatesFile is an optional YAML file of templates upserted at startup.
	TemplatesFile string `envconfig:"NOTIFIER_TEMPLATES_FILE"`

	// CORSOrigins lists origins allowed to call the API, comma separated.
	CORSOrigins []string `envconfig:"NOTIFIER_CORS_ORIGINS"`

	// Dispatcher tuning.
	TickInterval      time.Duration `envconfig:"NOTIFIER_TICK_INTERVAL" default:"1s"`
	BatchSize         int           `envconfig:"NOTIFIER_BATCH_SIZE" default:"50"`
	Workers           int           `envconfig:"NOTIFIER_WORKERS" default:"4"`
	SendTimeout       time.Duration `envconfig:"NOTIFIER_SEND_TIMEOUT" default:"15s"`
	MaxAttempts       int           `envconfig:"NOTIFIER_MAX_ATTEMPTS" default:"5"`
	RetryBaseDelay    time.Duration `envconfig:"NOTIFIER_RETRY_BASE_DELAY" default:"30s"`
	RetryMaxDelay     time.Duration `envconfig:"NOTIFIER_RETRY_MAX_DELAY" default:"2h"`
	StaleAfter        time.Duration `envconfig:"NOTIFIER_STALE_AFTER" default:"10m"`
	MassSendTestLimit int           `envconfig:"NOTIFIER_MASS_SEND_TEST_LIMIT" default:"10"`

	// Telegram channel. The channel is disabled when the token is empty.
	// A zero hourly or daily cap means no cap.
	TelegramBotToken     string `envconfig:"TELEGRAM_BOT_TOKEN"`
	TelegramAPIURL       string `envconfig:"TELEGRAM_API_URL" default:"https://api.telegram.org"`
	TelegramMaxPerSecond int    `envconfig:"TELEGRAM_MAX_PER_SECOND" default:"30"`
	TelegramMaxPerHour   int    `envconfig:"TELEGRAM_MAX_PER_HOUR" default:"0"`
	TelegramMaxPerDay    int    `envconfig:"TELEGRAM_MAX_PER_DAY" default:"0"`

	// Email channel. The channel is disabled when the host is empty.
	SMTPHost          string `envconfig:"SMTP_HOST"`
	SMTPPort          int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUsername      string `envconfig:"SMTP_USERNAME"`
	SMTPPassword      string `envconfig:"SMTP_PASSWORD"`
	SMTPFrom          string `envconfig:"SMTP_FROM"`
	SMTPEncryption    string `envconfig:"SMTP_ENCRYPTION" default:"starttls"`
	EmailMaxPerSecond int    `envconfig:"EMAIL_MAX_PER_SECOND" default:"1"`
	EmailMaxPerHour   int    `envconfig:"EMAIL_MAX_PER_HOUR" default:"20"`
	EmailMaxPerDay    int    `envconfig:"EMAIL_MAX_PER_DAY" default:"500"`
}

// Load reads AppConfig from environment variables using envconfig.
// DataDir defaults to ~/.notifier if not set.
func Load() (*AppConfig, error) {
	var c AppConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".notifier")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects settings the dispatcher cannot run with.
func (c *AppConfig) Validate() error {
	var errs []error
	if c.TickInterval <= 0 {
		errs = append(errs, errors.New("NOTIFIER_TICK_INTERVAL must be positive"))
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, errors.New("NOTIFIER_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs = append(errs, errors.New("NOTIFIER_RETRY_MAX_DELAY must not be below NOTIFIER_RETRY_BASE_DELAY"))
	}
	if c.SMTPHost != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_HOST is set"))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("NOTIFIER_TIMEZONE: %w", err))
	}
	return errors.Join(errs...)
}

// SlogLevel converts the LogLevel string to a slog.Level.
// Unknown values default to slog.LevelInfo.
func (c *AppConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogDir returns the path to the log directory (~/.notifier/logs).
func (c *AppConfig) LogDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// DatabasePath returns the SQLite file path.
func (c *AppConfig) DatabasePath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.DataDir, "notifier.db")
}

// Location returns the configured template timezone, UTC if it cannot be loaded.
func (c *AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// TelegramEnabled reports whether a bot token is configured.
func (c *AppConfig) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// EmailEnabled reports whether an SMTP relay is configured.
func (c *AppConfig) EmailEnabled() bool {
	return c.SMTPHost != ""
}

// TelegramConfig returns the Telegram transport settings.
func (c *AppConfig) TelegramConfig() notification.TelegramConfig {
	return notification.TelegramConfig{
		Token:   c.TelegramBotToken,
		APIURL:  c.TelegramAPIURL,
		Timeout: c.SendTimeout,
		Limits:  limits(c.TelegramMaxPerSecond, c.TelegramMaxPerHour, c.TelegramMaxPerDay),
	}
}

// SMTPConfig returns the email transport settings.
func (c *AppConfig) SMTPConfig() notification.SMTPConfig {
	return notification.SMTPConfig{
		Host:       c.SMTPHost,
		Port:       c.SMTPPort,
		Username:   c.SMTPUsername,
		Password:   c.SMTPPassword,
		FromAddr:   c.SMTPFrom,
		Encryption: c.SMTPEncryption,
		Timeout:    c.SendTimeout,
		Limits:     limits(c.EmailMaxPerSecond, c.EmailMaxPerHour, c.EmailMaxPerDay),
	}
}

func limits(perSecond, perHour, perDay int) ratelimit.Limits {
	l := ratelimit.Limits{MaxPerSecond: perSecond}
	if perHour > 0 {
		l.MaxPerHour = ratelimit.Cap(perHour)
	}
	if perDay > 0 {
		l.MaxPerDay = ratelimit.Cap(perDay)
	}
	return l
}
