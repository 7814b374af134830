package notification

import (
	"time"

	"github.com/studiodesk/notifier/internal/ratelimit"
)

// TelegramConfig holds the bot transport settings.
type TelegramConfig struct {
	Token   string        `json:"-"`
	APIURL  string        `json:"api_url"`
	Timeout time.Duration `json:"timeout"`
	Limits  ratelimit.Limits
}

// DefaultTelegramLimits matches the Bot API's global broadcast allowance.
func DefaultTelegramLimits() ratelimit.Limits {
	return ratelimit.Limits{MaxPerSecond: 30}
}

// SMTPConfig holds connection parameters for the SMTP transport.
type SMTPConfig struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	Username   string        `json:"username"`
	Password   string        `json:"-"`
	FromAddr   string        `json:"from_address"`
	Encryption string        `json:"encryption"` // "none", "starttls", "ssl_tls"
	Timeout    time.Duration `json:"timeout"`
	Limits     ratelimit.Limits
}

// DefaultEmailLimits keeps well inside typical shared SMTP relay quotas.
func DefaultEmailLimits() ratelimit.Limits {
	return ratelimit.Limits{
		MaxPerSecond: 1,
		MaxPerHour:   ratelimit.Cap(20),
		MaxPerDay:    ratelimit.Cap(500),
	}
}
