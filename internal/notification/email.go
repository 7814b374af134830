package notification

import (
	"context"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"log/slog"
	"net/mail"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"

	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

const defaultSMTPTimeout = 15 * time.Second

// Sender submits messages to an SMTP server. *gomail.Client satisfies it.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// SendLogger records email attempts for operators.
type SendLogger interface {
	LogEmailSend(ctx context.Context, entry storage.EmailSendLogEntry) error
}

// EmailChannel delivers messages over SMTP using go-mail.
type EmailChannel struct {
	config  SMTPConfig
	sender  Sender
	sendLog SendLogger
	logger  *slog.Logger
	now     func() time.Time
}

// EmailOption configures an EmailChannel.
type EmailOption func(*EmailChannel)

// WithSender replaces the SMTP client.
func WithSender(s Sender) EmailOption {
	return func(c *EmailChannel) { c.sender = s }
}

// WithSendLog sets the audit log. Without it attempts are not recorded.
func WithSendLog(l SendLogger) EmailOption {
	return func(c *EmailChannel) { c.sendLog = l }
}

// WithNow sets the clock used for audit timestamps.
func WithNow(now func() time.Time) EmailOption {
	return func(c *EmailChannel) { c.now = now }
}

// NewEmailChannel creates an EmailChannel. Unless WithSender is given, a
// go-mail client is built from config.
func NewEmailChannel(config SMTPConfig, logger *slog.Logger, opts ...EmailOption) (*EmailChannel, error) {
	if config.FromAddr == "" {
		return nil, errors.New("smtp from address is empty")
	}
	if config.Limits == (ratelimit.Limits{}) {
		config.Limits = DefaultEmailLimits()
	}
	c := &EmailChannel{config: config, logger: logger, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	if c.sender == nil {
		client, err := newSMTPClient(config)
		if err != nil {
			return nil, err
		}
		c.sender = client
	}
	return c, nil
}

func newSMTPClient(config SMTPConfig) (*gomail.Client, error) {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultSMTPTimeout
	}
	opts := []gomail.Option{
		gomail.WithPort(config.Port),
		gomail.WithTLSPolicy(tlsPolicyFromEncryption(config.Encryption)),
		gomail.WithTimeout(timeout),
	}
	if config.Encryption == "ssl_tls" {
		opts = append(opts, gomail.WithSSL())
	}
	if config.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(config.Username),
			gomail.WithPassword(config.Password),
		)
	}
	c, err := gomail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}
	return c, nil
}

// tlsPolicyFromEncryption converts the encryption string to a go-mail TLSPolicy.
func tlsPolicyFromEncryption(enc string) gomail.TLSPolicy {
	switch enc {
	case "ssl_tls":
		return gomail.TLSMandatory
	case "starttls":
		return gomail.TLSOpportunistic
	default:
		return gomail.NoTLS
	}
}

// Kind returns storage.ChannelEmail.
func (c *EmailChannel) Kind() storage.Channel { return storage.ChannelEmail }

// RateLimitConfig returns the configured policy.
func (c *EmailChannel) RateLimitConfig() ratelimit.Limits { return c.config.Limits }

// ValidateAddress accepts a bare mailbox such as "anna@example.com".
// Display names and angle brackets are rejected.
func (c *EmailChannel) ValidateAddress(address string) bool {
	a, err := mail.ParseAddress(address)
	if err != nil {
		return false
	}
	return a.Name == "" && a.Address == address
}

// Send submits one message. The Message-ID header becomes the external id.
// Every attempt is written to the send log; a failing log write is only
// logged.
func (c *EmailChannel) Send(ctx context.Context, address string, content render.Content) Result {
	messageID := uuid.NewString() + "@notifier"
	res := c.send(ctx, address, content, messageID)

	entry := storage.EmailSendLogEntry{
		Recipient: address,
		Subject:   content.Subject,
		Status:    "sent",
		CreatedAt: c.now(),
	}
	if id, ok := NotificationIDFromContext(ctx); ok {
		entry.NotificationID = id
	}
	if res.Success {
		entry.MessageID = res.ExternalID
	} else {
		entry.Status = "failed"
		entry.ErrorMsg = res.Error()
	}
	c.audit(ctx, entry)
	return res
}

func (c *EmailChannel) send(ctx context.Context, address string, content render.Content, messageID string) Result {
	m := gomail.NewMsg()
	if err := m.From(c.config.FromAddr); err != nil {
		return Failed(fmt.Errorf("invalid from address: %w", err), false)
	}
	if err := m.To(address); err != nil {
		return Failed(fmt.Errorf("invalid recipient %q: %w", address, err), false)
	}
	m.Subject(content.Subject)
	m.SetMessageIDWithValue(messageID)

	if content.Format == render.FormatHTML {
		html, err := buildEmailHTML(content.Subject, htmltemplate.HTML(content.Body)) //nolint:gosec // body was rendered by html/template
		if err != nil {
			return Failed(fmt.Errorf("building html body: %w", err), false)
		}
		m.SetBodyString(gomail.TypeTextHTML, html)
	} else {
		// Plain text first, branded HTML as the alternative.
		m.SetBodyString(gomail.TypeTextPlain, content.Body)
		if html, err := buildEmailHTML(content.Subject, plainToHTML(content.Body)); err == nil {
			m.AddAlternativeString(gomail.TypeTextHTML, html)
		}
	}

	if err := c.sender.DialAndSendWithContext(ctx, m); err != nil {
		return Failed(err, isRetryableSMTP(err))
	}
	return Sent("<" + messageID + ">")
}

func (c *EmailChannel) audit(ctx context.Context, entry storage.EmailSendLogEntry) {
	if c.sendLog == nil {
		return
	}
	// The audit row is written even when the send context has expired.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := c.sendLog.LogEmailSend(logCtx, entry); err != nil && c.logger != nil {
		c.logger.Warn("failed to write email send log",
			"recipient", entry.Recipient, "status", entry.Status, "error", err)
	}
}

type notificationIDKey struct{}

// WithNotificationID tags ctx with the work item being delivered so that
// channels can reference it in their own records.
func WithNotificationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, notificationIDKey{}, id)
}

// NotificationIDFromContext returns the id set by WithNotificationID.
func NotificationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(notificationIDKey{}).(string)
	return id, ok && id != ""
}
