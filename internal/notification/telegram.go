package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/studiodesk/notifier/internal/ratelimit"
	"github.com/studiodesk/notifier/internal/render"
	"github.com/studiodesk/notifier/internal/storage"
)

const defaultTelegramTimeout = 15 * time.Second

// Group and channel chats have negative ids.
var chatIDPattern = regexp.MustCompile(`^-?\d+$`)

// TelegramChannel delivers messages through the Telegram Bot API.
type TelegramChannel struct {
	bot    *tele.Bot
	limits ratelimit.Limits
}

// NewTelegramChannel creates the bot client. It does not contact Telegram.
func NewTelegramChannel(cfg TelegramConfig) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTelegramTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  &http.Client{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", err)
	}
	limits := cfg.Limits
	if limits == (ratelimit.Limits{}) {
		limits = DefaultTelegramLimits()
	}
	return &TelegramChannel{bot: b, limits: limits}, nil
}

// Kind returns storage.ChannelTelegram.
func (c *TelegramChannel) Kind() storage.Channel { return storage.ChannelTelegram }

// ValidateAddress accepts numeric chat ids.
func (c *TelegramChannel) ValidateAddress(address string) bool {
	return chatIDPattern.MatchString(address)
}

// RateLimitConfig returns the configured policy.
func (c *TelegramChannel) RateLimitConfig() ratelimit.Limits { return c.limits }

// Send posts content.Body to the chat. The HTTP client timeout bounds the
// call; ctx is checked before sending.
func (c *TelegramChannel) Send(ctx context.Context, address string, content render.Content) Result {
	if err := ctx.Err(); err != nil {
		return Failed(err, true)
	}
	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return Failed(fmt.Errorf("invalid chat id %q", address), false)
	}

	opts := &tele.SendOptions{DisableWebPagePreview: true}
	switch content.Format {
	case render.FormatMarkdown:
		opts.ParseMode = tele.ModeMarkdown
	case render.FormatHTML:
		opts.ParseMode = tele.ModeHTML
	}

	msg, err := c.bot.Send(&tele.Chat{ID: chatID}, content.Body, opts)
	if err != nil {
		return Failed(err, isRetryableTelegram(err))
	}
	return Sent(strconv.Itoa(msg.ID))
}

// Verify calls getMe to check the token and returns the bot's username.
func (c *TelegramChannel) Verify(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := c.bot.Raw("getMe", nil)
	if err != nil {
		return "", fmt.Errorf("calling telegram getMe: %w", err)
	}
	var resp struct {
		Result tele.User `json:"result"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parsing telegram getMe response: %w", err)
	}
	return resp.Result.Username, nil
}
