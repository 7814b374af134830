package notification

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/wneessen/go-mail"
	tele "gopkg.in/telebot.v4"
)

// telegramCode matches the "(code)" suffix telebot puts on API errors it has
// no predefined value for.
var telegramCode = regexp.MustCompile(`\((\d{3})\)\s*$`)

// smtpCode matches a reply code at the start of the message or after a colon.
var smtpCode = regexp.MustCompile(`(?:^|:\s*)([45]\d{2})[\s-]`)

// Provider responses meaning the chat will never accept messages from us.
var telegramTerminal = []string{
	"blocked by the user",
	"user is deactivated",
	"peer_id_invalid",
	"chat not found",
	"bot was kicked",
}

// Provider responses meaning "try again later".
var telegramRetryable = []string{
	"too many requests",
	"retry after",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"service unavailable",
}

// isRetryableTelegram reports whether a Bot API send error is worth retrying.
// Unknown errors are terminal.
func isRetryableTelegram(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range telegramTerminal {
		if strings.Contains(msg, s) {
			return false
		}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		return retryableHTTPCode(apiErr.Code)
	}
	if m := telegramCode.FindStringSubmatch(msg); m != nil {
		code, _ := strconv.Atoi(m[1])
		return retryableHTTPCode(code)
	}
	for _, s := range telegramRetryable {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return isNetworkError(err)
}

func retryableHTTPCode(code int) bool {
	return code == 429 || (code >= 500 && code <= 599)
}

// isRetryableSMTP reports whether an SMTP submission error is worth retrying.
// 450/452 (mailbox unavailable or full) and 550/551 (no such user, not local)
// are permanent for this recipient; any other 4xx or 5xx reply is retried.
func isRetryableSMTP(err error) bool {
	if err == nil {
		return false
	}

	code := 0
	temp := false
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		code = sendErr.ErrorCode()
		temp = sendErr.IsTemp()
	}
	var protoErr *textproto.Error
	if code == 0 && errors.As(err, &protoErr) {
		code = protoErr.Code
	}
	if code == 0 {
		if m := smtpCode.FindStringSubmatch(err.Error()); m != nil {
			code, _ = strconv.Atoi(m[1])
		}
	}

	switch code {
	case 450, 452, 550, 551:
		return false
	}
	if code >= 400 && code <= 599 {
		return true
	}
	if isNetworkError(err) {
		return true
	}
	return temp
}

// isNetworkError reports connection level failures: timeouts, refused or
// reset connections and DNS lookups.
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "connection reset", "i/o timeout", "no such host", "timeout", "eof"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
