package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"syscall"
)

// RateLimiter is implemented by errors that represent a rate-limit response
// from a remote service.
type RateLimiter interface {
	RateLimited() bool
}

// IsTransient reports whether err is a network timeout, a connection
// failure, or a rate-limit response. Everything else, including
// cancellation, is permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var rl RateLimiter
	if errors.As(err, &rl) && rl.RateLimited() {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
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
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary || dnsErr.IsTimeout
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9_-]{16,}`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(x-api-key[:=]\s*)\S+`),
}

// RedactedPlaceholder replaces secrets removed by Redact.
const RedactedPlaceholder = "[API_KEY_REDACTED]"

// Redact replaces API keys and bearer tokens in msg with RedactedPlaceholder.
func Redact(msg string) string {
	for _, re := range secretPatterns {
		if re.NumSubexp() > 0 {
			msg = re.ReplaceAllString(msg, "${1}"+RedactedPlaceholder)
		} else {
			msg = re.ReplaceAllString(msg, RedactedPlaceholder)
		}
	}
	return msg
}
