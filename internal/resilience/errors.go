package resilience

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// IsTransient reports whether an error is worth retrying: network-level
// failures, timeouts, and rate-limit or server-side API errors. Context
// cancellation and permission-style failures are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.IsTemporary
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "rate limit", "overloaded",
		"500", "502", "503", "504",
		"connection reset", "broken pipe", "eof",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
