package errors

import (
	"context"
	stderrors "errors"
	"strings"
)

// TransientErrorPatterns contains patterns that indicate the orchestrator is
// temporarily unreachable or overloaded. A poll that hits one of these keeps
// going; anything else is still not fatal but is logged louder.
var TransientErrorPatterns = []string{
	// Network errors
	"connection refused",
	"connection reset by peer",
	"connection timed out",
	"context deadline exceeded",
	"i/o timeout",
	"TLS handshake timeout",
	"no such host",
	"network is unreachable",
	"EOF",
	"Client.Timeout exceeded",
	// Orchestrator answers
	"status 429",
	"status 502",
	"status 503",
	"status 504",
}

// IsTransientError checks if err matches a transient error pattern and
// returns the pattern it matched.
func IsTransientError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true, "context deadline exceeded"
	}
	msg := err.Error()
	for _, pattern := range TransientErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true, pattern
		}
	}
	return false, ""
}

// Kind labels err for metrics: "transient", "not_found" or "other".
func Kind(err error, notFound error) string {
	if transient, _ := IsTransientError(err); transient {
		return "transient"
	}
	if notFound != nil && stderrors.Is(err, notFound) {
		return "not_found"
	}
	return "other"
}
