package providers

import (
	"net/http"
	"strconv"
	"time"
)

// parseRetryAfterHeader extracts a Retry-After value in whole seconds from
// response headers. Handles both delta-seconds and HTTP-date forms; returns
// zero when absent or unparseable.
func parseRetryAfterHeader(headers http.Header) int {
	value := headers.Get("Retry-After")
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0
		}
		return seconds
	}

	if t, err := http.ParseTime(value); err == nil {
		if wait := time.Until(t); wait > 0 {
			return int(wait.Seconds())
		}
	}

	return 0
}
