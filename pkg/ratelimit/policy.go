// Package ratelimit computes how long to wait before retrying a request the
// upstream rejected with HTTP 429 Too Many Requests.
package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Policy bounds 429 retries. The wait before retry n (0-based) is the larger
// of the server's Retry-After and BaseBackoff * 2^n.
type Policy struct {
	// MaxRetries is the number of retries after the initial request.
	MaxRetries int

	// DefaultRetryAfter applies when Retry-After is absent or unparsable.
	DefaultRetryAfter time.Duration

	// BaseBackoff is the exponential backoff floor for the first retry.
	BaseBackoff time.Duration
}

// DefaultPolicy returns three retries, a 2s Retry-After default and a 1s
// backoff floor.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		DefaultRetryAfter: 2 * time.Second,
		BaseBackoff:       1 * time.Second,
	}
}

// IsRateLimited reports whether resp signals rate limiting.
func IsRateLimited(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusTooManyRequests
}

// Wait returns the delay before retry number attempt (0 for the first retry),
// given the headers of the 429 response being retried.
func (p Policy) Wait(headers http.Header, attempt int) time.Duration {
	retryAfter := ParseRetryAfter(headers.Get("Retry-After"), p.DefaultRetryAfter)
	floor := p.BaseBackoff << uint(attempt)
	if retryAfter > floor {
		return retryAfter
	}
	return floor
}

// ParseRetryAfter reads a Retry-After value in whole seconds. Like a lenient
// integer parse it accepts a leading run of digits ("3", "3.5", "3s" all mean
// 3s). Anything without leading digits yields def; negative values yield 0.
func ParseRetryAfter(value string, def time.Duration) time.Duration {
	v := strings.TrimSpace(value)
	negative := false
	if strings.HasPrefix(v, "-") || strings.HasPrefix(v, "+") {
		negative = v[0] == '-'
		v = v[1:]
	}

	seconds := 0
	digits := 0
	for _, r := range v {
		if r < '0' || r > '9' {
			break
		}
		// Cap to avoid overflow on absurd values.
		if seconds < 1<<20 {
			seconds = seconds*10 + int(r-'0')
		}
		digits++
	}

	if digits == 0 {
		return def
	}
	if negative {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
