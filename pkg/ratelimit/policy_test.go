package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", p.MaxRetries)
	}
	if p.DefaultRetryAfter != 2*time.Second {
		t.Errorf("DefaultRetryAfter = %v, want 2s", p.DefaultRetryAfter)
	}
	if p.BaseBackoff != 1*time.Second {
		t.Errorf("BaseBackoff = %v, want 1s", p.BaseBackoff)
	}
}

func TestParseRetryAfter(t *testing.T) {
	def := 2 * time.Second

	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{name: "absent", value: "", want: def},
		{name: "integer", value: "5", want: 5 * time.Second},
		{name: "padded", value: " 7 ", want: 7 * time.Second},
		{name: "zero", value: "0", want: 0},
		{name: "fraction truncated", value: "3.9", want: 3 * time.Second},
		{name: "trailing garbage", value: "4s", want: 4 * time.Second},
		{name: "http date", value: "Wed, 21 Oct 2015 07:28:00 GMT", want: def},
		{name: "garbage", value: "soon", want: def},
		{name: "negative", value: "-5", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.value, def); got != tt.want {
				t.Errorf("ParseRetryAfter(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestPolicyWait(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name       string
		retryAfter string
		attempt    int
		want       time.Duration
	}{
		{name: "default retry-after beats first floor", retryAfter: "", attempt: 0, want: 2 * time.Second},
		{name: "default retry-after ties second floor", retryAfter: "", attempt: 1, want: 2 * time.Second},
		{name: "floor beats default on third retry", retryAfter: "", attempt: 2, want: 4 * time.Second},
		{name: "server value wins", retryAfter: "10", attempt: 2, want: 10 * time.Second},
		{name: "zero retry-after uses floor", retryAfter: "0", attempt: 0, want: 1 * time.Second},
		{name: "malformed falls back to default", retryAfter: "later", attempt: 0, want: 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.retryAfter != "" {
				h.Set("Retry-After", tt.retryAfter)
			}
			if got := p.Wait(h, tt.attempt); got != tt.want {
				t.Errorf("Wait(%q, %d) = %v, want %v", tt.retryAfter, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestIsRateLimited(t *testing.T) {
	if IsRateLimited(nil) {
		t.Error("nil response should not be rate limited")
	}
	if !IsRateLimited(&http.Response{StatusCode: http.StatusTooManyRequests}) {
		t.Error("429 should be rate limited")
	}
	if IsRateLimited(&http.Response{StatusCode: 520}) {
		t.Error("520 should not be rate limited")
	}
}
