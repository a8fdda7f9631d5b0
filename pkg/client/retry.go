package client

import (
	"fmt"
	"io"
	"net/http"

	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for 429 retries.
var (
	upstreamRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exemptions_upstream_rate_limited_total",
		Help: "Total logical requests that received at least one 429",
	})

	upstreamRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exemptions_upstream_retries_total",
		Help: "Total number of retry attempts after a 429",
	})

	upstreamRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exemptions_upstream_retry_backoff_seconds",
		Help:    "Backoff duration before a 429 retry",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 60},
	})

	upstreamRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "exemptions_upstream_retry_exhausted_total",
		Help: "Total number of times the 429 retry budget was exhausted",
	})
)

type retryOutcome struct {
	retries     int
	rateLimited bool
}

// retryRateLimited re-sends req while the upstream answers 429 and the retry
// budget lasts. It returns the last response received, which is still a 429
// when the budget runs out. Transport errors and context cancellation during
// backoff end the loop with an error.
func (c *Client) retryRateLimited(req *http.Request, resp *http.Response) (*http.Response, retryOutcome, error) {
	var outcome retryOutcome
	if !ratelimit.IsRateLimited(resp) {
		return resp, outcome, nil
	}

	outcome.rateLimited = true
	upstreamRateLimitedTotal.Inc()
	ctx := req.Context()
	policy := c.config.Policy

	for ratelimit.IsRateLimited(resp) && outcome.retries < policy.MaxRetries {
		wait := policy.Wait(resp.Header, outcome.retries)
		discard(resp)

		upstreamRetriesTotal.Inc()
		upstreamRetryBackoffSeconds.Observe(wait.Seconds())
		c.logger.Warn().
			Str("url", req.URL.String()).
			Int("attempt", outcome.retries+1).
			Dur("wait", wait).
			Msg("Rate limited, backing off before retry")

		if err := c.config.Sleep(ctx, wait); err != nil {
			c.logger.Warn().
				Str("url", req.URL.String()).
				Int("attempt", outcome.retries+1).
				Msg("Context cancelled during retry backoff")
			return nil, outcome, err
		}

		next, err := rewind(req)
		if err != nil {
			return nil, outcome, err
		}

		resp, err = c.send(next)
		if err != nil {
			c.logger.Error().Err(err).Str("url", req.URL.String()).Msg("Upstream retry failed")
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			return nil, outcome, err
		}
		outcome.retries++
	}

	if ratelimit.IsRateLimited(resp) {
		upstreamRetryExhaustedTotal.Inc()
		c.logger.Warn().
			Str("url", req.URL.String()).
			Int("retries", outcome.retries).
			Msg("Retry attempts exhausted, returning rate limited response")
	} else {
		c.logger.Info().
			Str("url", req.URL.String()).
			Int("retries", outcome.retries).
			Msg("Request succeeded after retry")
	}

	return resp, outcome, nil
}

// rewind returns a copy of req with a fresh body, for re-sending.
func rewind(req *http.Request) (*http.Request, error) {
	next := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewind request body: %w", err)
		}
		next.Body = body
	}
	return next, nil
}

// discard drains and closes a response that will not be returned.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
