// Package client provides the upstream open data HTTP client: app token
// injection for the data host, bounded retry on HTTP 429, and one diagnostic
// event per logical request.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/diagnostics"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exemptions_upstream_requests_total",
		Help: "Total upstream requests by host and final status",
	}, []string{"host", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exemptions_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds, including retries",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"host"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exemptions_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// DataHost is the upstream host suffix the credential is sent to.
	DataHost string

	// AppToken is the static API credential. Empty disables injection.
	AppToken string

	// CredentialHeader names the header carrying AppToken.
	CredentialHeader string

	// UserAgent is sent when the request has none.
	UserAgent string

	// Timeout per HTTP attempt.
	Timeout time.Duration

	// Policy bounds 429 retries.
	Policy ratelimit.Policy

	// Publisher receives one event per logical request. Optional.
	Publisher diagnostics.Publisher

	// Sleep waits between retries. Defaults to ratelimit.Sleep.
	Sleep ratelimit.SleepFunc

	// Now stamps diagnostic events. Defaults to time.Now.
	Now func() time.Time
}

// DefaultConfig returns a configuration for the NYC open data host.
func DefaultConfig(appToken string) Config {
	return Config{
		DataHost:         "data.cityofnewyork.us",
		AppToken:         appToken,
		CredentialHeader: "X-App-Token",
		UserAgent:        "nyc-exemptions/0.1.0",
		Timeout:          30 * time.Second,
		Policy:           ratelimit.DefaultPolicy(),
	}
}

// Client is the upstream HTTP client.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a new client.
func New(cfg Config) (*Client, error) {
	if cfg.DataHost == "" {
		return nil, fmt.Errorf("data host is required")
	}

	if cfg.AppToken != "" && cfg.CredentialHeader == "" {
		return nil, fmt.Errorf("credential header is required when an app token is set")
	}

	if cfg.Policy.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must be >= 0 (got %d)", cfg.Policy.MaxRetries)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	logger := log.With().Str("component", "socrata-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
		logger: logger,
	}, nil
}

// Do sends req like http.Client.Do, except that it attaches the app token for
// the data host and retries 429 responses within the policy budget. The final
// response is returned as-is, including a final 429. Transport errors are
// returned unmodified and are not retried.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, fmt.Errorf("request with URL is required")
	}

	host := req.URL.Hostname()
	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(host).Observe(time.Since(startTime).Seconds())
	}()

	out, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	tokenSent := c.config.CredentialHeader != "" && out.Header.Get(c.config.CredentialHeader) != ""

	c.logger.Debug().
		Str("url", out.URL.String()).
		Str("method", out.Method).
		Bool("token_sent", tokenSent).
		Msg("Executing upstream request")

	resp, err := c.send(out)
	if err != nil {
		c.logger.Error().Err(err).Str("url", out.URL.String()).Msg("Upstream request failed")
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(host, "network_error").Inc()
		return nil, err
	}

	resp, outcome, err := c.retryRateLimited(out, resp)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues(host, "network_error").Inc()
		return nil, err
	}

	upstreamRequestsTotal.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	if class := classifyStatus(resp.StatusCode); class != "" {
		upstreamErrorsTotal.WithLabelValues(string(class)).Inc()
		c.logger.Warn().
			Str("url", out.URL.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream returned non-OK status")
	}

	c.publish(diagnostics.Event{
		URL:         out.URL.String(),
		Status:      resp.StatusCode,
		TokenSent:   tokenSent,
		Retries:     outcome.retries,
		RateLimited: outcome.rateLimited,
		Time:        c.config.Now().UTC(),
	})

	return resp, nil
}

// Get performs a GET request to an absolute URL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// prepare clones req with credential and default headers applied, and makes
// the body replayable for retries.
func (c *Client) prepare(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
		out.Body, _ = out.GetBody()
	}

	if c.shouldAttachToken(out) {
		out.Header.Set(c.config.CredentialHeader, c.config.AppToken)
	}
	if c.config.UserAgent != "" && out.Header.Get("User-Agent") == "" {
		out.Header.Set("User-Agent", c.config.UserAgent)
	}
	if out.Header.Get("Accept") == "" {
		out.Header.Set("Accept", "application/json")
	}

	return out, nil
}

func (c *Client) shouldAttachToken(req *http.Request) bool {
	if c.config.AppToken == "" {
		return false
	}
	if req.Header.Get(c.config.CredentialHeader) != "" {
		return false
	}
	return hostMatches(req.URL.Hostname(), c.config.DataHost)
}

// hostMatches reports whether host is dataHost or one of its subdomains.
func hostMatches(host, dataHost string) bool {
	host = strings.ToLower(host)
	dataHost = strings.ToLower(dataHost)
	return host == dataHost || strings.HasSuffix(host, "."+dataHost)
}

// send executes one attempt.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	return c.httpClient.Do(req)
}

func (c *Client) publish(ev diagnostics.Event) {
	if c.config.Publisher == nil {
		return
	}
	c.config.Publisher.Publish(ev)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
