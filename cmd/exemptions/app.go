package main

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/nyc-exemptions/pkg/cache"
	"github.com/Sternrassler/nyc-exemptions/pkg/client"
	"github.com/Sternrassler/nyc-exemptions/pkg/config"
	"github.com/Sternrassler/nyc-exemptions/pkg/diagnostics"
	"github.com/Sternrassler/nyc-exemptions/pkg/logging"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/Sternrassler/nyc-exemptions/pkg/service"
	"github.com/rs/zerolog"
)

// app is the wired lookup stack of one command run.
type app struct {
	cfg    *config.Config
	hub    *diagnostics.Hub
	client *client.Client
	store  cache.Store
	svc    *service.Service
	logger zerolog.Logger
}

func newApp(ctx context.Context, opts *rootOptions, logOutput io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	if opts.token != "" {
		cfg.AppToken = opts.token
	}

	logging.Setup(logging.Config{
		Level:          logging.LogLevel(cfg.LogLevel),
		Pretty:         cfg.LogPretty,
		DetectTerminal: true,
		Output:         logOutput,
	})
	logger := logging.NewLogger("exemptions")

	hub := diagnostics.NewHub(logging.NewLogger("diagnostics"))
	hub.Subscribe(diagnostics.ObserverFunc(func(ev diagnostics.Event) {
		logger.Debug().
			Str("url", ev.URL).
			Int("status", ev.Status).
			Bool("token_sent", ev.TokenSent).
			Int("retries", ev.Retries).
			Bool("rate_limited", ev.RateLimited).
			Msg("Upstream request completed")
	}))

	ccfg := client.DefaultConfig(cfg.AppToken)
	ccfg.DataHost = cfg.DataHost
	ccfg.CredentialHeader = cfg.CredentialHeader
	ccfg.Timeout = cfg.HTTPTimeout
	ccfg.Policy = ratelimit.Policy{
		MaxRetries:        cfg.MaxRetries,
		DefaultRetryAfter: cfg.DefaultRetryAfter,
		BaseBackoff:       cfg.BaseBackoff,
	}
	ccfg.Publisher = hub

	c, err := client.New(ccfg)
	if err != nil {
		hub.Close()
		return nil, fmt.Errorf("create client: %w", err)
	}

	store, err := cache.Open(ctx, cfg.RedisURL, cfg.CacheSize)
	if err != nil {
		c.Close()
		hub.Close()
		return nil, fmt.Errorf("open session cache: %w", err)
	}

	svc := service.New(c, store, service.FromConfig(cfg))
	logger.Debug().
		Str("session", svc.SessionID()).
		Bool("token_present", cfg.AppToken != "").
		Bool("redis", cfg.RedisURL != "").
		Msg("Lookup stack ready")

	return &app{cfg: cfg, hub: hub, client: c, store: store, svc: svc, logger: logger}, nil
}

func (a *app) Close(ctx context.Context) {
	if err := a.svc.Close(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to drop session cache")
	}
	a.store.Close()
	a.client.Close()
	a.hub.Close()
}
