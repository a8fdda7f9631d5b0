// Package service runs the parcel lookup flow: input validation, lookup
// tables, year probing, the all-years record load, PLUTO details and the CSV
// export.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/availability"
	"github.com/Sternrassler/nyc-exemptions/pkg/cache"
	"github.com/Sternrassler/nyc-exemptions/pkg/config"
	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/export"
	"github.com/Sternrassler/nyc-exemptions/pkg/lookups"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/pluto"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/Sternrassler/nyc-exemptions/pkg/repository"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	lookupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exemptions_lookups_total",
		Help: "Total parcel lookups by outcome",
	}, []string{"outcome"}) // "ok", "invalid", "superseded", "error"

	exportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exemptions_exports_total",
		Help: "Total CSV exports by outcome",
	}, []string{"outcome"}) // "ok", "no_data", "invalid", "error"
)

// ErrNoParcel indicates an export without a valid current parcel.
var ErrNoParcel = errors.New("missing or invalid parcel ID")

// Config holds the service configuration.
type Config struct {
	ExemptionsURL string
	CodeLookupURL string
	SchemaURL     string
	PlutoURL      string

	MinYear         int
	RecordLimit     int
	ExportYearLimit int
	ProbeDelay      time.Duration
	ExportDelay     time.Duration
	SessionTTL      time.Duration

	// Sleep paces probe and export queries. Defaults to ratelimit.Sleep.
	Sleep ratelimit.SleepFunc

	// Now drives the current year and export timestamps. Defaults to
	// time.Now.
	Now func() time.Time
}

// FromConfig maps the application configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		ExemptionsURL:   c.ExemptionsURL,
		CodeLookupURL:   c.CodeLookupURL,
		SchemaURL:       c.SchemaURL,
		PlutoURL:        c.PlutoURL,
		MinYear:         c.MinYear,
		RecordLimit:     c.RecordLimit,
		ExportYearLimit: c.ExportYearLimit,
		ProbeDelay:      c.ProbeDelay,
		ExportDelay:     c.ExportDelay,
		SessionTTL:      c.SessionTTL,
	}
}

// View is a year selection over the loaded records, sorted for display.
type View struct {
	Parcel    parcel.ID            `json:"parid"`
	Selection exemptions.Selection `json:"selection"`
	Records   []exemptions.Record  `json:"records"`
	Years     availability.Map     `json:"years"`
	Summary   string               `json:"summary"`
}

// Result is the outcome of a search.
type Result struct {
	View
	Pluto      pluto.Details `json:"pluto"`
	PlutoFound bool          `json:"pluto_found"`
}

// File is a rendered download.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service runs lookups for one session.
type Service struct {
	session   *repository.Session
	store     cache.Store
	repo      *repository.Repository
	prober    *availability.Prober
	lookups   *lookups.Loader
	pluto     *pluto.Client
	collector *export.Collector
	config    Config
	logger    zerolog.Logger
}

// New creates a service with a fresh session. store may be nil.
func New(fetcher socrata.Fetcher, store cache.Store, cfg Config) *Service {
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	session := repository.NewSession()

	return &Service{
		session: session,
		store:   store,
		repo: repository.New(fetcher, session, repository.Config{
			ResourceURL: cfg.ExemptionsURL,
			Limit:       cfg.RecordLimit,
		}),
		prober: availability.NewProber(fetcher, availability.Config{
			ResourceURL: cfg.ExemptionsURL,
			Delay:       cfg.ProbeDelay,
			Sleep:       cfg.Sleep,
		}),
		lookups: lookups.NewLoader(fetcher, store, session.ID(), lookups.Config{
			CodeLookupURL: cfg.CodeLookupURL,
			SchemaURL:     cfg.SchemaURL,
			TTL:           cfg.SessionTTL,
		}),
		pluto: pluto.NewClient(fetcher, cfg.PlutoURL),
		collector: export.NewCollector(fetcher, export.CollectorConfig{
			ResourceURL: cfg.ExemptionsURL,
			YearLimit:   cfg.ExportYearLimit,
			Delay:       cfg.ExportDelay,
			Sleep:       cfg.Sleep,
		}),
		config: cfg,
		logger: log.With().Str("component", "service").Str("session", session.ID()).Logger(),
	}
}

// SessionID returns the ID of the service session.
func (s *Service) SessionID() string {
	return s.session.ID()
}

// CurrentYear is the newest tax year offered: next calendar year.
func (s *Service) CurrentYear() int {
	return s.config.Now().Year() + 1
}

// MinYear is the oldest tax year offered.
func (s *Service) MinYear() int {
	return s.config.MinYear
}

// Codes returns the exemption code table of the session.
func (s *Service) Codes(ctx context.Context) lookups.Table {
	return s.lookups.Codes(ctx)
}

// SearchParcel validates raw as a parcel ID and runs a lookup. Invalid input
// is rejected before any request.
func (s *Service) SearchParcel(ctx context.Context, raw string) (Result, error) {
	id, err := parcel.Parse(raw)
	if err != nil {
		lookupsTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	return s.search(ctx, id)
}

// SearchBBL builds the parcel ID from borough, block and lot and runs a
// lookup.
func (s *Service) SearchBBL(ctx context.Context, boro, block, lot string) (Result, error) {
	id, err := parcel.FromBBL(boro, block, lot)
	if err != nil {
		lookupsTotal.WithLabelValues("invalid").Inc()
		return Result{}, err
	}
	return s.search(ctx, id)
}

// search runs one lookup under a fresh ticket. The session state is replaced
// once the records load; later steps cannot roll it back.
func (s *Service) search(ctx context.Context, id parcel.ID) (Result, error) {
	ticket := s.session.Begin()
	logger := s.logger.With().Str("parid", id.String()).Logger()
	start := time.Now()

	if err := s.lookups.Ensure(ctx); err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	maxYear := s.CurrentYear()
	probed, err := s.prober.Probe(ctx, id, maxYear, s.config.MinYear)
	if err != nil {
		lookupsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	if _, err := s.repo.LoadAll(ctx, ticket, id, probed); err != nil {
		if errors.Is(err, repository.ErrSuperseded) {
			lookupsTotal.WithLabelValues("superseded").Inc()
		} else {
			lookupsTotal.WithLabelValues("error").Inc()
		}
		return Result{}, err
	}

	// The records are published at this point, so a PLUTO failure only
	// drops the details panel.
	details, found, err := s.pluto.Lookup(ctx, id)
	if err != nil {
		logger.Warn().Err(err).Msg("PLUTO lookup failed, showing records without property details")
		details, found = pluto.Details{}, false
	}

	if s.session.Stale(ticket) {
		lookupsTotal.WithLabelValues("superseded").Inc()
		return Result{}, repository.ErrSuperseded
	}
	st, err := s.repo.Snapshot()
	if err != nil {
		return Result{}, err
	}
	if st.Generation != ticket {
		lookupsTotal.WithLabelValues("superseded").Inc()
		return Result{}, repository.ErrSuperseded
	}
	view := s.view(st, st.All(), exemptions.AllYears(s.config.MinYear, maxYear))

	lookupsTotal.WithLabelValues("ok").Inc()
	logger.Info().
		Int("records", len(view.Records)).
		Bool("pluto_found", found).
		Dur("elapsed", time.Since(start)).
		Msg("Lookup complete")

	return Result{View: view, Pluto: details, PlutoFound: found}, nil
}

// AllYears returns every loaded record. It performs no network access.
func (s *Service) AllYears() (View, error) {
	st, err := s.repo.Snapshot()
	if err != nil {
		return View{}, err
	}
	return s.view(st, st.All(), exemptions.AllYears(s.config.MinYear, s.CurrentYear())), nil
}

// SelectYear returns the loaded records of year. It performs no network
// access.
func (s *Service) SelectYear(year int) (View, error) {
	st, err := s.repo.Snapshot()
	if err != nil {
		return View{}, err
	}
	return s.view(st, st.SelectYear(year), exemptions.SingleYear(year)), nil
}

func (s *Service) view(st repository.State, records []exemptions.Record, sel exemptions.Selection) View {
	return View{
		Parcel:    st.Parcel,
		Selection: sel,
		Records:   exemptions.SortedForDisplay(records),
		Years:     st.Years,
		Summary:   exemptions.Summary(len(records), sel),
	}
}

// Export renders the CSV of the current parcel.
func (s *Service) Export(ctx context.Context) (File, error) {
	id, err := s.repo.Parcel()
	if err != nil {
		exportsTotal.WithLabelValues("invalid").Inc()
		return File{}, ErrNoParcel
	}
	return s.export(ctx, id)
}

// ExportParcel validates raw and renders its CSV without a prior search.
func (s *Service) ExportParcel(ctx context.Context, raw string) (File, error) {
	id, err := parcel.Parse(raw)
	if err != nil {
		exportsTotal.WithLabelValues("invalid").Inc()
		return File{}, fmt.Errorf("%w: %v", ErrNoParcel, err)
	}
	return s.export(ctx, id)
}

func (s *Service) export(ctx context.Context, id parcel.ID) (File, error) {
	now := s.config.Now()

	if err := s.lookups.Ensure(ctx); err != nil {
		exportsTotal.WithLabelValues("error").Inc()
		return File{}, err
	}

	records, err := s.collector.Collect(ctx, id, now.Year()+1, s.config.MinYear)
	if err != nil {
		if errors.Is(err, export.ErrNoData) {
			exportsTotal.WithLabelValues("no_data").Inc()
		} else {
			exportsTotal.WithLabelValues("error").Inc()
		}
		return File{}, err
	}

	text := export.Serialize(records, id, s.lookups.Fields(ctx), now)
	exportsTotal.WithLabelValues("ok").Inc()

	return File{
		Name:        export.Filename(id, now),
		ContentType: export.ContentType,
		Data:        []byte(text),
	}, nil
}

// CSVSourcesPreview returns the export banner for raw, or the run-a-search
// hint when raw is not a 10 character ID.
func (s *Service) CSVSourcesPreview(raw string) string {
	return export.SourcesPreview(raw)
}

// Close drops everything the session stored in the cache.
func (s *Service) Close(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.DeleteSession(ctx, s.session.ID()); err != nil {
		return fmt.Errorf("delete session %s: %w", s.session.ID(), err)
	}
	return nil
}
