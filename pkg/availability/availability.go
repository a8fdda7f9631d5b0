// Package availability determines which tax years have exemption records for
// a parcel.
package availability

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	probeYearsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exemptions_probe_years_total",
		Help: "Total probed years by outcome",
	}, []string{"outcome"}) // "data", "empty", "failed"

	probeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "exemptions_probe_duration_seconds",
		Help:    "Duration of a full year availability probe",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	})
)

// Map records whether a year has at least one record.
type Map map[int]bool

// Has reports whether year is known to have data.
func (m Map) Has(year int) bool {
	return m[year]
}

// Years returns the years with data, descending.
func (m Map) Years() []int {
	years := make([]int, 0, len(m))
	for y, ok := range m {
		if ok {
			years = append(years, y)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years
}

// FromRecords marks every year present in records.
func FromRecords(records []exemptions.Record) Map {
	m := Map{}
	for _, r := range records {
		if y, err := strconv.Atoi(r.Value(exemptions.FieldYear)); err == nil {
			m[y] = true
		}
	}
	return m
}

// Rebuild discards what probed reported and derives availability from the
// returned records alone. Probed years stay as keys, marked unavailable
// unless a record carries them.
func Rebuild(probed Map, records []exemptions.Record) Map {
	out := make(Map, len(probed))
	for y := range probed {
		out[y] = false
	}
	for y := range FromRecords(records) {
		out[y] = true
	}
	return out
}

// Config holds the prober configuration.
type Config struct {
	// ResourceURL is the exemptions resource.
	ResourceURL string

	// Delay follows each OK response.
	Delay time.Duration

	// Sleep waits between years. Defaults to ratelimit.Sleep.
	Sleep ratelimit.SleepFunc
}

// Prober checks years one at a time, newest first.
type Prober struct {
	fetcher socrata.Fetcher
	config  Config
	logger  zerolog.Logger
}

// NewProber creates a prober.
func NewProber(fetcher socrata.Fetcher, cfg Config) *Prober {
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	return &Prober{
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With().Str("component", "availability").Logger(),
	}
}

// Probe queries each year from fromYear down to toYear with a one row limit.
// A non-OK year is recorded as false and the probe continues. The delay only
// follows OK responses. Transport errors and cancellation abort the probe.
func (p *Prober) Probe(ctx context.Context, id parcel.ID, fromYear, toYear int) (Map, error) {
	if fromYear < toYear {
		return nil, fmt.Errorf("probe range %d..%d must be descending", fromYear, toYear)
	}

	start := time.Now()
	defer func() {
		probeDuration.Observe(time.Since(start).Seconds())
	}()

	m := make(Map, fromYear-toYear+1)
	for year := fromYear; year >= toYear; year-- {
		q := socrata.Query{
			Where: []socrata.Predicate{
				socrata.Eq(exemptions.FieldYear, strconv.Itoa(year)),
				socrata.Eq(exemptions.FieldParcelID, id.String()),
			},
			Limit: 1,
		}

		res, err := socrata.FetchRows(ctx, p.fetcher, p.config.ResourceURL, q)
		if err != nil {
			return nil, fmt.Errorf("probe year %d: %w", year, err)
		}

		if !res.OK {
			m[year] = false
			probeYearsTotal.WithLabelValues("failed").Inc()
			p.logger.Warn().
				Str("parid", id.String()).
				Int("year", year).
				Int("status", res.Status).
				Msg("Year probe failed, marking unavailable")
			continue
		}

		m[year] = len(res.Rows) > 0
		if m[year] {
			probeYearsTotal.WithLabelValues("data").Inc()
		} else {
			probeYearsTotal.WithLabelValues("empty").Inc()
		}

		if err := p.config.Sleep(ctx, p.config.Delay); err != nil {
			return nil, err
		}
	}

	p.logger.Debug().
		Str("parid", id.String()).
		Ints("years", m.Years()).
		Dur("elapsed", time.Since(start)).
		Msg("Year probe complete")

	return m, nil
}
