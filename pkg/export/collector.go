package export

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/ratelimit"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNoData indicates no year returned any record.
var ErrNoData = errors.New("no data to export")

// CollectorConfig holds the collector configuration.
type CollectorConfig struct {
	// ResourceURL is the exemptions resource.
	ResourceURL string

	// YearLimit caps the rows of each per-year query.
	YearLimit int

	// Delay follows each OK response.
	Delay time.Duration

	// Sleep waits between years. Defaults to ratelimit.Sleep.
	Sleep ratelimit.SleepFunc
}

// Collector gathers the records of a parcel one year at a time.
type Collector struct {
	fetcher socrata.Fetcher
	config  CollectorConfig
	logger  zerolog.Logger
}

// NewCollector creates a collector.
func NewCollector(fetcher socrata.Fetcher, cfg CollectorConfig) *Collector {
	if cfg.YearLimit <= 0 {
		cfg.YearLimit = 1000
	}
	if cfg.Sleep == nil {
		cfg.Sleep = ratelimit.Sleep
	}
	return &Collector{
		fetcher: fetcher,
		config:  cfg,
		logger:  log.With().Str("component", "export").Logger(),
	}
}

// Collect queries each year from fromYear down to toYear in order and
// concatenates the rows. Non-OK years are skipped. It returns ErrNoData when
// nothing was found.
func (c *Collector) Collect(ctx context.Context, id parcel.ID, fromYear, toYear int) ([]exemptions.Record, error) {
	var records []exemptions.Record

	for year := fromYear; year >= toYear; year-- {
		q := socrata.Query{
			Where: []socrata.Predicate{
				socrata.Eq(exemptions.FieldYear, strconv.Itoa(year)),
				socrata.Eq(exemptions.FieldParcelID, id.String()),
			},
			Limit: c.config.YearLimit,
		}

		res, err := socrata.FetchRows(ctx, c.fetcher, c.config.ResourceURL, q)
		if err != nil {
			return nil, fmt.Errorf("collect year %d: %w", year, err)
		}
		if !res.OK {
			c.logger.Warn().Str("parid", id.String()).Int("year", year).Int("status", res.Status).Msg("Skipping year")
			continue
		}

		records = append(records, exemptions.FromRows(res.Rows)...)

		if err := c.config.Sleep(ctx, c.config.Delay); err != nil {
			return nil, err
		}
	}

	if len(records) == 0 {
		return nil, ErrNoData
	}

	c.logger.Info().Str("parid", id.String()).Int("records", len(records)).Msg("Export rows collected")
	return records, nil
}
