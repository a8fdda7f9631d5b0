package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/Sternrassler/nyc-exemptions/pkg/availability"
	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoLookup indicates no lookup has completed in the session yet.
	ErrNoLookup = errors.New("no lookup has been run")

	// ErrSuperseded indicates a newer lookup already published its result.
	ErrSuperseded = errors.New("lookup superseded by a newer search")
)

// Config holds the repository configuration.
type Config struct {
	// ResourceURL is the exemptions resource.
	ResourceURL string

	// Limit caps the rows of the all-years query.
	Limit int
}

// Repository loads all records of a parcel once and answers year views from
// the session state.
type Repository struct {
	fetcher socrata.Fetcher
	session *Session
	config  Config
	logger  zerolog.Logger
}

// New creates a repository over session.
func New(fetcher socrata.Fetcher, session *Session, cfg Config) *Repository {
	if cfg.Limit <= 0 {
		cfg.Limit = 5000
	}
	return &Repository{
		fetcher: fetcher,
		session: session,
		config:  cfg,
		logger:  log.With().Str("component", "repository").Str("session", session.ID()).Logger(),
	}
}

// LoadAll fetches every record of id in one bounded query and publishes it
// with an availability map rebuilt from the returned rows; probed years no
// row carries are marked unavailable. A non-OK response publishes an empty record set. LoadAll returns
// ErrSuperseded when a newer lookup already published.
func (r *Repository) LoadAll(ctx context.Context, t Ticket, id parcel.ID, probed availability.Map) ([]exemptions.Record, error) {
	q := socrata.Query{
		Where: []socrata.Predicate{socrata.Eq(exemptions.FieldParcelID, id.String())},
		Limit: r.config.Limit,
	}

	res, err := socrata.FetchRows(ctx, r.fetcher, r.config.ResourceURL, q)
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", id, err)
	}
	if !res.OK {
		r.logger.Warn().
			Str("parid", id.String()).
			Int("status", res.Status).
			Msg("Record query failed, treating as no records")
	}

	records := exemptions.FromRows(res.Rows)
	years := availability.Rebuild(probed, records)

	if !r.session.Replace(t, id, records, years) {
		r.logger.Info().Str("parid", id.String()).Msg("Discarding superseded lookup")
		return nil, ErrSuperseded
	}

	r.logger.Info().
		Str("parid", id.String()).
		Int("records", len(records)).
		Ints("years", years.Years()).
		Msg("Records loaded")

	return records, nil
}

// SelectYear returns the cached records whose year equals year. It performs
// no network access.
func (r *Repository) SelectYear(year int) ([]exemptions.Record, error) {
	st, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return st.SelectYear(year), nil
}

// All returns a copy of every cached record.
func (r *Repository) All() ([]exemptions.Record, error) {
	st, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return st.All(), nil
}

// Parcel returns the parcel of the last lookup.
func (r *Repository) Parcel() (parcel.ID, error) {
	st, err := r.Snapshot()
	if err != nil {
		return "", err
	}
	return st.Parcel, nil
}

// Snapshot returns the last published state, or ErrNoLookup.
func (r *Repository) Snapshot() (State, error) {
	st, ok := r.session.Current()
	if !ok {
		return State{}, ErrNoLookup
	}
	return st, nil
}
