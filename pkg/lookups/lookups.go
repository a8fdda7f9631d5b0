// Package lookups loads the exemption code descriptions and the dataset
// field descriptions once per session.
package lookups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/cache"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Cache table names.
const (
	TableCodes  = "codes"
	TableFields = "fields"
)

// Table maps a code or field name to its description.
type Table map[string]string

// Describe returns the description of key.
func (t Table) Describe(key string) (string, bool) {
	d, ok := t[key]
	return d, ok
}

// Label returns the description of a field, if any. It satisfies the export
// label lookup.
func (t Table) Label(field string) (string, bool) {
	return t.Describe(field)
}

// DefaultTTL applies when Config.TTL is not positive.
const DefaultTTL = 12 * time.Hour

// Config holds the loader configuration.
type Config struct {
	CodeLookupURL string
	SchemaURL     string
	// CodeLimit is the $limit of the code lookup query.
	CodeLimit int
	// TTL bounds how long cached tables live in the store.
	TTL time.Duration
}

// Loader loads both tables for one session. The tables live only in the
// session's cache store; every read goes through it.
type Loader struct {
	fetcher socrata.Fetcher
	store   cache.Store
	session string
	config  Config
	logger  zerolog.Logger

	// serializes loads so concurrent callers fetch each table once
	mu sync.Mutex
}

// NewLoader creates a loader for session. A nil store is replaced by a small
// private in-memory store.
func NewLoader(fetcher socrata.Fetcher, store cache.Store, session string, cfg Config) *Loader {
	if cfg.CodeLimit <= 0 {
		cfg.CodeLimit = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if store == nil {
		// size is positive, so this cannot fail
		store, _ = cache.NewMemoryStore(8)
	}
	return &Loader{
		fetcher: fetcher,
		store:   store,
		session: session,
		config:  cfg,
		logger:  log.With().Str("component", "lookups").Logger(),
	}
}

// Ensure loads each table the session store does not hold yet. Tables that
// loaded are served from the store for the rest of the session. A table whose
// upstream answered non-OK is not stored and is retried on the next call.
func (l *Loader) Ensure(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.load(ctx, TableCodes, l.fetchCodes); err != nil {
		return fmt.Errorf("load exemption codes: %w", err)
	}
	if err := l.load(ctx, TableFields, l.fetchFields); err != nil {
		return fmt.Errorf("load field descriptions: %w", err)
	}
	return nil
}

// Codes returns the exemption code table, or an empty table when it has not
// loaded.
func (l *Loader) Codes(ctx context.Context) Table {
	return l.read(ctx, TableCodes)
}

// Fields returns the field description table, or an empty table when it has
// not loaded.
func (l *Loader) Fields(ctx context.Context) Table {
	return l.read(ctx, TableFields)
}

func (l *Loader) key(table string) cache.Key {
	return cache.Key{Session: l.session, Table: table}
}

func (l *Loader) read(ctx context.Context, table string) Table {
	var t Table
	err := cache.GetJSON(ctx, l.store, l.key(table), &t)
	switch {
	case err == nil && t != nil:
		return t
	case err != nil && !errors.Is(err, cache.ErrCacheMiss):
		l.logger.Warn().Err(err).Str("table", table).Msg("Lookup cache read failed")
	}
	return Table{}
}

func (l *Loader) load(ctx context.Context, table string, fetch func(context.Context) (Table, error)) error {
	if cached := l.read(ctx, table); len(cached) > 0 {
		l.logger.Debug().Str("table", table).Int("entries", len(cached)).Msg("Lookup table served from cache")
		return nil
	}

	loaded, err := fetch(ctx)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		l.logger.Warn().Str("table", table).Msg("Lookup table empty, will retry on next search")
		return nil
	}

	if err := cache.SetJSON(ctx, l.store, l.key(table), loaded, l.config.TTL); err != nil {
		l.logger.Warn().Err(err).Str("table", table).Msg("Lookup cache write failed")
	}

	l.logger.Info().Str("table", table).Int("entries", len(loaded)).Msg("Lookup table loaded")
	return nil
}

// fetchCodes maps exempt_code to description and column_id to
// long_description.
func (l *Loader) fetchCodes(ctx context.Context) (Table, error) {
	res, err := socrata.FetchRows(ctx, l.fetcher, l.config.CodeLookupURL, socrata.Query{Limit: l.config.CodeLimit})
	if err != nil {
		return nil, err
	}

	codes := Table{}
	for _, row := range res.Rows {
		if code := row.Value("exempt_code"); code != "" {
			codes[code] = row.Value("description")
		}
		if column := row.Value("column_id"); column != "" {
			codes[column] = row.Value("long_description")
		}
	}
	return codes, nil
}

// fetchFields maps fieldName to description for columns that have both.
func (l *Loader) fetchFields(ctx context.Context) (Table, error) {
	res, err := socrata.FetchURL(ctx, l.fetcher, l.config.SchemaURL)
	if err != nil {
		return nil, err
	}

	fields := Table{}
	for _, col := range res.Rows {
		name, desc := col.Value("fieldName"), col.Value("description")
		if name != "" && desc != "" {
			fields[name] = desc
		}
	}
	return fields, nil
}
