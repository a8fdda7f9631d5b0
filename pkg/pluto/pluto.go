// Package pluto looks up building and zoning attributes of a tax lot in the
// PLUTO dataset.
package pluto

import (
	"context"
	"fmt"
	"strings"

	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ZolaBaseURL is the zoning map deep link prefix.
const ZolaBaseURL = "https://zola.planning.nyc.gov/bbl/"

// Details are the PLUTO attributes shown for a parcel. Values are kept as
// returned; see the display helpers for formatting.
type Details struct {
	Parcel           parcel.ID `json:"parid"`
	Address          string    `json:"address"`
	Block            string    `json:"block"`
	Lot              string    `json:"lot"`
	BuildingClass    string    `json:"bldgclass"`
	LandUse          string    `json:"landuse"`
	LotArea          string    `json:"lotarea"`
	BuildingArea     string    `json:"bldgarea"`
	Units            string    `json:"unitstotal"`
	Floors           string    `json:"numfloors"`
	YearBuilt        string    `json:"yearbuilt"`
	CornerLot        bool      `json:"cornerlot"`
	ZoningDistricts  []string  `json:"zoning_districts,omitempty"`
	Overlays         []string  `json:"overlays,omitempty"`
	SpecialDistricts []string  `json:"special_districts,omitempty"`
	ZolaURL          string    `json:"zola_url"`
}

// FromRow maps a PLUTO row for id.
func FromRow(id parcel.ID, row socrata.Row) Details {
	return Details{
		Parcel:           id,
		Address:          row.Value("address"),
		Block:            row.Value("block"),
		Lot:              row.Value("lot"),
		BuildingClass:    row.Value("bldgclass"),
		LandUse:          row.Value("landuse"),
		LotArea:          row.Value("lotarea"),
		BuildingArea:     row.Value("bldgarea"),
		Units:            row.Value("unitstotal"),
		Floors:           row.Value("numfloors"),
		YearBuilt:        row.Value("yearbuilt"),
		CornerLot:        row.Value("cornerlot") == "Y",
		ZoningDistricts:  nonEmpty(row, "zonedist1", "zonedist2", "zonedist3", "zonedist4"),
		Overlays:         nonEmpty(row, "overlay1", "overlay2"),
		SpecialDistricts: nonEmpty(row, "spdist1", "spdist2", "spdist3"),
		ZolaURL:          ZolaBaseURL + id.String(),
	}
}

func nonEmpty(row socrata.Row, fields ...string) []string {
	var out []string
	for _, f := range fields {
		if v := strings.TrimSpace(row.Value(f)); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Client queries the PLUTO resource.
type Client struct {
	fetcher     socrata.Fetcher
	resourceURL string
	logger      zerolog.Logger
}

// NewClient creates a PLUTO client for resourceURL.
func NewClient(fetcher socrata.Fetcher, resourceURL string) *Client {
	return &Client{
		fetcher:     fetcher,
		resourceURL: resourceURL,
		logger:      log.With().Str("component", "pluto").Logger(),
	}
}

// Lookup finds the lot by numeric BBL, falling back to block, lot and
// borough when that yields nothing. found is false when neither matches.
func (c *Client) Lookup(ctx context.Context, id parcel.ID) (Details, bool, error) {
	byBBL := socrata.Query{
		Where: []socrata.Predicate{socrata.EqNumber("bbl", id.Number())},
		Limit: 1,
	}

	res, err := socrata.FetchRows(ctx, c.fetcher, c.resourceURL, byBBL)
	if err != nil {
		return Details{}, false, fmt.Errorf("pluto lookup by bbl: %w", err)
	}

	if len(res.Rows) == 0 {
		fallback := socrata.Query{Where: fallbackWhere(id), Limit: 1}
		res, err = socrata.FetchRows(ctx, c.fetcher, c.resourceURL, fallback)
		if err != nil {
			return Details{}, false, fmt.Errorf("pluto lookup by block and lot: %w", err)
		}
	}

	if len(res.Rows) == 0 {
		c.logger.Warn().Str("parid", id.String()).Int("status", res.Status).Msg("PLUTO data not found")
		return Details{}, false, nil
	}

	return FromRow(id, res.Rows[0]), true, nil
}

func fallbackWhere(id parcel.ID) []socrata.Predicate {
	where := []socrata.Predicate{
		socrata.EqNumber("block", int64(id.BlockNumber())),
		socrata.EqNumber("lot", int64(id.LotNumber())),
	}
	if abbr := id.BoroughAbbr(); abbr != "" {
		where = append(where, socrata.Eq("borough", abbr))
	}
	return where
}
