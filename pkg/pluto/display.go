package pluto

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// NotAvailable renders blank values.
const NotAvailable = "N/A"

var printer = message.NewPrinter(language.English)

// Text renders v, or N/A when blank.
func Text(v string) string {
	if strings.TrimSpace(v) == "" {
		return NotAvailable
	}
	return v
}

// Number renders v with thousands separators and at most three fraction
// digits, or N/A when blank. Non-numeric values are returned as given.
func Number(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return NotAvailable
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return v
	}
	return printer.Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(3)))
}

// YesNo renders a flag.
func YesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Line is one labelled value of the details panel.
type Line struct {
	Label string
	Value string
}

// Lines renders the details panel. Zoning, overlay and special district
// lines are omitted when empty.
func (d Details) Lines() []Line {
	lines := []Line{
		{"Address", Text(d.Address)},
		{"BBL", d.Parcel.String() + " (Boro " + d.Parcel.Borough() + " • Block " + Text(d.Block) + " • Lot " + Text(d.Lot) + ")"},
		{"Bldg Class", Text(d.BuildingClass)},
		{"Land Use", Text(d.LandUse)},
		{"Lot Area", Number(d.LotArea) + " sq ft"},
		{"Building Area", Number(d.BuildingArea) + " sq ft"},
		{"Total Units", Text(d.Units)},
		{"Floors", Text(d.Floors)},
		{"Year Built", Text(d.YearBuilt)},
		{"Corner Lot", YesNo(d.CornerLot)},
	}
	if len(d.ZoningDistricts) > 0 {
		lines = append(lines, Line{"Zoning District(s)", strings.Join(d.ZoningDistricts, ", ")})
	}
	if len(d.Overlays) > 0 {
		lines = append(lines, Line{"Overlay(s)", strings.Join(d.Overlays, ", ")})
	}
	if len(d.SpecialDistricts) > 0 {
		lines = append(lines, Line{"Special District(s)", strings.Join(d.SpecialDistricts, ", ")})
	}
	return append(lines, Line{"ZOLA", d.ZolaURL})
}
