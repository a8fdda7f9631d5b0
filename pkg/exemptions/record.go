// Package exemptions models property tax exemption rows and their display
// ordering.
package exemptions

import (
	"strconv"
	"strings"

	"github.com/Sternrassler/nyc-exemptions/pkg/socrata"
)

// Field names used by the exemptions resource.
const (
	FieldParcelID      = "parid"
	FieldYear          = "year"
	FieldPeriod        = "period"
	FieldBaseYear      = "baseyr"
	FieldBenefitStart  = "benftstart"
	FieldNumberOfYears = "no_years"
	FieldExemptionCode = "exmp_code"
)

// Period is the assessment-cycle stage of a record.
type Period string

const (
	// PeriodTentative is the tentative roll.
	PeriodTentative Period = "1"

	// PeriodFinal is the final roll.
	PeriodFinal Period = "3"
)

// Label renders the period for display: "1 – Tentative", "3 – Final", or
// the raw value.
func (p Period) Label() string {
	switch p {
	case PeriodTentative:
		return "1 – Tentative"
	case PeriodFinal:
		return "3 – Final"
	default:
		return string(p)
	}
}

// Record is one exemption row. All upstream fields are preserved verbatim.
type Record struct {
	socrata.Row
}

// NewRecord wraps a decoded row.
func NewRecord(row socrata.Row) Record {
	return Record{Row: row}
}

// FromRows wraps decoded rows.
func FromRows(rows []socrata.Row) []Record {
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = NewRecord(row)
	}
	return records
}

// ParcelID returns the parid field.
func (r Record) ParcelID() string {
	return r.Value(FieldParcelID)
}

// Year returns the tax year, or 0 when absent or not numeric.
func (r Record) Year() int {
	return atoi(r.Value(FieldYear))
}

// Period returns the assessment period.
func (r Record) Period() Period {
	return Period(r.Value(FieldPeriod))
}

// ExemptionCode returns the exmp_code field.
func (r Record) ExemptionCode() string {
	return r.Value(FieldExemptionCode)
}

func atoi(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		if f, ferr := strconv.ParseFloat(strings.TrimSpace(s), 64); ferr == nil {
			return int(f)
		}
		return 0
	}
	return n
}
