// Package export builds the CSV download of every exemption record of a
// parcel.
package export

import (
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/nyc-exemptions/pkg/exemptions"
	"github.com/Sternrassler/nyc-exemptions/pkg/parcel"
)

// ContentType of the export.
const ContentType = "text/csv; charset=utf-8"

// Dataset locations cited in the banner.
const (
	ExemptionsBase = "https://data.cityofnewyork.us/resource/muvi-b6kx"
	CodeLookupJSON = "https://data.cityofnewyork.us/resource/myn9-hwsy.json"
	PlutoBase      = "https://data.cityofnewyork.us/resource/64uk-42ks"
)

// NoSourcesPreview is shown before a valid parcel has been searched.
const NoSourcesPreview = "!!! Run a search to see sources."

// LabelLookup resolves field names to human readable labels.
type LabelLookup interface {
	Label(field string) (string, bool)
}

// Banner returns the provenance lines for id.
func Banner(id parcel.ID) []string {
	escaped := url.QueryEscape(id.String())
	return []string{
		"Compiled by TeamLalaCRE",
		"https://teamlalacre.com/abatements-exemptions",
		"",
		"- NYC Open Data Sources (official JSON):",
		"      Exemptions --- " + ExemptionsBase,
		"      Exemption Code Lookup --- " + CodeLookupJSON,
		"      PLUTO --- " + PlutoBase,
		"",
		"- Sources Filtered By BBL (official JSON):",
		"      Exemptions --- " + ExemptionsBase + ".json?parid=" + escaped,
		"      PLUTO --- " + PlutoBase + ".json?bbl=" + escaped,
	}
}

// SourcesPreview returns the banner text for raw, or NoSourcesPreview when
// raw is not a 10 character identifier.
func SourcesPreview(raw string) string {
	raw = strings.TrimSpace(raw)
	if len(raw) != parcel.Length {
		return NoSourcesPreview
	}
	return strings.Join(Banner(parcel.ID(raw)), "\n")
}

// Serialize renders records as CSV text: the banner, the download time, a
// row of raw field names, a row of labels, a blank line and one line per
// record. Columns are the union of all record fields in first-seen order.
// Every cell is quoted.
func Serialize(records []exemptions.Record, id parcel.ID, labels LabelLookup, downloadedAt time.Time) string {
	fields := unionFields(records)

	raw := make([]string, len(fields))
	human := make([]string, len(fields))
	for i, f := range fields {
		raw[i] = escape(f)
		human[i] = escape(headerLabel(f, labels))
	}

	lines := append(Banner(id),
		"",
		"- Downloaded: "+downloadedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		"",
		strings.Join(raw, ","),
		strings.Join(human, ","),
		"",
	)

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	for _, rec := range records {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = escape(rec.Value(f))
		}
		b.WriteString("\n")
		b.WriteString(strings.Join(cells, ","))
	}
	return b.String()
}

// Filename returns exemption_data_<parid>_<YYYYMMDDhhmmss>.csv in UTC.
func Filename(id parcel.ID, t time.Time) string {
	return "exemption_data_" + id.String() + "_" + t.UTC().Format("20060102150405") + ".csv"
}

func unionFields(records []exemptions.Record) []string {
	seen := map[string]bool{}
	var fields []string
	for _, rec := range records {
		for _, k := range rec.Keys() {
			if !seen[k] {
				seen[k] = true
				fields = append(fields, k)
			}
		}
	}
	return fields
}

func headerLabel(field string, labels LabelLookup) string {
	if labels != nil {
		if l, ok := labels.Label(field); ok && l != "" {
			return l
		}
	}
	return Humanize(field)
}

// Humanize turns underscores into spaces and capitalizes the first letter of
// each word.
func Humanize(field string) string {
	b := []byte(strings.ReplaceAll(field, "_", " "))
	for i := range b {
		if isWordByte(b[i]) && (i == 0 || !isWordByte(b[i-1])) && b[i] >= 'a' && b[i] <= 'z' {
			b[i] -= 'a' - 'A'
		}
	}
	return string(b)
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func escape(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
