package exemptions

import "fmt"

// Column is one column of the results table.
type Column struct {
	Field  string
	Header string
}

// DisplayColumns are the columns shown for each record.
var DisplayColumns = []Column{
	{Field: FieldYear, Header: "Tax Year"},
	{Field: FieldPeriod, Header: "Period"},
	{Field: FieldBaseYear, Header: "Base Year"},
	{Field: FieldBenefitStart, Header: "Benefit Start"},
	{Field: FieldNumberOfYears, Header: "# Of Years"},
	{Field: FieldExemptionCode, Header: "Exemption Type"},
}

// CodeDescriber resolves exemption codes to descriptions.
type CodeDescriber interface {
	Describe(code string) (string, bool)
}

// Cells renders a record's display cells in DisplayColumns order.
func Cells(r Record, codes CodeDescriber) []string {
	cells := make([]string, len(DisplayColumns))
	for i, col := range DisplayColumns {
		switch col.Field {
		case FieldPeriod:
			cells[i] = r.Period().Label()
		case FieldExemptionCode:
			cells[i] = describeCode(r.ExemptionCode(), codes)
		default:
			cells[i] = r.Value(col.Field)
		}
	}
	return cells
}

func describeCode(code string, codes CodeDescriber) string {
	if codes == nil {
		return code
	}
	if desc, ok := codes.Describe(code); ok && desc != "" {
		return code + " – " + desc
	}
	return code
}

// Selection is what a result view covers: all years or one year.
type Selection struct {
	// Year is 0 for all years.
	Year    int `json:"year,omitempty"`
	MinYear int `json:"min_year,omitempty"`
	MaxYear int `json:"max_year,omitempty"`
}

// AllYears returns a selection spanning [minYear, maxYear].
func AllYears(minYear, maxYear int) Selection {
	return Selection{MinYear: minYear, MaxYear: maxYear}
}

// SingleYear returns a selection for year.
func SingleYear(year int) Selection {
	return Selection{Year: year}
}

// IsAll reports whether the selection covers all years.
func (s Selection) IsAll() bool {
	return s.Year == 0
}

// Summary describes a result view.
func Summary(count int, sel Selection) string {
	if count == 0 {
		if sel.IsAll() {
			return "No exemption records found for any year."
		}
		return fmt.Sprintf("No exemption records found for %d.", sel.Year)
	}
	if sel.IsAll() {
		return fmt.Sprintf("Found %d record(s) for assessment years %d – %d.", count, sel.MinYear, sel.MaxYear)
	}
	return fmt.Sprintf("Found %d record(s) for assessment year %d.", count, sel.Year)
}
