package exemptions

import "sort"

// SortForDisplay orders records by year descending, then period descending.
// The sort is stable, so records with equal keys keep their fetched order.
// Missing or non-numeric years and periods sort as 0.
func SortForDisplay(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		yi, yj := records[i].Year(), records[j].Year()
		if yi != yj {
			return yi > yj
		}
		return atoi(string(records[i].Period())) > atoi(string(records[j].Period()))
	})
}

// SortedForDisplay returns a sorted copy, leaving records untouched.
func SortedForDisplay(records []Record) []Record {
	out := append([]Record(nil), records...)
	SortForDisplay(out)
	return out
}
