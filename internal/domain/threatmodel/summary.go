package threatmodel

// Summarize counts threats per category, in inventory order.
//
// Total counts every entry. High, Medium and Low count exact, case-sensitive
// priority matches only, so an entry with a missing or unknown priority
// shows up in Total and in none of the severity columns.
func Summarize(inv ThreatInventory) []CategorySummary {
	out := make([]CategorySummary, 0, len(inv.Categories))
	for _, ct := range inv.Categories {
		s := CategorySummary{Category: ct.Category, Total: len(ct.Threats)}
		for _, t := range ct.Threats {
			switch t.Priority {
			case PriorityHigh:
				s.High++
			case PriorityMedium:
				s.Medium++
			case PriorityLow:
				s.Low++
			}
		}
		out = append(out, s)
	}
	return out
}

// FillMissing adds an all-zero summary for every category in categories that
// the model did not report. Known categories come back in the given order,
// followed by any extra categories already present in summaries.
func FillMissing(summaries []CategorySummary, categories []Category) []CategorySummary {
	byCat := make(map[Category]CategorySummary, len(summaries))
	for _, s := range summaries {
		byCat[s.Category] = s
	}

	out := make([]CategorySummary, 0, len(categories)+len(summaries))
	wanted := make(map[Category]bool, len(categories))
	for _, c := range categories {
		wanted[c] = true
		if s, ok := byCat[c]; ok {
			out = append(out, s)
			continue
		}
		out = append(out, CategorySummary{Category: c})
	}
	for _, s := range summaries {
		if !wanted[s.Category] {
			out = append(out, s)
		}
	}
	return out
}

// Totals adds up a list of summaries.
func Totals(summaries []CategorySummary) CategorySummary {
	var t CategorySummary
	for _, s := range summaries {
		t.Total += s.Total
		t.High += s.High
		t.Medium += s.Medium
		t.Low += s.Low
	}
	return t
}
