// Package lifecycle holds the pure compliance rules: frequency
// normalization, recurrence forecasting, identifier generation, effective
// status resolution, mechanism recounting and the audit cascade. Nothing
// here performs I/O; callers load data, invoke a rule and persist the
// result.
package lifecycle

import "strings"

// Canonical recurrence frequency codes.
const (
	FreqDaily       = "daily"
	FreqWeekly      = "weekly"
	FreqFortnightly = "fortnightly"
	FreqMonthly     = "monthly"
	FreqQuarterly   = "quarterly"
	FreqBiannual    = "biannual"
	FreqAnnual      = "annual"
)

var canonicalFrequencies = map[string]bool{
	FreqDaily:       true,
	FreqWeekly:      true,
	FreqFortnightly: true,
	FreqMonthly:     true,
	FreqQuarterly:   true,
	FreqBiannual:    true,
	FreqAnnual:      true,
}

// Substring aliases checked before the keyword fallback.
var frequencyAliases = []struct {
	match string
	code  string
}{
	{"semi-annual", FreqBiannual},
	{"semiannual", FreqBiannual},
	{"bi-annual", FreqBiannual},
	{"biannually", FreqBiannual},
	{"bi-annually", FreqBiannual},
	{"annually", FreqAnnual},
	{"yearly", FreqAnnual},
}

// IsCanonicalFrequency reports whether code is one of the seven canonical
// frequency codes.
func IsCanonicalFrequency(code string) bool {
	return canonicalFrequencies[code]
}

// NormalizeFrequency maps a free-text recurrence description to a canonical
// code. Empty input returns "". Input that matches nothing is returned
// lowercased rather than rejected, so unrecognized source data survives a
// round trip.
func NormalizeFrequency(raw string) string {
	f := strings.ToLower(strings.TrimSpace(raw))
	if f == "" {
		return ""
	}
	if canonicalFrequencies[f] {
		return f
	}
	for _, alias := range frequencyAliases {
		if strings.Contains(f, alias.match) {
			return alias.code
		}
	}
	switch {
	case strings.Contains(f, "day") || strings.Contains(f, "daily"):
		return FreqDaily
	case strings.Contains(f, "fortnight") || strings.Contains(f, "bi-week") || strings.Contains(f, "biweek") || strings.Contains(f, "2 week") || strings.Contains(f, "two week"):
		return FreqFortnightly
	case strings.Contains(f, "week"):
		return FreqWeekly
	case strings.Contains(f, "month"):
		// Multi-month phrasings hide inside "month": pick those off before
		// defaulting to monthly.
		switch {
		case strings.Contains(f, "quarter") || strings.Contains(f, "3 month") || strings.Contains(f, "three month"):
			return FreqQuarterly
		case strings.Contains(f, "6 month") || strings.Contains(f, "six month") || strings.Contains(f, "semi") || strings.Contains(f, "twice a year"):
			return FreqBiannual
		case strings.Contains(f, "12 month") || strings.Contains(f, "twelve month") || strings.Contains(f, "annual") || strings.Contains(f, "year"):
			return FreqAnnual
		default:
			return FreqMonthly
		}
	case strings.Contains(f, "quarter"):
		return FreqQuarterly
	case strings.Contains(f, "twice a year") || strings.Contains(f, "half year"):
		return FreqBiannual
	case strings.Contains(f, "annual") || strings.Contains(f, "year"):
		return FreqAnnual
	}
	return f
}
