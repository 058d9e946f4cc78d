package lifecycle

import "time"

// NextOccurrence computes the next occurrence date for a recurring
// obligation. An anchor in the past is advanced to today first, so the
// forecast never lands before today. The second return value is false when
// the code was not recognized and the monthly offset was used instead;
// callers are expected to log that fallback.
func NextOccurrence(code string, anchor, today time.Time) (time.Time, bool) {
	anchor = truncateDay(anchor)
	today = truncateDay(today)
	if anchor.Before(today) {
		anchor = today
	}
	switch code {
	case FreqDaily:
		return anchor.AddDate(0, 0, 1), true
	case FreqWeekly:
		return anchor.AddDate(0, 0, 7), true
	case FreqFortnightly:
		return anchor.AddDate(0, 0, 14), true
	case FreqMonthly:
		return addMonths(anchor, 1), true
	case FreqQuarterly:
		return addMonths(anchor, 3), true
	case FreqBiannual:
		return addMonths(anchor, 6), true
	case FreqAnnual:
		return addMonths(anchor, 12), true
	default:
		return addMonths(anchor, 1), false
	}
}

// addMonths adds calendar months, clamping to the last day of the target
// month. time.AddDate would normalize Jan 31 + 1 month to Mar 2/3; the
// rule here wants the end of February.
func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, 0, 0, 0, 0, t.Location())
	if last := daysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, 0, 0, 0, 0, t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
