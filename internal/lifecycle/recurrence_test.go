package lifecycle_test

import (
	"testing"
	"time"

	"complyline/internal/lifecycle"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNextOccurrenceOffsets(t *testing.T) {
	today := date(2024, 3, 15)
	cases := []struct {
		code string
		want time.Time
	}{
		{"daily", date(2024, 3, 16)},
		{"weekly", date(2024, 3, 22)},
		{"fortnightly", date(2024, 3, 29)},
		{"monthly", date(2024, 4, 15)},
		{"quarterly", date(2024, 6, 15)},
		{"biannual", date(2024, 9, 15)},
		{"annual", date(2025, 3, 15)},
	}
	for _, tc := range cases {
		got, ok := lifecycle.NextOccurrence(tc.code, today, today)
		if !ok {
			t.Errorf("%s: unexpected fallback", tc.code)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %s, want %s", tc.code, got, tc.want)
		}
	}
}

func TestNextOccurrenceCalendarClamping(t *testing.T) {
	// Leap year: Jan 31 + 1 month lands on Feb 29.
	got, _ := lifecycle.NextOccurrence("monthly", date(2024, 1, 31), date(2024, 1, 31))
	if !got.Equal(date(2024, 2, 29)) {
		t.Errorf("leap year: got %s, want 2024-02-29", got)
	}
	// Non-leap year clamps to Feb 28.
	got, _ = lifecycle.NextOccurrence("monthly", date(2023, 1, 31), date(2023, 1, 31))
	if !got.Equal(date(2023, 2, 28)) {
		t.Errorf("non-leap year: got %s, want 2023-02-28", got)
	}
	// Quarterly from end of August clamps to Nov 30.
	got, _ = lifecycle.NextOccurrence("quarterly", date(2024, 8, 31), date(2024, 8, 31))
	if !got.Equal(date(2024, 11, 30)) {
		t.Errorf("quarterly clamp: got %s, want 2024-11-30", got)
	}
	// Annual from Feb 29 clamps to Feb 28 the following year.
	got, _ = lifecycle.NextOccurrence("annual", date(2024, 2, 29), date(2024, 2, 29))
	if !got.Equal(date(2025, 2, 28)) {
		t.Errorf("annual clamp: got %s, want 2025-02-28", got)
	}
}

func TestNextOccurrencePastAnchorAdvances(t *testing.T) {
	today := date(2024, 6, 1)
	// Anchor two years stale: the forecast is computed from today, not the
	// anchor, so it never lands in the past.
	got, _ := lifecycle.NextOccurrence("weekly", date(2022, 1, 1), today)
	if !got.Equal(date(2024, 6, 8)) {
		t.Errorf("stale anchor: got %s, want 2024-06-08", got)
	}
}

func TestNextOccurrenceNeverBeforeToday(t *testing.T) {
	today := date(2024, 5, 10)
	anchors := []time.Time{
		date(2020, 1, 1), date(2024, 5, 9), date(2024, 5, 10), date(2025, 12, 31),
	}
	codes := []string{"daily", "weekly", "fortnightly", "monthly", "quarterly", "biannual", "annual", "bogus"}
	for _, anchor := range anchors {
		for _, code := range codes {
			got, _ := lifecycle.NextOccurrence(code, anchor, today)
			if got.Before(today) {
				t.Errorf("NextOccurrence(%s, %s) = %s is before today %s", code, anchor, got, today)
			}
		}
	}
}

func TestNextOccurrenceUnrecognizedFallsBackMonthly(t *testing.T) {
	today := date(2024, 3, 15)
	got, ok := lifecycle.NextOccurrence("as required", today, today)
	if ok {
		t.Fatalf("expected fallback signal for unrecognized code")
	}
	if !got.Equal(date(2024, 4, 15)) {
		t.Errorf("fallback: got %s, want monthly offset 2024-04-15", got)
	}
}
