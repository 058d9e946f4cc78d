package lifecycle_test

import (
	"testing"

	"complyline/internal/lifecycle"
)

func TestNormalizeFrequency(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"daily", "daily"},
		{"Weekly", "weekly"},
		{"  MONTHLY  ", "monthly"},
		{"fortnightly", "fortnightly"},
		{"quarterly", "quarterly"},
		{"biannual", "biannual"},
		{"annual", "annual"},
		{"Semi-Annual", "biannual"},
		{"bi-annually", "biannual"},
		{"yearly", "annual"},
		{"Annually", "annual"},
		{"every day", "daily"},
		{"every fortnight", "fortnightly"},
		{"bi-weekly", "fortnightly"},
		{"every two weeks", "fortnightly"},
		{"per week", "weekly"},
		{"every 3 months", "quarterly"},
		{"three monthly", "quarterly"},
		{"every 6 months", "biannual"},
		{"twice a year", "biannual"},
		{"every 12 months", "annual"},
		{"each month", "monthly"},
		{"per annum", "annual"},
		{"as required", "as required"},
		{"Once Off", "once off"},
	}
	for _, tc := range cases {
		if got := lifecycle.NormalizeFrequency(tc.in); got != tc.want {
			t.Errorf("NormalizeFrequency(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeFrequencyIdempotent(t *testing.T) {
	inputs := []string{
		"", "daily", "every 3 months", "twice a year", "as required",
		"Semi-Annual", "WEEKLY", "unrecognized frequency",
	}
	for _, in := range inputs {
		once := lifecycle.NormalizeFrequency(in)
		twice := lifecycle.NormalizeFrequency(once)
		if once != twice {
			t.Errorf("not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestIsCanonicalFrequency(t *testing.T) {
	for _, code := range []string{"daily", "weekly", "fortnightly", "monthly", "quarterly", "biannual", "annual"} {
		if !lifecycle.IsCanonicalFrequency(code) {
			t.Errorf("expected %q canonical", code)
		}
	}
	if lifecycle.IsCanonicalFrequency("as required") {
		t.Errorf("expected 'as required' non-canonical")
	}
}
