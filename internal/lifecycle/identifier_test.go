package lifecycle_test

import (
	"testing"

	"complyline/internal/lifecycle"
)

func TestNextIdentifier(t *testing.T) {
	cases := []struct {
		name     string
		existing []string
		prefix   string
		want     string
	}{
		{"empty set", nil, "PCEMP", "PCEMP-001"},
		{"max plus one", []string{"PCEMP-001", "PCEMP-007", "PCEMP-003"}, "PCEMP", "PCEMP-008"},
		{"ignores other prefixes", []string{"PCEMP-002", "OTHER-900"}, "PCEMP", "PCEMP-003"},
		{"ignores unparseable suffixes", []string{"PCEMP-abc", "PCEMP-", "PCEMP-004"}, "PCEMP", "PCEMP-005"},
		{"grows past padding", []string{"PCEMP-999"}, "PCEMP", "PCEMP-1000"},
		{"wide suffixes", []string{"PCEMP-1000", "PCEMP-0999"}, "PCEMP", "PCEMP-1001"},
		{"default prefix", []string{"PCEMP-010"}, "", "PCEMP-011"},
		{"custom prefix", []string{"ENV-001"}, "ENV", "ENV-002"},
	}
	for _, tc := range cases {
		if got := lifecycle.NextIdentifier(tc.existing, tc.prefix); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestValidIdentifier(t *testing.T) {
	valid := []string{"PCEMP-001", "PCEMP-123", "PCEMP-1000"}
	for _, id := range valid {
		if !lifecycle.ValidIdentifier(id, "PCEMP") {
			t.Errorf("expected %q valid", id)
		}
	}
	invalid := []string{"", "PCEMP-1", "PCEMP-01", "PCEMP001", "pcemp-001", "PCEMP-12a", "OTHER-001"}
	for _, id := range invalid {
		if lifecycle.ValidIdentifier(id, "PCEMP") {
			t.Errorf("expected %q invalid", id)
		}
	}
}
