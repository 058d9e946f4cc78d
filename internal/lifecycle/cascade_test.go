package lifecycle_test

import (
	"testing"

	"complyline/internal/domain"
	"complyline/internal/lifecycle"
)

func actions(statuses ...string) []domain.CorrectiveAction {
	out := make([]domain.CorrectiveAction, len(statuses))
	for i, s := range statuses {
		out[i] = domain.CorrectiveAction{Status: s}
	}
	return out
}

func mitigations(statuses ...string) []domain.Mitigation {
	out := make([]domain.Mitigation, len(statuses))
	for i, s := range statuses {
		out[i] = domain.Mitigation{Status: s}
	}
	return out
}

func TestMitigationStatus(t *testing.T) {
	cases := []struct {
		name    string
		actions []domain.CorrectiveAction
		want    string
	}{
		{"no actions", nil, "closed"},
		{"all closed", actions("closed", "closed"), "closed"},
		{"one open", actions("closed", "open"), "action_required"},
		{"in progress", actions("in_progress"), "action_required"},
		{"overdue action", actions("closed", "overdue"), "action_required"},
	}
	for _, tc := range cases {
		if got := lifecycle.MitigationStatus(tc.actions); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestAuditEntryStatus(t *testing.T) {
	cases := []struct {
		name        string
		mitigations []domain.Mitigation
		want        string
	}{
		{"no mitigations", nil, "compliant"},
		{"all closed", mitigations("closed", "closed"), "compliant"},
		{"action required", mitigations("closed", "action_required"), "noncompliant"},
		{"open mitigation", mitigations("open"), "noncompliant"},
	}
	for _, tc := range cases {
		if got := lifecycle.AuditEntryStatus(tc.mitigations); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestCascadeBottomUp(t *testing.T) {
	// Closing the last corrective action rolls the whole branch up: the
	// mitigation closes, and with all mitigations closed the entry becomes
	// compliant.
	acts := actions("closed", "open")
	m := domain.Mitigation{Status: lifecycle.MitigationStatus(acts)}
	if m.Status != "action_required" {
		t.Fatalf("expected action_required, got %q", m.Status)
	}
	if got := lifecycle.AuditEntryStatus([]domain.Mitigation{m}); got != "noncompliant" {
		t.Fatalf("expected noncompliant, got %q", got)
	}
	acts[1].Status = "closed"
	m.Status = lifecycle.MitigationStatus(acts)
	if m.Status != "closed" {
		t.Fatalf("expected closed, got %q", m.Status)
	}
	if got := lifecycle.AuditEntryStatus([]domain.Mitigation{m}); got != "compliant" {
		t.Fatalf("expected compliant, got %q", got)
	}
}
