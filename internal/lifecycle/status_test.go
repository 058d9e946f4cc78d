package lifecycle_test

import (
	"testing"
	"time"

	"complyline/internal/domain"
	"complyline/internal/lifecycle"
)

func TestEffectiveStatusCompletedWins(t *testing.T) {
	today := date(2024, 6, 1)
	longPast := date(2020, 1, 1)
	if got := lifecycle.EffectiveStatus("completed", &longPast, today); got != "completed" {
		t.Errorf("completed with past due: got %q", got)
	}
	if lifecycle.IsOverdue("completed", &longPast, today) {
		t.Errorf("completed must never be overdue")
	}
}

func TestEffectiveStatusNoDueDate(t *testing.T) {
	today := date(2024, 6, 1)
	for _, stored := range []string{"not_started", "in_progress"} {
		if got := lifecycle.EffectiveStatus(stored, nil, today); got != stored {
			t.Errorf("no due date: got %q, want %q", got, stored)
		}
		if lifecycle.IsOverdue(stored, nil, today) {
			t.Errorf("no due date must not be overdue")
		}
	}
}

func TestEffectiveStatusTemporalRules(t *testing.T) {
	today := date(2024, 6, 15)
	cases := []struct {
		name string
		due  time.Time
		want string
	}{
		{"past due", date(2024, 6, 14), "overdue"},
		{"due today", date(2024, 6, 15), "upcoming"},
		{"edge of window", date(2024, 6, 29), "upcoming"},
		{"past window", date(2024, 6, 30), "in_progress"},
		{"far future", date(2025, 1, 1), "in_progress"},
	}
	for _, tc := range cases {
		due := tc.due
		if got := lifecycle.EffectiveStatus("in_progress", &due, today); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestIsOverdueStrictlyPast(t *testing.T) {
	today := date(2024, 6, 15)
	yesterday := date(2024, 6, 14)
	if !lifecycle.IsOverdue("in_progress", &yesterday, today) {
		t.Errorf("yesterday should be overdue")
	}
	dueToday := today
	if lifecycle.IsOverdue("not_started", &dueToday, today) {
		t.Errorf("due today is not overdue")
	}
	// IsOverdue never produces the upcoming classification.
	soon := date(2024, 6, 20)
	if lifecycle.IsOverdue("in_progress", &soon, today) {
		t.Errorf("upcoming must not count as overdue")
	}
}

func TestEffectiveStatusWindowConfigurable(t *testing.T) {
	today := date(2024, 6, 15)
	due := date(2024, 6, 20)
	if got := lifecycle.EffectiveStatusWindow("not_started", &due, today, 3); got != "not_started" {
		t.Errorf("outside 3-day window: got %q", got)
	}
	if got := lifecycle.EffectiveStatusWindow("not_started", &due, today, 7); got != "upcoming" {
		t.Errorf("inside 7-day window: got %q", got)
	}
}

func TestObligationStatusEndToEnd(t *testing.T) {
	today := date(2024, 6, 15)
	dueStr := "2024-06-14"
	o := domain.Obligation{Status: "in_progress", DueDate: &dueStr}
	if got := lifecycle.ObligationEffectiveStatus(o, today, 14); got != "overdue" {
		t.Fatalf("expected overdue, got %q", got)
	}
	if !lifecycle.ObligationIsOverdue(o, today) {
		t.Fatalf("expected overdue predicate true")
	}
	o.Status = "completed"
	if got := lifecycle.ObligationEffectiveStatus(o, today, 14); got != "completed" {
		t.Fatalf("expected completed, got %q", got)
	}
	if lifecycle.ObligationIsOverdue(o, today) {
		t.Fatalf("expected overdue predicate false after completion")
	}
}
