package lifecycle_test

import (
	"testing"

	"complyline/internal/domain"
	"complyline/internal/lifecycle"
)

func obl(status string, due string) domain.Obligation {
	o := domain.Obligation{Status: status}
	if due != "" {
		o.DueDate = &due
	}
	return o
}

func TestRecountBuckets(t *testing.T) {
	today := date(2024, 6, 15)
	members := []domain.Obligation{
		obl("not_started", ""),
		obl("not_started", "2024-06-01"), // overdue
		obl("in_progress", "2024-06-10"), // overdue
		obl("in_progress", "2024-07-01"),
		obl("completed", "2024-06-01"), // past due but completed
	}
	c := lifecycle.Recount(members, today)
	if c.NotStarted != 2 || c.InProgress != 2 || c.Completed != 1 {
		t.Fatalf("unexpected buckets: %+v", c)
	}
	if c.Overdue != 2 {
		t.Fatalf("expected 2 overdue, got %d", c.Overdue)
	}
	if c.Total() != len(members) {
		t.Fatalf("buckets must partition members: total %d, members %d", c.Total(), len(members))
	}
	if c.Overdue > c.NotStarted+c.InProgress {
		t.Fatalf("overdue exceeds non-completed members: %+v", c)
	}
}

func TestRecountEmptyAndRepeat(t *testing.T) {
	today := date(2024, 6, 15)
	if c := lifecycle.Recount(nil, today); c != (lifecycle.Counts{}) {
		t.Fatalf("empty recount must be zero: %+v", c)
	}
	members := []domain.Obligation{obl("in_progress", "2024-01-01")}
	first := lifecycle.Recount(members, today)
	second := lifecycle.Recount(members, today)
	if first != second {
		t.Fatalf("recount must be deterministic: %+v vs %+v", first, second)
	}
}

func TestRecountUnknownStatusCountsAsNotStarted(t *testing.T) {
	c := lifecycle.Recount([]domain.Obligation{obl("mystery", "")}, date(2024, 1, 1))
	if c.NotStarted != 1 || c.Total() != 1 {
		t.Fatalf("unknown status must land in not_started: %+v", c)
	}
}
