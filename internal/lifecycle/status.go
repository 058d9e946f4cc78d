package lifecycle

import (
	"time"

	"complyline/internal/domain"
)

// Derived display statuses. Stored statuses pass through unchanged when no
// temporal rule applies.
const (
	StatusOverdue  = "overdue"
	StatusUpcoming = "upcoming"
)

// DefaultUpcomingWindowDays is how far ahead a due date counts as upcoming.
const DefaultUpcomingWindowDays = 14

// EffectiveStatus derives the display status of an obligation from its
// stored status and due date. First match wins:
//
//  1. completed stays completed, even past its due date
//  2. no due date: the stored status passes through
//  3. due date in the past: overdue
//  4. due within the upcoming window: upcoming
//  5. otherwise the stored status passes through
//
// The result is never persisted.
func EffectiveStatus(stored string, due *time.Time, today time.Time) string {
	return EffectiveStatusWindow(stored, due, today, DefaultUpcomingWindowDays)
}

// EffectiveStatusWindow is EffectiveStatus with a configurable upcoming
// window in days.
func EffectiveStatusWindow(stored string, due *time.Time, today time.Time, windowDays int) string {
	if stored == domain.StatusCompleted {
		return domain.StatusCompleted
	}
	if due == nil {
		return stored
	}
	d := truncateDay(*due)
	t := truncateDay(today)
	if d.Before(t) {
		return StatusOverdue
	}
	if windowDays < 0 {
		windowDays = DefaultUpcomingWindowDays
	}
	if !d.After(t.AddDate(0, 0, windowDays)) {
		return StatusUpcoming
	}
	return stored
}

// IsOverdue is the narrow counting predicate: true only when a non-completed
// obligation's due date is strictly in the past. It never reports the
// upcoming classification; callers filtering for overdue rows must use this
// rather than comparing EffectiveStatus output.
func IsOverdue(stored string, due *time.Time, today time.Time) bool {
	if stored == domain.StatusCompleted || due == nil {
		return false
	}
	return truncateDay(*due).Before(truncateDay(today))
}

// ObligationEffectiveStatus applies EffectiveStatusWindow to a stored
// obligation row.
func ObligationEffectiveStatus(o domain.Obligation, today time.Time, windowDays int) string {
	due, ok := domain.ParseDate(o.DueDate)
	if !ok {
		return EffectiveStatusWindow(o.Status, nil, today, windowDays)
	}
	return EffectiveStatusWindow(o.Status, &due, today, windowDays)
}

// ObligationIsOverdue applies IsOverdue to a stored obligation row.
func ObligationIsOverdue(o domain.Obligation, today time.Time) bool {
	due, ok := domain.ParseDate(o.DueDate)
	if !ok {
		return false
	}
	return IsOverdue(o.Status, &due, today)
}
