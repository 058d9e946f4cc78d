package lifecycle

import (
	"time"

	"complyline/internal/domain"
)

// Counts is the result of a full mechanism recount. The first three buckets
// partition the member obligations; overdue overlaps them (an overdue
// obligation is counted both in its status bucket and here).
type Counts struct {
	NotStarted int
	InProgress int
	Completed  int
	Overdue    int
}

// Total is the number of member obligations counted.
func (c Counts) Total() int {
	return c.NotStarted + c.InProgress + c.Completed
}

// Recount tallies a mechanism's member obligations from scratch. It is a
// full scan, not a delta update, so repeated recounts cannot drift and the
// last concurrent recount to commit is correct.
func Recount(members []domain.Obligation, today time.Time) Counts {
	var c Counts
	for _, o := range members {
		switch o.Status {
		case domain.StatusInProgress:
			c.InProgress++
		case domain.StatusCompleted:
			c.Completed++
		default:
			// Unknown stored statuses count as not started rather than
			// vanishing from the totals.
			c.NotStarted++
		}
		if ObligationIsOverdue(o, today) {
			c.Overdue++
		}
	}
	return c
}
