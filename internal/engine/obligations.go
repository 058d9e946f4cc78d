package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/lifecycle"
	"complyline/internal/repo"
)

const identifierRetries = 5

func validStoredStatus(s string) bool {
	switch s {
	case domain.StatusNotStarted, domain.StatusInProgress, domain.StatusCompleted:
		return true
	}
	return false
}

// parseDateField validates a YYYY-MM-DD input field.
func parseDateField(field, value string) (time.Time, error) {
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, invalid(field, "must be a YYYY-MM-DD date")
	}
	return t, nil
}

// forecast recomputes the recurring forecast from the due date anchor. A
// missing due date anchors on today. Unrecognized frequency codes fall back
// to the monthly offset; that is logged here so the pure rule stays silent.
func (e Engine) forecast(o *domain.Obligation) {
	if !o.Recurring {
		o.RecurringForecastedDate = nil
		return
	}
	freq := e.defaultFrequency()
	if o.RecurringFrequency != nil && *o.RecurringFrequency != "" {
		freq = *o.RecurringFrequency
	}
	today := e.today()
	anchor := today
	if due, ok := domain.ParseDate(o.DueDate); ok {
		anchor = due
	}
	next, recognized := lifecycle.NextOccurrence(freq, anchor, today)
	if !recognized {
		log.Printf("obligation %s: frequency %q not recognized, forecasting monthly", o.ID, freq)
	}
	forecast := domain.FormatDate(next)
	o.RecurringForecastedDate = &forecast
}

// ObligationCreateOptions are parameters for creating an obligation.
type ObligationCreateOptions struct {
	ID                 string
	ProjectID          string
	MechanismID        string
	Title              string
	Description        string
	Status             string
	DueDate            string
	CloseOutDate       string
	Recurring          bool
	RecurringFrequency string
	ActorID            string
}

func (e Engine) CreateObligation(ctx context.Context, opts ObligationCreateOptions) (domain.Obligation, error) {
	if e.Config == nil {
		return domain.Obligation{}, errConfigNotLoaded
	}
	if opts.Title == "" {
		return domain.Obligation{}, invalid("title", "required")
	}
	if opts.ProjectID == "" {
		return domain.Obligation{}, invalid("project", "required")
	}
	if opts.Status == "" {
		opts.Status = domain.StatusNotStarted
	}
	if !validStoredStatus(opts.Status) {
		return domain.Obligation{}, invalid("status", "must be not_started, in_progress or completed")
	}
	var due, closeOut time.Time
	if opts.DueDate != "" {
		var err error
		if due, err = parseDateField("due_date", opts.DueDate); err != nil {
			return domain.Obligation{}, err
		}
	}
	if opts.CloseOutDate != "" {
		var err error
		if closeOut, err = parseDateField("close_out_date", opts.CloseOutDate); err != nil {
			return domain.Obligation{}, err
		}
	}
	if opts.DueDate != "" && opts.CloseOutDate != "" && closeOut.Before(due) {
		return domain.Obligation{}, invalid("close_out_date", "must not be before due_date")
	}
	if opts.Status == domain.StatusCompleted {
		if opts.Recurring {
			return domain.Obligation{}, invalid("status", "recurring obligations cannot be created completed")
		}
		if opts.CloseOutDate == "" {
			return domain.Obligation{}, invalid("close_out_date", "required when status is completed")
		}
	}
	if opts.RecurringFrequency != "" && !opts.Recurring {
		return domain.Obligation{}, invalid("recurring_frequency", "requires recurring")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Obligation{}, err
	}
	if opts.MechanismID != "" {
		m, err := e.Repo.GetMechanism(ctx, opts.MechanismID)
		if err != nil {
			return domain.Obligation{}, err
		}
		if m.ProjectID != opts.ProjectID {
			return domain.Obligation{}, fmt.Errorf("mechanism %s not in project %s", opts.MechanismID, opts.ProjectID)
		}
	}
	prefix := e.identifierPrefix()
	if opts.ID != "" && !lifecycle.ValidIdentifier(opts.ID, prefix) {
		return domain.Obligation{}, invalid("id", fmt.Sprintf("must match %s-NNN", prefix))
	}
	now := e.now().UTC().Format(time.RFC3339)
	o := domain.Obligation{
		ID:           opts.ID,
		ProjectID:    opts.ProjectID,
		MechanismID:  optionalString(opts.MechanismID),
		Title:        opts.Title,
		Description:  opts.Description,
		Status:       opts.Status,
		DueDate:      optionalString(opts.DueDate),
		CloseOutDate: optionalString(opts.CloseOutDate),
		Recurring:    opts.Recurring,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if opts.Recurring {
		freq := lifecycle.NormalizeFrequency(opts.RecurringFrequency)
		if freq == "" {
			freq = e.defaultFrequency()
		}
		o.RecurringFrequency = &freq
	}
	e.forecast(&o)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()

	// A generated identifier is only a candidate until the insert commits
	// under the primary key; a concurrent creator can win the same suffix,
	// so recompute and retry on conflict.
	generated := o.ID == ""
	for attempt := 0; ; attempt++ {
		if generated {
			existing, err := e.Repo.ListObligationIDsByPrefixTx(ctx, tx, prefix)
			if err != nil {
				return o, err
			}
			o.ID = lifecycle.NextIdentifier(existing, prefix)
		}
		err := e.Repo.InsertObligation(ctx, tx, o)
		if err == nil {
			break
		}
		if generated && isUniqueViolation(err) && attempt < identifierRetries {
			continue
		}
		return o, err
	}
	if o.MechanismID != nil {
		if _, err := e.recountMechanismTx(ctx, tx, *o.MechanismID); err != nil {
			return o, err
		}
	}
	if err := e.Events.Append(ctx, tx, "obligation.created", o.ProjectID, "obligation", o.ID, opts.ActorID, events.EventPayload{
		"title":  o.Title,
		"status": o.Status,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// ObligationUpdateOptions encapsulates allowed updates. Nil fields are left
// untouched; pointer fields set to the empty string clear the value.
type ObligationUpdateOptions struct {
	ID                 string
	MechanismID        *string
	Title              *string
	Description        *string
	Status             *string
	DueDate            *string
	CloseOutDate       *string
	Recurring          *bool
	RecurringFrequency *string
	ActorID            string
}

func (e Engine) UpdateObligation(ctx context.Context, opts ObligationUpdateOptions) (domain.Obligation, error) {
	if e.Config == nil {
		return domain.Obligation{}, errConfigNotLoaded
	}
	o, err := e.Repo.GetObligation(ctx, opts.ID)
	if err != nil {
		return o, err
	}
	original := o

	if opts.Title != nil {
		if *opts.Title == "" {
			return o, invalid("title", "required")
		}
		o.Title = *opts.Title
	}
	if opts.Description != nil {
		o.Description = *opts.Description
	}
	if opts.MechanismID != nil {
		if *opts.MechanismID == "" {
			o.MechanismID = nil
		} else {
			m, err := e.Repo.GetMechanism(ctx, *opts.MechanismID)
			if err != nil {
				return o, err
			}
			if m.ProjectID != o.ProjectID {
				return o, fmt.Errorf("mechanism %s not in project %s", *opts.MechanismID, o.ProjectID)
			}
			o.MechanismID = opts.MechanismID
		}
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			o.DueDate = nil
		} else {
			if _, err := parseDateField("due_date", *opts.DueDate); err != nil {
				return o, err
			}
			o.DueDate = opts.DueDate
		}
	}
	if opts.CloseOutDate != nil {
		if *opts.CloseOutDate == "" {
			o.CloseOutDate = nil
		} else {
			if _, err := parseDateField("close_out_date", *opts.CloseOutDate); err != nil {
				return o, err
			}
			o.CloseOutDate = opts.CloseOutDate
		}
	}
	if due, ok := domain.ParseDate(o.DueDate); ok {
		if closeOut, ok := domain.ParseDate(o.CloseOutDate); ok && closeOut.Before(due) {
			return o, invalid("close_out_date", "must not be before due_date")
		}
	}
	if opts.Recurring != nil {
		o.Recurring = *opts.Recurring
		if !o.Recurring {
			o.RecurringFrequency = nil
			o.RecurringForecastedDate = nil
		}
	}
	if opts.RecurringFrequency != nil {
		if !o.Recurring {
			return o, invalid("recurring_frequency", "requires recurring")
		}
		freq := lifecycle.NormalizeFrequency(*opts.RecurringFrequency)
		if freq == "" {
			freq = e.defaultFrequency()
		}
		o.RecurringFrequency = &freq
	}
	if o.Recurring && o.RecurringFrequency == nil {
		freq := e.defaultFrequency()
		o.RecurringFrequency = &freq
	}

	rolledOver := false
	if opts.Status != nil && *opts.Status != original.Status {
		if !validStoredStatus(*opts.Status) {
			return o, invalid("status", "must be not_started, in_progress or completed")
		}
		if *opts.Status == domain.StatusCompleted {
			if o.Recurring {
				// Completing a recurring obligation rolls it over: the due
				// date advances one period and the status resets, keeping a
				// single living row per recurring requirement.
				freq := e.defaultFrequency()
				if o.RecurringFrequency != nil {
					freq = *o.RecurringFrequency
				}
				today := e.today()
				anchor := today
				if due, ok := domain.ParseDate(o.DueDate); ok {
					anchor = due
				}
				next, recognized := lifecycle.NextOccurrence(freq, anchor, today)
				if !recognized {
					log.Printf("obligation %s: frequency %q not recognized, rolling over monthly", o.ID, freq)
				}
				nextDue := domain.FormatDate(next)
				o.DueDate = &nextDue
				o.CloseOutDate = nil
				o.Status = domain.StatusNotStarted
				rolledOver = true
			} else {
				if o.CloseOutDate == nil {
					return o, invalid("close_out_date", "required when status is completed")
				}
				o.Status = domain.StatusCompleted
			}
		} else {
			o.Status = *opts.Status
		}
	}
	e.forecast(&o)
	o.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return o, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateObligation(ctx, tx, o); err != nil {
		return o, err
	}
	if err := e.recountAffected(ctx, tx, original.MechanismID, o.MechanismID); err != nil {
		return o, err
	}
	if rolledOver {
		if err := e.Events.Append(ctx, tx, "obligation.rolled_over", o.ProjectID, "obligation", o.ID, opts.ActorID, events.EventPayload{
			"next_due_date": derefString(o.DueDate),
			"frequency":     derefString(o.RecurringFrequency),
		}); err != nil {
			return o, err
		}
	}
	if err := e.Events.Append(ctx, tx, "obligation.updated", o.ProjectID, "obligation", o.ID, opts.ActorID, events.EventPayload{
		"from_status": original.Status,
		"to_status":   o.Status,
	}); err != nil {
		return o, err
	}
	if err := tx.Commit(); err != nil {
		return o, err
	}
	return o, nil
}

// recountAffected recounts the mechanisms touched by an obligation change,
// deduplicating when the membership did not move.
func (e Engine) recountAffected(ctx context.Context, tx *sql.Tx, before, after *string) error {
	seen := map[string]bool{}
	for _, id := range []*string{before, after} {
		if id == nil || seen[*id] {
			continue
		}
		seen[*id] = true
		if _, err := e.recountMechanismTx(ctx, tx, *id); err != nil {
			return err
		}
	}
	return nil
}

func (e Engine) DeleteObligation(ctx context.Context, id, actorID string) error {
	o, err := e.Repo.GetObligation(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteObligation(ctx, tx, id); err != nil {
		return err
	}
	if o.MechanismID != nil {
		if _, err := e.recountMechanismTx(ctx, tx, *o.MechanismID); err != nil {
			return err
		}
	}
	if err := e.Events.Append(ctx, tx, "obligation.deleted", o.ProjectID, "obligation", id, actorID, events.EventPayload{"title": o.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// ObligationView is an obligation with its derived display status.
type ObligationView struct {
	domain.Obligation
	EffectiveStatus string `json:"effective_status"`
}

// ViewObligation attaches the derived status without persisting it.
func (e Engine) ViewObligation(o domain.Obligation) ObligationView {
	return ObligationView{
		Obligation:      o,
		EffectiveStatus: lifecycle.ObligationEffectiveStatus(o, e.today(), e.upcomingWindow()),
	}
}

// ListObligations returns filtered obligations with derived statuses.
func (e Engine) ListObligations(ctx context.Context, f repo.ObligationFilters) ([]ObligationView, error) {
	rows, err := e.Repo.ListObligations(ctx, f)
	if err != nil {
		return nil, err
	}
	views := make([]ObligationView, 0, len(rows))
	for _, o := range rows {
		views = append(views, e.ViewObligation(o))
	}
	return views, nil
}

// --- evidence ---

// EvidenceAddOptions are parameters for attaching evidence metadata to an
// obligation.
type EvidenceAddOptions struct {
	ID           string
	ObligationID string
	Kind         string
	Title        string
	URL          string
	ActorID      string
}

func (e Engine) AddEvidence(ctx context.Context, opts EvidenceAddOptions) (domain.Evidence, error) {
	if opts.Kind == "" {
		return domain.Evidence{}, invalid("kind", "required")
	}
	if opts.Title == "" {
		return domain.Evidence{}, invalid("title", "required")
	}
	o, err := e.Repo.GetObligation(ctx, opts.ObligationID)
	if err != nil {
		return domain.Evidence{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.now().UTC().Format(time.RFC3339)
	ev := domain.Evidence{
		ID:           id,
		ProjectID:    o.ProjectID,
		ObligationID: o.ID,
		Kind:         opts.Kind,
		Title:        opts.Title,
		URL:          opts.URL,
		CreatedBy:    opts.ActorID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ev, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertEvidence(ctx, tx, ev); err != nil {
		return ev, err
	}
	if err := e.Events.Append(ctx, tx, "evidence.added", ev.ProjectID, "evidence", ev.ID, opts.ActorID, events.EventPayload{
		"obligation": ev.ObligationID,
		"kind":       ev.Kind,
	}); err != nil {
		return ev, err
	}
	if err := tx.Commit(); err != nil {
		return ev, err
	}
	return ev, nil
}

func (e Engine) DeleteEvidence(ctx context.Context, id, actorID string) error {
	ev, err := e.Repo.GetEvidence(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteEvidence(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "evidence.removed", ev.ProjectID, "evidence", id, actorID, events.EventPayload{"obligation": ev.ObligationID}); err != nil {
		return err
	}
	return tx.Commit()
}

// --- assignments ---

// AssignObligation records an actor as responsible for an obligation.
func (e Engine) AssignObligation(ctx context.Context, obligationID, assigneeID, role, actorID string) (domain.Assignment, error) {
	if assigneeID == "" {
		return domain.Assignment{}, invalid("actor", "required")
	}
	o, err := e.Repo.GetObligation(ctx, obligationID)
	if err != nil {
		return domain.Assignment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Assignment{
		ProjectID:    o.ProjectID,
		ObligationID: o.ID,
		ActorID:      assigneeID,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.EnsureActor(ctx, tx, assigneeID, now); err != nil {
		return a, err
	}
	if err := e.Repo.UpsertAssignment(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "obligation.assigned", o.ProjectID, "obligation", o.ID, actorID, events.EventPayload{
		"assignee": assigneeID,
		"role":     role,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func (e Engine) UnassignObligation(ctx context.Context, obligationID, assigneeID, actorID string) error {
	o, err := e.Repo.GetObligation(ctx, obligationID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAssignment(ctx, tx, obligationID, assigneeID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "obligation.unassigned", o.ProjectID, "obligation", o.ID, actorID, events.EventPayload{"assignee": assigneeID}); err != nil {
		return err
	}
	return tx.Commit()
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
