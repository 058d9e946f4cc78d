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
)

// MechanismCreateOptions are parameters for creating a mechanism.
type MechanismCreateOptions struct {
	ID          string
	ProjectID   string
	Reference   string
	Name        string
	Description string
	Category    string
	ActorID     string
}

func (e Engine) CreateMechanism(ctx context.Context, opts MechanismCreateOptions) (domain.Mechanism, error) {
	if e.Config == nil {
		return domain.Mechanism{}, errConfigNotLoaded
	}
	if opts.Name == "" {
		return domain.Mechanism{}, invalid("name", "required")
	}
	if opts.ProjectID == "" {
		return domain.Mechanism{}, invalid("project", "required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Mechanism{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Mechanism{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Reference:   opts.Reference,
		Name:        opts.Name,
		Description: opts.Description,
		Category:    opts.Category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMechanism(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mechanism.created", m.ProjectID, "mechanism", m.ID, opts.ActorID, events.EventPayload{"name": m.Name}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// MechanismUpdateOptions encapsulates allowed updates. Nil fields are left
// untouched; counters are never updatable here.
type MechanismUpdateOptions struct {
	ID          string
	Reference   *string
	Name        *string
	Description *string
	Category    *string
	ActorID     string
}

func (e Engine) UpdateMechanism(ctx context.Context, opts MechanismUpdateOptions) (domain.Mechanism, error) {
	m, err := e.Repo.GetMechanism(ctx, opts.ID)
	if err != nil {
		return m, err
	}
	if opts.Reference != nil {
		m.Reference = *opts.Reference
	}
	if opts.Name != nil {
		if *opts.Name == "" {
			return m, invalid("name", "required")
		}
		m.Name = *opts.Name
	}
	if opts.Description != nil {
		m.Description = *opts.Description
	}
	if opts.Category != nil {
		m.Category = *opts.Category
	}
	m.UpdatedAt = e.now().UTC().Format(time.RFC3339)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateMechanism(ctx, tx, m); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mechanism.updated", m.ProjectID, "mechanism", m.ID, opts.ActorID, events.EventPayload{"name": m.Name}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

// DeleteMechanism refuses to remove a mechanism that still has member
// obligations. Reassign or delete the members first.
func (e Engine) DeleteMechanism(ctx context.Context, id, actorID string) error {
	m, err := e.Repo.GetMechanism(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	n, err := e.Repo.CountObligationsForMechanism(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("mechanism %s has %d obligations; reassign them before deleting", id, n)
	}
	if err := e.Repo.DeleteMechanism(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "mechanism.deleted", m.ProjectID, "mechanism", id, actorID, events.EventPayload{"name": m.Name}); err != nil {
		return err
	}
	return tx.Commit()
}

// recountMechanismTx recomputes the four cached counters from the full
// member set inside the caller's transaction.
func (e Engine) recountMechanismTx(ctx context.Context, tx *sql.Tx, mechanismID string) (lifecycle.Counts, error) {
	members, err := e.Repo.ListObligationsByMechanismTx(ctx, tx, mechanismID)
	if err != nil {
		return lifecycle.Counts{}, err
	}
	counts := lifecycle.Recount(members, e.today())
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateMechanismCounts(ctx, tx, mechanismID, counts.NotStarted, counts.InProgress, counts.Completed, counts.Overdue, now); err != nil {
		return counts, err
	}
	return counts, nil
}

// RecountMechanism rebuilds one mechanism's counters.
func (e Engine) RecountMechanism(ctx context.Context, id, actorID string) (lifecycle.Counts, error) {
	m, err := e.Repo.GetMechanism(ctx, id)
	if err != nil {
		return lifecycle.Counts{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return lifecycle.Counts{}, err
	}
	defer tx.Rollback()
	counts, err := e.recountMechanismTx(ctx, tx, id)
	if err != nil {
		return counts, err
	}
	if err := e.Events.Append(ctx, tx, "mechanism.recounted", m.ProjectID, "mechanism", id, actorID, events.EventPayload{
		"not_started": counts.NotStarted,
		"in_progress": counts.InProgress,
		"completed":   counts.Completed,
		"overdue":     counts.Overdue,
	}); err != nil {
		return counts, err
	}
	return counts, tx.Commit()
}

// ResyncMechanisms recounts every mechanism in the project. A failing
// mechanism is logged and skipped so one bad row does not block the rest.
// Returns the number of mechanisms recounted.
func (e Engine) ResyncMechanisms(ctx context.Context, projectID, actorID string) (int, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	ids, err := e.Repo.ListMechanismIDs(ctx, tx, projectID)
	if err != nil {
		return 0, err
	}
	recounted := 0
	for _, id := range ids {
		if _, err := e.recountMechanismTx(ctx, tx, id); err != nil {
			log.Printf("resync: skipping mechanism %s: %v", id, err)
			continue
		}
		recounted++
	}
	if err := e.Events.Append(ctx, tx, "project.resynced", projectID, "project", projectID, actorID, events.EventPayload{"mechanisms": recounted}); err != nil {
		return recounted, err
	}
	if err := tx.Commit(); err != nil {
		return recounted, err
	}
	return recounted, nil
}
