package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"complyline/internal/domain"
	"complyline/internal/events"
	"complyline/internal/lifecycle"
)

// AuditCreateOptions are parameters for creating an audit.
type AuditCreateOptions struct {
	ID           string
	ProjectID    string
	Title        string
	Description  string
	MechanismIDs []string
	ActorID      string
}

// CreateAudit creates an audit scoped to a set of mechanisms and generates
// its initial entries, one per obligation under those mechanisms.
func (e Engine) CreateAudit(ctx context.Context, opts AuditCreateOptions) (domain.Audit, error) {
	if e.Config == nil {
		return domain.Audit{}, errConfigNotLoaded
	}
	if opts.Title == "" {
		return domain.Audit{}, invalid("title", "required")
	}
	if opts.ProjectID == "" {
		return domain.Audit{}, invalid("project", "required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Audit{}, err
	}
	if err := e.checkMechanismScope(ctx, opts.ProjectID, opts.MechanismIDs); err != nil {
		return domain.Audit{}, err
	}
	id := opts.ID
	if id == "" {
		id = newID()
	}
	now := e.now().UTC().Format(time.RFC3339)
	a := domain.Audit{
		ID:           id,
		ProjectID:    opts.ProjectID,
		Title:        opts.Title,
		Description:  opts.Description,
		MechanismIDs: opts.MechanismIDs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAudit(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Repo.SetAuditMechanisms(ctx, tx, a.ID, a.MechanismIDs); err != nil {
		return a, err
	}
	count, err := e.rebuildEntriesTx(ctx, tx, a)
	if err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "audit.created", a.ProjectID, "audit", a.ID, opts.ActorID, events.EventPayload{
		"title":   a.Title,
		"entries": count,
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

func (e Engine) checkMechanismScope(ctx context.Context, projectID string, mechanismIDs []string) error {
	for _, mid := range mechanismIDs {
		m, err := e.Repo.GetMechanism(ctx, mid)
		if err != nil {
			return fmt.Errorf("mechanism %s: %w", mid, err)
		}
		if m.ProjectID != projectID {
			return fmt.Errorf("mechanism %s not in project %s", mid, projectID)
		}
	}
	return nil
}

// SetAuditMechanisms replaces an audit's mechanism scope. Entries are not
// touched; run RebuildAuditEntries to regenerate them against the new
// scope.
func (e Engine) SetAuditMechanisms(ctx context.Context, auditID string, mechanismIDs []string, actorID string) (domain.Audit, error) {
	a, err := e.Repo.GetAudit(ctx, auditID)
	if err != nil {
		return a, err
	}
	if err := e.checkMechanismScope(ctx, a.ProjectID, mechanismIDs); err != nil {
		return a, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return a, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetAuditMechanisms(ctx, tx, auditID, mechanismIDs); err != nil {
		return a, err
	}
	a.MechanismIDs = mechanismIDs
	a.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAudit(ctx, tx, a); err != nil {
		return a, err
	}
	if err := e.Events.Append(ctx, tx, "audit.scope.updated", a.ProjectID, "audit", a.ID, actorID, events.EventPayload{
		"mechanisms": len(mechanismIDs),
	}); err != nil {
		return a, err
	}
	if err := tx.Commit(); err != nil {
		return a, err
	}
	return a, nil
}

// rebuildEntriesTx drops and regenerates the audit's entries from its
// current mechanism scope. Existing findings are discarded; rebuilding is
// for (re)opening an audit, not for amending one in flight.
func (e Engine) rebuildEntriesTx(ctx context.Context, tx *sql.Tx, a domain.Audit) (int, error) {
	if err := e.Repo.DeleteAuditEntries(ctx, tx, a.ID); err != nil {
		return 0, err
	}
	obligations, err := e.Repo.ListObligationsByMechanismsTx(ctx, tx, a.MechanismIDs)
	if err != nil {
		return 0, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	for _, o := range obligations {
		entry := domain.AuditEntry{
			ID:           newID(),
			AuditID:      a.ID,
			ObligationID: o.ID,
			Status:       domain.EntryStatusPending,
			Finding:      domain.FindingCompliant,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertAuditEntry(ctx, tx, entry); err != nil {
			return 0, err
		}
	}
	return len(obligations), nil
}

// RebuildAuditEntries regenerates the entry set and returns how many
// entries exist afterwards. Running it twice yields the same result.
func (e Engine) RebuildAuditEntries(ctx context.Context, auditID, actorID string) (int, error) {
	a, err := e.Repo.GetAudit(ctx, auditID)
	if err != nil {
		return 0, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	count, err := e.rebuildEntriesTx(ctx, tx, a)
	if err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, "audit.entries.rebuilt", a.ProjectID, "audit", a.ID, actorID, events.EventPayload{"entries": count}); err != nil {
		return count, err
	}
	return count, tx.Commit()
}

func (e Engine) DeleteAudit(ctx context.Context, id, actorID string) error {
	a, err := e.Repo.GetAudit(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAudit(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "audit.deleted", a.ProjectID, "audit", id, actorID, events.EventPayload{"title": a.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func validFinding(f string) bool {
	switch f {
	case domain.FindingCompliant, domain.FindingNoncompliant, domain.FindingNotApplicable:
		return true
	}
	return false
}

// SetEntryFinding records an auditor's finding on an entry and derives the
// entry status: non-noncompliant findings close the entry as compliant; a
// noncompliant finding keeps it noncompliant until every mitigation is
// closed.
func (e Engine) SetEntryFinding(ctx context.Context, entryID, finding, notes, actorID string) (domain.AuditEntry, error) {
	if !validFinding(finding) {
		return domain.AuditEntry{}, invalid("finding", "must be compliant, noncompliant or not_applicable")
	}
	entry, err := e.Repo.GetAuditEntry(ctx, entryID)
	if err != nil {
		return entry, err
	}
	a, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return entry, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return entry, err
	}
	defer tx.Rollback()
	entry.Finding = finding
	if notes != "" {
		entry.Notes = notes
	}
	if finding == domain.FindingNoncompliant {
		mits, err := e.Repo.ListMitigationsTx(ctx, tx, entry.ID)
		if err != nil {
			return entry, err
		}
		if len(mits) == 0 {
			entry.Status = domain.EntryStatusNoncompliant
		} else {
			entry.Status = lifecycle.AuditEntryStatus(mits)
		}
	} else {
		entry.Status = domain.EntryStatusCompliant
	}
	entry.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAuditEntry(ctx, tx, entry); err != nil {
		return entry, err
	}
	if err := e.Events.Append(ctx, tx, "audit.entry.finding", a.ProjectID, "audit_entry", entry.ID, actorID, events.EventPayload{
		"finding": finding,
		"status":  entry.Status,
	}); err != nil {
		return entry, err
	}
	if err := tx.Commit(); err != nil {
		return entry, err
	}
	return entry, nil
}

// refreshEntryStatusTx recomputes one entry's status from its mitigations.
// Pending entries have no recorded finding yet and are left alone.
func (e Engine) refreshEntryStatusTx(ctx context.Context, tx *sql.Tx, entryID string) (domain.AuditEntry, error) {
	entry, err := e.Repo.GetAuditEntryTx(ctx, tx, entryID)
	if err != nil {
		return entry, err
	}
	if entry.Status == domain.EntryStatusPending {
		return entry, nil
	}
	var status string
	if entry.Finding == domain.FindingNoncompliant {
		mits, err := e.Repo.ListMitigationsTx(ctx, tx, entry.ID)
		if err != nil {
			return entry, err
		}
		if len(mits) == 0 {
			status = domain.EntryStatusNoncompliant
		} else {
			status = lifecycle.AuditEntryStatus(mits)
		}
	} else {
		status = domain.EntryStatusCompliant
	}
	if status == entry.Status {
		return entry, nil
	}
	entry.Status = status
	entry.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateAuditEntry(ctx, tx, entry); err != nil {
		return entry, err
	}
	return entry, nil
}

// --- mitigations ---

// AddMitigation attaches a mitigation to a noncompliant entry. New
// mitigations start open; their status is derived from corrective actions
// once any exist.
func (e Engine) AddMitigation(ctx context.Context, entryID, description, actorID string) (domain.Mitigation, error) {
	if description == "" {
		return domain.Mitigation{}, invalid("description", "required")
	}
	entry, err := e.Repo.GetAuditEntry(ctx, entryID)
	if err != nil {
		return domain.Mitigation{}, err
	}
	if entry.Finding != domain.FindingNoncompliant {
		return domain.Mitigation{}, invalid("entry", "mitigations attach to noncompliant findings only")
	}
	a, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return domain.Mitigation{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	m := domain.Mitigation{
		ID:          newID(),
		EntryID:     entry.ID,
		Description: description,
		Status:      domain.MitigationOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertMitigation(ctx, tx, m); err != nil {
		return m, err
	}
	if _, err := e.refreshEntryStatusTx(ctx, tx, entry.ID); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mitigation.created", a.ProjectID, "mitigation", m.ID, actorID, events.EventPayload{"entry": entry.ID}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

func validMitigationStatus(s string) bool {
	switch s {
	case domain.MitigationOpen, domain.MitigationClosed, domain.MitigationActionRequired:
		return true
	}
	return false
}

// MitigationUpdateOptions encapsulates allowed updates.
type MitigationUpdateOptions struct {
	ID          string
	Description *string
	Status      *string
	ActorID     string
}

// UpdateMitigation applies manual edits. Setting the status by hand is
// allowed only while the mitigation has no corrective actions; once actions
// exist the status is derived from them.
func (e Engine) UpdateMitigation(ctx context.Context, opts MitigationUpdateOptions) (domain.Mitigation, error) {
	m, err := e.Repo.GetMitigation(ctx, opts.ID)
	if err != nil {
		return m, err
	}
	entry, err := e.Repo.GetAuditEntry(ctx, m.EntryID)
	if err != nil {
		return m, err
	}
	a, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return m, err
	}
	if opts.Description != nil {
		if *opts.Description == "" {
			return m, invalid("description", "required")
		}
		m.Description = *opts.Description
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return m, err
	}
	defer tx.Rollback()
	if opts.Status != nil {
		if !validMitigationStatus(*opts.Status) {
			return m, invalid("status", "must be open, closed or action_required")
		}
		actions, err := e.Repo.ListCorrectiveActionsTx(ctx, tx, m.ID)
		if err != nil {
			return m, err
		}
		if len(actions) > 0 {
			return m, invalid("status", "derived from corrective actions; close the actions instead")
		}
		m.Status = *opts.Status
	}
	m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateMitigation(ctx, tx, m); err != nil {
		return m, err
	}
	if _, err := e.refreshEntryStatusTx(ctx, tx, m.EntryID); err != nil {
		return m, err
	}
	if err := e.Events.Append(ctx, tx, "mitigation.updated", a.ProjectID, "mitigation", m.ID, opts.ActorID, events.EventPayload{"status": m.Status}); err != nil {
		return m, err
	}
	if err := tx.Commit(); err != nil {
		return m, err
	}
	return m, nil
}

func (e Engine) DeleteMitigation(ctx context.Context, id, actorID string) error {
	m, err := e.Repo.GetMitigation(ctx, id)
	if err != nil {
		return err
	}
	entry, err := e.Repo.GetAuditEntry(ctx, m.EntryID)
	if err != nil {
		return err
	}
	a, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteMitigation(ctx, tx, id); err != nil {
		return err
	}
	if _, err := e.refreshEntryStatusTx(ctx, tx, m.EntryID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "mitigation.deleted", a.ProjectID, "mitigation", id, actorID, events.EventPayload{"entry": m.EntryID}); err != nil {
		return err
	}
	return tx.Commit()
}

// refreshMitigationTx recomputes a mitigation's status from its corrective
// actions, then cascades one level up to the entry.
func (e Engine) refreshMitigationTx(ctx context.Context, tx *sql.Tx, mitigationID string) error {
	m, err := e.Repo.GetMitigationTx(ctx, tx, mitigationID)
	if err != nil {
		return err
	}
	actions, err := e.Repo.ListCorrectiveActionsTx(ctx, tx, mitigationID)
	if err != nil {
		return err
	}
	status := lifecycle.MitigationStatus(actions)
	if status != m.Status {
		m.Status = status
		m.UpdatedAt = e.now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpdateMitigation(ctx, tx, m); err != nil {
			return err
		}
	}
	_, err = e.refreshEntryStatusTx(ctx, tx, m.EntryID)
	return err
}

// --- corrective actions ---

func validActionStatus(s string) bool {
	switch s {
	case domain.ActionOpen, domain.ActionInProgress, domain.ActionClosed, domain.ActionOverdue:
		return true
	}
	return false
}

// CorrectiveActionOptions are parameters for creating a corrective action.
type CorrectiveActionOptions struct {
	MitigationID string
	Description  string
	DueDate      string
	ActorID      string
}

func (e Engine) AddCorrectiveAction(ctx context.Context, opts CorrectiveActionOptions) (domain.CorrectiveAction, error) {
	if opts.Description == "" {
		return domain.CorrectiveAction{}, invalid("description", "required")
	}
	if opts.DueDate != "" {
		if _, err := parseDateField("due_date", opts.DueDate); err != nil {
			return domain.CorrectiveAction{}, err
		}
	}
	m, err := e.Repo.GetMitigation(ctx, opts.MitigationID)
	if err != nil {
		return domain.CorrectiveAction{}, err
	}
	entry, err := e.Repo.GetAuditEntry(ctx, m.EntryID)
	if err != nil {
		return domain.CorrectiveAction{}, err
	}
	audit, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return domain.CorrectiveAction{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	ca := domain.CorrectiveAction{
		ID:           newID(),
		MitigationID: m.ID,
		Description:  opts.Description,
		Status:       domain.ActionOpen,
		DueDate:      optionalString(opts.DueDate),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ca, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertCorrectiveAction(ctx, tx, ca); err != nil {
		return ca, err
	}
	if err := e.refreshMitigationTx(ctx, tx, m.ID); err != nil {
		return ca, err
	}
	if err := e.Events.Append(ctx, tx, "corrective_action.created", audit.ProjectID, "corrective_action", ca.ID, opts.ActorID, events.EventPayload{"mitigation": m.ID}); err != nil {
		return ca, err
	}
	if err := tx.Commit(); err != nil {
		return ca, err
	}
	return ca, nil
}

// CorrectiveActionUpdateOptions encapsulates allowed updates.
type CorrectiveActionUpdateOptions struct {
	ID          string
	Description *string
	Status      *string
	DueDate     *string
	ActorID     string
}

func (e Engine) UpdateCorrectiveAction(ctx context.Context, opts CorrectiveActionUpdateOptions) (domain.CorrectiveAction, error) {
	ca, err := e.Repo.GetCorrectiveAction(ctx, opts.ID)
	if err != nil {
		return ca, err
	}
	m, err := e.Repo.GetMitigation(ctx, ca.MitigationID)
	if err != nil {
		return ca, err
	}
	entry, err := e.Repo.GetAuditEntry(ctx, m.EntryID)
	if err != nil {
		return ca, err
	}
	audit, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return ca, err
	}
	if opts.Description != nil {
		if *opts.Description == "" {
			return ca, invalid("description", "required")
		}
		ca.Description = *opts.Description
	}
	if opts.Status != nil {
		if !validActionStatus(*opts.Status) {
			return ca, invalid("status", "must be open, in_progress, closed or overdue")
		}
		ca.Status = *opts.Status
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			ca.DueDate = nil
		} else {
			if _, err := parseDateField("due_date", *opts.DueDate); err != nil {
				return ca, err
			}
			ca.DueDate = opts.DueDate
		}
	}
	ca.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ca, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateCorrectiveAction(ctx, tx, ca); err != nil {
		return ca, err
	}
	if err := e.refreshMitigationTx(ctx, tx, ca.MitigationID); err != nil {
		return ca, err
	}
	if err := e.Events.Append(ctx, tx, "corrective_action.updated", audit.ProjectID, "corrective_action", ca.ID, opts.ActorID, events.EventPayload{"status": ca.Status}); err != nil {
		return ca, err
	}
	if err := tx.Commit(); err != nil {
		return ca, err
	}
	return ca, nil
}

func (e Engine) DeleteCorrectiveAction(ctx context.Context, id, actorID string) error {
	ca, err := e.Repo.GetCorrectiveAction(ctx, id)
	if err != nil {
		return err
	}
	m, err := e.Repo.GetMitigation(ctx, ca.MitigationID)
	if err != nil {
		return err
	}
	entry, err := e.Repo.GetAuditEntry(ctx, m.EntryID)
	if err != nil {
		return err
	}
	audit, err := e.Repo.GetAudit(ctx, entry.AuditID)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteCorrectiveAction(ctx, tx, id); err != nil {
		return err
	}
	if err := e.refreshMitigationTx(ctx, tx, ca.MitigationID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "corrective_action.deleted", audit.ProjectID, "corrective_action", id, actorID, events.EventPayload{"mitigation": ca.MitigationID}); err != nil {
		return err
	}
	return tx.Commit()
}
