package lifecycle

import "complyline/internal/domain"

// MitigationStatus derives a mitigation's status from its corrective
// actions: action_required while any action is not closed, closed
// otherwise (including when there are no actions).
func MitigationStatus(actions []domain.CorrectiveAction) string {
	for _, a := range actions {
		if a.Status != domain.ActionClosed {
			return domain.MitigationActionRequired
		}
	}
	return domain.MitigationClosed
}

// AuditEntryStatus derives an audit entry's status from its mitigations:
// noncompliant while any mitigation is not closed, compliant otherwise.
//
// Each cascade rule is one level deep; saving a corrective action triggers
// a mitigation recompute, and saving the mitigation triggers the entry
// recompute. The save pipeline does the chaining, not these rules.
func AuditEntryStatus(mitigations []domain.Mitigation) string {
	for _, m := range mitigations {
		if m.Status != domain.MitigationClosed {
			return domain.EntryStatusNoncompliant
		}
	}
	return domain.EntryStatusCompliant
}
