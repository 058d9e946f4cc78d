package server

import (
	"encoding/json"

	"complyline/internal/config"
	"complyline/internal/domain"
	"complyline/internal/engine"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	OrgID       string  `json:"org_id"`
	Description *string `json:"description,omitempty"`
}

type CreateMechanismRequest struct {
	ID          *string `json:"id,omitempty"`
	Reference   string  `json:"reference,omitempty"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Category    string  `json:"category,omitempty"`
}

type UpdateMechanismRequest struct {
	Reference   *string `json:"reference,omitempty"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Category    *string `json:"category,omitempty"`
}

type CreateObligationRequest struct {
	ID                 *string `json:"id,omitempty"`
	MechanismID        *string `json:"mechanism_id,omitempty"`
	Title              string  `json:"title"`
	Description        *string `json:"description,omitempty"`
	Status             *string `json:"status,omitempty" enum:"not_started,in_progress,completed"`
	DueDate            *string `json:"due_date,omitempty" format:"date"`
	CloseOutDate       *string `json:"close_out_date,omitempty" format:"date"`
	Recurring          bool    `json:"recurring,omitempty"`
	RecurringFrequency *string `json:"recurring_frequency,omitempty"`
}

type UpdateObligationRequest struct {
	MechanismID        *string `json:"mechanism_id,omitempty"`
	Title              *string `json:"title,omitempty"`
	Description        *string `json:"description,omitempty"`
	Status             *string `json:"status,omitempty" enum:"not_started,in_progress,completed"`
	DueDate            *string `json:"due_date,omitempty"`
	CloseOutDate       *string `json:"close_out_date,omitempty"`
	Recurring          *bool   `json:"recurring,omitempty"`
	RecurringFrequency *string `json:"recurring_frequency,omitempty"`
}

type CreateAuditRequest struct {
	ID           *string  `json:"id,omitempty"`
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	MechanismIDs []string `json:"mechanism_ids"`
}

type SetAuditScopeRequest struct {
	MechanismIDs []string `json:"mechanism_ids"`
}

type SetFindingRequest struct {
	Finding string `json:"finding" enum:"compliant,noncompliant,not_applicable"`
	Notes   string `json:"notes,omitempty"`
}

type CreateMitigationRequest struct {
	Description string `json:"description"`
}

type UpdateMitigationRequest struct {
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,closed"`
}

type CreateCorrectiveActionRequest struct {
	Description string `json:"description"`
	DueDate     string `json:"due_date,omitempty" format:"date"`
}

type UpdateCorrectiveActionRequest struct {
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty" enum:"open,in_progress,closed,overdue"`
	DueDate     *string `json:"due_date,omitempty"`
}

type CreateEvidenceRequest struct {
	ID    *string `json:"id,omitempty"`
	Kind  string  `json:"kind"`
	Title string  `json:"title"`
	URL   string  `json:"url,omitempty"`
}

type AssignObligationRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type ImportConfigRequest struct {
	YAML string `json:"yaml"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	OrgID   string   `json:"org_id"`
	Roles   []string `json:"roles,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MechanismResponse struct {
	ID          string `json:"id"`
	ProjectID   string `json:"project_id"`
	Reference   string `json:"reference,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category,omitempty"`
	NotStarted  int    `json:"not_started"`
	InProgress  int    `json:"in_progress"`
	Completed   int    `json:"completed"`
	Overdue     int    `json:"overdue"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type ObligationResponse struct {
	ID                      string  `json:"id"`
	ProjectID               string  `json:"project_id"`
	MechanismID             *string `json:"mechanism_id,omitempty"`
	Title                   string  `json:"title"`
	Description             string  `json:"description,omitempty"`
	Status                  string  `json:"status" enum:"not_started,in_progress,completed"`
	EffectiveStatus         string  `json:"effective_status" enum:"not_started,in_progress,completed,overdue,upcoming"`
	DueDate                 *string `json:"due_date,omitempty" format:"date"`
	CloseOutDate            *string `json:"close_out_date,omitempty" format:"date"`
	Recurring               bool    `json:"recurring"`
	RecurringFrequency      *string `json:"recurring_frequency,omitempty"`
	RecurringForecastedDate *string `json:"recurring_forecasted_date,omitempty" format:"date"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
	UpdatedAt               string  `json:"updated_at" format:"date-time"`
}

type AuditResponse struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	MechanismIDs []string `json:"mechanism_ids"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

type AuditEntryResponse struct {
	ID           string `json:"id"`
	AuditID      string `json:"audit_id"`
	ObligationID string `json:"obligation_id"`
	Status       string `json:"status" enum:"pending,compliant,noncompliant"`
	Finding      string `json:"finding" enum:"compliant,noncompliant,not_applicable"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type MitigationResponse struct {
	ID          string `json:"id"`
	EntryID     string `json:"entry_id"`
	Description string `json:"description"`
	Status      string `json:"status" enum:"open,closed,action_required"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

type CorrectiveActionResponse struct {
	ID           string  `json:"id"`
	MitigationID string  `json:"mitigation_id"`
	Description  string  `json:"description"`
	Status       string  `json:"status" enum:"open,in_progress,closed,overdue"`
	DueDate      *string `json:"due_date,omitempty" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

type EvidenceResponse struct {
	ID           string `json:"id"`
	ProjectID    string `json:"project_id"`
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	Title        string `json:"title"`
	URL          string `json:"url,omitempty"`
	CreatedBy    string `json:"created_by"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type AssignmentResponse struct {
	ProjectID    string `json:"project_id"`
	ObligationID string `json:"obligation_id"`
	ActorID      string `json:"actor_id"`
	Role         string `json:"role,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	OrgID       string   `json:"org_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type RecountResponse struct {
	MechanismID string `json:"mechanism_id"`
	NotStarted  int    `json:"not_started"`
	InProgress  int    `json:"in_progress"`
	Completed   int    `json:"completed"`
	Overdue     int    `json:"overdue"`
}

type ResyncResponse struct {
	ProjectID  string `json:"project_id"`
	Mechanisms int    `json:"mechanisms"`
}

type RebuildEntriesResponse struct {
	AuditID string `json:"audit_id"`
	Entries int    `json:"entries"`
}

type ProjectConfigResponse struct {
	Project    projectConfigSection    `json:"project"`
	Compliance complianceConfigSection `json:"compliance"`
	RBAC       rbacConfigSection       `json:"rbac"`
}

type projectConfigSection struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type complianceConfigSection struct {
	IdentifierPrefix   string `json:"identifier_prefix"`
	UpcomingWindowDays int    `json:"upcoming_window_days"`
	DefaultFrequency   string `json:"default_frequency"`
}

type rbacConfigSection struct {
	Roles map[string]rbacRoleResponse `json:"roles"`
}

type rbacRoleResponse struct {
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type paginatedObligations struct {
	Items      []ObligationResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func mechanismResponse(m domain.Mechanism) MechanismResponse {
	return MechanismResponse(m)
}

func obligationResponse(v engine.ObligationView) ObligationResponse {
	return ObligationResponse{
		ID:                      v.ID,
		ProjectID:               v.ProjectID,
		MechanismID:             v.MechanismID,
		Title:                   v.Title,
		Description:             v.Description,
		Status:                  v.Status,
		EffectiveStatus:         v.EffectiveStatus,
		DueDate:                 v.DueDate,
		CloseOutDate:            v.CloseOutDate,
		Recurring:               v.Recurring,
		RecurringFrequency:      v.RecurringFrequency,
		RecurringForecastedDate: v.RecurringForecastedDate,
		CreatedAt:               v.CreatedAt,
		UpdatedAt:               v.UpdatedAt,
	}
}

func auditResponse(a domain.Audit) AuditResponse {
	return AuditResponse{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		Title:        a.Title,
		Description:  a.Description,
		MechanismIDs: nonNilSlice(a.MechanismIDs),
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func entryResponse(en domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse(en)
}

func mitigationResponse(m domain.Mitigation) MitigationResponse {
	return MitigationResponse(m)
}

func actionResponse(ca domain.CorrectiveAction) CorrectiveActionResponse {
	return CorrectiveActionResponse(ca)
}

func evidenceResponse(ev domain.Evidence) EvidenceResponse {
	return EvidenceResponse(ev)
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse(a)
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(strPtr(e.Payload)),
	}
}

func configResponse(cfg *config.Config) ProjectConfigResponse {
	res := ProjectConfigResponse{
		Project: projectConfigSection{
			ID:   cfg.Project.ID,
			Kind: cfg.Project.Kind,
		},
		Compliance: complianceConfigSection{
			IdentifierPrefix:   cfg.Compliance.IdentifierPrefix,
			UpcomingWindowDays: cfg.Compliance.UpcomingWindowDays,
			DefaultFrequency:   cfg.Compliance.DefaultFrequency,
		},
		RBAC: rbacConfigSection{
			Roles: map[string]rbacRoleResponse{},
		},
	}
	for name, role := range cfg.RBAC.Roles {
		res.RBAC.Roles[name] = rbacRoleResponse{
			Description: role.Description,
			Permissions: nonNilSlice(role.Permissions),
		}
	}
	return res
}

// JSON helpers

func decodeJSONMap(raw *string) map[string]any {
	if raw == nil || *raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(*raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func strPtr(in string) *string {
	return &in
}
