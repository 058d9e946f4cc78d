package domain

import "time"

// DateLayout is the storage format for calendar dates (due dates,
// close-out dates, forecasts). Timestamps use RFC3339.
const DateLayout = "2006-01-02"

// ParseDate parses a stored YYYY-MM-DD value. Returns ok=false for nil or
// empty input.
func ParseDate(s *string) (time.Time, bool) {
	if s == nil || *s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, *s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatDate renders a date in storage format.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

type Project struct {
	ID          string `json:"id"`
	OrgID       string `json:"org_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Mechanism is a governing instrument grouping obligations. The four
// counters are cached aggregates owned by the recount logic, never edited
// directly.
type Mechanism struct {
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

// Obligation statuses as persisted. Overdue is derived at read time and is
// never a stored status.
const (
	StatusNotStarted = "not_started"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

type Obligation struct {
	ID                      string  `json:"id"`
	ProjectID               string  `json:"project_id"`
	MechanismID             *string `json:"mechanism_id,omitempty"`
	Title                   string  `json:"title"`
	Description             string  `json:"description,omitempty"`
	Status                  string  `json:"status" enum:"not_started,in_progress,completed"`
	DueDate                 *string `json:"due_date,omitempty" format:"date"`
	CloseOutDate            *string `json:"close_out_date,omitempty" format:"date"`
	Recurring               bool    `json:"recurring"`
	RecurringFrequency      *string `json:"recurring_frequency,omitempty"`
	RecurringForecastedDate *string `json:"recurring_forecasted_date,omitempty" format:"date"`
	CreatedAt               string  `json:"created_at" format:"date-time"`
	UpdatedAt               string  `json:"updated_at" format:"date-time"`
}

// Audit is a compliance review scoped to a set of mechanisms. Entries are
// derived from that set, one per matched obligation.
type Audit struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	MechanismIDs []string `json:"mechanism_ids,omitempty"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

const (
	EntryStatusPending      = "pending"
	EntryStatusCompliant    = "compliant"
	EntryStatusNoncompliant = "noncompliant"

	FindingCompliant     = "compliant"
	FindingNoncompliant  = "noncompliant"
	FindingNotApplicable = "not_applicable"
)

type AuditEntry struct {
	ID           string `json:"id"`
	AuditID      string `json:"audit_id"`
	ObligationID string `json:"obligation_id"`
	Status       string `json:"status" enum:"pending,compliant,noncompliant"`
	Finding      string `json:"finding" enum:"compliant,noncompliant,not_applicable"`
	Notes        string `json:"notes,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

const (
	MitigationOpen           = "open"
	MitigationClosed         = "closed"
	MitigationActionRequired = "action_required"
)

type Mitigation struct {
	ID          string `json:"id"`
	EntryID     string `json:"entry_id"`
	Description string `json:"description"`
	Status      string `json:"status" enum:"open,closed,action_required"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	UpdatedAt   string `json:"updated_at" format:"date-time"`
}

const (
	ActionOpen       = "open"
	ActionInProgress = "in_progress"
	ActionClosed     = "closed"
	ActionOverdue    = "overdue"
)

type CorrectiveAction struct {
	ID           string  `json:"id"`
	MitigationID string  `json:"mitigation_id"`
	Description  string  `json:"description"`
	Status       string  `json:"status" enum:"open,in_progress,closed,overdue"`
	DueDate      *string `json:"due_date,omitempty" format:"date"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Evidence is a metadata record of supporting material for an obligation.
// File contents live outside this system.
type Evidence struct {
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

// Assignment records the actor responsible for an obligation.
type Assignment struct {
	ProjectID    string `json:"project_id"`
	ObligationID string `json:"obligation_id"`
	ActorID      string `json:"actor_id"`
	Role         string `json:"role,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
