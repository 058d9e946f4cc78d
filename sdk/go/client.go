package complylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Complyline HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Mechanism represents the API mechanism model with its cached counters.
type Mechanism struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	Reference  string `json:"reference,omitempty"`
	Name       string `json:"name"`
	Category   string `json:"category,omitempty"`
	NotStarted int    `json:"not_started"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Overdue    int    `json:"overdue"`
}

// Obligation represents the API obligation model (partial). EffectiveStatus
// carries the derived value, including overdue and upcoming.
type Obligation struct {
	ID                      string  `json:"id"`
	ProjectID               string  `json:"project_id"`
	MechanismID             *string `json:"mechanism_id,omitempty"`
	Title                   string  `json:"title"`
	Status                  string  `json:"status"`
	EffectiveStatus         string  `json:"effective_status"`
	DueDate                 *string `json:"due_date,omitempty"`
	CloseOutDate            *string `json:"close_out_date,omitempty"`
	Recurring               bool    `json:"recurring"`
	RecurringFrequency      *string `json:"recurring_frequency,omitempty"`
	RecurringForecastedDate *string `json:"recurring_forecasted_date,omitempty"`
}

// Audit represents an audit and its mechanism scope.
type Audit struct {
	ID           string   `json:"id"`
	ProjectID    string   `json:"project_id"`
	Title        string   `json:"title"`
	MechanismIDs []string `json:"mechanism_ids"`
}

// AuditEntry represents one obligation under review.
type AuditEntry struct {
	ID           string `json:"id"`
	AuditID      string `json:"audit_id"`
	ObligationID string `json:"obligation_id"`
	Status       string `json:"status"`
	Finding      string `json:"finding"`
	Notes        string `json:"notes,omitempty"`
}

// Mitigation represents a mitigation on a noncompliant entry.
type Mitigation struct {
	ID          string `json:"id"`
	EntryID     string `json:"entry_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	Payload    map[string]any `json:"payload"`
}

// ObligationCounts breaks down obligations by effective status.
type ObligationCounts struct {
	NotStarted int `json:"not_started"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Overdue    int `json:"overdue"`
	Upcoming   int `json:"upcoming"`
	Total      int `json:"total"`
}

// StatusReport summarises a project's compliance position.
type StatusReport struct {
	ProjectID           string           `json:"project_id"`
	Obligations         ObligationCounts `json:"obligations"`
	Mechanisms          int              `json:"mechanisms"`
	Audits              int              `json:"audits"`
	NoncompliantEntries int              `json:"noncompliant_entries"`
	OpenMitigations     int              `json:"open_mitigations"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedObligations wraps obligation listings with cursors.
type PaginatedObligations struct {
	Items      []Obligation `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateMechanism creates a mechanism.
func (c *Client) CreateMechanism(ctx context.Context, name, reference, category string) (Mechanism, error) {
	body := map[string]any{
		"name":      name,
		"reference": reference,
		"category":  category,
	}
	var resp Mechanism
	err := c.do(ctx, http.MethodPost, c.projectPath("mechanisms"), body, &resp)
	return resp, err
}

// ListMechanisms returns all mechanisms in the project.
func (c *Client) ListMechanisms(ctx context.Context) ([]Mechanism, error) {
	var resp []Mechanism
	err := c.do(ctx, http.MethodGet, c.projectPath("mechanisms"), nil, &resp)
	return resp, err
}

// CreateObligation creates an obligation. mechanismID and dueDate may be empty.
func (c *Client) CreateObligation(ctx context.Context, title, mechanismID, dueDate string) (Obligation, error) {
	body := map[string]any{"title": title}
	if mechanismID != "" {
		body["mechanism_id"] = mechanismID
	}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp Obligation
	err := c.do(ctx, http.MethodPost, c.projectPath("obligations"), body, &resp)
	return resp, err
}

// GetObligation fetches an obligation by id.
func (c *Client) GetObligation(ctx context.Context, id string) (Obligation, error) {
	var resp Obligation
	endpoint := c.projectPath(fmt.Sprintf("obligations/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateObligation applies a partial update. Only the provided fields change.
func (c *Client) UpdateObligation(ctx context.Context, id string, fields map[string]any) (Obligation, error) {
	var resp Obligation
	endpoint := c.projectPath(fmt.Sprintf("obligations/%s", url.PathEscape(id)))
	err := c.do(ctx, http.MethodPatch, endpoint, fields, &resp)
	return resp, err
}

// CompleteObligation marks an obligation completed with the given close-out date.
func (c *Client) CompleteObligation(ctx context.Context, id, closeOutDate string) (Obligation, error) {
	return c.UpdateObligation(ctx, id, map[string]any{
		"status":         "completed",
		"close_out_date": closeOutDate,
	})
}

// ObligationsPage returns a paginated obligation listing. Filters may include
// mechanism_id, status, recurring, due_before, and due_after.
func (c *Client) ObligationsPage(ctx context.Context, limit int, cursor string, filters map[string]string) (PaginatedObligations, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	for k, v := range filters {
		q.Set(k, v)
	}
	endpoint := c.projectPath("obligations")
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp PaginatedObligations
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAudit creates an audit scoped to the given mechanisms.
func (c *Client) CreateAudit(ctx context.Context, title string, mechanismIDs []string) (Audit, error) {
	body := map[string]any{
		"title":         title,
		"mechanism_ids": mechanismIDs,
	}
	var resp Audit
	err := c.do(ctx, http.MethodPost, c.projectPath("audits"), body, &resp)
	return resp, err
}

// ListAuditEntries returns the entries of an audit.
func (c *Client) ListAuditEntries(ctx context.Context, auditID string) ([]AuditEntry, error) {
	var resp []AuditEntry
	endpoint := c.projectPath(fmt.Sprintf("audits/%s/entries", url.PathEscape(auditID)))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// SetFinding records a finding on an audit entry.
func (c *Client) SetFinding(ctx context.Context, entryID, finding, notes string) (AuditEntry, error) {
	body := map[string]any{
		"finding": finding,
		"notes":   notes,
	}
	var resp AuditEntry
	endpoint := c.projectPath(fmt.Sprintf("entries/%s/finding", url.PathEscape(entryID)))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// AddMitigation attaches a mitigation to a noncompliant entry.
func (c *Client) AddMitigation(ctx context.Context, entryID, description string) (Mitigation, error) {
	body := map[string]any{"description": description}
	var resp Mitigation
	endpoint := c.projectPath(fmt.Sprintf("entries/%s/mitigations", url.PathEscape(entryID)))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Status returns the project's compliance status report.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	var resp StatusReport
	err := c.do(ctx, http.MethodGet, c.projectPath("status"), nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
