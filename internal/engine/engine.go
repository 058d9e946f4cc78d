package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"complyline/internal/config"
	"complyline/internal/domain"
	"complyline/internal/engine/auth"
	"complyline/internal/events"
	"complyline/internal/lifecycle"
	"complyline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Auth   auth.Service
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Auth:   auth.Service{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) today() time.Time {
	return e.now().UTC()
}

func (e Engine) identifierPrefix() string {
	if e.Config != nil && e.Config.Compliance.IdentifierPrefix != "" {
		return e.Config.Compliance.IdentifierPrefix
	}
	return lifecycle.DefaultIdentifierPrefix
}

func (e Engine) upcomingWindow() int {
	if e.Config != nil && e.Config.Compliance.UpcomingWindowDays > 0 {
		return e.Config.Compliance.UpcomingWindowDays
	}
	return lifecycle.DefaultUpcomingWindowDays
}

func (e Engine) defaultFrequency() string {
	if e.Config != nil && e.Config.Compliance.DefaultFrequency != "" {
		return e.Config.Compliance.DefaultFrequency
	}
	return lifecycle.FreqMonthly
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return ValidationError{Field: field, Message: message}
}

// InitProject initializes a new project with migrations already run. The
// project config is seeded with defaults and the creating actor becomes
// owner.
func (e Engine) InitProject(ctx context.Context, projectID, orgID, description, actorID string) (domain.Project, error) {
	if projectID == "" {
		return domain.Project{}, invalid("project", "required")
	}
	if orgID == "" {
		orgID = "default"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureOrg(ctx, tx, orgID, "", now); err != nil {
		return domain.Project{}, err
	}
	p := domain.Project{
		ID:          projectID,
		OrgID:       orgID,
		Kind:        "compliance-project",
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO projects(id,org_id,kind,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	cfg := config.Default(p.ID)
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, cfg); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if err := e.seedRBAC(ctx, tx, cfg); err != nil {
		return domain.Project{}, err
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return domain.Project{}, err
		}
		if err := e.Repo.AssignRole(ctx, tx, p.ID, actorID, "owner"); err != nil {
			return domain.Project{}, err
		}
		if err := e.Repo.AssignOrgRole(ctx, tx, orgID, actorID, "admin"); err != nil {
			return domain.Project{}, err
		}
	}
	if err := e.Events.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

func (e Engine) seedRBAC(ctx context.Context, tx *sql.Tx, cfg *config.Config) error {
	for roleID, role := range cfg.RBAC.Roles {
		if err := e.Repo.InsertRole(ctx, tx, roleID, role.Description); err != nil {
			return err
		}
		for _, perm := range role.Permissions {
			if err := e.Repo.InsertPermission(ctx, tx, perm, ""); err != nil {
				return err
			}
			if err := e.Repo.AddRolePermission(ctx, tx, roleID, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

// ImportConfig validates and stores a YAML config document for the project,
// then re-seeds the RBAC tables from it.
func (e Engine) ImportConfig(ctx context.Context, projectID string, data []byte, actorID string) (*config.Config, error) {
	cfg, err := config.FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Project.ID != "" && cfg.Project.ID != projectID {
		return nil, invalid("project.id", fmt.Sprintf("config is for project %s", cfg.Project.ID))
	}
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return nil, err
	}
	if err := e.seedRBAC(ctx, tx, cfg); err != nil {
		return nil, err
	}
	if err := e.Events.Append(ctx, tx, "project.config.imported", projectID, "project", projectID, actorID, events.EventPayload{}); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ExportConfig renders the stored project config as YAML.
func (e Engine) ExportConfig(ctx context.Context, projectID string) ([]byte, error) {
	cfg, err := e.Repo.GetProjectConfig(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return cfg.ToYAML()
}

// GrantRole assigns a project role to an actor.
func (e Engine) GrantRole(ctx context.Context, projectID, actorID, roleID, byActorID string) error {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.granted", projectID, "actor", actorID, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// RevokeRole removes a project role from an actor.
func (e Engine) RevokeRole(ctx context.Context, projectID, actorID, roleID, byActorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RevokeRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "rbac.role.revoked", projectID, "actor", actorID, byActorID, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// WhoAmIResult describes an actor's standing within a project.
type WhoAmIResult struct {
	ActorID     string
	Roles       []string
	Permissions []string
}

func (e Engine) WhoAmI(ctx context.Context, projectID, actorID string) (WhoAmIResult, error) {
	res := WhoAmIResult{ActorID: actorID}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()
	roles, err := e.Auth.ActorRoles(ctx, tx, projectID, actorID)
	if err != nil {
		return res, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, tx, projectID, actorID)
	if err != nil {
		return res, err
	}
	res.Roles = roles
	res.Permissions = perms
	return res, tx.Commit()
}

// StatusReport is the project-wide compliance snapshot.
type StatusReport struct {
	ProjectID   string `json:"project_id"`
	Obligations struct {
		NotStarted int `json:"not_started"`
		InProgress int `json:"in_progress"`
		Completed  int `json:"completed"`
		Overdue    int `json:"overdue"`
		Upcoming   int `json:"upcoming"`
		Total      int `json:"total"`
	} `json:"obligations"`
	Mechanisms          int   `json:"mechanisms"`
	Audits              int   `json:"audits"`
	NoncompliantEntries int   `json:"noncompliant_entries"`
	OpenMitigations     int   `json:"open_mitigations"`
	LatestEventID       int64 `json:"latest_event_id"`
}

// ProjectStatus aggregates the current compliance posture. Overdue and
// upcoming are derived at read time and never stored.
func (e Engine) ProjectStatus(ctx context.Context, projectID string) (StatusReport, error) {
	var report StatusReport
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return report, err
	}
	report.ProjectID = projectID
	obligations, err := e.Repo.ListObligations(ctx, repo.ObligationFilters{ProjectID: projectID})
	if err != nil {
		return report, err
	}
	today := e.today()
	window := e.upcomingWindow()
	counts := lifecycle.Recount(obligations, today)
	report.Obligations.NotStarted = counts.NotStarted
	report.Obligations.InProgress = counts.InProgress
	report.Obligations.Completed = counts.Completed
	report.Obligations.Overdue = counts.Overdue
	report.Obligations.Total = counts.Total()
	for _, o := range obligations {
		if lifecycle.ObligationEffectiveStatus(o, today, window) == lifecycle.StatusUpcoming {
			report.Obligations.Upcoming++
		}
	}
	mechanisms, err := e.Repo.ListMechanisms(ctx, projectID)
	if err != nil {
		return report, err
	}
	report.Mechanisms = len(mechanisms)
	audits, err := e.Repo.ListAudits(ctx, projectID)
	if err != nil {
		return report, err
	}
	report.Audits = len(audits)
	row := e.DB.QueryRowContext(ctx, `
SELECT count(*) FROM audit_entries ae
JOIN audits a ON a.id=ae.audit_id
WHERE a.project_id=? AND ae.status=?`, projectID, domain.EntryStatusNoncompliant)
	if err := row.Scan(&report.NoncompliantEntries); err != nil {
		return report, err
	}
	row = e.DB.QueryRowContext(ctx, `
SELECT count(*) FROM mitigations m
JOIN audit_entries ae ON ae.id=m.entry_id
JOIN audits a ON a.id=ae.audit_id
WHERE a.project_id=? AND m.status<>?`, projectID, domain.MitigationClosed)
	if err := row.Scan(&report.OpenMitigations); err != nil {
		return report, err
	}
	report.LatestEventID, err = e.Repo.LatestEventID(ctx, projectID)
	return report, err
}

// --- helpers ---

func newID() string {
	return uuid.New().String()
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}

var errConfigNotLoaded = errors.New("config not loaded")
