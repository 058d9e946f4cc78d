package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"complyline/internal/config"
	"complyline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, p domain.Project) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO projects(id,org_id,kind,status,description,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.OrgID, p.Kind, p.Status, nullable(p.Description), p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	var p domain.Project
	err := r.DB.QueryRowContext(ctx, `SELECT id,org_id,kind,status,COALESCE(description,'') AS description,created_at FROM projects WHERE id=?`, id).
		Scan(&p.ID, &p.OrgID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,kind,status,COALESCE(description,'') AS description,created_at FROM projects`)
	if err != nil {
		return domain.Project{}, err
	}
	defer rows.Close()
	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return domain.Project{}, err
		}
		projects = append(projects, p)
	}
	if len(projects) == 0 {
		return domain.Project{}, ErrNotFound
	}
	if len(projects) > 1 {
		return domain.Project{}, fmt.Errorf("multiple projects exist; specify --project")
	}
	return projects[0], nil
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,org_id,kind,status,COALESCE(description,'') AS description,created_at FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Kind, &p.Status, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, nil
}

func (r Repo) UpdateProject(ctx context.Context, id, status string, description *string) error {
	var (
		fields []string
		args   []any
	)
	if status != "" {
		fields = append(fields, "status=?")
		args = append(args, status)
	}
	if description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*description))
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE projects SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- project config ---

func (r Repo) UpsertProjectConfig(ctx context.Context, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, r.DB, nil, projectID, cfg)
}

func (r Repo) UpsertProjectConfigTx(ctx context.Context, tx *sql.Tx, projectID string, cfg *config.Config) error {
	return upsertProjectConfig(ctx, nil, tx, projectID, cfg)
}

func upsertProjectConfig(ctx context.Context, db *sql.DB, tx *sql.Tx, projectID string, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config nil")
	}
	cfg.Project.ID = projectID
	if err := cfg.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return db.ExecContext(ctx, query, args...)
	}
	_, err = exec(`INSERT INTO project_configs(project_id,config_json,created_at,updated_at) VALUES (?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET config_json=excluded.config_json, updated_at=excluded.updated_at`, projectID, string(payload), now, now)
	return err
}

func (r Repo) GetProjectConfig(ctx context.Context, projectID string) (*config.Config, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT config_json FROM project_configs WHERE project_id=?`, projectID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var cfg config.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, err
	}
	if cfg.Project.ID == "" {
		cfg.Project.ID = projectID
	}
	return &cfg, cfg.Validate()
}

// --- mechanisms ---

const mechanismColumns = `id,project_id,COALESCE(reference,''),name,COALESCE(description,''),COALESCE(category,''),not_started_count,in_progress_count,completed_count,overdue_count,created_at,updated_at`

func scanMechanism(scan func(dest ...any) error) (domain.Mechanism, error) {
	var m domain.Mechanism
	err := scan(&m.ID, &m.ProjectID, &m.Reference, &m.Name, &m.Description, &m.Category,
		&m.NotStarted, &m.InProgress, &m.Completed, &m.Overdue, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InsertMechanism(ctx context.Context, tx *sql.Tx, m domain.Mechanism) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO mechanisms(id,project_id,reference,name,description,category,not_started_count,in_progress_count,completed_count,overdue_count,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, nullable(m.Reference), m.Name, nullable(m.Description), nullable(m.Category),
		m.NotStarted, m.InProgress, m.Completed, m.Overdue, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) UpdateMechanism(ctx context.Context, tx *sql.Tx, m domain.Mechanism) error {
	res, err := tx.ExecContext(ctx, `UPDATE mechanisms SET reference=?, name=?, description=?, category=?, updated_at=? WHERE id=?`,
		nullable(m.Reference), m.Name, nullable(m.Description), nullable(m.Category), m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateMechanismCounts writes the cached aggregate counters. Only the
// recount path calls this.
func (r Repo) UpdateMechanismCounts(ctx context.Context, tx *sql.Tx, id string, notStarted, inProgress, completed, overdue int, updatedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE mechanisms SET not_started_count=?, in_progress_count=?, completed_count=?, overdue_count=?, updated_at=? WHERE id=?`,
		notStarted, inProgress, completed, overdue, updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMechanism(ctx context.Context, id string) (domain.Mechanism, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+mechanismColumns+` FROM mechanisms WHERE id=?`, id)
	return scanMechanism(row.Scan)
}

func (r Repo) GetMechanismTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mechanism, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+mechanismColumns+` FROM mechanisms WHERE id=?`, id)
	return scanMechanism(row.Scan)
}

func (r Repo) ListMechanisms(ctx context.Context, projectID string) ([]domain.Mechanism, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+mechanismColumns+` FROM mechanisms WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mechanism
	for rows.Next() {
		m, err := scanMechanism(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListMechanismIDs(ctx context.Context, tx *sql.Tx, projectID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM mechanisms WHERE project_id=?`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) DeleteMechanism(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM mechanisms WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) CountObligationsForMechanism(ctx context.Context, tx *sql.Tx, mechanismID string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT count(*) FROM obligations WHERE mechanism_id=?`, mechanismID).Scan(&n)
	return n, err
}

// --- obligations ---

const obligationColumns = `id,project_id,mechanism_id,title,description,status,due_date,close_out_date,recurring,recurring_frequency,recurring_forecasted_date,created_at,updated_at`

func scanObligation(scan func(dest ...any) error) (domain.Obligation, error) {
	var o domain.Obligation
	var mechanismID, description, dueDate, closeOut, frequency, forecast sql.NullString
	var recurring int
	err := scan(&o.ID, &o.ProjectID, &mechanismID, &o.Title, &description, &o.Status,
		&dueDate, &closeOut, &recurring, &frequency, &forecast, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if mechanismID.Valid {
		o.MechanismID = &mechanismID.String
	}
	if description.Valid {
		o.Description = description.String
	}
	if dueDate.Valid {
		o.DueDate = &dueDate.String
	}
	if closeOut.Valid {
		o.CloseOutDate = &closeOut.String
	}
	o.Recurring = recurring != 0
	if frequency.Valid {
		o.RecurringFrequency = &frequency.String
	}
	if forecast.Valid {
		o.RecurringForecastedDate = &forecast.String
	}
	return o, nil
}

func (r Repo) InsertObligation(ctx context.Context, tx *sql.Tx, o domain.Obligation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO obligations(id,project_id,mechanism_id,title,description,status,due_date,close_out_date,recurring,recurring_frequency,recurring_forecasted_date,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.ProjectID, nullableStringPtr(o.MechanismID), o.Title, nullable(o.Description), o.Status,
		nullableStringPtr(o.DueDate), nullableStringPtr(o.CloseOutDate), boolInt(o.Recurring),
		nullableStringPtr(o.RecurringFrequency), nullableStringPtr(o.RecurringForecastedDate),
		o.CreatedAt, o.UpdatedAt)
	return err
}

func (r Repo) UpdateObligation(ctx context.Context, tx *sql.Tx, o domain.Obligation) error {
	res, err := tx.ExecContext(ctx, `UPDATE obligations SET mechanism_id=?, title=?, description=?, status=?, due_date=?, close_out_date=?, recurring=?, recurring_frequency=?, recurring_forecasted_date=?, updated_at=? WHERE id=?`,
		nullableStringPtr(o.MechanismID), o.Title, nullable(o.Description), o.Status,
		nullableStringPtr(o.DueDate), nullableStringPtr(o.CloseOutDate), boolInt(o.Recurring),
		nullableStringPtr(o.RecurringFrequency), nullableStringPtr(o.RecurringForecastedDate),
		o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetObligation(ctx context.Context, id string) (domain.Obligation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id=?`, id)
	return scanObligation(row.Scan)
}

func (r Repo) GetObligationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Obligation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE id=?`, id)
	return scanObligation(row.Scan)
}

func (r Repo) DeleteObligation(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM obligations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type ObligationFilters struct {
	ProjectID       string
	MechanismID     string
	Status          string
	Recurring       *bool
	DueBefore       string
	DueAfter        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListObligations(ctx context.Context, f ObligationFilters) ([]domain.Obligation, error) {
	var clauses []string
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.MechanismID != "" {
		clauses = append(clauses, "mechanism_id=?")
		args = append(args, f.MechanismID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.Recurring != nil {
		clauses = append(clauses, "recurring=?")
		args = append(args, boolInt(*f.Recurring))
	}
	if f.DueBefore != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date < ?")
		args = append(args, f.DueBefore)
	}
	if f.DueAfter != "" {
		clauses = append(clauses, "due_date IS NOT NULL AND due_date >= ?")
		args = append(args, f.DueAfter)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + obligationColumns + ` FROM obligations ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ListObligationsByMechanismTx loads the member set a recount operates on,
// inside the recount's transaction.
func (r Repo) ListObligationsByMechanismTx(ctx context.Context, tx *sql.Tx, mechanismID string) ([]domain.Obligation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE mechanism_id=?`, mechanismID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// ListObligationIDsByPrefixTx returns every obligation identifier sharing
// the given prefix, across all projects because ids are globally unique.
// Read inside the caller's transaction so identifier generation sees a
// consistent snapshot.
func (r Repo) ListObligationIDsByPrefixTx(ctx context.Context, tx *sql.Tx, prefix string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM obligations WHERE id LIKE ? || '-%'`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListObligationsByMechanismsTx returns obligations whose mechanism is in
// the given set, ordered by identifier for deterministic audit entry
// generation.
func (r Repo) ListObligationsByMechanismsTx(ctx context.Context, tx *sql.Tx, mechanismIDs []string) ([]domain.Obligation, error) {
	if len(mechanismIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(mechanismIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(mechanismIDs))
	for i, id := range mechanismIDs {
		args[i] = id
	}
	rows, err := tx.QueryContext(ctx, `SELECT `+obligationColumns+` FROM obligations WHERE mechanism_id IN (`+placeholders+`) ORDER BY id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Obligation
	for rows.Next() {
		o, err := scanObligation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) CountObligationsByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, count(*) FROM obligations WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[status] = count
	}
	return res, nil
}

// --- events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	return r.LatestEventsFrom(ctx, limit, 0, projectID, evtType, entityKind, entityID)
}

func (r Repo) LatestEventsFrom(ctx context.Context, limit int, cursor int64, projectID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,project_id,entity_kind,entity_id,actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, nil
}

// LatestEventID returns the most recent event ID for a project.
func (r Repo) LatestEventID(ctx context.Context, projectID string) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM events WHERE project_id=?`, projectID)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// --- helpers ---

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
