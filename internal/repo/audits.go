package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

// --- audits ---

func (r Repo) InsertAudit(ctx context.Context, tx *sql.Tx, a domain.Audit) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audits(id,project_id,title,description,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		a.ID, a.ProjectID, a.Title, nullable(a.Description), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateAudit(ctx context.Context, tx *sql.Tx, a domain.Audit) error {
	res, err := tx.ExecContext(ctx, `UPDATE audits SET title=?, description=?, updated_at=? WHERE id=?`,
		a.Title, nullable(a.Description), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAudit(ctx context.Context, id string) (domain.Audit, error) {
	var a domain.Audit
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,title,COALESCE(description,''),created_at,updated_at FROM audits WHERE id=?`, id).
		Scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.MechanismIDs, err = r.ListAuditMechanisms(ctx, id)
	return a, err
}

func (r Repo) GetAuditTx(ctx context.Context, tx *sql.Tx, id string) (domain.Audit, error) {
	var a domain.Audit
	err := tx.QueryRowContext(ctx, `SELECT id,project_id,title,COALESCE(description,''),created_at,updated_at FROM audits WHERE id=?`, id).
		Scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.MechanismIDs, err = listAuditMechanisms(ctx, tx.QueryContext, id)
	return a, err
}

func (r Repo) ListAudits(ctx context.Context, projectID string) ([]domain.Audit, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,project_id,title,COALESCE(description,''),created_at,updated_at FROM audits WHERE project_id=? ORDER BY created_at DESC, id DESC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Audit
	for rows.Next() {
		var a domain.Audit
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Title, &a.Description, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		res[i].MechanismIDs, err = r.ListAuditMechanisms(ctx, res[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) DeleteAudit(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM audits WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- audit scope ---

type queryFn func(ctx context.Context, query string, args ...any) (*sql.Rows, error)

func listAuditMechanisms(ctx context.Context, query queryFn, auditID string) ([]string, error) {
	rows, err := query(ctx, `SELECT mechanism_id FROM audit_mechanisms WHERE audit_id=? ORDER BY mechanism_id`, auditID)
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

func (r Repo) ListAuditMechanisms(ctx context.Context, auditID string) ([]string, error) {
	return listAuditMechanisms(ctx, r.DB.QueryContext, auditID)
}

// SetAuditMechanisms replaces the audit's mechanism scope.
func (r Repo) SetAuditMechanisms(ctx context.Context, tx *sql.Tx, auditID string, mechanismIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM audit_mechanisms WHERE audit_id=?`, auditID); err != nil {
		return err
	}
	for _, mid := range mechanismIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO audit_mechanisms(audit_id,mechanism_id) VALUES (?,?)`, auditID, mid); err != nil {
			return err
		}
	}
	return nil
}

// --- audit entries ---

const entryColumns = `id,audit_id,obligation_id,status,finding,COALESCE(notes,''),created_at,updated_at`

func scanEntry(scan func(dest ...any) error) (domain.AuditEntry, error) {
	var e domain.AuditEntry
	err := scan(&e.ID, &e.AuditID, &e.ObligationID, &e.Status, &e.Finding, &e.Notes, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertAuditEntry(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO audit_entries(id,audit_id,obligation_id,status,finding,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		e.ID, e.AuditID, e.ObligationID, e.Status, e.Finding, nullable(e.Notes), e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateAuditEntry(ctx context.Context, tx *sql.Tx, e domain.AuditEntry) error {
	res, err := tx.ExecContext(ctx, `UPDATE audit_entries SET status=?, finding=?, notes=?, updated_at=? WHERE id=?`,
		e.Status, e.Finding, nullable(e.Notes), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetAuditEntry(ctx context.Context, id string) (domain.AuditEntry, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id=?`, id)
	return scanEntry(row.Scan)
}

func (r Repo) GetAuditEntryTx(ctx context.Context, tx *sql.Tx, id string) (domain.AuditEntry, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE id=?`, id)
	return scanEntry(row.Scan)
}

func (r Repo) ListAuditEntries(ctx context.Context, auditID string) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE audit_id=? ORDER BY obligation_id ASC`, auditID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// DeleteAuditEntries removes all entries for an audit. The rebuild path
// calls this before regenerating the set.
func (r Repo) DeleteAuditEntries(ctx context.Context, tx *sql.Tx, auditID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM audit_entries WHERE audit_id=?`, auditID)
	return err
}

// --- mitigations ---

const mitigationColumns = `id,entry_id,description,status,created_at,updated_at`

func scanMitigation(scan func(dest ...any) error) (domain.Mitigation, error) {
	var m domain.Mitigation
	err := scan(&m.ID, &m.EntryID, &m.Description, &m.Status, &m.CreatedAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) InsertMitigation(ctx context.Context, tx *sql.Tx, m domain.Mitigation) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO mitigations(id,entry_id,description,status,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.EntryID, m.Description, m.Status, m.CreatedAt, m.UpdatedAt)
	return err
}

func (r Repo) UpdateMitigation(ctx context.Context, tx *sql.Tx, m domain.Mitigation) error {
	res, err := tx.ExecContext(ctx, `UPDATE mitigations SET description=?, status=?, updated_at=? WHERE id=?`,
		m.Description, m.Status, m.UpdatedAt, m.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetMitigation(ctx context.Context, id string) (domain.Mitigation, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+mitigationColumns+` FROM mitigations WHERE id=?`, id)
	return scanMitigation(row.Scan)
}

func (r Repo) GetMitigationTx(ctx context.Context, tx *sql.Tx, id string) (domain.Mitigation, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+mitigationColumns+` FROM mitigations WHERE id=?`, id)
	return scanMitigation(row.Scan)
}

func (r Repo) ListMitigations(ctx context.Context, entryID string) ([]domain.Mitigation, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+mitigationColumns+` FROM mitigations WHERE entry_id=? ORDER BY created_at ASC, id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mitigation
	for rows.Next() {
		m, err := scanMitigation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) ListMitigationsTx(ctx context.Context, tx *sql.Tx, entryID string) ([]domain.Mitigation, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+mitigationColumns+` FROM mitigations WHERE entry_id=? ORDER BY created_at ASC, id ASC`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Mitigation
	for rows.Next() {
		m, err := scanMitigation(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

func (r Repo) DeleteMitigation(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM mitigations WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- corrective actions ---

const actionColumns = `id,mitigation_id,description,status,due_date,created_at,updated_at`

func scanAction(scan func(dest ...any) error) (domain.CorrectiveAction, error) {
	var a domain.CorrectiveAction
	var dueDate sql.NullString
	err := scan(&a.ID, &a.MitigationID, &a.Description, &a.Status, &dueDate, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	if dueDate.Valid {
		a.DueDate = &dueDate.String
	}
	return a, nil
}

func (r Repo) InsertCorrectiveAction(ctx context.Context, tx *sql.Tx, a domain.CorrectiveAction) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO corrective_actions(id,mitigation_id,description,status,due_date,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.MitigationID, a.Description, a.Status, nullableStringPtr(a.DueDate), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) UpdateCorrectiveAction(ctx context.Context, tx *sql.Tx, a domain.CorrectiveAction) error {
	res, err := tx.ExecContext(ctx, `UPDATE corrective_actions SET description=?, status=?, due_date=?, updated_at=? WHERE id=?`,
		a.Description, a.Status, nullableStringPtr(a.DueDate), a.UpdatedAt, a.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetCorrectiveAction(ctx context.Context, id string) (domain.CorrectiveAction, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM corrective_actions WHERE id=?`, id)
	return scanAction(row.Scan)
}

func (r Repo) GetCorrectiveActionTx(ctx context.Context, tx *sql.Tx, id string) (domain.CorrectiveAction, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM corrective_actions WHERE id=?`, id)
	return scanAction(row.Scan)
}

func (r Repo) ListCorrectiveActions(ctx context.Context, mitigationID string) ([]domain.CorrectiveAction, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+actionColumns+` FROM corrective_actions WHERE mitigation_id=? ORDER BY created_at ASC, id ASC`, mitigationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CorrectiveAction
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListCorrectiveActionsTx(ctx context.Context, tx *sql.Tx, mitigationID string) ([]domain.CorrectiveAction, error) {
	rows, err := tx.QueryContext(ctx, `SELECT `+actionColumns+` FROM corrective_actions WHERE mitigation_id=? ORDER BY created_at ASC, id ASC`, mitigationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CorrectiveAction
	for rows.Next() {
		a, err := scanAction(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCorrectiveAction(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM corrective_actions WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
