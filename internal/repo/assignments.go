package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

// UpsertAssignment records or refreshes the assignment of an actor to an
// obligation.
func (r Repo) UpsertAssignment(ctx context.Context, tx *sql.Tx, a domain.Assignment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assignments(project_id,obligation_id,actor_id,role,created_at,updated_at) VALUES (?,?,?,?,?,?)
ON CONFLICT(obligation_id,actor_id) DO UPDATE SET role=excluded.role, updated_at=excluded.updated_at`,
		a.ProjectID, a.ObligationID, a.ActorID, nullable(a.Role), a.CreatedAt, a.UpdatedAt)
	return err
}

func (r Repo) DeleteAssignment(ctx context.Context, tx *sql.Tx, obligationID, actorID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE obligation_id=? AND actor_id=?`, obligationID, actorID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListAssignments(ctx context.Context, obligationID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,obligation_id,actor_id,COALESCE(role,''),created_at,updated_at FROM assignments WHERE obligation_id=? ORDER BY actor_id`, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ProjectID, &a.ObligationID, &a.ActorID, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) ListAssignmentsByActor(ctx context.Context, projectID, actorID string) ([]domain.Assignment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT project_id,obligation_id,actor_id,COALESCE(role,''),created_at,updated_at FROM assignments WHERE project_id=? AND actor_id=? ORDER BY obligation_id`, projectID, actorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := rows.Scan(&a.ProjectID, &a.ObligationID, &a.ActorID, &a.Role, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}
