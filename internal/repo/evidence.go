package repo

import (
	"context"
	"database/sql"

	"complyline/internal/domain"
)

const evidenceColumns = `id,project_id,obligation_id,kind,title,COALESCE(url,''),created_by,created_at,updated_at`

func scanEvidence(scan func(dest ...any) error) (domain.Evidence, error) {
	var e domain.Evidence
	err := scan(&e.ID, &e.ProjectID, &e.ObligationID, &e.Kind, &e.Title, &e.URL, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func (r Repo) InsertEvidence(ctx context.Context, tx *sql.Tx, e domain.Evidence) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO evidence(id,project_id,obligation_id,kind,title,url,created_by,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.ObligationID, e.Kind, e.Title, nullable(e.URL), e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	return err
}

func (r Repo) UpdateEvidence(ctx context.Context, tx *sql.Tx, e domain.Evidence) error {
	res, err := tx.ExecContext(ctx, `UPDATE evidence SET kind=?, title=?, url=?, updated_at=? WHERE id=?`,
		e.Kind, e.Title, nullable(e.URL), e.UpdatedAt, e.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetEvidence(ctx context.Context, id string) (domain.Evidence, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE id=?`, id)
	return scanEvidence(row.Scan)
}

func (r Repo) ListEvidence(ctx context.Context, obligationID string) ([]domain.Evidence, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+evidenceColumns+` FROM evidence WHERE obligation_id=? ORDER BY created_at DESC, id DESC`, obligationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Evidence
	for rows.Next() {
		e, err := scanEvidence(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (r Repo) DeleteEvidence(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
