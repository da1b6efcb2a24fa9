package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

func (r Repo) InsertScreeningLog(ctx context.Context, tx *sql.Tx, l domain.ScreeningLog) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO screening_logs(client_id,request_json,response_json,status,external_request_id,created_at) VALUES (?,?,?,?,?,?)`,
		l.ClientID, l.RequestJSON, nullable(l.ResponseJSON), l.Status, l.ExternalRequestID, l.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetScreeningLog(ctx context.Context, id int64) (domain.ScreeningLog, error) {
	var l domain.ScreeningLog
	var response sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,client_id,request_json,response_json,status,external_request_id,created_at FROM screening_logs WHERE id=?`, id).
		Scan(&l.ID, &l.ClientID, &l.RequestJSON, &response, &l.Status, &l.ExternalRequestID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if response.Valid {
		l.ResponseJSON = response.String
	}
	return l, nil
}

func (r Repo) GetScreeningLogByRequestID(ctx context.Context, tx *sql.Tx, externalRequestID string) (domain.ScreeningLog, error) {
	var l domain.ScreeningLog
	var response sql.NullString
	row := tx.QueryRowContext(ctx, `SELECT id,client_id,request_json,response_json,status,external_request_id,created_at FROM screening_logs WHERE external_request_id=?`, externalRequestID)
	err := row.Scan(&l.ID, &l.ClientID, &l.RequestJSON, &response, &l.Status, &l.ExternalRequestID, &l.CreatedAt)
	if err == sql.ErrNoRows {
		return l, ErrNotFound
	}
	if err != nil {
		return l, err
	}
	if response.Valid {
		l.ResponseJSON = response.String
	}
	return l, nil
}

func (r Repo) ListScreeningLogs(ctx context.Context, clientID int64) ([]domain.ScreeningLog, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,client_id,request_json,COALESCE(response_json,''),status,external_request_id,created_at FROM screening_logs WHERE client_id=? ORDER BY id DESC`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScreeningLog
	for rows.Next() {
		var l domain.ScreeningLog
		if err := rows.Scan(&l.ID, &l.ClientID, &l.RequestJSON, &l.ResponseJSON, &l.Status, &l.ExternalRequestID, &l.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, l)
	}
	return res, rows.Err()
}

func (r Repo) CompleteScreeningLog(ctx context.Context, tx *sql.Tx, id int64, responseJSON string) error {
	res, err := tx.ExecContext(ctx, `UPDATE screening_logs SET status='COMPLETED', response_json=? WHERE id=?`, responseJSON, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertScreeningResult(ctx context.Context, tx *sql.Tx, res domain.ScreeningResult) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO screening_results(log_id,context,status,hit,match_name,resolved_at) VALUES (?,?,?,?,?,?)`,
		res.LogID, res.Context, res.Status, nullableBoolPtr(res.Hit), nullableStringPtr(res.MatchName), nullableStringPtr(res.ResolvedAt))
	return err
}

func (r Repo) ResolveScreeningResult(ctx context.Context, tx *sql.Tx, logID int64, context string, hit bool, matchName, resolvedAt string) error {
	res, err := tx.ExecContext(ctx, `UPDATE screening_results SET status='COMPLETED', hit=?, match_name=?, resolved_at=? WHERE log_id=? AND context=?`,
		hit, nullable(matchName), resolvedAt, logID, context)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListScreeningResults(ctx context.Context, logID int64) ([]domain.ScreeningResult, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,log_id,context,status,hit,match_name,resolved_at FROM screening_results WHERE log_id=? ORDER BY id ASC`, logID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ScreeningResult
	for rows.Next() {
		var sr domain.ScreeningResult
		var hit sql.NullBool
		var matchName, resolvedAt sql.NullString
		if err := rows.Scan(&sr.ID, &sr.LogID, &sr.Context, &sr.Status, &hit, &matchName, &resolvedAt); err != nil {
			return nil, err
		}
		if hit.Valid {
			sr.Hit = &hit.Bool
		}
		if matchName.Valid {
			sr.MatchName = &matchName.String
		}
		if resolvedAt.Valid {
			sr.ResolvedAt = &resolvedAt.String
		}
		res = append(res, sr)
	}
	return res, rows.Err()
}

// PendingScreeningResults returns unresolved results for a log.
func (r Repo) PendingScreeningResults(ctx context.Context, tx *sql.Tx, logID int64) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM screening_results WHERE log_id=? AND status='IN_PROGRESS'`, logID).Scan(&n)
	return n, err
}

func nullableBoolPtr(v *bool) any {
	if v == nil {
		return nil
	}
	return *v
}
