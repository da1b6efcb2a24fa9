package repo

import (
	"context"
	"database/sql"

	"caseflow/internal/domain"
)

func (r Repo) InsertAdHocTask(ctx context.Context, tx *sql.Tx, t domain.AdHocTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO adhoc_tasks(id,owner,assignee,request_text,client_id,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		t.ID, t.Owner, t.Assignee, t.RequestText, nullableInt64Ptr(t.ClientID), t.Status, t.CreatedAt, t.UpdatedAt)
	return err
}

func scanAdHoc(scan func(dest ...any) error) (domain.AdHocTask, error) {
	var t domain.AdHocTask
	var clientID sql.NullInt64
	var response, responder sql.NullString
	err := scan(&t.ID, &t.Owner, &t.Assignee, &t.RequestText, &clientID, &t.Status, &response, &responder, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if clientID.Valid {
		t.ClientID = &clientID.Int64
	}
	if response.Valid {
		t.ResponseText = &response.String
	}
	if responder.Valid {
		t.Responder = &responder.String
	}
	return t, nil
}

const adhocColumns = `id,owner,assignee,request_text,client_id,status,response_text,responder,created_at,updated_at`

func (r Repo) GetAdHocTask(ctx context.Context, id string) (domain.AdHocTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+adhocColumns+` FROM adhoc_tasks WHERE id=?`, id)
	return scanAdHoc(row.Scan)
}

func (r Repo) GetAdHocTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.AdHocTask, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+adhocColumns+` FROM adhoc_tasks WHERE id=?`, id)
	return scanAdHoc(row.Scan)
}

func (r Repo) UpdateAdHocTask(ctx context.Context, tx *sql.Tx, t domain.AdHocTask) error {
	res, err := tx.ExecContext(ctx, `UPDATE adhoc_tasks SET assignee=?, status=?, response_text=?, responder=?, updated_at=? WHERE id=?`,
		t.Assignee, t.Status, nullableStringPtr(t.ResponseText), nullableStringPtr(t.Responder), t.UpdatedAt, t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteAdHocTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM adhoc_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAdHocTasksFor returns open and responded tasks where the user is
// either side of the exchange. Completed tasks drop out of the list.
func (r Repo) ListAdHocTasksFor(ctx context.Context, userID string) ([]domain.AdHocTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+adhocColumns+` FROM adhoc_tasks
WHERE (owner=? OR assignee=?) AND status != 'COMPLETED' ORDER BY updated_at DESC, id DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AdHocTask
	for rows.Next() {
		t, err := scanAdHoc(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) InsertAdHocComment(ctx context.Context, tx *sql.Tx, c domain.AdHocComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO adhoc_comments(task_id,author,message,created_at) VALUES (?,?,?,?)`,
		c.TaskID, c.Author, c.Message, c.CreatedAt)
	return err
}

func (r Repo) ListAdHocComments(ctx context.Context, taskID string) ([]domain.AdHocComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,author,message,created_at FROM adhoc_comments WHERE task_id=? ORDER BY id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AdHocComment
	for rows.Next() {
		var c domain.AdHocComment
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Author, &c.Message, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}
