package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"caseflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertClient(ctx context.Context, tx *sql.Tx, c domain.Client) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO clients(first_name,last_name,date_of_birth,citizenship,created_at) VALUES (?,?,?,?,?)`,
		c.FirstName, c.LastName, nullable(c.DateOfBirth), nullable(c.Citizenship), c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetClient(ctx context.Context, id int64) (domain.Client, error) {
	var c domain.Client
	var dob, citizenship sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,first_name,last_name,date_of_birth,citizenship,created_at FROM clients WHERE id=?`, id).
		Scan(&c.ID, &c.FirstName, &c.LastName, &dob, &citizenship, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if dob.Valid {
		c.DateOfBirth = dob.String
	}
	if citizenship.Valid {
		c.Citizenship = citizenship.String
	}
	return c, nil
}

func (r Repo) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,first_name,last_name,COALESCE(date_of_birth,''),COALESCE(citizenship,''),created_at FROM clients ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Client
	for rows.Next() {
		var c domain.Client
		if err := rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.DateOfBirth, &c.Citizenship, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertCase(ctx context.Context, tx *sql.Tx, c domain.Case) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO cases(client_id,reason,status,created_at) VALUES (?,?,?,?)`,
		c.ClientID, nullable(c.Reason), c.Status, c.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanCase(scan func(dest ...any) error) (domain.Case, error) {
	var c domain.Case
	var reason, assignedTo sql.NullString
	err := scan(&c.ID, &c.ClientID, &reason, &c.Status, &assignedTo, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if reason.Valid {
		c.Reason = reason.String
	}
	if assignedTo.Valid {
		c.AssignedTo = &assignedTo.String
	}
	return c, nil
}

func (r Repo) GetCase(ctx context.Context, id int64) (domain.Case, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,client_id,reason,status,assigned_to,created_at FROM cases WHERE id=?`, id)
	return scanCase(row.Scan)
}

func (r Repo) GetCaseTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Case, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,client_id,reason,status,assigned_to,created_at FROM cases WHERE id=?`, id)
	return scanCase(row.Scan)
}

type CaseFilters struct {
	ClientID int64
	Status   string
	Assignee string
	Limit    int
}

func (r Repo) ListCases(ctx context.Context, f CaseFilters) ([]domain.Case, error) {
	var clauses []string
	var args []any
	if f.ClientID > 0 {
		clauses = append(clauses, "c.client_id=?")
		args = append(args, f.ClientID)
	}
	if f.Status != "" {
		clauses = append(clauses, "c.status=?")
		args = append(args, f.Status)
	}
	if f.Assignee != "" {
		clauses = append(clauses, "c.assigned_to=?")
		args = append(args, f.Assignee)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT c.id,c.client_id,c.reason,c.status,c.assigned_to,c.created_at,cl.first_name,cl.last_name
FROM cases c JOIN clients cl ON cl.id=c.client_id ` + where + ` ORDER BY c.id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Case
	for rows.Next() {
		var c domain.Case
		var reason, assignedTo sql.NullString
		var first, last string
		if err := rows.Scan(&c.ID, &c.ClientID, &reason, &c.Status, &assignedTo, &c.CreatedAt, &first, &last); err != nil {
			return nil, err
		}
		if reason.Valid {
			c.Reason = reason.String
		}
		if assignedTo.Valid {
			c.AssignedTo = &assignedTo.String
		}
		c.ClientName = strings.TrimSpace(first + " " + last)
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ListCasesByClient(ctx context.Context, clientID int64) ([]domain.Case, error) {
	return r.ListCases(ctx, CaseFilters{ClientID: clientID})
}

// UpdateCase patches status and assignee. Nil leaves the column unchanged,
// matching COALESCE semantics so a status-only transition does not clear
// the current assignee.
func (r Repo) UpdateCase(ctx context.Context, tx *sql.Tx, id int64, status *string, assignedTo *string, clearAssignee bool) error {
	var (
		fields []string
		args   []any
	)
	if status != nil {
		fields = append(fields, "status=?")
		args = append(args, *status)
	}
	if clearAssignee {
		fields = append(fields, "assigned_to=NULL")
	} else if assignedTo != nil {
		fields = append(fields, "assigned_to=?")
		args = append(args, *assignedTo)
	}
	if len(fields) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE cases SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCaseComment(ctx context.Context, tx *sql.Tx, c domain.CaseComment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO case_comments(case_id,user_id,text,role,created_at) VALUES (?,?,?,?,?)`,
		c.CaseID, c.UserID, c.Text, nullable(c.Role), c.CreatedAt)
	return err
}

func (r Repo) ListCaseComments(ctx context.Context, caseID int64) ([]domain.CaseComment, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,user_id,text,COALESCE(role,''),created_at FROM case_comments WHERE case_id=? ORDER BY id ASC`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseComment
	for rows.Next() {
		var c domain.CaseComment
		if err := rows.Scan(&c.ID, &c.CaseID, &c.UserID, &c.Text, &c.Role, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ListCaseEvents(ctx context.Context, caseID int64, limit int) ([]domain.CaseEvent, error) {
	query := `SELECT id,case_id,type,COALESCE(description,''),source,created_at FROM case_events WHERE case_id=? ORDER BY id DESC`
	args := []any{caseID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseEvent
	for rows.Next() {
		var e domain.CaseEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Type, &e.Description, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// CaseEventsAfter returns up to limit events with an id greater than after,
// oldest first. Used by the webhook dispatcher cursor.
func (r Repo) CaseEventsAfter(ctx context.Context, limit int, after int64) ([]domain.CaseEvent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,type,COALESCE(description,''),source,created_at FROM case_events WHERE id>? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CaseEvent
	for rows.Next() {
		var e domain.CaseEvent
		if err := rows.Scan(&e.ID, &e.CaseID, &e.Type, &e.Description, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestCaseEventID returns the highest event id, or 0 when the log is empty.
func (r Repo) LatestCaseEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM case_events`).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PurgeCaseEvents deletes events older than the given RFC3339 cutoff.
func (r Repo) PurgeCaseEvents(ctx context.Context, before string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM case_events WHERE created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

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

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
