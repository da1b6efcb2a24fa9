package repo

import (
	"context"
	"database/sql"
	"strings"

	"caseflow/internal/domain"
)

func (r Repo) InsertProcessInstance(ctx context.Context, tx *sql.Tx, pi domain.ProcessInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO process_instances(id,case_id,client_id,initiator,created_at) VALUES (?,?,?,?,?)`,
		pi.ID, pi.CaseID, pi.ClientID, pi.Initiator, pi.CreatedAt)
	return err
}

func scanInstance(scan func(dest ...any) error) (domain.ProcessInstance, error) {
	var pi domain.ProcessInstance
	err := scan(&pi.ID, &pi.CaseID, &pi.ClientID, &pi.Initiator, &pi.CreatedAt)
	if err == sql.ErrNoRows {
		return pi, ErrNotFound
	}
	return pi, err
}

func (r Repo) GetProcessInstance(ctx context.Context, id string) (domain.ProcessInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,case_id,client_id,initiator,created_at FROM process_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) GetProcessInstanceTx(ctx context.Context, tx *sql.Tx, id string) (domain.ProcessInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,case_id,client_id,initiator,created_at FROM process_instances WHERE id=?`, id)
	return scanInstance(row.Scan)
}

func (r Repo) GetProcessInstanceByCase(ctx context.Context, caseID int64) (domain.ProcessInstance, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,case_id,client_id,initiator,created_at FROM process_instances WHERE case_id=?`, caseID)
	return scanInstance(row.Scan)
}

func (r Repo) GetProcessInstanceByCaseTx(ctx context.Context, tx *sql.Tx, caseID int64) (domain.ProcessInstance, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,case_id,client_id,initiator,created_at FROM process_instances WHERE case_id=?`, caseID)
	return scanInstance(row.Scan)
}

func (r Repo) ListProcessInstances(ctx context.Context) ([]domain.ProcessInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,case_id,client_id,initiator,created_at FROM process_instances ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProcessInstance
	for rows.Next() {
		var pi domain.ProcessInstance
		if err := rows.Scan(&pi.ID, &pi.CaseID, &pi.ClientID, &pi.Initiator, &pi.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, pi)
	}
	return res, rows.Err()
}

// DeleteProcessInstance removes an instance; its stage task goes with it
// through the cascade.
func (r Repo) DeleteProcessInstance(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM process_instances WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertStageTask(ctx context.Context, tx *sql.Tx, t domain.StageTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO stage_tasks(id,process_instance_id,stage,assignee,candidate_group,created_at) VALUES (?,?,?,?,?,?)`,
		t.ID, t.ProcessInstanceID, t.Stage, nullableStringPtr(t.Assignee), t.CandidateGroup, t.CreatedAt)
	return err
}

func scanStageTask(scan func(dest ...any) error) (domain.StageTask, error) {
	var t domain.StageTask
	var assignee sql.NullString
	err := scan(&t.ID, &t.ProcessInstanceID, &t.Stage, &assignee, &t.CandidateGroup, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if assignee.Valid {
		t.Assignee = &assignee.String
	}
	return t, nil
}

func (r Repo) GetStageTask(ctx context.Context, id string) (domain.StageTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,process_instance_id,stage,assignee,candidate_group,created_at FROM stage_tasks WHERE id=?`, id)
	return scanStageTask(row.Scan)
}

func (r Repo) GetStageTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.StageTask, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,process_instance_id,stage,assignee,candidate_group,created_at FROM stage_tasks WHERE id=?`, id)
	return scanStageTask(row.Scan)
}

func (r Repo) GetStageTaskByInstance(ctx context.Context, instanceID string) (domain.StageTask, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,process_instance_id,stage,assignee,candidate_group,created_at FROM stage_tasks WHERE process_instance_id=?`, instanceID)
	return scanStageTask(row.Scan)
}

func (r Repo) GetStageTaskByInstanceTx(ctx context.Context, tx *sql.Tx, instanceID string) (domain.StageTask, error) {
	row := tx.QueryRowContext(ctx, `SELECT id,process_instance_id,stage,assignee,candidate_group,created_at FROM stage_tasks WHERE process_instance_id=?`, instanceID)
	return scanStageTask(row.Scan)
}

func (r Repo) DeleteStageTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM stage_tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimStageTask sets the assignee only when the task is still unclaimed.
// Returns false when another user won the race or the task is gone.
func (r Repo) ClaimStageTask(ctx context.Context, tx *sql.Tx, id, userID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE stage_tasks SET assignee=? WHERE id=? AND assignee IS NULL`, userID, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r Repo) UnclaimStageTask(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `UPDATE stage_tasks SET assignee=NULL WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskQueueFilters struct {
	Assignee        string
	CandidateGroups []string
	Stage           string
}

func (r Repo) ListStageTasks(ctx context.Context, f TaskQueueFilters) ([]domain.TaskSummary, error) {
	var clauses []string
	var args []any
	if f.Assignee != "" {
		group := "(t.assignee=?"
		args = append(args, f.Assignee)
		if len(f.CandidateGroups) > 0 {
			placeholders := strings.Repeat("?,", len(f.CandidateGroups))
			group += " OR (t.assignee IS NULL AND t.candidate_group IN (" + placeholders[:len(placeholders)-1] + "))"
			for _, g := range f.CandidateGroups {
				args = append(args, g)
			}
		}
		group += ")"
		clauses = append(clauses, group)
	}
	if f.Stage != "" {
		clauses = append(clauses, "t.stage=?")
		args = append(args, f.Stage)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT t.id,t.process_instance_id,t.stage,t.assignee,t.candidate_group,p.case_id,p.client_id,p.initiator,t.created_at
FROM stage_tasks t JOIN process_instances p ON p.id=t.process_instance_id ` + where + ` ORDER BY t.created_at DESC, t.id DESC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskSummary
	for rows.Next() {
		var s domain.TaskSummary
		var assignee sql.NullString
		if err := rows.Scan(&s.TaskID, &s.ProcessInstanceID, &s.Stage, &assignee, &s.CandidateGroup, &s.CaseID, &s.ClientID, &s.Initiator, &s.CreatedAt); err != nil {
			return nil, err
		}
		if assignee.Valid {
			s.Assignee = &assignee.String
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
