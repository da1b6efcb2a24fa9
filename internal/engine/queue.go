package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

func requireAssignee(t domain.StageTask, userID string) error {
	if t.Assignee == nil || *t.Assignee != userID {
		return auth.NotAssigneeError{TaskID: t.ID, UserID: userID}
	}
	return nil
}

// takeTask ensures the acting user holds the task before a transition,
// claiming it when it is still unassigned. A task held by another user
// stays with them.
func (e Engine) takeTask(ctx context.Context, tx *sql.Tx, t domain.StageTask, userID string) error {
	if t.Assignee != nil {
		if *t.Assignee != userID {
			return auth.NotAssigneeError{TaskID: t.ID, UserID: userID}
		}
		return nil
	}
	ok, err := e.Repo.ClaimStageTask(ctx, tx, t.ID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ConflictError{TaskID: t.ID}
	}
	return nil
}

// ClaimTask assigns an unclaimed task to the user. The claim is a
// conditional update so two racing users cannot both win; the loser gets
// a ConflictError. The winner is mirrored onto the case's assigned_to.
func (e Engine) ClaimTask(ctx context.Context, taskID, userID string) (domain.StageTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageTask{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.StageTask{}, err
	}
	ok, err := e.Repo.ClaimStageTask(ctx, tx, taskID, userID)
	if err != nil {
		return domain.StageTask{}, err
	}
	if !ok {
		return domain.StageTask{}, ConflictError{TaskID: taskID}
	}
	pi, err := e.Repo.GetProcessInstanceTx(ctx, tx, t.ProcessInstanceID)
	if err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Repo.UpdateCase(ctx, tx, pi.CaseID, nil, &userID, false); err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Events.Append(ctx, tx, pi.CaseID, events.TypeTaskClaimed, fmt.Sprintf("Task claimed by %s", userID), userID); err != nil {
		return domain.StageTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageTask{}, err
	}
	t.Assignee = &userID
	return t, nil
}

// UnclaimTask releases a task back to its candidate group. Only the
// current assignee may release it. The case's assigned_to is cleared.
func (e Engine) UnclaimTask(ctx context.Context, taskID, userID string) (domain.StageTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageTask{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.StageTask{}, err
	}
	if err := requireAssignee(t, userID); err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Repo.UnclaimStageTask(ctx, tx, taskID); err != nil {
		return domain.StageTask{}, err
	}
	pi, err := e.Repo.GetProcessInstanceTx(ctx, tx, t.ProcessInstanceID)
	if err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Repo.UpdateCase(ctx, tx, pi.CaseID, nil, nil, true); err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Events.Append(ctx, tx, pi.CaseID, events.TypeTaskUnclaimed, fmt.Sprintf("Task released by %s", userID), userID); err != nil {
		return domain.StageTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageTask{}, err
	}
	t.Assignee = nil
	return t, nil
}

// AssignCase force-assigns a case's open task to a user, regardless of
// any current assignee. A blank user releases the task instead. Meant
// for supervisors redistributing work.
func (e Engine) AssignCase(ctx context.Context, caseID int64, userID, actorID string) (domain.StageTask, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.StageTask{}, err
	}
	defer tx.Rollback()

	pi, err := e.Repo.GetProcessInstanceByCaseTx(ctx, tx, caseID)
	if err != nil {
		return domain.StageTask{}, err
	}
	t, err := e.Repo.GetStageTaskByInstanceTx(ctx, tx, pi.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.StageTask{}, InvalidStateError{Status: "NONE", Action: "assign"}
		}
		return domain.StageTask{}, err
	}
	if userID == "" {
		if err := e.Repo.UnclaimStageTask(ctx, tx, t.ID); err != nil {
			return domain.StageTask{}, err
		}
		if err := e.Repo.UpdateCase(ctx, tx, caseID, nil, nil, true); err != nil {
			return domain.StageTask{}, err
		}
		if err := e.Events.Append(ctx, tx, caseID, events.TypeTaskUnclaimed, fmt.Sprintf("Task released by %s", actorID), actorID); err != nil {
			return domain.StageTask{}, err
		}
		if err := tx.Commit(); err != nil {
			return domain.StageTask{}, err
		}
		t.Assignee = nil
		return t, nil
	}
	if _, err := tx.ExecContext(ctx, `UPDATE stage_tasks SET assignee=? WHERE id=?`, userID, t.ID); err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Repo.UpdateCase(ctx, tx, caseID, nil, &userID, false); err != nil {
		return domain.StageTask{}, err
	}
	if err := e.Events.Append(ctx, tx, caseID, events.TypeTaskClaimed, fmt.Sprintf("Task assigned to %s by %s", userID, actorID), actorID); err != nil {
		return domain.StageTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.StageTask{}, err
	}
	t.Assignee = &userID
	return t, nil
}

// ListUserTasks returns the user's claimed tasks plus unclaimed tasks in
// any of the user's candidate groups.
func (e Engine) ListUserTasks(ctx context.Context, userID string, groups []string) ([]domain.TaskSummary, error) {
	return e.Repo.ListStageTasks(ctx, repo.TaskQueueFilters{Assignee: userID, CandidateGroups: groups})
}

// ListAllTasks returns every open stage task.
func (e Engine) ListAllTasks(ctx context.Context) ([]domain.TaskSummary, error) {
	return e.Repo.ListStageTasks(ctx, repo.TaskQueueFilters{})
}

// ListProcesses returns every live process instance.
func (e Engine) ListProcesses(ctx context.Context) ([]domain.ProcessInstance, error) {
	return e.Repo.ListProcessInstances(ctx)
}

// GetTask returns a single stage task.
func (e Engine) GetTask(ctx context.Context, taskID string) (domain.StageTask, error) {
	return e.Repo.GetStageTask(ctx, taskID)
}
