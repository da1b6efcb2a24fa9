package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/config"
	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
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

// ClientCreateOptions are parameters for registering a client.
type ClientCreateOptions struct {
	FirstName   string
	LastName    string
	DateOfBirth string
	Citizenship string
}

func (e Engine) CreateClient(ctx context.Context, opts ClientCreateOptions) (domain.Client, error) {
	if opts.FirstName == "" || opts.LastName == "" {
		return domain.Client{}, errors.New("first_name and last_name are required")
	}
	c := domain.Client{
		FirstName:   opts.FirstName,
		LastName:    opts.LastName,
		DateOfBirth: opts.DateOfBirth,
		Citizenship: opts.Citizenship,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Client{}, err
	}
	defer tx.Rollback()

	id, err := e.Repo.InsertClient(ctx, tx, c)
	if err != nil {
		return domain.Client{}, fmt.Errorf("insert client: %w", err)
	}
	c.ID = id
	if err := tx.Commit(); err != nil {
		return domain.Client{}, err
	}
	return c, nil
}

// StartCaseOptions are parameters for opening a case.
type StartCaseOptions struct {
	ClientID  int64
	Reason    string
	Initiator string
}

// StartCase opens a case at the first review stage and creates its process
// instance with one unassigned analyst task.
func (e Engine) StartCase(ctx context.Context, opts StartCaseOptions) (domain.Case, domain.ProcessInstance, error) {
	if opts.ClientID <= 0 {
		return domain.Case{}, domain.ProcessInstance{}, errors.New("client_id is required")
	}
	if opts.Initiator == "" {
		return domain.Case{}, domain.ProcessInstance{}, errors.New("initiator is required")
	}
	if _, err := e.Repo.GetClient(ctx, opts.ClientID); err != nil {
		return domain.Case{}, domain.ProcessInstance{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.Case{
		ClientID:  opts.ClientID,
		Reason:    opts.Reason,
		Status:    StageAnalyst,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, domain.ProcessInstance{}, err
	}
	defer tx.Rollback()

	caseID, err := e.Repo.InsertCase(ctx, tx, c)
	if err != nil {
		return domain.Case{}, domain.ProcessInstance{}, fmt.Errorf("insert case: %w", err)
	}
	c.ID = caseID
	pi := domain.ProcessInstance{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		ClientID:  opts.ClientID,
		Initiator: opts.Initiator,
		CreatedAt: now,
	}
	if err := e.Repo.InsertProcessInstance(ctx, tx, pi); err != nil {
		return domain.Case{}, domain.ProcessInstance{}, fmt.Errorf("insert process instance: %w", err)
	}
	if err := e.createStageTask(ctx, tx, pi.ID, StageAnalyst, now); err != nil {
		return domain.Case{}, domain.ProcessInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, caseID, events.TypeCaseCreated, fmt.Sprintf("Case opened by %s", opts.Initiator), opts.Initiator); err != nil {
		return domain.Case{}, domain.ProcessInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, domain.ProcessInstance{}, err
	}
	return c, pi, nil
}

func (e Engine) createStageTask(ctx context.Context, tx *sql.Tx, instanceID, stage, now string) error {
	t := domain.StageTask{
		ID:                uuid.NewString(),
		ProcessInstanceID: instanceID,
		Stage:             stage,
		CandidateGroup:    e.CandidateGroup(stage),
		CreatedAt:         now,
	}
	if err := e.Repo.InsertStageTask(ctx, tx, t); err != nil {
		return fmt.Errorf("insert stage task: %w", err)
	}
	return nil
}

// AdvanceTask approves the task's stage and moves the case forward. An
// unassigned task is claimed for the acting user on the way; a task held
// by another user cannot be moved. Leaving the analyst stage requires a
// complete questionnaire. Past the last stage the case becomes APPROVED
// and its process instance ends.
func (e Engine) AdvanceTask(ctx context.Context, taskID, userID string) (domain.Case, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.takeTask(ctx, tx, t, userID); err != nil {
		return domain.Case{}, err
	}
	pi, err := e.Repo.GetProcessInstanceTx(ctx, tx, t.ProcessInstanceID)
	if err != nil {
		return domain.Case{}, err
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, pi.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != t.Stage {
		return domain.Case{}, InvalidStateError{Status: c.Status, Action: "approve"}
	}
	if t.Stage == StageAnalyst {
		if err := e.checkCompleteTx(ctx, tx, c.ID); err != nil {
			return domain.Case{}, err
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	next := e.NextStage(t.Stage)
	if next == "" {
		return domain.Case{}, InvalidStateError{Status: c.Status, Action: "approve"}
	}
	if err := e.Repo.DeleteStageTask(ctx, tx, t.ID); err != nil {
		return domain.Case{}, err
	}
	if next == StatusApproved {
		if err := e.Repo.DeleteProcessInstance(ctx, tx, pi.ID); err != nil {
			return domain.Case{}, err
		}
	} else {
		if err := e.createStageTask(ctx, tx, pi.ID, next, now); err != nil {
			return domain.Case{}, err
		}
	}
	status := next
	if err := e.Repo.UpdateCase(ctx, tx, c.ID, &status, nil, true); err != nil {
		return domain.Case{}, err
	}
	desc := fmt.Sprintf("Stage %s approved by %s", t.Stage, userID)
	if err := e.Events.Append(ctx, tx, c.ID, events.TypeStatusChanged, desc, userID); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Status = status
	c.AssignedTo = nil
	return c, nil
}

// RejectTask sends the case back to the analyst stage from any review
// stage. An unassigned task is claimed for the acting user on the way; a
// comment is mandatory.
func (e Engine) RejectTask(ctx context.Context, taskID, userID, role, comment string) (domain.Case, error) {
	if comment == "" {
		return domain.Case{}, errors.New("comment is required for rejection")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Case{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Case{}, err
	}
	if err := e.takeTask(ctx, tx, t, userID); err != nil {
		return domain.Case{}, err
	}
	if t.Stage == StageAnalyst {
		return domain.Case{}, InvalidStateError{Status: t.Stage, Action: "reject"}
	}
	pi, err := e.Repo.GetProcessInstanceTx(ctx, tx, t.ProcessInstanceID)
	if err != nil {
		return domain.Case{}, err
	}
	c, err := e.Repo.GetCaseTx(ctx, tx, pi.CaseID)
	if err != nil {
		return domain.Case{}, err
	}
	if c.Status != t.Stage {
		return domain.Case{}, InvalidStateError{Status: c.Status, Action: "reject"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.DeleteStageTask(ctx, tx, t.ID); err != nil {
		return domain.Case{}, err
	}
	if err := e.createStageTask(ctx, tx, pi.ID, StageAnalyst, now); err != nil {
		return domain.Case{}, err
	}
	status := StageAnalyst
	if err := e.Repo.UpdateCase(ctx, tx, c.ID, &status, nil, true); err != nil {
		return domain.Case{}, err
	}
	if err := e.Repo.InsertCaseComment(ctx, tx, domain.CaseComment{
		CaseID:    c.ID,
		UserID:    userID,
		Text:      comment,
		Role:      role,
		CreatedAt: now,
	}); err != nil {
		return domain.Case{}, err
	}
	desc := fmt.Sprintf("Stage %s rejected by %s: %s", t.Stage, userID, comment)
	if err := e.Events.Append(ctx, tx, c.ID, events.TypeStatusChanged, desc, userID); err != nil {
		return domain.Case{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Case{}, err
	}
	c.Status = status
	c.AssignedTo = nil
	return c, nil
}

// Terminate deletes a process instance and its task. Terminating an
// unknown instance is a no-op so repair scripts can re-run safely.
func (e Engine) Terminate(ctx context.Context, instanceID, reason string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pi, err := e.Repo.GetProcessInstanceTx(ctx, tx, instanceID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteProcessInstance(ctx, tx, instanceID); err != nil {
		return err
	}
	desc := "Process terminated"
	if reason != "" {
		desc = "Process terminated: " + reason
	}
	if err := e.Events.Append(ctx, tx, pi.CaseID, events.TypeCaseTerminated, desc, events.SourceSystem); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteAllProcesses terminates every live instance. Failures are logged
// and skipped.
func (e Engine) DeleteAllProcesses(ctx context.Context, reason string) (int, error) {
	instances, err := e.Repo.ListProcessInstances(ctx)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, pi := range instances {
		if err := e.Terminate(ctx, pi.ID, reason); err != nil {
			log.Printf("terminate %s: %v", pi.ID, err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// AddComment records a case comment.
func (e Engine) AddComment(ctx context.Context, caseID int64, userID, role, text string) (domain.CaseComment, error) {
	if text == "" {
		return domain.CaseComment{}, errors.New("text is required")
	}
	if _, err := e.Repo.GetCase(ctx, caseID); err != nil {
		return domain.CaseComment{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	c := domain.CaseComment{
		CaseID:    caseID,
		UserID:    userID,
		Text:      text,
		Role:      role,
		CreatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.CaseComment{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertCaseComment(ctx, tx, c); err != nil {
		return domain.CaseComment{}, err
	}
	if err := e.Events.Append(ctx, tx, caseID, events.TypeCommentAdded, fmt.Sprintf("Comment by %s", userID), userID); err != nil {
		return domain.CaseComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.CaseComment{}, err
	}
	return c, nil
}

// SaveAnswers upserts questionnaire answers for an open case.
func (e Engine) SaveAnswers(ctx context.Context, caseID int64, answers []domain.QuestionnaireAnswer) error {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Status == StatusApproved {
		return InvalidStateError{Status: c.Status, Action: "answer"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, a := range answers {
		a.CaseID = caseID
		if err := e.Repo.UpsertAnswer(ctx, tx, a); err != nil {
			return fmt.Errorf("save answer for question %d: %w", a.QuestionID, err)
		}
	}
	return tx.Commit()
}
