// Package adhoc implements two-party request tasks outside the staged
// case workflow. The owner asks, the assignee responds, ownership of the
// next move flips with each exchange until the owner completes the task.
package adhoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/engine/auth"
	"caseflow/internal/repo"
)

const (
	StatusOpen      = "OPEN"
	StatusResponded = "RESPONDED"
	StatusCompleted = "COMPLETED"
)

// InvalidStateError reports an action on a task whose lifecycle no longer
// allows it.
type InvalidStateError struct {
	TaskID string
	Status string
	Action string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s task %s in status %s", e.Action, e.TaskID, e.Status)
}

type Service struct {
	DB   *sql.DB
	Repo repo.Repo
	Now  func() time.Time
}

func New(db *sql.DB) Service {
	return Service{
		DB:   db,
		Repo: repo.Repo{DB: db},
		Now:  time.Now,
	}
}

func (s Service) now() string {
	now := s.Now
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339)
}

// CreateOptions are parameters for opening an ad-hoc task.
type CreateOptions struct {
	Owner       string
	Assignee    string
	RequestText string
	ClientID    *int64
}

func (s Service) Create(ctx context.Context, opts CreateOptions) (domain.AdHocTask, error) {
	if opts.Owner == "" || opts.Assignee == "" {
		return domain.AdHocTask{}, errors.New("owner and assignee are required")
	}
	if opts.RequestText == "" {
		return domain.AdHocTask{}, errors.New("request_text is required")
	}
	now := s.now()
	t := domain.AdHocTask{
		ID:          uuid.NewString(),
		Owner:       opts.Owner,
		Assignee:    opts.Assignee,
		RequestText: opts.RequestText,
		ClientID:    opts.ClientID,
		Status:      StatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	defer tx.Rollback()

	if err := s.Repo.InsertAdHocTask(ctx, tx, t); err != nil {
		return domain.AdHocTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdHocTask{}, err
	}
	return t, nil
}

// Respond records the assignee's answer and hands the task back to the
// owner for review.
func (s Service) Respond(ctx context.Context, taskID, userID, responseText string) (domain.AdHocTask, error) {
	if responseText == "" {
		return domain.AdHocTask{}, errors.New("response_text is required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	defer tx.Rollback()

	t, err := s.Repo.GetAdHocTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	if t.Status == StatusCompleted {
		return domain.AdHocTask{}, InvalidStateError{TaskID: taskID, Status: t.Status, Action: "respond to"}
	}
	if t.Assignee != userID {
		return domain.AdHocTask{}, auth.NotAssigneeError{TaskID: taskID, UserID: userID}
	}
	t.Status = StatusResponded
	t.ResponseText = &responseText
	t.Responder = &userID
	t.Assignee = t.Owner
	t.UpdatedAt = s.now()
	if err := s.Repo.UpdateAdHocTask(ctx, tx, t); err != nil {
		return domain.AdHocTask{}, err
	}
	if err := s.Repo.InsertAdHocComment(ctx, tx, domain.AdHocComment{
		TaskID:    taskID,
		Author:    userID,
		Message:   responseText,
		CreatedAt: t.UpdatedAt,
	}); err != nil {
		return domain.AdHocTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdHocTask{}, err
	}
	return t, nil
}

// Reassign sends the task to a new assignee and reopens it. Owner only.
func (s Service) Reassign(ctx context.Context, taskID, userID, newAssignee string) (domain.AdHocTask, error) {
	if newAssignee == "" {
		return domain.AdHocTask{}, errors.New("assignee is required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	defer tx.Rollback()

	t, err := s.Repo.GetAdHocTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	if t.Status == StatusCompleted {
		return domain.AdHocTask{}, InvalidStateError{TaskID: taskID, Status: t.Status, Action: "reassign"}
	}
	if t.Owner != userID {
		return domain.AdHocTask{}, auth.NotAssigneeError{TaskID: taskID, UserID: userID}
	}
	t.Assignee = newAssignee
	t.Status = StatusOpen
	t.UpdatedAt = s.now()
	if err := s.Repo.UpdateAdHocTask(ctx, tx, t); err != nil {
		return domain.AdHocTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdHocTask{}, err
	}
	return t, nil
}

// Complete closes the task. Owner only.
func (s Service) Complete(ctx context.Context, taskID, userID string) (domain.AdHocTask, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	defer tx.Rollback()

	t, err := s.Repo.GetAdHocTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	if t.Status == StatusCompleted {
		return domain.AdHocTask{}, InvalidStateError{TaskID: taskID, Status: t.Status, Action: "complete"}
	}
	if t.Owner != userID {
		return domain.AdHocTask{}, auth.NotAssigneeError{TaskID: taskID, UserID: userID}
	}
	t.Status = StatusCompleted
	t.UpdatedAt = s.now()
	if err := s.Repo.UpdateAdHocTask(ctx, tx, t); err != nil {
		return domain.AdHocTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdHocTask{}, err
	}
	return t, nil
}

// Comment adds a free-form note visible to both parties.
func (s Service) Comment(ctx context.Context, taskID, author, message string) (domain.AdHocComment, error) {
	if message == "" {
		return domain.AdHocComment{}, errors.New("message is required")
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.AdHocComment{}, err
	}
	defer tx.Rollback()

	t, err := s.Repo.GetAdHocTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.AdHocComment{}, err
	}
	if t.Owner != author && t.Assignee != author && (t.Responder == nil || *t.Responder != author) {
		return domain.AdHocComment{}, auth.NotAssigneeError{TaskID: taskID, UserID: author}
	}
	c := domain.AdHocComment{
		TaskID:    taskID,
		Author:    author,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.Repo.InsertAdHocComment(ctx, tx, c); err != nil {
		return domain.AdHocComment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.AdHocComment{}, err
	}
	return c, nil
}

// Get returns the task with its comment thread.
func (s Service) Get(ctx context.Context, taskID string) (domain.AdHocTask, error) {
	t, err := s.Repo.GetAdHocTask(ctx, taskID)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	comments, err := s.Repo.ListAdHocComments(ctx, taskID)
	if err != nil {
		return domain.AdHocTask{}, err
	}
	t.Comments = comments
	return t, nil
}

// ListMine returns the user's open and responded tasks on either side of
// the exchange. Completed tasks are excluded.
func (s Service) ListMine(ctx context.Context, userID string) ([]domain.AdHocTask, error) {
	return s.Repo.ListAdHocTasksFor(ctx, userID)
}
