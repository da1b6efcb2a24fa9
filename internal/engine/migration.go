package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"caseflow/internal/domain"
	"caseflow/internal/events"
	"caseflow/internal/repo"
)

// MigrateLegacyCase rebuilds the process instance for a case imported
// from the legacy system. Any existing instance is torn down first, then
// a fresh instance is created at the analyst stage and fast-forwarded to
// the case's stored status. A failed fast-forward leaves the instance at
// the analyst stage; the stored status is not rewritten.
func (e Engine) MigrateLegacyCase(ctx context.Context, caseID int64, actorID string) (domain.ProcessInstance, error) {
	c, err := e.Repo.GetCase(ctx, caseID)
	if err != nil {
		return domain.ProcessInstance{}, err
	}
	if c.Status == StatusApproved {
		return domain.ProcessInstance{}, InvalidStateError{Status: c.Status, Action: "migrate"}
	}

	if existing, err := e.Repo.GetProcessInstanceByCase(ctx, caseID); err == nil {
		if err := e.Terminate(ctx, existing.ID, "superseded by migration"); err != nil {
			return domain.ProcessInstance{}, err
		}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.ProcessInstance{}, err
	}

	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ProcessInstance{}, err
	}
	defer tx.Rollback()

	pi := domain.ProcessInstance{
		ID:        uuid.NewString(),
		CaseID:    caseID,
		ClientID:  c.ClientID,
		Initiator: actorID,
		CreatedAt: now,
	}
	if err := e.Repo.InsertProcessInstance(ctx, tx, pi); err != nil {
		return domain.ProcessInstance{}, fmt.Errorf("insert process instance: %w", err)
	}
	if err := e.createStageTask(ctx, tx, pi.ID, StageAnalyst, now); err != nil {
		return domain.ProcessInstance{}, err
	}
	if err := e.Events.Append(ctx, tx, caseID, events.TypeCaseMigrated, fmt.Sprintf("Process rebuilt at status %s", c.Status), actorID); err != nil {
		return domain.ProcessInstance{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ProcessInstance{}, err
	}

	if c.Status != StageAnalyst {
		if err := e.fastForward(ctx, pi.ID, c.Status); err != nil {
			log.Printf("migrate case %d: fast-forward to %s failed: %v", caseID, c.Status, err)
		}
	}
	if c.AssignedTo != nil {
		if err := e.reclaim(ctx, pi.ID, *c.AssignedTo); err != nil {
			log.Printf("migrate case %d: re-claim for %s failed: %v", caseID, *c.AssignedTo, err)
		}
	}
	return pi, nil
}

// reclaim puts the recorded assignee back on the instance's task.
func (e Engine) reclaim(ctx context.Context, instanceID, userID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskByInstanceTx(ctx, tx, instanceID)
	if err != nil {
		return err
	}
	if ok, err := e.Repo.ClaimStageTask(ctx, tx, t.ID, userID); err != nil {
		return err
	} else if !ok {
		return ConflictError{TaskID: t.ID}
	}
	return tx.Commit()
}

// fastForward replaces the instance's analyst task with one at the
// target stage without running the gate or touching the stored status.
func (e Engine) fastForward(ctx context.Context, instanceID, target string) error {
	if !e.ValidStage(target) {
		return fmt.Errorf("unknown stage %s", target)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetStageTaskByInstanceTx(ctx, tx, instanceID)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteStageTask(ctx, tx, t.ID); err != nil {
		return err
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.createStageTask(ctx, tx, instanceID, target, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MigrateLegacyCases runs MigrateLegacyCase over the configured legacy
// IDs. Individual failures are logged and skipped.
func (e Engine) MigrateLegacyCases(ctx context.Context, actorID string) int {
	if e.Config == nil {
		return 0
	}
	migrated := 0
	for _, id := range e.Config.Legacy.CaseIDs {
		if _, err := e.MigrateLegacyCase(ctx, id, actorID); err != nil {
			log.Printf("migrate legacy case %d: %v", id, err)
			continue
		}
		migrated++
	}
	return migrated
}
