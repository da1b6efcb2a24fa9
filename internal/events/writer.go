package events

import (
	"context"
	"database/sql"
	"time"
)

// Event type constants recorded against cases.
const (
	TypeCaseCreated    = "CASE_CREATED"
	TypeStatusChanged  = "STATUS_CHANGED"
	TypeCaseTerminated = "CASE_TERMINATED"
	TypeCaseMigrated   = "CASE_MIGRATED"
	TypeTaskClaimed    = "TASK_CLAIMED"
	TypeTaskUnclaimed  = "TASK_UNCLAIMED"
	TypeCommentAdded   = "COMMENT_ADDED"
	TypeRiskUpdated    = "RISK_UPDATED"
	TypeScreeningFiled = "SCREENING_FILED"
)

const SourceSystem = "SYSTEM"

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records an event inside the caller's transaction.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, caseID int64, evtType, description, source string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if source == "" {
		source = SourceSystem
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO case_events(case_id,type,description,source,created_at) VALUES (?,?,?,?,?)`,
		caseID, evtType, nullable(description), source, ts)
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
