package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/domain"
	"caseflow/internal/engine"
	"caseflow/internal/engine/auth"
	"caseflow/internal/migrate"
	"caseflow/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, nil)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func newTestCase(t *testing.T, env testEnv) (domain.Case, domain.ProcessInstance) {
	t.Helper()
	client, err := env.Engine.CreateClient(env.Ctx, engine.ClientCreateOptions{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	c, pi, err := env.Engine.StartCase(env.Ctx, engine.StartCaseOptions{ClientID: client.ID, Reason: "onboarding", Initiator: "analyst-1"})
	if err != nil {
		t.Fatalf("start case: %v", err)
	}
	return c, pi
}

func currentTask(t *testing.T, env testEnv, instanceID string) domain.StageTask {
	t.Helper()
	task, err := env.Engine.Repo.GetStageTaskByInstance(env.Ctx, instanceID)
	if err != nil {
		t.Fatalf("get stage task: %v", err)
	}
	return task
}

// fillMandatoryAnswers answers the four seeded mandatory questions.
func fillMandatoryAnswers(t *testing.T, env testEnv, caseID int64) {
	t.Helper()
	err := env.Engine.SaveAnswers(env.Ctx, caseID, []domain.QuestionnaireAnswer{
		{QuestionID: 1, Text: "yes"},
		{QuestionID: 2, Text: "DE"},
		{QuestionID: 4, Text: "Salary"},
		{QuestionID: 6, Text: "no"},
	})
	if err != nil {
		t.Fatalf("save answers: %v", err)
	}
}

func claimAndApprove(t *testing.T, env testEnv, instanceID, userID string) domain.Case {
	t.Helper()
	task := currentTask(t, env, instanceID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, userID); err != nil {
		t.Fatalf("claim %s: %v", task.Stage, err)
	}
	c, err := env.Engine.AdvanceTask(env.Ctx, task.ID, userID)
	if err != nil {
		t.Fatalf("approve %s: %v", task.Stage, err)
	}
	return c
}

func TestStartCaseCreatesAnalystTask(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	if c.Status != engine.StageAnalyst {
		t.Fatalf("status = %s, want %s", c.Status, engine.StageAnalyst)
	}
	task := currentTask(t, env, pi.ID)
	if task.Stage != engine.StageAnalyst {
		t.Fatalf("task stage = %s, want %s", task.Stage, engine.StageAnalyst)
	}
	if task.Assignee != nil {
		t.Fatalf("new task should be unassigned, got %s", *task.Assignee)
	}
	if task.CandidateGroup != "kyc_analysts" {
		t.Fatalf("candidate group = %s", task.CandidateGroup)
	}
	events, err := env.Engine.Repo.ListCaseEvents(env.Ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) == 0 || events[0].Type != "CASE_CREATED" {
		t.Fatalf("expected CASE_CREATED event, got %+v", events)
	}
}

func TestQuestionnaireGate(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "analyst-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
	want := "Questionnaire incomplete: Answer required for 'Full legal name verified against identity document?'"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}

	// A whitespace-only answer does not count.
	if err := env.Engine.SaveAnswers(env.Ctx, c.ID, []domain.QuestionnaireAnswer{
		{QuestionID: 1, Text: "yes"},
		{QuestionID: 2, Text: "   "},
	}); err != nil {
		t.Fatalf("save answers: %v", err)
	}
	_, err = env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	if !errors.As(err, &ve) || ve.Question != "Country of residence" {
		t.Fatalf("expected gap at residence question, got %v", err)
	}

	fillMandatoryAnswers(t, env, c.ID)
	got, err := env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	if err != nil {
		t.Fatalf("advance after answers: %v", err)
	}
	if got.Status != engine.StageReviewer {
		t.Fatalf("status = %s, want %s", got.Status, engine.StageReviewer)
	}
	if got.AssignedTo != nil {
		t.Fatalf("assignee should be cleared on stage change")
	}
	next := currentTask(t, env, pi.ID)
	if next.Stage != engine.StageReviewer || next.Assignee != nil {
		t.Fatalf("next task = %+v, want unassigned reviewer task", next)
	}
}

func TestFullApprovalChain(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)

	claimAndApprove(t, env, pi.ID, "analyst-1")
	claimAndApprove(t, env, pi.ID, "reviewer-1")
	claimAndApprove(t, env, pi.ID, "afc-1")
	final := claimAndApprove(t, env, pi.ID, "aco-1")

	if final.Status != engine.StatusApproved {
		t.Fatalf("status = %s, want %s", final.Status, engine.StatusApproved)
	}
	if _, err := env.Engine.Repo.GetProcessInstanceByCase(env.Ctx, c.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("process instance should be gone, got %v", err)
	}
	tasks, err := env.Engine.ListAllTasks(env.Ctx)
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected empty queue, got %d tasks", len(tasks))
	}
}

func TestRejectReturnsToAnalyst(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")

	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "reviewer-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := env.Engine.RejectTask(env.Ctx, task.ID, "reviewer-1", "KYC_REVIEWER", ""); err == nil {
		t.Fatalf("rejection without comment should fail")
	}

	got, err := env.Engine.RejectTask(env.Ctx, task.ID, "reviewer-1", "KYC_REVIEWER", "source of funds unclear")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.Status != engine.StageAnalyst {
		t.Fatalf("status = %s, want %s", got.Status, engine.StageAnalyst)
	}
	back := currentTask(t, env, pi.ID)
	if back.Stage != engine.StageAnalyst || back.Assignee != nil {
		t.Fatalf("expected unassigned analyst task, got %+v", back)
	}
	comments, err := env.Engine.Repo.ListCaseComments(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("list comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Text != "source of funds unclear" {
		t.Fatalf("rejection comment missing, got %+v", comments)
	}
	evts, err := env.Engine.Repo.ListCaseEvents(env.Ctx, c.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	changes := 0
	for _, evt := range evts {
		if evt.Type == "STATUS_CHANGED" {
			changes++
		}
	}
	// one for the approval to REVIEWER, one for the rejection
	if changes != 2 {
		t.Fatalf("STATUS_CHANGED events = %d, want 2", changes)
	}
}

func TestRejectAtAnalystStageNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	_, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "analyst-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	_, err := env.Engine.RejectTask(env.Ctx, task.ID, "analyst-1", "KYC_ANALYST", "nope")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestClaimConflictAndMirror(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)

	got, err := env.Engine.ClaimTask(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.Assignee == nil || *got.Assignee != "alice" {
		t.Fatalf("assignee = %v, want alice", got.Assignee)
	}
	cc, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if cc.AssignedTo == nil || *cc.AssignedTo != "alice" {
		t.Fatalf("case assignee = %v, want alice", cc.AssignedTo)
	}

	_, err = env.Engine.ClaimTask(env.Ctx, task.ID, "bob")
	var ce engine.ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUnclaim(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := env.Engine.UnclaimTask(env.Ctx, task.ID, "bob")
	var nae auth.NotAssigneeError
	if !errors.As(err, &nae) {
		t.Fatalf("expected not-assignee error, got %v", err)
	}

	got, err := env.Engine.UnclaimTask(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if got.Assignee != nil {
		t.Fatalf("assignee should be nil after unclaim")
	}
	cc, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatalf("get case: %v", err)
	}
	if cc.AssignedTo != nil {
		t.Fatalf("case assignee should be cleared, got %v", cc.AssignedTo)
	}
}

func TestAdvanceClaimsUnassignedTask(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	task := currentTask(t, env, pi.ID)
	if task.Assignee != nil {
		t.Fatalf("fresh task should be unassigned, got %+v", task)
	}

	// no claim step: advancing an unassigned task claims it for the actor
	got, err := env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	if err != nil {
		t.Fatalf("advance without prior claim: %v", err)
	}
	if got.Status != engine.StageReviewer {
		t.Fatalf("status = %s, want %s", got.Status, engine.StageReviewer)
	}
}

func TestAdvanceBlockedWhenHeldByOther(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "analyst-2"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	var nae auth.NotAssigneeError
	if !errors.As(err, &nae) {
		t.Fatalf("expected not-assignee error, got %v", err)
	}
}

func TestRejectClaimsUnassignedTask(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")

	task := currentTask(t, env, pi.ID)
	if task.Assignee != nil {
		t.Fatalf("reviewer task should be unassigned, got %+v", task)
	}
	got, err := env.Engine.RejectTask(env.Ctx, task.ID, "reviewer-1", "KYC_REVIEWER", "missing documents")
	if err != nil {
		t.Fatalf("reject without prior claim: %v", err)
	}
	if got.Status != engine.StageAnalyst {
		t.Fatalf("status = %s, want %s", got.Status, engine.StageAnalyst)
	}
}

func TestTerminateIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)

	if err := env.Engine.Terminate(env.Ctx, "no-such-instance", "cleanup"); err != nil {
		t.Fatalf("terminating unknown instance should be a no-op, got %v", err)
	}
	if err := env.Engine.Terminate(env.Ctx, pi.ID, "cleanup"); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := env.Engine.Repo.GetProcessInstanceByCase(env.Ctx, c.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("instance should be gone, got %v", err)
	}
	if err := env.Engine.Terminate(env.Ctx, pi.ID, "cleanup"); err != nil {
		t.Fatalf("second terminate should be a no-op, got %v", err)
	}
}

func TestDeleteAllProcesses(t *testing.T) {
	env := newTestEnv(t)
	newTestCase(t, env)
	client, err := env.Engine.CreateClient(env.Ctx, engine.ClientCreateOptions{FirstName: "Alan", LastName: "Turing"})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := env.Engine.StartCase(env.Ctx, engine.StartCaseOptions{ClientID: client.ID, Initiator: "analyst-1"}); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.DeleteAllProcesses(env.Ctx, "reset")
	if err != nil {
		t.Fatalf("delete all: %v", err)
	}
	if n != 2 {
		t.Fatalf("terminated = %d, want 2", n)
	}
	left, err := env.Engine.ListProcesses(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Fatalf("expected no instances, got %d", len(left))
	}
}

func TestMigrateRebuildsAndFastForwards(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")

	pi2, err := env.Engine.MigrateLegacyCase(env.Ctx, c.ID, "admin-1")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if pi2.ID == pi.ID {
		t.Fatalf("expected a fresh process instance")
	}
	task := currentTask(t, env, pi2.ID)
	if task.Stage != engine.StageReviewer {
		t.Fatalf("fast-forwarded stage = %s, want %s", task.Stage, engine.StageReviewer)
	}
	cc, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cc.Status != engine.StageReviewer {
		t.Fatalf("stored status changed to %s", cc.Status)
	}
}

func TestMigrateReclaimsRecordedAssignee(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "reviewer-1"); err != nil {
		t.Fatal(err)
	}

	pi2, err := env.Engine.MigrateLegacyCase(env.Ctx, c.ID, "admin-1")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	rebuilt := currentTask(t, env, pi2.ID)
	if rebuilt.Stage != engine.StageReviewer {
		t.Fatalf("stage = %s, want %s", rebuilt.Stage, engine.StageReviewer)
	}
	if rebuilt.Assignee == nil || *rebuilt.Assignee != "reviewer-1" {
		t.Fatalf("assignee = %v, want reviewer-1", rebuilt.Assignee)
	}
}

func TestMigrateApprovedCaseRejected(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")
	claimAndApprove(t, env, pi.ID, "reviewer-1")
	claimAndApprove(t, env, pi.ID, "afc-1")
	claimAndApprove(t, env, pi.ID, "aco-1")

	_, err := env.Engine.MigrateLegacyCase(env.Ctx, c.ID, "admin-1")
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestSaveAnswersBlockedWhenApproved(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)
	claimAndApprove(t, env, pi.ID, "analyst-1")
	claimAndApprove(t, env, pi.ID, "reviewer-1")
	claimAndApprove(t, env, pi.ID, "afc-1")
	claimAndApprove(t, env, pi.ID, "aco-1")

	err := env.Engine.SaveAnswers(env.Ctx, c.ID, []domain.QuestionnaireAnswer{{QuestionID: 2, Text: "FR"}})
	var ise engine.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("expected invalid state error, got %v", err)
	}
}

func TestListUserTasks(t *testing.T) {
	env := newTestEnv(t)
	_, pi := newTestCase(t, env)

	// unclaimed analyst task is visible to the candidate group
	mine, err := env.Engine.ListUserTasks(env.Ctx, "analyst-1", []string{"kyc_analysts"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(mine) != 1 {
		t.Fatalf("expected 1 task, got %d", len(mine))
	}

	// once claimed by someone else it disappears from the group view
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "analyst-2"); err != nil {
		t.Fatal(err)
	}
	mine, err = env.Engine.ListUserTasks(env.Ctx, "analyst-1", []string{"kyc_analysts"})
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 0 {
		t.Fatalf("claimed task should be hidden from others, got %d", len(mine))
	}
	theirs, err := env.Engine.ListUserTasks(env.Ctx, "analyst-2", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(theirs) != 1 {
		t.Fatalf("holder should still see the task, got %d", len(theirs))
	}
}

func TestAssignCaseOverridesClaim(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "alice"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.AssignCase(env.Ctx, c.ID, "bob", "admin-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got.Assignee == nil || *got.Assignee != "bob" {
		t.Fatalf("assignee = %v, want bob", got.Assignee)
	}
	cc, err := env.Engine.Repo.GetCase(env.Ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cc.AssignedTo == nil || *cc.AssignedTo != "bob" {
		t.Fatalf("case assignee = %v, want bob", cc.AssignedTo)
	}
}

func TestAddQuestionExtendsGate(t *testing.T) {
	env := newTestEnv(t)
	c, pi := newTestCase(t, env)
	fillMandatoryAnswers(t, env, c.ID)

	q, err := env.Engine.AddQuestion(env.Ctx, engine.AddQuestionOptions{
		Section:   "Enhanced Due Diligence",
		Text:      "Purpose of the business relationship",
		Mandatory: true,
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	if q.ID == 0 || q.Type != "TEXT" {
		t.Fatalf("question = %+v, want assigned id and TEXT type", q)
	}

	task := currentTask(t, env, pi.ID)
	if _, err := env.Engine.ClaimTask(env.Ctx, task.ID, "analyst-1"); err != nil {
		t.Fatal(err)
	}
	_, err = env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1")
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("advance err = %v, want ValidationError", err)
	}
	if verr.Question != "Purpose of the business relationship" {
		t.Fatalf("blocking question = %q", verr.Question)
	}

	err = env.Engine.SaveAnswers(env.Ctx, c.ID, []domain.QuestionnaireAnswer{{QuestionID: q.ID, Text: "Trade finance"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AdvanceTask(env.Ctx, task.ID, "analyst-1"); err != nil {
		t.Fatalf("advance after answering: %v", err)
	}
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	_, pi := newTestCase(t, env)
	task := currentTask(t, env, pi.ID)

	results := make(chan error, 2)
	for _, user := range []string{"analyst-1", "analyst-2"} {
		go func(u string) {
			var err error
			for attempt := 0; attempt < 5; attempt++ {
				_, err = env.Engine.ClaimTask(env.Ctx, task.ID, u)
				var ce engine.ConflictError
				if err == nil || errors.As(err, &ce) {
					break
				}
				time.Sleep(10 * time.Millisecond)
			}
			results <- err
		}(user)
	}

	wins, conflicts := 0, 0
	for i := 0; i < 2; i++ {
		err := <-results
		var ce engine.ConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &ce):
			conflicts++
		default:
			t.Fatalf("claim: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins = %d, conflicts = %d, want exactly one winner", wins, conflicts)
	}
}
