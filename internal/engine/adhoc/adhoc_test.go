package adhoc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/engine/adhoc"
	"caseflow/internal/engine/auth"
	"caseflow/internal/migrate"
)

func newService(t *testing.T) (adhoc.Service, context.Context) {
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
	svc := adhoc.New(conn)
	svc.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, context.Background()
}

func TestRequestResponseRoundTrip(t *testing.T) {
	svc, ctx := newService(t)
	task, err := svc.Create(ctx, adhoc.CreateOptions{
		Owner:       "analyst-1",
		Assignee:    "reviewer-1",
		RequestText: "Need the certified passport copy",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != adhoc.StatusOpen {
		t.Fatalf("status = %s, want %s", task.Status, adhoc.StatusOpen)
	}

	task, err = svc.Respond(ctx, task.ID, "reviewer-1", "Uploaded to the case file")
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if task.Status != adhoc.StatusResponded {
		t.Fatalf("status = %s, want %s", task.Status, adhoc.StatusResponded)
	}
	// responding hands the task back to the owner
	if task.Assignee != "analyst-1" {
		t.Fatalf("assignee = %s, want analyst-1", task.Assignee)
	}
	if task.Responder == nil || *task.Responder != "reviewer-1" {
		t.Fatalf("responder = %v, want reviewer-1", task.Responder)
	}
	got, err := svc.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	// the response is also recorded as an attributed comment
	if len(got.Comments) != 1 || got.Comments[0].Author != "reviewer-1" {
		t.Fatalf("comments = %+v, want one by reviewer-1", got.Comments)
	}

	task, err = svc.Complete(ctx, task.ID, "analyst-1")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if task.Status != adhoc.StatusCompleted {
		t.Fatalf("status = %s, want %s", task.Status, adhoc.StatusCompleted)
	}
	_, err = svc.Respond(ctx, task.ID, "analyst-1", "too late")
	var ise adhoc.InvalidStateError
	if !errors.As(err, &ise) {
		t.Fatalf("respond after complete = %v, want InvalidStateError", err)
	}
	_, err = svc.Complete(ctx, task.ID, "analyst-1")
	if !errors.As(err, &ise) {
		t.Fatalf("double complete = %v, want InvalidStateError", err)
	}
}

func TestRespondRequiresAssignee(t *testing.T) {
	svc, ctx := newService(t)
	task, err := svc.Create(ctx, adhoc.CreateOptions{Owner: "a", Assignee: "b", RequestText: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.Respond(ctx, task.ID, "c", "pong")
	var nae auth.NotAssigneeError
	if !errors.As(err, &nae) {
		t.Fatalf("expected not-assignee error, got %v", err)
	}
}

func TestReassignReopens(t *testing.T) {
	svc, ctx := newService(t)
	task, err := svc.Create(ctx, adhoc.CreateOptions{Owner: "a", Assignee: "b", RequestText: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Respond(ctx, task.ID, "b", "partial answer"); err != nil {
		t.Fatal(err)
	}

	// only the owner may reassign
	if _, err := svc.Reassign(ctx, task.ID, "b", "c"); err == nil {
		t.Fatalf("non-owner reassign should fail")
	}
	task, err = svc.Reassign(ctx, task.ID, "a", "c")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if task.Status != adhoc.StatusOpen || task.Assignee != "c" {
		t.Fatalf("task = %+v, want OPEN assigned to c", task)
	}
}

func TestCommentsVisibleToParticipantsOnly(t *testing.T) {
	svc, ctx := newService(t)
	task, err := svc.Create(ctx, adhoc.CreateOptions{Owner: "a", Assignee: "b", RequestText: "ping"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Comment(ctx, task.ID, "a", "any update?"); err != nil {
		t.Fatalf("owner comment: %v", err)
	}
	if _, err := svc.Comment(ctx, task.ID, "b", "working on it"); err != nil {
		t.Fatalf("assignee comment: %v", err)
	}
	if _, err := svc.Comment(ctx, task.ID, "z", "who dis"); err == nil {
		t.Fatalf("outsider comment should fail")
	}
	got, err := svc.Get(ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Comments) != 2 {
		t.Fatalf("comments = %d, want 2", len(got.Comments))
	}
}

func TestListMineExcludesCompleted(t *testing.T) {
	svc, ctx := newService(t)
	open, err := svc.Create(ctx, adhoc.CreateOptions{Owner: "a", Assignee: "b", RequestText: "one"})
	if err != nil {
		t.Fatal(err)
	}
	done, err := svc.Create(ctx, adhoc.CreateOptions{Owner: "a", Assignee: "b", RequestText: "two"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Complete(ctx, done.ID, "a"); err != nil {
		t.Fatal(err)
	}

	mine, err := svc.ListMine(ctx, "b")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 1 || mine[0].ID != open.ID {
		t.Fatalf("expected only the open task, got %+v", mine)
	}
}
