package screening_test

import (
	"context"
	"testing"
	"time"

	"caseflow/internal/db"
	"caseflow/internal/engine"
	"caseflow/internal/migrate"
	"caseflow/internal/screening"
)

func newService(t *testing.T) (screening.Service, engine.Engine, context.Context) {
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
	svc := screening.New(conn)
	svc.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return svc, engine.New(conn, nil), context.Background()
}

func TestScreenOpensOneResultPerContext(t *testing.T) {
	svc, eng, ctx := newService(t)
	client, err := eng.CreateClient(ctx, engine.ClientCreateOptions{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatal(err)
	}

	l, err := svc.Screen(ctx, client.ID)
	if err != nil {
		t.Fatalf("screen: %v", err)
	}
	if l.Status != "IN_PROGRESS" {
		t.Fatalf("status = %s", l.Status)
	}
	if l.ExternalRequestID == "" {
		t.Fatalf("external request id missing")
	}
	results, err := svc.Repo.ListScreeningResults(ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != len(screening.DefaultContexts) {
		t.Fatalf("results = %d, want %d", len(results), len(screening.DefaultContexts))
	}
	for _, r := range results {
		if r.Status != "IN_PROGRESS" {
			t.Fatalf("result %s status = %s", r.Context, r.Status)
		}
	}
}

func TestResolveClosesLogAfterLastContext(t *testing.T) {
	svc, eng, ctx := newService(t)
	client, err := eng.CreateClient(ctx, engine.ClientCreateOptions{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatal(err)
	}
	c, _, err := eng.StartCase(ctx, engine.StartCaseOptions{ClientID: client.ID, Initiator: "analyst-1"})
	if err != nil {
		t.Fatal(err)
	}
	l, err := svc.Screen(ctx, client.ID)
	if err != nil {
		t.Fatal(err)
	}

	for i, sc := range screening.DefaultContexts {
		hit := sc == "PEP"
		if err := svc.Resolve(ctx, l.ExternalRequestID, sc, hit, ""); err != nil {
			t.Fatalf("resolve %s: %v", sc, err)
		}
		got, err := svc.Repo.GetScreeningLog(ctx, l.ID)
		if err != nil {
			t.Fatal(err)
		}
		if i < len(screening.DefaultContexts)-1 && got.Status != "IN_PROGRESS" {
			t.Fatalf("log closed early at %s", sc)
		}
		if i == len(screening.DefaultContexts)-1 && got.Status != "COMPLETED" {
			t.Fatalf("log status = %s after last context", got.Status)
		}
	}

	events, err := eng.Repo.ListCaseEvents(ctx, c.ID, 50)
	if err != nil {
		t.Fatal(err)
	}
	var filed, risk int
	for _, e := range events {
		switch e.Type {
		case "SCREENING_FILED":
			filed++
		case "RISK_UPDATED":
			risk++
		}
	}
	if filed != 1 {
		t.Fatalf("SCREENING_FILED events = %d, want 1", filed)
	}
	if risk != len(screening.DefaultContexts) {
		t.Fatalf("RISK_UPDATED events = %d, want %d", risk, len(screening.DefaultContexts))
	}
}

func TestResolveUnknownRequest(t *testing.T) {
	svc, _, ctx := newService(t)
	if err := svc.Resolve(ctx, "no-such-request", "PEP", false, ""); err == nil {
		t.Fatalf("expected error for unknown request id")
	}
}

func TestHistory(t *testing.T) {
	svc, eng, ctx := newService(t)
	client, err := eng.CreateClient(ctx, engine.ClientCreateOptions{FirstName: "Ada", LastName: "Lovelace"})
	if err != nil {
		t.Fatal(err)
	}
	first, err := svc.Screen(ctx, client.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Screen(ctx, client.ID)
	if err != nil {
		t.Fatal(err)
	}

	logs, results, err := svc.History(ctx, client.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("logs = %d, want 2", len(logs))
	}
	for _, l := range []int64{first.ID, second.ID} {
		if len(results[l]) != len(screening.DefaultContexts) {
			t.Fatalf("results for log %d = %d", l, len(results[l]))
		}
	}
}
