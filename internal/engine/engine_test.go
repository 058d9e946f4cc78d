package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"complyline/internal/config"
	"complyline/internal/db"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/migrate"
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
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("proj-1")
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	if _, err := eng.InitProject(ctx, "proj-1", "org-1", "test", "tester"); err != nil {
		t.Fatalf("init project: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx}
}

func mustMechanism(t *testing.T, env testEnv, name string) domain.Mechanism {
	t.Helper()
	m, err := env.Engine.CreateMechanism(env.Ctx, engine.MechanismCreateOptions{
		ProjectID: "proj-1",
		Name:      name,
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("create mechanism: %v", err)
	}
	return m
}

func TestCreateObligationGeneratesIdentifiers(t *testing.T) {
	env := newTestEnv(t)
	first, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Quarterly safety inspection", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != "PCEMP-001" {
		t.Fatalf("expected PCEMP-001, got %s", first.ID)
	}
	second, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Noise monitoring", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if second.ID != "PCEMP-002" {
		t.Fatalf("expected PCEMP-002, got %s", second.ID)
	}
	// caller-supplied identifiers must match the pattern
	_, err = env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ID: "bogus", ProjectID: "proj-1", Title: "Bad id", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "id" {
		t.Fatalf("expected id validation error, got %v", err)
	}
}

func TestCompletedRequiresCloseOut(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Closed out", Status: "completed", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "close_out_date" {
		t.Fatalf("expected close_out_date error, got %v", err)
	}
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Closed out", Status: "completed", CloseOutDate: "2026-02-28", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create with close out: %v", err)
	}
	if o.Status != "completed" {
		t.Fatalf("expected completed, got %s", o.Status)
	}

	open, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Still open", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	status := "completed"
	_, err = env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{ID: open.ID, Status: &status, ActorID: "tester"})
	if !errors.As(err, &verr) || verr.Field != "close_out_date" {
		t.Fatalf("expected close_out_date error on update, got %v", err)
	}
	closeOut := "2026-03-01"
	updated, err := env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{
		ID: open.ID, Status: &status, CloseOutDate: &closeOut, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("complete with close out: %v", err)
	}
	if updated.Status != "completed" {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
}

func TestCloseOutBeforeDueRejected(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID:    "proj-1",
		Title:        "Backdated close out",
		Status:       "completed",
		DueDate:      "2026-06-01",
		CloseOutDate: "2026-01-01",
		ActorID:      "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "close_out_date" {
		t.Fatalf("expected close_out_date ordering error, got %v", err)
	}
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Open with due", DueDate: "2026-06-01", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	early := "2026-01-01"
	_, err = env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{
		ID: o.ID, CloseOutDate: &early, ActorID: "tester",
	})
	if !errors.As(err, &verr) || verr.Field != "close_out_date" {
		t.Fatalf("expected close_out_date ordering error on update, got %v", err)
	}
	// close out on the due date itself is allowed
	onDue := "2026-06-01"
	status := "completed"
	updated, err := env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{
		ID: o.ID, Status: &status, CloseOutDate: &onDue, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("close out on due date: %v", err)
	}
	if updated.Status != "completed" {
		t.Fatalf("expected completed, got %s", updated.Status)
	}
}

func TestIdentifiersUniqueAcrossProjects(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.InitProject(env.Ctx, "proj-2", "org-1", "second", "tester"); err != nil {
		t.Fatalf("init second project: %v", err)
	}
	first, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "first project duty", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != "PCEMP-001" {
		t.Fatalf("expected PCEMP-001, got %s", first.ID)
	}
	// identifiers are a global primary key, so generation in another
	// project sharing the prefix must skip suffixes already taken
	second, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-2", Title: "second project duty", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create in second project: %v", err)
	}
	if second.ID != "PCEMP-002" {
		t.Fatalf("expected PCEMP-002, got %s", second.ID)
	}
}

func TestRecurringForecastAndNormalization(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID:          "proj-1",
		Title:              "Groundwater sampling",
		DueDate:            "2026-03-10",
		Recurring:          true,
		RecurringFrequency: "every 3 months",
		ActorID:            "tester",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.RecurringFrequency == nil || *o.RecurringFrequency != "quarterly" {
		t.Fatalf("expected quarterly, got %v", o.RecurringFrequency)
	}
	if o.RecurringForecastedDate == nil || *o.RecurringForecastedDate != "2026-06-10" {
		t.Fatalf("expected forecast 2026-06-10, got %v", o.RecurringForecastedDate)
	}
	// frequency without recurring is rejected
	_, err = env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "Not recurring", RecurringFrequency: "monthly", ActorID: "tester",
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) || verr.Field != "recurring_frequency" {
		t.Fatalf("expected recurring_frequency error, got %v", err)
	}
	// a recurring obligation never rests in completed, so it cannot be
	// created there either
	_, err = env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID:          "proj-1",
		Title:              "Born completed",
		Status:             "completed",
		CloseOutDate:       "2026-03-01",
		Recurring:          true,
		RecurringFrequency: "monthly",
		ActorID:            "tester",
	})
	if !errors.As(err, &verr) || verr.Field != "status" {
		t.Fatalf("expected status error for recurring completed create, got %v", err)
	}
}

func TestCompletingRecurringRollsOver(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID:          "proj-1",
		Title:              "Monthly emissions report",
		DueDate:            "2026-03-10",
		Recurring:          true,
		RecurringFrequency: "monthly",
		ActorID:            "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	status := "completed"
	rolled, err := env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{ID: o.ID, Status: &status, ActorID: "tester"})
	if err != nil {
		t.Fatalf("complete recurring: %v", err)
	}
	if rolled.Status != "not_started" {
		t.Fatalf("expected rollover to not_started, got %s", rolled.Status)
	}
	if rolled.DueDate == nil || *rolled.DueDate != "2026-04-10" {
		t.Fatalf("expected due 2026-04-10, got %v", rolled.DueDate)
	}
	if rolled.CloseOutDate != nil {
		t.Fatalf("expected close out cleared, got %v", rolled.CloseOutDate)
	}
	if rolled.RecurringForecastedDate == nil || *rolled.RecurringForecastedDate != "2026-05-10" {
		t.Fatalf("expected forecast 2026-05-10, got %v", rolled.RecurringForecastedDate)
	}
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT count(*) FROM events WHERE type='obligation.rolled_over' AND entity_id=?`, o.ID)
	var count int
	if err := row.Scan(&count); err != nil || count != 1 {
		t.Fatalf("expected one rollover event, got %d (%v)", count, err)
	}
}

func TestMechanismCountersFollowMembers(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "Water licence")
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "a", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	overdue, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "b", Status: "in_progress", DueDate: "2026-02-01", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetMechanism(env.Ctx, m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.NotStarted != 1 || got.InProgress != 1 || got.Completed != 0 || got.Overdue != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	// moving an obligation out recounts both mechanisms
	other := mustMechanism(t, env, "Air licence")
	if _, err := env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{
		ID: overdue.ID, MechanismID: &other.ID, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	got, _ = env.Engine.Repo.GetMechanism(env.Ctx, m.ID)
	if got.InProgress != 0 || got.Overdue != 0 {
		t.Fatalf("expected source recounted, got %+v", got)
	}
	moved, _ := env.Engine.Repo.GetMechanism(env.Ctx, other.ID)
	if moved.InProgress != 1 || moved.Overdue != 1 {
		t.Fatalf("expected target recounted, got %+v", moved)
	}
	// deletion recounts too
	if err := env.Engine.DeleteObligation(env.Ctx, overdue.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	moved, _ = env.Engine.Repo.GetMechanism(env.Ctx, other.ID)
	if moved.InProgress != 0 || moved.Overdue != 0 {
		t.Fatalf("expected recount after delete, got %+v", moved)
	}
}

func TestDeleteMechanismWithMembersBlocked(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "Permit")
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "member", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteMechanism(env.Ctx, m.ID, "tester"); err == nil {
		t.Fatalf("expected delete blocked while members exist")
	}
	if err := env.Engine.DeleteObligation(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteMechanism(env.Ctx, m.ID, "tester"); err != nil {
		t.Fatalf("expected delete after members removed: %v", err)
	}
}

func TestResyncMechanisms(t *testing.T) {
	env := newTestEnv(t)
	m1 := mustMechanism(t, env, "one")
	mustMechanism(t, env, "two")
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m1.ID, Title: "a", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	// corrupt a counter directly, resync must repair it
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE mechanisms SET not_started_count=99 WHERE id=?`, m1.ID); err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.ResyncMechanisms(env.Ctx, "proj-1", "tester")
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 mechanisms recounted, got %d", n)
	}
	got, _ := env.Engine.Repo.GetMechanism(env.Ctx, m1.ID)
	if got.NotStarted != 1 {
		t.Fatalf("expected counter repaired, got %d", got.NotStarted)
	}
}

func TestAuditEntryGeneration(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "EPL 1234")
	for _, title := range []string{"a", "b", "c"} {
		if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
			ProjectID: "proj-1", MechanismID: m.ID, Title: title, ActorID: "tester",
		}); err != nil {
			t.Fatal(err)
		}
	}
	a, err := env.Engine.CreateAudit(env.Ctx, engine.AuditCreateOptions{
		ProjectID: "proj-1", Title: "Annual review", MechanismIDs: []string{m.ID}, ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("create audit: %v", err)
	}
	entries, err := env.Engine.Repo.ListAuditEntries(env.Ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for _, entry := range entries {
		if entry.Status != "pending" {
			t.Fatalf("expected pending entry, got %s", entry.Status)
		}
	}
	// rebuild is idempotent
	count, err := env.Engine.RebuildAuditEntries(env.Ctx, a.ID, "tester")
	if err != nil || count != 3 {
		t.Fatalf("rebuild: count=%d err=%v", count, err)
	}
	count, err = env.Engine.RebuildAuditEntries(env.Ctx, a.ID, "tester")
	if err != nil || count != 3 {
		t.Fatalf("second rebuild: count=%d err=%v", count, err)
	}
}

func TestFindingAndCascade(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "Licence")
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "dust suppression", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	a, err := env.Engine.CreateAudit(env.Ctx, engine.AuditCreateOptions{
		ProjectID: "proj-1", Title: "Site audit", MechanismIDs: []string{m.ID}, ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	entries, _ := env.Engine.Repo.ListAuditEntries(env.Ctx, a.ID)
	entryID := entries[0].ID

	// mitigations only attach to noncompliant findings
	if _, err := env.Engine.AddMitigation(env.Ctx, entryID, "water the roads", "tester"); err == nil {
		t.Fatalf("expected mitigation rejected on pending entry")
	}
	entry, err := env.Engine.SetEntryFinding(env.Ctx, entryID, "noncompliant", "dust over boundary", "tester")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Status != "noncompliant" {
		t.Fatalf("expected noncompliant, got %s", entry.Status)
	}
	mit, err := env.Engine.AddMitigation(env.Ctx, entryID, "water the roads", "tester")
	if err != nil {
		t.Fatalf("add mitigation: %v", err)
	}
	if mit.Status != "open" {
		t.Fatalf("expected open mitigation, got %s", mit.Status)
	}

	ca, err := env.Engine.AddCorrectiveAction(env.Ctx, engine.CorrectiveActionOptions{
		MitigationID: mit.ID, Description: "buy water cart", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add action: %v", err)
	}
	mit, _ = env.Engine.Repo.GetMitigation(env.Ctx, mit.ID)
	if mit.Status != "action_required" {
		t.Fatalf("expected action_required, got %s", mit.Status)
	}
	entry, _ = env.Engine.Repo.GetAuditEntry(env.Ctx, entryID)
	if entry.Status != "noncompliant" {
		t.Fatalf("expected entry noncompliant while action open, got %s", entry.Status)
	}

	// closing the action cascades up both levels
	closed := "closed"
	if _, err := env.Engine.UpdateCorrectiveAction(env.Ctx, engine.CorrectiveActionUpdateOptions{
		ID: ca.ID, Status: &closed, ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	mit, _ = env.Engine.Repo.GetMitigation(env.Ctx, mit.ID)
	if mit.Status != "closed" {
		t.Fatalf("expected mitigation closed, got %s", mit.Status)
	}
	entry, _ = env.Engine.Repo.GetAuditEntry(env.Ctx, entryID)
	if entry.Status != "compliant" {
		t.Fatalf("expected entry compliant after close, got %s", entry.Status)
	}
}

func TestManualMitigationStatusBlockedWithActions(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "Licence")
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "x", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	a, _ := env.Engine.CreateAudit(env.Ctx, engine.AuditCreateOptions{
		ProjectID: "proj-1", Title: "audit", MechanismIDs: []string{m.ID}, ActorID: "tester",
	})
	entries, _ := env.Engine.Repo.ListAuditEntries(env.Ctx, a.ID)
	if _, err := env.Engine.SetEntryFinding(env.Ctx, entries[0].ID, "noncompliant", "", "tester"); err != nil {
		t.Fatal(err)
	}
	mit, _ := env.Engine.AddMitigation(env.Ctx, entries[0].ID, "fix it", "tester")

	// manual close allowed while no actions exist
	closed := "closed"
	mit, err := env.Engine.UpdateMitigation(env.Ctx, engine.MitigationUpdateOptions{ID: mit.ID, Status: &closed, ActorID: "tester"})
	if err != nil {
		t.Fatalf("manual close: %v", err)
	}
	entry, _ := env.Engine.Repo.GetAuditEntry(env.Ctx, entries[0].ID)
	if entry.Status != "compliant" {
		t.Fatalf("expected compliant after manual close, got %s", entry.Status)
	}
	if _, err := env.Engine.AddCorrectiveAction(env.Ctx, engine.CorrectiveActionOptions{
		MitigationID: mit.ID, Description: "verify", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	open := "open"
	_, err = env.Engine.UpdateMitigation(env.Ctx, engine.MitigationUpdateOptions{ID: mit.ID, Status: &open, ActorID: "tester"})
	if err == nil {
		t.Fatalf("expected manual status rejected once actions exist")
	}
}

func TestProjectStatusReport(t *testing.T) {
	env := newTestEnv(t)
	m := mustMechanism(t, env, "Licence")
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", MechanismID: m.ID, Title: "late", DueDate: "2026-02-01", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "soon", DueDate: "2026-03-10", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "done", Status: "completed", CloseOutDate: "2026-01-15", ActorID: "tester",
	}); err != nil {
		t.Fatal(err)
	}
	report, err := env.Engine.ProjectStatus(env.Ctx, "proj-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Obligations.Total != 3 {
		t.Fatalf("expected 3 obligations, got %d", report.Obligations.Total)
	}
	if report.Obligations.Overdue != 1 {
		t.Fatalf("expected 1 overdue, got %d", report.Obligations.Overdue)
	}
	if report.Obligations.Upcoming != 1 {
		t.Fatalf("expected 1 upcoming, got %d", report.Obligations.Upcoming)
	}
	if report.Obligations.Completed != 1 {
		t.Fatalf("expected 1 completed, got %d", report.Obligations.Completed)
	}
	if report.Mechanisms != 1 {
		t.Fatalf("expected 1 mechanism, got %d", report.Mechanisms)
	}
	if report.LatestEventID == 0 {
		t.Fatalf("expected events recorded")
	}
}

func TestEventAppendOnStateChanges(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "evented", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	status := "in_progress"
	if _, err := env.Engine.UpdateObligation(env.Ctx, engine.ObligationUpdateOptions{ID: o.ID, Status: &status, ActorID: "tester"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteObligation(env.Ctx, o.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events WHERE entity_id=?`, o.ID)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	count := 0
	for rows.Next() {
		count++
	}
	if count < 3 {
		t.Fatalf("expected create, update and delete events, got %d", count)
	}
}

func TestEvidenceAndAssignments(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.CreateObligation(env.Ctx, engine.ObligationCreateOptions{
		ProjectID: "proj-1", Title: "with evidence", ActorID: "tester",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev, err := env.Engine.AddEvidence(env.Ctx, engine.EvidenceAddOptions{
		ObligationID: o.ID, Kind: "report", Title: "Lab results", URL: "https://example.com/lab.pdf", ActorID: "tester",
	})
	if err != nil {
		t.Fatalf("add evidence: %v", err)
	}
	list, err := env.Engine.Repo.ListEvidence(env.Ctx, o.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("expected 1 evidence row, got %d (%v)", len(list), err)
	}
	if err := env.Engine.DeleteEvidence(env.Ctx, ev.ID, "tester"); err != nil {
		t.Fatalf("delete evidence: %v", err)
	}

	if _, err := env.Engine.AssignObligation(env.Ctx, o.ID, "alex", "responsible", "tester"); err != nil {
		t.Fatalf("assign: %v", err)
	}
	assignments, err := env.Engine.Repo.ListAssignments(env.Ctx, o.ID)
	if err != nil || len(assignments) != 1 {
		t.Fatalf("expected 1 assignment, got %d (%v)", len(assignments), err)
	}
	if err := env.Engine.UnassignObligation(env.Ctx, o.ID, "alex", "tester"); err != nil {
		t.Fatalf("unassign: %v", err)
	}
}
