package engine_test

import (
	"reflect"
	"testing"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
)

func hours(n int) *int { return &n }

func TestEscalationDeadlineAndSweep(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusAssignedToOfficer)
	esc, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{
		ReportID: rep.ID, Level: 1, Reason: "no response", SLAHours: hours(24),
	}, citizen)
	if err != nil {
		t.Fatalf("create escalation: %v", err)
	}
	created, _ := time.Parse(time.RFC3339, esc.CreatedAt)
	deadline, _ := time.Parse(time.RFC3339, esc.SLADeadline)
	if !deadline.Equal(created.Add(24 * time.Hour)) {
		t.Fatalf("deadline %s is not created_at + 24h (%s)", esc.SLADeadline, esc.CreatedAt)
	}
	if esc.IsOverdue || esc.Status != domain.EscalationEscalated {
		t.Fatalf("unexpected new escalation: %+v", esc)
	}

	n, err := env.Engine.MarkOverdue(env.Ctx)
	if err != nil || n != 0 {
		t.Fatalf("sweep before deadline: n=%d err=%v", n, err)
	}

	env.Clock.Advance(25 * time.Hour)
	n, err = env.Engine.MarkOverdue(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("sweep after deadline: n=%d err=%v", n, err)
	}
	first, _ := env.Engine.GetEscalation(env.Ctx, esc.ID)
	if !first.IsOverdue {
		t.Fatalf("expected overdue flag")
	}
	n, err = env.Engine.MarkOverdue(env.Ctx)
	if err != nil || n != 0 {
		t.Fatalf("second sweep: n=%d err=%v", n, err)
	}
	second, _ := env.Engine.GetEscalation(env.Ctx, esc.ID)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("second sweep changed escalation:\n%+v\n%+v", first, second)
	}
	entries, _ := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{Action: "escalation.overdue"})
	if len(entries) != 1 || entries[0].ActorID != domain.SystemActor.ID {
		t.Fatalf("expected one overdue audit entry, got %+v", entries)
	}

	resolved := esc
	for _, s := range []domain.EscalationStatus{
		domain.EscalationAcknowledged, domain.EscalationUnderReview, domain.EscalationActionTaken, domain.EscalationResolved,
	} {
		if resolved, err = env.Engine.UpdateEscalation(env.Ctx, esc.ID, engine.EscalationUpdate{Status: s}, admin); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	if resolved.IsOverdue || resolved.ResolvedAt == nil || resolved.AcknowledgedBy == nil {
		t.Fatalf("unexpected resolved escalation: %+v", resolved)
	}
	overdue, _ := env.Engine.ListEscalations(env.Ctx, repo.EscalationFilters{OverdueOnly: true})
	if len(overdue) != 0 {
		t.Fatalf("resolved escalation still listed overdue")
	}
}

func TestConcurrentSweepsFlagOnce(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusAssignedToDepartment)
	for i := 0; i < 3; i++ {
		if _, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: rep.ID, Level: 1, Reason: "late", SLAHours: hours(1)}, citizen); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	env.Clock.Advance(2 * time.Hour)
	counts := make(chan int, 4)
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		go func() {
			n, err := env.Engine.MarkOverdue(env.Ctx)
			if err != nil {
				n = -100
			}
			counts <- n
			done <- struct{}{}
		}()
	}
	for i := 0; i < 4; i++ {
		<-done
	}
	close(counts)
	total := 0
	for n := range counts {
		total += n
	}
	if total != 3 {
		t.Fatalf("expected 3 flags across sweeps, got %d", total)
	}
}

func TestEscalationSLADefaultsAndValidation(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusAssignedToDepartment)
	esc, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: rep.ID, Level: 2, Reason: "slow"}, citizen)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if esc.SLAHours != env.Engine.Config.SLAHoursFor(2) {
		t.Fatalf("expected configured sla, got %d", esc.SLAHours)
	}
	_, err = env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: rep.ID, Level: 1, Reason: "x", SLAHours: hours(0)}, citizen)
	wantCode(t, err, domain.CodeValidation)
	_, err = env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: rep.ID, Level: 4, Reason: "x"}, citizen)
	wantCode(t, err, domain.CodeValidation)
	_, err = env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: 9999, Level: 1, Reason: "x"}, citizen)
	wantCode(t, err, domain.CodeNotFound)
}

func TestEscalationGraph(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusAssignedToDepartment)
	esc, err := env.Engine.CreateEscalation(env.Ctx, engine.EscalationInput{ReportID: rep.ID, Level: 2, Reason: "slow"}, citizen)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = env.Engine.UpdateEscalation(env.Ctx, esc.ID, engine.EscalationUpdate{Status: domain.EscalationUnderReview}, admin)
	wantCode(t, err, domain.CodeInvalidTransition)

	if _, err := env.Engine.AcknowledgeEscalation(env.Ctx, esc.ID, admin); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	raised, err := env.Engine.RaiseEscalation(env.Ctx, esc.ID, 3, "mayor's office", admin)
	if err != nil || raised.Level != 3 || raised.SLADeadline != esc.SLADeadline {
		t.Fatalf("raise: %+v %v", raised, err)
	}
	_, err = env.Engine.RaiseEscalation(env.Ctx, esc.ID, 2, "", admin)
	wantCode(t, err, domain.CodeValidation)

	_, err = env.Engine.UpdateEscalation(env.Ctx, esc.ID, engine.EscalationUpdate{Status: domain.EscalationDeEscalated, Level: hours(3)}, admin)
	wantCode(t, err, domain.CodeValidation)
	down, err := env.Engine.UpdateEscalation(env.Ctx, esc.ID, engine.EscalationUpdate{Status: domain.EscalationDeEscalated, Level: hours(1)}, admin)
	if err != nil || down.Level != 1 || down.Status != domain.EscalationDeEscalated {
		t.Fatalf("de-escalate: %+v %v", down, err)
	}
	_, err = env.Engine.AcknowledgeEscalation(env.Ctx, esc.ID, admin)
	wantCode(t, err, domain.CodeTerminalState)
	_, err = env.Engine.RaiseEscalation(env.Ctx, esc.ID, 3, "", admin)
	wantCode(t, err, domain.CodeTerminalState)
}
