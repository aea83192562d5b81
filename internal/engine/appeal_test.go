package engine_test

import (
	"testing"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
)

func (env testEnv) appeal(t *testing.T, reportID int64, typ domain.AppealType) domain.Appeal {
	t.Helper()
	a, err := env.Engine.SubmitAppeal(env.Ctx, engine.AppealInput{ReportID: reportID, AppealType: typ, Reason: "not fixed"}, citizen)
	if err != nil {
		t.Fatalf("submit appeal: %v", err)
	}
	return a
}

func TestScenarioReworkReopensPendingVerification(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusPendingVerification)
	before := historyLen(t, env, rep.ID)
	a := env.appeal(t, rep.ID, domain.AppealResolution)

	got, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{
		Decision:       domain.DecisionApproved,
		ReviewNotes:    "crew left debris",
		RequiresRework: true,
	}, admin)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != domain.AppealApproved || got.ReviewedAt == nil {
		t.Fatalf("unexpected appeal: %+v", got)
	}
	cur, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if cur.Status != domain.StatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", cur.Status)
	}
	h, _ := env.Engine.History(env.Ctx, rep.ID)
	if len(h) != before+1 {
		t.Fatalf("expected one new history entry, got %d", len(h)-before)
	}
	last := h[len(h)-1]
	if last.OldStatus != domain.StatusPendingVerification || last.NewStatus != domain.StatusInProgress || last.ActorID != admin.ID {
		t.Fatalf("unexpected reopen entry: %+v", last)
	}
	reopened, err := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{ReportID: rep.ID, Action: "report.reopened"})
	if err != nil || len(reopened) != 1 {
		t.Fatalf("expected one reopen audit entry, got %d (%v)", len(reopened), err)
	}
	assertValidWalk(t, env, rep.ID)
}

func TestReworkReopensResolvedAndClearsResolution(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusResolved)
	a := env.appeal(t, rep.ID, domain.AppealResolution)
	if _, err := env.Engine.StartAppealReview(env.Ctx, a.ID, admin); err != nil {
		t.Fatalf("start review: %v", err)
	}
	if _, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{
		Decision: domain.DecisionApproved, ReviewNotes: "redo", RequiresRework: true,
	}, admin); err != nil {
		t.Fatalf("review: %v", err)
	}
	cur, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if cur.Status != domain.StatusInProgress || cur.Task.ResolvedAt != nil {
		t.Fatalf("unexpected report after reopen: %s %+v", cur.Status, cur.Task)
	}
	for _, step := range []domain.Status{domain.StatusPendingVerification, domain.StatusResolved} {
		if cur, _ = env.Engine.UpdateStatus(env.Ctx, rep.ID, step, officer, ""); cur.Status != step {
			t.Fatalf("expected %s", step)
		}
	}
	if cur.Task.ResolvedAt == nil {
		t.Fatalf("expected resolution stamp after second resolve")
	}
	assertValidWalk(t, env, rep.ID)
}

func TestReworkCannotReopenClosedReport(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusClosed)
	a := env.appeal(t, rep.ID, domain.AppealResolution)
	_, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{
		Decision: domain.DecisionApproved, ReviewNotes: "redo", RequiresRework: true,
	}, admin)
	wantCode(t, err, domain.CodeTerminalState)
	got, _ := env.Engine.GetAppeal(env.Ctx, a.ID)
	if got.Status != domain.AppealSubmitted {
		t.Fatalf("failed review must leave appeal untouched, got %s", got.Status)
	}
}

func TestRejectedAppealLeavesReport(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusResolved)
	a := env.appeal(t, rep.ID, domain.AppealResolution)
	got, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{Decision: domain.DecisionRejected, ReviewNotes: "work verified"}, admin)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if got.Status != domain.AppealRejected {
		t.Fatalf("expected rejected, got %s", got.Status)
	}
	cur, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if cur.Status != domain.StatusResolved || cur.Version != rep.Version {
		t.Fatalf("report must not change on rejection")
	}
	_, err = env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{Decision: domain.DecisionApproved, ReviewNotes: "again"}, admin)
	wantCode(t, err, domain.CodeTerminalState)
}

func TestApprovedReassignmentRoutesReport(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusInProgress)
	a := env.appeal(t, rep.ID, domain.AppealIncorrectAssignment)
	dept, officerID := env.Other.ID, env.Outsider.ID
	_, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{
		Decision:     domain.DecisionApproved,
		ReviewNotes:  "belongs to water",
		Reassignment: &engine.Reassignment{DepartmentID: &dept, OfficerID: &officerID, Priority: 2},
	}, admin)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	cur, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if cur.Status != domain.StatusAssignedToOfficer || *cur.DepartmentID != dept {
		t.Fatalf("unexpected report: %s dept=%v", cur.Status, cur.DepartmentID)
	}
	if cur.Task.AssignedTo != officerID || cur.Task.Priority != 2 || cur.Task.StartedAt != nil {
		t.Fatalf("task not rebound: %+v", cur.Task)
	}
	assertValidWalk(t, env, rep.ID)
}

func TestApprovedDepartmentOnlyReassignmentUnbindsTask(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusInProgress)
	a := env.appeal(t, rep.ID, domain.AppealIncorrectAssignment)
	dept := env.Other.ID
	_, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, engine.ReviewInput{
		Decision:     domain.DecisionApproved,
		ReviewNotes:  "belongs to water",
		Reassignment: &engine.Reassignment{DepartmentID: &dept},
	}, admin)
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	cur, _ := env.Engine.GetReport(env.Ctx, rep.ID)
	if cur.Status != domain.StatusAssignedToDepartment || *cur.DepartmentID != dept || cur.Task != nil {
		t.Fatalf("expected unbound report in water, got %s dept=%v task=%+v", cur.Status, cur.DepartmentID, cur.Task)
	}
	_, err = env.Engine.AssignOfficer(env.Ctx, rep.ID, env.Officer.ID, 3, admin, "")
	wantCode(t, err, domain.CodeValidation)
	assertValidWalk(t, env, rep.ID)
}

func TestReviewValidation(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusResolved)
	a := env.appeal(t, rep.ID, domain.AppealResolution)
	dept := env.Other.ID
	cases := map[string]engine.ReviewInput{
		"missing notes":        {Decision: domain.DecisionApproved},
		"bad decision":         {Decision: "maybe", ReviewNotes: "x"},
		"rejected with rework": {Decision: domain.DecisionRejected, ReviewNotes: "x", RequiresRework: true},
		"rework and reassign": {Decision: domain.DecisionApproved, ReviewNotes: "x", RequiresRework: true,
			Reassignment: &engine.Reassignment{DepartmentID: &dept}},
	}
	for name, in := range cases {
		_, err := env.Engine.ReviewAppeal(env.Ctx, a.ID, in, admin)
		if domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	_, err := env.Engine.ReviewAppeal(env.Ctx, 9999, engine.ReviewInput{Decision: domain.DecisionApproved, ReviewNotes: "x"}, admin)
	wantCode(t, err, domain.CodeNotFound)
}

func TestDuplicateOpenAppealRejected(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusResolved)
	env.appeal(t, rep.ID, domain.AppealResolution)
	_, err := env.Engine.SubmitAppeal(env.Ctx, engine.AppealInput{ReportID: rep.ID, AppealType: domain.AppealResolution, Reason: "again"}, citizen)
	wantCode(t, err, domain.CodeValidation)
	env.appeal(t, rep.ID, domain.AppealClassification)
	_, err = env.Engine.SubmitAppeal(env.Ctx, engine.AppealInput{ReportID: 9999, AppealType: domain.AppealResolution, Reason: "x"}, citizen)
	wantCode(t, err, domain.CodeNotFound)
}

func TestWithdrawAppealRules(t *testing.T) {
	env := newTestEnv(t)
	rep := env.reportAt(t, domain.StatusResolved)
	a := env.appeal(t, rep.ID, domain.AppealResolution)

	_, err := env.Engine.WithdrawAppeal(env.Ctx, a.ID, officer)
	wantCode(t, err, domain.CodeValidation)

	if _, err := env.Engine.StartAppealReview(env.Ctx, a.ID, admin); err != nil {
		t.Fatalf("start review: %v", err)
	}
	_, err = env.Engine.WithdrawAppeal(env.Ctx, a.ID, citizen)
	wantCode(t, err, domain.CodeInvalidTransition)

	b := env.appeal(t, rep.ID, domain.AppealClassification)
	got, err := env.Engine.WithdrawAppeal(env.Ctx, b.ID, citizen)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got.Status != domain.AppealWithdrawn {
		t.Fatalf("expected withdrawn, got %s", got.Status)
	}
	_, err = env.Engine.WithdrawAppeal(env.Ctx, b.ID, citizen)
	wantCode(t, err, domain.CodeTerminalState)

	list, err := env.Engine.ListAppeals(env.Ctx, repo.AppealFilters{ReportID: rep.ID})
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 appeals, got %d (%v)", len(list), err)
	}
}
