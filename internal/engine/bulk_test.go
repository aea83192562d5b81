package engine_test

import (
	"testing"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
)

func TestScenarioBulkHoldSkipsResolved(t *testing.T) {
	env := newTestEnv(t)
	a := env.reportAt(t, domain.StatusAssignedToDepartment)
	b := env.reportAt(t, domain.StatusAssignedToDepartment)
	done := env.reportAt(t, domain.StatusResolved)
	req := engine.BulkRequest{ReportIDs: []int64{a.ID, done.ID, b.ID}, Operation: engine.BulkUpdateStatus, Params: engine.BulkParams{Status: domain.StatusOnHold}}

	res, err := env.Engine.Bulk(env.Ctx, req, admin)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(res.Succeeded) != 2 || res.Succeeded[0] != a.ID || res.Succeeded[1] != b.ID {
		t.Fatalf("unexpected succeeded: %v", res.Succeeded)
	}
	if len(res.Failed) != 1 || res.Failed[0].ReportID != done.ID || res.Failed[0].Code != domain.CodeTerminalState {
		t.Fatalf("unexpected failed: %+v", res.Failed)
	}
	if res.BatchID == "" {
		t.Fatalf("expected batch id")
	}

	again, err := env.Engine.Bulk(env.Ctx, req, admin)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	if len(again.Succeeded) != 0 || len(again.Failed) != 3 {
		t.Fatalf("rerun must not apply twice: %+v", again)
	}
	for _, f := range again.Failed {
		want := domain.CodeInvalidTransition
		if f.ReportID == done.ID {
			want = domain.CodeTerminalState
		}
		if f.Code != want {
			t.Fatalf("report %d: expected %s, got %s", f.ReportID, want, f.Code)
		}
	}
	if n := historyLen(t, env, a.ID); n != 2 {
		t.Fatalf("expected 2 history entries, got %d", n)
	}
	batches, _ := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{Action: "bulk.applied"})
	if len(batches) != 2 {
		t.Fatalf("expected 2 bulk audit entries, got %d", len(batches))
	}
}

func TestBulkSplitsValidAndInvalid(t *testing.T) {
	env := newTestEnv(t)
	var ids []int64
	valid := map[int64]bool{}
	for i := 0; i < 6; i++ {
		rep := env.reportAt(t, domain.StatusAssignedToDepartment)
		ids = append(ids, rep.ID)
		valid[rep.ID] = true
	}
	noDept := env.submit(t)
	ids = append(ids, noDept.ID, 9999)

	res, err := env.Engine.Bulk(env.Ctx, engine.BulkRequest{
		ReportIDs: ids,
		Operation: engine.BulkAssignOfficer,
		Params:    engine.BulkParams{OfficerID: env.Officer.ID, Priority: 2},
	}, admin)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	if len(res.Succeeded) != 6 || len(res.Failed) != 2 {
		t.Fatalf("expected 6/2, got %d/%d", len(res.Succeeded), len(res.Failed))
	}
	for i, id := range res.Succeeded {
		if id != ids[i] {
			t.Fatalf("succeeded out of input order: %v", res.Succeeded)
		}
	}
	codes := map[int64]domain.ErrorCode{}
	for _, f := range res.Failed {
		codes[f.ReportID] = f.Code
		if f.Message == "" {
			t.Fatalf("failure without message: %+v", f)
		}
	}
	if codes[noDept.ID] != domain.CodeMissingPrerequisite || codes[9999] != domain.CodeNotFound {
		t.Fatalf("unexpected failure codes: %v", codes)
	}
	for id := range valid {
		assertValidWalk(t, env, id)
	}
}

func TestBulkRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	rep := env.submit(t)
	cases := map[string]engine.BulkRequest{
		"empty":          {Operation: engine.BulkAcknowledge},
		"unknown op":     {ReportIDs: []int64{rep.ID}, Operation: "delete"},
		"missing dept":   {ReportIDs: []int64{rep.ID}, Operation: engine.BulkAssignDepartment},
		"bad status":     {ReportIDs: []int64{rep.ID}, Operation: engine.BulkUpdateStatus, Params: engine.BulkParams{Status: "DONE"}},
		"empty classify": {ReportIDs: []int64{rep.ID}, Operation: engine.BulkClassify},
	}
	for name, req := range cases {
		_, err := env.Engine.Bulk(env.Ctx, req, admin)
		if domain.CodeOf(err) != domain.CodeValidation {
			t.Fatalf("%s: expected validation error, got %v", name, err)
		}
	}
	env.Engine.Config.Bulk.MaxItems = 2
	_, err := env.Engine.Bulk(env.Ctx, engine.BulkRequest{ReportIDs: []int64{1, 2, 3}, Operation: engine.BulkAcknowledge}, admin)
	wantCode(t, err, domain.CodeValidation)
}

func TestBulkClassifyAndRoute(t *testing.T) {
	env := newTestEnv(t)
	ids := []int64{env.submit(t).ID, env.submit(t).ID}
	res, err := env.Engine.Bulk(env.Ctx, engine.BulkRequest{ReportIDs: ids, Operation: engine.BulkClassify, Params: engine.BulkParams{Category: "parks"}}, admin)
	if err != nil || len(res.Succeeded) != 2 {
		t.Fatalf("classify: %+v %v", res, err)
	}
	res, err = env.Engine.Bulk(env.Ctx, engine.BulkRequest{ReportIDs: ids, Operation: engine.BulkAssignDepartment, Params: engine.BulkParams{DepartmentID: env.Dept.ID}}, admin)
	if err != nil || len(res.Succeeded) != 2 {
		t.Fatalf("route: %+v %v", res, err)
	}
	for _, id := range ids {
		rep, _ := env.Engine.GetReport(env.Ctx, id)
		if rep.Status != domain.StatusAssignedToDepartment || *rep.Category != "parks" {
			t.Fatalf("unexpected report %d: %s", id, rep.Status)
		}
	}
}
