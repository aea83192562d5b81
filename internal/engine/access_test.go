package engine_test

import (
	"strings"
	"testing"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
	"civicflow/internal/repo"
)

func TestInactiveOfficerCannotBeAssigned(t *testing.T) {
	env := newTestEnv(t)
	o, err := env.Engine.SetOfficerActive(env.Ctx, env.Officer.ID, false, admin)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if o.Active {
		t.Fatalf("expected inactive officer")
	}
	rep := env.reportAt(t, domain.StatusAssignedToDepartment)
	_, err = env.Engine.AssignOfficer(env.Ctx, rep.ID, env.Officer.ID, 3, admin, "")
	wantCode(t, err, domain.CodeValidation)

	if _, err := env.Engine.SetOfficerActive(env.Ctx, env.Officer.ID, true, admin); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if _, err := env.Engine.AssignOfficer(env.Ctx, rep.ID, env.Officer.ID, 3, admin, ""); err != nil {
		t.Fatalf("assign after reactivation: %v", err)
	}
	entries, err := env.Engine.Repo.ListAudit(env.Ctx, repo.AuditFilters{Action: audit.OfficerUpdated})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 officer.updated entries, got %d", len(entries))
	}

	_, err = env.Engine.SetOfficerActive(env.Ctx, 999, false, admin)
	wantCode(t, err, domain.CodeNotFound)
}

func TestIssueAndRevokeAPIKey(t *testing.T) {
	env := newTestEnv(t)
	holder := domain.Actor{ID: "sms-gateway", Role: domain.RoleSystem}
	key, err := env.Engine.IssueAPIKey(env.Ctx, holder, "sms", admin)
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	if !strings.HasPrefix(key.Secret, "cf_") || key.ID == "" {
		t.Fatalf("unexpected key: %+v", key)
	}
	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(key.Secret))
	if err != nil {
		t.Fatalf("lookup key: %v", err)
	}
	if stored.ActorID != holder.ID || stored.Role != holder.Role {
		t.Fatalf("unexpected stored key: %+v", stored)
	}

	if err := env.Engine.RevokeAPIKey(env.Ctx, key.ID, admin); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	wantCode(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID, admin), domain.CodeNotFound)

	_, err = env.Engine.IssueAPIKey(env.Ctx, domain.Actor{ID: "x", Role: "mayor"}, "", admin)
	wantCode(t, err, domain.CodeValidation)
}
