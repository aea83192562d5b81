package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/migrate"
)

const testSecret = "test-secret"

var (
	adminHeaders   = map[string]string{"X-Actor-Id": "admin-1", "X-Actor-Role": "admin"}
	officerHeaders = map[string]string{"X-Actor-Id": "officer-42", "X-Actor-Role": "officer"}
	citizenHeaders = map[string]string{"X-Actor-Id": "citizen-7", "X-Actor-Role": "citizen"}
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default("muni-1"))
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowDevHeaders: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{URL: srv.URL + "/v1", Engine: e, client: srv.Client()}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = bytes.NewReader(nil)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// call performs a request, checks the status and decodes the body into out.
func (s *testServer) call(t *testing.T, method, path string, body any, headers map[string]string, want int, out any) http.Header {
	t.Helper()
	res, data := doJSON(t, s.client, method, s.URL+path, body, headers)
	if res.StatusCode != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", method, path, want, res.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			t.Fatalf("decode %s %s: %v: %s", method, path, err, string(data))
		}
	}
	return res.Header
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v: %s", err, string(data))
	}
	return env.Error.Code
}

type seeded struct {
	Dept    domain.Department
	Officer domain.Officer
}

func (s *testServer) seed(t *testing.T) seeded {
	t.Helper()
	var out seeded
	s.call(t, http.MethodPost, "/departments", map[string]any{"name": "Roads", "code": "rd"}, adminHeaders, http.StatusOK, &out.Dept)
	s.call(t, http.MethodPost, fmt.Sprintf("/departments/%d/officers", out.Dept.ID), map[string]any{"name": "Ada", "badge_no": "R-42"}, adminHeaders, http.StatusOK, &out.Officer)
	return out
}

func (s *testServer) submit(t *testing.T) ReportView {
	t.Helper()
	var rep ReportView
	s.call(t, http.MethodPost, "/reports", map[string]any{"title": "Pothole on Main St", "location": "Main St 12"}, citizenHeaders, http.StatusCreated, &rep)
	return rep
}

func TestReportLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	rep := srv.submit(t)
	if rep.Status != domain.StatusReceived || rep.CitizenID != "citizen-7" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if rep.EffectiveCategory != domain.DefaultCategory {
		t.Fatalf("expected default category, got %q", rep.EffectiveCategory)
	}
	base := fmt.Sprintf("/reports/%d", rep.ID)

	srv.call(t, http.MethodPost, base+"/department", map[string]any{"department_id": seed.Dept.ID}, adminHeaders, http.StatusOK, &rep)
	srv.call(t, http.MethodPost, base+"/officer", map[string]any{"officer_id": seed.Officer.ID, "priority": 2}, adminHeaders, http.StatusOK, &rep)
	if rep.Task == nil || rep.Task.Priority != 2 {
		t.Fatalf("expected task with priority 2, got %+v", rep.Task)
	}
	for _, step := range []string{"acknowledge", "start", "verify", "resolve"} {
		srv.call(t, http.MethodPost, base+"/"+step, map[string]any{"notes": step}, officerHeaders, http.StatusOK, &rep)
	}
	if rep.Status != domain.StatusResolved {
		t.Fatalf("expected RESOLVED, got %s", rep.Status)
	}

	var history []domain.StatusHistoryEntry
	srv.call(t, http.MethodGet, base+"/history", nil, adminHeaders, http.StatusOK, &history)
	if len(history) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(history))
	}
	last := history[len(history)-1]
	if last.NewStatus != domain.StatusResolved || last.ActorID != "officer-42" {
		t.Fatalf("unexpected last entry: %+v", last)
	}

	var next NextStatesResponse
	srv.call(t, http.MethodGet, base+"/next-states", nil, adminHeaders, http.StatusOK, &next)
	if next.Status != domain.StatusResolved || len(next.Next) != 0 {
		t.Fatalf("unexpected next states: %+v", next)
	}

	var timeline []domain.TimelineItem
	srv.call(t, http.MethodGet, base+"/timeline", nil, adminHeaders, http.StatusOK, &timeline)
	if len(timeline) <= len(history) {
		t.Fatalf("expected timeline to include audit entries, got %d items", len(timeline))
	}
}

func TestInvalidTransitionIsConflict(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	rep := srv.submit(t)
	base := fmt.Sprintf("/reports/%d", rep.ID)
	srv.call(t, http.MethodPost, base+"/department", map[string]any{"department_id": seed.Dept.ID}, adminHeaders, http.StatusOK, nil)

	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+base+"/status", map[string]any{"status": "RESOLVED"}, adminHeaders)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != string(domain.CodeInvalidTransition) {
		t.Fatalf("expected invalid_transition, got %q", code)
	}
}

func TestMissingPrerequisiteIsUnprocessable(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	rep := srv.submit(t)
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+fmt.Sprintf("/reports/%d/officer", rep.ID), map[string]any{"officer_id": seed.Officer.ID}, adminHeaders)
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != string(domain.CodeMissingPrerequisite) {
		t.Fatalf("expected missing_prerequisite, got %q", code)
	}
}

func TestUnknownReportIsNotFound(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/reports/999", nil, adminHeaders)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != string(domain.CodeNotFound) {
		t.Fatalf("expected not_found, got %q", code)
	}
}

func TestStorageFailureHidesCause(t *testing.T) {
	srv := newTestServer(t)
	srv.Engine.DB.Close()
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/reports/1", nil, adminHeaders)
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != string(domain.CodeInternal) {
		t.Fatalf("expected internal_error, got %q", code)
	}
	if strings.Contains(string(data), "database is closed") {
		t.Fatalf("driver error leaked: %s", string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.client, http.MethodGet, srv.URL+"/reports", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(data))
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health should be open, got %d", res.StatusCode)
	}
	res, _ = doJSON(t, srv.client, http.MethodGet, srv.URL+"/reports", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d", res.StatusCode)
	}
}

func TestJWTPrincipal(t *testing.T) {
	srv := newTestServer(t)
	token, err := SignToken(testSecret, domain.Actor{ID: "officer-9", Role: domain.RoleOfficer}, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	var me WhoAmIResponse
	srv.call(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + token}, http.StatusOK, &me)
	if me.ActorID != "officer-9" || me.Role != domain.RoleOfficer || me.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", me)
	}

	var login DevLoginResponse
	srv.call(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "admin-2", "role": "admin"}, nil, http.StatusOK, &login)
	srv.call(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer " + login.Token}, http.StatusOK, &me)
	if me.ActorID != "admin-2" || me.Role != domain.RoleAdmin {
		t.Fatalf("unexpected dev login principal: %+v", me)
	}
}

func TestIfMatchVersionConflict(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	rep := srv.submit(t)
	base := fmt.Sprintf("/reports/%d", rep.ID)
	var routed ReportView
	header := srv.call(t, http.MethodPost, base+"/department", map[string]any{"department_id": seed.Dept.ID}, adminHeaders, http.StatusOK, &routed)
	tag := header.Get("ETag")
	if tag != fmt.Sprintf(`"%d"`, routed.Version) {
		t.Fatalf("expected etag for version %d, got %q", routed.Version, tag)
	}

	stale := map[string]string{"X-Actor-Id": "admin-1", "If-Match": fmt.Sprintf(`"%d"`, rep.Version)}
	res, data := doJSON(t, srv.client, http.MethodPost, srv.URL+base+"/hold", nil, stale)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != string(domain.CodeConcurrencyConflict) {
		t.Fatalf("expected concurrency_conflict, got %q", code)
	}

	fresh := map[string]string{"X-Actor-Id": "admin-1", "If-Match": tag}
	var held ReportView
	srv.call(t, http.MethodPost, base+"/hold", nil, fresh, http.StatusOK, &held)
	if held.Status != domain.StatusOnHold {
		t.Fatalf("expected ON_HOLD, got %s", held.Status)
	}
	srv.call(t, http.MethodPost, base+"/resume", nil, adminHeaders, http.StatusOK, &held)
	if held.Status != domain.StatusAssignedToDepartment {
		t.Fatalf("expected resume to ASSIGNED_TO_DEPARTMENT, got %s", held.Status)
	}
}

func TestBulkOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	a := srv.submit(t)
	b := srv.submit(t)
	var res engine.BulkResult
	srv.call(t, http.MethodPost, "/reports/bulk", map[string]any{
		"report_ids":    []int64{a.ID, b.ID, 999},
		"operation":     "assign_department",
		"department_id": seed.Dept.ID,
	}, adminHeaders, http.StatusOK, &res)
	if len(res.Succeeded) != 2 || len(res.Failed) != 1 {
		t.Fatalf("expected 2 succeeded and 1 failed, got %+v", res)
	}
	if res.Failed[0].ReportID != 999 || res.Failed[0].Code != domain.CodeNotFound {
		t.Fatalf("unexpected failure: %+v", res.Failed[0])
	}
	if res.BatchID == "" {
		t.Fatalf("expected batch id")
	}

	resp, data := doJSON(t, srv.client, http.MethodPost, srv.URL+"/reports/bulk", map[string]any{
		"report_ids": []int64{},
		"operation":  "resolve",
	}, adminHeaders)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty bulk, got %d: %s", resp.StatusCode, string(data))
	}
}

func TestAppealAndEscalationOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	seed := srv.seed(t)
	rep := srv.submit(t)
	base := fmt.Sprintf("/reports/%d", rep.ID)
	srv.call(t, http.MethodPost, base+"/department", map[string]any{"department_id": seed.Dept.ID}, adminHeaders, http.StatusOK, nil)

	var appeal domain.Appeal
	srv.call(t, http.MethodPost, base+"/appeals", map[string]any{
		"appeal_type": "assignment",
		"reason":      "wrong department",
	}, citizenHeaders, http.StatusCreated, &appeal)
	if appeal.Status != domain.AppealSubmitted || appeal.SubmittedBy != "citizen-7" {
		t.Fatalf("unexpected appeal: %+v", appeal)
	}
	srv.call(t, http.MethodPost, fmt.Sprintf("/appeals/%d/review", appeal.ID), map[string]any{
		"decision":     "rejected",
		"review_notes": "routing is correct",
	}, adminHeaders, http.StatusOK, &appeal)
	if appeal.Status != domain.AppealRejected {
		t.Fatalf("expected rejected appeal, got %s", appeal.Status)
	}

	var esc domain.Escalation
	srv.call(t, http.MethodPost, base+"/escalations", map[string]any{
		"level":     1,
		"reason":    "no progress",
		"sla_hours": 24,
	}, adminHeaders, http.StatusCreated, &esc)
	if esc.SLAHours != 24 || esc.IsOverdue {
		t.Fatalf("unexpected escalation: %+v", esc)
	}
	srv.call(t, http.MethodPost, fmt.Sprintf("/escalations/%d/acknowledge", esc.ID), nil, officerHeaders, http.StatusOK, &esc)
	if esc.Status != domain.EscalationAcknowledged || esc.AcknowledgedBy == nil {
		t.Fatalf("expected acknowledged escalation, got %+v", esc)
	}
	var sweep SweepResponse
	srv.call(t, http.MethodPost, "/escalations/sweep", nil, adminHeaders, http.StatusOK, &sweep)
	if sweep.Flagged != 0 {
		t.Fatalf("fresh escalation should not be overdue, flagged %d", sweep.Flagged)
	}

	var audit paginatedAudit
	srv.call(t, http.MethodGet, fmt.Sprintf("/audit?report_id=%d&limit=2", rep.ID), nil, adminHeaders, http.StatusOK, &audit)
	if len(audit.Items) != 2 || audit.NextCursor == "" {
		t.Fatalf("expected a full first audit page with cursor, got %+v", audit)
	}
}
