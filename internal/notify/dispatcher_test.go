package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/migrate"
)

var admin = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}

type sink struct {
	mu       sync.Mutex
	fail     bool
	received []Delivery
	headers  []http.Header
}

func (s *sink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	var d Delivery
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.received = append(s.received, d)
	s.headers = append(s.headers, r.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, d := range s.received {
		out = append(out, d.Action)
	}
	return out
}

func setup(t *testing.T, hooks ...config.WebhookConfig) (engine.Engine, *Dispatcher) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	cfg := config.Default("muni-1")
	cfg.Webhooks = hooks
	eng := engine.New(conn, cfg)
	return eng, New(eng.Repo, cfg, nil)
}

func TestDispatchDeliversNewEntries(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()
	eng, d := setup(t, config.WebhookConfig{Name: "ops", URL: srv.URL, Secret: "shh"})
	ctx := context.Background()

	_, err := eng.CreateDepartment(ctx, "Roads", "RD", admin)
	require.NoError(t, err)
	// first pass pins the cursor at the current end of the log
	assert.Equal(t, 0, d.DispatchOnce(ctx))

	rep, err := eng.SubmitReport(ctx, engine.ReportInput{Title: "Broken light"}, domain.Actor{ID: "c-1", Role: domain.RoleCitizen})
	require.NoError(t, err)
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	assert.Equal(t, 0, d.DispatchOnce(ctx))

	require.Equal(t, []string{"report.submitted"}, s.actions())
	got := s.received[0]
	require.NotNil(t, got.ReportID)
	assert.Equal(t, rep.ID, *got.ReportID)
	assert.Equal(t, "muni-1", got.Municipality)
	h := s.headers[0]
	assert.Equal(t, "report.submitted", h.Get("X-Civicflow-Event"))
	assert.Equal(t, "shh", h.Get("X-Civicflow-Secret"))
	assert.NotEmpty(t, h.Get("X-Civicflow-Delivery"))

	cur, err := eng.Repo.GetDeliveryCursor(ctx, "ops")
	require.NoError(t, err)
	latest, err := eng.Repo.LatestAuditID(ctx)
	require.NoError(t, err)
	assert.Equal(t, latest, cur)
}

func TestDispatchFiltersEvents(t *testing.T) {
	s := &sink{}
	srv := httptest.NewServer(s)
	defer srv.Close()
	eng, d := setup(t, config.WebhookConfig{URL: srv.URL, Events: []string{"report.*"}})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	dept, err := eng.CreateDepartment(ctx, "Roads", "RD", admin)
	require.NoError(t, err)
	rep, err := eng.SubmitReport(ctx, engine.ReportInput{Title: "Flooding"}, admin)
	require.NoError(t, err)
	_, err = eng.AssignDepartment(ctx, rep.ID, dept.ID, admin, "")
	require.NoError(t, err)

	assert.Equal(t, 2, d.DispatchOnce(ctx))
	assert.Equal(t, []string{"report.submitted", "report.department_assigned"}, s.actions())
}

func TestDispatchRetriesAfterFailure(t *testing.T) {
	s := &sink{fail: true}
	srv := httptest.NewServer(s)
	defer srv.Close()
	eng, d := setup(t, config.WebhookConfig{Name: "sms", URL: srv.URL})
	ctx := context.Background()
	d.DispatchOnce(ctx)

	_, err := eng.CreateDepartment(ctx, "Parks", "PK", admin)
	require.NoError(t, err)
	assert.Equal(t, 0, d.DispatchOnce(ctx))

	s.mu.Lock()
	s.fail = false
	s.mu.Unlock()
	assert.Equal(t, 1, d.DispatchOnce(ctx))
	assert.Equal(t, []string{"department.created"}, s.actions())
}

func TestDisabledHooksAreSkipped(t *testing.T) {
	off := false
	_, d := setup(t, config.WebhookConfig{URL: "http://127.0.0.1:1", Enabled: &off}, config.WebhookConfig{})
	assert.False(t, d.Enabled())
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{"appeal.*", "report.reopened"})
	assert.True(t, f.match("appeal.reviewed"))
	assert.True(t, f.match("report.reopened"))
	assert.False(t, f.match("report.submitted"))
	assert.True(t, newEventFilter(nil).match("anything"))
	assert.True(t, newEventFilter([]string{"*"}).match("anything"))
}
