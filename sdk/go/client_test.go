package civicflowsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsCredentialsAndDecodes(t *testing.T) {
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "status": "ASSIGNED_TO_DEPARTMENT", "version": 2})
	}))
	defer srv.Close()

	c := New(srv.URL + "/v1/")
	c.APIKey = "cf_secret"
	rep, err := c.AssignDepartment(context.Background(), 7, 3, "route")
	require.NoError(t, err)
	assert.Equal(t, "/v1/reports/7/department", gotPath)
	assert.Equal(t, "cf_secret", gotKey)
	assert.Equal(t, float64(3), gotBody["department_id"])
	assert.Equal(t, int64(7), rep.ID)
	assert.Equal(t, "ASSIGNED_TO_DEPARTMENT", rep.Status)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"invalid_transition","message":"invalid report transition ASSIGNED_TO_OFFICER -> RESOLVED"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.BearerToken = "tok"
	_, err := c.UpdateStatus(context.Background(), 1, "RESOLVED", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "invalid_transition", apiErr.Code)
	assert.Contains(t, apiErr.Error(), "invalid_transition")
}

func TestListReportsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"items":[{"id":3},{"id":2}],"next_cursor":"2"}`))
	}))
	defer srv.Close()

	items, next, err := New(srv.URL).ListReports(context.Background(), "ON_HOLD", 2, "")
	require.NoError(t, err)
	assert.Equal(t, "limit=2&status=ON_HOLD", gotQuery)
	assert.Len(t, items, 2)
	assert.Equal(t, "2", next)
}
