package civicflowsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Civicflow HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/v1.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task is the officer assignment of a report.
type Task struct {
	ID             int64   `json:"id"`
	AssignedTo     int64   `json:"assigned_to"`
	Priority       int     `json:"priority"`
	AssignedAt     string  `json:"assigned_at"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty"`
	StartedAt      *string `json:"started_at,omitempty"`
	ResolvedAt     *string `json:"resolved_at,omitempty"`
}

// Report represents the API report model (partial).
type Report struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	CitizenID         string `json:"citizen_id"`
	Status            string `json:"status"`
	DepartmentID      *int64 `json:"department_id,omitempty"`
	Task              *Task  `json:"task,omitempty"`
	Version           int64  `json:"version"`
	EffectiveCategory string `json:"effective_category"`
	EffectiveSeverity string `json:"effective_severity"`
	UpdatedAt         string `json:"updated_at"`
}

// NewReport is the submission payload.
type NewReport struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	CitizenID    string   `json:"citizen_id,omitempty"`
	AICategory   *string  `json:"ai_category,omitempty"`
	AISeverity   *string  `json:"ai_severity,omitempty"`
	AIConfidence *float64 `json:"ai_confidence,omitempty"`
	MediaURLs    []string `json:"media_urls,omitempty"`
}

// HistoryEntry is one status change.
type HistoryEntry struct {
	ID        int64  `json:"id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	ActorID   string `json:"actor_id"`
	Notes     string `json:"notes,omitempty"`
	ChangedAt string `json:"changed_at"`
}

// AuditEntry represents an audit log row.
type AuditEntry struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ReportID     *int64         `json:"report_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// PaginatedAudit wraps audit listings with a cursor.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// BulkFailure describes one report a bulk call could not change.
type BulkFailure struct {
	ReportID int64  `json:"report_id"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// BulkResult is the per-report outcome of a bulk call.
type BulkResult struct {
	BatchID   string        `json:"batch_id"`
	Succeeded []int64       `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

// Appeal represents a citizen appeal.
type Appeal struct {
	ID             int64  `json:"id"`
	ReportID       int64  `json:"report_id"`
	AppealType     string `json:"appeal_type"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
	SubmittedBy    string `json:"submitted_by"`
	RequiresRework bool   `json:"requires_rework"`
}

// Escalation represents an SLA-bound escalation.
type Escalation struct {
	ID          int64  `json:"id"`
	ReportID    int64  `json:"report_id"`
	Level       int    `json:"level"`
	Status      string `json:"status"`
	SLAHours    int    `json:"sla_hours"`
	SLADeadline string `json:"sla_deadline"`
	IsOverdue   bool   `json:"is_overdue"`
}

// APIError wraps non-2xx responses. Code carries the server's error code
// (not_found, invalid_transition, missing_prerequisite, ...).
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SubmitReport creates a report.
func (c *Client) SubmitReport(ctx context.Context, r NewReport) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, "reports", r, &resp)
	return resp, err
}

// GetReport fetches a report.
func (c *Client) GetReport(ctx context.Context, id int64) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, reportPath(id, ""), nil, &resp)
	return resp, err
}

// ListReports lists reports, newest first. status may be empty.
func (c *Client) ListReports(ctx context.Context, status string, limit int, cursor string) ([]Report, string, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp struct {
		Items      []Report `json:"items"`
		NextCursor string   `json:"next_cursor"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("reports", q), nil, &resp)
	return resp.Items, resp.NextCursor, err
}

// AssignDepartment routes a report.
func (c *Client) AssignDepartment(ctx context.Context, reportID, departmentID int64, notes string) (Report, error) {
	var resp Report
	body := map[string]any{"department_id": departmentID, "notes": notes}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "department"), body, &resp)
	return resp, err
}

// AssignOfficer assigns a report to an officer.
func (c *Client) AssignOfficer(ctx context.Context, reportID, officerID int64, priority int, notes string) (Report, error) {
	var resp Report
	body := map[string]any{"officer_id": officerID, "priority": priority, "notes": notes}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "officer"), body, &resp)
	return resp, err
}

// Act calls one of the status actions: acknowledge, start, verify, resolve,
// reject, hold or resume.
func (c *Client) Act(ctx context.Context, reportID int64, action, notes string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodPost, reportPath(reportID, action), map[string]any{"notes": notes}, &resp)
	return resp, err
}

// UpdateStatus moves a report to an explicit status.
func (c *Client) UpdateStatus(ctx context.Context, reportID int64, status, notes string) (Report, error) {
	var resp Report
	body := map[string]any{"status": status, "notes": notes}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "status"), body, &resp)
	return resp, err
}

// History returns the status history of a report.
func (c *Client) History(ctx context.Context, reportID int64) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, reportPath(reportID, "history"), nil, &resp)
	return resp, err
}

// Bulk applies one operation to many reports. params holds the flat
// operation fields (department_id, officer_id, status, ...).
func (c *Client) Bulk(ctx context.Context, operation string, reportIDs []int64, params map[string]any) (BulkResult, error) {
	body := map[string]any{"operation": operation, "report_ids": reportIDs}
	for k, v := range params {
		body[k] = v
	}
	var resp BulkResult
	err := c.do(ctx, http.MethodPost, "reports/bulk", body, &resp)
	return resp, err
}

// SubmitAppeal appeals a report decision.
func (c *Client) SubmitAppeal(ctx context.Context, reportID int64, appealType, reason string) (Appeal, error) {
	var resp Appeal
	body := map[string]any{"appeal_type": appealType, "reason": reason}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "appeals"), body, &resp)
	return resp, err
}

// ReviewAppeal decides an appeal. extra may carry requires_rework or
// reassign_* fields.
func (c *Client) ReviewAppeal(ctx context.Context, appealID int64, decision, notes string, extra map[string]any) (Appeal, error) {
	body := map[string]any{"decision": decision, "review_notes": notes}
	for k, v := range extra {
		body[k] = v
	}
	var resp Appeal
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("appeals/%d/review", appealID), body, &resp)
	return resp, err
}

// CreateEscalation escalates a report. slaHours 0 uses the server default.
func (c *Client) CreateEscalation(ctx context.Context, reportID int64, level int, reason string, slaHours int) (Escalation, error) {
	body := map[string]any{"level": level, "reason": reason}
	if slaHours > 0 {
		body["sla_hours"] = slaHours
	}
	var resp Escalation
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "escalations"), body, &resp)
	return resp, err
}

// Sweep flags overdue escalations and returns how many changed.
func (c *Client) Sweep(ctx context.Context) (int, error) {
	var resp struct {
		Flagged int `json:"flagged"`
	}
	err := c.do(ctx, http.MethodPost, "escalations/sweep", nil, &resp)
	return resp.Flagged, err
}

// AuditPage returns audit entries for a report, newest first.
func (c *Client) AuditPage(ctx context.Context, reportID int64, limit int, cursor string) (PaginatedAudit, error) {
	q := url.Values{}
	if reportID > 0 {
		q.Set("report_id", strconv.FormatInt(reportID, 10))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, withQuery("audit", q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func reportPath(id int64, action string) string {
	p := fmt.Sprintf("reports/%d", id)
	if action != "" {
		p += "/" + strings.TrimLeft(action, "/")
	}
	return p
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
