package server

import (
	"civicflow/internal/domain"
	"civicflow/internal/engine"
)

// Request payloads

type CreateDepartmentRequest struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type CreateOfficerRequest struct {
	Name    string `json:"name"`
	BadgeNo string `json:"badge_no,omitempty"`
}

type SubmitReportRequest struct {
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	CitizenID    string   `json:"citizen_id,omitempty"`
	Category     *string  `json:"category,omitempty"`
	Severity     *string  `json:"severity,omitempty"`
	AICategory   *string  `json:"ai_category,omitempty"`
	AISeverity   *string  `json:"ai_severity,omitempty"`
	AIConfidence *float64 `json:"ai_confidence,omitempty" minimum:"0" maximum:"1"`
	MediaURLs    []string `json:"media_urls,omitempty"`
}

type AssignDepartmentRequest struct {
	DepartmentID int64  `json:"department_id"`
	Notes        string `json:"notes,omitempty"`
}

type AssignOfficerRequest struct {
	OfficerID int64  `json:"officer_id"`
	Priority  int    `json:"priority,omitempty" minimum:"0" maximum:"5"`
	Notes     string `json:"notes,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
	Notes  string `json:"notes,omitempty"`
}

type NotesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type ResumeRequest struct {
	Target string `json:"target,omitempty"`
	Notes  string `json:"notes,omitempty"`
}

type ClassifyRequest struct {
	Category string `json:"category,omitempty"`
	Severity string `json:"severity,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type BulkRequest struct {
	ReportIDs    []int64 `json:"report_ids"`
	Operation    string  `json:"operation" enum:"assign_department,assign_officer,update_status,acknowledge,start_work,mark_for_verification,resolve,put_on_hold,resume,classify"`
	DepartmentID int64   `json:"department_id,omitempty"`
	OfficerID    int64   `json:"officer_id,omitempty"`
	Priority     int     `json:"priority,omitempty"`
	Status       string  `json:"status,omitempty"`
	Category     string  `json:"category,omitempty"`
	Severity     string  `json:"severity,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

func (r BulkRequest) toEngine() engine.BulkRequest {
	return engine.BulkRequest{
		ReportIDs: r.ReportIDs,
		Operation: engine.BulkOperation(r.Operation),
		Params: engine.BulkParams{
			DepartmentID: r.DepartmentID,
			OfficerID:    r.OfficerID,
			Priority:     r.Priority,
			Status:       domain.Status(r.Status),
			Category:     r.Category,
			Severity:     r.Severity,
			Notes:        r.Notes,
		},
	}
}

type SubmitAppealRequest struct {
	AppealType      string  `json:"appeal_type" enum:"classification,resolution,assignment,rejection,incorrect_assignment"`
	Reason          string  `json:"reason"`
	Evidence        *string `json:"evidence,omitempty"`
	RequestedAction *string `json:"requested_action,omitempty"`
}

type ReviewAppealRequest struct {
	Decision             string  `json:"decision" enum:"approved,rejected"`
	ReviewNotes          string  `json:"review_notes"`
	ActionTaken          *string `json:"action_taken,omitempty"`
	ReassignDepartmentID *int64  `json:"reassign_department_id,omitempty"`
	ReassignOfficerID    *int64  `json:"reassign_officer_id,omitempty"`
	ReassignPriority     int     `json:"reassign_priority,omitempty"`
	RequiresRework       bool    `json:"requires_rework,omitempty"`
}

func (r ReviewAppealRequest) toEngine() engine.ReviewInput {
	in := engine.ReviewInput{
		Decision:       domain.Decision(r.Decision),
		ReviewNotes:    r.ReviewNotes,
		ActionTaken:    r.ActionTaken,
		RequiresRework: r.RequiresRework,
	}
	if r.ReassignDepartmentID != nil || r.ReassignOfficerID != nil {
		in.Reassignment = &engine.Reassignment{
			DepartmentID: r.ReassignDepartmentID,
			OfficerID:    r.ReassignOfficerID,
			Priority:     r.ReassignPriority,
		}
	}
	return in
}

type CreateEscalationRequest struct {
	Level       int    `json:"level" minimum:"1" maximum:"3"`
	Reason      string `json:"reason"`
	Description string `json:"description,omitempty"`
	SLAHours    *int   `json:"sla_hours,omitempty"`
}

type UpdateEscalationRequest struct {
	Status      string  `json:"status" enum:"escalated,acknowledged,under_review,action_taken,resolved,de_escalated,closed"`
	Response    *string `json:"response,omitempty"`
	ActionTaken *string `json:"action_taken,omitempty"`
	Level       *int    `json:"level,omitempty"`
}

type RaiseEscalationRequest struct {
	Level  int    `json:"level" minimum:"1" maximum:"3"`
	Reason string `json:"reason,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"citizen,officer,admin,system"`
}

// Response payloads

type DevLoginResponse struct {
	Token string `json:"token"`
}

type WhoAmIResponse struct {
	ActorID string      `json:"actor_id"`
	Role    domain.Role `json:"role"`
	Source  string      `json:"source"`
}

type StatusInfo struct {
	Status   domain.Status   `json:"status"`
	Terminal bool            `json:"terminal"`
	Next     []domain.Status `json:"next"`
}

type NextStatesResponse struct {
	ReportID int64           `json:"report_id,omitempty"`
	Status   domain.Status   `json:"status"`
	Next     []domain.Status `json:"next"`
}

type ReportView struct {
	domain.Report
	EffectiveCategory string `json:"effective_category"`
	EffectiveSeverity string `json:"effective_severity"`
}

type paginatedReports struct {
	Items      []ReportView `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []domain.AuditEntry `json:"items"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

type SweepResponse struct {
	Flagged int `json:"flagged"`
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
