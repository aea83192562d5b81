package domain

import "time"

// Default classification used when neither a manual nor an AI value exists.
const (
	DefaultCategory = "general"
	DefaultSeverity = "medium"
)

type Report struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description,omitempty"`
	Location     string   `json:"location,omitempty"`
	CitizenID    string   `json:"citizen_id"`
	Status       Status   `json:"status"`
	Category     *string  `json:"category,omitempty"`
	Severity     *string  `json:"severity,omitempty"`
	AICategory   *string  `json:"ai_category,omitempty"`
	AISeverity   *string  `json:"ai_severity,omitempty"`
	AIConfidence *float64 `json:"ai_confidence,omitempty"`
	DepartmentID *int64   `json:"department_id,omitempty"`
	MediaURLs    []string `json:"media_urls,omitempty"`
	Task         *Task    `json:"task,omitempty"`
	Version      int64    `json:"version"`
	CreatedAt    string   `json:"created_at" format:"date-time"`
	UpdatedAt    string   `json:"updated_at" format:"date-time"`
}

// EffectiveCategory resolves manual ?? ai ?? fallback.
func (r Report) EffectiveCategory(fallback string) string {
	return effective(r.Category, r.AICategory, fallback, DefaultCategory)
}

// EffectiveSeverity resolves manual ?? ai ?? fallback.
func (r Report) EffectiveSeverity(fallback string) string {
	return effective(r.Severity, r.AISeverity, fallback, DefaultSeverity)
}

func effective(manual, ai *string, fallback, def string) string {
	if manual != nil && *manual != "" {
		return *manual
	}
	if ai != nil && *ai != "" {
		return *ai
	}
	if fallback != "" {
		return fallback
	}
	return def
}

// HasDepartment reports whether a department is bound.
func (r Report) HasDepartment() bool { return r.DepartmentID != nil }

// HasTask reports whether an officer task is bound.
func (r Report) HasTask() bool { return r.Task != nil }

type Task struct {
	ID             int64   `json:"id"`
	ReportID       int64   `json:"report_id"`
	AssignedTo     int64   `json:"assigned_to"`
	AssignedBy     string  `json:"assigned_by"`
	Priority       int     `json:"priority" minimum:"1" maximum:"5"`
	AssignedAt     string  `json:"assigned_at" format:"date-time"`
	AcknowledgedAt *string `json:"acknowledged_at,omitempty" format:"date-time"`
	StartedAt      *string `json:"started_at,omitempty" format:"date-time"`
	ResolvedAt     *string `json:"resolved_at,omitempty" format:"date-time"`
}

type StatusHistoryEntry struct {
	ID        int64  `json:"id"`
	ReportID  int64  `json:"report_id"`
	OldStatus Status `json:"old_status"`
	NewStatus Status `json:"new_status"`
	ActorID   string `json:"actor_id"`
	ActorRole Role   `json:"actor_role"`
	Notes     string `json:"notes,omitempty"`
	ChangedAt string `json:"changed_at" format:"date-time"`
}

type Appeal struct {
	ID                   int64        `json:"id"`
	ReportID             int64        `json:"report_id"`
	AppealType           AppealType   `json:"appeal_type"`
	Status               AppealStatus `json:"status"`
	Reason               string       `json:"reason"`
	Evidence             *string      `json:"evidence,omitempty"`
	RequestedAction      *string      `json:"requested_action,omitempty"`
	SubmittedBy          string       `json:"submitted_by"`
	ReviewedBy           *string      `json:"reviewed_by,omitempty"`
	ReviewNotes          *string      `json:"review_notes,omitempty"`
	ActionTaken          *string      `json:"action_taken,omitempty"`
	ReassignDepartmentID *int64       `json:"reassign_department_id,omitempty"`
	ReassignOfficerID    *int64       `json:"reassign_officer_id,omitempty"`
	RequiresRework       bool         `json:"requires_rework"`
	CreatedAt            string       `json:"created_at" format:"date-time"`
	ReviewedAt           *string      `json:"reviewed_at,omitempty" format:"date-time"`
}

// Open reports whether the appeal still awaits a decision.
func (a Appeal) Open() bool {
	return a.Status == AppealSubmitted || a.Status == AppealUnderReview
}

type Escalation struct {
	ID             int64            `json:"id"`
	ReportID       int64            `json:"report_id"`
	Level          int              `json:"level" minimum:"1" maximum:"3"`
	InitialLevel   int              `json:"initial_level"`
	Reason         string           `json:"reason"`
	Description    string           `json:"description,omitempty"`
	Status         EscalationStatus `json:"status"`
	SLAHours       int              `json:"sla_hours"`
	SLADeadline    string           `json:"sla_deadline" format:"date-time"`
	IsOverdue      bool             `json:"is_overdue"`
	Response       *string          `json:"response,omitempty"`
	ActionTaken    *string          `json:"action_taken,omitempty"`
	EscalatedBy    string           `json:"escalated_by"`
	AcknowledgedBy *string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *string          `json:"acknowledged_at,omitempty" format:"date-time"`
	ResolvedAt     *string          `json:"resolved_at,omitempty" format:"date-time"`
	CreatedAt      string           `json:"created_at" format:"date-time"`
	UpdatedAt      string           `json:"updated_at" format:"date-time"`
}

// TimeLayout is the stored timestamp format. It is UTC with fixed-width
// nanoseconds, so comparing two stamps as text orders them in time.
const TimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Overdue is the pure derivation of IsOverdue at the given instant.
func (e Escalation) Overdue(now time.Time) bool {
	if e.Status.Terminal() {
		return false
	}
	deadline, err := time.Parse(time.RFC3339, e.SLADeadline)
	if err != nil {
		return false
	}
	return now.After(deadline)
}

type AuditEntry struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts" format:"date-time"`
	Action       string         `json:"action"`
	ActorID      string         `json:"actor_id"`
	ActorRole    Role           `json:"actor_role"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	ReportID     *int64         `json:"report_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

type Department struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Code      string `json:"code"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Officer struct {
	ID           int64  `json:"id"`
	DepartmentID int64  `json:"department_id"`
	Name         string `json:"name"`
	BadgeNo      string `json:"badge_no,omitempty"`
	Active       bool   `json:"active"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// Actor is the caller identity recorded on every mutation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// TimelineItem is one row of a report's merged history/audit timeline.
type TimelineItem struct {
	TS     string              `json:"ts" format:"date-time"`
	Kind   string              `json:"kind" enum:"status,audit"`
	Status *StatusHistoryEntry `json:"status,omitempty"`
	Audit  *AuditEntry         `json:"audit,omitempty"`
}

// APIKey authenticates an integration (SMS gateway, classifier) as an actor.
type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Role      Role   `json:"role"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
