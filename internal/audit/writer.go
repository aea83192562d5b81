package audit

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"civicflow/internal/domain"
	"civicflow/internal/repo"
)

// Action names recorded in audit_log.
const (
	ReportSubmitted       = "report.submitted"
	ReportClassified      = "report.classified"
	ReportDeptAssigned    = "report.department_assigned"
	ReportOfficerAssigned = "report.officer_assigned"
	ReportStatusChanged   = "report.status_changed"
	ReportReopened        = "report.reopened"
	AppealSubmitted       = "appeal.submitted"
	AppealReviewStarted   = "appeal.review_started"
	AppealReviewed        = "appeal.reviewed"
	AppealWithdrawn       = "appeal.withdrawn"
	EscalationCreated     = "escalation.created"
	EscalationUpdated     = "escalation.updated"
	EscalationRaised      = "escalation.raised"
	EscalationOverdue     = "escalation.overdue"
	BulkApplied           = "bulk.applied"
	DepartmentCreated     = "department.created"
	OfficerCreated        = "officer.created"
	OfficerUpdated        = "officer.updated"
	APIKeyIssued          = "api_key.issued"
	APIKeyRevoked         = "api_key.revoked"
)

type Metadata map[string]any

// Entry is one audit record before it is stamped and stored.
type Entry struct {
	Action       string
	Actor        domain.Actor
	ResourceType string
	ResourceID   int64
	ResourceKey  string
	ReportID     int64
	Metadata     Metadata
}

type Writer struct {
	Repo repo.Repo
	Now  func() time.Time
}

// Append writes the entry inside tx so it commits or rolls back with the
// mutation it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.AuditEntry, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	resourceID := e.ResourceKey
	if resourceID == "" {
		resourceID = strconv.FormatInt(e.ResourceID, 10)
	}
	entry := domain.AuditEntry{
		TS:           domain.FormatTime(w.Now()),
		Action:       e.Action,
		ActorID:      e.Actor.ID,
		ActorRole:    e.Actor.Role,
		ResourceType: e.ResourceType,
		ResourceID:   resourceID,
		Metadata:     e.Metadata,
	}
	if e.ReportID > 0 {
		id := e.ReportID
		entry.ReportID = &id
	}
	id, err := w.Repo.AppendAudit(ctx, tx, entry)
	if err != nil {
		return entry, err
	}
	entry.ID = id
	return entry, nil
}
