package domain

import "fmt"

// Status is the report lifecycle state. The set is closed: every value
// outside AllStatuses is rejected by ParseStatus.
type Status string

const (
	StatusReceived              Status = "RECEIVED"
	StatusPendingClassification Status = "PENDING_CLASSIFICATION"
	StatusClassified            Status = "CLASSIFIED"
	StatusAssignedToDepartment  Status = "ASSIGNED_TO_DEPARTMENT"
	StatusAssignedToOfficer     Status = "ASSIGNED_TO_OFFICER"
	StatusAcknowledged          Status = "ACKNOWLEDGED"
	StatusInProgress            Status = "IN_PROGRESS"
	StatusPendingVerification   Status = "PENDING_VERIFICATION"
	StatusOnHold                Status = "ON_HOLD"
	StatusResolved              Status = "RESOLVED"
	StatusClosed                Status = "CLOSED"
	StatusRejected              Status = "REJECTED"
	StatusDuplicate             Status = "DUPLICATE"
)

// AllStatuses lists every member of the enum in pipeline order.
var AllStatuses = []Status{
	StatusReceived,
	StatusPendingClassification,
	StatusClassified,
	StatusAssignedToDepartment,
	StatusAssignedToOfficer,
	StatusAcknowledged,
	StatusInProgress,
	StatusPendingVerification,
	StatusOnHold,
	StatusResolved,
	StatusClosed,
	StatusRejected,
	StatusDuplicate,
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusResolved, StatusClosed, StatusRejected, StatusDuplicate:
		return true
	}
	return false
}

// RequiresOfficer reports whether s can only exist with a bound task.
func (s Status) RequiresOfficer() bool {
	switch s {
	case StatusAssignedToOfficer, StatusAcknowledged, StatusInProgress, StatusPendingVerification, StatusResolved:
		return true
	}
	return false
}

func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

type Role string

const (
	RoleCitizen Role = "citizen"
	RoleOfficer Role = "officer"
	RoleAdmin   Role = "admin"
	RoleSystem  Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleCitizen, RoleOfficer, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// SystemActor is recorded for mutations issued by background runners.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

type AppealType string

const (
	AppealClassification      AppealType = "classification"
	AppealResolution          AppealType = "resolution"
	AppealAssignment          AppealType = "assignment"
	AppealRejection           AppealType = "rejection"
	AppealIncorrectAssignment AppealType = "incorrect_assignment"
)

func ParseAppealType(v string) (AppealType, error) {
	switch t := AppealType(v); t {
	case AppealClassification, AppealResolution, AppealAssignment, AppealRejection, AppealIncorrectAssignment:
		return t, nil
	}
	return "", ValidationError{Field: "appeal_type", Reason: fmt.Sprintf("unknown appeal type %q", v)}
}

type AppealStatus string

const (
	AppealSubmitted   AppealStatus = "submitted"
	AppealUnderReview AppealStatus = "under_review"
	AppealApproved    AppealStatus = "approved"
	AppealRejected    AppealStatus = "rejected"
	AppealWithdrawn   AppealStatus = "withdrawn"
)

// Decision is the outcome of an appeal review.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

func ParseDecision(v string) (Decision, error) {
	switch d := Decision(v); d {
	case DecisionApproved, DecisionRejected:
		return d, nil
	}
	return "", ValidationError{Field: "decision", Reason: fmt.Sprintf("decision must be approved or rejected, got %q", v)}
}

type EscalationStatus string

const (
	EscalationEscalated    EscalationStatus = "escalated"
	EscalationAcknowledged EscalationStatus = "acknowledged"
	EscalationUnderReview  EscalationStatus = "under_review"
	EscalationActionTaken  EscalationStatus = "action_taken"
	EscalationResolved     EscalationStatus = "resolved"
	EscalationDeEscalated  EscalationStatus = "de_escalated"
	EscalationClosed       EscalationStatus = "closed"
)

// Terminal reports whether the escalation can no longer change or go overdue.
func (s EscalationStatus) Terminal() bool {
	switch s {
	case EscalationResolved, EscalationDeEscalated, EscalationClosed:
		return true
	}
	return false
}

func ParseEscalationStatus(v string) (EscalationStatus, error) {
	switch s := EscalationStatus(v); s {
	case EscalationEscalated, EscalationAcknowledged, EscalationUnderReview, EscalationActionTaken,
		EscalationResolved, EscalationDeEscalated, EscalationClosed:
		return s, nil
	}
	return "", ValidationError{Field: "status", Reason: fmt.Sprintf("unknown escalation status %q", v)}
}

// Escalation levels are bounded to 1..3.
const (
	MinEscalationLevel = 1
	MaxEscalationLevel = 3
)
