package transition

import (
	"fmt"

	"civicflow/internal/domain"
)

var escalationGraph = map[domain.EscalationStatus][]domain.EscalationStatus{
	domain.EscalationEscalated:    {domain.EscalationAcknowledged, domain.EscalationDeEscalated, domain.EscalationClosed},
	domain.EscalationAcknowledged: {domain.EscalationUnderReview, domain.EscalationDeEscalated, domain.EscalationClosed},
	domain.EscalationUnderReview:  {domain.EscalationActionTaken, domain.EscalationDeEscalated, domain.EscalationClosed},
	domain.EscalationActionTaken:  {domain.EscalationResolved, domain.EscalationDeEscalated, domain.EscalationClosed},
	domain.EscalationResolved:     nil,
	domain.EscalationDeEscalated:  nil,
	domain.EscalationClosed:       nil,
}

// ValidateEscalation checks an escalation status change.
func ValidateEscalation(from, to domain.EscalationStatus) error {
	if from.Terminal() {
		return domain.TerminalStateError{Resource: "escalation", Status: string(from)}
	}
	for _, next := range escalationGraph[from] {
		if next == to {
			return nil
		}
	}
	return domain.InvalidTransitionError{Resource: "escalation", From: string(from), To: string(to)}
}

// NextEscalationStates returns the legal targets of an escalation status.
func NextEscalationStates(s domain.EscalationStatus) []domain.EscalationStatus {
	return append([]domain.EscalationStatus(nil), escalationGraph[s]...)
}

var appealGraph = map[domain.AppealStatus][]domain.AppealStatus{
	domain.AppealSubmitted:   {domain.AppealUnderReview, domain.AppealWithdrawn},
	domain.AppealUnderReview: {domain.AppealApproved, domain.AppealRejected},
	domain.AppealApproved:    nil,
	domain.AppealRejected:    nil,
	domain.AppealWithdrawn:   nil,
}

// ValidateAppeal checks an appeal status change.
func ValidateAppeal(from, to domain.AppealStatus) error {
	next, ok := appealGraph[from]
	if !ok {
		return domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown appeal status %q", from)}
	}
	if len(next) == 0 {
		return domain.TerminalStateError{Resource: "appeal", Status: string(from)}
	}
	for _, s := range next {
		if s == to {
			return nil
		}
	}
	return domain.InvalidTransitionError{Resource: "appeal", From: string(from), To: string(to)}
}
