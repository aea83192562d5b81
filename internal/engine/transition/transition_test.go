package transition

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicflow/internal/domain"
)

func TestGraphIsExhaustive(t *testing.T) {
	require.NoError(t, verify())
	for _, s := range domain.AllStatuses {
		_, ok := lifecycle[s]
		assert.True(t, ok, "status %s missing from graph", s)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		from, to domain.Status
		code     domain.ErrorCode
	}{
		{domain.StatusReceived, domain.StatusPendingClassification, ""},
		{domain.StatusReceived, domain.StatusAssignedToDepartment, ""},
		{domain.StatusReceived, domain.StatusClassified, domain.CodeInvalidTransition},
		{domain.StatusAssignedToOfficer, domain.StatusResolved, domain.CodeInvalidTransition},
		{domain.StatusOnHold, domain.StatusOnHold, domain.CodeInvalidTransition},
		{domain.StatusPendingVerification, domain.StatusRejected, ""},
		{domain.StatusResolved, domain.StatusOnHold, domain.CodeTerminalState},
		{domain.StatusDuplicate, domain.StatusReceived, domain.CodeTerminalState},
		{domain.StatusClosed, domain.StatusClosed, domain.CodeTerminalState},
		{domain.StatusReceived, domain.Status("ARCHIVED"), domain.CodeValidation},
	}
	for _, tc := range cases {
		err := Validate(tc.from, tc.to)
		if tc.code == "" {
			assert.NoError(t, err, "%s -> %s", tc.from, tc.to)
			continue
		}
		assert.Equal(t, tc.code, domain.CodeOf(err), "%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoNextStates(t *testing.T) {
	for _, s := range domain.AllStatuses {
		next := NextStates(s)
		if s.Terminal() {
			assert.Empty(t, next, s)
			continue
		}
		assert.NotEmpty(t, next, s)
		for _, to := range next {
			assert.NoError(t, Validate(s, to))
		}
	}
}

func TestNextStatesReturnsCopy(t *testing.T) {
	next := NextStates(domain.StatusOnHold)
	require.Equal(t, []domain.Status{
		domain.StatusAssignedToDepartment,
		domain.StatusAssignedToOfficer,
		domain.StatusInProgress,
	}, next)
	next[0] = domain.StatusClosed
	assert.Equal(t, domain.StatusAssignedToDepartment, NextStates(domain.StatusOnHold)[0])
}

func TestCheckPrerequisites(t *testing.T) {
	err := CheckPrerequisites(domain.StatusAssignedToDepartment, Binding{})
	var missing domain.MissingPrerequisiteError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "department", missing.Requirement)

	assert.NoError(t, CheckPrerequisites(domain.StatusAssignedToDepartment, Binding{HasDepartment: true}))

	for _, s := range []domain.Status{
		domain.StatusAssignedToOfficer,
		domain.StatusAcknowledged,
		domain.StatusInProgress,
		domain.StatusPendingVerification,
		domain.StatusResolved,
	} {
		err := CheckPrerequisites(s, Binding{HasDepartment: true})
		assert.Equal(t, domain.CodeMissingPrerequisite, domain.CodeOf(err), s)
		assert.NoError(t, CheckPrerequisites(s, Binding{HasDepartment: true, HasTask: true}), s)

		err = CheckPrerequisites(s, Binding{HasDepartment: true, HasTask: true, ForeignTask: true})
		require.True(t, errors.As(err, &missing), s)
		assert.Equal(t, "officer of the report's department", missing.Requirement)
	}
	assert.NoError(t, CheckPrerequisites(domain.StatusAssignedToDepartment, Binding{HasDepartment: true, HasTask: true, ForeignTask: true}))
	assert.NoError(t, CheckPrerequisites(domain.StatusOnHold, Binding{}))
}

func TestReopenRequiresApprovedReworkAppeal(t *testing.T) {
	appeal := domain.Appeal{ID: 7, ReportID: 3, Status: domain.AppealUnderReview, RequiresRework: true}
	_, err := AuthorizeReopen(appeal)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	appeal.Status = domain.AppealApproved
	appeal.RequiresRework = false
	_, err = AuthorizeReopen(appeal)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	appeal.RequiresRework = true
	grant, err := AuthorizeReopen(appeal)
	require.NoError(t, err)
	assert.Equal(t, int64(7), grant.AppealID())

	assert.NoError(t, ValidateReopen(3, domain.StatusResolved, grant))
	assert.NoError(t, ValidateReopen(3, domain.StatusPendingVerification, grant))
	assert.Equal(t, domain.CodeTerminalState, domain.CodeOf(ValidateReopen(3, domain.StatusRejected, grant)))
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(ValidateReopen(3, domain.StatusAcknowledged, grant)))
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(ValidateReopen(4, domain.StatusResolved, grant)))
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(ValidateReopen(3, domain.StatusResolved, ReopenGrant{})))
}

func TestReopenEdgeIsNotInBaseGraph(t *testing.T) {
	assert.Equal(t, domain.CodeTerminalState, domain.CodeOf(Validate(domain.StatusResolved, domain.StatusInProgress)))
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(Validate(domain.StatusPendingVerification, domain.StatusInProgress)))
}

func TestValidateEscalation(t *testing.T) {
	assert.NoError(t, ValidateEscalation(domain.EscalationEscalated, domain.EscalationAcknowledged))
	assert.NoError(t, ValidateEscalation(domain.EscalationActionTaken, domain.EscalationResolved))
	assert.NoError(t, ValidateEscalation(domain.EscalationUnderReview, domain.EscalationDeEscalated))
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(ValidateEscalation(domain.EscalationEscalated, domain.EscalationResolved)))
	assert.Equal(t, domain.CodeTerminalState, domain.CodeOf(ValidateEscalation(domain.EscalationResolved, domain.EscalationClosed)))
	assert.Equal(t, domain.CodeTerminalState, domain.CodeOf(ValidateEscalation(domain.EscalationDeEscalated, domain.EscalationEscalated)))
}

func TestValidateAppeal(t *testing.T) {
	assert.NoError(t, ValidateAppeal(domain.AppealSubmitted, domain.AppealWithdrawn))
	assert.NoError(t, ValidateAppeal(domain.AppealSubmitted, domain.AppealUnderReview))
	assert.NoError(t, ValidateAppeal(domain.AppealUnderReview, domain.AppealApproved))
	assert.Equal(t, domain.CodeInvalidTransition, domain.CodeOf(ValidateAppeal(domain.AppealUnderReview, domain.AppealWithdrawn)))
	assert.Equal(t, domain.CodeTerminalState, domain.CodeOf(ValidateAppeal(domain.AppealWithdrawn, domain.AppealUnderReview)))
}
