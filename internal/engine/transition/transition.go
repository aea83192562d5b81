// Package transition holds the report status graph and the guards layered on it.
//
// The graph is built once at init and never mutated; callers query it through
// Validate, NextStates and CheckPrerequisites instead of keeping their own copy.
package transition

import (
	"fmt"

	"civicflow/internal/domain"
)

type edgeSet map[domain.Status]struct{}

var lifecycle = map[domain.Status]edgeSet{
	domain.StatusReceived: {
		domain.StatusPendingClassification: {},
		domain.StatusAssignedToDepartment:  {},
	},
	domain.StatusPendingClassification: {
		domain.StatusClassified:           {},
		domain.StatusAssignedToDepartment: {},
	},
	domain.StatusClassified: {
		domain.StatusAssignedToDepartment: {},
	},
	domain.StatusAssignedToDepartment: {
		domain.StatusAssignedToOfficer: {},
		domain.StatusOnHold:            {},
	},
	domain.StatusAssignedToOfficer: {
		domain.StatusAcknowledged: {},
		domain.StatusOnHold:       {},
	},
	domain.StatusAcknowledged: {
		domain.StatusInProgress: {},
		domain.StatusOnHold:     {},
	},
	domain.StatusInProgress: {
		domain.StatusPendingVerification: {},
		domain.StatusOnHold:              {},
	},
	domain.StatusPendingVerification: {
		domain.StatusResolved: {},
		domain.StatusRejected: {},
		domain.StatusOnHold:   {},
	},
	domain.StatusOnHold: {
		domain.StatusAssignedToDepartment: {},
		domain.StatusAssignedToOfficer:    {},
		domain.StatusInProgress:           {},
	},
	domain.StatusResolved:  {},
	domain.StatusClosed:    {},
	domain.StatusRejected:  {},
	domain.StatusDuplicate: {},
}

// reopenable are the sources of the appeal-gated rework edge into IN_PROGRESS.
var reopenable = edgeSet{
	domain.StatusResolved:            {},
	domain.StatusPendingVerification: {},
}

func init() {
	if err := verify(); err != nil {
		panic(err)
	}
}

// verify checks that every status has an adjacency entry and that edges only
// reference known statuses.
func verify() error {
	for _, s := range domain.AllStatuses {
		edges, ok := lifecycle[s]
		if !ok {
			return fmt.Errorf("transition: status %s has no adjacency entry", s)
		}
		if s.Terminal() && len(edges) > 0 {
			return fmt.Errorf("transition: terminal status %s has outgoing edges", s)
		}
		for to := range edges {
			if !to.Valid() {
				return fmt.Errorf("transition: %s -> %s references unknown status", s, to)
			}
		}
	}
	if len(lifecycle) != len(domain.AllStatuses) {
		return fmt.Errorf("transition: graph has %d entries for %d statuses", len(lifecycle), len(domain.AllStatuses))
	}
	return nil
}

// Allowed reports whether to is adjacent to from in the lifecycle graph.
func Allowed(from, to domain.Status) bool {
	_, ok := lifecycle[from][to]
	return ok
}

// Validate checks a lifecycle transition. A terminal source is rejected before
// the graph is consulted; self-transitions are never adjacent.
func Validate(from, to domain.Status) error {
	if !to.Valid() {
		return domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", to)}
	}
	if from.Terminal() {
		return domain.TerminalStateError{Status: string(from)}
	}
	if !Allowed(from, to) {
		return domain.InvalidTransitionError{From: string(from), To: string(to)}
	}
	return nil
}

// NextStates returns the legal targets of s in pipeline order.
func NextStates(s domain.Status) []domain.Status {
	edges := lifecycle[s]
	out := make([]domain.Status, 0, len(edges))
	for _, candidate := range domain.AllStatuses {
		if _, ok := edges[candidate]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// Binding describes which entity relations a report currently holds.
type Binding struct {
	HasDepartment bool
	HasTask       bool
	// ForeignTask is set when the bound task's officer belongs to a
	// department other than the report's.
	ForeignTask bool
}

func BindingOf(r domain.Report) Binding {
	return Binding{HasDepartment: r.HasDepartment(), HasTask: r.HasTask()}
}

// CheckPrerequisites verifies the entity state required to enter target.
func CheckPrerequisites(target domain.Status, b Binding) error {
	if target == domain.StatusAssignedToDepartment && !b.HasDepartment {
		return domain.MissingPrerequisiteError{Requirement: "department", Target: string(target)}
	}
	if target.RequiresOfficer() && !b.HasTask {
		return domain.MissingPrerequisiteError{Requirement: "officer assignment", Target: string(target)}
	}
	if target.RequiresOfficer() && b.ForeignTask {
		return domain.MissingPrerequisiteError{Requirement: "officer of the report's department", Target: string(target)}
	}
	return nil
}

// ReopenGrant is the capability that unlocks the rework edge. Only
// AuthorizeReopen can mint a usable grant.
type ReopenGrant struct {
	reportID int64
	appealID int64
}

func (g ReopenGrant) AppealID() int64 { return g.appealID }
func (g ReopenGrant) ReportID() int64 { return g.reportID }

// AuthorizeReopen mints a grant from an approved appeal that requires rework.
func AuthorizeReopen(a domain.Appeal) (ReopenGrant, error) {
	if a.ID == 0 || a.ReportID == 0 {
		return ReopenGrant{}, domain.ValidationError{Field: "appeal", Reason: "appeal is not persisted"}
	}
	if a.Status != domain.AppealApproved {
		return ReopenGrant{}, domain.ValidationError{Field: "appeal", Reason: fmt.Sprintf("appeal %d is %s, not approved", a.ID, a.Status)}
	}
	if !a.RequiresRework {
		return ReopenGrant{}, domain.ValidationError{Field: "requires_rework", Reason: "appeal does not require rework"}
	}
	return ReopenGrant{reportID: a.ReportID, appealID: a.ID}, nil
}

// ValidateReopen checks the rework edge from -> IN_PROGRESS for reportID.
func ValidateReopen(reportID int64, from domain.Status, g ReopenGrant) error {
	if g.appealID == 0 || g.reportID != reportID {
		return domain.ValidationError{Field: "grant", Reason: fmt.Sprintf("no reopen grant for report %d", reportID)}
	}
	if _, ok := reopenable[from]; ok {
		return nil
	}
	if from.Terminal() {
		return domain.TerminalStateError{Status: string(from)}
	}
	return domain.InvalidTransitionError{From: string(from), To: string(domain.StatusInProgress)}
}
