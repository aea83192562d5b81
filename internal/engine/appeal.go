package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
	"civicflow/internal/engine/transition"
	"civicflow/internal/repo"
)

type AppealInput struct {
	ReportID        int64
	AppealType      domain.AppealType
	Reason          string
	Evidence        *string
	RequestedAction *string
}

// SubmitAppeal opens an appeal against a report. Only one open appeal per
// report and type is allowed.
func (e Engine) SubmitAppeal(ctx context.Context, in AppealInput, actor domain.Actor) (domain.Appeal, error) {
	if err := validateActor(actor); err != nil {
		return domain.Appeal{}, err
	}
	if _, err := domain.ParseAppealType(string(in.AppealType)); err != nil {
		return domain.Appeal{}, err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return domain.Appeal{}, domain.ValidationError{Field: "reason", Reason: "reason is required"}
	}
	a := domain.Appeal{
		ReportID:        in.ReportID,
		AppealType:      in.AppealType,
		Status:          domain.AppealSubmitted,
		Reason:          strings.TrimSpace(in.Reason),
		Evidence:        in.Evidence,
		RequestedAction: in.RequestedAction,
		SubmittedBy:     actor.ID,
		CreatedAt:       e.stamp(),
	}
	err := e.inTx(ctx, "report", in.ReportID, func(tx *sql.Tx) error {
		if _, err := e.loadReport(ctx, tx, in.ReportID); err != nil {
			return err
		}
		open, err := e.Repo.HasOpenAppeal(ctx, tx, in.ReportID, in.AppealType)
		if err != nil {
			return err
		}
		if open {
			return domain.ValidationError{Field: "appeal_type", Reason: fmt.Sprintf("report %d already has an open %s appeal", in.ReportID, in.AppealType)}
		}
		a, err = e.Repo.InsertAppeal(ctx, tx, a)
		if err != nil {
			return fmt.Errorf("insert appeal: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.AppealSubmitted,
			Actor:        actor,
			ResourceType: "appeal",
			ResourceID:   a.ID,
			ReportID:     a.ReportID,
			Metadata:     audit.Metadata{"appeal_type": a.AppealType},
		})
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	e.log().InfoContext(ctx, "appeal submitted", "appeal_id", a.ID, "report_id", a.ReportID, "actor", actor.ID)
	return a, nil
}

func (e Engine) loadAppeal(ctx context.Context, tx *sql.Tx, id int64) (domain.Appeal, error) {
	a, err := e.Repo.GetAppealTx(ctx, tx, id)
	if err != nil {
		return a, notFound(err, "appeal", id)
	}
	return a, nil
}

// StartAppealReview moves a submitted appeal to under_review.
func (e Engine) StartAppealReview(ctx context.Context, appealID int64, actor domain.Actor) (domain.Appeal, error) {
	if err := validateActor(actor); err != nil {
		return domain.Appeal{}, err
	}
	var a domain.Appeal
	err := e.inTx(ctx, "appeal", appealID, func(tx *sql.Tx) error {
		var err error
		a, err = e.loadAppeal(ctx, tx, appealID)
		if err != nil {
			return err
		}
		if err := transition.ValidateAppeal(a.Status, domain.AppealUnderReview); err != nil {
			return err
		}
		prior := a.Status
		a.Status = domain.AppealUnderReview
		a.ReviewedBy = &actor.ID
		if err := e.Repo.UpdateAppeal(ctx, tx, a, prior); err != nil {
			return err
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.AppealReviewStarted,
			Actor:        actor,
			ResourceType: "appeal",
			ResourceID:   a.ID,
			ReportID:     a.ReportID,
			Metadata:     audit.Metadata{"from": prior, "to": a.Status},
		})
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	return a, nil
}

// Reassignment is an optional review payload that reroutes the report.
type Reassignment struct {
	DepartmentID *int64
	OfficerID    *int64
	Priority     int
}

func (r *Reassignment) empty() bool {
	return r == nil || (r.DepartmentID == nil && r.OfficerID == nil)
}

type ReviewInput struct {
	Decision       domain.Decision
	ReviewNotes    string
	ActionTaken    *string
	Reassignment   *Reassignment
	RequiresRework bool
}

func (in ReviewInput) validate() error {
	if _, err := domain.ParseDecision(string(in.Decision)); err != nil {
		return err
	}
	if strings.TrimSpace(in.ReviewNotes) == "" {
		return domain.ValidationError{Field: "review_notes", Reason: "review notes are required"}
	}
	if in.Decision == domain.DecisionRejected && (!in.Reassignment.empty() || in.RequiresRework) {
		return domain.ValidationError{Field: "decision", Reason: "a rejected appeal cannot reassign or reopen"}
	}
	if !in.Reassignment.empty() && in.RequiresRework {
		return domain.ValidationError{Field: "requires_rework", Reason: "choose either reassignment or rework"}
	}
	if in.Reassignment != nil && in.Reassignment.Priority != 0 && (in.Reassignment.Priority < 1 || in.Reassignment.Priority > 5) {
		return domain.ValidationError{Field: "priority", Reason: "priority must be within 1..5"}
	}
	return nil
}

// ReviewAppeal decides an appeal. Approval side effects on the report run in
// the same transaction as the decision.
func (e Engine) ReviewAppeal(ctx context.Context, appealID int64, in ReviewInput, actor domain.Actor) (domain.Appeal, error) {
	if err := validateActor(actor); err != nil {
		return domain.Appeal{}, err
	}
	if err := in.validate(); err != nil {
		return domain.Appeal{}, err
	}
	var a domain.Appeal
	err := e.inTx(ctx, "appeal", appealID, func(tx *sql.Tx) error {
		var err error
		a, err = e.loadAppeal(ctx, tx, appealID)
		if err != nil {
			return err
		}
		prior := a.Status
		if a.Status == domain.AppealSubmitted {
			if err := transition.ValidateAppeal(a.Status, domain.AppealUnderReview); err != nil {
				return err
			}
			a.Status = domain.AppealUnderReview
		}
		target := domain.AppealRejected
		if in.Decision == domain.DecisionApproved {
			target = domain.AppealApproved
		}
		if err := transition.ValidateAppeal(a.Status, target); err != nil {
			return err
		}
		now := e.stamp()
		notes := strings.TrimSpace(in.ReviewNotes)
		a.Status = target
		a.ReviewedBy = &actor.ID
		a.ReviewNotes = &notes
		a.ActionTaken = in.ActionTaken
		a.RequiresRework = in.RequiresRework
		a.ReviewedAt = &now
		if in.Reassignment != nil {
			a.ReassignDepartmentID = in.Reassignment.DepartmentID
			a.ReassignOfficerID = in.Reassignment.OfficerID
		}
		if err := e.Repo.UpdateAppeal(ctx, tx, a, prior); err != nil {
			return err
		}
		var effect string
		if target == domain.AppealApproved {
			effect, err = e.applyAppealOutcome(ctx, tx, a, in, actor)
			if err != nil {
				return err
			}
		}
		meta := audit.Metadata{"from": prior, "to": a.Status, "decision": in.Decision}
		if effect != "" {
			meta["effect"] = effect
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.AppealReviewed,
			Actor:        actor,
			ResourceType: "appeal",
			ResourceID:   a.ID,
			ReportID:     a.ReportID,
			Metadata:     meta,
		})
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	e.log().InfoContext(ctx, "appeal reviewed", "appeal_id", appealID, "decision", in.Decision, "actor", actor.ID)
	return a, nil
}

// applyAppealOutcome performs the report mutation an approved appeal asks for.
func (e Engine) applyAppealOutcome(ctx context.Context, tx *sql.Tx, a domain.Appeal, in ReviewInput, actor domain.Actor) (string, error) {
	if in.Reassignment.empty() && !in.RequiresRework {
		return "", nil
	}
	rep, err := e.Repo.GetReportTx(ctx, tx, a.ReportID)
	if err != nil {
		return "", notFound(err, "report", a.ReportID)
	}
	note := fmt.Sprintf("appeal #%d", a.ID)
	if in.RequiresRework {
		grant, err := transition.AuthorizeReopen(a)
		if err != nil {
			return "", err
		}
		if _, err := e.reopenTx(ctx, tx, rep, grant, actor, note+": rework"); err != nil {
			return "", err
		}
		return "reopened", nil
	}
	r := in.Reassignment
	if r.DepartmentID != nil {
		if rep, err = e.holdIfNeeded(ctx, tx, rep, domain.StatusAssignedToDepartment, actor, note); err != nil {
			return "", err
		}
		if rep, err = e.assignDepartmentTx(ctx, tx, rep, *r.DepartmentID, actor, note+": reassignment"); err != nil {
			return "", err
		}
	}
	if r.OfficerID != nil {
		priority := r.Priority
		if priority == 0 {
			priority = DefaultPriority
			if rep.Task != nil {
				priority = rep.Task.Priority
			}
		}
		if rep, err = e.holdIfNeeded(ctx, tx, rep, domain.StatusAssignedToOfficer, actor, note); err != nil {
			return "", err
		}
		if _, err = e.assignOfficerTx(ctx, tx, rep, *r.OfficerID, priority, actor, note+": reassignment"); err != nil {
			return "", err
		}
	}
	return "reassigned", nil
}

// holdIfNeeded parks a report in ON_HOLD when target is not directly
// reachable, since every assignment edge leaves from ON_HOLD.
func (e Engine) holdIfNeeded(ctx context.Context, tx *sql.Tx, rep domain.Report, target domain.Status, actor domain.Actor, note string) (domain.Report, error) {
	if transition.Allowed(rep.Status, target) {
		return rep, nil
	}
	if rep.Status.Terminal() {
		return rep, domain.TerminalStateError{Status: string(rep.Status)}
	}
	return e.updateStatusTx(ctx, tx, rep, domain.StatusOnHold, actor, note+": held for reassignment")
}

// reopenTx walks the grant-gated rework edge back into IN_PROGRESS.
func (e Engine) reopenTx(ctx context.Context, tx *sql.Tx, rep domain.Report, grant transition.ReopenGrant, actor domain.Actor, notes string) (domain.Report, error) {
	if err := transition.ValidateReopen(rep.ID, rep.Status, grant); err != nil {
		return rep, err
	}
	b, err := e.binding(ctx, tx, rep)
	if err != nil {
		return rep, err
	}
	if err := transition.CheckPrerequisites(domain.StatusInProgress, b); err != nil {
		return rep, err
	}
	if rep.Task.ResolvedAt != nil {
		rep.Task.ResolvedAt = nil
		if err := e.Repo.UpdateTaskStamps(ctx, tx, *rep.Task); err != nil {
			return rep, fmt.Errorf("clear resolution stamp: %w", err)
		}
	}
	from := rep.Status
	rep, err = e.applyStatus(ctx, tx, rep, domain.StatusInProgress, actor, notes)
	if err != nil {
		return rep, err
	}
	return rep, e.record(ctx, tx, audit.Entry{
		Action:       audit.ReportReopened,
		Actor:        actor,
		ResourceType: "report",
		ResourceID:   rep.ID,
		ReportID:     rep.ID,
		Metadata:     audit.Metadata{"from": from, "to": rep.Status, "appeal_id": grant.AppealID()},
	})
}

// WithdrawAppeal lets the submitter retract an appeal nobody has picked up.
func (e Engine) WithdrawAppeal(ctx context.Context, appealID int64, actor domain.Actor) (domain.Appeal, error) {
	if err := validateActor(actor); err != nil {
		return domain.Appeal{}, err
	}
	var a domain.Appeal
	err := e.inTx(ctx, "appeal", appealID, func(tx *sql.Tx) error {
		var err error
		a, err = e.loadAppeal(ctx, tx, appealID)
		if err != nil {
			return err
		}
		if a.SubmittedBy != actor.ID {
			return domain.ValidationError{Field: "actor", Reason: "only the submitter may withdraw an appeal"}
		}
		if err := transition.ValidateAppeal(a.Status, domain.AppealWithdrawn); err != nil {
			return err
		}
		prior := a.Status
		a.Status = domain.AppealWithdrawn
		if err := e.Repo.UpdateAppeal(ctx, tx, a, prior); err != nil {
			return err
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.AppealWithdrawn,
			Actor:        actor,
			ResourceType: "appeal",
			ResourceID:   a.ID,
			ReportID:     a.ReportID,
			Metadata:     audit.Metadata{"from": prior, "to": a.Status},
		})
	})
	if err != nil {
		return domain.Appeal{}, err
	}
	return a, nil
}

func (e Engine) GetAppeal(ctx context.Context, id int64) (domain.Appeal, error) {
	a, err := e.Repo.GetAppeal(ctx, id)
	if err != nil {
		return a, notFound(err, "appeal", id)
	}
	return a, nil
}

func (e Engine) ListAppeals(ctx context.Context, f repo.AppealFilters) ([]domain.Appeal, error) {
	appeals, err := e.Repo.ListAppeals(ctx, f)
	return appeals, internal(err, "list appeals")
}
