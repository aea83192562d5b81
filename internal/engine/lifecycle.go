package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
	"civicflow/internal/engine/transition"
	"civicflow/internal/repo"
)

// DefaultPriority is used when AssignOfficer is called with priority 0.
const DefaultPriority = 3

// ReportInput carries a citizen submission. AI fields are stored verbatim.
type ReportInput struct {
	Title        string
	Description  string
	Location     string
	CitizenID    string
	Category     *string
	Severity     *string
	AICategory   *string
	AISeverity   *string
	AIConfidence *float64
	MediaURLs    []string
}

// SubmitReport records a new report in RECEIVED.
func (e Engine) SubmitReport(ctx context.Context, in ReportInput, actor domain.Actor) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	if strings.TrimSpace(in.Title) == "" {
		return domain.Report{}, domain.ValidationError{Field: "title", Reason: "title is required"}
	}
	if in.CitizenID == "" {
		in.CitizenID = actor.ID
	}
	if in.AIConfidence != nil && (*in.AIConfidence < 0 || *in.AIConfidence > 1) {
		return domain.Report{}, domain.ValidationError{Field: "ai_confidence", Reason: "must be within 0..1"}
	}
	if in.Category != nil && !e.Config.AllowsCategory(*in.Category) {
		return domain.Report{}, domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", *in.Category)}
	}
	if in.Severity != nil && !e.Config.AllowsSeverity(*in.Severity) {
		return domain.Report{}, domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", *in.Severity)}
	}
	now := e.stamp()
	rep := domain.Report{
		Title:        strings.TrimSpace(in.Title),
		Description:  in.Description,
		Location:     in.Location,
		CitizenID:    in.CitizenID,
		Status:       domain.StatusReceived,
		Category:     in.Category,
		Severity:     in.Severity,
		AICategory:   in.AICategory,
		AISeverity:   in.AISeverity,
		AIConfidence: in.AIConfidence,
		MediaURLs:    in.MediaURLs,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := e.inTx(ctx, "report", 0, func(tx *sql.Tx) error {
		var err error
		rep, err = e.Repo.InsertReport(ctx, tx, rep)
		if err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.ReportSubmitted,
			Actor:        actor,
			ResourceType: "report",
			ResourceID:   rep.ID,
			ReportID:     rep.ID,
			Metadata:     audit.Metadata{"status": rep.Status, "citizen_id": rep.CitizenID},
		})
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "report submitted", "report_id", rep.ID, "actor", actor.ID)
	return rep, nil
}

// applyStatus persists a validated transition and its history entry.
func (e Engine) applyStatus(ctx context.Context, tx *sql.Tx, rep domain.Report, to domain.Status, actor domain.Actor, notes string) (domain.Report, error) {
	from := rep.Status
	now := e.stamp()
	rep.Status = to
	rep.UpdatedAt = now
	updated, err := e.Repo.UpdateReport(ctx, tx, rep)
	if err != nil {
		return rep, err
	}
	if _, err := e.Repo.AppendHistory(ctx, tx, domain.StatusHistoryEntry{
		ReportID:  rep.ID,
		OldStatus: from,
		NewStatus: to,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Notes:     notes,
		ChangedAt: now,
	}); err != nil {
		return rep, fmt.Errorf("append history: %w", err)
	}
	return updated, nil
}

func (e Engine) assignDepartmentTx(ctx context.Context, tx *sql.Tx, rep domain.Report, departmentID int64, actor domain.Actor, notes string) (domain.Report, error) {
	if err := transition.Validate(rep.Status, domain.StatusAssignedToDepartment); err != nil {
		return rep, err
	}
	dept, err := e.Repo.GetDepartmentTx(ctx, tx, departmentID)
	if err != nil {
		return rep, notFound(err, "department", departmentID)
	}
	from := rep.Status
	meta := audit.Metadata{"department_id": dept.ID, "from": from, "to": domain.StatusAssignedToDepartment}
	moved := rep.DepartmentID != nil && *rep.DepartmentID != dept.ID
	if moved {
		meta["previous_department_id"] = *rep.DepartmentID
	}
	rep.DepartmentID = &dept.ID
	if err := transition.CheckPrerequisites(domain.StatusAssignedToDepartment, transition.BindingOf(rep)); err != nil {
		return rep, err
	}
	if moved && rep.Task != nil {
		if err := e.Repo.DeleteTask(ctx, tx, rep.ID); err != nil {
			return rep, fmt.Errorf("unbind task: %w", err)
		}
		meta["unbound_officer_id"] = rep.Task.AssignedTo
		rep.Task = nil
	}
	rep, err = e.applyStatus(ctx, tx, rep, domain.StatusAssignedToDepartment, actor, notes)
	if err != nil {
		return rep, err
	}
	return rep, e.record(ctx, tx, audit.Entry{
		Action:       audit.ReportDeptAssigned,
		Actor:        actor,
		ResourceType: "report",
		ResourceID:   rep.ID,
		ReportID:     rep.ID,
		Metadata:     meta,
	})
}

// binding reads the entity relations of rep, including whether its task
// officer still belongs to the report's department.
func (e Engine) binding(ctx context.Context, tx *sql.Tx, rep domain.Report) (transition.Binding, error) {
	b := transition.BindingOf(rep)
	if rep.Task == nil || rep.DepartmentID == nil {
		return b, nil
	}
	o, err := e.Repo.GetOfficerTx(ctx, tx, rep.Task.AssignedTo)
	if err != nil {
		return b, notFound(err, "officer", rep.Task.AssignedTo)
	}
	b.ForeignTask = o.DepartmentID != *rep.DepartmentID
	return b, nil
}

// AssignDepartment routes a report to a department.
func (e Engine) AssignDepartment(ctx context.Context, reportID, departmentID int64, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		rep, err = e.assignDepartmentTx(ctx, tx, cur, departmentID, actor, notes)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "department assigned", "report_id", reportID, "department_id", departmentID, "actor", actor.ID)
	return rep, nil
}

func (e Engine) assignOfficerTx(ctx context.Context, tx *sql.Tx, rep domain.Report, officerID int64, priority int, actor domain.Actor, notes string) (domain.Report, error) {
	if !rep.HasDepartment() {
		return rep, domain.MissingPrerequisiteError{Requirement: "department", Target: string(domain.StatusAssignedToOfficer)}
	}
	if err := transition.Validate(rep.Status, domain.StatusAssignedToOfficer); err != nil {
		return rep, err
	}
	officer, err := e.Repo.GetOfficerTx(ctx, tx, officerID)
	if err != nil {
		return rep, notFound(err, "officer", officerID)
	}
	if officer.DepartmentID != *rep.DepartmentID {
		return rep, domain.ValidationError{Field: "officer_id", Reason: fmt.Sprintf("officer %d is not in department %d", officerID, *rep.DepartmentID)}
	}
	if !officer.Active {
		return rep, domain.ValidationError{Field: "officer_id", Reason: fmt.Sprintf("officer %d is inactive", officerID)}
	}
	var previous int64
	if rep.Task != nil {
		previous = rep.Task.AssignedTo
	}
	task, err := e.Repo.UpsertTask(ctx, tx, domain.Task{
		ReportID:   rep.ID,
		AssignedTo: officer.ID,
		AssignedBy: actor.ID,
		Priority:   priority,
		AssignedAt: e.stamp(),
	})
	if err != nil {
		return rep, fmt.Errorf("bind task: %w", err)
	}
	rep.Task = &task
	if err := transition.CheckPrerequisites(domain.StatusAssignedToOfficer, transition.BindingOf(rep)); err != nil {
		return rep, err
	}
	from := rep.Status
	rep, err = e.applyStatus(ctx, tx, rep, domain.StatusAssignedToOfficer, actor, notes)
	if err != nil {
		return rep, err
	}
	meta := audit.Metadata{"officer_id": officer.ID, "priority": priority, "from": from, "to": rep.Status}
	if previous != 0 && previous != officer.ID {
		meta["previous_officer_id"] = previous
	}
	return rep, e.record(ctx, tx, audit.Entry{
		Action:       audit.ReportOfficerAssigned,
		Actor:        actor,
		ResourceType: "report",
		ResourceID:   rep.ID,
		ReportID:     rep.ID,
		Metadata:     meta,
	})
}

// AssignOfficer binds an officer task to a report that already has a department.
func (e Engine) AssignOfficer(ctx context.Context, reportID, officerID int64, priority int, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	if priority == 0 {
		priority = DefaultPriority
	}
	if priority < 1 || priority > 5 {
		return domain.Report{}, domain.ValidationError{Field: "priority", Reason: "priority must be within 1..5"}
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		rep, err = e.assignOfficerTx(ctx, tx, cur, officerID, priority, actor, notes)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "officer assigned", "report_id", reportID, "officer_id", officerID, "actor", actor.ID)
	return rep, nil
}

// stampTask sets the task timestamp belonging to status once.
func stampTask(t *domain.Task, status domain.Status, now string) bool {
	if t == nil {
		return false
	}
	var slot **string
	switch status {
	case domain.StatusAcknowledged:
		slot = &t.AcknowledgedAt
	case domain.StatusInProgress:
		slot = &t.StartedAt
	case domain.StatusResolved:
		slot = &t.ResolvedAt
	default:
		return false
	}
	if *slot != nil {
		return false
	}
	v := now
	*slot = &v
	return true
}

func (e Engine) updateStatusTx(ctx context.Context, tx *sql.Tx, rep domain.Report, to domain.Status, actor domain.Actor, notes string) (domain.Report, error) {
	if err := transition.Validate(rep.Status, to); err != nil {
		return rep, err
	}
	b, err := e.binding(ctx, tx, rep)
	if err != nil {
		return rep, err
	}
	if err := transition.CheckPrerequisites(to, b); err != nil {
		return rep, err
	}
	if stampTask(rep.Task, to, e.stamp()) {
		if err := e.Repo.UpdateTaskStamps(ctx, tx, *rep.Task); err != nil {
			return rep, fmt.Errorf("stamp task: %w", err)
		}
	}
	from := rep.Status
	rep, err = e.applyStatus(ctx, tx, rep, to, actor, notes)
	if err != nil {
		return rep, err
	}
	return rep, e.record(ctx, tx, audit.Entry{
		Action:       audit.ReportStatusChanged,
		Actor:        actor,
		ResourceType: "report",
		ResourceID:   rep.ID,
		ReportID:     rep.ID,
		Metadata:     audit.Metadata{"from": from, "to": to},
	})
}

// UpdateStatus is the general guarded transition.
func (e Engine) UpdateStatus(ctx context.Context, reportID int64, to domain.Status, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		rep, err = e.updateStatusTx(ctx, tx, cur, to, actor, notes)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "report status changed", "report_id", reportID, "status", to, "actor", actor.ID)
	return rep, nil
}

// Acknowledge records that the assigned officer has seen the task.
func (e Engine) Acknowledge(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusAcknowledged, actor, notes)
}

// StartWork moves an acknowledged report into IN_PROGRESS.
func (e Engine) StartWork(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusInProgress, actor, notes)
}

// MarkForVerification hands finished work to a supervisor for sign-off.
func (e Engine) MarkForVerification(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusPendingVerification, actor, notes)
}

// Resolve closes verified work and stamps the task resolution time.
func (e Engine) Resolve(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusResolved, actor, notes)
}

// Reject closes a report that failed verification.
func (e Engine) Reject(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusRejected, actor, notes)
}

// PutOnHold parks a report. Resume or ResumeTo take it back out.
func (e Engine) PutOnHold(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	return e.UpdateStatus(ctx, reportID, domain.StatusOnHold, actor, notes)
}

// resumeTargets maps the status a report held before ON_HOLD to the exit
// edge that returns it closest to where it was.
var resumeTargets = map[domain.Status]domain.Status{
	domain.StatusAssignedToDepartment: domain.StatusAssignedToDepartment,
	domain.StatusAssignedToOfficer:    domain.StatusAssignedToOfficer,
	domain.StatusAcknowledged:         domain.StatusAssignedToOfficer,
	domain.StatusInProgress:           domain.StatusInProgress,
	domain.StatusPendingVerification:  domain.StatusInProgress,
}

func (e Engine) resumeTarget(ctx context.Context, tx *sql.Tx, rep domain.Report) (domain.Status, error) {
	if rep.Status.Terminal() {
		return "", domain.TerminalStateError{Status: string(rep.Status)}
	}
	if rep.Status != domain.StatusOnHold {
		return "", domain.InvalidTransitionError{From: string(rep.Status), Reason: "report is not on hold"}
	}
	entry, err := e.Repo.LastEntryInto(ctx, tx, rep.ID, domain.StatusOnHold)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}
	if err == nil {
		if target, ok := resumeTargets[entry.OldStatus]; ok {
			return target, nil
		}
	}
	if rep.HasTask() {
		return domain.StatusAssignedToOfficer, nil
	}
	return domain.StatusAssignedToDepartment, nil
}

// Resume returns an ON_HOLD report to the pipeline position it was held from.
func (e Engine) Resume(ctx context.Context, reportID int64, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		target, err := e.resumeTarget(ctx, tx, cur)
		if err != nil {
			return err
		}
		rep, err = e.updateStatusTx(ctx, tx, cur, target, actor, notes)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "report resumed", "report_id", reportID, "status", rep.Status, "actor", actor.ID)
	return rep, nil
}

// ResumeTo leaves ON_HOLD towards an explicit target.
func (e Engine) ResumeTo(ctx context.Context, reportID int64, target domain.Status, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		if cur.Status != domain.StatusOnHold && !cur.Status.Terminal() {
			return domain.InvalidTransitionError{From: string(cur.Status), To: string(target), Reason: "report is not on hold"}
		}
		rep, err = e.updateStatusTx(ctx, tx, cur, target, actor, notes)
		return err
	})
	if err != nil {
		return domain.Report{}, err
	}
	return rep, nil
}

// Classify sets the manual category/severity and moves the report to
// CLASSIFIED. From RECEIVED the walk passes through PENDING_CLASSIFICATION so
// history stays a path of the graph.
func (e Engine) Classify(ctx context.Context, reportID int64, category, severity string, actor domain.Actor, notes string) (domain.Report, error) {
	if err := validateActor(actor); err != nil {
		return domain.Report{}, err
	}
	category, severity = strings.TrimSpace(category), strings.TrimSpace(severity)
	if category == "" && severity == "" {
		return domain.Report{}, domain.ValidationError{Field: "category", Reason: "category or severity is required"}
	}
	if category != "" && !e.Config.AllowsCategory(category) {
		return domain.Report{}, domain.ValidationError{Field: "category", Reason: fmt.Sprintf("unknown category %q", category)}
	}
	if severity != "" && !e.Config.AllowsSeverity(severity) {
		return domain.Report{}, domain.ValidationError{Field: "severity", Reason: fmt.Sprintf("unknown severity %q", severity)}
	}
	var rep domain.Report
	err := e.inTx(ctx, "report", reportID, func(tx *sql.Tx) error {
		cur, err := e.loadReport(ctx, tx, reportID)
		if err != nil {
			return err
		}
		from := cur.Status
		var path []domain.Status
		switch cur.Status {
		case domain.StatusReceived:
			path = []domain.Status{domain.StatusPendingClassification, domain.StatusClassified}
		default:
			path = []domain.Status{domain.StatusClassified}
		}
		at := cur.Status
		for _, next := range path {
			if err := transition.Validate(at, next); err != nil {
				return err
			}
			at = next
		}
		if category != "" {
			cur.Category = &category
		}
		if severity != "" {
			cur.Severity = &severity
		}
		for _, next := range path {
			cur, err = e.applyStatus(ctx, tx, cur, next, actor, notes)
			if err != nil {
				return err
			}
		}
		rep = cur
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.ReportClassified,
			Actor:        actor,
			ResourceType: "report",
			ResourceID:   rep.ID,
			ReportID:     rep.ID,
			Metadata: audit.Metadata{
				"from":     from,
				"to":       rep.Status,
				"category": rep.EffectiveCategory(e.defaultCategory()),
				"severity": rep.EffectiveSeverity(e.defaultSeverity()),
			},
		})
	})
	if err != nil {
		return domain.Report{}, err
	}
	e.log().InfoContext(ctx, "report classified", "report_id", reportID, "actor", actor.ID)
	return rep, nil
}

func (e Engine) defaultCategory() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Classification.DefaultCategory
}

func (e Engine) defaultSeverity() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Classification.DefaultSeverity
}

// EffectiveClassification resolves manual ?? ai ?? configured default.
func (e Engine) EffectiveClassification(r domain.Report) (category, severity string) {
	return r.EffectiveCategory(e.defaultCategory()), r.EffectiveSeverity(e.defaultSeverity())
}

// GetReport loads a report with its task.
func (e Engine) GetReport(ctx context.Context, id int64) (domain.Report, error) {
	rep, err := e.Repo.GetReport(ctx, id)
	if err != nil {
		return rep, notFound(err, "report", id)
	}
	return rep, nil
}

func (e Engine) ListReports(ctx context.Context, f repo.ReportFilters) ([]domain.Report, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", f.Status)}
	}
	reps, err := e.Repo.ListReports(ctx, f)
	return reps, internal(err, "list reports")
}

// History returns the status history of a report, oldest first.
func (e Engine) History(ctx context.Context, reportID int64) ([]domain.StatusHistoryEntry, error) {
	if _, err := e.GetReport(ctx, reportID); err != nil {
		return nil, err
	}
	h, err := e.Repo.ListHistory(ctx, reportID)
	return h, internal(err, "list history")
}

// NextStates returns the statuses reachable from the report's current one.
func (e Engine) NextStates(ctx context.Context, reportID int64) ([]domain.Status, error) {
	rep, err := e.GetReport(ctx, reportID)
	if err != nil {
		return nil, err
	}
	return transition.NextStates(rep.Status), nil
}
