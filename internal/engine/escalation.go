package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
	"civicflow/internal/engine/transition"
	"civicflow/internal/repo"
)

type EscalationInput struct {
	ReportID    int64
	Level       int
	Reason      string
	Description string
	// SLAHours overrides the configured SLA for Level when set.
	SLAHours *int
}

func validLevel(level int) error {
	if level < domain.MinEscalationLevel || level > domain.MaxEscalationLevel {
		return domain.ValidationError{Field: "level", Reason: fmt.Sprintf("level must be within %d..%d", domain.MinEscalationLevel, domain.MaxEscalationLevel)}
	}
	return nil
}

func (e Engine) slaHours(in EscalationInput) (int, error) {
	if in.SLAHours != nil {
		if *in.SLAHours <= 0 {
			return 0, domain.ValidationError{Field: "sla_hours", Reason: "sla hours must be positive"}
		}
		return *in.SLAHours, nil
	}
	h := e.Config.SLAHoursFor(in.Level)
	if h <= 0 {
		return 0, domain.ValidationError{Field: "sla_hours", Reason: fmt.Sprintf("no sla configured for level %d", in.Level)}
	}
	return h, nil
}

// CreateEscalation hands a stalled report to a higher authority level with
// a deadline of now + sla hours.
func (e Engine) CreateEscalation(ctx context.Context, in EscalationInput, actor domain.Actor) (domain.Escalation, error) {
	if err := validateActor(actor); err != nil {
		return domain.Escalation{}, err
	}
	if err := validLevel(in.Level); err != nil {
		return domain.Escalation{}, err
	}
	if strings.TrimSpace(in.Reason) == "" {
		return domain.Escalation{}, domain.ValidationError{Field: "reason", Reason: "reason is required"}
	}
	hours, err := e.slaHours(in)
	if err != nil {
		return domain.Escalation{}, err
	}
	created := e.now().UTC()
	now := domain.FormatTime(created)
	esc := domain.Escalation{
		ReportID:     in.ReportID,
		Level:        in.Level,
		InitialLevel: in.Level,
		Reason:       strings.TrimSpace(in.Reason),
		Description:  in.Description,
		Status:       domain.EscalationEscalated,
		SLAHours:     hours,
		SLADeadline:  domain.FormatTime(created.Add(time.Duration(hours) * time.Hour)),
		EscalatedBy:  actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = e.inTx(ctx, "report", in.ReportID, func(tx *sql.Tx) error {
		rep, err := e.loadReport(ctx, tx, in.ReportID)
		if err != nil {
			return err
		}
		if rep.Status.Terminal() {
			return domain.TerminalStateError{Status: string(rep.Status)}
		}
		esc, err = e.Repo.InsertEscalation(ctx, tx, esc)
		if err != nil {
			return fmt.Errorf("insert escalation: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.EscalationCreated,
			Actor:        actor,
			ResourceType: "escalation",
			ResourceID:   esc.ID,
			ReportID:     esc.ReportID,
			Metadata:     audit.Metadata{"level": esc.Level, "sla_hours": esc.SLAHours, "sla_deadline": esc.SLADeadline},
		})
	})
	if err != nil {
		return domain.Escalation{}, err
	}
	e.log().InfoContext(ctx, "escalation created", "escalation_id", esc.ID, "report_id", esc.ReportID, "level", esc.Level)
	return esc, nil
}

type EscalationUpdate struct {
	Status      domain.EscalationStatus
	Response    *string
	ActionTaken *string
	// Level lowers the level on de-escalation.
	Level *int
}

// AcknowledgeEscalation moves escalated -> acknowledged.
func (e Engine) AcknowledgeEscalation(ctx context.Context, id int64, actor domain.Actor) (domain.Escalation, error) {
	return e.UpdateEscalation(ctx, id, EscalationUpdate{Status: domain.EscalationAcknowledged}, actor)
}

// UpdateEscalation applies one step of the escalation graph.
func (e Engine) UpdateEscalation(ctx context.Context, id int64, in EscalationUpdate, actor domain.Actor) (domain.Escalation, error) {
	if err := validateActor(actor); err != nil {
		return domain.Escalation{}, err
	}
	if _, err := domain.ParseEscalationStatus(string(in.Status)); err != nil {
		return domain.Escalation{}, err
	}
	if in.Level != nil && in.Status != domain.EscalationDeEscalated {
		return domain.Escalation{}, domain.ValidationError{Field: "level", Reason: "level can only be lowered when de-escalating"}
	}
	var esc domain.Escalation
	err := e.inTx(ctx, "escalation", id, func(tx *sql.Tx) error {
		var err error
		esc, err = e.loadEscalation(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := transition.ValidateEscalation(esc.Status, in.Status); err != nil {
			return err
		}
		prior := esc.Status
		meta := audit.Metadata{"from": prior, "to": in.Status}
		if in.Level != nil {
			if *in.Level < domain.MinEscalationLevel || *in.Level >= esc.Level {
				return domain.ValidationError{Field: "level", Reason: fmt.Sprintf("level must be within %d..%d", domain.MinEscalationLevel, esc.Level-1)}
			}
			meta["previous_level"] = esc.Level
			meta["level"] = *in.Level
			esc.Level = *in.Level
		}
		now := e.stamp()
		esc.Status = in.Status
		esc.UpdatedAt = now
		if in.Response != nil {
			esc.Response = in.Response
		}
		if in.ActionTaken != nil {
			esc.ActionTaken = in.ActionTaken
		}
		if in.Status == domain.EscalationAcknowledged {
			esc.AcknowledgedBy = &actor.ID
			esc.AcknowledgedAt = &now
		}
		if in.Status.Terminal() {
			esc.IsOverdue = false
			esc.ResolvedAt = &now
		}
		if err := e.Repo.UpdateEscalation(ctx, tx, esc, prior); err != nil {
			return err
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.EscalationUpdated,
			Actor:        actor,
			ResourceType: "escalation",
			ResourceID:   esc.ID,
			ReportID:     esc.ReportID,
			Metadata:     meta,
		})
	})
	if err != nil {
		return domain.Escalation{}, err
	}
	e.log().InfoContext(ctx, "escalation updated", "escalation_id", id, "status", esc.Status, "actor", actor.ID)
	return esc, nil
}

// RaiseEscalation moves an open escalation to a higher level. The deadline
// is kept.
func (e Engine) RaiseEscalation(ctx context.Context, id int64, level int, reason string, actor domain.Actor) (domain.Escalation, error) {
	if err := validateActor(actor); err != nil {
		return domain.Escalation{}, err
	}
	if err := validLevel(level); err != nil {
		return domain.Escalation{}, err
	}
	var esc domain.Escalation
	err := e.inTx(ctx, "escalation", id, func(tx *sql.Tx) error {
		var err error
		esc, err = e.loadEscalation(ctx, tx, id)
		if err != nil {
			return err
		}
		if esc.Status.Terminal() {
			return domain.TerminalStateError{Resource: "escalation", Status: string(esc.Status)}
		}
		if level <= esc.Level {
			return domain.ValidationError{Field: "level", Reason: fmt.Sprintf("level must be above current level %d", esc.Level)}
		}
		previous := esc.Level
		esc.Level = level
		esc.UpdatedAt = e.stamp()
		if err := e.Repo.UpdateEscalation(ctx, tx, esc, esc.Status); err != nil {
			return err
		}
		meta := audit.Metadata{"previous_level": previous, "level": level}
		if r := strings.TrimSpace(reason); r != "" {
			meta["reason"] = r
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.EscalationRaised,
			Actor:        actor,
			ResourceType: "escalation",
			ResourceID:   esc.ID,
			ReportID:     esc.ReportID,
			Metadata:     meta,
		})
	})
	if err != nil {
		return domain.Escalation{}, err
	}
	return esc, nil
}

// MarkOverdue flags every open escalation past its deadline and returns how
// many rows this run changed. Rows already flagged are left alone, so
// overlapping runs flag each escalation once.
func (e Engine) MarkOverdue(ctx context.Context) (int, error) {
	now := e.stamp()
	var flagged int
	err := e.inTx(ctx, "escalation", 0, func(tx *sql.Tx) error {
		ids, err := e.Repo.OverdueCandidates(ctx, tx, now)
		if err != nil {
			return fmt.Errorf("overdue candidates: %w", err)
		}
		for _, id := range ids {
			changed, err := e.Repo.FlagOverdue(ctx, tx, id, now)
			if err != nil {
				return fmt.Errorf("flag escalation %d: %w", id, err)
			}
			if !changed {
				continue
			}
			reportID, err := e.Repo.ReportIDOfEscalation(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := e.record(ctx, tx, audit.Entry{
				Action:       audit.EscalationOverdue,
				Actor:        domain.SystemActor,
				ResourceType: "escalation",
				ResourceID:   id,
				ReportID:     reportID,
				Metadata:     audit.Metadata{"swept_at": now},
			}); err != nil {
				return err
			}
			flagged++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if flagged > 0 {
		e.log().InfoContext(ctx, "escalations marked overdue", "count", flagged)
	}
	return flagged, nil
}

func (e Engine) loadEscalation(ctx context.Context, tx *sql.Tx, id int64) (domain.Escalation, error) {
	esc, err := e.Repo.GetEscalationTx(ctx, tx, id)
	if err != nil {
		return esc, notFound(err, "escalation", id)
	}
	return esc, nil
}

func (e Engine) GetEscalation(ctx context.Context, id int64) (domain.Escalation, error) {
	esc, err := e.Repo.GetEscalation(ctx, id)
	if err != nil {
		return esc, notFound(err, "escalation", id)
	}
	return esc, nil
}

func (e Engine) ListEscalations(ctx context.Context, f repo.EscalationFilters) ([]domain.Escalation, error) {
	if f.Status != "" {
		if _, err := domain.ParseEscalationStatus(string(f.Status)); err != nil {
			return nil, err
		}
	}
	escs, err := e.Repo.ListEscalations(ctx, f)
	return escs, internal(err, "list escalations")
}
