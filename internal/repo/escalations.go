package repo

import (
	"context"
	"database/sql"

	"civicflow/internal/domain"
)

const escalationColumns = `id,report_id,level,initial_level,reason,COALESCE(description,''),status,sla_hours,sla_deadline,is_overdue,
response,action_taken,escalated_by,acknowledged_by,acknowledged_at,resolved_at,created_at,updated_at`

func scanEscalation(row rowScanner) (domain.Escalation, error) {
	var e domain.Escalation
	var status string
	var overdue int
	var response, actionTaken, ackBy, ackAt, resolvedAt sql.NullString
	err := row.Scan(&e.ID, &e.ReportID, &e.Level, &e.InitialLevel, &e.Reason, &e.Description, &status, &e.SLAHours, &e.SLADeadline, &overdue,
		&response, &actionTaken, &e.EscalatedBy, &ackBy, &ackAt, &resolvedAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.Status = domain.EscalationStatus(status)
	e.IsOverdue = overdue != 0
	e.Response = stringPtr(response)
	e.ActionTaken = stringPtr(actionTaken)
	e.AcknowledgedBy = stringPtr(ackBy)
	e.AcknowledgedAt = stringPtr(ackAt)
	e.ResolvedAt = stringPtr(resolvedAt)
	return e, nil
}

func (r Repo) InsertEscalation(ctx context.Context, tx *sql.Tx, e domain.Escalation) (domain.Escalation, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO escalations(report_id,level,initial_level,reason,description,status,sla_hours,sla_deadline,is_overdue,escalated_by,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ReportID, e.Level, e.InitialLevel, e.Reason, nullable(e.Description), string(e.Status), e.SLAHours, e.SLADeadline,
		boolInt(e.IsOverdue), e.EscalatedBy, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return e, err
	}
	e.ID, err = res.LastInsertId()
	return e, err
}

// UpdateEscalation persists mutable fields guarded by the expected prior status.
func (r Repo) UpdateEscalation(ctx context.Context, tx *sql.Tx, e domain.Escalation, prior domain.EscalationStatus) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE escalations SET level=?, status=?, is_overdue=?, response=?, action_taken=?, acknowledged_by=?,
acknowledged_at=?, resolved_at=?, updated_at=? WHERE id=? AND status=?`,
		e.Level, string(e.Status), boolInt(e.IsOverdue), nullableStringPtr(e.Response), nullableStringPtr(e.ActionTaken),
		nullableStringPtr(e.AcknowledgedBy), nullableStringPtr(e.AcknowledgedAt), nullableStringPtr(e.ResolvedAt), e.UpdatedAt,
		e.ID, string(prior))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetEscalation(ctx context.Context, id int64) (domain.Escalation, error) {
	return r.GetEscalationTx(ctx, nil, id)
}

func (r Repo) GetEscalationTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Escalation, error) {
	e, err := scanEscalation(r.conn(tx).QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalations WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

type EscalationFilters struct {
	ReportID    int64
	Status      domain.EscalationStatus
	OverdueOnly bool
	OpenOnly    bool
	Limit       int
}

func (r Repo) ListEscalations(ctx context.Context, f EscalationFilters) ([]domain.Escalation, error) {
	var clauses []string
	var args []any
	if f.ReportID > 0 {
		clauses = append(clauses, "report_id=?")
		args = append(args, f.ReportID)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.OverdueOnly {
		clauses = append(clauses, "is_overdue=1")
	}
	if f.OpenOnly {
		clauses = append(clauses, "status NOT IN ('resolved','de_escalated','closed')")
	}
	query := `SELECT ` + escalationColumns + ` FROM escalations ` + where(clauses) + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Escalation
	for rows.Next() {
		e, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// OverdueCandidates returns IDs of open, unflagged escalations past deadline.
// Deadlines use domain.TimeLayout so text comparison orders them.
func (r Repo) OverdueCandidates(ctx context.Context, tx *sql.Tx, now string) ([]int64, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id FROM escalations
WHERE is_overdue=0 AND sla_deadline < ? AND status NOT IN ('resolved','de_escalated','closed') ORDER BY id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FlagOverdue sets is_overdue on one escalation if it is still unflagged and
// open. It reports whether this call changed the row.
func (r Repo) FlagOverdue(ctx context.Context, tx *sql.Tx, id int64, now string) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE escalations SET is_overdue=1, updated_at=?
WHERE id=? AND is_overdue=0 AND status NOT IN ('resolved','de_escalated','closed')`, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReportIDOfEscalation is used for audit attribution.
func (r Repo) ReportIDOfEscalation(ctx context.Context, tx *sql.Tx, id int64) (int64, error) {
	var reportID int64
	err := r.conn(tx).QueryRowContext(ctx, `SELECT report_id FROM escalations WHERE id=?`, id).Scan(&reportID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return reportID, err
}
