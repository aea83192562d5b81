package repo

import (
	"context"
	"database/sql"

	"civicflow/internal/domain"
)

const appealColumns = `id,report_id,appeal_type,status,reason,evidence,requested_action,submitted_by,reviewed_by,review_notes,action_taken,
reassign_department_id,reassign_officer_id,requires_rework,created_at,reviewed_at`

func scanAppeal(row rowScanner) (domain.Appeal, error) {
	var a domain.Appeal
	var appealType, status string
	var evidence, requested, reviewedBy, reviewNotes, actionTaken, reviewedAt sql.NullString
	var reassignDept, reassignOfficer sql.NullInt64
	var rework int
	err := row.Scan(&a.ID, &a.ReportID, &appealType, &status, &a.Reason, &evidence, &requested, &a.SubmittedBy,
		&reviewedBy, &reviewNotes, &actionTaken, &reassignDept, &reassignOfficer, &rework, &a.CreatedAt, &reviewedAt)
	if err != nil {
		return a, err
	}
	a.AppealType = domain.AppealType(appealType)
	a.Status = domain.AppealStatus(status)
	a.Evidence = stringPtr(evidence)
	a.RequestedAction = stringPtr(requested)
	a.ReviewedBy = stringPtr(reviewedBy)
	a.ReviewNotes = stringPtr(reviewNotes)
	a.ActionTaken = stringPtr(actionTaken)
	a.ReassignDepartmentID = int64Ptr(reassignDept)
	a.ReassignOfficerID = int64Ptr(reassignOfficer)
	a.RequiresRework = rework != 0
	a.ReviewedAt = stringPtr(reviewedAt)
	return a, nil
}

func (r Repo) InsertAppeal(ctx context.Context, tx *sql.Tx, a domain.Appeal) (domain.Appeal, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO appeals(report_id,appeal_type,status,reason,evidence,requested_action,submitted_by,requires_rework,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`,
		a.ReportID, string(a.AppealType), string(a.Status), a.Reason, nullableStringPtr(a.Evidence), nullableStringPtr(a.RequestedAction),
		a.SubmittedBy, boolInt(a.RequiresRework), a.CreatedAt)
	if err != nil {
		return a, err
	}
	a.ID, err = res.LastInsertId()
	return a, err
}

// UpdateAppeal persists a status change guarded by the expected prior status.
func (r Repo) UpdateAppeal(ctx context.Context, tx *sql.Tx, a domain.Appeal, prior domain.AppealStatus) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE appeals SET status=?, reviewed_by=?, review_notes=?, action_taken=?, reassign_department_id=?,
reassign_officer_id=?, requires_rework=?, reviewed_at=? WHERE id=? AND status=?`,
		string(a.Status), nullableStringPtr(a.ReviewedBy), nullableStringPtr(a.ReviewNotes), nullableStringPtr(a.ActionTaken),
		nullableInt64Ptr(a.ReassignDepartmentID), nullableInt64Ptr(a.ReassignOfficerID), boolInt(a.RequiresRework), nullableStringPtr(a.ReviewedAt),
		a.ID, string(prior))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetAppeal(ctx context.Context, id int64) (domain.Appeal, error) {
	return r.GetAppealTx(ctx, nil, id)
}

func (r Repo) GetAppealTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Appeal, error) {
	a, err := scanAppeal(r.conn(tx).QueryRowContext(ctx, `SELECT `+appealColumns+` FROM appeals WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	return a, err
}

type AppealFilters struct {
	ReportID    int64
	Status      domain.AppealStatus
	SubmittedBy string
	Limit       int
}

func (r Repo) ListAppeals(ctx context.Context, f AppealFilters) ([]domain.Appeal, error) {
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
	if f.SubmittedBy != "" {
		clauses = append(clauses, "submitted_by=?")
		args = append(args, f.SubmittedBy)
	}
	query := `SELECT ` + appealColumns + ` FROM appeals ` + where(clauses) + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Appeal
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// HasOpenAppeal reports whether the report already has an undecided appeal of the type.
func (r Repo) HasOpenAppeal(ctx context.Context, tx *sql.Tx, reportID int64, t domain.AppealType) (bool, error) {
	var n int
	err := r.conn(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM appeals WHERE report_id=? AND appeal_type=? AND status IN (?,?)`,
		reportID, string(t), string(domain.AppealSubmitted), string(domain.AppealUnderReview)).Scan(&n)
	return n > 0, err
}
