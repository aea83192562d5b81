package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"civicflow/internal/domain"
)

const reportSelect = `SELECT r.id,r.title,COALESCE(r.description,''),COALESCE(r.location,''),r.citizen_id,r.status,
r.category,r.severity,r.ai_category,r.ai_severity,r.ai_confidence,r.department_id,r.media_json,r.version,r.created_at,r.updated_at,
t.id,t.assigned_to,t.assigned_by,t.priority,t.assigned_at,t.acknowledged_at,t.started_at,t.resolved_at
FROM reports r LEFT JOIN tasks t ON t.report_id=r.id`

func scanReport(row rowScanner) (domain.Report, error) {
	var rep domain.Report
	var status string
	var category, severity, aiCategory, aiSeverity, media sql.NullString
	var aiConfidence sql.NullFloat64
	var departmentID sql.NullInt64
	var taskID, assignedTo, priority sql.NullInt64
	var assignedBy, assignedAt, acknowledgedAt, startedAt, resolvedAt sql.NullString
	err := row.Scan(&rep.ID, &rep.Title, &rep.Description, &rep.Location, &rep.CitizenID, &status,
		&category, &severity, &aiCategory, &aiSeverity, &aiConfidence, &departmentID, &media, &rep.Version, &rep.CreatedAt, &rep.UpdatedAt,
		&taskID, &assignedTo, &assignedBy, &priority, &assignedAt, &acknowledgedAt, &startedAt, &resolvedAt)
	if err != nil {
		return rep, err
	}
	rep.Status = domain.Status(status)
	rep.Category = stringPtr(category)
	rep.Severity = stringPtr(severity)
	rep.AICategory = stringPtr(aiCategory)
	rep.AISeverity = stringPtr(aiSeverity)
	if aiConfidence.Valid {
		c := aiConfidence.Float64
		rep.AIConfidence = &c
	}
	rep.DepartmentID = int64Ptr(departmentID)
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &rep.MediaURLs); err != nil {
			return rep, fmt.Errorf("decode media for report %d: %w", rep.ID, err)
		}
	}
	if taskID.Valid {
		rep.Task = &domain.Task{
			ID:             taskID.Int64,
			ReportID:       rep.ID,
			AssignedTo:     assignedTo.Int64,
			AssignedBy:     assignedBy.String,
			Priority:       int(priority.Int64),
			AssignedAt:     assignedAt.String,
			AcknowledgedAt: stringPtr(acknowledgedAt),
			StartedAt:      stringPtr(startedAt),
			ResolvedAt:     stringPtr(resolvedAt),
		}
	}
	return rep, nil
}

func marshalMedia(urls []string) (any, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(urls)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// InsertReport stores a new report at version 1 and returns it with its ID.
func (r Repo) InsertReport(ctx context.Context, tx *sql.Tx, rep domain.Report) (domain.Report, error) {
	media, err := marshalMedia(rep.MediaURLs)
	if err != nil {
		return rep, err
	}
	rep.Version = 1
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO reports(title,description,location,citizen_id,status,category,severity,ai_category,ai_severity,ai_confidence,department_id,media_json,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rep.Title, nullable(rep.Description), nullable(rep.Location), rep.CitizenID, string(rep.Status),
		nullableStringPtr(rep.Category), nullableStringPtr(rep.Severity), nullableStringPtr(rep.AICategory), nullableStringPtr(rep.AISeverity),
		nullableFloatPtr(rep.AIConfidence), nullableInt64Ptr(rep.DepartmentID), media, rep.Version, rep.CreatedAt, rep.UpdatedAt)
	if err != nil {
		return rep, err
	}
	rep.ID, err = res.LastInsertId()
	return rep, err
}

// UpdateReport writes the mutable report columns if the stored version still
// equals rep.Version, then bumps it. A lost race returns ErrStale.
func (r Repo) UpdateReport(ctx context.Context, tx *sql.Tx, rep domain.Report) (domain.Report, error) {
	media, err := marshalMedia(rep.MediaURLs)
	if err != nil {
		return rep, err
	}
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE reports SET status=?, category=?, severity=?, ai_category=?, ai_severity=?, ai_confidence=?, department_id=?, media_json=?, version=version+1, updated_at=?
WHERE id=? AND version=?`,
		string(rep.Status), nullableStringPtr(rep.Category), nullableStringPtr(rep.Severity), nullableStringPtr(rep.AICategory),
		nullableStringPtr(rep.AISeverity), nullableFloatPtr(rep.AIConfidence), nullableInt64Ptr(rep.DepartmentID), media, rep.UpdatedAt,
		rep.ID, rep.Version)
	if err != nil {
		return rep, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return rep, err
	}
	if affected == 0 {
		return rep, ErrStale
	}
	rep.Version++
	return rep, nil
}

func (r Repo) GetReport(ctx context.Context, id int64) (domain.Report, error) {
	return r.GetReportTx(ctx, nil, id)
}

func (r Repo) GetReportTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Report, error) {
	rep, err := scanReport(r.conn(tx).QueryRowContext(ctx, reportSelect+` WHERE r.id=?`, id))
	if err == sql.ErrNoRows {
		return rep, ErrNotFound
	}
	return rep, err
}

type ReportFilters struct {
	Status       domain.Status
	DepartmentID int64
	OfficerID    int64
	CitizenID    string
	Limit        int
	// CursorID pages backwards: only reports with id < CursorID are returned.
	CursorID int64
}

func (r Repo) ListReports(ctx context.Context, f ReportFilters) ([]domain.Report, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "r.status=?")
		args = append(args, string(f.Status))
	}
	if f.DepartmentID > 0 {
		clauses = append(clauses, "r.department_id=?")
		args = append(args, f.DepartmentID)
	}
	if f.OfficerID > 0 {
		clauses = append(clauses, "t.assigned_to=?")
		args = append(args, f.OfficerID)
	}
	if f.CitizenID != "" {
		clauses = append(clauses, "r.citizen_id=?")
		args = append(args, f.CitizenID)
	}
	if f.CursorID > 0 {
		clauses = append(clauses, "r.id<?")
		args = append(args, f.CursorID)
	}
	query := reportSelect + " " + where(clauses) + " ORDER BY r.id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rep)
	}
	return res, rows.Err()
}

// CountReportsByStatus returns the number of reports per status.
func (r Repo) CountReportsByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM reports GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		res[domain.Status(status)] = count
	}
	return res, rows.Err()
}

// UpsertTask creates the report's task or rebinds it to a new officer,
// clearing the progress stamps of the previous binding.
func (r Repo) UpsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) (domain.Task, error) {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO tasks(report_id,assigned_to,assigned_by,priority,assigned_at) VALUES (?,?,?,?,?)
ON CONFLICT(report_id) DO UPDATE SET assigned_to=excluded.assigned_to, assigned_by=excluded.assigned_by, priority=excluded.priority,
assigned_at=excluded.assigned_at, acknowledged_at=NULL, started_at=NULL, resolved_at=NULL`,
		t.ReportID, t.AssignedTo, t.AssignedBy, t.Priority, t.AssignedAt)
	if err != nil {
		return t, err
	}
	if err := r.conn(tx).QueryRowContext(ctx, `SELECT id FROM tasks WHERE report_id=?`, t.ReportID).Scan(&t.ID); err != nil {
		return t, err
	}
	t.AcknowledgedAt, t.StartedAt, t.ResolvedAt = nil, nil, nil
	return t, nil
}

// UpdateTaskStamps persists the progress timestamps of a task.
func (r Repo) UpdateTaskStamps(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE tasks SET acknowledged_at=?, started_at=?, resolved_at=? WHERE id=?`,
		nullableStringPtr(t.AcknowledgedAt), nullableStringPtr(t.StartedAt), nullableStringPtr(t.ResolvedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTask unbinds the officer task of a report.
func (r Repo) DeleteTask(ctx context.Context, tx *sql.Tx, reportID int64) error {
	res, err := r.conn(tx).ExecContext(ctx, `DELETE FROM tasks WHERE report_id=?`, reportID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountOpenTasks returns how many non-terminal reports an officer holds.
func (r Repo) CountOpenTasks(ctx context.Context, officerID int64) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks t JOIN reports r ON r.id=t.report_id
WHERE t.assigned_to=? AND r.status NOT IN ('RESOLVED','CLOSED','REJECTED','DUPLICATE')`, officerID).Scan(&n)
	return n, err
}
