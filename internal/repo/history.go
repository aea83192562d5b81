package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"civicflow/internal/domain"
)

// AppendHistory inserts one status transition. The table has no update or
// delete path; triggers reject both.
func (r Repo) AppendHistory(ctx context.Context, tx *sql.Tx, h domain.StatusHistoryEntry) (domain.StatusHistoryEntry, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO status_history(report_id,old_status,new_status,actor_id,actor_role,notes,changed_at) VALUES (?,?,?,?,?,?,?)`,
		h.ReportID, string(h.OldStatus), string(h.NewStatus), h.ActorID, string(h.ActorRole), nullable(h.Notes), h.ChangedAt)
	if err != nil {
		return h, err
	}
	h.ID, err = res.LastInsertId()
	return h, err
}

func (r Repo) ListHistory(ctx context.Context, reportID int64) ([]domain.StatusHistoryEntry, error) {
	return r.ListHistoryTx(ctx, nil, reportID)
}

func (r Repo) ListHistoryTx(ctx context.Context, tx *sql.Tx, reportID int64) ([]domain.StatusHistoryEntry, error) {
	rows, err := r.conn(tx).QueryContext(ctx, `SELECT id,report_id,old_status,new_status,actor_id,actor_role,COALESCE(notes,''),changed_at
FROM status_history WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistoryEntry
	for rows.Next() {
		var h domain.StatusHistoryEntry
		var oldStatus, newStatus, role string
		if err := rows.Scan(&h.ID, &h.ReportID, &oldStatus, &newStatus, &h.ActorID, &role, &h.Notes, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.OldStatus = domain.Status(oldStatus)
		h.NewStatus = domain.Status(newStatus)
		h.ActorRole = domain.Role(role)
		res = append(res, h)
	}
	return res, rows.Err()
}

// LastEntryInto returns the most recent history entry that entered status.
func (r Repo) LastEntryInto(ctx context.Context, tx *sql.Tx, reportID int64, status domain.Status) (domain.StatusHistoryEntry, error) {
	var h domain.StatusHistoryEntry
	var oldStatus, newStatus, role string
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,report_id,old_status,new_status,actor_id,actor_role,COALESCE(notes,''),changed_at
FROM status_history WHERE report_id=? AND new_status=? ORDER BY id DESC LIMIT 1`, reportID, string(status)).
		Scan(&h.ID, &h.ReportID, &oldStatus, &newStatus, &h.ActorID, &role, &h.Notes, &h.ChangedAt)
	if err == sql.ErrNoRows {
		return h, ErrNotFound
	}
	if err != nil {
		return h, err
	}
	h.OldStatus = domain.Status(oldStatus)
	h.NewStatus = domain.Status(newStatus)
	h.ActorRole = domain.Role(role)
	return h, nil
}

// AppendAudit inserts one audit_log row and returns its ID.
func (r Repo) AppendAudit(ctx context.Context, tx *sql.Tx, a domain.AuditEntry) (int64, error) {
	meta := a.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal audit metadata: %w", err)
	}
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO audit_log(ts,action,actor_id,actor_role,resource_type,resource_id,report_id,metadata_json) VALUES (?,?,?,?,?,?,?,?)`,
		a.TS, a.Action, a.ActorID, string(a.ActorRole), a.ResourceType, a.ResourceID, nullableInt64Ptr(a.ReportID), string(data))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

type AuditFilters struct {
	ReportID     int64
	Action       string
	ResourceType string
	ResourceID   string
	ActorID      string
	Limit        int
	// Before pages backwards (id < Before); After tails forwards (id > After).
	Before int64
	After  int64
}

const auditColumns = `id,ts,action,actor_id,actor_role,resource_type,resource_id,report_id,metadata_json`

func scanAudit(row rowScanner) (domain.AuditEntry, error) {
	var a domain.AuditEntry
	var role string
	var reportID sql.NullInt64
	var meta sql.NullString
	if err := row.Scan(&a.ID, &a.TS, &a.Action, &a.ActorID, &role, &a.ResourceType, &a.ResourceID, &reportID, &meta); err != nil {
		return a, err
	}
	a.ActorRole = domain.Role(role)
	a.ReportID = int64Ptr(reportID)
	if meta.Valid && meta.String != "" {
		if err := json.Unmarshal([]byte(meta.String), &a.Metadata); err != nil {
			return a, fmt.Errorf("decode audit metadata %d: %w", a.ID, err)
		}
	}
	return a, nil
}

// ListAudit returns audit entries. Without After the newest come first; with
// After the result is ascending so callers can advance a cursor.
func (r Repo) ListAudit(ctx context.Context, f AuditFilters) ([]domain.AuditEntry, error) {
	var clauses []string
	var args []any
	if f.ReportID > 0 {
		clauses = append(clauses, "report_id=?")
		args = append(args, f.ReportID)
	}
	if f.Action != "" {
		if strings.HasSuffix(f.Action, ".*") {
			clauses = append(clauses, "action LIKE ?")
			args = append(args, strings.TrimSuffix(f.Action, "*")+"%")
		} else {
			clauses = append(clauses, "action=?")
			args = append(args, f.Action)
		}
	}
	if f.ResourceType != "" {
		clauses = append(clauses, "resource_type=?")
		args = append(args, f.ResourceType)
	}
	if f.ResourceID != "" {
		clauses = append(clauses, "resource_id=?")
		args = append(args, f.ResourceID)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "actor_id=?")
		args = append(args, f.ActorID)
	}
	order := "DESC"
	if f.After > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, f.After)
		order = "ASC"
	}
	if f.Before > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Before)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM audit_log %s ORDER BY id %s LIMIT ?`, auditColumns, where(clauses), order)
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// ListReportAudit returns every audit entry of a report in insertion order.
func (r Repo) ListReportAudit(ctx context.Context, reportID int64) ([]domain.AuditEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE report_id=? ORDER BY id ASC`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// AuditAfter returns up to limit entries with id > after, oldest first.
func (r Repo) AuditAfter(ctx context.Context, after int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+auditColumns+` FROM audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditEntry
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

// LatestAuditID returns the most recent audit entry ID.
func (r Repo) LatestAuditID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id)
	return id, err
}

// GetDeliveryCursor returns the last delivered audit ID for a named consumer.
func (r Repo) GetDeliveryCursor(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.DB.QueryRowContext(ctx, `SELECT last_audit_id FROM webhook_cursors WHERE name=?`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	return id, err
}

func (r Repo) SetDeliveryCursor(ctx context.Context, name string, id int64, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO webhook_cursors(name,last_audit_id,updated_at) VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET last_audit_id=excluded.last_audit_id, updated_at=excluded.updated_at`, name, id, now)
	return err
}
