package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"civicflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrStale is returned when a versioned update matched no row.
	ErrStale = errors.New("stale version")
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r Repo) conn(tx *sql.Tx) DBTX {
	if tx != nil {
		return tx
	}
	return r.DB
}

// IsBusy reports whether err is SQLite lock contention that outlived busy_timeout.
func IsBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// IsConflict reports whether err means a concurrent writer won.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStale) || IsBusy(err)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(clauses, " AND ")
}

func (r Repo) InsertDepartment(ctx context.Context, tx *sql.Tx, d domain.Department) (domain.Department, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO departments(name,code,created_at) VALUES (?,?,?)`, d.Name, d.Code, d.CreatedAt)
	if err != nil {
		return d, err
	}
	d.ID, err = res.LastInsertId()
	return d, err
}

func (r Repo) GetDepartment(ctx context.Context, id int64) (domain.Department, error) {
	return r.GetDepartmentTx(ctx, nil, id)
}

func (r Repo) GetDepartmentTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Department, error) {
	var d domain.Department
	err := r.conn(tx).QueryRowContext(ctx, `SELECT id,name,code,created_at FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.Code, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,code,created_at FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Department
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Code, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertOfficer(ctx context.Context, tx *sql.Tx, o domain.Officer) (domain.Officer, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO officers(department_id,name,badge_no,active,created_at) VALUES (?,?,?,?,?)`,
		o.DepartmentID, o.Name, nullable(o.BadgeNo), boolInt(o.Active), o.CreatedAt)
	if err != nil {
		return o, err
	}
	o.ID, err = res.LastInsertId()
	return o, err
}

const officerColumns = `id,department_id,name,COALESCE(badge_no,''),active,created_at`

func scanOfficer(row rowScanner) (domain.Officer, error) {
	var o domain.Officer
	var active int
	if err := row.Scan(&o.ID, &o.DepartmentID, &o.Name, &o.BadgeNo, &active, &o.CreatedAt); err != nil {
		return o, err
	}
	o.Active = active != 0
	return o, nil
}

func (r Repo) GetOfficer(ctx context.Context, id int64) (domain.Officer, error) {
	return r.GetOfficerTx(ctx, nil, id)
}

func (r Repo) GetOfficerTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Officer, error) {
	o, err := scanOfficer(r.conn(tx).QueryRowContext(ctx, `SELECT `+officerColumns+` FROM officers WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) ListOfficers(ctx context.Context, departmentID int64) ([]domain.Officer, error) {
	var clauses []string
	var args []any
	if departmentID > 0 {
		clauses = append(clauses, "department_id=?")
		args = append(args, departmentID)
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM officers %s ORDER BY id`, officerColumns, where(clauses)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Officer
	for rows.Next() {
		o, err := scanOfficer(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// SetOfficerActive toggles whether an officer can receive new tasks.
func (r Repo) SetOfficerActive(ctx context.Context, tx *sql.Tx, id int64, active bool) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE officers SET active=? WHERE id=?`, boolInt(active), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
