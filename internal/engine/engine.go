package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"civicflow/internal/audit"
	"civicflow/internal/config"
	"civicflow/internal/domain"
	"civicflow/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Logger *slog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Audit:  audit.Writer{Repo: r},
		Config: cfg,
		Logger: slog.Default(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return domain.FormatTime(e.now())
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) record(ctx context.Context, tx *sql.Tx, entry audit.Entry) error {
	w := e.Audit
	w.Repo = e.Repo
	w.Now = e.now
	_, err := w.Append(ctx, tx, entry)
	if err != nil {
		return fmt.Errorf("append audit %s: %w", entry.Action, err)
	}
	return nil
}

// inTx runs fn in one write transaction. Repo sentinels and SQLite lock
// errors leaving fn are translated to typed errors for resource/id.
func (e Engine) inTx(ctx context.Context, resource string, id int64, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return translate(err, resource, id)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return translate(err, resource, id)
	}
	if err := tx.Commit(); err != nil {
		return translate(err, resource, id)
	}
	return nil
}

func translate(err error, resource string, id int64) error {
	if err == nil {
		return nil
	}
	key := strconv.FormatInt(id, 10)
	code := domain.CodeOf(err)
	if code == domain.CodeInternal && repo.IsConflict(err) {
		return domain.ConcurrencyConflictError{Resource: resource, ID: key}
	}
	if code == domain.CodeInternal && errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: key}
	}
	return internal(err, fmt.Sprintf("%s %d", resource, id))
}

func notFound(err error, resource string, id int64) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: strconv.FormatInt(id, 10)}
	}
	return internal(err, "get "+resource)
}

// internal wraps an error that carries no domain code so storage errors
// never leave the engine unclassified.
func internal(err error, op string) error {
	if err == nil {
		return nil
	}
	var c interface{ Code() domain.ErrorCode }
	if errors.As(err, &c) {
		return err
	}
	return domain.InternalError{Op: op, Err: err}
}

func validateActor(a domain.Actor) error {
	if strings.TrimSpace(a.ID) == "" {
		return domain.ValidationError{Field: "actor", Reason: "actor id is required"}
	}
	if !a.Role.Valid() {
		return domain.ValidationError{Field: "actor_role", Reason: fmt.Sprintf("unknown role %q", a.Role)}
	}
	return nil
}

type expectedVersionKey struct{}

// WithExpectedVersion makes the next report mutation on ctx fail with a
// ConcurrencyConflictError unless the stored version still equals v.
func WithExpectedVersion(ctx context.Context, v int64) context.Context {
	return context.WithValue(ctx, expectedVersionKey{}, v)
}

func expectedVersion(ctx context.Context) (int64, bool) {
	v, ok := ctx.Value(expectedVersionKey{}).(int64)
	return v, ok && v > 0
}

// loadReport reads a report inside tx and checks the caller's expected version.
func (e Engine) loadReport(ctx context.Context, tx *sql.Tx, id int64) (domain.Report, error) {
	rep, err := e.Repo.GetReportTx(ctx, tx, id)
	if err != nil {
		return rep, notFound(err, "report", id)
	}
	if v, ok := expectedVersion(ctx); ok && v != rep.Version {
		return rep, domain.ConcurrencyConflictError{Resource: "report", ID: strconv.FormatInt(id, 10)}
	}
	return rep, nil
}

// CreateDepartment registers a routing target for reports.
func (e Engine) CreateDepartment(ctx context.Context, name, code string, actor domain.Actor) (domain.Department, error) {
	if err := validateActor(actor); err != nil {
		return domain.Department{}, err
	}
	name, code = strings.TrimSpace(name), strings.TrimSpace(code)
	if name == "" {
		return domain.Department{}, domain.ValidationError{Field: "name", Reason: "department name is required"}
	}
	if code == "" {
		return domain.Department{}, domain.ValidationError{Field: "code", Reason: "department code is required"}
	}
	d := domain.Department{Name: name, Code: strings.ToUpper(code), CreatedAt: e.stamp()}
	err := e.inTx(ctx, "department", 0, func(tx *sql.Tx) error {
		var err error
		d, err = e.Repo.InsertDepartment(ctx, tx, d)
		if err != nil {
			return fmt.Errorf("insert department: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.DepartmentCreated,
			Actor:        actor,
			ResourceType: "department",
			ResourceID:   d.ID,
			Metadata:     audit.Metadata{"name": d.Name, "code": d.Code},
		})
	})
	return d, err
}

// CreateOfficer registers an officer within a department.
func (e Engine) CreateOfficer(ctx context.Context, departmentID int64, name, badgeNo string, actor domain.Actor) (domain.Officer, error) {
	if err := validateActor(actor); err != nil {
		return domain.Officer{}, err
	}
	if strings.TrimSpace(name) == "" {
		return domain.Officer{}, domain.ValidationError{Field: "name", Reason: "officer name is required"}
	}
	o := domain.Officer{DepartmentID: departmentID, Name: strings.TrimSpace(name), BadgeNo: strings.TrimSpace(badgeNo), Active: true, CreatedAt: e.stamp()}
	err := e.inTx(ctx, "officer", 0, func(tx *sql.Tx) error {
		if _, err := e.Repo.GetDepartmentTx(ctx, tx, departmentID); err != nil {
			return notFound(err, "department", departmentID)
		}
		var err error
		o, err = e.Repo.InsertOfficer(ctx, tx, o)
		if err != nil {
			return fmt.Errorf("insert officer: %w", err)
		}
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.OfficerCreated,
			Actor:        actor,
			ResourceType: "officer",
			ResourceID:   o.ID,
			Metadata:     audit.Metadata{"department_id": departmentID, "name": o.Name},
		})
	})
	return o, err
}
