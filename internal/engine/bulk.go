package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"civicflow/internal/audit"
	"civicflow/internal/domain"
)

type BulkOperation string

const (
	BulkAssignDepartment    BulkOperation = "assign_department"
	BulkAssignOfficer       BulkOperation = "assign_officer"
	BulkUpdateStatus        BulkOperation = "update_status"
	BulkAcknowledge         BulkOperation = "acknowledge"
	BulkStartWork           BulkOperation = "start_work"
	BulkMarkForVerification BulkOperation = "mark_for_verification"
	BulkResolve             BulkOperation = "resolve"
	BulkPutOnHold           BulkOperation = "put_on_hold"
	BulkResume              BulkOperation = "resume"
	BulkClassify            BulkOperation = "classify"
)

const (
	defaultBulkMaxItems    = 500
	defaultBulkParallelism = 4
)

type BulkParams struct {
	DepartmentID int64
	OfficerID    int64
	Priority     int
	Status       domain.Status
	Category     string
	Severity     string
	Notes        string
}

type BulkRequest struct {
	ReportIDs []int64
	Operation BulkOperation
	Params    BulkParams
}

// BulkFailure is one item that did not apply, with its typed reason.
type BulkFailure struct {
	ReportID int64            `json:"report_id"`
	Code     domain.ErrorCode `json:"code"`
	Message  string           `json:"message"`
}

type BulkResult struct {
	BatchID   string        `json:"batch_id"`
	Succeeded []int64       `json:"succeeded"`
	Failed    []BulkFailure `json:"failed"`
}

type bulkFunc func(ctx context.Context, reportID int64) error

// bulkOp resolves the per-item lifecycle call for req, validating the
// parameters the operation needs up front.
func (e Engine) bulkOp(req BulkRequest, actor domain.Actor) (bulkFunc, error) {
	p := req.Params
	status := func(to domain.Status) bulkFunc {
		return func(ctx context.Context, id int64) error {
			_, err := e.UpdateStatus(ctx, id, to, actor, p.Notes)
			return err
		}
	}
	switch req.Operation {
	case BulkAssignDepartment:
		if p.DepartmentID <= 0 {
			return nil, domain.ValidationError{Field: "department_id", Reason: "department_id is required"}
		}
		return func(ctx context.Context, id int64) error {
			_, err := e.AssignDepartment(ctx, id, p.DepartmentID, actor, p.Notes)
			return err
		}, nil
	case BulkAssignOfficer:
		if p.OfficerID <= 0 {
			return nil, domain.ValidationError{Field: "officer_id", Reason: "officer_id is required"}
		}
		if p.Priority != 0 && (p.Priority < 1 || p.Priority > 5) {
			return nil, domain.ValidationError{Field: "priority", Reason: "priority must be within 1..5"}
		}
		return func(ctx context.Context, id int64) error {
			_, err := e.AssignOfficer(ctx, id, p.OfficerID, p.Priority, actor, p.Notes)
			return err
		}, nil
	case BulkUpdateStatus:
		if !p.Status.Valid() {
			return nil, domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", p.Status)}
		}
		return status(p.Status), nil
	case BulkAcknowledge:
		return status(domain.StatusAcknowledged), nil
	case BulkStartWork:
		return status(domain.StatusInProgress), nil
	case BulkMarkForVerification:
		return status(domain.StatusPendingVerification), nil
	case BulkResolve:
		return status(domain.StatusResolved), nil
	case BulkPutOnHold:
		return status(domain.StatusOnHold), nil
	case BulkResume:
		return func(ctx context.Context, id int64) error {
			_, err := e.Resume(ctx, id, actor, p.Notes)
			return err
		}, nil
	case BulkClassify:
		if p.Category == "" && p.Severity == "" {
			return nil, domain.ValidationError{Field: "category", Reason: "category or severity is required"}
		}
		return func(ctx context.Context, id int64) error {
			_, err := e.Classify(ctx, id, p.Category, p.Severity, actor, p.Notes)
			return err
		}, nil
	}
	return nil, domain.ValidationError{Field: "operation", Reason: fmt.Sprintf("unknown bulk operation %q", req.Operation)}
}

func (e Engine) bulkLimits() (maxItems, parallelism int) {
	maxItems, parallelism = defaultBulkMaxItems, defaultBulkParallelism
	if e.Config != nil {
		if e.Config.Bulk.MaxItems > 0 {
			maxItems = e.Config.Bulk.MaxItems
		}
		if e.Config.Bulk.Parallelism > 0 {
			parallelism = e.Config.Bulk.Parallelism
		}
	}
	return maxItems, parallelism
}

// Bulk applies one operation to many reports. Every item runs in its own
// transaction; a failed item is reported and never affects the others.
func (e Engine) Bulk(ctx context.Context, req BulkRequest, actor domain.Actor) (BulkResult, error) {
	if err := validateActor(actor); err != nil {
		return BulkResult{}, err
	}
	maxItems, parallelism := e.bulkLimits()
	if len(req.ReportIDs) == 0 {
		return BulkResult{}, domain.ValidationError{Field: "report_ids", Reason: "at least one report id is required"}
	}
	if len(req.ReportIDs) > maxItems {
		return BulkResult{}, domain.ValidationError{Field: "report_ids", Reason: fmt.Sprintf("at most %d report ids per batch", maxItems)}
	}
	op, err := e.bulkOp(req, actor)
	if err != nil {
		return BulkResult{}, err
	}

	errs := make([]error, len(req.ReportIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, id := range req.ReportIDs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = op(gctx, id)
			return nil
		})
	}
	_ = g.Wait()

	res := BulkResult{BatchID: uuid.NewString(), Succeeded: []int64{}, Failed: []BulkFailure{}}
	for i, id := range req.ReportIDs {
		if errs[i] == nil {
			res.Succeeded = append(res.Succeeded, id)
			continue
		}
		f := BulkFailure{ReportID: id, Code: domain.CodeOf(errs[i]), Message: errs[i].Error()}
		if f.Code == domain.CodeInternal {
			e.log().ErrorContext(ctx, "bulk item failed", "report_id", id, "err", errs[i])
			f.Message = "internal error"
		}
		res.Failed = append(res.Failed, f)
	}

	err = e.inTx(ctx, "bulk", 0, func(tx *sql.Tx) error {
		return e.record(ctx, tx, audit.Entry{
			Action:       audit.BulkApplied,
			Actor:        actor,
			ResourceType: "bulk",
			ResourceKey:  res.BatchID,
			Metadata: audit.Metadata{
				"operation": req.Operation,
				"total":     len(req.ReportIDs),
				"succeeded": len(res.Succeeded),
				"failed":    len(res.Failed),
			},
		})
	})
	if err != nil {
		e.log().WarnContext(ctx, "bulk audit entry not recorded", "batch_id", res.BatchID, "err", err)
	}
	e.log().InfoContext(ctx, "bulk applied", "batch_id", res.BatchID, "operation", req.Operation,
		"succeeded", len(res.Succeeded), "failed", len(res.Failed))
	return res, nil
}
