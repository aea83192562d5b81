package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
)

type reportOutput struct {
	ETag string     `header:"ETag"`
	Body ReportView `json:"body"`
}

func reportView(e engine.Engine, rep domain.Report) ReportView {
	category, severity := e.EffectiveClassification(rep)
	return ReportView{Report: rep, EffectiveCategory: category, EffectiveSeverity: severity}
}

func newReportOutput(e engine.Engine, rep domain.Report) *reportOutput {
	return &reportOutput{ETag: etag(rep.Version), Body: reportView(e, rep)}
}

func registerDepartments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "create-department",
		Method:      http.MethodPost,
		Path:        "/departments",
		Summary:     "Create department",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body CreateDepartmentRequest `json:"body"`
	}) (*struct {
		Body domain.Department `json:"body"`
	}, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		d, err := e.CreateDepartment(ctx, input.Body.Name, input.Body.Code, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Department `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-departments",
		Method:      http.MethodGet,
		Path:        "/departments",
		Summary:     "List departments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Department `json:"body"`
	}, error) {
		list, err := e.Repo.ListDepartments(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Department `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "create-officer",
		Method:      http.MethodPost,
		Path:        "/departments/{id}/officers",
		Summary:     "Create officer in a department",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   int64                `path:"id"`
		Body CreateOfficerRequest `json:"body"`
	}) (*struct {
		Body domain.Officer `json:"body"`
	}, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		o, err := e.CreateOfficer(ctx, input.ID, input.Body.Name, input.Body.BadgeNo, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Officer `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-officers",
		Method:      http.MethodGet,
		Path:        "/departments/{id}/officers",
		Summary:     "List officers of a department",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Officer `json:"body"`
	}, error) {
		if _, err := e.Repo.GetDepartment(ctx, input.ID); err != nil {
			return nil, handleError(notFoundOr(err, "department", input.ID))
		}
		list, err := e.Repo.ListOfficers(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Officer `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "officer-workload",
		Method:      http.MethodGet,
		Path:        "/officers/{id}/workload",
		Summary:     "Open task count of an officer",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		o, err := e.Repo.GetOfficer(ctx, input.ID)
		if err != nil {
			return nil, handleError(notFoundOr(err, "officer", input.ID))
		}
		n, err := e.Repo.CountOpenTasks(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"officer": o, "open_tasks": n}}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Submit report",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body SubmitReportRequest `json:"body"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		citizen := input.Body.CitizenID
		if citizen == "" {
			citizen = actor.ID
		}
		rep, err := e.SubmitReport(ctx, engine.ReportInput{
			Title:        input.Body.Title,
			Description:  input.Body.Description,
			Location:     input.Body.Location,
			CitizenID:    citizen,
			Category:     input.Body.Category,
			Severity:     input.Body.Severity,
			AICategory:   input.Body.AICategory,
			AISeverity:   input.Body.AISeverity,
			AIConfidence: input.Body.AIConfidence,
			MediaURLs:    input.Body.MediaURLs,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status       string `query:"status"`
		DepartmentID int64  `query:"department_id"`
		OfficerID    int64  `query:"officer_id"`
		CitizenID    string `query:"citizen_id"`
		Limit        int    `query:"limit"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedReports `json:"body"`
	}, error) {
		cursor, cerr := parseCursor(input.Cursor)
		if cerr != nil {
			return nil, cerr
		}
		f := repo.ReportFilters{
			DepartmentID: input.DepartmentID,
			OfficerID:    input.OfficerID,
			CitizenID:    input.CitizenID,
			CursorID:     cursor,
		}
		if input.Status != "" {
			s, err := domain.ParseStatus(strings.ToUpper(input.Status))
			if err != nil {
				return nil, handleError(err)
			}
			f.Status = s
		}
		limit := normalizeLimit(input.Limit)
		f.Limit = limit + 1
		list, err := e.ListReports(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(list) > limit {
			list = list[:limit]
			next = strconv.FormatInt(list[len(list)-1].ID, 10)
		}
		items := make([]ReportView, 0, len(list))
		for _, rep := range list {
			items = append(items, reportView(e, rep))
		}
		return &struct {
			Body paginatedReports `json:"body"`
		}{Body: paginatedReports{Items: items, NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{id}",
		Summary:     "Get report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*reportOutput, error) {
		rep, err := e.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-history",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/history",
		Summary:     "Status history of a report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.StatusHistoryEntry `json:"body"`
	}, error) {
		list, err := e.History(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.StatusHistoryEntry `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-timeline",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/timeline",
		Summary:     "Merged status and audit timeline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.TimelineItem `json:"body"`
	}, error) {
		list, err := e.Timeline(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.TimelineItem `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "report-next-states",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/next-states",
		Summary:     "Legal next states of a report",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body NextStatesResponse `json:"body"`
	}, error) {
		rep, err := e.GetReport(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		next, err := e.NextStates(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NextStatesResponse `json:"body"`
		}{Body: NextStatesResponse{ReportID: rep.ID, Status: rep.Status, Next: nonNilSlice(next)}}, nil
	})
}

// reportAction is a single-target status endpoint with no body fields beyond notes.
type reportAction struct {
	id      string
	path    string
	summary string
	call    func(engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error)
}

var reportActions = []reportAction{
	{"acknowledge-report", "acknowledge", "Officer acknowledges the task", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.Acknowledge
	}},
	{"start-report", "start", "Start work", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.StartWork
	}},
	{"verify-report", "verify", "Mark for verification", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.MarkForVerification
	}},
	{"resolve-report", "resolve", "Resolve report", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.Resolve
	}},
	{"reject-report", "reject", "Reject report", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.Reject
	}},
	{"hold-report", "hold", "Put report on hold", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
		return e.PutOnHold
	}},
}

var mutationErrors = []int{
	http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound,
	http.StatusConflict, http.StatusUnprocessableEntity,
}

func registerReportActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-department",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/department",
		Summary:     "Route report to a department",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64                   `path:"id"`
		IfMatch string                  `header:"If-Match"`
		Body    AssignDepartmentRequest `json:"body"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		ctx, verr := withVersion(ctx, input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		rep, err := e.AssignDepartment(ctx, input.ID, input.Body.DepartmentID, actor, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-officer",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/officer",
		Summary:     "Assign report to an officer",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64                `path:"id"`
		IfMatch string               `header:"If-Match"`
		Body    AssignOfficerRequest `json:"body"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		ctx, verr := withVersion(ctx, input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		rep, err := e.AssignOfficer(ctx, input.ID, input.Body.OfficerID, input.Body.Priority, actor, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-report-status",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/status",
		Summary:     "Transition report status",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64               `path:"id"`
		IfMatch string              `header:"If-Match"`
		Body    UpdateStatusRequest `json:"body"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		ctx, verr := withVersion(ctx, input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		rep, err := e.UpdateStatus(ctx, input.ID, domain.Status(strings.ToUpper(input.Body.Status)), actor, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "classify-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/classify",
		Summary:     "Set manual classification",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64           `path:"id"`
		IfMatch string          `header:"If-Match"`
		Body    ClassifyRequest `json:"body"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		ctx, verr := withVersion(ctx, input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		rep, err := e.Classify(ctx, input.ID, input.Body.Category, input.Body.Severity, actor, input.Body.Notes)
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})

	for _, action := range reportActions {
		call := action.call(e)
		huma.Register(api, huma.Operation{
			OperationID: action.id,
			Method:      http.MethodPost,
			Path:        "/reports/{id}/" + action.path,
			Summary:     action.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			ID      int64        `path:"id"`
			IfMatch string       `header:"If-Match"`
			Body    NotesRequest `json:"body,omitempty" required:"false"`
		}) (*reportOutput, error) {
			actor, aerr := actorFromContext(ctx)
			if aerr != nil {
				return nil, aerr
			}
			ctx, verr := withVersion(ctx, input.IfMatch)
			if verr != nil {
				return nil, verr
			}
			rep, err := call(ctx, input.ID, actor, input.Body.Notes)
			if err != nil {
				return nil, handleError(err)
			}
			return newReportOutput(e, rep), nil
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "resume-report",
		Method:      http.MethodPost,
		Path:        "/reports/{id}/resume",
		Summary:     "Resume a report from ON_HOLD",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID      int64         `path:"id"`
		IfMatch string        `header:"If-Match"`
		Body    ResumeRequest `json:"body,omitempty" required:"false"`
	}) (*reportOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		ctx, verr := withVersion(ctx, input.IfMatch)
		if verr != nil {
			return nil, verr
		}
		var (
			rep domain.Report
			err error
		)
		if input.Body.Target != "" {
			rep, err = e.ResumeTo(ctx, input.ID, domain.Status(strings.ToUpper(input.Body.Target)), actor, input.Body.Notes)
		} else {
			rep, err = e.Resume(ctx, input.ID, actor, input.Body.Notes)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return newReportOutput(e, rep), nil
	})
}

func registerBulk(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "bulk-reports",
		Method:      http.MethodPost,
		Path:        "/reports/bulk",
		Summary:     "Apply one operation to many reports",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body BulkRequest `json:"body"`
	}) (*struct {
		Body engine.BulkResult `json:"body"`
	}, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		res, err := e.Bulk(ctx, input.Body.toEngine(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		res.Succeeded = nonNilSlice(res.Succeeded)
		res.Failed = nonNilSlice(res.Failed)
		return &struct {
			Body engine.BulkResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/audit",
		Summary:     "List audit entries, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		ReportID     int64  `query:"report_id"`
		Action       string `query:"action"`
		ResourceType string `query:"resource_type"`
		ResourceID   string `query:"resource_id"`
		ActorID      string `query:"actor_id"`
		Limit        int    `query:"limit"`
		Cursor       string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		cursor, cerr := parseCursor(input.Cursor)
		if cerr != nil {
			return nil, cerr
		}
		limit := normalizeLimit(input.Limit)
		list, err := e.Repo.ListAudit(ctx, repo.AuditFilters{
			ReportID:     input.ReportID,
			Action:       input.Action,
			ResourceType: input.ResourceType,
			ResourceID:   input.ResourceID,
			ActorID:      input.ActorID,
			Limit:        limit + 1,
			Before:       cursor,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(list) > limit {
			list = list[:limit]
			next = strconv.FormatInt(list[len(list)-1].ID, 10)
		}
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: paginatedAudit{Items: nonNilSlice(list), NextCursor: next}}, nil
	})
}

func notFoundOr(err error, resource string, id int64) error {
	if errors.Is(err, repo.ErrNotFound) {
		return domain.NotFoundError{Resource: resource, ID: strconv.FormatInt(id, 10)}
	}
	return err
}
