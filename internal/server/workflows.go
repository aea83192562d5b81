package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
)

type appealOutput struct {
	Body domain.Appeal `json:"body"`
}

type escalationOutput struct {
	Body domain.Escalation `json:"body"`
}

func registerAppeals(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "submit-appeal",
		Method:        http.MethodPost,
		Path:          "/reports/{id}/appeals",
		Summary:       "Appeal a report decision",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body SubmitAppealRequest `json:"body"`
	}) (*appealOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := e.SubmitAppeal(ctx, engine.AppealInput{
			ReportID:        input.ID,
			AppealType:      domain.AppealType(input.Body.AppealType),
			Reason:          input.Body.Reason,
			Evidence:        input.Body.Evidence,
			RequestedAction: input.Body.RequestedAction,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &appealOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-appeals",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/appeals",
		Summary:     "List appeals of a report",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Appeal `json:"body"`
	}, error) {
		list, err := e.ListAppeals(ctx, repo.AppealFilters{ReportID: input.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Appeal `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-appeals",
		Method:      http.MethodGet,
		Path:        "/appeals",
		Summary:     "List appeals",
	}, func(ctx context.Context, input *struct {
		Status      string `query:"status"`
		SubmittedBy string `query:"submitted_by"`
		Limit       int    `query:"limit"`
	}) (*struct {
		Body []domain.Appeal `json:"body"`
	}, error) {
		list, err := e.ListAppeals(ctx, repo.AppealFilters{
			Status:      domain.AppealStatus(input.Status),
			SubmittedBy: input.SubmittedBy,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Appeal `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-appeal",
		Method:      http.MethodGet,
		Path:        "/appeals/{id}",
		Summary:     "Get appeal",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*appealOutput, error) {
		a, err := e.GetAppeal(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &appealOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-appeal-review",
		Method:      http.MethodPost,
		Path:        "/appeals/{id}/review-start",
		Summary:     "Move appeal under review",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*appealOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := e.StartAppealReview(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &appealOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "review-appeal",
		Method:      http.MethodPost,
		Path:        "/appeals/{id}/review",
		Summary:     "Decide an appeal",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body ReviewAppealRequest `json:"body"`
	}) (*appealOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := e.ReviewAppeal(ctx, input.ID, input.Body.toEngine(), actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &appealOutput{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw-appeal",
		Method:      http.MethodPost,
		Path:        "/appeals/{id}/withdraw",
		Summary:     "Withdraw an appeal",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*appealOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		a, err := e.WithdrawAppeal(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &appealOutput{Body: a}, nil
	})
}

func registerEscalations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-escalation",
		Method:        http.MethodPost,
		Path:          "/reports/{id}/escalations",
		Summary:       "Escalate a report",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body CreateEscalationRequest `json:"body"`
	}) (*escalationOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		esc, err := e.CreateEscalation(ctx, engine.EscalationInput{
			ReportID:    input.ID,
			Level:       input.Body.Level,
			Reason:      input.Body.Reason,
			Description: input.Body.Description,
			SLAHours:    input.Body.SLAHours,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &escalationOutput{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-report-escalations",
		Method:      http.MethodGet,
		Path:        "/reports/{id}/escalations",
		Summary:     "List escalations of a report",
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.Escalation `json:"body"`
	}, error) {
		list, err := e.ListEscalations(ctx, repo.EscalationFilters{ReportID: input.ID})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Escalation `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-escalations",
		Method:      http.MethodGet,
		Path:        "/escalations",
		Summary:     "List escalations",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status  string `query:"status"`
		Overdue bool   `query:"overdue"`
		Open    bool   `query:"open"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body []domain.Escalation `json:"body"`
	}, error) {
		list, err := e.ListEscalations(ctx, repo.EscalationFilters{
			Status:      domain.EscalationStatus(input.Status),
			OverdueOnly: input.Overdue,
			OpenOnly:    input.Open,
			Limit:       normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Escalation `json:"body"`
		}{Body: nonNilSlice(list)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-escalation",
		Method:      http.MethodGet,
		Path:        "/escalations/{id}",
		Summary:     "Get escalation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*escalationOutput, error) {
		esc, err := e.GetEscalation(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &escalationOutput{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "acknowledge-escalation",
		Method:      http.MethodPost,
		Path:        "/escalations/{id}/acknowledge",
		Summary:     "Acknowledge an escalation",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*escalationOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		esc, err := e.AcknowledgeEscalation(ctx, input.ID, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &escalationOutput{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-escalation",
		Method:      http.MethodPatch,
		Path:        "/escalations/{id}",
		Summary:     "Move an escalation through its workflow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                   `path:"id"`
		Body UpdateEscalationRequest `json:"body"`
	}) (*escalationOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		esc, err := e.UpdateEscalation(ctx, input.ID, engine.EscalationUpdate{
			Status:      domain.EscalationStatus(input.Body.Status),
			Response:    input.Body.Response,
			ActionTaken: input.Body.ActionTaken,
			Level:       input.Body.Level,
		}, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &escalationOutput{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "raise-escalation",
		Method:      http.MethodPost,
		Path:        "/escalations/{id}/raise",
		Summary:     "Raise an escalation to a higher level",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body RaiseEscalationRequest `json:"body"`
	}) (*escalationOutput, error) {
		actor, aerr := actorFromContext(ctx)
		if aerr != nil {
			return nil, aerr
		}
		esc, err := e.RaiseEscalation(ctx, input.ID, input.Body.Level, input.Body.Reason, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &escalationOutput{Body: esc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-escalations",
		Method:      http.MethodPost,
		Path:        "/escalations/sweep",
		Summary:     "Flag escalations past their SLA deadline",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, aerr := actorFromContext(ctx); aerr != nil {
			return nil, aerr
		}
		n, err := e.MarkOverdue(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Flagged: n}}, nil
	})
}
