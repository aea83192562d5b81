package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/repo"
	"civicflow/internal/sweep"
)

func appealCmd() *cobra.Command {
	ap := &cobra.Command{
		Use:   "appeal",
		Short: "Contest report decisions",
		Long:  "Appeals go submitted -> under_review -> approved/rejected; the submitter may withdraw while submitted.",
	}

	var reportID int64
	var appealType, reason, evidence, requested string
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit an appeal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.SubmitAppeal(ctx, engine.AppealInput{
					ReportID:        reportID,
					AppealType:      domain.AppealType(appealType),
					Reason:          reason,
					Evidence:        optionalString(evidence),
					RequestedAction: optionalString(requested),
				}, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	submit.Flags().Int64Var(&reportID, "report", 0, "report id")
	submit.Flags().StringVar(&appealType, "type", "", "classification, resolution, assignment, rejection or incorrect_assignment")
	submit.Flags().StringVar(&reason, "reason", "", "why the decision is wrong")
	submit.Flags().StringVar(&evidence, "evidence", "", "supporting evidence")
	submit.Flags().StringVar(&requested, "requested-action", "", "what the citizen asks for")
	ap.AddCommand(submit)

	var f repo.AppealFilters
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List appeals",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.AppealStatus(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				appeals, err := e.ListAppeals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(appeals)
				}
				tw := newTable("ID", "Report", "Type", "Status", "By", "Rework", "Created")
				for _, a := range appeals {
					tw.AppendRow(table.Row{a.ID, a.ReportID, a.AppealType, a.Status, a.SubmittedBy, a.RequiresRework, a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&f.ReportID, "report", 0, "report filter")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().StringVar(&f.SubmittedBy, "by", "", "submitter filter")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max appeals")
	ap.AddCommand(list)

	ap.AddCommand(appealByIDCmd("show", "Show an appeal", func(ctx context.Context, e engine.Engine, id int64) (domain.Appeal, error) {
		return e.GetAppeal(ctx, id)
	}))
	ap.AddCommand(appealByIDCmd("start-review", "Move an appeal under review", func(ctx context.Context, e engine.Engine, id int64) (domain.Appeal, error) {
		return e.StartAppealReview(ctx, id, cliActor())
	}))
	ap.AddCommand(appealByIDCmd("withdraw", "Withdraw your appeal", func(ctx context.Context, e engine.Engine, id int64) (domain.Appeal, error) {
		return e.WithdrawAppeal(ctx, id, cliActor())
	}))

	var decision, notes, action string
	var reassignDept, reassignOfficer int64
	var reassignPriority int
	var rework bool
	review := &cobra.Command{
		Use:   "review <appeal-id>",
		Short: "Approve or reject an appeal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			in := engine.ReviewInput{
				Decision:       domain.Decision(decision),
				ReviewNotes:    notes,
				ActionTaken:    optionalString(action),
				RequiresRework: rework,
			}
			if reassignDept > 0 || reassignOfficer > 0 {
				in.Reassignment = &engine.Reassignment{Priority: reassignPriority}
				if reassignDept > 0 {
					in.Reassignment.DepartmentID = &reassignDept
				}
				if reassignOfficer > 0 {
					in.Reassignment.OfficerID = &reassignOfficer
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.ReviewAppeal(ctx, id, in, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	review.Flags().StringVar(&decision, "decision", "", "approved or rejected")
	review.Flags().StringVar(&notes, "notes", "", "review notes")
	review.Flags().StringVar(&action, "action-taken", "", "action taken")
	review.Flags().BoolVar(&rework, "rework", false, "reopen the report into IN_PROGRESS")
	review.Flags().Int64Var(&reassignDept, "reassign-department", 0, "route the report to this department")
	review.Flags().Int64Var(&reassignOfficer, "reassign-officer", 0, "assign the report to this officer")
	review.Flags().IntVar(&reassignPriority, "reassign-priority", 0, "priority for the reassigned task")
	ap.AddCommand(review)
	return ap
}

func appealByIDCmd(use, short string, fn func(context.Context, engine.Engine, int64) (domain.Appeal, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <appeal-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := fn(ctx, e, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
}

func escalationCmd() *cobra.Command {
	esc := &cobra.Command{
		Use:   "escalation",
		Short: "Escalate reports with an SLA deadline",
	}

	var in engine.EscalationInput
	var sla int
	create := &cobra.Command{
		Use:   "create",
		Short: "Escalate a report",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("sla-hours") {
				in.SLAHours = &sla
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				created, err := e.CreateEscalation(ctx, in, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(created)
			})
		},
	}
	create.Flags().Int64Var(&in.ReportID, "report", 0, "report id")
	create.Flags().IntVar(&in.Level, "level", 1, "level 1..3")
	create.Flags().StringVar(&in.Reason, "reason", "", "reason")
	create.Flags().StringVar(&in.Description, "description", "", "description")
	create.Flags().IntVar(&sla, "sla-hours", 0, "SLA in hours (defaults to the configured value for the level)")
	esc.AddCommand(create)

	var f repo.EscalationFilters
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List escalations",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.EscalationStatus(status)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEscalations(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Report", "Level", "Status", "Deadline", "Overdue", "Reason")
				for _, x := range items {
					tw.AppendRow(table.Row{x.ID, x.ReportID, x.Level, x.Status, x.SLADeadline, x.IsOverdue, x.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&f.ReportID, "report", 0, "report filter")
	list.Flags().StringVar(&status, "status", "", "status filter")
	list.Flags().BoolVar(&f.OverdueOnly, "overdue", false, "only overdue escalations")
	list.Flags().BoolVar(&f.OpenOnly, "open", false, "only non-terminal escalations")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max escalations")
	esc.AddCommand(list)

	esc.AddCommand(escalationByIDCmd("show", "Show an escalation", func(ctx context.Context, e engine.Engine, id int64) (domain.Escalation, error) {
		return e.GetEscalation(ctx, id)
	}))
	esc.AddCommand(escalationByIDCmd("ack", "Acknowledge an escalation", func(ctx context.Context, e engine.Engine, id int64) (domain.Escalation, error) {
		return e.AcknowledgeEscalation(ctx, id, cliActor())
	}))

	var to, response, action string
	var level int
	update := &cobra.Command{
		Use:   "update <escalation-id>",
		Short: "Move an escalation through its workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			u := engine.EscalationUpdate{
				Status:      domain.EscalationStatus(to),
				Response:    optionalString(response),
				ActionTaken: optionalString(action),
			}
			if cmd.Flags().Changed("level") {
				u.Level = &level
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				x, err := e.UpdateEscalation(ctx, id, u, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	update.Flags().StringVar(&to, "to", "", "target status")
	update.Flags().StringVar(&response, "response", "", "response text")
	update.Flags().StringVar(&action, "action-taken", "", "action taken")
	update.Flags().IntVar(&level, "level", 0, "lower level when de-escalating")
	esc.AddCommand(update)

	var raiseLevel int
	var raiseReason string
	raise := &cobra.Command{
		Use:   "raise <escalation-id>",
		Short: "Raise an escalation to a higher level",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				x, err := e.RaiseEscalation(ctx, id, raiseLevel, raiseReason, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
	raise.Flags().IntVar(&raiseLevel, "level", 0, "new level")
	raise.Flags().StringVar(&raiseReason, "reason", "", "reason")
	esc.AddCommand(raise)
	return esc
}

func escalationByIDCmd(use, short string, fn func(context.Context, engine.Engine, int64) (domain.Escalation, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <escalation-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				x, err := fn(ctx, e, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(x)
			})
		},
	}
}

func sweepCmd() *cobra.Command {
	var watch bool
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Flag escalations past their SLA deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runner := sweep.Runner{Marker: e, Interval: interval, Logger: logger}
				if watch {
					if runner.Interval <= 0 {
						runner.Interval = e.Config.SweepEvery()
					}
					runner.Run(ctx)
					return nil
				}
				n, err := runner.Once(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]int{"flagged": n})
				}
				fmt.Printf("Flagged %d escalation(s) overdue\n", n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep sweeping until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "sweep period with --watch (defaults to config)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit log",
		Long:  "Every mutation (status changes, assignments, appeals, escalations, bulk batches) is recorded here.",
	}
	var f repo.AuditFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListAudit(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := newTable("ID", "At", "Action", "Actor", "Resource", "Report")
				for _, a := range entries {
					tw.AppendRow(table.Row{a.ID, a.TS, a.Action, a.ActorID, a.ResourceType + "/" + a.ResourceID, deref(a.ReportID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&f.Limit, "n", 20, "number of entries")
	tail.Flags().StringVar(&f.Action, "action", "", "action filter (supports prefix.*)")
	tail.Flags().Int64Var(&f.ReportID, "report", 0, "report filter")
	tail.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	tail.Flags().StringVar(&f.ResourceType, "resource-type", "", "resource type filter")
	log.AddCommand(tail)
	return log
}

func apiKeyCmd() *cobra.Command {
	keys := &cobra.Command{Use: "apikey", Short: "Manage API keys for integrations"}

	var holder, role, name string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a key; the secret is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				k, err := e.IssueAPIKey(ctx, domain.Actor{ID: holder, Role: domain.Role(role)}, name, cliActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(k)
				}
				fmt.Printf("Key %s for %s (%s)\n%s\n", k.ID, k.ActorID, k.Role, k.Secret)
				return nil
			})
		},
	}
	issue.Flags().StringVar(&holder, "holder", "", "actor id the key authenticates as")
	issue.Flags().StringVar(&role, "role", string(domain.RoleSystem), "role of the holder")
	issue.Flags().StringVar(&name, "name", "", "label")
	keys.AddCommand(issue)

	var actorFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: "List keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.Repo.ListAPIKeys(ctx, actorFilter)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable("ID", "Holder", "Role", "Name", "Created")
				for _, k := range list {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Role, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&actorFilter, "holder", "", "holder filter")
	keys.AddCommand(list)

	keys.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RevokeAPIKey(ctx, args[0], cliActor()); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	})
	return keys
}
