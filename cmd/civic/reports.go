package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/engine/transition"
	"civicflow/internal/repo"
)

func statusesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "statuses",
		Short: "Print the report transition graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			type row struct {
				Status   domain.Status   `json:"status"`
				Terminal bool            `json:"terminal"`
				Next     []domain.Status `json:"next"`
			}
			rows := make([]row, 0, len(domain.AllStatuses))
			for _, s := range domain.AllStatuses {
				rows = append(rows, row{Status: s, Terminal: s.Terminal(), Next: transition.NextStates(s)})
			}
			if viper.GetBool("json") {
				return printJSON(rows)
			}
			tw := newTable("Status", "Terminal", "Next")
			for _, r := range rows {
				next := make([]string, 0, len(r.Next))
				for _, n := range r.Next {
					next = append(next, string(n))
				}
				tw.AppendRow(table.Row{r.Status, r.Terminal, strings.Join(next, ", ")})
			}
			tw.Render()
			return nil
		},
	}
}

func departmentCmd() *cobra.Command {
	dept := &cobra.Command{Use: "department", Short: "Manage departments"}
	var name, code string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.CreateDepartment(ctx, name, code, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "department name")
	create.Flags().StringVar(&code, "code", "", "short department code")
	dept.AddCommand(create)
	dept.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.Repo.ListDepartments(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable("ID", "Code", "Name", "Created")
				for _, d := range list {
					tw.AppendRow(table.Row{d.ID, d.Code, d.Name, d.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	return dept
}

func officerCmd() *cobra.Command {
	off := &cobra.Command{Use: "officer", Short: "Manage officers"}
	var deptID int64
	var name, badge string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an officer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				o, err := e.CreateOfficer(ctx, deptID, name, badge, cliActor())
				if err != nil {
					return err
				}
				return printJSONOrTable(o)
			})
		},
	}
	create.Flags().Int64Var(&deptID, "department", 0, "department id")
	create.Flags().StringVar(&name, "name", "", "officer name")
	create.Flags().StringVar(&badge, "badge", "", "badge number")
	off.AddCommand(create)

	var listDept int64
	list := &cobra.Command{
		Use:   "list",
		Short: "List officers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				officers, err := e.Repo.ListOfficers(ctx, listDept)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(officers)
				}
				tw := newTable("ID", "Department", "Name", "Badge", "Active")
				for _, o := range officers {
					tw.AppendRow(table.Row{o.ID, o.DepartmentID, o.Name, o.BadgeNo, o.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&listDept, "department", 0, "department filter")
	off.AddCommand(list)

	for _, active := range []bool{true, false} {
		use, short := "activate <id>", "Allow an officer to receive tasks"
		if !active {
			use, short = "deactivate <id>", "Stop assigning tasks to an officer"
		}
		off.AddCommand(&cobra.Command{
			Use:   use,
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
					o, err := e.SetOfficerActive(ctx, id, active, cliActor())
					if err != nil {
						return err
					}
					return printJSONOrTable(o)
				})
			},
		})
	}
	return off
}

func reportCmd() *cobra.Command {
	rep := &cobra.Command{
		Use:   "report",
		Short: "Submit, route and move reports",
		Long:  "Reports walk the transition graph; see 'civic statuses' for the legal moves from each status.",
	}
	rep.AddCommand(reportSubmitCmd())
	rep.AddCommand(reportListCmd())
	rep.AddCommand(reportShowCmd())
	rep.AddCommand(reportHistoryCmd())
	rep.AddCommand(reportTimelineCmd())
	rep.AddCommand(reportNextCmd())
	rep.AddCommand(reportRouteCmd())
	rep.AddCommand(reportAssignCmd())
	rep.AddCommand(reportStatusCmd())
	rep.AddCommand(reportClassifyCmd())
	rep.AddCommand(reportResumeCmd())
	for _, a := range []struct {
		use   string
		short string
		call  func(engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error)
	}{
		{"ack", "Officer acknowledges the task", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.Acknowledge
		}},
		{"start", "Start work", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.StartWork
		}},
		{"verify", "Mark for verification", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.MarkForVerification
		}},
		{"resolve", "Resolve the report", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.Resolve
		}},
		{"reject", "Reject the report", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.Reject
		}},
		{"hold", "Put the report on hold", func(e engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error) {
			return e.PutOnHold
		}},
	} {
		rep.AddCommand(reportActionCmd(a.use, a.short, a.call))
	}
	return rep
}

func reportActionCmd(use, short string, call func(engine.Engine) func(context.Context, int64, domain.Actor, string) (domain.Report, error)) *cobra.Command {
	var notes string
	var version int64
	cmd := &cobra.Command{
		Use:   use + " <report-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(versioned(cmd.Context(), version), func(ctx context.Context, e engine.Engine) error {
				r, err := call(e)(ctx, id, cliActor(), notes)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	cmd.Flags().Int64Var(&version, "if-version", 0, "fail unless the report is still at this version")
	return cmd
}

func versioned(ctx context.Context, version int64) context.Context {
	if version > 0 {
		return engine.WithExpectedVersion(ctx, version)
	}
	return ctx
}

func reportSubmitCmd() *cobra.Command {
	var in engine.ReportInput
	var category, severity, aiCategory, aiSeverity string
	var aiConfidence float64
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := cliActor()
				if in.CitizenID == "" {
					in.CitizenID = actor.ID
				}
				in.Category = optionalString(category)
				in.Severity = optionalString(severity)
				in.AICategory = optionalString(aiCategory)
				in.AISeverity = optionalString(aiSeverity)
				if cmd.Flags().Changed("ai-confidence") {
					in.AIConfidence = &aiConfidence
				}
				r, err := e.SubmitReport(ctx, in, actor)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "report title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Location, "location", "", "location")
	cmd.Flags().StringVar(&in.CitizenID, "citizen", "", "citizen id (defaults to --actor-id)")
	cmd.Flags().StringVar(&category, "category", "", "manual category")
	cmd.Flags().StringVar(&severity, "severity", "", "manual severity")
	cmd.Flags().StringVar(&aiCategory, "ai-category", "", "classifier category")
	cmd.Flags().StringVar(&aiSeverity, "ai-severity", "", "classifier severity")
	cmd.Flags().Float64Var(&aiConfidence, "ai-confidence", 0, "classifier confidence in [0,1]")
	cmd.Flags().StringSliceVar(&in.MediaURLs, "media", nil, "media URLs")
	return cmd
}

func reportListCmd() *cobra.Command {
	var f repo.ReportFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if status != "" {
					s, err := domain.ParseStatus(strings.ToUpper(status))
					if err != nil {
						return err
					}
					f.Status = s
				}
				list, err := e.ListReports(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable("ID", "Title", "Status", "Category", "Severity", "Department", "Officer", "Updated")
				for _, r := range list {
					category, severity := e.EffectiveClassification(r)
					var officer any = ""
					if r.Task != nil {
						officer = r.Task.AssignedTo
					}
					tw.AppendRow(table.Row{r.ID, r.Title, r.Status, category, severity, deref(r.DepartmentID), officer, r.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().Int64Var(&f.DepartmentID, "department", 0, "department filter")
	cmd.Flags().Int64Var(&f.OfficerID, "officer", 0, "officer filter")
	cmd.Flags().StringVar(&f.CitizenID, "citizen", "", "citizen filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max reports")
	cmd.Flags().Int64Var(&f.CursorID, "before", 0, "only reports with a lower id")
	return cmd
}

func reportShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <report-id>",
		Short: "Show a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.GetReport(ctx, id)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
}

func reportHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <report-id>",
		Short: "Status history of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				list, err := e.History(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(list)
				}
				tw := newTable("At", "From", "To", "Actor", "Role", "Notes")
				for _, h := range list {
					tw.AppendRow(table.Row{h.ChangedAt, h.OldStatus, h.NewStatus, h.ActorID, h.ActorRole, h.Notes})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportTimelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "timeline <report-id>",
		Short: "Merged status and audit timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Timeline(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("At", "Kind", "What", "Actor")
				for _, it := range items {
					switch {
					case it.Status != nil:
						tw.AppendRow(table.Row{it.TS, it.Kind, fmt.Sprintf("%s -> %s", it.Status.OldStatus, it.Status.NewStatus), it.Status.ActorID})
					case it.Audit != nil:
						tw.AppendRow(table.Row{it.TS, it.Kind, it.Audit.Action, it.Audit.ActorID})
					}
				}
				tw.Render()
				return nil
			})
		},
	}
}

func reportNextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "next <report-id>",
		Short: "Legal next statuses of a report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				next, err := e.NextStates(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(next)
				}
				if len(next) == 0 {
					fmt.Println("no further transitions")
				}
				for _, s := range next {
					fmt.Println(s)
				}
				return nil
			})
		},
	}
}

func reportRouteCmd() *cobra.Command {
	var deptID, version int64
	var notes string
	cmd := &cobra.Command{
		Use:   "route <report-id>",
		Short: "Route a report to a department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(versioned(cmd.Context(), version), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AssignDepartment(ctx, id, deptID, cliActor(), notes)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().Int64Var(&deptID, "department", 0, "department id")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	cmd.Flags().Int64Var(&version, "if-version", 0, "fail unless the report is still at this version")
	return cmd
}

func reportAssignCmd() *cobra.Command {
	var officerID, version int64
	var priority int
	var notes string
	cmd := &cobra.Command{
		Use:   "assign <report-id>",
		Short: "Assign a report to an officer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(versioned(cmd.Context(), version), func(ctx context.Context, e engine.Engine) error {
				r, err := e.AssignOfficer(ctx, id, officerID, priority, cliActor(), notes)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().Int64Var(&officerID, "officer", 0, "officer id")
	cmd.Flags().IntVar(&priority, "priority", 0, "task priority 1..5 (0 keeps the current or default)")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	cmd.Flags().Int64Var(&version, "if-version", 0, "fail unless the report is still at this version")
	return cmd
}

func reportStatusCmd() *cobra.Command {
	var to, notes string
	var version int64
	cmd := &cobra.Command{
		Use:   "status <report-id>",
		Short: "Move a report to a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(versioned(cmd.Context(), version), func(ctx context.Context, e engine.Engine) error {
				r, err := e.UpdateStatus(ctx, id, domain.Status(strings.ToUpper(to)), cliActor(), notes)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	cmd.Flags().Int64Var(&version, "if-version", 0, "fail unless the report is still at this version")
	return cmd
}

func reportClassifyCmd() *cobra.Command {
	var category, severity, notes string
	cmd := &cobra.Command{
		Use:   "classify <report-id>",
		Short: "Set a manual category and severity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Classify(ctx, id, category, severity, cliActor(), notes)
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().StringVar(&severity, "severity", "", "severity")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	return cmd
}

func reportResumeCmd() *cobra.Command {
	var to, notes string
	cmd := &cobra.Command{
		Use:   "resume <report-id>",
		Short: "Resume a report from ON_HOLD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var r domain.Report
				var err error
				if to != "" {
					r, err = e.ResumeTo(ctx, id, domain.Status(strings.ToUpper(to)), cliActor(), notes)
				} else {
					r, err = e.Resume(ctx, id, cliActor(), notes)
				}
				if err != nil {
					return err
				}
				return printReport(e, r)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "explicit resume target")
	cmd.Flags().StringVar(&notes, "notes", "", "history notes")
	return cmd
}

func bulkCmd() *cobra.Command {
	var ids, op, status string
	var p engine.BulkParams
	cmd := &cobra.Command{
		Use:   "bulk",
		Short: "Apply one operation to many reports",
		Long:  "Each report is processed in its own transaction; failures are listed per report and do not stop the batch.",
		RunE: func(cmd *cobra.Command, args []string) error {
			reportIDs, err := parseIDs(ids)
			if err != nil {
				return err
			}
			p.Status = domain.Status(strings.ToUpper(status))
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Bulk(ctx, engine.BulkRequest{ReportIDs: reportIDs, Operation: engine.BulkOperation(op), Params: p}, cliActor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Batch %s: %d succeeded, %d failed\n", res.BatchID, len(res.Succeeded), len(res.Failed))
				if len(res.Failed) > 0 {
					tw := newTable("Report", "Code", "Message")
					for _, f := range res.Failed {
						tw.AppendRow(table.Row{f.ReportID, f.Code, f.Message})
					}
					tw.Render()
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ids, "ids", "", "comma-separated report ids")
	cmd.Flags().StringVar(&op, "op", "", "operation: assign_department, assign_officer, update_status, acknowledge, start_work, mark_for_verification, resolve, put_on_hold, resume, classify")
	cmd.Flags().Int64Var(&p.DepartmentID, "department", 0, "department id")
	cmd.Flags().Int64Var(&p.OfficerID, "officer", 0, "officer id")
	cmd.Flags().IntVar(&p.Priority, "priority", 0, "task priority")
	cmd.Flags().StringVar(&status, "status", "", "target status for update_status")
	cmd.Flags().StringVar(&p.Category, "category", "", "category for classify")
	cmd.Flags().StringVar(&p.Severity, "severity", "", "severity for classify")
	cmd.Flags().StringVar(&p.Notes, "notes", "", "history notes")
	return cmd
}

func printReport(e engine.Engine, r domain.Report) error {
	category, severity := e.EffectiveClassification(r)
	if viper.GetBool("json") {
		return printJSON(struct {
			domain.Report
			EffectiveCategory string `json:"effective_category"`
			EffectiveSeverity string `json:"effective_severity"`
		}{r, category, severity})
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(nil)
	tw.AppendRows([]table.Row{
		{"ID", r.ID},
		{"Title", r.Title},
		{"Status", r.Status},
		{"Category", category},
		{"Severity", severity},
		{"Citizen", r.CitizenID},
		{"Location", r.Location},
		{"Department", deref(r.DepartmentID)},
		{"Version", r.Version},
		{"Updated", r.UpdatedAt},
	})
	if r.Task != nil {
		tw.AppendRows([]table.Row{
			{"Officer", r.Task.AssignedTo},
			{"Priority", r.Task.Priority},
			{"Acknowledged", deref(r.Task.AcknowledgedAt)},
			{"Started", deref(r.Task.StartedAt)},
			{"Resolved", deref(r.Task.ResolvedAt)},
		})
	}
	fmt.Println(tw.Render())
	return nil
}
