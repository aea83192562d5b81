package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"civicflow/internal/app"
	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/domain"
	"civicflow/internal/engine"
	"civicflow/internal/migrate"
	"civicflow/internal/notify"
	"civicflow/internal/server"
	"civicflow/internal/sweep"
)

var logger = slog.Default()

var rootCmd = &cobra.Command{
	Use:   "civic",
	Short: "Civicflow report lifecycle CLI",
	Long: `Civicflow tracks municipal issue reports from submission to closure.
Core concepts:
- Report: a citizen issue that moves RECEIVED -> ASSIGNED_TO_DEPARTMENT -> ASSIGNED_TO_OFFICER -> ACKNOWLEDGED -> IN_PROGRESS -> PENDING_VERIFICATION -> RESOLVED.
- Every status change is validated against one transition graph and written to the status history.
- Appeals let citizens contest a decision; an approved rework appeal reopens the report.
- Escalations carry an SLA deadline and are flagged overdue by the sweep.
- Audit log: every mutation, view with 'civic log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		l, err := app.NewLogger(os.Stderr, viper.GetString("log-format"), viper.GetString("log-level"))
		if err != nil {
			return err
		}
		logger = l
		slog.SetDefault(l)
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CIVICFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	pf := rootCmd.PersistentFlags()
	pf.StringP("workspace", "w", ".", "workspace directory")
	pf.Bool("json", false, "output JSON")
	pf.String("actor-id", "local-admin", "actor identifier recorded on mutations")
	pf.String("actor-role", string(domain.RoleAdmin), "actor role (citizen, officer, admin, system)")
	pf.String("log-format", "text", "log format (text or json)")
	pf.String("log-level", "warn", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "json", "actor-id", "actor-role", "log-format", "log-level"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(statusesCmd())
	rootCmd.AddCommand(departmentCmd())
	rootCmd.AddCommand(officerCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(appealCmd())
	rootCmd.AddCommand(escalationCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var municipality string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create civicflow.yml, the database and a JWT secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				fmt.Printf("Config %s already exists; leaving it untouched\n", path)
			} else if errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault(municipality)), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", path)
			} else {
				return err
			}
			e, conn, err := app.OpenEngine(cmd.Context(), workspace, logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			envPath := filepath.Join(workspace, ".env")
			env, err := godotenv.Read(envPath)
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					return err
				}
				env = map[string]string{}
			}
			if env["CIVICFLOW_JWT_SECRET"] == "" {
				buf := make([]byte, 32)
				if _, err := rand.Read(buf); err != nil {
					return err
				}
				env["CIVICFLOW_JWT_SECRET"] = hex.EncodeToString(buf)
				if err := godotenv.Write(env, envPath); err != nil {
					return err
				}
				fmt.Printf("Wrote JWT secret to %s\n", envPath)
			}
			fmt.Printf("Workspace ready for municipality %s (db %s)\n", e.Config.Municipality.ID, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&municipality, "municipality", app.DefaultMunicipality, "municipality id")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Inspect civicflow.yml"}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := app.LoadConfig(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate civicflow.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	})
	return cfg
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountReportsByStatus(ctx)
				if err != nil {
					return err
				}
				schema, err := migrate.Version(ctx, e.DB)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"schema_version": schema, "reports": counts})
				}
				tw := newTable("Status", "Reports")
				for _, s := range domain.AllStatuses {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.AppendFooter(table.Row{"schema", schema})
				tw.Render()
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devHeaders, noSweep bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the overdue sweep and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, conn, err := app.OpenEngine(cmd.Context(), viper.GetString("workspace"), logger)
			if err != nil {
				return err
			}
			defer conn.Close()
			authCfg := server.AuthConfig{
				JWTSecret:       viper.GetString("jwt-secret"),
				AllowDevHeaders: devHeaders,
				Logger:          logger,
			}
			if authCfg.JWTSecret == "" && !devHeaders {
				return fmt.Errorf("CIVICFLOW_JWT_SECRET is required for bearer auth (run civic init)")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if !noSweep {
				runner := sweep.Runner{Marker: e, Interval: e.Config.SweepEvery(), Logger: logger}
				g.Go(func() error {
					runner.Run(ctx)
					return nil
				})
			}
			if d := notify.New(e.Repo, e.Config, logger); d.Enabled() {
				g.Go(func() error {
					d.Run(ctx)
					return nil
				})
			}
			fmt.Printf("Serving Civicflow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&devHeaders, "dev-headers", false, "accept X-Actor-Id/X-Actor-Role without credentials (local use only)")
	cmd.Flags().BoolVar(&noSweep, "no-sweep", false, "do not run the overdue sweep in this process")
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a JWT for the current --actor-id/--actor-role",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := server.SignToken(viper.GetString("jwt-secret"), cliActor(), ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}

// --- helpers ---

func cliActor() domain.Actor {
	return domain.Actor{ID: viper.GetString("actor-id"), Role: domain.Role(viper.GetString("actor-role"))}
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	e, conn, err := app.OpenEngine(ctx, viper.GetString("workspace"), logger)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, e)
}

func newTable(header ...any) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row(header))
	return tw
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

func parseIDs(list string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := parseID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref[T any](p *T) any {
	if p == nil {
		return ""
	}
	return *p
}
