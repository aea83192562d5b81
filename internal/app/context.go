package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"civicflow/internal/config"
	"civicflow/internal/db"
	"civicflow/internal/engine"
	"civicflow/internal/migrate"
)

// DefaultMunicipality names the seed config used when a workspace has no civicflow.yml.
const DefaultMunicipality = "default"

// LoadConfig reads civicflow.yml from the workspace, falling back to defaults.
func LoadConfig(workspace string) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default(DefaultMunicipality)
	}
	return cfg, nil
}

// OpenEngine opens and migrates the workspace database and returns an engine
// bound to it. The caller closes the returned *sql.DB.
func OpenEngine(ctx context.Context, workspace string, logger *slog.Logger) (engine.Engine, *sql.DB, error) {
	cfg, err := LoadConfig(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if logger != nil {
		e.Logger = logger
	}
	return e, conn, nil
}

// NewLogger builds the process logger from the --log-format and --log-level flags.
func NewLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q (want text or json)", format)
}
