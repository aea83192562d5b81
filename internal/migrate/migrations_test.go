package migrate

import (
	"context"
	"database/sql"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"civicflow/internal/db"
)

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestMigrateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))

	v, err := Version(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var rows int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestHistoryAndAuditRejectRewrites(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	require.NoError(t, Migrate(ctx, conn))

	_, err := conn.ExecContext(ctx, `INSERT INTO audit_log(ts,action,actor_id,actor_role,resource_type,resource_id)
VALUES ('2024-01-01T08:00:00.000000000Z','report.submitted','citizen-7','citizen','report','1')`)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `UPDATE audit_log SET action='report.rejected'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = conn.ExecContext(ctx, `DELETE FROM audit_log`)
	assert.ErrorContains(t, err, "append-only")
}

func TestMissingGuardTriggerFailsMigration(t *testing.T) {
	ctx := context.Background()
	conn := openDB(t)
	fsys := fstest.MapFS{
		"sql/0001_init.sql": {Data: []byte(`CREATE TABLE status_history(id INTEGER PRIMARY KEY);
CREATE TABLE audit_log(id INTEGER PRIMARY KEY);
CREATE TRIGGER audit_log_no_update BEFORE UPDATE ON audit_log BEGIN SELECT RAISE(ABORT, 'audit_log is append-only'); END;`)},
	}
	err := apply(ctx, conn, fsys)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "audit_log_no_delete")
	assert.Contains(t, err.Error(), "status_history_no_update")
	assert.NotContains(t, err.Error(), "audit_log_no_update")

	var tables int
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='audit_log'`).Scan(&tables))
	assert.Zero(t, tables, "failed migration must roll back")
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"sql/init.sql": {Data: []byte("SELECT 1;")}})
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"sql/0001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/1_b.sql":    {Data: []byte("SELECT 1;")},
	})
	assert.ErrorContains(t, err, "share version 1")

	got, err := loadMigrations(fstest.MapFS{
		"sql/0002_b.sql": {Data: []byte("SELECT 2;")},
		"sql/0001_a.sql": {Data: []byte("SELECT 1;")},
		"sql/README.md":  {Data: []byte("notes")},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, []int{1, 2}, []int{got[0].Version, got[1].Version})
}
