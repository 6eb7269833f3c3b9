// Package dbtest provides throwaway migrated PostgreSQL schemas for tests
// that set TEST_DATABASE_URL.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ruanjf/nocobase-plugins/internal/db"
)

// Open returns a connection whose search_path points at a fresh migrated
// schema, dropped on cleanup. The test is skipped without a database.
func Open(t *testing.T) *db.DB {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	admin, err := db.Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = admin.Close() })

	schema := fmt.Sprintf("test_%d", time.Now().UnixNano())
	_, err = admin.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA "%s"`, schema))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(ctx, fmt.Sprintf(`DROP SCHEMA IF EXISTS "%s" CASCADE`, schema))
	})

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := db.Open(ctx, dsn+sep+"search_path="+schema+",public")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.RunMigration(ctx, conn.DB))
	return conn
}
