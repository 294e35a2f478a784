package pgwarehouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/codeready-toolchain/speql/pkg/config"
)

// newTestConnector starts a throwaway PostgreSQL container and returns a
// Connector wired to it. Skipped in short mode since it needs Docker.
func newTestConnector(t *testing.T) *Connector {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping pgwarehouse integration test in short mode")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:17-alpine",
		tcpostgres.WithDatabase("speql"),
		tcpostgres.WithUsername("speql"),
		tcpostgres.WithPassword("speql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	conn := New(config.WarehouseConfig{
		DSN:              connStr,
		StatementTimeout: 5 * time.Second,
		SchemaPath:       "public",
	})
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestConnectorExecuteAndReadBack(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	err := conn.Exec(ctx, "CREATE TABLE speql_sample AS SELECT generate_series(1, 10) AS n")
	require.NoError(t, err)

	stats, err := conn.LastQueryStats(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.Execution, time.Duration(0))

	size, err := conn.TableSize(ctx, "speql_sample")
	require.NoError(t, err)
	require.Positive(t, size)

	cols, err := conn.TableColumns(ctx, "speql_sample")
	require.NoError(t, err)
	require.Len(t, cols, 1)
	require.Equal(t, "n", cols[0].Name)

	rows, err := conn.FetchRows(ctx, "SELECT generate_series(1, 10) AS n", 3)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	require.Equal(t, "1", rows[0])

	require.NoError(t, conn.DropTable(ctx, "speql_sample"))
}

func TestConnectorIsTimeoutClassifiesStatementTimeout(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	err := conn.Exec(ctx, "SELECT pg_sleep(10)")
	require.Error(t, err)
	require.True(t, conn.IsTimeout(err))
}

// TestConnectorCancelInterruptsRunningQuery exercises the session-scoped
// cancel(session) path: a long-running query started in one goroutine is
// cancelled from another while Exec still holds the connector's lock, the
// way orchestrator.create cancels an urgent request's predecessor.
func TestConnectorCancelInterruptsRunningQuery(t *testing.T) {
	conn := newTestConnector(t)
	ctx := context.Background()

	// ensureConn only connects lazily, so prime it before racing Cancel
	// against Exec: a nil live connection would make Cancel a no-op.
	require.NoError(t, conn.Exec(ctx, "SELECT 1"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- conn.Exec(ctx, "SELECT pg_sleep(30)")
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, conn.Cancel(ctx))

	select {
	case err := <-errCh:
		require.Error(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Cancel did not interrupt the running query in time")
	}
}

func TestConnectorCancelIsNoOpBeforeAnyConnection(t *testing.T) {
	conn := newTestConnector(t)
	require.NoError(t, conn.Cancel(context.Background()))
}
