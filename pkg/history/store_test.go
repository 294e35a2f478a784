package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestStore starts a throwaway PostgreSQL container, applies migrations
// and returns a Store wired to it. Skipped in short mode since it needs
// Docker, mirroring pkg/pgwarehouse's own integration test setup.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping history integration test in short mode")
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

	store, err := Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestStoreInsertAndRecentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, RunRecord{
		SessionID:    "sess-1",
		Input:        "SELECT a FROM t",
		Modification: "SELECT a FROM t",
		PreviewRows:  3,
		Duration:     120 * time.Millisecond,
		CacheHit:     false,
		Sampled:      false,
	}))
	require.NoError(t, store.Insert(ctx, RunRecord{
		SessionID:    "sess-1",
		Input:        "SELECT a, b FROM t",
		Modification: "SELECT a, b FROM t",
		PreviewRows:  3,
		Duration:     40 * time.Millisecond,
		CacheHit:     true,
	}))
	require.NoError(t, store.Insert(ctx, RunRecord{
		SessionID: "sess-2",
		Input:     "SELECT * FROM other",
	}))

	records, err := store.Recent(ctx, "sess-1", 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// newest first
	require.Equal(t, "SELECT a, b FROM t", records[0].Modification)
	require.True(t, records[0].CacheHit)
	require.Equal(t, 40*time.Millisecond, records[0].Duration)

	require.Equal(t, "SELECT a FROM t", records[1].Modification)
	require.False(t, records[1].CacheHit)
}

func TestStoreRecentLimitsAndScopesBySession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, RunRecord{SessionID: "sess-limit", Input: "SELECT 1"}))
	}
	require.NoError(t, store.Insert(ctx, RunRecord{SessionID: "other-session", Input: "SELECT 2"}))

	records, err := store.Recent(ctx, "sess-limit", 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		require.Equal(t, "sess-limit", r.SessionID)
	}
}
