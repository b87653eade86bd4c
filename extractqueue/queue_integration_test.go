//go:build integration

package extractqueue

import (
	"context"
	"testing"
	"time"

	"flowcore.dev/asset"
	"flowcore.dev/queueregistry"
	"flowcore.dev/runs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupQueue starts a real Postgres container, migrates the run/asset
// tables against it, and returns a Queue wired with both the GORM handle
// and a pgx pool, exercising the same dual-access shape cli.RootCmd's
// composition root uses — the one place GORM doesn't fit the extraction
// queue's SELECT ... FOR UPDATE SKIP LOCKED dequeue.
func setupQueue(t *testing.T) (*Queue, func()) {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("flowcore_test"),
		tcpostgres.WithUsername("flowcore"),
		tcpostgres.WithPassword("flowcore"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	gdb, err := gorm.Open(gormpg.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, runs.Migrate(gdb))
	require.NoError(t, asset.Migrate(gdb))

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)

	registry := queueregistry.Defaults()
	q := New(gdb, pool, runs.NewStore(gdb), asset.NewStore(gdb), registry)

	cleanup := func() {
		pool.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return q, cleanup
}

func newTestAsset(id, org string) *asset.Asset {
	return &asset.Asset{
		ID:               id,
		OrganizationID:   org,
		SourceType:       asset.SourceUpload,
		OriginalFilename: id + ".pdf",
		ContentType:      "application/pdf",
		RawBucket:        "test-bucket",
		RawObjectKey:     "raw/" + id,
		Status:           asset.StatusPending,
	}
}

func TestLockDuePending_SkipsLockedRows(t *testing.T) {
	q, cleanup := setupQueue(t)
	defer cleanup()
	ctx := context.Background()

	a := newTestAsset("asset-1", "org-1")
	require.NoError(t, q.db.WithContext(ctx).Create(a).Error)

	_, _, status, err := q.QueueExtraction(ctx, a, runs.OriginSystem, PrioritySystem, "", "v1", false)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, status)

	holder, err := q.pgx.Begin(ctx)
	require.NoError(t, err)
	defer holder.Rollback(ctx)
	_, err = holder.Exec(ctx, `SELECT id FROM runs WHERE status = $1 FOR UPDATE`, runs.StatusPending)
	require.NoError(t, err)

	ids, err := q.lockDuePending(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, ids, "a row locked by another transaction must be skipped, not blocked on")
}

func TestSubmitDue_RespectsMaxConcurrent(t *testing.T) {
	q, cleanup := setupQueue(t)
	defer cleanup()
	ctx := context.Background()

	q.registry.ApplyOverrides("extraction", queueregistry.Overrides{MaxConcurrent: 1})

	for i := 0; i < 3; i++ {
		a := newTestAsset(string(rune('a'+i))+"-asset", "org-1")
		require.NoError(t, q.db.WithContext(ctx).Create(a).Error)
		_, _, _, err := q.QueueExtraction(ctx, a, runs.OriginSystem, PrioritySystem, "", "v1", false)
		require.NoError(t, err)
	}

	submitted, err := q.SubmitDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, submitted, "only max_concurrent extractions may be submitted in one tick")
}
