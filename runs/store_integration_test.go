//go:build integration

package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupStore starts a real Postgres container and migrates the runs table
// against it, so Store methods run against the database they actually commit
// to rather than an in-memory stand-in.
func setupStore(t *testing.T) (*Store, func()) {
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
	require.NoError(t, Migrate(gdb))

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return NewStore(gdb), cleanup
}

func TestUpdateProgress_ClampsPercentAt100(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	run, err := store.Create(ctx, "org-1", RunTypeExtraction, OriginSystem, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, run.ID, 150, 100, "pages"))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 100, got.ProgressPercent)
	require.Equal(t, 150, got.ProgressCurrent)
	require.Equal(t, 100, got.ProgressTotal)
}

func TestUpdateProgress_ZeroTotalLeavesPercentZero(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	run, err := store.Create(ctx, "org-1", RunTypeExtraction, OriginSystem, nil, nil, "")
	require.NoError(t, err)

	require.NoError(t, store.UpdateProgress(ctx, run.ID, 5, 0, "pages"))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, 0, got.ProgressPercent)
}

func TestCancelPendingRunsForAsset_ScopedToOrg(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	sameOrgRun, err := store.CreateWithPriority(ctx, "org-1", RunTypeExtraction, OriginSystem, nil, []string{"asset-1"}, "", 0)
	require.NoError(t, err)
	otherOrgRun, err := store.CreateWithPriority(ctx, "org-2", RunTypeExtraction, OriginSystem, nil, []string{"asset-1"}, "", 0)
	require.NoError(t, err)

	count, err := store.CancelPendingRunsForAsset(ctx, "org-1", "asset-1", RunTypeExtraction)
	require.NoError(t, err)
	require.Equal(t, 1, count, "only the run belonging to org-1 should be cancelled")

	got, err := store.Get(ctx, sameOrgRun.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)

	got, err = store.Get(ctx, otherOrgRun.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, got.Status, "a same-asset run in a different org must not be touched")
}
