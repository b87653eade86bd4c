//go:build integration

package rungroups

import (
	"context"
	"testing"
	"time"

	"flowcore.dev/runs"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupTracker starts a real Postgres container, migrates run_groups and
// its run_group_children table against it, and returns a Tracker with no event
// emitter or procedure spawner wired (nil is a valid EventEmitter/
// ProcedureSpawner — fireCompletionEvent treats both as optional).
func setupTracker(t *testing.T) (*Tracker, func()) {
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
	require.NoError(t, runs.Migrate(gdb))

	cleanup := func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	}
	return NewTracker(gdb, nil, nil), cleanup
}

func TestTracker_PartialCompletion(t *testing.T) {
	tr, cleanup := setupTracker(t)
	defer cleanup()
	ctx := context.Background()

	g, err := tr.CreateGroup(ctx, "org-1", "pipeline", nil, nil, 3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, tr.AddChild(ctx, g.ID, "run-"+string(rune('a'+i))))
	}
	_, err = tr.FinalizeGroup(ctx, g.ID)
	require.NoError(t, err)

	_, err = tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)
	_, err = tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)
	final, err := tr.ChildFailed(ctx, g.ID, nil)
	require.NoError(t, err)

	require.Equal(t, StatusPartial, final.Status, "2 completed + 1 failed of 3 must resolve partial")
	require.True(t, final.Status.Terminal())
}

func TestTracker_AllCompleted(t *testing.T) {
	tr, cleanup := setupTracker(t)
	defer cleanup()
	ctx := context.Background()

	g, err := tr.CreateGroup(ctx, "org-1", "pipeline", nil, nil, 2)
	require.NoError(t, err)
	require.NoError(t, tr.AddChild(ctx, g.ID, "run-a"))
	require.NoError(t, tr.AddChild(ctx, g.ID, "run-b"))
	_, err = tr.FinalizeGroup(ctx, g.ID)
	require.NoError(t, err)

	_, err = tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)
	final, err := tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)

	require.Equal(t, StatusCompleted, final.Status)
}

func TestTracker_AllFailed(t *testing.T) {
	tr, cleanup := setupTracker(t)
	defer cleanup()
	ctx := context.Background()

	g, err := tr.CreateGroup(ctx, "org-1", "pipeline", nil, nil, 2)
	require.NoError(t, err)
	require.NoError(t, tr.AddChild(ctx, g.ID, "run-a"))
	require.NoError(t, tr.AddChild(ctx, g.ID, "run-b"))
	_, err = tr.FinalizeGroup(ctx, g.ID)
	require.NoError(t, err)

	_, err = tr.ChildFailed(ctx, g.ID, nil)
	require.NoError(t, err)
	final, err := tr.ChildFailed(ctx, g.ID, nil)
	require.NoError(t, err)

	require.Equal(t, StatusFailed, final.Status)
}

func TestTracker_FinalizeWithZeroChildrenCompletesImmediately(t *testing.T) {
	tr, cleanup := setupTracker(t)
	defer cleanup()
	ctx := context.Background()

	g, err := tr.CreateGroup(ctx, "org-1", "pipeline", nil, nil, 0)
	require.NoError(t, err)

	final, err := tr.FinalizeGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)
}

func TestTracker_NeverDoubleFinalizes(t *testing.T) {
	tr, cleanup := setupTracker(t)
	defer cleanup()
	ctx := context.Background()

	g, err := tr.CreateGroup(ctx, "org-1", "pipeline", nil, nil, 1)
	require.NoError(t, err)
	require.NoError(t, tr.AddChild(ctx, g.ID, "run-a"))
	_, err = tr.FinalizeGroup(ctx, g.ID)
	require.NoError(t, err)

	first, err := tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, first.Status)

	// A second completion report against an already-terminal group (e.g. a
	// retried webhook) must not error or flip status again.
	second, err := tr.ChildCompleted(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, second.Status)
	require.Equal(t, 2, second.CompletedChildren, "the counter still increments even though maybeFinalize no-ops")
}
