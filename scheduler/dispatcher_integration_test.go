//go:build integration

package scheduler

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

func setupDispatcher(t *testing.T) (*Dispatcher, *gorm.DB, func()) {
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
	return NewDispatcher(NewStore(gdb), runs.NewStore(gdb)), gdb, cleanup
}

// TestTick_FiresDueTaskExactlyOnce drives the real Store/Dispatcher pair
// through a due task and checks both halves of the restart-safety invariant:
// exactly one Run is created, and next_run_at advances past the fire time.
func TestTick_FiresDueTaskExactlyOnce(t *testing.T) {
	d, gdb, cleanup := setupDispatcher(t)
	defer cleanup()
	ctx := context.Background()

	org := "org-1"
	past := time.Now().UTC().Add(-time.Minute)
	task := &ScheduledTask{
		Name:               "nightly-index",
		TaskType:           TaskTypeIndexing,
		ScheduleExpression: "*/5 * * * *",
		Enabled:            true,
		ScopeType:          ScopeOrganization,
		OrganizationID:     &org,
	}
	require.NoError(t, d.Tasks.Create(ctx, task))
	require.NoError(t, gdb.Model(&ScheduledTask{}).Where("id = ?", task.ID).Update("next_run_at", past).Error)

	dispatched, errs := d.Tick(ctx)
	require.Empty(t, errs)
	require.Equal(t, 1, dispatched)

	var runCount int64
	require.NoError(t, gdb.Model(&runs.Run{}).Where("organization_id = ?", org).Count(&runCount).Error)
	require.Equal(t, int64(1), runCount)

	reloaded, err := d.Tasks.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.NextRunAt)
	require.True(t, reloaded.NextRunAt.After(past))
	require.NotNil(t, reloaded.LastRunID)
}

// TestTick_SkipsTaskAlreadyClaimed simulates a concurrent tick holding the
// row lock: the second Tick must treat the task as claimed and not fire it
// again, rather than blocking or double-creating a Run.
func TestTick_SkipsTaskAlreadyClaimed(t *testing.T) {
	d, gdb, cleanup := setupDispatcher(t)
	defer cleanup()
	ctx := context.Background()

	org := "org-1"
	past := time.Now().UTC().Add(-time.Minute)
	task := &ScheduledTask{
		Name:               "nightly-index",
		TaskType:           TaskTypeIndexing,
		ScheduleExpression: "*/5 * * * *",
		Enabled:            true,
		ScopeType:          ScopeOrganization,
		OrganizationID:     &org,
	}
	require.NoError(t, d.Tasks.Create(ctx, task))
	require.NoError(t, gdb.Model(&ScheduledTask{}).Where("id = ?", task.ID).Update("next_run_at", past).Error)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- gdb.Transaction(func(tx *gorm.DB) error {
			if _, err := d.Tasks.LockDueTask(ctx, tx, task.ID, time.Now().UTC()); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()

	<-held
	dispatched, errs := d.Tick(ctx)
	close(release)
	require.NoError(t, <-done)

	require.Empty(t, errs)
	require.Equal(t, 0, dispatched, "a row held by a concurrent transaction must be skipped, not double-fired")

	var runCount int64
	require.NoError(t, gdb.Model(&runs.Run{}).Where("organization_id = ?", org).Count(&runCount).Error)
	require.Equal(t, int64(0), runCount)
}
