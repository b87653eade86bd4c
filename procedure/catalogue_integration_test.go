//go:build integration

package procedure

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpg "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupCatalogueDB(t *testing.T) (*gorm.DB, func()) {
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
	return gdb, cleanup
}

func insertDefinitionRow(t *testing.T, gdb *gorm.DB, d *Definition, createdAt time.Time) {
	t.Helper()
	b, err := json.Marshal(d)
	require.NoError(t, err)
	row := &DefinitionRow{ID: newRowID(), Slug: d.Slug, Version: d.Version, DefinitionJSON: string(b), CreatedAt: createdAt}
	require.NoError(t, gdb.Create(row).Error)
}

func TestLoadFromDB_ResolvesSlugToDefinition(t *testing.T) {
	gdb, cleanup := setupCatalogueDB(t)
	defer cleanup()

	def := &Definition{Slug: "send-welcome-email", Version: 1, Steps: []Step{{Name: "step1", Function: "echo"}}}
	insertDefinitionRow(t, gdb, def, time.Now().UTC())

	cat, warnings, err := LoadFromDB(context.Background(), gdb)
	require.NoError(t, err)
	require.Empty(t, warnings)

	got, ok := cat.Get("send-welcome-email")
	require.True(t, ok)
	require.Equal(t, 1, len(got.Steps))
	require.Equal(t, "step1", got.Steps[0].Name)
}

func TestLoadFromDB_DuplicateSlugFirstWins(t *testing.T) {
	gdb, cleanup := setupCatalogueDB(t)
	defer cleanup()

	older := time.Now().UTC().Add(-time.Hour)
	newer := time.Now().UTC()

	first := &Definition{Slug: "nightly-report", Version: 1, Steps: []Step{{Name: "v1", Function: "echo"}}}
	second := &Definition{Slug: "nightly-report", Version: 2, Steps: []Step{{Name: "v2", Function: "echo"}}}
	insertDefinitionRow(t, gdb, first, older)
	insertDefinitionRow(t, gdb, second, newer)

	cat, warnings, err := LoadFromDB(context.Background(), gdb)
	require.NoError(t, err)
	require.Len(t, warnings, 1, "a duplicate slug must produce exactly one load-time warning")

	got, ok := cat.Get("nightly-report")
	require.True(t, ok)
	require.Equal(t, "v1", got.Steps[0].Name, "the earliest-loaded definition for a slug must win")
}

func TestLoadFromDB_InvalidDefinitionSkippedWithWarning(t *testing.T) {
	gdb, cleanup := setupCatalogueDB(t)
	defer cleanup()

	row := &DefinitionRow{ID: newRowID(), Slug: "broken", Version: 1, DefinitionJSON: "not json", CreatedAt: time.Now().UTC()}
	require.NoError(t, gdb.Create(row).Error)

	cat, warnings, err := LoadFromDB(context.Background(), gdb)
	require.NoError(t, err)
	require.Len(t, warnings, 1)

	_, ok := cat.Get("broken")
	require.False(t, ok)
}
