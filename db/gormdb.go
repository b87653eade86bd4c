package db

import (
	"time"

	"flowcore.dev/asset"
	"flowcore.dev/crawl"
	"flowcore.dev/procedure"
	"flowcore.dev/rungroups"
	"flowcore.dev/runs"
	"flowcore.dev/sampull"
	"flowcore.dev/scheduler"
	"flowcore.dev/sharepoint"
	"flowcore.dev/triggers"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// ConnectGorm opens the platform's GORM connection with production-ready
// pool tuning (10 idle / 100 open / 1h max lifetime) against the ingestion
// and workflow schema.
func ConnectGorm(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return gdb, nil
}

// MigratePlatform runs every domain package's AutoMigrate in dependency
// order (referenced tables before referencing ones), then creates the
// unified_forecasts read-only view used for cross-source forecast reporting.
func MigratePlatform(gdb *gorm.DB) error {
	migrators := []func(*gorm.DB) error{
		runs.Migrate,
		rungroups.Migrate,
		triggers.Migrate,
		asset.Migrate,
		scheduler.Migrate,
		crawl.Migrate,
		sharepoint.Migrate,
		sampull.Migrate,
		procedure.Migrate,
	}
	for _, m := range migrators {
		if err := m(gdb); err != nil {
			return err
		}
	}
	return createUnifiedForecastsView(gdb)
}

// createUnifiedForecastsView builds the cross-source search view aggregating
// three sources that all resolve to the asset table: SAM.gov assets (joined
// to sam_solicitations for title, agency and response_deadline), SharePoint
// assets and scraped assets (both with a NULL agency and deadline). The view
// has no ORDER BY of its own; OrderByNulls builds the NULL-ordering clause
// for a sort over it.
func createUnifiedForecastsView(gdb *gorm.DB) error {
	return gdb.Exec(`
		CREATE OR REPLACE VIEW unified_forecasts AS
		SELECT a.id AS asset_id, a.organization_id, a.source_type, a.status,
		       s.title, s.agency, s.response_deadline, 'sam_gov' AS source
		FROM assets a
		JOIN sam_solicitations s ON s.notice_id = a.source_metadata->>'notice_id'
		WHERE a.source_type = 'sam_gov'
		UNION ALL
		SELECT a.id AS asset_id, a.organization_id, a.source_type, a.status,
		       a.original_filename AS title, NULL AS agency, NULL::timestamptz AS response_deadline,
		       'sharepoint' AS source
		FROM assets a
		WHERE a.source_type = 'sharepoint'
		UNION ALL
		SELECT a.id AS asset_id, a.organization_id, a.source_type, a.status,
		       a.original_filename AS title, NULL AS agency, NULL::timestamptz AS response_deadline,
		       'web_scrape' AS source
		FROM assets a
		WHERE a.source_type IN ('web_scrape', 'web_scrape_document')
	`).Error
}

// OrderByNulls builds an ORDER BY clause for a nullable column with the
// resolved Open Question's convention: NULLs sort last ascending, first
// descending, so a NULL response_deadline sorts as if it were later than
// every real deadline in both directions. No query in this module calls it.
func OrderByNulls(column string, desc bool) string {
	if desc {
		return column + " DESC NULLS FIRST"
	}
	return column + " ASC NULLS LAST"
}
