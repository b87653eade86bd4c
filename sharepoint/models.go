// Package sharepoint implements the SharePoint folder sync (C9): fetch a
// remote drive's inventory, diff it against SharePointSyncedDocument rows,
// and route new/changed files through the extraction pipeline.
//
// Grounded on cloud/azuregraph.go's Azure AD client-credentials + Microsoft
// Graph SDK construction (azidentity.NewClientSecretCredential +
// msgraphsdk.NewGraphServiceClientWithCredentials) and its PageIterator
// pagination idiom, adapted from mail/calendar reads to drive-item listing.
package sharepoint

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

// SyncConfig owns a remote folder to mirror into the asset store.
type SyncConfig struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	OrganizationID    string `gorm:"index;not null"`
	Slug              string `gorm:"index;not null"`
	TenantID          string
	ClientID          string
	ClientSecret      string
	DriveID           string `gorm:"not null"`
	FolderID          string `gorm:"not null"`
	Recursive         bool
	MaxFileSizeBytes  int64
	IncludePatterns   runs.StringList `gorm:"type:jsonb"`
	ExcludePatterns   runs.StringList `gorm:"type:jsonb"`
	Stats             runs.JSONMap    `gorm:"type:jsonb"`
	CreatedAt         time.Time
}

func (SyncConfig) TableName() string { return "sharepoint_sync_configs" }

type SyncStatus string

const (
	SyncStatusSynced         SyncStatus = "synced"
	SyncStatusDeletedInSource SyncStatus = "deleted_in_source"
	SyncStatusOrphaned       SyncStatus = "orphaned"
)

// SyncedDocument tracks one remote item keyed by (sync_config_id, sharepoint_item_id).
type SyncedDocument struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	SyncConfigID     string `gorm:"index:idx_sharepoint_sync_item,unique;not null"`
	SharePointItemID string `gorm:"index:idx_sharepoint_sync_item,unique;not null"`
	AssetID          string `gorm:"index;not null"`
	RelativePath     string
	SharePointETag   string
	ContentHash      string
	SyncStatus       SyncStatus `gorm:"not null"`
	LastSyncedAt     time.Time
	DeletedDetectedAt *time.Time
}

func (SyncedDocument) TableName() string { return "sharepoint_synced_documents" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&SyncConfig{}, &SyncedDocument{})
}
