// Package asset holds the canonical document record and its supporting
// entities (C3/C4 data model): Asset, AssetVersion, ExtractionResult, and
// AssetMetadata. Kept as its own top-level package, distinct from the
// teacher's pre-existing assets/ package (an unrelated external-inventory
// HTTP client), to avoid colliding with that import path.
package asset

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

type SourceType string

const (
	SourceUpload            SourceType = "upload"
	SourceSharePoint        SourceType = "sharepoint"
	SourceWebScrape         SourceType = "web_scrape"
	SourceWebScrapeDocument SourceType = "web_scrape_document"
	SourceSAMGov            SourceType = "sam_gov"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusFailed  Status = "failed"
	StatusDeleted Status = "deleted"
)

type ExtractionTier string

const (
	TierNone     ExtractionTier = "none"
	TierBasic    ExtractionTier = "basic"
	TierEnhanced ExtractionTier = "enhanced"
)

// Asset is the canonical document record.
type Asset struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	OrganizationID        string `gorm:"index;not null"`
	SourceType            SourceType `gorm:"not null"`
	SourceMetadata        runs.JSONMap `gorm:"type:jsonb"`
	OriginalFilename      string `gorm:"not null"`
	ContentType           string
	FileSize              int64
	FileHash              string `gorm:"index"`
	RawBucket             string `gorm:"not null"`
	RawObjectKey          string `gorm:"not null;uniqueIndex:idx_asset_raw_location"`
	Status                Status `gorm:"index;not null"`
	CurrentVersionNumber  int
	ExtractionTier        ExtractionTier
	EnhancementEligible   bool
	EnhancementQueuedAt   *time.Time
	CreatedAt             time.Time `gorm:"not null"`
	UpdatedAt             time.Time
	CreatedBy             string
}

func (Asset) TableName() string { return "assets" }

// AssetVersion is an immutable raw-content snapshot.
type AssetVersion struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	AssetID       string `gorm:"index;not null"`
	VersionNumber int    `gorm:"not null"`
	RawBucket     string `gorm:"not null"`
	RawObjectKey  string `gorm:"not null"`
	FileSize      int64
	FileHash      string
	ContentType   string
	IsCurrent     bool `gorm:"index;not null"`
	CreatedAt     time.Time `gorm:"not null"`
	CreatedBy     string
}

func (AssetVersion) TableName() string { return "asset_versions" }

type ExtractionStatus string

const (
	ExtractionPending   ExtractionStatus = "pending"
	ExtractionRunning   ExtractionStatus = "running"
	ExtractionCompleted ExtractionStatus = "completed"
	ExtractionFailed    ExtractionStatus = "failed"
)

// ExtractionResult is one attempt at converting a raw asset version to
// markdown.
type ExtractionResult struct {
	ID                    string `gorm:"type:uuid;primaryKey"`
	AssetID               string `gorm:"index;not null"`
	AssetVersionID        *string `gorm:"index"`
	RunID                 string  `gorm:"index;not null"`
	ExtractorVersion      string
	Status                ExtractionStatus `gorm:"index;not null"`
	ExtractedBucket       *string
	ExtractedObjectKey    *string
	StructureMetadata     runs.JSONMap `gorm:"type:jsonb"`
	Warnings              runs.StringList `gorm:"type:jsonb"`
	Errors                runs.StringList `gorm:"type:jsonb"`
	ExtractionTimeSeconds float64
	ExtractionTier        ExtractionTier
	CreatedAt             time.Time `gorm:"not null"`
}

func (ExtractionResult) TableName() string { return "extraction_results" }

type MetadataStatus string

const (
	MetadataActive     MetadataStatus = "active"
	MetadataSuperseded MetadataStatus = "superseded"
	MetadataDeprecated MetadataStatus = "deprecated"
)

// AssetMetadata is an experiment-supporting metadata slot, e.g. an
// LLM-generated executive summary.
type AssetMetadata struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	AssetID         string `gorm:"index:idx_asset_metadata_type;not null"`
	MetadataType    string `gorm:"index:idx_asset_metadata_type;not null"`
	SchemaVersion   int
	MetadataContent runs.JSONMap `gorm:"type:jsonb"`
	ProducerRunID   *string
	IsCanonical     bool `gorm:"index"`
	Status          MetadataStatus `gorm:"index;not null"`
	SupersededByID  *string
	SupersededAt    *time.Time
	PromotedAt      *time.Time
}

func (AssetMetadata) TableName() string { return "asset_metadata" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Asset{}, &AssetVersion{}, &ExtractionResult{}, &AssetMetadata{})
}
