// Package crawl implements the breadth-first frontier crawler (C8): seed a
// collection's sources, normalise and dedupe URLs, render pages, diff
// content hashes against prior ScrapedAssets, and route discovered documents
// through the extraction pipeline.
//
// Grounded on executor/http_executor.go's HTTP-request-with-context idiom
// (generalised from "execute one semantic action" to "fetch one page") and
// on golang.org/x/net/html for link/title extraction when no JS-capable
// renderer is configured.
package crawl

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

// Collection owns seed sources and hosts discovered pages.
type Collection struct {
	ID                   string `gorm:"type:uuid;primaryKey"`
	OrganizationID       string `gorm:"index;not null"`
	Slug                 string `gorm:"index;not null"`
	Name                 string
	MaxPages             int
	MaxDepth             int // 0 means unlimited
	IncludePatterns      runs.StringList `gorm:"type:jsonb"`
	ExcludePatterns      runs.StringList `gorm:"type:jsonb"`
	FollowExternalLinks  bool
	DownloadDocuments    bool
	DocumentExtensions   runs.StringList `gorm:"type:jsonb"`
	DelaySeconds         float64
	ScrapeMetadata       runs.JSONMap `gorm:"type:jsonb"`
	CreatedAt            time.Time
}

func (Collection) TableName() string { return "scrape_collections" }

// Source is a seed URL belonging to a Collection.
type Source struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	CollectionID string `gorm:"index;not null"`
	URL          string `gorm:"not null"`
	Active       bool   `gorm:"not null;default:true"`
}

func (Source) TableName() string { return "scrape_sources" }

// ScrapedAsset ties an Asset to (collection_id, normalized_url).
type ScrapedAsset struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	CollectionID   string `gorm:"index:idx_scraped_collection_url,unique;not null"`
	NormalizedURL  string `gorm:"index:idx_scraped_collection_url,unique;not null"`
	AssetID        string `gorm:"index;not null"`
	Subtype        string // "page" or "document"
	ScrapeMetadata runs.JSONMap `gorm:"type:jsonb"` // content_hash, version_count
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
}

func (ScrapedAsset) TableName() string { return "scraped_assets" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Collection{}, &Source{}, &ScrapedAsset{})
}
