// Package sampull implements the paginated SAM.gov opportunity pull (C10):
// fetch pages of solicitations, upsert Solicitation/Notice records, download
// attachments through the extraction pipeline, and emit events that drive
// summarisation procedures, all gated by a per-tenant daily API-call budget.
//
// Grounded on executor/http_executor.go's context-bound HTTP request idiom
// for the page fetches, and queue/redis/queue.go's Redis client-construction
// pattern for the fast-path budget counter (INCR+EXPIRE), backed by a
// Postgres SamAPIUsage row for durable reconciliation across restarts.
package sampull

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

type SolicitationStatus string

const (
	SolicitationActive  SolicitationStatus = "active"
	SolicitationClosed  SolicitationStatus = "closed"
	SolicitationAwarded SolicitationStatus = "awarded"
)

// Solicitation is one federal opportunity record.
type Solicitation struct {
	ID                 string `gorm:"type:uuid;primaryKey"`
	OrganizationID     string `gorm:"index;not null"`
	NoticeID           string `gorm:"index:idx_sol_org_notice,unique;not null"`
	SolicitationNumber string
	Title              string
	Agency             string
	PostedDate         *time.Time
	ResponseDeadline   *time.Time
	NAICSCode          string
	SetAside           string
	Status             SolicitationStatus
	LastPulledAt       time.Time
}

func (Solicitation) TableName() string { return "sam_solicitations" }

// Notice is one SAM.gov notice under a Solicitation, with its attachments.
type Notice struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	SolicitationID  string `gorm:"index;not null"`
	NoticeType      string
	Description     string
	Attachments     runs.JSONMap `gorm:"type:jsonb"` // [{filename, url, size_bytes}]
}

func (Notice) TableName() string { return "sam_notices" }

// Usage is the durable per-tenant daily call counter; the Redis counter is
// the fast path, and BudgetTracker raises this row to the Redis count after
// every call and counts here instead when Redis returns an error.
type Usage struct {
	OrganizationID string    `gorm:"primaryKey"`
	Date           time.Time `gorm:"primaryKey"` // UTC day, truncated to midnight
	CallsMade      int
	DailyLimit     int
}

func (Usage) TableName() string { return "sam_api_usage" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Solicitation{}, &Notice{}, &Usage{})
}
