// Package rungroups implements the parent/child fan-out aggregator (C2):
// RunGroup tracks how many of its expected children have completed or
// failed and fires a completion event exactly once when the group reaches
// a terminal state.
package rungroups

import (
	"time"

	"flowcore.dev/runs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is one of the RunGroup's terminal or in-flight states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPartial   Status = "partial"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusPartial, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Group is the RunGroup fan-out tracker.
type Group struct {
	ID                string `gorm:"type:uuid;primaryKey"`
	OrganizationID    string `gorm:"index;not null"`
	GroupType         string `gorm:"index;not null"`
	ParentRunID       *string `gorm:"index"`
	Status            Status  `gorm:"index;not null"`
	TotalChildren     int
	CompletedChildren int
	FailedChildren    int
	Config            runs.JSONMap `gorm:"type:jsonb"`
	ResultsSummary    runs.JSONMap `gorm:"type:jsonb"`
	StartedAt         *time.Time
	CompletedAt       *time.Time
	// registering is true while the parent is still adding expected
	// children; finalize_group re-runs the completion check once it flips
	// false, closing the race window where the last child finishes before
	// the parent has finished registering every expected child.
	Registering bool
}

func (Group) TableName() string { return "run_groups" }

// ChildLink records that a Run belongs to a Group, without giving the group
// ownership of the child's lifecycle.
type ChildLink struct {
	GroupID string `gorm:"primaryKey"`
	RunID   string `gorm:"primaryKey"`
}

func (ChildLink) TableName() string { return "run_group_children" }

func newID() string { return uuid.NewString() }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Group{}, &ChildLink{})
}
