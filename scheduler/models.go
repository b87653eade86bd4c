// Package scheduler implements the scheduled-task dispatcher (C6): a periodic
// beat that turns due cron rows into Runs, plus a manual trigger-now path.
//
// Grounded on runs/store.go's Create/UpdateStatus idiom for the Run side, and
// on robfig/cron/v3 for parsing and next-fire computation (semantic/schedule.go
// only maps schedule-name strings to ISO8601 durations and is too thin to
// model cron fields, so it contributes nothing beyond the naming convention
// for schedule_expression).
package scheduler

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

// ScopeType distinguishes a task that fires for every organization (global)
// from one scoped to a single tenant.
type ScopeType string

const (
	ScopeGlobal       ScopeType = "global"
	ScopeOrganization ScopeType = "organization"
)

// TaskType is the kind of Run a task's beat materialises; runTypeFor maps it
// to the Run's run_type, and any type it does not know becomes
// system_maintenance.
type TaskType string

const (
	TaskTypeSystemMaintenance TaskType = "system_maintenance"
	TaskTypeIndexing          TaskType = "indexing"
	TaskTypeSAMPull           TaskType = "sam_pull"
	TaskTypeSharePointSync    TaskType = "sharepoint_sync"
)

// ScheduledTask is a cron-driven Run factory.
type ScheduledTask struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	Name               string `gorm:"uniqueIndex;not null"`
	TaskType           TaskType
	ScheduleExpression string `gorm:"not null"` // standard 5-field cron
	Enabled            bool   `gorm:"not null;default:true"`
	ScopeType          ScopeType
	OrganizationID     *string
	Config             runs.JSONMap

	LastRunID     *string
	LastRunAt     *time.Time
	LastRunStatus *string

	NextRunAt *time.Time `gorm:"index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (ScheduledTask) TableName() string { return "scheduled_tasks" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&ScheduledTask{})
}
