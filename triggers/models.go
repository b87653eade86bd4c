// Package triggers holds the Trigger entity shared by the procedure executor
// (C5, cron/manual/webhook triggers attached to a procedure) and the event
// bus (C7, event-type triggers matched against emitted payloads).
package triggers

import (
	"time"

	"flowcore.dev/runs"
	"gorm.io/gorm"
)

type TriggerType string

const (
	TriggerCron    TriggerType = "cron"
	TriggerEvent   TriggerType = "event"
	TriggerWebhook TriggerType = "webhook"
	TriggerManual  TriggerType = "manual"
)

// Trigger is attached to a procedure or pipeline.
type Trigger struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	OrganizationID string `gorm:"index;not null"`
	ProcedureSlug  string `gorm:"index;not null"`
	TriggerType    TriggerType `gorm:"not null"`
	CronExpression string
	EventName      string `gorm:"index"`
	EventFilter    runs.JSONMap `gorm:"type:jsonb"`
	// IsPipeline distinguishes a pipeline trigger (run_type "pipeline",
	// backed by a rungroups.Group) from a plain procedure trigger.
	IsPipeline     bool `gorm:"not null;default:false"`
	IsActive       bool `gorm:"index;not null;default:true"`
	LastTriggeredAt *time.Time
	NextTriggerAt   *time.Time
	TriggerCount    int64
}

func (Trigger) TableName() string { return "triggers" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Trigger{})
}
