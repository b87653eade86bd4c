// Package runs implements the universal execution record (C1): every
// background activity in the platform — extractions, procedures, crawls,
// syncs, pulls — is persisted as a Run with a strict status lifecycle and an
// append-only log of RunLogEvents.
package runs

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a map[string]interface{} that marshals to/from a JSON column,
// the same open-ended-JSON-at-the-edges approach as semantic/runtime.RuntimeAction's
// AllFields: typed fields carry the well-known shape, JSONMap carries everything else.
type JSONMap map[string]interface{}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("JSONMap: unsupported scan type %T", value)
		}
	}
	if len(b) == 0 {
		*m = nil
		return nil
	}
	out := make(JSONMap)
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// StringList is a []string stored as a JSON array column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	b, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			b = []byte(s)
		} else {
			return fmt.Errorf("StringList: unsupported scan type %T", value)
		}
	}
	if len(b) == 0 {
		*l = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(b, &out); err != nil {
		return err
	}
	*l = out
	return nil
}

// RunType enumerates the kinds of background work a Run may represent.
type RunType string

const (
	RunTypeExtraction            RunType = "extraction"
	RunTypeExtractionEnhancement RunType = "extraction_enhancement"
	RunTypeProcedure             RunType = "procedure"
	RunTypePipeline              RunType = "pipeline"
	RunTypeScrape                RunType = "scrape"
	RunTypeSharePointSync        RunType = "sharepoint_sync"
	RunTypeSAMPull               RunType = "sam_pull"
	RunTypeSystemMaintenance     RunType = "system_maintenance"
	RunTypeIndexing              RunType = "indexing"
)

// Origin enumerates who/what caused a Run to be created.
type Origin string

const (
	OriginUser      Origin = "user"
	OriginSystem    Origin = "system"
	OriginScheduled Origin = "scheduled"
	OriginEvent     Origin = "event"
	OriginGroup     Origin = "group"
)

// Status is one node of the Run state machine.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Progress tracks current/total/unit/percent, recomputed on every update.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Unit    string `json:"unit"`
	Percent int    `json:"percent"`
}

// Run is the universal execution record.
type Run struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	OrganizationID   string `gorm:"index;not null"`
	RunType          RunType `gorm:"index;not null"`
	Origin           Origin  `gorm:"not null"`
	Status           Status  `gorm:"index;not null"`
	Config           JSONMap `gorm:"type:jsonb"`
	InputAssetIDs    StringList `gorm:"type:jsonb"`
	ProgressCurrent  int
	ProgressTotal    int
	ProgressUnit     string
	ProgressPercent  int
	ResultsSummary   JSONMap `gorm:"type:jsonb"`
	ErrorMessage     *string
	CreatedAt        time.Time `gorm:"not null"`
	StartedAt        *time.Time
	CompletedAt      *time.Time
	CreatedBy        string
	GroupID          *string `gorm:"index"`
	IsGroupParent    bool
	TraceID          string `gorm:"index"`
	ProcedureID      *string
	ProcedureVersion *int
	// Priority backs the extraction queue's (-priority, enqueued_at) ordering
	//; CreatedAt doubles as enqueued_at since a Run is created
	// in pending at the moment it is queued.
	Priority int `gorm:"index"`
}

func (Run) TableName() string { return "runs" }

// ProgressValue returns the Run's progress as a single value.
func (r *Run) ProgressValue() Progress {
	return Progress{Current: r.ProgressCurrent, Total: r.ProgressTotal, Unit: r.ProgressUnit, Percent: r.ProgressPercent}
}

// LogLevel is the severity of a RunLogEvent.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// EventType enumerates the kinds of RunLogEvent the executor and orchestrators emit.
type EventType string

const (
	EventStart                EventType = "start"
	EventProgress              EventType = "progress"
	EventStepStart             EventType = "step_start"
	EventStepComplete          EventType = "step_complete"
	EventStepError             EventType = "step_error"
	EventGovernance            EventType = "governance"
	EventGovernanceViolation   EventType = "governance_violation"
	EventRestart               EventType = "restart"
	EventSummary               EventType = "summary"
)

// RunLogEvent is one append-only entry in a Run's ordered log.
type RunLogEvent struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	RunID     string `gorm:"index;not null"`
	Level     LogLevel
	EventType EventType
	Message   string
	Context   JSONMap `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;index"`
}

func (RunLogEvent) TableName() string { return "run_log_events" }

func newID() string { return uuid.NewString() }

// Migrate runs GORM auto-migration for the run store's tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Run{}, &RunLogEvent{})
}
