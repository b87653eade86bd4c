// Package queueregistry is the process-wide table describing every kind of
// queue the platform dispatches work through: its concurrency ceiling,
// submission pacing, and which run types it accepts.
//
// Grounded on statemanager/manager.go's mutex-guarded map lifecycle
// (Start/Get/List/Stats), generalised from per-operation bookkeeping to
// per-queue-kind configuration, and on the field set of
// original_source/.../queue_registry.py's QueueDefinition dataclass.
package queueregistry

import (
	"sync"
	"time"
)

// Definition describes one queue kind: its identity, capabilities, and the
// defaults a Registry applies unless overridden at runtime.
type Definition struct {
	QueueType       string
	RunTypeAliases  []string
	CanCancel       bool
	CanBoost        bool
	CanRetry        bool
	Label           string
	Description     string
	Icon            string
	Color           string

	DefaultMaxConcurrent      int
	DefaultTimeoutSeconds     int
	DefaultSubmissionInterval time.Duration
	DefaultDuplicateCooldown  time.Duration

	// Runtime-overridable fields, seeded from the defaults above on
	// registration and mutable via ApplyOverrides.
	maxConcurrent      int
	timeoutSeconds     int
	submissionInterval time.Duration
	duplicateCooldown  time.Duration
}

// Overrides carries operator-supplied runtime adjustments; zero fields mean
// "leave unchanged".
type Overrides struct {
	MaxConcurrent      int
	TimeoutSeconds     int
	SubmissionInterval time.Duration
	DuplicateCooldown  time.Duration
}

// Snapshot is the read-only view of a Definition's current runtime state,
// the Go analogue of queue_registry.py's to_dict().
type Snapshot struct {
	QueueType          string
	RunTypeAliases     []string
	CanCancel          bool
	CanBoost           bool
	CanRetry           bool
	Label              string
	Description        string
	Icon               string
	Color              string
	MaxConcurrent      int
	TimeoutSeconds     int
	SubmissionInterval time.Duration
	DuplicateCooldown  time.Duration
}

// Registry is the mutex-guarded table of Definitions, keyed by queue type
// and indexed by every run-type alias it accepts.
type Registry struct {
	mu          sync.RWMutex
	byQueueType map[string]*Definition
	byRunType   map[string]string // run type alias -> queue type
}

func New() *Registry {
	return &Registry{
		byQueueType: make(map[string]*Definition),
		byRunType:   make(map[string]string),
	}
}

// Register adds a queue Definition, seeding its runtime fields from its
// defaults. Registering the same queue type twice overwrites the prior entry.
func (r *Registry) Register(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d.maxConcurrent = d.DefaultMaxConcurrent
	d.timeoutSeconds = d.DefaultTimeoutSeconds
	d.submissionInterval = d.DefaultSubmissionInterval
	d.duplicateCooldown = d.DefaultDuplicateCooldown

	r.byQueueType[d.QueueType] = &d
	for _, alias := range d.RunTypeAliases {
		r.byRunType[alias] = d.QueueType
	}
}

// QueueTypeForRunType resolves a run_type string to its owning queue type.
func (r *Registry) QueueTypeForRunType(runType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	qt, ok := r.byRunType[runType]
	return qt, ok
}

// Get returns a snapshot of one queue's current configuration.
func (r *Registry) Get(queueType string) (Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byQueueType[queueType]
	if !ok {
		return Snapshot{}, false
	}
	return snapshot(d), true
}

// List returns a snapshot of every registered queue.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.byQueueType))
	for _, d := range r.byQueueType {
		out = append(out, snapshot(d))
	}
	return out
}

// ApplyOverrides mutates a queue's runtime fields in place, leaving zero
// fields in the Overrides untouched.
func (r *Registry) ApplyOverrides(queueType string, o Overrides) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byQueueType[queueType]
	if !ok {
		return false
	}
	if o.MaxConcurrent > 0 {
		d.maxConcurrent = o.MaxConcurrent
	}
	if o.TimeoutSeconds > 0 {
		d.timeoutSeconds = o.TimeoutSeconds
	}
	if o.SubmissionInterval > 0 {
		d.submissionInterval = o.SubmissionInterval
	}
	if o.DuplicateCooldown > 0 {
		d.duplicateCooldown = o.DuplicateCooldown
	}
	return true
}

func snapshot(d *Definition) Snapshot {
	return Snapshot{
		QueueType:          d.QueueType,
		RunTypeAliases:     append([]string(nil), d.RunTypeAliases...),
		CanCancel:          d.CanCancel,
		CanBoost:           d.CanBoost,
		CanRetry:           d.CanRetry,
		Label:              d.Label,
		Description:        d.Description,
		Icon:               d.Icon,
		Color:              d.Color,
		MaxConcurrent:      d.maxConcurrent,
		TimeoutSeconds:     d.timeoutSeconds,
		SubmissionInterval: d.submissionInterval,
		DuplicateCooldown:  d.duplicateCooldown,
	}
}

// Defaults returns the registry seeded with the platform's built-in queue
// kinds, mirroring queue_registry.py's module-level QUEUE_DEFINITIONS table.
func Defaults() *Registry {
	r := New()
	r.Register(Definition{
		QueueType:                 "extraction",
		RunTypeAliases:            []string{"extraction", "extraction_enhancement"},
		CanCancel:                 true,
		CanBoost:                  true,
		CanRetry:                  true,
		Label:                     "Document Extraction",
		Icon:                      "file-text",
		Color:                     "blue",
		DefaultMaxConcurrent:      10,
		DefaultTimeoutSeconds:     600,
		DefaultSubmissionInterval: 2 * time.Second,
		DefaultDuplicateCooldown:  30 * time.Second,
	})
	r.Register(Definition{
		QueueType:                 "procedure",
		RunTypeAliases:            []string{"procedure", "pipeline"},
		CanCancel:                 true,
		CanRetry:                  true,
		Label:                     "Procedure Execution",
		Icon:                      "git-branch",
		Color:                     "purple",
		DefaultMaxConcurrent:      20,
		DefaultTimeoutSeconds:     1800,
		DefaultSubmissionInterval: time.Second,
		DefaultDuplicateCooldown:  0,
	})
	r.Register(Definition{
		QueueType:                 "scrape",
		RunTypeAliases:            []string{"scrape"},
		CanCancel:                 true,
		Label:                     "Web Crawl",
		Icon:                      "globe",
		Color:                     "green",
		DefaultMaxConcurrent:      5,
		DefaultTimeoutSeconds:     3600,
		DefaultSubmissionInterval: 5 * time.Second,
	})
	r.Register(Definition{
		QueueType:                 "sharepoint_sync",
		RunTypeAliases:            []string{"sharepoint_sync"},
		CanCancel:                 true,
		Label:                     "SharePoint Sync",
		Icon:                      "cloud",
		Color:                     "teal",
		DefaultMaxConcurrent:      3,
		DefaultTimeoutSeconds:     3600,
		DefaultSubmissionInterval: 5 * time.Second,
	})
	r.Register(Definition{
		QueueType:                 "sam_pull",
		RunTypeAliases:            []string{"sam_pull"},
		CanRetry:                  true,
		Label:                     "SAM.gov Pull",
		Icon:                      "download",
		Color:                     "orange",
		DefaultMaxConcurrent:      2,
		DefaultTimeoutSeconds:     1800,
		DefaultSubmissionInterval: 10 * time.Second,
	})
	r.Register(Definition{
		QueueType:                 "system_maintenance",
		RunTypeAliases:            []string{"system_maintenance", "indexing"},
		Label:                     "System Maintenance",
		Icon:                      "tool",
		Color:                     "gray",
		DefaultMaxConcurrent:      1,
		DefaultTimeoutSeconds:     7200,
		DefaultSubmissionInterval: 30 * time.Second,
	})
	return r
}
