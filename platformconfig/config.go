// Package platformconfig is the single YAML-backed configuration surface
// the composition root loads at startup: LLM tasks,
// extraction engines, queue parameter overrides, optional SharePoint
// defaults, storage locations, and the search-indexing toggle. Loaded via
// spf13/viper exactly as cli/root.go already does for its own flags, and
// validated with the existing config.Validator (config/config.go) rather
// than introducing a second validation helper.
package platformconfig

import (
	"time"

	"flowcore.dev/config"
	"flowcore.dev/queueregistry"
	"github.com/spf13/viper"
)

// LLMTaskConfig is one task type's model and sampling settings.
type LLMTaskConfig struct {
	TaskType    string  `mapstructure:"task_type"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
}

// ExtractionEngineConfig is one entry in the ordered engine list: per-engine
// timeout, accepted format list, and exactly one marked default.
type ExtractionEngineConfig struct {
	Name       string        `mapstructure:"name"`
	BaseURL    string        `mapstructure:"base_url"`
	Default    bool          `mapstructure:"default"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Extensions []string      `mapstructure:"extensions"`
}

// QueueOverride is an operator-supplied runtime adjustment for one queue
// kind, applied to queueregistry.Registry at startup.
type QueueOverride struct {
	QueueType          string        `mapstructure:"queue_type"`
	MaxConcurrent       int          `mapstructure:"max_concurrent"`
	TimeoutSeconds      int          `mapstructure:"timeout_seconds"`
	SubmissionInterval  time.Duration `mapstructure:"submission_interval"`
}

// SharePointDefaults seeds new SyncConfig rows with tenant-wide defaults.
type SharePointDefaults struct {
	MaxFileSizeBytes int64 `mapstructure:"max_file_size_bytes"`
	Recursive        bool  `mapstructure:"recursive"`
}

// StorageLocations names the buckets every component uploads to.
type StorageLocations struct {
	Uploads   string `mapstructure:"uploads"`
	Processed string `mapstructure:"processed"`
}

// Config is the fully parsed platform configuration.
type Config struct {
	Port               string                   `mapstructure:"port"`
	DatabaseURL        string                   `mapstructure:"database_url"`
	RedisURL           string                   `mapstructure:"redis_url"`
	LLMTasks           []LLMTaskConfig          `mapstructure:"llm_tasks"`
	ExtractionEngines  []ExtractionEngineConfig `mapstructure:"extraction_engines"`
	QueueOverrides     []QueueOverride          `mapstructure:"queue_overrides"`
	SharePoint         SharePointDefaults       `mapstructure:"sharepoint_defaults"`
	Storage            StorageLocations         `mapstructure:"storage"`
	SearchEnabled       bool                    `mapstructure:"search_enabled"`
	SAMGovAPIKey       string                   `mapstructure:"sam_gov_api_key"`
	SAMGovBaseURL      string                   `mapstructure:"sam_gov_base_url"`
	SAMGovDailyLimit   int                      `mapstructure:"sam_gov_daily_limit"`
}

// Load reads the bound viper instance into a Config. Callers bind flags and
// call viper.ReadInConfig before this, the same ordering cli/root.go's
// initConfig already follows.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// DefaultExtractionEngine returns the first engine flagged default, or the
// first engine if none is flagged.
func (c *Config) DefaultExtractionEngine() (ExtractionEngineConfig, bool) {
	if len(c.ExtractionEngines) == 0 {
		return ExtractionEngineConfig{}, false
	}
	for _, e := range c.ExtractionEngines {
		if e.Default {
			return e, true
		}
	}
	return c.ExtractionEngines[0], true
}

// Validate checks the loaded config against the invariants required before
// the composition root wires collaborators: at least one
// LLM task, at least one extraction engine with exactly one marked default,
// and any queue overrides naming a real registry queue type.
func (c *Config) Validate(registry *queueregistry.Registry) error {
	v := config.NewValidator()
	v.RequireString("database_url", c.DatabaseURL)
	v.RequireString("port", c.Port)

	if len(c.LLMTasks) == 0 {
		v.RequireString("llm_tasks", "")
	}

	if len(c.ExtractionEngines) == 0 {
		v.RequireString("extraction_engines", "")
	}
	defaults := 0
	for _, e := range c.ExtractionEngines {
		if e.Default {
			defaults++
		}
	}
	if len(c.ExtractionEngines) > 0 && defaults != 1 {
		v.RequireString("extraction_engines[].default (exactly one required)", "")
	}

	for _, o := range c.QueueOverrides {
		if _, ok := registry.Get(o.QueueType); !ok {
			v.RequireOneOf("queue_overrides.queue_type", o.QueueType, knownQueueTypes(registry))
		}
	}

	return v.Validate()
}

func knownQueueTypes(registry *queueregistry.Registry) []string {
	snaps := registry.List()
	out := make([]string, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.QueueType)
	}
	return out
}
