package procedure

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newRowID() string { return uuid.NewString() }

// DefinitionRow is a procedure Definition's persisted form: the declarative
// step graph serialised to JSON, one row per (slug, version) a deploy has
// ever loaded. Grounded on runs.JSONMap's marshal-to-column idiom, applied
// here to a whole Definition instead of an open-ended map.
type DefinitionRow struct {
	ID             string `gorm:"primaryKey;type:varchar(36)"`
	Slug           string `gorm:"not null;index"`
	Version        int    `gorm:"not null"`
	DefinitionJSON string `gorm:"column:definition_json;type:text;not null"`
	CreatedAt      time.Time
}

func (DefinitionRow) TableName() string { return "procedure_definitions" }

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&DefinitionRow{})
}

// Catalogue resolves a procedure_slug (as carried in a Run's config, set by
// rungroups.RunSpawner/eventbus.Bus/scheduler task config) to the Definition
// platformworker.Dispatcher needs to actually execute a procedure or
// pipeline Run.
type Catalogue struct {
	mu     sync.RWMutex
	bySlug map[string]*Definition
}

func NewCatalogue() *Catalogue {
	return &Catalogue{bySlug: make(map[string]*Definition)}
}

// Get resolves a slug to its loaded Definition.
func (c *Catalogue) Get(slug string) (*Definition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.bySlug[slug]
	return d, ok
}

// Put registers a Definition directly, bypassing the database — used by
// tests and by callers that build a Catalogue from embedded definitions
// rather than persisted rows.
func (c *Catalogue) Put(d *Definition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySlug[d.Slug] = d
}

// LoadFromDB reads every procedure_definitions row oldest first and builds a
// Catalogue, keeping the first Definition seen for a given slug: a later
// row with the same slug (a redeploy that reused a slug, or an operator
// mistake) produces a load-time warning instead of silently overriding the
// version already serving traffic.
func LoadFromDB(ctx context.Context, db *gorm.DB) (*Catalogue, []string, error) {
	var rows []DefinitionRow
	if err := db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	cat := NewCatalogue()
	var warnings []string
	for _, row := range rows {
		var def Definition
		if err := json.Unmarshal([]byte(row.DefinitionJSON), &def); err != nil {
			warnings = append(warnings, fmt.Sprintf("procedure definition %s (row %s): invalid JSON: %v", row.Slug, row.ID, err))
			continue
		}
		if def.Slug == "" {
			def.Slug = row.Slug
		}
		if err := ValidateDefinition(&def); err != nil {
			warnings = append(warnings, fmt.Sprintf("procedure definition %s (row %s): %v", row.Slug, row.ID, err))
			continue
		}
		if _, exists := cat.bySlug[def.Slug]; exists {
			warnings = append(warnings, fmt.Sprintf("duplicate procedure slug %q: row %s ignored, first-loaded definition kept", def.Slug, row.ID))
			continue
		}
		cat.Put(&def)
	}
	return cat, warnings, nil
}

// StoreDefinition inserts a new procedure_definitions row for slug, the
// write side of the catalogue a procedure-authoring endpoint or seed script
// uses; LoadFromDB is the read side the composition root calls at startup.
func StoreDefinition(ctx context.Context, db *gorm.DB, d *Definition) error {
	if err := ValidateDefinition(d); err != nil {
		return err
	}
	b, err := json.Marshal(d)
	if err != nil {
		return err
	}
	row := &DefinitionRow{
		ID:             newRowID(),
		Slug:           d.Slug,
		Version:        d.Version,
		DefinitionJSON: string(b),
		CreatedAt:      time.Now().UTC(),
	}
	return db.WithContext(ctx).Create(row).Error
}
