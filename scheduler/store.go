package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is plain CRUD over scheduled_tasks; cron parsing and dispatch live
// in dispatcher.go so they can be unit-tested without a database.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func newID() string { return uuid.NewString() }

func (s *Store) Create(ctx context.Context, t *ScheduledTask) error {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.Enabled {
		next, err := NextRunAt(t.ScheduleExpression, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("invalid schedule_expression %q: %w", t.ScheduleExpression, err)
		}
		t.NextRunAt = &next
	} else {
		t.NextRunAt = nil
	}
	return s.db.WithContext(ctx).Create(t).Error
}

func (s *Store) Get(ctx context.Context, id string) (*ScheduledTask, error) {
	var t ScheduledTask
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetByName(ctx context.Context, name string) (*ScheduledTask, error) {
	var t ScheduledTask
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// Update validates the cron expression of an enabled task and recomputes
// NextRunAt from the new enabled/schedule_expression pair; invalid
// expressions are rejected rather than saved. A disabled task gets a nil
// NextRunAt and its expression is not checked.
func (s *Store) Update(ctx context.Context, t *ScheduledTask) error {
	if t.Enabled {
		next, err := NextRunAt(t.ScheduleExpression, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("invalid schedule_expression %q: %w", t.ScheduleExpression, err)
		}
		t.NextRunAt = &next
	} else {
		t.NextRunAt = nil
	}
	return s.db.WithContext(ctx).Save(t).Error
}

// DueTasks returns every enabled task whose next_run_at has arrived.
func (s *Store) DueTasks(ctx context.Context, asOf time.Time) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	if err := s.db.WithContext(ctx).
		Where("enabled = ? AND next_run_at <= ?", true, asOf).
		Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}

// LockDueTask re-selects task id for update within tx, skipping it if
// another transaction already holds its lock or it's no longer due as of
// asOf, so two concurrent dispatcher ticks can never both fire the same
// row. A nil, nil return means "already claimed elsewhere" or "no longer
// due" — not an error.
func (s *Store) LockDueTask(ctx context.Context, tx *gorm.DB, id string, asOf time.Time) (*ScheduledTask, error) {
	var t ScheduledTask
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ? AND enabled = ? AND next_run_at <= ?", id, true, asOf).
		First(&t).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LockTask takes a blocking row lock on task id within tx, used by a manual
// trigger so it serialises against a concurrent Tick firing the same task
// rather than racing it.
func (s *Store) LockTask(ctx context.Context, tx *gorm.DB, id string) (*ScheduledTask, error) {
	var t ScheduledTask
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&t).Error
	return &t, err
}

func (s *Store) List(ctx context.Context) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	if err := s.db.WithContext(ctx).Order("name ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}
	return tasks, nil
}
