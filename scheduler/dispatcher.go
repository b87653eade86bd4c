package scheduler

import (
	"context"
	"fmt"
	"time"

	"flowcore.dev/runs"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NextRunAt parses a standard 5-field cron expression and returns the next
// fire time strictly after from.
func NextRunAt(expr string, from time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// runTypeFor maps a task's declared type to the Run's run_type, defaulting to
// system_maintenance for anything unrecognised.
func runTypeFor(tt TaskType) runs.RunType {
	switch tt {
	case TaskTypeIndexing:
		return runs.RunTypeIndexing
	case TaskTypeSAMPull:
		return runs.RunTypeSAMPull
	case TaskTypeSharePointSync:
		return runs.RunTypeSharePointSync
	default:
		return runs.RunTypeSystemMaintenance
	}
}

// Dispatcher runs the periodic beat and the manual trigger-now path.
type Dispatcher struct {
	Tasks *Store
	Runs  *runs.Store
}

func NewDispatcher(tasks *Store, runsStore *runs.Store) *Dispatcher {
	return &Dispatcher{Tasks: tasks, Runs: runsStore}
}

// Tick evaluates every due task: materialises a Run and advances
// next_run_at from the cron expression atomically with it, so a crash or a
// concurrent Tick between the two writes can't double-fire the task.
// If Run creation fails for a task, its transaction rolls back and
// next_run_at is left unchanged, so the task stays due; the error is
// collected and the remaining due tasks are still fired.
func (d *Dispatcher) Tick(ctx context.Context) (dispatched int, errs []error) {
	due, err := d.Tasks.DueTasks(ctx, time.Now().UTC())
	if err != nil {
		return 0, []error{err}
	}
	for i := range due {
		id, name := due[i].ID, due[i].Name
		run, err := d.fireDue(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("task %s: %w", name, err))
			continue
		}
		if run != nil {
			dispatched++
		}
	}
	return dispatched, errs
}

// fireDue re-locks task id in its own transaction via SKIP LOCKED and fires
// it only if the lock is acquired and the task is still due, so two
// overlapping ticks (or a tick racing a manual TriggerNow) never both fire
// the same row. A nil run with a nil error means another tick already
// claimed it.
func (d *Dispatcher) fireDue(ctx context.Context, id string) (*runs.Run, error) {
	var run *runs.Run
	err := d.Tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := d.Tasks.LockDueTask(ctx, tx, id, time.Now().UTC())
		if err != nil {
			return err
		}
		if t == nil {
			return nil
		}
		run, err = d.fire(ctx, tx, t, runs.OriginScheduled, "")
		return err
	})
	return run, err
}

// TriggerNow creates the same shape of Run a cron fire would, with
// origin = user. For a global task, invokingOrgID substitutes for the
// task's (nil) organization_id. It takes a blocking lock on the task row so
// it serialises against a concurrent Tick rather than racing it.
func (d *Dispatcher) TriggerNow(ctx context.Context, task *ScheduledTask, invokingOrgID string) (*runs.Run, error) {
	var run *runs.Run
	err := d.Tasks.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := d.Tasks.LockTask(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		run, err = d.fire(ctx, tx, t, runs.OriginUser, invokingOrgID)
		return err
	})
	return run, err
}

// fire creates the Run and updates the task's last_run_*/next_run_at fields
// within tx, so both writes land in one transaction regardless of which
// caller (fireDue or TriggerNow) invoked it.
func (d *Dispatcher) fire(ctx context.Context, tx *gorm.DB, t *ScheduledTask, origin runs.Origin, invokingOrgID string) (*runs.Run, error) {
	org := ""
	if t.OrganizationID != nil {
		org = *t.OrganizationID
	} else if t.ScopeType == ScopeGlobal {
		org = invokingOrgID
	}

	run, err := d.Runs.CreateTx(tx, org, runTypeFor(t.TaskType), origin, t.Config, nil, "", 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	t.LastRunID = &run.ID
	t.LastRunAt = &now
	status := string(run.Status)
	t.LastRunStatus = &status

	if origin == runs.OriginScheduled {
		if t.Enabled {
			next, nerr := NextRunAt(t.ScheduleExpression, now)
			if nerr == nil {
				t.NextRunAt = &next
			}
		}
		if err := tx.Save(t).Error; err != nil {
			return run, err
		}
	} else {
		// Manual trigger: update last_run_* but leave next_run_at alone,
		// since the periodic cron cadence is independent of a manual fire.
		if err := tx.Model(t).
			Select("last_run_id", "last_run_at", "last_run_status").
			Updates(map[string]interface{}{
				"last_run_id":     t.LastRunID,
				"last_run_at":     t.LastRunAt,
				"last_run_status": t.LastRunStatus,
			}).Error; err != nil {
			return run, err
		}
	}

	return run, nil
}

// RecordOutcome updates last_run_status after the worker finishes the Run
//.
func (d *Dispatcher) RecordOutcome(ctx context.Context, taskID string, status runs.Status) error {
	s := string(status)
	return d.Tasks.db.WithContext(ctx).Model(&ScheduledTask{}).
		Where("id = ?", taskID).
		Update("last_run_status", s).Error
}
