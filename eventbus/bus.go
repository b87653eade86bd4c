package eventbus

import (
	"context"
	"time"

	"flowcore.dev/procedure"
	"flowcore.dev/rungroups"
	"flowcore.dev/runs"
	"flowcore.dev/triggers"
	"gorm.io/gorm"
)

// WorkerDispatcher hands a newly created Run off to whatever executes it
// (platformworker.Dispatcher, which runs it synchronously).
type WorkerDispatcher interface {
	Dispatch(ctx context.Context, run *runs.Run) error
}

// Result is emit()'s return shape.
type Result struct {
	ProceduresTriggered []string
	PipelinesTriggered  []string
}

// Bus implements Emit: match every active event trigger against a payload,
// create the matching Run (and, for pipelines, a rungroups.Group), and bump
// trigger counters.
//
// Grounded on semantic/actionregistry.go's "look up handler(s), dispatch"
// shape, generalised from one handler per type to N matching triggers per
// event. Notifier below handles the NOTIFY-based realtime fan-out.
type Bus struct {
	db         *gorm.DB
	runs       *runs.Store
	groups     *rungroups.Tracker
	procedures *procedure.Catalogue
	worker     WorkerDispatcher
	notifier   *Notifier
}

func NewBus(db *gorm.DB, runsStore *runs.Store, groups *rungroups.Tracker, procedures *procedure.Catalogue, worker WorkerDispatcher, notifier *Notifier) *Bus {
	return &Bus{db: db, runs: runsStore, groups: groups, procedures: procedures, worker: worker, notifier: notifier}
}

// Emit implements emit(event_name, organization_id, payload, source_run_id?)
// → {procedures_triggered[], pipelines_triggered[]}.
func (b *Bus) Emit(ctx context.Context, eventName, organizationID string, payload map[string]interface{}, sourceRunID string) (*Result, error) {
	var candidates []triggers.Trigger
	if err := b.db.WithContext(ctx).
		Where("organization_id = ? AND trigger_type = ? AND event_name = ? AND is_active = ?",
			organizationID, triggers.TriggerEvent, eventName, true).
		Find(&candidates).Error; err != nil {
		return nil, err
	}

	result := &Result{}
	for i := range candidates {
		tr := &candidates[i]
		if !MatchFilter(tr.EventFilter, payload) {
			continue
		}

		config := runs.JSONMap{"event_name": eventName, "payload": payload, "procedure_slug": tr.ProcedureSlug}
		if sourceRunID != "" {
			config["source_run_id"] = sourceRunID
		}

		if tr.IsPipeline {
			runID, groupID, err := b.triggerPipeline(ctx, tr, config)
			if err != nil {
				return result, err
			}
			result.PipelinesTriggered = append(result.PipelinesTriggered, groupID)
			if err := b.dispatchAndCount(ctx, tr, runID); err != nil {
				return result, err
			}
			continue
		}

		run, err := b.runs.Create(ctx, organizationID, runs.RunTypeProcedure, runs.OriginEvent, config, nil, "")
		if err != nil {
			return result, err
		}
		result.ProceduresTriggered = append(result.ProceduresTriggered, run.ID)
		if err := b.dispatchAndCount(ctx, tr, run.ID); err != nil {
			return result, err
		}
	}

	if b.notifier != nil {
		_ = b.notifier.Notify(ctx, eventName, organizationID)
	}

	return result, nil
}

func (b *Bus) triggerPipeline(ctx context.Context, tr *triggers.Trigger, config runs.JSONMap) (runID, groupID string, err error) {
	run, err := b.runs.Create(ctx, tr.OrganizationID, runs.RunTypePipeline, runs.OriginEvent, config, nil, "")
	if err != nil {
		return "", "", err
	}

	// The pipeline's step count is known up front from its loaded
	// Definition, so the group can be created with its real expected-child
	// count and finalised immediately instead of the placeholder 0 a caller
	// with no Definition visibility would be stuck with.
	expectedChildren := 0
	if b.procedures != nil {
		if def, ok := b.procedures.Get(tr.ProcedureSlug); ok {
			expectedChildren = len(def.Steps)
		}
	}
	group, err := b.groups.CreateGroup(ctx, tr.OrganizationID, "pipeline", &run.ID, config, expectedChildren)
	if err != nil {
		return "", "", err
	}
	if _, err := b.groups.FinalizeGroup(ctx, group.ID); err != nil {
		return run.ID, group.ID, err
	}
	return run.ID, group.ID, nil
}

func (b *Bus) dispatchAndCount(ctx context.Context, tr *triggers.Trigger, runID string) error {
	if b.worker != nil {
		run, err := b.runs.Get(ctx, runID)
		if err != nil {
			return err
		}
		if err := b.worker.Dispatch(ctx, run); err != nil {
			return err
		}
	}
	now := time.Now().UTC()
	return b.db.WithContext(ctx).Model(&triggers.Trigger{}).Where("id = ?", tr.ID).Updates(map[string]interface{}{
		"last_triggered_at": &now,
		"trigger_count":     gorm.Expr("trigger_count + 1"),
	}).Error
}
