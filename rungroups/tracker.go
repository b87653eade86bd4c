package rungroups

import (
	"context"
	"fmt"
	"time"

	"flowcore.dev/apperr"
	"flowcore.dev/runs"
	"gorm.io/gorm"
)

// EventEmitter is the narrow collaborator a Tracker uses to fire
// "{group_type}.group_completed" events without importing the event bus
// package directly (composition root wires the concrete eventbus.Bus in).
type EventEmitter interface {
	Emit(ctx context.Context, eventName, organizationID string, payload map[string]interface{}, sourceRunID string) error
}

// ProcedureSpawner creates a follow-on procedure Run, used by the
// after_procedure_slug post-group trigger.
type ProcedureSpawner interface {
	SpawnRun(ctx context.Context, organizationID, procedureSlug string, params map[string]interface{}, sourceRunID string) (*runs.Run, error)
}

// Tracker implements the RunGroup completion algorithm,
// grounded on statemanager.Manager's mutex-guarded counter map, generalised
// from an in-memory map to GORM-backed rows so groups survive restarts.
type Tracker struct {
	db       *gorm.DB
	events   EventEmitter
	spawner  ProcedureSpawner
}

func NewTracker(db *gorm.DB, events EventEmitter, spawner ProcedureSpawner) *Tracker {
	return &Tracker{db: db, events: events, spawner: spawner}
}

// CreateGroup starts a new RunGroup, optionally already knowing its expected
// child count (0 means "to be set later" via SetExpectedChildren).
func (t *Tracker) CreateGroup(ctx context.Context, org, groupType string, parentRunID *string, config runs.JSONMap, expectedChildren int) (*Group, error) {
	now := time.Now().UTC()
	g := &Group{
		ID:             newID(),
		OrganizationID: org,
		GroupType:      groupType,
		ParentRunID:    parentRunID,
		Status:         StatusPending,
		TotalChildren:  expectedChildren,
		Config:         config,
		StartedAt:      &now,
		Registering:    true,
	}
	if err := t.db.WithContext(ctx).Create(g).Error; err != nil {
		return nil, err
	}
	return g, nil
}

// SetExpectedChildren sets (or corrects) the total child count while the
// parent is still registering children.
func (t *Tracker) SetExpectedChildren(ctx context.Context, groupID string, n int) error {
	return t.db.WithContext(ctx).Model(&Group{}).Where("id = ?", groupID).Update("total_children", n).Error
}

// AddChild links a child Run to the group and marks the group running.
func (t *Tracker) AddChild(ctx context.Context, groupID, childRunID string) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&ChildLink{GroupID: groupID, RunID: childRunID}).Error; err != nil {
			return err
		}
		return tx.Model(&Group{}).Where("id = ? AND status = ?", groupID, StatusPending).Update("status", StatusRunning).Error
	})
}

// GroupForRun looks up the group a pipeline Run owns (via its parent_run_id
// link), used by the worker dispatcher to report each top-level procedure
// step's outcome as a tracked child once the Run it belongs to starts
// executing. Returns nil, nil if run isn't a pipeline's parent.
func (t *Tracker) GroupForRun(ctx context.Context, runID string) (*Group, error) {
	var g Group
	err := t.db.WithContext(ctx).Where("parent_run_id = ?", runID).First(&g).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// ShouldSpawnChildren reports false once the group is already failed or
// cancelled, so parents stop enqueuing orphan work.
func (t *Tracker) ShouldSpawnChildren(ctx context.Context, groupID string) (bool, error) {
	var g Group
	if err := t.db.WithContext(ctx).First(&g, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, apperr.NotFound("run_group", groupID)
		}
		return false, err
	}
	return g.Status != StatusFailed && g.Status != StatusCancelled, nil
}

// ChildCompleted records a successful child outcome and runs the completion check.
func (t *Tracker) ChildCompleted(ctx context.Context, groupID string) (*Group, error) {
	return t.recordOutcome(ctx, groupID, true)
}

// ChildFailed records a failed child outcome and runs the completion check.
func (t *Tracker) ChildFailed(ctx context.Context, groupID string, _ error) (*Group, error) {
	return t.recordOutcome(ctx, groupID, false)
}

func (t *Tracker) recordOutcome(ctx context.Context, groupID string, success bool) (*Group, error) {
	var result *Group
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g Group
		if err := tx.First(&g, "id = ?", groupID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("run_group", groupID)
			}
			return err
		}
		if success {
			g.CompletedChildren++
		} else {
			g.FailedChildren++
		}
		if err := tx.Model(&Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
			"completed_children": g.CompletedChildren,
			"failed_children":    g.FailedChildren,
		}).Error; err != nil {
			return err
		}
		if !g.Registering {
			if err := t.maybeFinalize(ctx, tx, &g); err != nil {
				return err
			}
		}
		result = &g
		return nil
	})
	return result, err
}

// maybeFinalize applies the group completion algorithm: if
// completed+failed == total and total > 0, the group transitions to a
// terminal state and fires the post-group event exactly once.
func (t *Tracker) maybeFinalize(ctx context.Context, tx *gorm.DB, g *Group) error {
	if g.Status.Terminal() {
		return nil // already finalised, never double-fire
	}
	if g.TotalChildren == 0 || g.CompletedChildren+g.FailedChildren != g.TotalChildren {
		return nil
	}
	var newStatus Status
	switch {
	case g.FailedChildren == 0:
		newStatus = StatusCompleted
	case g.CompletedChildren == 0:
		newStatus = StatusFailed
	default:
		newStatus = StatusPartial
	}
	now := time.Now().UTC()
	if err := tx.Model(&Group{}).Where("id = ?", g.ID).Updates(map[string]interface{}{
		"status":       newStatus,
		"completed_at": now,
	}).Error; err != nil {
		return err
	}
	g.Status = newStatus
	g.CompletedAt = &now
	return t.fireCompletionEvent(ctx, g)
}

// FinalizeGroup is called once the parent finishes registering children; it
// flips Registering off and re-runs the completion check, resolving the race
// between parent registration and early child completion.
// Finalising a group with total_children == 0 completes it immediately with
// a zero-children summary.
func (t *Tracker) FinalizeGroup(ctx context.Context, groupID string) (*Group, error) {
	var result *Group
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var g Group
		if err := tx.First(&g, "id = ?", groupID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("run_group", groupID)
			}
			return err
		}
		if err := tx.Model(&Group{}).Where("id = ?", groupID).Update("registering", false).Error; err != nil {
			return err
		}
		g.Registering = false
		if g.TotalChildren == 0 && !g.Status.Terminal() {
			now := time.Now().UTC()
			if err := tx.Model(&Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
				"status":       StatusCompleted,
				"completed_at": now,
			}).Error; err != nil {
				return err
			}
			g.Status = StatusCompleted
			g.CompletedAt = &now
			if err := t.fireCompletionEvent(ctx, &g); err != nil {
				return err
			}
			result = &g
			return nil
		}
		if err := t.maybeFinalize(ctx, tx, &g); err != nil {
			return err
		}
		result = &g
		return nil
	})
	return result, err
}

func (t *Tracker) fireCompletionEvent(ctx context.Context, g *Group) error {
	payload := map[string]interface{}{
		"group_id":  g.ID,
		"total":     g.TotalChildren,
		"completed": g.CompletedChildren,
		"failed":    g.FailedChildren,
		"status":    string(g.Status),
	}
	var sourceRunID string
	if g.ParentRunID != nil {
		sourceRunID = *g.ParentRunID
	}
	if t.events != nil {
		eventName := fmt.Sprintf("%s.group_completed", g.GroupType)
		if err := t.events.Emit(ctx, eventName, g.OrganizationID, payload, sourceRunID); err != nil {
			return err
		}
	}
	// A group that failed outright skips the follow-on procedure entirely.
	if g.Status == StatusFailed {
		return nil
	}
	afterSlug, _ := g.Config["after_procedure_slug"].(string)
	if afterSlug == "" || t.spawner == nil {
		return nil
	}
	params := map[string]interface{}{
		"total":     g.TotalChildren,
		"completed": g.CompletedChildren,
		"failed":    g.FailedChildren,
	}
	_, err := t.spawner.SpawnRun(ctx, g.OrganizationID, afterSlug, params, sourceRunID)
	return err
}

// MarkGroupFailed marks a group failed outright (e.g. its parent died),
// disabling further child spawns and suppressing post-group triggers.
func (t *Tracker) MarkGroupFailed(ctx context.Context, groupID, reason string) (*Group, error) {
	return t.markTerminal(ctx, groupID, StatusFailed, reason)
}

// MarkGroupCancelled marks a group cancelled (parent Run cancelled/timed out).
func (t *Tracker) MarkGroupCancelled(ctx context.Context, groupID, reason string) (*Group, error) {
	return t.markTerminal(ctx, groupID, StatusCancelled, reason)
}

func (t *Tracker) markTerminal(ctx context.Context, groupID string, status Status, reason string) (*Group, error) {
	var g Group
	if err := t.db.WithContext(ctx).First(&g, "id = ?", groupID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("run_group", groupID)
		}
		return nil, err
	}
	if g.Status.Terminal() {
		return &g, nil
	}
	now := time.Now().UTC()
	summary := runs.JSONMap{"reason": reason}
	if err := t.db.WithContext(ctx).Model(&Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
		"status":          status,
		"completed_at":    now,
		"results_summary": summary,
	}).Error; err != nil {
		return nil, err
	}
	g.Status = status
	g.CompletedAt = &now
	return &g, nil
}
