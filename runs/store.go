package runs

import (
	"context"
	"time"

	"flowcore.dev/apperr"
	"gorm.io/gorm"
)

// transitions enumerates the legal edges of the Run state machine. Any edge
// not listed here is rejected with apperr.InvalidTransition.
var transitions = map[Status][]Status{
	StatusPending:   {StatusRunning, StatusCancelled, StatusSubmitted},
	StatusSubmitted: {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// Store provides CRUD and lifecycle operations over Runs, generalising the
// JSON-in-column persistence idiom common across this codebase's GORM
// stores to the full Run lifecycle.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// ListFilters narrows a List call. Zero values mean "no filter".
type ListFilters struct {
	RunType RunType
	Status  Status
	Origin  Origin
}

// Create inserts a new Run in status pending.
func (s *Store) Create(ctx context.Context, org string, rt RunType, origin Origin, config JSONMap, inputAssetIDs []string, createdBy string) (*Run, error) {
	return s.CreateWithPriority(ctx, org, rt, origin, config, inputAssetIDs, createdBy, 0)
}

// CreateWithPriority inserts a new Run in status pending with an explicit
// queue priority.
func (s *Store) CreateWithPriority(ctx context.Context, org string, rt RunType, origin Origin, config JSONMap, inputAssetIDs []string, createdBy string, priority int) (*Run, error) {
	return s.CreateTx(s.db.WithContext(ctx), org, rt, origin, config, inputAssetIDs, createdBy, priority)
}

// CreateTx is CreateWithPriority run against an existing transaction instead
// of the Store's own db, for callers (e.g. scheduler.Dispatcher.fire) that
// must commit the new Run atomically with a write against another table.
func (s *Store) CreateTx(tx *gorm.DB, org string, rt RunType, origin Origin, config JSONMap, inputAssetIDs []string, createdBy string, priority int) (*Run, error) {
	if org == "" {
		return nil, apperr.InvalidInput("organization_id is required")
	}
	r := &Run{
		ID:             newID(),
		OrganizationID: org,
		RunType:        rt,
		Origin:         origin,
		Status:         StatusPending,
		Config:         config,
		InputAssetIDs:  inputAssetIDs,
		CreatedAt:      time.Now().UTC(),
		CreatedBy:      createdBy,
		Priority:       priority,
	}
	if err := tx.Create(r).Error; err != nil {
		return nil, err
	}
	return r, nil
}

// Get loads a Run by id with no organization check (internal callers only);
// GetScoped adds the tenant check.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	var r Run
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("run", id)
		}
		return nil, err
	}
	return &r, nil
}

// GetScoped loads a Run and verifies it belongs to org, enforcing tenant isolation.
func (s *Store) GetScoped(ctx context.Context, id, org string) (*Run, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.OrganizationID != org {
		return nil, apperr.TenantViolation(r.OrganizationID, org)
	}
	return r, nil
}

// List returns Runs for an org matching the given filters, newest first.
func (s *Store) List(ctx context.Context, org string, f ListFilters, limit, offset int) ([]Run, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", org)
	if f.RunType != "" {
		q = q.Where("run_type = ?", f.RunType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Origin != "" {
		q = q.Where("origin = ?", f.Origin)
	}
	if limit <= 0 {
		limit = 50
	}
	var out []Run
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// DuePending returns the oldest pending Runs across every organization whose
// run_type is not extraction (extraction has its own priority queue in
// extractqueue; every other run type dispatches straight off this list).
func (s *Store) DuePending(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []Run
	err := s.db.WithContext(ctx).
		Where("status = ? AND run_type != ?", StatusPending, RunTypeExtraction).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateStatus advances a Run's status, enforcing the state machine.
func (s *Store) UpdateStatus(ctx context.Context, id string, newStatus Status, errMsg *string) (*Run, error) {
	var out *Run
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r Run
		if err := tx.Clauses().First(&r, "id = ?", id).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("run", id)
			}
			return err
		}
		if r.Status == newStatus {
			out = &r
			return nil // idempotent no-op, restart safety
		}
		if !canTransition(r.Status, newStatus) {
			return apperr.InvalidTransition(string(r.Status), string(newStatus))
		}
		now := time.Now().UTC()
		updates := map[string]interface{}{"status": newStatus}
		if newStatus == StatusRunning && r.StartedAt == nil {
			updates["started_at"] = now
		}
		if isTerminal(newStatus) {
			updates["completed_at"] = now
		}
		if newStatus == StatusFailed {
			if errMsg == nil || *errMsg == "" {
				return apperr.InvalidInput("failed status requires a non-empty error_message")
			}
			updates["error_message"] = *errMsg
		}
		if err := tx.Model(&r).Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.First(&r, "id = ?", id).Error; err != nil {
			return err
		}
		out = &r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateProgress recomputes percent as min(100, floor(100*current/total)) when total>0.
func (s *Store) UpdateProgress(ctx context.Context, id string, current, total int, unit string) error {
	percent := 0
	if total > 0 {
		percent = (100 * current) / total
		if percent > 100 {
			percent = 100
		}
	}
	return s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Updates(map[string]interface{}{
		"progress_current": current,
		"progress_total":   total,
		"progress_unit":    unit,
		"progress_percent": percent,
	}).Error
}

// Complete marks a Run completed with a results summary.
func (s *Store) Complete(ctx context.Context, id string, summary JSONMap) (*Run, error) {
	r, err := s.UpdateStatus(ctx, id, StatusCompleted, nil)
	if err != nil {
		return nil, err
	}
	if summary != nil {
		if err := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", id).Update("results_summary", summary).Error; err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Fail marks a Run failed with the given error message.
func (s *Store) Fail(ctx context.Context, id, errMsg string) (*Run, error) {
	return s.UpdateStatus(ctx, id, StatusFailed, &errMsg)
}

// CancelPendingRunsForAsset cancels every pending/submitted run of the given
// type for an asset within org, returning the count cancelled — used
// before re-queueing a user-requested re-extraction.
func (s *Store) CancelPendingRunsForAsset(ctx context.Context, org, assetID string, rt RunType) (int, error) {
	var runsToCancel []Run
	if err := s.db.WithContext(ctx).
		Where("organization_id = ? AND run_type = ? AND status IN ?", org, rt, []Status{StatusPending, StatusSubmitted}).
		Find(&runsToCancel).Error; err != nil {
		return 0, err
	}
	count := 0
	for _, r := range runsToCancel {
		found := false
		for _, a := range r.InputAssetIDs {
			if a == assetID {
				found = true
				break
			}
		}
		if !found {
			continue
		}
		if _, err := s.UpdateStatus(ctx, r.ID, StatusCancelled, nil); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// AppendLog appends one ordered RunLogEvent to a Run's log.
func (s *Store) AppendLog(ctx context.Context, runID string, level LogLevel, eventType EventType, message string, logCtx JSONMap) error {
	ev := &RunLogEvent{
		RunID:     runID,
		Level:     level,
		EventType: eventType,
		Message:   message,
		Context:   logCtx,
		CreatedAt: time.Now().UTC(),
	}
	return s.db.WithContext(ctx).Create(ev).Error
}

// Logs returns a Run's log events in insertion order.
func (s *Store) Logs(ctx context.Context, runID string) ([]RunLogEvent, error) {
	var out []RunLogEvent
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("id ASC").Find(&out).Error
	return out, err
}

// EnsureTraceID sets the Run's trace_id to its own id if unset, and returns
// the (possibly newly-assigned) trace id, for event chains to propagate.
func (s *Store) EnsureTraceID(ctx context.Context, runID string) (string, error) {
	r, err := s.Get(ctx, runID)
	if err != nil {
		return "", err
	}
	if r.TraceID != "" {
		return r.TraceID, nil
	}
	if err := s.db.WithContext(ctx).Model(&Run{}).Where("id = ?", runID).Update("trace_id", runID).Error; err != nil {
		return "", err
	}
	return runID, nil
}

// Stats implements GET /runs/stats: counts by status and by run type, plus
// how many runs of each were created in the last 24 hours.
func (s *Store) Stats(ctx context.Context, org string) (map[string]interface{}, error) {
	byStatus := map[string]int64{}
	rows, err := s.db.WithContext(ctx).Model(&Run{}).
		Select("status, count(*) as count").Where("organization_id = ?", org).Group("status").Rows()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return nil, err
		}
		byStatus[status] = count
	}
	rows.Close()

	byType := map[string]int64{}
	rows, err = s.db.WithContext(ctx).Model(&Run{}).
		Select("run_type, count(*) as count").Where("organization_id = ?", org).Group("run_type").Rows()
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var rt string
		var count int64
		if err := rows.Scan(&rt, &count); err != nil {
			rows.Close()
			return nil, err
		}
		byType[rt] = count
	}
	rows.Close()

	var last24h int64
	if err := s.db.WithContext(ctx).Model(&Run{}).
		Where("organization_id = ? AND created_at >= ?", org, time.Now().UTC().Add(-24*time.Hour)).
		Count(&last24h).Error; err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"by_status": byStatus,
		"by_type":   byType,
		"last_24h":  last24h,
	}, nil
}
