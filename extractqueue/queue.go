// Package extractqueue is the database-backed priority queue over pending
// extraction runs (C3). Submission to the worker pool is driven by a
// periodic submitter tick rather than immediate dispatch.
//
// Grounded on worker/pool.go's Worker.processNext dequeue/mark/complete/fail
// cycle, now backed by Postgres row-locking (`SELECT ... FOR UPDATE SKIP
// LOCKED` via jackc/pgx/v5) instead of Redis.
package extractqueue

import (
	"context"
	"strings"
	"time"

	"flowcore.dev/asset"
	"flowcore.dev/queueregistry"
	"flowcore.dev/runs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Status is the outcome of a queue_extraction call.
type Status string

const (
	StatusQueued              Status = "queued"
	StatusAlreadyPending      Status = "already_pending"
	StatusSkippedContentType  Status = "skipped_content_type"
)

const (
	PriorityUser   = 1
	PrioritySystem = 0
)

// inlineExtractedTypes denotes HTML-family content handled at crawl time,
// never via the extraction worker.
var inlineExtractedTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
}

func isInlineExtracted(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return inlineExtractedTypes[ct]
}

// Queue implements queue_extraction / queue_extraction_for_asset / submit_due.
type Queue struct {
	db       *gorm.DB
	pgx      *pgxpool.Pool
	runs     *runs.Store
	assets   *asset.Store
	registry *queueregistry.Registry
}

func New(db *gorm.DB, pgxPool *pgxpool.Pool, runsStore *runs.Store, assetStore *asset.Store, registry *queueregistry.Registry) *Queue {
	return &Queue{db: db, pgx: pgxPool, runs: runsStore, assets: assetStore, registry: registry}
}

// QueueExtraction enqueues one extraction for an asset, or returns the
// already-in-flight run if duplicate suppression applies.
func (q *Queue) QueueExtraction(ctx context.Context, a *asset.Asset, origin runs.Origin, priority int, userID, extractorVersion string, cancelPrevious bool) (*runs.Run, *asset.ExtractionResult, Status, error) {
	if isInlineExtracted(a.ContentType) {
		return nil, nil, StatusSkippedContentType, nil
	}

	if cancelPrevious {
		if _, err := q.runs.CancelPendingRunsForAsset(ctx, a.OrganizationID, a.ID, runs.RunTypeExtraction); err != nil {
			return nil, nil, "", err
		}
	}

	var run *runs.Run
	var result *asset.ExtractionResult
	var status Status

	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Lock every in-flight extraction run so a concurrent QueueExtraction
		// for the same asset can't race past this duplicate check.
		var candidates []runs.Run
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("run_type = ? AND status IN ?", runs.RunTypeExtraction, []runs.Status{runs.StatusPending, runs.StatusSubmitted, runs.StatusRunning}).
			Find(&candidates).Error; err != nil {
			return err
		}
		for i := range candidates {
			for _, assetID := range candidates[i].InputAssetIDs {
				if assetID == a.ID {
					run = &candidates[i]
					status = StatusAlreadyPending
					break
				}
			}
			if run != nil {
				break
			}
		}
		if run != nil {
			var er asset.ExtractionResult
			if err := tx.Where("run_id = ?", run.ID).First(&er).Error; err == nil {
				result = &er
			}
			return nil
		}

		created := &runs.Run{
			ID:             newID(),
			OrganizationID: a.OrganizationID,
			RunType:        runs.RunTypeExtraction,
			Origin:         origin,
			Status:         runs.StatusPending,
			Config:         runs.JSONMap{"asset_id": a.ID, "extractor_version": extractorVersion},
			InputAssetIDs:  runs.StringList{a.ID},
			CreatedAt:      time.Now().UTC(),
			CreatedBy:      userID,
			Priority:       priority,
		}
		if err := tx.Create(created).Error; err != nil {
			return err
		}
		er := &asset.ExtractionResult{
			ID:               newID(),
			AssetID:          a.ID,
			RunID:            created.ID,
			ExtractorVersion: extractorVersion,
			Status:           asset.ExtractionPending,
			ExtractionTier:   asset.TierBasic,
			CreatedAt:        created.CreatedAt,
		}
		if av, err := q.currentVersionID(tx, a.ID); err == nil && av != "" {
			er.AssetVersionID = &av
		}
		if err := tx.Create(er).Error; err != nil {
			return err
		}
		run = created
		result = er
		status = StatusQueued
		return nil
	})
	if err != nil {
		return nil, nil, "", err
	}
	return run, result, status, nil
}

func (q *Queue) currentVersionID(tx *gorm.DB, assetID string) (string, error) {
	var v asset.AssetVersion
	if err := tx.Where("asset_id = ? AND is_current = ?", assetID, true).First(&v).Error; err != nil {
		return "", err
	}
	return v.ID, nil
}

// QueueExtractionForAsset is the convenience wrapper used by uploads: system
// origin, system priority, no prior-run cancellation.
func (q *Queue) QueueExtractionForAsset(ctx context.Context, a *asset.Asset) (*runs.Run, *asset.ExtractionResult, Status, error) {
	return q.QueueExtraction(ctx, a, runs.OriginSystem, PrioritySystem, "", "", false)
}

// SubmitDue runs one submitter tick: for the extraction queue kind, select
// pending extractions ordered by (-priority, enqueued_at), count in-flight
// runs, and submit up to max_concurrent - in_flight of them.
func (q *Queue) SubmitDue(ctx context.Context) (int, error) {
	snap, ok := q.registry.Get("extraction")
	maxConcurrent := 10
	if ok {
		maxConcurrent = snap.MaxConcurrent
	}

	var inFlight int64
	if err := q.db.WithContext(ctx).Model(&runs.Run{}).
		Where("run_type = ? AND status IN ?", runs.RunTypeExtraction, []runs.Status{runs.StatusSubmitted, runs.StatusRunning}).
		Count(&inFlight).Error; err != nil {
		return 0, err
	}

	capacity := maxConcurrent - int(inFlight)
	if capacity <= 0 {
		return 0, nil
	}

	ids, err := q.lockDuePending(ctx, capacity)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, id := range ids {
		if _, err := q.runs.UpdateStatus(ctx, id, runs.StatusSubmitted, nil); err != nil {
			return submitted, err
		}
		submitted++
		// Submitted runs are executed out-of-band: platformworker's
		// Dispatcher.PollOnce picks them up and calls
		// extraction.Orchestrator.Run for each.
	}
	return submitted, nil
}

// lockDuePending picks the next `capacity` pending extraction run ids via a
// pgx `SELECT ... FOR UPDATE SKIP LOCKED`, so two overlapping submitter
// ticks never pick the same candidate set. Falls back to a plain GORM read
// when no pgx pool was wired (e.g. in tests), trading that guarantee for
// simplicity.
func (q *Queue) lockDuePending(ctx context.Context, capacity int) ([]string, error) {
	if q.pgx == nil {
		var pending []runs.Run
		if err := q.db.WithContext(ctx).
			Where("run_type = ? AND status = ?", runs.RunTypeExtraction, runs.StatusPending).
			Order("priority DESC, created_at ASC").
			Limit(capacity).
			Find(&pending).Error; err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(pending))
		for _, r := range pending {
			ids = append(ids, r.ID)
		}
		return ids, nil
	}

	tx, err := q.pgx.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM runs
		WHERE run_type = $1 AND status = $2
		ORDER BY priority DESC, created_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`,
		runs.RunTypeExtraction, runs.StatusPending, capacity)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

func newID() string {
	return uuid.NewString()
}
