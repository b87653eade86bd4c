package sharepoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"time"

	"flowcore.dev/asset"
	"flowcore.dev/extractqueue"
	"flowcore.dev/runs"
	"flowcore.dev/storage"
	"gorm.io/gorm"
)

// Syncer implements execute_sync.
type Syncer struct {
	db        *gorm.DB
	Runs      *runs.Store
	Assets    *asset.Store
	Blobs     storage.Blobs
	Queue     *extractqueue.Queue
	Inventory Inventory
	Bucket    string
	fetch     func(ctx context.Context, url string) ([]byte, error)
}

func NewSyncer(db *gorm.DB, runsStore *runs.Store, assetStore *asset.Store, blobs storage.Blobs, queue *extractqueue.Queue, inventory Inventory, bucket string) *Syncer {
	return &Syncer{
		db: db, Runs: runsStore, Assets: assetStore, Blobs: blobs, Queue: queue, Inventory: inventory, Bucket: bucket,
		fetch: defaultFetch,
	}
}

func defaultFetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// ExecuteSync runs one sync pass over cfg's remote folder.
func (s *Syncer) ExecuteSync(ctx context.Context, cfg *SyncConfig, organizationID, runID string, fullSync bool) error {
	s.updatePhase(ctx, cfg, "syncing", "")

	// Step 1.
	inventory, err := s.Inventory.Fetch(ctx, cfg)
	if err != nil {
		return err
	}

	seen := map[string]bool{}
	total := len(inventory)

	for i, entry := range inventory {
		seen[entry.ItemID] = true
		s.updatePhase(ctx, cfg, "syncing", entry.Name)
		_ = s.Runs.UpdateProgress(ctx, runID, i+1, total, "files")

		var existing SyncedDocument
		err := s.db.WithContext(ctx).Where("sync_config_id = ? AND share_point_item_id = ?", cfg.ID, entry.ItemID).First(&existing).Error

		switch {
		case err == gorm.ErrRecordNotFound:
			if err := s.syncNew(ctx, cfg, organizationID, entry); err != nil {
				return err
			}
		case err != nil:
			return err
		case existing.SharePointETag == entry.ETag && !fullSync:
			// Step 2, unchanged branch.
			updates := map[string]interface{}{"last_synced_at": time.Now().UTC()}
			if existing.SyncStatus == SyncStatusDeletedInSource {
				updates["sync_status"] = SyncStatusSynced
				updates["deleted_detected_at"] = nil
			}
			if err := s.db.WithContext(ctx).Model(&SyncedDocument{}).Where("id = ?", existing.ID).Updates(updates).Error; err != nil {
				return err
			}
		default:
			if err := s.syncUpdated(ctx, cfg, &existing, entry); err != nil {
				return err
			}
		}
	}

	// Step 3: deletion detection.
	s.updatePhase(ctx, cfg, "detecting_deletions", "")
	var all []SyncedDocument
	if err := s.db.WithContext(ctx).Where("sync_config_id = ? AND sync_status = ?", cfg.ID, SyncStatusSynced).Find(&all).Error; err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, d := range all {
		if seen[d.SharePointItemID] {
			continue
		}
		if err := s.db.WithContext(ctx).Model(&SyncedDocument{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
			"sync_status":         SyncStatusDeletedInSource,
			"deleted_detected_at": now,
		}).Error; err != nil {
			return err
		}
	}

	s.updatePhase(ctx, cfg, "completed", "")
	return nil
}

// syncedDocumentKey builds the deterministic raw-object key a synced
// SharePoint document is stored under: org, sync slug, and source-relative
// path, so two sync configs (or two orgs) never collide in the shared
// bucket and the same document's re-sync always lands on the same key.
func syncedDocumentKey(organizationID string, cfg *SyncConfig, entry InventoryEntry) string {
	return fmt.Sprintf("%s/sharepoint/%s/%s/%s", organizationID, cfg.Slug, entry.RelativePath, entry.Name)
}

func (s *Syncer) syncNew(ctx context.Context, cfg *SyncConfig, organizationID string, entry InventoryEntry) error {
	data, err := s.fetch(ctx, entry.DownloadURL)
	if err != nil {
		return err
	}
	hash := contentHash(data)
	objectKey := syncedDocumentKey(organizationID, cfg, entry)

	if existingAsset, err := s.Assets.FindByRawLocation(ctx, s.Bucket, objectKey); err != nil {
		return err
	} else if existingAsset != nil {
		doc := &SyncedDocument{
			ID: newID(), SyncConfigID: cfg.ID, SharePointItemID: entry.ItemID, AssetID: existingAsset.ID,
			RelativePath: entry.RelativePath, SharePointETag: entry.ETag, ContentHash: hash,
			SyncStatus: SyncStatusSynced, LastSyncedAt: time.Now().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
			return err
		}
		if s.Queue != nil {
			_, _, _, err := s.Queue.QueueExtractionForAsset(ctx, existingAsset)
			return err
		}
		return nil
	}

	if err := s.Blobs.Upload(ctx, s.Bucket, objectKey, data, ""); err != nil {
		return err
	}

	a := &asset.Asset{
		OrganizationID:   organizationID,
		SourceType:       asset.SourceSharePoint,
		SourceMetadata:   runs.JSONMap{"sync_slug": cfg.Slug, "relative_path": entry.RelativePath, "sharepoint_item_id": entry.ItemID},
		OriginalFilename: entry.Name,
		FileSize:         int64(len(data)),
		FileHash:         hash,
		RawBucket:        s.Bucket,
		RawObjectKey:     objectKey,
	}
	v := &asset.AssetVersion{RawBucket: s.Bucket, RawObjectKey: objectKey, FileSize: a.FileSize, FileHash: hash}
	if err := s.Assets.Create(ctx, a, v); err != nil {
		return err
	}

	doc := &SyncedDocument{
		ID: newID(), SyncConfigID: cfg.ID, SharePointItemID: entry.ItemID, AssetID: a.ID,
		RelativePath: entry.RelativePath, SharePointETag: entry.ETag, ContentHash: hash,
		SyncStatus: SyncStatusSynced, LastSyncedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return err
	}

	if s.Queue != nil {
		_, _, _, err := s.Queue.QueueExtractionForAsset(ctx, a)
		return err
	}
	return nil
}

func (s *Syncer) syncUpdated(ctx context.Context, cfg *SyncConfig, existing *SyncedDocument, entry InventoryEntry) error {
	data, err := s.fetch(ctx, entry.DownloadURL)
	if err != nil {
		return err
	}
	hash := contentHash(data)
	objectKey := syncedDocumentKey(cfg.OrganizationID, cfg, entry)

	if err := s.Blobs.Upload(ctx, s.Bucket, objectKey, data, ""); err != nil {
		return err
	}
	v := &asset.AssetVersion{RawBucket: s.Bucket, RawObjectKey: objectKey, FileSize: int64(len(data)), FileHash: hash}
	if _, err := s.Assets.AddVersion(ctx, existing.AssetID, v); err != nil {
		return err
	}
	if err := s.Assets.SetStatus(ctx, existing.AssetID, asset.StatusPending); err != nil {
		return err
	}

	if err := s.db.WithContext(ctx).Model(&SyncedDocument{}).Where("id = ?", existing.ID).Updates(map[string]interface{}{
		"share_point_etag": entry.ETag,
		"content_hash":     hash,
		"sync_status":      SyncStatusSynced,
		"last_synced_at":   time.Now().UTC(),
	}).Error; err != nil {
		return err
	}

	if s.Queue != nil {
		var a asset.Asset
		if err := s.db.WithContext(ctx).First(&a, "id = ?", existing.AssetID).Error; err != nil {
			return err
		}
		_, _, _, err := s.Queue.QueueExtraction(ctx, &a, runs.OriginSystem, extractqueue.PrioritySystem, "", "", true)
		return err
	}
	return nil
}

func (s *Syncer) updatePhase(ctx context.Context, cfg *SyncConfig, phase, currentFile string) {
	stats := cfg.Stats
	if stats == nil {
		stats = runs.JSONMap{}
	}
	stats["phase"] = phase
	stats["current_file"] = currentFile
	_ = s.db.WithContext(ctx).Model(&SyncConfig{}).Where("id = ?", cfg.ID).Update("stats", stats).Error
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
