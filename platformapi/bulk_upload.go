package platformapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"

	"flowcore.dev/apperr"
	"flowcore.dev/asset"
	"flowcore.dev/extractqueue"
	"flowcore.dev/middleware"
	"flowcore.dev/runs"
	"flowcore.dev/storage"
	"github.com/labstack/echo/v4"
)

// BulkReconciler classifies an uploaded inventory against an org's existing
// assets (POST /bulk-upload/analyze) and, on apply, creates new Assets or
// AssetVersions and queues their extraction.
type BulkReconciler struct {
	Assets *asset.Store
	Queue  *extractqueue.Queue
	Blobs  storage.Blobs
	Bucket string
}

func NewBulkReconciler(assetStore *asset.Store, queue *extractqueue.Queue, blobs storage.Blobs, bucket string) *BulkReconciler {
	return &BulkReconciler{Assets: assetStore, Queue: queue, Blobs: blobs, Bucket: bucket}
}

// bulkFile is one inventory entry: either pre-hashed by the caller or
// carrying raw content to hash here.
type bulkFile struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	ContentB64  string `json:"content_base64"`
	FileHash    string `json:"file_hash"`
	FileSize    int64  `json:"file_size"`
}

// bulkClassification is one file's disposition relative to the org's
// existing assets.
type bulkClassification struct {
	Filename string `json:"filename"`
	Action   string `json:"action"` // new | updated | unchanged
	AssetID  string `json:"asset_id,omitempty"`
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// classify compares each incoming file's hash against the org's existing
// assets, and the org's assets against the incoming filename set to find
// assets missing from the upload entirely, producing a
// new/updated/unchanged/missing breakdown.
func classify(ctx context.Context, assets *asset.Store, org string, files []bulkFile) ([]bulkClassification, []string, error) {
	seen := map[string]bool{}
	out := make([]bulkClassification, 0, len(files))
	for _, f := range files {
		hash := f.FileHash
		if hash == "" && f.ContentB64 != "" {
			hash = hashOf([]byte(f.ContentB64))
		}
		seen[f.Filename] = true
		existing, err := assets.FindByHash(ctx, org, hash)
		if err != nil {
			return nil, nil, err
		}
		if existing == nil {
			out = append(out, bulkClassification{Filename: f.Filename, Action: "new"})
			continue
		}
		if existing.FileHash == hash {
			out = append(out, bulkClassification{Filename: f.Filename, Action: "unchanged", AssetID: existing.ID})
			continue
		}
		out = append(out, bulkClassification{Filename: f.Filename, Action: "updated", AssetID: existing.ID})
	}

	existingAssets, err := assets.List(ctx, org, asset.ListFilters{}, -1, 0)
	if err != nil {
		return nil, nil, err
	}
	byName := make(map[string]string, len(existingAssets))
	var missing []string
	for _, a := range existingAssets {
		byName[a.OriginalFilename] = a.ID
		if !seen[a.OriginalFilename] {
			missing = append(missing, a.ID)
		}
	}
	for i := range out {
		if id, ok := byName[out[i].Filename]; ok && out[i].Action == "new" {
			out[i].Action, out[i].AssetID = "updated", id
		}
	}
	return out, missing, nil
}

func (h *Handlers) BulkAnalyze(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	var body struct {
		Files []bulkFile `json:"files"`
	}
	if err := c.Bind(&body); err != nil {
		return jsonError(c, apperr.InvalidInput("invalid request body"))
	}
	classified, missing, err := classify(c.Request().Context(), h.Bulk.Assets, org, body.Files)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"files":             classified,
		"missing_asset_ids": missing,
	})
}

// BulkApply re-runs the classification and materialises it: new files
// become Assets with a first AssetVersion, updated files get a new
// AssetVersion, and both are queued for extraction; unchanged and missing
// files are left untouched.
func (h *Handlers) BulkApply(c echo.Context) error {
	org, err := principalOrg(c)
	if err != nil {
		return jsonError(c, err)
	}
	p := middleware.PrincipalFrom(c)
	var body struct {
		Files []bulkFile `json:"files"`
	}
	if err := c.Bind(&body); err != nil {
		return jsonError(c, apperr.InvalidInput("invalid request body"))
	}

	ctx := c.Request().Context()
	classified, _, err := classify(ctx, h.Bulk.Assets, org, body.Files)
	if err != nil {
		return jsonError(c, err)
	}
	byName := map[string]bulkFile{}
	for _, f := range body.Files {
		byName[f.Filename] = f
	}

	results := make([]map[string]interface{}, 0, len(classified))
	for _, cl := range classified {
		f := byName[cl.Filename]
		content := []byte(f.ContentB64)
		hash := f.FileHash
		if hash == "" {
			hash = hashOf(content)
		}

		var a *asset.Asset
		switch cl.Action {
		case "unchanged":
			results = append(results, map[string]interface{}{"filename": cl.Filename, "action": cl.Action, "asset_id": cl.AssetID})
			continue
		case "updated":
			a, err = h.Bulk.Assets.GetScoped(ctx, cl.AssetID, org)
			if err != nil {
				return jsonError(c, err)
			}
			objectKey := fmt.Sprintf("%s/uploads/%s/%s", org, a.ID, f.Filename)
			if err := h.Bulk.Blobs.Upload(ctx, h.Bulk.Bucket, objectKey, content, f.ContentType); err != nil {
				return jsonError(c, err)
			}
			if _, err := h.Bulk.Assets.AddVersion(ctx, a.ID, &asset.AssetVersion{
				RawBucket: h.Bulk.Bucket, RawObjectKey: objectKey,
				FileSize: f.FileSize, FileHash: hash, ContentType: f.ContentType, CreatedBy: p.UserID,
			}); err != nil {
				return jsonError(c, err)
			}
		default: // "new"
			assetID := asset.NewID()
			objectKey := fmt.Sprintf("%s/uploads/%s/%s", org, assetID, f.Filename)

			if existingAsset, err := h.Bulk.Assets.FindByRawLocation(ctx, h.Bulk.Bucket, objectKey); err != nil {
				return jsonError(c, err)
			} else if existingAsset != nil {
				// Deterministic key already taken by another asset (a prior
				// attempt that failed after upload but before Create, or a
				// colliding id): reuse it instead of violating the
				// (raw_bucket, raw_object_key) uniqueness invariant.
				a = existingAsset
				break
			}

			a = &asset.Asset{
				ID:               assetID,
				OrganizationID:   org,
				SourceType:       asset.SourceUpload,
				OriginalFilename: f.Filename,
				ContentType:      f.ContentType,
				FileSize:         f.FileSize,
				FileHash:         hash,
				RawBucket:        h.Bulk.Bucket,
				RawObjectKey:     objectKey,
				CreatedBy:        p.UserID,
			}
			if err := h.Bulk.Blobs.Upload(ctx, h.Bulk.Bucket, objectKey, content, f.ContentType); err != nil {
				return jsonError(c, err)
			}
			if err := h.Bulk.Assets.Create(ctx, a, &asset.AssetVersion{
				RawBucket: h.Bulk.Bucket, RawObjectKey: objectKey,
				FileSize: f.FileSize, FileHash: hash, ContentType: f.ContentType, CreatedBy: p.UserID,
			}); err != nil {
				return jsonError(c, err)
			}
		}

		run, _, status, err := h.Bulk.Queue.QueueExtraction(ctx, a, runs.OriginUser, extractqueue.PriorityUser, p.UserID, "", false)
		if err != nil {
			return jsonError(c, err)
		}
		entry := map[string]interface{}{"filename": cl.Filename, "action": cl.Action, "asset_id": a.ID, "queue_status": status}
		if run != nil {
			entry["run_id"] = run.ID
		}
		results = append(results, entry)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"files": results})
}
