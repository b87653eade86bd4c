package asset

import (
	"context"
	"time"

	"flowcore.dev/apperr"
	"flowcore.dev/runs"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store provides CRUD and versioning operations over Assets, grounded on
// runs/store.go's Store shape and extended with the version/metadata
// invariants unique to the document domain.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func newID() string { return uuid.NewString() }

// NewID mints an asset id a caller can embed in the raw object key before
// Create runs, so the key reflects the asset's real id instead of a
// placeholder. Create honors an id a caller has already set.
func NewID() string { return newID() }

// Create inserts a new Asset in status pending plus its first AssetVersion.
func (s *Store) Create(ctx context.Context, a *Asset, firstVersion *AssetVersion) error {
	if a.OrganizationID == "" {
		return apperr.InvalidInput("organization_id is required")
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.Status = StatusPending
	a.CurrentVersionNumber = 1
	a.CreatedAt = time.Now().UTC()
	a.UpdatedAt = a.CreatedAt

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(a).Error; err != nil {
			return err
		}
		firstVersion.ID = newID()
		firstVersion.AssetID = a.ID
		firstVersion.VersionNumber = 1
		firstVersion.IsCurrent = true
		firstVersion.CreatedAt = a.CreatedAt
		return tx.Create(firstVersion).Error
	})
}

// Get loads an Asset by id.
func (s *Store) Get(ctx context.Context, id string) (*Asset, error) {
	var a Asset
	if err := s.db.WithContext(ctx).First(&a, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperr.NotFound("asset", id)
		}
		return nil, err
	}
	return &a, nil
}

func (s *Store) GetScoped(ctx context.Context, id, org string) (*Asset, error) {
	a, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OrganizationID != org {
		return nil, apperr.TenantViolation(a.OrganizationID, org)
	}
	return a, nil
}

// FindByHash looks up an existing, non-deleted asset with the same file hash
// within a tenant — the dedup lookup an Asset's content-hash invariant requires.
func (s *Store) FindByHash(ctx context.Context, org, fileHash string) (*Asset, error) {
	var a Asset
	err := s.db.WithContext(ctx).
		Where("organization_id = ? AND file_hash = ? AND status != ?", org, fileHash, StatusDeleted).
		First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// FindByRawLocation looks up a non-deleted asset at a (bucket, object_key)
// pair — used by the storage path policy's "collision means reuse" rule.
func (s *Store) FindByRawLocation(ctx context.Context, bucket, objectKey string) (*Asset, error) {
	var a Asset
	err := s.db.WithContext(ctx).
		Where("raw_bucket = ? AND raw_object_key = ? AND status != ?", bucket, objectKey, StatusDeleted).
		First(&a).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// AddVersion creates a new AssetVersion, flips the prior current version off,
// and advances the asset's current_version_number, keeping exactly one
// current version per asset.
func (s *Store) AddVersion(ctx context.Context, assetID string, v *AssetVersion) (*AssetVersion, error) {
	return v, s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a Asset
		if err := tx.Clauses().First(&a, "id = ?", assetID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return apperr.NotFound("asset", assetID)
			}
			return err
		}
		if err := tx.Model(&AssetVersion{}).Where("asset_id = ? AND is_current = ?", assetID, true).
			Update("is_current", false).Error; err != nil {
			return err
		}
		nextVersion := a.CurrentVersionNumber + 1
		v.ID = newID()
		v.AssetID = assetID
		v.VersionNumber = nextVersion
		v.IsCurrent = true
		v.CreatedAt = time.Now().UTC()
		if err := tx.Create(v).Error; err != nil {
			return err
		}
		return tx.Model(&Asset{}).Where("id = ?", assetID).Updates(map[string]interface{}{
			"current_version_number": nextVersion,
			"raw_bucket":             v.RawBucket,
			"raw_object_key":         v.RawObjectKey,
			"file_size":              v.FileSize,
			"file_hash":              v.FileHash,
			"updated_at":             v.CreatedAt,
		}).Error
	})
}

// CurrentVersion returns the asset's current AssetVersion row.
func (s *Store) CurrentVersion(ctx context.Context, assetID string) (*AssetVersion, error) {
	var v AssetVersion
	err := s.db.WithContext(ctx).Where("asset_id = ? AND is_current = ?", assetID, true).First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("asset_version", assetID)
	}
	return &v, err
}

// SetStatus updates an asset's status.
func (s *Store) SetStatus(ctx context.Context, id string, status Status) error {
	return s.db.WithContext(ctx).Model(&Asset{}).Where("id = ?", id).Update("status", status).Error
}

// MarkReady records a successful extraction's effect on the asset: status
// ready, extraction tier, and enhancement eligibility.
func (s *Store) MarkReady(ctx context.Context, id string, tier ExtractionTier, enhancementEligible bool) error {
	return s.db.WithContext(ctx).Model(&Asset{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":               StatusReady,
		"extraction_tier":      tier,
		"enhancement_eligible": enhancementEligible,
		"updated_at":           time.Now().UTC(),
	}).Error
}

// CreateExtractionResult inserts a pending ExtractionResult row tied to a Run.
func (s *Store) CreateExtractionResult(ctx context.Context, er *ExtractionResult) error {
	er.ID = newID()
	er.Status = ExtractionPending
	er.CreatedAt = time.Now().UTC()
	return s.db.WithContext(ctx).Create(er).Error
}

// UpdateExtractionStatus transitions an ExtractionResult's status, mirroring
// the owning Run's transition.
func (s *Store) UpdateExtractionStatus(ctx context.Context, id string, status ExtractionStatus) error {
	return s.db.WithContext(ctx).Model(&ExtractionResult{}).Where("id = ?", id).Update("status", status).Error
}

// RecordExtractionSuccess fills in the bucket/key/warnings/timing fields on
// success — the completed state requires both bucket and key per invariant.
func (s *Store) RecordExtractionSuccess(ctx context.Context, id, bucket, objectKey string, warnings []string, seconds float64) error {
	return s.db.WithContext(ctx).Model(&ExtractionResult{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":                  ExtractionCompleted,
		"extracted_bucket":        bucket,
		"extracted_object_key":    objectKey,
		"warnings":                runs.StringList(warnings),
		"extraction_time_seconds": seconds,
	}).Error
}

// RecordExtractionFailure fills in the error list on failure.
func (s *Store) RecordExtractionFailure(ctx context.Context, id string, errs []string) error {
	return s.db.WithContext(ctx).Model(&ExtractionResult{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status": ExtractionFailed,
		"errors": runs.StringList(errs),
	}).Error
}

// PromoteMetadata supersedes any existing active canonical record at
// (asset_id, metadata_type) and inserts the new one as canonical, atomically,
// keeping exactly one canonical metadata row per (asset, type).
func (s *Store) PromoteMetadata(ctx context.Context, m *AssetMetadata) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prior AssetMetadata
		err := tx.Where("asset_id = ? AND metadata_type = ? AND is_canonical = ? AND status = ?",
			m.AssetID, m.MetadataType, true, MetadataActive).First(&prior).Error
		now := time.Now().UTC()
		if err == nil {
			m.ID = newID()
			m.IsCanonical = true
			m.Status = MetadataActive
			m.PromotedAt = &now
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			return tx.Model(&AssetMetadata{}).Where("id = ?", prior.ID).Updates(map[string]interface{}{
				"status":          MetadataSuperseded,
				"is_canonical":    false,
				"superseded_by_id": m.ID,
				"superseded_at":   now,
			}).Error
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		m.ID = newID()
		m.IsCanonical = true
		m.Status = MetadataActive
		m.PromotedAt = &now
		return tx.Create(m).Error
	})
}

// ListFilters narrows an asset listing, mirroring runs.ListFilters.
type ListFilters struct {
	SourceType SourceType
	Status     Status
}

// List returns an organization's assets newest-first, optionally filtered,
// for GET /assets.
func (s *Store) List(ctx context.Context, org string, f ListFilters, limit, offset int) ([]Asset, error) {
	q := s.db.WithContext(ctx).Where("organization_id = ?", org)
	if f.SourceType != "" {
		q = q.Where("source_type = ?", f.SourceType)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	var out []Asset
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&out).Error
	return out, err
}

// Versions returns every AssetVersion for an asset, oldest first.
func (s *Store) Versions(ctx context.Context, assetID string) ([]AssetVersion, error) {
	var out []AssetVersion
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Order("version_number ASC").Find(&out).Error
	return out, err
}

// Version returns one specific AssetVersion by its version number.
func (s *Store) Version(ctx context.Context, assetID string, versionNumber int) (*AssetVersion, error) {
	var v AssetVersion
	err := s.db.WithContext(ctx).Where("asset_id = ? AND version_number = ?", assetID, versionNumber).First(&v).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("asset_version", assetID)
	}
	return &v, err
}

// LatestExtraction returns the most recent ExtractionResult for an asset.
func (s *Store) LatestExtraction(ctx context.Context, assetID string) (*ExtractionResult, error) {
	var er ExtractionResult
	err := s.db.WithContext(ctx).Where("asset_id = ?", assetID).Order("created_at DESC").First(&er).Error
	if err == gorm.ErrRecordNotFound {
		return nil, apperr.NotFound("extraction_result", assetID)
	}
	return &er, err
}

// HealthStats implements GET /assets/health's collection metrics: per-status
// counts plus the count of assets still eligible for enhancement.
func (s *Store) HealthStats(ctx context.Context, org string) (map[string]int64, error) {
	stats := map[string]int64{}
	rows, err := s.db.WithContext(ctx).Model(&Asset{}).
		Select("status, count(*) as count").
		Where("organization_id = ?", org).
		Group("status").Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	var pendingEnhancement int64
	if err := s.db.WithContext(ctx).Model(&Asset{}).
		Where("organization_id = ? AND enhancement_eligible = ? AND enhancement_queued_at IS NULL", org, true).
		Count(&pendingEnhancement).Error; err != nil {
		return nil, err
	}
	stats["pending_enhancement"] = pendingEnhancement
	return stats, nil
}
