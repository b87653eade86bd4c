// Package extraction drives a single document extraction from raw bytes to
// markdown: a ten-step flow from idempotency check through success/failure
// recording and enqueueing the next stage.
//
// Grounded on executor/http_executor.go's Result{StartTime, EndTime,
// Duration, Status, Error, Metadata} timing/outcome shape and
// executor/executor.go's Registry dispatch, adapted from "execute one
// semantic action" to "extract one asset version".
package extraction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowcore.dev/apperr"
	"flowcore.dev/asset"
	"flowcore.dev/runs"
	"flowcore.dev/storage"
)

// ExtractedDocument is what an Extractor produces from raw bytes.
type ExtractedDocument struct {
	Markdown   string
	Warnings   []string
	EngineInfo EngineInfo
}

type EngineInfo struct {
	Engine string
	Name   string
}

// Extractor converts raw document bytes to markdown for one file extension.
type Extractor interface {
	Extract(ctx context.Context, localPath, contentType string) (*ExtractedDocument, error)
}

// ExtractorRegistry answers "is this extension supported" and resolves the
// Extractor for it, grounded on semantic/actionregistry.go's CanHandle-style
// capability lookup.
type ExtractorRegistry interface {
	Supports(extension string) bool
	Resolve(extension string) (Extractor, bool)
	EngineName() string
	SupportedExtensions() []string
}

// EnhancementEnqueuer and IndexEnqueuer decouple the orchestrator from the
// maintenance/search queues it hands off to on success.
type EnhancementEnqueuer interface {
	EnqueueEnhancement(ctx context.Context, assetID, runID string) error
}

type IndexEnqueuer interface {
	EnqueueIndexing(ctx context.Context, assetID, runID string) error
}

// enhancementEligibleExtensions mirrors the file extensions worth a second,
// richer extraction pass.
var enhancementEligibleExtensions = map[string]bool{
	".pdf":  true,
	".docx": true,
	".pptx": true,
}

// Orchestrator implements the 10-step extraction flow.
type Orchestrator struct {
	Runs         *runs.Store
	Assets       *asset.Store
	Blobs        storage.Blobs
	Extractors   ExtractorRegistry
	Enhancement  EnhancementEnqueuer
	Indexing     IndexEnqueuer
	ProcessedBucket string
}

func New(runsStore *runs.Store, assetStore *asset.Store, blobs storage.Blobs, extractors ExtractorRegistry, enhancement EnhancementEnqueuer, indexing IndexEnqueuer, processedBucket string) *Orchestrator {
	return &Orchestrator{
		Runs: runsStore, Assets: assetStore, Blobs: blobs, Extractors: extractors,
		Enhancement: enhancement, Indexing: indexing, ProcessedBucket: processedBucket,
	}
}

// Run executes one extraction for (assetID, runID, extractionResultID)
// through all ten steps of the flow.
func (o *Orchestrator) Run(ctx context.Context, assetID, runID, extractionResultID string) error {
	// Step 1: load Asset, Run, ExtractionResult; idempotency check for
	// restart resilience: terminal Run states mean this is a stale redelivery.
	a, err := o.Assets.Get(ctx, assetID)
	if err != nil {
		return err
	}
	r, err := o.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	if isTerminalRunStatus(r.Status) {
		return nil // redelivery of an already-finished run; no-op
	}
	if r.Status == runs.StatusRunning {
		o.logInfo(ctx, runID, "restart: resuming a run already in running status")
	}

	ext := strings.ToLower(filepath.Ext(a.OriginalFilename))

	// Step 2: extractor support check.
	if !o.Extractors.Supports(ext) {
		msg := fmt.Sprintf("unsupported file format %q for engine %q (supported: %s)",
			ext, o.Extractors.EngineName(), strings.Join(o.Extractors.SupportedExtensions(), ", "))
		return o.fail(ctx, a.ID, runID, extractionResultID, []string{msg})
	}

	// Step 3: transition to running, emit progress.
	if _, err := o.Runs.UpdateStatus(ctx, runID, runs.StatusRunning, nil); err != nil {
		return err
	}
	if err := o.Assets.UpdateExtractionStatus(ctx, extractionResultID, asset.ExtractionRunning); err != nil {
		return err
	}
	o.logInfo(ctx, runID, fmt.Sprintf("Starting extraction for %s", a.OriginalFilename))
	start := time.Now()

	// Step 4: download raw object to a temp file, guaranteed cleanup.
	localPath, cleanup, err := o.downloadToTemp(ctx, a)
	if err != nil {
		return o.fail(ctx, a.ID, runID, extractionResultID, []string{err.Error()})
	}
	defer cleanup()

	// Step 5: invoke the extractor.
	extractorImpl, _ := o.Extractors.Resolve(ext)
	doc, err := extractorImpl.Extract(ctx, localPath, a.ContentType)
	if err != nil {
		return o.fail(ctx, a.ID, runID, extractionResultID, []string{err.Error()})
	}
	if strings.TrimSpace(doc.Markdown) == "" {
		return o.fail(ctx, a.ID, runID, extractionResultID, []string{"extractor produced empty markdown"})
	}

	// Step 6: upload markdown to the processed bucket at a deterministic path.
	objectKey := ProcessedObjectKey(a)
	if err := o.Blobs.Upload(ctx, o.ProcessedBucket, objectKey, []byte(doc.Markdown), "text/markdown"); err != nil {
		return o.fail(ctx, a.ID, runID, extractionResultID, []string{err.Error()})
	}

	elapsed := time.Since(start).Seconds()

	// Step 7: record success; mark asset ready; compute enhancement eligibility.
	if err := o.Assets.RecordExtractionSuccess(ctx, extractionResultID, o.ProcessedBucket, objectKey, doc.Warnings, elapsed); err != nil {
		return err
	}
	enhancementEligible := enhancementEligibleExtensions[ext]
	if err := o.Assets.MarkReady(ctx, a.ID, asset.TierBasic, enhancementEligible); err != nil {
		return err
	}

	// Step 8: complete the Run with a results summary.
	if _, err := o.Runs.Complete(ctx, runID, runs.JSONMap{
		"extraction_time": elapsed,
		"markdown_length": len(doc.Markdown),
		"warnings_count":  len(doc.Warnings),
		"engine":          doc.EngineInfo.Engine,
		"engine_name":     doc.EngineInfo.Name,
	}); err != nil {
		return err
	}

	// Step 9: enhancement or indexing hand-off.
	if enhancementEligible && o.Enhancement != nil {
		if err := o.Enhancement.EnqueueEnhancement(ctx, a.ID, runID); err != nil {
			o.logInfo(ctx, runID, fmt.Sprintf("failed to enqueue enhancement: %v", err))
		}
	} else if o.Indexing != nil {
		if err := o.Indexing.EnqueueIndexing(ctx, a.ID, runID); err != nil {
			o.logInfo(ctx, runID, fmt.Sprintf("failed to enqueue indexing: %v", err))
		}
	}

	return nil
}

// fail implements step 10: record failure, fail the run, emit an ERROR log.
func (o *Orchestrator) fail(ctx context.Context, assetID, runID, extractionResultID string, errs []string) error {
	if err := o.Assets.RecordExtractionFailure(ctx, extractionResultID, errs); err != nil {
		return err
	}
	if err := o.Assets.SetStatus(ctx, assetID, asset.StatusFailed); err != nil {
		return err
	}
	msg := strings.Join(errs, "; ")
	// The state machine only reaches failed from running; a no-op when the
	// Run is already running.
	if _, err := o.Runs.UpdateStatus(ctx, runID, runs.StatusRunning, nil); err != nil {
		return err
	}
	if _, err := o.Runs.Fail(ctx, runID, msg); err != nil {
		return err
	}
	return o.Runs.AppendLog(ctx, runID, runs.LogLevelError, runs.EventStepError, msg, nil)
}

func (o *Orchestrator) logInfo(ctx context.Context, runID, message string) {
	_ = o.Runs.AppendLog(ctx, runID, runs.LogLevelInfo, runs.EventProgress, message, nil)
}

func (o *Orchestrator) downloadToTemp(ctx context.Context, a *asset.Asset) (string, func(), error) {
	data, err := o.Blobs.Download(ctx, a.RawBucket, a.RawObjectKey)
	if err != nil {
		return "", func() {}, apperr.ExternalUnavailable("blob store", err)
	}
	f, err := os.CreateTemp("", "extraction-*"+filepath.Ext(a.OriginalFilename))
	if err != nil {
		return "", func() {}, err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", func() {}, err
	}
	f.Close()
	path := f.Name()
	return path, func() { os.Remove(path) }, nil
}

func isTerminalRunStatus(s runs.Status) bool {
	switch s {
	case runs.StatusCompleted, runs.StatusFailed, runs.StatusCancelled, runs.StatusTimedOut:
		return true
	default:
		return false
	}
}

// ProcessedObjectKey implements the storage path policy:
// uploads under {org}/uploads/{asset_id}/{filename}.md, web-scrape documents
// under {org}/scrape/{collection_slug}/documents/{filename}.md, SharePoint
// syncs under {org}/sharepoint/{sync_slug}/{relative_path}/{filename}.md.
func ProcessedObjectKey(a *asset.Asset) string {
	filename := a.OriginalFilename + ".md"
	switch a.SourceType {
	case asset.SourceWebScrape, asset.SourceWebScrapeDocument:
		collectionSlug := stringOr(a.SourceMetadata, "collection_slug", "default")
		return fmt.Sprintf("%s/scrape/%s/documents/%s", a.OrganizationID, collectionSlug, filename)
	case asset.SourceSharePoint:
		syncSlug := stringOr(a.SourceMetadata, "sync_slug", "default")
		relativePath := stringOr(a.SourceMetadata, "relative_path", "")
		if relativePath != "" {
			return fmt.Sprintf("%s/sharepoint/%s/%s/%s", a.OrganizationID, syncSlug, relativePath, filename)
		}
		return fmt.Sprintf("%s/sharepoint/%s/%s", a.OrganizationID, syncSlug, filename)
	default:
		return fmt.Sprintf("%s/uploads/%s/%s", a.OrganizationID, a.ID, filename)
	}
}

func stringOr(m runs.JSONMap, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}
