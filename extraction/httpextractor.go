package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"flowcore.dev/apperr"
	"flowcore.dev/runs"
)

// HTTPExtractor calls an external extractor service over HTTP: POST a file,
// get back {markdown, warnings, engine_info}. Grounded on
// executor/http_executor.go's
// timeout/status-classification idiom for calling out-of-process services.
type HTTPExtractor struct {
	Client  *http.Client
	BaseURL string
	Engine  string
}

func NewHTTPExtractor(baseURL, engine string) *HTTPExtractor {
	return &HTTPExtractor{Client: &http.Client{Timeout: 60 * time.Second}, BaseURL: baseURL, Engine: engine}
}

type httpExtractorResponse struct {
	Markdown   string   `json:"markdown"`
	Warnings   []string `json:"warnings"`
	EngineInfo struct {
		Engine string `json:"engine"`
		Name   string `json:"name"`
	} `json:"engine_info"`
}

func (e *HTTPExtractor) Extract(ctx context.Context, localPath, contentType string) (*ExtractedDocument, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.BaseURL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.Client.Do(req)
	if err != nil {
		return nil, apperr.ExternalUnavailable("extractor", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperr.ExternalUnavailable("extractor", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("extractor rejected document: status %d", resp.StatusCode)
	}

	var parsed httpExtractorResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	return &ExtractedDocument{
		Markdown: parsed.Markdown,
		Warnings: parsed.Warnings,
		EngineInfo: EngineInfo{
			Engine: valueOr(parsed.EngineInfo.Engine, e.Engine),
			Name:   parsed.EngineInfo.Name,
		},
	}, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// HTTPExtractorRegistry is an ordered list of engines, each declaring the
// extensions it accepts. The first engine whose format list contains the
// requested extension wins.
type HTTPExtractorRegistry struct {
	engines []registeredEngine
}

type registeredEngine struct {
	extractor  *HTTPExtractor
	extensions map[string]bool
}

func NewHTTPExtractorRegistry() *HTTPExtractorRegistry {
	return &HTTPExtractorRegistry{}
}

// Register adds an engine and the lower-cased, dot-prefixed extensions
// (e.g. ".pdf") it accepts.
func (r *HTTPExtractorRegistry) Register(extractor *HTTPExtractor, extensions []string) {
	set := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		set[strings.ToLower(ext)] = true
	}
	r.engines = append(r.engines, registeredEngine{extractor: extractor, extensions: set})
}

func (r *HTTPExtractorRegistry) Supports(extension string) bool {
	_, ok := r.Resolve(extension)
	return ok
}

func (r *HTTPExtractorRegistry) Resolve(extension string) (Extractor, bool) {
	ext := strings.ToLower(extension)
	for _, e := range r.engines {
		if e.extensions[ext] {
			return e.extractor, true
		}
	}
	return nil, false
}

func (r *HTTPExtractorRegistry) EngineName() string {
	if len(r.engines) == 0 {
		return "none"
	}
	return r.engines[0].extractor.Engine
}

func (r *HTTPExtractorRegistry) SupportedExtensions() []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range r.engines {
		for ext := range e.extensions {
			if !seen[ext] {
				seen[ext] = true
				out = append(out, ext)
			}
		}
	}
	return out
}

// QueueEnqueuer implements EnhancementEnqueuer and IndexEnqueuer by
// creating follow-on Runs directly through the runs.Store, the same way
// extractqueue.Queue creates extraction Runs — enhancement and indexing
// have no priority/dedup rules of their own, so they
// skip straight to a pending Run rather than going through the queue.
type QueueEnqueuer struct {
	Runs *runs.Store
}

func NewQueueEnqueuer(runsStore *runs.Store) *QueueEnqueuer {
	return &QueueEnqueuer{Runs: runsStore}
}

func (q *QueueEnqueuer) EnqueueEnhancement(ctx context.Context, assetID, runID string) error {
	r, err := q.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	_, err = q.Runs.Create(ctx, r.OrganizationID, runs.RunTypeExtractionEnhancement, runs.OriginSystem,
		runs.JSONMap{"asset_id": assetID, "source_run_id": runID}, []string{assetID}, "")
	return err
}

func (q *QueueEnqueuer) EnqueueIndexing(ctx context.Context, assetID, runID string) error {
	r, err := q.Runs.Get(ctx, runID)
	if err != nil {
		return err
	}
	_, err = q.Runs.Create(ctx, r.OrganizationID, runs.RunTypeIndexing, runs.OriginSystem,
		runs.JSONMap{"asset_id": assetID, "source_run_id": runID}, []string{assetID}, "")
	return err
}
