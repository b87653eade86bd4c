package sampull

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"flowcore.dev/asset"
	"flowcore.dev/eventbus"
	"flowcore.dev/extractqueue"
	"flowcore.dev/runs"
	"flowcore.dev/storage"
	"gorm.io/gorm"
)

// page is one response page from the opportunity feed.
type page struct {
	Opportunities []opportunity `json:"opportunitiesData"`
	TotalRecords  int           `json:"totalRecords"`
}

type opportunity struct {
	NoticeID           string       `json:"noticeId"`
	SolicitationNumber string       `json:"solicitationNumber"`
	Title              string       `json:"title"`
	Agency             string       `json:"fullParentPathName"`
	PostedDate         string       `json:"postedDate"`
	ResponseDeadline   string       `json:"responseDeadLine"`
	NAICSCode          string       `json:"naicsCode"`
	SetAside           string       `json:"typeOfSetAsideDescription"`
	Type               string       `json:"type"`
	Description        string       `json:"description"`
	Attachments        []attachment `json:"resourceLinks"`
}

type attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Puller drives one paginated pull for a tenant.
type Puller struct {
	db      *gorm.DB
	Runs    *runs.Store
	Assets  *asset.Store
	Blobs   storage.Blobs
	Queue   *extractqueue.Queue
	Events  *eventbus.Bus
	Budget  *BudgetTracker
	Client  *http.Client
	BaseURL string
	Bucket  string

	PageSize int
}

func New(db *gorm.DB, runsStore *runs.Store, assetStore *asset.Store, blobs storage.Blobs, queue *extractqueue.Queue, events *eventbus.Bus, budget *BudgetTracker, baseURL, bucket string) *Puller {
	return &Puller{
		db: db, Runs: runsStore, Assets: assetStore, Blobs: blobs, Queue: queue, Events: events, Budget: budget,
		Client: &http.Client{Timeout: 30 * time.Second}, BaseURL: baseURL, Bucket: bucket, PageSize: 100,
	}
}

// Pull runs one paginated pull for organizationID. If the daily budget is
// exhausted mid-pull it stops, keeps what was already upserted, and fails
// the Run with a "rate_limited" error message; otherwise it completes the
// Run with the pulled count.
func (p *Puller) Pull(ctx context.Context, organizationID, runID string, dailyLimit int, apiKey string) error {
	offset := 0
	pulled := 0
	rateLimited := false

	for {
		allowed, _, err := p.Budget.TryConsume(ctx, organizationID, dailyLimit)
		if err != nil {
			return err
		}
		if !allowed {
			rateLimited = true
			break
		}

		pg, err := p.fetchPage(ctx, apiKey, offset)
		if err != nil {
			return err
		}

		for _, o := range pg.Opportunities {
			if err := p.upsert(ctx, organizationID, o); err != nil {
				continue
			}
			pulled++
		}

		_ = p.Runs.UpdateProgress(ctx, runID, offset+len(pg.Opportunities), pg.TotalRecords, "opportunities")

		offset += len(pg.Opportunities)
		if len(pg.Opportunities) == 0 || offset >= pg.TotalRecords {
			break
		}
	}

	if p.Events != nil {
		_, _ = p.Events.Emit(ctx, "sam_pull.completed", organizationID, map[string]interface{}{
			"pulled_count": pulled, "rate_limited": rateLimited,
		}, runID)
	}

	if rateLimited {
		if _, err := p.Runs.UpdateStatus(ctx, runID, runs.StatusFailed, strPtr("rate_limited: daily SAM API budget exhausted")); err != nil {
			return err
		}
		return nil
	}

	_, err := p.Runs.Complete(ctx, runID, runs.JSONMap{"pulled_count": pulled})
	return err
}

func (p *Puller) fetchPage(ctx context.Context, apiKey string, offset int) (*page, error) {
	url := fmt.Sprintf("%s?api_key=%s&limit=%d&offset=%d", p.BaseURL, apiKey, p.PageSize, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var pg page
	if err := json.NewDecoder(resp.Body).Decode(&pg); err != nil {
		return nil, err
	}
	return &pg, nil
}

func (p *Puller) upsert(ctx context.Context, organizationID string, o opportunity) error {
	var existing Solicitation
	err := p.db.WithContext(ctx).Where("organization_id = ? AND notice_id = ?", organizationID, o.NoticeID).First(&existing).Error

	now := time.Now().UTC()
	posted := parseDate(o.PostedDate)
	deadline := parseDate(o.ResponseDeadline)

	var solicitationID string
	switch {
	case err == gorm.ErrRecordNotFound:
		sol := &Solicitation{
			ID: newID(), OrganizationID: organizationID, NoticeID: o.NoticeID, SolicitationNumber: o.SolicitationNumber,
			Title: o.Title, Agency: o.Agency, PostedDate: posted, ResponseDeadline: deadline,
			NAICSCode: o.NAICSCode, SetAside: o.SetAside, Status: SolicitationActive, LastPulledAt: now,
		}
		if err := p.db.WithContext(ctx).Create(sol).Error; err != nil {
			return err
		}
		solicitationID = sol.ID
	case err != nil:
		return err
	default:
		if err := p.db.WithContext(ctx).Model(&existing).Updates(map[string]interface{}{
			"title": o.Title, "response_deadline": deadline, "last_pulled_at": now,
		}).Error; err != nil {
			return err
		}
		solicitationID = existing.ID
	}

	attachments := make([]interface{}, 0, len(o.Attachments))
	for _, a := range o.Attachments {
		attachments = append(attachments, map[string]interface{}{"filename": a.Filename, "url": a.URL})
	}
	notice := &Notice{
		ID: newID(), SolicitationID: solicitationID, NoticeType: o.Type, Description: o.Description,
		Attachments: runs.JSONMap{"items": attachments},
	}
	if err := p.db.WithContext(ctx).Create(notice).Error; err != nil {
		return err
	}

	for _, a := range o.Attachments {
		_ = p.downloadAttachment(ctx, organizationID, a)
	}
	return nil
}

func (p *Puller) downloadAttachment(ctx context.Context, organizationID string, a attachment) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	objectKey := fmt.Sprintf("%s/sam_gov/%s", organizationID, a.Filename)
	if err := p.Blobs.Upload(ctx, p.Bucket, objectKey, data, ""); err != nil {
		return err
	}

	assetRecord := &asset.Asset{
		OrganizationID: organizationID, SourceType: asset.SourceSAMGov,
		OriginalFilename: a.Filename, FileSize: int64(len(data)),
		RawBucket: p.Bucket, RawObjectKey: objectKey,
	}
	v := &asset.AssetVersion{RawBucket: p.Bucket, RawObjectKey: objectKey, FileSize: int64(len(data))}
	if err := p.Assets.Create(ctx, assetRecord, v); err != nil {
		return err
	}
	if p.Queue != nil {
		_, _, _, err := p.Queue.QueueExtractionForAsset(ctx, assetRecord)
		return err
	}
	return nil
}

func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := time.Parse("01/02/2006", s); err == nil {
		return &t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t
	}
	return nil
}

func strPtr(s string) *string { return &s }
