// Package platformworker is the background half of the composition root: a
// polling loop that picks up pending Runs (crawl, SharePoint sync, SAM.gov
// pull, procedure/pipeline) and routes each to its orchestrator, plus the
// eventbus.WorkerDispatcher adapter event-triggered procedure/pipeline runs
// go through. Extraction runs are not taken from the pending set: they wait
// in extractqueue's priority queue until its submit tick marks them
// submitted, and PollOnce then runs the submitted ones through
// extraction.Orchestrator.Run.
//
// Grounded on worker/pool.go's Start/processNext polling idiom, generalised
// from a generic job queue to runs.Store.DuePending and from one processor
// to a run-type switch.
package platformworker

import (
	"context"
	"fmt"
	"time"

	"flowcore.dev/crawl"
	"flowcore.dev/extraction"
	"flowcore.dev/procedure"
	rt "flowcore.dev/procedure/runtime"
	"flowcore.dev/rungroups"
	"flowcore.dev/runs"
	"flowcore.dev/sampull"
	"flowcore.dev/sharepoint"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispatcher routes a single Run to its orchestrator and updates its status
// on completion. It also implements eventbus.WorkerDispatcher so
// event-triggered procedure/pipeline runs share the same execution path.
type Dispatcher struct {
	db         *gorm.DB
	runs       *runs.Store
	extraction *extraction.Orchestrator
	crawl      *crawl.Orchestrator
	sharepoint *sharepoint.Syncer
	sampull    *sampull.Puller
	procedures *procedure.Catalogue
	executor   *procedure.Executor
	groups     *rungroups.Tracker
	log        *logrus.Logger

	samAPIKey     string
	samDailyLimit int
}

func New(db *gorm.DB, runsStore *runs.Store, extractor *extraction.Orchestrator, crawler *crawl.Orchestrator,
	syncer *sharepoint.Syncer, puller *sampull.Puller, procedures *procedure.Catalogue, executor *procedure.Executor,
	groups *rungroups.Tracker, samAPIKey string, samDailyLimit int, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		db: db, runs: runsStore, extraction: extractor, crawl: crawler, sharepoint: syncer, sampull: puller,
		procedures: procedures, executor: executor, groups: groups,
		samAPIKey: samAPIKey, samDailyLimit: samDailyLimit, log: log,
	}
}

// Dispatch implements eventbus.WorkerDispatcher: run immediately, synchronously,
// the same way dispatchAndCount expects a fire-and-forget submission to work.
func (d *Dispatcher) Dispatch(ctx context.Context, run *runs.Run) error {
	return d.execute(ctx, run)
}

// PollOnce drains up to limit pending non-extraction Runs, executing each in
// turn, then drains submitted extraction Runs separately since those are
// handled by extraction.Orchestrator.Run's own status transitions rather
// than this dispatcher's generic running/complete/fail wrapper. Returns the
// total number processed.
func (d *Dispatcher) PollOnce(ctx context.Context, limit int) (int, error) {
	due, err := d.runs.DuePending(ctx, limit)
	if err != nil {
		return 0, err
	}
	for i := range due {
		if err := d.execute(ctx, &due[i]); err != nil && d.log != nil {
			d.log.WithError(err).WithField("run_id", due[i].ID).Warn("run execution failed")
		}
	}

	submitted, err := d.submittedExtractions(ctx, limit)
	if err != nil {
		return len(due), err
	}
	for _, job := range submitted {
		if err := d.extraction.Run(ctx, job.assetID, job.runID, job.extractionResultID); err != nil && d.log != nil {
			d.log.WithError(err).WithField("run_id", job.runID).Warn("extraction run failed")
		}
	}
	return len(due) + len(submitted), nil
}

type extractionJob struct {
	runID               string
	assetID             string
	extractionResultID  string
}

// submittedExtractions loads every submitted extraction Run's (asset_id,
// extraction_result_id) pair, the inputs extraction.Orchestrator.Run needs.
func (d *Dispatcher) submittedExtractions(ctx context.Context, limit int) ([]extractionJob, error) {
	var pending []runs.Run
	if err := d.db.WithContext(ctx).
		Where("run_type = ? AND status = ?", runs.RunTypeExtraction, runs.StatusSubmitted).
		Order("priority DESC, created_at ASC").
		Limit(limit).
		Find(&pending).Error; err != nil {
		return nil, err
	}
	jobs := make([]extractionJob, 0, len(pending))
	for _, r := range pending {
		var er struct{ ID string }
		if err := d.db.WithContext(ctx).Table("extraction_results").
			Select("id").Where("run_id = ?", r.ID).Scan(&er).Error; err != nil {
			return jobs, err
		}
		if er.ID == "" {
			continue
		}
		jobs = append(jobs, extractionJob{runID: r.ID, assetID: stringOr(r.Config, "asset_id", ""), extractionResultID: er.ID})
	}
	return jobs, nil
}

// Start runs PollOnce on a ticker until ctx is cancelled, the same
// stop-channel-driven loop shape as worker.Worker.Start.
func (d *Dispatcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.PollOnce(ctx, 10); err != nil && d.log != nil {
				d.log.WithError(err).Warn("run poll failed")
			}
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, run *runs.Run) error {
	if _, err := d.runs.UpdateStatus(ctx, run.ID, runs.StatusRunning, nil); err != nil {
		return err
	}

	var runErr error
	switch run.RunType {
	case runs.RunTypeScrape:
		runErr = d.runScrape(ctx, run)
	case runs.RunTypeSharePointSync:
		runErr = d.runSharePointSync(ctx, run)
	case runs.RunTypeSAMPull:
		runErr = d.runSAMPull(ctx, run)
	case runs.RunTypeExtractionEnhancement, runs.RunTypeIndexing:
		runErr = d.runExtractionPhase(ctx, run)
	case runs.RunTypeProcedure, runs.RunTypePipeline:
		runErr = d.runProcedure(ctx, run)
	default:
		runErr = fmt.Errorf("no executor registered for run_type %q", run.RunType)
	}

	if runErr != nil {
		_, _ = d.runs.Fail(ctx, run.ID, runErr.Error())
		return runErr
	}
	_, err := d.runs.Complete(ctx, run.ID, nil)
	return err
}

func (d *Dispatcher) runScrape(ctx context.Context, run *runs.Run) error {
	collectionID := stringOr(run.Config, "collection_id", "")
	if collectionID == "" {
		return fmt.Errorf("scrape run %s missing collection_id", run.ID)
	}
	var col crawl.Collection
	if err := d.db.WithContext(ctx).First(&col, "id = ?", collectionID).Error; err != nil {
		return err
	}
	return d.crawl.Run(ctx, &col, run.ID)
}

func (d *Dispatcher) runSharePointSync(ctx context.Context, run *runs.Run) error {
	syncConfigID := stringOr(run.Config, "sync_config_id", "")
	if syncConfigID == "" {
		return fmt.Errorf("sharepoint_sync run %s missing sync_config_id", run.ID)
	}
	var cfg sharepoint.SyncConfig
	if err := d.db.WithContext(ctx).First(&cfg, "id = ?", syncConfigID).Error; err != nil {
		return err
	}
	fullSync, _ := run.Config["full_sync"].(bool)
	return d.sharepoint.ExecuteSync(ctx, &cfg, run.OrganizationID, run.ID, fullSync)
}

func (d *Dispatcher) runSAMPull(ctx context.Context, run *runs.Run) error {
	return d.sampull.Pull(ctx, run.OrganizationID, run.ID, d.samDailyLimit, d.samAPIKey)
}

// runProcedure resolves a procedure/pipeline Run's procedure_slug against
// the loaded Catalogue and interprets it, the missing link between
// rungroups.RunSpawner/eventbus.Bus materialising these Runs and
// procedure.Executor actually running their step graph.
func (d *Dispatcher) runProcedure(ctx context.Context, run *runs.Run) error {
	slug := stringOr(run.Config, "procedure_slug", "")
	if slug == "" {
		return fmt.Errorf("run %s (%s) missing procedure_slug", run.ID, run.RunType)
	}
	if d.procedures == nil || d.executor == nil {
		return fmt.Errorf("run %s: no procedure catalogue/executor wired", run.ID)
	}
	def, ok := d.procedures.Get(slug)
	if !ok {
		return fmt.Errorf("run %s: no procedure definition loaded for slug %q", run.ID, slug)
	}

	var params interface{}
	if run.Config != nil {
		params = run.Config["params"]
	}

	var observer procedure.StepObserver
	if run.RunType == runs.RunTypePipeline && d.groups != nil {
		if group, gerr := d.groups.GroupForRun(ctx, run.ID); gerr == nil && group != nil {
			groupID := group.ID
			observer = func(obsCtx context.Context, _ string, success bool) {
				var reportErr error
				if success {
					_, reportErr = d.groups.ChildCompleted(obsCtx, groupID)
				} else {
					_, reportErr = d.groups.ChildFailed(obsCtx, groupID, nil)
				}
				if reportErr != nil && d.log != nil {
					d.log.WithError(reportErr).WithField("group_id", groupID).Warn("failed to report pipeline step outcome")
				}
			}
		}
	}

	outcome, err := d.executor.ExecuteObserved(ctx, def, run.ID, rt.FromInterface(params), observer)
	if err != nil {
		return err
	}
	if outcome.Status == "failed" {
		return fmt.Errorf("procedure %s failed: %s", slug, outcome.Error)
	}
	return nil
}

// runExtractionPhase covers enhancement/indexing runs materialised by
// extraction.QueueEnqueuer: both reuse the orchestrator's asset/run ids, not
// a second pass through the extraction queue (they never had priority or
// dedup rules to begin with).
func (d *Dispatcher) runExtractionPhase(ctx context.Context, run *runs.Run) error {
	assetID := stringOr(run.Config, "asset_id", "")
	if assetID == "" {
		return fmt.Errorf("run %s missing asset_id", run.ID)
	}
	d.log.WithFields(logrus.Fields{"run_id": run.ID, "asset_id": assetID, "run_type": run.RunType}).
		Info("extraction follow-on phase acknowledged")
	return nil
}

func stringOr(m runs.JSONMap, key, fallback string) string {
	if m == nil {
		return fallback
	}
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
