// Package download owns the download job lifecycle: lock acquisition,
// date-range chunking, sequential chunk execution, progress tracking and
// crash containment.
//
// Trigger calls validate synchronously, acquire an exclusive lock, persist a
// job record and return immediately with a job id; the pipeline then runs as
// a detached supervised goroutine whose failures terminalize the job but are
// never observable by the trigger caller.
package download

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/navhub/internal/clients/amfi"
	"github.com/aristath/navhub/internal/domain"
	"github.com/aristath/navhub/internal/modules/jobs"
	"github.com/aristath/navhub/internal/modules/navdata"
)

// Fetcher is the external data source consumed by the orchestrator.
// Implemented by amfi.Client.
type Fetcher interface {
	FetchDaily(ctx context.Context, opts amfi.Options) *amfi.FetchResult
	FetchHistorical(ctx context.Context, start, end time.Time, opts amfi.Options) *amfi.FetchResult
}

// JobStore is the durable job record contract.
// Implemented by jobs.Repository.
type JobStore interface {
	Create(p jobs.CreateParams) (*jobs.DownloadJob, error)
	UpdateStatus(jobID string, status jobs.Status, summary *jobs.ResultSummary, errorDetails string) error
	Get(jobID string) (*jobs.DownloadJob, error)
	List(f jobs.ListFilters) ([]*jobs.DownloadJob, error)
	ListChildren(parentID string) ([]*jobs.DownloadJob, error)
}

// NAVStore persists fetched price points.
// Implemented by navdata.Repository.
type NAVStore interface {
	UpsertNAVs(tenantID string, env domain.Environment, records []domain.NAVRecord) (navdata.UpsertCounts, error)
}

// SchemeCatalog resolves a tenant's tracked schemes and backfill state.
// Implemented by schemes.Repository.
type SchemeCatalog interface {
	ListCodes(tenantID string, env domain.Environment) ([]string, error)
	BackfillComplete(tenantID string, env domain.Environment, schemeCodes []string) (map[string]bool, error)
	MarkBackfillComplete(tenantID string, env domain.Environment, schemeCodes []string) error
}

// ChunkPlanEntry describes one window of a chunked historical request,
// returned to the caller for UI preview before execution.
type ChunkPlanEntry struct {
	ChunkNumber int       `json:"chunk_number"`
	JobID       string    `json:"job_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// TriggerResult is the synchronous response of a trigger call.
type TriggerResult struct {
	JobID          string           `json:"job_id"`
	AlreadyRunning bool             `json:"already_running"`
	Chunks         []ChunkPlanEntry `json:"chunks,omitempty"`
}

// Orchestrator coordinates download jobs.
type Orchestrator struct {
	fetcher Fetcher
	jobs    JobStore
	navs    NAVStore
	catalog SchemeCatalog
	locks   *LockTable
	tracker *Tracker
	log     zerolog.Logger

	// wg tracks detached pipeline goroutines so tests and shutdown can wait.
	wg sync.WaitGroup
}

// New creates a download orchestrator. The lock table and progress tracker
// are injected so their lifetime is explicit and tests can own them.
func New(fetcher Fetcher, jobStore JobStore, navs NAVStore, catalog SchemeCatalog, locks *LockTable, tracker *Tracker, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher: fetcher,
		jobs:    jobStore,
		navs:    navs,
		catalog: catalog,
		locks:   locks,
		tracker: tracker,
		log:     log.With().Str("component", "download_orchestrator").Logger(),
	}
}

// Wait blocks until all detached pipelines have finished. Used by tests and
// graceful shutdown.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// TriggerDaily starts a daily snapshot download for a tenant.
// If a daily download is already in progress for the tenant, the existing
// job id is returned with AlreadyRunning set; no duplicate is enqueued.
func (o *Orchestrator) TriggerDaily(tenantID, userID string, env domain.Environment) (*TriggerResult, error) {
	return o.triggerSnapshot(jobs.JobTypeDaily, tenantID, userID, env)
}

// TriggerWeekly starts a weekly snapshot download for a tenant. The weekly
// job reuses the full daily snapshot; only the cadence differs.
func (o *Orchestrator) TriggerWeekly(tenantID string, env domain.Environment) (*TriggerResult, error) {
	return o.triggerSnapshot(jobs.JobTypeWeekly, tenantID, "", env)
}

func (o *Orchestrator) triggerSnapshot(jobType jobs.JobType, tenantID, userID string, env domain.Environment) (*TriggerResult, error) {
	key := LockKey{JobType: jobType, TenantID: tenantID, Environment: env, Scope: "all"}

	acquired, holder := o.locks.Acquire(key)
	if !acquired {
		o.log.Info().
			Str("job_type", string(jobType)).
			Str("tenant_id", tenantID).
			Str("holder_job_id", holder).
			Msg("Download already in progress, returning existing job")
		return &TriggerResult{JobID: holder, AlreadyRunning: true}, nil
	}

	schemeCodes, err := o.catalog.ListCodes(tenantID, env)
	if err != nil {
		o.locks.Release(key)
		return nil, err
	}
	if len(schemeCodes) == 0 {
		o.locks.Release(key)
		return nil, &domain.ValidationError{Field: "schemes", Message: "tenant tracks no schemes"}
	}

	job, err := o.jobs.Create(jobs.CreateParams{
		TenantID:    tenantID,
		UserID:      userID,
		Environment: env,
		Type:        jobType,
		SchemeCodes: schemeCodes,
	})
	if err != nil {
		o.locks.Release(key)
		return nil, err
	}

	o.locks.SetHolder(key, job.ID)
	o.tracker.Start(job.ID)
	o.spawnPipeline(job)

	return &TriggerResult{JobID: job.ID}, nil
}

// TriggerHistorical starts a historical backfill for specific schemes over
// [start, end]. Ranges over MaxChunkDays days are split into sequential
// chunk jobs under one parent; the full chunk plan is returned immediately,
// before any execution.
func (o *Orchestrator) TriggerHistorical(tenantID, userID string, env domain.Environment, schemeCodes []string, start, end time.Time) (*TriggerResult, error) {
	if len(schemeCodes) == 0 {
		return nil, &domain.ValidationError{Field: "scheme_codes", Message: "at least one scheme is required"}
	}
	start = truncateToDay(start)
	end = truncateToDay(end)
	if start.After(end) {
		return nil, &domain.ValidationError{Field: "date_range", Message: "start date is after end date"}
	}
	if end.After(truncateToDay(time.Now())) {
		return nil, &domain.ValidationError{Field: "end_date", Message: "end date is in the future"}
	}

	// Short-circuit schemes whose backfill already completed
	complete, err := o.catalog.BackfillComplete(tenantID, env, schemeCodes)
	if err != nil {
		return nil, err
	}
	remaining := make([]string, 0, len(schemeCodes))
	for _, code := range schemeCodes {
		if !complete[code] {
			remaining = append(remaining, code)
		}
	}
	if len(remaining) == 0 {
		return nil, &domain.ConflictError{
			Resource: "historical backfill",
			Message:  "historical backfill already completed for all requested schemes",
		}
	}

	key := LockKey{
		JobType:     jobs.JobTypeHistorical,
		TenantID:    tenantID,
		Environment: env,
		Scope:       scopeForSchemes(remaining),
	}
	acquired, holder := o.locks.Acquire(key)
	if !acquired {
		o.log.Info().
			Str("tenant_id", tenantID).
			Str("holder_job_id", holder).
			Msg("Historical download already in progress, returning existing job")
		return &TriggerResult{JobID: holder, AlreadyRunning: true}, nil
	}

	windows := SplitRange(start, end, MaxChunkDays)
	if len(windows) == 1 {
		// Small range: a single job, no parent/child indirection
		job, err := o.jobs.Create(jobs.CreateParams{
			TenantID:    tenantID,
			UserID:      userID,
			Environment: env,
			Type:        jobs.JobTypeHistorical,
			SchemeCodes: remaining,
			StartDate:   &windows[0].Start,
			EndDate:     &windows[0].End,
		})
		if err != nil {
			o.locks.Release(key)
			return nil, err
		}

		o.locks.SetHolder(key, job.ID)
		o.tracker.Start(job.ID)
		o.spawnPipeline(job)

		return &TriggerResult{JobID: job.ID}, nil
	}

	// Oversized range: one parent plus one child per window
	total := len(windows)
	parent, err := o.jobs.Create(jobs.CreateParams{
		TenantID:    tenantID,
		UserID:      userID,
		Environment: env,
		Type:        jobs.JobTypeHistorical,
		SchemeCodes: remaining,
		StartDate:   &start,
		EndDate:     &end,
		TotalChunks: &total,
	})
	if err != nil {
		o.locks.Release(key)
		return nil, err
	}

	plan := make([]ChunkPlanEntry, 0, total)
	children := make([]*jobs.DownloadJob, 0, total)
	for i := range windows {
		chunkNumber := i + 1
		child, err := o.jobs.Create(jobs.CreateParams{
			TenantID:    tenantID,
			UserID:      userID,
			Environment: env,
			Type:        jobs.JobTypeHistorical,
			SchemeCodes: remaining,
			StartDate:   &windows[i].Start,
			EndDate:     &windows[i].End,
			ParentJobID: &parent.ID,
			ChunkNumber: &chunkNumber,
			TotalChunks: &total,
		})
		if err != nil {
			o.locks.Release(key)
			return nil, err
		}
		children = append(children, child)
		plan = append(plan, ChunkPlanEntry{
			ChunkNumber: chunkNumber,
			JobID:       child.ID,
			Start:       windows[i].Start,
			End:         windows[i].End,
		})
	}

	o.locks.SetHolder(key, parent.ID)
	o.tracker.Start(parent.ID)
	o.tracker.StartSequential(parent.ID, total)
	o.spawnSequential(parent, children)

	return &TriggerResult{JobID: parent.ID, Chunks: plan}, nil
}

// Cancel requests cooperative cancellation of a job. The job's status moves
// to cancelled and its lock is released; an in-flight fetch is not
// interrupted, but the next pipeline checkpoint observes the cancellation
// and discards the result.
func (o *Orchestrator) Cancel(jobID string) error {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return &domain.ConflictError{
			Resource:   "download job",
			ExistingID: jobID,
			Message:    fmt.Sprintf("job is already %s", job.Status),
		}
	}

	if err := o.jobs.UpdateStatus(jobID, jobs.StatusCancelled, nil, "cancelled by user"); err != nil {
		return err
	}

	// Pending children of a cancelled parent are cancelled too; a running
	// child finishes its in-flight work and is discarded at its checkpoint.
	children, err := o.jobs.ListChildren(jobID)
	if err == nil {
		for _, child := range children {
			if child.Status == jobs.StatusPending {
				if err := o.jobs.UpdateStatus(child.ID, jobs.StatusCancelled, nil, "parent cancelled"); err != nil {
					o.log.Warn().Err(err).Str("job_id", child.ID).Msg("Failed to cancel pending chunk")
				}
				o.tracker.SetStatus(child.ID, jobs.StatusCancelled)
			}
		}
	}

	o.locks.ReleaseByJob(jobID)
	o.tracker.SetStatus(jobID, jobs.StatusCancelled)

	o.log.Info().Str("job_id", jobID).Msg("Download cancelled")
	return nil
}

// Progress returns the pollable progress snapshot for a job. When the
// in-memory snapshot has been garbage-collected, the durable record backs
// the answer.
func (o *Orchestrator) Progress(jobID string) (Snapshot, error) {
	if snap, ok := o.tracker.Get(jobID); ok {
		return snap, nil
	}

	job, err := o.jobs.Get(jobID)
	if err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{
		JobID:     job.ID,
		Status:    job.Status,
		StartedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Status == jobs.StatusCompleted || job.Status == jobs.StatusCompletedWithErrors {
		snap.Percent = 100
	}
	return snap, nil
}

// ActiveDownloads returns progress snapshots of all non-terminal jobs.
func (o *Orchestrator) ActiveDownloads() []Snapshot {
	return o.tracker.Active()
}

// SequentialProgress returns chunk-level progress for a chunked parent job.
func (o *Orchestrator) SequentialProgress(parentID string) (SequentialSnapshot, error) {
	if seq, ok := o.tracker.GetSequential(parentID); ok {
		return seq, nil
	}
	return SequentialSnapshot{}, &domain.NotFoundError{Resource: "sequential progress", ID: parentID}
}

// spawnPipeline runs a single job's pipeline as a detached supervised
// goroutine. The error boundary guarantees a terminal job state; nothing
// propagates to the trigger caller.
func (o *Orchestrator) spawnPipeline(job *jobs.DownloadJob) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.containCrash(job.ID)

		err := o.executeJob(context.Background(), job, true)
		o.finishJob(job.ID, err)
	}()
}

// spawnSequential runs a chunked parent's children strictly in chunk order.
// A chunk failure is recorded and the loop continues; the parent only fails
// if the orchestration itself errors.
func (o *Orchestrator) spawnSequential(parent *jobs.DownloadJob, children []*jobs.DownloadJob) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer o.containCrash(parent.ID)

		ctx := context.Background()

		if err := o.jobs.UpdateStatus(parent.ID, jobs.StatusRunning, nil, ""); err != nil {
			o.failJob(parent.ID, err)
			return
		}
		o.tracker.SetStatus(parent.ID, jobs.StatusRunning)

		aggregate := jobs.ResultSummary{}
		began := time.Now()
		chunkErrors := 0

		for i, child := range children {
			if o.isCancelled(parent.ID) {
				o.log.Info().Str("job_id", parent.ID).Int("chunk", i+1).Msg("Parent cancelled, stopping chunk execution")
				o.tracker.FinishSequential(parent.ID, jobs.StatusCancelled)
				o.locks.ReleaseByJob(parent.ID)
				return
			}

			o.tracker.Update(parent.ID, (i*100)/len(children),
				fmt.Sprintf("Processing chunk %d of %d", i+1, len(children)), i, len(children))

			err := o.runChunk(ctx, child)
			if err != nil {
				chunkErrors++
				o.tracker.ChunkFailed(parent.ID, i+1, err.Error())
				o.log.Warn().
					Err(err).
					Str("parent_job_id", parent.ID).
					Int("chunk", i+1).
					Msg("Chunk failed, continuing with next chunk")
				continue
			}

			o.tracker.ChunkCompleted(parent.ID)
			if done, getErr := o.jobs.Get(child.ID); getErr == nil && done.ResultSummary != nil {
				mergeSummary(&aggregate, done.ResultSummary)
			}
		}

		status := jobs.StatusCompleted
		if chunkErrors > 0 {
			status = jobs.StatusCompletedWithErrors
		}

		aggregate.ElapsedMS = time.Since(began).Milliseconds()
		if err := o.jobs.UpdateStatus(parent.ID, status, &aggregate, ""); err != nil {
			o.failJob(parent.ID, err)
			return
		}

		// Backfill is complete only when every window landed
		if chunkErrors == 0 {
			if err := o.catalog.MarkBackfillComplete(parent.TenantID, parent.Environment, parent.SchemeCodes); err != nil {
				o.log.Warn().Err(err).Str("job_id", parent.ID).Msg("Failed to mark backfill complete")
			}
		}

		o.tracker.SetStatus(parent.ID, status)
		o.tracker.FinishSequential(parent.ID, status)
		o.locks.ReleaseByJob(parent.ID)

		o.log.Info().
			Str("job_id", parent.ID).
			Int("chunks", len(children)).
			Int("chunk_errors", chunkErrors).
			Str("status", string(status)).
			Msg("Sequential download finished")
	}()
}

// runChunk executes one child job synchronously, containing its errors so
// the sequential loop can continue.
func (o *Orchestrator) runChunk(ctx context.Context, child *jobs.DownloadJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("chunk panicked: %v", r)
			o.failJob(child.ID, err)
		}
	}()

	o.tracker.Start(child.ID)
	err = o.executeJob(ctx, child, false)
	o.finishJob(child.ID, err)
	return err
}

// executeJob runs the fetch-filter-upsert pipeline for one job. markBackfill
// controls whether a successful historical job flags its schemes as
// backfilled (chunk children defer that decision to their parent).
func (o *Orchestrator) executeJob(ctx context.Context, job *jobs.DownloadJob, markBackfill bool) error {
	began := time.Now()

	if o.isCancelled(job.ID) {
		return nil
	}

	if err := o.jobs.UpdateStatus(job.ID, jobs.StatusRunning, nil, ""); err != nil {
		return err
	}
	o.tracker.SetStatus(job.ID, jobs.StatusRunning)
	o.tracker.Update(job.ID, 5, "Fetching data from source", 0, 0)

	// Fetch
	var result *amfi.FetchResult
	switch job.Type {
	case jobs.JobTypeHistorical:
		if job.StartDate == nil || job.EndDate == nil {
			return &domain.ValidationError{Field: "date_range", Message: "historical job is missing its date window"}
		}
		result = o.fetcher.FetchHistorical(ctx, *job.StartDate, *job.EndDate, amfi.Options{})
	default:
		// Daily and weekly reuse the full daily snapshot
		result = o.fetcher.FetchDaily(ctx, amfi.Options{})
	}
	if !result.Success {
		return result.Err()
	}

	// Cancellation checkpoint: the fetch already finished, its result is
	// discarded here if the job was cancelled mid-flight.
	if o.isCancelled(job.ID) {
		o.log.Info().Str("job_id", job.ID).Msg("Job cancelled during fetch, discarding result")
		return nil
	}

	o.tracker.Update(job.ID, 40, "Filtering records", 0, len(result.Records))

	// Filter to the job's target schemes
	targets := make(map[string]bool, len(job.SchemeCodes))
	for _, code := range job.SchemeCodes {
		targets[code] = true
	}
	filtered := make([]domain.NAVRecord, 0, len(job.SchemeCodes))
	for _, rec := range result.Records {
		if targets[rec.SchemeCode] {
			filtered = append(filtered, rec)
		}
	}

	if o.isCancelled(job.ID) {
		return nil
	}

	o.tracker.Update(job.ID, 60, "Storing records", 0, len(filtered))

	// Upsert
	counts, err := o.navs.UpsertNAVs(job.TenantID, job.Environment, filtered)
	if err != nil {
		return err
	}
	for code, msg := range counts.Errors {
		o.tracker.AddSchemeError(job.ID, code, msg)
	}

	// Summary
	summary := &jobs.ResultSummary{
		TotalRecords: len(filtered),
		Inserted:     counts.Inserted,
		Updated:      counts.Updated,
		Failed:       len(counts.Errors),
		ElapsedMS:    time.Since(began).Milliseconds(),
	}
	for code, msg := range counts.Errors {
		summary.SchemeErrors = append(summary.SchemeErrors, jobs.SchemeError{SchemeCode: code, Message: msg})
	}
	sort.Slice(summary.SchemeErrors, func(i, j int) bool {
		return summary.SchemeErrors[i].SchemeCode < summary.SchemeErrors[j].SchemeCode
	})

	if o.isCancelled(job.ID) {
		return nil
	}

	o.tracker.Update(job.ID, 90, "Finalizing", len(filtered), len(filtered))

	if err := o.jobs.UpdateStatus(job.ID, jobs.StatusCompleted, summary, ""); err != nil {
		return err
	}

	if markBackfill && job.Type == jobs.JobTypeHistorical {
		if err := o.catalog.MarkBackfillComplete(job.TenantID, job.Environment, job.SchemeCodes); err != nil {
			o.log.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to mark backfill complete")
		}
	}

	o.tracker.SetStatus(job.ID, jobs.StatusCompleted)

	o.log.Info().
		Str("job_id", job.ID).
		Str("job_type", string(job.Type)).
		Int("records", len(filtered)).
		Int("inserted", counts.Inserted).
		Int("updated", counts.Updated).
		Int("errors", len(counts.Errors)).
		Dur("elapsed", time.Since(began)).
		Msg("Download job completed")

	return nil
}

// finishJob handles the tail of a pipeline: on error the job is
// terminalized as failed; either way the lock is released.
func (o *Orchestrator) finishJob(jobID string, execErr error) {
	if execErr != nil {
		o.failJob(jobID, execErr)
	}
	o.locks.ReleaseByJob(jobID)
}

// failJob terminalizes a job as failed with the triggering error recorded.
// A job already in a terminal state (e.g. cancelled) is left untouched.
func (o *Orchestrator) failJob(jobID string, execErr error) {
	o.log.Error().Err(execErr).Str("job_id", jobID).Msg("Download job failed")

	if err := o.jobs.UpdateStatus(jobID, jobs.StatusFailed, nil, execErr.Error()); err != nil {
		o.log.Warn().Err(err).Str("job_id", jobID).Msg("Could not record failed state")
		return
	}
	o.tracker.SetStatus(jobID, jobs.StatusFailed)
}

// containCrash is the top-level error boundary of every detached pipeline.
// A panic is persisted as a failed terminal state and never propagates.
func (o *Orchestrator) containCrash(jobID string) {
	if r := recover(); r != nil {
		o.log.Error().
			Str("job_id", jobID).
			Interface("panic", r).
			Msg("Download pipeline panicked")
		o.failJob(jobID, fmt.Errorf("pipeline panicked: %v", r))
		o.locks.ReleaseByJob(jobID)
	}
}

// isCancelled checks the durable record for cooperative cancellation.
func (o *Orchestrator) isCancelled(jobID string) bool {
	job, err := o.jobs.Get(jobID)
	if err != nil {
		return false
	}
	return job.Status == jobs.StatusCancelled
}

// scopeForSchemes builds a stable lock scope from a scheme set.
func scopeForSchemes(schemeCodes []string) string {
	sorted := append([]string(nil), schemeCodes...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// mergeSummary folds one chunk's result summary into the parent aggregate.
func mergeSummary(dst *jobs.ResultSummary, src *jobs.ResultSummary) {
	dst.TotalRecords += src.TotalRecords
	dst.Inserted += src.Inserted
	dst.Updated += src.Updated
	dst.Failed += src.Failed
	dst.SchemeErrors = append(dst.SchemeErrors, src.SchemeErrors...)
}
