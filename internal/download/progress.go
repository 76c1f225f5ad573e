package download

import (
	"sync"
	"time"

	"github.com/aristath/navhub/internal/modules/jobs"
)

// progressGCDelay is how long terminal snapshots stay queryable before
// being garbage-collected.
const progressGCDelay = 5 * time.Minute

// Snapshot is the pollable progress state of one job.
type Snapshot struct {
	JobID        string            `json:"job_id"`
	Status       jobs.Status       `json:"status"`
	Percent      int               `json:"percent"`
	Step         string            `json:"step"`
	Processed    int               `json:"processed"`
	Total        int               `json:"total"`
	SchemeErrors map[string]string `json:"scheme_errors,omitempty"`
	StartedAt    time.Time         `json:"started_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ETA          *time.Time        `json:"eta,omitempty"`
}

// ChunkError records a failed chunk inside a sequential download.
type ChunkError struct {
	ChunkNumber int    `json:"chunk_number"`
	Message     string `json:"message"`
}

// SequentialSnapshot is the pollable progress state of a chunked parent job.
type SequentialSnapshot struct {
	ParentJobID         string       `json:"parent_job_id"`
	TotalChunks         int          `json:"total_chunks"`
	CompletedChunks     int          `json:"completed_chunks"`
	ChunkErrors         []ChunkError `json:"chunk_errors,omitempty"`
	Status              jobs.Status  `json:"status"`
	StartedAt           time.Time    `json:"started_at"`
	EstimatedCompletion *time.Time   `json:"estimated_completion,omitempty"`
}

// Tracker owns the process-local progress tables. All access is mutex-guarded
// so concurrent chunk workers and pollers never observe lost updates.
type Tracker struct {
	mu      sync.Mutex
	snaps   map[string]*Snapshot
	seq     map[string]*SequentialSnapshot
	gcDelay time.Duration
}

// NewTracker creates a progress tracker with the default GC delay.
func NewTracker() *Tracker {
	return &Tracker{
		snaps:   make(map[string]*Snapshot),
		seq:     make(map[string]*SequentialSnapshot),
		gcDelay: progressGCDelay,
	}
}

// NewTrackerWithGCDelay creates a tracker with a custom terminal-state GC
// delay. Used by tests.
func NewTrackerWithGCDelay(delay time.Duration) *Tracker {
	t := NewTracker()
	t.gcDelay = delay
	return t
}

// Start registers a fresh snapshot for a job in pending state.
func (t *Tracker) Start(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.snaps[jobID] = &Snapshot{
		JobID:     jobID,
		Status:    jobs.StatusPending,
		Step:      "Queued",
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Update advances a job's progress. The percentage is monotonic while the
// job is running: a lower value than the current one is ignored.
func (t *Tracker) Update(jobID string, percent int, step string, processed, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snaps[jobID]
	if !ok {
		return
	}

	now := time.Now()
	if percent > snap.Percent {
		snap.Percent = percent
	}
	if step != "" {
		snap.Step = step
	}
	snap.Processed = processed
	snap.Total = total
	snap.UpdatedAt = now

	// ETA extrapolated from progress so far
	if snap.Percent > 0 && snap.Percent < 100 {
		elapsed := now.Sub(snap.StartedAt)
		remaining := time.Duration(float64(elapsed) / float64(snap.Percent) * float64(100-snap.Percent))
		eta := now.Add(remaining)
		snap.ETA = &eta
	} else {
		snap.ETA = nil
	}
}

// SetStatus moves a job's snapshot to a new status. Terminal statuses pin
// the percentage (100 for completed) and schedule garbage collection.
func (t *Tracker) SetStatus(jobID string, status jobs.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snaps[jobID]
	if !ok {
		return
	}

	snap.Status = status
	snap.UpdatedAt = time.Now()
	snap.ETA = nil
	if status == jobs.StatusCompleted || status == jobs.StatusCompletedWithErrors {
		snap.Percent = 100
	}

	if status.IsTerminal() {
		t.scheduleGCLocked(jobID)
	}
}

// AddSchemeError records a per-scheme failure on a snapshot.
func (t *Tracker) AddSchemeError(jobID, schemeCode, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snaps[jobID]
	if !ok {
		return
	}
	if snap.SchemeErrors == nil {
		snap.SchemeErrors = make(map[string]string)
	}
	if _, seen := snap.SchemeErrors[schemeCode]; !seen {
		snap.SchemeErrors[schemeCode] = message
	}
	snap.UpdatedAt = time.Now()
}

// Get returns a copy of a job's snapshot.
func (t *Tracker) Get(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap, ok := t.snaps[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return copySnapshot(snap), true
}

// Active returns snapshots of all jobs not yet garbage-collected and not in
// a terminal state.
func (t *Tracker) Active() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Snapshot, 0, len(t.snaps))
	for _, snap := range t.snaps {
		if snap.Status.IsTerminal() {
			continue
		}
		out = append(out, copySnapshot(snap))
	}
	return out
}

// StartSequential registers progress for a chunked parent job.
func (t *Tracker) StartSequential(parentID string, totalChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq[parentID] = &SequentialSnapshot{
		ParentJobID: parentID,
		TotalChunks: totalChunks,
		Status:      jobs.StatusRunning,
		StartedAt:   time.Now(),
	}
}

// ChunkCompleted advances a parent's completed-chunk count and re-estimates
// completion from the average time per completed chunk.
func (t *Tracker) ChunkCompleted(parentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.seq[parentID]
	if !ok {
		return
	}

	seq.CompletedChunks++
	if seq.CompletedChunks > 0 && seq.CompletedChunks < seq.TotalChunks {
		elapsed := time.Since(seq.StartedAt)
		perChunk := elapsed / time.Duration(seq.CompletedChunks)
		est := time.Now().Add(perChunk * time.Duration(seq.TotalChunks-seq.CompletedChunks))
		seq.EstimatedCompletion = &est
	} else {
		seq.EstimatedCompletion = nil
	}
}

// ChunkFailed records a chunk-level error on a parent. The failed chunk still
// counts as processed for estimation purposes.
func (t *Tracker) ChunkFailed(parentID string, chunkNumber int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.seq[parentID]
	if !ok {
		return
	}
	seq.ChunkErrors = append(seq.ChunkErrors, ChunkError{ChunkNumber: chunkNumber, Message: message})
	seq.CompletedChunks++
}

// FinishSequential moves a parent's sequential progress to a terminal status
// and schedules garbage collection.
func (t *Tracker) FinishSequential(parentID string, status jobs.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.seq[parentID]
	if !ok {
		return
	}
	seq.Status = status
	seq.EstimatedCompletion = nil
	t.scheduleGCLocked(parentID)
}

// GetSequential returns a copy of a parent's sequential snapshot.
func (t *Tracker) GetSequential(parentID string) (SequentialSnapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seq, ok := t.seq[parentID]
	if !ok {
		return SequentialSnapshot{}, false
	}
	out := *seq
	out.ChunkErrors = append([]ChunkError(nil), seq.ChunkErrors...)
	return out, true
}

// scheduleGCLocked arranges removal of a job's progress records after the
// GC delay. Caller must hold t.mu.
func (t *Tracker) scheduleGCLocked(jobID string) {
	time.AfterFunc(t.gcDelay, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.snaps, jobID)
		delete(t.seq, jobID)
	})
}

func copySnapshot(snap *Snapshot) Snapshot {
	out := *snap
	if snap.SchemeErrors != nil {
		out.SchemeErrors = make(map[string]string, len(snap.SchemeErrors))
		for k, v := range snap.SchemeErrors {
			out.SchemeErrors[k] = v
		}
	}
	return out
}
