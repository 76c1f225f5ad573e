package download

import (
	"sync"
	"time"

	"github.com/aristath/navhub/internal/domain"
	"github.com/aristath/navhub/internal/modules/jobs"
)

// LockKey identifies an exclusive download slot. At most one non-terminal
// job may hold a given key at any instant.
type LockKey struct {
	JobType     jobs.JobType
	TenantID    string
	Environment domain.Environment
	Scope       string
}

// LockInfo describes a held lock for observability queries.
type LockInfo struct {
	Key        LockKey
	JobID      string
	AcquiredAt time.Time
}

type lockEntry struct {
	jobID      string
	acquiredAt time.Time
}

// LockTable is the process-local table of exclusive download locks.
// It is constructor-injected state with the process lifetime, guarded by a
// mutex so racing triggers cannot both acquire the same key.
type LockTable struct {
	mu    sync.Mutex
	locks map[LockKey]lockEntry
}

// NewLockTable creates an empty lock table.
func NewLockTable() *LockTable {
	return &LockTable{locks: make(map[LockKey]lockEntry)}
}

// Acquire reserves a key. If the key is already held it returns false and
// the holding job's id; the caller must not start a duplicate job.
// A fresh reservation has no job id yet; callers attach one via SetHolder
// once the job record exists, or call Release if creation fails.
func (t *LockTable) Acquire(key LockKey) (bool, string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, held := t.locks[key]; held {
		return false, entry.jobID
	}

	t.locks[key] = lockEntry{acquiredAt: time.Now()}
	return true, ""
}

// SetHolder attaches the holding job id to a previously acquired key.
func (t *LockTable) SetHolder(key LockKey, jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, held := t.locks[key]; held {
		entry.jobID = jobID
		t.locks[key] = entry
	}
}

// Release frees a key.
func (t *LockTable) Release(key LockKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.locks, key)
}

// ReleaseByJob frees every key held by the given job id.
func (t *LockTable) ReleaseByJob(jobID string) {
	if jobID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for key, entry := range t.locks {
		if entry.jobID == jobID {
			delete(t.locks, key)
		}
	}
}

// Holder returns the job id holding a key, if any.
func (t *LockTable) Holder(key LockKey) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, held := t.locks[key]
	return entry.jobID, held
}

// Active returns all currently held locks.
func (t *LockTable) Active() []LockInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]LockInfo, 0, len(t.locks))
	for key, entry := range t.locks {
		out = append(out, LockInfo{Key: key, JobID: entry.jobID, AcquiredAt: entry.acquiredAt})
	}
	return out
}
