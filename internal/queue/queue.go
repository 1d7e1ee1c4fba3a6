// Package queue is the sole authority on pending-order and per-job state: a
// concurrent map from job id to job guarded by a reader/writer lock, plus a
// priority max-heap of pending tokens guarded by its own single-writer
// lock, matching §5's "no long-held locks span an external-process call."
package queue

import (
	"container/heap"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/gwlsn/transcoder/internal/job"
	"github.com/gwlsn/transcoder/internal/taxonomy"
)

// Queue holds every job the orchestrator knows about and the pending
// dispatch order. The zero value is not usable; use New.
type Queue struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*job.Job

	heapMu  sync.Mutex
	pending tokenHeap
}

// New constructs an empty queue.
func New() *Queue {
	return &Queue{
		jobs: make(map[uuid.UUID]*job.Job),
	}
}

// AddJob inserts j as Pending and pushes its dispatch token. Rejects with
// JobAlreadyExists if the id collides, InvalidInput if InputPath does not
// exist on disk, InvalidOutput if OutputPath's directory does not exist
// (the output path cannot be constructed). Safe for concurrent use.
func (q *Queue) AddJob(j *job.Job) error {
	if _, err := os.Stat(j.InputPath); err != nil {
		return taxonomy.New(taxonomy.InvalidInput, "input path does not exist: %s", j.InputPath)
	}

	if dir := filepath.Dir(j.OutputPath); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return taxonomy.New(taxonomy.InvalidOutput, "output directory does not exist: %s", dir)
		}
	}

	q.mu.Lock()
	if _, exists := q.jobs[j.ID]; exists {
		q.mu.Unlock()
		return taxonomy.New(taxonomy.JobAlreadyExists, "%s", j.ID)
	}
	j.Status = job.Pending
	stored := j.Copy()
	q.jobs[j.ID] = stored
	q.mu.Unlock()

	q.heapMu.Lock()
	heap.Push(&q.pending, &token{jobID: j.ID, priority: j.Priority, createdAt: j.CreatedAt})
	q.heapMu.Unlock()

	return nil
}

// GetNextJob pops the highest-priority pending token and returns the id of
// the job it names, provided that job is still Pending. Stale tokens
// (jobs already cancelled, removed, or previously dispatched) are
// discarded and the search continues. Returns false when no Pending job
// remains; this is the single source of truth for dispatch, so each
// Pending job is returned at most once across all concurrent callers.
func (q *Queue) GetNextJob() (uuid.UUID, bool) {
	for {
		q.heapMu.Lock()
		if q.pending.Len() == 0 {
			q.heapMu.Unlock()
			return uuid.UUID{}, false
		}
		t := heap.Pop(&q.pending).(*token)
		q.heapMu.Unlock()

		q.mu.RLock()
		j, ok := q.jobs[t.jobID]
		stillPending := ok && j.Status == job.Pending
		q.mu.RUnlock()

		if stillPending {
			return t.jobID, true
		}
		// stale token: job gone, cancelled, or already dispatched; keep looking
	}
}

// GetJob returns a snapshot copy of the job with the given id.
func (q *Queue) GetJob(id uuid.UUID) (*job.Job, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	j, ok := q.jobs[id]
	if !ok {
		return nil, false
	}
	return j.Copy(), true
}

// UpdateJob overwrites the stored state for j.ID. Requires the id to
// already exist.
func (q *Queue) UpdateJob(j *job.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[j.ID]; !ok {
		return taxonomy.New(taxonomy.JobNotFound, "%s", j.ID)
	}
	q.jobs[j.ID] = j.Copy()
	return nil
}

// TryStartJob atomically transitions id from Pending to Running and returns
// the updated snapshot. It reports ok=false without mutating anything if the
// job is missing or no longer Pending — in particular if a CancelJob call
// landed between GetNextJob's pop and the worker reaching this point. This
// closes that dispatch-vs-cancel race with a single lock acquisition instead
// of the read-then-write (GetJob, then Start, then UpdateJob) sequence a
// worker would otherwise need, which could silently overwrite a concurrent
// cancellation.
func (q *Queue) TryStartJob(id uuid.UUID) (*job.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok || j.Status != job.Pending {
		return nil, false
	}
	j.Start()
	q.jobs[id] = j.Copy()
	return j.Copy(), true
}

// CancelJob atomically transitions a stored job to Cancelled, unless it has
// already reached a terminal status. For a still-Pending job this is
// sufficient: GetNextJob will observe the non-Pending status and discard
// its token. For a Running job, cancellation is advisory per §5; the
// worker pool additionally threads a cancellation token into the driver
// (see worker package) to actually interrupt the external process.
func (q *Queue) CancelJob(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return taxonomy.New(taxonomy.JobNotFound, "%s", id)
	}
	if j.IsFinished() {
		return nil
	}
	j.Cancel()
	return nil
}

// RemoveJob deletes a job outright, regardless of status.
func (q *Queue) RemoveJob(id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; !ok {
		return taxonomy.New(taxonomy.JobNotFound, "%s", id)
	}
	delete(q.jobs, id)
	return nil
}

// ClearCompleted removes every job in a terminal status and returns the
// count removed.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for id, j := range q.jobs {
		if j.IsFinished() {
			delete(q.jobs, id)
			n++
		}
	}
	return n
}

// GetAllJobs returns a snapshot of every job, in no particular order.
func (q *Queue) GetAllJobs() []*job.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*job.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Copy())
	}
	return out
}

// GetJobsByStatus returns a snapshot of every job currently in status s.
func (q *Queue) GetJobsByStatus(s job.Status) []*job.Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*job.Job, 0)
	for _, j := range q.jobs {
		if j.Status == s {
			out = append(out, j.Copy())
		}
	}
	return out
}

// Stats summarizes the queue's job counts by status.
type Stats struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
	Total     int
}

// GetStats returns current counts by status.
func (q *Queue) GetStats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var s Stats
	for _, j := range q.jobs {
		switch j.Status {
		case job.Pending:
			s.Pending++
		case job.Running:
			s.Running++
		case job.Completed:
			s.Completed++
		case job.Failed:
			s.Failed++
		case job.Cancelled:
			s.Cancelled++
		}
	}
	s.Total = len(q.jobs)
	return s
}
