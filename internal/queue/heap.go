package queue

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
	"github.com/gwlsn/transcoder/internal/job"
)

// token is a pending-job entry in the priority heap. It may outlive the
// job it names (the job can be cancelled or removed); get-next-job
// discards stale tokens lazily at pop time rather than eagerly pruning the
// heap on cancellation.
type token struct {
	jobID     uuid.UUID
	priority  job.Priority
	createdAt time.Time
}

// tokenHeap implements container/heap.Interface as a max-heap on
// (priority, -createdAt): higher priority first, then earlier createdAt
// first (FIFO within a priority level).
type tokenHeap []*token

func (h tokenHeap) Len() int { return len(h) }

func (h tokenHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].createdAt.Before(h[j].createdAt)
}

func (h tokenHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *tokenHeap) Push(x any) {
	*h = append(*h, x.(*token))
}

func (h *tokenHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*tokenHeap)(nil)
