package jobs

import (
	"container/heap"
	"context"
	"maps"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Queue holds jobs until they become due
type Queue interface {
	// Enqueue schedules job to become due at the given time
	Enqueue(ctx context.Context, job *Job, at time.Time) error
	// Next claims one due job, or returns nil when none is due
	Next(ctx context.Context) (*Job, error)
}

// MemoryQueue is an in-process Queue ordered by due time. Jobs are lost when
// the process exits.
type MemoryQueue struct {
	mu    sync.Mutex
	clock clock.Clock
	items dueHeap
	seq   uint64
}

func NewMemoryQueue(clk clock.Clock) *MemoryQueue {
	if clk == nil {
		clk = clock.New()
	}
	return &MemoryQueue{clock: clk}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *Job, at time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	c := *job
	c.Resolved = append([]string(nil), job.Resolved...)
	c.Deployed = maps.Clone(job.Deployed)
	q.seq++
	heap.Push(&q.items, &dueItem{job: &c, at: at, seq: q.seq})
	return nil
}

func (q *MemoryQueue) Next(ctx context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.items[0].at.After(q.clock.Now()) {
		return nil, nil
	}
	item := heap.Pop(&q.items).(*dueItem)
	return item.job, nil
}

// Len returns the number of queued jobs, due or not
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// NextDue returns the due time of the earliest job
func (q *MemoryQueue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].at, true
}

type dueItem struct {
	job *Job
	at  time.Time
	seq uint64
}

type dueHeap []*dueItem

func (h dueHeap) Len() int { return len(h) }
func (h dueHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}
func (h dueHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *dueHeap) Push(x any) { *h = append(*h, x.(*dueItem)) }
func (h *dueHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
