package worker

import (
	"sync"

	"github.com/cuongbtq/stem-splitter/internal/worker/domain"
)

// Queue is the FIFO of pending jobs. It also remembers the job the worker
// dequeued last, so a snapshot never loses a job between "pending" and
// "current". Every method takes the same lock.
type Queue struct {
	mu      sync.Mutex
	pending []domain.Job
	current *domain.Job
	ready   chan struct{}
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
	}
}

// Enqueue appends job to the tail and wakes a waiting worker
func (q *Queue) Enqueue(job domain.Job) {
	q.mu.Lock()
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Dequeue removes the head and marks it as current. ok is false when the queue is empty.
func (q *Queue) Dequeue() (job domain.Job, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return domain.Job{}, false
	}

	job = q.pending[0]
	q.pending[0] = domain.Job{}
	q.pending = q.pending[1:]

	current := job
	q.current = &current
	return job, true
}

// Remove drops the first pending job with jobID. The current job cannot be removed.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, job := range q.pending {
		if job.JobID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return true
		}
	}
	return false
}

// Finish clears the current marker if it still points at jobID
func (q *Queue) Finish(jobID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current != nil && q.current.JobID == jobID {
		q.current = nil
	}
}

// Len returns the number of pending jobs
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Snapshot copies the pending jobs and the current job
func (q *Queue) Snapshot() domain.QueueSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snapshot := domain.QueueSnapshot{
		Queue: make([]domain.Job, len(q.pending)),
	}
	copy(snapshot.Queue, q.pending)
	if q.current != nil {
		current := *q.current
		snapshot.Current = &current
	}
	return snapshot
}

// Ready is signalled after an Enqueue. One signal may cover several enqueues.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
