// ABOUTME: FIFO job queue with single in-flight job and in-place coalescing
// ABOUTME: A queued job for the same target is replaced, keeping its position

package history

import "sync"

// queue serializes job execution. start runs each promoted job on the
// caller's goroutine chain; the job must call finish exactly once.
type queue struct {
	start func(*Job)

	mu      sync.Mutex
	jobs    []*Job
	running *Job
}

func newQueue(start func(*Job)) *queue {
	return &queue{start: start}
}

// enqueue adds a job, or replaces a queued job with the same key. The
// in-flight job is never replaced; a same-key job queued behind it will
// run after it completes.
func (q *queue) enqueue(job *Job) {
	q.mu.Lock()
	for i, queued := range q.jobs {
		if queued.key() == job.key() {
			q.jobs[i] = job
			q.mu.Unlock()
			return
		}
	}
	q.jobs = append(q.jobs, job)
	kick := q.running == nil
	if kick {
		q.running = job
		q.jobs = q.jobs[:len(q.jobs)-1]
	}
	q.mu.Unlock()
	if kick {
		q.start(job)
	}
}

// finish marks the in-flight job done and promotes the next one.
func (q *queue) finish(job *Job) {
	q.mu.Lock()
	if q.running != job {
		q.mu.Unlock()
		return
	}
	q.running = nil
	var next *Job
	if len(q.jobs) > 0 {
		next = q.jobs[0]
		q.jobs = q.jobs[1:]
		q.running = next
	}
	q.mu.Unlock()
	if next != nil {
		q.start(next)
	}
}

// depth reports how many jobs are waiting (excluding in-flight).
func (q *queue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}
