// Package progress implements the job-scoped event bus used to stream
// pipeline progress to any number of subscribers.
package progress

import (
	"sync"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// Registry maps job identifiers to their event history, live subscribers and
// cached final result. All job state lives in process memory; construct one
// Registry per server (or per test) and inject it where needed.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*job
	results map[string]any
}

type job struct {
	id      string
	history []model.Event
	subs    []*subscriber
	closed  bool
	done    chan struct{}
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs:    make(map[string]*job),
		results: make(map[string]any),
	}
}

// CreateJob initializes the subscription bucket for a job identifier.
// Reusing an identifier resets its history and drops any stale cached result.
func (r *Registry) CreateJob(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.jobs[id]; ok {
		for _, sub := range old.subs {
			sub.stop()
		}
	}
	r.jobs[id] = &job{id: id, done: make(chan struct{})}
	delete(r.results, id)
}

// Subscribe registers a new subscriber for a job and returns its event
// channel. The job's full history is queued ahead of any live event, so a
// subscriber joining mid-run or after closure sees every event exactly once.
// The channel is closed after the terminal job event when the job finalizes.
// Returns ok=false when the job was never created or already forgotten.
func (r *Registry) Subscribe(id string) (<-chan model.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, false
	}

	sub := newSubscriber()
	sub.pending = append(sub.pending, j.history...)
	if j.closed {
		sub.ended = true
	}
	j.subs = append(j.subs, sub)
	go sub.pump()

	return sub.out, true
}

// Publish appends an event to the job history and fans it out to all live
// subscribers. Publishing to an unknown or already-closed job is a no-op.
func (r *Registry) Publish(id string, ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.closed {
		return
	}
	j.history = append(j.history, ev)
	for _, sub := range j.subs {
		sub.enqueue(ev)
	}
}

// Finalize appends the closing job event, marks the job closed and signals
// stream end to every subscriber. Finalizing an unknown or already-closed
// job is a no-op, so a second call never duplicates the closing event.
func (r *Registry) Finalize(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.closed {
		return
	}
	closing := model.Event{Type: model.EventJob, JobID: id, JobStatus: model.JobClosed}
	j.history = append(j.history, closing)
	j.closed = true
	for _, sub := range j.subs {
		sub.enqueue(closing)
		sub.end()
	}
	close(j.done)
}

// SetResult caches the final result for a job. The cache is decoupled from
// the live job state so it can be polled after all subscribers disconnect.
func (r *Registry) SetResult(id string, result any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[id] = result
}

// GetResult returns the cached result for a job, if any.
func (r *Registry) GetResult(id string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result, ok := r.results[id]
	return result, ok
}

// Discard removes one subscriber channel from a job, typically on consumer
// disconnect. History and the cached result are unaffected. With a nil
// channel it purges all transient job state (history and subscribers) while
// keeping the cached result; use Forget to drop everything.
func (r *Registry) Discard(id string, ch <-chan model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return
	}
	if ch == nil {
		for _, sub := range j.subs {
			sub.stop()
		}
		delete(r.jobs, id)
		return
	}
	for i, sub := range j.subs {
		if (<-chan model.Event)(sub.out) == ch {
			j.subs = append(j.subs[:i], j.subs[i+1:]...)
			sub.stop()
			return
		}
	}
}

// Forget drops all state for a job, including the cached result.
func (r *Registry) Forget(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[id]; ok {
		for _, sub := range j.subs {
			sub.stop()
		}
		delete(r.jobs, id)
	}
	delete(r.results, id)
}

// Done returns a channel closed when the job finalizes. For unknown jobs it
// returns an already-closed channel.
func (r *Registry) Done(id string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j, ok := r.jobs[id]; ok {
		return j.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}
