// Package jobs runs generation jobs: submission, sequential status polling
// and output resolution, with forward-only state transitions.
package jobs

import (
	"context"
	"sync"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/payload"
)

// EventKind tells observers why a snapshot was published.
type EventKind string

const (
	EventState    EventKind = "state"
	EventProgress EventKind = "progress"
)

// Snapshot is an immutable view of a job at one point in time.
type Snapshot struct {
	ID        string
	RemoteID  string
	ModelID   string
	State     domain.JobState
	Progress  *int
	Output    []string
	Err       error
	Attempts  int
	Event     EventKind
	UpdatedAt time.Time
}

// Observer receives every snapshot of a job in order. Implementations must
// not call back into the job's mutating methods.
type Observer interface {
	JobChanged(s Snapshot)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(s Snapshot)

func (f ObserverFunc) JobChanged(s Snapshot) { f(s) }

// Job is one submission of a generation request. It is owned by the Runner
// that created it.
type Job struct {
	id      string
	modelID string
	request payload.Request

	emitMu    sync.Mutex
	mu        sync.Mutex
	state     domain.JobState
	remoteID  string
	progress  *int
	output    []string
	err       error
	attempts  int
	updatedAt time.Time

	observers []Observer
	cancel    context.CancelFunc
	done      chan struct{}
	doneOnce  sync.Once
}

func newJob(id, modelID string, req payload.Request, observers []Observer) *Job {
	return &Job{
		id:        id,
		modelID:   modelID,
		request:   req,
		state:     domain.JobQueued,
		observers: observers,
		updatedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
}

func (j *Job) ID() string { return j.id }

// Snapshot returns the current state of the job.
func (j *Job) Snapshot() Snapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snapshotLocked(EventState)
}

// Done is closed once the terminal snapshot has been delivered to every observer.
func (j *Job) Done() <-chan struct{} { return j.done }

// Wait blocks until the job is terminal or ctx ends.
func (j *Job) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-j.done:
		return j.Snapshot(), nil
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

func (j *Job) snapshotLocked(kind EventKind) Snapshot {
	s := Snapshot{
		ID:        j.id,
		RemoteID:  j.remoteID,
		ModelID:   j.modelID,
		State:     j.state,
		Output:    append([]string(nil), j.output...),
		Err:       j.err,
		Attempts:  j.attempts,
		Event:     kind,
		UpdatedAt: j.updatedAt,
	}
	if j.progress != nil {
		p := *j.progress
		s.Progress = &p
	}
	return s
}

// mutate applies fn under the state lock and publishes the resulting
// snapshot when fn reports a change. Emission order matches mutation order.
func (j *Job) mutate(kind EventKind, fn func() bool) bool {
	j.emitMu.Lock()
	defer j.emitMu.Unlock()

	j.mu.Lock()
	if j.state.Terminal() || !fn() {
		j.mu.Unlock()
		return false
	}
	j.updatedAt = time.Now().UTC()
	snap := j.snapshotLocked(kind)
	terminal := j.state.Terminal()
	j.mu.Unlock()

	for _, o := range j.observers {
		o.JobChanged(snap)
	}
	if terminal {
		j.doneOnce.Do(func() { close(j.done) })
	}
	return true
}

// advance moves to a later non-terminal state.
func (j *Job) advance(next domain.JobState, remoteID string) bool {
	return j.mutate(EventState, func() bool {
		if !j.state.CanAdvance(next) {
			return false
		}
		j.state = next
		if remoteID != "" {
			j.remoteID = remoteID
		}
		return true
	})
}

func (j *Job) tick(progress *int) bool {
	return j.mutate(EventProgress, func() bool {
		j.attempts++
		if progress != nil {
			p := *progress
			j.progress = &p
		}
		return true
	})
}

func (j *Job) succeed(output []string) bool {
	return j.mutate(EventState, func() bool {
		j.state = domain.JobSucceeded
		j.output = append([]string(nil), output...)
		full := 100
		j.progress = &full
		return true
	})
}

func (j *Job) fail(err error) bool {
	return j.mutate(EventState, func() bool {
		j.state = domain.JobFailed
		j.err = err
		return true
	})
}

// markCancelled is the local, authoritative half of cancellation.
func (j *Job) markCancelled() bool {
	return j.mutate(EventState, func() bool {
		j.state = domain.JobCancelled
		j.err = domain.ErrCancelled
		return true
	})
}

func (j *Job) terminal() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state.Terminal()
}
