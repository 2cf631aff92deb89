// Package events fans job updates out to live subscribers.
package events

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/jobs"
)

// Kind names an event on the wire.
type Kind string

const (
	KindProgress Kind = "job.progress"
	KindState    Kind = "job.state"
	KindTerminal Kind = "job.terminal"
)

// Event is the JSON document sent to websocket clients and Redis.
type Event struct {
	Kind      Kind            `json:"type"`
	JobID     string          `json:"jobId"`
	RemoteID  string          `json:"remoteId,omitempty"`
	ModelID   string          `json:"model"`
	State     domain.JobState `json:"state"`
	Status    string          `json:"status"`
	Progress  *int            `json:"progress,omitempty"`
	Outputs   []string        `json:"outputs,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`
	Error     string          `json:"error,omitempty"`
	At        time.Time       `json:"at"`
}

// FromSnapshot converts a job snapshot into its wire event.
func FromSnapshot(s jobs.Snapshot) Event {
	ev := Event{
		Kind:     KindState,
		JobID:    s.ID,
		RemoteID: s.RemoteID,
		ModelID:  s.ModelID,
		State:    s.State,
		Status:   string(s.State.MessageStatus()),
		Progress: s.Progress,
		At:       s.UpdatedAt.UTC(),
	}
	switch {
	case s.State.Terminal():
		ev.Kind = KindTerminal
		ev.Outputs = s.Output
		if s.Err != nil {
			ev.ErrorCode = domain.ErrorCode(s.Err)
			ev.Error = s.Err.Error()
		}
	case s.Event == jobs.EventProgress:
		ev.Kind = KindProgress
	}
	return ev
}

// Sink receives events. Publish must not block for long; it runs on the
// job's goroutine.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus is a jobs.Observer that forwards every snapshot to its sinks.
type Bus struct {
	sinks   []Sink
	timeout time.Duration
	logger  *infra.Logger
}

func NewBus(logger *infra.Logger, sinks ...Sink) *Bus {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &Bus{sinks: sinks, timeout: 2 * time.Second, logger: logger}
}

func (b *Bus) JobChanged(s jobs.Snapshot) {
	ev := FromSnapshot(s)
	for _, sink := range b.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := sink.Publish(ctx, ev); err != nil {
			b.logger.Warn().Err(err).Str("job_id", ev.JobID).Str("type", string(ev.Kind)).Msg("events: publish failed")
		}
		cancel()
	}
}

var _ jobs.Observer = (*Bus)(nil)
