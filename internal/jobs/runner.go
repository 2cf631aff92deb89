package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/payload"
)

// DefaultPollInterval is the delay between two status queries.
const DefaultPollInterval = 2 * time.Second

// Provider is the generation backend.
type Provider interface {
	Submit(ctx context.Context, endpoint string, body any) (string, error)
	Status(ctx context.Context, remoteID string) (domain.TaskStatus, error)
}

// Canceller is implemented by providers that support remote cancellation.
type Canceller interface {
	Cancel(ctx context.Context, remoteID string) error
}

// Resolver turns remote output references into locally usable ones. It must
// return one entry per input, keeping the original on failure.
type Resolver interface {
	Resolve(ctx context.Context, jobID string, outputs []string) []string
}

type passthrough struct{}

func (passthrough) Resolve(_ context.Context, _ string, outputs []string) []string { return outputs }

// Options configures a Runner.
type Options struct {
	Interval    time.Duration
	MaxAttempts int
	Resolver    Resolver
	Observers   []Observer
	Logger      *infra.Logger
}

// Runner starts jobs and keeps track of the ones still running.
type Runner struct {
	provider    Provider
	interval    time.Duration
	maxAttempts int
	resolver    Resolver
	observers   []Observer
	logger      *infra.Logger

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	active map[string]*Job
}

// NewRunner constructs a Runner. A zero MaxAttempts polls until the remote
// task is terminal or the job is cancelled.
func NewRunner(provider Provider, opts Options) *Runner {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = passthrough{}
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	base, stop := context.WithCancel(context.Background())
	return &Runner{
		provider:    provider,
		interval:    interval,
		maxAttempts: opts.MaxAttempts,
		resolver:    resolver,
		observers:   opts.Observers,
		logger:      logger,
		base:        base,
		stop:        stop,
		active:      make(map[string]*Job),
	}
}

// Start creates a job for req and runs it in the background. The job's life
// is independent of the caller's context.
func (r *Runner) Start(modelID string, req payload.Request, observers ...Observer) *Job {
	obs := append(append([]Observer(nil), r.observers...), observers...)
	j := newJob(uuid.NewString(), modelID, req, obs)
	ctx, cancel := context.WithCancel(r.base)
	j.cancel = cancel

	r.mu.Lock()
	r.active[j.id] = j
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx, j)
	return j
}

// Get returns a running job by local id.
func (r *Runner) Get(id string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.active[id]
	return j, ok
}

// Cancel stops a running job. Local state becomes Cancelled immediately; the
// remote task is cancelled on a best-effort basis.
func (r *Runner) Cancel(id string) error {
	j, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("jobs: %s: %w", id, domain.ErrNotFound)
	}
	r.CancelJob(j)
	return nil
}

// CancelJob is Cancel for a job handle.
func (r *Runner) CancelJob(j *Job) {
	if j.markCancelled() {
		r.logger.Info().Str("job_id", j.id).Msg("jobs: cancelled")
	}
	if j.cancel != nil {
		j.cancel()
	}
}

// Shutdown cancels every running job and waits for their loops to exit.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	running := make([]*Job, 0, len(r.active))
	for _, j := range r.active {
		running = append(running, j)
	}
	r.mu.Unlock()
	for _, j := range running {
		r.CancelJob(j)
	}
	r.stop()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) run(ctx context.Context, j *Job) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.active, j.id)
		r.mu.Unlock()
		j.cancel()
	}()

	j.mutate(EventState, func() bool { return true })
	logger := r.logger.With().Str("job_id", j.id).Str("model", j.modelID).Logger()

	remoteID, err := r.provider.Submit(ctx, string(j.request.Endpoint), j.request.Body)
	if err != nil {
		if ctx.Err() != nil {
			j.markCancelled()
			return
		}
		var sub *domain.SubmissionError
		if !errors.As(err, &sub) {
			err = &domain.SubmissionError{Cause: err}
		}
		logger.Warn().Err(err).Msg("jobs: submission failed")
		j.fail(err)
		return
	}
	logger = logger.With().Str("remote_id", remoteID).Logger()
	if !j.advance(domain.JobSubmitted, remoteID) {
		r.cancelRemote(logger, remoteID)
		return
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
		case <-ticker.C:
		}
		if ctx.Err() != nil || j.terminal() {
			j.markCancelled()
			r.cancelRemote(logger, remoteID)
			return
		}
		j.advance(domain.JobPolling, "")
		if done := r.poll(ctx, logger, j, remoteID); done {
			return
		}
	}
}

// poll performs one status query. It reports true once the loop must stop.
func (r *Runner) poll(ctx context.Context, logger zerolog.Logger, j *Job, remoteID string) bool {
	st, err := r.provider.Status(ctx, remoteID)
	if ctx.Err() != nil {
		return false
	}
	if err != nil {
		if !errors.Is(err, domain.ErrNetwork) {
			logger.Error().Err(err).Msg("jobs: status query failed")
			j.fail(err)
			return true
		}
		logger.Warn().Err(err).Msg("jobs: status query failed, retrying next tick")
		j.tick(nil)
		return r.exhausted(logger, j)
	}

	switch st.Phase {
	case domain.TaskSucceeded:
		if len(st.Output) == 0 {
			j.fail(&domain.RemoteTaskError{Reason: "task succeeded without output"})
			return true
		}
		output := r.resolver.Resolve(ctx, j.id, st.Output)
		if j.succeed(output) {
			logger.Info().Int("outputs", len(output)).Msg("jobs: succeeded")
		}
		return true
	case domain.TaskFailed:
		err := &domain.RemoteTaskError{Reason: st.Failure, Code: st.FailureCode}
		if j.fail(err) {
			logger.Warn().Err(err).Msg("jobs: remote task failed")
		}
		return true
	default:
		if !j.tick(st.Progress) {
			return false
		}
		return r.exhausted(logger, j)
	}
}

func (r *Runner) exhausted(logger zerolog.Logger, j *Job) bool {
	if r.maxAttempts <= 0 {
		return false
	}
	if j.Snapshot().Attempts < r.maxAttempts {
		return false
	}
	logger.Warn().Int("attempts", r.maxAttempts).Msg("jobs: poll limit reached")
	j.fail(fmt.Errorf("jobs: %d attempts: %w", r.maxAttempts, domain.ErrPollLimit))
	return true
}

func (r *Runner) cancelRemote(logger zerolog.Logger, remoteID string) {
	c, ok := r.provider.(Canceller)
	if !ok || remoteID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Cancel(ctx, remoteID); err != nil {
		logger.Warn().Err(err).Msg("jobs: remote cancel failed")
	}
}
