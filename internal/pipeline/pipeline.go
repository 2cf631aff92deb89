// Package pipeline runs the describe-then-generate composite: a description
// stage whose text output is length-budgeted into the prompt of an ordinary
// generation job. Each stage is persisted as its own chat message.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"genstudio/internal/attachments"
	"genstudio/internal/catalog"
	"genstudio/internal/domain"
	"genstudio/internal/domain/jsoncfg"
	"genstudio/internal/infra"
	"genstudio/internal/jobs"
	"genstudio/internal/payload"
	"genstudio/internal/providers/describe"
)

// State is the lifecycle of a pipeline run.
type State string

const (
	StateDescribing State = "describing"
	StateGenerating State = "generating"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
	StateAborted    State = "aborted"
	StateCancelled  State = "cancelled"
)

func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateAborted || s == StateCancelled
}

// Options wires the pipeline's collaborators.
type Options struct {
	Catalog     *catalog.Catalog
	Describer   describe.Describer
	Runner      *jobs.Runner
	Store       domain.SessionStore
	PromptLimit int
	Logger      *infra.Logger
}

// Pipeline starts composite runs.
type Pipeline struct {
	catalog     *catalog.Catalog
	describer   describe.Describer
	runner      *jobs.Runner
	store       domain.SessionStore
	promptLimit int
	logger      *infra.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup
	mu   sync.Mutex
	runs map[string]*Run
}

func New(opts Options) *Pipeline {
	cat := opts.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	limit := opts.PromptLimit
	if limit <= 0 {
		limit = payload.DefaultPromptLimit
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	base, stop := context.WithCancel(context.Background())
	return &Pipeline{
		catalog:     cat,
		describer:   opts.Describer,
		runner:      opts.Runner,
		store:       opts.Store,
		promptLimit: limit,
		logger:      logger,
		base:        base,
		stop:        stop,
		runs:        make(map[string]*Run),
	}
}

// Run is a handle on one composite execution.
type Run struct {
	ID                string
	ChatID            string
	ModelID           string
	DescribeMessageID string

	mu                sync.Mutex
	state             State
	description       string
	generateMessageID string
	job               *jobs.Job
	err               error

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	runner   *jobs.Runner
}

// RunSnapshot is a point-in-time view of a Run.
type RunSnapshot struct {
	ID                string
	ChatID            string
	ModelID           string
	State             State
	Description       string
	DescribeMessageID string
	GenerateMessageID string
	JobID             string
	Err               error
}

func (r *Run) Snapshot() RunSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RunSnapshot{
		ID:                r.ID,
		ChatID:            r.ChatID,
		ModelID:           r.ModelID,
		State:             r.state,
		Description:       r.description,
		DescribeMessageID: r.DescribeMessageID,
		GenerateMessageID: r.generateMessageID,
		Err:               r.err,
	}
	if r.job != nil {
		s.JobID = r.job.ID()
	}
	return s
}

// Done is closed when the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run is terminal or ctx ends.
func (r *Run) Wait(ctx context.Context) (RunSnapshot, error) {
	select {
	case <-r.done:
		return r.Snapshot(), nil
	case <-ctx.Done():
		return r.Snapshot(), ctx.Err()
	}
}

// Cancel stops the run in whichever stage it is.
func (r *Run) Cancel() {
	r.mu.Lock()
	job := r.job
	r.mu.Unlock()
	if job != nil {
		r.runner.CancelJob(job)
	}
	r.cancel()
}

func (r *Run) finish(state State, err error) bool {
	r.mu.Lock()
	if r.state.Terminal() {
		r.mu.Unlock()
		return false
	}
	r.state = state
	r.err = err
	r.mu.Unlock()
	r.doneOnce.Do(func() { close(r.done) })
	return true
}

// CheckModel reports whether m can run the pipeline: it needs at least one
// image slot and no required slot of another media kind.
func CheckModel(m *catalog.Model) error {
	capacity := 0
	for _, s := range m.Slots {
		if s.Media == catalog.MediaImage {
			capacity += s.MaxCount
			continue
		}
		if s.Required {
			return &domain.IncompatibleModeError{ModelID: m.ID, Reason: fmt.Sprintf("requires %s slot %q", s.Media, s.Name)}
		}
	}
	if capacity == 0 {
		return &domain.IncompatibleModeError{ModelID: m.ID, Reason: "model accepts no reference images"}
	}
	return nil
}

// Compose appends as much of the description as fits into limit characters
// after the base prompt. The base prompt is never cut; Prepare rejects one
// that is already over the limit.
func Compose(base, description string, limit int) string {
	return base + truncate(description, limit-utf8.RuneCountInString(base))
}

func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// assign distributes refs over the model's image slots in schema order.
func assign(m *catalog.Model, refs []string) (domain.Attachments, error) {
	state := attachments.Empty(m)
	rest := refs
	for _, s := range m.Slots {
		if s.Media != catalog.MediaImage || len(rest) == 0 {
			continue
		}
		n := min(s.MaxCount, len(rest))
		for i := 0; i < n; i++ {
			var err error
			if state, err = attachments.SetSlot(m, state, s.Name, i, rest[i]); err != nil {
				return nil, err
			}
		}
		rest = rest[n:]
	}
	if len(rest) > 0 {
		return nil, &domain.ValidationError{Field: "references", Reason: fmt.Sprintf("model %s accepts %d fewer reference images", m.ID, len(rest))}
	}
	return state, nil
}

// Plan is a validated pipeline request, ready to launch.
type Plan struct {
	Model  *catalog.Model
	Config jsoncfg.PipelineJSON
	state  domain.Attachments
}

// Prepare runs every local check: model compatibility, reference count and
// capacity, parameter domains and the base prompt length. It has no side
// effects.
func (p *Pipeline) Prepare(modelID string, cfg jsoncfg.PipelineJSON) (*Plan, error) {
	m, err := p.catalog.Get(modelID)
	if err != nil {
		return nil, err
	}
	if err := CheckModel(m); err != nil {
		return nil, err
	}
	cfg.References = append([]string(nil), cfg.References...)
	cfg.Normalize("")
	if err := cfg.Validate(); err != nil {
		return nil, &domain.ValidationError{Field: "pipeline", Reason: err.Error()}
	}
	state, err := assign(m, cfg.References)
	if err != nil {
		return nil, err
	}
	probe := domain.GenerationRequest{
		ModelID:     m.ID,
		PromptText:  Compose(cfg.BasePrompt, "x", p.promptLimit),
		Ratio:       cfg.Ratio,
		Duration:    cfg.Duration,
		Attachments: state,
	}
	if err := payload.Validate(m, probe, p.promptLimit); err != nil {
		return nil, err
	}
	return &Plan{Model: m, Config: cfg, state: state}, nil
}

// Start prepares and launches a run in one step.
func (p *Pipeline) Start(ctx context.Context, chatID, modelID string, cfg jsoncfg.PipelineJSON) (*Run, error) {
	plan, err := p.Prepare(modelID, cfg)
	if err != nil {
		return nil, err
	}
	return p.Launch(ctx, chatID, plan)
}

// Launch persists the description-stage message into chatID and runs both
// stages in the background.
func (p *Pipeline) Launch(ctx context.Context, chatID string, plan *Plan) (*Run, error) {
	if p.describer == nil || p.runner == nil || p.store == nil {
		return nil, errors.New("pipeline: not configured")
	}
	m, cfg := plan.Model, plan.Config
	now := time.Now().UTC()
	describeMsg := domain.ChatMessage{
		ChatID:      chatID,
		Role:        domain.RoleAssistant,
		Attachments: append([]string(nil), cfg.References...),
		Status:      domain.StatusRunning,
		Cost:        &domain.CostMeta{ModelID: m.ID},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	describeID, err := p.store.AddMessage(ctx, chatID, describeMsg)
	if err != nil {
		return nil, fmt.Errorf("pipeline: persist description message: %w", err)
	}

	runCtx, cancel := context.WithCancel(p.base)
	run := &Run{
		ID:                uuid.NewString(),
		ChatID:            chatID,
		ModelID:           m.ID,
		DescribeMessageID: describeID,
		state:             StateDescribing,
		cancel:            cancel,
		done:              make(chan struct{}),
		runner:            p.runner,
	}
	p.mu.Lock()
	p.runs[run.ID] = run
	p.mu.Unlock()

	p.wg.Add(1)
	go p.execute(runCtx, run, m, cfg, plan.state)
	return run, nil
}

// Get returns a run that has not finished yet.
func (p *Pipeline) Get(id string) (*Run, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.runs[id]
	return r, ok
}

// Shutdown cancels every unfinished run and waits for them.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	runs := make([]*Run, 0, len(p.runs))
	for _, r := range p.runs {
		runs = append(runs, r)
	}
	p.mu.Unlock()
	for _, r := range runs {
		r.Cancel()
	}
	p.stop()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) execute(ctx context.Context, run *Run, m *catalog.Model, cfg jsoncfg.PipelineJSON, state domain.Attachments) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.runs, run.ID)
		p.mu.Unlock()
		run.cancel()
	}()
	logger := p.logger.With().
		Str("run_id", run.ID).
		Str("session_id", run.ChatID).
		Str("model", m.ID).
		Logger()

	res, err := p.describer.Describe(ctx, describe.Request{
		Instruction: cfg.Instruction,
		ImageURIs:   cfg.References,
		Locale:      cfg.Locale,
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if ctx.Err() != nil {
			p.patch(logger, run.ChatID, run.DescribeMessageID, failedPatch(domain.StatusCancelled, domain.ErrCancelled))
			run.finish(StateCancelled, domain.ErrCancelled)
			logger.Info().Msg("pipeline: cancelled during description")
			return
		}
		abort := &domain.PipelineAbortError{Cause: err}
		p.patch(logger, run.ChatID, run.DescribeMessageID, failedPatch(domain.StatusFailed, abort))
		run.finish(StateAborted, abort)
		logger.Warn().Err(err).Msg("pipeline: description failed, generation skipped")
		return
	}

	text := res.Text
	succeeded := domain.StatusSucceeded
	p.patch(logger, run.ChatID, run.DescribeMessageID, domain.MessagePatch{
		Status:  &succeeded,
		Content: &text,
		Cost: &domain.CostMeta{
			ModelID:          res.Model,
			Provider:         res.Provider,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
	})

	req := domain.GenerationRequest{
		ModelID:     m.ID,
		PromptText:  Compose(cfg.BasePrompt, res.Text, p.promptLimit),
		Ratio:       cfg.Ratio,
		Duration:    cfg.Duration,
		Attachments: state,
	}
	if err := payload.Validate(m, req, p.promptLimit); err != nil {
		p.rejectGeneration(ctx, logger, run, m, req, res.Text, err)
		return
	}
	body, err := payload.Build(m, req)
	if err != nil {
		run.mu.Lock()
		run.description = res.Text
		run.mu.Unlock()
		run.finish(StateFailed, err)
		logger.Error().Err(err).Msg("pipeline: build generation request")
		return
	}
	ratio, duration := req.Ratio, req.Duration
	if !m.HasRatio(ratio) {
		ratio = m.DefaultRatio()
	}
	if !m.HasDuration(duration) {
		duration = m.DefaultDuration()
	}
	now := time.Now().UTC()
	genMsg := domain.ChatMessage{
		ChatID:      run.ChatID,
		Role:        domain.RoleAssistant,
		Content:     req.PromptText,
		Attachments: attachments.Flatten(m, state),
		Status:      domain.StatusQueued,
		Cost:        &domain.CostMeta{Credits: m.Cost(ratio, duration), ModelID: m.ID, Ratio: ratio, Duration: duration},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	genID, err := p.store.AddMessage(ctx, run.ChatID, genMsg)
	if err != nil {
		if ctx.Err() != nil {
			run.finish(StateCancelled, domain.ErrCancelled)
			return
		}
		run.finish(StateFailed, fmt.Errorf("pipeline: persist generation message: %w", err))
		logger.Error().Err(err).Msg("pipeline: persist generation message")
		return
	}

	job := p.runner.Start(m.ID, body, jobs.NewMessageWriter(p.store, run.ChatID, genID, p.logger))
	run.mu.Lock()
	run.description = res.Text
	run.generateMessageID = genID
	run.job = job
	run.state = StateGenerating
	run.mu.Unlock()
	logger.Info().Str("job_id", job.ID()).Msg("pipeline: generation started")

	if ctx.Err() != nil {
		p.runner.CancelJob(job)
	}
	<-job.Done()
	snap := job.Snapshot()
	switch snap.State {
	case domain.JobSucceeded:
		run.finish(StateSucceeded, nil)
	case domain.JobCancelled:
		run.finish(StateCancelled, snap.Err)
	default:
		run.finish(StateFailed, snap.Err)
	}
}

// rejectGeneration records a Stage B request that failed local validation as
// a failed generation message. Nothing is submitted.
func (p *Pipeline) rejectGeneration(ctx context.Context, logger zerolog.Logger, run *Run, m *catalog.Model, req domain.GenerationRequest, description string, cause error) {
	now := time.Now().UTC()
	msg := domain.ChatMessage{
		ChatID:      run.ChatID,
		Role:        domain.RoleAssistant,
		Content:     req.PromptText,
		Attachments: attachments.Flatten(m, req.Attachments),
		Status:      domain.StatusFailed,
		Cost:        &domain.CostMeta{ModelID: m.ID},
		ErrorCode:   domain.ErrorCode(cause),
		Error:       cause.Error(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	genID, err := p.store.AddMessage(ctx, run.ChatID, msg)
	if err != nil {
		logger.Warn().Err(err).Msg("pipeline: persist rejected generation message")
	}
	run.mu.Lock()
	run.description = description
	run.generateMessageID = genID
	run.mu.Unlock()
	run.finish(StateFailed, cause)
	logger.Warn().Err(cause).Msg("pipeline: generation request rejected")
}

func failedPatch(status domain.MessageStatus, err error) domain.MessagePatch {
	code := domain.ErrorCode(err)
	msg := err.Error()
	return domain.MessagePatch{Status: &status, ErrorCode: &code, Error: &msg}
}

func (p *Pipeline) patch(logger zerolog.Logger, chatID, messageID string, patch domain.MessagePatch) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.UpdateMessage(ctx, chatID, messageID, patch); err != nil {
		logger.Warn().Err(err).Str("message_id", messageID).Msg("pipeline: persist message failed")
	}
}
