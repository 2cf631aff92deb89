// Package chat coordinates chat sessions: draft edits with asynchronous
// persistence, message history, and the submission of generation jobs and
// composite pipelines into an explicitly named session.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/attachments"
	"genstudio/internal/catalog"
	"genstudio/internal/domain"
	"genstudio/internal/domain/jsoncfg"
	"genstudio/internal/infra"
	"genstudio/internal/jobs"
	"genstudio/internal/payload"
	"genstudio/internal/pipeline"
)

// DefaultSessionName names sessions created without a name.
const DefaultSessionName = "New chat"

const persistTimeout = 10 * time.Second

// Options wires the coordinator's collaborators.
type Options struct {
	Store       domain.SessionStore
	Catalog     *catalog.Catalog
	Runner      *jobs.Runner
	Pipeline    *pipeline.Pipeline
	PromptLimit int
	Logger      *infra.Logger
}

type draftEntry struct {
	draft     domain.Draft
	version   uint64
	persisted uint64
	writeMu   sync.Mutex
}

// Coordinator is the entry point for session operations. Every method takes
// the target session id explicitly; the active session is bookkeeping for the
// UI and never decides where a write goes.
type Coordinator struct {
	store       domain.SessionStore
	catalog     *catalog.Catalog
	runner      *jobs.Runner
	pipeline    *pipeline.Pipeline
	promptLimit int
	logger      *infra.Logger

	mu     sync.Mutex
	active string
	drafts map[string]*draftEntry
	// inflight counts draft writes not yet finished; idle is closed when it
	// drops back to zero.
	inflight int
	idle     chan struct{}
}

func NewCoordinator(opts Options) *Coordinator {
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
	return &Coordinator{
		store:       opts.Store,
		catalog:     cat,
		runner:      opts.Runner,
		pipeline:    opts.Pipeline,
		promptLimit: limit,
		logger:      logger,
		drafts:      make(map[string]*draftEntry),
	}
}

// Bootstrap makes sure at least one session exists and activates the most
// recently updated one.
func (c *Coordinator) Bootstrap(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := c.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		s, err := c.CreateSession(ctx, DefaultSessionName)
		if err != nil {
			return nil, err
		}
		sessions = []domain.ChatSession{*s}
	}
	c.mu.Lock()
	c.active = sessions[0].ID
	c.mu.Unlock()
	return sessions, nil
}

// CreateSession creates a session whose draft targets the first catalog model.
func (c *Coordinator) CreateSession(ctx context.Context, name string) (*domain.ChatSession, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultSessionName
	}
	var draft domain.Draft
	if models := c.catalog.List(); len(models) > 0 {
		draft.ModelID = models[0].ID
		draft.Attachments = attachments.Empty(models[0])
	}
	s, err := c.store.Create(ctx, name, draft)
	if err != nil {
		return nil, fmt.Errorf("chat: create session: %w", err)
	}
	return s, nil
}

// ListSessions returns every session with unsaved draft edits applied.
func (c *Coordinator) ListSessions(ctx context.Context) ([]domain.ChatSession, error) {
	sessions, err := c.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("chat: list sessions: %w", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range sessions {
		if e, ok := c.drafts[sessions[i].ID]; ok {
			sessions[i].Draft = e.draft.Clone()
		}
	}
	return sessions, nil
}

// Session returns one session with unsaved draft edits applied.
func (c *Coordinator) Session(ctx context.Context, id string) (*domain.ChatSession, error) {
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if e, ok := c.drafts[id]; ok {
		s.Draft = e.draft.Clone()
	}
	c.mu.Unlock()
	return s, nil
}

func (c *Coordinator) Rename(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &domain.ValidationError{Field: "name", Reason: "name is required"}
	}
	return c.store.Update(ctx, id, domain.SessionPatch{Name: &name})
}

// DeleteSession removes a session and its history. Jobs still running for it
// are left alone; their later writes fail and are logged.
func (c *Coordinator) DeleteSession(ctx context.Context, id string) error {
	c.Flush(ctx)
	if err := c.store.Delete(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.drafts, id)
	if c.active == id {
		c.active = ""
	}
	c.mu.Unlock()
	return nil
}

// Activate records which session the user is looking at.
func (c *Coordinator) Activate(ctx context.Context, id string) error {
	if _, err := c.store.Get(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.active = id
	c.mu.Unlock()
	return nil
}

// Active returns the id recorded by Activate.
func (c *Coordinator) Active() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Draft returns the current draft of a session.
func (c *Coordinator) Draft(ctx context.Context, id string) (domain.Draft, error) {
	e, err := c.entry(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return e.draft.Clone(), nil
}

func (c *Coordinator) entry(ctx context.Context, id string) (*draftEntry, error) {
	c.mu.Lock()
	e, ok := c.drafts[id]
	c.mu.Unlock()
	if ok {
		return e, nil
	}
	s, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.drafts[id]; ok {
		return e, nil
	}
	e = &draftEntry{draft: s.Draft}
	c.drafts[id] = e
	return e, nil
}

// UpdateDraft merges patch into the session's draft and schedules an
// asynchronous write. Edits are applied in call order, so the last write
// wins for any field. A model change clears the attachment slots.
func (c *Coordinator) UpdateDraft(ctx context.Context, id string, patch domain.DraftPatch) (domain.Draft, error) {
	var target *catalog.Model
	if patch.ModelID != nil {
		m, err := c.catalog.Get(*patch.ModelID)
		if err != nil {
			return domain.Draft{}, err
		}
		target = m
	}
	e, err := c.entry(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}

	c.mu.Lock()
	prevModel := e.draft.ModelID
	patch.Apply(&e.draft)
	if target != nil && target.ID != prevModel {
		e.draft.Attachments = attachments.Clear(target)
		if patch.Ratio == nil {
			e.draft.Ratio = ""
		}
		if patch.Duration == nil {
			e.draft.Duration = 0
		}
	}
	if m, err := c.catalog.Get(e.draft.ModelID); err == nil {
		e.draft.Attachments = attachments.Normalize(m, e.draft.Attachments)
	}
	out := e.draft.Clone()
	c.schedule(id, e)
	c.mu.Unlock()
	return out, nil
}

// SelectModel switches the session's model, clearing attachments and the
// model-specific ratio and duration.
func (c *Coordinator) SelectModel(ctx context.Context, id, modelID string) (domain.Draft, error) {
	m, err := c.catalog.Get(modelID)
	if err != nil {
		return domain.Draft{}, err
	}
	e, err := c.entry(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	c.mu.Lock()
	e.draft.ModelID = m.ID
	e.draft.Ratio = ""
	e.draft.Duration = 0
	e.draft.Attachments = attachments.Clear(m)
	out := e.draft.Clone()
	c.schedule(id, e)
	c.mu.Unlock()
	return out, nil
}

// SetAttachment stores uri at slot[index] of the session's draft.
func (c *Coordinator) SetAttachment(ctx context.Context, id, slot string, index int, uri string) (domain.Draft, error) {
	e, err := c.entry(ctx, id)
	if err != nil {
		return domain.Draft{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	m, err := c.catalog.Get(e.draft.ModelID)
	if err != nil {
		return domain.Draft{}, err
	}
	next, err := attachments.SetSlot(m, e.draft.Attachments, slot, index, uri)
	if err != nil {
		return domain.Draft{}, err
	}
	e.draft.Attachments = next
	out := e.draft.Clone()
	c.schedule(id, e)
	return out, nil
}

// schedule must be called with c.mu held.
func (c *Coordinator) schedule(id string, e *draftEntry) {
	e.version++
	if c.inflight == 0 {
		c.idle = make(chan struct{})
	}
	c.inflight++
	go c.persist(id, e)
}

func (c *Coordinator) persisted() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 {
		close(c.idle)
	}
	c.mu.Unlock()
}

// persist writes the newest cached draft. Writers for one session are
// serialized and skip versions that a later writer already covered.
func (c *Coordinator) persist(id string, e *draftEntry) {
	defer c.persisted()
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	c.mu.Lock()
	if e.persisted >= e.version {
		c.mu.Unlock()
		return
	}
	draft := e.draft.Clone()
	version := e.version
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Update(ctx, id, domain.SessionPatch{Draft: &draft}); err != nil {
		c.logger.Warn().Err(err).Str("session_id", id).Msg("chat: persist draft failed")
		return
	}
	c.mu.Lock()
	if version > e.persisted {
		e.persisted = version
	}
	c.mu.Unlock()
}

// Flush waits until no draft write is in flight or ctx ends.
func (c *Coordinator) Flush(ctx context.Context) {
	c.mu.Lock()
	if c.inflight == 0 {
		c.mu.Unlock()
		return
	}
	idle := c.idle
	c.mu.Unlock()
	select {
	case <-idle:
	case <-ctx.Done():
	}
}

// AppendMessage persists msg into the session and returns its id.
func (c *Coordinator) AppendMessage(ctx context.Context, id string, msg domain.ChatMessage) (string, error) {
	if msg.Role == "" {
		msg.Role = domain.RoleUser
	}
	if msg.Status == "" {
		msg.Status = domain.StatusSent
	}
	now := time.Now().UTC()
	msg.CreatedAt, msg.UpdatedAt = now, now
	mid, err := c.store.AddMessage(ctx, id, msg)
	if err != nil {
		return "", fmt.Errorf("chat: append message: %w", err)
	}
	return mid, nil
}

// UpdateMessage applies patch to one message of the session. Messages in a
// terminal status are final and reject further patches.
func (c *Coordinator) UpdateMessage(ctx context.Context, id, messageID string, patch domain.MessagePatch) error {
	msgs, err := c.store.ListMessages(ctx, id)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.ID != messageID {
			continue
		}
		if m.Status.Terminal() {
			return fmt.Errorf("chat: message %s is %s: %w", messageID, m.Status, domain.ErrMessageFinal)
		}
		return c.store.UpdateMessage(ctx, id, messageID, patch)
	}
	return fmt.Errorf("chat: message %s: %w", messageID, domain.ErrNotFound)
}

func (c *Coordinator) Messages(ctx context.Context, id string) ([]domain.ChatMessage, error) {
	return c.store.ListMessages(ctx, id)
}

// Submission identifies the records created by a generation request.
type Submission struct {
	SessionID     string `json:"sessionId"`
	UserMessageID string `json:"userMessageId"`
	MessageID     string `json:"messageId"`
	JobID         string `json:"jobId"`
	Credits       int    `json:"credits"`
}

// SubmitGeneration validates req locally, records the user request and the
// job message in session id, and starts the job. The job writes only to that
// session, whatever is active later.
func (c *Coordinator) SubmitGeneration(ctx context.Context, id string, req domain.GenerationRequest, observers ...jobs.Observer) (*Submission, error) {
	if c.runner == nil {
		return nil, errors.New("chat: generation is not configured")
	}
	m, err := c.catalog.Get(req.ModelID)
	if err != nil {
		return nil, err
	}
	req.Attachments = attachments.Normalize(m, req.Attachments)
	if err := payload.Validate(m, req, c.promptLimit); err != nil {
		return nil, err
	}
	body, err := payload.Build(m, req)
	if err != nil {
		return nil, err
	}
	ratio, duration := req.Ratio, req.Duration
	if ratio == "" {
		ratio = m.DefaultRatio()
	}
	if duration == 0 {
		duration = m.DefaultDuration()
	}
	credits := m.Cost(ratio, duration)

	userID, err := c.AppendMessage(ctx, id, domain.ChatMessage{
		Role:        domain.RoleUser,
		Content:     strings.TrimSpace(req.PromptText),
		Attachments: attachments.Flatten(m, req.Attachments),
		Status:      domain.StatusSent,
	})
	if err != nil {
		return nil, err
	}
	jobMsgID, err := c.AppendMessage(ctx, id, domain.ChatMessage{
		Role:   domain.RoleAssistant,
		Status: domain.StatusQueued,
		Cost:   &domain.CostMeta{Credits: credits, ModelID: m.ID, Ratio: ratio, Duration: duration},
	})
	if err != nil {
		return nil, err
	}

	obs := append([]jobs.Observer{jobs.NewMessageWriter(c.store, id, jobMsgID, c.logger)}, observers...)
	job := c.runner.Start(m.ID, body, obs...)
	c.logger.Info().
		Str("session_id", id).
		Str("message_id", jobMsgID).
		Str("job_id", job.ID()).
		Str("model", m.ID).
		Int("credits", credits).
		Msg("chat: generation submitted")
	return &Submission{SessionID: id, UserMessageID: userID, MessageID: jobMsgID, JobID: job.ID(), Credits: credits}, nil
}

// SubmitDraft submits the session's current draft.
func (c *Coordinator) SubmitDraft(ctx context.Context, id string, observers ...jobs.Observer) (*Submission, error) {
	d, err := c.Draft(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.SubmitGeneration(ctx, id, domain.GenerationRequest{
		ModelID:     d.ModelID,
		PromptText:  d.PromptText,
		Ratio:       d.Ratio,
		Duration:    d.Duration,
		Attachments: d.Attachments,
	}, observers...)
}

// PipelineSubmission identifies the records created by a composite run.
type PipelineSubmission struct {
	SessionID         string `json:"sessionId"`
	UserMessageID     string `json:"userMessageId"`
	RunID             string `json:"runId"`
	DescribeMessageID string `json:"describeMessageId"`

	Run *pipeline.Run `json:"-"`
}

// SubmitCompositePipeline starts a describe-then-generate run in session id.
// An empty modelID uses the session draft's model.
func (c *Coordinator) SubmitCompositePipeline(ctx context.Context, id, modelID string, cfg jsoncfg.PipelineJSON) (*PipelineSubmission, error) {
	if c.pipeline == nil {
		return nil, errors.New("chat: pipeline is not configured")
	}
	if modelID == "" {
		d, err := c.Draft(ctx, id)
		if err != nil {
			return nil, err
		}
		modelID = d.ModelID
	}
	plan, err := c.pipeline.Prepare(modelID, cfg)
	if err != nil {
		return nil, err
	}
	userID, err := c.AppendMessage(ctx, id, domain.ChatMessage{
		Role:        domain.RoleUser,
		Content:     plan.Config.BasePrompt,
		Attachments: append([]string(nil), plan.Config.References...),
		Status:      domain.StatusSent,
	})
	if err != nil {
		return nil, err
	}
	run, err := c.pipeline.Launch(ctx, id, plan)
	if err != nil {
		return nil, err
	}
	c.logger.Info().
		Str("session_id", id).
		Str("run_id", run.ID).
		Str("model", plan.Model.ID).
		Msg("chat: pipeline submitted")
	return &PipelineSubmission{SessionID: id, UserMessageID: userID, RunID: run.ID, DescribeMessageID: run.DescribeMessageID, Run: run}, nil
}

// CancelJob cancels a running generation job or pipeline run by id.
func (c *Coordinator) CancelJob(id string) error {
	if c.pipeline != nil {
		if run, ok := c.pipeline.Get(id); ok {
			run.Cancel()
			return nil
		}
	}
	if c.runner == nil {
		return fmt.Errorf("chat: job %s: %w", id, domain.ErrNotFound)
	}
	return c.runner.Cancel(id)
}

// Shutdown flushes drafts and stops every pipeline run and job.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.Flush(ctx)
	var errs []error
	if c.pipeline != nil {
		errs = append(errs, c.pipeline.Shutdown(ctx))
	}
	if c.runner != nil {
		errs = append(errs, c.runner.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
