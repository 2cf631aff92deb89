package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"genstudio/internal/domain"
	"genstudio/internal/domain/jsoncfg"
	"genstudio/internal/jobs"
	"genstudio/internal/payload"
	"genstudio/internal/providers/describe"
)

type memStore struct {
	mu       sync.Mutex
	seq      int
	messages map[string][]domain.ChatMessage
}

func newMemStore() *memStore { return &memStore{messages: map[string][]domain.ChatMessage{}} }

func (s *memStore) List(ctx context.Context) ([]domain.ChatSession, error) { return nil, nil }
func (s *memStore) Create(ctx context.Context, name string, draft domain.Draft) (*domain.ChatSession, error) {
	return &domain.ChatSession{ID: "c", Name: name, Draft: draft}, nil
}
func (s *memStore) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	return &domain.ChatSession{ID: id}, nil
}
func (s *memStore) Update(ctx context.Context, id string, patch domain.SessionPatch) error {
	return nil
}
func (s *memStore) Delete(ctx context.Context, id string) error { return nil }

func (s *memStore) ListMessages(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages[chatID]...), nil
}

func (s *memStore) AddMessage(ctx context.Context, chatID string, msg domain.ChatMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg.ID = fmt.Sprintf("m%d", s.seq)
	msg.ChatID = chatID
	s.messages[chatID] = append(s.messages[chatID], msg)
	return msg.ID, nil
}

func (s *memStore) UpdateMessage(ctx context.Context, chatID, id string, patch domain.MessagePatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages[chatID] {
		if s.messages[chatID][i].ID == id {
			patch.Apply(&s.messages[chatID][i])
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeDescriber struct {
	text  string
	err   error
	block bool
	calls int
	mu    sync.Mutex
}

func (f *fakeDescriber) Describe(ctx context.Context, req describe.Request) (*describe.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &describe.Result{Text: f.text, Provider: "openai", Model: "gpt-4o-mini", Usage: describe.Usage{PromptTokens: 90, CompletionTokens: 10, TotalTokens: 100}}, nil
}

type fakeProvider struct {
	mu      sync.Mutex
	bodies  []payload.Request
	outputs []string
}

func (f *fakeProvider) Submit(ctx context.Context, endpoint string, body any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bodies = append(f.bodies, payload.Request{Endpoint: "", Body: body})
	return "remote-1", nil
}

func (f *fakeProvider) Status(ctx context.Context, remoteID string) (domain.TaskStatus, error) {
	return domain.TaskStatus{Phase: domain.TaskSucceeded, Output: f.outputs}, nil
}

func (f *fakeProvider) submitted() []payload.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]payload.Request(nil), f.bodies...)
}

func newPipeline(t *testing.T, d describe.Describer, prov *fakeProvider, store *memStore) *Pipeline {
	t.Helper()
	runner := jobs.NewRunner(prov, jobs.Options{Interval: time.Millisecond})
	p := New(Options{Describer: d, Runner: runner, Store: store, PromptLimit: 60})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
		_ = runner.Shutdown(ctx)
	})
	return p
}

func wait(t *testing.T, run *Run) RunSnapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("run did not finish: %v", err)
	}
	return snap
}

func TestPipelineDescribesThenGenerates(t *testing.T) {
	store := newMemStore()
	prov := &fakeProvider{outputs: []string{"https://out/video.mp4"}}
	d := &fakeDescriber{text: "A red fox standing in deep snow under a pale winter sky, soft light"}
	p := newPipeline(t, d, prov, store)

	run, err := p.Start(context.Background(), "chat-a", "gen4_turbo", jsoncfg.PipelineJSON{
		References: []string{" https://ref/fox.png "},
		BasePrompt: "Cinematic: ",
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := wait(t, run)
	if snap.State != StateSucceeded || snap.Err != nil {
		t.Fatalf("run = %s, %v", snap.State, snap.Err)
	}

	msgs, _ := store.ListMessages(context.Background(), "chat-a")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	desc, gen := msgs[0], msgs[1]
	if desc.ID != snap.DescribeMessageID || gen.ID != snap.GenerateMessageID {
		t.Fatalf("message ids do not match run: %+v", snap)
	}
	if desc.Status != domain.StatusSucceeded || desc.Content != d.text || desc.Cost == nil || desc.Cost.TotalTokens != 100 {
		t.Fatalf("description message = %+v", desc)
	}
	wantPrompt := Compose("Cinematic: ", d.text, 60)
	if gen.Content != wantPrompt || len([]rune(wantPrompt)) != 60 {
		t.Fatalf("generation prompt = %q", gen.Content)
	}
	if gen.Status != domain.StatusSucceeded || len(gen.Attachments) != 1 || gen.Attachments[0] != "https://out/video.mp4" {
		t.Fatalf("generation message = %+v", gen)
	}
	if gen.Cost == nil || gen.Cost.Credits != 25 || gen.Cost.Duration != 5 || gen.Cost.Ratio != "1280:720" {
		t.Fatalf("generation cost = %+v", gen.Cost)
	}

	bodies := prov.submitted()
	if len(bodies) != 1 {
		t.Fatalf("submissions = %d", len(bodies))
	}
	body, ok := bodies[0].Body.(payload.ImageToVideo)
	if !ok || body.PromptImage != "https://ref/fox.png" || body.PromptText != wantPrompt {
		t.Fatalf("submitted body = %#v", bodies[0].Body)
	}
}

func TestPipelineRejectsEmptyGenerationPrompt(t *testing.T) {
	store := newMemStore()
	prov := &fakeProvider{outputs: []string{"https://out/image.png"}}
	p := newPipeline(t, &fakeDescriber{text: "   "}, prov, store)

	run, err := p.Start(context.Background(), "chat-a", "gen4_image", jsoncfg.PipelineJSON{
		References: []string{"https://ref/a.png"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := wait(t, run)
	if snap.State != StateFailed || !errors.Is(snap.Err, domain.ErrValidation) {
		t.Fatalf("run = %s, %v", snap.State, snap.Err)
	}
	if n := len(prov.submitted()); n != 0 {
		t.Fatalf("submissions = %d, want 0", n)
	}
	msgs, _ := store.ListMessages(context.Background(), "chat-a")
	if len(msgs) != 2 {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].Status != domain.StatusSucceeded {
		t.Fatalf("description message = %+v", msgs[0])
	}
	gen := msgs[1]
	if gen.ID != snap.GenerateMessageID || gen.Status != domain.StatusFailed || gen.ErrorCode != "validation" || gen.JobID != "" {
		t.Fatalf("generation message = %+v", gen)
	}
}

func TestPipelineRejectsOverlongBasePrompt(t *testing.T) {
	store := newMemStore()
	d := &fakeDescriber{text: "x"}
	p := newPipeline(t, d, &fakeProvider{}, store)

	_, err := p.Start(context.Background(), "chat-a", "gen4_image", jsoncfg.PipelineJSON{
		References: []string{"https://ref/a.png"},
		BasePrompt: strings.Repeat("b", 61),
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Start() error = %v, want validation", err)
	}
	if msgs, _ := store.ListMessages(context.Background(), "chat-a"); len(msgs) != 0 || d.calls != 0 {
		t.Fatalf("side effects: messages=%d describer calls=%d", len(msgs), d.calls)
	}
}

func TestPipelineAbortsWhenDescriptionFails(t *testing.T) {
	store := newMemStore()
	prov := &fakeProvider{}
	d := &fakeDescriber{err: fmt.Errorf("describe: openai: %w", domain.ErrNetwork)}
	p := newPipeline(t, d, prov, store)

	run, err := p.Start(context.Background(), "chat-a", "gen4_image", jsoncfg.PipelineJSON{References: []string{"https://ref/a.png"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	snap := wait(t, run)
	if snap.State != StateAborted || !errors.Is(snap.Err, domain.ErrPipelineAbort) || !errors.Is(snap.Err, domain.ErrNetwork) {
		t.Fatalf("run = %s, %v", snap.State, snap.Err)
	}
	if len(prov.submitted()) != 0 {
		t.Fatal("generation stage must not be submitted")
	}
	msgs, _ := store.ListMessages(context.Background(), "chat-a")
	if len(msgs) != 1 || msgs[0].Status != domain.StatusFailed || msgs[0].ErrorCode != "pipeline_abort" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestPipelineRejectsBeforeSideEffects(t *testing.T) {
	tests := []struct {
		name  string
		model string
		refs  []string
		want  error
	}{
		{"video slot required", "gen4_aleph", []string{"https://ref/a.png"}, domain.ErrIncompatibleMode},
		{"no image slot", "upscale_v1", []string{"https://ref/a.png"}, domain.ErrIncompatibleMode},
		{"too many references", "gen4_turbo", []string{"https://ref/a.png", "https://ref/b.png"}, domain.ErrValidation},
		{"no references", "gen4_image", []string{" "}, domain.ErrValidation},
		{"unknown model", "nope", []string{"https://ref/a.png"}, domain.ErrUnknownModel},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			d := &fakeDescriber{text: "x"}
			p := newPipeline(t, d, &fakeProvider{}, store)
			_, err := p.Start(context.Background(), "chat-a", tc.model, jsoncfg.PipelineJSON{References: tc.refs})
			if !errors.Is(err, tc.want) {
				t.Fatalf("Start() error = %v, want %v", err, tc.want)
			}
			if msgs, _ := store.ListMessages(context.Background(), "chat-a"); len(msgs) != 0 {
				t.Fatalf("messages written: %+v", msgs)
			}
			if d.calls != 0 {
				t.Fatal("describer called")
			}
		})
	}
}

func TestPipelineCancelDuringDescription(t *testing.T) {
	store := newMemStore()
	prov := &fakeProvider{}
	p := newPipeline(t, &fakeDescriber{block: true}, prov, store)

	run, err := p.Start(context.Background(), "chat-a", "gen4_image", jsoncfg.PipelineJSON{References: []string{"https://ref/a.png"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	run.Cancel()
	snap := wait(t, run)
	if snap.State != StateCancelled || !errors.Is(snap.Err, domain.ErrCancelled) {
		t.Fatalf("run = %s, %v", snap.State, snap.Err)
	}
	msgs, _ := store.ListMessages(context.Background(), "chat-a")
	if len(msgs) != 1 || msgs[0].Status != domain.StatusCancelled {
		t.Fatalf("messages = %+v", msgs)
	}
	if len(prov.submitted()) != 0 {
		t.Fatal("generation stage must not be submitted")
	}
}

func TestCompose(t *testing.T) {
	tests := []struct {
		base, desc string
		limit      int
		want       string
	}{
		{"", "hello world", 5, "hello"},
		{"ab", "cdef", 4, "abcd"},
		{"abcd", "xyz", 4, "abcd"},
		{"abcdef", "xyz", 4, "abcdef"},
		{"пр", "ивет мир", 6, "привет"},
		{"base ", "short", 100, "base short"},
		{"base ", " padded ", 100, "base  padded "},
	}
	for _, tc := range tests {
		if got := Compose(tc.base, tc.desc, tc.limit); got != tc.want {
			t.Fatalf("Compose(%q, %q, %d) = %q, want %q", tc.base, tc.desc, tc.limit, got, tc.want)
		}
	}
	long := strings.Repeat("a", 2000)
	if got := Compose("p: ", long, payload.DefaultPromptLimit); len(got) != payload.DefaultPromptLimit {
		t.Fatalf("len = %d", len(got))
	}
}
