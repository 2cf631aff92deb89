package jobs

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"genstudio/internal/domain"
)

type patchLog struct {
	mu      sync.Mutex
	chats   []string
	ids     []string
	patches []domain.MessagePatch
	err     error
}

func (l *patchLog) List(ctx context.Context) ([]domain.ChatSession, error) { return nil, nil }
func (l *patchLog) Create(ctx context.Context, name string, d domain.Draft) (*domain.ChatSession, error) {
	return nil, errors.New("unused")
}
func (l *patchLog) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	return nil, domain.ErrNotFound
}
func (l *patchLog) Update(ctx context.Context, id string, p domain.SessionPatch) error { return nil }
func (l *patchLog) Delete(ctx context.Context, id string) error                        { return nil }
func (l *patchLog) ListMessages(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	return nil, nil
}
func (l *patchLog) AddMessage(ctx context.Context, chatID string, m domain.ChatMessage) (string, error) {
	return "", errors.New("unused")
}

func (l *patchLog) UpdateMessage(ctx context.Context, chatID, id string, p domain.MessagePatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chats = append(l.chats, chatID)
	l.ids = append(l.ids, id)
	l.patches = append(l.patches, p)
	return l.err
}

func (l *patchLog) statuses() []domain.MessageStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.MessageStatus, 0, len(l.patches))
	for _, p := range l.patches {
		out = append(out, *p.Status)
	}
	return out
}

func TestMessageWriterMirrorsStates(t *testing.T) {
	p := &fakeProvider{remoteID: "r-7", statuses: []statusResult{
		running(30),
		{status: domain.TaskStatus{Phase: domain.TaskSucceeded, Output: []string{"https://o/a.png"}}},
	}}
	log := &patchLog{}
	runner := newTestRunner(p, Options{})
	j := runner.Start("gen4_turbo", testRequest(t), NewMessageWriter(log, "chat-a", "msg-1", nil))
	waitTerminal(t, j)

	want := []domain.MessageStatus{domain.StatusQueued, domain.StatusSubmitted, domain.StatusRunning, domain.StatusSucceeded}
	if got := log.statuses(); !reflect.DeepEqual(got, want) {
		t.Fatalf("statuses = %v, want %v", got, want)
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	for i := range log.chats {
		if log.chats[i] != "chat-a" || log.ids[i] != "msg-1" {
			t.Fatalf("write %d went to %s/%s", i, log.chats[i], log.ids[i])
		}
	}
	last := log.patches[len(log.patches)-1]
	if !reflect.DeepEqual(last.Attachments, []string{"https://o/a.png"}) || last.RemoteID == nil || *last.RemoteID != "r-7" {
		t.Fatalf("terminal patch = %+v", last)
	}
}

func TestMessageWriterStoreErrorsAreNotFatal(t *testing.T) {
	p := &fakeProvider{remoteID: "r", statuses: []statusResult{
		{status: domain.TaskStatus{Phase: domain.TaskSucceeded, Output: []string{"o"}}},
	}}
	log := &patchLog{err: errors.New("db down")}
	j := newTestRunner(p, Options{}).Start("gen4_turbo", testRequest(t), NewMessageWriter(log, "c", "m", nil))
	if snap := waitTerminal(t, j); snap.State != domain.JobSucceeded {
		t.Fatalf("state = %s", snap.State)
	}
}

func TestPatchFor(t *testing.T) {
	failed := PatchFor(Snapshot{State: domain.JobFailed, Event: EventState, Err: &domain.RemoteTaskError{Reason: "content moderation"}})
	if *failed.Status != domain.StatusFailed || *failed.ErrorCode != "remote_task" || *failed.Error == "" {
		t.Fatalf("failed patch = %+v", failed)
	}
	if failed.Attachments != nil || failed.RemoteID != nil {
		t.Fatalf("failed patch carries extra fields: %+v", failed)
	}

	cancelled := PatchFor(Snapshot{State: domain.JobCancelled, Err: domain.ErrCancelled})
	if *cancelled.Status != domain.StatusCancelled || *cancelled.ErrorCode != "cancelled" {
		t.Fatalf("cancelled patch = %+v", cancelled)
	}

	sub := PatchFor(Snapshot{State: domain.JobFailed, Err: &domain.SubmissionError{Cause: fmt.Errorf("x: %w", domain.ErrAuth)}})
	if *sub.ErrorCode != "auth" {
		t.Fatalf("submission auth code = %q", *sub.ErrorCode)
	}
}
