package jobs

import (
	"context"
	"io"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
)

const persistTimeout = 10 * time.Second

// MessageWriter mirrors a job's state transitions into one persisted chat
// message. The chat and message ids are fixed at construction, so a job keeps
// writing to the chat it was started from regardless of what the user does
// afterwards. Progress ticks are not persisted.
type MessageWriter struct {
	store     domain.SessionStore
	chatID    string
	messageID string
	logger    *infra.Logger
}

// NewMessageWriter binds a writer to chatID/messageID.
func NewMessageWriter(store domain.SessionStore, chatID, messageID string, logger *infra.Logger) *MessageWriter {
	if logger == nil {
		l := infra.Logger(zerolog.New(io.Discard))
		logger = &l
	}
	return &MessageWriter{store: store, chatID: chatID, messageID: messageID, logger: logger}
}

// JobChanged implements Observer.
func (w *MessageWriter) JobChanged(s Snapshot) {
	if s.Event != EventState {
		return
	}
	patch := PatchFor(s)
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := w.store.UpdateMessage(ctx, w.chatID, w.messageID, patch); err != nil {
		w.logger.Warn().Err(err).
			Str("job_id", s.ID).
			Str("session_id", w.chatID).
			Str("message_id", w.messageID).
			Str("state", string(s.State)).
			Msg("jobs: persist message failed")
	}
}

// PatchFor converts a state snapshot into the message patch that records it.
func PatchFor(s Snapshot) domain.MessagePatch {
	status := s.State.MessageStatus()
	jobID := s.ID
	patch := domain.MessagePatch{Status: &status, JobID: &jobID}
	if s.RemoteID != "" {
		remote := s.RemoteID
		patch.RemoteID = &remote
	}
	switch s.State {
	case domain.JobSucceeded:
		patch.Attachments = append([]string{}, s.Output...)
	case domain.JobFailed, domain.JobCancelled:
		code := domain.ErrorCode(s.Err)
		patch.ErrorCode = &code
		if s.Err != nil {
			msg := s.Err.Error()
			patch.Error = &msg
		}
	}
	return patch
}
