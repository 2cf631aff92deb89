package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"genstudio/internal/chat"
	"genstudio/internal/domain"
	"genstudio/internal/domain/jsoncfg"
	"genstudio/internal/i18n"
	"genstudio/internal/middleware"
)

type messageResponse struct {
	domain.ChatMessage
	StatusLabel string `json:"statusLabel"`
	ErrorLabel  string `json:"errorLabel,omitempty"`
}

func localizeMessages(locale string, msgs []domain.ChatMessage) []messageResponse {
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{
			ChatMessage: m,
			StatusLabel: i18n.StatusLabel(locale, m.Status),
			ErrorLabel:  i18n.ErrorLabel(locale, m.ErrorCode),
		})
	}
	return out
}

func (a *App) ChatsList(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.Chat.ListSessions(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"items": sessions, "active": a.Chat.Active()})
}

type chatRequest struct {
	Name string `json:"name"`
}

func (a *App) ChatsCreate(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !a.decode(w, r, &req) {
		return
	}
	s, err := a.Chat.CreateSession(r.Context(), req.Name)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, s)
}

func (a *App) ChatsShow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s, err := a.Chat.Session(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	msgs, err := a.Chat.Messages(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, http.StatusOK, map[string]any{"chat": s, "messages": localizeMessages(locale, msgs)})
}

func (a *App) ChatsRename(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req chatRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.Chat.Rename(r.Context(), id, req.Name); err != nil {
		a.fail(w, r, err)
		return
	}
	s, err := a.Chat.Session(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, s)
}

func (a *App) ChatsDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.DeleteSession(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) ChatsActivate(w http.ResponseWriter, r *http.Request) {
	if err := a.Chat.Activate(r.Context(), chi.URLParam(r, "id")); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) DraftShow(w http.ResponseWriter, r *http.Request) {
	d, err := a.Chat.Draft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, d)
}

// DraftUpdate applies a partial edit. The response reflects the edit at once;
// persistence happens in the background.
func (a *App) DraftUpdate(w http.ResponseWriter, r *http.Request) {
	var patch domain.DraftPatch
	if !a.decode(w, r, &patch) {
		return
	}
	d, err := a.Chat.UpdateDraft(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, d)
}

type attachmentRequest struct {
	URI string `json:"uri"`
}

// AttachmentSet handles PUT /local/chats/{id}/attachments/{slot}/{index}. An
// empty uri clears the position.
func (a *App) AttachmentSet(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index must be an integer")
		return
	}
	var req attachmentRequest
	if !a.decode(w, r, &req) {
		return
	}
	d, err := a.Chat.SetAttachment(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "slot"), index, req.URI)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, d)
}

func (a *App) MessagesList(w http.ResponseWriter, r *http.Request) {
	msgs, err := a.Chat.Messages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	locale := middleware.LocaleFromContext(r.Context())
	a.json(w, http.StatusOK, map[string]any{"items": localizeMessages(locale, msgs)})
}

type messageRequest struct {
	Role        domain.Role `json:"role"`
	Content     string      `json:"content"`
	Attachments []string    `json:"attachments"`
}

func (a *App) MessagesCreate(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !a.decode(w, r, &req) {
		return
	}
	switch req.Role {
	case "", domain.RoleUser, domain.RoleAssistant:
	default:
		a.error(w, http.StatusBadRequest, "bad_request", "role must be user or assistant")
		return
	}
	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "content or attachments required")
		return
	}
	id, err := a.Chat.AppendMessage(r.Context(), chi.URLParam(r, "id"), domain.ChatMessage{
		Role:        req.Role,
		Content:     req.Content,
		Attachments: req.Attachments,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]string{"id": id})
}

// Generate submits a generation. Without a model in the body the chat's
// current draft is submitted.
func (a *App) Generate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req domain.GenerationRequest
	if !a.decode(w, r, &req) {
		return
	}
	var (
		sub *chat.Submission
		err error
	)
	if req.ModelID == "" {
		sub, err = a.Chat.SubmitDraft(r.Context(), id)
	} else {
		sub, err = a.Chat.SubmitGeneration(r.Context(), id, req)
	}
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, sub)
}

type pipelineRequest struct {
	ModelID  string               `json:"model"`
	Pipeline jsoncfg.PipelineJSON `json:"pipeline"`
}

// PipelineStart launches a describe-then-generate run in the chat.
func (a *App) PipelineStart(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Pipeline.Locale == "" {
		req.Pipeline.Locale = middleware.LocaleFromContext(r.Context())
	}
	sub, err := a.Chat.SubmitCompositePipeline(r.Context(), chi.URLParam(r, "id"), req.ModelID, req.Pipeline)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, sub)
}

// JobCancel cancels a generation job or a pipeline run.
func (a *App) JobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Chat.CancelJob(id); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, map[string]string{"id": id, "status": string(domain.StatusCancelled)})
}
