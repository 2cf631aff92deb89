package domain

import "time"

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// MessageStatus mirrors the lifecycle of the job that owns a message. User
// messages are created as StatusSent and never change.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusQueued    MessageStatus = "queued"
	StatusSubmitted MessageStatus = "submitted"
	StatusRunning   MessageStatus = "running"
	StatusSucceeded MessageStatus = "succeeded"
	StatusFailed    MessageStatus = "failed"
	StatusCancelled MessageStatus = "cancelled"
)

// Terminal reports whether no further updates are expected for the message.
func (s MessageStatus) Terminal() bool {
	switch s {
	case StatusSent, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Attachments maps slot names to fixed-length value lists. Single slots hold
// exactly one position, multiple slots hold MaxCount positions. An empty
// string marks an unset position.
type Attachments map[string][]string

// Clone returns a deep copy so callers never share backing arrays.
func (a Attachments) Clone() Attachments {
	if a == nil {
		return nil
	}
	out := make(Attachments, len(a))
	for k, v := range a {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Draft is the working state of a chat's next request.
type Draft struct {
	ModelID     string      `json:"model"`
	PromptText  string      `json:"prompt"`
	Ratio       string      `json:"ratio,omitempty"`
	Duration    int         `json:"duration,omitempty"`
	Attachments Attachments `json:"attachments,omitempty"`
	ColorTag    string      `json:"colorTag,omitempty"`
}

// Clone returns a copy of the draft with its own attachment storage.
func (d Draft) Clone() Draft {
	d.Attachments = d.Attachments.Clone()
	return d
}

// DraftPatch carries the fields a user edit changes. Nil fields are left alone.
type DraftPatch struct {
	ModelID     *string     `json:"model,omitempty"`
	PromptText  *string     `json:"prompt,omitempty"`
	Ratio       *string     `json:"ratio,omitempty"`
	Duration    *int        `json:"duration,omitempty"`
	Attachments Attachments `json:"attachments,omitempty"`
	ColorTag    *string     `json:"colorTag,omitempty"`
}

// Apply merges the patch into d.
func (p DraftPatch) Apply(d *Draft) {
	if p.ModelID != nil {
		d.ModelID = *p.ModelID
	}
	if p.PromptText != nil {
		d.PromptText = *p.PromptText
	}
	if p.Ratio != nil {
		d.Ratio = *p.Ratio
	}
	if p.Duration != nil {
		d.Duration = *p.Duration
	}
	if p.Attachments != nil {
		d.Attachments = p.Attachments.Clone()
	}
	if p.ColorTag != nil {
		d.ColorTag = *p.ColorTag
	}
}

// ChatSession is a named conversation with its persisted draft.
type ChatSession struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Draft     Draft     `json:"draft"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SessionPatch updates the name and/or draft of a session.
type SessionPatch struct {
	Name  *string
	Draft *Draft
}

// CostMeta records what a message cost. Generation messages fill Credits,
// description messages fill the token counters.
type CostMeta struct {
	Credits          int    `json:"credits,omitempty"`
	ModelID          string `json:"model,omitempty"`
	Ratio            string `json:"ratio,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	Provider         string `json:"provider,omitempty"`
	PromptTokens     int    `json:"promptTokens,omitempty"`
	CompletionTokens int    `json:"completionTokens,omitempty"`
	TotalTokens      int    `json:"totalTokens,omitempty"`
}

// ChatMessage is one entry of a chat's append/update-only history.
type ChatMessage struct {
	ID          string        `json:"id"`
	ChatID      string        `json:"chatId"`
	Role        Role          `json:"role"`
	Content     string        `json:"content"`
	Attachments []string      `json:"attachments"`
	Status      MessageStatus `json:"status"`
	Cost        *CostMeta     `json:"costMeta,omitempty"`
	JobID       string        `json:"jobId,omitempty"`
	RemoteID    string        `json:"remoteId,omitempty"`
	ErrorCode   string        `json:"errorCode,omitempty"`
	Error       string        `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

// MessagePatch is an in-place update applied while a job progresses.
type MessagePatch struct {
	Status      *MessageStatus
	Content     *string
	Attachments []string
	Cost        *CostMeta
	JobID       *string
	RemoteID    *string
	ErrorCode   *string
	Error       *string
}

// Apply merges the patch into m.
func (p MessagePatch) Apply(m *ChatMessage) {
	if p.Status != nil {
		m.Status = *p.Status
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Attachments != nil {
		m.Attachments = append([]string(nil), p.Attachments...)
	}
	if p.Cost != nil {
		c := *p.Cost
		m.Cost = &c
	}
	if p.JobID != nil {
		m.JobID = *p.JobID
	}
	if p.RemoteID != nil {
		m.RemoteID = *p.RemoteID
	}
	if p.ErrorCode != nil {
		m.ErrorCode = *p.ErrorCode
	}
	if p.Error != nil {
		m.Error = *p.Error
	}
}
