package domain

import "context"

// SessionStore persists chats and their messages. Every write is keyed by an
// explicit chat id; implementations apply each message patch atomically.
type SessionStore interface {
	List(ctx context.Context) ([]ChatSession, error)
	Create(ctx context.Context, name string, draft Draft) (*ChatSession, error)
	Get(ctx context.Context, id string) (*ChatSession, error)
	Update(ctx context.Context, id string, patch SessionPatch) error
	Delete(ctx context.Context, id string) error
	ListMessages(ctx context.Context, chatID string) ([]ChatMessage, error)
	AddMessage(ctx context.Context, chatID string, msg ChatMessage) (string, error)
	UpdateMessage(ctx context.Context, chatID, id string, patch MessagePatch) error
}

// Credential kinds understood by CredentialSource.
const (
	CredentialRunway = "runway"
	CredentialOpenAI = "openai"
	CredentialGemini = "gemini"
)

// CredentialSource resolves API keys. An empty key without error means the
// credential is not configured.
type CredentialSource interface {
	Key(ctx context.Context, kind string) (string, error)
}
