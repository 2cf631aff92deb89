// Package pgstore keeps chat sessions and messages in Postgres.
package pgstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// Store implements domain.SessionStore on top of marker-tagged SQL.
type Store struct {
	sql infra.SQLExecutor
}

func New(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

func (s *Store) List(ctx context.Context) ([]domain.ChatSession, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListChats)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list chats: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatSession
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, fmt.Errorf("pgstore: list chats: %w", err)
		}
		out = append(out, *chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list chats: %w", err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, name string, draft domain.Draft) (*domain.ChatSession, error) {
	raw, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("pgstore: encode draft: %w", err)
	}
	chat, err := scanChat(s.sql.QueryRow(ctx, sqlinline.QInsertChat, strings.TrimSpace(name), raw))
	if err != nil {
		return nil, fmt.Errorf("pgstore: create chat: %w", err)
	}
	return chat, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	chat, err := scanChat(s.sql.QueryRow(ctx, sqlinline.QSelectChat, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, fmt.Errorf("pgstore: chat %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("pgstore: get chat: %w", err)
	}
	return chat, nil
}

func (s *Store) Update(ctx context.Context, id string, patch domain.SessionPatch) error {
	var draft []byte
	if patch.Draft != nil {
		raw, err := json.Marshal(patch.Draft)
		if err != nil {
			return fmt.Errorf("pgstore: encode draft: %w", err)
		}
		draft = raw
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QUpdateChat, id, patch.Name, draft)
	if err != nil {
		return fmt.Errorf("pgstore: update chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: chat %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteChat, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete chat: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: chat %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	rows, err := s.sql.Query(ctx, sqlinline.QListChatMessages, chatID)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.ChatMessage
	for rows.Next() {
		var (
			m           domain.ChatMessage
			role        string
			status      string
			attachments []byte
			cost        []byte
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &role, &m.Content, &attachments, &status, &cost,
			&m.JobID, &m.RemoteID, &m.ErrorCode, &m.Error, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan message: %w", err)
		}
		m.Role = domain.Role(role)
		m.Status = domain.MessageStatus(status)
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
				return nil, fmt.Errorf("pgstore: decode attachments: %w", err)
			}
		}
		if len(cost) > 0 && string(cost) != "null" {
			m.Cost = &domain.CostMeta{}
			if err := json.Unmarshal(cost, m.Cost); err != nil {
				return nil, fmt.Errorf("pgstore: decode cost: %w", err)
			}
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list messages: %w", err)
	}
	return out, nil
}

func (s *Store) AddMessage(ctx context.Context, chatID string, msg domain.ChatMessage) (string, error) {
	attachments, cost, err := encodeMessage(msg.Attachments, msg.Cost)
	if err != nil {
		return "", err
	}
	var id string
	err = s.sql.QueryRow(ctx, sqlinline.QInsertChatMessage,
		chatID, string(msg.Role), msg.Content, attachments, string(msg.Status), cost,
		msg.JobID, msg.RemoteID, msg.ErrorCode, msg.Error,
	).Scan(&id)
	if err != nil {
		if infra.IsNoRows(err) {
			return "", fmt.Errorf("pgstore: chat %s: %w", chatID, domain.ErrNotFound)
		}
		return "", fmt.Errorf("pgstore: add message: %w", err)
	}
	return id, nil
}

// UpdateMessage applies patch in a single statement; absent fields keep their value.
func (s *Store) UpdateMessage(ctx context.Context, chatID, id string, patch domain.MessagePatch) error {
	attachments, cost, err := encodeMessage(patch.Attachments, patch.Cost)
	if err != nil {
		return err
	}
	var status *string
	if patch.Status != nil {
		v := string(*patch.Status)
		status = &v
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QPatchChatMessage,
		chatID, id, status, patch.Content, attachments, cost,
		patch.RemoteID, patch.ErrorCode, patch.Error, patch.JobID,
	)
	if err != nil {
		return fmt.Errorf("pgstore: update message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pgstore: message %s/%s: %w", chatID, id, domain.ErrNotFound)
	}
	return nil
}

func encodeMessage(attachments []string, cost *domain.CostMeta) ([]byte, []byte, error) {
	var rawAttachments, rawCost []byte
	if attachments != nil {
		b, err := json.Marshal(attachments)
		if err != nil {
			return nil, nil, fmt.Errorf("pgstore: encode attachments: %w", err)
		}
		rawAttachments = b
	}
	if cost != nil {
		b, err := json.Marshal(cost)
		if err != nil {
			return nil, nil, fmt.Errorf("pgstore: encode cost: %w", err)
		}
		rawCost = b
	}
	return rawAttachments, rawCost, nil
}

func scanChat(row pgx.Row) (*domain.ChatSession, error) {
	var (
		chat  domain.ChatSession
		draft []byte
		cAt   time.Time
		uAt   time.Time
	)
	if err := row.Scan(&chat.ID, &chat.Name, &draft, &cAt, &uAt); err != nil {
		return nil, err
	}
	if len(draft) > 0 {
		if err := json.Unmarshal(draft, &chat.Draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
	}
	chat.CreatedAt, chat.UpdatedAt = cAt.UTC(), uAt.UTC()
	return &chat, nil
}

var _ domain.SessionStore = (*Store)(nil)
