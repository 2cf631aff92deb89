// Package sqlitestore keeps chat sessions and messages in a local SQLite file
// through gorm.
package sqlitestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"genstudio/internal/domain"
)

// Chat is the gorm model of a chat session.
type Chat struct {
	ID        string `gorm:"primaryKey;size:36"`
	Name      string `gorm:"not null"`
	Draft     string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"index"`
}

// Message is the gorm model of a chat message. Seq keeps insertion order.
type Message struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	ID          string `gorm:"size:36;not null;uniqueIndex"`
	ChatID      string `gorm:"size:36;not null;index"`
	Role        string `gorm:"size:16;not null"`
	Content     string `gorm:"type:text"`
	Attachments string `gorm:"type:text"`
	Status      string `gorm:"size:16;not null"`
	Cost        string `gorm:"type:text"`
	JobID       string `gorm:"size:64"`
	RemoteID    string `gorm:"size:128"`
	ErrorCode   string `gorm:"size:32"`
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store implements domain.SessionStore with gorm.
type Store struct {
	db *gorm.DB
}

// Open connects to the SQLite database at path (":memory:" for tests) and
// migrates the schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:" alive.
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// New wraps an already migrated gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the chat tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Chat{}, &Message{}); err != nil {
		return fmt.Errorf("sqlitestore: migrate: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) List(ctx context.Context) ([]domain.ChatSession, error) {
	var rows []Chat
	if err := s.db.WithContext(ctx).Order("updated_at desc, created_at desc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlitestore: list chats: %w", err)
	}
	out := make([]domain.ChatSession, 0, len(rows))
	for _, r := range rows {
		chat, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *chat)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, name string, draft domain.Draft) (*domain.ChatSession, error) {
	raw, err := json.Marshal(draft)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: encode draft: %w", err)
	}
	now := time.Now().UTC()
	row := Chat{ID: uuid.NewString(), Name: strings.TrimSpace(name), Draft: string(raw), CreatedAt: now, UpdatedAt: now}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("sqlitestore: create chat: %w", err)
	}
	return row.toDomain()
}

func (s *Store) Get(ctx context.Context, id string) (*domain.ChatSession, error) {
	var row Chat
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("sqlitestore: chat %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("sqlitestore: get chat: %w", err)
	}
	return row.toDomain()
}

func (s *Store) Update(ctx context.Context, id string, patch domain.SessionPatch) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Name != nil {
		updates["name"] = strings.TrimSpace(*patch.Name)
	}
	if patch.Draft != nil {
		raw, err := json.Marshal(patch.Draft)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode draft: %w", err)
		}
		updates["draft"] = string(raw)
	}
	res := s.db.WithContext(ctx).Model(&Chat{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("sqlitestore: update chat: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("sqlitestore: chat %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", id).Delete(&Chat{})
		if res.Error != nil {
			return fmt.Errorf("sqlitestore: delete chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("sqlitestore: chat %s: %w", id, domain.ErrNotFound)
		}
		if err := tx.Where("chat_id = ?", id).Delete(&Message{}).Error; err != nil {
			return fmt.Errorf("sqlitestore: delete messages: %w", err)
		}
		return nil
	})
}

func (s *Store) ListMessages(ctx context.Context, chatID string) ([]domain.ChatMessage, error) {
	var rows []Message
	if err := s.db.WithContext(ctx).Where("chat_id = ?", chatID).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("sqlitestore: list messages: %w", err)
	}
	out := make([]domain.ChatMessage, 0, len(rows))
	for _, r := range rows {
		m, err := r.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) AddMessage(ctx context.Context, chatID string, msg domain.ChatMessage) (string, error) {
	msg.ID = uuid.NewString()
	msg.ChatID = chatID
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	row, err := messageFromDomain(msg)
	if err != nil {
		return "", err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Chat{}).Where("id = ?", chatID).Update("updated_at", now)
		if res.Error != nil {
			return fmt.Errorf("sqlitestore: touch chat: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("sqlitestore: chat %s: %w", chatID, domain.ErrNotFound)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("sqlitestore: add message: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return msg.ID, nil
}

// UpdateMessage reads, patches and writes the message inside one transaction.
func (s *Store) UpdateMessage(ctx context.Context, chatID, id string, patch domain.MessagePatch) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Message
		if err := tx.Where("chat_id = ? AND id = ?", chatID, id).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("sqlitestore: message %s/%s: %w", chatID, id, domain.ErrNotFound)
			}
			return fmt.Errorf("sqlitestore: load message: %w", err)
		}
		msg, err := row.toDomain()
		if err != nil {
			return err
		}
		patch.Apply(&msg)
		msg.UpdatedAt = time.Now().UTC()
		next, err := messageFromDomain(msg)
		if err != nil {
			return err
		}
		next.Seq = row.Seq
		if err := tx.Save(&next).Error; err != nil {
			return fmt.Errorf("sqlitestore: update message: %w", err)
		}
		return nil
	})
}

func (c Chat) toDomain() (*domain.ChatSession, error) {
	out := &domain.ChatSession{ID: c.ID, Name: c.Name, CreatedAt: c.CreatedAt.UTC(), UpdatedAt: c.UpdatedAt.UTC()}
	if c.Draft != "" {
		if err := json.Unmarshal([]byte(c.Draft), &out.Draft); err != nil {
			return nil, fmt.Errorf("sqlitestore: decode draft of %s: %w", c.ID, err)
		}
	}
	return out, nil
}

func (m Message) toDomain() (domain.ChatMessage, error) {
	out := domain.ChatMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      domain.Role(m.Role),
		Content:   m.Content,
		Status:    domain.MessageStatus(m.Status),
		JobID:     m.JobID,
		RemoteID:  m.RemoteID,
		ErrorCode: m.ErrorCode,
		Error:     m.Error,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
	if m.Attachments != "" {
		if err := json.Unmarshal([]byte(m.Attachments), &out.Attachments); err != nil {
			return out, fmt.Errorf("sqlitestore: decode attachments of %s: %w", m.ID, err)
		}
	}
	if m.Cost != "" {
		out.Cost = &domain.CostMeta{}
		if err := json.Unmarshal([]byte(m.Cost), out.Cost); err != nil {
			return out, fmt.Errorf("sqlitestore: decode cost of %s: %w", m.ID, err)
		}
	}
	return out, nil
}

func messageFromDomain(m domain.ChatMessage) (Message, error) {
	row := Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Role:      string(m.Role),
		Content:   m.Content,
		Status:    string(m.Status),
		JobID:     m.JobID,
		RemoteID:  m.RemoteID,
		ErrorCode: m.ErrorCode,
		Error:     m.Error,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
	attachments := m.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return row, fmt.Errorf("sqlitestore: encode attachments: %w", err)
	}
	row.Attachments = string(raw)
	if m.Cost != nil {
		raw, err := json.Marshal(m.Cost)
		if err != nil {
			return row, fmt.Errorf("sqlitestore: encode cost: %w", err)
		}
		row.Cost = string(raw)
	}
	return row, nil
}

var _ domain.SessionStore = (*Store)(nil)
