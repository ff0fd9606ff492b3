package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInvalidRole          = errors.New("invalid message role")
	ErrEmptyContent         = errors.New("message content is empty")
)

// Role tags who produced a message. The set is closed: free-text roles are
// rejected before they reach the table.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

type Conversation struct {
	bun.BaseModel `bun:"table:conversations,alias:c"`

	ID        int64     `bun:"id,pk,autoincrement" json:"id"`
	OwnerID   string    `bun:"owner_id,notnull,unique" json:"-"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// Message is an append-only transcript row. Rows are never mutated; ordering
// within a conversation follows the autoincrement id.
type Message struct {
	bun.BaseModel `bun:"table:messages,alias:m"`

	ID             int64     `bun:"id,pk,autoincrement" json:"id"`
	ConversationID int64     `bun:"conversation_id,notnull" json:"conversation_id"`
	Role           Role      `bun:"role,notnull" json:"role"`
	Content        string    `bun:"content,notnull" json:"content"`
	CreatedAt      time.Time `bun:"created_at,notnull" json:"created_at"`
}

type Conversations struct {
	db  *bun.DB
	now func() time.Time
}

func NewConversations(db *bun.DB) *Conversations {
	return &Conversations{db: db, now: time.Now}
}

// GetOrCreate returns the single conversation for the owner, creating it on
// first contact. Idempotent under concurrent callers: the unique owner_id
// constraint collapses racing inserts onto one row.
func (s *Conversations) GetOrCreate(ctx context.Context, ownerID string) (*Conversation, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	conv, err := s.byOwner(ctx, ownerID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, ErrConversationNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	fresh := &Conversation{OwnerID: ownerID, CreatedAt: now, UpdatedAt: now}
	_, err = s.db.NewInsert().
		Model(fresh).
		On("CONFLICT (owner_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}

	// Re-select instead of trusting the insert: a concurrent request may
	// have won the conflict.
	return s.byOwner(ctx, ownerID)
}

func (s *Conversations) byOwner(ctx context.Context, ownerID string) (*Conversation, error) {
	conv := new(Conversation)
	err := s.db.NewSelect().
		Model(conv).
		Where("owner_id = ?", ownerID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation: %w", err)
	}
	return conv, nil
}

// AppendMessages persists the batch in order inside one transaction. Either
// every message lands or none do; a later read never observes a partial
// exchange.
func (s *Conversations) AppendMessages(ctx context.Context, conversationID int64, msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	for i := range msgs {
		if !msgs[i].Role.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidRole, msgs[i].Role)
		}
		if strings.TrimSpace(msgs[i].Content) == "" {
			return ErrEmptyContent
		}
	}

	now := s.now().UTC()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Conversation)(nil)).
			Set("updated_at = ?", now).
			Where("id = ?", conversationID).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
		if rows, err := res.RowsAffected(); err == nil && rows == 0 {
			return ErrConversationNotFound
		}

		for i := range msgs {
			msgs[i].ID = 0
			msgs[i].ConversationID = conversationID
			if msgs[i].CreatedAt.IsZero() {
				msgs[i].CreatedAt = now
			}
		}
		if _, err := tx.NewInsert().Model(&msgs).Exec(ctx); err != nil {
			return fmt.Errorf("insert messages: %w", err)
		}
		return nil
	})
}

// RecentMessages returns at most limit of the newest messages, in ascending
// creation order, bounding the context sent to the model.
func (s *Conversations) RecentMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	var msgs []Message
	err := s.db.NewSelect().
		Model(&msgs).
		Where("conversation_id = ?", conversationID).
		Order("id DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}

	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}
