package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/spetr/journalmind/pkg/types"
)

// CreateConversation starts a new conversation for an owner.
func (s *Store) CreateConversation(ctx context.Context, owner, title string) (*types.Conversation, error) {
	now := time.Now().UTC()
	conv := &types.Conversation{
		ID:      uuid.NewString(),
		Owner:   owner,
		Title:   title,
		Created: now,
		Updated: now,
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ai_conversations (id, owner, title, created, updated)
		VALUES (?, ?, ?, ?, ?)
	`, conv.ID, conv.Owner, conv.Title, conv.Created, conv.Updated)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns a conversation or types.ErrNotFound.
func (s *Store) GetConversation(ctx context.Context, owner, id string) (*types.Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, title, created, updated
		FROM ai_conversations WHERE owner = ? AND id = ?
	`, owner, id)

	var conv types.Conversation
	var title sql.NullString
	err := row.Scan(&conv.ID, &conv.Owner, &title, &conv.Created, &conv.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	conv.Title = title.String
	return &conv, nil
}

// SaveMessage appends a message to a conversation and bumps its updated time.
func (s *Store) SaveMessage(ctx context.Context, msg *types.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Created.IsZero() {
		msg.Created = time.Now().UTC()
	}

	var refs any
	if len(msg.ReferencedDiaries) > 0 {
		data, err := json.Marshal(msg.ReferencedDiaries)
		if err != nil {
			return fmt.Errorf("failed to marshal referenced diaries: %w", err)
		}
		refs = string(data)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ai_messages (id, conversation, role, content, referenced_diaries, owner, created)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.ConversationID, msg.Role, msg.Content, refs, msg.Owner, msg.Created)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ai_conversations SET updated = ? WHERE id = ?`, time.Now().UTC(), msg.ConversationID)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// RecentMessages returns the last limit messages of a conversation in
// creation order, oldest first.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]types.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation, role, content, referenced_diaries, owner, created
		FROM ai_messages WHERE conversation = ?
		ORDER BY created DESC, rowid DESC LIMIT ?
	`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []types.Message
	for rows.Next() {
		var msg types.Message
		var refs sql.NullString
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &refs, &msg.Owner, &msg.Created); err != nil {
			return nil, err
		}
		if refs.Valid && refs.String != "" {
			if err := json.Unmarshal([]byte(refs.String), &msg.ReferencedDiaries); err != nil {
				return nil, fmt.Errorf("failed to parse referenced diaries: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; history order is oldest first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
