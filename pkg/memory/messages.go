package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/liliang-cn/agentstore/internal/encoding"
)

// AddMessage appends one message to a session transcript and returns the
// stored record. Appends within a session are ordered by insertion.
func (s *Store) AddMessage(ctx context.Context, sessionID, role, content string, metadata map[string]any) (*Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("add_message", err)
	}
	if sessionID == "" {
		return nil, wrapError("add_message", fmt.Errorf("session id cannot be empty"))
	}

	switch role {
	case RoleSystem, RoleHuman, RoleAI:
	default:
		return nil, wrapError("add_message", fmt.Errorf("%w: %q", ErrInvalidRole, role))
	}

	metadataJSON, err := encoding.EncodeMetadata(metadata)
	if err != nil {
		return nil, wrapError("add_message", err)
	}

	msg := &Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_messages (id, session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, msg.Role, msg.Content, metadataJSON, msg.CreatedAt)
	if err != nil {
		return nil, wrapError("add_message", fmt.Errorf("failed to insert message: %w", err))
	}

	// Extend the cached transcript when the session is hot
	if entry, ok := s.cache.get(sessionID); ok {
		entry.History = append(entry.History, *msg)
		s.cache.put(sessionID, entry)
	}

	return msg, nil
}

// GetRecentMessages returns the last limit messages of a session in
// chronological order: it fetches newest-first, then reverses.
func (s *Store) GetRecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("get_recent_messages", err)
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, wrapError("get_recent_messages", err)
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, wrapError("get_recent_messages", err)
	}

	// Newest-first from the query; callers expect chronological order
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	if entry, ok := s.cache.get(sessionID); ok {
		entry.History = msgs
		s.cache.put(sessionID, entry)
	}

	return msgs, nil
}

// GetAllMessages returns one chronological page of a session transcript
// plus the total message count.
func (s *Store) GetAllMessages(ctx context.Context, sessionID string, offset, limit int) ([]Message, int64, error) {
	if err := s.checkOpen(); err != nil {
		return nil, 0, wrapError("get_all_messages", err)
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	var total int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM session_messages WHERE session_id = ?", sessionID,
	).Scan(&total)
	if err != nil {
		return nil, 0, wrapError("get_all_messages", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY seq
		LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, 0, wrapError("get_all_messages", err)
	}
	defer func() { _ = rows.Close() }()

	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, 0, wrapError("get_all_messages", err)
	}

	return msgs, total, nil
}

// ClearSession removes a session's transcript, context, summaries, and any
// cached state. Long-term facts scoped to the session survive.
func (s *Store) ClearSession(ctx context.Context, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("clear_session", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("clear_session", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		"DELETE FROM session_messages WHERE session_id = ?",
		"DELETE FROM session_contexts WHERE session_id = ?",
		"DELETE FROM session_summaries WHERE session_id = ?",
	} {
		if _, err := tx.ExecContext(ctx, stmt, sessionID); err != nil {
			return wrapError("clear_session", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError("clear_session", err)
	}

	s.cache.drop(sessionID)
	return nil
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanMessages(rows rowScanner) ([]Message, error) {
	var msgs []Message
	for rows.Next() {
		var msg Message
		var metadataJSON string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &metadataJSON, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Metadata, _ = encoding.DecodeMetadata(metadataJSON)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
