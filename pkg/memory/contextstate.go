package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// UpdateContext shallow-merges the supplied fields on top of the stored
// session context and upserts the result. New fields overwrite same-named
// old fields; other old fields survive.
func (s *Store) UpdateContext(ctx context.Context, sessionID string, fields map[string]any) (*Context, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("update_context", err)
	}
	if sessionID == "" {
		return nil, wrapError("update_context", fmt.Errorf("session id cannot be empty"))
	}

	current, err := s.readContext(ctx, sessionID)
	if err != nil {
		return nil, wrapError("update_context", err)
	}

	merged := make(map[string]any, len(current)+len(fields))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}

	contextJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, wrapError("update_context", fmt.Errorf("failed to encode context: %w", err))
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO session_contexts (session_id, context, created_at, last_accessed_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			context = excluded.context,
			last_accessed_at = excluded.last_accessed_at,
			updated_at = excluded.updated_at
	`, sessionID, string(contextJSON), now, now, now)
	if err != nil {
		return nil, wrapError("update_context", fmt.Errorf("failed to upsert context: %w", err))
	}

	result := &Context{
		SessionID:      sessionID,
		Context:        merged,
		LastAccessedAt: now,
		UpdatedAt:      now,
	}

	entry, ok := s.cache.get(sessionID)
	if !ok {
		entry = &cacheEntry{}
	}
	entry.Context = merged
	s.cache.put(sessionID, entry)

	return result, nil
}

// GetContext returns a session's context map, preferring the in-process
// cache; a disk read refreshes the last_accessed_at stamp.
func (s *Store) GetContext(ctx context.Context, sessionID string) (map[string]any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("get_context", err)
	}

	if entry, ok := s.cache.get(sessionID); ok && entry.Context != nil {
		s.cache.put(sessionID, entry)
		return entry.Context, nil
	}

	current, err := s.readContext(ctx, sessionID)
	if err != nil {
		return nil, wrapError("get_context", err)
	}
	if current == nil {
		return map[string]any{}, nil
	}

	_, err = s.db.ExecContext(ctx,
		"UPDATE session_contexts SET last_accessed_at = ? WHERE session_id = ?",
		time.Now().UTC(), sessionID)
	if err != nil {
		s.logger.Warn("failed to refresh context access stamp", "session", sessionID, "error", err)
	}

	entry, ok := s.cache.get(sessionID)
	if !ok {
		entry = &cacheEntry{}
	}
	entry.Context = current
	s.cache.put(sessionID, entry)

	return current, nil
}

// readContext loads the stored context map, nil when no row exists
func (s *Store) readContext(ctx context.Context, sessionID string) (map[string]any, error) {
	var contextJSON string
	err := s.db.QueryRowContext(ctx,
		"SELECT context FROM session_contexts WHERE session_id = ?", sessionID,
	).Scan(&contextJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var current map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &current); err != nil {
		return nil, fmt.Errorf("failed to decode context: %w", err)
	}
	return current, nil
}
