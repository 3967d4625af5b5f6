package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SetLongTermMemory upserts a fact by (key, sessionID). An empty sessionID
// stores a global fact. Duplicate keys are last-write-wins.
func (s *Store) SetLongTermMemory(ctx context.Context, key, sessionID string, value any, category string, importance float64) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("set_long_term_memory", err)
	}
	if key == "" {
		return wrapError("set_long_term_memory", fmt.Errorf("key cannot be empty"))
	}
	if category == "" {
		category = "general"
	}
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}

	valueJSON, err := json.Marshal(value)
	if err != nil {
		return wrapError("set_long_term_memory", fmt.Errorf("failed to encode value: %w", err))
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO long_term_memory (key, session_id, value, category, importance, access_count, last_accessed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(key, session_id) DO UPDATE SET
			value = excluded.value,
			category = excluded.category,
			importance = excluded.importance,
			updated_at = excluded.updated_at
	`, key, sessionID, string(valueJSON), category, importance, now, now, now)
	if err != nil {
		return wrapError("set_long_term_memory", fmt.Errorf("failed to upsert entry: %w", err))
	}

	return nil
}

// GetLongTermMemory reads one fact. Every successful read increments the
// entry's access count and stamps last_accessed_at, so reads are not
// purely idempotent.
func (s *Store) GetLongTermMemory(ctx context.Context, key, sessionID string) (*LongTermEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("get_long_term_memory", err)
	}

	entry, err := s.scanLongTermRow(s.db.QueryRowContext(ctx, `
		SELECT key, session_id, value, category, importance, access_count, last_accessed_at, created_at, updated_at
		FROM long_term_memory
		WHERE key = ? AND session_id = ?
	`, key, sessionID))
	if err == sql.ErrNoRows {
		return nil, wrapError("get_long_term_memory", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_long_term_memory", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE long_term_memory
		SET access_count = access_count + 1, last_accessed_at = ?
		WHERE key = ? AND session_id = ?
	`, now, key, sessionID)
	if err != nil {
		s.logger.Warn("failed to track memory access", "key", key, "error", err)
	} else {
		entry.AccessCount++
		entry.LastAccessedAt = now
	}

	return entry, nil
}

// SearchLongTermMemory lists facts for a category ranked by importance
// descending, then recency. An empty sessionID searches global facts only.
func (s *Store) SearchLongTermMemory(ctx context.Context, category, sessionID string, limit int) ([]LongTermEntry, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("search_long_term_memory", err)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, session_id, value, category, importance, access_count, last_accessed_at, created_at, updated_at
		FROM long_term_memory
		WHERE category = ? AND session_id = ?
		ORDER BY importance DESC, updated_at DESC
		LIMIT ?
	`, category, sessionID, limit)
	if err != nil {
		return nil, wrapError("search_long_term_memory", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []LongTermEntry
	for rows.Next() {
		entry, err := s.scanLongTermRow(rows)
		if err != nil {
			return nil, wrapError("search_long_term_memory", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("search_long_term_memory", err)
	}

	return entries, nil
}

// DeleteLongTermMemory removes one fact by (key, sessionID)
func (s *Store) DeleteLongTermMemory(ctx context.Context, key, sessionID string) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("delete_long_term_memory", err)
	}

	result, err := s.db.ExecContext(ctx,
		"DELETE FROM long_term_memory WHERE key = ? AND session_id = ?", key, sessionID)
	if err != nil {
		return wrapError("delete_long_term_memory", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapError("delete_long_term_memory", err)
	}
	if affected == 0 {
		return wrapError("delete_long_term_memory", ErrNotFound)
	}

	return nil
}

type singleRowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanLongTermRow(row singleRowScanner) (*LongTermEntry, error) {
	var entry LongTermEntry
	var valueJSON string

	err := row.Scan(&entry.Key, &entry.SessionID, &valueJSON, &entry.Category,
		&entry.Importance, &entry.AccessCount, &entry.LastAccessedAt,
		&entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(valueJSON), &entry.Value); err != nil {
		return nil, fmt.Errorf("failed to decode value for key %q: %w", entry.Key, err)
	}

	return &entry, nil
}
