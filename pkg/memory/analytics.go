package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Stats summarizes stored volume, overall or for one session
type Stats struct {
	SessionID   string `json:"session_id,omitempty"`
	Messages    int64  `json:"messages"`
	Contexts    int64  `json:"contexts"`
	LongTerm    int64  `json:"long_term_entries"`
	Checkpoints int64  `json:"checkpoints"`
	Summaries   int64  `json:"summaries"`
}

// Analytics reports aggregate memory usage for inspection tooling
type Analytics struct {
	TotalMessages     int64            `json:"total_messages"`
	TotalSessions     int64            `json:"total_sessions"`
	TotalLongTerm     int64            `json:"total_long_term_entries"`
	TotalCheckpoints  int64            `json:"total_checkpoints"`
	MessagesByRole    map[string]int64 `json:"messages_by_role"`
	TopCategories     []CategoryCount  `json:"top_categories"`
	AverageImportance float64          `json:"average_importance"`
	DatabaseSizeBytes int64            `json:"database_size_bytes"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// CategoryCount is one long-term category with its entry count
type CategoryCount struct {
	Category string `json:"category"`
	Count    int64  `json:"count"`
}

// ExportData is the portable snapshot produced by Export
type ExportData struct {
	ExportedAt  time.Time       `json:"exported_at"`
	Messages    []Message       `json:"messages"`
	Contexts    []Context       `json:"contexts"`
	LongTerm    []LongTermEntry `json:"long_term"`
	Checkpoints []Checkpoint    `json:"checkpoints"`
}

// CleanupResult reports rows removed by Cleanup, per kind
type CleanupResult struct {
	Messages    int64 `json:"messages"`
	Contexts    int64 `json:"contexts"`
	LongTerm    int64 `json:"long_term"`
	Checkpoints int64 `json:"checkpoints"`
	Summaries   int64 `json:"summaries"`
}

// Stats counts stored rows. A non-empty sessionID scopes the counts to that
// session; long-term counts then include only session-scoped facts.
func (s *Store) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("stats", err)
	}

	stats := &Stats{SessionID: sessionID}

	type counter struct {
		dest  *int64
		query string
	}
	var counts []counter
	if sessionID == "" {
		counts = []counter{
			{&stats.Messages, "SELECT COUNT(*) FROM session_messages"},
			{&stats.Contexts, "SELECT COUNT(*) FROM session_contexts"},
			{&stats.LongTerm, "SELECT COUNT(*) FROM long_term_memory"},
			{&stats.Checkpoints, "SELECT COUNT(*) FROM workflow_checkpoints"},
			{&stats.Summaries, "SELECT COUNT(*) FROM session_summaries"},
		}
		for _, c := range counts {
			if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
				return nil, wrapError("stats", err)
			}
		}
		return stats, nil
	}

	counts = []counter{
		{&stats.Messages, "SELECT COUNT(*) FROM session_messages WHERE session_id = ?"},
		{&stats.Contexts, "SELECT COUNT(*) FROM session_contexts WHERE session_id = ?"},
		{&stats.LongTerm, "SELECT COUNT(*) FROM long_term_memory WHERE session_id = ?"},
		{&stats.Checkpoints, "SELECT COUNT(*) FROM workflow_checkpoints WHERE thread_id = ?"},
		{&stats.Summaries, "SELECT COUNT(*) FROM session_summaries WHERE session_id = ?"},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, sessionID).Scan(c.dest); err != nil {
			return nil, wrapError("stats", err)
		}
	}
	return stats, nil
}

// MemoryAnalytics computes aggregate usage across the whole store
func (s *Store) MemoryAnalytics(ctx context.Context) (*Analytics, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("analytics", err)
	}

	a := &Analytics{
		MessagesByRole: make(map[string]int64),
		GeneratedAt:    time.Now().UTC(),
	}

	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM session_messages").Scan(&a.TotalMessages); err != nil {
		return nil, wrapError("analytics", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(DISTINCT session_id) FROM session_messages").Scan(&a.TotalSessions); err != nil {
		return nil, wrapError("analytics", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM long_term_memory").Scan(&a.TotalLongTerm); err != nil {
		return nil, wrapError("analytics", err)
	}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM workflow_checkpoints").Scan(&a.TotalCheckpoints); err != nil {
		return nil, wrapError("analytics", err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT role, COUNT(*) FROM session_messages GROUP BY role")
	if err != nil {
		return nil, wrapError("analytics", err)
	}
	for rows.Next() {
		var role string
		var n int64
		if err := rows.Scan(&role, &n); err != nil {
			_ = rows.Close()
			return nil, wrapError("analytics", err)
		}
		a.MessagesByRole[role] = n
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapError("analytics", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) AS n
		FROM long_term_memory
		GROUP BY category
		ORDER BY n DESC
		LIMIT 10
	`)
	if err != nil {
		return nil, wrapError("analytics", err)
	}
	for rows.Next() {
		var cc CategoryCount
		if err := rows.Scan(&cc.Category, &cc.Count); err != nil {
			_ = rows.Close()
			return nil, wrapError("analytics", err)
		}
		a.TopCategories = append(a.TopCategories, cc)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapError("analytics", err)
	}
	_ = rows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, "SELECT AVG(importance) FROM long_term_memory").Scan(&avg); err != nil {
		return nil, wrapError("analytics", err)
	}
	a.AverageImportance = avg.Float64

	if fi, err := os.Stat(s.cfg.Path); err == nil {
		a.DatabaseSizeBytes = fi.Size()
	}

	return a, nil
}

// Export snapshots every message, context, long-term fact, and checkpoint
// into a portable structure for backup or migration.
func (s *Store) Export(ctx context.Context) (*ExportData, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("export", err)
	}

	data := &ExportData{ExportedAt: time.Now().UTC()}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM session_messages ORDER BY seq
	`)
	if err != nil {
		return nil, wrapError("export", err)
	}
	data.Messages, err = scanMessages(rows)
	_ = rows.Close()
	if err != nil {
		return nil, wrapError("export", err)
	}

	rows, err = s.db.QueryContext(ctx, `
		SELECT session_id, context, created_at, last_accessed_at, updated_at
		FROM session_contexts ORDER BY session_id
	`)
	if err != nil {
		return nil, wrapError("export", err)
	}
	for rows.Next() {
		var c Context
		var contextJSON string
		if err := rows.Scan(&c.SessionID, &contextJSON, &c.CreatedAt, &c.LastAccessedAt, &c.UpdatedAt); err != nil {
			_ = rows.Close()
			return nil, wrapError("export", err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &c.Context); err != nil {
			_ = rows.Close()
			return nil, wrapError("export", fmt.Errorf("failed to decode context for %q: %w", c.SessionID, err))
		}
		data.Contexts = append(data.Contexts, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapError("export", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT key, session_id, value, category, importance, access_count, last_accessed_at, created_at, updated_at
		FROM long_term_memory ORDER BY key, session_id
	`)
	if err != nil {
		return nil, wrapError("export", err)
	}
	for rows.Next() {
		entry, err := s.scanLongTermRow(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapError("export", err)
		}
		data.LongTerm = append(data.LongTerm, *entry)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapError("export", err)
	}
	_ = rows.Close()

	rows, err = s.db.QueryContext(ctx, `
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
		FROM workflow_checkpoints ORDER BY thread_id, created_at
	`)
	if err != nil {
		return nil, wrapError("export", err)
	}
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			_ = rows.Close()
			return nil, wrapError("export", err)
		}
		data.Checkpoints = append(data.Checkpoints, *cp)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, wrapError("export", err)
	}
	_ = rows.Close()

	return data, nil
}

// Import loads a previously exported snapshot in one transaction. Existing
// rows with matching keys are overwritten.
func (s *Store) Import(ctx context.Context, data *ExportData) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("import", err)
	}
	if data == nil {
		return wrapError("import", fmt.Errorf("export data cannot be nil"))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapError("import", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, msg := range data.Messages {
		metadataJSON, err := json.Marshal(msg.Metadata)
		if err != nil {
			return wrapError("import", err)
		}
		meta := string(metadataJSON)
		if msg.Metadata == nil {
			meta = ""
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_messages (id, session_id, role, content, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, msg.ID, msg.SessionID, msg.Role, msg.Content, meta, msg.CreatedAt)
		if err != nil {
			return wrapError("import", err)
		}
	}

	for _, c := range data.Contexts {
		contextJSON, err := json.Marshal(c.Context)
		if err != nil {
			return wrapError("import", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO session_contexts (session_id, context, created_at, last_accessed_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET
				context = excluded.context,
				last_accessed_at = excluded.last_accessed_at,
				updated_at = excluded.updated_at
		`, c.SessionID, string(contextJSON), c.CreatedAt, c.LastAccessedAt, c.UpdatedAt)
		if err != nil {
			return wrapError("import", err)
		}
	}

	for _, entry := range data.LongTerm {
		valueJSON, err := json.Marshal(entry.Value)
		if err != nil {
			return wrapError("import", err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO long_term_memory (key, session_id, value, category, importance, access_count, last_accessed_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(key, session_id) DO UPDATE SET
				value = excluded.value,
				category = excluded.category,
				importance = excluded.importance,
				access_count = excluded.access_count,
				last_accessed_at = excluded.last_accessed_at,
				updated_at = excluded.updated_at
		`, entry.Key, entry.SessionID, string(valueJSON), entry.Category,
			entry.Importance, entry.AccessCount, entry.LastAccessedAt,
			entry.CreatedAt, entry.UpdatedAt)
		if err != nil {
			return wrapError("import", err)
		}
	}

	for _, cp := range data.Checkpoints {
		metadataJSON, err := json.Marshal(cp.Metadata)
		if err != nil {
			return wrapError("import", err)
		}
		meta := string(metadataJSON)
		if cp.Metadata == nil {
			meta = ""
		}
		var parent sql.NullString
		if cp.ParentCheckpointID != "" {
			parent = sql.NullString{String: cp.ParentCheckpointID, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET
				parent_checkpoint_id = excluded.parent_checkpoint_id,
				checkpoint = excluded.checkpoint,
				metadata = excluded.metadata,
				created_at = excluded.created_at
		`, cp.ThreadID, cp.Namespace, cp.CheckpointID, parent, cp.Blob, meta, cp.CreatedAt)
		if err != nil {
			return wrapError("import", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapError("import", err)
	}

	s.logger.Info("memory import complete",
		"messages", len(data.Messages),
		"contexts", len(data.Contexts),
		"long_term", len(data.LongTerm),
		"checkpoints", len(data.Checkpoints))
	return nil
}

// Cleanup deletes rows older than the retention window across every kind
// of memory and reports how many rows each kind lost.
func (s *Store) Cleanup(ctx context.Context, olderThanDays int) (*CleanupResult, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("cleanup", err)
	}
	if olderThanDays <= 0 {
		return nil, wrapError("cleanup", fmt.Errorf("retention days must be positive"))
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	result := &CleanupResult{}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapError("cleanup", err)
	}
	defer func() { _ = tx.Rollback() }()

	deletes := []struct {
		dest  *int64
		query string
	}{
		{&result.Messages, "DELETE FROM session_messages WHERE created_at < ?"},
		{&result.Contexts, "DELETE FROM session_contexts WHERE last_accessed_at < ?"},
		{&result.LongTerm, "DELETE FROM long_term_memory WHERE last_accessed_at < ?"},
		{&result.Checkpoints, "DELETE FROM workflow_checkpoints WHERE created_at < ?"},
		{&result.Summaries, "DELETE FROM session_summaries WHERE created_at < ?"},
	}
	for _, d := range deletes {
		res, err := tx.ExecContext(ctx, d.query, cutoff)
		if err != nil {
			return nil, wrapError("cleanup", err)
		}
		*d.dest, err = res.RowsAffected()
		if err != nil {
			return nil, wrapError("cleanup", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapError("cleanup", err)
	}

	s.logger.Info("memory cleanup complete",
		"cutoff", cutoff.Format(time.RFC3339),
		"messages", result.Messages,
		"long_term", result.LongTerm,
		"checkpoints", result.Checkpoints)
	return result, nil
}
