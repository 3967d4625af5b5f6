package memory

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/liliang-cn/agentstore/internal/encoding"
)

// SaveCheckpoint stores one workflow checkpoint under a thread. Saving an
// existing (thread, checkpoint) pair overwrites it. ParentID links the new
// checkpoint into the thread's lineage; pass "" for a root checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, threadID, checkpointID string, blob []byte, metadata map[string]any, parentID string) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("save_checkpoint", err)
	}
	if threadID == "" || checkpointID == "" {
		return wrapError("save_checkpoint", fmt.Errorf("thread id and checkpoint id cannot be empty"))
	}

	metadataJSON, err := encoding.EncodeMetadata(metadata)
	if err != nil {
		return wrapError("save_checkpoint", err)
	}

	var parent sql.NullString
	if parentID != "" {
		parent = sql.NullString{String: parentID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_checkpoints (thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at)
		VALUES (?, '', ?, ?, ?, ?, ?)
		ON CONFLICT(thread_id, checkpoint_ns, checkpoint_id) DO UPDATE SET
			parent_checkpoint_id = excluded.parent_checkpoint_id,
			checkpoint = excluded.checkpoint,
			metadata = excluded.metadata,
			created_at = excluded.created_at
	`, threadID, checkpointID, parent, blob, metadataJSON, time.Now().UTC())
	if err != nil {
		return wrapError("save_checkpoint", fmt.Errorf("failed to save checkpoint: %w", err))
	}

	return nil
}

// GetCheckpoint returns one checkpoint by id, or the thread's most recent
// checkpoint when checkpointID is empty.
func (s *Store) GetCheckpoint(ctx context.Context, threadID, checkpointID string) (*Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("get_checkpoint", err)
	}

	query := `
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
		FROM workflow_checkpoints
		WHERE thread_id = ?`
	args := []any{threadID}
	if checkpointID != "" {
		query += " AND checkpoint_id = ?"
		args = append(args, checkpointID)
	} else {
		query += " ORDER BY created_at DESC, rowid DESC LIMIT 1"
	}

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, wrapError("get_checkpoint", ErrNotFound)
	}
	if err != nil {
		return nil, wrapError("get_checkpoint", err)
	}

	return cp, nil
}

// ListCheckpoints returns a thread's checkpoints newest-first
func (s *Store) ListCheckpoints(ctx context.Context, threadID string, limit int) ([]Checkpoint, error) {
	if err := s.checkOpen(); err != nil {
		return nil, wrapError("list_checkpoints", err)
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, checkpoint_ns, checkpoint_id, parent_checkpoint_id, checkpoint, metadata, created_at
		FROM workflow_checkpoints
		WHERE thread_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, wrapError("list_checkpoints", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, wrapError("list_checkpoints", err)
		}
		cps = append(cps, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapError("list_checkpoints", err)
	}

	return cps, nil
}

// DeleteCheckpoints removes one checkpoint, or every checkpoint of the
// thread when checkpointID is empty.
func (s *Store) DeleteCheckpoints(ctx context.Context, threadID, checkpointID string) error {
	if err := s.checkOpen(); err != nil {
		return wrapError("delete_checkpoints", err)
	}

	query := "DELETE FROM workflow_checkpoints WHERE thread_id = ?"
	args := []any{threadID}
	if checkpointID != "" {
		query += " AND checkpoint_id = ?"
		args = append(args, checkpointID)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrapError("delete_checkpoints", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return wrapError("delete_checkpoints", err)
	}
	if affected == 0 {
		return wrapError("delete_checkpoints", ErrNotFound)
	}

	return nil
}

func scanCheckpoint(row singleRowScanner) (*Checkpoint, error) {
	var cp Checkpoint
	var parent sql.NullString
	var metadataJSON sql.NullString

	err := row.Scan(&cp.ThreadID, &cp.Namespace, &cp.CheckpointID, &parent,
		&cp.Blob, &metadataJSON, &cp.CreatedAt)
	if err != nil {
		return nil, err
	}

	cp.ParentCheckpointID = parent.String
	if metadataJSON.Valid {
		cp.Metadata, _ = encoding.DecodeMetadata(metadataJSON.String)
	}

	return &cp, nil
}
