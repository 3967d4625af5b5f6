package memory

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(DefaultConfig(filepath.Join(t.TempDir(), "memory.db")))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAddMessageAndOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		role := RoleHuman
		if i%2 == 1 {
			role = RoleAI
		}
		if _, err := s.AddMessage(ctx, "s1", role, fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatalf("AddMessage %d failed: %v", i, err)
		}
	}

	recent, err := s.GetRecentMessages(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("got %d messages, want 5", len(recent))
	}
	// The window is the last five messages, in chronological order.
	for i, want := range []string{"m15", "m16", "m17", "m18", "m19"} {
		if recent[i].Content != want {
			t.Errorf("recent[%d]: got %q, want %q", i, recent[i].Content, want)
		}
	}
}

func TestAddMessageInvalidRole(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.AddMessage(context.Background(), "s1", "robot", "hi", nil); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func TestMessageMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	meta := map[string]any{"tool": "search", "latency_ms": float64(12)}
	msg, err := s.AddMessage(ctx, "s1", RoleAI, "result", meta)
	if err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if msg.ID == "" {
		t.Error("expected a generated message id")
	}

	got, err := s.GetRecentMessages(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if got[0].Metadata["tool"] != "search" {
		t.Errorf("metadata: got %v", got[0].Metadata)
	}
}

func TestGetAllMessagesPaging(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := s.AddMessage(ctx, "s1", RoleHuman, fmt.Sprintf("m%d", i), nil); err != nil {
			t.Fatalf("AddMessage failed: %v", err)
		}
	}

	page, total, err := s.GetAllMessages(ctx, "s1", 5, 5)
	if err != nil {
		t.Fatalf("GetAllMessages failed: %v", err)
	}
	if total != 12 {
		t.Errorf("total: got %d, want 12", total)
	}
	if len(page) != 5 {
		t.Fatalf("page size: got %d, want 5", len(page))
	}
	if page[0].Content != "m5" || page[4].Content != "m9" {
		t.Errorf("page contents wrong: %q .. %q", page[0].Content, page[4].Content)
	}
}

func TestSessionIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddMessage(ctx, "a", RoleHuman, "for a", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := s.AddMessage(ctx, "b", RoleHuman, "for b", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	msgs, err := s.GetRecentMessages(ctx, "a", 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Errorf("session a leaked messages: %v", msgs)
	}
}

func TestUpdateContextShallowMerge(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.UpdateContext(ctx, "s1", map[string]any{"topic": "go", "step": float64(1)}); err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	if _, err := s.UpdateContext(ctx, "s1", map[string]any{"step": float64(2)}); err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}

	got, err := s.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if got["topic"] != "go" {
		t.Errorf("unrelated key must survive the merge, got %v", got["topic"])
	}
	if got["step"] != float64(2) {
		t.Errorf("updated key: got %v, want 2", got["step"])
	}
}

func TestGetContextMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetContext(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("missing session should yield an empty context, got %v", got)
	}
}

func TestLongTermLastWriteWins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetLongTermMemory(ctx, "lang", "", "python", "profile", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}
	if err := s.SetLongTermMemory(ctx, "lang", "", "go", "profile", 0.9); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}

	entry, err := s.GetLongTermMemory(ctx, "lang", "")
	if err != nil {
		t.Fatalf("GetLongTermMemory failed: %v", err)
	}
	if entry.Value != "go" {
		t.Errorf("value: got %v, want go", entry.Value)
	}
	if entry.Importance != 0.9 {
		t.Errorf("importance: got %v, want 0.9", entry.Importance)
	}
}

func TestLongTermAccessCount(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetLongTermMemory(ctx, "k", "", "v", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}

	for want := int64(1); want <= 3; want++ {
		entry, err := s.GetLongTermMemory(ctx, "k", "")
		if err != nil {
			t.Fatalf("GetLongTermMemory failed: %v", err)
		}
		if entry.AccessCount != want {
			t.Errorf("access count: got %d, want %d", entry.AccessCount, want)
		}
	}
}

func TestLongTermSessionScoping(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetLongTermMemory(ctx, "k", "", "global", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}
	if err := s.SetLongTermMemory(ctx, "k", "s1", "scoped", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}

	global, err := s.GetLongTermMemory(ctx, "k", "")
	if err != nil {
		t.Fatalf("GetLongTermMemory failed: %v", err)
	}
	scoped, err := s.GetLongTermMemory(ctx, "k", "s1")
	if err != nil {
		t.Fatalf("GetLongTermMemory failed: %v", err)
	}
	if global.Value != "global" || scoped.Value != "scoped" {
		t.Errorf("scoping broken: global=%v scoped=%v", global.Value, scoped.Value)
	}
}

func TestSearchLongTermMemoryRanking(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []struct {
		key        string
		importance float64
	}{
		{"low", 0.2},
		{"high", 0.9},
		{"mid", 0.5},
	}
	for _, e := range entries {
		if err := s.SetLongTermMemory(ctx, e.key, "", e.key, "prefs", e.importance); err != nil {
			t.Fatalf("SetLongTermMemory failed: %v", err)
		}
	}
	// Different category must not appear.
	if err := s.SetLongTermMemory(ctx, "other", "", "x", "misc", 1.0); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}

	got, err := s.SearchLongTermMemory(ctx, "prefs", "", 10)
	if err != nil {
		t.Fatalf("SearchLongTermMemory failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, want := range []string{"high", "mid", "low"} {
		if got[i].Key != want {
			t.Errorf("rank %d: got %q, want %q", i, got[i].Key, want)
		}
	}
}

func TestDeleteLongTermMemory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetLongTermMemory(ctx, "k", "", "v", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}
	if err := s.DeleteLongTermMemory(ctx, "k", ""); err != nil {
		t.Fatalf("DeleteLongTermMemory failed: %v", err)
	}
	if _, err := s.GetLongTermMemory(ctx, "k", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteLongTermMemory(ctx, "k", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for second delete, got %v", err)
	}
}

func TestCheckpointLineage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, "t1", "c1", []byte("state1"), nil, ""); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := s.SaveCheckpoint(ctx, "t1", "c2", []byte("state2"), map[string]any{"step": float64(2)}, "c1"); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	// Empty checkpoint id resolves to the most recent one.
	latest, err := s.GetCheckpoint(ctx, "t1", "")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if latest.CheckpointID != "c2" {
		t.Errorf("latest: got %q, want c2", latest.CheckpointID)
	}
	if latest.ParentCheckpointID != "c1" {
		t.Errorf("parent: got %q, want c1", latest.ParentCheckpointID)
	}
	if string(latest.Blob) != "state2" {
		t.Errorf("blob: got %q", latest.Blob)
	}

	list, err := s.ListCheckpoints(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListCheckpoints failed: %v", err)
	}
	if len(list) != 2 || list[0].CheckpointID != "c2" || list[1].CheckpointID != "c1" {
		t.Errorf("list order wrong: %v", list)
	}
}

func TestCheckpointOverwrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveCheckpoint(ctx, "t1", "c1", []byte("old"), nil, ""); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "t1", "c1", []byte("new"), nil, ""); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	cp, err := s.GetCheckpoint(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if string(cp.Blob) != "new" {
		t.Errorf("blob: got %q, want new", cp.Blob)
	}

	list, _ := s.ListCheckpoints(ctx, "t1", 10)
	if len(list) != 1 {
		t.Errorf("overwrite must not create a second row, got %d", len(list))
	}
}

func TestDeleteCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"c1", "c2", "c3"} {
		if err := s.SaveCheckpoint(ctx, "t1", id, []byte("x"), nil, ""); err != nil {
			t.Fatalf("SaveCheckpoint failed: %v", err)
		}
	}

	if err := s.DeleteCheckpoints(ctx, "t1", "c2"); err != nil {
		t.Fatalf("DeleteCheckpoints failed: %v", err)
	}
	list, _ := s.ListCheckpoints(ctx, "t1", 10)
	if len(list) != 2 {
		t.Fatalf("got %d checkpoints, want 2", len(list))
	}

	if err := s.DeleteCheckpoints(ctx, "t1", ""); err != nil {
		t.Fatalf("DeleteCheckpoints failed: %v", err)
	}
	if _, err := s.GetCheckpoint(ctx, "t1", ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after deleting all, got %v", err)
	}
}

func TestClearSession(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddMessage(ctx, "s1", RoleHuman, "hi", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := s.UpdateContext(ctx, "s1", map[string]any{"k": "v"}); err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	if err := s.SetLongTermMemory(ctx, "fact", "s1", "v", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}

	if err := s.ClearSession(ctx, "s1"); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}

	msgs, err := s.GetRecentMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("messages survived ClearSession: %v", msgs)
	}
	cctx, _ := s.GetContext(ctx, "s1")
	if len(cctx) != 0 {
		t.Errorf("context survived ClearSession: %v", cctx)
	}
	// Long-term facts outlive the session transcript.
	if _, err := s.GetLongTermMemory(ctx, "fact", "s1"); err != nil {
		t.Errorf("long-term fact must survive ClearSession: %v", err)
	}
}

func TestStatsAndAnalytics(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.AddMessage(ctx, "s1", RoleHuman, "q", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", RoleAI, "a", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if err := s.SetLongTermMemory(ctx, "k", "", "v", "prefs", 0.8); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}
	if err := s.SaveCheckpoint(ctx, "t1", "c1", []byte("x"), nil, ""); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	stats, err := s.Stats(ctx, "")
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Messages != 2 || stats.LongTerm != 1 || stats.Checkpoints != 1 {
		t.Errorf("stats: %+v", stats)
	}

	a, err := s.MemoryAnalytics(ctx)
	if err != nil {
		t.Fatalf("MemoryAnalytics failed: %v", err)
	}
	if a.TotalMessages != 2 || a.TotalSessions != 1 {
		t.Errorf("analytics totals: %+v", a)
	}
	if a.MessagesByRole[RoleHuman] != 1 || a.MessagesByRole[RoleAI] != 1 {
		t.Errorf("role counts: %v", a.MessagesByRole)
	}
	if a.AverageImportance != 0.8 {
		t.Errorf("average importance: got %v, want 0.8", a.AverageImportance)
	}
	if a.DatabaseSizeBytes <= 0 {
		t.Error("database size must be positive")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newTestStore(t)
	ctx := context.Background()

	if _, err := src.AddMessage(ctx, "s1", RoleHuman, "hello", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	if _, err := src.UpdateContext(ctx, "s1", map[string]any{"topic": "go"}); err != nil {
		t.Fatalf("UpdateContext failed: %v", err)
	}
	if err := src.SetLongTermMemory(ctx, "k", "", "v", "general", 0.5); err != nil {
		t.Fatalf("SetLongTermMemory failed: %v", err)
	}
	if err := src.SaveCheckpoint(ctx, "t1", "c1", []byte("state"), nil, ""); err != nil {
		t.Fatalf("SaveCheckpoint failed: %v", err)
	}

	data, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	dst := newTestStore(t)
	if err := dst.Import(ctx, data); err != nil {
		t.Fatalf("Import failed: %v", err)
	}

	msgs, err := dst.GetRecentMessages(ctx, "s1", 10)
	if err != nil {
		t.Fatalf("GetRecentMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("messages: %v", msgs)
	}
	cctx, err := dst.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("GetContext failed: %v", err)
	}
	if cctx["topic"] != "go" {
		t.Errorf("context: %v", cctx)
	}
	entry, err := dst.GetLongTermMemory(ctx, "k", "")
	if err != nil {
		t.Fatalf("GetLongTermMemory failed: %v", err)
	}
	if entry.Value != "v" {
		t.Errorf("long-term value: %v", entry.Value)
	}
	cp, err := dst.GetCheckpoint(ctx, "t1", "c1")
	if err != nil {
		t.Fatalf("GetCheckpoint failed: %v", err)
	}
	if string(cp.Blob) != "state" {
		t.Errorf("checkpoint blob: %q", cp.Blob)
	}
}

func TestCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Fresh rows are inside any positive retention window.
	if _, err := s.AddMessage(ctx, "s1", RoleHuman, "recent", nil); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	result, err := s.Cleanup(ctx, 30)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if result.Messages != 0 {
		t.Errorf("fresh messages must survive, deleted %d", result.Messages)
	}

	msgs, _ := s.GetRecentMessages(ctx, "s1", 10)
	if len(msgs) != 1 {
		t.Errorf("message lost to cleanup")
	}

	if _, err := s.Cleanup(ctx, 0); err == nil {
		t.Error("expected error for non-positive retention")
	}
}

func TestStoreClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.AddMessage(ctx, "s1", RoleHuman, "x", nil); !errors.Is(err, ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
	// Close is idempotent.
	if err := s.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
