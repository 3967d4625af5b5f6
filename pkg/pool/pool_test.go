package pool

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestManager(t *testing.T) (*Manager, Config) {
	t.Helper()

	m := NewManager()
	t.Cleanup(func() { _ = m.Close() })

	cfg := DefaultConfig("test", filepath.Join(t.TempDir(), "test.db"))
	if err := m.CreatePool(cfg); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}
	return m, cfg
}

func TestCreatePool(t *testing.T) {
	m, cfg := newTestManager(t)

	stats, err := m.Stats(cfg.Name)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Total != cfg.PoolSize+cfg.ReadReplicas {
		t.Errorf("total connections: got %d, want %d", stats.Total, cfg.PoolSize+cfg.ReadReplicas)
	}
	if stats.ReadReplicas != cfg.ReadReplicas {
		t.Errorf("replicas: got %d, want %d", stats.ReadReplicas, cfg.ReadReplicas)
	}
	if stats.InUse != 0 {
		t.Errorf("in use: got %d, want 0", stats.InUse)
	}
}

func TestCreatePoolValidation(t *testing.T) {
	m := NewManager()
	defer func() { _ = m.Close() }()

	tests := []struct {
		name string
		cfg  Config
	}{
		{"empty name", Config{Path: "x.db", PoolSize: 1}},
		{"empty path", Config{Name: "x", PoolSize: 1}},
		{"zero pool size", Config{Name: "x", Path: "x.db"}},
		{"negative replicas", Config{Name: "x", Path: "x.db", PoolSize: 1, ReadReplicas: -1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.CreatePool(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestCreatePoolDuplicate(t *testing.T) {
	m, cfg := newTestManager(t)

	if err := m.CreatePool(cfg); !errors.Is(err, ErrPoolExists) {
		t.Errorf("expected ErrPoolExists, got %v", err)
	}
}

func TestWALModeVerified(t *testing.T) {
	m, cfg := newTestManager(t)

	conn, err := m.Get(cfg.Name, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer m.Release(cfg.Name, conn)

	var mode string
	if err := conn.DB().QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("journal mode: got %q, want wal", mode)
	}
}

func TestGetReleaseCycle(t *testing.T) {
	m, cfg := newTestManager(t)

	conn, err := m.Get(cfg.Name, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	stats, _ := m.Stats(cfg.Name)
	if stats.InUse != 1 {
		t.Errorf("in use after Get: got %d, want 1", stats.InUse)
	}

	m.Release(cfg.Name, conn)

	stats, _ = m.Stats(cfg.Name)
	if stats.InUse != 0 {
		t.Errorf("in use after Release: got %d, want 0", stats.InUse)
	}
}

func TestGetUnknownPool(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Get("missing", false); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("expected ErrPoolNotFound, got %v", err)
	}
}

func TestReadPrefersReplica(t *testing.T) {
	m, cfg := newTestManager(t)

	conn, err := m.Get(cfg.Name, true)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer m.Release(cfg.Name, conn)

	if !conn.IsReadReplica() {
		t.Error("read checkout should prefer a replica when one is idle")
	}
}

func TestWritePrefersPrimary(t *testing.T) {
	m, cfg := newTestManager(t)

	conn, err := m.Get(cfg.Name, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	defer m.Release(cfg.Name, conn)

	if conn.IsReadReplica() {
		t.Error("write checkout should prefer a primary when one is idle")
	}
}

func TestExhaustionReusesLRU(t *testing.T) {
	m, cfg := newTestManager(t)
	total := cfg.PoolSize + cfg.ReadReplicas

	// Drain the pool completely.
	conns := make([]*Conn, 0, total)
	for i := 0; i < total; i++ {
		conn, err := m.Get(cfg.Name, false)
		if err != nil {
			t.Fatalf("Get %d failed: %v", i, err)
		}
		conns = append(conns, conn)
	}

	// The next checkout must not block or fail; it reuses the LRU connection.
	extra, err := m.Get(cfg.Name, false)
	if err != nil {
		t.Fatalf("Get on exhausted pool failed: %v", err)
	}
	if extra != conns[0] {
		t.Error("exhausted pool should reuse the least-recently-used connection")
	}

	for _, c := range conns {
		m.Release(cfg.Name, c)
	}
}

func TestWith(t *testing.T) {
	m, cfg := newTestManager(t)

	err := m.With(cfg.Name, false, func(db *sql.DB) error {
		_, err := db.Exec("CREATE TABLE t (x INTEGER)")
		return err
	})
	if err != nil {
		t.Fatalf("With failed: %v", err)
	}

	stats, _ := m.Stats(cfg.Name)
	if stats.InUse != 0 {
		t.Errorf("With should release on return, in use = %d", stats.InUse)
	}
}

func TestWithPropagatesError(t *testing.T) {
	m, cfg := newTestManager(t)

	want := errors.New("boom")
	err := m.With(cfg.Name, false, func(db *sql.DB) error { return want })
	if !errors.Is(err, want) {
		t.Errorf("expected callback error, got %v", err)
	}
}

func TestHealthCheckReplacesDeadConnection(t *testing.T) {
	m := NewManager(WithHealthInterval(50 * time.Millisecond))
	defer func() { _ = m.Close() }()

	cfg := DefaultConfig("test", filepath.Join(t.TempDir(), "test.db"))
	cfg.PoolSize = 1
	cfg.ReadReplicas = 0
	if err := m.CreatePool(cfg); err != nil {
		t.Fatalf("CreatePool failed: %v", err)
	}

	conn, err := m.Get(cfg.Name, false)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	// Kill the underlying handle and return it to the pool.
	_ = conn.DB().Close()
	m.Release(cfg.Name, conn)

	// Wait for the health loop to notice and reconnect.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		fresh, err := m.Get(cfg.Name, false)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		pingErr := fresh.DB().Ping()
		m.Release(cfg.Name, fresh)
		if pingErr == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("health loop never replaced the dead connection")
}

func TestManagerClose(t *testing.T) {
	m, cfg := newTestManager(t)

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := m.Get(cfg.Name, false); !errors.Is(err, ErrManagerClosed) {
		t.Errorf("expected ErrManagerClosed, got %v", err)
	}
	// Close is idempotent.
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}
