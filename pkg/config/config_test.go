package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	s := Load()

	if s.VectorDBPath != "agentstore_vectors.db" {
		t.Errorf("VectorDBPath: got %q", s.VectorDBPath)
	}
	if s.PoolSize != 5 {
		t.Errorf("PoolSize: got %d, want 5", s.PoolSize)
	}
	if s.ReadReplicas != 2 {
		t.Errorf("ReadReplicas: got %d, want 2", s.ReadReplicas)
	}
	if s.EmbeddingDim != 1536 {
		t.Errorf("EmbeddingDim: got %d, want 1536", s.EmbeddingDim)
	}
	if !s.ANNEnabled {
		t.Error("ANNEnabled should default to true")
	}
	if s.CacheTTL != 30*time.Minute {
		t.Errorf("CacheTTL: got %v, want 30m", s.CacheTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AGENTSTORE_VECTOR_DB", "/tmp/vec.db")
	t.Setenv("AGENTSTORE_POOL_SIZE", "9")
	t.Setenv("AGENTSTORE_ANN_ENABLED", "false")
	t.Setenv("AGENTSTORE_CACHE_TTL", "5m")

	s := Load()

	if s.VectorDBPath != "/tmp/vec.db" {
		t.Errorf("VectorDBPath: got %q", s.VectorDBPath)
	}
	if s.PoolSize != 9 {
		t.Errorf("PoolSize: got %d, want 9", s.PoolSize)
	}
	if s.ANNEnabled {
		t.Error("ANNEnabled should be false")
	}
	if s.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL: got %v, want 5m", s.CacheTTL)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("AGENTSTORE_POOL_SIZE", "not-a-number")
	t.Setenv("AGENTSTORE_ANN_ENABLED", "maybe")
	t.Setenv("AGENTSTORE_CACHE_TTL", "soon")

	s := Load()

	if s.PoolSize != 5 {
		t.Errorf("PoolSize: got %d, want default 5", s.PoolSize)
	}
	if !s.ANNEnabled {
		t.Error("ANNEnabled should fall back to true")
	}
	if s.CacheTTL != 30*time.Minute {
		t.Errorf("CacheTTL: got %v, want default 30m", s.CacheTTL)
	}
}
