package memory

import (
	"testing"
	"time"
)

func TestSessionCachePutGet(t *testing.T) {
	sc, err := newSessionCache(128, time.Minute)
	if err != nil {
		t.Fatalf("newSessionCache failed: %v", err)
	}
	defer sc.close()

	sc.put("s1", &cacheEntry{Context: map[string]any{"k": "v"}})
	sc.wait()

	entry, ok := sc.get("s1")
	if !ok {
		t.Fatal("expected a cache hit after wait")
	}
	if entry.Context["k"] != "v" {
		t.Errorf("context: got %v", entry.Context)
	}
	if entry.LastAccessedAt.IsZero() {
		t.Error("put must stamp LastAccessedAt")
	}
}

func TestSessionCacheDrop(t *testing.T) {
	sc, err := newSessionCache(128, time.Minute)
	if err != nil {
		t.Fatalf("newSessionCache failed: %v", err)
	}
	defer sc.close()

	sc.put("s1", &cacheEntry{})
	sc.wait()
	sc.drop("s1")
	sc.wait()

	if _, ok := sc.get("s1"); ok {
		t.Error("expected a miss after drop")
	}
}

func TestSessionCacheTTL(t *testing.T) {
	sc, err := newSessionCache(128, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("newSessionCache failed: %v", err)
	}
	defer sc.close()

	sc.put("s1", &cacheEntry{})
	sc.wait()

	time.Sleep(50 * time.Millisecond)
	if _, ok := sc.get("s1"); ok {
		t.Error("expected expiry after the idle timeout")
	}
}
