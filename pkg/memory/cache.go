package memory

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// cacheEntry is the hot-session state kept in process. The database rows
// stay authoritative; losing an entry only costs a disk read.
type cacheEntry struct {
	History        []Message
	Context        map[string]any
	LastAccessedAt time.Time
}

// sessionCache fronts the store with a TTL- and capacity-bounded cache.
// Ristretto handles both eviction axes: SetWithTTL covers the idle timeout
// and MaxCost (cost 1 per session) caps the session count.
type sessionCache struct {
	c   *ristretto.Cache
	ttl time.Duration
}

func newSessionCache(maxSessions int64, ttl time.Duration) (*sessionCache, error) {
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxSessions * 10,
		MaxCost:     maxSessions,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &sessionCache{c: c, ttl: ttl}, nil
}

func (sc *sessionCache) get(sessionID string) (*cacheEntry, bool) {
	v, ok := sc.c.Get(sessionID)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*cacheEntry)
	return entry, ok
}

func (sc *sessionCache) put(sessionID string, entry *cacheEntry) {
	entry.LastAccessedAt = time.Now()
	sc.c.SetWithTTL(sessionID, entry, 1, sc.ttl)
}

func (sc *sessionCache) drop(sessionID string) {
	sc.c.Del(sessionID)
}

// wait flushes pending writes; used by tests that assert on cache contents
func (sc *sessionCache) wait() {
	sc.c.Wait()
}

func (sc *sessionCache) close() {
	sc.c.Close()
}
