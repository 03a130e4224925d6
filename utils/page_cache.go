package utils

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const pageCacheKeyPrefix = "cache:page:"

// PageCacheStore is the keyed byte store behind PageCache. Implementations must
// expire entries after the TTL passed to Set and support wholesale clearing.
type PageCacheStore interface {
	Get(key string) ([]byte, bool)
	Set(key string, payload []byte, ttl time.Duration)
	Clear()
}

// PageCache is a whole-response, time-boxed cache for rendered pages. It does
// no partial invalidation: entries die by TTL or by an explicit Clear.
type PageCache struct {
	store PageCacheStore
	ttl   time.Duration
}

// NewPageCache wraps a store with a fixed expiry window.
func NewPageCache(store PageCacheStore, ttl time.Duration) *PageCache {
	if ttl <= 0 {
		ttl = 20 * time.Second
	}
	return &PageCache{store: store, ttl: ttl}
}

// NewDefaultPageCache picks the redis store when the backend answers,
// otherwise an in-memory store on the wall clock.
func NewDefaultPageCache(ttl time.Duration) *PageCache {
	if RedisAvailable() {
		return NewPageCache(&redisPageStore{}, ttl)
	}
	return NewPageCache(NewMemoryPageStore(time.Now), ttl)
}

// Clear drops every cached page immediately. The next request recomputes.
func (pc *PageCache) Clear() {
	pc.store.Clear()
}

// Middleware serves the stored response verbatim while the window is open and
// captures a fresh render on miss. Only successful HTML responses are stored.
func (pc *PageCache) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet {
			c.Next()
			return
		}
		key := pageCacheKeyPrefix + c.Request.URL.RequestURI()
		if body, ok := pc.store.Get(key); ok {
			c.Data(http.StatusOK, "text/html; charset=utf-8", body)
			c.Abort()
			return
		}

		w := &captureWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		if w.Status() == http.StatusOK {
			pc.store.Set(key, w.buf.Bytes(), pc.ttl)
		}
	}
}

// captureWriter tees the response body so a copy can be cached.
type captureWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.buf.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.buf.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// redisPageStore keeps cached pages in Redis so all instances share the window.
type redisPageStore struct{}

func (s *redisPageStore) Get(key string) ([]byte, bool) {
	rc := GetRedis()
	if rc == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, err := rc.Get(ctx, key).Bytes()
	if err != nil {
		if Sugar != nil {
			Sugar.Debugf("page cache miss key=%s err=%v", key, err)
		}
		return nil, false
	}
	return b, true
}

func (s *redisPageStore) Set(key string, payload []byte, ttl time.Duration) {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rc.Set(ctx, key, payload, ttl).Err(); err != nil {
		if Sugar != nil {
			Sugar.Warnf("page cache set failed key=%s err=%v", key, err)
		}
	}
}

// Clear deletes keys under the page prefix using SCAN with pipelined deletes.
func (s *redisPageStore) Clear() {
	rc := GetRedis()
	if rc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var cursor uint64
	for i := 0; i < 10; i++ { // limit rounds to avoid long loops
		keys, cur, err := rc.Scan(ctx, cursor, pageCacheKeyPrefix+"*", 1000).Result()
		if err != nil {
			break
		}
		cursor = cur
		if len(keys) > 0 {
			pipe := rc.Pipeline()
			for _, k := range keys {
				pipe.Del(ctx, k)
			}
			_, _ = pipe.Exec(ctx)
		}
		if cursor == 0 {
			break
		}
	}
}

// memoryPageStore is the single-instance fallback. The clock is injectable so
// expiry can be tested without sleeping.
type memoryPageStore struct {
	now     func() time.Time
	mu      sync.RWMutex
	entries map[string]memoryPageEntry
}

type memoryPageEntry struct {
	payload   []byte
	expiresAt time.Time
}

// NewMemoryPageStore builds an in-memory store on the given clock.
func NewMemoryPageStore(now func() time.Time) PageCacheStore {
	if now == nil {
		now = time.Now
	}
	return &memoryPageStore{now: now, entries: map[string]memoryPageEntry{}}
}

func (s *memoryPageStore) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false
	}
	return entry.payload, true
}

func (s *memoryPageStore) Set(key string, payload []byte, ttl time.Duration) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.entries[key] = memoryPageEntry{payload: cp, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
}

func (s *memoryPageStore) Clear() {
	s.mu.Lock()
	s.entries = map[string]memoryPageEntry{}
	s.mu.Unlock()
}
