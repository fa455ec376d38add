package bufferpool

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// defaultHintTTL/defaultHintCleanup mirror the eBird client's cache
// construction (TTL, 2*TTL sweep interval), scaled down for a value that
// only needs to outlive a single reconnect, not a day of API results.
const (
	defaultHintTTL     = 10 * time.Minute
	defaultHintCleanup = 20 * time.Minute
)

// TypeHintCache remembers, per URL, the file-type name a Shoutcast sniff or
// MIME/extension probe most recently resolved. A Streamer reopening the
// same URL — a reconnect to a live stream, or a second playback of the
// same file — consults it before falling back to "assume MP3 and sniff",
// so a server that drops the Content-Type header on a reconnect doesn't
// cost the stream another blind sniffing window.
type TypeHintCache struct {
	c *cache.Cache
}

// NewTypeHintCache builds a cache whose entries expire after ttl.
func NewTypeHintCache(ttl, cleanupInterval time.Duration) *TypeHintCache {
	return &TypeHintCache{c: cache.New(ttl, cleanupInterval)}
}

// Hint returns the file-type name last remembered for url, if still within
// its TTL.
func (h *TypeHintCache) Hint(url string) (string, bool) {
	v, found := h.c.Get(url)
	if !found {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Remember records the file-type name resolved for url.
func (h *TypeHintCache) Remember(url, fileType string) {
	h.c.Set(url, fileType, cache.DefaultExpiration)
}

var (
	globalHintsOnce sync.Once
	globalHints     *TypeHintCache
)

// GlobalTypeHints returns the process-wide TypeHintCache, lazily
// constructed on first use so a process that never opens a second
// connection to the same URL never pays for it.
func GlobalTypeHints() *TypeHintCache {
	globalHintsOnce.Do(func() {
		globalHints = NewTypeHintCache(defaultHintTTL, defaultHintCleanup)
	})
	return globalHints
}
