// Package cache memoizes recent analysis results so re-uploading the
// same photo within a session does not trigger a second inference call.
package cache

import (
	"encoding/hex"
	"strconv"
	"sync"
	"time"

	"github.com/mealsnap/mealsnap/internal/models"
)

// DefaultTTL is how long a cached result stays valid.
const DefaultTTL = 24 * time.Hour

// fingerprintSpan is how many bytes from each end of the encoded image
// go into the fingerprint.
const fingerprintSpan = 100

// Fingerprint derives a cheap content key from the head and tail of the
// encoded image plus its length. Not a cryptographic hash: a collision
// only risks serving a plausible-but-stale result, which is acceptable
// for a same-session optimization.
func Fingerprint(data []byte) string {
	if len(data) <= 2*fingerprintSpan {
		return strconv.Itoa(len(data)) + ":" + hex.EncodeToString(data)
	}
	head := hex.EncodeToString(data[:fingerprintSpan])
	tail := hex.EncodeToString(data[len(data)-fingerprintSpan:])
	return strconv.Itoa(len(data)) + ":" + head + tail
}

type entry struct {
	item *models.FoodItem
	at   time.Time
}

// Cache is a TTL-bounded in-memory result store. Expired entries are
// evicted lazily on lookup; there is no background sweep. Safe for
// concurrent use, though Get followed by Put is not atomic as a pair —
// a race costs at worst a duplicate inference, never corrupt state.
type Cache struct {
	ttl     time.Duration
	now     func() time.Time
	entries sync.Map // fingerprint -> entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New creates a cache with the given TTL (DefaultTTL if zero).
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a copy of the cached item for fp, if present and fresh.
// The copy keeps callers free to amend the returned record without
// mutating the cached one.
func (c *Cache) Get(fp string) (*models.FoodItem, bool) {
	v, ok := c.entries.Load(fp)
	if !ok {
		return nil, false
	}
	e := v.(entry)
	if c.now().Sub(e.at) >= c.ttl {
		c.entries.Delete(fp)
		return nil, false
	}
	item := *e.item
	return &item, true
}

// Put stores item under fp with the current timestamp.
func (c *Cache) Put(fp string, item *models.FoodItem) {
	stored := *item
	c.entries.Store(fp, entry{item: &stored, at: c.now()})
}
