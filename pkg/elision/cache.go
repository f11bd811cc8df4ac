// Package elision implements the TTL hint cache (§4.2, C3) that lets the
// session short-circuit existence checks for a hash it has recently seen
// placed or put.
//
// Grounded on the pack's patrickmn/go-cache, already used for exactly this
// shape of problem (a short-TTL "have I already seen this" map) in
// PomeloCloud-pcfs's PendingBlocks cache.
package elision

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// DefaultCleanupInterval controls how often go-cache sweeps expired
// entries in the background; it has no bearing on read correctness since
// reads always check expiry themselves.
const DefaultCleanupInterval = time.Minute

// Cache is a TTL map from ContentHash to byte size (§4.2). It is strictly
// a hint: a miss never implies absence, and every consumer is expected to
// verify against an authoritative store before skipping work.
type Cache struct {
	c *gocache.Cache
}

// New creates an elision cache. defaultTTL is used when TryAdd is called
// without an explicit per-entry TTL via TryAddTTL.
func New(defaultTTL time.Duration) *Cache {
	return &Cache{c: gocache.New(defaultTTL, DefaultCleanupInterval)}
}

func keyFor(hash contenthash.ContentHash) string {
	return hash.String()
}

// TryGet returns the cached size for hash, and whether it was present and
// unexpired. Expired entries are treated as absent (§4.2).
func (c *Cache) TryGet(hash contenthash.ContentHash) (int64, bool) {
	v, ok := c.c.Get(keyFor(hash))
	if !ok {
		return 0, false
	}
	return v.(int64), true
}

// TryAdd records hash as known with the given size, using the cache's
// default TTL. Overwrites any earlier entry for the same hash (§4.2).
func (c *Cache) TryAdd(hash contenthash.ContentHash, size int64) {
	c.c.SetDefault(keyFor(hash), size)
}

// TryAddTTL is TryAdd with an explicit per-entry TTL, matching the spec's
// "Insertion carries a TTL" (§3, ElisionEntry).
func (c *Cache) TryAddTTL(hash contenthash.ContentHash, size int64, ttl time.Duration) {
	c.c.Set(keyFor(hash), size, ttl)
}

// Remove evicts hash, if present. Exposed mainly for tests that need to
// force a miss.
func (c *Cache) Remove(hash contenthash.ContentHash) {
	c.c.Delete(keyFor(hash))
}

// Len reports the number of stored entries. Expired entries that the
// background sweep has not yet removed are still counted.
func (c *Cache) Len() int {
	return c.c.ItemCount()
}
